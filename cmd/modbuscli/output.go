package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func color(c, s string) string {
	if noColor {
		return s
	}
	return c + s + colorReset
}

func outputSuccess(format string, args ...interface{}) {
	fmt.Println(color(colorGreen, "OK") + " " + fmt.Sprintf(format, args...))
}

func outputWarning(format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, color(colorYellow, "WARN")+" "+fmt.Sprintf(format, args...))
}

func outputInfo(format string, args ...interface{}) {
	fmt.Println(color(colorCyan, "INFO") + " " + fmt.Sprintf(format, args...))
}

type boolResult struct {
	Address uint16 `json:"address"`
	Value   bool   `json:"value"`
}

type registerResult struct {
	Address uint16      `json:"address"`
	Raw     uint16      `json:"raw"`
	Hex     string      `json:"hex"`
	Value   interface{} `json:"value"`
	Format  string      `json:"format"`
}

func outputBoolValues(title string, startAddr uint16, values []bool) error {
	switch outputFmt {
	case "json":
		results := make([]boolResult, len(values))
		for i, v := range values {
			results[i] = boolResult{Address: startAddr + uint16(i), Value: v}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)

	case "csv":
		w := csv.NewWriter(os.Stdout)
		w.Write([]string{"address", "value"})
		for i, v := range values {
			val := "0"
			if v {
				val = "1"
			}
			w.Write([]string{strconv.Itoa(int(startAddr) + i), val})
		}
		w.Flush()
		return w.Error()

	case "raw":
		for _, v := range values {
			if v {
				fmt.Print("1")
			} else {
				fmt.Print("0")
			}
		}
		fmt.Println()
		return nil

	case "hex":
		packed := make([]byte, (len(values)+7)/8)
		for i, v := range values {
			if v {
				packed[i/8] |= 1 << (i % 8)
			}
		}
		for i, b := range packed {
			if i > 0 {
				fmt.Print(" ")
			}
			fmt.Printf("%02X", b)
		}
		fmt.Println()
		return nil

	default:
		fmt.Printf("\n%s (Address %d-%d, Count: %d)\n",
			color(colorBold, title), startAddr, startAddr+uint16(len(values))-1, len(values))
		fmt.Println(strings.Repeat("-", 40))

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ADDRESS\tVALUE\tSTATUS")
		for i, v := range values {
			if v {
				fmt.Fprintf(w, "%d\t1\t%s\n", startAddr+uint16(i), color(colorGreen, "ON"))
			} else {
				fmt.Fprintf(w, "%d\t0\t%s\n", startAddr+uint16(i), color(colorRed, "OFF"))
			}
		}
		w.Flush()
		fmt.Println()
		return nil
	}
}

// interpret converts raw registers into (start address, display value)
// pairs according to the format flag.
func interpret(startAddr uint16, values []uint16, format string) []registerResult {
	var results []registerResult
	switch format {
	case "int16":
		for i, v := range values {
			results = append(results, registerResult{
				Address: startAddr + uint16(i), Raw: v,
				Hex: fmt.Sprintf("0x%04X", v), Value: int16(v), Format: format,
			})
		}
	case "uint32":
		for i := 0; i+1 < len(values); i += 2 {
			val := combineRegisters(values[i], values[i+1])
			results = append(results, registerResult{
				Address: startAddr + uint16(i), Raw: values[i],
				Hex: fmt.Sprintf("0x%08X", val), Value: val, Format: format,
			})
		}
	case "int32":
		for i := 0; i+1 < len(values); i += 2 {
			val := int32(combineRegisters(values[i], values[i+1]))
			results = append(results, registerResult{
				Address: startAddr + uint16(i), Raw: values[i],
				Hex: fmt.Sprintf("0x%08X", uint32(val)), Value: val, Format: format,
			})
		}
	case "float32":
		for i := 0; i+1 < len(values); i += 2 {
			bits := combineRegisters(values[i], values[i+1])
			results = append(results, registerResult{
				Address: startAddr + uint16(i), Raw: values[i],
				Hex: fmt.Sprintf("0x%08X", bits), Value: math.Float32frombits(bits), Format: format,
			})
		}
	default: // uint16
		for i, v := range values {
			results = append(results, registerResult{
				Address: startAddr + uint16(i), Raw: v,
				Hex: fmt.Sprintf("0x%04X", v), Value: v, Format: "uint16",
			})
		}
	}
	return results
}

func outputRegisterValues(title string, startAddr uint16, values []uint16, format string) error {
	if format == "string" {
		var sb strings.Builder
		for _, v := range values {
			sb.WriteByte(byte(v >> 8))
			sb.WriteByte(byte(v & 0xFF))
		}
		fmt.Println(strings.TrimRight(sb.String(), "\x00"))
		return nil
	}

	switch outputFmt {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(interpret(startAddr, values, format))

	case "csv":
		w := csv.NewWriter(os.Stdout)
		w.Write([]string{"address", "raw", "hex", "value"})
		for _, r := range interpret(startAddr, values, format) {
			w.Write([]string{
				strconv.Itoa(int(r.Address)),
				strconv.Itoa(int(r.Raw)),
				r.Hex,
				fmt.Sprintf("%v", r.Value),
			})
		}
		w.Flush()
		return w.Error()

	case "raw":
		for _, v := range values {
			fmt.Printf("%d\n", v)
		}
		return nil

	case "hex":
		for i, v := range values {
			if i > 0 {
				fmt.Print(" ")
			}
			fmt.Printf("%04X", v)
		}
		fmt.Println()
		return nil

	default:
		fmt.Printf("\n%s (Address %d-%d, Count: %d)\n",
			color(colorBold, title), startAddr, startAddr+uint16(len(values))-1, len(values))
		fmt.Println(strings.Repeat("-", 60))

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ADDRESS\tVALUE\tHEX")
		for _, r := range interpret(startAddr, values, format) {
			fmt.Fprintf(w, "%d\t%v\t%s\n", r.Address, r.Value, r.Hex)
		}
		w.Flush()
		fmt.Println()
		return nil
	}
}

func combineRegisters(high, low uint16) uint32 {
	if wordOrder == "little" {
		return uint32(low)<<16 | uint32(high)
	}
	return uint32(high)<<16 | uint32(low)
}
