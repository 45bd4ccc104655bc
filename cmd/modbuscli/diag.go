package main

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/spf13/cobra"

	modbus "github.com/dpicheo/j2mod"
)

var diagData uint16

var diagCmd = &cobra.Command{
	Use:     "diag",
	Aliases: []string{"d"},
	Short:   "Diagnostics and status queries",
	Long: `Run diagnostic and status queries against a Modbus device:
loopback echo (FC08), exception status (FC07), the communication event
counter (FC 0x0B), and the server ID report (FC 0x11).`,
}

// Loopback echo (FC08, sub-function 0x0000)
var diagEchoCmd = &cobra.Command{
	Use:     "echo",
	Short:   "Loopback echo test (FC08/0x0000)",
	Example: `  modbuscli diag echo -H 192.168.1.100
  modbuscli d echo --data 0xBEEF`,
	RunE: runDiagEcho,
}

// Read exception status (FC07)
var diagStatusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Read exception status (FC07)",
	Example: `  modbuscli diag status -H 192.168.1.100`,
	RunE:    runDiagStatus,
}

// Get comm event counter (FC0B)
var diagEventsCmd = &cobra.Command{
	Use:     "events",
	Short:   "Get communication event counter (FC 0x0B)",
	Example: `  modbuscli diag events -H 192.168.1.100`,
	RunE:    runDiagEvents,
}

// Report server ID (FC11)
var diagServerIDCmd = &cobra.Command{
	Use:     "server-id",
	Short:   "Report server ID (FC 0x11)",
	Example: `  modbuscli diag server-id -H 192.168.1.100`,
	RunE:    runDiagServerID,
}

func init() {
	diagCmd.AddCommand(diagEchoCmd)
	diagCmd.AddCommand(diagStatusCmd)
	diagCmd.AddCommand(diagEventsCmd)
	diagCmd.AddCommand(diagServerIDCmd)

	diagEchoCmd.Flags().Uint16Var(&diagData, "data", 0xA537, "16-bit test pattern to echo")
}

func runDiagEcho(cmd *cobra.Command, args []string) error {
	return withMaster(func(ctx context.Context, m *modbus.Master) error {
		var data [2]byte
		binary.BigEndian.PutUint16(data[:], diagData)

		echoed, err := m.Diagnostics(ctx, modbus.DiagReturnQueryData, data[:])
		if err != nil {
			return fmt.Errorf("diagnostics failed: %w", err)
		}
		if len(echoed) != 2 || binary.BigEndian.Uint16(echoed) != diagData {
			return fmt.Errorf("echo mismatch: sent 0x%04X, got % X", diagData, echoed)
		}

		outputSuccess("Echo OK: 0x%04X", diagData)
		return nil
	})
}

func runDiagStatus(cmd *cobra.Command, args []string) error {
	return withMaster(func(ctx context.Context, m *modbus.Master) error {
		status, err := m.ReadExceptionStatus(ctx)
		if err != nil {
			return fmt.Errorf("read exception status failed: %w", err)
		}

		outputInfo("Exception status: 0x%02X (%08b)", status, status)
		for bit := 0; bit < 8; bit++ {
			if status&(1<<bit) != 0 {
				fmt.Printf("  output %d: %s\n", bit, color(colorGreen, "set"))
			}
		}
		return nil
	})
}

func runDiagEvents(cmd *cobra.Command, args []string) error {
	return withMaster(func(ctx context.Context, m *modbus.Master) error {
		status, count, err := m.GetCommEventCounter(ctx)
		if err != nil {
			return fmt.Errorf("get comm event counter failed: %w", err)
		}

		busy := "no"
		if status == 0xFFFF {
			busy = "yes"
		}
		outputInfo("Event count: %d (busy: %s)", count, busy)
		return nil
	})
}

func runDiagServerID(cmd *cobra.Command, args []string) error {
	return withMaster(func(ctx context.Context, m *modbus.Master) error {
		data, err := m.ReportServerID(ctx)
		if err != nil {
			return fmt.Errorf("report server id failed: %w", err)
		}
		if len(data) == 0 {
			outputWarning("device returned an empty server ID")
			return nil
		}

		// Last byte is the run indicator when the device follows the
		// convention.
		id, run := data, ""
		if last := data[len(data)-1]; last == 0xFF || last == 0x00 {
			id = data[:len(data)-1]
			if last == 0xFF {
				run = " (running)"
			} else {
				run = " (stopped)"
			}
		}
		outputInfo("Server ID: %q%s", id, run)
		fmt.Printf("  raw: % X\n", data)
		return nil
	})
}
