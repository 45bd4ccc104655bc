package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	modbus "github.com/dpicheo/j2mod"
)

var (
	readAddr   uint16
	readCount  uint16
	readFormat string
)

var readCmd = &cobra.Command{
	Use:     "read",
	Aliases: []string{"r"},
	Short:   "Read data from a Modbus device",
	Long:    `Read coils, discrete inputs, holding registers, input registers, or a FIFO queue from a Modbus device.`,
}

// Read coils (FC01)
var readCoilsCmd = &cobra.Command{
	Use:     "coils",
	Aliases: []string{"c", "coil"},
	Short:   "Read coils (FC01)",
	Example: `  modbuscli read coils -a 0 -c 10 -H 192.168.1.100
  modbuscli r c -a 100 -c 8`,
	RunE: runReadCoils,
}

// Read discrete inputs (FC02)
var readDiscreteInputsCmd = &cobra.Command{
	Use:     "discrete-inputs",
	Aliases: []string{"di", "discrete"},
	Short:   "Read discrete inputs (FC02)",
	Example: `  modbuscli read discrete-inputs -a 0 -c 10 -H 192.168.1.100
  modbuscli r di -a 100 -c 8`,
	RunE: runReadDiscreteInputs,
}

// Read holding registers (FC03)
var readHoldingRegistersCmd = &cobra.Command{
	Use:     "holding-registers",
	Aliases: []string{"hr", "holding"},
	Short:   "Read holding registers (FC03)",
	Long: `Read holding registers from the Modbus device using function code 03.

Supported formats for -f/--format flag:
  uint16  - Unsigned 16-bit integer (default)
  int16   - Signed 16-bit integer
  uint32  - Unsigned 32-bit integer (2 registers)
  int32   - Signed 32-bit integer (2 registers)
  float32 - 32-bit floating point (2 registers)
  string  - ASCII string`,
	Example: `  modbuscli read holding-registers -a 0 -c 10 -H 192.168.1.100
  modbuscli r hr -a 100 -c 4 -f float32`,
	RunE: runReadHoldingRegisters,
}

// Read input registers (FC04)
var readInputRegistersCmd = &cobra.Command{
	Use:     "input-registers",
	Aliases: []string{"ir", "input"},
	Short:   "Read input registers (FC04)",
	Example: `  modbuscli read input-registers -a 0 -c 10 -H 192.168.1.100
  modbuscli r ir -a 100 -c 4 -f int32`,
	RunE: runReadInputRegisters,
}

// Read FIFO queue (FC24)
var readFIFOCmd = &cobra.Command{
	Use:     "fifo",
	Aliases: []string{"f"},
	Short:   "Read FIFO queue (FC24)",
	Example: `  modbuscli read fifo -a 1000 -H 192.168.1.100`,
	RunE:    runReadFIFO,
}

func init() {
	readCmd.AddCommand(readCoilsCmd)
	readCmd.AddCommand(readDiscreteInputsCmd)
	readCmd.AddCommand(readHoldingRegistersCmd)
	readCmd.AddCommand(readInputRegistersCmd)
	readCmd.AddCommand(readFIFOCmd)

	for _, cmd := range []*cobra.Command{readCoilsCmd, readDiscreteInputsCmd, readHoldingRegistersCmd, readInputRegistersCmd} {
		cmd.Flags().Uint16VarP(&readAddr, "address", "a", 0, "Starting address")
		cmd.Flags().Uint16VarP(&readCount, "count", "c", 1, "Number of items to read")
	}
	readFIFOCmd.Flags().Uint16VarP(&readAddr, "address", "a", 0, "FIFO pointer address")

	readHoldingRegistersCmd.Flags().StringVarP(&readFormat, "format", "f", "uint16", "Data format: uint16, int16, uint32, int32, float32, string")
	readInputRegistersCmd.Flags().StringVarP(&readFormat, "format", "f", "uint16", "Data format: uint16, int16, uint32, int32, float32, string")
}

// withMaster dials, runs fn, and tears the connection down again.
func withMaster(fn func(ctx context.Context, m *modbus.Master) error) error {
	master, err := createMaster()
	if err != nil {
		return err
	}
	defer master.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := master.Connect(ctx); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	return fn(ctx, master)
}

func runReadCoils(cmd *cobra.Command, args []string) error {
	return withMaster(func(ctx context.Context, m *modbus.Master) error {
		values, err := m.ReadCoils(ctx, readAddr, readCount)
		if err != nil {
			return fmt.Errorf("read coils failed: %w", err)
		}
		return outputBoolValues("Coils", readAddr, values)
	})
}

func runReadDiscreteInputs(cmd *cobra.Command, args []string) error {
	return withMaster(func(ctx context.Context, m *modbus.Master) error {
		values, err := m.ReadDiscreteInputs(ctx, readAddr, readCount)
		if err != nil {
			return fmt.Errorf("read discrete inputs failed: %w", err)
		}
		return outputBoolValues("Discrete Inputs", readAddr, values)
	})
}

func runReadHoldingRegisters(cmd *cobra.Command, args []string) error {
	return withMaster(func(ctx context.Context, m *modbus.Master) error {
		values, err := m.ReadHoldingRegisters(ctx, readAddr, readCount)
		if err != nil {
			return fmt.Errorf("read holding registers failed: %w", err)
		}
		return outputRegisterValues("Holding Registers", readAddr, values, readFormat)
	})
}

func runReadInputRegisters(cmd *cobra.Command, args []string) error {
	return withMaster(func(ctx context.Context, m *modbus.Master) error {
		values, err := m.ReadInputRegisters(ctx, readAddr, readCount)
		if err != nil {
			return fmt.Errorf("read input registers failed: %w", err)
		}
		return outputRegisterValues("Input Registers", readAddr, values, readFormat)
	})
}

func runReadFIFO(cmd *cobra.Command, args []string) error {
	return withMaster(func(ctx context.Context, m *modbus.Master) error {
		values, err := m.ReadFIFOQueue(ctx, readAddr)
		if err != nil {
			return fmt.Errorf("read fifo queue failed: %w", err)
		}
		if len(values) == 0 {
			outputInfo("FIFO queue at %d is empty", readAddr)
			return nil
		}
		return outputRegisterValues("FIFO Queue", readAddr, values, "uint16")
	})
}
