package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	modbus "github.com/dpicheo/j2mod"
)

var (
	watchInterval time.Duration
	watchCount    int
	watchShowDiff bool
	watchClear    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Continuously monitor Modbus values",
	Long: `Watch registers or coils continuously with a configurable interval.
The master connection is held open across polls.`,
	Example: `  # Watch 5 holding registers every second
  modbuscli watch hr -a 0 -c 5 -i 1s -H 192.168.1.100

  # Watch coils with change highlighting, 20 polls
  modbuscli watch c -a 0 -c 8 -i 500ms -n 20 --diff`,
}

var watchHoldingRegistersCmd = &cobra.Command{
	Use:     "holding-registers",
	Aliases: []string{"hr", "holding"},
	Short:   "Watch holding registers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchRegisters("Holding Registers", func(ctx context.Context, m *modbus.Master) ([]uint16, error) {
			return m.ReadHoldingRegisters(ctx, readAddr, readCount)
		})
	},
}

var watchInputRegistersCmd = &cobra.Command{
	Use:     "input-registers",
	Aliases: []string{"ir", "input"},
	Short:   "Watch input registers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchRegisters("Input Registers", func(ctx context.Context, m *modbus.Master) ([]uint16, error) {
			return m.ReadInputRegisters(ctx, readAddr, readCount)
		})
	},
}

var watchCoilsCmd = &cobra.Command{
	Use:     "coils",
	Aliases: []string{"c", "coil"},
	Short:   "Watch coils",
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchBools("Coils", func(ctx context.Context, m *modbus.Master) ([]bool, error) {
			return m.ReadCoils(ctx, readAddr, readCount)
		})
	},
}

var watchDiscreteInputsCmd = &cobra.Command{
	Use:     "discrete-inputs",
	Aliases: []string{"di", "discrete"},
	Short:   "Watch discrete inputs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchBools("Discrete Inputs", func(ctx context.Context, m *modbus.Master) ([]bool, error) {
			return m.ReadDiscreteInputs(ctx, readAddr, readCount)
		})
	},
}

func init() {
	watchCmd.AddCommand(watchHoldingRegistersCmd)
	watchCmd.AddCommand(watchInputRegistersCmd)
	watchCmd.AddCommand(watchCoilsCmd)
	watchCmd.AddCommand(watchDiscreteInputsCmd)

	for _, cmd := range []*cobra.Command{watchHoldingRegistersCmd, watchInputRegistersCmd, watchCoilsCmd, watchDiscreteInputsCmd} {
		cmd.Flags().Uint16VarP(&readAddr, "address", "a", 0, "Starting address")
		cmd.Flags().Uint16VarP(&readCount, "count", "c", 1, "Number of items to read")
		cmd.Flags().DurationVarP(&watchInterval, "interval", "i", 1*time.Second, "Poll interval")
		cmd.Flags().IntVarP(&watchCount, "iterations", "n", 0, "Number of iterations (0 = infinite)")
		cmd.Flags().BoolVar(&watchShowDiff, "diff", false, "Highlight changed values")
		cmd.Flags().BoolVar(&watchClear, "clear", true, "Clear terminal between updates")
	}
}

type watchSession struct {
	master    *modbus.Master
	iteration int
	errors    int
	startTime time.Time
}

func newWatchSession() (*watchSession, error) {
	master, err := createMaster()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := master.Connect(ctx); err != nil {
		master.Close()
		return nil, fmt.Errorf("connection failed: %w", err)
	}

	return &watchSession{master: master, startTime: time.Now()}, nil
}

func (s *watchSession) header(title string) {
	if watchClear && s.iteration > 1 {
		fmt.Print("\033[H\033[2J")
	}
	fmt.Printf("%s - %s (Address %d-%d)\n",
		color(colorBold, "MODBUS WATCH"), title, readAddr, readAddr+readCount-1)
	fmt.Printf("Unit: %d | Interval: %s | Iteration: %d", unitID, watchInterval, s.iteration)
	if watchCount > 0 {
		fmt.Printf("/%d", watchCount)
	}
	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
}

func (s *watchSession) summary() {
	duration := time.Since(s.startTime)
	fmt.Println()
	fmt.Println(color(colorBold, "Watch Summary"))
	fmt.Printf("Duration:    %s\n", duration.Round(time.Millisecond))
	fmt.Printf("Iterations:  %d\n", s.iteration)
	fmt.Printf("Errors:      %d\n", s.errors)
}

func watchRegisters(title string, read func(context.Context, *modbus.Master) ([]uint16, error)) error {
	s, err := newWatchSession()
	if err != nil {
		return err
	}
	defer s.master.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	var prev []uint16
	poll := func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		values, err := read(ctx, s.master)
		s.iteration++
		if err != nil {
			s.errors++
			if verbose {
				outputWarning("read failed: %v", err)
			}
			return
		}

		s.header(title)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ADDR\tVALUE\tHEX\tCHANGE")
		for i, v := range values {
			change := ""
			if watchShowDiff && i < len(prev) {
				if diff := int(v) - int(prev[i]); diff > 0 {
					change = color(colorGreen, fmt.Sprintf("+%d", diff))
				} else if diff < 0 {
					change = color(colorRed, fmt.Sprintf("%d", diff))
				}
			}
			fmt.Fprintf(w, "%d\t%d\t0x%04X\t%s\n", readAddr+uint16(i), v, v, change)
		}
		w.Flush()
		prev = values
	}

	poll()
	for {
		select {
		case <-sigCh:
			s.summary()
			return nil
		case <-ticker.C:
			poll()
			if watchCount > 0 && s.iteration >= watchCount {
				s.summary()
				return nil
			}
		}
	}
}

func watchBools(title string, read func(context.Context, *modbus.Master) ([]bool, error)) error {
	s, err := newWatchSession()
	if err != nil {
		return err
	}
	defer s.master.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	var prev []bool
	poll := func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		values, err := read(ctx, s.master)
		s.iteration++
		if err != nil {
			s.errors++
			if verbose {
				outputWarning("read failed: %v", err)
			}
			return
		}

		s.header(title)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ADDR\tVALUE\tCHANGE")
		for i, v := range values {
			status := color(colorRed, "OFF")
			if v {
				status = color(colorGreen, "ON")
			}
			change := ""
			if watchShowDiff && i < len(prev) && v != prev[i] {
				if v {
					change = color(colorGreen, "->ON")
				} else {
					change = color(colorRed, "->OFF")
				}
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", readAddr+uint16(i), status, change)
		}
		w.Flush()
		prev = values
	}

	poll()
	for {
		select {
		case <-sigCh:
			s.summary()
			return nil
		case <-ticker.C:
			poll()
			if watchCount > 0 && s.iteration >= watchCount {
				s.summary()
				return nil
			}
		}
	}
}
