package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	modbus "github.com/dpicheo/j2mod"
)

var (
	cfgFile string

	// Connection flags
	transportKind string
	host          string
	port          int
	device        string
	baudRate      int
	dataBits      int
	parity        string
	stopBits      int
	unitID        uint8
	timeout       time.Duration
	retries       int

	// Output flags
	outputFmt string
	verbose   bool
	noColor   bool
	wordOrder string

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "modbuscli",
	Short: "A Modbus master CLI for TCP, UDP and serial devices",
	Long: `modbuscli is a command-line Modbus master. It speaks MBAP over TCP or
UDP, RTU over TCP, and RTU or ASCII over a serial line.

Examples:
  # Read 10 holding registers from address 0
  modbuscli read hr -a 0 -c 10 -H 192.168.1.100

  # Write value 1234 to register 100
  modbuscli write register -a 100 -V 1234 -H 192.168.1.100

  # Watch registers continuously
  modbuscli watch hr -a 0 -c 5 -i 1s -H 192.168.1.100

  # Same reads over a serial line
  modbuscli read hr -a 0 -c 10 -T rtu -D /dev/ttyUSB0 -b 19200`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.modbuscli.yaml)")

	// Connection flags
	rootCmd.PersistentFlags().StringVarP(&transportKind, "transport", "T", "tcp", "Transport: tcp, udp, rtu-tcp, rtu, ascii")
	rootCmd.PersistentFlags().StringVarP(&host, "host", "H", "localhost", "Modbus server host")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", modbus.DefaultPort, "Modbus server port")
	rootCmd.PersistentFlags().StringVarP(&device, "device", "D", "", "Serial device (rtu/ascii transports)")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 19200, "Serial baud rate")
	rootCmd.PersistentFlags().IntVar(&dataBits, "data-bits", 0, "Serial data bits (default: 8 RTU, 7 ASCII)")
	rootCmd.PersistentFlags().StringVar(&parity, "parity", "N", "Serial parity: N, E, O")
	rootCmd.PersistentFlags().IntVar(&stopBits, "stop-bits", 1, "Serial stop bits")
	rootCmd.PersistentFlags().Uint8VarP(&unitID, "unit", "u", 1, "Modbus unit ID (1-247)")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", modbus.DefaultTimeout, "Operation timeout")
	rootCmd.PersistentFlags().IntVarP(&retries, "retries", "r", modbus.DefaultRetries, "Number of retries on failure")

	// Output flags
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, csv, hex, raw")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable color output")
	rootCmd.PersistentFlags().StringVar(&wordOrder, "word-order", "big", "Word order for 32-bit values: big, little")

	viper.BindPFlag("transport", rootCmd.PersistentFlags().Lookup("transport"))
	viper.BindPFlag("host", rootCmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("device", rootCmd.PersistentFlags().Lookup("device"))
	viper.BindPFlag("unit", rootCmd.PersistentFlags().Lookup("unit"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))

	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(diagCmd)
	rootCmd.AddCommand(infoCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".modbuscli")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("MODBUS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

func getAddress() string {
	return fmt.Sprintf("%s:%d", viper.GetString("host"), viper.GetInt("port"))
}

func serialConfig() modbus.SerialConfig {
	return modbus.SerialConfig{
		Device:   viper.GetString("device"),
		BaudRate: baudRate,
		DataBits: dataBits,
		Parity:   parity,
		StopBits: stopBits,
	}
}

func createMaster() (*modbus.Master, error) {
	common := []modbus.Option{
		modbus.WithUnitID(modbus.UnitID(unitID)),
		modbus.WithTimeout(timeout),
		modbus.WithMaxRetries(retries),
		modbus.WithLogger(logger),
	}

	var (
		master *modbus.Master
		err    error
	)
	switch viper.GetString("transport") {
	case "tcp":
		master, err = modbus.NewTCPMaster(getAddress(), common...)
	case "udp":
		master, err = modbus.NewUDPMaster(getAddress(), common...)
	case "rtu-tcp":
		master, err = modbus.NewTCPMaster(getAddress(), append(common, modbus.WithRTUFraming())...)
	case "rtu":
		master, err = modbus.NewSerialMaster(serialConfig(), common...)
	case "ascii":
		master, err = modbus.NewSerialMaster(serialConfig(), append(common, modbus.WithASCIIFraming())...)
	default:
		return nil, fmt.Errorf("unknown transport %q", viper.GetString("transport"))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create master: %w", err)
	}
	return master, nil
}
