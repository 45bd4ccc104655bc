// Copyright 2025 The j2mod Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	modbus "github.com/dpicheo/j2mod"
)

var (
	cfgFile   string
	imageFile string

	transportKind string
	listenAddr    string
	device        string
	baudRate      int
	dataBits      int
	parity        string
	stopBits      int

	workers  int
	maxConns int
	maxIdle  time.Duration
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "modbusd",
	Short: "A Modbus slave daemon",
	Long: `modbusd serves a process image defined in a YAML file over TCP, UDP,
or a serial line. The units the daemon answers for are the units the
image defines; requests for other units are dropped without a response.

Example image definition:

  units:
    - id: 1
      holding_registers:
        - address: 0
          values: [10, 11, 12]
      coils:
        - address: 0
          values: [true, false, true]`,
	Example: `  modbusd --image plant.yaml --listen :502
  modbusd --image plant.yaml --transport udp --listen :1502
  modbusd --image plant.yaml --transport rtu --device /dev/ttyUSB0 -b 19200`,
	Version: version,
	RunE:    runDaemon,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "daemon config file (default: ./modbusd.yaml)")
	rootCmd.Flags().StringVarP(&imageFile, "image", "f", "", "process-image definition file (required)")
	rootCmd.Flags().StringVarP(&transportKind, "transport", "T", "tcp", "Transport: tcp, udp, rtu-tcp, rtu, ascii")
	rootCmd.Flags().StringVarP(&listenAddr, "listen", "l", fmt.Sprintf(":%d", modbus.DefaultPort), "Listen address (tcp/udp)")
	rootCmd.Flags().StringVarP(&device, "device", "D", "", "Serial device (rtu/ascii transports)")
	rootCmd.Flags().IntVarP(&baudRate, "baud", "b", 19200, "Serial baud rate")
	rootCmd.Flags().IntVar(&dataBits, "data-bits", 0, "Serial data bits (default: 8 RTU, 7 ASCII)")
	rootCmd.Flags().StringVar(&parity, "parity", "N", "Serial parity: N, E, O")
	rootCmd.Flags().IntVar(&stopBits, "stop-bits", 1, "Serial stop bits")
	rootCmd.Flags().IntVar(&workers, "workers", 5, "Connection worker pool size (tcp/udp)")
	rootCmd.Flags().IntVar(&maxConns, "max-conns", 100, "Maximum concurrent connections (tcp)")
	rootCmd.Flags().DurationVar(&maxIdle, "max-idle", 30*time.Second, "Idle watchdog timeout, 0 disables (tcp)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	viper.BindPFlag("image", rootCmd.Flags().Lookup("image"))
	viper.BindPFlag("transport", rootCmd.Flags().Lookup("transport"))
	viper.BindPFlag("listen", rootCmd.Flags().Lookup("listen"))
	viper.BindPFlag("device", rootCmd.Flags().Lookup("device"))
	viper.BindPFlag("workers", rootCmd.Flags().Lookup("workers"))
	viper.BindPFlag("max_conns", rootCmd.Flags().Lookup("max-conns"))
	viper.BindPFlag("max_idle", rootCmd.Flags().Lookup("max-idle"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("modbusd")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("MODBUSD")
	viper.AutomaticEnv()

	viper.ReadInConfig()
}

func runDaemon(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	imagePath := viper.GetString("image")
	if imagePath == "" {
		return fmt.Errorf("an image definition is required (--image)")
	}

	def, err := modbus.LoadImageDefinition(imagePath)
	if err != nil {
		return err
	}
	image, err := def.Build()
	if err != nil {
		return err
	}
	handler := modbus.NewImageHandler(image)

	logger.Info("image loaded",
		slog.String("path", imagePath),
		slog.Int("units", len(def.Units)))

	opts := []modbus.ServerOption{
		modbus.WithServerLogger(logger),
		modbus.WithWorkers(viper.GetInt("workers")),
		modbus.WithMaxConnections(viper.GetInt("max_conns")),
		modbus.WithMaxIdle(viper.GetDuration("max_idle")),
		modbus.WithUnits(def.UnitIDs()...),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := viper.GetString("listen")
	switch viper.GetString("transport") {
	case "tcp":
		server := modbus.NewServer(handler, opts...)
		return server.ListenAndServeContext(ctx, addr)
	case "rtu-tcp":
		server := modbus.NewServer(handler, append(opts, modbus.WithServerRTUFraming())...)
		return server.ListenAndServeContext(ctx, addr)
	case "udp":
		server := modbus.NewUDPServer(handler, opts...)
		return server.ListenAndServeContext(ctx, addr)
	case "rtu":
		server := modbus.NewSerialServer(serialConfig(), handler, opts...)
		return server.ServeContext(ctx)
	case "ascii":
		server := modbus.NewSerialServer(serialConfig(), handler,
			append(opts, modbus.WithServerASCIIFraming())...)
		return server.ServeContext(ctx)
	default:
		return fmt.Errorf("unknown transport %q", viper.GetString("transport"))
	}
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
