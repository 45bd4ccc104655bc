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

package modbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/dpicheo/j2mod/internal/transport"
)

// SerialServer is a Modbus slave on a serial line, speaking RTU by
// default or ASCII with WithServerASCIIFraming. A serial bus has exactly
// one master, so requests are serviced one at a time on the read loop.
type SerialServer struct {
	config  SerialConfig
	handler Handler
	opts    *serverOptions
	framer  Framer
	disp    *dispatcher

	state     atomic.Int32
	transport *transport.SerialTransport
	errVal    atomic.Value

	metrics *Metrics
}

// NewSerialServer creates a Modbus serial slave for the given port.
func NewSerialServer(config SerialConfig, handler Handler, opts ...ServerOption) *SerialServer {
	options := defaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}

	var framer Framer
	if options.serverASCIIFraming {
		if config.DataBits == 0 {
			config.DataBits = 7
		}
		framer = NewASCIIFramer()
	} else {
		framer = NewRTUFramer().Serverside()
	}

	metrics := NewMetrics()
	s := &SerialServer{
		config:  config,
		handler: handler,
		opts:    options,
		framer:  framer,
		disp: &dispatcher{
			handler: handler,
			opts:    options,
			metrics: metrics,
			logger:  options.logger,
		},
		transport: transport.NewSerialTransport(config),
		metrics:   metrics,
	}
	s.state.Store(int32(ServerNew))
	return s
}

// State returns the lifecycle state.
func (s *SerialServer) State() ServerState {
	return ServerState(s.state.Load())
}

// Err returns the open error after a failed start.
func (s *SerialServer) Err() error {
	if err, ok := s.errVal.Load().(error); ok {
		return err
	}
	return nil
}

// Metrics returns the server metrics.
func (s *SerialServer) Metrics() *Metrics {
	return s.metrics
}

// Serve opens the port and services requests until Stop. A port open
// failure moves the server to Failed.
func (s *SerialServer) Serve() error {
	if err := s.transport.Connect(context.Background()); err != nil {
		s.errVal.Store(err)
		s.state.Store(int32(ServerFailed))
		return fmt.Errorf("open %s: %w", s.config.Device, err)
	}
	s.state.Store(int32(ServerListening))
	s.opts.logger.Info("serial server started",
		slog.String("device", s.config.Device),
		slog.Int("baud_rate", s.config.BaudRate))

	defer func() {
		if r := recover(); r != nil {
			s.opts.logger.Error("panic in serial server",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
		s.transport.Close()
		s.state.Store(int32(ServerStopped))
		s.opts.logger.Info("serial server stopped")
	}()

	for s.State() == ServerListening {
		conn := s.transport.Conn()
		if conn == nil {
			break
		}

		env, err := s.framer.ReadFrame(conn, time.Time{})
		if err != nil {
			if s.State() != ServerListening || errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			// A corrupt frame on the wire; resynchronize on the next
			// inter-frame silence.
			s.metrics.FramesDropped.Add(1)
			s.opts.logger.Debug("discarding corrupt frame",
				slog.String("error", err.Error()))
			continue
		}

		resp, ok := s.disp.service(env)
		if !ok {
			continue
		}

		adu, err := s.framer.Encode(resp)
		if err != nil {
			s.opts.logger.Error("response frame encode failed",
				slog.String("error", err.Error()))
			continue
		}

		if _, err := conn.Write(adu); err != nil {
			if s.State() != ServerListening {
				break
			}
			s.opts.logger.Error("write error", slog.String("error", err.Error()))
		}
	}
	return nil
}

// ServeContext serves until the context is cancelled.
func (s *SerialServer) ServeContext(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return s.Serve()
}

// Stop shuts the server down. Closing the port wakes the read loop.
func (s *SerialServer) Stop() error {
	if !s.state.CompareAndSwap(int32(ServerListening), int32(ServerStopping)) {
		return ErrServerClosed
	}
	return s.transport.Close()
}

// Close is an alias for Stop.
func (s *SerialServer) Close() error {
	return s.Stop()
}
