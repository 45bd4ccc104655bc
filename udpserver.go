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
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/dpicheo/j2mod/internal/transport"
)

// UDPServer is a Modbus slave on a UDP socket. Each datagram carries one
// MBAP ADU; the terminal remembers which peer sent which transaction so
// responses find their way back even with several masters interleaved.
type UDPServer struct {
	handler Handler
	opts    *serverOptions
	framer  Framer
	disp    *dispatcher

	state atomic.Int32

	mu       sync.Mutex
	terminal *transport.UDPSlaveTerminal
	err      error

	wg      sync.WaitGroup
	metrics *Metrics
}

// NewUDPServer creates a Modbus UDP server dispatching to handler.
func NewUDPServer(handler Handler, opts ...ServerOption) *UDPServer {
	options := defaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}

	metrics := NewMetrics()
	s := &UDPServer{
		handler: handler,
		opts:    options,
		framer:  NewUDPFramer(),
		disp: &dispatcher{
			handler: handler,
			opts:    options,
			metrics: metrics,
			logger:  options.logger,
		},
		metrics: metrics,
	}
	s.state.Store(int32(ServerNew))
	return s
}

// State returns the lifecycle state.
func (s *UDPServer) State() ServerState {
	return ServerState(s.state.Load())
}

// Err returns the bind error after a failed start.
func (s *UDPServer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Metrics returns the server metrics.
func (s *UDPServer) Metrics() *Metrics {
	return s.metrics
}

// Addr returns the bound address, or nil before a successful bind.
func (s *UDPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal != nil {
		return s.terminal.LocalAddr()
	}
	return nil
}

// ListenAndServe binds addr and serves datagrams until Stop. A bind
// failure moves the server to Failed.
func (s *UDPServer) ListenAndServe(addr string) error {
	terminal, err := transport.NewUDPSlaveTerminal(addr)
	if err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.state.Store(int32(ServerFailed))
		return fmt.Errorf("listen: %w", err)
	}

	s.mu.Lock()
	s.terminal = terminal
	s.mu.Unlock()
	s.state.Store(int32(ServerListening))
	s.opts.logger.Info("udp server started",
		slog.String("addr", terminal.LocalAddr().String()))

	for i := 0; i < s.opts.workers; i++ {
		s.wg.Add(1)
		go s.worker(terminal)
	}

	s.wg.Wait()
	s.state.Store(int32(ServerStopped))
	s.opts.logger.Info("udp server stopped")
	return nil
}

// ListenAndServeContext serves until the context is cancelled.
func (s *UDPServer) ListenAndServeContext(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return s.ListenAndServe(addr)
}

// Stop shuts the server down. Closing the socket wakes the receiver, the
// inbound channel drains and closes, and the workers exit.
func (s *UDPServer) Stop() error {
	if !s.state.CompareAndSwap(int32(ServerListening), int32(ServerStopping)) {
		return ErrServerClosed
	}
	s.mu.Lock()
	terminal := s.terminal
	s.mu.Unlock()
	if terminal != nil {
		return terminal.Close()
	}
	return nil
}

// Close is an alias for Stop.
func (s *UDPServer) Close() error {
	return s.Stop()
}

func (s *UDPServer) worker(terminal *transport.UDPSlaveTerminal) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.opts.logger.Error("panic in udp worker",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	for adu := range terminal.Inbound() {
		s.serveDatagram(terminal, adu)
	}
}

func (s *UDPServer) serveDatagram(terminal *transport.UDPSlaveTerminal, adu []byte) {
	env, err := s.framer.Decode(adu)
	if err != nil {
		// A malformed datagram gets no response.
		s.metrics.FramesDropped.Add(1)
		s.opts.logger.Debug("dropping malformed datagram",
			slog.Int("len", len(adu)),
			slog.String("error", err.Error()))
		return
	}

	resp, ok := s.disp.service(env)
	if !ok {
		return
	}

	out, err := s.framer.Encode(resp)
	if err != nil {
		s.opts.logger.Error("response frame encode failed",
			slog.String("error", err.Error()))
		return
	}

	if err := terminal.Send(out); err != nil && !errors.Is(err, net.ErrClosed) {
		s.opts.logger.Debug("send error", slog.String("error", err.Error()))
	}
}
