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
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// ServerState is the lifecycle state of a slave listener.
type ServerState int32

const (
	ServerNew ServerState = iota
	ServerListening
	ServerStopping
	ServerStopped
	ServerFailed
)

// String returns the string representation of the server state.
func (s ServerState) String() string {
	switch s {
	case ServerNew:
		return "new"
	case ServerListening:
		return "listening"
	case ServerStopping:
		return "stopping"
	case ServerStopped:
		return "stopped"
	case ServerFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// acceptPollInterval is how often the accept loop wakes to observe a stop
// request.
const acceptPollInterval = time.Second

// timeNow is a seam for watchdog tests.
var timeNow = time.Now

// dispatcher services one framed request and produces the response frame.
// It is shared by the TCP, UDP and serial servers.
type dispatcher struct {
	handler Handler
	opts    *serverOptions
	metrics *Metrics
	logger  *slog.Logger
}

// service handles one request envelope. The returned bool is false when
// the frame must be silently dropped (unit not accepted, or a handler in
// listen-only mode); semantic failures produce exception responses.
func (d *dispatcher) service(env Envelope) (Envelope, bool) {
	resp := Envelope{
		TransactionID: env.TransactionID,
		ProtocolID:    ProtocolID,
		UnitID:        env.UnitID,
	}

	if !d.opts.acceptsUnit(env.UnitID) {
		d.metrics.FramesDropped.Add(1)
		d.logger.Debug("dropping request for filtered unit",
			slog.Uint64("unit_id", uint64(env.UnitID)))
		return Envelope{}, false
	}

	d.metrics.RequestsTotal.Add(1)

	req, err := DecodeRequest(env.PDU)
	if err != nil {
		d.metrics.RequestsErrors.Add(1)
		d.metrics.ExceptionsSent.Add(1)
		fc := FunctionCode(0)
		if len(env.PDU) > 0 {
			fc = FunctionCode(env.PDU[0] & 0x7F)
		}
		ec := ExceptionIllegalDataValue
		if errors.Is(err, ErrUnknownFunction) {
			ec = ExceptionIllegalFunction
		}
		resp.PDU = exceptionPDU(fc, ec)
		return resp, true
	}

	d.logger.Debug("processing request",
		slog.Uint64("tx_id", uint64(env.TransactionID)),
		slog.Uint64("unit_id", uint64(env.UnitID)),
		slog.String("func", req.FunctionCode().String()))

	response, err := d.handler.Handle(env.UnitID, req)
	if err != nil {
		d.metrics.RequestsErrors.Add(1)
		d.metrics.ExceptionsSent.Add(1)
		resp.PDU = errorPDU(req.FunctionCode(), err, d.logger)
		return resp, true
	}
	if response == nil {
		// Listen-only: the request was serviced but nothing goes back.
		d.metrics.RequestsSuccess.Add(1)
		d.logger.Debug("suppressing response for listen-only unit",
			slog.Uint64("unit_id", uint64(env.UnitID)),
			slog.String("func", req.FunctionCode().String()))
		return Envelope{}, false
	}

	pdu, err := response.Encode()
	if err != nil {
		d.metrics.RequestsErrors.Add(1)
		d.metrics.ExceptionsSent.Add(1)
		d.logger.Error("response encode failed",
			slog.String("func", req.FunctionCode().String()),
			slog.String("error", err.Error()))
		resp.PDU = exceptionPDU(req.FunctionCode(), ExceptionServerDeviceFailure)
		return resp, true
	}

	d.metrics.RequestsSuccess.Add(1)
	resp.PDU = pdu
	return resp, true
}

func exceptionPDU(fc FunctionCode, ec ExceptionCode) []byte {
	return []byte{byte(fc) | 0x80, byte(ec)}
}

func errorPDU(fc FunctionCode, err error, logger *slog.Logger) []byte {
	var modbusErr *ModbusError
	if errors.As(err, &modbusErr) {
		return exceptionPDU(fc, modbusErr.ExceptionCode)
	}
	logger.Error("handler error",
		slog.String("func", fc.String()),
		slog.String("error", err.Error()))
	return exceptionPDU(fc, ExceptionServerDeviceFailure)
}

// Server is a Modbus slave listening on a TCP socket, speaking MBAP by
// default or RTU-over-TCP with WithServerRTUFraming. Connections are
// serviced by a fixed worker pool; when every worker is busy the accept
// loop blocks, which is the intended back-pressure.
type Server struct {
	handler Handler
	opts    *serverOptions
	framer  Framer
	disp    *dispatcher

	state atomic.Int32

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	err      error

	ctx    context.Context
	cancel context.CancelFunc
	workCh chan net.Conn
	wg     sync.WaitGroup

	metrics *Metrics
}

// NewServer creates a Modbus TCP server dispatching to handler.
func NewServer(handler Handler, opts ...ServerOption) *Server {
	options := defaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}

	var framer Framer
	if options.serverRTUFraming {
		framer = NewRTUOverTCPFramer().Serverside()
	} else {
		framer = NewTCPFramer()
	}

	ctx, cancel := context.WithCancel(context.Background())
	metrics := NewMetrics()
	s := &Server{
		handler: handler,
		opts:    options,
		framer:  framer,
		disp: &dispatcher{
			handler: handler,
			opts:    options,
			metrics: metrics,
			logger:  options.logger,
		},
		conns:   make(map[net.Conn]struct{}),
		ctx:     ctx,
		cancel:  cancel,
		workCh:  make(chan net.Conn),
		metrics: metrics,
	}
	s.state.Store(int32(ServerNew))
	return s
}

// State returns the lifecycle state.
func (s *Server) State() ServerState {
	return ServerState(s.state.Load())
}

// Err returns the bind error after a failed start.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Addr returns the bound address, or nil before a successful bind.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ActiveConnections returns the number of open connections.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// ListenAndServe binds addr and serves until Stop. A bind failure moves
// the server to Failed.
func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.state.Store(int32(ServerFailed))
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until Stop.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.state.Store(int32(ServerListening))
	s.opts.logger.Info("server started", slog.String("addr", listener.Addr().String()))

	for i := 0; i < s.opts.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	for {
		if tcp, ok := listener.(*net.TCPListener); ok {
			tcp.SetDeadline(timeNow().Add(acceptPollInterval))
		}

		conn, err := listener.Accept()
		if err != nil {
			if s.State() != ServerListening {
				break
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue // deadline poll, go observe state
			}
			s.opts.logger.Error("accept error", slog.String("error", err.Error()))
			continue
		}

		if s.State() != ServerListening {
			conn.Close()
			break
		}

		s.mu.Lock()
		if len(s.conns) >= s.opts.maxConns {
			s.mu.Unlock()
			s.opts.logger.Warn("max connections reached, rejecting",
				slog.String("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.metrics.ActiveConns.Add(1)
		s.mu.Unlock()

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(30 * time.Second)
			tcpConn.SetNoDelay(true)
		}

		// Blocks when every worker is busy.
		select {
		case s.workCh <- conn:
		case <-s.ctx.Done():
			s.dropConn(conn)
		}
	}

	close(s.workCh)
	s.wg.Wait()
	s.state.Store(int32(ServerStopped))
	s.opts.logger.Info("server stopped")
	return nil
}

// Stop shuts the server down gracefully: the accept socket closes, the
// cancellation context fires, in-flight handlers finish their current
// response, and the worker pool is joined by Serve before it returns.
func (s *Server) Stop() error {
	if !s.state.CompareAndSwap(int32(ServerListening), int32(ServerStopping)) {
		return ErrServerClosed
	}
	s.cancel()

	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	return err
}

// Close is an alias for Stop.
func (s *Server) Close() error {
	return s.Stop()
}

// ListenAndServeContext serves until the context is cancelled.
func (s *Server) ListenAndServeContext(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return s.ListenAndServe(addr)
}

func (s *Server) worker() {
	defer s.wg.Done()
	for conn := range s.workCh {
		s.handleConn(conn)
	}
}

func (s *Server) dropConn(conn net.Conn) {
	conn.Close()
	s.mu.Lock()
	delete(s.conns, conn)
	s.metrics.ActiveConns.Add(-1)
	s.mu.Unlock()
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		// A panicking handler must not take the worker down.
		if r := recover(); r != nil {
			s.opts.logger.Error("panic in connection handler",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
		s.dropConn(conn)
	}()

	s.opts.logger.Debug("connection accepted",
		slog.String("remote", conn.RemoteAddr().String()))

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// The idle watchdog: no complete request within maxIdle closes
		// the connection.
		var deadline time.Time
		if s.opts.maxIdle > 0 {
			deadline = timeNow().Add(s.opts.maxIdle)
		}

		env, err := s.framer.ReadFrame(conn, deadline)
		if err != nil {
			if err != io.EOF && s.State() == ServerListening {
				if netErr, ok := err.(net.Error); !ok || !netErr.Timeout() {
					s.opts.logger.Debug("read error",
						slog.String("remote", conn.RemoteAddr().String()),
						slog.String("error", err.Error()))
				}
			}
			return
		}

		resp, ok := s.disp.service(env)
		if !ok {
			continue
		}

		adu, err := s.framer.Encode(resp)
		if err != nil {
			s.opts.logger.Error("response frame encode failed",
				slog.String("error", err.Error()))
			return
		}

		if s.opts.maxIdle > 0 {
			conn.SetWriteDeadline(timeNow().Add(s.opts.maxIdle))
		}
		if _, err := conn.Write(adu); err != nil {
			s.opts.logger.Debug("write error",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.String("error", err.Error()))
			return
		}
	}
}
