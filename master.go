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
	"math"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dpicheo/j2mod/internal/transport"
)

// masterTransport is the connection lifecycle surface shared by the TCP,
// UDP and serial transports.
type masterTransport interface {
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool
	Conn() transport.Conn
}

// maxStaleFrames is how many mismatched-transaction frames a round trip
// reads past before giving up. Stale frames are late responses to an
// earlier attempt of the same master.
const maxStaleFrames = 3

// Master is a Modbus master (client): it issues requests over one
// connection and matches responses to them. At most one request is
// outstanding at a time; Execute holds the transport for the whole round
// trip. Masters support automatic reconnection with exponential backoff.
type Master struct {
	addr   string
	opts   *masterOptions
	framer Framer

	// serialFraming means the transaction ID is tracked but not
	// transmitted, so responses cannot be correlated by it.
	serialFraming bool

	transport masterTransport
	txCounter atomic.Uint32

	closed  atomic.Bool
	closeCh chan struct{}

	mu      sync.Mutex
	state   ConnectionState
	metrics *Metrics
	logger  *slog.Logger
}

// NewTCPMaster creates a master speaking MBAP over TCP, or RTU bytes over
// TCP with WithRTUFraming.
func NewTCPMaster(addr string, opts ...Option) (*Master, error) {
	if addr == "" {
		return nil, errors.New("modbus: address cannot be empty")
	}
	options := defaultMasterOptions()
	for _, opt := range opts {
		opt(options)
	}

	var framer Framer
	serialFraming := false
	if options.rtuFraming {
		framer = NewRTUOverTCPFramer()
		serialFraming = true
	} else {
		framer = NewTCPFramer()
	}

	return newMaster(addr, options, framer, serialFraming,
		transport.NewTCPTransport(addr, options.timeout)), nil
}

// NewUDPMaster creates a master speaking MBAP over UDP, one datagram per
// ADU.
func NewUDPMaster(addr string, opts ...Option) (*Master, error) {
	if addr == "" {
		return nil, errors.New("modbus: address cannot be empty")
	}
	options := defaultMasterOptions()
	for _, opt := range opts {
		opt(options)
	}
	return newMaster(addr, options, NewUDPFramer(), false,
		transport.NewUDPTransport(addr, options.timeout)), nil
}

// NewSerialMaster creates a master on a serial line, RTU framed by
// default or ASCII with WithASCIIFraming.
func NewSerialMaster(cfg SerialConfig, opts ...Option) (*Master, error) {
	if cfg.Device == "" {
		return nil, errors.New("modbus: device cannot be empty")
	}
	options := defaultMasterOptions()
	for _, opt := range opts {
		opt(options)
	}

	var framer Framer
	if options.asciiFraming {
		if cfg.DataBits == 0 {
			cfg.DataBits = 7
		}
		framer = NewASCIIFramer()
	} else {
		framer = NewRTUFramer()
	}

	return newMaster(cfg.Device, options, framer, true,
		transport.NewSerialTransport(cfg)), nil
}

func newMaster(addr string, options *masterOptions, framer Framer, serialFraming bool, tr masterTransport) *Master {
	return &Master{
		addr:          addr,
		opts:          options,
		framer:        framer,
		serialFraming: serialFraming,
		transport:     tr,
		state:         StateDisconnected,
		closeCh:       make(chan struct{}),
		metrics:       NewMetrics(),
		logger:        options.logger,
	}
}

// Connect establishes the connection. Connecting while connected is a
// no-op.
func (m *Master) Connect(ctx context.Context) error {
	if m.closed.Load() {
		return ErrConnectionClosed
	}
	m.mu.Lock()
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.mu.Unlock()

	m.logger.Debug("connecting", slog.String("addr", m.addr))

	if err := m.transport.Connect(ctx); err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.state = StateConnected
	m.metrics.ActiveConns.Add(1)
	m.mu.Unlock()

	m.logger.Info("connected", slog.String("addr", m.addr))

	if m.opts.onConnect != nil {
		m.opts.onConnect()
	}
	return nil
}

// Close closes the master. A blocked Execute fails with a read error.
func (m *Master) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(m.closeCh)
	m.logger.Debug("closing connection", slog.String("addr", m.addr))

	// An in-flight round trip holds m.mu for its whole exchange, so the
	// transport must be torn down first: closing the connection is what
	// breaks its blocking read.
	err := m.transport.Close()

	m.mu.Lock()
	wasConnected := m.state == StateConnected
	m.state = StateDisconnected
	if wasConnected {
		m.metrics.ActiveConns.Add(-1)
	}
	m.mu.Unlock()
	return err
}

// State returns the current connection state.
func (m *Master) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected returns true if the master is connected.
func (m *Master) IsConnected() bool {
	return m.State() == StateConnected
}

// Metrics returns the master metrics.
func (m *Master) Metrics() *Metrics {
	return m.metrics
}

// SetUnitID sets the default unit ID for subsequent requests.
func (m *Master) SetUnitID(id UnitID) {
	m.mu.Lock()
	m.opts.unitID = id
	m.mu.Unlock()
}

// UnitID returns the current default unit ID.
func (m *Master) UnitID() UnitID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts.unitID
}

// Address returns the peer address or device.
func (m *Master) Address() string {
	return m.addr
}

// nextTxID returns the next transaction ID, wrapping and skipping zero.
func (m *Master) nextTxID() uint16 {
	for {
		if id := uint16(m.txCounter.Add(1)); id != 0 {
			return id
		}
	}
}

// Execute performs one request/response transaction against the given
// unit. Timeouts are retried with the same transaction ID, so a slave
// that serviced the lost attempt answers the retry consistently.
// Exception responses surface as *ModbusError without retrying.
func (m *Master) Execute(ctx context.Context, unit UnitID, req Request) (Response, error) {
	pdu, err := req.Encode()
	if err != nil {
		return nil, err
	}

	if m.closed.Load() {
		return nil, ErrConnectionClosed
	}

	txID := m.nextTxID()
	env := Envelope{
		TransactionID: txID,
		ProtocolID:    ProtocolID,
		UnitID:        unit,
		PDU:           pdu,
	}
	adu, err := m.framer.Encode(env)
	if err != nil {
		return nil, err
	}

	fm := m.metrics.ForFunction(req.FunctionCode())

	var lastErr error
	for attempt := 0; attempt <= m.opts.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if m.closed.Load() {
			return nil, ErrConnectionClosed
		}
		if attempt > 0 {
			m.logger.Debug("retrying request",
				slog.Uint64("tx_id", uint64(txID)),
				slog.Int("attempt", attempt+1))
		}

		if !m.IsConnected() {
			if err := m.ensureConnected(ctx); err != nil {
				lastErr = err
				if !m.opts.autoReconnect {
					return nil, err
				}
				continue
			}
		}

		start := time.Now()
		m.metrics.RequestsTotal.Add(1)
		fm.Requests.Add(1)

		resp, err := m.roundTrip(ctx, txID, unit, req.FunctionCode(), adu)
		if err == nil {
			duration := time.Since(start)
			m.metrics.RequestsSuccess.Add(1)
			m.metrics.Latency.Observe(duration)
			fm.Latency.Observe(duration)
			return resp, nil
		}

		m.metrics.RequestsErrors.Add(1)
		fm.Errors.Add(1)
		lastErr = err

		var modbusErr *ModbusError
		if errors.As(err, &modbusErr) {
			// The slave answered; retrying would repeat the refusal.
			return nil, err
		}
		if errors.Is(err, ErrTimeout) {
			continue // resend with the same transaction ID
		}
		if !isRetryableError(err) {
			return nil, err
		}
		m.handleDisconnect(err)
		if !m.opts.autoReconnect {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, lastErr)
}

// roundTrip sends the ADU and reads frames until the matching response
// arrives, skipping up to maxStaleFrames mismatched transactions.
func (m *Master) roundTrip(ctx context.Context, txID uint16, unit UnitID, expectedFC FunctionCode, adu []byte) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn := m.transport.Conn()
	if conn == nil || m.state != StateConnected {
		return nil, ErrNotConnected
	}

	deadline := time.Now().Add(m.opts.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := conn.Write(adu); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	m.logger.Debug("sent request",
		slog.Uint64("tx_id", uint64(txID)),
		slog.Uint64("unit_id", uint64(unit)),
		slog.String("func", expectedFC.String()))

	stale := 0
	for {
		env, err := m.framer.ReadFrame(conn, deadline)
		if err != nil {
			if isTimeoutError(err) {
				return nil, fmt.Errorf("%w: no response within %s", ErrTimeout, m.opts.timeout)
			}
			return nil, err
		}

		if !m.serialFraming && env.TransactionID != txID {
			stale++
			m.logger.Debug("skipping stale frame",
				slog.Uint64("want_tx", uint64(txID)),
				slog.Uint64("got_tx", uint64(env.TransactionID)))
			if stale > maxStaleFrames {
				// The matching response never arrived; surfacing a
				// timeout lets Execute resend with the same transaction
				// ID.
				return nil, fmt.Errorf("%w: %d mismatched transactions while waiting for %d",
					ErrTimeout, stale, txID)
			}
			continue
		}

		if env.UnitID != unit {
			return nil, fmt.Errorf("%w: unit ID mismatch (expected %d, got %d)",
				ErrInvalidResponse, unit, env.UnitID)
		}

		resp, err := DecodeResponse(env.PDU)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		if exc, ok := resp.(*ExceptionResponse); ok {
			if exc.Function != expectedFC {
				return nil, fmt.Errorf("%w: exception for function %02X, expected %02X",
					ErrInvalidResponse, uint8(exc.Function), uint8(expectedFC))
			}
			return nil, exc.ModbusError()
		}
		if resp.FunctionCode() != expectedFC {
			return nil, fmt.Errorf("%w: function code mismatch (expected %02X, got %02X)",
				ErrInvalidResponse, uint8(expectedFC), uint8(resp.FunctionCode()))
		}
		return resp, nil
	}
}

// ensureConnected connects, applying the reconnect backoff policy when
// auto-reconnect is enabled.
func (m *Master) ensureConnected(ctx context.Context) error {
	if !m.opts.autoReconnect {
		return m.Connect(ctx)
	}

	backoff := m.opts.reconnectBackoff
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.closeCh:
			return ErrConnectionClosed
		default:
		}

		m.logger.Info("attempting reconnection",
			slog.String("addr", m.addr),
			slog.Duration("backoff", backoff))
		m.metrics.Reconnections.Add(1)

		if err := m.Connect(ctx); err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.closeCh:
			return ErrConnectionClosed
		case <-time.After(backoff):
		}

		backoff = time.Duration(math.Min(
			float64(backoff)*2,
			float64(m.opts.maxReconnectTime),
		))
	}
}

func (m *Master) handleDisconnect(err error) {
	m.mu.Lock()
	wasConnected := m.state == StateConnected
	m.state = StateDisconnected
	if wasConnected {
		m.metrics.ActiveConns.Add(-1)
	}
	m.mu.Unlock()

	m.transport.Close()

	m.logger.Warn("disconnected", slog.String("error", err.Error()))

	if m.opts.onDisconnect != nil {
		m.opts.onDisconnect(err)
	}
}

func isTimeoutError(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	// Don't retry Modbus protocol errors
	var modbusErr *ModbusError
	if errors.As(err, &modbusErr) {
		return false
	}
	// Don't retry context errors
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Protocol violations mean the peer is not speaking Modbus; retrying
	// the same bytes cannot help.
	if errors.Is(err, ErrInvalidResponse) || errors.Is(err, ErrTransactionMismatch) {
		return false
	}
	return true
}
