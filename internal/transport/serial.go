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

package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/goburrow/serial"
)

// ErrReadGap reports that a serial read saw no byte for one coarse port
// timeout while the wall-clock deadline has not yet passed. Silence-driven
// framers treat it as an inter-frame boundary.
var ErrReadGap = errors.New("transport: inter-character gap")

// SerialConfig describes a serial port. Silence is the inter-frame gap the
// port uses as its coarse read timeout; the framer derives it from the
// baud rate.
type SerialConfig struct {
	Device   string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string // "N", "E" or "O"
	Silence  time.Duration
}

// SerialTransport wraps a serial port behind Conn. Read deadlines are
// emulated: the port blocks at most Silence per read, and the adapter
// checks the wall clock between reads.
type SerialTransport struct {
	cfg SerialConfig

	mu   sync.Mutex
	port serial.Port
	conn *serialConn
}

// NewSerialTransport creates a serial transport. The port is opened by
// Connect.
func NewSerialTransport(cfg SerialConfig) *SerialTransport {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 19200
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = 1
	}
	if cfg.Parity == "" {
		cfg.Parity = "N"
	}
	if cfg.Silence == 0 {
		cfg.Silence = SilenceInterval(cfg.BaudRate)
	}
	return &SerialTransport{cfg: cfg}
}

// SilenceInterval returns the 3.5-character inter-frame gap for a baud
// rate: 1750 µs at 19200 baud and above, otherwise 38_500_000/baud µs.
func SilenceInterval(baudRate int) time.Duration {
	if baudRate >= 19200 {
		return 1750 * time.Microsecond
	}
	return time.Duration(38_500_000/baudRate) * time.Microsecond
}

// Connect opens the serial port. Connecting while open is a no-op.
func (t *SerialTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port != nil {
		return nil
	}

	port, err := serial.Open(&serial.Config{
		Address:  t.cfg.Device,
		BaudRate: t.cfg.BaudRate,
		DataBits: t.cfg.DataBits,
		StopBits: t.cfg.StopBits,
		Parity:   t.cfg.Parity,
		Timeout:  t.cfg.Silence,
	})
	if err != nil {
		return fmt.Errorf("serial open %s: %w", t.cfg.Device, err)
	}
	t.port = port
	t.conn = &serialConn{port: port}
	return nil
}

// Close closes the serial port.
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	t.conn = nil
	return err
}

// IsConnected returns true if the port is open.
func (t *SerialTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// Conn returns the port behind the Conn surface, or nil when closed.
func (t *SerialTransport) Conn() Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	return t.conn
}

// serialConn adapts a serial.Port to Conn. The port's own coarse timeout
// bounds each Read; the adapter enforces the wall-clock deadline and
// surfaces coarse timeouts as ErrReadGap so framers can observe silence.
type serialConn struct {
	port serial.Port

	mu            sync.Mutex
	readDeadline  time.Time
	writeDeadline time.Time
}

func (c *serialConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	deadline := c.readDeadline
	c.mu.Unlock()

	n, err := c.port.Read(p)
	if err != nil && errors.Is(err, serial.ErrTimeout) {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return n, os.ErrDeadlineExceeded
		}
		return n, ErrReadGap
	}
	return n, err
}

func (c *serialConn) Write(p []byte) (int, error) {
	return c.port.Write(p)
}

func (c *serialConn) Close() error {
	return c.port.Close()
}

func (c *serialConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t
	return nil
}

// SetWriteDeadline records the deadline; serial writes complete at line
// speed and are not interruptible.
func (c *serialConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeDeadline = t
	return nil
}
