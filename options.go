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
	"log/slog"
	"time"
)

// Option is a functional option for configuring a master.
type Option func(*masterOptions)

type masterOptions struct {
	// Connection settings
	unitID  UnitID
	timeout time.Duration

	// Framing override
	rtuFraming   bool
	asciiFraming bool

	// Reconnection settings
	autoReconnect    bool
	reconnectBackoff time.Duration
	maxReconnectTime time.Duration
	maxRetries       int

	// Callbacks
	onConnect    func()
	onDisconnect func(error)

	// Logging
	logger *slog.Logger
}

func defaultMasterOptions() *masterOptions {
	return &masterOptions{
		unitID:           1,
		timeout:          DefaultTimeout,
		autoReconnect:    false,
		reconnectBackoff: 1 * time.Second,
		maxReconnectTime: 30 * time.Second,
		maxRetries:       DefaultRetries,
		logger:           slog.Default(),
	}
}

// WithUnitID sets the default unit ID for requests.
func WithUnitID(id UnitID) Option {
	return func(o *masterOptions) {
		o.unitID = id
	}
}

// WithTimeout sets the per-attempt timeout for operations.
func WithTimeout(d time.Duration) Option {
	return func(o *masterOptions) {
		o.timeout = d
	}
}

// WithRTUFraming makes a TCP master speak RTU bytes over the stream
// socket (RTU-over-TCP) instead of MBAP.
func WithRTUFraming() Option {
	return func(o *masterOptions) {
		o.rtuFraming = true
	}
}

// WithASCIIFraming makes a serial master use ASCII framing instead of RTU.
func WithASCIIFraming() Option {
	return func(o *masterOptions) {
		o.asciiFraming = true
	}
}

// WithAutoReconnect enables automatic reconnection on connection loss.
func WithAutoReconnect(enable bool) Option {
	return func(o *masterOptions) {
		o.autoReconnect = enable
	}
}

// WithReconnectBackoff sets the initial backoff duration for reconnection attempts.
func WithReconnectBackoff(d time.Duration) Option {
	return func(o *masterOptions) {
		o.reconnectBackoff = d
	}
}

// WithMaxReconnectTime sets the maximum time between reconnection attempts.
func WithMaxReconnectTime(d time.Duration) Option {
	return func(o *masterOptions) {
		o.maxReconnectTime = d
	}
}

// WithMaxRetries sets the maximum number of retries for operations.
func WithMaxRetries(n int) Option {
	return func(o *masterOptions) {
		o.maxRetries = n
	}
}

// WithOnConnect sets a callback to be called when the connection is established.
func WithOnConnect(fn func()) Option {
	return func(o *masterOptions) {
		o.onConnect = fn
	}
}

// WithOnDisconnect sets a callback to be called when the connection is lost.
func WithOnDisconnect(fn func(error)) Option {
	return func(o *masterOptions) {
		o.onDisconnect = fn
	}
}

// WithLogger sets the logger for the master.
func WithLogger(logger *slog.Logger) Option {
	return func(o *masterOptions) {
		o.logger = logger
	}
}

// ServerOption is a functional option for configuring a server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	logger   *slog.Logger
	maxConns int
	workers  int
	maxIdle  time.Duration

	// Unit filter; empty means all units are accepted.
	units map[UnitID]bool

	serverRTUFraming   bool
	serverASCIIFraming bool
}

func defaultServerOptions() *serverOptions {
	return &serverOptions{
		logger:   slog.Default(),
		maxConns: 100,
		workers:  5,
		maxIdle:  30 * time.Second,
	}
}

func (o *serverOptions) acceptsUnit(unit UnitID) bool {
	if len(o.units) == 0 {
		return true
	}
	return o.units[unit]
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// WithMaxConnections sets the maximum number of concurrent connections.
func WithMaxConnections(n int) ServerOption {
	return func(o *serverOptions) {
		o.maxConns = n
	}
}

// WithWorkers sets the worker pool size. Saturation blocks the accept
// loop, which is the intended back-pressure against connection floods.
func WithWorkers(n int) ServerOption {
	return func(o *serverOptions) {
		o.workers = n
	}
}

// WithMaxIdle sets how long a connection may stay silent before the
// watchdog closes it. Zero disables the watchdog.
func WithMaxIdle(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.maxIdle = d
	}
}

// WithUnits restricts the server to the given unit IDs. Requests for
// other units are silently dropped.
func WithUnits(units ...UnitID) ServerOption {
	return func(o *serverOptions) {
		o.units = make(map[UnitID]bool, len(units))
		for _, u := range units {
			o.units[u] = true
		}
	}
}

// WithServerRTUFraming makes a TCP server speak RTU bytes over the
// stream socket (RTU-over-TCP) instead of MBAP.
func WithServerRTUFraming() ServerOption {
	return func(o *serverOptions) {
		o.serverRTUFraming = true
	}
}

// WithServerASCIIFraming makes a serial server use ASCII framing instead
// of RTU.
func WithServerASCIIFraming() ServerOption {
	return func(o *serverOptions) {
		o.serverASCIIFraming = true
	}
}
