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
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"
)

// Datagram size limits. A master can receive up to a full MBAP ADU; slave
// requests fit in 256 bytes.
const (
	MaxMasterDatagram = 262
	MaxSlaveDatagram  = 256
)

// UDPTransport is the master-side datagram terminal: a socket pinned
// (connected) to one peer address. One datagram carries one ADU.
type UDPTransport struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewUDPTransport creates a UDP transport for the given address.
func NewUDPTransport(addr string, timeout time.Duration) *UDPTransport {
	return &UDPTransport{
		addr:    addr,
		timeout: timeout,
	}
}

// Connect pins the datagram socket to the peer. Connecting while connected
// is a no-op.
func (t *UDPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	dialer := &net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "udp", t.addr)
	if err != nil {
		return fmt.Errorf("udp connect: %w", err)
	}
	t.conn = conn
	return nil
}

// Close closes the socket.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}

	err := t.conn.Close()
	t.conn = nil
	return err
}

// IsConnected returns true if the socket is open.
func (t *UDPTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Conn returns the underlying connection, or nil when disconnected.
func (t *UDPTransport) Conn() Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	return t.conn
}

// senderRecord remembers who sent a transaction, so the response can be
// routed back.
type senderRecord struct {
	addr net.Addr
	at   time.Time
}

// UDPSlaveTerminal is the slave-side datagram pump: a receiver goroutine
// pushing inbound ADUs onto a channel and a sender goroutine draining
// prepared responses, each dispatched to the address recorded for its
// transaction ID. Responses whose transaction has no recorded sender are
// dropped. A sweeper evicts stale records so dropped responses cannot leak
// entries.
type UDPSlaveTerminal struct {
	pc net.PacketConn

	inbound  chan []byte
	outbound chan []byte

	mu      sync.Mutex
	senders map[uint16]senderRecord

	ttl       time.Duration
	sweep     time.Duration
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Queue depth for the terminal's channels.
const terminalQueueDepth = 32

// Sender-record eviction defaults.
const (
	defaultSenderTTL   = 60 * time.Second
	defaultSenderSweep = 15 * time.Second
)

// NewUDPSlaveTerminal binds a packet socket on addr and starts the pump.
func NewUDPSlaveTerminal(addr string) (*UDPSlaveTerminal, error) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udp listen: %w", err)
	}

	t := &UDPSlaveTerminal{
		pc:       pc,
		inbound:  make(chan []byte, terminalQueueDepth),
		outbound: make(chan []byte, terminalQueueDepth),
		senders:  make(map[uint16]senderRecord),
		ttl:      defaultSenderTTL,
		sweep:    defaultSenderSweep,
		done:     make(chan struct{}),
	}

	t.wg.Add(3)
	go t.receiveLoop()
	go t.sendLoop()
	go t.sweepLoop()
	return t, nil
}

// LocalAddr returns the bound address.
func (t *UDPSlaveTerminal) LocalAddr() net.Addr {
	return t.pc.LocalAddr()
}

// Inbound returns the channel of received ADUs. It is closed when the
// terminal shuts down.
func (t *UDPSlaveTerminal) Inbound() <-chan []byte {
	return t.inbound
}

// Send queues a response ADU for dispatch. Sending on a closed terminal
// returns an error.
func (t *UDPSlaveTerminal) Send(adu []byte) error {
	select {
	case <-t.done:
		return net.ErrClosed
	case t.outbound <- adu:
		return nil
	}
}

// Close shuts the socket and joins the pump goroutines. The receive loop
// is untimed; closing the socket is what wakes it.
func (t *UDPSlaveTerminal) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.pc.Close()
	})
	t.wg.Wait()
	return err
}

func (t *UDPSlaveTerminal) receiveLoop() {
	defer t.wg.Done()
	defer close(t.inbound)

	buf := make([]byte, MaxSlaveDatagram)
	for {
		n, addr, err := t.pc.ReadFrom(buf)
		if err != nil {
			return
		}
		if n < 2 {
			continue
		}
		tid := binary.BigEndian.Uint16(buf[:2])

		t.mu.Lock()
		t.senders[tid] = senderRecord{addr: addr, at: time.Now()}
		t.mu.Unlock()

		adu := make([]byte, n)
		copy(adu, buf[:n])
		select {
		case t.inbound <- adu:
		case <-t.done:
			return
		}
	}
}

func (t *UDPSlaveTerminal) sendLoop() {
	defer t.wg.Done()

	for {
		select {
		case <-t.done:
			return
		case adu := <-t.outbound:
			if len(adu) < 2 {
				continue
			}
			tid := binary.BigEndian.Uint16(adu[:2])

			t.mu.Lock()
			rec, ok := t.senders[tid]
			delete(t.senders, tid)
			t.mu.Unlock()

			if !ok {
				continue
			}
			t.pc.WriteTo(adu, rec.addr)
		}
	}
}

func (t *UDPSlaveTerminal) sweepLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-t.ttl)
			t.mu.Lock()
			for tid, rec := range t.senders {
				if rec.at.Before(cutoff) {
					delete(t.senders, tid)
				}
			}
			t.mu.Unlock()
		}
	}
}
