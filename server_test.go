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
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"
)

func testImage(t *testing.T) *ProcessImage {
	t.Helper()
	image := NewProcessImage()
	image.AddUnit(1)
	if err := image.WriteMultipleRegisters(1, 0, []uint16{10, 11, 12}); err != nil {
		t.Fatalf("seed registers: %v", err)
	}
	if err := image.WriteMultipleCoils(1, 0, []bool{true, false, true}); err != nil {
		t.Fatalf("seed coils: %v", err)
	}
	return image
}

// startServer runs a TCP server on a random port and tears it down with
// the test.
func startServer(t *testing.T, handler Handler, opts ...ServerOption) *Server {
	t.Helper()
	server := NewServer(handler, opts...)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Serve(listener)
	}()

	// Wait for the accept loop to come up.
	deadline := time.Now().Add(time.Second)
	for server.State() != ServerListening {
		if time.Now().After(deadline) {
			t.Fatal("server did not reach listening state")
		}
		time.Sleep(time.Millisecond)
	}

	t.Cleanup(func() {
		server.Stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return server
}

func dialServer(t *testing.T, server *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func exchange(t *testing.T, conn net.Conn, request []byte) []byte {
	t.Helper()
	if _, err := conn.Write(request); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	header := make([]byte, MBAPHeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		t.Fatalf("read header: %v", err)
	}
	length := int(header[4])<<8 | int(header[5])
	body := make([]byte, length-1)
	if _, err := io.ReadFull(conn, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return append(header, body...)
}

func TestServerReadHoldingRegisters(t *testing.T) {
	server := startServer(t, NewImageHandler(testImage(t)))
	conn := dialServer(t, server)

	request := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x03}
	want := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x09, 0x01, 0x03, 0x06, 0x00, 0x0A, 0x00, 0x0B, 0x00, 0x0C}

	got := exchange(t, conn, request)
	if !bytes.Equal(got, want) {
		t.Errorf("response:\n got  % X\n want % X", got, want)
	}
}

func TestServerWriteThenRead(t *testing.T) {
	image := testImage(t)
	server := startServer(t, NewImageHandler(image))
	conn := dialServer(t, server)

	// FC06 write register 5 = 0xABCD, echo expected
	write := []byte{0x00, 0x02, 0x00, 0x00, 0x00, 0x06, 0x01, 0x06, 0x00, 0x05, 0xAB, 0xCD}
	got := exchange(t, conn, write)
	if !bytes.Equal(got, write) {
		t.Errorf("write echo:\n got  % X\n want % X", got, write)
	}

	values, err := image.ReadHoldingRegisters(1, 5, 1)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	if values[0] != 0xABCD {
		t.Errorf("register 5 = %04X, want ABCD", values[0])
	}
}

func TestServerExceptionResponses(t *testing.T) {
	server := startServer(t, NewImageHandler(testImage(t)))
	conn := dialServer(t, server)

	tests := []struct {
		name    string
		request []byte
		want    []byte
	}{
		{
			// function 0x63 does not exist
			name:    "unknown function",
			request: []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x02, 0x01, 0x63},
			want:    []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x03, 0x01, 0xE3, 0x01},
		},
		{
			// quantity 0 violates FC03 limits
			name:    "bad quantity",
			request: []byte{0x00, 0x02, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x00},
			want:    []byte{0x00, 0x02, 0x00, 0x00, 0x00, 0x03, 0x01, 0x83, 0x03},
		},
		{
			// read past the register space
			name:    "bad address",
			request: []byte{0x00, 0x03, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0xFF, 0xFF, 0x00, 0x02},
			want:    []byte{0x00, 0x03, 0x00, 0x00, 0x00, 0x03, 0x01, 0x83, 0x02},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := exchange(t, conn, tt.request)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("response:\n got  % X\n want % X", got, tt.want)
			}
		})
	}

	if server.Metrics().ExceptionsSent.Value() != 3 {
		t.Errorf("ExceptionsSent = %d, want 3", server.Metrics().ExceptionsSent.Value())
	}
}

func TestServerMissingUnitException(t *testing.T) {
	server := startServer(t, NewImageHandler(testImage(t)))
	conn := dialServer(t, server)

	// Unit 9 is not in the image; handler answers 0x0B.
	request := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x09, 0x03, 0x00, 0x00, 0x00, 0x01}
	want := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x03, 0x09, 0x83, 0x0B}

	got := exchange(t, conn, request)
	if !bytes.Equal(got, want) {
		t.Errorf("response:\n got  % X\n want % X", got, want)
	}
}

func TestServerUnitFilterDropsSilently(t *testing.T) {
	server := startServer(t, NewImageHandler(testImage(t)), WithUnits(1))
	conn := dialServer(t, server)

	// Unit 7 is filtered; no response at all.
	request := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x07, 0x03, 0x00, 0x00, 0x00, 0x01}
	if _, err := conn.Write(request); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 16)
	if n, err := conn.Read(buf); err == nil {
		t.Fatalf("expected no response, got % X", buf[:n])
	}

	if server.Metrics().FramesDropped.Value() != 1 {
		t.Errorf("FramesDropped = %d, want 1", server.Metrics().FramesDropped.Value())
	}

	// The filter must not affect accepted units on the same connection.
	request[6] = 0x01
	resp := exchange(t, conn, request)
	if resp[7] != 0x03 {
		t.Errorf("accepted unit got function %02X, want 03", resp[7])
	}
}

func TestServerListenOnlyMode(t *testing.T) {
	image := testImage(t)
	server := startServer(t, NewImageHandler(image))
	conn := dialServer(t, server)

	silent := func(frame []byte) {
		t.Helper()
		if _, err := conn.Write(frame); err != nil {
			t.Fatalf("write: %v", err)
		}
		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		buf := make([]byte, 16)
		if n, err := conn.Read(buf); err == nil {
			t.Fatalf("expected no response, got % X", buf[:n])
		}
	}

	read := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x01}
	if resp := exchange(t, conn, read); resp[7] != 0x03 {
		t.Fatalf("priming read failed: % X", resp)
	}

	// Forcing listen-only mode is itself unanswered.
	silent([]byte{0x00, 0x02, 0x00, 0x00, 0x00, 0x06, 0x01, 0x08, 0x00, 0x04, 0x00, 0x00})

	// Writes are still applied, just silently.
	silent([]byte{0x00, 0x03, 0x00, 0x00, 0x00, 0x06, 0x01, 0x06, 0x00, 0x50, 0x12, 0x34})

	// Restart communications clears the mode without answering.
	silent([]byte{0x00, 0x04, 0x00, 0x00, 0x00, 0x06, 0x01, 0x08, 0x00, 0x01, 0xFF, 0x00})

	resp := exchange(t, conn, []byte{0x00, 0x05, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x01})
	if resp[7] != 0x03 {
		t.Errorf("read after restart = % X", resp)
	}

	regs, err := image.ReadHoldingRegisters(1, 0x50, 1)
	if err != nil || regs[0] != 0x1234 {
		t.Errorf("register written in listen-only mode = %04X %v", regs, err)
	}
}

func TestServerMalformedFrameClosesConn(t *testing.T) {
	server := startServer(t, NewImageHandler(testImage(t)))
	conn := dialServer(t, server)

	// MBAP length zero is invalid; the server drops the connection.
	bad := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x01}
	if _, err := conn.Write(bad); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	if _, err := conn.Read(buf); err != io.EOF {
		t.Fatalf("expected EOF after malformed frame, got %v", err)
	}
}

func TestServerIdleWatchdog(t *testing.T) {
	server := startServer(t, NewImageHandler(testImage(t)), WithMaxIdle(100*time.Millisecond))
	conn := dialServer(t, server)

	// Stay silent; the watchdog closes the connection.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	if _, err := conn.Read(buf); err != io.EOF {
		t.Fatalf("expected EOF from watchdog, got %v", err)
	}
}

func TestServerWorkerPoolBackpressure(t *testing.T) {
	server := startServer(t, NewImageHandler(testImage(t)), WithWorkers(1))

	connA := dialServer(t, server)
	request := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x01}
	exchange(t, connA, request)

	// The single worker is parked on connA's read loop, so connB is
	// accepted but queued.
	connB := dialServer(t, server)
	if _, err := connB.Write(request); err != nil {
		t.Fatalf("write: %v", err)
	}
	connB.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	buf := make([]byte, 16)
	if n, err := connB.Read(buf); err == nil {
		t.Fatalf("queued connection was served early: % X", buf[:n])
	}

	connA.Close()

	connB.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp := make([]byte, MaxTCPADUSize)
	n, err := connB.Read(resp)
	if err != nil {
		t.Fatalf("read after worker freed: %v", err)
	}
	if n < 8 || resp[7] != 0x03 {
		t.Errorf("response = % X", resp[:n])
	}
}

func TestServerPanicRecovery(t *testing.T) {
	panicky := HandlerFunc(func(unit UnitID, req Request) (Response, error) {
		panic("handler bug")
	})
	server := startServer(t, panicky)
	conn := dialServer(t, server)

	request := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x01}
	if _, err := conn.Write(request); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The panicking connection is dropped, but the server keeps serving.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	if _, err := conn.Read(buf); err != io.EOF {
		t.Fatalf("expected EOF after panic, got %v", err)
	}

	conn2 := dialServer(t, server)
	if _, err := conn2.Write(request); err != nil {
		t.Fatalf("second write: %v", err)
	}
	conn2.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn2.Read(buf); err != io.EOF {
		t.Fatalf("server stopped accepting after panic: %v", err)
	}
}

func TestServerLifecycle(t *testing.T) {
	server := NewServer(NewImageHandler(testImage(t)))
	if server.State() != ServerNew {
		t.Errorf("initial state = %v, want %v", server.State(), ServerNew)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- server.Serve(listener) }()

	deadline := time.Now().Add(time.Second)
	for server.State() != ServerListening {
		if time.Now().After(deadline) {
			t.Fatal("server did not reach listening state")
		}
		time.Sleep(time.Millisecond)
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}

	if server.State() != ServerStopped {
		t.Errorf("state after stop = %v, want %v", server.State(), ServerStopped)
	}
	if err := server.Stop(); err != ErrServerClosed {
		t.Errorf("second Stop = %v, want ErrServerClosed", err)
	}
}

func TestServerFailedBind(t *testing.T) {
	first := NewServer(NewImageHandler(testImage(t)))
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go first.Serve(listener)
	t.Cleanup(func() { first.Stop() })

	deadline := time.Now().Add(time.Second)
	for first.State() != ServerListening {
		if time.Now().After(deadline) {
			t.Fatal("first server did not start")
		}
		time.Sleep(time.Millisecond)
	}

	second := NewServer(NewImageHandler(testImage(t)))
	if err := second.ListenAndServe(listener.Addr().String()); err == nil {
		t.Fatal("expected bind error")
	}
	if second.State() != ServerFailed {
		t.Errorf("state = %v, want %v", second.State(), ServerFailed)
	}
	if second.Err() == nil {
		t.Error("Err() should report the bind failure")
	}
}

func TestServerContextCancel(t *testing.T) {
	server := NewServer(NewImageHandler(testImage(t)))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- server.ListenAndServeContext(ctx, "127.0.0.1:0") }()

	deadline := time.Now().Add(time.Second)
	for server.State() != ServerListening {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop on context cancel")
	}
}
