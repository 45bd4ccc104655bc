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
	"testing"
	"time"

	goburrow "github.com/goburrow/modbus"
)

// The interop tests drive the server with an independent client
// implementation to catch framing bugs a same-codebase master would
// mirror.

func goburrowClient(t *testing.T, server *Server) goburrow.Client {
	t.Helper()
	handler := goburrow.NewTCPClientHandler(server.Addr().String())
	handler.Timeout = 2 * time.Second
	handler.SlaveId = 1
	if err := handler.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { handler.Close() })
	return goburrow.NewClient(handler)
}

func TestInteropReadHoldingRegisters(t *testing.T) {
	server := startServer(t, NewImageHandler(testImage(t)))
	client := goburrowClient(t, server)

	results, err := client.ReadHoldingRegisters(0, 3)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	want := []byte{0x00, 0x0A, 0x00, 0x0B, 0x00, 0x0C}
	if !bytes.Equal(results, want) {
		t.Errorf("results = % X, want % X", results, want)
	}
}

func TestInteropReadCoils(t *testing.T) {
	server := startServer(t, NewImageHandler(testImage(t)))
	client := goburrowClient(t, server)

	results, err := client.ReadCoils(0, 3)
	if err != nil {
		t.Fatalf("ReadCoils: %v", err)
	}
	// true, false, true packs to 0x05.
	if len(results) != 1 || results[0] != 0x05 {
		t.Errorf("results = % X, want 05", results)
	}
}

func TestInteropWrites(t *testing.T) {
	image := testImage(t)
	server := startServer(t, NewImageHandler(image))
	client := goburrowClient(t, server)

	if _, err := client.WriteSingleRegister(50, 0x1234); err != nil {
		t.Fatalf("WriteSingleRegister: %v", err)
	}
	if _, err := client.WriteSingleCoil(50, 0xFF00); err != nil {
		t.Fatalf("WriteSingleCoil: %v", err)
	}
	if _, err := client.WriteMultipleRegisters(60, 2, []byte{0x00, 0x01, 0x00, 0x02}); err != nil {
		t.Fatalf("WriteMultipleRegisters: %v", err)
	}

	regs, err := image.ReadHoldingRegisters(1, 50, 1)
	if err != nil || regs[0] != 0x1234 {
		t.Errorf("register 50 = %04X %v", regs, err)
	}
	coils, err := image.ReadCoils(1, 50, 1)
	if err != nil || !coils[0] {
		t.Errorf("coil 50 = %v %v", coils, err)
	}
	regs, err = image.ReadHoldingRegisters(1, 60, 2)
	if err != nil || regs[0] != 1 || regs[1] != 2 {
		t.Errorf("registers 60-61 = %v %v", regs, err)
	}
}

func TestInteropException(t *testing.T) {
	server := startServer(t, NewImageHandler(testImage(t)))
	client := goburrowClient(t, server)

	// Quantity 0 is an illegal data value.
	_, err := client.ReadHoldingRegisters(0, 0)
	if err == nil {
		t.Fatal("expected an exception")
	}
	merr, ok := err.(*goburrow.ModbusError)
	if !ok {
		t.Fatalf("err = %T %v, want *goburrow.ModbusError", err, err)
	}
	if merr.ExceptionCode != byte(ExceptionIllegalDataValue) {
		t.Errorf("exception = %02X, want 03", merr.ExceptionCode)
	}
}

func TestInteropMaskWrite(t *testing.T) {
	image := testImage(t)
	if err := image.WriteSingleRegister(1, 4, 0x0012); err != nil {
		t.Fatalf("seed: %v", err)
	}
	server := startServer(t, NewImageHandler(image))
	client := goburrowClient(t, server)

	if _, err := client.MaskWriteRegister(4, 0x00F2, 0x0025); err != nil {
		t.Fatalf("MaskWriteRegister: %v", err)
	}
	regs, err := image.ReadHoldingRegisters(1, 4, 1)
	if err != nil || regs[0] != 0x0017 {
		t.Errorf("register = %04X %v, want 0017", regs, err)
	}
}

func TestInteropReadWriteMultipleRegisters(t *testing.T) {
	server := startServer(t, NewImageHandler(testImage(t)))
	client := goburrowClient(t, server)

	results, err := client.ReadWriteMultipleRegisters(0, 3, 1, 2, []byte{0x00, 0x55, 0x00, 0x66})
	if err != nil {
		t.Fatalf("ReadWriteMultipleRegisters: %v", err)
	}
	// The write lands before the read.
	want := []byte{0x00, 0x0A, 0x00, 0x55, 0x00, 0x66}
	if !bytes.Equal(results, want) {
		t.Errorf("results = % X, want % X", results, want)
	}
}
