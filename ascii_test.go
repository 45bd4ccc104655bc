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
	"errors"
	"net"
	"testing"
	"time"
)

func TestASCIIFramerEncode(t *testing.T) {
	f := NewASCIIFramer()
	adu, err := f.Encode(Envelope{UnitID: 0x11, PDU: []byte{0x06, 0x00, 0x01, 0x00, 0x03}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte(":110600010003E5\r\n")
	if !bytes.Equal(adu, want) {
		t.Errorf("Encode = %q, want %q", adu, want)
	}
}

func TestASCIIFramerDecode(t *testing.T) {
	f := NewASCIIFramer()
	env, err := f.Decode([]byte(":1103006B00037E\r\n"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.UnitID != 0x11 {
		t.Errorf("UnitID = %02X, want 11", env.UnitID)
	}
	if !bytes.Equal(env.PDU, []byte{0x03, 0x00, 0x6B, 0x00, 0x03}) {
		t.Errorf("PDU = % X", env.PDU)
	}
}

func TestASCIIFramerDecodeLowercase(t *testing.T) {
	f := NewASCIIFramer()
	env, err := f.Decode([]byte(":1103006b00037e\r\n"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.UnitID != 0x11 {
		t.Errorf("UnitID = %02X, want 11", env.UnitID)
	}
}

func TestASCIIFramerDecodeBadLRC(t *testing.T) {
	f := NewASCIIFramer()
	if _, err := f.Decode([]byte(":1103006B00037F\r\n")); !errors.Is(err, ErrInvalidLRC) {
		t.Errorf("err = %v, want ErrInvalidLRC", err)
	}
}

func TestASCIIFramerDecodeMalformed(t *testing.T) {
	f := NewASCIIFramer()

	if _, err := f.Decode([]byte("1103006B00037E\r\n")); err == nil {
		t.Error("Decode accepted a frame without the start delimiter")
	}
	if _, err := f.Decode([]byte(":1103006B00037E\r")); err == nil {
		t.Error("Decode accepted a frame without the CRLF trailer")
	}
	if _, err := f.Decode([]byte(":1103006B0003E\r\n")); !errors.Is(err, ErrInvalidLRC) {
		t.Error("Decode accepted an odd hex digit count")
	}
	if _, err := f.Decode([]byte(":11GG006B00037E\r\n")); !errors.Is(err, ErrInvalidLRC) {
		t.Error("Decode accepted non-hex digits")
	}
}

func TestASCIIFramerReadFrameSyncsToStart(t *testing.T) {
	f := NewASCIIFramer()
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// Line noise before the start delimiter must be discarded.
	go client.Write([]byte("garbage:1103006B00037E\r\n"))

	env, err := f.ReadFrame(server, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if env.UnitID != 0x11 {
		t.Errorf("UnitID = %02X, want 11", env.UnitID)
	}
	if !bytes.Equal(env.PDU, []byte{0x03, 0x00, 0x6B, 0x00, 0x03}) {
		t.Errorf("PDU = % X", env.PDU)
	}
}

func TestASCIIFramerReadFrameSplitWrites(t *testing.T) {
	f := NewASCIIFramer()
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	frame := []byte(":110600010003E5\r\n")
	go func() {
		client.Write(frame[:4])
		client.Write(frame[4:])
	}()

	env, err := f.ReadFrame(server, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(env.PDU, []byte{0x06, 0x00, 0x01, 0x00, 0x03}) {
		t.Errorf("PDU = % X", env.PDU)
	}
}
