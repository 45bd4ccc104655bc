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

func TestRTUFramerEncode(t *testing.T) {
	f := NewRTUFramer()
	adu, err := f.Encode(Envelope{UnitID: 0x11, PDU: []byte{0x03, 0x00, 0x6B, 0x00, 0x03}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// CRC 0x8776 goes on the wire low byte first.
	want := []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x76, 0x87}
	if !bytes.Equal(adu, want) {
		t.Errorf("Encode:\n got  % X\n want % X", adu, want)
	}
}

func TestRTUFramerDecode(t *testing.T) {
	f := NewRTUFramer()
	env, err := f.Decode([]byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x76, 0x87})
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

func TestRTUFramerDecodeBadCRC(t *testing.T) {
	f := NewRTUFramer()
	_, err := f.Decode([]byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x76, 0x88})
	if !errors.Is(err, ErrInvalidCRC) {
		t.Errorf("err = %v, want ErrInvalidCRC", err)
	}
}

func TestRTUFramerDecodeTooShort(t *testing.T) {
	f := NewRTUFramer()
	if _, err := f.Decode([]byte{0x11, 0x03, 0x76}); !errors.Is(err, ErrTruncated) {
		t.Errorf("err = %v, want ErrTruncated", err)
	}
}

func TestRTUOverTCPReadFrameResponse(t *testing.T) {
	f := NewRTUOverTCPFramer()
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	resp, err := f.Encode(Envelope{UnitID: 0x11, PDU: []byte{0x03, 0x06, 0x02, 0x2B, 0x00, 0x00, 0x00, 0x64}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	go client.Write(resp)

	env, err := f.ReadFrame(server, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if env.UnitID != 0x11 {
		t.Errorf("UnitID = %02X, want 11", env.UnitID)
	}
	if !bytes.Equal(env.PDU, []byte{0x03, 0x06, 0x02, 0x2B, 0x00, 0x00, 0x00, 0x64}) {
		t.Errorf("PDU = % X", env.PDU)
	}
}

func TestRTUOverTCPReadFrameRequest(t *testing.T) {
	// The server side must frame by the request column of the length table:
	// an FC03 request is six bytes plus CRC, not byte-count delimited.
	f := NewRTUOverTCPFramer().Serverside()
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go client.Write([]byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x76, 0x87})

	env, err := f.ReadFrame(server, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(env.PDU, []byte{0x03, 0x00, 0x6B, 0x00, 0x03}) {
		t.Errorf("PDU = % X", env.PDU)
	}
}

func TestRTUOverTCPReadFrameExceptionResponse(t *testing.T) {
	f := NewRTUOverTCPFramer()
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	adu, err := f.Encode(Envelope{UnitID: 0x11, PDU: []byte{0x83, 0x02}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	go client.Write(adu)

	env, err := f.ReadFrame(server, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(env.PDU, []byte{0x83, 0x02}) {
		t.Errorf("PDU = % X", env.PDU)
	}
}

func TestRTUOverTCPReadFrameUnknownFunction(t *testing.T) {
	f := NewRTUOverTCPFramer()
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// With no length rule the stream cannot be re-synchronized.
	go client.Write([]byte{0x11, 0x63, 0x00, 0x00})

	if _, err := f.ReadFrame(server, time.Now().Add(time.Second)); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("err = %v, want ErrInvalidFrame", err)
	}
}
