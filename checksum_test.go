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

import "testing"

func TestCRC16(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		// Standard check value for CRC-16/MODBUS.
		{"check value", []byte("123456789"), 0x4B37},
		// The reference request from the protocol documentation: the CRC
		// bytes on the wire are 76 87, low byte first.
		{"reference request", []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03}, 0x8776},
		{"empty", nil, 0xFFFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CRC16(tt.data); got != tt.want {
				t.Errorf("CRC16(% X) = %04X, want %04X", tt.data, got, tt.want)
			}
		})
	}
}

func TestLRC(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint8
	}{
		{"reference request", []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03}, 0x7E},
		{"write request", []byte{0x11, 0x06, 0x00, 0x01, 0x00, 0x03}, 0xE5},
		{"empty", nil, 0x00},
		{"wraps", []byte{0xFF, 0xFF}, 0x02},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LRC(tt.data); got != tt.want {
				t.Errorf("LRC(% X) = %02X, want %02X", tt.data, got, tt.want)
			}
		})
	}
}

func TestHexHelpers(t *testing.T) {
	buf := appendHex(nil, 0xA5)
	if string(buf) != "A5" {
		t.Errorf("appendHex(0xA5) = %q, want A5", buf)
	}

	for _, pair := range []struct {
		hi, lo byte
		want   byte
	}{
		{'A', '5', 0xA5},
		{'a', '5', 0xA5}, // lowercase accepted on receive
		{'0', 'F', 0x0F},
	} {
		got, ok := fromHexPair(pair.hi, pair.lo)
		if !ok || got != pair.want {
			t.Errorf("fromHexPair(%c%c) = %02X %v, want %02X", pair.hi, pair.lo, got, ok, pair.want)
		}
	}

	if _, ok := fromHexPair('G', '0'); ok {
		t.Error("fromHexPair accepted a non-hex digit")
	}
}
