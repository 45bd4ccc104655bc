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
	"testing"
)

func TestReadCursor(t *testing.T) {
	c := newReadCursor([]byte{0x01, 0x12, 0x34, 0xAA, 0xBB, 0xCC})

	b, err := c.U8()
	if err != nil || b != 0x01 {
		t.Fatalf("U8 = %02X %v, want 01", b, err)
	}
	w, err := c.U16()
	if err != nil || w != 0x1234 {
		t.Fatalf("U16 = %04X %v, want 1234", w, err)
	}
	rest, err := c.Bytes(3)
	if err != nil || !bytes.Equal(rest, []byte{0xAA, 0xBB, 0xCC}) {
		t.Fatalf("Bytes(3) = % X %v", rest, err)
	}
	if c.Remaining() != 0 {
		t.Errorf("Remaining = %d, want 0", c.Remaining())
	}
	if _, err := c.U8(); !errors.Is(err, ErrTruncated) {
		t.Errorf("U8 past end = %v, want ErrTruncated", err)
	}
}

func TestReadCursorMarkReset(t *testing.T) {
	c := newReadCursor([]byte{0x01, 0x02, 0x03})
	c.U8()
	c.Mark()
	c.U8()
	c.U8()
	c.Reset()
	b, err := c.U8()
	if err != nil || b != 0x02 {
		t.Errorf("U8 after Reset = %02X %v, want 02", b, err)
	}
}

func TestReadCursorSkip(t *testing.T) {
	c := newReadCursor([]byte{0x01, 0x02, 0x03})
	if err := c.Skip(2); err != nil {
		t.Fatalf("Skip(2): %v", err)
	}
	if err := c.Skip(2); !errors.Is(err, ErrTruncated) {
		t.Errorf("Skip past end = %v, want ErrTruncated", err)
	}
}

func TestWriteCursor(t *testing.T) {
	c := newWriteCursor(8)
	c.U8(0x03)
	c.U16(0x1234)
	c.Write([]byte{0xAA, 0xBB})

	want := []byte{0x03, 0x12, 0x34, 0xAA, 0xBB}
	if !bytes.Equal(c.Bytes(), want) {
		t.Errorf("Bytes = % X, want % X", c.Bytes(), want)
	}
	if c.Len() != 5 {
		t.Errorf("Len = %d, want 5", c.Len())
	}
}
