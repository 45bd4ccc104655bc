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
	"encoding/binary"
	"fmt"
)

// readCursor walks a byte slice with big-endian reads. Reads past the end
// fail with ErrTruncated so callers can tell a short frame from bad content.
type readCursor struct {
	buf  []byte
	pos  int
	mark int
}

func newReadCursor(buf []byte) *readCursor {
	return &readCursor{buf: buf}
}

// Remaining returns the number of unread bytes.
func (c *readCursor) Remaining() int {
	return len(c.buf) - c.pos
}

// Mark remembers the current position for a later Reset.
func (c *readCursor) Mark() {
	c.mark = c.pos
}

// Reset rewinds to the last marked position.
func (c *readCursor) Reset() {
	c.pos = c.mark
}

// Skip advances past n bytes.
func (c *readCursor) Skip(n int) error {
	if c.Remaining() < n {
		return fmt.Errorf("%w: skip %d with %d remaining", ErrTruncated, n, c.Remaining())
	}
	c.pos += n
	return nil
}

// U8 reads one unsigned byte.
func (c *readCursor) U8() (uint8, error) {
	if c.Remaining() < 1 {
		return 0, fmt.Errorf("%w: need 1 byte", ErrTruncated)
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

// I8 reads one signed byte.
func (c *readCursor) I8() (int8, error) {
	b, err := c.U8()
	return int8(b), err
}

// U16 reads a big-endian 16-bit word.
func (c *readCursor) U16() (uint16, error) {
	if c.Remaining() < 2 {
		return 0, fmt.Errorf("%w: need 2 bytes, have %d", ErrTruncated, c.Remaining())
	}
	v := binary.BigEndian.Uint16(c.buf[c.pos:])
	c.pos += 2
	return v, nil
}

// Bytes reads n bytes, returning a view into the underlying slice.
func (c *readCursor) Bytes(n int) ([]byte, error) {
	if n < 0 || c.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, n, c.Remaining())
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// writeCursor builds a byte slice with big-endian appends.
type writeCursor struct {
	buf []byte
}

func newWriteCursor(capacity int) *writeCursor {
	return &writeCursor{buf: make([]byte, 0, capacity)}
}

func (c *writeCursor) U8(v uint8) {
	c.buf = append(c.buf, v)
}

func (c *writeCursor) U16(v uint16) {
	c.buf = binary.BigEndian.AppendUint16(c.buf, v)
}

func (c *writeCursor) Write(b []byte) {
	c.buf = append(c.buf, b...)
}

// Bytes returns the accumulated bytes.
func (c *writeCursor) Bytes() []byte {
	return c.buf
}

// Len returns the number of bytes written so far.
func (c *writeCursor) Len() int {
	return len(c.buf)
}
