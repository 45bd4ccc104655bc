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
	"errors"
	"fmt"
	"time"

	"github.com/dpicheo/j2mod/internal/transport"
)

// RTUFramer frames PDUs as [unit][pdu][crcLo][crcHi]. On a serial line
// frames end at an inter-character silence of 3.5 character times; over a
// stream socket (RTU-over-TCP) there is no silence and the end of each
// frame is located with the per-function length table. Transaction and
// protocol IDs are not transmitted.
type RTUFramer struct {
	stream bool
	role   frameRole
}

// NewRTUFramer creates a silence-driven serial framer that reads
// responses (master side).
func NewRTUFramer() *RTUFramer {
	return &RTUFramer{role: roleResponse}
}

// NewRTUOverTCPFramer creates a stream framer that reads responses
// (master side).
func NewRTUOverTCPFramer() *RTUFramer {
	return &RTUFramer{stream: true, role: roleResponse}
}

// Serverside returns a copy of the framer that reads requests instead of
// responses.
func (f *RTUFramer) Serverside() *RTUFramer {
	c := *f
	c.role = roleRequest
	return &c
}

// Encode builds the RTU ADU, appending the CRC low byte first.
func (f *RTUFramer) Encode(env Envelope) ([]byte, error) {
	if len(env.PDU) < 1 || len(env.PDU) > MaxPDUSize {
		return nil, fmt.Errorf("%w: PDU of %d bytes", ErrInvalidFrame, len(env.PDU))
	}
	adu := make([]byte, 0, 1+len(env.PDU)+2)
	adu = append(adu, byte(env.UnitID))
	adu = append(adu, env.PDU...)
	crc := CRC16(adu)
	adu = append(adu, byte(crc), byte(crc>>8))
	return adu, nil
}

// Decode parses one RTU ADU, verifying the CRC.
func (f *RTUFramer) Decode(adu []byte) (Envelope, error) {
	if len(adu) < 4 {
		return Envelope{}, fmt.Errorf("%w: RTU frame of %d bytes", ErrTruncated, len(adu))
	}
	want := binary.LittleEndian.Uint16(adu[len(adu)-2:])
	got := CRC16(adu[:len(adu)-2])
	if want != got {
		return Envelope{}, fmt.Errorf("%w: computed %04X, frame carries %04X", ErrInvalidCRC, got, want)
	}
	pdu := make([]byte, len(adu)-3)
	copy(pdu, adu[1:len(adu)-2])
	return Envelope{UnitID: UnitID(adu[0]), PDU: pdu}, nil
}

// ReadFrame reads one ADU from the connection, bounded by deadline.
func (f *RTUFramer) ReadFrame(c transport.Conn, deadline time.Time) (Envelope, error) {
	if err := c.SetReadDeadline(deadline); err != nil {
		return Envelope{}, fmt.Errorf("set read deadline: %w", err)
	}
	if f.stream {
		return f.readStream(c)
	}
	return f.readSerial(c)
}

// readStream locates the end of the frame with the length table; the
// socket delivers RTU bytes with no timing information.
func (f *RTUFramer) readStream(c transport.Conn) (Envelope, error) {
	buf := make([]byte, 0, MaxSerialADUSize)
	chunk := make([]byte, MaxSerialADUSize)
	total := -1

	for {
		need := 1
		if total < 0 {
			if n, err := aduLength(f.role, buf); err == nil {
				total = n
			} else if more, ok := needsMore(err); ok {
				need = more
			} else if errors.Is(err, ErrUnknownLength) {
				return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
			} else {
				return Envelope{}, err
			}
		}
		if total >= 0 {
			// +2 for the CRC.
			if len(buf) >= total+2 {
				return f.Decode(buf[:total+2])
			}
			need = total + 2 - len(buf)
		}

		n, err := c.Read(chunk[:need])
		buf = append(buf, chunk[:n]...)
		if err != nil {
			return Envelope{}, err
		}
	}
}

// readSerial accumulates bytes until the inter-frame silence, verifying
// the CRC on the boundary. The length table short-circuits the wait once
// the frame is known complete.
func (f *RTUFramer) readSerial(c transport.Conn) (Envelope, error) {
	buf := make([]byte, 0, MaxSerialADUSize)
	chunk := make([]byte, MaxSerialADUSize)

	for {
		n, err := c.Read(chunk)
		buf = append(buf, chunk[:n]...)

		switch {
		case err == nil:
		case errors.Is(err, transport.ErrReadGap):
			if len(buf) == 0 {
				continue // still waiting for the frame to start
			}
			return f.Decode(buf)
		default:
			return Envelope{}, err
		}

		if total, lerr := aduLength(f.role, buf); lerr == nil && len(buf) >= total+2 {
			return f.Decode(buf[:total+2])
		}
		if len(buf) > MaxSerialADUSize {
			return Envelope{}, fmt.Errorf("%w: frame exceeds %d bytes", ErrInvalidFrame, MaxSerialADUSize)
		}
	}
}
