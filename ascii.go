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
	"errors"
	"fmt"
	"time"

	"github.com/dpicheo/j2mod/internal/transport"
)

// ASCII frame delimiters.
const (
	asciiStart = ':'
	asciiCR    = '\r'
	asciiLF    = '\n'
)

// Maximum length of an ASCII frame on the wire: ':' + 2 hex digits per
// ADU byte (unit + PDU + LRC) + CRLF.
const maxASCIIFrameSize = 1 + 2*MaxSerialADUSize + 2

// ASCIIFramer frames PDUs as ':' + uppercase hex of [unit][pdu][lrc] +
// CRLF. Framing is delimiter-driven; there is no timing rule. Transaction
// and protocol IDs are not transmitted.
type ASCIIFramer struct{}

// NewASCIIFramer creates an ASCII framer.
func NewASCIIFramer() *ASCIIFramer {
	return &ASCIIFramer{}
}

// Encode builds the ASCII frame for the envelope.
func (f *ASCIIFramer) Encode(env Envelope) ([]byte, error) {
	if len(env.PDU) < 1 || len(env.PDU) > MaxPDUSize {
		return nil, fmt.Errorf("%w: PDU of %d bytes", ErrInvalidFrame, len(env.PDU))
	}
	raw := make([]byte, 0, 1+len(env.PDU))
	raw = append(raw, byte(env.UnitID))
	raw = append(raw, env.PDU...)
	lrc := LRC(raw)

	adu := make([]byte, 0, 1+2*(len(raw)+1)+2)
	adu = append(adu, asciiStart)
	for _, b := range raw {
		adu = appendHex(adu, b)
	}
	adu = appendHex(adu, lrc)
	adu = append(adu, asciiCR, asciiLF)
	return adu, nil
}

// Decode parses one ASCII frame including the ':' prefix and CRLF
// trailer, verifying the LRC.
func (f *ASCIIFramer) Decode(adu []byte) (Envelope, error) {
	if len(adu) < 1+2*3+2 {
		return Envelope{}, fmt.Errorf("%w: ASCII frame of %d bytes", ErrTruncated, len(adu))
	}
	if adu[0] != asciiStart {
		return Envelope{}, fmt.Errorf("%w: missing start delimiter", ErrInvalidFrame)
	}
	if adu[len(adu)-2] != asciiCR || adu[len(adu)-1] != asciiLF {
		return Envelope{}, fmt.Errorf("%w: missing CRLF trailer", ErrInvalidFrame)
	}
	hex := adu[1 : len(adu)-2]
	if len(hex)%2 != 0 {
		return Envelope{}, fmt.Errorf("%w: odd hex digit count", ErrInvalidLRC)
	}

	raw := make([]byte, 0, len(hex)/2)
	for i := 0; i < len(hex); i += 2 {
		b, ok := fromHexPair(hex[i], hex[i+1])
		if !ok {
			return Envelope{}, fmt.Errorf("%w: invalid hex digit", ErrInvalidLRC)
		}
		raw = append(raw, b)
	}

	body, lrc := raw[:len(raw)-1], raw[len(raw)-1]
	if got := LRC(body); got != lrc {
		return Envelope{}, fmt.Errorf("%w: computed %02X, frame carries %02X", ErrInvalidLRC, got, lrc)
	}
	pdu := make([]byte, len(body)-1)
	copy(pdu, body[1:])
	return Envelope{UnitID: UnitID(body[0]), PDU: pdu}, nil
}

// ReadFrame reads one ASCII frame from the connection, bounded by
// deadline. The reader synchronizes to ':' and accumulates to CRLF;
// inter-character gaps carry no meaning in ASCII framing.
func (f *ASCIIFramer) ReadFrame(c transport.Conn, deadline time.Time) (Envelope, error) {
	if err := c.SetReadDeadline(deadline); err != nil {
		return Envelope{}, fmt.Errorf("set read deadline: %w", err)
	}

	buf := make([]byte, 0, maxASCIIFrameSize)
	chunk := make([]byte, 64)
	synced := false

	for {
		n, err := c.Read(chunk)
		for _, b := range chunk[:n] {
			if !synced {
				if b == asciiStart {
					synced = true
					buf = append(buf[:0], b)
				}
				continue
			}
			buf = append(buf, b)
			if b == asciiLF && len(buf) >= 2 && buf[len(buf)-2] == asciiCR {
				return f.Decode(buf)
			}
			if len(buf) > maxASCIIFrameSize {
				return Envelope{}, fmt.Errorf("%w: frame exceeds %d bytes", ErrInvalidFrame, maxASCIIFrameSize)
			}
		}
		if err != nil && !errors.Is(err, transport.ErrReadGap) {
			return Envelope{}, err
		}
	}
}
