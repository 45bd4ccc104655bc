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
	"io"
	"log/slog"
	"time"

	"github.com/dpicheo/j2mod/internal/transport"
)

// Framer converts between Envelopes and ADU bytes for one framing flavor,
// and reads exactly one ADU from a connection.
type Framer interface {
	Encode(env Envelope) ([]byte, error)
	Decode(adu []byte) (Envelope, error)
	ReadFrame(c transport.Conn, deadline time.Time) (Envelope, error)
}

// MBAPHeader is the Modbus Application Protocol header carried on TCP and
// UDP.
type MBAPHeader struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16 // number of following bytes (unit ID + PDU)
	UnitID        UnitID
}

// Encode encodes the MBAP header to bytes.
func (h *MBAPHeader) Encode() []byte {
	buf := make([]byte, MBAPHeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], h.TransactionID)
	binary.BigEndian.PutUint16(buf[2:4], h.ProtocolID)
	binary.BigEndian.PutUint16(buf[4:6], h.Length)
	buf[6] = byte(h.UnitID)
	return buf
}

// Decode decodes the MBAP header from bytes.
func (h *MBAPHeader) Decode(data []byte) error {
	if len(data) < MBAPHeaderSize {
		return fmt.Errorf("%w: MBAP header too short", ErrTruncated)
	}
	h.TransactionID = binary.BigEndian.Uint16(data[0:2])
	h.ProtocolID = binary.BigEndian.Uint16(data[2:4])
	h.Length = binary.BigEndian.Uint16(data[4:6])
	h.UnitID = UnitID(data[6])
	return nil
}

// TCPFramer frames PDUs with the MBAP header. In packet mode (UDP) one
// datagram carries one ADU and ReadFrame performs a single read; in stream
// mode it reads the header, then exactly the declared body.
type TCPFramer struct {
	packet bool
	logger *slog.Logger
}

// NewTCPFramer creates an MBAP framer for stream sockets.
func NewTCPFramer() *TCPFramer {
	return &TCPFramer{logger: slog.Default()}
}

// NewUDPFramer creates an MBAP framer for datagram sockets.
func NewUDPFramer() *TCPFramer {
	return &TCPFramer{packet: true, logger: slog.Default()}
}

// Encode builds the MBAP ADU for the envelope.
func (f *TCPFramer) Encode(env Envelope) ([]byte, error) {
	if len(env.PDU) < 1 || len(env.PDU) > MaxPDUSize {
		return nil, fmt.Errorf("%w: PDU of %d bytes", ErrInvalidFrame, len(env.PDU))
	}
	header := MBAPHeader{
		TransactionID: env.TransactionID,
		ProtocolID:    env.ProtocolID,
		Length:        uint16(len(env.PDU) + 1),
		UnitID:        env.UnitID,
	}
	adu := make([]byte, 0, MBAPHeaderSize+len(env.PDU))
	adu = append(adu, header.Encode()...)
	adu = append(adu, env.PDU...)
	return adu, nil
}

// Decode parses one MBAP ADU. A nonzero protocol ID is preserved and
// logged, not rejected.
func (f *TCPFramer) Decode(adu []byte) (Envelope, error) {
	var header MBAPHeader
	if err := header.Decode(adu); err != nil {
		return Envelope{}, err
	}
	if header.ProtocolID != ProtocolID {
		f.logger.Debug("nonzero protocol ID", "protocol_id", header.ProtocolID)
	}
	if header.Length < 1 || header.Length > MaxPDUSize+1 {
		return Envelope{}, fmt.Errorf("%w: MBAP length %d", ErrInvalidFrame, header.Length)
	}
	body := adu[MBAPHeaderSize:]
	pduLen := int(header.Length) - 1
	if len(body) < pduLen {
		return Envelope{}, fmt.Errorf("%w: %d of %d body bytes", ErrTruncated, len(body), pduLen)
	}
	pdu := make([]byte, pduLen)
	copy(pdu, body[:pduLen])
	return Envelope{
		TransactionID: header.TransactionID,
		ProtocolID:    header.ProtocolID,
		UnitID:        header.UnitID,
		PDU:           pdu,
	}, nil
}

// ReadFrame reads one ADU from the connection, bounded by deadline.
func (f *TCPFramer) ReadFrame(c transport.Conn, deadline time.Time) (Envelope, error) {
	if err := c.SetReadDeadline(deadline); err != nil {
		return Envelope{}, fmt.Errorf("set read deadline: %w", err)
	}

	if f.packet {
		buf := make([]byte, transport.MaxMasterDatagram)
		n, err := c.Read(buf)
		if err != nil {
			return Envelope{}, err
		}
		return f.Decode(buf[:n])
	}

	header := make([]byte, MBAPHeaderSize)
	if _, err := io.ReadFull(c, header); err != nil {
		return Envelope{}, err
	}
	var h MBAPHeader
	if err := h.Decode(header); err != nil {
		return Envelope{}, err
	}
	if h.Length < 1 || h.Length > MaxPDUSize+1 {
		return Envelope{}, fmt.Errorf("%w: MBAP length %d", ErrInvalidFrame, h.Length)
	}
	adu := make([]byte, MBAPHeaderSize+int(h.Length)-1)
	copy(adu, header)
	if _, err := io.ReadFull(c, adu[MBAPHeaderSize:]); err != nil {
		return Envelope{}, err
	}
	return f.Decode(adu)
}
