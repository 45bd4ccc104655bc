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
)

// ErrUnknownLength reports that a frame's length cannot be derived from
// its function code. Stream framers surface it as ErrInvalidFrame.
var ErrUnknownLength = errors.New("modbus: length not derivable")

// frameRole selects the request or the response column of the length
// table; the two directions frame several functions differently.
type frameRole int

const (
	roleRequest frameRole = iota
	roleResponse
)

// needMoreError signals that n more bytes must arrive before the frame
// length can be derived.
type needMoreError struct {
	n int
}

func (e *needMoreError) Error() string {
	return fmt.Sprintf("modbus: need %d more bytes", e.n)
}

func needMore(n int) error {
	return &needMoreError{n: n}
}

// needsMore reports whether err asks for more bytes, and how many.
func needsMore(err error) (int, bool) {
	var nm *needMoreError
	if errors.As(err, &nm) {
		return nm.n, true
	}
	return 0, false
}

// aduLength derives the total length of an ADU prefix [unit][fc]...,
// excluding any checksum, from the function code and the declared byte
// counts. It returns needMoreError while the prefix is too short to
// decide. Used by the RTU-over-TCP stream framer and to short-circuit the
// serial silence wait.
func aduLength(role frameRole, buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, needMore(2 - len(buf))
	}
	fc := buf[1]

	// Exception responses are always [unit][fc|0x80][code].
	if fc&0x80 != 0 {
		if role != roleResponse {
			return 0, fmt.Errorf("%w: %02X", ErrUnknownLength, fc)
		}
		return 3, nil
	}

	if role == roleRequest {
		return requestLength(buf)
	}
	return responseLength(buf)
}

func requestLength(buf []byte) (int, error) {
	switch FunctionCode(buf[1]) {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters,
		FuncReadInputRegisters, FuncWriteSingleCoil, FuncWriteSingleRegister:
		return 6, nil
	case FuncReadExceptionStatus, FuncGetCommEventCounter, FuncReportServerID:
		return 2, nil
	case FuncDiagnostics:
		// Standard sub-functions carry a single data word.
		return 6, nil
	case FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		// [unit][fc][addr2][qty2][byteCount][data...]
		if len(buf) < 7 {
			return 0, needMore(7 - len(buf))
		}
		return 7 + int(buf[6]), nil
	case FuncReadFileRecord, FuncWriteFileRecord:
		// [unit][fc][byteCount][data...]
		if len(buf) < 3 {
			return 0, needMore(3 - len(buf))
		}
		return 3 + int(buf[2]), nil
	case FuncMaskWriteRegister:
		return 8, nil
	case FuncReadWriteMultipleRegisters:
		// [unit][fc][rAddr2][rQty2][wAddr2][wQty2][byteCount][data...]
		if len(buf) < 11 {
			return 0, needMore(11 - len(buf))
		}
		return 11 + int(buf[10]), nil
	case FuncReadFIFOQueue:
		return 4, nil
	case FuncReadDeviceIdentification:
		return 5, nil
	default:
		return 0, fmt.Errorf("%w: %02X", ErrUnknownLength, buf[1])
	}
}

func responseLength(buf []byte) (int, error) {
	switch FunctionCode(buf[1]) {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters,
		FuncReadInputRegisters, FuncReportServerID, FuncReadFileRecord,
		FuncWriteFileRecord, FuncReadWriteMultipleRegisters:
		// [unit][fc][byteCount][data...]
		if len(buf) < 3 {
			return 0, needMore(3 - len(buf))
		}
		return 3 + int(buf[2]), nil
	case FuncWriteSingleCoil, FuncWriteSingleRegister, FuncWriteMultipleCoils,
		FuncWriteMultipleRegisters, FuncDiagnostics, FuncGetCommEventCounter:
		return 6, nil
	case FuncReadExceptionStatus:
		return 3, nil
	case FuncMaskWriteRegister:
		return 8, nil
	case FuncReadFIFOQueue:
		// [unit][fc][byteCount:u16][fifoCount:u16][data...]
		if len(buf) < 4 {
			return 0, needMore(4 - len(buf))
		}
		return 4 + int(buf[2])<<8 + int(buf[3]), nil
	case FuncReadDeviceIdentification:
		return deviceIDResponseLength(buf)
	default:
		return 0, fmt.Errorf("%w: %02X", ErrUnknownLength, buf[1])
	}
}

// deviceIDResponseLength walks the FC43 object stream: a fixed 8-byte
// prefix carries the object count, then each object declares its own
// length, so the total is derived object by object.
func deviceIDResponseLength(buf []byte) (int, error) {
	// [unit][fc][mei][code][conformity][moreFollows][nextObject][numObjects]
	if len(buf) < 8 {
		return 0, needMore(8 - len(buf))
	}
	numObjects := int(buf[7])
	pos := 8
	for i := 0; i < numObjects; i++ {
		if len(buf) < pos+2 {
			return 0, needMore(pos + 2 - len(buf))
		}
		objLen := int(buf[pos+1])
		pos += 2 + objLen
		if len(buf) < pos {
			return 0, needMore(pos - len(buf))
		}
	}
	return pos, nil
}
