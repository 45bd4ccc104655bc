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

// Package modbus implements a Modbus protocol runtime: a master (client)
// transaction engine and slave (server) dispatchers over TCP, UDP, RTU,
// RTU-over-TCP, and ASCII framing, together with an in-memory process image.
package modbus

import (
	"time"

	"github.com/dpicheo/j2mod/internal/transport"
)

// UnitID represents the Modbus unit identifier (slave address).
type UnitID uint8

// FunctionCode represents a Modbus function code.
type FunctionCode uint8

// Standard Modbus function codes.
const (
	FuncReadCoils                  FunctionCode = 0x01
	FuncReadDiscreteInputs         FunctionCode = 0x02
	FuncReadHoldingRegisters       FunctionCode = 0x03
	FuncReadInputRegisters         FunctionCode = 0x04
	FuncWriteSingleCoil            FunctionCode = 0x05
	FuncWriteSingleRegister        FunctionCode = 0x06
	FuncReadExceptionStatus        FunctionCode = 0x07
	FuncDiagnostics                FunctionCode = 0x08
	FuncGetCommEventCounter        FunctionCode = 0x0B
	FuncWriteMultipleCoils         FunctionCode = 0x0F
	FuncWriteMultipleRegisters     FunctionCode = 0x10
	FuncReportServerID             FunctionCode = 0x11
	FuncReadFileRecord             FunctionCode = 0x14
	FuncWriteFileRecord            FunctionCode = 0x15
	FuncMaskWriteRegister          FunctionCode = 0x16
	FuncReadWriteMultipleRegisters FunctionCode = 0x17
	FuncReadFIFOQueue              FunctionCode = 0x18
	FuncReadDeviceIdentification   FunctionCode = 0x2B
)

// Diagnostic sub-function codes (FC08).
const (
	DiagReturnQueryData                    uint16 = 0x00
	DiagRestartCommunications              uint16 = 0x01
	DiagReturnDiagnosticRegister           uint16 = 0x02
	DiagChangeASCIIInputDelimiter          uint16 = 0x03
	DiagForceListenOnlyMode                uint16 = 0x04
	DiagClearCountersAndDiagnosticRegister uint16 = 0x0A
	DiagReturnBusMessageCount              uint16 = 0x0B
	DiagReturnBusCommunicationErrorCount   uint16 = 0x0C
	DiagReturnBusExceptionErrorCount       uint16 = 0x0D
	DiagReturnServerMessageCount           uint16 = 0x0E
	DiagReturnServerNoResponseCount        uint16 = 0x0F
	DiagReturnServerNAKCount               uint16 = 0x10
	DiagReturnServerBusyCount              uint16 = 0x11
	DiagReturnBusCharacterOverrunCount     uint16 = 0x12
	DiagClearOverrunCounterAndFlag         uint16 = 0x14
)

// MEI (Modbus Encapsulated Interface) types carried by FC43.
const (
	MEIReadDeviceID uint8 = 0x0E
)

// Device identification reading codes (FC43/MEI 0x0E).
const (
	DeviceIDBasic    uint8 = 0x01
	DeviceIDRegular  uint8 = 0x02
	DeviceIDExtended uint8 = 0x03
	DeviceIDSpecific uint8 = 0x04
)

// Standard device identification object IDs.
const (
	DeviceIDObjectVendorName          uint8 = 0x00
	DeviceIDObjectProductCode         uint8 = 0x01
	DeviceIDObjectMajorMinorRevision  uint8 = 0x02
	DeviceIDObjectVendorURL           uint8 = 0x03
	DeviceIDObjectProductName         uint8 = 0x04
	DeviceIDObjectModelName           uint8 = 0x05
	DeviceIDObjectUserApplicationName uint8 = 0x06
)

// Protocol constants.
const (
	// MaxQuantityCoils is the maximum number of coils that can be read.
	MaxQuantityCoils = 2000

	// MaxQuantityDiscreteInputs is the maximum number of discrete inputs that can be read.
	MaxQuantityDiscreteInputs = 2000

	// MaxQuantityWriteCoils is the maximum number of coils that can be written.
	MaxQuantityWriteCoils = 1968

	// MaxQuantityRegisters is the maximum number of registers that can be read.
	MaxQuantityRegisters = 125

	// MaxQuantityWriteRegisters is the maximum number of registers that can be written.
	MaxQuantityWriteRegisters = 123

	// MaxQuantityRWWriteRegisters is the maximum write count for FC23.
	MaxQuantityRWWriteRegisters = 121

	// MaxFIFOCount is the maximum number of words in a FIFO queue response.
	MaxFIFOCount = 31

	// MaxPDUSize is the maximum size of a PDU (function code + data).
	MaxPDUSize = 253

	// MBAPHeaderSize is the size of the MBAP header in bytes.
	MBAPHeaderSize = 7

	// MaxTCPADUSize is the maximum size of an MBAP-framed ADU.
	MaxTCPADUSize = 260

	// MaxSerialADUSize is the maximum size of an RTU ADU (unit + PDU + CRC).
	MaxSerialADUSize = 256

	// ProtocolID is the Modbus protocol identifier (always 0 for Modbus TCP).
	ProtocolID = 0

	// DefaultTimeout is the default per-attempt timeout for Modbus operations.
	DefaultTimeout = 3 * time.Second

	// DefaultRetries is the default number of retries on transient failures.
	DefaultRetries = 3

	// DefaultPort is the default Modbus TCP port.
	DefaultPort = 502
)

// Coil values for write operations.
const (
	CoilOn  uint16 = 0xFF00
	CoilOff uint16 = 0x0000
)

// FileRecordRefType is the reference type byte in FC20/FC21 sub-requests.
const FileRecordRefType = 0x06

// Request represents a Modbus request PDU. Encode returns the full PDU
// including the function code; Decode parses one. Execute services the
// request against a process image and produces the matching response.
type Request interface {
	FunctionCode() FunctionCode
	Encode() ([]byte, error)
	Decode(pdu []byte) error
	Execute(img *ProcessImage, unit UnitID) (Response, error)
}

// Response represents a Modbus response PDU.
type Response interface {
	FunctionCode() FunctionCode
	Encode() ([]byte, error)
	Decode(pdu []byte) error
}

// Handler is the slave-side dispatch seam. Implementations route a decoded
// request to whatever backs the unit and return the response to send.
// ImageHandler is the standard implementation.
type Handler interface {
	Handle(unit UnitID, req Request) (Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(unit UnitID, req Request) (Response, error)

func (f HandlerFunc) Handle(unit UnitID, req Request) (Response, error) {
	return f(unit, req)
}

// SerialConfig describes a serial port for RTU and ASCII transports.
type SerialConfig = transport.SerialConfig

// SilenceInterval returns the RTU inter-frame silence (3.5 character
// times) for a baud rate.
func SilenceInterval(baudRate int) time.Duration {
	return transport.SilenceInterval(baudRate)
}

// ConnectionState represents the state of a master connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

// String returns the string representation of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
