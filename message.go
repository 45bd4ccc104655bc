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

import "fmt"

// Envelope is a framed message: addressing plus the raw PDU. The framing
// flavor (MBAP, RTU, ASCII) is chosen by the transport, not the message;
// serial framers ignore TransactionID and ProtocolID on the wire.
type Envelope struct {
	TransactionID uint16
	ProtocolID    uint16
	UnitID        UnitID
	PDU           []byte
}

// ExceptionResponse is a response whose function code has the high bit set,
// carrying a single exception-code byte.
type ExceptionResponse struct {
	Function  FunctionCode // base function code, without the high bit
	Exception ExceptionCode
}

// NewExceptionResponse builds an exception response for the given function.
func NewExceptionResponse(fc FunctionCode, ec ExceptionCode) *ExceptionResponse {
	return &ExceptionResponse{Function: fc & 0x7F, Exception: ec}
}

func (r *ExceptionResponse) FunctionCode() FunctionCode {
	return r.Function | 0x80
}

func (r *ExceptionResponse) Encode() ([]byte, error) {
	return []byte{byte(r.Function) | 0x80, byte(r.Exception)}, nil
}

func (r *ExceptionResponse) Decode(pdu []byte) error {
	if len(pdu) != 2 {
		return fmt.Errorf("%w: exception PDU must be 2 bytes, got %d", ErrInvalidFrame, len(pdu))
	}
	if pdu[0]&0x80 == 0 {
		return fmt.Errorf("%w: function %02X lacks exception flag", ErrInvalidFrame, pdu[0])
	}
	r.Function = FunctionCode(pdu[0] & 0x7F)
	r.Exception = ExceptionCode(pdu[1])
	return nil
}

// ModbusError converts the response into the error surfaced to callers.
func (r *ExceptionResponse) ModbusError() *ModbusError {
	return NewModbusError(r.Function, r.Exception)
}

// IsExceptionPDU reports whether a PDU carries an exception response.
func IsExceptionPDU(pdu []byte) bool {
	return len(pdu) > 0 && pdu[0]&0x80 != 0
}

// DecodeRequest decodes a request PDU into its typed representation. An
// unsupported function code yields ErrUnknownFunction; the slave answers
// such requests with exception 0x01.
func DecodeRequest(pdu []byte) (Request, error) {
	if len(pdu) < 1 {
		return nil, fmt.Errorf("%w: empty PDU", ErrTruncated)
	}

	var req Request
	switch FunctionCode(pdu[0]) {
	case FuncReadCoils:
		req = &ReadCoilsRequest{}
	case FuncReadDiscreteInputs:
		req = &ReadDiscreteInputsRequest{}
	case FuncReadHoldingRegisters:
		req = &ReadHoldingRegistersRequest{}
	case FuncReadInputRegisters:
		req = &ReadInputRegistersRequest{}
	case FuncWriteSingleCoil:
		req = &WriteSingleCoilRequest{}
	case FuncWriteSingleRegister:
		req = &WriteSingleRegisterRequest{}
	case FuncReadExceptionStatus:
		req = &ReadExceptionStatusRequest{}
	case FuncDiagnostics:
		req = &DiagnosticsRequest{}
	case FuncGetCommEventCounter:
		req = &GetCommEventCounterRequest{}
	case FuncWriteMultipleCoils:
		req = &WriteMultipleCoilsRequest{}
	case FuncWriteMultipleRegisters:
		req = &WriteMultipleRegistersRequest{}
	case FuncReportServerID:
		req = &ReportServerIDRequest{}
	case FuncReadFileRecord:
		req = &ReadFileRecordRequest{}
	case FuncWriteFileRecord:
		req = &WriteFileRecordRequest{}
	case FuncMaskWriteRegister:
		req = &MaskWriteRegisterRequest{}
	case FuncReadWriteMultipleRegisters:
		req = &ReadWriteMultipleRegistersRequest{}
	case FuncReadFIFOQueue:
		req = &ReadFIFOQueueRequest{}
	case FuncReadDeviceIdentification:
		req = &ReadDeviceIdentificationRequest{}
	default:
		return nil, fmt.Errorf("%w: %02X", ErrUnknownFunction, pdu[0])
	}

	if err := req.Decode(pdu); err != nil {
		return nil, err
	}
	return req, nil
}

// DecodeResponse decodes a response PDU into its typed representation.
// Exception responses decode successfully into *ExceptionResponse; callers
// must check.
func DecodeResponse(pdu []byte) (Response, error) {
	if len(pdu) < 1 {
		return nil, fmt.Errorf("%w: empty PDU", ErrTruncated)
	}

	if IsExceptionPDU(pdu) {
		resp := &ExceptionResponse{}
		if err := resp.Decode(pdu); err != nil {
			return nil, err
		}
		return resp, nil
	}

	var resp Response
	switch FunctionCode(pdu[0]) {
	case FuncReadCoils:
		resp = &ReadCoilsResponse{}
	case FuncReadDiscreteInputs:
		resp = &ReadDiscreteInputsResponse{}
	case FuncReadHoldingRegisters:
		resp = &ReadHoldingRegistersResponse{}
	case FuncReadInputRegisters:
		resp = &ReadInputRegistersResponse{}
	case FuncWriteSingleCoil:
		resp = &WriteSingleCoilResponse{}
	case FuncWriteSingleRegister:
		resp = &WriteSingleRegisterResponse{}
	case FuncReadExceptionStatus:
		resp = &ReadExceptionStatusResponse{}
	case FuncDiagnostics:
		resp = &DiagnosticsResponse{}
	case FuncGetCommEventCounter:
		resp = &GetCommEventCounterResponse{}
	case FuncWriteMultipleCoils:
		resp = &WriteMultipleCoilsResponse{}
	case FuncWriteMultipleRegisters:
		resp = &WriteMultipleRegistersResponse{}
	case FuncReportServerID:
		resp = &ReportServerIDResponse{}
	case FuncReadFileRecord:
		resp = &ReadFileRecordResponse{}
	case FuncWriteFileRecord:
		resp = &WriteFileRecordResponse{}
	case FuncMaskWriteRegister:
		resp = &MaskWriteRegisterResponse{}
	case FuncReadWriteMultipleRegisters:
		resp = &ReadWriteMultipleRegistersResponse{}
	case FuncReadFIFOQueue:
		resp = &ReadFIFOQueueResponse{}
	case FuncReadDeviceIdentification:
		resp = &ReadDeviceIdentificationResponse{}
	default:
		return nil, fmt.Errorf("%w: %02X", ErrUnknownFunction, pdu[0])
	}

	if err := resp.Decode(pdu); err != nil {
		return nil, err
	}
	return resp, nil
}
