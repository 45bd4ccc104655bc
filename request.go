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

// expectFunction consumes the function-code byte and verifies it.
func expectFunction(c *readCursor, want FunctionCode) error {
	fc, err := c.U8()
	if err != nil {
		return err
	}
	if FunctionCode(fc) != want {
		return fmt.Errorf("%w: expected %02X, got %02X", ErrInvalidFrame, uint8(want), fc)
	}
	return nil
}

// expectDrained verifies the PDU carries no trailing bytes.
func expectDrained(c *readCursor) error {
	if c.Remaining() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrInvalidFrame, c.Remaining())
	}
	return nil
}

func checkReadRange(addr, qty uint16, max uint16) error {
	if qty < 1 || qty > max {
		return fmt.Errorf("%w: quantity must be 1-%d, got %d", ErrInvalidQuantity, max, qty)
	}
	if uint32(addr)+uint32(qty) > 65536 {
		return fmt.Errorf("%w: address range exceeds 65535", ErrInvalidAddress)
	}
	return nil
}

// ReadCoilsRequest reads coils (FC01).
type ReadCoilsRequest struct {
	Address  uint16
	Quantity uint16
}

func (r *ReadCoilsRequest) FunctionCode() FunctionCode { return FuncReadCoils }

func (r *ReadCoilsRequest) Encode() ([]byte, error) {
	if err := checkReadRange(r.Address, r.Quantity, MaxQuantityCoils); err != nil {
		return nil, err
	}
	c := newWriteCursor(5)
	c.U8(byte(FuncReadCoils))
	c.U16(r.Address)
	c.U16(r.Quantity)
	return c.Bytes(), nil
}

func (r *ReadCoilsRequest) Decode(pdu []byte) error {
	c := newReadCursor(pdu)
	if err := expectFunction(c, FuncReadCoils); err != nil {
		return err
	}
	var err error
	if r.Address, err = c.U16(); err != nil {
		return err
	}
	if r.Quantity, err = c.U16(); err != nil {
		return err
	}
	if err := expectDrained(c); err != nil {
		return err
	}
	return checkReadRange(r.Address, r.Quantity, MaxQuantityCoils)
}

func (r *ReadCoilsRequest) Execute(img *ProcessImage, unit UnitID) (Response, error) {
	values, err := img.ReadCoils(unit, r.Address, r.Quantity)
	if err != nil {
		return nil, err
	}
	return &ReadCoilsResponse{Values: values}, nil
}

// ReadDiscreteInputsRequest reads discrete inputs (FC02).
type ReadDiscreteInputsRequest struct {
	Address  uint16
	Quantity uint16
}

func (r *ReadDiscreteInputsRequest) FunctionCode() FunctionCode { return FuncReadDiscreteInputs }

func (r *ReadDiscreteInputsRequest) Encode() ([]byte, error) {
	if err := checkReadRange(r.Address, r.Quantity, MaxQuantityDiscreteInputs); err != nil {
		return nil, err
	}
	c := newWriteCursor(5)
	c.U8(byte(FuncReadDiscreteInputs))
	c.U16(r.Address)
	c.U16(r.Quantity)
	return c.Bytes(), nil
}

func (r *ReadDiscreteInputsRequest) Decode(pdu []byte) error {
	c := newReadCursor(pdu)
	if err := expectFunction(c, FuncReadDiscreteInputs); err != nil {
		return err
	}
	var err error
	if r.Address, err = c.U16(); err != nil {
		return err
	}
	if r.Quantity, err = c.U16(); err != nil {
		return err
	}
	if err := expectDrained(c); err != nil {
		return err
	}
	return checkReadRange(r.Address, r.Quantity, MaxQuantityDiscreteInputs)
}

func (r *ReadDiscreteInputsRequest) Execute(img *ProcessImage, unit UnitID) (Response, error) {
	values, err := img.ReadDiscreteInputs(unit, r.Address, r.Quantity)
	if err != nil {
		return nil, err
	}
	return &ReadDiscreteInputsResponse{Values: values}, nil
}

// ReadHoldingRegistersRequest reads holding registers (FC03).
type ReadHoldingRegistersRequest struct {
	Address  uint16
	Quantity uint16
}

func (r *ReadHoldingRegistersRequest) FunctionCode() FunctionCode { return FuncReadHoldingRegisters }

func (r *ReadHoldingRegistersRequest) Encode() ([]byte, error) {
	if err := checkReadRange(r.Address, r.Quantity, MaxQuantityRegisters); err != nil {
		return nil, err
	}
	c := newWriteCursor(5)
	c.U8(byte(FuncReadHoldingRegisters))
	c.U16(r.Address)
	c.U16(r.Quantity)
	return c.Bytes(), nil
}

func (r *ReadHoldingRegistersRequest) Decode(pdu []byte) error {
	c := newReadCursor(pdu)
	if err := expectFunction(c, FuncReadHoldingRegisters); err != nil {
		return err
	}
	var err error
	if r.Address, err = c.U16(); err != nil {
		return err
	}
	if r.Quantity, err = c.U16(); err != nil {
		return err
	}
	if err := expectDrained(c); err != nil {
		return err
	}
	return checkReadRange(r.Address, r.Quantity, MaxQuantityRegisters)
}

func (r *ReadHoldingRegistersRequest) Execute(img *ProcessImage, unit UnitID) (Response, error) {
	values, err := img.ReadHoldingRegisters(unit, r.Address, r.Quantity)
	if err != nil {
		return nil, err
	}
	return &ReadHoldingRegistersResponse{Values: values}, nil
}

// ReadInputRegistersRequest reads input registers (FC04).
type ReadInputRegistersRequest struct {
	Address  uint16
	Quantity uint16
}

func (r *ReadInputRegistersRequest) FunctionCode() FunctionCode { return FuncReadInputRegisters }

func (r *ReadInputRegistersRequest) Encode() ([]byte, error) {
	if err := checkReadRange(r.Address, r.Quantity, MaxQuantityRegisters); err != nil {
		return nil, err
	}
	c := newWriteCursor(5)
	c.U8(byte(FuncReadInputRegisters))
	c.U16(r.Address)
	c.U16(r.Quantity)
	return c.Bytes(), nil
}

func (r *ReadInputRegistersRequest) Decode(pdu []byte) error {
	c := newReadCursor(pdu)
	if err := expectFunction(c, FuncReadInputRegisters); err != nil {
		return err
	}
	var err error
	if r.Address, err = c.U16(); err != nil {
		return err
	}
	if r.Quantity, err = c.U16(); err != nil {
		return err
	}
	if err := expectDrained(c); err != nil {
		return err
	}
	return checkReadRange(r.Address, r.Quantity, MaxQuantityRegisters)
}

func (r *ReadInputRegistersRequest) Execute(img *ProcessImage, unit UnitID) (Response, error) {
	values, err := img.ReadInputRegisters(unit, r.Address, r.Quantity)
	if err != nil {
		return nil, err
	}
	return &ReadInputRegistersResponse{Values: values}, nil
}

// WriteSingleCoilRequest writes a single coil (FC05).
type WriteSingleCoilRequest struct {
	Address uint16
	Value   bool
}

func (r *WriteSingleCoilRequest) FunctionCode() FunctionCode { return FuncWriteSingleCoil }

func (r *WriteSingleCoilRequest) Encode() ([]byte, error) {
	c := newWriteCursor(5)
	c.U8(byte(FuncWriteSingleCoil))
	c.U16(r.Address)
	if r.Value {
		c.U16(CoilOn)
	} else {
		c.U16(CoilOff)
	}
	return c.Bytes(), nil
}

func (r *WriteSingleCoilRequest) Decode(pdu []byte) error {
	c := newReadCursor(pdu)
	if err := expectFunction(c, FuncWriteSingleCoil); err != nil {
		return err
	}
	var err error
	if r.Address, err = c.U16(); err != nil {
		return err
	}
	value, err := c.U16()
	if err != nil {
		return err
	}
	if err := expectDrained(c); err != nil {
		return err
	}
	switch value {
	case CoilOn:
		r.Value = true
	case CoilOff:
		r.Value = false
	default:
		return fmt.Errorf("%w: coil value %04X", ErrInvalidQuantity, value)
	}
	return nil
}

func (r *WriteSingleCoilRequest) Execute(img *ProcessImage, unit UnitID) (Response, error) {
	if err := img.WriteSingleCoil(unit, r.Address, r.Value); err != nil {
		return nil, err
	}
	value := CoilOff
	if r.Value {
		value = CoilOn
	}
	return &WriteSingleCoilResponse{Address: r.Address, Value: value}, nil
}

// WriteSingleRegisterRequest writes a single holding register (FC06).
type WriteSingleRegisterRequest struct {
	Address uint16
	Value   uint16
}

func (r *WriteSingleRegisterRequest) FunctionCode() FunctionCode { return FuncWriteSingleRegister }

func (r *WriteSingleRegisterRequest) Encode() ([]byte, error) {
	c := newWriteCursor(5)
	c.U8(byte(FuncWriteSingleRegister))
	c.U16(r.Address)
	c.U16(r.Value)
	return c.Bytes(), nil
}

func (r *WriteSingleRegisterRequest) Decode(pdu []byte) error {
	c := newReadCursor(pdu)
	if err := expectFunction(c, FuncWriteSingleRegister); err != nil {
		return err
	}
	var err error
	if r.Address, err = c.U16(); err != nil {
		return err
	}
	if r.Value, err = c.U16(); err != nil {
		return err
	}
	return expectDrained(c)
}

func (r *WriteSingleRegisterRequest) Execute(img *ProcessImage, unit UnitID) (Response, error) {
	if err := img.WriteSingleRegister(unit, r.Address, r.Value); err != nil {
		return nil, err
	}
	return &WriteSingleRegisterResponse{Address: r.Address, Value: r.Value}, nil
}

// ReadExceptionStatusRequest reads the exception status byte (FC07).
type ReadExceptionStatusRequest struct{}

func (r *ReadExceptionStatusRequest) FunctionCode() FunctionCode { return FuncReadExceptionStatus }

func (r *ReadExceptionStatusRequest) Encode() ([]byte, error) {
	return []byte{byte(FuncReadExceptionStatus)}, nil
}

func (r *ReadExceptionStatusRequest) Decode(pdu []byte) error {
	c := newReadCursor(pdu)
	if err := expectFunction(c, FuncReadExceptionStatus); err != nil {
		return err
	}
	return expectDrained(c)
}

func (r *ReadExceptionStatusRequest) Execute(img *ProcessImage, unit UnitID) (Response, error) {
	status, err := img.ExceptionStatus(unit)
	if err != nil {
		return nil, err
	}
	return &ReadExceptionStatusResponse{Status: status}, nil
}

// DiagnosticsRequest performs a diagnostic operation (FC08).
type DiagnosticsRequest struct {
	SubFunction uint16
	Data        []byte
}

func (r *DiagnosticsRequest) FunctionCode() FunctionCode { return FuncDiagnostics }

func (r *DiagnosticsRequest) Encode() ([]byte, error) {
	c := newWriteCursor(3 + len(r.Data))
	c.U8(byte(FuncDiagnostics))
	c.U16(r.SubFunction)
	c.Write(r.Data)
	return c.Bytes(), nil
}

func (r *DiagnosticsRequest) Decode(pdu []byte) error {
	c := newReadCursor(pdu)
	if err := expectFunction(c, FuncDiagnostics); err != nil {
		return err
	}
	var err error
	if r.SubFunction, err = c.U16(); err != nil {
		return err
	}
	data, err := c.Bytes(c.Remaining())
	if err != nil {
		return err
	}
	r.Data = make([]byte, len(data))
	copy(r.Data, data)
	return nil
}

func (r *DiagnosticsRequest) Execute(img *ProcessImage, unit UnitID) (Response, error) {
	data, err := img.Diagnostics(unit, r.SubFunction, r.Data)
	if err != nil {
		return nil, err
	}
	return &DiagnosticsResponse{SubFunction: r.SubFunction, Data: data}, nil
}

// GetCommEventCounterRequest reads the communication event counter (FC11).
type GetCommEventCounterRequest struct{}

func (r *GetCommEventCounterRequest) FunctionCode() FunctionCode { return FuncGetCommEventCounter }

func (r *GetCommEventCounterRequest) Encode() ([]byte, error) {
	return []byte{byte(FuncGetCommEventCounter)}, nil
}

func (r *GetCommEventCounterRequest) Decode(pdu []byte) error {
	c := newReadCursor(pdu)
	if err := expectFunction(c, FuncGetCommEventCounter); err != nil {
		return err
	}
	return expectDrained(c)
}

func (r *GetCommEventCounterRequest) Execute(img *ProcessImage, unit UnitID) (Response, error) {
	status, count, err := img.CommEventCounter(unit)
	if err != nil {
		return nil, err
	}
	return &GetCommEventCounterResponse{Status: status, EventCount: count}, nil
}

// WriteMultipleCoilsRequest writes multiple coils (FC15).
type WriteMultipleCoilsRequest struct {
	Address uint16
	Values  []bool
}

func (r *WriteMultipleCoilsRequest) FunctionCode() FunctionCode { return FuncWriteMultipleCoils }

func (r *WriteMultipleCoilsRequest) Encode() ([]byte, error) {
	qty := uint16(len(r.Values))
	if err := checkReadRange(r.Address, qty, MaxQuantityWriteCoils); err != nil {
		return nil, err
	}
	packed := BoolsToBytes(r.Values)
	c := newWriteCursor(6 + len(packed))
	c.U8(byte(FuncWriteMultipleCoils))
	c.U16(r.Address)
	c.U16(qty)
	c.U8(byte(len(packed)))
	c.Write(packed)
	return c.Bytes(), nil
}

func (r *WriteMultipleCoilsRequest) Decode(pdu []byte) error {
	c := newReadCursor(pdu)
	if err := expectFunction(c, FuncWriteMultipleCoils); err != nil {
		return err
	}
	var err error
	if r.Address, err = c.U16(); err != nil {
		return err
	}
	qty, err := c.U16()
	if err != nil {
		return err
	}
	byteCount, err := c.U8()
	if err != nil {
		return err
	}
	if err := checkReadRange(r.Address, qty, MaxQuantityWriteCoils); err != nil {
		return err
	}
	if int(byteCount) != int(qty+7)/8 {
		return fmt.Errorf("%w: byte count %d for %d coils", ErrInvalidQuantity, byteCount, qty)
	}
	packed, err := c.Bytes(int(byteCount))
	if err != nil {
		return err
	}
	if err := expectDrained(c); err != nil {
		return err
	}
	r.Values = BytesToBools(packed, int(qty))
	return nil
}

func (r *WriteMultipleCoilsRequest) Execute(img *ProcessImage, unit UnitID) (Response, error) {
	if err := img.WriteMultipleCoils(unit, r.Address, r.Values); err != nil {
		return nil, err
	}
	return &WriteMultipleCoilsResponse{Address: r.Address, Quantity: uint16(len(r.Values))}, nil
}

// WriteMultipleRegistersRequest writes multiple holding registers (FC16).
type WriteMultipleRegistersRequest struct {
	Address uint16
	Values  []uint16
}

func (r *WriteMultipleRegistersRequest) FunctionCode() FunctionCode { return FuncWriteMultipleRegisters }

func (r *WriteMultipleRegistersRequest) Encode() ([]byte, error) {
	qty := uint16(len(r.Values))
	if err := checkReadRange(r.Address, qty, MaxQuantityWriteRegisters); err != nil {
		return nil, err
	}
	c := newWriteCursor(6 + 2*len(r.Values))
	c.U8(byte(FuncWriteMultipleRegisters))
	c.U16(r.Address)
	c.U16(qty)
	c.U8(byte(2 * qty))
	for _, v := range r.Values {
		c.U16(v)
	}
	return c.Bytes(), nil
}

func (r *WriteMultipleRegistersRequest) Decode(pdu []byte) error {
	c := newReadCursor(pdu)
	if err := expectFunction(c, FuncWriteMultipleRegisters); err != nil {
		return err
	}
	var err error
	if r.Address, err = c.U16(); err != nil {
		return err
	}
	qty, err := c.U16()
	if err != nil {
		return err
	}
	byteCount, err := c.U8()
	if err != nil {
		return err
	}
	if err := checkReadRange(r.Address, qty, MaxQuantityWriteRegisters); err != nil {
		return err
	}
	if int(byteCount) != int(qty)*2 {
		return fmt.Errorf("%w: byte count %d for %d registers", ErrInvalidQuantity, byteCount, qty)
	}
	words, err := c.Bytes(int(byteCount))
	if err != nil {
		return err
	}
	if err := expectDrained(c); err != nil {
		return err
	}
	r.Values = BytesToUint16s(words)
	return nil
}

func (r *WriteMultipleRegistersRequest) Execute(img *ProcessImage, unit UnitID) (Response, error) {
	if err := img.WriteMultipleRegisters(unit, r.Address, r.Values); err != nil {
		return nil, err
	}
	return &WriteMultipleRegistersResponse{Address: r.Address, Quantity: uint16(len(r.Values))}, nil
}

// ReportServerIDRequest requests the server identification (FC17).
type ReportServerIDRequest struct{}

func (r *ReportServerIDRequest) FunctionCode() FunctionCode { return FuncReportServerID }

func (r *ReportServerIDRequest) Encode() ([]byte, error) {
	return []byte{byte(FuncReportServerID)}, nil
}

func (r *ReportServerIDRequest) Decode(pdu []byte) error {
	c := newReadCursor(pdu)
	if err := expectFunction(c, FuncReportServerID); err != nil {
		return err
	}
	return expectDrained(c)
}

func (r *ReportServerIDRequest) Execute(img *ProcessImage, unit UnitID) (Response, error) {
	id, err := img.ServerID(unit)
	if err != nil {
		return nil, err
	}
	return &ReportServerIDResponse{Data: id}, nil
}

// FileRecordSubRequest is one sub-request of a ReadFileRecord (FC20).
type FileRecordSubRequest struct {
	File   uint16
	Record uint16
	Length uint16
}

// ReadFileRecordRequest reads file records (FC20).
type ReadFileRecordRequest struct {
	SubRequests []FileRecordSubRequest
}

func (r *ReadFileRecordRequest) FunctionCode() FunctionCode { return FuncReadFileRecord }

func (r *ReadFileRecordRequest) Encode() ([]byte, error) {
	byteCount := len(r.SubRequests) * 7
	if byteCount < 7 || byteCount > 245 {
		return nil, fmt.Errorf("%w: %d sub-requests", ErrInvalidQuantity, len(r.SubRequests))
	}
	c := newWriteCursor(2 + byteCount)
	c.U8(byte(FuncReadFileRecord))
	c.U8(byte(byteCount))
	for _, sub := range r.SubRequests {
		c.U8(FileRecordRefType)
		c.U16(sub.File)
		c.U16(sub.Record)
		c.U16(sub.Length)
	}
	return c.Bytes(), nil
}

func (r *ReadFileRecordRequest) Decode(pdu []byte) error {
	c := newReadCursor(pdu)
	if err := expectFunction(c, FuncReadFileRecord); err != nil {
		return err
	}
	byteCount, err := c.U8()
	if err != nil {
		return err
	}
	if byteCount < 7 || byteCount > 245 || byteCount%7 != 0 {
		return fmt.Errorf("%w: file record byte count %d", ErrInvalidQuantity, byteCount)
	}
	if c.Remaining() != int(byteCount) {
		return fmt.Errorf("%w: %d bytes declared, %d present", ErrTruncated, byteCount, c.Remaining())
	}
	r.SubRequests = make([]FileRecordSubRequest, 0, byteCount/7)
	for i := 0; i < int(byteCount)/7; i++ {
		refType, err := c.U8()
		if err != nil {
			return err
		}
		if refType != FileRecordRefType {
			return fmt.Errorf("%w: reference type %02X", ErrInvalidFrame, refType)
		}
		var sub FileRecordSubRequest
		if sub.File, err = c.U16(); err != nil {
			return err
		}
		if sub.Record, err = c.U16(); err != nil {
			return err
		}
		if sub.Length, err = c.U16(); err != nil {
			return err
		}
		r.SubRequests = append(r.SubRequests, sub)
	}
	return nil
}

func (r *ReadFileRecordRequest) Execute(img *ProcessImage, unit UnitID) (Response, error) {
	records := make([][]uint16, 0, len(r.SubRequests))
	for _, sub := range r.SubRequests {
		words, err := img.ReadFileRecord(unit, sub.File, sub.Record, sub.Length)
		if err != nil {
			return nil, err
		}
		records = append(records, words)
	}
	return &ReadFileRecordResponse{Records: records}, nil
}

// WriteFileRecordSub is one sub-request of a WriteFileRecord (FC21).
type WriteFileRecordSub struct {
	File   uint16
	Record uint16
	Words  []uint16
}

// WriteFileRecordRequest writes file records (FC21).
type WriteFileRecordRequest struct {
	SubRequests []WriteFileRecordSub
}

func (r *WriteFileRecordRequest) FunctionCode() FunctionCode { return FuncWriteFileRecord }

func (r *WriteFileRecordRequest) Encode() ([]byte, error) {
	byteCount := 0
	for _, sub := range r.SubRequests {
		byteCount += 7 + 2*len(sub.Words)
	}
	if byteCount < 9 || byteCount > 251 {
		return nil, fmt.Errorf("%w: file record byte count %d", ErrInvalidQuantity, byteCount)
	}
	c := newWriteCursor(2 + byteCount)
	c.U8(byte(FuncWriteFileRecord))
	c.U8(byte(byteCount))
	for _, sub := range r.SubRequests {
		c.U8(FileRecordRefType)
		c.U16(sub.File)
		c.U16(sub.Record)
		c.U16(uint16(len(sub.Words)))
		for _, w := range sub.Words {
			c.U16(w)
		}
	}
	return c.Bytes(), nil
}

func (r *WriteFileRecordRequest) Decode(pdu []byte) error {
	c := newReadCursor(pdu)
	if err := expectFunction(c, FuncWriteFileRecord); err != nil {
		return err
	}
	byteCount, err := c.U8()
	if err != nil {
		return err
	}
	if byteCount < 9 || byteCount > 251 {
		return fmt.Errorf("%w: file record byte count %d", ErrInvalidQuantity, byteCount)
	}
	if c.Remaining() != int(byteCount) {
		return fmt.Errorf("%w: %d bytes declared, %d present", ErrTruncated, byteCount, c.Remaining())
	}
	r.SubRequests = nil
	for c.Remaining() > 0 {
		refType, err := c.U8()
		if err != nil {
			return err
		}
		if refType != FileRecordRefType {
			return fmt.Errorf("%w: reference type %02X", ErrInvalidFrame, refType)
		}
		var sub WriteFileRecordSub
		if sub.File, err = c.U16(); err != nil {
			return err
		}
		if sub.Record, err = c.U16(); err != nil {
			return err
		}
		length, err := c.U16()
		if err != nil {
			return err
		}
		words, err := c.Bytes(int(length) * 2)
		if err != nil {
			return err
		}
		sub.Words = BytesToUint16s(words)
		r.SubRequests = append(r.SubRequests, sub)
	}
	return nil
}

func (r *WriteFileRecordRequest) Execute(img *ProcessImage, unit UnitID) (Response, error) {
	for _, sub := range r.SubRequests {
		if err := img.WriteFileRecord(unit, sub.File, sub.Record, sub.Words); err != nil {
			return nil, err
		}
	}
	return &WriteFileRecordResponse{SubRequests: r.SubRequests}, nil
}

// MaskWriteRegisterRequest applies an AND/OR mask to a holding register
// (FC22). The new value is (current & AndMask) | (OrMask &^ AndMask).
type MaskWriteRegisterRequest struct {
	Address uint16
	AndMask uint16
	OrMask  uint16
}

func (r *MaskWriteRegisterRequest) FunctionCode() FunctionCode { return FuncMaskWriteRegister }

func (r *MaskWriteRegisterRequest) Encode() ([]byte, error) {
	c := newWriteCursor(7)
	c.U8(byte(FuncMaskWriteRegister))
	c.U16(r.Address)
	c.U16(r.AndMask)
	c.U16(r.OrMask)
	return c.Bytes(), nil
}

func (r *MaskWriteRegisterRequest) Decode(pdu []byte) error {
	c := newReadCursor(pdu)
	if err := expectFunction(c, FuncMaskWriteRegister); err != nil {
		return err
	}
	var err error
	if r.Address, err = c.U16(); err != nil {
		return err
	}
	if r.AndMask, err = c.U16(); err != nil {
		return err
	}
	if r.OrMask, err = c.U16(); err != nil {
		return err
	}
	return expectDrained(c)
}

func (r *MaskWriteRegisterRequest) Execute(img *ProcessImage, unit UnitID) (Response, error) {
	if err := img.MaskWriteRegister(unit, r.Address, r.AndMask, r.OrMask); err != nil {
		return nil, err
	}
	return &MaskWriteRegisterResponse{Address: r.Address, AndMask: r.AndMask, OrMask: r.OrMask}, nil
}

// ReadWriteMultipleRegistersRequest writes then reads holding registers in
// one transaction (FC23). The write is performed before the read.
type ReadWriteMultipleRegistersRequest struct {
	ReadAddress  uint16
	ReadQuantity uint16
	WriteAddress uint16
	WriteValues  []uint16
}

func (r *ReadWriteMultipleRegistersRequest) FunctionCode() FunctionCode {
	return FuncReadWriteMultipleRegisters
}

func (r *ReadWriteMultipleRegistersRequest) Encode() ([]byte, error) {
	if err := checkReadRange(r.ReadAddress, r.ReadQuantity, MaxQuantityRegisters); err != nil {
		return nil, err
	}
	writeQty := uint16(len(r.WriteValues))
	if err := checkReadRange(r.WriteAddress, writeQty, MaxQuantityRWWriteRegisters); err != nil {
		return nil, err
	}
	c := newWriteCursor(10 + 2*len(r.WriteValues))
	c.U8(byte(FuncReadWriteMultipleRegisters))
	c.U16(r.ReadAddress)
	c.U16(r.ReadQuantity)
	c.U16(r.WriteAddress)
	c.U16(writeQty)
	c.U8(byte(2 * writeQty))
	for _, v := range r.WriteValues {
		c.U16(v)
	}
	return c.Bytes(), nil
}

func (r *ReadWriteMultipleRegistersRequest) Decode(pdu []byte) error {
	c := newReadCursor(pdu)
	if err := expectFunction(c, FuncReadWriteMultipleRegisters); err != nil {
		return err
	}
	var err error
	if r.ReadAddress, err = c.U16(); err != nil {
		return err
	}
	if r.ReadQuantity, err = c.U16(); err != nil {
		return err
	}
	if r.WriteAddress, err = c.U16(); err != nil {
		return err
	}
	writeQty, err := c.U16()
	if err != nil {
		return err
	}
	byteCount, err := c.U8()
	if err != nil {
		return err
	}
	if err := checkReadRange(r.ReadAddress, r.ReadQuantity, MaxQuantityRegisters); err != nil {
		return err
	}
	if err := checkReadRange(r.WriteAddress, writeQty, MaxQuantityRWWriteRegisters); err != nil {
		return err
	}
	if int(byteCount) != int(writeQty)*2 {
		return fmt.Errorf("%w: byte count %d for %d registers", ErrInvalidQuantity, byteCount, writeQty)
	}
	words, err := c.Bytes(int(byteCount))
	if err != nil {
		return err
	}
	if err := expectDrained(c); err != nil {
		return err
	}
	r.WriteValues = BytesToUint16s(words)
	return nil
}

func (r *ReadWriteMultipleRegistersRequest) Execute(img *ProcessImage, unit UnitID) (Response, error) {
	values, err := img.ReadWriteMultipleRegisters(unit, r.ReadAddress, r.ReadQuantity, r.WriteAddress, r.WriteValues)
	if err != nil {
		return nil, err
	}
	return &ReadWriteMultipleRegistersResponse{Values: values}, nil
}

// ReadFIFOQueueRequest reads a FIFO queue of registers (FC24).
type ReadFIFOQueueRequest struct {
	Address uint16
}

func (r *ReadFIFOQueueRequest) FunctionCode() FunctionCode { return FuncReadFIFOQueue }

func (r *ReadFIFOQueueRequest) Encode() ([]byte, error) {
	c := newWriteCursor(3)
	c.U8(byte(FuncReadFIFOQueue))
	c.U16(r.Address)
	return c.Bytes(), nil
}

func (r *ReadFIFOQueueRequest) Decode(pdu []byte) error {
	c := newReadCursor(pdu)
	if err := expectFunction(c, FuncReadFIFOQueue); err != nil {
		return err
	}
	var err error
	if r.Address, err = c.U16(); err != nil {
		return err
	}
	return expectDrained(c)
}

func (r *ReadFIFOQueueRequest) Execute(img *ProcessImage, unit UnitID) (Response, error) {
	values, err := img.ReadFIFOQueue(unit, r.Address)
	if err != nil {
		return nil, err
	}
	return &ReadFIFOQueueResponse{Values: values}, nil
}

// ReadDeviceIdentificationRequest reads device identification objects via
// the MEI transport (FC43, MEI type 0x0E).
type ReadDeviceIdentificationRequest struct {
	MEIType      uint8
	DeviceIDCode uint8
	ObjectID     uint8
}

func (r *ReadDeviceIdentificationRequest) FunctionCode() FunctionCode {
	return FuncReadDeviceIdentification
}

func (r *ReadDeviceIdentificationRequest) Encode() ([]byte, error) {
	meiType := r.MEIType
	if meiType == 0 {
		meiType = MEIReadDeviceID
	}
	if r.DeviceIDCode < DeviceIDBasic || r.DeviceIDCode > DeviceIDSpecific {
		return nil, fmt.Errorf("%w: device ID code %d", ErrInvalidQuantity, r.DeviceIDCode)
	}
	return []byte{byte(FuncReadDeviceIdentification), meiType, r.DeviceIDCode, r.ObjectID}, nil
}

func (r *ReadDeviceIdentificationRequest) Decode(pdu []byte) error {
	c := newReadCursor(pdu)
	if err := expectFunction(c, FuncReadDeviceIdentification); err != nil {
		return err
	}
	var err error
	if r.MEIType, err = c.U8(); err != nil {
		return err
	}
	if r.DeviceIDCode, err = c.U8(); err != nil {
		return err
	}
	if r.ObjectID, err = c.U8(); err != nil {
		return err
	}
	if err := expectDrained(c); err != nil {
		return err
	}
	if r.MEIType != MEIReadDeviceID {
		return fmt.Errorf("%w: MEI type %02X", ErrUnknownFunction, r.MEIType)
	}
	if r.DeviceIDCode < DeviceIDBasic || r.DeviceIDCode > DeviceIDSpecific {
		return fmt.Errorf("%w: device ID code %d", ErrInvalidQuantity, r.DeviceIDCode)
	}
	return nil
}

func (r *ReadDeviceIdentificationRequest) Execute(img *ProcessImage, unit UnitID) (Response, error) {
	objects, conformity, err := img.DeviceIdentification(unit, r.DeviceIDCode, r.ObjectID)
	if err != nil {
		return nil, err
	}
	next := uint8(0)
	return &ReadDeviceIdentificationResponse{
		MEIType:      MEIReadDeviceID,
		DeviceIDCode: r.DeviceIDCode,
		Conformity:   conformity,
		MoreFollows:  0,
		NextObjectID: next,
		Objects:      objects,
	}, nil
}
