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

// ReadCoilsResponse carries packed coil states (FC01). Decode recovers
// byteCount*8 values; callers truncate to the quantity they asked for.
type ReadCoilsResponse struct {
	Values []bool
}

func (r *ReadCoilsResponse) FunctionCode() FunctionCode { return FuncReadCoils }

func (r *ReadCoilsResponse) Encode() ([]byte, error) {
	return encodeBitsResponse(FuncReadCoils, r.Values)
}

func (r *ReadCoilsResponse) Decode(pdu []byte) error {
	values, err := decodeBitsResponse(pdu, FuncReadCoils)
	if err != nil {
		return err
	}
	r.Values = values
	return nil
}

// ReadDiscreteInputsResponse carries packed discrete input states (FC02).
type ReadDiscreteInputsResponse struct {
	Values []bool
}

func (r *ReadDiscreteInputsResponse) FunctionCode() FunctionCode { return FuncReadDiscreteInputs }

func (r *ReadDiscreteInputsResponse) Encode() ([]byte, error) {
	return encodeBitsResponse(FuncReadDiscreteInputs, r.Values)
}

func (r *ReadDiscreteInputsResponse) Decode(pdu []byte) error {
	values, err := decodeBitsResponse(pdu, FuncReadDiscreteInputs)
	if err != nil {
		return err
	}
	r.Values = values
	return nil
}

func encodeBitsResponse(fc FunctionCode, values []bool) ([]byte, error) {
	if len(values) < 1 || len(values) > MaxQuantityCoils {
		return nil, fmt.Errorf("%w: %d bits", ErrInvalidQuantity, len(values))
	}
	packed := BoolsToBytes(values)
	c := newWriteCursor(2 + len(packed))
	c.U8(byte(fc))
	c.U8(byte(len(packed)))
	c.Write(packed)
	return c.Bytes(), nil
}

func decodeBitsResponse(pdu []byte, fc FunctionCode) ([]bool, error) {
	c := newReadCursor(pdu)
	if err := expectFunction(c, fc); err != nil {
		return nil, err
	}
	byteCount, err := c.U8()
	if err != nil {
		return nil, err
	}
	packed, err := c.Bytes(int(byteCount))
	if err != nil {
		return nil, err
	}
	if err := expectDrained(c); err != nil {
		return nil, err
	}
	return BytesToBools(packed, int(byteCount)*8), nil
}

// ReadHoldingRegistersResponse carries holding register words (FC03).
type ReadHoldingRegistersResponse struct {
	Values []uint16
}

func (r *ReadHoldingRegistersResponse) FunctionCode() FunctionCode { return FuncReadHoldingRegisters }

func (r *ReadHoldingRegistersResponse) Encode() ([]byte, error) {
	return encodeWordsResponse(FuncReadHoldingRegisters, r.Values)
}

func (r *ReadHoldingRegistersResponse) Decode(pdu []byte) error {
	values, err := decodeWordsResponse(pdu, FuncReadHoldingRegisters)
	if err != nil {
		return err
	}
	r.Values = values
	return nil
}

// ReadInputRegistersResponse carries input register words (FC04).
type ReadInputRegistersResponse struct {
	Values []uint16
}

func (r *ReadInputRegistersResponse) FunctionCode() FunctionCode { return FuncReadInputRegisters }

func (r *ReadInputRegistersResponse) Encode() ([]byte, error) {
	return encodeWordsResponse(FuncReadInputRegisters, r.Values)
}

func (r *ReadInputRegistersResponse) Decode(pdu []byte) error {
	values, err := decodeWordsResponse(pdu, FuncReadInputRegisters)
	if err != nil {
		return err
	}
	r.Values = values
	return nil
}

func encodeWordsResponse(fc FunctionCode, values []uint16) ([]byte, error) {
	if len(values) < 1 || len(values) > MaxQuantityRegisters {
		return nil, fmt.Errorf("%w: %d registers", ErrInvalidQuantity, len(values))
	}
	c := newWriteCursor(2 + 2*len(values))
	c.U8(byte(fc))
	c.U8(byte(2 * len(values)))
	for _, v := range values {
		c.U16(v)
	}
	return c.Bytes(), nil
}

func decodeWordsResponse(pdu []byte, fc FunctionCode) ([]uint16, error) {
	c := newReadCursor(pdu)
	if err := expectFunction(c, fc); err != nil {
		return nil, err
	}
	byteCount, err := c.U8()
	if err != nil {
		return nil, err
	}
	if byteCount%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrInvalidFrame, byteCount)
	}
	words, err := c.Bytes(int(byteCount))
	if err != nil {
		return nil, err
	}
	if err := expectDrained(c); err != nil {
		return nil, err
	}
	return BytesToUint16s(words), nil
}

// WriteSingleCoilResponse echoes a single coil write (FC05). Value carries
// the raw wire value, 0xFF00 or 0x0000.
type WriteSingleCoilResponse struct {
	Address uint16
	Value   uint16
}

func (r *WriteSingleCoilResponse) FunctionCode() FunctionCode { return FuncWriteSingleCoil }

func (r *WriteSingleCoilResponse) Encode() ([]byte, error) {
	c := newWriteCursor(5)
	c.U8(byte(FuncWriteSingleCoil))
	c.U16(r.Address)
	c.U16(r.Value)
	return c.Bytes(), nil
}

func (r *WriteSingleCoilResponse) Decode(pdu []byte) error {
	return decodeEchoPair(pdu, FuncWriteSingleCoil, &r.Address, &r.Value)
}

// On reports whether the echoed value means the coil is on.
func (r *WriteSingleCoilResponse) On() bool {
	return r.Value == CoilOn
}

// WriteSingleRegisterResponse echoes a single register write (FC06).
type WriteSingleRegisterResponse struct {
	Address uint16
	Value   uint16
}

func (r *WriteSingleRegisterResponse) FunctionCode() FunctionCode { return FuncWriteSingleRegister }

func (r *WriteSingleRegisterResponse) Encode() ([]byte, error) {
	c := newWriteCursor(5)
	c.U8(byte(FuncWriteSingleRegister))
	c.U16(r.Address)
	c.U16(r.Value)
	return c.Bytes(), nil
}

func (r *WriteSingleRegisterResponse) Decode(pdu []byte) error {
	return decodeEchoPair(pdu, FuncWriteSingleRegister, &r.Address, &r.Value)
}

func decodeEchoPair(pdu []byte, fc FunctionCode, first, second *uint16) error {
	c := newReadCursor(pdu)
	if err := expectFunction(c, fc); err != nil {
		return err
	}
	var err error
	if *first, err = c.U16(); err != nil {
		return err
	}
	if *second, err = c.U16(); err != nil {
		return err
	}
	return expectDrained(c)
}

// ReadExceptionStatusResponse carries the exception status byte (FC07).
type ReadExceptionStatusResponse struct {
	Status uint8
}

func (r *ReadExceptionStatusResponse) FunctionCode() FunctionCode { return FuncReadExceptionStatus }

func (r *ReadExceptionStatusResponse) Encode() ([]byte, error) {
	return []byte{byte(FuncReadExceptionStatus), r.Status}, nil
}

func (r *ReadExceptionStatusResponse) Decode(pdu []byte) error {
	c := newReadCursor(pdu)
	if err := expectFunction(c, FuncReadExceptionStatus); err != nil {
		return err
	}
	var err error
	if r.Status, err = c.U8(); err != nil {
		return err
	}
	return expectDrained(c)
}

// DiagnosticsResponse echoes a diagnostic operation (FC08).
type DiagnosticsResponse struct {
	SubFunction uint16
	Data        []byte
}

func (r *DiagnosticsResponse) FunctionCode() FunctionCode { return FuncDiagnostics }

func (r *DiagnosticsResponse) Encode() ([]byte, error) {
	c := newWriteCursor(3 + len(r.Data))
	c.U8(byte(FuncDiagnostics))
	c.U16(r.SubFunction)
	c.Write(r.Data)
	return c.Bytes(), nil
}

func (r *DiagnosticsResponse) Decode(pdu []byte) error {
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

// GetCommEventCounterResponse carries the comm event counter (FC11).
type GetCommEventCounterResponse struct {
	Status     uint16
	EventCount uint16
}

func (r *GetCommEventCounterResponse) FunctionCode() FunctionCode { return FuncGetCommEventCounter }

func (r *GetCommEventCounterResponse) Encode() ([]byte, error) {
	c := newWriteCursor(5)
	c.U8(byte(FuncGetCommEventCounter))
	c.U16(r.Status)
	c.U16(r.EventCount)
	return c.Bytes(), nil
}

func (r *GetCommEventCounterResponse) Decode(pdu []byte) error {
	return decodeEchoPair(pdu, FuncGetCommEventCounter, &r.Status, &r.EventCount)
}

// WriteMultipleCoilsResponse acknowledges a multi-coil write (FC15).
type WriteMultipleCoilsResponse struct {
	Address  uint16
	Quantity uint16
}

func (r *WriteMultipleCoilsResponse) FunctionCode() FunctionCode { return FuncWriteMultipleCoils }

func (r *WriteMultipleCoilsResponse) Encode() ([]byte, error) {
	c := newWriteCursor(5)
	c.U8(byte(FuncWriteMultipleCoils))
	c.U16(r.Address)
	c.U16(r.Quantity)
	return c.Bytes(), nil
}

func (r *WriteMultipleCoilsResponse) Decode(pdu []byte) error {
	return decodeEchoPair(pdu, FuncWriteMultipleCoils, &r.Address, &r.Quantity)
}

// WriteMultipleRegistersResponse acknowledges a multi-register write (FC16).
type WriteMultipleRegistersResponse struct {
	Address  uint16
	Quantity uint16
}

func (r *WriteMultipleRegistersResponse) FunctionCode() FunctionCode {
	return FuncWriteMultipleRegisters
}

func (r *WriteMultipleRegistersResponse) Encode() ([]byte, error) {
	c := newWriteCursor(5)
	c.U8(byte(FuncWriteMultipleRegisters))
	c.U16(r.Address)
	c.U16(r.Quantity)
	return c.Bytes(), nil
}

func (r *WriteMultipleRegistersResponse) Decode(pdu []byte) error {
	return decodeEchoPair(pdu, FuncWriteMultipleRegisters, &r.Address, &r.Quantity)
}

// ReportServerIDResponse carries the server identification bytes including
// the run indicator (FC17).
type ReportServerIDResponse struct {
	Data []byte
}

func (r *ReportServerIDResponse) FunctionCode() FunctionCode { return FuncReportServerID }

func (r *ReportServerIDResponse) Encode() ([]byte, error) {
	data := r.Data
	if len(data) > 250 {
		data = data[:250]
	}
	c := newWriteCursor(2 + len(data))
	c.U8(byte(FuncReportServerID))
	c.U8(byte(len(data)))
	c.Write(data)
	return c.Bytes(), nil
}

func (r *ReportServerIDResponse) Decode(pdu []byte) error {
	c := newReadCursor(pdu)
	if err := expectFunction(c, FuncReportServerID); err != nil {
		return err
	}
	byteCount, err := c.U8()
	if err != nil {
		return err
	}
	data, err := c.Bytes(int(byteCount))
	if err != nil {
		return err
	}
	if err := expectDrained(c); err != nil {
		return err
	}
	r.Data = make([]byte, len(data))
	copy(r.Data, data)
	return nil
}

// ReadFileRecordResponse carries the words of each file record sub-request
// (FC20).
type ReadFileRecordResponse struct {
	Records [][]uint16
}

func (r *ReadFileRecordResponse) FunctionCode() FunctionCode { return FuncReadFileRecord }

func (r *ReadFileRecordResponse) Encode() ([]byte, error) {
	byteCount := 0
	for _, rec := range r.Records {
		byteCount += 2 + 2*len(rec)
	}
	if byteCount < 4 || byteCount > 251 {
		return nil, fmt.Errorf("%w: file record byte count %d", ErrInvalidQuantity, byteCount)
	}
	c := newWriteCursor(2 + byteCount)
	c.U8(byte(FuncReadFileRecord))
	c.U8(byte(byteCount))
	for _, rec := range r.Records {
		c.U8(byte(1 + 2*len(rec)))
		c.U8(FileRecordRefType)
		for _, w := range rec {
			c.U16(w)
		}
	}
	return c.Bytes(), nil
}

func (r *ReadFileRecordResponse) Decode(pdu []byte) error {
	c := newReadCursor(pdu)
	if err := expectFunction(c, FuncReadFileRecord); err != nil {
		return err
	}
	byteCount, err := c.U8()
	if err != nil {
		return err
	}
	if c.Remaining() != int(byteCount) {
		return fmt.Errorf("%w: %d bytes declared, %d present", ErrTruncated, byteCount, c.Remaining())
	}
	r.Records = nil
	for c.Remaining() > 0 {
		respLen, err := c.U8()
		if err != nil {
			return err
		}
		if respLen < 1 || respLen%2 == 0 {
			return fmt.Errorf("%w: file response length %d", ErrInvalidFrame, respLen)
		}
		refType, err := c.U8()
		if err != nil {
			return err
		}
		if refType != FileRecordRefType {
			return fmt.Errorf("%w: reference type %02X", ErrInvalidFrame, refType)
		}
		words, err := c.Bytes(int(respLen) - 1)
		if err != nil {
			return err
		}
		r.Records = append(r.Records, BytesToUint16s(words))
	}
	return nil
}

// WriteFileRecordResponse echoes a file record write (FC21).
type WriteFileRecordResponse struct {
	SubRequests []WriteFileRecordSub
}

func (r *WriteFileRecordResponse) FunctionCode() FunctionCode { return FuncWriteFileRecord }

func (r *WriteFileRecordResponse) Encode() ([]byte, error) {
	req := WriteFileRecordRequest{SubRequests: r.SubRequests}
	return req.Encode()
}

func (r *WriteFileRecordResponse) Decode(pdu []byte) error {
	var req WriteFileRecordRequest
	if err := req.Decode(pdu); err != nil {
		return err
	}
	r.SubRequests = req.SubRequests
	return nil
}

// MaskWriteRegisterResponse echoes a mask write (FC22).
type MaskWriteRegisterResponse struct {
	Address uint16
	AndMask uint16
	OrMask  uint16
}

func (r *MaskWriteRegisterResponse) FunctionCode() FunctionCode { return FuncMaskWriteRegister }

func (r *MaskWriteRegisterResponse) Encode() ([]byte, error) {
	c := newWriteCursor(7)
	c.U8(byte(FuncMaskWriteRegister))
	c.U16(r.Address)
	c.U16(r.AndMask)
	c.U16(r.OrMask)
	return c.Bytes(), nil
}

func (r *MaskWriteRegisterResponse) Decode(pdu []byte) error {
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

// ReadWriteMultipleRegistersResponse carries the registers read by FC23.
type ReadWriteMultipleRegistersResponse struct {
	Values []uint16
}

func (r *ReadWriteMultipleRegistersResponse) FunctionCode() FunctionCode {
	return FuncReadWriteMultipleRegisters
}

func (r *ReadWriteMultipleRegistersResponse) Encode() ([]byte, error) {
	return encodeWordsResponse(FuncReadWriteMultipleRegisters, r.Values)
}

func (r *ReadWriteMultipleRegistersResponse) Decode(pdu []byte) error {
	values, err := decodeWordsResponse(pdu, FuncReadWriteMultipleRegisters)
	if err != nil {
		return err
	}
	r.Values = values
	return nil
}

// ReadFIFOQueueResponse carries the FIFO queue contents (FC24).
type ReadFIFOQueueResponse struct {
	Values []uint16
}

func (r *ReadFIFOQueueResponse) FunctionCode() FunctionCode { return FuncReadFIFOQueue }

func (r *ReadFIFOQueueResponse) Encode() ([]byte, error) {
	if len(r.Values) > MaxFIFOCount {
		return nil, fmt.Errorf("%w: FIFO count %d", ErrInvalidQuantity, len(r.Values))
	}
	c := newWriteCursor(5 + 2*len(r.Values))
	c.U8(byte(FuncReadFIFOQueue))
	c.U16(uint16(2 + 2*len(r.Values)))
	c.U16(uint16(len(r.Values)))
	for _, v := range r.Values {
		c.U16(v)
	}
	return c.Bytes(), nil
}

func (r *ReadFIFOQueueResponse) Decode(pdu []byte) error {
	c := newReadCursor(pdu)
	if err := expectFunction(c, FuncReadFIFOQueue); err != nil {
		return err
	}
	byteCount, err := c.U16()
	if err != nil {
		return err
	}
	fifoCount, err := c.U16()
	if err != nil {
		return err
	}
	if fifoCount > MaxFIFOCount {
		return fmt.Errorf("%w: FIFO count %d", ErrInvalidQuantity, fifoCount)
	}
	if int(byteCount) != 2+2*int(fifoCount) {
		return fmt.Errorf("%w: FIFO byte count %d for %d words", ErrInvalidFrame, byteCount, fifoCount)
	}
	words, err := c.Bytes(int(fifoCount) * 2)
	if err != nil {
		return err
	}
	if err := expectDrained(c); err != nil {
		return err
	}
	r.Values = BytesToUint16s(words)
	return nil
}

// DeviceIDObject is one device identification object (FC43).
type DeviceIDObject struct {
	ID    uint8
	Value []byte
}

// ReadDeviceIdentificationResponse carries device identification objects
// (FC43, MEI type 0x0E).
type ReadDeviceIdentificationResponse struct {
	MEIType      uint8
	DeviceIDCode uint8
	Conformity   uint8
	MoreFollows  uint8
	NextObjectID uint8
	Objects      []DeviceIDObject
}

func (r *ReadDeviceIdentificationResponse) FunctionCode() FunctionCode {
	return FuncReadDeviceIdentification
}

func (r *ReadDeviceIdentificationResponse) Encode() ([]byte, error) {
	if len(r.Objects) > 255 {
		return nil, fmt.Errorf("%w: %d objects", ErrInvalidQuantity, len(r.Objects))
	}
	size := 7
	for _, obj := range r.Objects {
		size += 2 + len(obj.Value)
	}
	if size > MaxPDUSize {
		return nil, fmt.Errorf("%w: device ID response of %d bytes", ErrInvalidQuantity, size)
	}
	c := newWriteCursor(size)
	c.U8(byte(FuncReadDeviceIdentification))
	c.U8(r.MEIType)
	c.U8(r.DeviceIDCode)
	c.U8(r.Conformity)
	c.U8(r.MoreFollows)
	c.U8(r.NextObjectID)
	c.U8(byte(len(r.Objects)))
	for _, obj := range r.Objects {
		c.U8(obj.ID)
		c.U8(byte(len(obj.Value)))
		c.Write(obj.Value)
	}
	return c.Bytes(), nil
}

func (r *ReadDeviceIdentificationResponse) Decode(pdu []byte) error {
	c := newReadCursor(pdu)
	if err := expectFunction(c, FuncReadDeviceIdentification); err != nil {
		return err
	}
	var err error
	if r.MEIType, err = c.U8(); err != nil {
		return err
	}
	if r.MEIType != MEIReadDeviceID {
		return fmt.Errorf("%w: MEI type %02X", ErrUnknownFunction, r.MEIType)
	}
	if r.DeviceIDCode, err = c.U8(); err != nil {
		return err
	}
	if r.Conformity, err = c.U8(); err != nil {
		return err
	}
	if r.MoreFollows, err = c.U8(); err != nil {
		return err
	}
	if r.NextObjectID, err = c.U8(); err != nil {
		return err
	}
	numObjects, err := c.U8()
	if err != nil {
		return err
	}
	r.Objects = make([]DeviceIDObject, 0, numObjects)
	for i := 0; i < int(numObjects); i++ {
		var obj DeviceIDObject
		if obj.ID, err = c.U8(); err != nil {
			return err
		}
		length, err := c.U8()
		if err != nil {
			return err
		}
		value, err := c.Bytes(int(length))
		if err != nil {
			return err
		}
		obj.Value = make([]byte, len(value))
		copy(obj.Value, value)
		r.Objects = append(r.Objects, obj)
	}
	return expectDrained(c)
}
