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
	"context"
	"fmt"
)

// The typed API wraps Execute with per-function request/response types.
// Read responses carry whole bytes of packed bits; the bit reads truncate
// to the requested quantity.

func respTypeError(resp Response) error {
	return fmt.Errorf("%w: unexpected response type %T", ErrInvalidResponse, resp)
}

// ReadCoils reads coils using the default unit ID (FC01).
func (m *Master) ReadCoils(ctx context.Context, addr, qty uint16) ([]bool, error) {
	return m.ReadCoilsWithUnit(ctx, m.UnitID(), addr, qty)
}

// ReadCoilsWithUnit reads coils using a specific unit ID.
func (m *Master) ReadCoilsWithUnit(ctx context.Context, unitID UnitID, addr, qty uint16) ([]bool, error) {
	resp, err := m.Execute(ctx, unitID, &ReadCoilsRequest{Address: addr, Quantity: qty})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(*ReadCoilsResponse)
	if !ok {
		return nil, respTypeError(resp)
	}
	if len(r.Values) < int(qty) {
		return nil, fmt.Errorf("%w: %d coils returned, %d requested", ErrInvalidResponse, len(r.Values), qty)
	}
	return r.Values[:qty], nil
}

// ReadDiscreteInputs reads discrete inputs using the default unit ID (FC02).
func (m *Master) ReadDiscreteInputs(ctx context.Context, addr, qty uint16) ([]bool, error) {
	return m.ReadDiscreteInputsWithUnit(ctx, m.UnitID(), addr, qty)
}

// ReadDiscreteInputsWithUnit reads discrete inputs using a specific unit ID.
func (m *Master) ReadDiscreteInputsWithUnit(ctx context.Context, unitID UnitID, addr, qty uint16) ([]bool, error) {
	resp, err := m.Execute(ctx, unitID, &ReadDiscreteInputsRequest{Address: addr, Quantity: qty})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(*ReadDiscreteInputsResponse)
	if !ok {
		return nil, respTypeError(resp)
	}
	if len(r.Values) < int(qty) {
		return nil, fmt.Errorf("%w: %d inputs returned, %d requested", ErrInvalidResponse, len(r.Values), qty)
	}
	return r.Values[:qty], nil
}

// ReadHoldingRegisters reads holding registers using the default unit ID (FC03).
func (m *Master) ReadHoldingRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	return m.ReadHoldingRegistersWithUnit(ctx, m.UnitID(), addr, qty)
}

// ReadHoldingRegistersWithUnit reads holding registers using a specific unit ID.
func (m *Master) ReadHoldingRegistersWithUnit(ctx context.Context, unitID UnitID, addr, qty uint16) ([]uint16, error) {
	resp, err := m.Execute(ctx, unitID, &ReadHoldingRegistersRequest{Address: addr, Quantity: qty})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(*ReadHoldingRegistersResponse)
	if !ok {
		return nil, respTypeError(resp)
	}
	if len(r.Values) != int(qty) {
		return nil, fmt.Errorf("%w: %d registers returned, %d requested", ErrInvalidResponse, len(r.Values), qty)
	}
	return r.Values, nil
}

// ReadInputRegisters reads input registers using the default unit ID (FC04).
func (m *Master) ReadInputRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	return m.ReadInputRegistersWithUnit(ctx, m.UnitID(), addr, qty)
}

// ReadInputRegistersWithUnit reads input registers using a specific unit ID.
func (m *Master) ReadInputRegistersWithUnit(ctx context.Context, unitID UnitID, addr, qty uint16) ([]uint16, error) {
	resp, err := m.Execute(ctx, unitID, &ReadInputRegistersRequest{Address: addr, Quantity: qty})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(*ReadInputRegistersResponse)
	if !ok {
		return nil, respTypeError(resp)
	}
	if len(r.Values) != int(qty) {
		return nil, fmt.Errorf("%w: %d registers returned, %d requested", ErrInvalidResponse, len(r.Values), qty)
	}
	return r.Values, nil
}

// WriteSingleCoil writes a single coil using the default unit ID (FC05).
func (m *Master) WriteSingleCoil(ctx context.Context, addr uint16, value bool) error {
	return m.WriteSingleCoilWithUnit(ctx, m.UnitID(), addr, value)
}

// WriteSingleCoilWithUnit writes a single coil using a specific unit ID.
func (m *Master) WriteSingleCoilWithUnit(ctx context.Context, unitID UnitID, addr uint16, value bool) error {
	resp, err := m.Execute(ctx, unitID, &WriteSingleCoilRequest{Address: addr, Value: value})
	if err != nil {
		return err
	}
	r, ok := resp.(*WriteSingleCoilResponse)
	if !ok {
		return respTypeError(resp)
	}
	if r.Address != addr || r.On() != value {
		return fmt.Errorf("%w: echo mismatch", ErrInvalidResponse)
	}
	return nil
}

// WriteSingleRegister writes a single register using the default unit ID (FC06).
func (m *Master) WriteSingleRegister(ctx context.Context, addr, value uint16) error {
	return m.WriteSingleRegisterWithUnit(ctx, m.UnitID(), addr, value)
}

// WriteSingleRegisterWithUnit writes a single register using a specific unit ID.
func (m *Master) WriteSingleRegisterWithUnit(ctx context.Context, unitID UnitID, addr, value uint16) error {
	resp, err := m.Execute(ctx, unitID, &WriteSingleRegisterRequest{Address: addr, Value: value})
	if err != nil {
		return err
	}
	r, ok := resp.(*WriteSingleRegisterResponse)
	if !ok {
		return respTypeError(resp)
	}
	if r.Address != addr || r.Value != value {
		return fmt.Errorf("%w: echo mismatch", ErrInvalidResponse)
	}
	return nil
}

// WriteMultipleCoils writes multiple coils using the default unit ID (FC15).
func (m *Master) WriteMultipleCoils(ctx context.Context, addr uint16, values []bool) error {
	return m.WriteMultipleCoilsWithUnit(ctx, m.UnitID(), addr, values)
}

// WriteMultipleCoilsWithUnit writes multiple coils using a specific unit ID.
func (m *Master) WriteMultipleCoilsWithUnit(ctx context.Context, unitID UnitID, addr uint16, values []bool) error {
	resp, err := m.Execute(ctx, unitID, &WriteMultipleCoilsRequest{Address: addr, Values: values})
	if err != nil {
		return err
	}
	r, ok := resp.(*WriteMultipleCoilsResponse)
	if !ok {
		return respTypeError(resp)
	}
	if r.Address != addr || int(r.Quantity) != len(values) {
		return fmt.Errorf("%w: echo mismatch", ErrInvalidResponse)
	}
	return nil
}

// WriteMultipleRegisters writes multiple registers using the default unit ID (FC16).
func (m *Master) WriteMultipleRegisters(ctx context.Context, addr uint16, values []uint16) error {
	return m.WriteMultipleRegistersWithUnit(ctx, m.UnitID(), addr, values)
}

// WriteMultipleRegistersWithUnit writes multiple registers using a specific unit ID.
func (m *Master) WriteMultipleRegistersWithUnit(ctx context.Context, unitID UnitID, addr uint16, values []uint16) error {
	resp, err := m.Execute(ctx, unitID, &WriteMultipleRegistersRequest{Address: addr, Values: values})
	if err != nil {
		return err
	}
	r, ok := resp.(*WriteMultipleRegistersResponse)
	if !ok {
		return respTypeError(resp)
	}
	if r.Address != addr || int(r.Quantity) != len(values) {
		return fmt.Errorf("%w: echo mismatch", ErrInvalidResponse)
	}
	return nil
}

// MaskWriteRegister applies an AND/OR mask to a holding register (FC22).
func (m *Master) MaskWriteRegister(ctx context.Context, addr, andMask, orMask uint16) error {
	resp, err := m.Execute(ctx, m.UnitID(), &MaskWriteRegisterRequest{
		Address: addr, AndMask: andMask, OrMask: orMask,
	})
	if err != nil {
		return err
	}
	r, ok := resp.(*MaskWriteRegisterResponse)
	if !ok {
		return respTypeError(resp)
	}
	if r.Address != addr || r.AndMask != andMask || r.OrMask != orMask {
		return fmt.Errorf("%w: echo mismatch", ErrInvalidResponse)
	}
	return nil
}

// ReadWriteMultipleRegisters writes then reads holding registers in one
// transaction (FC23).
func (m *Master) ReadWriteMultipleRegisters(ctx context.Context, readAddr, readQty, writeAddr uint16, writeValues []uint16) ([]uint16, error) {
	resp, err := m.Execute(ctx, m.UnitID(), &ReadWriteMultipleRegistersRequest{
		ReadAddress:  readAddr,
		ReadQuantity: readQty,
		WriteAddress: writeAddr,
		WriteValues:  writeValues,
	})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(*ReadWriteMultipleRegistersResponse)
	if !ok {
		return nil, respTypeError(resp)
	}
	if len(r.Values) != int(readQty) {
		return nil, fmt.Errorf("%w: %d registers returned, %d requested", ErrInvalidResponse, len(r.Values), readQty)
	}
	return r.Values, nil
}

// ReadFIFOQueue reads the FIFO queue at the pointer address (FC24).
func (m *Master) ReadFIFOQueue(ctx context.Context, addr uint16) ([]uint16, error) {
	resp, err := m.Execute(ctx, m.UnitID(), &ReadFIFOQueueRequest{Address: addr})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(*ReadFIFOQueueResponse)
	if !ok {
		return nil, respTypeError(resp)
	}
	return r.Values, nil
}

// ReadFileRecord reads file records (FC20); one word slice per
// sub-request.
func (m *Master) ReadFileRecord(ctx context.Context, subs []FileRecordSubRequest) ([][]uint16, error) {
	resp, err := m.Execute(ctx, m.UnitID(), &ReadFileRecordRequest{SubRequests: subs})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(*ReadFileRecordResponse)
	if !ok {
		return nil, respTypeError(resp)
	}
	if len(r.Records) != len(subs) {
		return nil, fmt.Errorf("%w: %d records returned, %d requested", ErrInvalidResponse, len(r.Records), len(subs))
	}
	return r.Records, nil
}

// WriteFileRecord writes file records (FC21).
func (m *Master) WriteFileRecord(ctx context.Context, subs []WriteFileRecordSub) error {
	resp, err := m.Execute(ctx, m.UnitID(), &WriteFileRecordRequest{SubRequests: subs})
	if err != nil {
		return err
	}
	if _, ok := resp.(*WriteFileRecordResponse); !ok {
		return respTypeError(resp)
	}
	return nil
}

// ReadDeviceIdentification reads device identification objects (FC43).
func (m *Master) ReadDeviceIdentification(ctx context.Context, code, objectID uint8) (*ReadDeviceIdentificationResponse, error) {
	resp, err := m.Execute(ctx, m.UnitID(), &ReadDeviceIdentificationRequest{
		MEIType:      MEIReadDeviceID,
		DeviceIDCode: code,
		ObjectID:     objectID,
	})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(*ReadDeviceIdentificationResponse)
	if !ok {
		return nil, respTypeError(resp)
	}
	return r, nil
}

// ReadExceptionStatus reads the exception status byte (FC07).
func (m *Master) ReadExceptionStatus(ctx context.Context) (uint8, error) {
	resp, err := m.Execute(ctx, m.UnitID(), &ReadExceptionStatusRequest{})
	if err != nil {
		return 0, err
	}
	r, ok := resp.(*ReadExceptionStatusResponse)
	if !ok {
		return 0, respTypeError(resp)
	}
	return r.Status, nil
}

// Diagnostics performs a diagnostic operation (FC08).
func (m *Master) Diagnostics(ctx context.Context, subFunc uint16, data []byte) ([]byte, error) {
	resp, err := m.Execute(ctx, m.UnitID(), &DiagnosticsRequest{SubFunction: subFunc, Data: data})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(*DiagnosticsResponse)
	if !ok {
		return nil, respTypeError(resp)
	}
	if r.SubFunction != subFunc {
		return nil, fmt.Errorf("%w: sub-function mismatch", ErrInvalidResponse)
	}
	return r.Data, nil
}

// GetCommEventCounter reads the communication event counter (FC11).
func (m *Master) GetCommEventCounter(ctx context.Context) (status, eventCount uint16, err error) {
	resp, err := m.Execute(ctx, m.UnitID(), &GetCommEventCounterRequest{})
	if err != nil {
		return 0, 0, err
	}
	r, ok := resp.(*GetCommEventCounterResponse)
	if !ok {
		return 0, 0, respTypeError(resp)
	}
	return r.Status, r.EventCount, nil
}

// ReportServerID requests the server identification (FC17).
func (m *Master) ReportServerID(ctx context.Context) ([]byte, error) {
	resp, err := m.Execute(ctx, m.UnitID(), &ReportServerIDRequest{})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(*ReportServerIDResponse)
	if !ok {
		return nil, respTypeError(resp)
	}
	return r.Data, nil
}
