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
	"fmt"
	"sort"
	"sync"
)

// Default bank sizes for a freshly added unit. Each bank spans the full
// Modbus address space.
const defaultBankSize = 65536

// ImageObserver is notified after a write to the process image has been
// applied. For coil writes value is CoilOn or CoilOff; for multi-element
// writes the observer fires once per element. File record writes report
// the file number as the address and the record number as the value.
type ImageObserver func(unit UnitID, fc FunctionCode, address uint16, value uint16)

// unitImage holds the data banks for a single unit. Each unit carries its
// own lock so traffic to different units does not contend.
type unitImage struct {
	mu sync.RWMutex

	coils     *BitVector
	discretes *BitVector
	holdings  []uint16
	inputs    []uint16

	// files maps file number to its records; each record is a word slice.
	files map[uint16][][]uint16
	// fifos maps pointer address to queue contents, oldest first.
	fifos map[uint16][]uint16

	deviceID        []DeviceIDObject
	serverID        []byte
	exceptionStatus uint8

	running            bool
	eventCounter       uint16
	diagnosticRegister uint16
	busMessageCount    uint16
	busErrorCount      uint16
	busExceptionCount  uint16
	serverMessageCount uint16
	listenOnly         bool
}

func newUnitImage() *unitImage {
	return &unitImage{
		coils:     NewBitVector(defaultBankSize),
		discretes: NewBitVector(defaultBankSize),
		holdings:  make([]uint16, defaultBankSize),
		inputs:    make([]uint16, defaultBankSize),
		files:     make(map[uint16][][]uint16),
		fifos:     make(map[uint16][]uint16),
		running:   true,
	}
}

// ProcessImage is the in-memory data store a slave serves requests from.
// It holds independent coil, discrete input, holding register and input
// register banks per unit, plus file records, FIFO queues and device
// identification. All methods are safe for concurrent use.
type ProcessImage struct {
	mu    sync.RWMutex
	units map[UnitID]*unitImage

	obsMu     sync.RWMutex
	observers []ImageObserver
}

// NewProcessImage creates an empty process image. Units must be added with
// AddUnit before they can be addressed.
func NewProcessImage() *ProcessImage {
	return &ProcessImage{
		units: make(map[UnitID]*unitImage),
	}
}

// AddUnit creates the data banks for a unit. Adding an existing unit is a
// no-op.
func (p *ProcessImage) AddUnit(unit UnitID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.units[unit]; !ok {
		p.units[unit] = newUnitImage()
	}
}

// RemoveUnit drops a unit and its data banks.
func (p *ProcessImage) RemoveUnit(unit UnitID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.units, unit)
}

// HasUnit reports whether the unit exists in the image.
func (p *ProcessImage) HasUnit(unit UnitID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.units[unit]
	return ok
}

// Units returns the unit IDs present in the image, sorted.
func (p *ProcessImage) Units() []UnitID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	units := make([]UnitID, 0, len(p.units))
	for u := range p.units {
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i] < units[j] })
	return units
}

// Observe registers an observer called after every applied write. Observers
// run outside the unit lock; they may read the image but must not block.
func (p *ProcessImage) Observe(obs ImageObserver) {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	p.observers = append(p.observers, obs)
}

func (p *ProcessImage) notify(unit UnitID, fc FunctionCode, address uint16, value uint16) {
	p.obsMu.RLock()
	observers := p.observers
	p.obsMu.RUnlock()
	for _, obs := range observers {
		obs(unit, fc, address, value)
	}
}

// unit resolves a unit's image. A missing unit surfaces as a gateway
// exception so masters can tell it apart from a bad address.
func (p *ProcessImage) unit(id UnitID, fc FunctionCode) (*unitImage, error) {
	p.mu.RLock()
	u, ok := p.units[id]
	p.mu.RUnlock()
	if !ok {
		return nil, NewModbusError(fc, ExceptionGatewayTargetDeviceFailedToRespond)
	}
	return u, nil
}

// ReadCoils returns the state of qty coils starting at address.
func (p *ProcessImage) ReadCoils(unit UnitID, address, qty uint16) ([]bool, error) {
	u, err := p.unit(unit, FuncReadCoils)
	if err != nil {
		return nil, err
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	return readBits(u.coils, address, qty, FuncReadCoils)
}

// ReadDiscreteInputs returns the state of qty discrete inputs starting at
// address.
func (p *ProcessImage) ReadDiscreteInputs(unit UnitID, address, qty uint16) ([]bool, error) {
	u, err := p.unit(unit, FuncReadDiscreteInputs)
	if err != nil {
		return nil, err
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	return readBits(u.discretes, address, qty, FuncReadDiscreteInputs)
}

func readBits(bv *BitVector, address, qty uint16, fc FunctionCode) ([]bool, error) {
	if int(address)+int(qty) > bv.Size() {
		return nil, NewModbusError(fc, ExceptionIllegalDataAddress)
	}
	values := make([]bool, qty)
	for i := range values {
		b, err := bv.Bit(int(address) + i)
		if err != nil {
			return nil, NewModbusError(fc, ExceptionIllegalDataAddress)
		}
		values[i] = b
	}
	return values, nil
}

// ReadHoldingRegisters returns qty holding registers starting at address.
func (p *ProcessImage) ReadHoldingRegisters(unit UnitID, address, qty uint16) ([]uint16, error) {
	u, err := p.unit(unit, FuncReadHoldingRegisters)
	if err != nil {
		return nil, err
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	return readWords(u.holdings, address, qty, FuncReadHoldingRegisters)
}

// ReadInputRegisters returns qty input registers starting at address.
func (p *ProcessImage) ReadInputRegisters(unit UnitID, address, qty uint16) ([]uint16, error) {
	u, err := p.unit(unit, FuncReadInputRegisters)
	if err != nil {
		return nil, err
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	return readWords(u.inputs, address, qty, FuncReadInputRegisters)
}

func readWords(bank []uint16, address, qty uint16, fc FunctionCode) ([]uint16, error) {
	if int(address)+int(qty) > len(bank) {
		return nil, NewModbusError(fc, ExceptionIllegalDataAddress)
	}
	values := make([]uint16, qty)
	copy(values, bank[address:int(address)+int(qty)])
	return values, nil
}

// WriteSingleCoil sets a single coil.
func (p *ProcessImage) WriteSingleCoil(unit UnitID, address uint16, value bool) error {
	u, err := p.unit(unit, FuncWriteSingleCoil)
	if err != nil {
		return err
	}
	u.mu.Lock()
	if int(address) >= u.coils.Size() {
		u.mu.Unlock()
		return NewModbusError(FuncWriteSingleCoil, ExceptionIllegalDataAddress)
	}
	if err := u.coils.SetBit(int(address), value); err != nil {
		u.mu.Unlock()
		return NewModbusError(FuncWriteSingleCoil, ExceptionIllegalDataAddress)
	}
	u.mu.Unlock()

	wire := CoilOff
	if value {
		wire = CoilOn
	}
	p.notify(unit, FuncWriteSingleCoil, address, wire)
	return nil
}

// WriteMultipleCoils sets a run of coils starting at address.
func (p *ProcessImage) WriteMultipleCoils(unit UnitID, address uint16, values []bool) error {
	u, err := p.unit(unit, FuncWriteMultipleCoils)
	if err != nil {
		return err
	}
	u.mu.Lock()
	if int(address)+len(values) > u.coils.Size() {
		u.mu.Unlock()
		return NewModbusError(FuncWriteMultipleCoils, ExceptionIllegalDataAddress)
	}
	for i, v := range values {
		if err := u.coils.SetBit(int(address)+i, v); err != nil {
			u.mu.Unlock()
			return NewModbusError(FuncWriteMultipleCoils, ExceptionIllegalDataAddress)
		}
	}
	u.mu.Unlock()

	for i, v := range values {
		wire := CoilOff
		if v {
			wire = CoilOn
		}
		p.notify(unit, FuncWriteMultipleCoils, address+uint16(i), wire)
	}
	return nil
}

// WriteSingleRegister sets a single holding register.
func (p *ProcessImage) WriteSingleRegister(unit UnitID, address, value uint16) error {
	u, err := p.unit(unit, FuncWriteSingleRegister)
	if err != nil {
		return err
	}
	u.mu.Lock()
	if int(address) >= len(u.holdings) {
		u.mu.Unlock()
		return NewModbusError(FuncWriteSingleRegister, ExceptionIllegalDataAddress)
	}
	u.holdings[address] = value
	u.mu.Unlock()

	p.notify(unit, FuncWriteSingleRegister, address, value)
	return nil
}

// WriteMultipleRegisters sets a run of holding registers starting at
// address.
func (p *ProcessImage) WriteMultipleRegisters(unit UnitID, address uint16, values []uint16) error {
	u, err := p.unit(unit, FuncWriteMultipleRegisters)
	if err != nil {
		return err
	}
	u.mu.Lock()
	if int(address)+len(values) > len(u.holdings) {
		u.mu.Unlock()
		return NewModbusError(FuncWriteMultipleRegisters, ExceptionIllegalDataAddress)
	}
	copy(u.holdings[address:], values)
	u.mu.Unlock()

	for i, v := range values {
		p.notify(unit, FuncWriteMultipleRegisters, address+uint16(i), v)
	}
	return nil
}

// MaskWriteRegister applies (current & andMask) | (orMask &^ andMask) to a
// holding register.
func (p *ProcessImage) MaskWriteRegister(unit UnitID, address, andMask, orMask uint16) error {
	u, err := p.unit(unit, FuncMaskWriteRegister)
	if err != nil {
		return err
	}
	u.mu.Lock()
	if int(address) >= len(u.holdings) {
		u.mu.Unlock()
		return NewModbusError(FuncMaskWriteRegister, ExceptionIllegalDataAddress)
	}
	value := (u.holdings[address] & andMask) | (orMask &^ andMask)
	u.holdings[address] = value
	u.mu.Unlock()

	p.notify(unit, FuncMaskWriteRegister, address, value)
	return nil
}

// ReadWriteMultipleRegisters performs the write then the read under one
// lock acquisition, so the read observes the written values when the
// ranges overlap.
func (p *ProcessImage) ReadWriteMultipleRegisters(unit UnitID, readAddress, readQty, writeAddress uint16, writeValues []uint16) ([]uint16, error) {
	u, err := p.unit(unit, FuncReadWriteMultipleRegisters)
	if err != nil {
		return nil, err
	}
	u.mu.Lock()
	if int(writeAddress)+len(writeValues) > len(u.holdings) ||
		int(readAddress)+int(readQty) > len(u.holdings) {
		u.mu.Unlock()
		return nil, NewModbusError(FuncReadWriteMultipleRegisters, ExceptionIllegalDataAddress)
	}
	copy(u.holdings[writeAddress:], writeValues)
	values := make([]uint16, readQty)
	copy(values, u.holdings[readAddress:int(readAddress)+int(readQty)])
	u.mu.Unlock()

	for i, v := range writeValues {
		p.notify(unit, FuncReadWriteMultipleRegisters, writeAddress+uint16(i), v)
	}
	return values, nil
}

// ReadFIFOQueue returns the contents of the FIFO queue registered at the
// pointer address, oldest first. Reading does not drain the queue.
func (p *ProcessImage) ReadFIFOQueue(unit UnitID, address uint16) ([]uint16, error) {
	u, err := p.unit(unit, FuncReadFIFOQueue)
	if err != nil {
		return nil, err
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	queue, ok := u.fifos[address]
	if !ok {
		return nil, NewModbusError(FuncReadFIFOQueue, ExceptionIllegalDataAddress)
	}
	if len(queue) > MaxFIFOCount {
		return nil, NewModbusError(FuncReadFIFOQueue, ExceptionIllegalDataValue)
	}
	values := make([]uint16, len(queue))
	copy(values, queue)
	return values, nil
}

// SetFIFOQueue registers or replaces the FIFO queue at the pointer address.
func (p *ProcessImage) SetFIFOQueue(unit UnitID, address uint16, values []uint16) error {
	u, err := p.unit(unit, FuncReadFIFOQueue)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	queue := make([]uint16, len(values))
	copy(queue, values)
	u.fifos[address] = queue
	return nil
}

// PushFIFO appends a value to the FIFO queue at the pointer address,
// creating the queue if needed. Values past 31 entries overwrite the
// oldest.
func (p *ProcessImage) PushFIFO(unit UnitID, address uint16, value uint16) error {
	u, err := p.unit(unit, FuncReadFIFOQueue)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	queue := append(u.fifos[address], value)
	if len(queue) > MaxFIFOCount {
		queue = queue[len(queue)-MaxFIFOCount:]
	}
	u.fifos[address] = queue
	return nil
}

// ReadFileRecord returns length words of a file record.
func (p *ProcessImage) ReadFileRecord(unit UnitID, file, record, length uint16) ([]uint16, error) {
	u, err := p.unit(unit, FuncReadFileRecord)
	if err != nil {
		return nil, err
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	records, ok := u.files[file]
	if !ok || int(record) >= len(records) {
		return nil, NewModbusError(FuncReadFileRecord, ExceptionIllegalDataAddress)
	}
	words := records[record]
	if int(length) > len(words) {
		return nil, NewModbusError(FuncReadFileRecord, ExceptionIllegalDataAddress)
	}
	out := make([]uint16, length)
	copy(out, words[:length])
	return out, nil
}

// WriteFileRecord overwrites the leading words of a file record. The record
// must already exist and be at least as long as the write.
func (p *ProcessImage) WriteFileRecord(unit UnitID, file, record uint16, words []uint16) error {
	u, err := p.unit(unit, FuncWriteFileRecord)
	if err != nil {
		return err
	}
	u.mu.Lock()
	records, ok := u.files[file]
	if !ok || int(record) >= len(records) || len(words) > len(records[record]) {
		u.mu.Unlock()
		return NewModbusError(FuncWriteFileRecord, ExceptionIllegalDataAddress)
	}
	copy(records[record], words)
	u.mu.Unlock()

	p.notify(unit, FuncWriteFileRecord, file, record)
	return nil
}

// AddFile creates a file with the given number of fixed-size records, all
// zeroed. An existing file is replaced.
func (p *ProcessImage) AddFile(unit UnitID, file uint16, records int, recordLength int) error {
	u, err := p.unit(unit, FuncReadFileRecord)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	recs := make([][]uint16, records)
	for i := range recs {
		recs[i] = make([]uint16, recordLength)
	}
	u.files[file] = recs
	return nil
}

// ExceptionStatus returns the unit's exception status byte.
func (p *ProcessImage) ExceptionStatus(unit UnitID) (uint8, error) {
	u, err := p.unit(unit, FuncReadExceptionStatus)
	if err != nil {
		return 0, err
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.exceptionStatus, nil
}

// SetExceptionStatus sets the unit's exception status byte.
func (p *ProcessImage) SetExceptionStatus(unit UnitID, status uint8) error {
	u, err := p.unit(unit, FuncReadExceptionStatus)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.exceptionStatus = status
	return nil
}

// CommEventCounter returns the unit's status word (0xFFFF while a long
// running program command is in progress, 0 otherwise) and event count.
func (p *ProcessImage) CommEventCounter(unit UnitID) (uint16, uint16, error) {
	u, err := p.unit(unit, FuncGetCommEventCounter)
	if err != nil {
		return 0, 0, err
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	return 0, u.eventCounter, nil
}

// RecordEvent increments the unit's comm event counter. The slave calls
// this for every successfully serviced message other than counter reads.
func (p *ProcessImage) RecordEvent(unit UnitID) {
	p.mu.RLock()
	u, ok := p.units[unit]
	p.mu.RUnlock()
	if !ok {
		return
	}
	u.mu.Lock()
	u.eventCounter++
	u.serverMessageCount++
	u.mu.Unlock()
}

// ServerID returns the unit's server identification bytes followed by the
// run indicator (0xFF running, 0x00 stopped).
func (p *ProcessImage) ServerID(unit UnitID) ([]byte, error) {
	u, err := p.unit(unit, FuncReportServerID)
	if err != nil {
		return nil, err
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	id := make([]byte, 0, len(u.serverID)+1)
	id = append(id, u.serverID...)
	if u.running {
		id = append(id, 0xFF)
	} else {
		id = append(id, 0x00)
	}
	return id, nil
}

// SetServerID sets the unit's server identification bytes and run state.
func (p *ProcessImage) SetServerID(unit UnitID, id []byte, running bool) error {
	u, err := p.unit(unit, FuncReportServerID)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.serverID = make([]byte, len(id))
	copy(u.serverID, id)
	u.running = running
	return nil
}

// Diagnostics services an FC08 sub-function against the unit's diagnostic
// state and returns the response data field. Unsupported sub-functions
// surface as an illegal-function exception.
func (p *ProcessImage) Diagnostics(unit UnitID, subFunction uint16, data []byte) ([]byte, error) {
	u, err := p.unit(unit, FuncDiagnostics)
	if err != nil {
		return nil, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	word := func(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

	switch subFunction {
	case DiagReturnQueryData:
		echo := make([]byte, len(data))
		copy(echo, data)
		return echo, nil
	case DiagRestartCommunications:
		if len(data) != 2 || (data[0] != 0x00 && data[0] != 0xFF) || data[1] != 0x00 {
			return nil, NewModbusError(FuncDiagnostics, ExceptionIllegalDataValue)
		}
		u.listenOnly = false
		if data[0] == 0xFF {
			u.eventCounter = 0
		}
		echo := make([]byte, len(data))
		copy(echo, data)
		return echo, nil
	case DiagReturnDiagnosticRegister:
		return word(u.diagnosticRegister), nil
	case DiagForceListenOnlyMode:
		u.listenOnly = true
		return nil, nil
	case DiagClearCountersAndDiagnosticRegister:
		u.diagnosticRegister = 0
		u.busMessageCount = 0
		u.busErrorCount = 0
		u.busExceptionCount = 0
		u.serverMessageCount = 0
		echo := make([]byte, len(data))
		copy(echo, data)
		return echo, nil
	case DiagReturnBusMessageCount:
		return word(u.busMessageCount), nil
	case DiagReturnBusCommunicationErrorCount:
		return word(u.busErrorCount), nil
	case DiagReturnBusExceptionErrorCount:
		return word(u.busExceptionCount), nil
	case DiagReturnServerMessageCount:
		return word(u.serverMessageCount), nil
	case DiagReturnServerNoResponseCount, DiagReturnServerNAKCount,
		DiagReturnServerBusyCount, DiagReturnBusCharacterOverrunCount:
		return word(0), nil
	case DiagClearOverrunCounterAndFlag:
		echo := make([]byte, len(data))
		copy(echo, data)
		return echo, nil
	default:
		return nil, NewModbusError(FuncDiagnostics, ExceptionIllegalFunction)
	}
}

// ListenOnly reports whether the unit has been forced into listen-only
// mode via diagnostics.
func (p *ProcessImage) ListenOnly(unit UnitID) bool {
	p.mu.RLock()
	u, ok := p.units[unit]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.listenOnly
}

// SetDeviceIdentification sets the unit's device identification objects.
// Objects are stored sorted by ID.
func (p *ProcessImage) SetDeviceIdentification(unit UnitID, objects []DeviceIDObject) error {
	u, err := p.unit(unit, FuncReadDeviceIdentification)
	if err != nil {
		return err
	}
	sorted := make([]DeviceIDObject, len(objects))
	copy(sorted, objects)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	u.mu.Lock()
	defer u.mu.Unlock()
	u.deviceID = sorted
	return nil
}

// DeviceIdentification returns the identification objects selected by the
// reading code, starting at objectID, plus the conformity level. Code 4
// returns the single named object.
func (p *ProcessImage) DeviceIdentification(unit UnitID, code, objectID uint8) ([]DeviceIDObject, uint8, error) {
	u, err := p.unit(unit, FuncReadDeviceIdentification)
	if err != nil {
		return nil, 0, err
	}
	u.mu.RLock()
	defer u.mu.RUnlock()

	if len(u.deviceID) == 0 {
		return nil, 0, NewModbusError(FuncReadDeviceIdentification, ExceptionIllegalDataAddress)
	}

	// Conformity: highest contiguous category present, plus the
	// individual-access bit.
	conformity := DeviceIDBasic
	for _, obj := range u.deviceID {
		switch {
		case obj.ID >= 0x80:
			conformity = DeviceIDExtended
		case obj.ID > DeviceIDObjectMajorMinorRevision && conformity < DeviceIDExtended:
			conformity = DeviceIDRegular
		}
	}
	conformity |= 0x80

	if code == DeviceIDSpecific {
		for _, obj := range u.deviceID {
			if obj.ID == objectID {
				return []DeviceIDObject{cloneObject(obj)}, conformity, nil
			}
		}
		return nil, 0, NewModbusError(FuncReadDeviceIdentification, ExceptionIllegalDataAddress)
	}

	var limit uint8
	switch code {
	case DeviceIDBasic:
		limit = DeviceIDObjectMajorMinorRevision
	case DeviceIDRegular:
		limit = 0x7F
	case DeviceIDExtended:
		limit = 0xFF
	default:
		return nil, 0, NewModbusError(FuncReadDeviceIdentification, ExceptionIllegalDataValue)
	}

	var objects []DeviceIDObject
	for _, obj := range u.deviceID {
		if obj.ID < objectID || (limit < 0xFF && obj.ID > limit) {
			continue
		}
		objects = append(objects, cloneObject(obj))
	}
	if len(objects) == 0 {
		return nil, 0, NewModbusError(FuncReadDeviceIdentification, ExceptionIllegalDataAddress)
	}
	return objects, conformity, nil
}

func cloneObject(obj DeviceIDObject) DeviceIDObject {
	value := make([]byte, len(obj.Value))
	copy(value, obj.Value)
	return DeviceIDObject{ID: obj.ID, Value: value}
}

// SetDiscreteInput sets a discrete input bit directly. Discrete inputs are
// read-only on the wire; this is the application-side seam.
func (p *ProcessImage) SetDiscreteInput(unit UnitID, address uint16, value bool) error {
	u, err := p.unit(unit, FuncReadDiscreteInputs)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if int(address) >= u.discretes.Size() {
		return fmt.Errorf("%w: discrete input %d", ErrInvalidAddress, address)
	}
	return u.discretes.SetBit(int(address), value)
}

// SetInputRegister sets an input register directly.
func (p *ProcessImage) SetInputRegister(unit UnitID, address, value uint16) error {
	u, err := p.unit(unit, FuncReadInputRegisters)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if int(address) >= len(u.inputs) {
		return fmt.Errorf("%w: input register %d", ErrInvalidAddress, address)
	}
	u.inputs[address] = value
	return nil
}

// ImageHandler services decoded requests against a ProcessImage. It is the
// standard slave-side Handler.
type ImageHandler struct {
	image *ProcessImage
}

// NewImageHandler creates a handler backed by the given image.
func NewImageHandler(image *ProcessImage) *ImageHandler {
	return &ImageHandler{image: image}
}

// Image returns the backing process image.
func (h *ImageHandler) Image() *ProcessImage {
	return h.image
}

// Handle executes the request against the process image. Successful
// operations other than counter reads bump the unit's comm event counter.
// A unit in listen-only mode still applies requests but returns a nil
// response so the dispatcher stays silent; that covers the
// force-listen-only diagnostic itself and the restart-communications
// diagnostic that clears the mode, neither of which is answered.
func (h *ImageHandler) Handle(unit UnitID, req Request) (Response, error) {
	listenOnly := h.image.ListenOnly(unit)

	resp, err := req.Execute(h.image, unit)
	if err == nil && req.FunctionCode() != FuncGetCommEventCounter {
		h.image.RecordEvent(unit)
	}

	if listenOnly || h.image.ListenOnly(unit) {
		return nil, nil
	}
	return resp, err
}
