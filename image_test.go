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
	"bytes"
	"reflect"
	"sync"
	"testing"
)

func newTestImage(t *testing.T, units ...UnitID) *ProcessImage {
	t.Helper()
	img := NewProcessImage()
	for _, u := range units {
		img.AddUnit(u)
	}
	return img
}

func TestProcessImageCoils(t *testing.T) {
	img := newTestImage(t, 1)

	if err := img.WriteSingleCoil(1, 10, true); err != nil {
		t.Fatalf("WriteSingleCoil: %v", err)
	}
	if err := img.WriteMultipleCoils(1, 20, []bool{true, false, true}); err != nil {
		t.Fatalf("WriteMultipleCoils: %v", err)
	}

	values, err := img.ReadCoils(1, 10, 1)
	if err != nil || !values[0] {
		t.Errorf("ReadCoils(10) = %v %v, want true", values, err)
	}
	values, err = img.ReadCoils(1, 20, 3)
	if err != nil {
		t.Fatalf("ReadCoils: %v", err)
	}
	if !reflect.DeepEqual(values, []bool{true, false, true}) {
		t.Errorf("ReadCoils(20,3) = %v", values)
	}
}

func TestProcessImageMissingUnit(t *testing.T) {
	img := newTestImage(t, 1)

	_, err := img.ReadHoldingRegisters(9, 0, 1)
	if !IsException(err, ExceptionGatewayTargetDeviceFailedToRespond) {
		t.Errorf("missing unit err = %v, want gateway exception", err)
	}
}

func TestProcessImageAddressBounds(t *testing.T) {
	img := newTestImage(t, 1)

	if _, err := img.ReadHoldingRegisters(1, 0xFFFF, 2); !IsIllegalDataAddress(err) {
		t.Errorf("read past bank err = %v, want illegal data address", err)
	}
	if err := img.WriteMultipleRegisters(1, 0xFFFF, []uint16{1, 2}); !IsIllegalDataAddress(err) {
		t.Errorf("write past bank err = %v, want illegal data address", err)
	}
}

func TestProcessImageMaskWriteRegister(t *testing.T) {
	img := newTestImage(t, 1)

	// The worked example from the function's definition:
	// (12 & F2) | (25 &^ F2) = 17.
	if err := img.WriteSingleRegister(1, 4, 0x0012); err != nil {
		t.Fatalf("WriteSingleRegister: %v", err)
	}
	if err := img.MaskWriteRegister(1, 4, 0x00F2, 0x0025); err != nil {
		t.Fatalf("MaskWriteRegister: %v", err)
	}
	values, err := img.ReadHoldingRegisters(1, 4, 1)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	if values[0] != 0x0017 {
		t.Errorf("register = %04X, want 0017", values[0])
	}
}

func TestProcessImageReadWriteMultipleRegisters(t *testing.T) {
	img := newTestImage(t, 1)

	if err := img.WriteMultipleRegisters(1, 0, []uint16{1, 2, 3, 4}); err != nil {
		t.Fatalf("WriteMultipleRegisters: %v", err)
	}

	// Overlapping ranges: the write lands before the read.
	values, err := img.ReadWriteMultipleRegisters(1, 0, 4, 1, []uint16{0xAA, 0xBB})
	if err != nil {
		t.Fatalf("ReadWriteMultipleRegisters: %v", err)
	}
	want := []uint16{1, 0xAA, 0xBB, 4}
	if !reflect.DeepEqual(values, want) {
		t.Errorf("values = %04X, want %04X", values, want)
	}
}

func TestProcessImageObservers(t *testing.T) {
	img := newTestImage(t, 1)

	var mu sync.Mutex
	type event struct {
		fc      FunctionCode
		address uint16
		value   uint16
	}
	var events []event
	img.Observe(func(unit UnitID, fc FunctionCode, address, value uint16) {
		mu.Lock()
		events = append(events, event{fc, address, value})
		mu.Unlock()
	})

	img.WriteSingleCoil(1, 3, true)
	img.WriteMultipleRegisters(1, 10, []uint16{7, 8})
	if err := img.AddFile(1, 4, 3, 10); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	img.WriteFileRecord(1, 4, 1, []uint16{9})

	mu.Lock()
	defer mu.Unlock()
	want := []event{
		{FuncWriteSingleCoil, 3, CoilOn},
		{FuncWriteMultipleRegisters, 10, 7},
		{FuncWriteMultipleRegisters, 11, 8},
		// File record writes report (file, record).
		{FuncWriteFileRecord, 4, 1},
	}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("events = %+v, want %+v", events, want)
	}
}

func TestProcessImageFIFO(t *testing.T) {
	img := newTestImage(t, 1)

	if err := img.SetFIFOQueue(1, 0x04DE, []uint16{0x01B8, 0x1284}); err != nil {
		t.Fatalf("SetFIFOQueue: %v", err)
	}
	values, err := img.ReadFIFOQueue(1, 0x04DE)
	if err != nil {
		t.Fatalf("ReadFIFOQueue: %v", err)
	}
	if !reflect.DeepEqual(values, []uint16{0x01B8, 0x1284}) {
		t.Errorf("values = %04X", values)
	}

	// Reading does not drain the queue.
	if values, _ = img.ReadFIFOQueue(1, 0x04DE); len(values) != 2 {
		t.Errorf("second read drained the queue: %04X", values)
	}

	// Pushing past the limit drops the oldest entries.
	for i := 0; i < 40; i++ {
		if err := img.PushFIFO(1, 0x04DE, uint16(i)); err != nil {
			t.Fatalf("PushFIFO: %v", err)
		}
	}
	values, err = img.ReadFIFOQueue(1, 0x04DE)
	if err != nil {
		t.Fatalf("ReadFIFOQueue after push: %v", err)
	}
	if len(values) != MaxFIFOCount {
		t.Errorf("len = %d, want %d", len(values), MaxFIFOCount)
	}
	if values[len(values)-1] != 39 {
		t.Errorf("newest entry = %d, want 39", values[len(values)-1])
	}

	if _, err := img.ReadFIFOQueue(1, 0x0000); !IsIllegalDataAddress(err) {
		t.Errorf("unregistered pointer err = %v", err)
	}
}

func TestProcessImageFileRecords(t *testing.T) {
	img := newTestImage(t, 1)

	if err := img.AddFile(1, 4, 3, 10); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := img.WriteFileRecord(1, 4, 1, []uint16{0x0DFE, 0x0020}); err != nil {
		t.Fatalf("WriteFileRecord: %v", err)
	}
	words, err := img.ReadFileRecord(1, 4, 1, 3)
	if err != nil {
		t.Fatalf("ReadFileRecord: %v", err)
	}
	if !reflect.DeepEqual(words, []uint16{0x0DFE, 0x0020, 0}) {
		t.Errorf("words = %04X", words)
	}

	if _, err := img.ReadFileRecord(1, 9, 0, 1); !IsIllegalDataAddress(err) {
		t.Errorf("missing file err = %v", err)
	}
	if _, err := img.ReadFileRecord(1, 4, 3, 1); !IsIllegalDataAddress(err) {
		t.Errorf("missing record err = %v", err)
	}
	if err := img.WriteFileRecord(1, 4, 0, make([]uint16, 11)); !IsIllegalDataAddress(err) {
		t.Errorf("oversized write err = %v", err)
	}
}

func TestProcessImageDiagnostics(t *testing.T) {
	img := newTestImage(t, 1)

	echo, err := img.Diagnostics(1, DiagReturnQueryData, []byte{0xA5, 0x37})
	if err != nil || !bytes.Equal(echo, []byte{0xA5, 0x37}) {
		t.Errorf("query data echo = % X %v", echo, err)
	}

	if _, err := img.Diagnostics(1, 0x55, nil); !IsIllegalFunction(err) {
		t.Errorf("unsupported sub-function err = %v", err)
	}

	if _, err := img.Diagnostics(1, DiagForceListenOnlyMode, nil); err != nil {
		t.Fatalf("force listen only: %v", err)
	}
	if !img.ListenOnly(1) {
		t.Error("ListenOnly = false after forcing")
	}

	// Restart leaves listen-only mode; 0xFF00 also clears the event counter.
	img.RecordEvent(1)
	if _, err := img.Diagnostics(1, DiagRestartCommunications, []byte{0xFF, 0x00}); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if img.ListenOnly(1) {
		t.Error("ListenOnly = true after restart")
	}
	if _, count, _ := img.CommEventCounter(1); count != 0 {
		t.Errorf("event counter = %d after clearing restart", count)
	}

	if _, err := img.Diagnostics(1, DiagRestartCommunications, []byte{0x12, 0x34}); !IsIllegalDataValue(err) {
		t.Errorf("bad restart data err = %v", err)
	}
}

func TestProcessImageEventCounter(t *testing.T) {
	img := newTestImage(t, 1)

	img.RecordEvent(1)
	img.RecordEvent(1)
	status, count, err := img.CommEventCounter(1)
	if err != nil {
		t.Fatalf("CommEventCounter: %v", err)
	}
	if status != 0 || count != 2 {
		t.Errorf("status,count = %04X,%d, want 0,2", status, count)
	}
}

func TestProcessImageServerID(t *testing.T) {
	img := newTestImage(t, 1)

	if err := img.SetServerID(1, []byte("pump-7"), true); err != nil {
		t.Fatalf("SetServerID: %v", err)
	}
	id, err := img.ServerID(1)
	if err != nil {
		t.Fatalf("ServerID: %v", err)
	}
	if !bytes.Equal(id, append([]byte("pump-7"), 0xFF)) {
		t.Errorf("id = % X", id)
	}

	img.SetServerID(1, []byte("pump-7"), false)
	id, _ = img.ServerID(1)
	if id[len(id)-1] != 0x00 {
		t.Errorf("run indicator = %02X, want 00", id[len(id)-1])
	}
}

func TestProcessImageDeviceIdentification(t *testing.T) {
	img := newTestImage(t, 1)

	objects := []DeviceIDObject{
		{ID: DeviceIDObjectProductCode, Value: []byte("X-1")},
		{ID: DeviceIDObjectVendorName, Value: []byte("j2mod")},
		{ID: DeviceIDObjectMajorMinorRevision, Value: []byte("1.0")},
		{ID: DeviceIDObjectProductName, Value: []byte("Test Device")},
	}
	if err := img.SetDeviceIdentification(1, objects); err != nil {
		t.Fatalf("SetDeviceIdentification: %v", err)
	}

	// Basic stream: objects 0-2, sorted by ID.
	got, conformity, err := img.DeviceIdentification(1, DeviceIDBasic, 0)
	if err != nil {
		t.Fatalf("DeviceIdentification: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("basic stream returned %d objects, want 3", len(got))
	}
	if got[0].ID != DeviceIDObjectVendorName || !bytes.Equal(got[0].Value, []byte("j2mod")) {
		t.Errorf("first object = %+v", got[0])
	}
	if conformity&0x80 == 0 {
		t.Errorf("conformity %02X lacks the individual-access bit", conformity)
	}
	if conformity&0x7F != DeviceIDRegular {
		t.Errorf("conformity = %02X, want regular level", conformity)
	}

	// Regular stream includes the product name.
	got, _, err = img.DeviceIdentification(1, DeviceIDRegular, 0)
	if err != nil || len(got) != 4 {
		t.Errorf("regular stream = %d objects %v, want 4", len(got), err)
	}

	// Individual access returns exactly the named object.
	got, _, err = img.DeviceIdentification(1, DeviceIDSpecific, DeviceIDObjectProductName)
	if err != nil || len(got) != 1 || !bytes.Equal(got[0].Value, []byte("Test Device")) {
		t.Errorf("specific access = %+v %v", got, err)
	}

	if _, _, err := img.DeviceIdentification(1, DeviceIDSpecific, 0x55); !IsIllegalDataAddress(err) {
		t.Errorf("missing object err = %v", err)
	}
}

func TestImageHandlerRecordsEvents(t *testing.T) {
	img := newTestImage(t, 1)
	h := NewImageHandler(img)

	resp, err := h.Handle(1, &WriteSingleRegisterRequest{Address: 0, Value: 42})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if _, ok := resp.(*WriteSingleRegisterResponse); !ok {
		t.Fatalf("response type = %T", resp)
	}

	// Counter reads do not bump the counter themselves.
	resp, err = h.Handle(1, &GetCommEventCounterRequest{})
	if err != nil {
		t.Fatalf("Handle counter: %v", err)
	}
	if got := resp.(*GetCommEventCounterResponse).EventCount; got != 1 {
		t.Errorf("EventCount = %d, want 1", got)
	}
}

func TestProcessImageUnits(t *testing.T) {
	img := newTestImage(t, 5, 1, 3)

	if !img.HasUnit(3) || img.HasUnit(2) {
		t.Error("HasUnit gave wrong membership")
	}
	if got := img.Units(); !reflect.DeepEqual(got, []UnitID{1, 3, 5}) {
		t.Errorf("Units = %v", got)
	}

	img.RemoveUnit(3)
	if img.HasUnit(3) {
		t.Error("unit survived RemoveUnit")
	}
}
