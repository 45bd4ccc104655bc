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
	"testing"
)

func TestBoolsToBytes(t *testing.T) {
	// The 10-coil reference pattern packs to CD 01.
	coils := []bool{true, false, true, true, false, false, true, true, true, false}
	packed := BoolsToBytes(coils)
	if !bytes.Equal(packed, []byte{0xCD, 0x01}) {
		t.Errorf("packed = % X, want CD 01", packed)
	}
	if got := BytesToBools(packed, 10); !reflect.DeepEqual(got, coils) {
		t.Errorf("round trip = %v", got)
	}
}

func TestUint16sToBytes(t *testing.T) {
	words := []uint16{0x022B, 0x0064}
	data := Uint16sToBytes(words)
	if !bytes.Equal(data, []byte{0x02, 0x2B, 0x00, 0x64}) {
		t.Errorf("data = % X", data)
	}
	if got := BytesToUint16s(data); !reflect.DeepEqual(got, words) {
		t.Errorf("round trip = %v", got)
	}
}

func TestFloat32Registers(t *testing.T) {
	regs := Float32ToRegisters(1.0)
	if regs != [2]uint16{0x3F80, 0x0000} {
		t.Errorf("registers = %04X", regs)
	}
	if got := RegistersToFloat32(regs); got != 1.0 {
		t.Errorf("value = %v", got)
	}
}

func TestInt32Registers(t *testing.T) {
	regs := Int32ToRegisters(-2)
	if regs != [2]uint16{0xFFFF, 0xFFFE} {
		t.Errorf("registers = %04X", regs)
	}
	if got := RegistersToInt32(regs); got != -2 {
		t.Errorf("value = %v", got)
	}
}

func TestUint32Registers(t *testing.T) {
	regs := Uint32ToRegisters(0x0001_E240)
	if regs != [2]uint16{0x0001, 0xE240} {
		t.Errorf("registers = %04X", regs)
	}
	if got := RegistersToUint32(regs); got != 0x0001_E240 {
		t.Errorf("value = %v", got)
	}
}
