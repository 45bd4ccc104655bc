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
	"testing"
)

func TestBitVectorBasics(t *testing.T) {
	bv := NewBitVector(10)
	if bv.Size() != 10 {
		t.Errorf("Size = %d, want 10", bv.Size())
	}
	if bv.ByteSize() != 2 {
		t.Errorf("ByteSize = %d, want 2", bv.ByteSize())
	}

	if err := bv.SetBit(0, true); err != nil {
		t.Fatalf("SetBit(0): %v", err)
	}
	if err := bv.SetBit(9, true); err != nil {
		t.Fatalf("SetBit(9): %v", err)
	}

	got, err := bv.Bit(0)
	if err != nil || !got {
		t.Errorf("Bit(0) = %v %v, want true", got, err)
	}
	got, err = bv.Bit(5)
	if err != nil || got {
		t.Errorf("Bit(5) = %v %v, want false", got, err)
	}

	// Bit 0 is the LSB of byte 0.
	if b := bv.Bytes(); b[0] != 0x01 || b[1] != 0x02 {
		t.Errorf("Bytes = % X, want 01 02", b)
	}

	if err := bv.SetBit(9, false); err != nil {
		t.Fatalf("clear bit: %v", err)
	}
	if b := bv.Bytes(); b[1] != 0x00 {
		t.Errorf("byte 1 after clear = %02X, want 00", b[1])
	}
}

func TestBitVectorBounds(t *testing.T) {
	bv := NewBitVector(8)
	if _, err := bv.Bit(-1); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Bit(-1) err = %v, want ErrInvalidAddress", err)
	}
	if err := bv.SetBit(8, true); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("SetBit(8) err = %v, want ErrInvalidAddress", err)
	}
}

func TestBitVectorMSBAccess(t *testing.T) {
	bv := NewBitVector(16)
	bv.ToggleAccess()
	if !bv.IsMSBAccess() {
		t.Fatal("ToggleAccess did not enable MSB access")
	}

	// In MSB access mode, index 0 maps to the MSB of byte 0.
	if err := bv.SetBit(0, true); err != nil {
		t.Fatalf("SetBit: %v", err)
	}
	if b := bv.Bytes(); b[0] != 0x80 {
		t.Errorf("byte 0 = %02X, want 80", b[0])
	}

	// The same index reads back regardless of access mode translation.
	got, err := bv.Bit(0)
	if err != nil || !got {
		t.Errorf("Bit(0) = %v %v, want true", got, err)
	}

	bv.ToggleAccess()
	// Back in LSB mode the physical bit is index 7.
	got, err = bv.Bit(7)
	if err != nil || !got {
		t.Errorf("Bit(7) after toggle = %v %v, want true", got, err)
	}
}

func TestBitVectorFromBytes(t *testing.T) {
	bv := BitVectorFromBytes([]byte{0xCD, 0x01}, 10)
	if bv.Size() != 10 {
		t.Errorf("Size = %d, want 10", bv.Size())
	}

	// 0xCD = 1100_1101: bits 0,2,3,6,7 set.
	want := []bool{true, false, true, true, false, false, true, true, true, false}
	for i, w := range want {
		got, err := bv.Bit(i)
		if err != nil {
			t.Fatalf("Bit(%d): %v", i, err)
		}
		if got != w {
			t.Errorf("Bit(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestBitVectorForceSize(t *testing.T) {
	bv := NewBitVector(16)
	if err := bv.ForceSize(12); err != nil {
		t.Fatalf("ForceSize(12): %v", err)
	}
	if bv.Size() != 12 {
		t.Errorf("Size = %d, want 12", bv.Size())
	}
	if err := bv.ForceSize(17); err == nil {
		t.Error("ForceSize past the byte store should fail")
	}
}
