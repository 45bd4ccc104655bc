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
	"encoding/binary"
	"math"
)

// BoolsToBytes packs a slice of bools into bytes, LSB-first in the
// low-address direction.
func BoolsToBytes(values []bool) []byte {
	byteCount := (len(values) + 7) / 8
	result := make([]byte, byteCount)
	for i, v := range values {
		if v {
			result[i/8] |= 1 << (i % 8)
		}
	}
	return result
}

// BytesToBools unpacks count bools from packed bytes.
func BytesToBools(data []byte, count int) []bool {
	result := make([]bool, count)
	for i := 0; i < count; i++ {
		result[i] = (data[i/8] & (1 << (i % 8))) != 0
	}
	return result
}

// Uint16sToBytes converts a slice of uint16 to a byte slice (big endian).
func Uint16sToBytes(values []uint16) []byte {
	result := make([]byte, len(values)*2)
	for i, v := range values {
		binary.BigEndian.PutUint16(result[i*2:], v)
	}
	return result
}

// BytesToUint16s converts a byte slice to a slice of uint16 (big endian).
func BytesToUint16s(data []byte) []uint16 {
	count := len(data) / 2
	result := make([]uint16, count)
	for i := 0; i < count; i++ {
		result[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return result
}

// Float32ToRegisters converts a float32 to two uint16 registers (big endian).
func Float32ToRegisters(f float32) [2]uint16 {
	bits := math.Float32bits(f)
	return [2]uint16{
		uint16(bits >> 16),
		uint16(bits & 0xFFFF),
	}
}

// RegistersToFloat32 converts two uint16 registers to a float32 (big endian).
func RegistersToFloat32(regs [2]uint16) float32 {
	bits := uint32(regs[0])<<16 | uint32(regs[1])
	return math.Float32frombits(bits)
}

// Int32ToRegisters converts an int32 to two uint16 registers (big endian).
func Int32ToRegisters(i int32) [2]uint16 {
	return [2]uint16{
		uint16(i >> 16),
		uint16(i & 0xFFFF),
	}
}

// RegistersToInt32 converts two uint16 registers to an int32 (big endian).
func RegistersToInt32(regs [2]uint16) int32 {
	return int32(regs[0])<<16 | int32(regs[1])
}

// Uint32ToRegisters converts a uint32 to two uint16 registers (big endian).
func Uint32ToRegisters(u uint32) [2]uint16 {
	return [2]uint16{
		uint16(u >> 16),
		uint16(u & 0xFFFF),
	}
}

// RegistersToUint32 converts two uint16 registers to a uint32 (big endian).
func RegistersToUint32(regs [2]uint16) uint32 {
	return uint32(regs[0])<<16 | uint32(regs[1])
}
