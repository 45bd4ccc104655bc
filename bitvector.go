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
	"strings"
)

// Bit-permutation offsets for MSB access. With m = i%4 and d = i/4, the
// physical index is i+straightOffsets[m] when d is even and i+oddOffsets[m]
// when d is odd. This reproduces the coil ordering Modbus expects for bit
// runs that straddle byte boundaries.
var (
	straightOffsets = [4]int{7, 5, 3, 1}
	oddOffsets      = [4]int{-1, -3, -5, -7}
)

// BitVector is a collection of bits packed into bytes. By default bit 0 is
// the LSB of the first byte; MSB access mode permutes indexes instead.
type BitVector struct {
	data      []byte
	size      int
	msbAccess bool
}

// NewBitVector creates a BitVector able to hold size bits. Storage rounds
// up to whole bytes.
func NewBitVector(size int) *BitVector {
	byteSize := size / 8
	if size%8 > 0 {
		byteSize++
	}
	return &BitVector{
		data: make([]byte, byteSize),
		size: size,
	}
}

// BitVectorFromBytes creates a BitVector wrapping a copy of data, preserving
// the bytes verbatim, with the bit count forced to size.
func BitVectorFromBytes(data []byte, size int) *BitVector {
	bv := &BitVector{
		data: make([]byte, len(data)),
		size: size,
	}
	copy(bv.data, data)
	return bv
}

// ToggleAccess switches between LSB access (bit 0 is the rightmost bit of
// byte 0) and MSB access.
func (bv *BitVector) ToggleAccess() {
	bv.msbAccess = !bv.msbAccess
}

// IsMSBAccess reports whether index 0 maps to the MSB side.
func (bv *BitVector) IsMSBAccess() bool {
	return bv.msbAccess
}

// Size returns the number of bits.
func (bv *BitVector) Size() int {
	return bv.size
}

// ByteSize returns the number of bytes backing the vector.
func (bv *BitVector) ByteSize() int {
	return len(bv.data)
}

// Bytes returns a copy of the backing bytes.
func (bv *BitVector) Bytes() []byte {
	dest := make([]byte, len(bv.data))
	copy(dest, bv.data)
	return dest
}

// SetBytes overwrites the backing bytes with data.
func (bv *BitVector) SetBytes(data []byte) {
	copy(bv.data, data)
}

// ForceSize shrinks or grows the bit count within the existing byte
// capacity.
func (bv *BitVector) ForceSize(size int) error {
	if size > len(bv.data)*8 {
		return fmt.Errorf("modbus: size %d exceeds byte store of %d bits", size, len(bv.data)*8)
	}
	bv.size = size
	return nil
}

// Bit returns the state of the bit at index. Bounds are checked against the
// byte capacity, not Size: indexes past Size but inside the last byte are
// accepted.
func (bv *BitVector) Bit(index int) (bool, error) {
	if index < 0 {
		return false, fmt.Errorf("%w: bit index %d", ErrInvalidAddress, index)
	}
	index = bv.translateIndex(index)
	if index < 0 || index >= len(bv.data)*8 {
		return false, fmt.Errorf("%w: bit index %d", ErrInvalidAddress, index)
	}
	return bv.data[index/8]&(1<<(index%8)) != 0, nil
}

// SetBit sets the state of the bit at index. Bounds follow the same
// byte-capacity rule as Bit.
func (bv *BitVector) SetBit(index int, b bool) error {
	if index < 0 {
		return fmt.Errorf("%w: bit index %d", ErrInvalidAddress, index)
	}
	index = bv.translateIndex(index)
	if index < 0 || index >= len(bv.data)*8 {
		return fmt.Errorf("%w: bit index %d", ErrInvalidAddress, index)
	}
	if b {
		bv.data[index/8] |= 1 << (index % 8)
	} else {
		bv.data[index/8] &^= 1 << (index % 8)
	}
	return nil
}

// String renders each byte as 8 binary digits MSB-first, except the last
// byte which shows only the remaining bits.
func (bv *BitVector) String() string {
	var sb strings.Builder
	for i, b := range bv.data {
		bits := 8
		if remaining := bv.size - i*8; remaining < 8 {
			bits = remaining
		}
		for j := bits - 1; j >= 0; j-- {
			if b&(1<<j) != 0 {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
		sb.WriteByte(' ')
	}
	return sb.String()
}

func (bv *BitVector) translateIndex(idx int) int {
	if !bv.msbAccess {
		return idx
	}
	m := idx % 4
	if (idx/4)%2 != 0 {
		return idx + oddOffsets[m]
	}
	return idx + straightOffsets[m]
}
