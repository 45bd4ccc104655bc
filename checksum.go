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

// crc16Table is the lookup table for CRC-16/Modbus (polynomial 0xA001,
// reflected), built once at init.
var crc16Table [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		crc := uint16(i)
		for j := 0; j < 8; j++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
		crc16Table[i] = crc
	}
}

// CRC16 computes the Modbus CRC-16 of data (init 0xFFFF, polynomial 0xA001).
// The low byte is transmitted first on the wire.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = (crc >> 8) ^ crc16Table[byte(crc)^b]
	}
	return crc
}

// LRC computes the Modbus ASCII longitudinal redundancy check: the 8-bit
// two's complement of the sum of all bytes.
func LRC(data []byte) uint8 {
	var sum uint8
	for _, b := range data {
		sum += b
	}
	return uint8(-int8(sum))
}

const hexDigits = "0123456789ABCDEF"

// appendHex appends the two uppercase ASCII hex digits of b.
func appendHex(dst []byte, b byte) []byte {
	return append(dst, hexDigits[b>>4], hexDigits[b&0x0F])
}

// fromHexDigit converts one ASCII hex digit. Lowercase digits are accepted
// on receive even though the protocol mandates uppercase on transmit.
func fromHexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}

// fromHexPair converts two ASCII hex digits to one byte.
func fromHexPair(hi, lo byte) (byte, bool) {
	h, ok := fromHexDigit(hi)
	if !ok {
		return 0, false
	}
	l, ok := fromHexDigit(lo)
	if !ok {
		return 0, false
	}
	return h<<4 | l, true
}
