// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vscp

import "math"

// Normalized integer layout: one normalizer byte followed by 1-4 big-endian
// two's-complement magnitude bytes. The value is mantissa * 10^exponent.
const (
	normalizerSignBit  = 0x80
	normalizerExpMask  = 0x7F
	maxNormalizedBytes = 5
)

// Data coding byte of measurement events
const (
	codingNormalizedInteger = 0x80 // bits 7..5 = 100
	codingUnitShift         = 3
	codingUnitMask          = 0x03
	codingIndexMask         = 0x07
	codingTypeMask          = 0xE0
)

// EncodeNormalizedInteger writes value*10^exp into buf and returns the number of
// bytes used (2-5). Trailing decimal zeros are folded into the exponent first, so
// 330e1 is stored as 33e2. Returns 0 and leaves buf untouched when buf is too
// small or the exponent cannot be represented.
func EncodeNormalizedInteger(value int32, exp int8, buf []byte) int {
	if exp == math.MinInt8 {
		return 0
	}
	for value != 0 && value%10 == 0 && exp < math.MaxInt8 {
		value /= 10
		exp++
	}

	mag := uint32(value)
	if value < 0 {
		mag = uint32(-int64(value))
	}

	var width int
	switch {
	case mag < 0x80:
		width = 1
	case mag < 0x8000:
		width = 2
	case mag < 0x800000:
		width = 3
	default:
		width = 4
	}

	if len(buf) < width+1 {
		return 0
	}

	if exp < 0 {
		buf[0] = normalizerSignBit | uint8(-exp)
	} else {
		buf[0] = uint8(exp)
	}

	raw := uint32(value)
	for i := 0; i < width; i++ {
		buf[width-i] = byte(raw >> (8 * i))
	}
	return width + 1
}

// DecodeNormalizedInteger is the inverse of EncodeNormalizedInteger. The value
// width is taken from len(buf); sizes outside 1..5 yield (0, 0).
func DecodeNormalizedInteger(buf []byte) (int32, int8) {
	if len(buf) < 1 || len(buf) > maxNormalizedBytes {
		return 0, 0
	}

	exp := int8(buf[0] & normalizerExpMask)
	if buf[0]&normalizerSignBit != 0 {
		exp = -exp
	}

	var value int32
	switch len(buf) {
	case 2:
		value = int32(int8(buf[1]))
	case 3:
		value = int32(int16(uint16(buf[1])<<8 | uint16(buf[2])))
	case 4:
		raw := uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
		if buf[1]&0x80 != 0 {
			raw |= 0xFF000000
		}
		value = int32(raw)
	case 5:
		value = int32(uint32(buf[1])<<24 | uint32(buf[2])<<16 | uint32(buf[3])<<8 | uint32(buf[4]))
	}
	return value, exp
}

// EncodeMeasurement writes a measurement data field: the data coding byte
// (normalized integer, unit, sensor index) followed by the normalized integer.
// Returns the number of bytes used, or 0 if buf is too small.
func EncodeMeasurement(buf []byte, unit, sensorIndex uint8, value int32, exp int8) int {
	if len(buf) < 2 {
		return 0
	}
	n := EncodeNormalizedInteger(value, exp, buf[1:])
	if n == 0 {
		return 0
	}
	buf[0] = codingNormalizedInteger | (unit&codingUnitMask)<<codingUnitShift | sensorIndex&codingIndexMask
	return n + 1
}

// DecodeMeasurement parses a measurement data field written by EncodeMeasurement.
// ok is false when the coding byte is not a normalized integer.
func DecodeMeasurement(data []byte) (unit, sensorIndex uint8, value int32, exp int8, ok bool) {
	if len(data) < 2 || data[0]&codingTypeMask != codingNormalizedInteger {
		return 0, 0, 0, 0, false
	}
	unit = (data[0] >> codingUnitShift) & codingUnitMask
	sensorIndex = data[0] & codingIndexMask
	value, exp = DecodeNormalizedInteger(data[1:])
	return unit, sensorIndex, value, exp, true
}
