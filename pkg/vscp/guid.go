// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vscp

import (
	"fmt"
	"strconv"
	"strings"
)

// GUID is the 16-byte globally unique node identifier, most significant byte first.
type GUID [GUIDSize]byte

// ParseGUID parses the colon separated form "FF:FF:...:01".
func ParseGUID(s string) (GUID, error) {
	var g GUID
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != GUIDSize {
		return g, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidGUID, GUIDSize, len(parts))
	}
	for i, p := range parts {
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return g, fmt.Errorf("%w: byte %d: %v", ErrInvalidGUID, i, err)
		}
		g[i] = byte(b)
	}
	return g, nil
}

func (g GUID) String() string {
	var sb strings.Builder
	for i, b := range g {
		if i > 0 {
			sb.WriteByte(':')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

// IsZero reports whether every byte is zero.
func (g GUID) IsZero() bool {
	return g == GUID{}
}

// ProbeKey returns the seven byte tie-break key carried in nickname probes.
// Bytes 9..15 are used as is with bytes 0..8 folded in, so GUIDs that share
// their low bytes still produce different keys.
func (g GUID) ProbeKey() [7]byte {
	var key [7]byte
	copy(key[:], g[GUIDSize-len(key):])
	for i := 0; i < GUIDSize-len(key); i++ {
		key[i%len(key)] ^= g[i]
	}
	return key
}

// CRC8 computes the Dallas/Maxim CRC-8 over the GUID.
// Segment controllers publish this value in their heartbeat.
func (g GUID) CRC8() uint8 {
	return CRC8(g[:])
}

// CRC8 computes the Dallas/Maxim CRC-8 (reflected polynomial 0x8C).
func CRC8(data []byte) uint8 {
	var crc uint8
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x01 != 0 {
				crc = (crc >> 1) ^ 0x8C
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
