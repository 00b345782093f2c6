// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vscp

import "fmt"

// CAN identifier layout for VSCP Level I (29-bit extended frames)
const (
	canPriorityShift  = 26
	canHardCodedShift = 25
	canClassShift     = 16
	canTypeShift      = 8
	canExtMask        = 0x1FFFFFFF
)

// CANID packs the message header into a 29-bit extended identifier:
//
//	28..26 priority | 25 hard-coded | 24..16 class | 15..8 type | 7..0 origin
func CANID(m Message) (uint32, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}
	if m.Class > MaxLevel1 {
		return 0, fmt.Errorf("%w: %d", ErrClassOutOfRange, m.Class)
	}
	id := uint32(m.Priority)<<canPriorityShift |
		uint32(m.Class)<<canClassShift |
		uint32(m.Type)<<canTypeShift |
		uint32(m.OriginAddr)
	if m.HardCoded {
		id |= 1 << canHardCodedShift
	}
	return id, nil
}

// MessageFromCAN unpacks a 29-bit identifier and data field.
func MessageFromCAN(id uint32, data []byte) (Message, error) {
	var m Message
	if id > canExtMask {
		return m, fmt.Errorf("%w: 0x%X", ErrInvalidIdentifier, id)
	}
	if len(data) > MaxData {
		return m, fmt.Errorf("%w: %d bytes", ErrDataTooLong, len(data))
	}
	m.Priority = Priority((id >> canPriorityShift) & 0x07)
	m.HardCoded = id&(1<<canHardCodedShift) != 0
	m.Class = uint16((id >> canClassShift) & MaxLevel1)
	m.Type = uint8(id >> canTypeShift)
	m.OriginAddr = uint8(id)
	m.DataNum = uint8(len(data))
	copy(m.Data[:], data)
	return m, nil
}
