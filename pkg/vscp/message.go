// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vscp

import (
	"errors"
	"fmt"
)

var (
	ErrDataTooLong       = errors.New("vscp: data length exceeds 8 bytes")
	ErrInvalidPriority   = errors.New("vscp: priority out of range")
	ErrClassOutOfRange   = errors.New("vscp: class does not fit a Level I identifier")
	ErrInvalidGUID       = errors.New("vscp: invalid GUID")
	ErrInvalidIdentifier = errors.New("vscp: invalid CAN identifier")
)

// Priority is the 3-bit arbitration priority, 0 being the highest.
type Priority uint8

// Priority values
const (
	PriorityHigh   Priority = 0
	PriorityNormal Priority = 3
	PriorityLow    Priority = 7
)

// Message is the universal unit exchanged on the bus, received and transmitted alike.
type Message struct {
	Priority   Priority
	Class      uint16
	Type       uint8
	OriginAddr uint8
	HardCoded  bool
	DataNum    uint8
	Data       [MaxData]byte
}

// Validate checks the structural invariants every boundary relies on.
func (m Message) Validate() error {
	if m.DataNum > MaxData {
		return ErrDataTooLong
	}
	if m.Priority > PriorityLow {
		return ErrInvalidPriority
	}
	return nil
}

// Payload returns the valid data bytes. An oversized DataNum is clamped.
func (m *Message) Payload() []byte {
	n := m.DataNum
	if n > MaxData {
		n = MaxData
	}
	return m.Data[:n]
}

// SetData replaces the data bytes, zeroing the unused tail.
func (m *Message) SetData(data ...byte) error {
	if len(data) > MaxData {
		return fmt.Errorf("%w: %d bytes", ErrDataTooLong, len(data))
	}
	m.Data = [MaxData]byte{}
	copy(m.Data[:], data)
	m.DataNum = uint8(len(data))
	return nil
}

// AddressedTo reports whether data[0] carries the given nickname, the Level I
// convention for protocol requests aimed at one node.
func (m Message) AddressedTo(nickname uint8) bool {
	return m.DataNum > 0 && m.Data[0] == nickname
}

// TxMessage is a Message stamped with the sender's nickname and hard-coded flag.
// The zero value is not prepared and is refused by the node core.
type TxMessage struct {
	msg      Message
	prepared bool
}

// PrepareMessage builds a transmit template with zero data bytes.
func PrepareMessage(class uint16, typ uint8, prio Priority, origin Nickname, hardCoded bool) TxMessage {
	return TxMessage{
		msg: Message{
			Priority:   prio,
			Class:      class,
			Type:       typ,
			OriginAddr: origin.Byte(),
			HardCoded:  hardCoded,
		},
		prepared: true,
	}
}

// Prepared reports whether the message came from PrepareMessage.
func (t TxMessage) Prepared() bool {
	return t.prepared
}

// SetData sets the data bytes of the prepared message.
func (t *TxMessage) SetData(data ...byte) error {
	return t.msg.SetData(data...)
}

// Message returns a copy of the underlying message.
func (t TxMessage) Message() Message {
	return t.msg
}
