// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vscp

import "fmt"

// AnomalyKind classifies why a received message was rejected
type AnomalyKind int

const (
	AnomalyDataLength AnomalyKind = iota
	AnomalyPriority
	AnomalyClassRange
	AnomalyShortPayload
)

// ValidationError represents a message that fails structural validation
type ValidationError struct {
	Kind    AnomalyKind
	Message string
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// minProtocolData is the least number of data bytes a CLASS1.PROTOCOL type
// needs to be meaningful. Types not listed accept any length.
var minProtocolData = map[uint8]uint8{
	TypeProtocolSegCtrlHeartbeat:  1,
	TypeProtocolNewNodeOnline:     1,
	TypeProtocolSetNickname:       2,
	TypeProtocolNicknameAccepted:  1,
	TypeProtocolDropNickname:      1,
	TypeProtocolReadRegister:      2,
	TypeProtocolRWResponse:        2,
	TypeProtocolWriteRegister:     3,
	TypeProtocolEnterBootLoader:   1,
	TypeProtocolGUIDDropNickname:  5,
	TypeProtocolPageRead:          3,
	TypeProtocolPageWrite:         3,
	TypeProtocolIncrementRegister: 2,
	TypeProtocolDecrementRegister: 2,
	TypeProtocolWhoIsThere:        1,
	TypeProtocolGetMatrixInfo:     1,
}

// ValidateMessage checks a received message for structural validity.
// Malformed messages are expected to be dropped silently by the caller.
func ValidateMessage(m Message) error {
	if m.DataNum > MaxData {
		return &ValidationError{
			Kind:    AnomalyDataLength,
			Message: fmt.Sprintf("data length %d exceeds %d", m.DataNum, MaxData),
		}
	}
	if m.Priority > PriorityLow {
		return &ValidationError{
			Kind:    AnomalyPriority,
			Message: fmt.Sprintf("priority %d out of range", m.Priority),
		}
	}
	if m.Class > MaxLevel1 {
		return &ValidationError{
			Kind:    AnomalyClassRange,
			Message: fmt.Sprintf("class %d is not a Level I class", m.Class),
		}
	}
	if m.Class == ClassProtocol {
		if need, ok := minProtocolData[m.Type]; ok && m.DataNum < need {
			return &ValidationError{
				Kind:    AnomalyShortPayload,
				Message: fmt.Sprintf("%s needs %d data bytes, got %d", FormatType(m.Class, m.Type), need, m.DataNum),
			}
		}
	}
	return nil
}
