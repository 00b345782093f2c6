// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vscp

import (
	"fmt"
	"math"
	"strings"
)

// FormatMessage formats a message into a human-readable string
func FormatMessage(m Message) string {
	result := fmt.Sprintf("%s.%s prio=%d from=0x%02X", FormatClass(m.Class), FormatType(m.Class, m.Type), m.Priority, m.OriginAddr)
	if m.HardCoded {
		result += " hard-coded"
	}
	result += fmt.Sprintf(" len=%d\n", m.DataNum)

	if m.DataNum > 0 {
		result += formatPayload(m)
	}
	return result
}

// FormatClass returns the name of a Level I class
func FormatClass(class uint16) string {
	switch class {
	case ClassProtocol:
		return "PROTOCOL"
	case ClassAlarm:
		return "ALARM"
	case ClassSecurity:
		return "SECURITY"
	case ClassMeasurement:
		return "MEASUREMENT"
	case ClassData:
		return "DATA"
	case ClassInformation:
		return "INFORMATION"
	case ClassControl:
		return "CONTROL"
	case ClassDisplay:
		return "DISPLAY"
	case ClassLog:
		return "LOG"
	default:
		return fmt.Sprintf("CLASS%d", class)
	}
}

// FormatType returns the name of a type within its class
func FormatType(class uint16, typ uint8) string {
	switch class {
	case ClassProtocol:
		return formatProtocolType(typ)
	case ClassLog:
		switch typ {
		case TypeLogMessage:
			return "MESSAGE"
		case TypeLogStart:
			return "START"
		case TypeLogStop:
			return "STOP"
		case TypeLogLevel:
			return "LEVEL"
		}
	case ClassInformation:
		if typ == TypeInformationNodeHeartbeat {
			return "NODE_HEARTBEAT"
		}
	case ClassMeasurement:
		switch typ {
		case TypeMeasurementCount:
			return "COUNT"
		case TypeMeasurementLength:
			return "LENGTH"
		case TypeMeasurementMass:
			return "MASS"
		case TypeMeasurementTime:
			return "TIME"
		case TypeMeasurementCurrent:
			return "CURRENT"
		case TypeMeasurementTemperature:
			return "TEMPERATURE"
		case TypeMeasurementVoltage:
			return "VOLTAGE"
		case TypeMeasurementHumidity:
			return "HUMIDITY"
		}
	}
	return fmt.Sprintf("TYPE%d", typ)
}

func formatProtocolType(typ uint8) string {
	switch typ {
	case TypeProtocolGeneral:
		return "GENERAL"
	case TypeProtocolSegCtrlHeartbeat:
		return "SEGCTRL_HEARTBEAT"
	case TypeProtocolNewNodeOnline:
		return "NEW_NODE_ONLINE"
	case TypeProtocolProbeAck:
		return "PROBE_ACK"
	case TypeProtocolSetNickname:
		return "SET_NICKNAME"
	case TypeProtocolNicknameAccepted:
		return "NICKNAME_ACCEPTED"
	case TypeProtocolDropNickname:
		return "DROP_NICKNAME"
	case TypeProtocolReadRegister:
		return "READ_REGISTER"
	case TypeProtocolRWResponse:
		return "RW_RESPONSE"
	case TypeProtocolWriteRegister:
		return "WRITE_REGISTER"
	case TypeProtocolEnterBootLoader:
		return "ENTER_BOOT_LOADER"
	case TypeProtocolAckBootLoader:
		return "ACK_BOOT_LOADER"
	case TypeProtocolNackBootLoader:
		return "NACK_BOOT_LOADER"
	case TypeProtocolGUIDDropNickname:
		return "GUID_DROP_NICKNAME"
	case TypeProtocolPageRead:
		return "PAGE_READ"
	case TypeProtocolPageWrite:
		return "PAGE_WRITE"
	case TypeProtocolRWPageResponse:
		return "RW_PAGE_RESPONSE"
	case TypeProtocolIncrementRegister:
		return "INCREMENT_REGISTER"
	case TypeProtocolDecrementRegister:
		return "DECREMENT_REGISTER"
	case TypeProtocolWhoIsThere:
		return "WHO_IS_THERE"
	case TypeProtocolWhoIsThereResponse:
		return "WHO_IS_THERE_RESPONSE"
	case TypeProtocolGetMatrixInfo:
		return "GET_MATRIX_INFO"
	case TypeProtocolGetMatrixInfoResp:
		return "GET_MATRIX_INFO_RESPONSE"
	default:
		return fmt.Sprintf("TYPE%d", typ)
	}
}

// formatPayload decodes well-known payloads, falling back to a hex dump
func formatPayload(m Message) string {
	data := m.Payload()

	switch m.Class {
	case ClassMeasurement:
		if unit, index, value, exp, ok := DecodeMeasurement(data); ok {
			return fmt.Sprintf("  Value: %s (unit=%d, sensor=%d)\n", formatNormalized(value, exp), unit, index)
		}

	case ClassLog:
		if m.Type == TypeLogMessage && len(data) >= 3 {
			text := strings.TrimRight(string(data[3:]), "\x00")
			return fmt.Sprintf("  Log id=%d level=0x%02X frame=%d: %q\n", data[0], data[1], data[2], text)
		}

	case ClassInformation:
		if m.Type == TypeInformationNodeHeartbeat && len(data) >= 3 {
			return fmt.Sprintf("  Zone: %d, Sub-zone: %d\n", data[1], data[2])
		}

	case ClassProtocol:
		switch m.Type {
		case TypeProtocolNewNodeOnline:
			return fmt.Sprintf("  Nickname: 0x%02X\n", data[0])
		case TypeProtocolSetNickname:
			if len(data) >= 2 {
				return fmt.Sprintf("  Nickname: 0x%02X -> 0x%02X\n", data[0], data[1])
			}
		case TypeProtocolRWResponse:
			if len(data) >= 2 {
				return fmt.Sprintf("  Register 0x%02X = 0x%02X\n", data[0], data[1])
			}
		}
	}

	result := "  Data: "
	for _, b := range data {
		result += fmt.Sprintf("%02X ", b)
	}
	return result + "\n"
}

// formatNormalized renders mantissa * 10^exp as a decimal
func formatNormalized(value int32, exp int8) string {
	switch {
	case exp == 0:
		return fmt.Sprintf("%d", value)
	case exp < 0:
		return fmt.Sprintf("%g", float64(value)/math.Pow10(-int(exp)))
	default:
		return fmt.Sprintf("%g", float64(value)*math.Pow10(int(exp)))
	}
}
