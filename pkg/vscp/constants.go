// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package vscp provides the message model and wire-level building blocks of the
// VSCP Level I protocol as seen by a bus node.
//
// VSCP is a priority-arbitrated event bus: every node claims a one-byte nickname,
// announces itself, and exchanges class/type tagged events of at most 8 data bytes.
// This package holds the shared types (Message, Nickname, GUID), the CAN identifier
// packing, the normalized-integer data codec and human-readable formatting.
package vscp

// Message limits
const (
	MaxData      = 8
	MaxLevel1    = 0x1FF // Level I classes fit in 9 bits of the CAN identifier
	PriorityBits = 3
)

// Special nicknames
const (
	NicknameSegmentController = 0x00
	NicknameFree              = 0xFF
)

// Protocol version reported in registers 0x81/0x82
const (
	VersionMajor = 1
	VersionMinor = 6
)

// Level I classes
const (
	ClassProtocol    uint16 = 0
	ClassAlarm       uint16 = 1
	ClassSecurity    uint16 = 2
	ClassMeasurement uint16 = 10
	ClassData        uint16 = 15
	ClassInformation uint16 = 20
	ClassControl     uint16 = 30
	ClassDisplay     uint16 = 102
	ClassLog         uint16 = 509
)

// CLASS1.PROTOCOL types
const (
	TypeProtocolGeneral            uint8 = 0
	TypeProtocolSegCtrlHeartbeat   uint8 = 1
	TypeProtocolNewNodeOnline      uint8 = 2
	TypeProtocolProbeAck           uint8 = 3
	TypeProtocolSetNickname        uint8 = 6
	TypeProtocolNicknameAccepted   uint8 = 7
	TypeProtocolDropNickname       uint8 = 8
	TypeProtocolReadRegister       uint8 = 9
	TypeProtocolRWResponse         uint8 = 10
	TypeProtocolWriteRegister      uint8 = 11
	TypeProtocolEnterBootLoader    uint8 = 12
	TypeProtocolAckBootLoader      uint8 = 13
	TypeProtocolNackBootLoader     uint8 = 14
	TypeProtocolGUIDDropNickname   uint8 = 23
	TypeProtocolPageRead           uint8 = 24
	TypeProtocolPageWrite          uint8 = 25
	TypeProtocolRWPageResponse     uint8 = 26
	TypeProtocolIncrementRegister  uint8 = 29
	TypeProtocolDecrementRegister  uint8 = 30
	TypeProtocolWhoIsThere         uint8 = 31
	TypeProtocolWhoIsThereResponse uint8 = 32
	TypeProtocolGetMatrixInfo      uint8 = 33
	TypeProtocolGetMatrixInfoResp  uint8 = 34
)

// CLASS1.INFORMATION types used by the node core
const (
	TypeInformationNodeHeartbeat uint8 = 9
)

// CLASS1.LOG types
const (
	TypeLogMessage uint8 = 1
	TypeLogStart   uint8 = 2
	TypeLogStop    uint8 = 3
	TypeLogLevel   uint8 = 4
)

// CLASS1.MEASUREMENT types (subset)
const (
	TypeMeasurementCount       uint8 = 1
	TypeMeasurementLength      uint8 = 2
	TypeMeasurementMass        uint8 = 3
	TypeMeasurementTime        uint8 = 4
	TypeMeasurementCurrent     uint8 = 5
	TypeMeasurementTemperature uint8 = 6
	TypeMeasurementVoltage     uint8 = 16
	TypeMeasurementHumidity    uint8 = 35
)

// Register addresses of the protocol-reserved half of the register page.
// 0x00-0x7F belongs to the application.
const (
	RegAppLast            = 0x7F
	RegAlarmStatus        = 0x80
	RegVersionMajor       = 0x81
	RegVersionMinor       = 0x82
	RegNodeControl        = 0x83
	RegUserID0            = 0x84 // 0x84-0x88
	RegManufacturerID0    = 0x89 // 0x89-0x8C
	RegManufacturerSubID0 = 0x8D // 0x8D-0x90
	RegNickname           = 0x91
	RegPageSelectMSB      = 0x92
	RegPageSelectLSB      = 0x93
	RegFirmwareMajor      = 0x94
	RegFirmwareMinor      = 0x95
	RegFirmwareBuild      = 0x96
	RegBootLoaderAlgo     = 0x97
	RegBufferSize         = 0x98
	RegPageCount          = 0x99
	RegStdFamily0         = 0x9A // 0x9A-0x9D
	RegStdType0           = 0x9E // 0x9E-0xA1
	RegRestoreDefaults    = 0xA2
	RegFirmwareCodeMSB    = 0xA3
	RegFirmwareCodeLSB    = 0xA4
	RegGUID0              = 0xD0 // 0xD0-0xDF, MSB first
	RegMDFURL0            = 0xE0 // 0xE0-0xFF
)

// Register block sizes
const (
	UserIDSize  = 5
	MDFURLSize  = 32
	GUIDSize    = 16
	BootNone    = 0xFF // bootloader algorithm: no bootloader
	PageSize    = 0x80
	RestoreArm  = 0x55
	RestoreFire = 0xAA
)

// Node control flag bits (register 0x83)
const (
	ControlWriteProtect = 1 << 5
	// Bits 7:6 are the startup control. 11 is reserved and is also what an
	// erased record reads as.
	ControlStartupMask     = 0xC0
	ControlStartupReserved = 0xC0
)

// DROP_NICKNAME flag bits (data byte 1)
const (
	DropKeepNickname    = 1 << 5
	DropRestoreDefaults = 1 << 6
	DropGoIdle          = 1 << 7
)
