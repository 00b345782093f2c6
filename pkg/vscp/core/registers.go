// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package core

import (
	"sync"
	"time"

	"github.com/Thermoquad/vscpnode/pkg/vscp"
)

// AppRegisters owns registers 0x00-0x7F of every page.
type AppRegisters interface {
	ReadRegister(page uint16, reg uint8) uint8
	// WriteRegister stores value and returns what the register now holds.
	WriteRegister(page uint16, reg, value uint8) uint8
}

// MemoryRegisters is an AppRegisters backed by memory. Pages are allocated on
// first write; unwritten registers read as zero.
type MemoryRegisters struct {
	mu    sync.Mutex
	pages map[uint16]*[vscp.PageSize]byte
}

// NewMemoryRegisters creates an empty register file.
func NewMemoryRegisters() *MemoryRegisters {
	return &MemoryRegisters{pages: make(map[uint16]*[vscp.PageSize]byte)}
}

func (m *MemoryRegisters) ReadRegister(page uint16, reg uint8) uint8 {
	if reg > vscp.RegAppLast {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[page]
	if !ok {
		return 0
	}
	return p[reg]
}

func (m *MemoryRegisters) WriteRegister(page uint16, reg, value uint8) uint8 {
	if reg > vscp.RegAppLast {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[page]
	if !ok {
		p = new([vscp.PageSize]byte)
		m.pages[page] = p
	}
	p[reg] = value
	return value
}

// readRegister reads one register as a bus request does. Reading the alarm
// register clears it.
func (e *Engine) readRegister(reg uint8) uint8 {
	if reg == vscp.RegAlarmStatus {
		return e.TakeAlarm()
	}
	return e.peekRegister(reg)
}

func beByte(v uint32, i uint8) uint8 {
	return uint8(v >> (8 * (3 - uint32(i))))
}

// peekRegister returns a register without side effects.
func (e *Engine) peekRegister(reg uint8) uint8 {
	dev := &e.cfg.device

	switch {
	case reg <= vscp.RegAppLast:
		if e.cfg.app == nil {
			return 0
		}
		return e.cfg.app.ReadRegister(e.page, reg)
	case reg >= vscp.RegUserID0 && reg < vscp.RegUserID0+vscp.UserIDSize:
		return e.userID[reg-vscp.RegUserID0]
	case reg >= vscp.RegManufacturerID0 && reg < vscp.RegManufacturerID0+4:
		return beByte(dev.ManufacturerDeviceID, reg-vscp.RegManufacturerID0)
	case reg >= vscp.RegManufacturerSubID0 && reg < vscp.RegManufacturerSubID0+4:
		return beByte(dev.ManufacturerSubDeviceID, reg-vscp.RegManufacturerSubID0)
	case reg >= vscp.RegStdFamily0 && reg < vscp.RegStdFamily0+4:
		return beByte(dev.StandardFamily, reg-vscp.RegStdFamily0)
	case reg >= vscp.RegStdType0 && reg < vscp.RegStdType0+4:
		return beByte(dev.StandardType, reg-vscp.RegStdType0)
	case reg >= vscp.RegGUID0 && reg < vscp.RegMDFURL0:
		return e.guid[reg-vscp.RegGUID0]
	case reg >= vscp.RegMDFURL0:
		return e.mdfURL[reg-vscp.RegMDFURL0]
	}

	switch reg {
	case vscp.RegAlarmStatus:
		return e.alarm
	case vscp.RegVersionMajor:
		return vscp.VersionMajor
	case vscp.RegVersionMinor:
		return vscp.VersionMinor
	case vscp.RegNodeControl:
		return e.control
	case vscp.RegNickname:
		return e.nickname.Byte()
	case vscp.RegPageSelectMSB:
		return uint8(e.page >> 8)
	case vscp.RegPageSelectLSB:
		return uint8(e.page)
	case vscp.RegFirmwareMajor:
		return dev.FirmwareMajor
	case vscp.RegFirmwareMinor:
		return dev.FirmwareMinor
	case vscp.RegFirmwareBuild:
		return dev.FirmwareBuild
	case vscp.RegBootLoaderAlgo:
		return dev.BootLoaderAlgorithm
	case vscp.RegBufferSize:
		return vscp.MaxData
	case vscp.RegPageCount:
		return dev.PageCount
	case vscp.RegFirmwareCodeMSB:
		return uint8(dev.FirmwareCode >> 8)
	case vscp.RegFirmwareCodeLSB:
		return uint8(dev.FirmwareCode)
	}
	return 0
}

// writeRegister applies a bus write and returns the register content
// afterwards. Writes to read-only registers change nothing.
func (e *Engine) writeRegister(reg, value uint8, now time.Time) uint8 {
	protected := e.control&vscp.ControlWriteProtect != 0

	switch {
	case reg <= vscp.RegAppLast:
		if protected || e.cfg.app == nil {
			return e.peekRegister(reg)
		}
		return e.cfg.app.WriteRegister(e.page, reg, value)

	case reg >= vscp.RegUserID0 && reg < vscp.RegUserID0+vscp.UserIDSize:
		if protected {
			return e.peekRegister(reg)
		}
		e.userID[reg-vscp.RegUserID0] = value
		e.persist(KeyUserID, e.userID[:]...)
		return value
	}

	switch reg {
	case vscp.RegNodeControl:
		if value&vscp.ControlStartupMask == vscp.ControlStartupReserved {
			return e.control
		}
		e.control = value
		e.persist(KeyControl, value)
		return value
	case vscp.RegPageSelectMSB:
		e.page = e.page&0x00FF | uint16(value)<<8
		return value
	case vscp.RegPageSelectLSB:
		e.page = e.page&0xFF00 | uint16(value)
		return value
	case vscp.RegRestoreDefaults:
		e.writeRestore(value, now)
		return value
	}
	return e.peekRegister(reg)
}

// writeRestore runs the two step restore sequence: RestoreArm followed by
// RestoreFire within the restore window.
func (e *Engine) writeRestore(value uint8, now time.Time) {
	switch {
	case value == vscp.RestoreArm:
		e.restoreArmed = now
	case value == vscp.RestoreFire && !e.restoreArmed.IsZero() && now.Sub(e.restoreArmed) <= e.cfg.timing.RestoreWindow:
		e.restoreArmed = time.Time{}
		e.RestoreDefaults()
	default:
		e.restoreArmed = time.Time{}
	}
}

// persist saves a record changed over the bus. A store failure moves the
// node to StateError.
func (e *Engine) persist(key string, value ...byte) {
	if err := e.save(key, value...); err != nil {
		e.log.Error("failed to persist register", "key", key, "error", err)
		e.state = StateError
	}
}
