// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package core

import (
	"time"

	"github.com/Thermoquad/vscpnode/pkg/vscp"
)

const guidDropChunks = 4

// handleProtocol answers CLASS1.PROTOCOL traffic while active.
func (e *Engine) handleProtocol(msg vscp.Message, now time.Time) {
	id, _ := e.nickname.Get()

	switch msg.Type {
	case vscp.TypeProtocolSegCtrlHeartbeat:
		e.segmentHeartbeat(msg)

	case vscp.TypeProtocolNewNodeOnline:
		if msg.AddressedTo(id) {
			e.send(vscp.NewProbeAck(id))
		}

	case vscp.TypeProtocolSetNickname:
		if msg.AddressedTo(id) && assignable(msg.Data[1]) {
			e.setNickname(msg.Data[1])
		}

	case vscp.TypeProtocolDropNickname:
		if msg.AddressedTo(id) {
			e.dropNickname(msg, now)
		}

	case vscp.TypeProtocolReadRegister:
		if msg.AddressedTo(id) {
			reg := msg.Data[1]
			e.send(vscp.NewRWResponse(id, reg, e.readRegister(reg)))
		}

	case vscp.TypeProtocolWriteRegister:
		if msg.AddressedTo(id) {
			reg := msg.Data[1]
			e.send(vscp.NewRWResponse(id, reg, e.writeRegister(reg, msg.Data[2], now)))
		}

	case vscp.TypeProtocolIncrementRegister, vscp.TypeProtocolDecrementRegister:
		if msg.AddressedTo(id) {
			e.stepRegister(msg, now)
		}

	case vscp.TypeProtocolPageRead:
		if msg.AddressedTo(id) {
			e.pageRead(msg.Data[1], msg.Data[2])
		}

	case vscp.TypeProtocolPageWrite:
		if msg.AddressedTo(id) {
			e.pageWrite(msg, now)
		}

	case vscp.TypeProtocolWhoIsThere:
		if msg.AddressedTo(id) || msg.AddressedTo(vscp.NicknameFree) {
			for _, data := range vscp.WhoIsThereData(e.guid, e.mdfURL) {
				e.reply(vscp.TypeProtocolWhoIsThereResponse, data...)
			}
		}

	case vscp.TypeProtocolGetMatrixInfo:
		if msg.AddressedTo(id) {
			e.matrixInfo()
		}

	case vscp.TypeProtocolEnterBootLoader:
		if msg.AddressedTo(id) {
			e.reply(vscp.TypeProtocolNackBootLoader, 0)
		}

	case vscp.TypeProtocolGUIDDropNickname:
		e.guidDrop(msg)
	}
}

// reply sends a protocol message from this node.
func (e *Engine) reply(typ uint8, data ...byte) {
	m := vscp.Message{
		Priority:   vscp.PriorityHigh,
		Class:      vscp.ClassProtocol,
		Type:       typ,
		OriginAddr: e.nickname.Byte(),
	}
	_ = m.SetData(data...)
	e.send(m)
}

// segmentHeartbeat tracks the segment CRC and time. A changed CRC means the
// node moved to another segment and must rediscover its nickname.
func (e *Engine) segmentHeartbeat(msg vscp.Message) {
	crc := msg.Data[0]
	if msg.DataNum >= 5 {
		d := msg.Data
		e.segmentTime = uint32(d[1])<<24 | uint32(d[2])<<16 | uint32(d[3])<<8 | uint32(d[4])
	}

	if e.segmentCRCKnown && crc == e.segmentCRC {
		return
	}
	changed := e.segmentCRCKnown
	e.segmentCRC = crc
	e.segmentCRCKnown = true
	if err := e.save(KeySegmentCRC, crc); err != nil {
		e.log.Error("failed to persist segment CRC", "error", err)
		e.state = StateError
		return
	}
	if changed && !e.cfg.hardCoded {
		e.log.Info("segment CRC changed", "crc", crc)
		e.enterInitializing()
	}
}

func (e *Engine) setNickname(nickname uint8) {
	if err := e.save(KeyNickname, nickname); err != nil {
		e.log.Error("failed to persist nickname", "error", err)
		e.state = StateError
		return
	}
	e.nickname = vscp.NicknameOf(nickname)
	e.send(vscp.NewNicknameAccepted(nickname))
	e.log.Info("nickname changed", "nickname", e.nickname)
}

// dropNickname handles DROP_NICKNAME. data[1] carries the flags, data[2] the
// seconds to stay idle before restarting.
func (e *Engine) dropNickname(msg vscp.Message, now time.Time) {
	var flags, idle uint8
	if msg.DataNum > 1 {
		flags = msg.Data[1]
	}
	if msg.DataNum > 2 {
		idle = msg.Data[2]
	}

	if flags&vscp.DropRestoreDefaults != 0 {
		if err := e.RestoreDefaults(); err != nil {
			return
		}
	}

	keep := flags&vscp.DropKeepNickname != 0
	if !keep {
		e.nickname = vscp.NoNickname
		if err := e.save(KeyNickname, vscp.NicknameFree); err != nil {
			e.log.Error("failed to persist nickname", "error", err)
			e.state = StateError
			return
		}
	}
	e.log.Info("nickname dropped", "flags", flags, "idle", idle)

	switch {
	case flags&vscp.DropGoIdle != 0:
		e.state = StateIdle
		e.idleUntil = time.Time{}
	case idle > 0:
		e.state = StateIdle
		e.idleUntil = now.Add(time.Duration(idle) * time.Second)
		e.idleResume = keep
	case keep:
		e.state = StateNotInitialized
		e.announce = true
	default:
		e.disc.reset()
		e.state = StateInitializing
	}
}

// stepRegister handles INCREMENT/DECREMENT_REGISTER. data[2] is an optional
// step, default one.
func (e *Engine) stepRegister(msg vscp.Message, now time.Time) {
	id, _ := e.nickname.Get()
	reg := msg.Data[1]
	step := uint8(1)
	if msg.DataNum > 2 {
		step = msg.Data[2]
	}
	value := e.peekRegister(reg)
	if msg.Type == vscp.TypeProtocolIncrementRegister {
		value += step
	} else {
		value -= step
	}
	e.send(vscp.NewRWResponse(id, reg, e.writeRegister(reg, value, now)))
}

// pageRead answers with RW_PAGE_RESPONSE frames of up to seven registers each,
// led by a sequence number. Reads stop at the end of the register page.
func (e *Engine) pageRead(start, count uint8) {
	end := int(start) + int(count)
	if end > 0x100 {
		end = 0x100
	}
	seq := uint8(0)
	for reg := int(start); reg < end; seq++ {
		data := []byte{seq}
		for ; reg < end && len(data) < vscp.MaxData; reg++ {
			data = append(data, e.readRegister(uint8(reg)))
		}
		e.reply(vscp.TypeProtocolRWPageResponse, data...)
	}
}

// pageWrite writes data[2:] starting at data[1] and answers with the
// resulting register contents.
func (e *Engine) pageWrite(msg vscp.Message, now time.Time) {
	start := int(msg.Data[1])
	data := []byte{0}
	for i, v := range msg.Data[2:msg.DataNum] {
		reg := start + i
		if reg > 0xFF {
			break
		}
		data = append(data, e.writeRegister(uint8(reg), v, now))
	}
	e.reply(vscp.TypeProtocolRWPageResponse, data...)
}

func (e *Engine) matrixInfo() {
	var rows, offset uint8
	var page uint16
	if e.cfg.matrix != nil {
		rows, offset, page = e.cfg.matrix.Info()
	}
	e.reply(vscp.TypeProtocolGetMatrixInfoResp,
		rows, offset, uint8(page>>8), uint8(page), uint8(page>>8), uint8(page))
}

// guidDrop collects the four GUID_DROP_NICKNAME frames. data[0] is the chunk
// index, data[1:5] four GUID bytes. A mismatch discards the chunks seen so far.
func (e *Engine) guidDrop(msg vscp.Message) {
	idx := msg.Data[0]
	if idx >= guidDropChunks {
		return
	}
	off := int(idx) * 4
	for i := 0; i < 4; i++ {
		if e.guid[off+i] != msg.Data[1+i] {
			e.guidDropMask = 0
			return
		}
	}
	e.guidDropMask |= 1 << idx
	if e.guidDropMask == 1<<guidDropChunks-1 {
		e.guidDropMask = 0
		e.log.Info("nickname dropped by GUID")
		e.enterInitializing()
	}
}
