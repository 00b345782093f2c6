// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vscp

// Builder functions create CLASS1.PROTOCOL messages ready for transmission.
// Protocol traffic is sent at the highest priority; payload layout follows the
// VSCP Level I protocol class.

func protocolMessage(origin uint8, typ uint8, data ...byte) Message {
	m := Message{
		Priority:   PriorityHigh,
		Class:      ClassProtocol,
		Type:       typ,
		OriginAddr: origin,
	}
	// Builders never pass more than MaxData bytes.
	_ = m.SetData(data...)
	return m
}

// NewProbe creates the NEW_NODE_ONLINE probe a node without a nickname sends
// while testing candidate. key breaks ties between nodes probing the same
// candidate at the same time.
func NewProbe(candidate uint8, key [7]byte) Message {
	data := append([]byte{candidate}, key[:]...)
	return protocolMessage(NicknameFree, TypeProtocolNewNodeOnline, data...)
}

// NewNodeOnline creates the NEW_NODE_ONLINE announcement of an assigned nickname.
func NewNodeOnline(nickname uint8) Message {
	return protocolMessage(nickname, TypeProtocolNewNodeOnline, nickname)
}

// NewProbeAck creates the PROBE_ACK a node sends when a probe names its nickname.
func NewProbeAck(nickname uint8) Message {
	return protocolMessage(nickname, TypeProtocolProbeAck)
}

// NewSegCtrlHeartbeat creates a segment controller heartbeat carrying the
// segment CRC and the controller's time in seconds.
func NewSegCtrlHeartbeat(origin, segmentCRC uint8, unixTime uint32) Message {
	return protocolMessage(origin, TypeProtocolSegCtrlHeartbeat,
		segmentCRC, byte(unixTime>>24), byte(unixTime>>16), byte(unixTime>>8), byte(unixTime))
}

// NewSetNickname creates a SET_NICKNAME request. A segment controller assigns
// a nickname to an uninitialized node with oldNickname 0xFF.
func NewSetNickname(origin, oldNickname, newNickname uint8) Message {
	return protocolMessage(origin, TypeProtocolSetNickname, oldNickname, newNickname)
}

// NewNicknameAccepted creates the reply to SET_NICKNAME.
func NewNicknameAccepted(nickname uint8) Message {
	return protocolMessage(nickname, TypeProtocolNicknameAccepted, nickname)
}

// NewDropNickname creates a DROP_NICKNAME request. flags and idleSeconds are optional.
func NewDropNickname(origin, target, flags, idleSeconds uint8) Message {
	return protocolMessage(origin, TypeProtocolDropNickname, target, flags, idleSeconds)
}

// NewReadRegister creates a READ_REGISTER request for one register of target.
func NewReadRegister(origin, target, reg uint8) Message {
	return protocolMessage(origin, TypeProtocolReadRegister, target, reg)
}

// NewWriteRegister creates a WRITE_REGISTER request.
func NewWriteRegister(origin, target, reg, value uint8) Message {
	return protocolMessage(origin, TypeProtocolWriteRegister, target, reg, value)
}

// NewRWResponse creates the RW_RESPONSE to a register read or write.
func NewRWResponse(nickname, reg, value uint8) Message {
	return protocolMessage(nickname, TypeProtocolRWResponse, reg, value)
}

// NewPageRead creates a PAGE_READ request for count registers starting at reg.
func NewPageRead(origin, target, reg, count uint8) Message {
	return protocolMessage(origin, TypeProtocolPageRead, target, reg, count)
}

// NewWhoIsThere creates a WHO_IS_THERE request. target 0xFF asks every node.
func NewWhoIsThere(origin, target uint8) Message {
	return protocolMessage(origin, TypeProtocolWhoIsThere, target)
}

// NewGetMatrixInfo creates a GET_MATRIX_INFO request.
func NewGetMatrixInfo(origin, target uint8) Message {
	return protocolMessage(origin, TypeProtocolGetMatrixInfo, target)
}

// NewNodeHeartbeat creates the CLASS1.INFORMATION NODE_HEARTBEAT a node sends
// periodically while active.
func NewNodeHeartbeat(nickname, zone, subZone uint8) Message {
	m := Message{
		Priority:   PriorityLow,
		Class:      ClassInformation,
		Type:       TypeInformationNodeHeartbeat,
		OriginAddr: nickname,
	}
	_ = m.SetData(0, zone, subZone)
	return m
}

// WhoIsThereResponse is one reassembled WHO_IS_THERE reply set.
type WhoIsThereResponse struct {
	GUID   GUID
	MDFURL string
}

// Who-is-there replies: seven frames, each led by its index, carrying the
// GUID in frames 0-2 (7+7+2 bytes) followed by the MDF URL.
const (
	WhoIsThereFrames = 7
	whoIsThereChunk  = MaxData - 1
)

// WhoIsThereData returns the data fields of the seven response frames.
func WhoIsThereData(guid GUID, mdfURL [MDFURLSize]byte) [WhoIsThereFrames][]byte {
	var stream [GUIDSize + MDFURLSize]byte
	copy(stream[:], guid[:])
	copy(stream[GUIDSize:], mdfURL[:])

	var frames [WhoIsThereFrames][]byte
	for i := range frames {
		start := i * whoIsThereChunk
		end := start + whoIsThereChunk
		if end > len(stream) {
			end = len(stream)
		}
		frames[i] = append([]byte{byte(i)}, stream[start:end]...)
	}
	return frames
}

// AssembleWhoIsThere reconstructs a response set from its frames keyed by index.
// ok is false when any frame is missing.
func AssembleWhoIsThere(frames map[uint8][]byte) (WhoIsThereResponse, bool) {
	var resp WhoIsThereResponse
	var stream []byte
	for i := 0; i < WhoIsThereFrames; i++ {
		data, found := frames[uint8(i)]
		if !found || len(data) < 1 {
			return resp, false
		}
		stream = append(stream, data[1:]...)
	}
	if len(stream) < GUIDSize {
		return resp, false
	}
	copy(resp.GUID[:], stream[:GUIDSize])
	url := stream[GUIDSize:]
	for i, b := range url {
		if b == 0 {
			url = url[:i]
			break
		}
	}
	resp.MDFURL = string(url)
	return resp, true
}
