// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/Thermoquad/vscpnode/pkg/vscp"
)

// Binary frame layout (before stuffing):
//
//	START | LENGTH | ID (4 bytes, big-endian) | DATA (0-8) | CRC (2 bytes, big-endian) | END
//
// LENGTH is the number of data bytes and ID the 29-bit VSCP CAN identifier.
// The CRC covers LENGTH through DATA. START, END and ESC inside the frame are
// escaped as ESC followed by the byte XOR EscXor.
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20

	idSize         = 4
	crcSize        = 2
	maxFrameBody   = 1 + idSize + vscp.MaxData
	MaxBinaryFrame = 2 + 2*(maxFrameBody+crcSize)
)

// Decoder states (internal)
const (
	stateIdle = iota
	stateLength
	stateID
	stateData
	stateCRC1
	stateCRC2
	stateComplete
)

// Binary is the byte-stuffed, CRC protected framing.
type Binary struct{}

// Name implements Codec
func (Binary) Name() string { return FramingBinary }

// Preamble implements Codec
func (Binary) Preamble() []byte { return nil }

// NewDecoder implements Codec
func (Binary) NewDecoder() Decoder { return NewBinaryDecoder() }

// Encode encodes a message to wire format.
func (Binary) Encode(m vscp.Message) ([]byte, error) {
	id, err := vscp.CANID(m)
	if err != nil {
		return nil, fmt.Errorf("failed to pack identifier: %w", err)
	}

	data := make([]byte, 0, maxFrameBody+crcSize)
	data = append(data, m.DataNum)
	data = binary.BigEndian.AppendUint32(data, id)
	data = append(data, m.Payload()...)

	crc := CalculateCRC(data)
	data = append(data, byte(crc>>8), byte(crc&0xFF))

	stuffed := stuffBytes(data)

	packet := make([]byte, 0, len(stuffed)+2)
	packet = append(packet, StartByte)
	packet = append(packet, stuffed...)
	packet = append(packet, EndByte)
	return packet, nil
}

// stuffBytes applies byte stuffing to escape special bytes.
func stuffBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)*2)
	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			result = append(result, EscByte, b^EscXor)
		} else {
			result = append(result, b)
		}
	}
	return result
}

// BinaryDecoder implements the binary framing state machine
type BinaryDecoder struct {
	state      int
	buffer     [maxFrameBody]byte
	index      int
	length     int
	idBytes    int
	crc        uint16
	escapeNext bool
}

// NewBinaryDecoder creates a new binary frame decoder
func NewBinaryDecoder() *BinaryDecoder {
	return &BinaryDecoder{state: stateIdle}
}

// Reset resets the decoder state to idle
func (d *BinaryDecoder) Reset() {
	d.state = stateIdle
	d.index = 0
	d.length = 0
	d.idBytes = 0
	d.crc = 0
	d.escapeNext = false
}

// DecodeByte processes a single byte through the decoder state machine.
func (d *BinaryDecoder) DecodeByte(b byte) (*vscp.Message, error) {
	// Framing bytes are never escaped on the wire
	switch b {
	case StartByte:
		d.Reset()
		d.state = stateLength
		return nil, nil
	case EndByte:
		return d.finish()
	case EscByte:
		if !d.escapeNext {
			d.escapeNext = true
			return nil, nil
		}
	}

	if d.escapeNext {
		b ^= EscXor
		d.escapeNext = false
	}

	switch d.state {
	case stateIdle:
		return nil, nil

	case stateLength:
		if b > vscp.MaxData {
			d.Reset()
			return nil, fmt.Errorf("%w: %d (max %d)", ErrInvalidLength, b, vscp.MaxData)
		}
		d.length = int(b)
		d.push(b)
		d.state = stateID
		return nil, nil

	case stateID:
		d.push(b)
		d.idBytes++
		if d.idBytes == idSize {
			if d.length == 0 {
				d.state = stateCRC1
			} else {
				d.state = stateData
			}
		}
		return nil, nil

	case stateData:
		d.push(b)
		if d.index == 1+idSize+d.length {
			d.state = stateCRC1
		}
		return nil, nil

	case stateCRC1:
		d.crc = uint16(b) << 8
		d.state = stateCRC2
		return nil, nil

	case stateCRC2:
		d.crc |= uint16(b)
		// Wait for END byte
		d.state = stateComplete
		return nil, nil

	default:
		// Bytes after the CRC and before END
		d.Reset()
		return nil, fmt.Errorf("%w: trailing byte 0x%02X", ErrBufferOverflow, b)
	}
}

func (d *BinaryDecoder) push(b byte) {
	d.buffer[d.index] = b
	d.index++
}

func (d *BinaryDecoder) finish() (*vscp.Message, error) {
	defer d.Reset()

	if d.state != stateComplete {
		state := d.state
		if state == stateIdle {
			return nil, nil
		}
		return nil, fmt.Errorf("%w in state %d", ErrUnexpectedEnd, state)
	}

	body := d.buffer[:d.index]
	if calculated := CalculateCRC(body); calculated != d.crc {
		return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrCRCMismatch, calculated, d.crc)
	}

	id := binary.BigEndian.Uint32(body[1 : 1+idSize])
	msg, err := vscp.MessageFromCAN(id, body[1+idSize:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &msg, nil
}
