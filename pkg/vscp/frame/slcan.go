// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Thermoquad/vscpnode/pkg/vscp"
)

// SLCAN framing: every VSCP message is an extended data frame
//
//	T iiiiiiii l dd.. \r
//
// with an 8 hex digit identifier, one DLC digit and two hex digits per byte.
const (
	slcanExtended = 'T'
	slcanStandard = 't'
	slcanCR       = '\r'
	slcanBell     = 0x07
	slcanMaxLine  = 1 + 8 + 1 + 2*vscp.MaxData + 1

	// DefaultSLCANBitrate is the VSCP Level I bus speed index (S4 = 125 kbit/s)
	DefaultSLCANBitrate = 4
)

// SLCAN is the Lawicel ASCII framing used by USB-CAN adapters.
type SLCAN struct {
	// Bitrate is the adapter speed index sent as "Sn" when the channel opens.
	Bitrate int
}

// Name implements Codec
func (SLCAN) Name() string { return FramingSLCAN }

// Preamble closes the channel, selects the bitrate and opens it again.
func (s SLCAN) Preamble() []byte {
	return []byte(fmt.Sprintf("C\rS%d\rO\r", s.Bitrate))
}

// NewDecoder implements Codec
func (SLCAN) NewDecoder() Decoder { return NewSLCANDecoder() }

// Encode converts a message into its SLCAN line.
func (SLCAN) Encode(m vscp.Message) ([]byte, error) {
	id, err := vscp.CANID(m)
	if err != nil {
		return nil, fmt.Errorf("failed to pack identifier: %w", err)
	}

	var builder strings.Builder
	builder.WriteByte(slcanExtended)
	builder.WriteString(fmt.Sprintf("%08X", id))
	builder.WriteByte('0' + m.DataNum)
	for _, b := range m.Payload() {
		builder.WriteString(fmt.Sprintf("%02X", b))
	}
	builder.WriteByte(slcanCR)
	return []byte(builder.String()), nil
}

// SLCANDecoder reassembles SLCAN lines from a byte stream.
type SLCANDecoder struct {
	line     []byte
	overflow bool
}

// NewSLCANDecoder creates a new SLCAN line decoder
func NewSLCANDecoder() *SLCANDecoder {
	return &SLCANDecoder{line: make([]byte, 0, slcanMaxLine)}
}

// Reset discards the partial line
func (d *SLCANDecoder) Reset() {
	d.line = d.line[:0]
	d.overflow = false
}

// DecodeByte implements Decoder. Command acknowledgements and empty lines
// produce neither a message nor an error.
func (d *SLCANDecoder) DecodeByte(b byte) (*vscp.Message, error) {
	switch b {
	case slcanBell:
		d.Reset()
		return nil, ErrAdapterNack
	case slcanCR, '\n':
		defer d.Reset()
		if d.overflow {
			return nil, fmt.Errorf("%w: line exceeds %d bytes", ErrBufferOverflow, slcanMaxLine)
		}
		return ParseSLCANLine(string(d.line))
	}

	if len(d.line) >= slcanMaxLine {
		d.overflow = true
		return nil, nil
	}
	d.line = append(d.line, b)
	return nil, nil
}

// ParseSLCANLine parses one line without its terminator.
func ParseSLCANLine(line string) (*vscp.Message, error) {
	if line == "" {
		return nil, nil
	}

	switch line[0] {
	case slcanExtended:
	case slcanStandard:
		return nil, ErrStandardFrameID
	case 'z', 'Z':
		// Transmit acknowledgement
		return nil, nil
	default:
		// Replies to other commands (version, status) carry no frame
		return nil, nil
	}

	if len(line) < 10 {
		return nil, fmt.Errorf("%w: short line %q", ErrMalformed, line)
	}
	id, err := strconv.ParseUint(line[1:9], 16, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: identifier: %v", ErrMalformed, err)
	}
	dlc := int(line[9] - '0')
	if dlc > vscp.MaxData {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLength, line[9])
	}
	hex := line[10:]
	if len(hex) != 2*dlc {
		return nil, fmt.Errorf("%w: expected %d data digits, got %d", ErrMalformed, 2*dlc, len(hex))
	}

	data := make([]byte, dlc)
	for i := range data {
		v, err := strconv.ParseUint(hex[2*i:2*i+2], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: data byte %d: %v", ErrMalformed, i, err)
		}
		data[i] = byte(v)
	}

	msg, err := vscp.MessageFromCAN(uint32(id), data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &msg, nil
}
