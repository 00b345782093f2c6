// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package frame carries VSCP Level I messages over byte streams such as a
// serial port or a WebSocket bridge.
//
// Two framings are supported: a byte-stuffed binary frame protected by a
// CRC-16-CCITT, and SLCAN (Lawicel ASCII) extended frames for off-the-shelf
// USB-CAN adapters.
package frame

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Thermoquad/vscpnode/pkg/vscp"
)

var (
	ErrCRCMismatch     = errors.New("frame: CRC mismatch")
	ErrInvalidLength   = errors.New("frame: invalid length")
	ErrUnexpectedEnd   = errors.New("frame: unexpected END byte")
	ErrBufferOverflow  = errors.New("frame: buffer overflow")
	ErrMalformed       = errors.New("frame: malformed frame")
	ErrAdapterNack     = errors.New("frame: adapter rejected command")
	ErrUnknownFraming  = errors.New("frame: unknown framing")
	ErrStandardFrameID = errors.New("frame: standard 11-bit frame cannot carry VSCP")
)

// Codec turns messages into wire bytes and creates stream decoders.
type Codec interface {
	// Name identifies the framing ("binary" or "slcan").
	Name() string
	// Encode returns the complete wire form of one message.
	Encode(m vscp.Message) ([]byte, error)
	// NewDecoder returns a decoder for a fresh byte stream.
	NewDecoder() Decoder
	// Preamble is written once after the link is opened, or nil.
	Preamble() []byte
}

// Decoder reassembles messages from a byte stream one byte at a time.
type Decoder interface {
	// DecodeByte returns a completed message, nil while a frame is incomplete,
	// or an error when the current frame is discarded.
	DecodeByte(b byte) (*vscp.Message, error)
	// Reset discards any partial frame.
	Reset()
}

// Framing names accepted by ByName
const (
	FramingBinary = "binary"
	FramingSLCAN  = "slcan"
)

// ByName returns the codec for a framing name.
func ByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case FramingBinary, "":
		return Binary{}, nil
	case FramingSLCAN:
		return SLCAN{Bitrate: DefaultSLCANBitrate}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFraming, name)
	}
}
