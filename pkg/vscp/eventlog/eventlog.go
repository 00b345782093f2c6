// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package eventlog sends text log messages as CLASS1.LOG events and tracks
// the log session a remote tool controls with log start, stop and level
// events.
//
// A message is split into frames of the form
//
//	[id, level, index, 5 payload bytes]
//
// with the last frame zero padded. Delivery is best effort: sending stops at
// the first failed frame and nothing is retried.
package eventlog

import (
	"github.com/Thermoquad/vscpnode/pkg/vscp"
)

// Frame layout
const (
	headerSize    = 3
	FramePayload  = vscp.MaxData - headerSize
	MaxFrames     = 256
	MaxMessageLen = MaxFrames * FramePayload
)

// Sender is the part of the node core the logger transmits through.
type Sender interface {
	PrepareTxMessage(class uint16, typ uint8, prio vscp.Priority) vscp.TxMessage
	SendEvent(msg vscp.TxMessage) error
}

// Logger fragments log messages and holds the volatile session state.
type Logger struct {
	sender Sender
	id     uint8

	enabled bool
	level   uint8
}

// New creates a logger sending through sender. id is the persisted log
// identifier start and stop events must carry.
func New(sender Sender, id uint8) *Logger {
	return &Logger{sender: sender, id: id}
}

// ID returns the log identifier.
func (l *Logger) ID() uint8 {
	return l.id
}

// SetID replaces the log identifier.
func (l *Logger) SetID(id uint8) {
	l.id = id
}

// Enabled reports whether a log session is running.
func (l *Logger) Enabled() bool {
	return l.enabled
}

// Level returns the current level mask.
func (l *Logger) Level() uint8 {
	return l.level
}

// Reset stops the session and clears the level mask.
func (l *Logger) Reset() {
	l.enabled = false
	l.level = 0
}

// SendLogEvent fragments message and sends it. At least one frame is sent,
// even for an empty message. Messages longer than MaxMessageLen are
// truncated. The first failed frame ends the message and its error is
// returned.
func (l *Logger) SendLogEvent(id, level uint8, message []byte) error {
	if len(message) > MaxMessageLen {
		message = message[:MaxMessageLen]
	}

	index := 0
	for {
		var data [vscp.MaxData]byte
		data[0] = id
		data[1] = level
		data[2] = uint8(index)
		n := copy(data[headerSize:], message)
		message = message[n:]

		tx := l.sender.PrepareTxMessage(vscp.ClassLog, vscp.TypeLogMessage, vscp.PriorityLow)
		if err := tx.SetData(data[:]...); err != nil {
			return err
		}
		if err := l.sender.SendEvent(tx); err != nil {
			return err
		}

		index++
		if len(message) == 0 {
			return nil
		}
	}
}

// Log sends message with the logger's own id when a session is running and
// level matches the mask. A suppressed message is not an error.
func (l *Logger) Log(level uint8, message string) error {
	if !l.enabled || level&l.level == 0 {
		return nil
	}
	return l.SendLogEvent(l.id, level, []byte(message))
}

// HandleEvent applies CLASS1.LOG control events and reports whether msg was
// a log class event. Start and stop only act when data[0] matches the log
// id; a level event sets the mask from data[0] whatever the id.
func (l *Logger) HandleEvent(msg vscp.Message) bool {
	if msg.Class != vscp.ClassLog {
		return false
	}
	if msg.DataNum < 1 {
		return true
	}

	switch msg.Type {
	case vscp.TypeLogStart:
		if msg.Data[0] == l.id {
			l.enabled = true
		}
	case vscp.TypeLogStop:
		if msg.Data[0] == l.id {
			l.enabled = false
		}
	case vscp.TypeLogLevel:
		l.level = msg.Data[0]
	}
	return true
}
