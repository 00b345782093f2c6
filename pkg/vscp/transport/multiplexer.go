// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"fmt"
	"sync"

	"github.com/Thermoquad/vscpnode/pkg/vscp"
)

// Option configures a Multiplexer
type Option func(*config)

type config struct {
	loopback int
}

func defaultConfig() config {
	return config{}
}

// WithLoopback enables loopback with a ring of the given capacity.
// A capacity of 0 disables loopback.
func WithLoopback(capacity int) Option {
	return func(c *config) {
		if capacity < 0 {
			capacity = 0
		}
		c.loopback = capacity
	}
}

// Multiplexer merges the node's own outgoing traffic back into its receive
// path and counts failed transmissions. The loopback ring and the error
// counter are guarded by one mutex, so an interrupt-style producer may call
// WriteMessage concurrently with the node's ReadMessage.
type Multiplexer struct {
	adapter  Adapter
	loopback bool

	mu       sync.Mutex
	ring     ring
	txErrors uint8
}

// NewMultiplexer wraps adapter
func NewMultiplexer(adapter Adapter, opts ...Option) *Multiplexer {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Multiplexer{
		adapter:  adapter,
		loopback: cfg.loopback > 0,
		ring:     newRing(cfg.loopback),
	}
}

// Init empties the loopback ring and clears the transmit error counter.
func (m *Multiplexer) Init() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ring.reset()
	m.txErrors = 0
}

// ReadMessage returns the next received message without blocking.
//
// With loopback enabled the ring is served first. When it yields a message,
// exactly one adapter read is made and its result, if any, is queued behind
// the ring contents so arrival order is kept.
func (m *Multiplexer) ReadMessage() (vscp.Message, bool) {
	if !m.loopback {
		return m.adapter.Read()
	}

	m.mu.Lock()
	msg, ok := m.ring.pop()
	m.mu.Unlock()
	if !ok {
		return m.adapter.Read()
	}

	if raw, rok := m.adapter.Read(); rok {
		m.mu.Lock()
		m.ring.push(raw)
		m.mu.Unlock()
	}
	return msg, true
}

// WriteMessage sends msg through the adapter. Invalid messages are rejected
// without touching the adapter or the error counter. With loopback enabled,
// messages outside CLASS1.PROTOCOL and CLASS1.LOG are queued for the node's
// own receive path before the write.
func (m *Multiplexer) WriteMessage(msg vscp.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	if m.loopback && msg.Class != vscp.ClassProtocol && msg.Class != vscp.ClassLog {
		m.mu.Lock()
		m.ring.push(msg)
		m.mu.Unlock()
	}

	if err := m.adapter.Write(msg); err != nil {
		m.mu.Lock()
		if m.txErrors < 0xFF {
			m.txErrors++
		}
		m.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// TakeTxErrors returns the number of failed writes since the previous call
// and resets the counter. The count saturates at 255.
func (m *Multiplexer) TakeTxErrors() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.txErrors
	m.txErrors = 0
	return n
}

// Loopback returns the number of messages waiting in the loopback ring.
func (m *Multiplexer) Loopback() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ring.len()
}

// LoopbackSnapshot returns the queued loopback messages oldest first.
func (m *Multiplexer) LoopbackSnapshot() []vscp.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ring.snapshot()
}
