// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"sync"

	"github.com/Thermoquad/vscpnode/pkg/vscp"
)

const defaultPortQueue = 256

// Segment is an in-memory bus. Every message written on one port is
// delivered to every other connected port, the way a CAN segment behaves.
type Segment struct {
	mu        sync.Mutex
	ports     []*Port
	queueSize int
	traffic   []vscp.Message
	record    bool
}

// NewSegment creates an empty segment whose ports queue up to queueSize
// messages each (0 selects the default).
func NewSegment(queueSize int) *Segment {
	if queueSize <= 0 {
		queueSize = defaultPortQueue
	}
	return &Segment{queueSize: queueSize}
}

// Connect attaches a new port.
func (s *Segment) Connect() *Port {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &Port{segment: s, queue: newRing(s.queueSize)}
	s.ports = append(s.ports, p)
	return p
}

// Record enables capturing every message that crosses the segment.
func (s *Segment) Record(enable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = enable
	if !enable {
		s.traffic = nil
	}
}

// Traffic returns the recorded messages in bus order.
func (s *Segment) Traffic() []vscp.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]vscp.Message, len(s.traffic))
	copy(out, s.traffic)
	return out
}

func (s *Segment) broadcast(from *Port, msg vscp.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record {
		s.traffic = append(s.traffic, msg)
	}
	for _, p := range s.ports {
		if p == from {
			continue
		}
		p.deliver(msg)
	}
}

// Port is one node's attachment to a Segment. It implements Adapter.
type Port struct {
	segment *Segment

	mu      sync.Mutex
	queue   ring
	down    bool
	dropped uint64
}

// Read implements Adapter
func (p *Port) Read() (vscp.Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.pop()
}

// Write implements Adapter
func (p *Port) Write(msg vscp.Message) error {
	p.mu.Lock()
	down := p.down
	p.mu.Unlock()
	if down {
		return ErrLinkDown
	}
	p.segment.broadcast(p, msg)
	return nil
}

// SetDown simulates a disconnected port: writes fail and nothing is received.
func (p *Port) SetDown(down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down = down
}

// Pending returns the number of queued received messages.
func (p *Port) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.len()
}

// Dropped returns the number of messages lost to a full queue.
func (p *Port) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *Port) deliver(msg vscp.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down {
		return
	}
	if p.queue.push(msg) {
		p.dropped++
	}
}
