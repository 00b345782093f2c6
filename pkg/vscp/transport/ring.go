// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import "github.com/Thermoquad/vscpnode/pkg/vscp"

// ring is a fixed-capacity FIFO of messages. Pushing into a full ring evicts
// the oldest entry. Not safe for concurrent use.
type ring struct {
	data       []vscp.Message
	head, tail int // head = next pop, tail = next push
	count      int
}

func newRing(capacity int) ring {
	return ring{data: make([]vscp.Message, capacity)}
}

// push appends msg and reports whether an entry was evicted to make room.
func (r *ring) push(msg vscp.Message) bool {
	if len(r.data) == 0 {
		return true
	}
	evicted := false
	if r.count == len(r.data) {
		r.head = (r.head + 1) % len(r.data)
		r.count--
		evicted = true
	}
	r.data[r.tail] = msg
	r.tail = (r.tail + 1) % len(r.data)
	r.count++
	return evicted
}

func (r *ring) pop() (vscp.Message, bool) {
	if r.count == 0 {
		return vscp.Message{}, false
	}
	msg := r.data[r.head]
	r.data[r.head] = vscp.Message{}
	r.head = (r.head + 1) % len(r.data)
	r.count--
	return msg, true
}

func (r *ring) len() int {
	return r.count
}

func (r *ring) reset() {
	for i := range r.data {
		r.data[i] = vscp.Message{}
	}
	r.head, r.tail, r.count = 0, 0, 0
}

// snapshot returns the queued messages oldest first.
func (r *ring) snapshot() []vscp.Message {
	out := make([]vscp.Message, r.count)
	i := r.head
	for c := range out {
		out[c] = r.data[i]
		i = (i + 1) % len(r.data)
	}
	return out
}
