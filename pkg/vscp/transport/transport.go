// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport connects a VSCP node to its bus.
//
// An Adapter is the raw medium. The Multiplexer sits between the node core
// and the adapter, adding optional loopback of the node's own traffic and a
// transmit error counter. StreamAdapter drives an Adapter over any byte
// stream, and Segment is an in-memory bus for simulation and tests.
package transport

import (
	"errors"

	"github.com/Thermoquad/vscpnode/pkg/vscp"
)

var (
	ErrWriteFailed = errors.New("transport: write failed")
	ErrLinkDown    = errors.New("transport: link is down")
	ErrClosed      = errors.New("transport: adapter closed")
)

// Adapter is the raw bus medium. Both methods must return promptly:
// Read reports false when nothing is pending instead of blocking.
type Adapter interface {
	Read() (vscp.Message, bool)
	Write(msg vscp.Message) error
}
