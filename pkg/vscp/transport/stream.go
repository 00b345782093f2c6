// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/Thermoquad/vscpnode/pkg/vscp"
	"github.com/Thermoquad/vscpnode/pkg/vscp/frame"
)

const (
	defaultStreamQueue = 64
	streamReadBuffer   = 256
)

// FrameObserver sees every decode result of a StreamAdapter, including
// frames that failed to decode. It runs on the reader goroutine.
type FrameObserver func(msg *vscp.Message, err error)

// StreamOption configures a StreamAdapter
type StreamOption func(*StreamAdapter)

// WithQueueSize sets the capacity of the receive channel.
func WithQueueSize(n int) StreamOption {
	return func(s *StreamAdapter) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithFrameObserver installs an observer for decode results.
func WithFrameObserver(fn FrameObserver) StreamOption {
	return func(s *StreamAdapter) {
		s.observer = fn
	}
}

// StreamAdapter is an Adapter over a byte stream such as a serial port or a
// WebSocket connection. A reader goroutine decodes incoming bytes into a
// bounded channel; when the channel is full new messages are dropped and
// counted, so Read never blocks.
type StreamAdapter struct {
	rw       io.ReadWriter
	codec    frame.Codec
	observer FrameObserver

	queueSize int
	rx        chan vscp.Message

	writeMu sync.Mutex

	dropped      atomic.Uint64
	decodeErrors atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// NewStreamAdapter starts the reader goroutine and writes the codec preamble.
func NewStreamAdapter(rw io.ReadWriter, codec frame.Codec, opts ...StreamOption) (*StreamAdapter, error) {
	s := &StreamAdapter{
		rw:        rw,
		codec:     codec,
		queueSize: defaultStreamQueue,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.rx = make(chan vscp.Message, s.queueSize)

	go s.readLoop()

	if pre := codec.Preamble(); len(pre) > 0 {
		if _, err := rw.Write(pre); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to write %s preamble: %w", codec.Name(), err)
		}
	}
	return s, nil
}

func (s *StreamAdapter) readLoop() {
	defer close(s.done)

	decoder := s.codec.NewDecoder()
	buf := make([]byte, streamReadBuffer)
	for {
		n, err := s.rw.Read(buf)
		for _, b := range buf[:n] {
			msg, derr := decoder.DecodeByte(b)
			if derr != nil {
				s.decodeErrors.Add(1)
			}
			if s.observer != nil && (msg != nil || derr != nil) {
				s.observer(msg, derr)
			}
			if msg == nil {
				continue
			}
			select {
			case s.rx <- *msg:
			default:
				s.dropped.Add(1)
			}
		}
		if err != nil {
			s.setErr(err)
			return
		}
	}
}

func (s *StreamAdapter) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Read implements Adapter
func (s *StreamAdapter) Read() (vscp.Message, bool) {
	select {
	case msg := <-s.rx:
		return msg, true
	default:
		return vscp.Message{}, false
	}
}

// Write implements Adapter
func (s *StreamAdapter) Write(msg vscp.Message) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	wire, err := s.codec.Encode(msg)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.rw.Write(wire); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

// Dropped returns the number of messages discarded because the receive queue was full.
func (s *StreamAdapter) Dropped() uint64 {
	return s.dropped.Load()
}

// DecodeErrors returns the number of frames that failed to decode.
func (s *StreamAdapter) DecodeErrors() uint64 {
	return s.decodeErrors.Load()
}

// Done is closed when the reader goroutine exits.
func (s *StreamAdapter) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that stopped the reader, if any.
func (s *StreamAdapter) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close closes the underlying stream when it is an io.Closer.
func (s *StreamAdapter) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if c, ok := s.rw.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}
