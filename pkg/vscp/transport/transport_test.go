// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/vscpnode/pkg/vscp"
	"github.com/Thermoquad/vscpnode/pkg/vscp/frame"
)

// fakeAdapter records writes and serves scripted reads
type fakeAdapter struct {
	rx     []vscp.Message
	tx     []vscp.Message
	reads  int
	failTx bool
}

func (f *fakeAdapter) Read() (vscp.Message, bool) {
	f.reads++
	if len(f.rx) == 0 {
		return vscp.Message{}, false
	}
	m := f.rx[0]
	f.rx = f.rx[1:]
	return m, true
}

func (f *fakeAdapter) Write(m vscp.Message) error {
	if f.failTx {
		return errors.New("bus off")
	}
	f.tx = append(f.tx, m)
	return nil
}

func event(class uint16, typ uint8, tag byte) vscp.Message {
	m := vscp.Message{Priority: vscp.PriorityNormal, Class: class, Type: typ, OriginAddr: 1}
	_ = m.SetData(tag)
	return m
}

// ============================================================
// Ring Tests
// ============================================================

func TestRing_EvictsOldest(t *testing.T) {
	r := newRing(3)
	for i := byte(0); i < 4; i++ {
		evicted := r.push(event(vscp.ClassData, 0, i))
		if evicted != (i == 3) {
			t.Errorf("push %d: evicted=%v", i, evicted)
		}
	}
	if r.len() != 3 {
		t.Fatalf("expected 3 entries, got %d", r.len())
	}
	for want := byte(1); want < 4; want++ {
		m, ok := r.pop()
		if !ok || m.Data[0] != want {
			t.Errorf("expected tag %d, got %d (ok=%v)", want, m.Data[0], ok)
		}
	}
	if _, ok := r.pop(); ok {
		t.Error("expected empty ring")
	}
}

func TestRing_ZeroCapacity(t *testing.T) {
	r := newRing(0)
	if !r.push(event(vscp.ClassData, 0, 1)) {
		t.Error("zero capacity ring should report eviction")
	}
	if _, ok := r.pop(); ok {
		t.Error("zero capacity ring should stay empty")
	}
}

// ============================================================
// Multiplexer Tests
// ============================================================

func TestMultiplexer_PassThrough(t *testing.T) {
	a := &fakeAdapter{rx: []vscp.Message{event(vscp.ClassData, 1, 7)}}
	m := NewMultiplexer(a)

	if err := m.WriteMessage(event(vscp.ClassData, 1, 8)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	if m.Loopback() != 0 {
		t.Error("loopback disabled but ring not empty")
	}

	got, ok := m.ReadMessage()
	if !ok || got.Data[0] != 7 {
		t.Errorf("expected adapter message, got %+v ok=%v", got, ok)
	}
	if _, ok := m.ReadMessage(); ok {
		t.Error("expected no message")
	}
}

func TestMultiplexer_LoopbackFIFOSingleCopy(t *testing.T) {
	a := &fakeAdapter{}
	m := NewMultiplexer(a, WithLoopback(8))

	for i := byte(1); i <= 3; i++ {
		if err := m.WriteMessage(event(vscp.ClassMeasurement, 6, i)); err != nil {
			t.Fatalf("WriteMessage failed: %v", err)
		}
	}
	a.rx = []vscp.Message{event(vscp.ClassData, 0, 0x10), event(vscp.ClassData, 0, 0x11)}

	// Ring holds 1,2,3; each yielded read pulls one adapter message behind them
	want := []byte{1, 2, 3, 0x10, 0x11}
	for i, tag := range want {
		before := a.reads
		got, ok := m.ReadMessage()
		if !ok {
			t.Fatalf("read %d: no message", i)
		}
		if got.Data[0] != tag {
			t.Errorf("read %d: expected tag 0x%02X, got 0x%02X", i, tag, got.Data[0])
		}
		if a.reads-before > 1 {
			t.Errorf("read %d: %d adapter reads, want at most 1", i, a.reads-before)
		}
	}
	if _, ok := m.ReadMessage(); ok {
		t.Error("expected drained multiplexer")
	}
}

func TestMultiplexer_LoopbackExclusion(t *testing.T) {
	a := &fakeAdapter{}
	m := NewMultiplexer(a, WithLoopback(16))

	msgs := []vscp.Message{
		vscp.NewNodeOnline(3),
		event(vscp.ClassLog, vscp.TypeLogMessage, 1),
		event(vscp.ClassProtocol, vscp.TypeProtocolWhoIsThere, 0xFF),
		event(vscp.ClassInformation, vscp.TypeInformationNodeHeartbeat, 0),
	}
	for i := 0; i < 5; i++ {
		for _, msg := range msgs {
			if err := m.WriteMessage(msg); err != nil {
				t.Fatalf("WriteMessage failed: %v", err)
			}
		}
	}

	for _, queued := range m.LoopbackSnapshot() {
		if queued.Class == vscp.ClassProtocol || queued.Class == vscp.ClassLog {
			t.Errorf("class %d found in loopback ring", queued.Class)
		}
	}
	if m.Loopback() != 5 {
		t.Errorf("expected 5 looped back messages, got %d", m.Loopback())
	}
	if len(a.tx) != 20 {
		t.Errorf("expected 20 adapter writes, got %d", len(a.tx))
	}
}

func TestMultiplexer_RejectsOversized(t *testing.T) {
	a := &fakeAdapter{}
	m := NewMultiplexer(a, WithLoopback(4))

	err := m.WriteMessage(vscp.Message{Class: vscp.ClassData, DataNum: 9})
	if !errors.Is(err, vscp.ErrDataTooLong) {
		t.Errorf("expected ErrDataTooLong, got %v", err)
	}
	if len(a.tx) != 0 || m.Loopback() != 0 {
		t.Error("rejected message reached the adapter or ring")
	}
	if m.TakeTxErrors() != 0 {
		t.Error("rejected message counted as transmit error")
	}
}

func TestMultiplexer_TxErrorCounter(t *testing.T) {
	a := &fakeAdapter{failTx: true}
	m := NewMultiplexer(a)

	for i := 0; i < 5; i++ {
		if err := m.WriteMessage(event(vscp.ClassData, 0, 0)); !errors.Is(err, ErrWriteFailed) {
			t.Fatalf("expected ErrWriteFailed, got %v", err)
		}
	}
	if n := m.TakeTxErrors(); n != 5 {
		t.Errorf("expected 5 errors, got %d", n)
	}
	if n := m.TakeTxErrors(); n != 0 {
		t.Errorf("expected counter cleared, got %d", n)
	}

	for i := 0; i < 300; i++ {
		m.WriteMessage(event(vscp.ClassData, 0, 0))
	}
	if n := m.TakeTxErrors(); n != 255 {
		t.Errorf("expected saturation at 255, got %d", n)
	}

	a.failTx = false
	m.WriteMessage(event(vscp.ClassData, 0, 0))
	if n := m.TakeTxErrors(); n != 0 {
		t.Errorf("expected 0 after successful write, got %d", n)
	}
}

func TestMultiplexer_Init(t *testing.T) {
	a := &fakeAdapter{failTx: true}
	m := NewMultiplexer(a, WithLoopback(4))
	m.WriteMessage(event(vscp.ClassData, 0, 0))

	m.Init()
	if m.Loopback() != 0 || m.TakeTxErrors() != 0 {
		t.Error("Init did not reset ring and counter")
	}
}

func TestMultiplexer_ConcurrentWrites(t *testing.T) {
	a := NewSegment(0).Connect()
	m := NewMultiplexer(a, WithLoopback(32))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				m.WriteMessage(event(vscp.ClassData, 0, byte(i)))
			}
		}()
	}
	for i := 0; i < 200; i++ {
		m.ReadMessage()
	}
	wg.Wait()
	if m.Loopback() > 32 {
		t.Errorf("ring exceeded capacity: %d", m.Loopback())
	}
}

// ============================================================
// Segment Tests
// ============================================================

func TestSegment_Broadcast(t *testing.T) {
	seg := NewSegment(4)
	seg.Record(true)
	a, b, c := seg.Connect(), seg.Connect(), seg.Connect()

	if err := a.Write(event(vscp.ClassData, 0, 1)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if a.Pending() != 0 || b.Pending() != 1 || c.Pending() != 1 {
		t.Errorf("unexpected pending counts %d %d %d", a.Pending(), b.Pending(), c.Pending())
	}
	if len(seg.Traffic()) != 1 {
		t.Errorf("expected 1 recorded message, got %d", len(seg.Traffic()))
	}

	c.SetDown(true)
	if err := c.Write(event(vscp.ClassData, 0, 2)); !errors.Is(err, ErrLinkDown) {
		t.Errorf("expected ErrLinkDown, got %v", err)
	}
	b.Write(event(vscp.ClassData, 0, 3))
	if c.Pending() != 1 {
		t.Error("down port should not receive")
	}

	for i := 0; i < 6; i++ {
		a.Write(event(vscp.ClassData, 0, byte(i)))
	}
	if b.Dropped() == 0 {
		t.Error("expected drops on a full port queue")
	}
}

// ============================================================
// Stream Adapter Tests
// ============================================================

// pipeStream joins the read end of one pipe with the write end of another
type pipeStream struct {
	io.Reader
	io.Writer
	closers []io.Closer
}

func (p *pipeStream) Close() error {
	for _, c := range p.closers {
		c.Close()
	}
	return nil
}

func newPipePair() (*pipeStream, *pipeStream) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	a := &pipeStream{Reader: ar, Writer: aw, closers: []io.Closer{ar, aw}}
	b := &pipeStream{Reader: br, Writer: bw, closers: []io.Closer{br, bw}}
	return a, b
}

func waitRead(t *testing.T, a Adapter) vscp.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m, ok := a.Read(); ok {
			return m
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for message")
	return vscp.Message{}
}

func TestStreamAdapter_Exchange(t *testing.T) {
	for _, codec := range []frame.Codec{frame.Binary{}, frame.SLCAN{Bitrate: 4}} {
		t.Run(codec.Name(), func(t *testing.T) {
			left, right := newPipePair()

			var observed []error
			var mu sync.Mutex
			observer := func(msg *vscp.Message, err error) {
				mu.Lock()
				defer mu.Unlock()
				observed = append(observed, err)
			}

			bReady := make(chan *StreamAdapter)
			go func() {
				b, err := NewStreamAdapter(right, codec, WithFrameObserver(observer))
				if err != nil {
					t.Error(err)
				}
				bReady <- b
			}()
			a, err := NewStreamAdapter(left, codec)
			if err != nil {
				t.Fatalf("NewStreamAdapter failed: %v", err)
			}
			b := <-bReady
			defer a.Close()
			defer b.Close()

			sent := event(vscp.ClassMeasurement, 6, 0x42)
			if err := a.Write(sent); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			if got := waitRead(t, b); got != sent {
				t.Errorf("expected %+v, got %+v", sent, got)
			}

			mu.Lock()
			defer mu.Unlock()
			if len(observed) == 0 {
				t.Error("observer not called")
			}
		})
	}
}

// chunkReader yields scripted chunks, then EOF
type chunkReader struct {
	chunks [][]byte
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks = c.chunks[1:]
	return n, nil
}

func (c *chunkReader) Write(p []byte) (int, error) { return len(p), nil }

func TestStreamAdapter_DropsWhenFull(t *testing.T) {
	var chunks [][]byte
	for i := 0; i < 5; i++ {
		wire, _ := frame.Binary{}.Encode(event(vscp.ClassData, 0, byte(i)))
		chunks = append(chunks, wire)
	}
	chunks = append(chunks, []byte{frame.StartByte, 0x0F, frame.EndByte})

	s, err := NewStreamAdapter(&chunkReader{chunks: chunks}, frame.Binary{}, WithQueueSize(2))
	if err != nil {
		t.Fatalf("NewStreamAdapter failed: %v", err)
	}

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not stop at EOF")
	}
	if !errors.Is(s.Err(), io.EOF) {
		t.Errorf("expected EOF, got %v", s.Err())
	}
	if s.Dropped() != 3 {
		t.Errorf("expected 3 dropped, got %d", s.Dropped())
	}
	if s.DecodeErrors() != 1 {
		t.Errorf("expected 1 decode error, got %d", s.DecodeErrors())
	}
	if m, ok := s.Read(); !ok || m.Data[0] != 0 {
		t.Errorf("expected first message kept, got %+v", m)
	}
	if err := s.Write(event(vscp.ClassData, 0, 0)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after reader exit, got %v", err)
	}
}
