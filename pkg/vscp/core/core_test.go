// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package core

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/Thermoquad/vscpnode/pkg/vscp"
	"github.com/Thermoquad/vscpnode/pkg/vscp/transport"
)

var errLinkDown = errors.New("link down")

// fakeTransport replays queued inbound messages and records writes
type fakeTransport struct {
	inbox []vscp.Message
	sent  []vscp.Message
	fail  bool
	inits int
}

func (f *fakeTransport) Init() { f.inits++ }

func (f *fakeTransport) ReadMessage() (vscp.Message, bool) {
	if len(f.inbox) == 0 {
		return vscp.Message{}, false
	}
	m := f.inbox[0]
	f.inbox = f.inbox[1:]
	return m, true
}

func (f *fakeTransport) WriteMessage(msg vscp.Message) error {
	if f.fail {
		return errLinkDown
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) push(msgs ...vscp.Message) {
	f.inbox = append(f.inbox, msgs...)
}

// take returns and clears the recorded writes
func (f *fakeTransport) take() []vscp.Message {
	out := f.sent
	f.sent = nil
	return out
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type memStore struct {
	data     map[string][]byte
	loadErr  error
	saveErr  error
	saveKeys []string
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Load(key string) ([]byte, bool, error) {
	if s.loadErr != nil {
		return nil, false, s.loadErr
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Save(key string, value []byte) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.data[key] = append([]byte(nil), value...)
	s.saveKeys = append(s.saveKeys, key)
	return nil
}

var testGUID = vscp.GUID{
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0x10,
}

const (
	testNick   = 0x21
	testMDFURL = "http://x.example/node.mdf"
)

type harness struct {
	e     *Engine
	tr    *fakeTransport
	clk   *fakeClock
	store *memStore
	app   *MemoryRegisters
}

func newHarness(t *testing.T, st *memStore, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		tr:    &fakeTransport{},
		clk:   &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		store: st,
		app:   NewMemoryRegisters(),
	}
	base := []Option{
		WithStore(st),
		WithClock(h.clk.now),
		WithAppRegisters(h.app),
		WithDefaults(Defaults{GUID: testGUID, Zone: 1, SubZone: 2, LogID: 3, Control: 0}),
		WithDeviceInfo(DeviceInfo{
			ManufacturerDeviceID:    0x12345678,
			ManufacturerSubDeviceID: 0x9ABCDEF0,
			FirmwareMajor:           1,
			FirmwareMinor:           2,
			FirmwareBuild:           3,
			FirmwareCode:            0xBEEF,
			BootLoaderAlgorithm:     vscp.BootNone,
			StandardFamily:          0x01020304,
			StandardType:            0x05060708,
			PageCount:               1,
			MDFURL:                  testMDFURL,
		}),
	}
	h.e = New(h.tr, append(base, opts...)...)
	return h
}

// newActive returns an engine announced with nickname testNick
func newActive(t *testing.T, opts ...Option) *harness {
	t.Helper()
	st := newMemStore()
	st.data[KeyNickname] = []byte{testNick}
	h := newHarness(t, st, opts...)
	if err := h.e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	h.process(t)
	if !h.e.IsActive() {
		t.Fatalf("expected active node, state %v", h.e.State())
	}
	h.tr.take()
	h.store.saveKeys = nil
	return h
}

func (h *harness) process(t *testing.T) {
	t.Helper()
	if err := h.e.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
}

// exchange delivers one request and returns everything sent in response
func (h *harness) exchange(t *testing.T, msg vscp.Message) []vscp.Message {
	t.Helper()
	h.tr.push(msg)
	h.process(t)
	return h.tr.take()
}

func protoMsg(origin, typ uint8, data ...byte) vscp.Message {
	m := vscp.Message{Priority: vscp.PriorityHigh, Class: vscp.ClassProtocol, Type: typ, OriginAddr: origin}
	_ = m.SetData(data...)
	return m
}

func expectRW(t *testing.T, sent []vscp.Message, reg, value uint8) {
	t.Helper()
	if len(sent) != 1 {
		t.Fatalf("expected one response, got %d", len(sent))
	}
	r := sent[0]
	if r.Class != vscp.ClassProtocol || r.Type != vscp.TypeProtocolRWResponse || r.OriginAddr != testNick {
		t.Fatalf("unexpected response %s", vscp.FormatMessage(r))
	}
	if r.Data[0] != reg || r.Data[1] != value {
		t.Errorf("register 0x%02X: got [0x%02X 0x%02X], want value 0x%02X", reg, r.Data[0], r.Data[1], value)
	}
}

// ============================================================
// Lifecycle Tests
// ============================================================

func TestEngine_BeforeInit(t *testing.T) {
	h := newHarness(t, newMemStore())

	if err := h.e.Process(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Process: expected ErrNotInitialized, got %v", err)
	}
	if err := h.e.StartNodeSegmentInit(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("StartNodeSegmentInit: expected ErrNotInitialized, got %v", err)
	}
	if err := h.e.RestoreDefaults(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("RestoreDefaults: expected ErrNotInitialized, got %v", err)
	}
	tx := h.e.PrepareTxMessage(vscp.ClassInformation, 1, vscp.PriorityNormal)
	if err := h.e.SendEvent(tx); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("SendEvent: expected ErrNotInitialized, got %v", err)
	}
	if h.e.IsActive() || h.e.NicknameID().IsSet() {
		t.Error("uninitialized engine reports a nickname")
	}
	if len(h.tr.sent) != 0 {
		t.Errorf("uninitialized engine sent %d messages", len(h.tr.sent))
	}
}

func TestEngine_InitTwice(t *testing.T) {
	h := newHarness(t, newMemStore())
	if err := h.e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := h.e.Init(); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("expected ErrAlreadyInitialized, got %v", err)
	}
	if h.tr.inits != 1 {
		t.Errorf("transport initialized %d times", h.tr.inits)
	}
}

func TestEngine_InitStoredNickname(t *testing.T) {
	st := newMemStore()
	st.data[KeyNickname] = []byte{testNick}
	st.data[KeyZone] = []byte{7}

	var changes [][2]State
	h := newHarness(t, st, WithStatusHandler(func(prev, next State) {
		changes = append(changes, [2]State{prev, next})
	}))
	if err := h.e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if h.e.State() != StateNotInitialized || h.e.IsActive() {
		t.Fatalf("expected NOT_INITIALIZED after Init, got %v", h.e.State())
	}
	if h.e.NicknameID().IsSet() {
		t.Error("nickname reported before announcement")
	}
	if h.e.Zone() != 7 || h.e.SubZone() != 2 {
		t.Errorf("zone %d/%d, want persisted 7 and default 2", h.e.Zone(), h.e.SubZone())
	}

	h.process(t)

	sent := h.tr.take()
	if len(sent) != 1 || sent[0].Type != vscp.TypeProtocolNewNodeOnline || sent[0].OriginAddr != testNick || sent[0].Data[0] != testNick {
		t.Fatalf("expected NEW_NODE_ONLINE announcement, got %v", sent)
	}
	if id, ok := h.e.NicknameID().Get(); !ok || id != testNick {
		t.Errorf("NicknameID = %v", h.e.NicknameID())
	}
	if len(changes) != 1 || changes[0] != [2]State{StateNotInitialized, StateActive} {
		t.Errorf("status changes %v", changes)
	}
	if len(st.saveKeys) != 0 {
		t.Errorf("Init wrote defaults back: %v", st.saveKeys)
	}
}

func TestEngine_InitWithoutNickname(t *testing.T) {
	h := newHarness(t, newMemStore())
	if err := h.e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if h.e.State() != StateInitializing {
		t.Fatalf("expected INITIALIZING, got %v", h.e.State())
	}
	h.process(t)

	sent := h.tr.take()
	if len(sent) != 1 {
		t.Fatalf("expected one probe, got %d messages", len(sent))
	}
	p := sent[0]
	if p.Type != vscp.TypeProtocolNewNodeOnline || p.OriginAddr != vscp.NicknameFree || p.DataNum != 8 {
		t.Fatalf("unexpected probe %s", vscp.FormatMessage(p))
	}
	key := testGUID.ProbeKey()
	if p.Data[0] != 0 || !bytes.Equal(p.Data[1:], key[:]) {
		t.Errorf("probe data % X", p.Data)
	}
}

func TestEngine_InitStoreFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*memStore)
		want  error
	}{
		{"load error", func(s *memStore) { s.loadErr = errors.New("flash") }, nil},
		{"short GUID", func(s *memStore) { s.data[KeyGUID] = []byte{1, 2, 3} }, ErrCorruptRecord},
		{"long nickname", func(s *memStore) { s.data[KeyNickname] = []byte{1, 2} }, ErrCorruptRecord},
		{"empty zone", func(s *memStore) { s.data[KeyZone] = []byte{} }, ErrCorruptRecord},
		{"erased control flags", func(s *memStore) { s.data[KeyControl] = []byte{0xFF} }, ErrCorruptRecord},
		{"reserved startup bits", func(s *memStore) { s.data[KeyControl] = []byte{0xC0 | vscp.ControlWriteProtect} }, ErrCorruptRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStore()
			tt.setup(st)
			h := newHarness(t, st)
			err := h.e.Init()
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if h.e.State() != StateError {
				t.Errorf("expected ERROR, got %v", h.e.State())
			}
		})
	}
}

func TestEngine_Reentrant(t *testing.T) {
	var inner error
	var e *Engine
	h := newHarness(t, newMemStore(), WithStatusHandler(func(prev, next State) {
		inner = e.Process()
	}))
	e = h.e
	e.Init()
	h.process(t)
	if !errors.Is(inner, ErrReentrant) {
		t.Errorf("expected ErrReentrant from nested Process, got %v", inner)
	}
}

func TestEngine_OneMessagePerTick(t *testing.T) {
	h := newActive(t)
	for i := 0; i < 3; i++ {
		h.tr.push(vscp.NewReadRegister(0, testNick, vscp.RegVersionMajor))
	}
	for i := 0; i < 3; i++ {
		h.process(t)
		if n := len(h.tr.take()); n != 1 {
			t.Fatalf("tick %d: expected one response, got %d", i, n)
		}
	}
	h.process(t)
	if n := len(h.tr.take()); n != 0 {
		t.Errorf("idle tick sent %d messages", n)
	}
}

func TestEngine_MalformedDropped(t *testing.T) {
	h := newActive(t)
	bad := []vscp.Message{
		{Class: vscp.ClassProtocol, Type: vscp.TypeProtocolReadRegister, DataNum: 9},
		{Class: vscp.ClassProtocol, Type: vscp.TypeProtocolReadRegister, Priority: 8, DataNum: 2, Data: [8]byte{testNick}},
		{Class: vscp.ClassProtocol, Type: vscp.TypeProtocolReadRegister, DataNum: 1, Data: [8]byte{testNick}},
		{Class: 0x200, Type: 1},
	}
	for i, m := range bad {
		if sent := h.exchange(t, m); len(sent) != 0 {
			t.Errorf("message %d: malformed request answered: %v", i, sent)
		}
	}
	if !h.e.IsActive() {
		t.Errorf("malformed traffic changed state to %v", h.e.State())
	}
}

func TestEngine_StartNodeSegmentInit(t *testing.T) {
	h := newActive(t)
	if err := h.e.StartNodeSegmentInit(); err != nil {
		t.Fatalf("StartNodeSegmentInit failed: %v", err)
	}
	if h.e.State() != StateInitializing || h.e.NicknameID().IsSet() {
		t.Errorf("state %v nickname %v", h.e.State(), h.e.NicknameID())
	}
	if !bytes.Equal(h.store.data[KeyNickname], []byte{vscp.NicknameFree}) {
		t.Errorf("persisted nickname % X", h.store.data[KeyNickname])
	}

	h.store.saveErr = errors.New("flash worn out")
	if err := h.e.StartNodeSegmentInit(); err == nil {
		t.Error("expected store error")
	}
	if h.e.State() != StateError {
		t.Errorf("expected ERROR, got %v", h.e.State())
	}
}

// ============================================================
// Application Interface Tests
// ============================================================

func TestEngine_SendEvent(t *testing.T) {
	h := newActive(t)

	if err := h.e.SendEvent(vscp.TxMessage{}); !errors.Is(err, ErrNotPrepared) {
		t.Errorf("expected ErrNotPrepared, got %v", err)
	}

	tx := h.e.PrepareTxMessage(vscp.ClassMeasurement, vscp.TypeMeasurementTemperature, vscp.PriorityNormal)
	tx.SetData(0x88, 0x02, 0x10)
	if err := h.e.SendEvent(tx); err != nil {
		t.Fatalf("SendEvent failed: %v", err)
	}
	sent := h.tr.take()
	if len(sent) != 1 || sent[0].OriginAddr != testNick || sent[0].DataNum != 3 {
		t.Fatalf("unexpected transmit %v", sent)
	}

	h.tr.fail = true
	if err := h.e.SendEvent(tx); !errors.Is(err, errLinkDown) {
		t.Errorf("expected transport error, got %v", err)
	}
	h.tr.fail = false
	if len(h.tr.take()) != 0 {
		t.Error("failed send was retried")
	}
}

func TestEngine_PrepareBeforeActive(t *testing.T) {
	h := newHarness(t, newMemStore(), WithHardCoded(true))
	h.e.Init()
	tx := h.e.PrepareTxMessage(vscp.ClassInformation, 1, vscp.PriorityLow)
	m := tx.Message()
	if m.OriginAddr != vscp.NicknameFree || !m.HardCoded || m.DataNum != 0 {
		t.Errorf("unexpected template %+v", m)
	}
}

func TestEngine_Alarm(t *testing.T) {
	h := newActive(t)

	h.e.SetAlarm(0)
	if v := h.e.TakeAlarm(); v != 0 {
		t.Errorf("SetAlarm(0) changed the register: 0x%02X", v)
	}

	h.e.SetAlarm(0x01)
	h.e.SetAlarm(0x01)
	h.e.SetAlarm(0x04)
	if v := h.e.TakeAlarm(); v != 0x05 {
		t.Errorf("TakeAlarm = 0x%02X, want 0x05", v)
	}
	if v := h.e.TakeAlarm(); v != 0 {
		t.Errorf("second TakeAlarm = 0x%02X", v)
	}

	h.e.SetAlarm(0x80)
	expectRW(t, h.exchange(t, vscp.NewReadRegister(0, testNick, vscp.RegAlarmStatus)), vscp.RegAlarmStatus, 0x80)
	expectRW(t, h.exchange(t, vscp.NewReadRegister(0, testNick, vscp.RegAlarmStatus)), vscp.RegAlarmStatus, 0)
}

func TestEngine_Heartbeat(t *testing.T) {
	h := newActive(t)

	h.clk.advance(59 * time.Second)
	h.process(t)
	if n := len(h.tr.take()); n != 0 {
		t.Fatalf("heartbeat sent early (%d messages)", n)
	}

	h.clk.advance(time.Second)
	h.process(t)
	sent := h.tr.take()
	if len(sent) != 1 {
		t.Fatalf("expected heartbeat, got %d messages", len(sent))
	}
	hb := sent[0]
	if hb.Class != vscp.ClassInformation || hb.Type != vscp.TypeInformationNodeHeartbeat || hb.OriginAddr != testNick {
		t.Fatalf("unexpected heartbeat %s", vscp.FormatMessage(hb))
	}
	if !bytes.Equal(hb.Data[:hb.DataNum], []byte{0, 1, 2}) {
		t.Errorf("heartbeat data % X", hb.Data[:hb.DataNum])
	}
}

type fakeMatrix struct {
	evaluated []vscp.Message
}

func (m *fakeMatrix) Evaluate(msg vscp.Message) { m.evaluated = append(m.evaluated, msg) }

func (m *fakeMatrix) Info() (uint8, uint8, uint16) { return 4, 0x10, 0x0001 }

func TestEngine_Classification(t *testing.T) {
	var events []vscp.Message
	matrix := &fakeMatrix{}
	h := newActive(t,
		WithEventHandler(func(msg vscp.Message) { events = append(events, msg) }),
		WithDecisionMatrix(matrix))

	app := vscp.Message{Class: vscp.ClassControl, Type: 5, OriginAddr: 0x30, DataNum: 1}
	logStart := vscp.Message{Class: vscp.ClassLog, Type: vscp.TypeLogStart, OriginAddr: 0x30, DataNum: 1, Data: [8]byte{3}}

	logLevel := vscp.Message{Class: vscp.ClassLog, Type: vscp.TypeLogLevel, OriginAddr: 0x30, DataNum: 1, Data: [8]byte{0x01}}

	h.exchange(t, app)
	h.exchange(t, logStart)
	h.exchange(t, logLevel)
	h.exchange(t, vscp.NewReadRegister(0, 0x55, 0x81))

	if len(events) != 1 || events[0].Class != vscp.ClassControl {
		t.Errorf("event handler saw %v", events)
	}
	if len(matrix.evaluated) != 1 {
		t.Errorf("matrix evaluated %d events", len(matrix.evaluated))
	}
	if !h.e.EventLog().Enabled() {
		t.Error("log start not routed to the event log")
	}

	if err := h.e.EventLog().Log(0x01, "hi"); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	sent := h.tr.take()
	if len(sent) != 1 || sent[0].Class != vscp.ClassLog || sent[0].OriginAddr != testNick {
		t.Errorf("log frame %v", sent)
	}
}

// ============================================================
// Discovery Tests
// ============================================================

// skipSegmentController runs discovery until candidate 0 has gone unanswered
func skipSegmentController(t *testing.T, h *harness) {
	t.Helper()
	for i := 0; i < 4; i++ {
		h.process(t)
		h.clk.advance(time.Second)
	}
	h.tr.take()
	if h.e.DiscoveryCandidate() != 1 {
		t.Fatalf("expected candidate 1, got %d", h.e.DiscoveryCandidate())
	}
}

func newDiscovering(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := newHarness(t, newMemStore(), opts...)
	if err := h.e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return h
}

func TestDiscovery_ClaimsFreeNickname(t *testing.T) {
	h := newDiscovering(t)

	for i := 0; i < 20 && !h.e.IsActive(); i++ {
		h.process(t)
		h.clk.advance(time.Second)
	}
	if !h.e.IsActive() {
		t.Fatalf("discovery did not finish, state %v", h.e.State())
	}
	if id, _ := h.e.NicknameID().Get(); id != 1 {
		t.Errorf("claimed nickname %d, want 1", id)
	}
	if !bytes.Equal(h.store.data[KeyNickname], []byte{1}) {
		t.Errorf("persisted nickname % X", h.store.data[KeyNickname])
	}

	sent := h.tr.take()
	probes := map[uint8]int{}
	for _, m := range sent[:len(sent)-1] {
		if m.OriginAddr != vscp.NicknameFree {
			t.Fatalf("unexpected message during discovery %s", vscp.FormatMessage(m))
		}
		probes[m.Data[0]]++
	}
	if probes[0] != 3 || probes[1] != 3 {
		t.Errorf("probe counts %v", probes)
	}
	last := sent[len(sent)-1]
	if last.Type != vscp.TypeProtocolNewNodeOnline || last.OriginAddr != 1 || last.Data[0] != 1 {
		t.Errorf("expected announcement, got %s", vscp.FormatMessage(last))
	}
}

func TestDiscovery_SegmentControllerAssigns(t *testing.T) {
	h := newDiscovering(t)
	h.process(t)
	h.tr.take()

	h.tr.push(vscp.NewProbeAck(0))
	h.process(t)

	h.clk.advance(2 * time.Second)
	h.process(t)
	if n := len(h.tr.take()); n != 0 {
		t.Fatalf("node kept probing while waiting for assignment (%d messages)", n)
	}

	h.tr.push(vscp.NewSetNickname(0, vscp.NicknameFree, 0x42))
	h.process(t)

	if id, ok := h.e.NicknameID().Get(); !ok || id != 0x42 {
		t.Fatalf("expected nickname 0x42, got %v (state %v)", h.e.NicknameID(), h.e.State())
	}
	sent := h.tr.take()
	if len(sent) != 1 || sent[0].Type != vscp.TypeProtocolNicknameAccepted || sent[0].Data[0] != 0x42 {
		t.Errorf("expected NICKNAME_ACCEPTED, got %v", sent)
	}
	if !bytes.Equal(h.store.data[KeyNickname], []byte{0x42}) {
		t.Errorf("persisted nickname % X", h.store.data[KeyNickname])
	}
}

func TestDiscovery_SegmentControllerSilent(t *testing.T) {
	h := newDiscovering(t)
	h.process(t)
	h.tr.push(vscp.NewProbeAck(0))
	h.process(t)

	h.clk.advance(5 * time.Second)
	h.process(t)
	if h.e.DiscoveryCandidate() != 1 || h.e.State() != StateInitializing {
		t.Errorf("candidate %d state %v", h.e.DiscoveryCandidate(), h.e.State())
	}
}

func TestDiscovery_AssignmentInAnySubstate(t *testing.T) {
	h := newDiscovering(t)
	skipSegmentController(t, h)
	h.process(t)

	h.tr.push(vscp.NewSetNickname(0, vscp.NicknameFree, 0x10))
	h.process(t)
	if id, _ := h.e.NicknameID().Get(); id != 0x10 {
		t.Errorf("assignment ignored while probing, nickname %v", h.e.NicknameID())
	}
}

func TestDiscovery_Conflicts(t *testing.T) {
	tests := []struct {
		name string
		msg  vscp.Message
	}{
		{"probe ack", vscp.NewProbeAck(1)},
		{"announcement", vscp.NewNodeOnline(1)},
		{"application traffic", vscp.Message{Class: vscp.ClassInformation, Type: 1, OriginAddr: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newDiscovering(t)
			skipSegmentController(t, h)
			h.process(t)

			h.tr.push(tt.msg)
			h.process(t)
			if h.e.DiscoveryCandidate() != 2 {
				t.Errorf("expected candidate 2, got %d", h.e.DiscoveryCandidate())
			}
		})
	}
}

func TestDiscovery_TieBreak(t *testing.T) {
	ours := testGUID.ProbeKey()

	tests := []struct {
		name  string
		key   [7]byte
		yield bool
	}{
		{"higher competitor", [7]byte{0xFF, 0, 0, 0, 0, 0, 0}, false},
		{"lower competitor", [7]byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, true},
		{"equal keys", ours, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newDiscovering(t)
			skipSegmentController(t, h)
			h.process(t)

			h.tr.push(vscp.NewProbe(1, tt.key))
			h.process(t)

			want := uint8(1)
			if tt.yield {
				want = 2
			}
			if got := h.e.DiscoveryCandidate(); got != want {
				t.Errorf("candidate %d, want %d", got, want)
			}
		})
	}
}

func TestDiscovery_EqualKeysHoldOff(t *testing.T) {
	h := newDiscovering(t)
	skipSegmentController(t, h)
	h.process(t)
	h.tr.take()

	h.tr.push(vscp.NewProbe(1, testGUID.ProbeKey()))
	h.process(t)
	if got := h.e.DiscoveryCandidate(); got != 2 {
		t.Fatalf("candidate %d, want 2", got)
	}

	// testGUID holds off for a single probe timeout
	h.clk.advance(500 * time.Millisecond)
	h.process(t)
	if sent := h.tr.take(); len(sent) != 0 {
		t.Fatalf("probed during hold off: %v", sent)
	}

	h.clk.advance(500 * time.Millisecond)
	h.process(t)
	sent := h.tr.take()
	if len(sent) != 1 || sent[0].Data[0] != 2 {
		t.Errorf("expected probe for candidate 2, got %v", sent)
	}
}

func TestDiscovery_SetNicknameZeroIgnored(t *testing.T) {
	h := newDiscovering(t)
	skipSegmentController(t, h)
	h.process(t)

	h.tr.push(vscp.NewSetNickname(0, vscp.NicknameFree, vscp.NicknameSegmentController))
	h.process(t)
	if h.e.State() != StateInitializing || h.e.NicknameID().IsSet() {
		t.Errorf("took the segment controller nickname: state %v nickname %v", h.e.State(), h.e.NicknameID())
	}
}

// ============================================================
// Shared Segment Tests
// ============================================================

// runSegment runs engines with the given GUIDs on one segment until every
// engine is active or the tick limit is reached.
func runSegment(t *testing.T, guids ...vscp.GUID) []*Engine {
	t.Helper()
	clk := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	seg := transport.NewSegment(64)

	engines := make([]*Engine, len(guids))
	for i, guid := range guids {
		engines[i] = New(transport.NewMultiplexer(seg.Connect()),
			WithStore(newMemStore()),
			WithClock(clk.now),
			WithDefaults(Defaults{GUID: guid}),
		)
		if err := engines[i].Init(); err != nil {
			t.Fatalf("Init %d failed: %v", i, err)
		}
	}

	for tick := 0; tick < 20000; tick++ {
		clk.advance(100 * time.Millisecond)
		active := 0
		for _, e := range engines {
			if err := e.Process(); err != nil {
				t.Fatalf("Process failed: %v", err)
			}
			if e.IsActive() {
				active++
			}
		}
		if active == len(engines) {
			break
		}
	}
	return engines
}

func TestSegment_GUIDsDifferingInHighBytes(t *testing.T) {
	tests := []struct {
		name string
		a, b vscp.GUID
	}{
		{
			"different probe keys",
			vscp.GUID{0x01, 0, 0, 0, 0, 0, 0, 0, 0, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07},
			vscp.GUID{0x02, 0, 0, 0, 0, 0, 0, 0, 0, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07},
		},
		{
			"equal probe keys",
			vscp.GUID{0x01, 0, 0, 0, 0, 0, 0, 0x00, 0, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07},
			vscp.GUID{0x00, 0, 0, 0, 0, 0, 0, 0x01, 0, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engines := runSegment(t, tt.a, tt.b)

			ids := map[uint8]bool{}
			for i, e := range engines {
				id, ok := e.NicknameID().Get()
				if !ok || e.State() != StateActive {
					t.Fatalf("node %d: state %v nickname %v", i, e.State(), e.NicknameID())
				}
				if id == vscp.NicknameSegmentController {
					t.Errorf("node %d took nickname 0", i)
				}
				ids[id] = true
			}
			if len(ids) != len(engines) {
				t.Errorf("duplicate nicknames: %v", ids)
			}
		})
	}
}

func TestDiscovery_NoBus(t *testing.T) {
	h := newDiscovering(t)
	h.tr.fail = true
	for i := 0; i < 100; i++ {
		h.process(t)
		h.clk.advance(time.Second)
	}
	if h.e.State() != StateInitializing || h.e.DiscoveryCandidate() != 0 {
		t.Errorf("state %v candidate %d", h.e.State(), h.e.DiscoveryCandidate())
	}
}

func TestDiscovery_SegmentFull(t *testing.T) {
	h := newDiscovering(t)
	skipSegmentController(t, h)

	for c := 1; c < vscp.NicknameFree; c++ {
		h.process(t)
		h.tr.push(vscp.NewProbeAck(uint8(c)))
		h.process(t)
	}
	if h.e.State() != StateError {
		t.Errorf("expected ERROR on a full segment, got %v", h.e.State())
	}
}

func TestDiscovery_PersistFailure(t *testing.T) {
	h := newDiscovering(t)
	h.process(t)
	h.store.saveErr = errors.New("flash")

	h.tr.push(vscp.NewProbeAck(0))
	h.process(t)
	h.tr.push(vscp.NewSetNickname(0, vscp.NicknameFree, 0x42))
	h.process(t)
	if h.e.State() != StateError {
		t.Errorf("expected ERROR, got %v", h.e.State())
	}
}
