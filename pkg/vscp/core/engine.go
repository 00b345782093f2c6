// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package core is the VSCP Level I node state machine.
//
// The Engine owns the node identity, claims a nickname on the segment,
// answers CLASS1.PROTOCOL requests, exposes the register page, keeps the
// alarm register and sends the periodic heartbeat. It is driven by calling
// Process on a fixed period; no call blocks and Process consumes at most one
// inbound message.
package core

import (
	"errors"
	"sync"
	"time"

	"github.com/Thermoquad/vscpnode/pkg/vscp"
	"github.com/Thermoquad/vscpnode/pkg/vscp/eventlog"
)

var (
	ErrNotInitialized     = errors.New("core: engine not initialized")
	ErrAlreadyInitialized = errors.New("core: engine already initialized")
	ErrNotPrepared        = errors.New("core: message was not prepared")
	ErrReentrant          = errors.New("core: Process called while already running")
	ErrCorruptRecord      = errors.New("core: malformed persisted record")
)

// State is the node lifecycle state
type State int

const (
	StateNotInitialized State = iota
	StateInitializing
	StateActive
	StateError
	StateIdle
)

func (s State) String() string {
	switch s {
	case StateNotInitialized:
		return "NOT_INITIALIZED"
	case StateInitializing:
		return "INITIALIZING"
	case StateActive:
		return "ACTIVE"
	case StateError:
		return "ERROR"
	case StateIdle:
		return "IDLE"
	default:
		return "UNKNOWN"
	}
}

// Transport is the message path the engine reads from and writes to.
// *transport.Multiplexer satisfies it.
type Transport interface {
	ReadMessage() (vscp.Message, bool)
	WriteMessage(msg vscp.Message) error
}

// Engine is one VSCP node. It is not safe for concurrent use apart from the
// reentrancy guard on Process.
type Engine struct {
	tr     Transport
	cfg    config
	log    Logger
	events *eventlog.Logger
	mdfURL [vscp.MDFURLSize]byte

	busy        sync.Mutex
	initialized bool
	state       State
	reported    State

	nickname        vscp.Nickname
	guid            vscp.GUID
	zone            uint8
	subZone         uint8
	userID          [vscp.UserIDSize]byte
	control         uint8
	segmentCRC      uint8
	segmentCRCKnown bool
	segmentTime     uint32
	alarm           uint8
	page            uint16

	disc          discovery
	announce      bool
	lastHeartbeat time.Time
	idleUntil     time.Time
	idleResume    bool
	restoreArmed  time.Time
	guidDropMask  uint8
}

// New creates an engine on top of tr. Init must be called before use.
func New(tr Transport, opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &Engine{
		tr:  tr,
		cfg: cfg,
		log: cfg.logger,
	}
	e.events = eventlog.New(e, cfg.defaults.LogID)
	copy(e.mdfURL[:], cfg.device.MDFURL)
	return e
}

// Init loads the persisted identity and selects the start state: a stored
// nickname starts the node in StateNotInitialized (announced on the next
// Process), otherwise nickname discovery begins. A store failure or a
// malformed record leaves the engine in StateError.
func (e *Engine) Init() error {
	if e.initialized {
		return ErrAlreadyInitialized
	}
	e.initialized = true

	if r, ok := e.tr.(interface{ Init() }); ok {
		r.Init()
	}

	e.alarm = 0
	e.page = 0
	e.events.Reset()
	e.disc.reset()
	e.restoreArmed = time.Time{}
	e.lastHeartbeat = e.cfg.now()

	if err := e.loadIdentity(); err != nil {
		e.log.Error("failed to load configuration", "error", err)
		e.nickname = vscp.NoNickname
		e.state = StateError
		return err
	}

	if e.nickname.IsSet() {
		e.state = StateNotInitialized
		e.announce = true
	} else {
		e.state = StateInitializing
	}
	e.log.Info("node initialized", "state", e.state, "guid", e.guid, "nickname", e.nickname)
	return nil
}

// StartNodeSegmentInit drops the current nickname and restarts nickname
// discovery, whatever the current state.
func (e *Engine) StartNodeSegmentInit() error {
	if !e.initialized {
		return ErrNotInitialized
	}
	return e.enterInitializing()
}

func (e *Engine) enterInitializing() error {
	e.nickname = vscp.NoNickname
	e.announce = false
	e.disc.reset()
	if err := e.save(KeyNickname, vscp.NicknameFree); err != nil {
		e.log.Error("failed to persist nickname", "error", err)
		e.state = StateError
		return err
	}
	e.state = StateInitializing
	e.log.Info("starting nickname discovery")
	return nil
}

// Process runs one tick: timers first, then at most one inbound message,
// then the status callback if the state changed.
func (e *Engine) Process() error {
	if !e.busy.TryLock() {
		return ErrReentrant
	}
	defer e.busy.Unlock()

	if !e.initialized {
		return ErrNotInitialized
	}

	now := e.cfg.now()
	e.serviceTimers(now)

	if msg, ok := e.tr.ReadMessage(); ok {
		e.receive(msg, now)
	}

	if e.state != e.reported {
		prev := e.reported
		e.reported = e.state
		e.log.Info("state changed", "from", prev, "to", e.state)
		if e.cfg.onStatus != nil {
			e.cfg.onStatus(prev, e.state)
		}
	}
	return nil
}

func (e *Engine) serviceTimers(now time.Time) {
	if !e.restoreArmed.IsZero() && now.Sub(e.restoreArmed) > e.cfg.timing.RestoreWindow {
		e.restoreArmed = time.Time{}
	}

	switch e.state {
	case StateNotInitialized:
		if e.announce {
			e.announce = false
			id, _ := e.nickname.Get()
			e.send(vscp.NewNodeOnline(id))
			e.state = StateActive
			e.lastHeartbeat = now
		}

	case StateInitializing:
		e.discoveryTick(now)

	case StateIdle:
		if e.idleUntil.IsZero() || now.Before(e.idleUntil) {
			return
		}
		e.idleUntil = time.Time{}
		if e.idleResume && e.nickname.IsSet() {
			e.state = StateNotInitialized
			e.announce = true
			return
		}
		e.enterInitializing()

	case StateActive:
		if now.Sub(e.lastHeartbeat) >= e.cfg.timing.HeartbeatPeriod {
			e.lastHeartbeat = now
			id, _ := e.nickname.Get()
			e.send(vscp.NewNodeHeartbeat(id, e.zone, e.subZone))
		}
	}
}

func (e *Engine) receive(msg vscp.Message, now time.Time) {
	if err := vscp.ValidateMessage(msg); err != nil {
		e.log.Debug("dropping malformed message", "error", err)
		return
	}

	switch e.state {
	case StateInitializing:
		e.discoveryReceive(msg, now)
	case StateActive:
		e.classify(msg, now)
	}
}

// classify routes a message received while active
func (e *Engine) classify(msg vscp.Message, now time.Time) {
	if msg.Class == vscp.ClassProtocol {
		e.handleProtocol(msg, now)
		return
	}
	if e.events.HandleEvent(msg) {
		return
	}
	if e.cfg.onEvent != nil {
		e.cfg.onEvent(msg)
	}
	if e.cfg.matrix != nil {
		e.cfg.matrix.Evaluate(msg)
	}
}

// send transmits an engine generated message. Failures are logged; the
// transport counts them.
func (e *Engine) send(msg vscp.Message) error {
	msg.HardCoded = e.cfg.hardCoded
	err := e.tr.WriteMessage(msg)
	if err != nil {
		e.log.Debug("send failed", "class", msg.Class, "type", msg.Type, "error", err)
	}
	return err
}

// IsActive reports whether the node holds a nickname and runs normally.
func (e *Engine) IsActive() bool {
	return e.state == StateActive
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	return e.state
}

// NicknameID returns the node nickname, or NoNickname unless active.
func (e *Engine) NicknameID() vscp.Nickname {
	if e.state != StateActive {
		return vscp.NoNickname
	}
	return e.nickname
}

// GUID returns the node GUID.
func (e *Engine) GUID() vscp.GUID {
	return e.guid
}

// Zone returns the node zone.
func (e *Engine) Zone() uint8 {
	return e.zone
}

// SubZone returns the node sub-zone.
func (e *Engine) SubZone() uint8 {
	return e.subZone
}

// SegmentTime returns the time last published by the segment controller.
func (e *Engine) SegmentTime() uint32 {
	return e.segmentTime
}

// EventLog returns the log fragmenter bound to this node.
func (e *Engine) EventLog() *eventlog.Logger {
	return e.events
}

// PrepareTxMessage returns a message template carrying the node nickname and
// hard-coded flag with no data bytes.
func (e *Engine) PrepareTxMessage(class uint16, typ uint8, prio vscp.Priority) vscp.TxMessage {
	return vscp.PrepareMessage(class, typ, prio, e.NicknameID(), e.cfg.hardCoded)
}

// SendEvent transmits a prepared message. The transport result is returned
// unchanged; nothing is retried.
func (e *Engine) SendEvent(msg vscp.TxMessage) error {
	if !e.initialized {
		return ErrNotInitialized
	}
	if !msg.Prepared() {
		return ErrNotPrepared
	}
	return e.tr.WriteMessage(msg.Message())
}

// SetAlarm ORs value into the alarm register. Zero is a no-op.
func (e *Engine) SetAlarm(value uint8) {
	e.alarm |= value
}

// TakeAlarm returns the alarm register and clears it.
func (e *Engine) TakeAlarm() uint8 {
	v := e.alarm
	e.alarm = 0
	return v
}

// RestoreDefaults writes the factory GUID, zone, sub-zone, log id, user id
// and control flags to the store and applies them.
func (e *Engine) RestoreDefaults() error {
	if !e.initialized {
		return ErrNotInitialized
	}
	d := e.cfg.defaults

	records := []struct {
		key   string
		value []byte
	}{
		{KeyGUID, d.GUID[:]},
		{KeyZone, []byte{d.Zone}},
		{KeySubZone, []byte{d.SubZone}},
		{KeyLogID, []byte{d.LogID}},
		{KeyUserID, d.UserID[:]},
		{KeyControl, []byte{d.Control}},
	}
	for _, r := range records {
		if err := e.save(r.key, r.value...); err != nil {
			e.log.Error("failed to restore defaults", "error", err)
			e.state = StateError
			return err
		}
	}

	e.guid = d.GUID
	e.zone = d.Zone
	e.subZone = d.SubZone
	e.events.SetID(d.LogID)
	e.userID = d.UserID
	e.control = d.Control
	e.log.Info("factory defaults restored")
	return nil
}
