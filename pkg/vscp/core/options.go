// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package core

import (
	"time"

	"github.com/Thermoquad/vscpnode/pkg/vscp"
)

// Logger is an optional logging interface for the node core.
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// EventHandler receives every inbound event outside CLASS1.PROTOCOL and CLASS1.LOG.
type EventHandler func(msg vscp.Message)

// StatusHandler is called from Process whenever the lifecycle state changed.
type StatusHandler func(prev, next State)

// DecisionMatrix evaluates inbound events against the node's rule table.
type DecisionMatrix interface {
	Evaluate(msg vscp.Message)
	// Info describes the matrix for GET_MATRIX_INFO: number of rows, register
	// offset of the first row, and the register page holding it.
	Info() (rows, offset uint8, page uint16)
}

// Defaults are the factory settings used for anything missing from the store
// and written back by RestoreDefaults.
type Defaults struct {
	GUID    vscp.GUID
	Zone    uint8
	SubZone uint8
	LogID   uint8
	UserID  [vscp.UserIDSize]byte
	Control uint8
}

// DeviceInfo is the fixed identity exposed through the protocol registers.
type DeviceInfo struct {
	ManufacturerDeviceID    uint32
	ManufacturerSubDeviceID uint32
	FirmwareMajor           uint8
	FirmwareMinor           uint8
	FirmwareBuild           uint8
	FirmwareCode            uint16
	BootLoaderAlgorithm     uint8
	StandardFamily          uint32
	StandardType            uint32
	PageCount               uint8
	MDFURL                  string
}

// Timing holds the protocol timers.
type Timing struct {
	// ProbeTimeout is how long a probe waits for a PROBE_ACK.
	ProbeTimeout time.Duration
	// ProbeRetries is the number of unanswered probes after which a candidate
	// nickname is considered free.
	ProbeRetries int
	// SegmentControllerTimeout is how long to wait for SET_NICKNAME after the
	// segment controller acknowledged a probe.
	SegmentControllerTimeout time.Duration
	// HeartbeatPeriod is the NODE_HEARTBEAT interval while active.
	HeartbeatPeriod time.Duration
	// RestoreWindow is the time allowed between the two restore-defaults writes.
	RestoreWindow time.Duration
}

// DefaultTiming returns the timers used unless WithTiming overrides them.
func DefaultTiming() Timing {
	return Timing{
		ProbeTimeout:             time.Second,
		ProbeRetries:             3,
		SegmentControllerTimeout: 5 * time.Second,
		HeartbeatPeriod:          60 * time.Second,
		RestoreWindow:            time.Second,
	}
}

// Option configures an Engine
type Option func(*config)

type config struct {
	store     Store
	defaults  Defaults
	device    DeviceInfo
	timing    Timing
	now       func() time.Time
	logger    Logger
	onEvent   EventHandler
	onStatus  StatusHandler
	app       AppRegisters
	matrix    DecisionMatrix
	hardCoded bool
}

func defaultConfig() config {
	return config{
		store:  nopStore{},
		device: DeviceInfo{BootLoaderAlgorithm: vscp.BootNone},
		timing: DefaultTiming(),
		now:    time.Now,
		logger: nopLogger{},
	}
}

// WithStore sets the persisted configuration store.
func WithStore(s Store) Option {
	return func(c *config) {
		if s != nil {
			c.store = s
		}
	}
}

// WithDefaults sets the factory settings.
func WithDefaults(d Defaults) Option {
	return func(c *config) {
		c.defaults = d
	}
}

// WithDeviceInfo sets the identity reported through registers.
func WithDeviceInfo(info DeviceInfo) Option {
	return func(c *config) {
		c.device = info
	}
}

// WithTiming overrides the protocol timers. Zero fields keep their defaults.
func WithTiming(t Timing) Option {
	return func(c *config) {
		def := DefaultTiming()
		if t.ProbeTimeout <= 0 {
			t.ProbeTimeout = def.ProbeTimeout
		}
		if t.ProbeRetries <= 0 {
			t.ProbeRetries = def.ProbeRetries
		}
		if t.SegmentControllerTimeout <= 0 {
			t.SegmentControllerTimeout = def.SegmentControllerTimeout
		}
		if t.HeartbeatPeriod <= 0 {
			t.HeartbeatPeriod = def.HeartbeatPeriod
		}
		if t.RestoreWindow <= 0 {
			t.RestoreWindow = def.RestoreWindow
		}
		c.timing = t
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithEventHandler sets the consumer of application events.
func WithEventHandler(fn EventHandler) Option {
	return func(c *config) {
		c.onEvent = fn
	}
}

// WithStatusHandler sets the lifecycle change callback.
func WithStatusHandler(fn StatusHandler) Option {
	return func(c *config) {
		c.onStatus = fn
	}
}

// WithAppRegisters sets the owner of registers 0x00-0x7F.
func WithAppRegisters(r AppRegisters) Option {
	return func(c *config) {
		c.app = r
	}
}

// WithDecisionMatrix sets the rule table events are evaluated against.
func WithDecisionMatrix(m DecisionMatrix) Option {
	return func(c *config) {
		c.matrix = m
	}
}

// WithHardCoded marks the node as having a hard-coded nickname. Hard-coded
// nodes ignore segment CRC changes.
func WithHardCoded(hardCoded bool) Option {
	return func(c *config) {
		c.hardCoded = hardCoded
	}
}
