// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package host drives a node engine the way firmware does: a fixed-period
// process tick that also polls the init button, and a faster lamp tick that
// renders the lifecycle state on a green and a red indicator.
package host

import (
	"context"
	"errors"
	"time"

	"github.com/Thermoquad/vscpnode/pkg/vscp/core"
)

// Default periods
const (
	DefaultProcessPeriod = 250 * time.Millisecond
	DefaultLampPeriod    = 125 * time.Millisecond
	DefaultDebounce      = 2
)

// Blink dividers in lamp ticks: fast blink toggles every tick, slow blink
// every eight.
const (
	fastBlink = 1
	slowBlink = 8
)

// Node is the part of the engine the runner drives. *core.Engine satisfies it.
type Node interface {
	Process() error
	StartNodeSegmentInit() error
	State() core.State
}

// Button is the init push button.
type Button interface {
	Pressed() bool
}

// Pin is one indicator output.
type Pin interface {
	Set(on bool)
}

// ButtonFunc adapts a function to Button.
type ButtonFunc func() bool

func (f ButtonFunc) Pressed() bool { return f() }

// PinFunc adapts a function to Pin.
type PinFunc func(on bool)

func (f PinFunc) Set(on bool) { f(on) }

type nopPin struct{}

func (nopPin) Set(bool) {}

// Option configures a Runner
type Option func(*Runner)

// WithButton sets the init button.
func WithButton(b Button) Option {
	return func(r *Runner) {
		r.button = b
	}
}

// WithLamps sets the green and red indicator pins. nil pins are ignored.
func WithLamps(green, red Pin) Option {
	return func(r *Runner) {
		if green != nil {
			r.green = green
		}
		if red != nil {
			r.red = red
		}
	}
}

// WithProcessPeriod sets the Tick period used by Run.
func WithProcessPeriod(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.processPeriod = d
		}
	}
}

// WithLampPeriod sets the LampTick period used by Run.
func WithLampPeriod(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.lampPeriod = d
		}
	}
}

// WithDebounce sets how many consecutive pressed samples make a press.
func WithDebounce(samples int) Option {
	return func(r *Runner) {
		if samples > 0 {
			r.debounce = samples
		}
	}
}

// WithLogger sets the logger used for tick errors.
func WithLogger(l core.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// Runner owns the periodic calls into one node. Tick and LampTick must not be
// called concurrently; Run serializes them.
type Runner struct {
	node          Node
	button        Button
	green, red    Pin
	processPeriod time.Duration
	lampPeriod    time.Duration
	debounce      int
	log           core.Logger

	held    int
	latched bool
	lamp    uint
	blinkOn bool
}

// NewRunner creates a runner for node.
func NewRunner(node Node, opts ...Option) *Runner {
	r := &Runner{
		node:          node,
		green:         nopPin{},
		red:           nopPin{},
		processPeriod: DefaultProcessPeriod,
		lampPeriod:    DefaultLampPeriod,
		debounce:      DefaultDebounce,
		log:           nopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tick polls the button and runs one engine process tick. A debounced press
// restarts nickname discovery once per press.
func (r *Runner) Tick() error {
	if r.pollButton() {
		r.log.Info("init button pressed")
		if err := r.node.StartNodeSegmentInit(); err != nil {
			return err
		}
	}
	return r.node.Process()
}

func (r *Runner) pollButton() bool {
	if r.button == nil {
		return false
	}
	if !r.button.Pressed() {
		r.held = 0
		r.latched = false
		return false
	}
	r.held++
	if r.held >= r.debounce && !r.latched {
		r.latched = true
		return true
	}
	return false
}

// LampTick renders the lifecycle state on the indicators:
//
//	NOT_INITIALIZED  both off
//	INITIALIZING     green fast blink
//	ACTIVE           green on
//	IDLE             green slow blink
//	ERROR            red on
func (r *Runner) LampTick() {
	r.lamp++

	switch r.node.State() {
	case core.StateInitializing:
		r.red.Set(false)
		r.green.Set(r.blink(fastBlink))
	case core.StateActive:
		r.red.Set(false)
		r.green.Set(true)
	case core.StateIdle:
		r.red.Set(false)
		r.green.Set(r.blink(slowBlink))
	case core.StateError:
		r.green.Set(false)
		r.red.Set(true)
	default:
		r.green.Set(false)
		r.red.Set(false)
	}
}

func (r *Runner) blink(divider uint) bool {
	if r.lamp%divider == 0 {
		r.blinkOn = !r.blinkOn
	}
	return r.blinkOn
}

// Run drives Tick and LampTick on their periods until ctx is done. Tick
// errors are logged; a reentrant call is skipped.
func (r *Runner) Run(ctx context.Context) error {
	process := time.NewTicker(r.processPeriod)
	defer process.Stop()
	lamp := time.NewTicker(r.lampPeriod)
	defer lamp.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-process.C:
			if err := r.Tick(); err != nil && !errors.Is(err, core.ErrReentrant) {
				r.log.Error("process tick failed", "error", err)
			}
		case <-lamp.C:
			r.LampTick()
		}
	}
}
