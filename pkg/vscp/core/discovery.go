// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package core

import (
	"bytes"
	"time"

	"github.com/Thermoquad/vscpnode/pkg/vscp"
)

// Nickname discovery
//
// A node without a nickname probes candidates in order, starting with the
// segment controller's nickname 0. A probe is NEW_NODE_ONLINE sent from 0xFF
// naming the candidate, followed by the GUID's probe key as a tie-break.
// A PROBE_ACK means the candidate is taken. If the segment controller
// acknowledges, the node waits for it to assign a nickname with SET_NICKNAME.
// A candidate that stays unanswered for ProbeRetries probes is claimed.
//
// Two nodes probing the same candidate compare keys: the higher key yields
// and moves on. Equal keys both yield and hold off their next probe for a
// GUID dependent number of probe timeouts, so they leave lockstep.

type probeState int

const (
	probeIdle probeState = iota
	probeSent
	awaitingAssignment
)

func (p probeState) String() string {
	switch p {
	case probeIdle:
		return "idle"
	case probeSent:
		return "sent"
	case awaitingAssignment:
		return "awaiting-assignment"
	default:
		return "unknown"
	}
}

type discovery struct {
	state     probeState
	candidate uint8
	attempts  int
	sentAt    time.Time
	holdUntil time.Time
}

func (d *discovery) reset() {
	*d = discovery{}
}

const maxTieHold = 8

// tieHold is how long to wait before probing again after an equal key
// yield: one to maxTieHold probe timeouts, weighted over the whole GUID.
func (e *Engine) tieHold() time.Duration {
	sum := 0
	for i, b := range e.guid {
		sum += (i + 1) * int(b)
	}
	return time.Duration(1+sum%maxTieHold) * e.cfg.timing.ProbeTimeout
}

// DiscoveryCandidate returns the nickname currently being probed.
func (e *Engine) DiscoveryCandidate() uint8 {
	return e.disc.candidate
}

func (e *Engine) discoveryTick(now time.Time) {
	d := &e.disc
	timing := e.cfg.timing

	switch d.state {
	case probeSent:
		if now.Sub(d.sentAt) < timing.ProbeTimeout {
			return
		}
		if d.attempts >= timing.ProbeRetries {
			if d.candidate == vscp.NicknameSegmentController {
				e.log.Debug("no segment controller on the bus")
				e.nextCandidate()
				return
			}
			e.claim(d.candidate, now)
			return
		}
		d.state = probeIdle

	case awaitingAssignment:
		if now.Sub(d.sentAt) < timing.SegmentControllerTimeout {
			return
		}
		e.log.Debug("segment controller did not assign a nickname")
		e.nextCandidate()
		return
	}

	// probeIdle: send the next probe. A failed write is not an attempt.
	if now.Before(d.holdUntil) {
		return
	}
	if err := e.send(vscp.NewProbe(d.candidate, e.guid.ProbeKey())); err != nil {
		return
	}
	d.attempts++
	d.sentAt = now
	d.state = probeSent
}

// nextCandidate abandons the current candidate.
func (e *Engine) nextCandidate() {
	d := &e.disc
	d.candidate++
	d.attempts = 0
	d.state = probeIdle
	if d.candidate == vscp.NicknameFree {
		e.log.Error("no free nickname on the segment")
		e.state = StateError
	}
}

func (e *Engine) claim(nickname uint8, now time.Time) {
	if err := e.save(KeyNickname, nickname); err != nil {
		e.log.Error("failed to persist nickname", "error", err)
		e.state = StateError
		return
	}
	e.nickname = vscp.NicknameOf(nickname)
	e.disc.reset()
	e.state = StateActive
	e.lastHeartbeat = now
	e.send(vscp.NewNodeOnline(nickname))
	e.log.Info("nickname claimed", "nickname", e.nickname)
}

// discoveryReceive handles traffic while the node has no nickname.
func (e *Engine) discoveryReceive(msg vscp.Message, now time.Time) {
	d := &e.disc

	if msg.Class != vscp.ClassProtocol {
		// Any traffic from the candidate proves it is taken
		if d.candidate != vscp.NicknameSegmentController && msg.OriginAddr == d.candidate {
			e.nextCandidate()
		}
		return
	}

	switch msg.Type {
	case vscp.TypeProtocolSetNickname:
		if msg.OriginAddr == vscp.NicknameSegmentController && msg.Data[0] == vscp.NicknameFree && assignable(msg.Data[1]) {
			e.assigned(msg.Data[1], now)
		}

	case vscp.TypeProtocolProbeAck:
		if msg.OriginAddr != d.candidate || d.attempts == 0 {
			return
		}
		if d.candidate == vscp.NicknameSegmentController {
			d.state = awaitingAssignment
			d.sentAt = now
			return
		}
		e.nextCandidate()

	case vscp.TypeProtocolNewNodeOnline:
		if msg.Data[0] != d.candidate || d.candidate == vscp.NicknameSegmentController {
			return
		}
		if msg.OriginAddr != vscp.NicknameFree {
			// A node announcing the candidate as its own
			e.nextCandidate()
			return
		}
		if msg.DataNum < vscp.MaxData {
			return
		}
		ours := e.guid.ProbeKey()
		switch bytes.Compare(ours[:], msg.Data[1:vscp.MaxData]) {
		case 1:
			e.log.Debug("yielding candidate to competing probe", "candidate", d.candidate)
			e.nextCandidate()
		case 0:
			hold := e.tieHold()
			e.log.Debug("equal probe keys, backing off", "candidate", d.candidate, "hold", hold)
			e.nextCandidate()
			d.holdUntil = now.Add(hold)
		}
	}
}

// assignable reports whether a node may take nickname as its own. Zero
// belongs to the segment controller and 0xFF means none.
func assignable(nickname uint8) bool {
	return nickname != vscp.NicknameSegmentController && nickname != vscp.NicknameFree
}

// assigned accepts a nickname from the segment controller.
func (e *Engine) assigned(nickname uint8, now time.Time) {
	if err := e.save(KeyNickname, nickname); err != nil {
		e.log.Error("failed to persist nickname", "error", err)
		e.state = StateError
		return
	}
	e.nickname = vscp.NicknameOf(nickname)
	e.disc.reset()
	e.state = StateActive
	e.lastHeartbeat = now
	e.send(vscp.NewNicknameAccepted(nickname))
	e.log.Info("nickname assigned by segment controller", "nickname", e.nickname)
}
