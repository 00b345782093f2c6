// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package core

import (
	"fmt"

	"github.com/Thermoquad/vscpnode/pkg/vscp"
)

// Store is the persisted configuration consumed by the node core.
type Store interface {
	// Load returns the value for key and whether it exists.
	Load(key string) ([]byte, bool, error)
	Save(key string, value []byte) error
}

// Store keys
const (
	KeyGUID       = "guid"
	KeyZone       = "zone"
	KeySubZone    = "subzone"
	KeyLogID      = "logid"
	KeyUserID     = "userid"
	KeyControl    = "control"
	KeyNickname   = "nickname"
	KeySegmentCRC = "segcrc"
)

// nopStore persists nothing.
type nopStore struct{}

func (nopStore) Load(string) ([]byte, bool, error) { return nil, false, nil }
func (nopStore) Save(string, []byte) error         { return nil }

// loadRecord reads a fixed-size record. A missing key yields def.
func (e *Engine) loadRecord(key string, def []byte) ([]byte, bool, error) {
	v, ok, err := e.cfg.store.Load(key)
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return def, false, nil
	}
	if len(v) != len(def) {
		return nil, false, fmt.Errorf("%w: %s has %d bytes, want %d", ErrCorruptRecord, key, len(v), len(def))
	}
	return v, true, nil
}

func (e *Engine) loadByte(key string, def uint8) (uint8, bool, error) {
	v, ok, err := e.loadRecord(key, []byte{def})
	if err != nil {
		return 0, false, err
	}
	return v[0], ok, nil
}

func (e *Engine) save(key string, value ...byte) error {
	if err := e.cfg.store.Save(key, value); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// loadIdentity restores everything Init reads from the store.
func (e *Engine) loadIdentity() error {
	d := e.cfg.defaults

	guid, _, err := e.loadRecord(KeyGUID, d.GUID[:])
	if err != nil {
		return err
	}
	copy(e.guid[:], guid)

	if e.zone, _, err = e.loadByte(KeyZone, d.Zone); err != nil {
		return err
	}
	if e.subZone, _, err = e.loadByte(KeySubZone, d.SubZone); err != nil {
		return err
	}
	logID, _, err := e.loadByte(KeyLogID, d.LogID)
	if err != nil {
		return err
	}
	e.events.SetID(logID)

	userID, _, err := e.loadRecord(KeyUserID, d.UserID[:])
	if err != nil {
		return err
	}
	copy(e.userID[:], userID)

	if e.control, _, err = e.loadByte(KeyControl, d.Control); err != nil {
		return err
	}
	if e.control&vscp.ControlStartupMask == vscp.ControlStartupReserved {
		return fmt.Errorf("%w: %s startup bits in 0x%02X", ErrCorruptRecord, KeyControl, e.control)
	}

	nick, _, err := e.loadByte(KeyNickname, vscp.NicknameFree)
	if err != nil {
		return err
	}
	e.nickname = vscp.NicknameOf(nick)

	if e.segmentCRC, e.segmentCRCKnown, err = e.loadByte(KeySegmentCRC, 0); err != nil {
		return err
	}
	return nil
}
