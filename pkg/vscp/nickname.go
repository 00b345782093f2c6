// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vscp

import "fmt"

// Nickname is an optional one-byte bus address.
// The unassigned state is explicit instead of the 0xFF wire sentinel.
type Nickname struct {
	id  uint8
	set bool
}

// NoNickname is the unassigned nickname.
var NoNickname = Nickname{}

// NicknameOf converts a wire byte, mapping 0xFF to NoNickname.
func NicknameOf(id uint8) Nickname {
	if id == NicknameFree {
		return NoNickname
	}
	return Nickname{id: id, set: true}
}

// Get returns the nickname and whether one is assigned.
func (n Nickname) Get() (uint8, bool) {
	return n.id, n.set
}

// IsSet reports whether a nickname is assigned.
func (n Nickname) IsSet() bool {
	return n.set
}

// Byte returns the wire form (0xFF when unassigned).
func (n Nickname) Byte() uint8 {
	if !n.set {
		return NicknameFree
	}
	return n.id
}

func (n Nickname) String() string {
	if !n.set {
		return "none"
	}
	return fmt.Sprintf("0x%02X", n.id)
}
