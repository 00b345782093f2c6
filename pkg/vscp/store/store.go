// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package store provides persisted configuration backends for the node core.
// Both implementations satisfy core.Store.
package store

import (
	"sort"
	"sync"
)

// Memory keeps records in a map. It is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	records map[string][]byte
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string][]byte)}
}

// Load returns a copy of the record stored under key.
func (m *Memory) Load(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.records[key]
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

// Save replaces the record stored under key.
func (m *Memory) Save(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = clone(value)
	return nil
}

// Keys returns the stored keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.records)
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func sortedKeys(records map[string][]byte) []string {
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
