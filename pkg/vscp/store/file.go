// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// File format version written to disk
const fileVersion = 1

// fileImage is the CBOR document: {1: version, 2: {key: bytes}}
type fileImage struct {
	Version uint8             `cbor:"1,keyasint"`
	Records map[string][]byte `cbor:"2,keyasint"`
}

// File is a store persisted as one CBOR document. Every Save rewrites the
// document to a temporary file and renames it over the original, so a crash
// leaves either the old or the new image.
type File struct {
	path string

	mu      sync.Mutex
	records map[string][]byte
}

// OpenFile loads the store at path. A missing file yields an empty store;
// the file is created on the first Save.
func OpenFile(path string) (*File, error) {
	f := &File{path: path, records: make(map[string][]byte)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store: %w", err)
	}

	records, err := decodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.records = records
	return f, nil
}

func decodeImage(data []byte) (map[string][]byte, error) {
	if len(data) == 0 {
		return make(map[string][]byte), nil
	}
	var img fileImage
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	if img.Version != fileVersion {
		return nil, fmt.Errorf("unsupported store version %d", img.Version)
	}
	if img.Records == nil {
		img.Records = make(map[string][]byte)
	}
	return img.Records, nil
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

// Load returns a copy of the record stored under key.
func (f *File) Load(key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.records[key]
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

// Save replaces the record and writes the document. On a write failure the
// in-memory record is left unchanged.
func (f *File) Save(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := make(map[string][]byte, len(f.records)+1)
	for k, v := range f.records {
		next[k] = v
	}
	next[key] = clone(value)

	if err := f.write(next); err != nil {
		return err
	}
	f.records = next
	return nil
}

// Keys returns the stored keys in sorted order.
func (f *File) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedKeys(f.records)
}

func (f *File) write(records map[string][]byte) error {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return fmt.Errorf("failed to create CBOR encoder: %w", err)
	}
	data, err := enc.Marshal(fileImage{Version: fileVersion, Records: records})
	if err != nil {
		return fmt.Errorf("failed to encode CBOR: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace store: %w", err)
	}
	return nil
}
