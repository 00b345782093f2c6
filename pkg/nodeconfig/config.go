// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package nodeconfig loads the YAML configuration of a host-side VSCP node.
//
// Loading is split in three stages: Load decodes the file, Validate checks it
// without changing anything, and Normalize fills defaults. Options converts
// the result into engine, transport and runner options.
package nodeconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Node   NodeConfig   `yaml:"node"`
	Device DeviceConfig `yaml:"device"`
	Timing TimingConfig `yaml:"timing"`
	Link   LinkConfig   `yaml:"link"`
	Runner RunnerConfig `yaml:"runner"`
	Store  StoreConfig  `yaml:"store"`
}

// ---- NODE ----

// NodeConfig holds the factory identity. Values persisted in the store
// override everything here except hard_coded.
type NodeConfig struct {
	GUID      string  `yaml:"guid"`
	Zone      uint8   `yaml:"zone"`
	SubZone   uint8   `yaml:"sub_zone"`
	LogID     uint8   `yaml:"log_id"`
	UserID    []uint8 `yaml:"user_id"`
	Control   uint8   `yaml:"control"`
	HardCoded bool    `yaml:"hard_coded"`
	// Nickname, when set, is written to an empty store so the node starts
	// with it instead of running discovery.
	Nickname *uint8 `yaml:"nickname"`
}

// ---- DEVICE ----

type DeviceConfig struct {
	ManufacturerDeviceID    uint32         `yaml:"manufacturer_device_id"`
	ManufacturerSubDeviceID uint32         `yaml:"manufacturer_sub_device_id"`
	Firmware                FirmwareConfig `yaml:"firmware"`
	BootLoaderAlgorithm     *uint8         `yaml:"bootloader_algorithm"`
	StandardFamily          uint32         `yaml:"standard_family"`
	StandardType            uint32         `yaml:"standard_type"`
	PageCount               uint8          `yaml:"page_count"`
	MDFURL                  string         `yaml:"mdf_url"`
}

type FirmwareConfig struct {
	Major uint8  `yaml:"major"`
	Minor uint8  `yaml:"minor"`
	Build uint8  `yaml:"build"`
	Code  uint16 `yaml:"code"`
}

// ---- TIMING ----

type TimingConfig struct {
	ProbeTimeoutMs             int `yaml:"probe_timeout_ms"`
	ProbeRetries               int `yaml:"probe_retries"`
	SegmentControllerTimeoutMs int `yaml:"segment_controller_timeout_ms"`
	HeartbeatPeriodMs          int `yaml:"heartbeat_period_ms"`
	RestoreWindowMs            int `yaml:"restore_window_ms"`
}

// ---- LINK ----

type LinkConfig struct {
	Framing      string `yaml:"framing"`
	SLCANBitrate *int   `yaml:"slcan_bitrate"`
	Loopback     int    `yaml:"loopback"`
	QueueSize    int    `yaml:"queue_size"`
}

// ---- RUNNER ----

type RunnerConfig struct {
	ProcessPeriodMs int `yaml:"process_period_ms"`
	LampPeriodMs    int `yaml:"lamp_period_ms"`
}

// ---- STORE ----

type StoreConfig struct {
	// Path of the CBOR store. "memory" keeps nothing across runs.
	Path string `yaml:"path"`
}

// StoreMemory selects the in-memory store
const StoreMemory = "memory"

// Load reads, validates and normalizes the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode YAML: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	Normalize(cfg)
	return cfg, nil
}

// Marshal encodes the configuration as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
