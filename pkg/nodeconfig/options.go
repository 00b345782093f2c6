// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package nodeconfig

import (
	"time"

	"github.com/Thermoquad/vscpnode/pkg/vscp"
	"github.com/Thermoquad/vscpnode/pkg/vscp/core"
	"github.com/Thermoquad/vscpnode/pkg/vscp/frame"
	"github.com/Thermoquad/vscpnode/pkg/vscp/host"
	"github.com/Thermoquad/vscpnode/pkg/vscp/transport"
)

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Defaults returns the factory settings. The configuration must be valid.
func (c *Config) Defaults() core.Defaults {
	guid, _ := vscp.ParseGUID(c.Node.GUID)
	d := core.Defaults{
		GUID:    guid,
		Zone:    c.Node.Zone,
		SubZone: c.Node.SubZone,
		LogID:   c.Node.LogID,
		Control: c.Node.Control,
	}
	copy(d.UserID[:], c.Node.UserID)
	return d
}

// DeviceInfo returns the register identity.
func (c *Config) DeviceInfo() core.DeviceInfo {
	info := core.DeviceInfo{
		ManufacturerDeviceID:    c.Device.ManufacturerDeviceID,
		ManufacturerSubDeviceID: c.Device.ManufacturerSubDeviceID,
		FirmwareMajor:           c.Device.Firmware.Major,
		FirmwareMinor:           c.Device.Firmware.Minor,
		FirmwareBuild:           c.Device.Firmware.Build,
		FirmwareCode:            c.Device.Firmware.Code,
		BootLoaderAlgorithm:     vscp.BootNone,
		StandardFamily:          c.Device.StandardFamily,
		StandardType:            c.Device.StandardType,
		PageCount:               c.Device.PageCount,
		MDFURL:                  c.Device.MDFURL,
	}
	if c.Device.BootLoaderAlgorithm != nil {
		info.BootLoaderAlgorithm = *c.Device.BootLoaderAlgorithm
	}
	return info
}

// CoreTiming returns the protocol timers.
func (c *Config) CoreTiming() core.Timing {
	return core.Timing{
		ProbeTimeout:             ms(c.Timing.ProbeTimeoutMs),
		ProbeRetries:             c.Timing.ProbeRetries,
		SegmentControllerTimeout: ms(c.Timing.SegmentControllerTimeoutMs),
		HeartbeatPeriod:          ms(c.Timing.HeartbeatPeriodMs),
		RestoreWindow:            ms(c.Timing.RestoreWindowMs),
	}
}

// EngineOptions returns the engine options derived from the configuration.
// Callers append WithStore, WithLogger and handlers of their own.
func (c *Config) EngineOptions() []core.Option {
	return []core.Option{
		core.WithDefaults(c.Defaults()),
		core.WithDeviceInfo(c.DeviceInfo()),
		core.WithTiming(c.CoreTiming()),
		core.WithHardCoded(c.Node.HardCoded),
	}
}

// Codec returns the configured framing.
func (c *Config) Codec() (frame.Codec, error) {
	codec, err := frame.ByName(c.Link.Framing)
	if err != nil {
		return nil, err
	}
	if s, ok := codec.(frame.SLCAN); ok && c.Link.SLCANBitrate != nil {
		s.Bitrate = *c.Link.SLCANBitrate
		codec = s
	}
	return codec, nil
}

// MultiplexerOptions returns the transport options.
func (c *Config) MultiplexerOptions() []transport.Option {
	if c.Link.Loopback == 0 {
		return nil
	}
	return []transport.Option{transport.WithLoopback(c.Link.Loopback)}
}

// StreamOptions returns the stream adapter options.
func (c *Config) StreamOptions() []transport.StreamOption {
	return []transport.StreamOption{transport.WithQueueSize(c.Link.QueueSize)}
}

// RunnerOptions returns the host runner periods.
func (c *Config) RunnerOptions() []host.Option {
	return []host.Option{
		host.WithProcessPeriod(ms(c.Runner.ProcessPeriodMs)),
		host.WithLampPeriod(ms(c.Runner.LampPeriodMs)),
	}
}

// Seed writes the configured nickname into a store that has none, so the
// node starts with it.
func (c *Config) Seed(st core.Store) error {
	if c.Node.Nickname == nil {
		return nil
	}
	if _, ok, err := st.Load(core.KeyNickname); err != nil || ok {
		return err
	}
	return st.Save(core.KeyNickname, []byte{*c.Node.Nickname})
}

// Example returns a valid, normalized configuration for the given GUID,
// kept entirely in memory.
func Example(guid vscp.GUID) *Config {
	cfg := &Config{
		Node: NodeConfig{GUID: guid.String()},
		Device: DeviceConfig{
			Firmware:  FirmwareConfig{Major: 1},
			PageCount: 1,
			MDFURL:    "http://localhost/vscpnode.mdf",
		},
		Store: StoreConfig{Path: StoreMemory},
	}
	Normalize(cfg)
	return cfg
}
