// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package nodeconfig

import (
	"strings"

	"github.com/Thermoquad/vscpnode/pkg/vscp"
	"github.com/Thermoquad/vscpnode/pkg/vscp/core"
	"github.com/Thermoquad/vscpnode/pkg/vscp/frame"
	"github.com/Thermoquad/vscpnode/pkg/vscp/host"
)

// Defaults applied by Normalize
const (
	DefaultStorePath = "vscpnode.cbor"
	DefaultQueueSize = 64
)

// Normalize fills defaults for everything left unset.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Device.BootLoaderAlgorithm == nil {
		none := uint8(vscp.BootNone)
		cfg.Device.BootLoaderAlgorithm = &none
	}

	def := core.DefaultTiming()
	t := &cfg.Timing
	if t.ProbeTimeoutMs == 0 {
		t.ProbeTimeoutMs = int(def.ProbeTimeout.Milliseconds())
	}
	if t.ProbeRetries == 0 {
		t.ProbeRetries = def.ProbeRetries
	}
	if t.SegmentControllerTimeoutMs == 0 {
		t.SegmentControllerTimeoutMs = int(def.SegmentControllerTimeout.Milliseconds())
	}
	if t.HeartbeatPeriodMs == 0 {
		t.HeartbeatPeriodMs = int(def.HeartbeatPeriod.Milliseconds())
	}
	if t.RestoreWindowMs == 0 {
		t.RestoreWindowMs = int(def.RestoreWindow.Milliseconds())
	}

	if cfg.Runner.ProcessPeriodMs == 0 {
		cfg.Runner.ProcessPeriodMs = int(host.DefaultProcessPeriod.Milliseconds())
	}
	if cfg.Runner.LampPeriodMs == 0 {
		cfg.Runner.LampPeriodMs = int(host.DefaultLampPeriod.Milliseconds())
	}

	cfg.Link.Framing = strings.ToLower(cfg.Link.Framing)
	if cfg.Link.Framing == "" {
		cfg.Link.Framing = frame.FramingBinary
	}
	if cfg.Link.SLCANBitrate == nil {
		rate := frame.DefaultSLCANBitrate
		cfg.Link.SLCANBitrate = &rate
	}
	if cfg.Link.QueueSize == 0 {
		cfg.Link.QueueSize = DefaultQueueSize
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath
	}
}
