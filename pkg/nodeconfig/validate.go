// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package nodeconfig

import (
	"fmt"

	"github.com/Thermoquad/vscpnode/pkg/vscp"
	"github.com/Thermoquad/vscpnode/pkg/vscp/frame"
)

// Validate checks configuration correctness.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is empty")
	}

	// ------------------------------------------------------------
	// NODE IDENTITY
	// ------------------------------------------------------------

	if cfg.Node.GUID == "" {
		return fmt.Errorf("node.guid is required")
	}
	guid, err := vscp.ParseGUID(cfg.Node.GUID)
	if err != nil {
		return fmt.Errorf("node.guid: %w", err)
	}
	if guid.IsZero() {
		return fmt.Errorf("node.guid must not be all zero")
	}
	if len(cfg.Node.UserID) > vscp.UserIDSize {
		return fmt.Errorf("node.user_id has %d bytes, at most %d allowed", len(cfg.Node.UserID), vscp.UserIDSize)
	}
	if cfg.Node.Control&vscp.ControlStartupMask == vscp.ControlStartupReserved {
		return fmt.Errorf("node.control 0x%02X uses the reserved startup bits", cfg.Node.Control)
	}
	if n := cfg.Node.Nickname; n != nil && *n == vscp.NicknameFree {
		return fmt.Errorf("node.nickname 0x%02X is reserved", *n)
	}

	// ------------------------------------------------------------
	// DEVICE
	// ------------------------------------------------------------

	if len(cfg.Device.MDFURL) > vscp.MDFURLSize {
		return fmt.Errorf("device.mdf_url is %d bytes, at most %d allowed", len(cfg.Device.MDFURL), vscp.MDFURLSize)
	}
	for i := 0; i < len(cfg.Device.MDFURL); i++ {
		if cfg.Device.MDFURL[i] > 0x7F {
			return fmt.Errorf("device.mdf_url must contain ASCII characters only")
		}
	}

	// ------------------------------------------------------------
	// TIMING
	// ------------------------------------------------------------

	timers := []struct {
		name  string
		value int
	}{
		{"timing.probe_timeout_ms", cfg.Timing.ProbeTimeoutMs},
		{"timing.probe_retries", cfg.Timing.ProbeRetries},
		{"timing.segment_controller_timeout_ms", cfg.Timing.SegmentControllerTimeoutMs},
		{"timing.heartbeat_period_ms", cfg.Timing.HeartbeatPeriodMs},
		{"timing.restore_window_ms", cfg.Timing.RestoreWindowMs},
		{"runner.process_period_ms", cfg.Runner.ProcessPeriodMs},
		{"runner.lamp_period_ms", cfg.Runner.LampPeriodMs},
		{"link.loopback", cfg.Link.Loopback},
		{"link.queue_size", cfg.Link.QueueSize},
	}
	for _, tm := range timers {
		if tm.value < 0 {
			return fmt.Errorf("%s must not be negative, got %d", tm.name, tm.value)
		}
	}

	// ------------------------------------------------------------
	// LINK
	// ------------------------------------------------------------

	if _, err := frame.ByName(cfg.Link.Framing); err != nil {
		return fmt.Errorf("link.framing: %w", err)
	}
	if b := cfg.Link.SLCANBitrate; b != nil && (*b < 0 || *b > 8) {
		return fmt.Errorf("link.slcan_bitrate must be 0-8, got %d", *b)
	}

	return nil
}
