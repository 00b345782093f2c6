// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/vscpnode/pkg/vscp"
)

// Statistics tracks frame statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames     uint64
	ValidFrames     uint64
	CRCErrors       uint64
	DecodeErrors    uint64
	MalformedFrames uint64
	ShortPayloads   uint64
	ClassOutOfRange uint64
	ProtocolFrames  uint64
	LogFrames       uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a decoded message and its errors
func (s *Statistics) Update(msg *vscp.Message, decodeErr error, validationErr error) {
	s.TotalFrames++

	if decodeErr != nil {
		if errors.Is(decodeErr, ErrCRCMismatch) {
			s.CRCErrors++
		} else {
			s.DecodeErrors++
		}
		return
	}

	var verr *vscp.ValidationError
	if errors.As(validationErr, &verr) {
		s.MalformedFrames++
		switch verr.Kind {
		case vscp.AnomalyShortPayload:
			s.ShortPayloads++
		case vscp.AnomalyClassRange:
			s.ClassOutOfRange++
		}
	} else if validationErr != nil {
		s.MalformedFrames++
	} else {
		s.ValidFrames++
	}

	if msg != nil {
		switch msg.Class {
		case vscp.ClassProtocol:
			s.ProtocolFrames++
		case vscp.ClassLog:
			s.LogFrames++
		}
	}

	s.LastUpdateTime = time.Now()
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// Errors returns the number of frames that were not valid
func (s *Statistics) Errors() uint64 {
	return s.CRCErrors + s.DecodeErrors + s.MalformedFrames
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.TotalFrames == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, percent(s.ValidFrames))
	result += fmt.Sprintf("  Protocol:         %5d\n", s.ProtocolFrames)
	result += fmt.Sprintf("  Log:              %5d\n", s.LogFrames)

	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d (%.1f%%)\n", s.CRCErrors, percent(s.CRCErrors))
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d (%.1f%%)\n", s.DecodeErrors, percent(s.DecodeErrors))
	}
	if s.MalformedFrames > 0 {
		result += fmt.Sprintf("Malformed:       %8d (%.1f%%)\n", s.MalformedFrames, percent(s.MalformedFrames))
		if s.ShortPayloads > 0 {
			result += fmt.Sprintf("  Short Payload:    %5d\n", s.ShortPayloads)
		}
		if s.ClassOutOfRange > 0 {
			result += fmt.Sprintf("  Class Range:      %5d\n", s.ClassOutOfRange)
		}
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
