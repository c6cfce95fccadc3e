// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flash

import (
	"fmt"
	"time"

	"github.com/Thermoquad/kiln/pkg/link"
)

// Statistics tracks the work and the error rates of a flashing session
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	BlocksErased   uint64
	SectorsErased  uint64
	SectorsWritten uint64
	SectorsSkipped uint64
	SectorsRMW     uint64
	BytesWritten   uint64
	BytesRead      uint64
	CRCChecks      uint64
	CRCFailures    uint64
	Retries        uint64
	Recoveries     uint64

	// Link traffic, copied from the executor
	Link link.Counters

	// Rates (calculated)
	WriteRate float64 // bytes/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

func (s *Statistics) touch() {
	s.LastUpdateTime = time.Now()
}

// CalculateRates calculates the write rate
func (s *Statistics) CalculateRates() {
	elapsed := s.LastUpdateTime.Sub(s.StartTime).Seconds()
	if elapsed > 0 {
		s.WriteRate = float64(s.BytesWritten) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	elapsed := s.LastUpdateTime.Sub(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.1f seconds) ===\n", elapsed.Seconds())
	if s.BlocksErased+s.SectorsErased > 0 {
		result += fmt.Sprintf("Erased:          %8d blocks, %d sectors\n", s.BlocksErased, s.SectorsErased)
	}
	if s.SectorsWritten+s.SectorsSkipped > 0 {
		result += fmt.Sprintf("Sectors Written: %8d\n", s.SectorsWritten)
		result += fmt.Sprintf("Sectors Skipped: %8d (blank)\n", s.SectorsSkipped)
		if s.SectorsRMW > 0 {
			result += fmt.Sprintf("  Read-Modify-Write: %5d\n", s.SectorsRMW)
		}
	}
	if s.BytesRead > 0 {
		result += fmt.Sprintf("Bytes Read:      %8d\n", s.BytesRead)
	}
	if s.CRCChecks > 0 {
		result += fmt.Sprintf("CRC Checks:      %8d (%d failed)\n", s.CRCChecks, s.CRCFailures)
	}
	if s.Retries > 0 {
		result += fmt.Sprintf("Retries:         %8d\n", s.Retries)
	}
	if s.Recoveries > 0 {
		result += fmt.Sprintf("Recoveries:      %8d\n", s.Recoveries)
	}
	result += fmt.Sprintf("Frames Sent:     %8d (%d bytes out, %d bytes in)\n",
		s.Link.FramesSent, s.Link.BytesSent, s.Link.BytesReceived)
	if s.Link.Timeouts+s.Link.Mismatches+s.Link.StatusErrors > 0 {
		result += fmt.Sprintf("Link Errors:     %8d timeouts, %d mismatches, %d status\n",
			s.Link.Timeouts, s.Link.Mismatches, s.Link.StatusErrors)
	}
	if s.BytesWritten > 0 {
		result += fmt.Sprintf("Write Rate:      %8.1f KiB/sec\n", s.WriteRate/1024)
	}
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
