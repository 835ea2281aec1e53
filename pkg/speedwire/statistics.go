// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package speedwire

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks telegram statistics and error rates. It is not safe for
// concurrent use, callers feeding it from listener observers serialise
// through the receive loop.
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalTelegrams     uint64
	DiscoveryResponses uint64
	EnergyMeter        uint64
	Generic            uint64
	ValidReadings      uint64
	ParseErrors        uint64
	EnvelopeErrors     uint64
	TerminatorErrors   uint64
	TruncatedErrors    uint64
	WidthErrors        uint64
	OtherErrors        uint64
	Timeouts           uint64
	AnomalousReadings  uint64
	MissingChannels    uint64
	PowerFactor        uint64
	Frequency          uint64
	Voltage            uint64
	Bidirectional      uint64

	// Rates (calculated)
	TelegramRate float64 // telegrams/sec
	ErrorRate    float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update counts a decoded telegram and the anomalies found in it
func (s *Statistics) Update(t Telegram, validationErrors []ValidationError) {
	s.TotalTelegrams++
	s.LastUpdateTime = time.Now()

	switch t.Kind() {
	case KindDiscoveryResponse:
		s.DiscoveryResponses++
		return
	case KindGeneric:
		s.Generic++
		return
	}

	s.EnergyMeter++
	if len(validationErrors) == 0 {
		s.ValidReadings++
		return
	}

	s.AnomalousReadings++
	for _, err := range validationErrors {
		switch err.Type {
		case ANOMALY_MISSING_CHANNEL:
			s.MissingChannels++
		case ANOMALY_POWER_FACTOR:
			s.PowerFactor++
		case ANOMALY_FREQUENCY:
			s.Frequency++
		case ANOMALY_VOLTAGE:
			s.Voltage++
		case ANOMALY_BIDIRECTIONAL:
			s.Bidirectional++
		}
	}
}

// UpdateError counts an error reported by a listener
func (s *Statistics) UpdateError(err error) {
	s.LastUpdateTime = time.Now()

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		s.OtherErrors++
		return
	}

	s.TotalTelegrams++
	s.ParseErrors++
	switch {
	case errors.Is(err, ErrInvalidEnvelope):
		s.EnvelopeErrors++
	case errors.Is(err, ErrTerminator):
		s.TerminatorErrors++
	case errors.Is(err, ErrTruncated):
		s.TruncatedErrors++
	case errors.Is(err, ErrUnknownWidth):
		s.WidthErrors++
	}
}

// UpdateTimeout counts a receive timeout
func (s *Statistics) UpdateTimeout() {
	s.Timeouts++
}

// CalculateRates calculates telegram and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.TelegramRate = float64(s.TotalTelegrams) / elapsed
		errorCount := s.ParseErrors + s.OtherErrors + s.AnomalousReadings
		s.ErrorRate = float64(errorCount) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.TotalTelegrams == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalTelegrams)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Telegrams: %8d\n", s.TotalTelegrams)
	result += fmt.Sprintf("Energy Meter:    %8d (%.1f%%)\n", s.EnergyMeter, percent(s.EnergyMeter))
	result += fmt.Sprintf("  Valid:            %5d\n", s.ValidReadings)
	if s.DiscoveryResponses > 0 {
		result += fmt.Sprintf("Discovery:       %8d (%.1f%%)\n", s.DiscoveryResponses, percent(s.DiscoveryResponses))
	}
	if s.Generic > 0 {
		result += fmt.Sprintf("Generic:         %8d (%.1f%%)\n", s.Generic, percent(s.Generic))
	}

	if s.ParseErrors > 0 {
		result += fmt.Sprintf("Parse Errors:    %8d (%.1f%%)\n", s.ParseErrors, percent(s.ParseErrors))
		if s.EnvelopeErrors > 0 {
			result += fmt.Sprintf("  Bad Envelope:     %5d\n", s.EnvelopeErrors)
		}
		if s.TerminatorErrors > 0 {
			result += fmt.Sprintf("  Bad Terminator:   %5d\n", s.TerminatorErrors)
		}
		if s.TruncatedErrors > 0 {
			result += fmt.Sprintf("  Truncated:        %5d\n", s.TruncatedErrors)
		}
		if s.WidthErrors > 0 {
			result += fmt.Sprintf("  Unknown Width:    %5d\n", s.WidthErrors)
		}
	}
	if s.OtherErrors > 0 {
		result += fmt.Sprintf("Other Errors:    %8d\n", s.OtherErrors)
	}

	if s.AnomalousReadings > 0 {
		result += fmt.Sprintf("Anomalous:       %8d (%.1f%%)\n", s.AnomalousReadings, percent(s.AnomalousReadings))
		if s.MissingChannels > 0 {
			result += fmt.Sprintf("  Missing Channel:  %5d\n", s.MissingChannels)
		}
		if s.PowerFactor > 0 {
			result += fmt.Sprintf("  Power Factor > 1: %5d\n", s.PowerFactor)
		}
		if s.Frequency > 0 {
			result += fmt.Sprintf("  Frequency:        %5d\n", s.Frequency)
		}
		if s.Voltage > 0 {
			result += fmt.Sprintf("  Voltage > 300 V:  %5d\n", s.Voltage)
		}
		if s.Bidirectional > 0 {
			result += fmt.Sprintf("  In and Out:       %5d\n", s.Bidirectional)
		}
	}

	result += fmt.Sprintf("Timeouts:        %8d\n", s.Timeouts)
	result += fmt.Sprintf("Telegram Rate:   %8.1f tg/sec\n", s.TelegramRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
