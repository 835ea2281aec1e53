// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package speedwire

import "fmt"

// AnomalyType represents different types of reading anomalies
type AnomalyType int

const (
	ANOMALY_MISSING_CHANNEL AnomalyType = iota
	ANOMALY_POWER_FACTOR
	ANOMALY_FREQUENCY
	ANOMALY_VOLTAGE
	ANOMALY_BIDIRECTIONAL
	ANOMALY_PARSE_ERROR
)

// Plausibility limits in raw units
const (
	maxPowerFactor  = 1000   // 1.000
	minNetFrequency = 45000  // 45 Hz
	maxNetFrequency = 65000  // 65 Hz
	maxPhaseVoltage = 300000 // 300 V
)

// String returns the anomaly name
func (a AnomalyType) String() string {
	switch a {
	case ANOMALY_MISSING_CHANNEL:
		return "MISSING_CHANNEL"
	case ANOMALY_POWER_FACTOR:
		return "POWER_FACTOR"
	case ANOMALY_FREQUENCY:
		return "FREQUENCY"
	case ANOMALY_VOLTAGE:
		return "VOLTAGE"
	case ANOMALY_BIDIRECTIONAL:
		return "BIDIRECTIONAL"
	case ANOMALY_PARSE_ERROR:
		return "PARSE_ERROR"
	default:
		return "UNKNOWN"
	}
}

// ValidationError represents an implausible energy meter reading
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateReading checks a reading for missing channels and values outside
// what a working grid connection produces.
// Returns a slice of validation errors (empty if the reading is plausible)
func ValidateReading(r *EnergyMeterReading) []ValidationError {
	errors := []ValidationError{}

	for _, c := range r.missing {
		errors = append(errors, ValidationError{
			Type:    ANOMALY_MISSING_CHANNEL,
			Message: fmt.Sprintf("Channel %s (%s) missing", c.Name, c.ID),
			Details: map[string]interface{}{"channel": c.Name, "obis": c.ID.String()},
		})
	}

	for _, c := range []MeasuringChannel{TotalPowerFactor, L1PowerFactor, L2PowerFactor, L3PowerFactor} {
		if v, ok := r.Channel(c); ok && v > maxPowerFactor {
			errors = append(errors, ValidationError{
				Type:    ANOMALY_POWER_FACTOR,
				Message: fmt.Sprintf("%s above 1 (%.3f)", c.Name, float64(v)/1000),
				Details: map[string]interface{}{"channel": c.Name, "value": v, "max": maxPowerFactor},
			})
		}
	}

	if v, ok := r.Channel(NetFrequency); ok && (v < minNetFrequency || v > maxNetFrequency) {
		errors = append(errors, ValidationError{
			Type:    ANOMALY_FREQUENCY,
			Message: fmt.Sprintf("Net frequency out of range (%.3f Hz, valid: 45 to 65 Hz)", float64(v)/1000),
			Details: map[string]interface{}{"value": v, "min": minNetFrequency, "max": maxNetFrequency},
		})
	}

	for _, c := range []MeasuringChannel{L1Voltage, L2Voltage, L3Voltage} {
		if v, ok := r.Channel(c); ok && v > maxPhaseVoltage {
			errors = append(errors, ValidationError{
				Type:    ANOMALY_VOLTAGE,
				Message: fmt.Sprintf("%s above 300 V (%.1f V)", c.Name, float64(v)/1000),
				Details: map[string]interface{}{"channel": c.Name, "value": v, "max": maxPhaseVoltage},
			})
		}
	}

	// A phase either draws from or feeds into the grid
	pairs := [][2]MeasuringChannel{
		{TotalPIn, TotalPOut}, {L1PIn, L1POut}, {L2PIn, L2POut}, {L3PIn, L3POut},
	}
	for _, p := range pairs {
		in, okIn := r.Channel(p[0])
		out, okOut := r.Channel(p[1])
		if okIn && okOut && in > 0 && out > 0 {
			errors = append(errors, ValidationError{
				Type:    ANOMALY_BIDIRECTIONAL,
				Message: fmt.Sprintf("%s and %s both non-zero (%d, %d)", p[0].Name, p[1].Name, in, out),
				Details: map[string]interface{}{"in": in, "out": out, "phase": p[0].Phase().String()},
			})
		}
	}

	return errors
}
