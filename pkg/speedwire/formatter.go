// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package speedwire

import (
	"fmt"
	"strings"
)

// FormatTelegram formats a telegram into a human-readable string
func FormatTelegram(t Telegram) string {
	timestamp := t.Timestamp().Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s from %s len=%d\n", timestamp, t.Kind(), t.Origin(), t.Len())

	switch v := t.(type) {
	case *EnergyMeterReading:
		result += FormatReading(v)
	case *DiscoveryResponse:
		result += fmt.Sprintf("  Device: %s\n", v.Origin())
	default:
		result += HexDump(t.Bytes(), "  ")
	}

	return result
}

// FormatReading formats the header and every record of a reading
func FormatReading(r *EnergyMeterReading) string {
	result := fmt.Sprintf("  SUSyID: %d, Serial: %d, Firmware: %s, Uptime: %s\n",
		r.SUSyID(), r.Serial(), r.FirmwareString(), formatDuration(uint64(r.MeasuringTime())))

	for _, id := range r.Identifiers() {
		v := r.values[id]
		if c, ok := ChannelByID(id); ok {
			result += fmt.Sprintf("    %-20s %-10s %s\n", c.Name, id, FormatValue(c, v))
		} else {
			result += fmt.Sprintf("    %-20s %-10s %d\n", "?", id, v)
		}
	}

	if n := len(r.missing); n > 0 {
		result += fmt.Sprintf("  Missing: %d channels\n", n)
	}
	return result
}

// FormatSummary formats the aggregate power and frequency of a reading on
// one line
func FormatSummary(r *EnergyMeterReading) string {
	in, _ := r.Channel(TotalPIn)
	out, _ := r.Channel(TotalPOut)
	freq, _ := r.Channel(NetFrequency)
	return fmt.Sprintf("%d: in %s, out %s, %s",
		r.Serial(), FormatValue(TotalPIn, in), FormatValue(TotalPOut, out), FormatValue(NetFrequency, freq))
}

// Scale converts a raw magnitude into the SI base unit of u
func Scale(u Unit, raw uint64) float64 {
	switch u {
	case UnitPower:
		return float64(raw) / 10
	case UnitCurrent, UnitVoltage, UnitPowerFactor, UnitFrequency, UnitTime:
		return float64(raw) / 1000
	default:
		return float64(raw)
	}
}

// FormatValue renders a raw magnitude of channel c with its unit
func FormatValue(c MeasuringChannel, raw uint64) string {
	v := Scale(c.Unit, raw)
	switch c.Unit {
	case UnitPower:
		return fmt.Sprintf("%.1f %s", v, powerSymbol(c))
	case UnitEnergy:
		// Counters are reported in Ws, kWh reads better
		return fmt.Sprintf("%.3f k%sh", v/3600/1000, powerSymbol(c))
	case UnitCurrent:
		return fmt.Sprintf("%.3f A", v)
	case UnitVoltage:
		return fmt.Sprintf("%.3f V", v)
	case UnitPowerFactor:
		return fmt.Sprintf("%.3f", v)
	case UnitFrequency:
		return fmt.Sprintf("%.3f Hz", v)
	case UnitTime:
		return fmt.Sprintf("%.3f s", v)
	default:
		return fmt.Sprintf("%d", raw)
	}
}

// powerSymbol distinguishes active, reactive and apparent power
func powerSymbol(c MeasuringChannel) string {
	switch c.ID.Index % 20 {
	case 3, 4:
		return "var"
	case 9, 10:
		return "VA"
	default:
		return "W"
	}
}

// HexDump formats data 16 bytes per line, each line starting with indent
func HexDump(data []byte, indent string) string {
	var sb strings.Builder
	for i := 0; i < len(data); i += 16 {
		end := min(i+16, len(data))
		fmt.Fprintf(&sb, "%s%04X  % X\n", indent, i, data[i:end])
	}
	return sb.String()
}

// formatDuration converts milliseconds to human-readable duration
func formatDuration(ms uint64) string {
	seconds := ms / 1000

	const (
		secondsPerMinute = 60
		secondsPerHour   = 60 * secondsPerMinute
		secondsPerDay    = 24 * secondsPerHour
	)

	days := seconds / secondsPerDay
	seconds %= secondsPerDay

	hours := seconds / secondsPerHour
	seconds %= secondsPerHour

	minutes := seconds / secondsPerMinute
	seconds %= secondsPerMinute

	parts := []string{}
	for _, p := range []struct {
		n    uint64
		unit string
	}{{days, "day"}, {hours, "hour"}, {minutes, "minute"}, {seconds, "second"}} {
		switch {
		case p.n == 1:
			parts = append(parts, "1 "+p.unit)
		case p.n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", p.n, p.unit))
		}
	}

	switch len(parts) {
	case 0:
		return "0 seconds"
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	default:
		last := parts[len(parts)-1]
		return strings.Join(parts[:len(parts)-1], ", ") + ", and " + last
	}
}
