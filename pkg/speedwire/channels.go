// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package speedwire

import "strings"

// Unit tags the physical unit of a decoded magnitude. Magnitudes are raw
// integers in the unit named here, conversion is left to the caller.
type Unit uint8

const (
	UnitNone        Unit = iota
	UnitPower            // 0.1 W (active, reactive and apparent power)
	UnitEnergy           // Ws
	UnitCurrent          // mA
	UnitVoltage          // mV
	UnitPowerFactor      // 0.001
	UnitFrequency        // 0.001 Hz
	UnitTime             // ms
)

// String returns the unit symbol including its scale
func (u Unit) String() string {
	switch u {
	case UnitPower:
		return "0.1 W"
	case UnitEnergy:
		return "Ws"
	case UnitCurrent:
		return "mA"
	case UnitVoltage:
		return "mV"
	case UnitPowerFactor:
		return "0.001"
	case UnitFrequency:
		return "0.001 Hz"
	case UnitTime:
		return "ms"
	default:
		return ""
	}
}

// Phase groups channels by the conductor they measure
type Phase uint8

const (
	PhaseTotal Phase = iota
	PhaseL1
	PhaseL2
	PhaseL3
)

// String returns the phase label
func (p Phase) String() string {
	switch p {
	case PhaseL1:
		return "L1"
	case PhaseL2:
		return "L2"
	case PhaseL3:
		return "L3"
	default:
		return "total"
	}
}

// MeasuringChannel binds an OBIS identifier to a description and unit
type MeasuringChannel struct {
	Name        string
	ID          OBISIdentifier
	Description string
	Unit        Unit
}

// Width returns the payload width of the channel's records
func (c MeasuringChannel) Width() int {
	return c.ID.Width()
}

// Phase returns the phase measured by the channel
func (c MeasuringChannel) Phase() Phase {
	switch {
	case c.ID.Index >= 61:
		return PhaseL3
	case c.ID.Index >= 41:
		return PhaseL2
	case c.ID.Index >= 21:
		return PhaseL1
	default:
		return PhaseTotal
	}
}

// IsCounter reports whether the channel is a cumulative energy counter
func (c MeasuringChannel) IsCounter() bool {
	return c.ID.Type == widthCounter
}

// String returns "id - description [unit]"
func (c MeasuringChannel) String() string {
	return c.ID.String() + " - " + c.Description + " [" + c.Unit.String() + "]"
}

func channel(name string, index, typ uint8, description string, unit Unit) MeasuringChannel {
	return MeasuringChannel{
		Name:        name,
		ID:          NewOBISIdentifier(index, typ, 0),
		Description: description,
		Unit:        unit,
	}
}

// Aggregate channels
var (
	TotalPIn         = channel("TOTAL_P_IN", 1, 4, "current total ingress power", UnitPower)
	TotalPInSum      = channel("TOTAL_P_IN_SUM", 1, 8, "total ingress energy sum", UnitEnergy)
	TotalPOut        = channel("TOTAL_P_OUT", 2, 4, "current total egress power", UnitPower)
	TotalPOutSum     = channel("TOTAL_P_OUT_SUM", 2, 8, "total egress energy sum", UnitEnergy)
	TotalQIn         = channel("TOTAL_Q_IN", 3, 4, "current total ingress reactive power", UnitPower)
	TotalQInSum      = channel("TOTAL_Q_IN_SUM", 3, 8, "total ingress reactive energy sum", UnitEnergy)
	TotalQOut        = channel("TOTAL_Q_OUT", 4, 4, "current total egress reactive power", UnitPower)
	TotalQOutSum     = channel("TOTAL_Q_OUT_SUM", 4, 8, "total egress reactive energy sum", UnitEnergy)
	TotalSIn         = channel("TOTAL_S_IN", 9, 4, "current total ingress apparent power", UnitPower)
	TotalSInSum      = channel("TOTAL_S_IN_SUM", 9, 8, "total ingress apparent energy sum", UnitEnergy)
	TotalSOut        = channel("TOTAL_S_OUT", 10, 4, "current total egress apparent power", UnitPower)
	TotalSOutSum     = channel("TOTAL_S_OUT_SUM", 10, 8, "total egress apparent energy sum", UnitEnergy)
	TotalPowerFactor = channel("TOTAL_POWER_FACTOR", 13, 4, "current power factor", UnitPowerFactor)
	NetFrequency     = channel("NET_FREQUENCY", 14, 4, "current net frequency", UnitFrequency)
)

// Phase 1 channels
var (
	L1PIn         = channel("L1_P_IN", 21, 4, "current phase 1 ingress power", UnitPower)
	L1PInSum      = channel("L1_P_IN_SUM", 21, 8, "phase 1 ingress energy sum", UnitEnergy)
	L1POut        = channel("L1_P_OUT", 22, 4, "current phase 1 egress power", UnitPower)
	L1POutSum     = channel("L1_P_OUT_SUM", 22, 8, "phase 1 egress energy sum", UnitEnergy)
	L1QIn         = channel("L1_Q_IN", 23, 4, "current phase 1 ingress reactive power", UnitPower)
	L1QInSum      = channel("L1_Q_IN_SUM", 23, 8, "phase 1 ingress reactive energy sum", UnitEnergy)
	L1QOut        = channel("L1_Q_OUT", 24, 4, "current phase 1 egress reactive power", UnitPower)
	L1QOutSum     = channel("L1_Q_OUT_SUM", 24, 8, "phase 1 egress reactive energy sum", UnitEnergy)
	L1SIn         = channel("L1_S_IN", 29, 4, "current phase 1 ingress apparent power", UnitPower)
	L1SInSum      = channel("L1_S_IN_SUM", 29, 8, "phase 1 ingress apparent energy sum", UnitEnergy)
	L1SOut        = channel("L1_S_OUT", 30, 4, "current phase 1 egress apparent power", UnitPower)
	L1SOutSum     = channel("L1_S_OUT_SUM", 30, 8, "phase 1 egress apparent energy sum", UnitEnergy)
	L1Current     = channel("L1_CURRENT", 31, 4, "current phase 1 electric current", UnitCurrent)
	L1Voltage     = channel("L1_VOLTAGE", 32, 4, "current phase 1 electric voltage", UnitVoltage)
	L1PowerFactor = channel("L1_POWER_FACTOR", 33, 4, "current phase 1 power factor", UnitPowerFactor)
)

// Phase 2 channels
var (
	L2PIn         = channel("L2_P_IN", 41, 4, "current phase 2 ingress power", UnitPower)
	L2PInSum      = channel("L2_P_IN_SUM", 41, 8, "phase 2 ingress energy sum", UnitEnergy)
	L2POut        = channel("L2_P_OUT", 42, 4, "current phase 2 egress power", UnitPower)
	L2POutSum     = channel("L2_P_OUT_SUM", 42, 8, "phase 2 egress energy sum", UnitEnergy)
	L2QIn         = channel("L2_Q_IN", 43, 4, "current phase 2 ingress reactive power", UnitPower)
	L2QInSum      = channel("L2_Q_IN_SUM", 43, 8, "phase 2 ingress reactive energy sum", UnitEnergy)
	L2QOut        = channel("L2_Q_OUT", 44, 4, "current phase 2 egress reactive power", UnitPower)
	L2QOutSum     = channel("L2_Q_OUT_SUM", 44, 8, "phase 2 egress reactive energy sum", UnitEnergy)
	L2SIn         = channel("L2_S_IN", 49, 4, "current phase 2 ingress apparent power", UnitPower)
	L2SInSum      = channel("L2_S_IN_SUM", 49, 8, "phase 2 ingress apparent energy sum", UnitEnergy)
	L2SOut        = channel("L2_S_OUT", 50, 4, "current phase 2 egress apparent power", UnitPower)
	L2SOutSum     = channel("L2_S_OUT_SUM", 50, 8, "phase 2 egress apparent energy sum", UnitEnergy)
	L2Current     = channel("L2_CURRENT", 51, 4, "current phase 2 electric current", UnitCurrent)
	L2Voltage     = channel("L2_VOLTAGE", 52, 4, "current phase 2 electric voltage", UnitVoltage)
	L2PowerFactor = channel("L2_POWER_FACTOR", 53, 4, "current phase 2 power factor", UnitPowerFactor)
)

// Phase 3 channels
var (
	L3PIn         = channel("L3_P_IN", 61, 4, "current phase 3 ingress power", UnitPower)
	L3PInSum      = channel("L3_P_IN_SUM", 61, 8, "phase 3 ingress energy sum", UnitEnergy)
	L3POut        = channel("L3_P_OUT", 62, 4, "current phase 3 egress power", UnitPower)
	L3POutSum     = channel("L3_P_OUT_SUM", 62, 8, "phase 3 egress energy sum", UnitEnergy)
	L3QIn         = channel("L3_Q_IN", 63, 4, "current phase 3 ingress reactive power", UnitPower)
	L3QInSum      = channel("L3_Q_IN_SUM", 63, 8, "phase 3 ingress reactive energy sum", UnitEnergy)
	L3QOut        = channel("L3_Q_OUT", 64, 4, "current phase 3 egress reactive power", UnitPower)
	L3QOutSum     = channel("L3_Q_OUT_SUM", 64, 8, "phase 3 egress reactive energy sum", UnitEnergy)
	L3SIn         = channel("L3_S_IN", 69, 4, "current phase 3 ingress apparent power", UnitPower)
	L3SInSum      = channel("L3_S_IN_SUM", 69, 8, "phase 3 ingress apparent energy sum", UnitEnergy)
	L3SOut        = channel("L3_S_OUT", 70, 4, "current phase 3 egress apparent power", UnitPower)
	L3SOutSum     = channel("L3_S_OUT_SUM", 70, 8, "phase 3 egress apparent energy sum", UnitEnergy)
	L3Current     = channel("L3_CURRENT", 71, 4, "current phase 3 electric current", UnitCurrent)
	L3Voltage     = channel("L3_VOLTAGE", 72, 4, "current phase 3 electric voltage", UnitVoltage)
	L3PowerFactor = channel("L3_POWER_FACTOR", 73, 4, "current phase 3 power factor", UnitPowerFactor)
)

// catalog lists every channel an energy meter telegram carries
var catalog = []MeasuringChannel{
	TotalPIn, TotalPOut, TotalQIn, TotalQOut, TotalSIn, TotalSOut,
	TotalPInSum, TotalPOutSum, TotalQInSum, TotalQOutSum, TotalSInSum, TotalSOutSum,
	TotalPowerFactor, NetFrequency,

	L1PIn, L1POut, L1QIn, L1QOut, L1SIn, L1SOut,
	L1PInSum, L1POutSum, L1QInSum, L1QOutSum, L1SInSum, L1SOutSum,
	L1Current, L1Voltage, L1PowerFactor,

	L2PIn, L2POut, L2QIn, L2QOut, L2SIn, L2SOut,
	L2PInSum, L2POutSum, L2QInSum, L2QOutSum, L2SInSum, L2SOutSum,
	L2Current, L2Voltage, L2PowerFactor,

	L3PIn, L3POut, L3QIn, L3QOut, L3SIn, L3SOut,
	L3PInSum, L3POutSum, L3QInSum, L3QOutSum, L3SInSum, L3SOutSum,
	L3Current, L3Voltage, L3PowerFactor,
}

var (
	channelsByID   = make(map[OBISIdentifier]MeasuringChannel, len(catalog))
	channelsByName = make(map[string]MeasuringChannel, len(catalog))
)

func init() {
	for _, c := range catalog {
		channelsByID[c.ID] = c
		channelsByName[c.Name] = c
	}
}

// Channels returns the full catalog in a stable order
func Channels() []MeasuringChannel {
	out := make([]MeasuringChannel, len(catalog))
	copy(out, catalog)
	return out
}

// ChannelByID returns the catalog entry for id
func ChannelByID(id OBISIdentifier) (MeasuringChannel, bool) {
	c, ok := channelsByID[id]
	return c, ok
}

// ChannelByName returns the catalog entry with the given name (e.g. "L1_VOLTAGE").
// Matching is case-insensitive.
func ChannelByName(name string) (MeasuringChannel, bool) {
	c, ok := channelsByName[strings.ToUpper(name)]
	return c, ok
}

// LookupChannel resolves either a catalog name or an OBIS identifier string
func LookupChannel(s string) (MeasuringChannel, bool) {
	if c, ok := ChannelByName(s); ok {
		return c, true
	}
	id, err := ParseIdentifier(s)
	if err != nil {
		return MeasuringChannel{}, false
	}
	return ChannelByID(id)
}
