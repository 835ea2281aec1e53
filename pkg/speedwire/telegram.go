// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package speedwire

import (
	"fmt"
	"net"
	"time"
)

// Kind identifies a telegram variant
type Kind uint8

const (
	KindGeneric Kind = iota
	KindDiscoveryResponse
	KindEnergyMeter
)

// String returns the variant name
func (k Kind) String() string {
	switch k {
	case KindDiscoveryResponse:
		return "DISCOVERY_RESPONSE"
	case KindEnergyMeter:
		return "ENERGY_METER"
	default:
		return "GENERIC"
	}
}

// Telegram is a decoded Speedwire datagram. The set of implementations is
// closed: *DiscoveryResponse, *EnergyMeterReading and *GenericTelegram.
// Callers select on the concrete type with a type switch.
type Telegram interface {
	// Kind returns the variant
	Kind() Kind
	// Origin returns the address of the sending device
	Origin() net.IP
	// Bytes returns a copy of the raw datagram
	Bytes() []byte
	// Len returns the datagram length in bytes
	Len() int
	// Timestamp returns the time the telegram was decoded
	Timestamp() time.Time

	sealed()
}

// envelope carries the fields shared by every telegram
type envelope struct {
	origin    net.IP
	data      []byte
	timestamp time.Time
}

func newEnvelope(data []byte, origin net.IP) envelope {
	d := make([]byte, len(data))
	copy(d, data)
	var o net.IP
	if origin != nil {
		o = make(net.IP, len(origin))
		copy(o, origin)
	}
	return envelope{origin: o, data: d, timestamp: time.Now()}
}

// Origin returns the address of the sending device
func (e *envelope) Origin() net.IP {
	if e.origin == nil {
		return nil
	}
	o := make(net.IP, len(e.origin))
	copy(o, e.origin)
	return o
}

// Bytes returns a copy of the raw datagram
func (e *envelope) Bytes() []byte {
	b := make([]byte, len(e.data))
	copy(b, e.data)
	return b
}

// Len returns the datagram length
func (e *envelope) Len() int {
	return len(e.data)
}

// Timestamp returns the decode time
func (e *envelope) Timestamp() time.Time {
	return e.timestamp
}

func (e *envelope) sealed() {}

// DiscoveryResponse is sent by every Speedwire device answering a discovery
// request. Its origin is the address of the discovered device.
type DiscoveryResponse struct {
	envelope
}

// Kind returns KindDiscoveryResponse
func (*DiscoveryResponse) Kind() Kind { return KindDiscoveryResponse }

// GenericTelegram is a telegram with a valid envelope whose payload is not
// decoded further.
type GenericTelegram struct {
	envelope
}

// Kind returns KindGeneric
func (*GenericTelegram) Kind() Kind { return KindGeneric }

// FirmwareVersion is the software version announced by an energy meter
type FirmwareVersion struct {
	Major    uint8
	Minor    uint8
	Patch    uint8
	Revision byte // ASCII revision character, e.g. 'R'
}

// String returns major.minor.patch.revision
func (v FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%d.%d.%c", v.Major, v.Minor, v.Patch, v.Revision)
}

// EnergyMeterReading is a telegram from an SMA Energy Meter or Sunny Home
// Manager carrying one set of measurements.
type EnergyMeterReading struct {
	envelope

	susyID        uint16
	serial        uint32
	measuringTime uint32
	firmware      FirmwareVersion
	hasFirmware   bool
	values        map[OBISIdentifier]uint64
	order         []OBISIdentifier
	missing       []MeasuringChannel
}

// Kind returns KindEnergyMeter
func (*EnergyMeterReading) Kind() Kind { return KindEnergyMeter }

// SUSyID returns the device type identifier
func (r *EnergyMeterReading) SUSyID() uint16 {
	return r.susyID
}

// Serial returns the device serial number
func (r *EnergyMeterReading) Serial() uint32 {
	return r.serial
}

// MeasuringTime returns the device tick count in milliseconds at the time of
// measurement. It wraps around roughly every 49.7 days.
func (r *EnergyMeterReading) MeasuringTime() uint32 {
	return r.measuringTime
}

// MeasuringDuration returns MeasuringTime as a time.Duration
func (r *EnergyMeterReading) MeasuringDuration() time.Duration {
	return time.Duration(r.measuringTime) * time.Millisecond
}

// Firmware returns the firmware version record, if the telegram carried one
func (r *EnergyMeterReading) Firmware() (FirmwareVersion, bool) {
	return r.firmware, r.hasFirmware
}

// FirmwareString returns the firmware version or "unknown"
func (r *EnergyMeterReading) FirmwareString() string {
	if !r.hasFirmware {
		return "unknown"
	}
	return r.firmware.String()
}

// Value returns the magnitude recorded for id
func (r *EnergyMeterReading) Value(id OBISIdentifier) (uint64, bool) {
	v, ok := r.values[id]
	return v, ok
}

// Channel returns the magnitude recorded for a catalog channel
func (r *EnergyMeterReading) Channel(c MeasuringChannel) (uint64, bool) {
	return r.Value(c.ID)
}

// Values returns a copy of all recorded magnitudes
func (r *EnergyMeterReading) Values() map[OBISIdentifier]uint64 {
	out := make(map[OBISIdentifier]uint64, len(r.values))
	for id, v := range r.values {
		out[id] = v
	}
	return out
}

// Identifiers returns the recorded identifiers in wire order
func (r *EnergyMeterReading) Identifiers() []OBISIdentifier {
	out := make([]OBISIdentifier, len(r.order))
	copy(out, r.order)
	return out
}

// MissingChannels returns the catalog channels the telegram did not carry
func (r *EnergyMeterReading) MissingChannels() []MeasuringChannel {
	out := make([]MeasuringChannel, len(r.missing))
	copy(out, r.missing)
	return out
}

// Complete reports whether every catalog channel was present
func (r *EnergyMeterReading) Complete() bool {
	return len(r.missing) == 0
}
