// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package speedwire decodes SMA Speedwire telegrams and listens for them on
// the Speedwire UDP multicast group.
//
// Devices speaking Speedwire (energy meters, home managers, inverters) push
// their telegrams to a multicast group, by default 239.12.255.254:9522. A
// Listener joins that group, decodes every datagram into one of the Telegram
// variants and hands the result to registered observers.
package speedwire

import "time"

// Network defaults
const (
	DefaultGroup          = "239.12.255.254"
	DefaultPort           = 9522
	DefaultReceiveTimeout = 5 * time.Second

	// MaxDatagramSize is the receive buffer size for a single datagram
	MaxDatagramSize = 8192
)

// Envelope layout
const (
	tagLength        = 4
	terminatorLength = 4
	minEnvelopeSize  = tagLength + terminatorLength
)

// Energy meter layout
const (
	offsetDataTag    = 14
	offsetProtocolID = 16
	offsetSUSyID     = 18
	offsetSerial     = 20
	offsetTimestamp  = 24
	offsetRecords    = 28

	// TagDataVersion0 is the "SMA Net 2, version 0" data tag
	TagDataVersion0 = 0x0010

	// ProtocolEnergyMeter is the protocol id of energy meter telegrams
	ProtocolEnergyMeter = 0x6069
)

// Record widths
const (
	widthMeasurement = 4
	widthCounter     = 8
	widthFirmware    = 4
)

// Tag is the literal every telegram starts with
var Tag = [tagLength]byte{'S', 'M', 'A', 0x00}

// discoveryResponseSignature is the fixed head of a discovery response
var discoveryResponseSignature = [18]byte{
	0x53, 0x4D, 0x41, 0x00,
	0x00, 0x04, 0x02, 0xA0,
	0x00, 0x00, 0x00, 0x01,
	0x00, 0x02, 0x00, 0x00,
	0x00, 0x01,
}

// discoveryRequest is the datagram sent to the group to discover devices
var discoveryRequest = [20]byte{
	0x53, 0x4D, 0x41, 0x00,
	0x00, 0x04, 0x02, 0xA0,
	0xFF, 0xFF, 0xFF, 0xFF,
	0x00, 0x00, 0x00, 0x20,
	0x00, 0x00, 0x00, 0x00,
}

// DiscoveryRequest returns a copy of the discovery request datagram
func DiscoveryRequest() []byte {
	b := make([]byte, len(discoveryRequest))
	copy(b, discoveryRequest[:])
	return b
}

// IsDiscoveryRequest reports whether data is a discovery request datagram
func IsDiscoveryRequest(data []byte) bool {
	return len(data) == len(discoveryRequest) && [20]byte(data) == discoveryRequest
}
