// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package speedwire

import (
	"fmt"
	"strconv"
	"strings"
)

// OBISIdentifier identifies a measured quantity inside an energy meter
// telegram. It is the B:C.D.E part of an IEC 62056-61 OBIS code, the medium
// group A is implied.
//
// Type doubles as the width in bytes of the record payload it tags: 4 for
// the last measured average and 8 for a cumulative counter.
type OBISIdentifier struct {
	Channel uint8
	Index   uint8
	Type    uint8
	Tariff  uint8
}

// firmwareIdentifier tags the firmware version record
var firmwareIdentifier = OBISIdentifier{Channel: 144}

// NewOBISIdentifier creates an identifier on channel 0
func NewOBISIdentifier(index, typ, tariff uint8) OBISIdentifier {
	return OBISIdentifier{Index: index, Type: typ, Tariff: tariff}
}

// identifierFromBytes reads an identifier from 4 wire bytes
func identifierFromBytes(b []byte) OBISIdentifier {
	return OBISIdentifier{Channel: b[0], Index: b[1], Type: b[2], Tariff: b[3]}
}

// Bytes returns the 4 byte wire form
func (id OBISIdentifier) Bytes() [4]byte {
	return [4]byte{id.Channel, id.Index, id.Type, id.Tariff}
}

// Width returns the payload width in bytes of records tagged with id
func (id OBISIdentifier) Width() int {
	return int(id.Type)
}

// IsFirmware reports whether id tags the firmware version record
func (id OBISIdentifier) IsFirmware() bool {
	return id == firmwareIdentifier
}

// String returns the canonical form channel:index.type.tariff
func (id OBISIdentifier) String() string {
	return fmt.Sprintf("%d:%d.%d.%d", id.Channel, id.Index, id.Type, id.Tariff)
}

// MarshalText implements encoding.TextMarshaler
func (id OBISIdentifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (id *OBISIdentifier) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentifier(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseIdentifier parses the canonical form channel:index.type.tariff.
// The channel prefix may be omitted, "1.4.0" is the same as "0:1.4.0".
func ParseIdentifier(s string) (OBISIdentifier, error) {
	channel := "0"
	rest := s
	if i := strings.IndexByte(s, ':'); i >= 0 {
		channel, rest = s[:i], s[i+1:]
	}

	parts := strings.Split(rest, ".")
	if len(parts) != 3 {
		return OBISIdentifier{}, fmt.Errorf("invalid OBIS identifier %q: expected channel:index.type.tariff", s)
	}

	var fields [4]uint8
	for i, part := range append([]string{channel}, parts...) {
		v, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return OBISIdentifier{}, fmt.Errorf("invalid OBIS identifier %q: %w", s, err)
		}
		fields[i] = uint8(v)
	}

	return OBISIdentifier{Channel: fields[0], Index: fields[1], Type: fields[2], Tariff: fields[3]}, nil
}
