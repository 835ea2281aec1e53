// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package speedwire

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
)

// Decoder classifies datagrams into telegram variants
type Decoder struct {
	logger *slog.Logger
}

// NewDecoder creates a decoder that reports diagnostics to logger.
// A nil logger discards them.
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = discardLogger()
	}
	return &Decoder{logger: logger}
}

var defaultDecoder = NewDecoder(nil)

// Decode classifies data with a decoder that discards diagnostics
func Decode(data []byte, origin net.IP) (Telegram, error) {
	return defaultDecoder.Decode(data, origin)
}

// Decode validates the envelope of data and returns the first matching
// variant: discovery response, energy meter reading, or generic telegram.
// The returned error is always a *ParseError.
func (d *Decoder) Decode(data []byte, origin net.IP) (Telegram, error) {
	if err := checkEnvelope(data, origin); err != nil {
		return nil, err
	}

	if matchDiscoveryResponse(data) {
		return &DiscoveryResponse{envelope: newEnvelope(data, origin)}, nil
	}

	reading, err := d.decodeEnergyMeter(data, origin)
	switch {
	case err == nil:
		return reading, nil
	case !errors.Is(err, errMismatch):
		return nil, err
	}

	return &GenericTelegram{envelope: newEnvelope(data, origin)}, nil
}

// checkEnvelope validates the "SMA\0" prefix and the zero terminator
func checkEnvelope(data []byte, origin net.IP) error {
	if len(data) < minEnvelopeSize {
		return &ParseError{Origin: origin, Length: len(data), Offset: -1, Err: ErrInvalidEnvelope,
			Detail: fmt.Sprintf("need at least %d bytes", minEnvelopeSize)}
	}
	if !bytes.Equal(data[:tagLength], Tag[:]) {
		return &ParseError{Origin: origin, Length: len(data), Offset: 0, Err: ErrInvalidEnvelope,
			Detail: fmt.Sprintf("tag is % X", data[:tagLength])}
	}

	end := len(data) - terminatorLength
	if binary.BigEndian.Uint16(data[end:]) != 0 || binary.BigEndian.Uint16(data[end+2:]) != 0 {
		return &ParseError{Origin: origin, Length: len(data), Offset: end, Err: ErrTerminator,
			Detail: fmt.Sprintf("found % X", data[end:])}
	}
	return nil
}

func matchDiscoveryResponse(data []byte) bool {
	n := len(discoveryResponseSignature)
	return len(data) >= n && [18]byte(data[:n]) == discoveryResponseSignature
}

func (d *Decoder) decodeEnergyMeter(data []byte, origin net.IP) (*EnergyMeterReading, error) {
	if len(data) < offsetSUSyID {
		return nil, errMismatch
	}
	if binary.BigEndian.Uint16(data[offsetDataTag:]) != TagDataVersion0 ||
		binary.BigEndian.Uint16(data[offsetProtocolID:]) != ProtocolEnergyMeter {
		return nil, errMismatch
	}

	// From here on the datagram claims to be an energy meter telegram,
	// anything that does not fit is a decode failure.
	end := len(data) - terminatorLength
	if end < offsetRecords {
		return nil, &ParseError{Origin: origin, Length: len(data), Offset: offsetSUSyID, Err: ErrTruncated,
			Detail: fmt.Sprintf("header needs %d bytes before the terminator", offsetRecords)}
	}

	r := &EnergyMeterReading{
		envelope:      newEnvelope(data, origin),
		susyID:        binary.BigEndian.Uint16(data[offsetSUSyID:]),
		serial:        binary.BigEndian.Uint32(data[offsetSerial:]),
		measuringTime: binary.BigEndian.Uint32(data[offsetTimestamp:]),
		values:        make(map[OBISIdentifier]uint64, len(catalog)),
	}

	for pos := offsetRecords; pos < end; {
		if pos+4 > end {
			return nil, &ParseError{Origin: origin, Length: len(data), Offset: pos, Err: ErrTruncated,
				Detail: "incomplete OBIS identifier"}
		}
		id := identifierFromBytes(data[pos : pos+4])
		pos += 4

		if id.IsFirmware() {
			if pos+widthFirmware > end {
				return nil, &ParseError{Origin: origin, Length: len(data), Offset: pos, Err: ErrTruncated,
					Detail: "incomplete firmware version"}
			}
			r.firmware = FirmwareVersion{Major: data[pos], Minor: data[pos+1], Patch: data[pos+2], Revision: data[pos+3]}
			r.hasFirmware = true
			pos += widthFirmware
			continue
		}

		width := id.Width()
		if width != widthMeasurement && width != widthCounter {
			return nil, &ParseError{Origin: origin, Length: len(data), Offset: pos - 4, Err: ErrUnknownWidth,
				Detail: fmt.Sprintf("identifier %s has width %d", id, width)}
		}
		if pos+width > end {
			return nil, &ParseError{Origin: origin, Length: len(data), Offset: pos, Err: ErrTruncated,
				Detail: fmt.Sprintf("identifier %s needs %d bytes, %d left", id, width, end-pos)}
		}

		var v uint64
		if width == widthCounter {
			v = binary.BigEndian.Uint64(data[pos:])
		} else {
			v = uint64(binary.BigEndian.Uint32(data[pos:]))
		}
		if _, seen := r.values[id]; !seen {
			r.order = append(r.order, id)
		}
		r.values[id] = v
		pos += width
	}

	for _, c := range catalog {
		if _, ok := r.values[c.ID]; !ok {
			r.missing = append(r.missing, c)
		}
	}
	if len(r.missing) > 0 && d.logger.Enabled(context.Background(), slog.LevelDebug) {
		for _, c := range r.missing {
			d.logger.Debug("channel missing from energy meter telegram",
				"origin", origin, "serial", r.serial, "channel", c.Name, "obis", c.ID.String())
		}
	}

	return r, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
