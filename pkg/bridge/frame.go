// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package bridge republishes Speedwire telegrams to websocket clients, for
// hosts that cannot join the multicast group themselves.
package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Thermoquad/speedwire/pkg/speedwire"
	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

// Frame types
const (
	FrameHello     = "hello"
	FrameReading   = "reading"
	FrameDiscovery = "discovery"
	FrameTelegram  = "telegram"
	FrameError     = "error"
)

// Frame is one message pushed to bridge clients
type Frame struct {
	Type    string    `json:"type" cbor:"type"`
	Time    time.Time `json:"time" cbor:"time"`
	Session string    `json:"session,omitempty" cbor:"session,omitempty"`
	Origin  string    `json:"origin,omitempty" cbor:"origin,omitempty"`

	SUSyID        uint16            `json:"susy_id,omitempty" cbor:"susy_id,omitempty"`
	Serial        uint32            `json:"serial,omitempty" cbor:"serial,omitempty"`
	MeasuringTime uint32            `json:"measuring_time,omitempty" cbor:"measuring_time,omitempty"`
	Firmware      string            `json:"firmware,omitempty" cbor:"firmware,omitempty"`
	Values        map[string]uint64 `json:"values,omitempty" cbor:"values,omitempty"` // keyed by OBIS identifier
	Missing       []string          `json:"missing,omitempty" cbor:"missing,omitempty"`

	Raw   []byte `json:"raw,omitempty" cbor:"raw,omitempty"`
	Error string `json:"error,omitempty" cbor:"error,omitempty"`
}

// Value returns the magnitude of channel c
func (f *Frame) Value(c speedwire.MeasuringChannel) (uint64, bool) {
	v, ok := f.Values[c.ID.String()]
	return v, ok
}

// FrameFromTelegram converts a decoded telegram into a frame
func FrameFromTelegram(t speedwire.Telegram) Frame {
	f := Frame{Time: t.Timestamp(), Origin: t.Origin().String()}

	switch v := t.(type) {
	case *speedwire.EnergyMeterReading:
		f.Type = FrameReading
		f.SUSyID = v.SUSyID()
		f.Serial = v.Serial()
		f.MeasuringTime = v.MeasuringTime()
		f.Firmware = v.FirmwareString()
		f.Values = make(map[string]uint64, len(v.Identifiers()))
		for id, value := range v.Values() {
			f.Values[id.String()] = value
		}
		for _, c := range v.MissingChannels() {
			f.Missing = append(f.Missing, c.Name)
		}
	case *speedwire.DiscoveryResponse:
		f.Type = FrameDiscovery
	default:
		f.Type = FrameTelegram
		f.Raw = t.Bytes()
	}
	return f
}

// FrameFromError converts a listener error into a frame
func FrameFromError(err error) Frame {
	return Frame{Type: FrameError, Time: time.Now(), Error: err.Error()}
}

// Format selects the frame encoding
type Format string

const (
	FormatJSON Format = "json" // websocket text messages
	FormatCBOR Format = "cbor" // websocket binary messages
)

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatCBOR:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown bridge format %q (use json or cbor)", s)
}

var (
	frameEncMode cbor.EncMode
	frameDecMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}
	frameEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create frame CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}
	frameDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create frame CBOR decoder mode: %v", err))
	}
}

// EncodeFrame returns the websocket message type and payload for f
func EncodeFrame(format Format, f Frame) (int, []byte, error) {
	switch format {
	case FormatCBOR:
		data, err := frameEncMode.Marshal(f)
		return websocket.BinaryMessage, data, err
	default:
		data, err := json.Marshal(f)
		return websocket.TextMessage, data, err
	}
}

// DecodeFrame parses a websocket message, text messages are JSON and binary
// messages are CBOR
func DecodeFrame(messageType int, data []byte) (Frame, error) {
	var f Frame
	var err error
	switch messageType {
	case websocket.TextMessage:
		err = json.Unmarshal(data, &f)
	case websocket.BinaryMessage:
		err = frameDecMode.Unmarshal(data, &f)
	default:
		return f, fmt.Errorf("unexpected websocket message type %d", messageType)
	}
	if err != nil {
		return f, fmt.Errorf("invalid frame: %w", err)
	}
	return f, nil
}
