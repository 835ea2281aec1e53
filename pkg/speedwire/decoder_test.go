// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package speedwire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"log/slog"
	"net"
	"reflect"
	"strings"
	"testing"
)

var testOrigin = net.IPv4(192, 168, 1, 50)

// ============================================================
// Test Helpers
// ============================================================

// fullMeterTelegram returns a telegram carrying every catalog channel, the
// value of each channel is derived from its position in the catalog
func fullMeterTelegram() *MeterTelegram {
	m := &MeterTelegram{
		SUSyID:        349,
		Serial:        3004906721,
		MeasuringTime: 0xFFFFFF00,
		Firmware:      &FirmwareVersion{Major: 2, Minor: 3, Patch: 4, Revision: 'R'},
	}
	for i, c := range catalog {
		v := uint64(1000 + i)
		if c.IsCounter() {
			v = 0x1_0000_0000 + uint64(i) // does not fit into 32 bits
		}
		m.Set(c, v)
	}
	return m
}

func mustEncode(t *testing.T, m *MeterTelegram) []byte {
	t.Helper()
	data, err := m.Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	return data
}

// meterHeader returns the fixed energy meter header up to the first record
func meterHeader() []byte {
	data, err := (&MeterTelegram{SUSyID: 1, Serial: 2, MeasuringTime: 3}).Encode()
	if err != nil {
		panic(err)
	}
	return data[:offsetRecords]
}

// withRecords builds header + raw record bytes + terminator
func withRecords(records ...[]byte) []byte {
	data := meterHeader()
	for _, r := range records {
		data = append(data, r...)
	}
	return append(data, 0, 0, 0, 0)
}

func expectParseError(t *testing.T, err error, target error) *ParseError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %v, got nil", target)
	}
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %T: %v", err, err)
	}
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
	return parseErr
}

// ============================================================
// Envelope Tests
// ============================================================

func TestDecode_Envelope(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		target error
	}{
		{"empty", nil, ErrInvalidEnvelope},
		{"shorter than tag and terminator", []byte{'S', 'M', 'A', 0, 0, 0, 0}, ErrInvalidEnvelope},
		{"wrong tag", []byte{'S', 'M', 'B', 0, 0, 0, 0, 0}, ErrInvalidEnvelope},
		{"lowercase tag", []byte{'s', 'm', 'a', 0, 0, 0, 0, 0}, ErrInvalidEnvelope},
		{"terminator first word", []byte{'S', 'M', 'A', 0, 0, 1, 0, 0}, ErrTerminator},
		{"terminator second word", []byte{'S', 'M', 'A', 0, 0, 0, 0, 1}, ErrTerminator},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			telegram, err := Decode(tt.data, testOrigin)
			if telegram != nil {
				t.Errorf("expected no telegram, got %T", telegram)
			}
			expectParseError(t, err, tt.target)
		})
	}
}

func TestDecode_MinimalEnvelopeIsGeneric(t *testing.T) {
	telegram, err := Decode([]byte{'S', 'M', 'A', 0, 0, 0, 0, 0}, testOrigin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := telegram.(*GenericTelegram); !ok {
		t.Fatalf("expected *GenericTelegram, got %T", telegram)
	}
	if telegram.Len() != 8 {
		t.Errorf("expected length 8, got %d", telegram.Len())
	}
}

func TestDecode_TerminatorOverridesValidContent(t *testing.T) {
	for _, data := range [][]byte{
		EncodeDiscoveryResponse(),
		mustEncode(t, fullMeterTelegram()),
	} {
		data[len(data)-1] = 0x01
		_, err := Decode(data, testOrigin)
		expectParseError(t, err, ErrTerminator)
	}
}

// ============================================================
// Discovery Tests
// ============================================================

func TestDecode_DiscoveryResponse(t *testing.T) {
	data := append(append([]byte{}, discoveryResponseSignature[:]...), 0, 0, 0, 0)

	telegram, err := Decode(data, testOrigin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, ok := telegram.(*DiscoveryResponse)
	if !ok {
		t.Fatalf("expected *DiscoveryResponse, got %T", telegram)
	}
	if resp.Kind() != KindDiscoveryResponse {
		t.Errorf("expected kind %s, got %s", KindDiscoveryResponse, resp.Kind())
	}
	if !resp.Origin().Equal(testOrigin) {
		t.Errorf("expected origin %s, got %s", testOrigin, resp.Origin())
	}
}

func TestDecode_DiscoveryResponseWithPayload(t *testing.T) {
	data := append([]byte{}, discoveryResponseSignature[:]...)
	data = append(data, 0x00, 0x04, 0x00, 0x30, 192, 168, 1, 50, 0, 0, 0, 0)

	telegram, err := Decode(data, testOrigin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if telegram.Kind() != KindDiscoveryResponse {
		t.Errorf("expected discovery response, got %s", telegram.Kind())
	}
}

func TestDecode_DiscoveryRequestIsGeneric(t *testing.T) {
	telegram, err := Decode(DiscoveryRequest(), testOrigin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if telegram.Kind() != KindGeneric {
		t.Errorf("expected generic telegram, got %s", telegram.Kind())
	}
}

func TestDiscoveryRequest(t *testing.T) {
	expected := []byte{
		0x53, 0x4D, 0x41, 0x00, 0x00, 0x04, 0x02, 0xA0, 0xFF, 0xFF,
		0xFF, 0xFF, 0x00, 0x00, 0x00, 0x20, 0x00, 0x00, 0x00, 0x00,
	}
	req := DiscoveryRequest()
	if !bytes.Equal(req, expected) {
		t.Fatalf("discovery request mismatch:\n got % X\nwant % X", req, expected)
	}
	if !IsDiscoveryRequest(req) {
		t.Error("IsDiscoveryRequest should accept the request")
	}
	req[0] = 0
	if !bytes.Equal(DiscoveryRequest(), expected) {
		t.Error("DiscoveryRequest must return a copy")
	}
	if IsDiscoveryRequest(req[:19]) {
		t.Error("IsDiscoveryRequest should reject short data")
	}
}

// ============================================================
// Energy Meter Tests
// ============================================================

func TestDecode_SingleRecord(t *testing.T) {
	data := withRecords([]byte{0x00, 0x01, 0x04, 0x00, 0x00, 0x00, 0x01, 0x90})

	telegram, err := Decode(data, testOrigin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reading, ok := telegram.(*EnergyMeterReading)
	if !ok {
		t.Fatalf("expected *EnergyMeterReading, got %T", telegram)
	}

	id, err := ParseIdentifier("0:1.4.0")
	if err != nil {
		t.Fatalf("ParseIdentifier failed: %v", err)
	}
	v, ok := reading.Value(id)
	if !ok || v != 400 {
		t.Errorf("expected 400, got %d (present=%v)", v, ok)
	}
	if v, _ := reading.Channel(TotalPIn); v != 400 {
		t.Errorf("TOTAL_P_IN: expected 400, got %d", v)
	}
	if len(reading.MissingChannels()) != len(catalog)-1 {
		t.Errorf("expected %d missing channels, got %d", len(catalog)-1, len(reading.MissingChannels()))
	}
	if reading.Complete() {
		t.Error("reading with one record should not be complete")
	}
	if reading.FirmwareString() != "unknown" {
		t.Errorf("expected firmware unknown, got %s", reading.FirmwareString())
	}
}

func TestDecode_FullCatalog(t *testing.T) {
	m := fullMeterTelegram()
	telegram, err := Decode(mustEncode(t, m), testOrigin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reading := telegram.(*EnergyMeterReading)

	if reading.SUSyID() != 349 {
		t.Errorf("SUSyID: expected 349, got %d", reading.SUSyID())
	}
	if reading.Serial() != 3004906721 {
		t.Errorf("serial: expected 3004906721, got %d", reading.Serial())
	}
	if reading.MeasuringTime() != 0xFFFFFF00 {
		t.Errorf("measuring time: expected 0xFFFFFF00, got 0x%08X", reading.MeasuringTime())
	}
	if fw := reading.FirmwareString(); fw != "2.3.4.R" {
		t.Errorf("firmware: expected 2.3.4.R, got %s", fw)
	}
	if !reading.Complete() {
		t.Errorf("expected complete reading, missing %v", reading.MissingChannels())
	}

	for _, r := range m.Records {
		v, ok := reading.Value(r.ID)
		if !ok {
			t.Errorf("%s: not decoded", r.ID)
			continue
		}
		if v != r.Value {
			t.Errorf("%s: expected %d, got %d", r.ID, r.Value, v)
		}
	}

	ids := reading.Identifiers()
	if len(ids) != len(m.Records) {
		t.Fatalf("expected %d identifiers, got %d", len(m.Records), len(ids))
	}
	for i, r := range m.Records {
		if ids[i] != r.ID {
			t.Errorf("identifier %d: expected %s, got %s", i, r.ID, ids[i])
		}
	}
}

func TestDecode_UnsignedMagnitudes(t *testing.T) {
	m := &MeterTelegram{}
	m.Set(TotalPIn, 0xFFFFFFFF)
	m.Set(TotalPInSum, 0xFFFFFFFFFFFFFFFF)

	telegram, err := Decode(mustEncode(t, m), testOrigin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reading := telegram.(*EnergyMeterReading)
	if v, _ := reading.Channel(TotalPIn); v != 0xFFFFFFFF {
		t.Errorf("4 byte value: expected 0xFFFFFFFF, got 0x%X", v)
	}
	if v, _ := reading.Channel(TotalPInSum); v != 0xFFFFFFFFFFFFFFFF {
		t.Errorf("8 byte value: expected 0xFFFFFFFFFFFFFFFF, got 0x%X", v)
	}
}

func TestDecode_UnknownChannelIsKept(t *testing.T) {
	data := withRecords([]byte{0x00, 0x7F, 0x04, 0x02, 0x00, 0x00, 0x00, 0x2A})
	telegram, err := Decode(data, testOrigin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok := telegram.(*EnergyMeterReading).Value(OBISIdentifier{Index: 127, Type: 4, Tariff: 2})
	if !ok || v != 42 {
		t.Errorf("expected 42, got %d (present=%v)", v, ok)
	}
}

func TestDecode_EmptyRecordSection(t *testing.T) {
	telegram, err := Decode(withRecords(), testOrigin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reading := telegram.(*EnergyMeterReading)
	if len(reading.Values()) != 0 {
		t.Errorf("expected no values, got %d", len(reading.Values()))
	}
	if len(reading.MissingChannels()) != len(catalog) {
		t.Errorf("expected every channel missing, got %d", len(reading.MissingChannels()))
	}
}

func TestDecode_Truncated(t *testing.T) {
	tests := []struct {
		name   string
		record []byte
	}{
		{"partial identifier", []byte{0x00, 0x01}},
		{"partial 4 byte payload", []byte{0x00, 0x01, 0x04, 0x00, 0x00, 0x00}},
		{"partial 8 byte payload", []byte{0x00, 0x01, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00}},
		{"partial firmware", []byte{0x90, 0x00, 0x00, 0x00, 0x01, 0x02}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			telegram, err := Decode(withRecords(tt.record), testOrigin)
			if telegram != nil {
				t.Fatalf("expected no telegram, got %T", telegram)
			}
			parseErr := expectParseError(t, err, ErrTruncated)
			if parseErr.Offset < offsetRecords {
				t.Errorf("expected offset inside the record section, got %d", parseErr.Offset)
			}
		})
	}
}

func TestDecode_TruncatedHeader(t *testing.T) {
	data := append(meterHeader()[:20], 0, 0, 0, 0)
	_, err := Decode(data, testOrigin)
	expectParseError(t, err, ErrTruncated)
}

func TestDecode_UnknownWidth(t *testing.T) {
	for _, width := range []byte{0, 1, 2, 3, 5, 7, 9, 16, 255} {
		valid := []byte{0x00, 0x01, 0x04, 0x00, 0x00, 0x00, 0x00, 0x01}
		bad := []byte{0x00, 0x02, width, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

		telegram, err := Decode(withRecords(valid, bad), testOrigin)
		if telegram != nil {
			t.Fatalf("width %d: expected no telegram, got %T", width, telegram)
		}
		parseErr := expectParseError(t, err, ErrUnknownWidth)
		if parseErr.Offset != offsetRecords+len(valid) {
			t.Errorf("width %d: expected offset %d, got %d", width, offsetRecords+len(valid), parseErr.Offset)
		}
	}
}

func TestDecode_FirmwareRecordSkipsWidth(t *testing.T) {
	data := withRecords(
		[]byte{0x90, 0x00, 0x00, 0x00, 0x01, 0x02, 0x04, 'R'},
		[]byte{0x00, 0x01, 0x04, 0x00, 0x00, 0x00, 0x00, 0x0A},
	)
	telegram, err := Decode(data, testOrigin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reading := telegram.(*EnergyMeterReading)
	fw, ok := reading.Firmware()
	if !ok {
		t.Fatal("expected firmware record")
	}
	if fw != (FirmwareVersion{Major: 1, Minor: 2, Patch: 4, Revision: 'R'}) {
		t.Errorf("unexpected firmware %+v", fw)
	}
	if _, ok := reading.Value(firmwareIdentifier); ok {
		t.Error("firmware record must not appear as a value")
	}
	if v, _ := reading.Channel(TotalPIn); v != 10 {
		t.Errorf("expected 10 after the firmware record, got %d", v)
	}
}

func TestDecode_MismatchFallsBackToGeneric(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short for signature", []byte{'S', 'M', 'A', 0, 1, 2, 3, 4, 5, 6, 0, 0, 0, 0}},
		{"wrong data tag", func() []byte {
			d := mustEncode(t, fullMeterTelegram())
			binary.BigEndian.PutUint16(d[offsetDataTag:], 0x0011)
			return d
		}()},
		{"wrong protocol", func() []byte {
			d := mustEncode(t, fullMeterTelegram())
			binary.BigEndian.PutUint16(d[offsetProtocolID:], 0x6065)
			return d
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			telegram, err := Decode(tt.data, testOrigin)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, ok := telegram.(*GenericTelegram); !ok {
				t.Fatalf("expected *GenericTelegram, got %T", telegram)
			}
		})
	}
}

func TestDecode_Deterministic(t *testing.T) {
	data := mustEncode(t, fullMeterTelegram())

	first, err := Decode(data, testOrigin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Decode(data, testOrigin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, b := first.(*EnergyMeterReading), second.(*EnergyMeterReading)
	if a.SUSyID() != b.SUSyID() || a.Serial() != b.Serial() || a.MeasuringTime() != b.MeasuringTime() {
		t.Error("header fields differ between decodes")
	}
	if !reflect.DeepEqual(a.Values(), b.Values()) {
		t.Error("record maps differ between decodes")
	}
}

func TestDecode_TelegramIsImmutable(t *testing.T) {
	data := mustEncode(t, fullMeterTelegram())
	origin := net.IPv4(10, 0, 0, 1).To4()

	telegram, err := Decode(data, origin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reading := telegram.(*EnergyMeterReading)

	data[offsetSerial] ^= 0xFF
	origin[3] = 99
	reading.Bytes()[0] = 0
	reading.Values()[TotalPIn.ID] = 0
	reading.Origin()[0] = 0

	if reading.Bytes()[0] != 'S' {
		t.Error("raw bytes changed through a returned copy")
	}
	if v, _ := reading.Channel(TotalPIn); v == 0 {
		t.Error("values changed through a returned copy")
	}
	if !reading.Origin().Equal(net.IPv4(10, 0, 0, 1)) {
		t.Errorf("origin changed: %s", reading.Origin())
	}
	if reading.Serial() != 3004906721 {
		t.Error("reading changed with the input buffer")
	}
}

func TestDecoder_LogsMissingChannels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	m := fullMeterTelegram()
	m.Records = m.Records[1:] // drop TOTAL_P_IN

	telegram, err := NewDecoder(logger).Decode(mustEncode(t, m), testOrigin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	missing := telegram.(*EnergyMeterReading).MissingChannels()
	if len(missing) != 1 || missing[0].Name != "TOTAL_P_IN" {
		t.Fatalf("expected TOTAL_P_IN missing, got %v", missing)
	}
	if !strings.Contains(buf.String(), "channel=TOTAL_P_IN") {
		t.Errorf("expected a debug line for TOTAL_P_IN, got %q", buf.String())
	}
}

// ============================================================
// Encoder Tests
// ============================================================

func TestMeterTelegram_EncodeRejectsBadRecords(t *testing.T) {
	m := &MeterTelegram{Records: []Record{{ID: OBISIdentifier{Index: 1, Type: 5}}}}
	if _, err := m.Encode(); !errors.Is(err, ErrUnknownWidth) {
		t.Errorf("expected ErrUnknownWidth, got %v", err)
	}

	m = &MeterTelegram{Records: []Record{{ID: TotalPIn.ID, Value: 1 << 32}}}
	if _, err := m.Encode(); err == nil {
		t.Error("expected an error for a value that does not fit into 4 bytes")
	}

	m = &MeterTelegram{Records: []Record{{ID: firmwareIdentifier, Value: 0x0200_1252}}}
	_, err := m.Encode()
	if err == nil || !strings.Contains(err.Error(), "set through Firmware") {
		t.Errorf("expected firmware record to be rejected in favour of Firmware, got %v", err)
	}
	if errors.Is(err, ErrUnknownWidth) {
		t.Errorf("firmware record reported as unknown width: %v", err)
	}
}

func TestMeterTelegram_Layout(t *testing.T) {
	m := &MeterTelegram{SUSyID: 0x015D, Serial: 0xB31A_0F21, MeasuringTime: 0x0102_0304}
	m.Set(TotalPIn, 1)
	m.Set(TotalPIn, 2)
	data := mustEncode(t, m)

	if len(data) != offsetRecords+8+terminatorLength {
		t.Fatalf("unexpected length %d", len(data))
	}
	if binary.BigEndian.Uint16(data[12:]) != uint16(len(data)-terminatorLength-offsetProtocolID) {
		t.Errorf("unexpected data length field %d", binary.BigEndian.Uint16(data[12:]))
	}
	if binary.BigEndian.Uint16(data[offsetSUSyID:]) != 0x015D {
		t.Error("SUSyID not at offset 18")
	}
	if binary.BigEndian.Uint32(data[offsetRecords+4:]) != 2 {
		t.Error("Set should replace an earlier value")
	}
}
