// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package speedwire

import (
	"errors"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomMeterTelegram builds a well formed telegram with a random subset of
// the catalog and random magnitudes
func randomMeterTelegram(rng *rand.Rand) *MeterTelegram {
	m := &MeterTelegram{
		SUSyID:        uint16(rng.Uint32()),
		Serial:        rng.Uint32(),
		MeasuringTime: rng.Uint32(),
	}
	if rng.Intn(2) == 1 {
		m.Firmware = &FirmwareVersion{
			Major: uint8(rng.Uint32()), Minor: uint8(rng.Uint32()), Patch: uint8(rng.Uint32()), Revision: 'R',
		}
	}
	for _, i := range rng.Perm(len(catalog))[:rng.Intn(len(catalog)+1)] {
		c := catalog[i]
		v := rng.Uint64()
		if !c.IsCounter() {
			v &= 0xFFFFFFFF
		}
		m.Set(c, v)
	}
	return m
}

// ============================================================
// Decoder Fuzz Tests
// ============================================================

// TestFuzzDecode_RandomBytes feeds random bytes to the decoder and verifies
// it never panics and only fails with a *ParseError
func TestFuzzDecode_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		data := make([]byte, rng.Intn(256))
		rng.Read(data)

		// Give half of the inputs a valid envelope so the signature
		// matching and record loop get exercised too
		if rng.Intn(2) == 1 && len(data) >= minEnvelopeSize {
			copy(data, Tag[:])
			copy(data[len(data)-terminatorLength:], []byte{0, 0, 0, 0})
			if rng.Intn(2) == 1 && len(data) >= offsetSUSyID {
				copy(data[offsetDataTag:], []byte{0x00, 0x10, 0x60, 0x69})
			}
		}

		telegram, err := Decode(data, testOrigin)
		if err != nil {
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("Round %d: expected *ParseError, got %T: %v", i, err, err)
			}
			if telegram != nil {
				t.Fatalf("Round %d: telegram returned together with an error", i)
			}
			continue
		}
		if telegram.Len() != len(data) {
			t.Fatalf("Round %d: length %d, expected %d", i, telegram.Len(), len(data))
		}
	}
}

// TestFuzzDecode_RoundTrip encodes random telegrams and verifies every
// record decodes to the encoded magnitude
func TestFuzzDecode_RoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		m := randomMeterTelegram(rng)
		data, err := m.Encode()
		if err != nil {
			t.Fatalf("Round %d: encode failed: %v", i, err)
		}

		telegram, err := Decode(data, testOrigin)
		if err != nil {
			t.Fatalf("Round %d: decode failed: %v", i, err)
		}
		reading, ok := telegram.(*EnergyMeterReading)
		if !ok {
			t.Fatalf("Round %d: expected *EnergyMeterReading, got %T", i, telegram)
		}

		if reading.Serial() != m.Serial || reading.SUSyID() != m.SUSyID || reading.MeasuringTime() != m.MeasuringTime {
			t.Fatalf("Round %d: header mismatch", i)
		}
		for _, r := range m.Records {
			if v, _ := reading.Value(r.ID); v != r.Value {
				t.Fatalf("Round %d: %s expected %d, got %d", i, r.ID, r.Value, v)
			}
		}
		if got, want := len(reading.MissingChannels()), len(catalog)-len(m.Records); got != want {
			t.Fatalf("Round %d: %d missing channels, expected %d", i, got, want)
		}
		if _, hasFirmware := reading.Firmware(); hasFirmware != (m.Firmware != nil) {
			t.Fatalf("Round %d: firmware presence mismatch", i)
		}
	}
}

// TestFuzzDecode_Truncation cuts well formed telegrams at random record
// boundaries and verifies the decoder reports them as truncated
func TestFuzzDecode_Truncation(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		m := randomMeterTelegram(rng)
		if len(m.Records) == 0 {
			continue
		}
		data, err := m.Encode()
		if err != nil {
			t.Fatalf("Round %d: encode failed: %v", i, err)
		}

		// Drop 1 to 3 bytes from the record section, keep the terminator
		body := data[:len(data)-terminatorLength]
		cut := 1 + rng.Intn(3)
		truncated := append(append([]byte{}, body[:len(body)-cut]...), 0, 0, 0, 0)

		telegram, err := Decode(truncated, testOrigin)
		if telegram != nil {
			t.Fatalf("Round %d: expected no telegram after cutting %d bytes", i, cut)
		}
		if !errors.Is(err, ErrTruncated) {
			t.Fatalf("Round %d: expected ErrTruncated, got %v", i, err)
		}
	}
}
