// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package speedwire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Record is one OBIS record of an energy meter telegram
type Record struct {
	ID    OBISIdentifier
	Value uint64
}

// MeterTelegram describes an energy meter telegram to encode
type MeterTelegram struct {
	SUSyID        uint16
	Serial        uint32
	MeasuringTime uint32
	Firmware      *FirmwareVersion
	Records       []Record
}

// Set stores v for channel c, replacing an earlier value
func (m *MeterTelegram) Set(c MeasuringChannel, v uint64) {
	for i := range m.Records {
		if m.Records[i].ID == c.ID {
			m.Records[i].Value = v
			return
		}
	}
	m.Records = append(m.Records, Record{ID: c.ID, Value: v})
}

// Encode returns the wire form of m, ready to send to the group
func (m *MeterTelegram) Encode() ([]byte, error) {
	size := offsetRecords + terminatorLength
	if m.Firmware != nil {
		size += 4 + widthFirmware
	}
	for _, r := range m.Records {
		if r.ID.IsFirmware() {
			return nil, fmt.Errorf("record %s: firmware is set through Firmware", r.ID)
		}
		switch r.ID.Width() {
		case widthMeasurement:
			if r.Value > math.MaxUint32 {
				return nil, fmt.Errorf("record %s: value %d exceeds 4 bytes", r.ID, r.Value)
			}
		case widthCounter:
		default:
			return nil, fmt.Errorf("record %s: %w %d", r.ID, ErrUnknownWidth, r.ID.Width())
		}
		size += 4 + r.ID.Width()
	}

	buf := make([]byte, 0, size)
	buf = append(buf, Tag[:]...)
	buf = append(buf, discoveryResponseSignature[4:12]...) // tag 0x02A0, group 1
	// Data length counted from the protocol id up to the terminator
	buf = binary.BigEndian.AppendUint16(buf, uint16(size-terminatorLength-offsetProtocolID))
	buf = binary.BigEndian.AppendUint16(buf, TagDataVersion0)
	buf = binary.BigEndian.AppendUint16(buf, ProtocolEnergyMeter)
	buf = binary.BigEndian.AppendUint16(buf, m.SUSyID)
	buf = binary.BigEndian.AppendUint32(buf, m.Serial)
	buf = binary.BigEndian.AppendUint32(buf, m.MeasuringTime)

	for _, r := range m.Records {
		id := r.ID.Bytes()
		buf = append(buf, id[:]...)
		if r.ID.Width() == widthCounter {
			buf = binary.BigEndian.AppendUint64(buf, r.Value)
		} else {
			buf = binary.BigEndian.AppendUint32(buf, uint32(r.Value))
		}
	}
	if m.Firmware != nil {
		id := firmwareIdentifier.Bytes()
		buf = append(buf, id[:]...)
		buf = append(buf, m.Firmware.Major, m.Firmware.Minor, m.Firmware.Patch, m.Firmware.Revision)
	}

	return append(buf, 0, 0, 0, 0), nil
}

// EncodeDiscoveryResponse returns the shortest datagram a device may send in
// answer to a discovery request
func EncodeDiscoveryResponse() []byte {
	buf := make([]byte, 0, len(discoveryResponseSignature)+terminatorLength)
	buf = append(buf, discoveryResponseSignature[:]...)
	return append(buf, 0, 0, 0, 0)
}
