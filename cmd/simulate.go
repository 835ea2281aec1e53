// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"math"
	"time"

	"github.com/Thermoquad/speedwire/pkg/speedwire"
	"github.com/spf13/cobra"
)

var (
	simulateSerial   uint32
	simulateSUSyID   uint16
	simulateInterval time.Duration
	simulateCount    int
	simulateFirmware string
	simulateRespond  bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Send synthetic energy meter readings to the group",
	Long: `Act as an energy meter: send a complete reading with every catalog channel
to the multicast group at a fixed interval. Power follows a slow sine wave,
energy counters grow accordingly, frequency and voltages stay nominal.

With --respond, discovery requests seen on the group are answered with a
discovery response.

Other hosts see the readings as coming from this host. The simulating host
itself drops its own datagrams, run raw_log elsewhere to watch them.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().Uint32Var(&simulateSerial, "serial", 1900000001, "Serial number to announce")
	simulateCmd.Flags().Uint16Var(&simulateSUSyID, "susy-id", 349, "SUSyID to announce")
	simulateCmd.Flags().DurationVar(&simulateInterval, "interval", time.Second, "Time between readings")
	simulateCmd.Flags().IntVar(&simulateCount, "count", 0, "Number of readings to send (0 = until interrupted)")
	simulateCmd.Flags().StringVar(&simulateFirmware, "firmware", "2.0.18.R", "Firmware version to announce, empty for none")
	simulateCmd.Flags().BoolVar(&simulateRespond, "respond", false, "Answer discovery requests")
}

// parseFirmware parses "major.minor.patch.revision"
func parseFirmware(s string) (*speedwire.FirmwareVersion, error) {
	if s == "" {
		return nil, nil
	}
	var v speedwire.FirmwareVersion
	var rev string
	if _, err := fmt.Sscanf(s, "%d.%d.%d.%s", &v.Major, &v.Minor, &v.Patch, &rev); err != nil || len(rev) != 1 {
		return nil, fmt.Errorf("invalid firmware %q, expected major.minor.patch.revision", s)
	}
	v.Revision = rev[0]
	return &v, nil
}

// meterSimulator produces consecutive readings of a fake energy meter
type meterSimulator struct {
	telegram speedwire.MeterTelegram
	started  time.Time
	energy   map[speedwire.OBISIdentifier]float64 // Ws
	last     time.Time
}

func newMeterSimulator(susyID uint16, serial uint32, firmware *speedwire.FirmwareVersion) *meterSimulator {
	now := time.Now()
	return &meterSimulator{
		telegram: speedwire.MeterTelegram{SUSyID: susyID, Serial: serial, Firmware: firmware},
		started:  now,
		energy:   make(map[speedwire.OBISIdentifier]float64),
		last:     now,
	}
}

// next returns the encoded reading for now
func (s *meterSimulator) next(now time.Time) ([]byte, error) {
	elapsed := now.Sub(s.started)
	step := now.Sub(s.last).Seconds()
	s.last = now

	// Net power swings between 2 kW import and 1 kW export
	net := 500 + 1500*math.Sin(elapsed.Seconds()/60)
	phases := [3]float64{net * 0.5, net * 0.3, net * 0.2}

	s.telegram.MeasuringTime = uint32(elapsed.Milliseconds())
	s.telegram.Records = s.telegram.Records[:0]

	for _, c := range speedwire.Channels() {
		var watts float64
		switch c.Phase() {
		case speedwire.PhaseTotal:
			watts = net
		default:
			watts = phases[c.Phase()-speedwire.PhaseL1]
		}

		var value uint64
		switch c.Unit {
		case speedwire.UnitPower, speedwire.UnitEnergy:
			in := c.ID.Index%20 == 1 || c.ID.Index%20 == 3 || c.ID.Index%20 == 9
			power := 0.0
			if in && watts > 0 {
				power = watts
			} else if !in && watts < 0 {
				power = -watts
			}
			if c.Unit == speedwire.UnitPower {
				value = uint64(power * 10)
			} else {
				s.energy[c.ID] += power * step
				value = uint64(s.energy[c.ID])
			}
		case speedwire.UnitCurrent:
			value = uint64(math.Abs(watts) / 230 * 1000)
		case speedwire.UnitVoltage:
			value = 230000
		case speedwire.UnitPowerFactor:
			value = 1000
		case speedwire.UnitFrequency:
			value = 50000
		}
		s.telegram.Set(c, value)
	}

	return s.telegram.Encode()
}

func runSimulate(cmd *cobra.Command, args []string) error {
	firmware, err := parseFirmware(simulateFirmware)
	if err != nil {
		return err
	}
	if simulateInterval <= 0 {
		return fmt.Errorf("interval must be positive")
	}

	l, info, err := OpenListener()
	if err != nil {
		return err
	}

	l.OnError(func(err error) {
		logger.Warn("simulator error", "error", err)
	})
	if simulateRespond {
		l.OnDataKind(speedwire.KindGeneric, func(t speedwire.Telegram) {
			if speedwire.IsDiscoveryRequest(t.Bytes()) {
				logger.Info("answering discovery request", "from", t.Origin())
				l.Send(speedwire.EncodeDiscoveryResponse())
			}
		})
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := l.Start(ctx); err != nil {
		return err
	}
	defer stopListener(l)

	fmt.Printf("Speedwire - Energy Meter Simulator\n")
	fmt.Printf("Sending to: %s\n", info)
	fmt.Printf("SUSyID: %d, Serial: %d, Interval: %v\n", simulateSUSyID, simulateSerial, simulateInterval)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	sim := newMeterSimulator(simulateSUSyID, simulateSerial, firmware)
	ticker := time.NewTicker(simulateInterval)
	defer ticker.Stop()

	sent := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Printf("\nSent %d readings\n", sent)
			return nil
		case now := <-ticker.C:
			data, err := sim.next(now)
			if err != nil {
				return fmt.Errorf("failed to encode reading: %w", err)
			}
			l.Send(data)
			sent++
			logger.Debug("reading sent", "bytes", len(data), "count", sent)

			if simulateCount > 0 && sent >= simulateCount {
				fmt.Printf("Sent %d readings\n", sent)
				return nil
			}
		}
	}
}
