// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/speedwire/pkg/bridge"
	"github.com/Thermoquad/speedwire/pkg/speedwire"
	"github.com/spf13/cobra"
)

var (
	meterWait    int
	meterSerial  uint32
	meterChannel string
	meterJSON    bool
)

var meterCmd = &cobra.Command{
	Use:   "meter",
	Short: "Print one energy meter reading",
	Long: `Wait for the next energy meter reading and print it.

With --channel only one value is printed, selected by catalog name
(e.g. TOTAL_P_IN) or OBIS identifier (e.g. 1.4.0 or 0:1.4.0). With --json
the reading is printed as a bridge frame.

Examples:
  speedwire meter
  speedwire meter --serial 1900123456 --channel NET_FREQUENCY

Exit codes:
  0 - Reading received before timeout
  1 - Timeout reached without a reading, or channel not in the reading
  2 - Connection error`,
	RunE: runMeter,
}

func init() {
	rootCmd.AddCommand(meterCmd)
	meterCmd.Flags().IntVar(&meterWait, "wait", 5, "Time in seconds to wait for a reading")
	meterCmd.Flags().Uint32Var(&meterSerial, "serial", 0, "Only accept readings from this meter")
	meterCmd.Flags().StringVar(&meterChannel, "channel", "", "Print a single channel")
	meterCmd.Flags().BoolVar(&meterJSON, "json", false, "Print as JSON")
}

func runMeter(cmd *cobra.Command, args []string) error {
	var channel speedwire.MeasuringChannel
	if meterChannel != "" {
		c, ok := speedwire.LookupChannel(meterChannel)
		if !ok {
			return fmt.Errorf("unknown channel %q, see \"speedwire channels\"", meterChannel)
		}
		channel = c
	}

	l, _, err := OpenListener()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	readings := make(chan *speedwire.EnergyMeterReading, 1)
	l.OnDataKind(speedwire.KindEnergyMeter, func(t speedwire.Telegram) {
		r := t.(*speedwire.EnergyMeterReading)
		if meterSerial != 0 && r.Serial() != meterSerial {
			return
		}
		select {
		case readings <- r:
		default:
		}
	})

	ctx, cancel := signalContext()
	defer cancel()

	if err := l.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	var reading *speedwire.EnergyMeterReading
	select {
	case reading = <-readings:
	case <-ctx.Done():
	case <-time.After(time.Duration(meterWait) * time.Second):
	}
	stopListener(l)

	if reading == nil {
		fmt.Fprintf(os.Stderr, "TIMEOUT: No energy meter reading received within %d seconds\n", meterWait)
		os.Exit(1)
	}

	if meterChannel != "" {
		v, ok := reading.Channel(channel)
		if !ok {
			fmt.Fprintf(os.Stderr, "Meter %d did not send %s\n", reading.Serial(), channel.Name)
			os.Exit(1)
		}
		if meterJSON {
			return printJSON(map[string]interface{}{
				"serial":  reading.Serial(),
				"channel": channel.Name,
				"obis":    channel.ID,
				"raw":     v,
				"value":   speedwire.Scale(channel.Unit, v),
			})
		}
		fmt.Println(speedwire.FormatValue(channel, v))
		return nil
	}

	if meterJSON {
		return printJSON(bridge.FrameFromTelegram(reading))
	}
	fmt.Print(speedwire.FormatTelegram(reading))
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
