// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Thermoquad/speedwire/pkg/speedwire"
	"github.com/spf13/cobra"
)

var (
	discoveryTimeout int
	discoveryMeters  bool
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Discover Speedwire devices on the multicast group",
	Long: `Send a discovery request to the multicast group and list the devices that
answer with a discovery response.

Inverters answer the request directly. Energy meters do not answer but
announce themselves every second with a reading; use --meters to count those
as discovered devices too.

Examples:
  speedwire discovery
  speedwire discovery --bind 192.168.1.10 --meters

Exit codes:
  0 - Discovery successful (at least one device found)
  1 - Discovery failed (no devices before timeout)
  2 - Connection error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().IntVar(&discoveryTimeout, "discovery-timeout", 5, "Time in seconds to collect responses")
	discoveryCmd.Flags().BoolVar(&discoveryMeters, "meters", false, "Also list energy meters seen while waiting")
}

type discoveredDevice struct {
	origin string
	kind   speedwire.Kind
	serial uint32
	susyID uint16
	seen   time.Time
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	l, info, err := OpenListener()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	var mu sync.Mutex
	devices := make([]discoveredDevice, 0)
	seen := make(map[string]bool)

	record := func(d discoveredDevice) {
		mu.Lock()
		defer mu.Unlock()

		key := fmt.Sprintf("%s/%d", d.origin, d.serial)
		if seen[key] {
			return
		}
		seen[key] = true
		devices = append(devices, d)

		fmt.Printf("\nDevice found:\n")
		fmt.Printf("  Address: %s\n", d.origin)
		fmt.Printf("  Kind: %s\n", d.kind)
		if d.kind == speedwire.KindEnergyMeter {
			fmt.Printf("  SUSyID: %d\n", d.susyID)
			fmt.Printf("  Serial: %d\n", d.serial)
		}
	}

	l.OnDataKind(speedwire.KindDiscoveryResponse, func(t speedwire.Telegram) {
		record(discoveredDevice{origin: t.Origin().String(), kind: t.Kind(), seen: t.Timestamp()})
	})
	if discoveryMeters {
		l.OnDataKind(speedwire.KindEnergyMeter, func(t speedwire.Telegram) {
			r := t.(*speedwire.EnergyMeterReading)
			record(discoveredDevice{
				origin: t.Origin().String(),
				kind:   t.Kind(),
				serial: r.Serial(),
				susyID: r.SUSyID(),
				seen:   t.Timestamp(),
			})
		})
	}

	sendErr := make(chan error, 1)
	l.OnError(func(err error) {
		if isSendError(err) {
			select {
			case sendErr <- err:
			default:
			}
			return
		}
		logger.Debug("ignoring telegram during discovery", "error", err)
	})

	ctx, cancel := signalContext()
	defer cancel()

	if err := l.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Speedwire - Device Discovery\n")
	fmt.Printf("Listening: %s\n", info)
	fmt.Printf("Timeout: %d seconds\n\n", discoveryTimeout)

	fmt.Printf("Sending discovery request...\n")
	l.SendDiscoveryRequest()

	// Wait for the collection window to close
	select {
	case err := <-sendErr:
		fmt.Printf("SEND FAILED: %v\n", err)
		stopListener(l)
		os.Exit(2)
	case <-ctx.Done():
		fmt.Printf("\nDiscovery interrupted\n")
	case <-time.After(time.Duration(discoveryTimeout) * time.Second):
		mu.Lock()
		found := len(devices)
		mu.Unlock()
		if found > 0 {
			fmt.Printf("\nDiscovery timeout reached\n")
		} else {
			fmt.Printf("\nTIMEOUT: No devices responded in %ds\n", discoveryTimeout)
		}
	}

	// Observers are done once the receive loop has exited
	stopListener(l)

	// Summary
	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Devices found: %d\n", len(devices))
	for _, d := range devices {
		fmt.Printf("  %-15s  %-18s  %s\n", d.origin, d.kind, d.seen.Format("15:04:05.000"))
	}

	if len(devices) == 0 {
		fmt.Printf("No devices discovered. Check the bind address and that devices share the network.\n")
		os.Exit(1)
	}

	return nil
}
