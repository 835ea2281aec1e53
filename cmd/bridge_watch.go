// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/Thermoquad/speedwire/pkg/bridge"
	"github.com/Thermoquad/speedwire/pkg/speedwire"
	"github.com/spf13/cobra"
)

var (
	watchURL         string
	watchUsername    string
	watchNoSSLVerify bool
	watchDuration    int
)

var bridgeWatchCmd = &cobra.Command{
	Use:   "bridge_watch",
	Short: "Watch the frames pushed by a speedwire bridge",
	Long: `Connect to the /ws endpoint of a bridge started with "speedwire serve" and
print every frame it pushes. Both JSON and CBOR bridges are understood.

For authentication the password is read from the environment variable named
by [bridge] password_env (SPEEDWIRE_PASSWORD by default), or prompted
interactively if not set. The --password flag is intentionally not provided
to avoid leaking credentials in shell history.

Exit codes:
  0 - Watch completed normally
  1 - Connection lost
  2 - Connection error`,
	RunE: runBridgeWatch,
}

func init() {
	rootCmd.AddCommand(bridgeWatchCmd)
	bridgeWatchCmd.Flags().StringVarP(&watchURL, "url", "u", "ws://localhost:9039/ws", "Bridge URL (ws:// or wss://)")
	bridgeWatchCmd.Flags().StringVar(&watchUsername, "username", "", "Username for HTTP Basic auth")
	bridgeWatchCmd.Flags().BoolVar(&watchNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
	bridgeWatchCmd.Flags().IntVar(&watchDuration, "duration", 0, "Watch duration in seconds (0 = until interrupted)")
}

func runBridgeWatch(cmd *cobra.Command, args []string) error {
	password := ""
	if watchUsername != "" {
		var err error
		password, err = GetPassword()
		if err != nil {
			return err
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 15*time.Second)
	client, err := bridge.Dial(dialCtx, watchURL, bridge.DialOptions{
		Username:      watchUsername,
		Password:      password,
		SkipSSLVerify: watchNoSSLVerify,
	})
	dialCancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer client.Close()

	fmt.Printf("Speedwire - Bridge Watch\n")
	fmt.Printf("Connection: %s\n", watchURL)
	fmt.Printf("Session: %s\n", client.Session())
	if watchDuration > 0 {
		fmt.Printf("Duration: %d seconds\n", watchDuration)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	// Start a goroutine to read from the connection
	frames := make(chan bridge.Frame, 100)
	errChan := make(chan error, 1)
	go func() {
		for {
			f, err := client.Next()
			if err != nil {
				errChan <- err
				return
			}
			frames <- f
		}
	}()

	var deadline <-chan time.Time
	if watchDuration > 0 {
		deadline = time.After(time.Duration(watchDuration) * time.Second)
	}

	started := time.Now()
	received := 0
	for {
		select {
		case f := <-frames:
			received++
			printFrame(f)

		case err := <-errChan:
			fmt.Printf("\n[%s] Connection error: %v\n", time.Now().Format("15:04:05.000"), err)
			fmt.Printf("\n--- Watch Results ---\n")
			fmt.Printf("Duration: %v\n", time.Since(started).Round(time.Second))
			fmt.Printf("Frames received: %d\n", received)
			fmt.Printf("Result: FAILED (connection lost)\n")
			os.Exit(1)

		case <-deadline:
			fmt.Printf("\n--- Watch Results ---\n")
			fmt.Printf("Duration: %d seconds\n", watchDuration)
			fmt.Printf("Frames received: %d\n", received)
			return nil

		case <-ctx.Done():
			fmt.Printf("\nFrames received: %d\n", received)
			return nil
		}
	}
}

// printFrame prints a frame in the raw_log layout
func printFrame(f bridge.Frame) {
	timestamp := f.Time.Local().Format("15:04:05.000")

	switch f.Type {
	case bridge.FrameReading:
		fmt.Printf("[%s] reading from %s\n", timestamp, f.Origin)
		fmt.Printf("  SUSyID: %d, Serial: %d, Firmware: %s, Uptime: %s\n",
			f.SUSyID, f.Serial, f.Firmware, formatUptime(uint64(f.MeasuringTime)))

		keys := make([]string, 0, len(f.Values))
		for k := range f.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := f.Values[k]
			id, err := speedwire.ParseIdentifier(k)
			c, ok := speedwire.ChannelByID(id)
			if err != nil || !ok {
				fmt.Printf("    %-20s %-10s %d\n", "?", k, v)
				continue
			}
			fmt.Printf("    %-20s %-10s %s\n", c.Name, k, speedwire.FormatValue(c, v))
		}
		if len(f.Missing) > 0 {
			fmt.Printf("  Missing: %d channels\n", len(f.Missing))
		}

	case bridge.FrameDiscovery:
		fmt.Printf("[%s] discovery response from %s\n", timestamp, f.Origin)

	case bridge.FrameTelegram:
		fmt.Printf("[%s] telegram from %s len=%d\n", timestamp, f.Origin, len(f.Raw))
		fmt.Print(speedwire.HexDump(f.Raw, "  "))

	case bridge.FrameError:
		fmt.Printf("[%s] [ERROR] %s\n", timestamp, f.Error)

	default:
		fmt.Printf("[%s] %s\n", timestamp, f.Type)
	}
}
