// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/Thermoquad/speedwire/pkg/speedwire"
	"github.com/spf13/cobra"
)

var sendDiscovery bool

var sendCmd = &cobra.Command{
	Use:   "send [hex payload]",
	Short: "Send a raw datagram to the multicast group",
	Long: `Send a datagram to the multicast group. The payload is given as hex, spaces
and colons are ignored. It is sent as-is without validation.

Examples:
  speedwire send --discovery
  speedwire send "534D4100 0004 02A0 FFFFFFFF 0000 0020 0000 0000"

Exit codes:
  0 - Datagram sent
  1 - Invalid payload
  2 - Connection or send error`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().BoolVar(&sendDiscovery, "discovery", false, "Send a discovery request")
}

// parseHex decodes a hex string, ignoring whitespace, colons and a 0x prefix
func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(s)
	return hex.DecodeString(s)
}

func runSend(cmd *cobra.Command, args []string) error {
	var payload []byte
	switch {
	case sendDiscovery:
		payload = speedwire.DiscoveryRequest()
	case len(args) == 1:
		data, err := parseHex(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid payload: %v\n", err)
			os.Exit(1)
		}
		payload = data
	default:
		return fmt.Errorf("nothing to send, pass a hex payload or --discovery")
	}

	l, info, err := OpenListener()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	sendErr := make(chan error, 1)
	l.OnError(func(err error) {
		if isSendError(err) {
			sendErr <- err
		}
	})

	ctx, cancel := signalContext()
	defer cancel()

	if err := l.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	// Send reports synchronously to the observers
	l.Send(payload)
	stopListener(l)

	select {
	case err := <-sendErr:
		fmt.Fprintf(os.Stderr, "SEND FAILED: %v\n", err)
		os.Exit(2)
	default:
	}

	fmt.Printf("Sent %d bytes to %s\n", len(payload), info)
	fmt.Print(speedwire.HexDump(payload, "  "))
	return nil
}
