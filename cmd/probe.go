// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/Thermoquad/speedwire/pkg/speedwire"
	"github.com/spf13/cobra"
)

var (
	probeFile   string
	probeOrigin string
)

var probeCmd = &cobra.Command{
	Use:   "probe [hex telegram]...",
	Short: "Decode captured telegrams without joining the group",
	Long: `Decode telegrams given as hex arguments or read from a file holding one raw
datagram, and print them the way raw_log does. Readings are also validated.

Useful for checking captures taken with tcpdump or Wireshark.

Exit codes:
  0 - Every telegram decoded
  1 - At least one telegram failed to decode`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().StringVarP(&probeFile, "file", "f", "", "File holding one raw datagram")
	probeCmd.Flags().StringVar(&probeOrigin, "origin", "127.0.0.1", "Origin address recorded on decoded telegrams")
}

func runProbe(cmd *cobra.Command, args []string) error {
	origin := net.ParseIP(probeOrigin)
	if origin == nil {
		return fmt.Errorf("invalid origin %q", probeOrigin)
	}

	inputs := make([][]byte, 0, len(args)+1)
	if probeFile != "" {
		data, err := os.ReadFile(probeFile)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", probeFile, err)
		}
		inputs = append(inputs, data)
	}
	for _, arg := range args {
		data, err := parseHex(arg)
		if err != nil {
			return fmt.Errorf("invalid hex %q: %w", arg, err)
		}
		inputs = append(inputs, data)
	}
	if len(inputs) == 0 {
		return fmt.Errorf("nothing to decode, pass hex telegrams or --file")
	}

	decoder := speedwire.NewDecoder(logger)
	failed := 0

	for i, data := range inputs {
		fmt.Printf("Telegram %d (%d bytes)\n", i+1, len(data))

		t, err := decoder.Decode(data, origin)
		if err != nil {
			failed++
			fmt.Printf("FAILED: %v\n", err)
			var perr *speedwire.ParseError
			if errors.As(err, &perr) && perr.Offset >= 0 {
				fmt.Printf("  failing offset: 0x%04X\n", perr.Offset)
			}
			fmt.Print(speedwire.HexDump(data, "  "))
			fmt.Println()
			continue
		}

		fmt.Print(speedwire.FormatTelegram(t))
		if r, ok := t.(*speedwire.EnergyMeterReading); ok {
			for _, v := range speedwire.ValidateReading(r) {
				fmt.Printf("  WARNING [%s]: %s\n", v.Type, v.Message)
			}
		}
		fmt.Println()
	}

	fmt.Printf("--- Probe summary ---\n")
	fmt.Printf("Decoded: %d, Failed: %d\n", len(inputs)-failed, failed)
	if failed > 0 {
		os.Exit(1)
	}
	return nil
}
