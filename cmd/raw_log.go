// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/speedwire/pkg/speedwire"
	"github.com/spf13/cobra"
)

var rawLogTimeouts bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw telegram log in human-readable format",
	Long: `Continuously decode and display Speedwire telegrams as they arrive.

Each telegram is shown with timestamp, origin and kind. Energy meter
readings list every channel, other telegrams are shown as a hex dump.
Telegrams that fail to decode are printed as errors.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogTimeouts, "show-timeouts", false, "Print a line for every receive timeout")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	l, info, err := OpenListener()
	if err != nil {
		return err
	}

	// All observers run on the receive loop, so printing never interleaves
	l.OnData(func(t speedwire.Telegram) {
		fmt.Print(speedwire.FormatTelegram(t))
	})
	l.OnError(func(err error) {
		var perr *speedwire.ParseError
		if errors.As(err, &perr) {
			fmt.Printf("[ERROR] %v\n", err)
			return
		}
		fmt.Printf("[SOCKET ERROR] %v\n", err)
	})
	if rawLogTimeouts {
		l.OnTimeout(func() {
			fmt.Printf("[TIMEOUT] nothing received for %v\n", l.ReceiveTimeout())
		})
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := l.Start(ctx); err != nil {
		return err
	}

	fmt.Printf("Speedwire - Raw Telegram Log\n")
	fmt.Printf("Listening: %s\n", info)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	<-ctx.Done()
	stopListener(l)
	return nil
}
