// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/speedwire/pkg/speedwire"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
	skipMissing   bool
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze malformed telegrams and implausible readings",
	Long: `Track telegram errors, malformed data, and anomalous readings with statistics.

This command validates each telegram and detects:
  - Malformed telegrams (bad envelope, missing terminator, truncation,
    records of unknown width)
  - Implausible readings (power factor > 1, frequency outside 45-65 Hz,
    phase voltage > 300 V, import and export on the same phase)
  - Energy meter channels missing from a reading
  - Statistics and trends (telegram rate, error rate, receive timeouts)

By default, only errors are displayed. Use --show-all to display valid
telegrams too.

The terminal UI is used when stdout is a terminal, pass --tui=false for
plain text with periodic statistics summaries.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all telegrams (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
	errorDetectionCmd.Flags().BoolVar(&skipMissing, "skip-missing", false, "Do not report missing channels")
}

// validate returns the anomalies of t, nil for telegrams other than readings
func validate(t speedwire.Telegram) []speedwire.ValidationError {
	r, ok := t.(*speedwire.EnergyMeterReading)
	if !ok {
		return nil
	}

	found := speedwire.ValidateReading(r)
	if !skipMissing {
		return found
	}
	kept := found[:0]
	for _, v := range found {
		if v.Type != speedwire.ANOMALY_MISSING_CHANNEL {
			kept = append(kept, v)
		}
	}
	return kept
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	l, info, err := OpenListener()
	if err != nil {
		return err
	}

	if useTUI && isTerminal() {
		return runTUIMode(l, info)
	}
	return runTextMode(l, info)
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(err error) {
	timestamp := time.Now().Format("15:04:05.000")
	if !isParseError(err) {
		fmt.Printf("[%s] \033[1;31mSOCKET ERROR:\033[0m %v\n\n", timestamp, err)
		return
	}
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, err)
	fmt.Printf("  >>> TELEGRAM DROPPED <<<\n\n")
}

// printValidationErrors prints validation errors for a reading
func printValidationErrors(t speedwire.Telegram, errs []speedwire.ValidationError) {
	r := t.(*speedwire.EnergyMeterReading)
	timestamp := t.Timestamp().Format("15:04:05.000")

	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m meter %d from %s\n", timestamp, r.Serial(), t.Origin())
	fmt.Printf("  Envelope: \033[1;32mOK\033[0m\n")

	for i, err := range errs {
		switch err.Type {
		case speedwire.ANOMALY_MISSING_CHANNEL:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)

		case speedwire.ANOMALY_POWER_FACTOR:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
			if v, ok := err.Details["value"].(uint64); ok {
				fmt.Printf("    raw=%d (max %d)\n", v, err.Details["max"])
			}

		case speedwire.ANOMALY_FREQUENCY:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
			if v, ok := err.Details["value"].(uint64); ok {
				fmt.Printf("    raw=%d mHz\n", v)
			}

		case speedwire.ANOMALY_VOLTAGE:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)

		case speedwire.ANOMALY_BIDIRECTIONAL:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
			if phase, ok := err.Details["phase"].(string); ok {
				fmt.Printf("    phase=%s\n", phase)
			}

		default:
			fmt.Printf("  Issue %d: %s\n", i+1, err.Message)
		}
	}

	// Print reading header for context
	fmt.Printf("  SUSyID: %d, Firmware: %s, Uptime: %s\n",
		r.SUSyID(), r.FirmwareString(), formatUptime(uint64(r.MeasuringTime())))
	fmt.Printf("  >>> READING FLAGGED <<<\n\n")
}

// runTUIMode runs error detection in TUI mode
func runTUIMode(l *speedwire.Listener, info string) error {
	m := initialModel(info, statsInterval, showAll)
	p := tea.NewProgram(m)

	// Observers hand everything to the TUI, which owns the statistics
	l.OnData(func(t speedwire.Telegram) {
		p.Send(telegramMsg{telegram: t, validationErrors: validate(t)})
	})
	l.OnError(func(err error) {
		p.Send(telegramMsg{err: err})
	})
	l.OnTimeout(func() {
		p.Send(timeoutMsg{})
	})

	ctx, cancel := signalContext()
	defer cancel()

	if err := l.Start(ctx); err != nil {
		return err
	}
	defer stopListener(l)

	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	// Run TUI
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}

	return nil
}

type textEvent struct {
	telegram speedwire.Telegram
	err      error
	timeout  bool
}

// runTextMode runs error detection in text mode
func runTextMode(l *speedwire.Listener, info string) error {
	fmt.Printf("Speedwire - Error Detection Mode\n")
	fmt.Printf("Listening: %s\n", info)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All telegrams\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := speedwire.NewStatistics()

	// Channel for events from the receive loop
	events := make(chan textEvent, 64)
	l.OnData(func(t speedwire.Telegram) { events <- textEvent{telegram: t} })
	l.OnError(func(err error) { events <- textEvent{err: err} })
	l.OnTimeout(func() { events <- textEvent{timeout: true} })

	ctx, cancel := signalContext()
	defer cancel()

	if err := l.Start(ctx); err != nil {
		return err
	}

	// Statistics ticker
	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case ev := <-events:
			switch {
			case ev.timeout:
				stats.UpdateTimeout()
				fmt.Printf("[%s] \033[1;33mTIMEOUT:\033[0m nothing received for %v\n\n",
					time.Now().Format("15:04:05.000"), l.ReceiveTimeout())

			case ev.err != nil:
				stats.UpdateError(ev.err)
				printDecodeError(ev.err)

			default:
				validationErrors := validate(ev.telegram)
				stats.Update(ev.telegram, validationErrors)

				// Print telegram or error based on mode
				if len(validationErrors) > 0 {
					printValidationErrors(ev.telegram, validationErrors)
				} else if ev.telegram.Kind() == speedwire.KindDiscoveryResponse {
					// Always print discovery responses
					fmt.Print(speedwire.FormatTelegram(ev.telegram))
				} else if showAll {
					fmt.Print(speedwire.FormatTelegram(ev.telegram))
				}
			}

		case <-statsTicker.C:
			// Print statistics
			stats.CalculateRates()
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()

		case <-ctx.Done():
			// Drain the loop before printing the final summary
			go func() {
				for range events {
				}
			}()
			stopListener(l)
			close(events)

			stats.CalculateRates()
			fmt.Println()
			fmt.Print(stats.String())
			return nil
		}
	}
}

// isParseError reports whether err is a decode failure rather than a socket error
func isParseError(err error) bool {
	var perr *speedwire.ParseError
	return errors.As(err, &perr)
}

func isSendError(err error) bool {
	var serr *speedwire.SendError
	return errors.As(err, &serr)
}
