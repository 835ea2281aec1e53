// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/Thermoquad/speedwire/pkg/speedwire"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for watching energy meters",
	Long: `Watch every energy meter on the multicast group in an interactive terminal UI.

Features:
  - Meter list, populated as readings arrive
  - Live table of every channel of the selected meter
  - Channel filter by name, OBIS identifier or phase
  - Discovery request on demand, listing responding devices
  - Statistics tracking and event logging

Tab switches between the meter list and the channel table, "/" edits the
filter, "d" sends a discovery request.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	l, info, err := OpenListener()
	if err != nil {
		return err
	}

	m := initialMonitorModel(l, info)

	// Create TUI program with alt screen
	p := tea.NewProgram(m, tea.WithAltScreen())

	l.OnData(func(t speedwire.Telegram) {
		p.Send(monitorDataMsg{telegram: t})
	})
	l.OnError(func(err error) {
		p.Send(monitorErrorMsg{err: err})
	})
	l.OnTimeout(func() {
		p.Send(timeoutMsg{})
	})

	ctx, cancel := signalContext()
	defer cancel()

	if err := l.Start(ctx); err != nil {
		return err
	}

	// Ask inverters to identify themselves right away
	l.SendDiscoveryRequest()

	go func() {
		select {
		case <-ctx.Done():
			p.Quit()
		case <-l.Done():
			p.Send(listenerClosedMsg{})
		}
	}()

	// Run TUI
	_, err = p.Run()
	stopListener(l)
	if err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}
