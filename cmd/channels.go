// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/speedwire/pkg/speedwire"
	"github.com/spf13/cobra"
)

var channelsCmd = &cobra.Command{
	Use:   "channels [filter]",
	Short: "List the energy meter channel catalog",
	Long: `List every measuring channel an energy meter is expected to send, with its
OBIS identifier, record width and unit.

An optional filter matches against name, identifier, phase and description.`,
	Args: cobra.MaximumNArgs(1),
	// Works without a config file or network
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE:              runChannels,
}

func init() {
	rootCmd.AddCommand(channelsCmd)
}

func runChannels(cmd *cobra.Command, args []string) error {
	filter := ""
	if len(args) == 1 {
		filter = strings.ToLower(args[0])
	}

	fmt.Printf("%-20s  %-8s  %-5s  %-5s  %-9s  %s\n", "NAME", "OBIS", "PHASE", "WIDTH", "UNIT", "DESCRIPTION")
	count := 0
	for _, c := range speedwire.Channels() {
		line := fmt.Sprintf("%-20s  %-8s  %-5s  %-5d  %-9s  %s",
			c.Name, c.ID, c.Phase(), c.Width(), c.Unit, c.Description)
		if filter != "" && !strings.Contains(strings.ToLower(line), filter) {
			continue
		}
		fmt.Println(line)
		count++
	}
	fmt.Printf("\n%d channels\n", count)
	return nil
}
