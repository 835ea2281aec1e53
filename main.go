// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad
//
// Speedwire - SMA Speedwire Multicast Analyzer
//
// A CLI tool for receiving and decoding SMA Speedwire telegrams
// (energy meter readings, discovery responses) in human-readable format.

package main

import (
	"os"

	"github.com/Thermoquad/speedwire/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
