// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Thermoquad/speedwire/pkg/config"
	"github.com/spf13/cobra"
)

var (
	configPath string

	// Listener flags, applied on top of the config file
	bindAddress    string
	groupAddress   string
	listenPort     int
	receiveTimeout time.Duration

	logLevel  string
	logFormat string

	// Effective settings, set before any command runs
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "speedwire",
	Short: "SMA Speedwire Multicast Analyzer",
	Long: `Speedwire - A CLI tool for monitoring and analyzing SMA Speedwire telegrams.

Joins the Speedwire multicast group (239.12.255.254:9522 by default) and
decodes energy meter telegrams, discovery responses and anything else sent
to the group. Provides commands for raw logging, device discovery, error
detection and a websocket bridge for hosts outside the multicast domain.

Settings are read from the config file (see "speedwire config init") and can
be overridden with flags:
  --bind 192.168.1.10 --group 239.12.255.254 --port 9522 --timeout 5s

Without --bind the address of the interface routing to the internet is used.`,
	Version:           "1.0.0",
	PersistentPreRunE: loadSettings,
	SilenceUsage:      true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "Config file")

	// Listener flags
	rootCmd.PersistentFlags().StringVarP(&bindAddress, "bind", "B", "", "Local IPv4 address of the interface joining the group")
	rootCmd.PersistentFlags().StringVarP(&groupAddress, "group", "g", "", "Multicast group")
	rootCmd.PersistentFlags().IntVarP(&listenPort, "port", "p", 0, "UDP port")
	rootCmd.PersistentFlags().DurationVarP(&receiveTimeout, "timeout", "t", 0, "Receive timeout")

	// Logging flags
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadSettings reads the config file and applies flag overrides
func loadSettings(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("bind") {
		loaded.Listener.BindAddress = bindAddress
	}
	if flags.Changed("group") {
		loaded.Listener.Group = groupAddress
	}
	if flags.Changed("port") {
		loaded.Listener.Port = listenPort
	}
	if flags.Changed("timeout") {
		loaded.Listener.ReceiveTimeout = config.Duration{Duration: receiveTimeout}
	}
	if flags.Changed("log-level") {
		loaded.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		loaded.Log.Format = logFormat
	}

	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	cfg = loaded
	logger = newLogger(cfg.Log)
	return nil
}

// newLogger builds the stderr logger, stdout is reserved for command output
func newLogger(lc config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
