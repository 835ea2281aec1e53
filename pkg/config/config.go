// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package config loads the speedwire TOML configuration file
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Thermoquad/speedwire/pkg/speedwire"
)

// Config is the content of speedwire.toml
type Config struct {
	Listener ListenerConfig `toml:"listener"`
	Bridge   BridgeConfig   `toml:"bridge"`
	Log      LogConfig      `toml:"log"`
}

// ListenerConfig configures the multicast listener
type ListenerConfig struct {
	// Empty detects the local address
	BindAddress    string   `toml:"bind_address"`
	Group          string   `toml:"group"`
	Port           int      `toml:"port"`
	ReceiveTimeout Duration `toml:"receive_timeout"`
}

// BridgeConfig configures the websocket bridge served by `speedwire serve`
type BridgeConfig struct {
	Listen   string `toml:"listen"`
	Format   string `toml:"format"` // json or cbor
	Username string `toml:"username"`
	// Name of the environment variable holding the basic auth password
	PasswordEnv string `toml:"password_env"`
}

// LogConfig configures the slog handler
type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn or error
	Format string `toml:"format"` // text or json
}

// Duration is a time.Duration written as a string such as "5s"
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Listener: ListenerConfig{
			Group:          speedwire.DefaultGroup,
			Port:           speedwire.DefaultPort,
			ReceiveTimeout: Duration{speedwire.DefaultReceiveTimeout},
		},
		Bridge: BridgeConfig{
			Listen:      "0.0.0.0:9039",
			Format:      "json",
			PasswordEnv: "SPEEDWIRE_PASSWORD",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/speedwire/speedwire.toml or the
// equivalent on the current platform
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "speedwire.toml"
	}
	return filepath.Join(dir, "speedwire", "speedwire.toml")
}

// Load reads path on top of the defaults. A missing file yields the
// defaults, unknown keys are an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in config %s: %s", path, strings.Join(keys, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// WriteDefault writes the default configuration to path. An existing file
// is left alone unless overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config %s already exists", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	defer f.Close()

	return Default().Encode(f)
}

// Encode writes cfg as TOML
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// Validate checks values that TOML decoding cannot
func (c *Config) Validate() error {
	l := c.Listener
	if l.BindAddress != "" && net.ParseIP(l.BindAddress).To4() == nil {
		return fmt.Errorf("listener.bind_address %q is not an IPv4 address", l.BindAddress)
	}
	if ip := net.ParseIP(l.Group).To4(); ip == nil || !ip.IsMulticast() {
		return fmt.Errorf("listener.group %q is not an IPv4 multicast address", l.Group)
	}
	if l.Port < 1 || l.Port > 65535 {
		return fmt.Errorf("listener.port %d out of range", l.Port)
	}
	if l.ReceiveTimeout.Duration <= 0 {
		return fmt.Errorf("listener.receive_timeout must be positive")
	}

	switch c.Bridge.Format {
	case "json", "cbor":
	default:
		return fmt.Errorf("bridge.format %q must be json or cbor", c.Bridge.Format)
	}
	if _, _, err := net.SplitHostPort(c.Bridge.Listen); err != nil {
		return fmt.Errorf("bridge.listen %q: %w", c.Bridge.Listen, err)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	return nil
}

// SpeedwireConfig returns the listener settings for speedwire.New
func (c *Config) SpeedwireConfig() speedwire.Config {
	return speedwire.Config{
		BindAddress:    c.Listener.BindAddress,
		Group:          c.Listener.Group,
		Port:           c.Listener.Port,
		ReceiveTimeout: c.Listener.ReceiveTimeout.Duration,
	}
}
