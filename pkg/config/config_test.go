// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "speedwire.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[listener]
bind_address = "192.168.1.10"
receive_timeout = "250ms"

[bridge]
format = "cbor"

[log]
level = "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.10", cfg.Listener.BindAddress)
	assert.Equal(t, 250*time.Millisecond, cfg.Listener.ReceiveTimeout.Duration)
	assert.Equal(t, "239.12.255.254", cfg.Listener.Group, "unset keys keep their default")
	assert.Equal(t, 9522, cfg.Listener.Port)
	assert.Equal(t, "cbor", cfg.Bridge.Format)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)

	sw := cfg.SpeedwireConfig()
	assert.Equal(t, "192.168.1.10", sw.BindAddress)
	assert.Equal(t, 250*time.Millisecond, sw.ReceiveTimeout)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		message string
	}{
		{"unknown key", "[listener]\nmulticast = \"239.12.255.254\"\n", "unknown keys"},
		{"syntax", "[listener\n", "failed to read"},
		{"bad duration", "[listener]\nreceive_timeout = \"soon\"\n", "failed to read"},
		{"unicast group", "[listener]\ngroup = \"192.168.1.1\"\n", "listener.group"},
		{"port", "[listener]\nport = 0\n", "listener.port"},
		{"bind address", "[listener]\nbind_address = \"eth0\"\n", "listener.bind_address"},
		{"bridge format", "[bridge]\nformat = \"xml\"\n", "bridge.format"},
		{"bridge listen", "[bridge]\nlisten = \"9039\"\n", "bridge.listen"},
		{"log level", "[log]\nlevel = \"trace\"\n", "log.level"},
		{"log format", "[log]\nformat = \"logfmt\"\n", "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.content))
			assert.Nil(t, cfg)
			assert.ErrorContains(t, err, tt.message)
		})
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "speedwire.toml")

	require.NoError(t, WriteDefault(path, false))
	assert.Error(t, WriteDefault(path, false), "existing file must not be replaced")
	require.NoError(t, WriteDefault(path, true))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `receive_timeout = "5s"`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
