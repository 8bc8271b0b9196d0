package config

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0.0.0.0", cfg.Listen.Address)
	assert.Equal(t, uint16(4223), cfg.Listen.PlainPort)
	assert.Equal(t, uint16(0), cfg.Listen.WebSocketPort, "WebSocket listener disabled by default")
	assert.True(t, cfg.Listen.DualStack)
	assert.False(t, cfg.Authentication.Enabled())

	_, err := uuid.Parse(cfg.Daemon.ID)
	assert.NoError(t, err, "daemon ID must be a generated UUID")
}

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gantry.yml")

	cfg := NewDefaultConfig()
	cfg.Listen.Address = "::1"
	cfg.Listen.WebSocketPort = 4280
	cfg.Authentication.Secret = "hunter2"

	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Daemon.ID, loaded.Daemon.ID)
	assert.Equal(t, "::1", loaded.Listen.Address)
	assert.Equal(t, uint16(4280), loaded.Listen.WebSocketPort)
	assert.True(t, loaded.Authentication.Enabled())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing address", func(c *Config) { c.Listen.Address = "" }},
		{"hostname instead of IP", func(c *Config) { c.Listen.Address = "localhost" }},
		{"missing plain port", func(c *Config) { c.Listen.PlainPort = 0 }},
		{"port collision", func(c *Config) { c.Listen.WebSocketPort = c.Listen.PlainPort }},
		{"bad log level", func(c *Config) { c.Daemon.LogLevel = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
