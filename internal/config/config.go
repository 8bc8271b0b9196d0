// Package config loads and validates the daemon configuration file.
package config

import (
	"fmt"
	"net/netip"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config represents the daemon configuration structure
type Config struct {
	Daemon         DaemonConfig         `yaml:"daemon"`
	Listen         ListenConfig         `yaml:"listen"`
	Authentication AuthenticationConfig `yaml:"authentication"`
}

// DaemonConfig contains daemon identity and logging settings
type DaemonConfig struct {
	ID       string `yaml:"id"`
	LogLevel string `yaml:"log_level"`
}

// ListenConfig contains the listener settings for both transport variants
type ListenConfig struct {
	Address       string `yaml:"address"`
	PlainPort     uint16 `yaml:"plain_port"`
	WebSocketPort uint16 `yaml:"websocket_port"` // 0 disables the WebSocket listener
	DualStack     bool   `yaml:"dual_stack"`
}

// AuthenticationConfig contains the shared authentication secret. An empty
// secret disables authentication.
type AuthenticationConfig struct {
	Secret string `yaml:"secret"`
}

// Enabled reports whether authentication is configured.
func (a AuthenticationConfig) Enabled() bool {
	return a.Secret != ""
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Listen.Address == "" {
		return fmt.Errorf("listen.address is required")
	}
	if _, err := netip.ParseAddr(c.Listen.Address); err != nil {
		return fmt.Errorf("listen.address must be an IP literal: %w", err)
	}
	if c.Listen.PlainPort == 0 {
		return fmt.Errorf("listen.plain_port is required")
	}
	if c.Listen.WebSocketPort != 0 && c.Listen.WebSocketPort == c.Listen.PlainPort {
		return fmt.Errorf("listen.websocket_port must differ from listen.plain_port")
	}

	switch c.Daemon.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("daemon.log_level must be one of debug, info, warn, error")
	}

	return nil
}

// Save saves the configuration to a YAML file
func (c *Config) Save(filepath string) error {
	return SaveConfig(c, filepath)
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, filepath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// NewDefaultConfig creates a default configuration template. The WebSocket
// listener stays disabled until a port is configured.
func NewDefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			ID:       uuid.New().String(),
			LogLevel: "info",
		},
		Listen: ListenConfig{
			Address:       "0.0.0.0",
			PlainPort:     4223,
			WebSocketPort: 0,
			DualStack:     true,
		},
		Authentication: AuthenticationConfig{
			Secret: "",
		},
	}
}
