// Copyright 2024-2026 Aiku AI

// Package config loads and validates the bridge configuration file.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/telemost/pkg/matrix"
	"github.com/aiku/telemost/pkg/mattermost"
	"github.com/aiku/telemost/pkg/telegram"
)

// ExampleConfig is the annotated sample configuration shipped with the
// binary, written out by the -e flag.
//
//go:embed example-config.yaml
var ExampleConfig string

// BridgeConfig selects the two platforms to bridge and the shutdown command.
type BridgeConfig struct {
	// PlatformA and PlatformB name the two endpoints. Valid values are
	// telegram, mattermost and matrix.
	PlatformA string `yaml:"platform_a"`
	PlatformB string `yaml:"platform_b"`
	// Command is the reserved shutdown command. Defaults to /die.
	Command string `yaml:"command"`
}

// DatabaseConfig points at the correlation store backend.
type DatabaseConfig struct {
	// Type is the SQL dialect, sqlite3 or postgres.
	Type string `yaml:"type"`
	// URI is the connection string.
	URI string `yaml:"uri"`
}

// Config is the root of the configuration file.
type Config struct {
	Bridge     BridgeConfig      `yaml:"bridge"`
	Database   DatabaseConfig    `yaml:"database"`
	Telegram   telegram.Config   `yaml:"telegram"`
	Mattermost mattermost.Config `yaml:"mattermost"`
	Matrix     matrix.Config     `yaml:"matrix"`
	Logging    zeroconfig.Config `yaml:"logging"`
}

// Load reads, parses and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates raw YAML config data.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Bridge.Command == "" {
		c.Bridge.Command = "/die"
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite3"
	}
	if c.Database.URI == "" {
		c.Database.URI = "file:telemost.db?_txlock=immediate"
	}
}

// Validate checks that the selected platforms are known, distinct and fully
// configured.
func (c *Config) Validate() error {
	if err := c.validatePlatform(c.Bridge.PlatformA, "platform_a"); err != nil {
		return err
	}
	if err := c.validatePlatform(c.Bridge.PlatformB, "platform_b"); err != nil {
		return err
	}
	if c.Bridge.PlatformA == c.Bridge.PlatformB {
		return fmt.Errorf("platform_a and platform_b must differ, both are %q", c.Bridge.PlatformA)
	}
	if c.Database.Type != "sqlite3" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type %q", c.Database.Type)
	}
	return nil
}

func (c *Config) validatePlatform(name, key string) error {
	switch name {
	case "telegram":
		if c.Telegram.Token == "" {
			return fmt.Errorf("telegram.token is required for %s=telegram", key)
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required for %s=telegram", key)
		}
	case "mattermost":
		if c.Mattermost.ServerURL == "" || c.Mattermost.Token == "" || c.Mattermost.ChannelID == "" {
			return fmt.Errorf("mattermost.server_url, token and channel_id are required for %s=mattermost", key)
		}
	case "matrix":
		if c.Matrix.HomeserverURL == "" || c.Matrix.UserID == "" || c.Matrix.AccessToken == "" || c.Matrix.RoomID == "" {
			return fmt.Errorf("matrix.homeserver_url, user_id, access_token and room_id are required for %s=matrix", key)
		}
	case "":
		return fmt.Errorf("%s is required", key)
	default:
		return fmt.Errorf("unknown platform %q for %s", name, key)
	}
	return nil
}

// MasterID returns the configured master user id for the named platform.
func (c *Config) MasterID(platform string) string {
	switch platform {
	case "telegram":
		return c.Telegram.MasterID
	case "mattermost":
		return c.Mattermost.MasterID
	case "matrix":
		return c.Matrix.MasterID
	default:
		return ""
	}
}
