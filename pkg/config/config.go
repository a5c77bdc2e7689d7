// Copyright 2024-2026 Aiku AI

// Package config loads the anysync configuration file.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/anysync/pkg/message"
	"github.com/aiku/anysync/pkg/platform/discord"
	"github.com/aiku/anysync/pkg/platform/matrix"
	"github.com/aiku/anysync/pkg/platform/mattermost"
	"github.com/aiku/anysync/pkg/platform/onebot"
	"github.com/aiku/anysync/pkg/platform/slack"
	"github.com/aiku/anysync/pkg/platform/telegram"
	"github.com/aiku/anysync/pkg/rules"
)

//go:embed example-config.yaml
var ExampleConfig string

// EnvPrefix prefixes every environment override, e.g. ANYSYNC_TELEGRAM_TOKEN.
const EnvPrefix = "ANYSYNC_"

// DefaultSendTimeout applies when send_timeout is unset.
const DefaultSendTimeout = 15 * time.Second

// Config is the root configuration.
type Config struct {
	Logging      zeroconfig.Config `yaml:"logging" env:"-"`
	Database     DatabaseConfig    `yaml:"database" envPrefix:"DATABASE_"`
	SendTimeout  time.Duration     `yaml:"send_timeout" env:"SEND_TIMEOUT"`
	AdminAPIAddr string            `yaml:"admin_api_addr" env:"ADMIN_API_ADDR"`
	Rules        rules.Config      `yaml:"rules" env:"-"`
	RulesFile    string            `yaml:"rules_file" env:"RULES_FILE"`
	MirrorRules  bool              `yaml:"mirror_rules" env:"MIRROR_RULES"`
	Platforms    PlatformsConfig   `yaml:"platforms"`
}

// DatabaseConfig selects the correspondence store.
type DatabaseConfig struct {
	Type string `yaml:"type" env:"TYPE"`
	URI  string `yaml:"uri" env:"URI"`
}

// PlatformsConfig holds one section per platform handler.
type PlatformsConfig struct {
	Mattermost mattermost.Config `yaml:"mattermost" envPrefix:"MATTERMOST_"`
	Matrix     matrix.Config     `yaml:"matrix" envPrefix:"MATRIX_"`
	Telegram   telegram.Config   `yaml:"telegram" envPrefix:"TELEGRAM_"`
	OneBot     onebot.Config     `yaml:"onebot" envPrefix:"ONEBOT_"`
	Discord    discord.Config    `yaml:"discord" envPrefix:"DISCORD_"`
	Slack      slack.Config      `yaml:"slack" envPrefix:"SLACK_"`
}

// Enabled returns the names of the platforms whose sections are filled in.
func (p PlatformsConfig) Enabled() []string {
	var names []string
	for _, s := range []struct {
		name string
		ok   bool
	}{
		{discord.Name, p.Discord.Enabled()},
		{matrix.Name, p.Matrix.Enabled()},
		{mattermost.Name, p.Mattermost.Enabled()},
		{onebot.Name, p.OneBot.Enabled()},
		{slack.Name, p.Slack.Enabled()},
		{telegram.Name, p.Telegram.Enabled()},
	} {
		if s.ok {
			names = append(names, s.name)
		}
	}
	return names
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Map, "logging")
	helper.Copy(up.Str, "database", "type")
	helper.Copy(up.Str, "database", "uri")
	helper.Copy(up.Str, "send_timeout")
	helper.Copy(up.Str, "admin_api_addr")
	helper.Copy(up.Map, "rules")
	helper.Copy(up.Str, "rules_file")
	helper.Copy(up.Bool, "mirror_rules")

	helper.Copy(up.Str, "platforms", "mattermost", "server_url")
	helper.Copy(up.Str, "platforms", "mattermost", "token")
	helper.Copy(up.Str, "platforms", "mattermost", "bot_prefix")
	helper.Copy(up.List, "platforms", "mattermost", "ignore_user_ids")
	helper.Copy(up.Str, "platforms", "matrix", "homeserver_url")
	helper.Copy(up.Str, "platforms", "matrix", "user_id")
	helper.Copy(up.Str, "platforms", "matrix", "access_token")
	helper.Copy(up.Str, "platforms", "matrix", "bot_prefix")
	helper.Copy(up.List, "platforms", "matrix", "ignore_user_ids")
	helper.Copy(up.Str, "platforms", "telegram", "token")
	helper.Copy(up.Str, "platforms", "telegram", "api_server")
	helper.Copy(up.List, "platforms", "telegram", "ignore_user_ids")
	helper.Copy(up.Str, "platforms", "onebot", "ws_url")
	helper.Copy(up.Str, "platforms", "onebot", "access_token")
	helper.Copy(up.Str, "platforms", "onebot", "reconnect_interval")
	helper.Copy(up.List, "platforms", "onebot", "ignore_user_ids")
	helper.Copy(up.Str, "platforms", "discord", "token")
	helper.Copy(up.List, "platforms", "discord", "ignore_user_ids")
	helper.Copy(up.Str, "platforms", "slack", "bot_token")
	helper.Copy(up.Str, "platforms", "slack", "api_url")
}

// Upgrader fills keys missing from a config file with the example values.
var Upgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Blocks: [][]string{
		{"database"},
		{"send_timeout"},
		{"admin_api_addr"},
		{"rules"},
		{"rules_file"},
		{"platforms"},
	},
	Base: ExampleConfig,
}

// Load reads the config at path, fills missing keys from the example config
// and applies environment overrides. With save set, the upgraded file is
// written back.
func Load(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, Upgrader)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return Parse(data)
}

// Parse decodes config YAML and applies environment overrides.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "memory"
	}
	return &cfg, cfg.Validate()
}

// Validate checks settings that cannot be checked by decoding alone.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "memory":
	case "sqlite3", "postgres":
		if c.Database.URI == "" {
			return fmt.Errorf("database.uri is required for %s", c.Database.Type)
		}
	default:
		return fmt.Errorf("unsupported database type %q", c.Database.Type)
	}
	if len(c.Platforms.Enabled()) == 0 {
		return errors.New("no platform is configured")
	}
	return nil
}

// LoadRules returns the forwarding rules: the rules file when set, otherwise
// the inline block, mirrored when mirror_rules is on.
func (c *Config) LoadRules() (rules.Config, error) {
	cfg := c.Rules
	if c.RulesFile != "" {
		var err error
		if cfg, err = rules.LoadFile(c.RulesFile); err != nil {
			return nil, err
		}
	}
	if c.MirrorRules {
		cfg = rules.Mirror(cfg)
	}
	return cfg, nil
}

// CheckRules reports every rule target whose format is unknown. Targets
// whose platform does not render the format are reported by the engine at
// send time.
func CheckRules(cfg rules.Config) []error {
	var errs []error
	table := rules.Load(cfg)
	table.Each(func(platformName, groupID string, targets []rules.Target) {
		for _, t := range targets {
			if t.Format == "" {
				continue
			}
			if _, err := message.ParseFormat(t.Format); err != nil {
				errs = append(errs, fmt.Errorf("%s/%s -> %s: %w", platformName, groupID, t, err))
			}
		}
	})
	return errs
}
