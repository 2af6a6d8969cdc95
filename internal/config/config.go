// Package config loads the bot configuration from a TOML file with
// environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath       = "config.toml"
	DefaultServerURL        = "http://127.0.0.1:8000"
	DefaultAPIPath          = "/api/discord"
	DefaultAdminAddr        = ":8090"
	DefaultStatusTimeoutSec = 10
	// Extraction and injection payloads may be large; the default keeps
	// the call finite without cutting off slow recognition runs.
	DefaultPipelineTimeoutSec = 300
)

type Config struct {
	Log     LogConfig     `toml:"log"`
	Discord DiscordConfig `toml:"discord"`
	Server  ServerConfig  `toml:"server"`
	Admin   AdminConfig   `toml:"admin"`
	Clans   ClanConfig    `toml:"clans"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type DiscordConfig struct {
	BotToken      string `toml:"bot_token" validate:"required"`
	GuildID       string `toml:"guild_id"`
	MainChannelID string `toml:"main_channel_id"`
	// DeleteOnSuccess controls whether the source message is removed
	// after a fully successful batch.
	DeleteOnSuccess bool `toml:"delete_on_success"`
}

type ServerConfig struct {
	// BaseURL is the score server root, e.g. "http://127.0.0.1:8000".
	// A missing scheme defaults to http.
	BaseURL string `toml:"base_url" validate:"required"`
	// APIPath is appended to BaseURL for the extraction/injection API.
	APIPath            string `toml:"api_path"`
	StatusTimeoutSec   int    `toml:"status_timeout_seconds"`
	PipelineTimeoutSec int    `toml:"pipeline_timeout_seconds"`
	DryRun             bool   `toml:"dry_run"`
}

// APIBase returns the full base URL of the extraction/injection API.
func (c ServerConfig) APIBase() string {
	return strings.TrimRight(c.BaseURL, "/") + c.APIPath
}

type AdminConfig struct {
	Addr string `toml:"addr"`
}

type ClanConfig struct {
	// Mapping maps short user-supplied tokens to canonical clan IDs.
	Mapping map[string]string `toml:"mapping"`
	// MappingFile optionally points at a JSON object {token: canonicalId}
	// merged over the inline mapping.
	MappingFile string `toml:"mapping_file"`
}

// Load reads the configuration from path, overlays environment
// variables, and validates the result. A missing file is not an error;
// defaults plus environment apply.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			BaseURL:            DefaultServerURL,
			APIPath:            DefaultAPIPath,
			StatusTimeoutSec:   DefaultStatusTimeoutSec,
			PipelineTimeoutSec: DefaultPipelineTimeoutSec,
		},
		Admin: AdminConfig{
			Addr: DefaultAdminAddr,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, err
	}

	applyEnv(&cfg)
	cfg.Server.BaseURL = normalizeServerURL(cfg.Server.BaseURL)

	if cfg.Clans.MappingFile != "" {
		merged, err := loadMappingFile(cfg.Clans.MappingFile)
		if err != nil {
			return cfg, fmt.Errorf("clan mapping file: %w", err)
		}
		if cfg.Clans.Mapping == nil {
			cfg.Clans.Mapping = map[string]string{}
		}
		for token, id := range merged {
			cfg.Clans.Mapping[token] = id
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("DISCORD_TOKEN")); v != "" {
		cfg.Discord.BotToken = v
	}
	if v := strings.TrimSpace(os.Getenv("GUILD_ID")); v != "" {
		cfg.Discord.GuildID = v
	}
	if v := strings.TrimSpace(os.Getenv("MAIN_CHANNEL_ID")); v != "" {
		cfg.Discord.MainChannelID = v
	}
	if v := strings.TrimSpace(os.Getenv("RAIDEYE_SERVER")); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("RAIDEYE_DRY_RUN")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Server.DryRun = parsed
		}
	}
}

func normalizeServerURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}
	return strings.TrimRight(raw, "/")
}

func loadMappingFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mapping := map[string]string{}
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return mapping, nil
}
