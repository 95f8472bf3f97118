// Package config loads the JSON configuration file, writing defaults on
// first run. Environment variables override file values for secrets.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int64  `json:"max_concurrent"`
	SweepSchedule string `json:"sweep_schedule"`
	Backends      struct {
		ClaudeCommand string `json:"claude_command"`
		CodexCommand  string `json:"codex_command"`
	} `json:"backends"`
	Telegram struct {
		Token          string  `json:"token"`
		AllowedUserIDs []int64 `json:"allowed_user_ids"`
	} `json:"telegram"`
}

// DefaultPath is the config location when none is given on the command line.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".agentrelay", "config.json")
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".agentrelay"),
		LogLevel:      "info",
		MaxConcurrent: 2,
		SweepSchedule: "@every 5m",
	}
	cfg.Backends.ClaudeCommand = "claude"
	cfg.Backends.CodexCommand = "codex"

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if users := os.Getenv("TELEGRAM_ALLOWED_USERS"); users != "" {
		ids, err := parseUserIDs(users)
		if err != nil {
			return nil, fmt.Errorf("parse TELEGRAM_ALLOWED_USERS: %w", err)
		}
		cfg.Telegram.AllowedUserIDs = ids
	}

	return cfg, nil
}

func Save(path string, cfg *Config) error {
	return writeDefaults(path, cfg)
}

func parseUserIDs(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
