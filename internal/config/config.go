package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "go.yaml.in/yaml/v3"
)

// Config keeps runtime settings for the bot.
type Config struct {
	DiscordToken     string  `yaml:"discord_token"`
	TokenFile        string  `yaml:"token_file"`
	DatabaseURL      string  `yaml:"database_url"`
	Timezone         string  `yaml:"timezone"`
	PollSpec         string  `yaml:"poll_spec"`
	CommandPrefix    string  `yaml:"command_prefix"`
	LogLevel         string  `yaml:"log_level"`
	LogFormat        string  `yaml:"log_format"`
	NotifyRatePerSec float64 `yaml:"notify_rate_per_sec"`
}

// Default returns the settings used when nothing else is configured.
// PollSpec fires on every minute boundary, matching HH:MM resolution.
func Default() Config {
	return Config{
		TokenFile:        "data/token.txt",
		DatabaseURL:      "data/cleanerbot.db",
		Timezone:         "Local",
		PollSpec:         "0 * * * * *",
		CommandPrefix:    "$",
		LogLevel:         "info",
		LogFormat:        "console",
		NotifyRatePerSec: 2,
	}
}

// Load reads configuration with sane defaults. Precedence, lowest first:
// defaults, the YAML file named by CONFIG_FILE, .env, environment variables.
// The token falls back to the contents of TokenFile.
func Load() (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return cfg, err
		}
	}

	cfg.applyEnv()

	if cfg.DiscordToken == "" {
		token, err := readToken(cfg.TokenFile)
		if err != nil {
			return cfg, err
		}
		cfg.DiscordToken = token
	}
	if cfg.DiscordToken == "" {
		return cfg, fmt.Errorf("DISCORD_TOKEN is required (or a token in %s)", cfg.TokenFile)
	}

	if _, err := cfg.Location(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Location resolves the configured timezone.
func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", name, err)
	}
	return loc, nil
}

func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	setString(&c.DiscordToken, "DISCORD_TOKEN")
	setString(&c.TokenFile, "TOKEN_FILE")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.Timezone, "TIMEZONE")
	setString(&c.PollSpec, "POLL_SPEC")
	setString(&c.CommandPrefix, "COMMAND_PREFIX")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	if rate := parseRate(strings.TrimSpace(os.Getenv("NOTIFY_RATE_PER_SEC"))); rate > 0 {
		c.NotifyRatePerSec = rate
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func parseRate(raw string) float64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return 0
	}
	return v
}

// readToken returns the trimmed token file contents, or "" when the file is absent.
func readToken(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token file %s: %w", path, err)
	}
	return strings.TrimSpace(string(b)), nil
}
