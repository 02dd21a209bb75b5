package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// EnvToken is the environment variable that overrides discord.token.
const EnvToken = "MP3VOICE_DISCORD_TOKEN"

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and the
// environment override, and validates the result. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	return loadFromReader(r, os.LookupEnv)
}

func loadFromReader(r io.Reader, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	ApplyEnv(cfg, lookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides config values from the environment. lookupEnv is
// usually [os.LookupEnv].
func ApplyEnv(cfg *Config, lookupEnv func(string) (string, bool)) {
	if tok, ok := lookupEnv(EnvToken); ok && tok != "" {
		cfg.Discord.Token = tok
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Discord
	if cfg.Discord.Token == "" {
		errs = append(errs, fmt.Errorf("discord.token is required (or set %s)", EnvToken))
	}
	if cfg.Discord.TokenType != "" && !cfg.Discord.TokenType.IsValid() {
		errs = append(errs, fmt.Errorf("discord.token_type %q is invalid; valid values: bot, user", cfg.Discord.TokenType))
	}
	if cfg.Discord.APIBaseURL != "" {
		u, err := url.Parse(cfg.Discord.APIBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("discord.api_base_url %q must be an absolute http(s) URL", cfg.Discord.APIBaseURL))
		}
	}
	if cfg.Discord.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("discord.request_timeout %s must not be negative", cfg.Discord.RequestTimeout))
	}

	if cfg.Discord.TokenType == TokenUser {
		slog.Warn("discord.token_type is user; requests are sent as a user account and the bot command is unavailable")
	}
	if cfg.Discord.AllowedRoleID == "" {
		slog.Debug("discord.allowed_role_id is empty; every guild member may use /voicemessage")
	}

	return errors.Join(errs...)
}
