// Package config provides the configuration schema, loader, and hot-reload
// watcher for mp3voice.
package config

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/mp3voice/pkg/discordrest"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// TokenType selects how the Discord token is sent.
type TokenType string

const (
	// TokenBot sends "Bot <token>".
	TokenBot TokenType = "bot"

	// TokenUser sends the token verbatim.
	TokenUser TokenType = "user"
)

// IsValid reports whether t is a recognised token type.
func (t TokenType) IsValid() bool {
	return t == TokenBot || t == TokenUser
}

// ByteSize is a size in bytes that unmarshals from human-readable strings
// such as "25MiB" or "10 MB" as well as plain integers.
type ByteSize uint64

// UnmarshalYAML implements [yaml.Unmarshaler].
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	*b = ByteSize(n)
	return nil
}

// MarshalYAML implements [yaml.Marshaler].
func (b ByteSize) MarshalYAML() (any, error) {
	return b.String(), nil
}

func (b ByteSize) String() string { return humanize.IBytes(uint64(b)) }

// Defaults applied by [LoadFromReader] for unset fields.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxFileSize    = ByteSize(10 << 20)
	DefaultListenAddr     = ":8080"
	DefaultServiceName    = "mp3voice"
)

// Config is the root configuration structure for mp3voice.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	Discord   DiscordConfig   `yaml:"discord"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// DiscordConfig holds the Discord account and REST client settings.
type DiscordConfig struct {
	// Token authenticates every request. The MP3VOICE_DISCORD_TOKEN
	// environment variable overrides it.
	Token string `yaml:"token"`

	// TokenType is "bot" (default) or "user".
	TokenType TokenType `yaml:"token_type"`

	// APIBaseURL overrides the REST API root, without the version segment.
	// Default: https://discord.com/api.
	APIBaseURL string `yaml:"api_base_url"`

	// UserAgent overrides the User-Agent header.
	UserAgent string `yaml:"user_agent"`

	// RequestTimeout bounds each REST request. Default: 30s.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// AllowedRoleID restricts /voicemessage to members with this role.
	// Empty allows everyone.
	AllowedRoleID string `yaml:"allowed_role_id"`

	// GuildID registers the slash command in one guild only. Empty registers
	// it globally.
	GuildID string `yaml:"guild_id"`

	// MaxFileSize rejects larger MP3 files before anything is uploaded.
	// Default: 10MiB.
	MaxFileSize ByteSize `yaml:"max_file_size"`
}

// Credential returns the credential described by Token and TokenType.
func (d DiscordConfig) Credential() discordrest.Credential {
	if d.TokenType == TokenUser {
		return discordrest.UserToken(d.Token)
	}
	return discordrest.BotToken(d.Token)
}

// ServerConfig holds the HTTP gateway settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the gateway listens on. Default: ":8080".
	ListenAddr string `yaml:"listen_addr"`
}

// TelemetryConfig holds OpenTelemetry resource settings.
type TelemetryConfig struct {
	// ServiceName is reported in telemetry. Default: "mp3voice".
	ServiceName string `yaml:"service_name"`
}

// applyDefaults fills unset fields.
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}
	if cfg.Discord.TokenType == "" {
		cfg.Discord.TokenType = TokenBot
	}
	if cfg.Discord.APIBaseURL == "" {
		cfg.Discord.APIBaseURL = discordrest.DefaultBaseURL
	}
	if cfg.Discord.RequestTimeout == 0 {
		cfg.Discord.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Discord.MaxFileSize == 0 {
		cfg.Discord.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}
