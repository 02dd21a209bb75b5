package config

import (
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/mp3voice/pkg/discordrest"
)

func TestByteSize_UnmarshalYAML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    ByteSize
		wantErr bool
	}{
		{"size: 1024", 1024, false},
		{"size: 10MiB", 10 << 20, false},
		{"size: 10 MB", 10_000_000, false},
		{`size: "25mib"`, 25 << 20, false},
		{"size: huge", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			var v struct {
				Size ByteSize `yaml:"size"`
			}
			err := yaml.Unmarshal([]byte(tt.in), &v)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && v.Size != tt.want {
				t.Errorf("size = %d, want %d", v.Size, tt.want)
			}
		})
	}
}

func TestByteSize_String(t *testing.T) {
	t.Parallel()
	if got := ByteSize(10 << 20).String(); got != "10 MiB" {
		t.Errorf("String() = %q, want %q", got, "10 MiB")
	}
}

func TestDiscordConfig_Credential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  DiscordConfig
		want discordrest.Credential
	}{
		{"default is bot", DiscordConfig{Token: "t"}, discordrest.BotToken("t")},
		{"bot", DiscordConfig{Token: "t", TokenType: TokenBot}, discordrest.BotToken("t")},
		{"user", DiscordConfig{Token: "t", TokenType: TokenUser}, discordrest.UserToken("t")},
		{"empty token", DiscordConfig{}, discordrest.Credential{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.cfg.Credential(); got != tt.want {
				t.Errorf("Credential() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnumValidity(t *testing.T) {
	t.Parallel()

	for _, l := range []LogLevel{LogDebug, LogInfo, LogWarn, LogError} {
		if !l.IsValid() {
			t.Errorf("LogLevel %q should be valid", l)
		}
	}
	if LogLevel("trace").IsValid() {
		t.Error("LogLevel trace should be invalid")
	}
	if !TokenBot.IsValid() || !TokenUser.IsValid() {
		t.Error("bot and user token types should be valid")
	}
	if TokenType("bearer").IsValid() {
		t.Error("TokenType bearer should be invalid")
	}
}
