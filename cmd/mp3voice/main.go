// Command mp3voice posts MP3 files to Discord as native voice messages. It
// runs as a one-shot uploader, a slash command bot, an HTTP upload gateway
// or an MCP tool server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"

	"github.com/MrWong99/mp3voice/internal/config"
	"github.com/MrWong99/mp3voice/internal/convert"
	"github.com/MrWong99/mp3voice/internal/observe"
	"github.com/MrWong99/mp3voice/pkg/discordrest"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "mp3voice",
		Short: "Send MP3 files to Discord as voice messages",
		Long: `mp3voice turns MP3 attachments into Discord voice messages. Each file is
announced to Discord, uploaded to the returned storage URL and posted with
the voice-message flag. Other attachments are sent as regular messages.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(
		newSendCommand(&configPath),
		newBotCommand(&configPath),
		newServeCommand(&configPath),
		newMCPCommand(&configPath),
		newVersionCommand(),
	)
	return root
}

// runtime bundles what every subcommand needs once the config is loaded.
type runtime struct {
	cfg       *config.Config
	level     *slog.LevelVar
	telemetry *observe.Provider
	metrics   *observe.Metrics
}

// setup loads the config, installs the logger and starts the telemetry
// providers.
func setup(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", configPath)
		}
		return nil, err
	}

	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.LogLevel))
	slog.SetDefault(newLogger(level))

	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	metrics, err := observe.NewMetrics(telemetry.MeterProvider)
	if err != nil {
		_ = telemetry.Shutdown(ctx)
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	slog.Info("mp3voice starting",
		"config", configPath,
		"version", version,
		"log_level", cfg.LogLevel,
		"token_type", cfg.Discord.TokenType,
		"max_file_size", cfg.Discord.MaxFileSize,
	)
	return &runtime{cfg: cfg, level: level, telemetry: telemetry, metrics: metrics}, nil
}

// close flushes telemetry.
func (rt *runtime) close() {
	if err := rt.telemetry.Shutdown(context.Background()); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
}

// httpClient returns an HTTP client that traces and measures Discord calls.
func (rt *runtime) httpClient() *http.Client {
	return &http.Client{
		Timeout:   rt.cfg.Discord.RequestTimeout,
		Transport: observe.NewTransport(nil, rt.metrics),
	}
}

// restClient builds the voice-message REST client. limiter is shared with a
// discordgo session when one exists.
func (rt *runtime) restClient(limiter *discordgo.RateLimiter) *discordrest.Client {
	opts := []discordrest.Option{
		discordrest.WithBaseURL(rt.cfg.Discord.APIBaseURL),
		discordrest.WithHTTPClient(rt.httpClient()),
		discordrest.WithRateLimiter(limiter),
	}
	if rt.cfg.Discord.UserAgent != "" {
		opts = append(opts, discordrest.WithUserAgent(rt.cfg.Discord.UserAgent))
	}
	return discordrest.New(opts...)
}

// converter builds the pipeline around rest.
func (rt *runtime) converter(rest convert.RESTClient) *convert.Converter {
	return convert.New(rest,
		convert.WithMetrics(rt.metrics),
		convert.WithMaxFileSize(int64(rt.cfg.Discord.MaxFileSize)),
	)
}

// restSession creates a discordgo session for REST calls only; it never opens
// the gateway. Regular messages are sent through it.
func (rt *runtime) restSession() (*discordgo.Session, error) {
	token := rt.cfg.Discord.Token
	if rt.cfg.Discord.TokenType == config.TokenBot {
		token = "Bot " + token
	}
	s, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Client = rt.httpClient()
	if rt.cfg.Discord.UserAgent != "" {
		s.UserAgent = rt.cfg.Discord.UserAgent
	}
	return s, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
