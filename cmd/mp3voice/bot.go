package main

import (
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mp3voice/internal/config"
	"github.com/MrWong99/mp3voice/internal/convert"
	"github.com/MrWong99/mp3voice/internal/discord"
	"github.com/MrWong99/mp3voice/internal/discord/commands"
	"github.com/MrWong99/mp3voice/internal/gateway"
	"github.com/MrWong99/mp3voice/internal/health"
)

func newBotCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "bot",
		Short: "Run the /voicemessage slash command bot",
		Long: `Connects to the Discord gateway and registers /voicemessage. The upload
gateway, health probes and metrics are served on server.listen_addr.

log_level, discord.allowed_role_id and discord.max_file_size are reloaded
when the config file changes; other fields need a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := setup(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			if rt.cfg.Discord.TokenType != config.TokenBot {
				return errors.New("the bot command needs discord.token_type: bot")
			}

			bot, err := discord.New(ctx, discord.Config{
				Token:         rt.cfg.Discord.Token,
				GuildID:       rt.cfg.Discord.GuildID,
				AllowedRoleID: rt.cfg.Discord.AllowedRoleID,
				HTTPClient:    rt.httpClient(),
				UserAgent:     rt.cfg.Discord.UserAgent,
			})
			if err != nil {
				return err
			}
			defer func() {
				if err := bot.Close(); err != nil {
					slog.Warn("discord bot close error", "err", err)
				}
			}()

			session := bot.Session()
			rest := rt.restClient(session.Ratelimiter)
			conv := rt.converter(rest)
			cred := rt.cfg.Discord.Credential()

			vc := commands.NewVoiceMessageCommands(commands.VoiceMessageConfig{
				Router:      bot.Router(),
				Perms:       bot.Permissions(),
				Converter:   conv,
				Credential:  cred,
				MaxFileSize: int64(rt.cfg.Discord.MaxFileSize),
				Context:     ctx,
			})

			watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
				applyConfigDiff(rt, bot, conv, vc, config.Diff(old, new))
			})
			if err != nil {
				slog.Warn("config hot reload disabled", "err", err)
			} else {
				defer watcher.Stop()
			}

			srv := gateway.New(conv, discord.NewSender(session, conv, cred), cred,
				gateway.WithMetrics(rt.metrics),
				gateway.WithMetricsHandler(rt.telemetry.MetricsHandler()),
				gateway.WithHealthCheckers(
					health.Gateway(bot.Ready),
					health.DiscordAPI(rest),
				),
			)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return bot.Run(gctx) })
			serveHTTP(gctx, g, rt.cfg.Server.ListenAddr, srv.Handler())
			return ignoreCanceled(g.Wait())
		},
	}
}

// applyConfigDiff applies the hot-reloadable fields of a config change.
func applyConfigDiff(rt *runtime, bot *discord.Bot, conv *convert.Converter, vc *commands.VoiceMessageCommands, d config.ConfigDiff) {
	if d.LogLevelChanged {
		rt.level.Set(slogLevel(d.NewLogLevel))
		slog.Info("config reloaded: log level", "level", d.NewLogLevel)
	}
	if d.AllowedRoleChanged {
		bot.Permissions().SetRole(d.NewAllowedRoleID)
		slog.Info("config reloaded: allowed role", "role_id", d.NewAllowedRoleID)
	}
	if d.MaxFileSizeChanged {
		conv.SetMaxFileSize(int64(d.NewMaxFileSize))
		vc.SetMaxFileSize(int64(d.NewMaxFileSize))
		slog.Info("config reloaded: max file size", "max_file_size", d.NewMaxFileSize)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "fields", d.RestartRequired)
	}
}
