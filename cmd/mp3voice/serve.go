package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mp3voice/internal/discord"
	"github.com/MrWong99/mp3voice/internal/gateway"
	"github.com/MrWong99/mp3voice/internal/health"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 15 * time.Second

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP upload gateway",
		Long: `Serves POST /v1/channels/{channelID}/uploads. MP3 parts of the multipart
field "files" become voice messages; other parts are posted as a regular
message. /healthz, /readyz and /metrics are served on the same address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := setup(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			session, err := rt.restSession()
			if err != nil {
				return err
			}
			rest := rt.restClient(session.Ratelimiter)
			conv := rt.converter(rest)
			cred := rt.cfg.Discord.Credential()

			srv := gateway.New(conv, discord.NewSender(session, conv, cred), cred,
				gateway.WithMetrics(rt.metrics),
				gateway.WithMetricsHandler(rt.telemetry.MetricsHandler()),
				gateway.WithHealthCheckers(health.DiscordAPI(rest)),
			)

			g, gctx := errgroup.WithContext(ctx)
			serveHTTP(gctx, g, rt.cfg.Server.ListenAddr, srv.Handler())
			return ignoreCanceled(g.Wait())
		},
	}
}

// serveHTTP runs an HTTP server in g until ctx is done, then shuts it down
// gracefully.
func serveHTTP(ctx context.Context, g *errgroup.Group, addr string, h http.Handler) {
	hs := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		slog.Info("http server listening", "addr", addr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("shutdown signal received, stopping http server")
		return hs.Shutdown(shutdownCtx)
	})
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
