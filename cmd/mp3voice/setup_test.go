package main

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/MrWong99/mp3voice/internal/config"
)

// restoreGlobals puts back the logger and otel providers that setup replaces.
func restoreGlobals(t *testing.T) {
	t.Helper()
	logger, mp, tp := slog.Default(), otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		slog.SetDefault(logger)
		otel.SetMeterProvider(mp)
		otel.SetTracerProvider(tp)
	})
}

func TestSetup_MinimalConfig(t *testing.T) {
	restoreGlobals(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\ndiscord:\n  token: abc\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	rt, err := setup(context.Background(), path)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer rt.close()

	if rt.cfg.Discord.TokenType != config.TokenBot {
		t.Errorf("token_type = %q, want bot", rt.cfg.Discord.TokenType)
	}
	if rt.level.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", rt.level.Level())
	}
	if rt.metrics == nil || rt.telemetry == nil {
		t.Fatal("setup left metrics or telemetry unset")
	}

	rt.metrics.RecordConversion(context.Background(), "ok", "done")
	rec := httptest.NewRecorder()
	rt.telemetry.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "mp3voice_conversions") {
		t.Errorf("/metrics does not expose conversions:\n%s", body)
	}
}

func TestSetup_MissingConfig(t *testing.T) {
	restoreGlobals(t)

	_, err := setup(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "configs/example.yaml") {
		t.Errorf("err = %v, want hint about configs/example.yaml", err)
	}
}
