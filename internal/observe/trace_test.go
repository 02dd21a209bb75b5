package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider as the global one for
// the duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects the default logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	useTestTracer(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	seen := make(map[string]bool)
	for range 20 {
		ctx, span := StartSpan(context.Background(), "convert.file")
		cid := CorrelationID(ctx)
		span.End()

		if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
			t.Fatalf("CorrelationID = %q, want 32 hex characters", cid)
		}
		if seen[cid] {
			t.Fatalf("duplicate correlation ID %s", cid)
		}
		seen[cid] = true
	}
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	exp := useTestTracer(t)

	_, span := StartSpan(context.Background(), "convert.negotiate")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "convert.negotiate" {
		t.Errorf("span name = %q, want convert.negotiate", spans[0].Name)
	}
	if got := spans[0].InstrumentationScope.Name; got != tracerName {
		t.Errorf("scope = %q, want %q", got, tracerName)
	}
}

func TestFailSpan(t *testing.T) {
	exp := useTestTracer(t)

	_, failed := StartSpan(context.Background(), "convert.upload")
	FailSpan(failed, errors.New("upload slot expired"))
	failed.End()

	_, fine := StartSpan(context.Background(), "convert.post")
	FailSpan(fine, nil)
	fine.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}

	got := spans[0]
	if got.Status.Code != codes.Error || got.Status.Description != "upload slot expired" {
		t.Errorf("status = %+v, want Error with description", got.Status)
	}
	if len(got.Events) != 1 || got.Events[0].Name != "exception" {
		t.Errorf("events = %+v, want one exception event", got.Events)
	}

	if spans[1].Status.Code != codes.Unset {
		t.Errorf("nil error changed status to %v", spans[1].Status.Code)
	}
	if len(spans[1].Events) != 0 {
		t.Errorf("nil error recorded %d events", len(spans[1].Events))
	}
}

func TestLogger(t *testing.T) {
	useTestTracer(t)

	tests := []struct {
		name      string
		withSpan  bool
		args      []any
		want      []string
		forbidden []string
	}{
		{
			name:      "no span",
			args:      []any{"channel_id", "123"},
			want:      []string{"channel_id=123"},
			forbidden: []string{"trace_id", "span_id"},
		},
		{
			name:     "span and args",
			withSpan: true,
			args:     []any{"job_id", "j-1", "filename", "clip.mp3"},
			want:     []string{"trace_id=", "span_id=", "job_id=j-1", "filename=clip.mp3"},
		},
		{
			name:     "span only",
			withSpan: true,
			want:     []string{"trace_id=", "span_id="},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)

			ctx := context.Background()
			if tt.withSpan {
				c, s := StartSpan(ctx, "gateway.upload")
				defer s.End()
				ctx = c
			}

			Logger(ctx, tt.args...).Info("uploaded")

			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log output missing %q: %s", w, out)
				}
			}
			for _, f := range tt.forbidden {
				if strings.Contains(out, f) {
					t.Errorf("log output contains %q: %s", f, out)
				}
			}
		})
	}
}
