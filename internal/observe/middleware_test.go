package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup creates both metrics and tracing infrastructure for middleware tests.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	// Metrics.
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	// Tracing.
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

func TestMiddleware_UploadRoute(t *testing.T) {
	const incomingTrace = "4bf92f3577b34da6a3ce929d0e0e4736"

	tests := []struct {
		name        string
		traceparent string
		status      int
		wantTraceID string
		wantError   bool
	}{
		{name: "new trace", status: http.StatusOK},
		{
			name:        "continues caller trace",
			traceparent: "00-" + incomingTrace + "-00f067aa0ba902b7-01",
			status:      http.StatusOK,
			wantTraceID: incomingTrace,
		},
		{name: "rejected upload", status: http.StatusRequestEntityTooLarge},
		{name: "discord failure", status: http.StatusBadGateway, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, exp := testSetup(t)

			var handlerCID string
			mux := http.NewServeMux()
			mux.HandleFunc("POST /v1/channels/{channelID}/uploads", func(w http.ResponseWriter, r *http.Request) {
				handlerCID = CorrelationID(r.Context())
				w.WriteHeader(tt.status)
			})

			req := httptest.NewRequest("POST", "/v1/channels/987/uploads", nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec := httptest.NewRecorder()
			Middleware(m)(mux).ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if len(handlerCID) != 32 {
				t.Fatalf("handler correlation ID = %q, want 32 hex characters", handlerCID)
			}
			if tt.wantTraceID != "" && handlerCID != tt.wantTraceID {
				t.Errorf("correlation ID = %q, want caller trace %q", handlerCID, tt.wantTraceID)
			}
			if got := rec.Header().Get("X-Correlation-ID"); got != handlerCID {
				t.Errorf("X-Correlation-ID = %q, want %q", got, handlerCID)
			}

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("recorded %d spans, want 1", len(spans))
			}
			span := spans[0]
			if span.Name != "HTTP POST /v1/channels/987/uploads" {
				t.Errorf("span name = %q", span.Name)
			}
			attrs := map[string]string{}
			for _, a := range span.Attributes {
				attrs[string(a.Key)] = a.Value.Emit()
			}
			if got := attrs["http.route"]; got != "POST /v1/channels/{channelID}/uploads" {
				t.Errorf("http.route = %q", got)
			}
			if got := attrs["http.response.status_code"]; got != strconv.Itoa(tt.status) {
				t.Errorf("http.response.status_code = %q, want %d", got, tt.status)
			}
			if isErr := span.Status.Code == codes.Error; isErr != tt.wantError {
				t.Errorf("span status = %v, want error %v", span.Status.Code, tt.wantError)
			}
		})
	}
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	m, reader, _ := testSetup(t)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/channels/{channelID}/uploads", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	handler := Middleware(m)(mux)

	for _, id := range []string{"111", "222"} {
		req := httptest.NewRequest("POST", "/v1/channels/"+id+"/uploads", nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "mp3voice.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1 (channel IDs must not become labels)", len(hist.DataPoints))
	}
	v, _ := hist.DataPoints[0].Attributes.Value("path")
	if got := v.AsString(); got != "POST /v1/channels/{channelID}/uploads" {
		t.Errorf("path label = %q", got)
	}
}

func TestTransport_RecordsRequests(t *testing.T) {
	m, reader, exp := testSetup(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("traceparent") != "" {
			t.Error("transport must not inject trace headers into Discord requests")
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	client := &http.Client{Transport: NewTransport(nil, m)}
	resp, err := client.Get(srv.URL + "/api/v10/gateway")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	_ = resp.Body.Close()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status = %v, want Error for 429", spans[0].Status.Code)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "mp3voice.discord.requests")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Fatalf("unexpected data points: %+v", sum.DataPoints)
	}
	code, _ := sum.DataPoints[0].Attributes.Value("status_code")
	if code.AsInt64() != http.StatusTooManyRequests {
		t.Errorf("status_code = %d, want 429", code.AsInt64())
	}
}

func TestTransport_TransportError(t *testing.T) {
	m, _, exp := testSetup(t)

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := &http.Client{Transport: NewTransport(http.DefaultTransport, m)}
	if _, err := client.Get(url); err == nil {
		t.Fatal("expected error from closed server")
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if len(spans[0].Events) == 0 {
		t.Error("span did not record the transport error")
	}
}
