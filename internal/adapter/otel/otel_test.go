package otel_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	otelapi "go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/alextavares/aichat-sub001/internal/adapter/otel"
	"github.com/alextavares/aichat-sub001/internal/config"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := otel.Setup(context.Background(), config.OTEL{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestMetricsOnNoopProvider(t *testing.T) {
	m, err := otel.NewMetrics()
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	m.RecordDispatch(ctx, "gpt-4o", "openai", true, time.Second, nil)
	m.RecordDispatch(ctx, "gpt-4o", "openai", false, time.Second, errors.New("boom"))
	m.RecordRetry(ctx, "openai")
	m.RecordTokens(ctx, "gpt-4o", 10, 5, false)
	m.RecordCredits(ctx, "gpt-4o", 3)
	m.RecordDenial(ctx, "monthly token cap reached")
	m.RecordAccountingFailure(ctx, "consume")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *otel.Metrics
	m.RecordDispatch(context.Background(), "m", "b", false, 0, nil)
	m.RecordDenial(context.Background(), "x")
}

func TestSpansEnd(t *testing.T) {
	ctx, span := otel.StartDispatchSpan(context.Background(), "gpt-4o", false)
	_, inner := otel.StartBackendSpan(ctx, "openai", "gpt-4o", false)
	otel.EndSpan(inner, errors.New("429"))
	otel.EndSpan(span, nil)
}

func TestHTTPMiddlewarePassesThrough(t *testing.T) {
	h := otel.HTTPMiddleware("test")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestHTTPMiddlewareNamesSpansByRoute(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otelapi.GetTracerProvider()
	otelapi.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otelapi.SetTracerProvider(prev) })

	r := chi.NewRouter()
	r.Use(otel.HTTPMiddleware("gateway"))
	r.Get("/api/v1/credits/{user}", func(http.ResponseWriter, *http.Request) {})
	r.Get("/health", func(http.ResponseWriter, *http.Request) {})

	for _, path := range []string{"/api/v1/credits/u-123", "/health"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, http.NoBody))
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span (health is not traced), got %d", len(spans))
	}
	if got := spans[0].Name(); got != "GET /api/v1/credits/{user}" {
		t.Fatalf("span name = %q", got)
	}
}
