package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/alextavares/aichat-sub001/internal/config"
)

func TestNew(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc"}
	l, closer := New(cfg)
	defer closer.Close()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewAsync(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc", Async: true}
	l, closer := New(cfg)
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	closer.Close()
	closer.Close()
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input).String()
			if got != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestContextIDs(t *testing.T) {
	ctx := context.Background()

	if got := RequestID(ctx); got != "" {
		t.Errorf("expected empty request ID, got %q", got)
	}
	if got := UserID(ctx); got != "" {
		t.Errorf("expected empty user ID, got %q", got)
	}

	ctx = WithRequestID(ctx, "req-123")
	ctx = WithUserID(ctx, "user-9")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("expected req-123, got %q", got)
	}
	if got := UserID(ctx); got != "user-9" {
		t.Errorf("expected user-9, got %q", got)
	}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return rec
}

func TestLoggerAddsContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	l, closer := newWithWriter(config.Logging{Level: "info", Service: "gw"}, &buf)
	defer closer.Close()

	ctx := WithUserID(WithRequestID(context.Background(), "req-1"), "u-1")
	l.InfoContext(ctx, "dispatch", "model", "gpt-4o")

	rec := decodeLine(t, &buf)
	if rec["service"] != "gw" {
		t.Errorf("service = %v", rec["service"])
	}
	if rec["request_id"] != "req-1" {
		t.Errorf("request_id = %v", rec["request_id"])
	}
	if rec["user_id"] != "u-1" {
		t.Errorf("user_id = %v", rec["user_id"])
	}
	if rec["model"] != "gpt-4o" {
		t.Errorf("model = %v", rec["model"])
	}
}

func TestLoggerAsyncKeepsContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	l, closer := newWithWriter(config.Logging{Level: "info", Service: "gw", Async: true}, &buf)

	l.InfoContext(WithRequestID(context.Background(), "req-async"), "hello")
	closer.Close()

	rec := decodeLine(t, &buf)
	if rec["request_id"] != "req-async" {
		t.Errorf("request_id = %v", rec["request_id"])
	}
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l, closer := newWithWriter(config.Logging{Level: "warn", Service: "gw"}, &buf)
	defer closer.Close()

	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
}
