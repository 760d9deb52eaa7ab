package google_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alextavares/aichat-sub001/internal/adapter/google"
	"github.com/alextavares/aichat-sub001/internal/domain/chat"
	"github.com/alextavares/aichat-sub001/internal/port/llm"
)

func newProvider(url string) *google.Provider {
	return google.New(google.Config{
		BaseURL: url,
		APIKey:  func() string { return "g-key" },
		Models:  []string{"gemini-2.0-flash"},
	})
}

func request() *llm.Request {
	return &llm.Request{
		Model: "gemini-2.0-flash",
		Messages: []chat.Message{
			{Role: chat.RoleSystem, Content: "sys"},
			{Role: chat.RoleUser, Content: "q1"},
			{Role: chat.RoleAssistant, Content: "a1"},
			{Role: chat.RoleUser, Content: "q2"},
		},
		Options: chat.Options{MaxTokens: 100},
	}
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-2.0-flash:generateContent" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "g-key" {
			t.Fatal("missing api key header")
		}
		var body struct {
			Contents []struct {
				Role string `json:"role"`
			} `json:"contents"`
			SystemInstruction *struct{} `json:"systemInstruction"`
			GenerationConfig  struct {
				MaxOutputTokens int `json:"maxOutputTokens"`
			} `json:"generationConfig"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		roles := make([]string, len(body.Contents))
		for i, c := range body.Contents {
			roles[i] = c.Role
		}
		if strings.Join(roles, ",") != "user,model,user" {
			t.Fatalf("unexpected roles %v", roles)
		}
		if body.SystemInstruction == nil || body.GenerationConfig.MaxOutputTokens != 100 {
			t.Fatalf("unexpected body %+v", body)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}],"role":"model"},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":9,"candidatesTokenCount":1,"totalTokenCount":10},"modelVersion":"gemini-2.0-flash-001"}`))
	}))
	defer srv.Close()

	resp, err := newProvider(srv.URL).Complete(context.Background(), request())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "ok" || resp.FinishReason != "STOP" || resp.Usage != chat.NewUsage(9, 1) {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCompleteBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
	}))
	defer srv.Close()

	_, err := newProvider(srv.URL).Complete(context.Background(), request())
	var be *chat.BackendError
	if !errors.As(err, &be) || be.Code != "blocked" || be.Retryable {
		t.Fatalf("expected non-retryable blocked error, got %v", err)
	}
}

func TestCompleteResourceExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	_, err := newProvider(srv.URL).Complete(context.Background(), request())
	if !chat.IsRetryable(err) {
		t.Fatalf("429 should be retryable, got %v", err)
	}
}

func TestStreamEndsAtEOF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("alt") != "sse" || !strings.HasSuffix(r.URL.Path, ":streamGenerateContent") {
			t.Fatalf("unexpected url %s", r.URL)
		}
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hel\"}]}}]}\r\n\r\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"lo\"}]},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"promptTokenCount\":4,\"candidatesTokenCount\":2,\"totalTokenCount\":6}}\r\n\r\n")
	}))
	defer srv.Close()

	ch, err := newProvider(srv.URL).Stream(context.Background(), request())
	if err != nil {
		t.Fatal(err)
	}
	var text strings.Builder
	var last chat.Chunk
	for c := range ch {
		text.WriteString(c.Delta)
		last = c
	}
	if text.String() != "Hello" {
		t.Fatalf("unexpected text %q", text.String())
	}
	if !last.Done || last.Usage == nil || last.Usage.Total != 6 {
		t.Fatalf("unexpected terminal chunk %+v", last)
	}
}
