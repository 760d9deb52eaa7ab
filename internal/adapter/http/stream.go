package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alextavares/aichat-sub001/internal/domain/chat"
	"github.com/alextavares/aichat-sub001/internal/service"
)

// SSE event names of the stream endpoint.
const (
	eventToken           = "token"
	eventComplete        = "complete"
	eventError           = "error"
	eventAccountingError = "accounting_error"
)

type tokenEvent struct {
	Delta string `json:"delta"`
}

// sseWriter writes server-sent events. Headers are sent with the first
// event, so failures that happen before any output still get a proper HTTP
// status.
type sseWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
	failed  bool
	broken  bool
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

func (s *sseWriter) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	// Streams outlive the server's write timeout.
	_ = s.rc.SetWriteDeadline(time.Time{})
	s.w.WriteHeader(http.StatusOK)
}

func (s *sseWriter) send(event string, data any) {
	if s.broken {
		return
	}
	s.start()
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Error("sse marshal failed", "event", event, "error", err)
		return
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		s.broken = true
		return
	}
	if err := s.rc.Flush(); err != nil {
		s.broken = true
	}
}

// fail reports err as an HTTP error before the stream starts, or as an
// error event after.
func (s *sseWriter) fail(r *http.Request, err error) {
	s.failed = true
	if !s.started {
		writeDomainError(s.w, r, err)
		return
	}
	status, body := errorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "stream failed", "error", err, "status", status)
	}
	s.send(eventError, body)
}

// ChatStream handles POST /api/v1/chat/stream.
func (h *Handlers) ChatStream(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[chatRequest](w, r, h.bodyLimit())
	if !ok || !requireField(w, req.Model, "model") {
		return
	}

	sse := newSSEWriter(w)
	cb := service.Callbacks{
		OnToken:    func(d string) { sse.send(eventToken, tokenEvent{Delta: d}) },
		OnComplete: func(o *chat.Outcome) { sse.send(eventComplete, o) },
		OnError:    func(err error) { sse.fail(r, err) },
	}
	_, err := h.Gateway.StreamWithCallbacks(r.Context(), caller, req.Messages, req.Model, req.Options, cb)

	var acc *chat.AccountingError
	switch {
	case err == nil || sse.failed:
	case errors.As(err, &acc):
		sse.send(eventAccountingError, errorResponse{Error: "usage could not be recorded", Code: chat.CodeAccounting})
	default:
		sse.fail(r, err)
	}
}
