package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alextavares/aichat-sub001/internal/port/messagequeue"
)

// events publishes accounting events. A nil queue disables publishing.
// Publishing is best effort: failures are logged, never returned to the
// dispatch path.
type events struct {
	queue messagequeue.Queue
}

func (e events) publishJSON(ctx context.Context, subject string, payload any) {
	if e.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "marshal event payload", "subject", subject, "error", err)
		return
	}
	if err := e.queue.Publish(ctx, subject, data); err != nil {
		slog.WarnContext(ctx, "publish event", "subject", subject, "error", fmt.Errorf("publish: %w", err))
	}
}
