package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/alextavares/aichat-sub001/internal/port/messagequeue"
	"github.com/alextavares/aichat-sub001/internal/port/notifier"
)

// ReconciliationMonitor consumes accounting.failed events. Every event is
// logged at error level for offline reconciliation; operators are alerted
// at most once per cooldown for each user and operation.
type ReconciliationMonitor struct {
	queue    messagequeue.Queue
	notifier notifier.Notifier // nil disables alerts
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewReconciliationMonitor creates a monitor reading from queue.
func NewReconciliationMonitor(queue messagequeue.Queue, n notifier.Notifier, cooldown time.Duration) *ReconciliationMonitor {
	return &ReconciliationMonitor{
		queue:    queue,
		notifier: n,
		cooldown: cooldown,
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

// Start subscribes to accounting failures. The returned function stops it.
func (m *ReconciliationMonitor) Start(ctx context.Context) (func(), error) {
	return m.queue.Subscribe(ctx, messagequeue.SubjectAccountingFailed, m.handle)
}

func (m *ReconciliationMonitor) handle(ctx context.Context, subject string, data []byte) error {
	var p messagequeue.AccountingFailedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode accounting failure: %w", err)
	}
	slog.ErrorContext(ctx, "accounting reconciliation required",
		"user_id", p.UserID,
		"model", p.ModelID,
		"op", p.Op,
		"input_tokens", p.InputTokens,
		"output_tokens", p.OutputTokens,
		"credits", p.Credits,
		"error", p.Error,
	)

	if m.notifier == nil || !m.claim(p.UserID+"|"+p.Op) {
		return nil
	}
	alert := notifier.Alert{
		Title:   "Accounting write failed",
		Message: fmt.Sprintf("A completed %s call could not be recorded (%s). Reconcile it manually.", p.ModelID, p.Op),
		Level:   notifier.LevelError,
		Source:  subject,
		Fields: []notifier.Field{
			{Name: "user", Value: p.UserID},
			{Name: "model", Value: p.ModelID},
			{Name: "operation", Value: p.Op},
			{Name: "tokens", Value: strconv.FormatInt(p.InputTokens, 10) + " in / " + strconv.FormatInt(p.OutputTokens, 10) + " out"},
			{Name: "credits", Value: strconv.FormatInt(p.Credits, 10)},
			{Name: "error", Value: p.Error},
		},
	}
	// Alert delivery is best effort; the log line above is the record.
	if err := m.notifier.Send(ctx, alert); err != nil {
		slog.WarnContext(ctx, "accounting alert not delivered", "notifier", m.notifier.Name(), "error", err)
	}
	return nil
}

// claim reports whether an alert for key may be sent now and records it.
func (m *ReconciliationMonitor) claim(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if last, ok := m.lastSent[key]; ok && now.Sub(last) < m.cooldown {
		return false
	}
	for k, t := range m.lastSent {
		if now.Sub(t) >= m.cooldown {
			delete(m.lastSent, k)
		}
	}
	m.lastSent[key] = now
	return true
}
