package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	gwotel "github.com/alextavares/aichat-sub001/internal/adapter/otel"
	"github.com/alextavares/aichat-sub001/internal/domain"
	"github.com/alextavares/aichat-sub001/internal/domain/catalog"
	"github.com/alextavares/aichat-sub001/internal/domain/chat"
	"github.com/alextavares/aichat-sub001/internal/domain/quota"
	"github.com/alextavares/aichat-sub001/internal/port/database"
	"github.com/alextavares/aichat-sub001/internal/port/messagequeue"
)

// QuotaService enforces plan caps and records usage counters.
type QuotaService struct {
	catalog  *catalog.Catalog
	store    database.UsageStore
	limits   map[catalog.Plan]quota.Limits
	advanced []string
	events   events
	metrics  *gwotel.Metrics
	now      func() time.Time
}

// NewQuotaService creates a QuotaService. A nil limits map uses the
// built-in plan caps; plans missing from it are unbounded.
func NewQuotaService(cat *catalog.Catalog, store database.UsageStore, limits map[catalog.Plan]quota.Limits, queue messagequeue.Queue) *QuotaService {
	if limits == nil {
		limits = quota.DefaultLimits()
	}
	var advanced []string
	for _, m := range cat.All() {
		if m.Category == catalog.CategoryAdvanced {
			advanced = append(advanced, m.ID)
		}
	}
	return &QuotaService{
		catalog:  cat,
		store:    store,
		limits:   limits,
		advanced: advanced,
		events:   events{queue: queue},
		now:      time.Now,
	}
}

// SetMetrics attaches metric instruments.
func (s *QuotaService) SetMetrics(m *gwotel.Metrics) { s.metrics = m }

// Limits returns the caps configured for plan.
func (s *QuotaService) Limits(plan catalog.Plan) quota.Limits {
	return s.limits[plan]
}

// Snapshot returns the user's aggregated usage for the current day and month.
func (s *QuotaService) Snapshot(ctx context.Context, userID string) (quota.Snapshot, error) {
	snap, err := s.store.UsageSnapshot(ctx, userID, s.now(), s.advanced)
	if err != nil {
		return quota.Snapshot{}, fmt.Errorf("usage snapshot: %w", err)
	}
	return snap, nil
}

// CheckAdmission decides whether userID on plan may call modelID. Rules
// are evaluated in order and the first failing one decides:
//  1. the model is offered on the plan
//  2. free plan advanced-model messages are under the monthly cap
//  3. today's messages are under the daily cap
//  4. this month's tokens are under the monthly cap
//
// It only reads counters, so repeated calls without intervening usage
// return the same decision.
func (s *QuotaService) CheckAdmission(ctx context.Context, userID string, plan catalog.Plan, modelID string) (quota.Decision, error) {
	if userID == "" {
		return quota.Decision{}, fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	if !plan.Valid() {
		return quota.Decision{}, fmt.Errorf("%w: unknown plan %q", domain.ErrValidation, plan)
	}

	limits := s.limits[plan]
	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		return quota.Decision{}, err
	}

	deny := func(reason string) (quota.Decision, error) {
		s.metrics.RecordDenial(ctx, reason)
		return quota.Deny(reason, snap, limits), nil
	}

	if !s.catalog.InPlan(modelID, plan) {
		return deny(quota.ReasonNotInPlan)
	}
	m, _ := s.catalog.Lookup(modelID)
	if m.Category == catalog.CategoryAdvanced && plan == catalog.PlanFree &&
		reached(limits.MonthlyAdvancedMessages, snap.MonthlyAdvancedMessages) {
		return deny(quota.ReasonAdvancedCap)
	}
	if reached(limits.DailyMessages, snap.DailyMessages) {
		return deny(quota.ReasonDailyMessageCap)
	}
	if reached(limits.MonthlyTokens, snap.MonthlyTokens) {
		return deny(quota.ReasonMonthlyTokenCap)
	}
	return quota.Allow(snap, limits), nil
}

// reached reports whether used has hit a finite cap.
func reached(limit *int64, used int64) bool {
	return limit != nil && used >= *limit
}

// usageRecord is one completed call to count.
type usageRecord struct {
	userID    string
	modelID   string
	backend   catalog.Backend
	usage     chat.Usage
	cost      decimal.Decimal
	estimated bool
}

// RecordUsage adds one message with the given tokens and cost to today's
// counter for (userID, modelID).
func (s *QuotaService) RecordUsage(ctx context.Context, userID, modelID string, usage chat.Usage, cost decimal.Decimal) (*quota.Counter, error) {
	return s.record(ctx, usageRecord{userID: userID, modelID: modelID, usage: usage, cost: cost})
}

func (s *QuotaService) record(ctx context.Context, rec usageRecord) (*quota.Counter, error) {
	switch {
	case rec.userID == "":
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	case rec.usage.Input < 0 || rec.usage.Output < 0:
		return nil, fmt.Errorf("%w: token counts must be >= 0", domain.ErrValidation)
	case rec.cost.IsNegative():
		return nil, fmt.Errorf("%w: cost must be >= 0", domain.ErrValidation)
	}
	if _, ok := s.catalog.Lookup(rec.modelID); !ok {
		return nil, fmt.Errorf("record usage %q: %w", rec.modelID, chat.ErrModelNotFound)
	}

	now := s.now()
	counter, err := s.store.IncrementUsage(ctx, quota.Increment{
		UserID:       rec.userID,
		ModelID:      rec.modelID,
		Day:          quota.Day(now),
		InputTokens:  int64(rec.usage.Input),
		OutputTokens: int64(rec.usage.Output),
		Cost:         rec.cost,
	})
	if err != nil {
		return nil, fmt.Errorf("increment usage: %w", err)
	}

	s.metrics.RecordTokens(ctx, rec.modelID, int64(rec.usage.Input), int64(rec.usage.Output), rec.estimated)
	s.events.publishJSON(ctx, messagequeue.SubjectUsageRecorded, messagequeue.UsageRecordedPayload{
		UserID:       rec.userID,
		ModelID:      rec.modelID,
		Backend:      string(rec.backend),
		InputTokens:  int64(rec.usage.Input),
		OutputTokens: int64(rec.usage.Output),
		Cost:         rec.cost.String(),
		Estimated:    rec.estimated,
		Messages:     counter.Messages,
		RecordedAt:   now.UTC(),
	})
	return counter, nil
}

// History returns the user's daily counters with from <= day < to.
func (s *QuotaService) History(ctx context.Context, userID string, from, to time.Time) ([]quota.Counter, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	if !to.After(from) {
		return nil, fmt.Errorf("%w: empty date range", domain.ErrValidation)
	}
	return s.store.ListUsage(ctx, userID, quota.Day(from), quota.Day(to))
}
