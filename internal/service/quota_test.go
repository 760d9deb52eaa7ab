package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alextavares/aichat-sub001/internal/domain"
	"github.com/alextavares/aichat-sub001/internal/domain/catalog"
	"github.com/alextavares/aichat-sub001/internal/domain/chat"
	"github.com/alextavares/aichat-sub001/internal/domain/quota"
	"github.com/alextavares/aichat-sub001/internal/port/messagequeue"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newQuota(store *memStore, limits map[catalog.Plan]quota.Limits, q messagequeue.Queue) *QuotaService {
	s := NewQuotaService(catalog.Default(), store, limits, q)
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestCheckAdmission_Rules(t *testing.T) {
	tests := []struct {
		name   string
		plan   catalog.Plan
		model  string
		seed   func(*memStore)
		limits map[catalog.Plan]quota.Limits
		reason string
	}{
		{name: "free model on free plan", plan: catalog.PlanFree, model: "gpt-4o-mini"},
		{name: "pro model on free plan", plan: catalog.PlanFree, model: "claude-sonnet-4", reason: quota.ReasonNotInPlan},
		{name: "unknown model", plan: catalog.PlanEnterprise, model: "nope", reason: quota.ReasonNotInPlan},
		{name: "unavailable model", plan: catalog.PlanEnterprise, model: "gpt-4-turbo", reason: quota.ReasonNotInPlan},
		{
			name: "free advanced cap reached", plan: catalog.PlanFree, model: "gpt-4o",
			seed:   func(s *memStore) { s.seed("u1", "gpt-4o", fixedNow.AddDate(0, 0, -3), 120, 0) },
			reason: quota.ReasonAdvancedCap,
		},
		{
			name: "free advanced below cap", plan: catalog.PlanFree, model: "gpt-4o",
			seed: func(s *memStore) { s.seed("u1", "gpt-4o", fixedNow.AddDate(0, 0, -3), 119, 0) },
		},
		{
			name: "advanced usage last month does not count", plan: catalog.PlanFree, model: "gpt-4o",
			seed: func(s *memStore) { s.seed("u1", "gpt-4o", fixedNow.AddDate(0, -1, 0), 500, 0) },
		},
		{
			name: "advanced cap does not apply to fast models", plan: catalog.PlanFree, model: "gpt-4o-mini",
			seed: func(s *memStore) { s.seed("u1", "gpt-4o", fixedNow, 120, 0) },
		},
		{
			name: "lite daily cap across models", plan: catalog.PlanLite, model: "gpt-4o-mini",
			seed: func(s *memStore) {
				s.seed("u1", "deepseek-r1", fixedNow, 200, 0)
				s.seed("u1", "gpt-4o-mini", fixedNow, 100, 0)
			},
			reason: quota.ReasonDailyMessageCap,
		},
		{
			name: "lite yesterday does not count toward today", plan: catalog.PlanLite, model: "gpt-4o-mini",
			seed: func(s *memStore) { s.seed("u1", "gpt-4o-mini", fixedNow.AddDate(0, 0, -1), 300, 0) },
		},
		{
			name: "monthly token cap", plan: catalog.PlanPro, model: "claude-sonnet-4",
			seed:   func(s *memStore) { s.seed("u1", "gpt-4o", fixedNow.AddDate(0, 0, -1), 1, 10_000_000) },
			reason: quota.ReasonMonthlyTokenCap,
		},
		{
			name: "daily cap evaluated before token cap", plan: catalog.PlanLite, model: "gpt-4o-mini",
			seed:   func(s *memStore) { s.seed("u1", "gpt-4o-mini", fixedNow, 300, 5_000_000) },
			reason: quota.ReasonDailyMessageCap,
		},
		{
			name: "enterprise is unbounded", plan: catalog.PlanEnterprise, model: "claude-opus-4",
			seed: func(s *memStore) { s.seed("u1", "claude-opus-4", fixedNow, 1_000_000, 1_000_000_000) },
		},
		{
			name: "configured unbounded advanced cap", plan: catalog.PlanFree, model: "gpt-4o",
			seed:   func(s *memStore) { s.seed("u1", "gpt-4o", fixedNow, 1000, 0) },
			limits: map[catalog.Plan]quota.Limits{catalog.PlanFree: {}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			if tt.seed != nil {
				tt.seed(store)
			}
			s := newQuota(store, tt.limits, nil)

			d, err := s.CheckAdmission(context.Background(), "u1", tt.plan, tt.model)
			if err != nil {
				t.Fatalf("CheckAdmission: %v", err)
			}
			if tt.reason == "" && !d.Allowed {
				t.Fatalf("expected allowed, denied with %q", d.Reason)
			}
			if tt.reason != "" && (d.Allowed || d.Reason != tt.reason) {
				t.Fatalf("expected denial %q, got %+v", tt.reason, d)
			}
		})
	}
}

func TestCheckAdmission_Idempotent(t *testing.T) {
	store := newMemStore()
	store.seed("u1", "gpt-4o", fixedNow, 120, 0)
	s := newQuota(store, nil, nil)

	first, err := s.CheckAdmission(context.Background(), "u1", catalog.PlanFree, "gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.CheckAdmission(context.Background(), "u1", catalog.PlanFree, "gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	if first.Allowed != second.Allowed || first.Reason != second.Reason || first.Usage != second.Usage {
		t.Fatalf("decisions differ: %+v vs %+v", first, second)
	}
}

func TestCheckAdmission_Validation(t *testing.T) {
	s := newQuota(newMemStore(), nil, nil)
	if _, err := s.CheckAdmission(context.Background(), "", catalog.PlanFree, "gpt-4o"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := s.CheckAdmission(context.Background(), "u1", "gold", "gpt-4o"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCheckAdmission_StoreFailure(t *testing.T) {
	store := newMemStore()
	store.usageErr = errors.New("db down")
	s := newQuota(store, nil, nil)
	if _, err := s.CheckAdmission(context.Background(), "u1", catalog.PlanFree, "gpt-4o"); err == nil {
		t.Fatal("expected store error")
	}
}

func TestRecordUsage_IncrementsOncePerCall(t *testing.T) {
	store := newMemStore()
	q := newMockQueue()
	s := newQuota(store, nil, q)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.RecordUsage(ctx, "u1", "gpt-4o-mini", chat.NewUsage(10, 20), decimal.RequireFromString("0.001")); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}

	counters, err := s.History(ctx, "u1", fixedNow, fixedNow.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(counters) != 1 {
		t.Fatalf("expected one counter row, got %d", len(counters))
	}
	c := counters[0]
	if c.Messages != 3 || c.InputTokens != 30 || c.OutputTokens != 60 || !c.Cost.Equal(decimal.RequireFromString("0.003")) {
		t.Fatalf("unexpected counter %+v", c)
	}
	if q.count(messagequeue.SubjectUsageRecorded) != 3 {
		t.Fatalf("expected 3 usage events, got %d", q.count(messagequeue.SubjectUsageRecorded))
	}
}

func TestRecordUsage_Validation(t *testing.T) {
	s := newQuota(newMemStore(), nil, nil)
	ctx := context.Background()

	if _, err := s.RecordUsage(ctx, "u1", "nope", chat.NewUsage(1, 1), decimal.Zero); !errors.Is(err, chat.ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}
	if _, err := s.RecordUsage(ctx, "u1", "gpt-4o", chat.NewUsage(-1, 1), decimal.Zero); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := s.RecordUsage(ctx, "u1", "gpt-4o", chat.NewUsage(1, 1), decimal.NewFromInt(-1)); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRecordUsage_PublishFailureIsNotFatal(t *testing.T) {
	q := newMockQueue()
	q.fail = true
	s := newQuota(newMemStore(), nil, q)
	if _, err := s.RecordUsage(context.Background(), "u1", "gpt-4o", chat.NewUsage(1, 1), decimal.Zero); err != nil {
		t.Fatalf("publish failure must not fail the write: %v", err)
	}
}
