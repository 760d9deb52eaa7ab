// Package quota defines usage counters, plan limits and admission decisions.
package quota

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alextavares/aichat-sub001/internal/domain/catalog"
)

// Denial reasons returned by admission checks.
const (
	ReasonNotInPlan        = "model not in plan"
	ReasonAdvancedCap      = "monthly advanced cap reached"
	ReasonDailyMessageCap  = "daily message cap reached"
	ReasonMonthlyTokenCap  = "monthly token cap reached"
	DefaultFreeAdvancedCap = 120
)

// Counter is the persisted usage row for (user, model, day).
// Counters are created on first use and only ever incremented.
type Counter struct {
	UserID       string          `json:"user_id"`
	ModelID      string          `json:"model_id"`
	Day          time.Time       `json:"day"`
	Messages     int64           `json:"messages"`
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	Cost         decimal.Decimal `json:"cost"`
}

// Increment is one completed call to be added to a counter.
type Increment struct {
	UserID       string
	ModelID      string
	Day          time.Time
	InputTokens  int64
	OutputTokens int64
	Cost         decimal.Decimal
}

// Snapshot aggregates counters for an admission decision.
type Snapshot struct {
	DailyMessages           int64 `json:"daily_messages"`
	MonthlyTokens           int64 `json:"monthly_tokens"`
	MonthlyAdvancedMessages int64 `json:"monthly_advanced_messages"`
}

// Limits are the caps of one plan. A nil cap is unbounded.
type Limits struct {
	DailyMessages           *int64 `yaml:"daily_messages" json:"daily_messages"`
	MonthlyTokens           *int64 `yaml:"monthly_tokens" json:"monthly_tokens"`
	MonthlyAdvancedMessages *int64 `yaml:"monthly_advanced_messages" json:"monthly_advanced_messages"`
}

// Cap returns a pointer to n, for building Limits literals.
func Cap(n int64) *int64 { return &n }

// DefaultLimits returns the built-in caps per plan.
func DefaultLimits() map[catalog.Plan]Limits {
	return map[catalog.Plan]Limits{
		catalog.PlanFree: {
			MonthlyTokens:           Cap(200_000),
			MonthlyAdvancedMessages: Cap(DefaultFreeAdvancedCap),
		},
		catalog.PlanLite: {
			DailyMessages: Cap(300),
			MonthlyTokens: Cap(2_000_000),
		},
		catalog.PlanPro: {
			MonthlyTokens: Cap(10_000_000),
		},
		catalog.PlanEnterprise: {},
	}
}

// Decision is the result of an admission check.
type Decision struct {
	Allowed bool     `json:"allowed"`
	Reason  string   `json:"reason,omitempty"`
	Usage   Snapshot `json:"usage"`
	Limits  Limits   `json:"limits"`
}

// Allow builds an allowing decision.
func Allow(s Snapshot, l Limits) Decision {
	return Decision{Allowed: true, Usage: s, Limits: l}
}

// Deny builds a denying decision.
func Deny(reason string, s Snapshot, l Limits) Decision {
	return Decision{Reason: reason, Usage: s, Limits: l}
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MonthStart returns the first UTC day of t's month.
func MonthStart(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}
