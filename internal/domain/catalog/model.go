// Package catalog defines the static model catalog: model descriptors, plan
// tiers and the mapping from logical model ids to backend identifiers.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrModelNotFound is returned when a model id is not in the catalog.
var ErrModelNotFound = errors.New("model not found")

// ErrModelUnavailable is returned when a model exists but is disabled.
var ErrModelUnavailable = errors.New("model unavailable")

// Backend identifies a backend family.
type Backend string

const (
	BackendOpenAI     Backend = "openai"
	BackendAnthropic  Backend = "anthropic"
	BackendGoogle     Backend = "google"
	BackendOpenRouter Backend = "openrouter"
	BackendLiteLLM    Backend = "litellm"
)

// IsAggregator reports whether the backend is a multi-vendor aggregator
// that can reach models owned by other backends.
func (b Backend) IsAggregator() bool {
	return b == BackendOpenRouter || b == BackendLiteLLM
}

// Category groups models by capability class.
type Category string

const (
	CategoryFast      Category = "fast"
	CategoryAdvanced  Category = "advanced"
	CategoryReasoning Category = "reasoning"
)

// Plan is a subscription tier. Plans are totally ordered:
// free < lite < pro < enterprise.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanLite       Plan = "lite"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

var planRank = map[Plan]int{
	PlanFree:       0,
	PlanLite:       1,
	PlanPro:        2,
	PlanEnterprise: 3,
}

// ParsePlan converts a case-insensitive plan name.
func ParsePlan(s string) (Plan, error) {
	p := Plan(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := planRank[p]; !ok {
		return "", fmt.Errorf("unknown plan %q", s)
	}
	return p, nil
}

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	_, ok := planRank[p]
	return ok
}

// Includes reports whether a subscriber of plan p may use a model that
// requires plan required.
func (p Plan) Includes(required Plan) bool {
	have, ok := planRank[p]
	if !ok {
		return false
	}
	need, ok := planRank[required]
	if !ok {
		return false
	}
	return have >= need
}

// Capabilities lists optional model features.
type Capabilities struct {
	Streaming bool `json:"streaming"`
	Vision    bool `json:"vision"`
	Tools     bool `json:"tools"`
}

// Model is an immutable catalog entry.
type Model struct {
	ID           string
	Name         string
	Backend      Backend
	Category     Category
	PlanRequired Plan

	// Credit rates are user-facing; cost rates are USD for internal accounting.
	CreditPerInputToken  decimal.Decimal
	CreditPerOutputToken decimal.Decimal
	CostPerInputToken    decimal.Decimal
	CostPerOutputToken   decimal.Decimal

	ContextWindow int
	Available     bool
	Capabilities  Capabilities

	// BackendIDs maps each backend able to serve this model to the
	// identifier that backend expects. The owning backend may be omitted,
	// in which case ID is used.
	BackendIDs map[Backend]string
}

// ExternalID returns the identifier backend b uses for this model.
func (m *Model) ExternalID(b Backend) (string, bool) {
	if id, ok := m.BackendIDs[b]; ok && id != "" {
		return id, true
	}
	if b == m.Backend {
		return m.ID, true
	}
	return "", false
}

// Backends returns every backend that can serve the model, owner first.
func (m *Model) Backends() []Backend {
	out := []Backend{m.Backend}
	for _, b := range backendOrder {
		if b == m.Backend {
			continue
		}
		if _, ok := m.BackendIDs[b]; ok {
			out = append(out, b)
		}
	}
	return out
}

// IsPaid reports whether usage of the model is metered in credits.
func (m *Model) IsPaid() bool {
	return m.PlanRequired != PlanFree
}

// Credits returns ceil(in*creditIn + out*creditOut).
func (m *Model) Credits(inputTokens, outputTokens int) int64 {
	total := decimal.NewFromInt(int64(inputTokens)).Mul(m.CreditPerInputToken).
		Add(decimal.NewFromInt(int64(outputTokens)).Mul(m.CreditPerOutputToken))
	return total.Ceil().IntPart()
}

// Cost returns the internal USD cost of the given token counts.
func (m *Model) Cost(inputTokens, outputTokens int) decimal.Decimal {
	return decimal.NewFromInt(int64(inputTokens)).Mul(m.CostPerInputToken).
		Add(decimal.NewFromInt(int64(outputTokens)).Mul(m.CostPerOutputToken))
}

// PublicModel is the subset of a descriptor that is safe to show clients.
// Internal cost rates and backend identifiers are omitted.
type PublicModel struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Category             Category     `json:"category"`
	PlanRequired         Plan         `json:"plan_required"`
	CreditPerInputToken  string       `json:"credit_per_input_token"`
	CreditPerOutputToken string       `json:"credit_per_output_token"`
	ContextWindow        int          `json:"context_window"`
	Capabilities         Capabilities `json:"capabilities"`
}

// Public returns the client-safe view of m.
func (m *Model) Public() PublicModel {
	return PublicModel{
		ID:                   m.ID,
		Name:                 m.Name,
		Category:             m.Category,
		PlanRequired:         m.PlanRequired,
		CreditPerInputToken:  m.CreditPerInputToken.String(),
		CreditPerOutputToken: m.CreditPerOutputToken.String(),
		ContextWindow:        m.ContextWindow,
		Capabilities:         m.Capabilities,
	}
}

var backendOrder = []Backend{
	BackendOpenAI,
	BackendAnthropic,
	BackendGoogle,
	BackendOpenRouter,
	BackendLiteLLM,
}
