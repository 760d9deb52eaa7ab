package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gwotel "github.com/alextavares/aichat-sub001/internal/adapter/otel"
	"github.com/alextavares/aichat-sub001/internal/domain/catalog"
	"github.com/alextavares/aichat-sub001/internal/domain/chat"
	"github.com/alextavares/aichat-sub001/internal/port/llm"
	"github.com/alextavares/aichat-sub001/internal/resilience"
)

// maxCandidates is the primary plus at most one fallback.
const maxCandidates = 2

// Router selects a backend for a logical model and executes the call with
// retry and a single fallback.
type Router struct {
	catalog   *catalog.Catalog
	providers map[catalog.Backend]llm.Provider
	retrier   *resilience.Retrier
	metrics   *gwotel.Metrics
}

// NewRouter creates a Router over an explicit set of adapters. Later
// adapters with the same backend name replace earlier ones.
func NewRouter(cat *catalog.Catalog, retrier *resilience.Retrier, providers ...llm.Provider) *Router {
	byName := make(map[catalog.Backend]llm.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Router{catalog: cat, providers: byName, retrier: retrier}
}

// SetMetrics attaches metric instruments.
func (r *Router) SetMetrics(m *gwotel.Metrics) { r.metrics = m }

// BackendStatus describes one adapter for health reporting.
type BackendStatus struct {
	Name       catalog.Backend `json:"name"`
	Configured bool            `json:"configured"`
}

// Backends reports every registered adapter in catalog backend order.
func (r *Router) Backends() []BackendStatus {
	out := make([]BackendStatus, 0, len(r.providers))
	for _, b := range []catalog.Backend{
		catalog.BackendOpenAI, catalog.BackendAnthropic, catalog.BackendGoogle,
		catalog.BackendOpenRouter, catalog.BackendLiteLLM,
	} {
		if p, ok := r.providers[b]; ok {
			out = append(out, BackendStatus{Name: b, Configured: p.IsConfigured()})
		}
	}
	return out
}

type candidate struct {
	backend  catalog.Backend
	provider llm.Provider
	modelID  string // backend's own identifier
}

// candidates returns the primary and optional fallback for m. The owner
// comes first when it is configured; otherwise the first configured
// aggregator able to reach the model becomes primary.
func (r *Router) candidates(m *catalog.Model) []candidate {
	out := make([]candidate, 0, maxCandidates)
	for _, b := range m.Backends() {
		p, ok := r.providers[b]
		if !ok || !p.IsConfigured() {
			continue
		}
		ext, ok := m.ExternalID(b)
		if !ok || !p.Supports(ext) {
			continue
		}
		out = append(out, candidate{backend: b, provider: p, modelID: ext})
		if len(out) == maxCandidates {
			break
		}
	}
	return out
}

// resolve describes the model and picks its candidates.
func (r *Router) resolve(modelID string) (catalog.Model, []candidate, error) {
	m, err := r.catalog.Describe(modelID)
	if err != nil {
		return catalog.Model{}, nil, err
	}
	cands := r.candidates(&m)
	if len(cands) == 0 {
		return m, nil, fmt.Errorf("%s: %w", modelID, chat.ErrNoProvider)
	}
	return m, cands, nil
}

// Dispatch performs a buffered completion for the logical model id.
// When the primary fails after retries, one fallback is tried; if that
// fails too the primary's error is returned inside *chat.ExhaustedError.
func (r *Router) Dispatch(ctx context.Context, msgs []chat.Message, modelID string, opts chat.Options) (*chat.Outcome, error) {
	if err := chat.ValidateMessages(msgs); err != nil {
		return nil, err
	}
	m, cands, err := r.resolve(modelID)
	if err != nil {
		return nil, err
	}

	ctx, span := gwotel.StartDispatchSpan(ctx, m.ID, false)
	start := time.Now()

	var primaryErr error
	attempted := make([]catalog.Backend, 0, len(cands))
	for i, c := range cands {
		attempted = append(attempted, c.backend)
		resp, err := r.complete(ctx, c, msgs, opts, i > 0)
		if err == nil {
			out := buildOutcome(&m, c, msgs, resp.Content, reportedUsage(resp), i > 0)
			r.metrics.RecordDispatch(ctx, m.ID, string(c.backend), i > 0, time.Since(start), nil)
			gwotel.EndSpan(span, nil)
			return out, nil
		}
		if i == 0 {
			primaryErr = err
		} else {
			slog.WarnContext(ctx, "fallback backend failed", "model", m.ID, "backend", c.backend, "error", err)
		}
		if ctx.Err() != nil {
			break
		}
		if i == 0 && len(cands) > 1 {
			slog.WarnContext(ctx, "primary backend failed, trying fallback",
				"model", m.ID, "primary", c.backend, "fallback", cands[1].backend, "error", err)
		}
	}

	exhausted := &chat.ExhaustedError{Model: m.ID, Attempted: attempted, Err: primaryErr}
	r.metrics.RecordDispatch(ctx, m.ID, string(cands[0].backend), false, time.Since(start), exhausted)
	gwotel.EndSpan(span, exhausted)
	return nil, exhausted
}

func (r *Router) complete(ctx context.Context, c candidate, msgs []chat.Message, opts chat.Options, fallback bool) (*chat.Response, error) {
	ctx, span := gwotel.StartBackendSpan(ctx, string(c.backend), c.modelID, fallback)
	req := &llm.Request{Model: c.modelID, Messages: msgs, Options: opts}

	attempts := 0
	resp, err := resilience.Call(ctx, r.retrier, func(ctx context.Context) (*chat.Response, error) {
		attempts++
		if attempts > 1 {
			r.metrics.RecordRetry(ctx, string(c.backend))
		}
		return c.provider.Complete(ctx, req)
	})
	gwotel.EndSpan(span, err)
	return resp, err
}

func reportedUsage(resp *chat.Response) *chat.Usage {
	if !resp.UsageKnown {
		return nil
	}
	u := resp.Usage
	return &u
}

// settleUsage prefers backend-reported usage and falls back to the
// adapter's estimate of prompt and completion text.
func settleUsage(p llm.Provider, msgs []chat.Message, content string, reported *chat.Usage) (chat.Usage, bool) {
	if reported != nil {
		return *reported, false
	}
	in := p.EstimateTokens(chat.PromptText(msgs))
	out := p.EstimateTokens(content)
	return chat.NewUsage(in, out), true
}

func buildOutcome(m *catalog.Model, c candidate, msgs []chat.Message, content string, reported *chat.Usage, fallback bool) *chat.Outcome {
	usage, estimated := settleUsage(c.provider, msgs, content, reported)
	return &chat.Outcome{
		Content:        content,
		Usage:          usage,
		Cost:           m.Cost(usage.Input, usage.Output),
		Model:          m.ID,
		Backend:        c.backend,
		UsageEstimated: estimated,
		FallbackUsed:   fallback,
	}
}
