package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	gwotel "github.com/alextavares/aichat-sub001/internal/adapter/otel"
	"github.com/alextavares/aichat-sub001/internal/domain/catalog"
	"github.com/alextavares/aichat-sub001/internal/domain/chat"
	"github.com/alextavares/aichat-sub001/internal/domain/credit"
	"github.com/alextavares/aichat-sub001/internal/domain/quota"
	"github.com/alextavares/aichat-sub001/internal/port/llm"
	"github.com/alextavares/aichat-sub001/internal/port/messagequeue"
)

// accountingTimeout bounds post-delivery writes, which run detached from
// the caller's cancellation.
const accountingTimeout = 10 * time.Second

// Caller is the identity a request runs as, supplied by the identity layer.
type Caller struct {
	UserID string
	Plan   catalog.Plan
}

// Gateway runs the admission, dispatch and accounting flow.
type Gateway struct {
	catalog   *catalog.Catalog
	router    *Router
	quota     *QuotaService
	ledger    *LedgerService
	events    events
	metrics   *gwotel.Metrics
	preflight bool
	replyCost int
}

// GatewayConfig holds the collaborators of a Gateway.
type GatewayConfig struct {
	Catalog *catalog.Catalog
	Router  *Router
	Quota   *QuotaService
	Ledger  *LedgerService
	Queue   messagequeue.Queue
	Metrics *gwotel.Metrics

	// CreditPreflight rejects paid-model calls whose estimated cost exceeds
	// the balance. The estimate prices the prompt plus opts.MaxTokens of
	// output, or PreflightOutputTokens when the call sets no limit.
	CreditPreflight       bool
	PreflightOutputTokens int
}

// NewGateway creates a Gateway.
func NewGateway(cfg GatewayConfig) *Gateway {
	return &Gateway{
		catalog:   cfg.Catalog,
		router:    cfg.Router,
		quota:     cfg.Quota,
		ledger:    cfg.Ledger,
		events:    events{queue: cfg.Queue},
		metrics:   cfg.Metrics,
		preflight: cfg.CreditPreflight,
		replyCost: cfg.PreflightOutputTokens,
	}
}

// Dispatch admits, executes and bills a buffered chat call. When the call
// succeeds but accounting fails, the outcome is returned together with a
// *chat.AccountingError.
func (g *Gateway) Dispatch(ctx context.Context, caller Caller, msgs []chat.Message, modelID string, opts chat.Options) (*chat.Outcome, error) {
	m, err := g.admit(ctx, caller, msgs, modelID, opts)
	if err != nil {
		return nil, err
	}
	out, err := g.router.Dispatch(ctx, msgs, modelID, opts)
	if err != nil {
		return nil, err
	}
	return out, g.account(ctx, caller, &m, out)
}

// StreamWithCallbacks is the streaming form of Dispatch. Denials are
// reported through OnError before any backend call. Accounting runs after
// OnComplete; for a stream cut short by the client or the backend only the
// text received is billed. An accounting failure is returned, not passed
// to OnError, because the content was already delivered.
func (g *Gateway) StreamWithCallbacks(ctx context.Context, caller Caller, msgs []chat.Message, modelID string, opts chat.Options, cb Callbacks) (*chat.Outcome, error) {
	m, err := g.admit(ctx, caller, msgs, modelID, opts)
	if err != nil {
		return nil, cb.fail(err)
	}
	out, err := g.router.StreamWithCallbacks(ctx, msgs, modelID, opts, cb)
	if out == nil {
		return nil, err
	}
	if accErr := g.account(ctx, caller, &m, out); accErr != nil && err == nil {
		err = accErr
	}
	return out, err
}

// admit runs the quota check and the credit pre-flight.
func (g *Gateway) admit(ctx context.Context, caller Caller, msgs []chat.Message, modelID string, opts chat.Options) (catalog.Model, error) {
	if err := chat.ValidateMessages(msgs); err != nil {
		return catalog.Model{}, err
	}
	d, err := g.quota.CheckAdmission(ctx, caller.UserID, caller.Plan, modelID)
	if err != nil {
		return catalog.Model{}, err
	}
	if !d.Allowed {
		return catalog.Model{}, &chat.QuotaDeniedError{Reason: d.Reason}
	}
	m, err := g.catalog.Describe(modelID)
	if err != nil {
		return catalog.Model{}, err
	}
	if !m.IsPaid() || !g.preflight {
		return m, nil
	}

	reply := g.replyCost
	if opts.MaxTokens > 0 {
		reply = opts.MaxTokens
	}
	need := m.Credits(llm.EstimateTokens(chat.PromptText(msgs)), reply)
	if need < 1 {
		need = 1
	}
	bal, err := g.ledger.Balance(ctx, caller.UserID)
	if err != nil {
		return catalog.Model{}, fmt.Errorf("credit preflight: %w", err)
	}
	if bal.Balance < need {
		g.metrics.RecordDenial(ctx, chat.ErrInsufficientCredits.Error())
		return catalog.Model{}, fmt.Errorf("need at least %d credits, have %d: %w", need, bal.Balance, chat.ErrInsufficientCredits)
	}
	return m, nil
}

// account records usage and, for paid models, debits credits. Both writes
// are attempted even if the first fails; every failure is logged and
// published for reconciliation.
func (g *Gateway) account(ctx context.Context, caller Caller, m *catalog.Model, out *chat.Outcome) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), accountingTimeout)
	defer cancel()

	var failed []*chat.AccountingError
	if _, err := g.quota.record(ctx, usageRecord{
		userID:    caller.UserID,
		modelID:   m.ID,
		backend:   out.Backend,
		usage:     out.Usage,
		cost:      out.Cost,
		estimated: out.UsageEstimated,
	}); err != nil {
		failed = append(failed, g.accountingFailed(ctx, caller, m, out, "usage", 0, err))
	}

	// Free-plan models are never debited.
	if m.IsPaid() {
		if credits := m.Credits(out.Usage.Input, out.Usage.Output); credits > 0 {
			ref := &credit.Reference{ID: uuid.NewString(), Type: "dispatch"}
			desc := fmt.Sprintf("%s: %d input + %d output tokens", m.ID, out.Usage.Input, out.Usage.Output)
			// A short balance is drained to zero; the unbilled rest is
			// reported for reconciliation.
			charged, _, err := g.ledger.ConsumeUpTo(ctx, caller.UserID, credits, desc, ref)
			if charged > 0 {
				g.metrics.RecordCredits(ctx, m.ID, charged)
			}
			if err != nil {
				failed = append(failed, g.accountingFailed(ctx, caller, m, out, "consume", credits-charged, err))
			}
		}
	}

	switch len(failed) {
	case 0:
		return nil
	case 1:
		return failed[0]
	default:
		return &chat.AccountingError{Op: "usage+consume", Err: errors.Join(failed[0].Err, failed[1].Err)}
	}
}

func (g *Gateway) accountingFailed(ctx context.Context, caller Caller, m *catalog.Model, out *chat.Outcome, op string, credits int64, err error) *chat.AccountingError {
	slog.ErrorContext(ctx, "accounting write failed",
		"op", op, "user_id", caller.UserID, "model", m.ID,
		"input_tokens", out.Usage.Input, "output_tokens", out.Usage.Output, "credits", credits, "error", err)
	g.metrics.RecordAccountingFailure(ctx, op)
	g.events.publishJSON(ctx, messagequeue.SubjectAccountingFailed, messagequeue.AccountingFailedPayload{
		UserID:       caller.UserID,
		ModelID:      m.ID,
		Op:           op,
		Error:        err.Error(),
		InputTokens:  int64(out.Usage.Input),
		OutputTokens: int64(out.Usage.Output),
		Credits:      credits,
	})
	return &chat.AccountingError{Op: op, Err: err}
}

// CheckAdmission reports whether caller may use modelID right now.
func (g *Gateway) CheckAdmission(ctx context.Context, caller Caller, modelID string) (quota.Decision, error) {
	return g.quota.CheckAdmission(ctx, caller.UserID, caller.Plan, modelID)
}

// RecordUsage counts a call made outside the gateway's own dispatch path.
func (g *Gateway) RecordUsage(ctx context.Context, userID, modelID string, usage chat.Usage, cost decimal.Decimal) (*quota.Counter, error) {
	return g.quota.RecordUsage(ctx, userID, modelID, usage, cost)
}

// UsageHistory returns the user's daily counters with from <= day < to.
func (g *Gateway) UsageHistory(ctx context.Context, userID string, from, to time.Time) ([]quota.Counter, error) {
	return g.quota.History(ctx, userID, from, to)
}

// ConsumeCredits debits the user's balance.
func (g *Gateway) ConsumeCredits(ctx context.Context, userID string, amount int64, description string, ref *credit.Reference) (int64, error) {
	return g.ledger.Consume(ctx, userID, amount, description, ref)
}

// AddCredits credits the user's balance.
func (g *Gateway) AddCredits(ctx context.Context, userID string, amount int64, description string, typ credit.Type, ref *credit.Reference) (int64, error) {
	return g.ledger.Add(ctx, userID, amount, description, typ, ref)
}

// Balance returns the user's balance.
func (g *Gateway) Balance(ctx context.Context, userID string) (*credit.Balance, error) {
	return g.ledger.Balance(ctx, userID)
}

// Transactions returns the user's ledger history.
func (g *Gateway) Transactions(ctx context.Context, userID string, limit int) ([]credit.Transaction, error) {
	return g.ledger.Transactions(ctx, userID, limit)
}

// ListModelsForPlan returns the client-safe view of every model offered on
// plan.
func (g *Gateway) ListModelsForPlan(plan catalog.Plan) []catalog.PublicModel {
	models := g.catalog.ListForPlan(plan)
	out := make([]catalog.PublicModel, len(models))
	for i := range models {
		out[i] = models[i].Public()
	}
	return out
}

// Backends reports the registered adapters.
func (g *Gateway) Backends() []BackendStatus {
	return g.router.Backends()
}
