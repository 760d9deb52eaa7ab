package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "llm-gateway"

// Metrics holds the gateway's metric instruments.
type Metrics struct {
	Dispatches         metric.Int64Counter
	DispatchFailures   metric.Int64Counter
	Fallbacks          metric.Int64Counter
	Retries            metric.Int64Counter
	Tokens             metric.Int64Counter
	CreditsConsumed    metric.Int64Counter
	QuotaDenials       metric.Int64Counter
	AccountingFailures metric.Int64Counter
	DispatchDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.Dispatches, "gateway.dispatches", "Dispatches completed successfully"},
		{&m.DispatchFailures, "gateway.dispatch.failures", "Dispatches that exhausted all backends"},
		{&m.Fallbacks, "gateway.fallbacks", "Dispatches served by the fallback backend"},
		{&m.Retries, "gateway.retries", "Backend attempts retried after a transient failure"},
		{&m.Tokens, "gateway.tokens", "Tokens billed, by direction"},
		{&m.CreditsConsumed, "gateway.credits.consumed", "Credits debited"},
		{&m.QuotaDenials, "gateway.quota.denials", "Admission checks denied, by reason"},
		{&m.AccountingFailures, "gateway.accounting.failures", "Usage or ledger writes that failed after delivery"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	m.DispatchDuration, err = meter.Float64Histogram("gateway.dispatch.duration_seconds",
		metric.WithDescription("Dispatch duration in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordDispatch records one finished dispatch. A nil receiver is a no-op so
// services can run without metrics.
func (m *Metrics) RecordDispatch(ctx context.Context, modelID, backend string, fallback bool, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", modelID), attribute.String("backend", backend))
	m.DispatchDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.DispatchFailures.Add(ctx, 1, attrs)
		return
	}
	m.Dispatches.Add(ctx, 1, attrs)
	if fallback {
		m.Fallbacks.Add(ctx, 1, attrs)
	}
}

// RecordRetry counts a retried attempt.
func (m *Metrics) RecordRetry(ctx context.Context, backend string) {
	if m == nil {
		return
	}
	m.Retries.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}

// RecordTokens counts billed tokens.
func (m *Metrics) RecordTokens(ctx context.Context, modelID string, input, output int64, estimated bool) {
	if m == nil {
		return
	}
	base := []attribute.KeyValue{attribute.String("model", modelID), attribute.Bool("estimated", estimated)}
	m.Tokens.Add(ctx, input, metric.WithAttributes(append(base, attribute.String("direction", "input"))...))
	m.Tokens.Add(ctx, output, metric.WithAttributes(append(base, attribute.String("direction", "output"))...))
}

// RecordCredits counts debited credits.
func (m *Metrics) RecordCredits(ctx context.Context, modelID string, credits int64) {
	if m == nil {
		return
	}
	m.CreditsConsumed.Add(ctx, credits, metric.WithAttributes(attribute.String("model", modelID)))
}

// RecordDenial counts a denied admission.
func (m *Metrics) RecordDenial(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.QuotaDenials.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordAccountingFailure counts a failed post-delivery write.
func (m *Metrics) RecordAccountingFailure(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.AccountingFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
