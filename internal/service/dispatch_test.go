package service

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/alextavares/aichat-sub001/internal/domain/catalog"
	"github.com/alextavares/aichat-sub001/internal/domain/chat"
	"github.com/alextavares/aichat-sub001/internal/port/llm"
	"github.com/alextavares/aichat-sub001/internal/resilience"
)

var hello = []chat.Message{{Role: chat.RoleUser, Content: "hello there"}}

func TestDispatch_PrimarySucceeds(t *testing.T) {
	primary := newFake(catalog.BackendOpenAI)
	retrier, _ := testRetrier(time.Second)
	r := NewRouter(catalog.Default(), retrier, primary, newFake(catalog.BackendOpenRouter))

	out, err := r.Dispatch(context.Background(), hello, "gpt-4o-mini", chat.Options{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.Backend != catalog.BackendOpenAI || out.FallbackUsed || out.UsageEstimated {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Model != "gpt-4o-mini" || out.Usage != chat.NewUsage(10, 5) {
		t.Fatalf("unexpected outcome %+v", out)
	}
	m, _ := catalog.Default().Describe("gpt-4o-mini")
	if !out.Cost.Equal(m.Cost(10, 5)) {
		t.Fatalf("cost = %s, want %s", out.Cost, m.Cost(10, 5))
	}
}

func TestDispatch_TransientFailuresThenSuccess(t *testing.T) {
	primary := newFake(catalog.BackendOpenAI)
	primary.complete = func(_ context.Context, call int, _ *llm.Request) (*chat.Response, error) {
		if call < 3 {
			return nil, retryable(500)
		}
		return &chat.Response{Content: "third time", Usage: chat.NewUsage(1, 1), UsageKnown: true}, nil
	}
	fallback := newFake(catalog.BackendOpenRouter)
	retrier, slept := testRetrier(time.Second)
	r := NewRouter(catalog.Default(), retrier, primary, fallback)

	out, err := r.Dispatch(context.Background(), hello, "gpt-4o-mini", chat.Options{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.Content != "third time" || out.FallbackUsed {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if primary.Calls() != 3 || fallback.Calls() != 0 {
		t.Fatalf("calls primary=%d fallback=%d", primary.Calls(), fallback.Calls())
	}
	got := slept.get()
	if want := []time.Duration{time.Second, 2 * time.Second}; !reflect.DeepEqual(got, want) {
		t.Fatalf("backoff = %v, want %v", got, want)
	}
}

func TestDispatch_TimeoutsThenFallback(t *testing.T) {
	primary := newFake(catalog.BackendOpenAI)
	primary.complete = func(ctx context.Context, _ int, _ *llm.Request) (*chat.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	fallback := newFake(catalog.BackendOpenRouter)
	retrier, slept := testRetrier(20 * time.Millisecond)
	r := NewRouter(catalog.Default(), retrier, primary, fallback)

	out, err := r.Dispatch(context.Background(), hello, "gpt-4o-mini", chat.Options{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if primary.Calls() != 3 {
		t.Fatalf("expected 3 attempts on primary, got %d", primary.Calls())
	}
	if want := []time.Duration{time.Second, 2 * time.Second}; !reflect.DeepEqual(slept.get(), want) {
		t.Fatalf("backoff = %v, want %v", slept.get(), want)
	}
	if fallback.Calls() != 1 || !out.FallbackUsed || out.Backend != catalog.BackendOpenRouter {
		t.Fatalf("expected fallback to serve, got %+v (calls %d)", out, fallback.Calls())
	}
	if fallback.models[0] != "openai/gpt-4o-mini" {
		t.Fatalf("fallback received %q, want the aggregator id", fallback.models[0])
	}
}

func TestDispatch_FallbackAtMostOnce(t *testing.T) {
	primary := newFake(catalog.BackendAnthropic)
	primary.complete = func(context.Context, int, *llm.Request) (*chat.Response, error) {
		return nil, fatal(401)
	}
	fallback := newFake(catalog.BackendOpenRouter)
	fallback.complete = func(context.Context, int, *llm.Request) (*chat.Response, error) {
		return nil, fatal(400)
	}
	third := newFake(catalog.BackendLiteLLM)
	retrier, slept := testRetrier(time.Second)
	r := NewRouter(catalog.Default(), retrier, primary, fallback, third)

	_, err := r.Dispatch(context.Background(), hello, "claude-sonnet-4", chat.Options{})

	var ex *chat.ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	var be *chat.BackendError
	if !errors.As(err, &be) || be.Status != 401 {
		t.Fatalf("expected the primary's 401 to surface, got %v", err)
	}
	if len(ex.Attempted) != 2 {
		t.Fatalf("attempted = %v", ex.Attempted)
	}
	if primary.Calls() != 1 || fallback.Calls() != 1 || third.Calls() != 0 {
		t.Fatalf("calls primary=%d fallback=%d third=%d", primary.Calls(), fallback.Calls(), third.Calls())
	}
	if len(slept.get()) != 0 {
		t.Fatalf("non-retryable errors must not back off, slept %v", slept.get())
	}
}

func TestDispatch_UnconfiguredOwnerGoesToAggregator(t *testing.T) {
	owner := newFake(catalog.BackendOpenAI)
	owner.configured = false
	agg := newFake(catalog.BackendOpenRouter)
	retrier, _ := testRetrier(time.Second)
	r := NewRouter(catalog.Default(), retrier, owner, agg)

	out, err := r.Dispatch(context.Background(), hello, "gpt-4o", chat.Options{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if owner.Calls() != 0 {
		t.Fatal("unconfigured owner must not be called")
	}
	if out.Backend != catalog.BackendOpenRouter || out.FallbackUsed {
		t.Fatalf("expected aggregator as primary, got %+v", out)
	}
}

func TestDispatch_TimeoutSurfacesWithoutFallback(t *testing.T) {
	primary := newFake(catalog.BackendGoogle)
	primary.complete = func(ctx context.Context, _ int, _ *llm.Request) (*chat.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	retrier, _ := testRetrier(10 * time.Millisecond)
	r := NewRouter(catalog.Default(), retrier, primary)

	_, err := r.Dispatch(context.Background(), hello, "gemini-2.5-pro", chat.Options{})
	var te *resilience.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError inside exhaustion, got %v", err)
	}
	if primary.Calls() != 3 {
		t.Fatalf("expected 3 attempts, got %d", primary.Calls())
	}
}

func TestDispatch_ResolutionErrors(t *testing.T) {
	retrier, _ := testRetrier(time.Second)
	r := NewRouter(catalog.Default(), retrier, newFake(catalog.BackendOpenAI))

	tests := []struct {
		model string
		want  error
	}{
		{"no-such-model", chat.ErrModelNotFound},
		{"gpt-4-turbo", chat.ErrModelUnavailable},
		{"claude-opus-4", chat.ErrNoProvider},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			_, err := r.Dispatch(context.Background(), hello, tt.model, chat.Options{})
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDispatch_EstimatesMissingUsage(t *testing.T) {
	p := newFake(catalog.BackendOpenAI)
	p.complete = func(context.Context, int, *llm.Request) (*chat.Response, error) {
		return &chat.Response{Content: "abcdefgh"}, nil
	}
	retrier, _ := testRetrier(time.Second)
	r := NewRouter(catalog.Default(), retrier, p)

	out, err := r.Dispatch(context.Background(), hello, "gpt-4o-mini", chat.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !out.UsageEstimated || out.Usage != chat.NewUsage(3, 2) {
		t.Fatalf("unexpected estimate %+v", out.Usage)
	}
}

func TestDispatch_RejectsEmptyConversation(t *testing.T) {
	retrier, _ := testRetrier(time.Second)
	r := NewRouter(catalog.Default(), retrier, newFake(catalog.BackendOpenAI))
	if _, err := r.Dispatch(context.Background(), nil, "gpt-4o-mini", chat.Options{}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestBackends(t *testing.T) {
	off := newFake(catalog.BackendGoogle)
	off.configured = false
	retrier, _ := testRetrier(time.Second)
	r := NewRouter(catalog.Default(), retrier, newFake(catalog.BackendLiteLLM), off)

	got := r.Backends()
	want := []BackendStatus{{Name: catalog.BackendGoogle}, {Name: catalog.BackendLiteLLM, Configured: true}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Backends() = %+v", got)
	}
}
