package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alextavares/aichat-sub001/internal/domain/catalog"
	"github.com/alextavares/aichat-sub001/internal/domain/chat"
	"github.com/alextavares/aichat-sub001/internal/port/llm"
	"github.com/alextavares/aichat-sub001/internal/resilience"
)

type recorder struct {
	tokens    []string
	completed []*chat.Outcome
	errs      []error
}

func (rec *recorder) callbacks() Callbacks {
	return Callbacks{
		OnToken:    func(d string) { rec.tokens = append(rec.tokens, d) },
		OnComplete: func(o *chat.Outcome) { rec.completed = append(rec.completed, o) },
		OnError:    func(err error) { rec.errs = append(rec.errs, err) },
	}
}

func TestStream_DeliversTokensInOrder(t *testing.T) {
	p := newFake(catalog.BackendAnthropic)
	p.stream = func(ctx context.Context, _ int, _ *llm.Request) (<-chan chat.Chunk, error) {
		return chunks(ctx, []string{"Hel", "lo", " world"}, &chat.Usage{Input: 7, Output: 3, Total: 10}, nil), nil
	}
	retrier, _ := testRetrier(time.Second)
	r := NewRouter(catalog.Default(), retrier, p)

	var rec recorder
	out, err := r.StreamWithCallbacks(context.Background(), hello, "claude-3-5-haiku", chat.Options{}, rec.callbacks())
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if strings.Join(rec.tokens, "|") != "Hel|lo| world" {
		t.Fatalf("tokens = %q", rec.tokens)
	}
	if len(rec.completed) != 1 || rec.completed[0] != out || len(rec.errs) != 0 {
		t.Fatalf("unexpected callbacks: %+v", rec)
	}
	if out.Content != "Hello world" || out.Usage != chat.NewUsage(7, 3) || out.UsageEstimated {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestStream_EstablishmentRetriesThenFallback(t *testing.T) {
	primary := newFake(catalog.BackendOpenAI)
	primary.stream = func(context.Context, int, *llm.Request) (<-chan chat.Chunk, error) {
		return nil, retryable(503)
	}
	fallback := newFake(catalog.BackendOpenRouter)
	retrier, slept := testRetrier(time.Second)
	r := NewRouter(catalog.Default(), retrier, primary, fallback)

	var rec recorder
	out, err := r.StreamWithCallbacks(context.Background(), hello, "gpt-4o", chat.Options{}, rec.callbacks())
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if primary.Calls() != 3 || fallback.Calls() != 1 {
		t.Fatalf("calls primary=%d fallback=%d", primary.Calls(), fallback.Calls())
	}
	if len(slept.get()) != 2 {
		t.Fatalf("expected two backoffs, got %v", slept.get())
	}
	if !out.FallbackUsed || out.Content != "ab" {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestStream_MidStreamErrorIsNotRetried(t *testing.T) {
	p := newFake(catalog.BackendOpenAI)
	p.stream = func(ctx context.Context, _ int, _ *llm.Request) (<-chan chat.Chunk, error) {
		return chunks(ctx, []string{"partial "}, nil, retryable(502)), nil
	}
	fallback := newFake(catalog.BackendOpenRouter)
	retrier, _ := testRetrier(time.Second)
	r := NewRouter(catalog.Default(), retrier, p, fallback)

	var rec recorder
	out, err := r.StreamWithCallbacks(context.Background(), hello, "gpt-4o-mini", chat.Options{}, rec.callbacks())

	var be *chat.BackendError
	if !errors.As(err, &be) || be.Status != 502 {
		t.Fatalf("expected the stream error, got %v", err)
	}
	if p.Calls() != 1 || fallback.Calls() != 0 {
		t.Fatalf("stream must not restart: calls %d/%d", p.Calls(), fallback.Calls())
	}
	if len(rec.errs) != 1 || len(rec.completed) != 0 {
		t.Fatalf("unexpected callbacks: %+v", rec)
	}
	if out == nil || out.Content != "partial " || !out.UsageEstimated || out.Usage.Output != 2 {
		t.Fatalf("partial outcome should cover received text, got %+v", out)
	}
}

func TestStream_CancelStopsAndBillsReceived(t *testing.T) {
	p := newFake(catalog.BackendOpenAI)
	stopped := make(chan struct{})
	p.stream = func(ctx context.Context, _ int, _ *llm.Request) (<-chan chat.Chunk, error) {
		ch := make(chan chat.Chunk)
		go func() {
			defer close(stopped)
			defer close(ch)
			for {
				select {
				case ch <- chat.Chunk{Delta: "tok "}:
				case <-ctx.Done():
					return
				}
			}
		}()
		return ch, nil
	}
	retrier, _ := testRetrier(time.Second)
	r := NewRouter(catalog.Default(), retrier, p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var rec recorder
	cb := rec.callbacks()
	cb.OnToken = func(d string) {
		rec.tokens = append(rec.tokens, d)
		if len(rec.tokens) == 2 {
			cancel()
		}
	}

	out, err := r.StreamWithCallbacks(ctx, hello, "gpt-4o-mini", chat.Options{}, cb)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("producer kept running after cancellation")
	}
	if out.Content != strings.Join(rec.tokens, "") {
		t.Fatalf("outcome %q does not match delivered tokens %q", out.Content, rec.tokens)
	}
	if out.Usage.Output != llm.EstimateTokens(out.Content) {
		t.Fatalf("usage %+v should reflect received text only", out.Usage)
	}
}

func TestStream_StalledBackendTimesOut(t *testing.T) {
	p := newFake(catalog.BackendOpenAI)
	stopped := make(chan struct{})
	p.stream = func(ctx context.Context, _ int, _ *llm.Request) (<-chan chat.Chunk, error) {
		ch := make(chan chat.Chunk, 1)
		ch <- chat.Chunk{Delta: "..."}
		go func() {
			defer close(stopped)
			defer close(ch)
			<-ctx.Done()
		}()
		return ch, nil
	}
	retrier, _ := testRetrier(50 * time.Millisecond)
	r := NewRouter(catalog.Default(), retrier, p)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var rec recorder
	start := time.Now()
	out, err := r.StreamWithCallbacks(ctx, hello, "gpt-4o-mini", chat.Options{}, rec.callbacks())
	elapsed := time.Since(start)

	var te *resilience.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected a TimeoutError, got %v", err)
	}
	if elapsed > time.Second {
		t.Fatalf("stalled stream took %v", elapsed)
	}
	if len(rec.errs) != 1 || len(rec.completed) != 0 {
		t.Fatalf("callbacks: %d errors, %d completions", len(rec.errs), len(rec.completed))
	}
	if out == nil || out.Content != "..." || !out.UsageEstimated {
		t.Fatalf("partial outcome should cover received text, got %+v", out)
	}
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("producer kept running after the idle timeout")
	}
}

func TestStream_TruncatedStream(t *testing.T) {
	p := newFake(catalog.BackendOpenAI)
	p.stream = func(context.Context, int, *llm.Request) (<-chan chat.Chunk, error) {
		ch := make(chan chat.Chunk, 1)
		ch <- chat.Chunk{Delta: "x"}
		close(ch)
		return ch, nil
	}
	retrier, _ := testRetrier(time.Second)
	r := NewRouter(catalog.Default(), retrier, p)

	_, err := r.StreamWithCallbacks(context.Background(), hello, "gpt-4o-mini", chat.Options{}, Callbacks{})
	if !errors.Is(err, errStreamTruncated) {
		t.Fatalf("expected truncation error, got %v", err)
	}
}

func TestStream_ExhaustedReportsOnError(t *testing.T) {
	p := newFake(catalog.BackendOpenAI)
	p.stream = func(context.Context, int, *llm.Request) (<-chan chat.Chunk, error) {
		return nil, fatal(403)
	}
	retrier, _ := testRetrier(time.Second)
	r := NewRouter(catalog.Default(), retrier, p)

	var rec recorder
	out, err := r.StreamWithCallbacks(context.Background(), hello, "gpt-4o-mini", chat.Options{}, rec.callbacks())
	var ex *chat.ExhaustedError
	if out != nil || !errors.As(err, &ex) || len(rec.errs) != 1 {
		t.Fatalf("expected exhaustion via OnError, got out=%v err=%v", out, err)
	}
}
