package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	gwotel "github.com/alextavares/aichat-sub001/internal/adapter/otel"
	"github.com/alextavares/aichat-sub001/internal/domain/catalog"
	"github.com/alextavares/aichat-sub001/internal/domain/chat"
	"github.com/alextavares/aichat-sub001/internal/port/llm"
	"github.com/alextavares/aichat-sub001/internal/resilience"
)

// Callbacks receive the events of a streamed dispatch. Nil hooks are skipped.
type Callbacks struct {
	OnToken    func(delta string)
	OnComplete func(*chat.Outcome)
	OnError    func(error)
}

func (cb Callbacks) token(d string) {
	if cb.OnToken != nil {
		cb.OnToken(d)
	}
}

func (cb Callbacks) complete(o *chat.Outcome) {
	if cb.OnComplete != nil {
		cb.OnComplete(o)
	}
}

func (cb Callbacks) fail(err error) error {
	if cb.OnError != nil {
		cb.OnError(err)
	}
	return err
}

// errStreamTruncated is reported when an adapter closes its channel
// without a terminal chunk.
var errStreamTruncated = errors.New("stream closed without terminal event")

// StreamWithCallbacks streams a completion for the logical model id. Retry
// and fallback cover stream establishment only; once the first chunk has
// been read the stream is never restarted.
//
// On success OnComplete fires with the aggregated outcome, which is also
// returned. If the stream breaks or ctx is cancelled after establishment,
// OnError fires and the returned outcome covers only the text received so
// far, with estimated usage. An establishment failure returns a nil outcome.
func (r *Router) StreamWithCallbacks(ctx context.Context, msgs []chat.Message, modelID string, opts chat.Options, cb Callbacks) (*chat.Outcome, error) {
	if err := chat.ValidateMessages(msgs); err != nil {
		return nil, cb.fail(err)
	}
	m, cands, err := r.resolve(modelID)
	if err != nil {
		return nil, cb.fail(err)
	}

	ctx, span := gwotel.StartDispatchSpan(ctx, m.ID, true)
	start := time.Now()

	var (
		ch         <-chan chat.Chunk
		release    context.CancelFunc
		primaryErr error
		served     candidate
		fallback   bool
	)
	attempted := make([]catalog.Backend, 0, len(cands))
	for i, c := range cands {
		attempted = append(attempted, c.backend)
		ch, release, err = r.open(ctx, c, msgs, opts, i > 0)
		if err == nil {
			served, fallback = c, i > 0
			break
		}
		if i == 0 {
			primaryErr = err
			if len(cands) > 1 && ctx.Err() == nil {
				slog.WarnContext(ctx, "primary stream failed, trying fallback",
					"model", m.ID, "primary", c.backend, "fallback", cands[1].backend, "error", err)
			}
		} else {
			slog.WarnContext(ctx, "fallback stream failed", "model", m.ID, "backend", c.backend, "error", err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	if ch == nil {
		exhausted := &chat.ExhaustedError{Model: m.ID, Attempted: attempted, Err: primaryErr}
		r.metrics.RecordDispatch(ctx, m.ID, string(cands[0].backend), false, time.Since(start), exhausted)
		gwotel.EndSpan(span, exhausted)
		return nil, cb.fail(exhausted)
	}
	defer release()

	text, reported, streamErr := consume(ctx, ch, r.retrier.Config().AttemptTimeout, cb)
	out := buildOutcome(&m, served, msgs, text, reported, fallback)
	r.metrics.RecordDispatch(ctx, m.ID, string(served.backend), fallback, time.Since(start), streamErr)
	gwotel.EndSpan(span, streamErr)
	if streamErr != nil {
		return out, cb.fail(streamErr)
	}
	cb.complete(out)
	return out, nil
}

// open establishes a stream through the retrier. The returned release
// must be called once the channel is no longer read.
func (r *Router) open(ctx context.Context, c candidate, msgs []chat.Message, opts chat.Options, fallback bool) (<-chan chat.Chunk, context.CancelFunc, error) {
	ctx, span := gwotel.StartBackendSpan(ctx, string(c.backend), c.modelID, fallback)
	req := &llm.Request{Model: c.modelID, Messages: msgs, Options: opts}

	var ch <-chan chat.Chunk
	attempts := 0
	release, err := r.retrier.Open(ctx, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			r.metrics.RecordRetry(ctx, string(c.backend))
		}
		var err error
		ch, err = c.provider.Stream(ctx, req)
		return err
	})
	if err != nil {
		gwotel.EndSpan(span, err)
		return nil, nil, err
	}
	return ch, func() {
		release()
		span.End()
	}, nil
}

// consume forwards deltas in order until the terminal chunk, a stream
// error or cancellation. A backend that sends nothing for idle fails the
// stream with a *resilience.TimeoutError; the caller's release then stops
// the producer.
func consume(ctx context.Context, ch <-chan chat.Chunk, idle time.Duration, cb Callbacks) (string, *chat.Usage, error) {
	var text strings.Builder
	timer := time.NewTimer(idle)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return text.String(), nil, ctx.Err()
		case <-timer.C:
			return text.String(), nil, &resilience.TimeoutError{After: idle}
		case c, ok := <-ch:
			timer.Reset(idle)
			if !ok {
				if err := ctx.Err(); err != nil {
					return text.String(), nil, err
				}
				return text.String(), nil, errStreamTruncated
			}
			if c.Delta != "" {
				text.WriteString(c.Delta)
				cb.token(c.Delta)
			}
			if c.Err != nil {
				return text.String(), nil, c.Err
			}
			if c.Done {
				return text.String(), c.Usage, nil
			}
		}
	}
}
