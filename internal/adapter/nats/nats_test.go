package nats

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/alextavares/aichat-sub001/internal/logger"
	"github.com/alextavares/aichat-sub001/internal/port/messagequeue"
)

const waitFor = 10 * time.Second

func connectOrSkip(t *testing.T) *Queue {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}
	q, err := Connect(context.Background(), url, "GATEWAY_TEST")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

// scratchSubject lives under usage. so the stream captures it, but carries
// no schema.
func scratchSubject(t *testing.T) string {
	return "usage.test." + t.Name()
}

// collect subscribes through the Queue and forwards every delivery.
func collect(t *testing.T, q *Queue, subject string) <-chan delivery {
	t.Helper()
	out := make(chan delivery, 8)
	stop, err := q.Subscribe(context.Background(), subject, func(ctx context.Context, _ string, data []byte) error {
		out <- delivery{requestID: logger.RequestID(ctx), data: data}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe %s: %v", subject, err)
	}
	t.Cleanup(stop)
	return out
}

// watchDLQ reads the dead-letter subject with a raw consumer so parked
// messages are not validated again.
func watchDLQ(t *testing.T, q *Queue, subject string) <-chan jetstream.Msg {
	t.Helper()
	ctx := context.Background()
	cons, err := q.js.CreateOrUpdateConsumer(ctx, q.stream, jetstream.ConsumerConfig{
		FilterSubject: subject + messagequeue.DLQSuffix,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		t.Fatalf("dlq consumer: %v", err)
	}
	out := make(chan jetstream.Msg, 1)
	cc, err := cons.Consume(func(m jetstream.Msg) {
		_ = m.Ack()
		select {
		case out <- m:
		default:
		}
	})
	if err != nil {
		t.Fatalf("dlq consume: %v", err)
	}
	t.Cleanup(cc.Stop)
	return out
}

type delivery struct {
	requestID string
	data      []byte
}

func await[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for delivery")
		panic("unreachable")
	}
}

func TestUsageEventRoundTrip(t *testing.T) {
	q := connectOrSkip(t)
	got := collect(t, q, messagequeue.SubjectUsageRecorded)

	sent := messagequeue.UsageRecordedPayload{
		UserID: "u-42", ModelID: "claude-sonnet-4", Backend: "anthropic",
		InputTokens: 120, OutputTokens: 300, Cost: "0.0048", Messages: 1,
		RecordedAt: time.Now().UTC().Truncate(time.Second),
	}
	data, _ := json.Marshal(sent)
	ctx := logger.WithRequestID(context.Background(), "req-usage-1")
	if err := q.Publish(ctx, messagequeue.SubjectUsageRecorded, data); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// Earlier runs may have left events on the subject; wait for ours.
	deadline := time.After(waitFor)
	for {
		select {
		case d := <-got:
			var p messagequeue.UsageRecordedPayload
			if json.Unmarshal(d.data, &p) != nil || p.UserID != sent.UserID {
				continue
			}
			if !p.RecordedAt.Equal(sent.RecordedAt) {
				t.Fatalf("recorded_at = %v, want %v", p.RecordedAt, sent.RecordedAt)
			}
			p.RecordedAt = sent.RecordedAt
			if p != sent {
				t.Fatalf("payload = %+v, want %+v", p, sent)
			}
			if d.requestID != "req-usage-1" {
				t.Fatalf("request id = %q", d.requestID)
			}
			return
		case <-deadline:
			t.Fatal("usage event never arrived")
		}
	}
}

func TestSchemaViolationIsDeadLettered(t *testing.T) {
	q := connectOrSkip(t)
	subject := messagequeue.SubjectAccountingFailed
	collect(t, q, subject)
	dlq := watchDLQ(t, q, subject)

	// op is required on accounting failures.
	bad := []byte(`{"user_id":"u-1","error":"db down"}`)
	if err := q.Publish(context.Background(), subject, bad); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	m := await(t, dlq)
	if string(m.Data()) != string(bad) {
		t.Fatalf("dlq data = %s", m.Data())
	}
	if m.Headers().Get(headerError) == "" {
		t.Fatal("dead letter should carry the validation error")
	}
}

func TestExhaustedRetriesAreDeadLettered(t *testing.T) {
	q := connectOrSkip(t)
	subject := scratchSubject(t)
	dlq := watchDLQ(t, q, subject)

	stop, err := q.Subscribe(context.Background(), subject, func(context.Context, string, []byte) error {
		return errors.New("ledger unavailable")
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	// Arrives with its retry budget already spent.
	msg := &nats.Msg{Subject: subject, Data: []byte(`{"user_id":"u-7"}`), Header: nats.Header{}}
	msg.Header.Set(headerRetryCount, "3")
	if _, err := q.js.PublishMsg(context.Background(), msg); err != nil {
		t.Fatalf("PublishMsg: %v", err)
	}

	m := await(t, dlq)
	if m.Headers().Get(headerRetryCount) != "4" {
		t.Fatalf("retry count = %q, want 4", m.Headers().Get(headerRetryCount))
	}
	if m.Headers().Get(headerError) != "ledger unavailable" {
		t.Fatalf("error header = %q", m.Headers().Get(headerError))
	}
}

func TestKeyValueBucket(t *testing.T) {
	q := connectOrSkip(t)
	ctx := context.Background()

	kv, err := q.KeyValue(ctx, "gateway-test-cache", time.Minute)
	if err != nil {
		t.Fatalf("KeyValue: %v", err)
	}
	if _, err := kv.Put(ctx, "litellm.models", []byte(`["gpt-4o"]`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	e, err := kv.Get(ctx, "litellm.models")
	if err != nil || string(e.Value()) != `["gpt-4o"]` {
		t.Fatalf("Get = %v, %v", e, err)
	}
	if err := kv.Delete(ctx, "litellm.models"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := kv.Get(ctx, "litellm.models"); !errors.Is(err, jetstream.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestDrainStopsConsumers(t *testing.T) {
	q := connectOrSkip(t)
	collect(t, q, scratchSubject(t))
	if !q.IsConnected() {
		t.Fatal("expected a live connection")
	}
	if err := q.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.subs) != 0 {
		t.Fatalf("%d consumers still registered", len(q.subs))
	}
}

func TestRetryCount(t *testing.T) {
	tests := map[string]struct {
		h    nats.Header
		want int
	}{
		"nil header": {nil, 0},
		"missing":    {nats.Header{}, 0},
		"set":        {nats.Header{headerRetryCount: []string{"2"}}, 2},
		"garbage":    {nats.Header{headerRetryCount: []string{"x"}}, 0},
		"negative":   {nats.Header{headerRetryCount: []string{"-4"}}, 0},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if got := retryCount(tt.h); got != tt.want {
				t.Fatalf("retryCount = %d, want %d", got, tt.want)
			}
		})
	}
}
