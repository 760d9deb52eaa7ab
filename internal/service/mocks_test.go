package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alextavares/aichat-sub001/internal/domain/catalog"
	"github.com/alextavares/aichat-sub001/internal/domain/chat"
	"github.com/alextavares/aichat-sub001/internal/domain/credit"
	"github.com/alextavares/aichat-sub001/internal/domain/quota"
	"github.com/alextavares/aichat-sub001/internal/port/llm"
	"github.com/alextavares/aichat-sub001/internal/port/messagequeue"
	"github.com/alextavares/aichat-sub001/internal/resilience"
)

// fakeProvider implements llm.Provider. complete and stream receive the
// 1-based call number.
type fakeProvider struct {
	name       catalog.Backend
	configured bool
	complete   func(ctx context.Context, call int, req *llm.Request) (*chat.Response, error)
	stream     func(ctx context.Context, call int, req *llm.Request) (<-chan chat.Chunk, error)

	mu     sync.Mutex
	calls  int
	models []string
}

func newFake(name catalog.Backend) *fakeProvider {
	return &fakeProvider{name: name, configured: true}
}

func (f *fakeProvider) Name() catalog.Backend { return f.name }
func (f *fakeProvider) IsConfigured() bool { return f.configured }
func (f *fakeProvider) Supports(string) bool { return true }
func (f *fakeProvider) EstimateTokens(s string) int { return llm.EstimateTokens(s) }

func (f *fakeProvider) next(req *llm.Request) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.models = append(f.models, req.Model)
	return f.calls
}

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeProvider) Complete(ctx context.Context, req *llm.Request) (*chat.Response, error) {
	n := f.next(req)
	if f.complete == nil {
		return &chat.Response{Content: "ok from " + string(f.name), Usage: chat.NewUsage(10, 5), UsageKnown: true}, nil
	}
	return f.complete(ctx, n, req)
}

func (f *fakeProvider) Stream(ctx context.Context, req *llm.Request) (<-chan chat.Chunk, error) {
	n := f.next(req)
	if f.stream == nil {
		return chunks(ctx, []string{"a", "b"}, &chat.Usage{Input: 3, Output: 2, Total: 5}, nil), nil
	}
	return f.stream(ctx, n, req)
}

// chunks emits deltas then a terminal chunk, honouring cancellation.
func chunks(ctx context.Context, deltas []string, usage *chat.Usage, end error) <-chan chat.Chunk {
	ch := make(chan chat.Chunk)
	go func() {
		defer close(ch)
		for _, d := range deltas {
			select {
			case ch <- chat.Chunk{Delta: d}:
			case <-ctx.Done():
				return
			}
		}
		last := chat.Chunk{Done: end == nil, Usage: usage, Err: end}
		select {
		case ch <- last:
		case <-ctx.Done():
		}
	}()
	return ch
}

func retryable(status int) error {
	return &chat.BackendError{Backend: "fake", Status: status, Message: "upstream failed", Retryable: true}
}

func fatal(status int) error {
	return &chat.BackendError{Backend: "fake", Status: status, Message: "rejected"}
}

// testRetrier records backoff delays instead of sleeping.
func testRetrier(timeout time.Duration) (*resilience.Retrier, *delays) {
	d := &delays{}
	r := resilience.NewRetrier(resilience.RetryConfig{
		Attempts:       3,
		BaseDelay:      time.Second,
		AttemptTimeout: timeout,
	}).WithSleeper(func(_ context.Context, v time.Duration) error {
		d.add(v)
		return nil
	})
	return r, d
}

type delays struct {
	mu sync.Mutex
	v  []time.Duration
}

func (d *delays) add(v time.Duration) {
	d.mu.Lock()
	d.v = append(d.v, v)
	d.mu.Unlock()
}

func (d *delays) get() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Duration(nil), d.v...)
}

// memStore implements database.UsageStore and database.CreditStore in memory.
type memStore struct {
	mu       sync.Mutex
	counters map[string]*quota.Counter
	balances map[string]int64
	txs      []credit.Transaction

	usageErr     error // fails every usage call
	incrementErr error // fails only IncrementUsage
	creditErr    error
}

func newMemStore() *memStore {
	return &memStore{counters: map[string]*quota.Counter{}, balances: map[string]int64{}}
}

func counterKey(user, model string, day time.Time) string {
	return user + "|" + model + "|" + day.Format(time.DateOnly)
}

func (s *memStore) IncrementUsage(_ context.Context, inc quota.Increment) (*quota.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usageErr != nil {
		return nil, s.usageErr
	}
	if s.incrementErr != nil {
		return nil, s.incrementErr
	}
	k := counterKey(inc.UserID, inc.ModelID, inc.Day)
	c, ok := s.counters[k]
	if !ok {
		c = &quota.Counter{UserID: inc.UserID, ModelID: inc.ModelID, Day: inc.Day, Cost: decimal.Zero}
		s.counters[k] = c
	}
	c.Messages++
	c.InputTokens += inc.InputTokens
	c.OutputTokens += inc.OutputTokens
	c.Cost = c.Cost.Add(inc.Cost)
	out := *c
	return &out, nil
}

func (s *memStore) UsageSnapshot(_ context.Context, userID string, now time.Time, advanced []string) (quota.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usageErr != nil {
		return quota.Snapshot{}, s.usageErr
	}
	adv := map[string]bool{}
	for _, id := range advanced {
		adv[id] = true
	}
	day, month := quota.Day(now), quota.MonthStart(now)
	var snap quota.Snapshot
	for _, c := range s.counters {
		if c.UserID != userID || c.Day.Before(month) || c.Day.After(day) {
			continue
		}
		snap.MonthlyTokens += c.InputTokens + c.OutputTokens
		if adv[c.ModelID] {
			snap.MonthlyAdvancedMessages += c.Messages
		}
		if c.Day.Equal(day) {
			snap.DailyMessages += c.Messages
		}
	}
	return snap, nil
}

func (s *memStore) ListUsage(_ context.Context, userID string, from, to time.Time) ([]quota.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []quota.Counter
	for _, c := range s.counters {
		if c.UserID == userID && !c.Day.Before(from) && c.Day.Before(to) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

// seed sets messages directly on today's counter.
func (s *memStore) seed(user, model string, day time.Time, messages, tokens int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[counterKey(user, model, quota.Day(day))] = &quota.Counter{
		UserID: user, ModelID: model, Day: quota.Day(day),
		Messages: messages, InputTokens: tokens, Cost: decimal.Zero,
	}
}

func (s *memStore) GetBalance(_ context.Context, userID string) (*credit.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &credit.Balance{UserID: userID, Balance: s.balances[userID]}, nil
}

func (s *memStore) ApplyCredit(_ context.Context, e credit.Entry) (*credit.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creditErr != nil {
		return nil, s.creditErr
	}
	if e.Type.Deduplicated() && e.Reference != nil {
		for i := range s.txs {
			t := s.txs[i]
			if t.UserID == e.UserID && t.Type == e.Type && t.Reference != nil && *t.Reference == *e.Reference {
				return &t, credit.ErrDuplicateReference
			}
		}
	}
	before := s.balances[e.UserID]
	after := before + e.Delta()
	if after < 0 {
		return nil, chat.ErrInsufficientCredits
	}
	s.balances[e.UserID] = after
	tx := credit.Transaction{
		ID: uuid.NewString(), UserID: e.UserID, Type: e.Type, Amount: e.Delta(),
		Description: e.Description, Reference: e.Reference,
		BalanceBefore: before, BalanceAfter: after, CreatedAt: time.Now(),
	}
	s.txs = append(s.txs, tx)
	return &tx, nil
}

func (s *memStore) ListTransactions(_ context.Context, userID string, limit int) ([]credit.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []credit.Transaction
	for _, t := range s.txs {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) txCount(userID string) int {
	txs, _ := s.ListTransactions(context.Background(), userID, 0)
	return len(txs)
}

// mockQueue records published messages.
// mockQueue records published messages and delivers them synchronously to
// subscribers.
type mockQueue struct {
	mu        sync.Mutex
	published map[string][][]byte
	handlers  map[string]messagequeue.Handler
	fail      bool
}

func newMockQueue() *mockQueue {
	return &mockQueue{published: map[string][][]byte{}, handlers: map[string]messagequeue.Handler{}}
}

func (q *mockQueue) Publish(ctx context.Context, subject string, data []byte) error {
	q.mu.Lock()
	if q.fail {
		q.mu.Unlock()
		return errors.New("nats: connection closed")
	}
	q.published[subject] = append(q.published[subject], data)
	h := q.handlers[subject]
	q.mu.Unlock()

	if h != nil {
		_ = h(ctx, subject, data)
	}
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = h
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.handlers, subject)
	}, nil
}
func (q *mockQueue) Drain() error { return nil }
func (q *mockQueue) Close() error { return nil }
func (q *mockQueue) IsConnected() bool { return true }

func (q *mockQueue) count(subject string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published[subject])
}
