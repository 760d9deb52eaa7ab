// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/alextavares/aichat-sub001/internal/domain/credit"
	"github.com/alextavares/aichat-sub001/internal/domain/quota"
)

// UsageStore persists per (user, model, day) usage counters.
type UsageStore interface {
	// IncrementUsage adds one message and the given tokens and cost to the
	// counter for (inc.UserID, inc.ModelID, inc.Day), creating it if needed,
	// in a single atomic statement. It returns the updated counter.
	IncrementUsage(ctx context.Context, inc quota.Increment) (*quota.Counter, error)

	// UsageSnapshot aggregates a user's counters for the day and month
	// containing now. advanced lists the model ids counted toward
	// MonthlyAdvancedMessages.
	UsageSnapshot(ctx context.Context, userID string, now time.Time, advanced []string) (quota.Snapshot, error)

	// ListUsage returns a user's counters with from <= day < to, oldest first.
	ListUsage(ctx context.Context, userID string, from, to time.Time) ([]quota.Counter, error)
}

// CreditStore persists balances and the append-only transaction log.
type CreditStore interface {
	// GetBalance returns the user's balance; a user without a row has a
	// zero balance.
	GetBalance(ctx context.Context, userID string) (*credit.Balance, error)

	// ApplyCredit changes the balance by e.Delta() and appends the matching
	// transaction as one atomic unit. A debit larger than the balance
	// fails with chat.ErrInsufficientCredits and changes nothing. A repeated
	// deduplicated reference returns the earlier transaction together with
	// credit.ErrDuplicateReference.
	ApplyCredit(ctx context.Context, e credit.Entry) (*credit.Transaction, error)

	// ListTransactions returns a user's transactions in creation order.
	// limit <= 0 returns all of them.
	ListTransactions(ctx context.Context, userID string, limit int) ([]credit.Transaction, error)
}

// Store is the port interface for database operations.
type Store interface {
	UsageStore
	CreditStore

	Ping(ctx context.Context) error
	Close()
}
