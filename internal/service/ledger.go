package service

import (
	"context"
	"errors"
	"fmt"

	gwotel "github.com/alextavares/aichat-sub001/internal/adapter/otel"
	"github.com/alextavares/aichat-sub001/internal/domain"
	"github.com/alextavares/aichat-sub001/internal/domain/chat"
	"github.com/alextavares/aichat-sub001/internal/domain/credit"
	"github.com/alextavares/aichat-sub001/internal/port/database"
	"github.com/alextavares/aichat-sub001/internal/port/messagequeue"
)

// LedgerService debits and credits user balances. Every change is one
// atomic store operation that also appends the matching transaction.
type LedgerService struct {
	store  database.CreditStore
	events events
}

// NewLedgerService creates a LedgerService. queue may be nil.
func NewLedgerService(store database.CreditStore, queue messagequeue.Queue) *LedgerService {
	return &LedgerService{store: store, events: events{queue: queue}}
}

// Consume debits amount from the user's balance and returns what remains.
// A debit larger than the balance fails with chat.ErrInsufficientCredits
// and leaves the ledger untouched.
func (s *LedgerService) Consume(ctx context.Context, userID string, amount int64, description string, ref *credit.Reference) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: consume %d", chat.ErrInvalidAmount, amount)
	}
	e := credit.Entry{UserID: userID, Type: credit.TypeConsumption, Amount: amount, Description: description, Reference: ref}
	if err := e.Validate(); err != nil {
		return 0, err
	}

	ctx, span := gwotel.StartLedgerSpan(ctx, "consume", userID)
	tx, err := s.store.ApplyCredit(ctx, e)
	gwotel.EndSpan(span, err)
	if err != nil {
		return 0, fmt.Errorf("consume credits: %w", err)
	}

	p := messagequeue.CreditsConsumedPayload{
		UserID:        userID,
		TransactionID: tx.ID,
		Amount:        amount,
		BalanceAfter:  tx.BalanceAfter,
		Description:   description,
	}
	if ref != nil {
		p.ReferenceID, p.ReferenceType = ref.ID, ref.Type
	}
	s.events.publishJSON(ctx, messagequeue.SubjectCreditsConsumed, p)
	return tx.BalanceAfter, nil
}

// drainAttempts bounds how often ConsumeUpTo re-reads a balance that moved
// under it.
const drainAttempts = 3

// ConsumeUpTo debits amount, or the whole balance when it holds less, and
// reports what was charged. A short debit still fails with
// chat.ErrInsufficientCredits alongside the partial charge so the shortfall
// can be reconciled. The balance never goes negative.
func (s *LedgerService) ConsumeUpTo(ctx context.Context, userID string, amount int64, description string, ref *credit.Reference) (charged, remaining int64, err error) {
	remaining, err = s.Consume(ctx, userID, amount, description, ref)
	if err == nil {
		return amount, remaining, nil
	}
	if !errors.Is(err, chat.ErrInsufficientCredits) {
		return 0, 0, err
	}
	short := err
	for range drainAttempts {
		bal, err := s.store.GetBalance(ctx, userID)
		if err != nil {
			return 0, 0, errors.Join(short, fmt.Errorf("get balance: %w", err))
		}
		if bal.Balance <= 0 {
			return 0, bal.Balance, short
		}
		take := min(bal.Balance, amount)
		remaining, err = s.Consume(ctx, userID, take, description+" (partial)", ref)
		switch {
		case err == nil && take == amount:
			return take, remaining, nil
		case err == nil:
			return take, remaining, short
		case !errors.Is(err, chat.ErrInsufficientCredits):
			return 0, 0, errors.Join(short, err)
		}
	}
	return 0, 0, short
}

// Add credits amount to the user's balance and returns the new balance.
// Purchases and refunds carrying a reference are applied once; a repeat
// returns the current balance without a second transaction.
func (s *LedgerService) Add(ctx context.Context, userID string, amount int64, description string, typ credit.Type, ref *credit.Reference) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: add %d", chat.ErrInvalidAmount, amount)
	}
	if typ == credit.TypeConsumption {
		return 0, fmt.Errorf("%w: use Consume for debits", domain.ErrValidation)
	}
	e := credit.Entry{UserID: userID, Type: typ, Amount: amount, Description: description, Reference: ref}
	if err := e.Validate(); err != nil {
		return 0, err
	}

	ctx, span := gwotel.StartLedgerSpan(ctx, "add", userID)
	tx, err := s.store.ApplyCredit(ctx, e)
	if errors.Is(err, credit.ErrDuplicateReference) {
		gwotel.EndSpan(span, nil)
		bal, err := s.store.GetBalance(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("get balance: %w", err)
		}
		return bal.Balance, nil
	}
	gwotel.EndSpan(span, err)
	if err != nil {
		return 0, fmt.Errorf("add credits: %w", err)
	}

	s.events.publishJSON(ctx, messagequeue.SubjectCreditsAdded, messagequeue.CreditsAddedPayload{
		UserID:        userID,
		TransactionID: tx.ID,
		Type:          string(typ),
		Amount:        amount,
		BalanceAfter:  tx.BalanceAfter,
	})
	return tx.BalanceAfter, nil
}

// Balance returns the user's current balance.
func (s *LedgerService) Balance(ctx context.Context, userID string) (*credit.Balance, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	return s.store.GetBalance(ctx, userID)
}

// Transactions returns the user's ledger in creation order, keeping the
// newest limit rows when limit > 0.
func (s *LedgerService) Transactions(ctx context.Context, userID string, limit int) ([]credit.Transaction, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	return s.store.ListTransactions(ctx, userID, limit)
}
