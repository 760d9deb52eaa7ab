// Package credit defines credit balances and the append-only transaction log.
package credit

import (
	"fmt"
	"time"

	"github.com/alextavares/aichat-sub001/internal/domain"
)

// Type classifies a ledger transaction.
type Type string

const (
	TypePurchase    Type = "purchase"
	TypeConsumption Type = "consumption"
	TypeGrant       Type = "grant"
	TypeRefund      Type = "refund"
)

// Valid reports whether t is a known transaction type.
func (t Type) Valid() bool {
	switch t {
	case TypePurchase, TypeConsumption, TypeGrant, TypeRefund:
		return true
	}
	return false
}

// Balance is a user's current credit balance. It never goes negative.
type Balance struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reference links a transaction to whatever caused it.
type Reference struct {
	ID   string `json:"reference_id"`
	Type string `json:"reference_type"`
}

// Transaction is an immutable ledger row. Amount is signed: negative for
// consumption, positive otherwise.
type Transaction struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Type          Type       `json:"type"`
	Amount        int64      `json:"amount"`
	Description   string     `json:"description"`
	Reference     *Reference `json:"reference,omitempty"`
	BalanceBefore int64      `json:"balance_before"`
	BalanceAfter  int64      `json:"balance_after"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Entry is a requested ledger operation. Amount is the positive magnitude.
type Entry struct {
	UserID      string
	Type        Type
	Amount      int64
	Description string
	Reference   *Reference
}

// Validate checks an entry before it reaches the store. Callers should
// wrap a non-positive amount as chat.ErrInvalidAmount; this only reports
// structural problems.
func (e *Entry) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown transaction type %q", domain.ErrValidation, e.Type)
	}
	if e.Reference != nil && (e.Reference.ID == "" || e.Reference.Type == "") {
		return fmt.Errorf("%w: reference requires id and type", domain.ErrValidation)
	}
	return nil
}

// Delta returns the signed balance change of the entry.
func (e *Entry) Delta() int64 {
	if e.Type == TypeConsumption {
		return -e.Amount
	}
	return e.Amount
}

// Replay sums transaction amounts in order. For a consistent ledger the
// result equals the user's current balance.
func Replay(txs []Transaction) int64 {
	var sum int64
	for i := range txs {
		sum += txs[i].Amount
	}
	return sum
}

// ErrDuplicateReference is returned when a purchase with the same reference
// was already recorded for the user. The existing transaction accompanies it.
var ErrDuplicateReference = fmt.Errorf("duplicate ledger reference: %w", domain.ErrConflict)

// Deduplicated reports whether entries of this type are unique per reference.
func (t Type) Deduplicated() bool { return t == TypePurchase || t == TypeRefund }
