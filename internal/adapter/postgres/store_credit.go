package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alextavares/aichat-sub001/internal/domain/chat"
	"github.com/alextavares/aichat-sub001/internal/domain/credit"
)

const txColumns = `id, user_id, type, amount, description, reference_id, reference_type, balance_before, balance_after, created_at`

func (s *Store) GetBalance(ctx context.Context, userID string) (*credit.Balance, error) {
	b := credit.Balance{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT balance, updated_at FROM credit_balances WHERE user_id = $1`, userID,
	).Scan(&b.Balance, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return &b, nil
}

// ApplyCredit locks the balance row, checks the debit, updates the balance
// and appends the transaction inside one database transaction.
func (s *Store) ApplyCredit(ctx context.Context, e credit.Entry) (*credit.Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if e.Type.Deduplicated() && e.Reference != nil {
		existing, err := findByReference(ctx, tx, e)
		if err == nil {
			return existing, credit.ErrDuplicateReference
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("check reference: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO credit_balances (user_id, balance) VALUES ($1, 0) ON CONFLICT (user_id) DO NOTHING`,
		e.UserID,
	); err != nil {
		return nil, fmt.Errorf("ensure balance row: %w", err)
	}

	var before int64
	if err := tx.QueryRow(ctx,
		`SELECT balance FROM credit_balances WHERE user_id = $1 FOR UPDATE`, e.UserID,
	).Scan(&before); err != nil {
		return nil, notFoundWrap(err, "lock balance %s", e.UserID)
	}

	if d := e.Delta(); d > 0 && before > math.MaxInt64-d {
		return nil, fmt.Errorf("%w: balance %d cannot take %d more", chat.ErrInvalidAmount, before, d)
	}
	after := before + e.Delta()
	if after < 0 {
		return nil, chat.ErrInsufficientCredits
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE credit_balances SET balance = $2, updated_at = $3 WHERE user_id = $1`,
		e.UserID, after, now,
	); err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}

	t := &credit.Transaction{
		ID:            uuid.New().String(),
		UserID:        e.UserID,
		Type:          e.Type,
		Amount:        e.Delta(),
		Description:   e.Description,
		Reference:     e.Reference,
		BalanceBefore: before,
		BalanceAfter:  after,
		CreatedAt:     now,
	}
	var refID, refType *string
	if t.Reference != nil {
		refID, refType = nullIfEmpty(t.Reference.ID), nullIfEmpty(t.Reference.Type)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO credit_transactions (`+txColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.UserID, string(t.Type), t.Amount, t.Description, refID, refType, t.BalanceBefore, t.BalanceAfter, t.CreatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			// Lost a race with an identical reference; report the winner.
			_ = tx.Rollback(ctx)
			return s.lookupReference(ctx, e)
		}
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit credit: %w", err)
	}
	return t, nil
}

func (s *Store) lookupReference(ctx context.Context, e credit.Entry) (*credit.Transaction, error) {
	existing, err := findByReference(ctx, s.pool, e)
	if err != nil {
		return nil, notFoundWrap(err, "lookup reference")
	}
	return existing, credit.ErrDuplicateReference
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func findByReference(ctx context.Context, q querier, e credit.Entry) (*credit.Transaction, error) {
	row := q.QueryRow(ctx, `
		SELECT `+txColumns+` FROM credit_transactions
		WHERE user_id = $1 AND type = $2 AND reference_type = $3 AND reference_id = $4`,
		e.UserID, string(e.Type), e.Reference.Type, e.Reference.ID,
	)
	t, err := scanTransaction(row)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, limit int) ([]credit.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM credit_transactions WHERE user_id = $1 ORDER BY seq`
	args := []any{userID}
	if limit > 0 {
		query = `SELECT ` + txColumns + ` FROM (
			SELECT seq, ` + txColumns + ` FROM credit_transactions
			WHERE user_id = $1 ORDER BY seq DESC LIMIT $2
		) recent ORDER BY seq`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []credit.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("list transactions: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(row scannable) (credit.Transaction, error) {
	var t credit.Transaction
	var id uuid.UUID
	var typ string
	var refID, refType *string
	if err := row.Scan(&id, &t.UserID, &typ, &t.Amount, &t.Description, &refID, &refType,
		&t.BalanceBefore, &t.BalanceAfter, &t.CreatedAt); err != nil {
		return credit.Transaction{}, err
	}
	t.ID = id.String()
	t.Type = credit.Type(typ)
	if refID != nil && refType != nil {
		t.Reference = &credit.Reference{ID: *refID, Type: *refType}
	}
	return t, nil
}
