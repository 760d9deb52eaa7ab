package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alextavares/aichat-sub001/internal/domain/chat"
	"github.com/alextavares/aichat-sub001/internal/domain/credit"
)

const txColumns = `id, user_id, type, amount, description, reference_id, reference_type, balance_before, balance_after, created_at`

func (s *Store) GetBalance(ctx context.Context, userID string) (*credit.Balance, error) {
	b := credit.Balance{UserID: userID}
	var updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT balance, updated_at FROM credit_balances WHERE user_id = ?`, userID,
	).Scan(&b.Balance, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return &b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	if b.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return nil, fmt.Errorf("get balance: parse updated_at: %w", err)
	}
	return &b, nil
}

// ApplyCredit runs the balance check, the balance write and the transaction
// insert in one IMMEDIATE transaction, which holds the write lock throughout.
func (s *Store) ApplyCredit(ctx context.Context, e credit.Entry) (*credit.Transaction, error) {
	var out *credit.Transaction
	var dup bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if e.Type.Deduplicated() && e.Reference != nil {
			existing, err := scanTransaction(tx.QueryRowContext(ctx, `
				SELECT `+txColumns+` FROM credit_transactions
				WHERE user_id = ? AND type = ? AND reference_type = ? AND reference_id = ?`,
				e.UserID, string(e.Type), e.Reference.Type, e.Reference.ID,
			))
			if err == nil {
				out, dup = &existing, true
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("check reference: %w", err)
			}
		}

		var before int64
		err := tx.QueryRowContext(ctx,
			`SELECT balance FROM credit_balances WHERE user_id = ?`, e.UserID,
		).Scan(&before)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read balance: %w", err)
		}

		if d := e.Delta(); d > 0 && before > math.MaxInt64-d {
			return fmt.Errorf("%w: balance %d cannot take %d more", chat.ErrInvalidAmount, before, d)
		}
		after := before + e.Delta()
		if after < 0 {
			return chat.ErrInsufficientCredits
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO credit_balances (user_id, balance, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET balance = excluded.balance, updated_at = excluded.updated_at`,
			e.UserID, after, now.Format(timeLayout),
		); err != nil {
			return fmt.Errorf("write balance: %w", err)
		}

		t := credit.Transaction{
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
		var refID, refType any
		if t.Reference != nil {
			refID, refType = t.Reference.ID, t.Reference.Type
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO credit_transactions (`+txColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.UserID, string(t.Type), t.Amount, t.Description, refID, refType,
			t.BalanceBefore, t.BalanceAfter, now.Format(timeLayout),
		); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		out = &t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if dup {
		return out, credit.ErrDuplicateReference
	}
	return out, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, limit int) ([]credit.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM credit_transactions WHERE user_id = ? ORDER BY seq`
	args := []any{userID}
	if limit > 0 {
		query = `SELECT ` + txColumns + ` FROM (
			SELECT seq, ` + txColumns + ` FROM credit_transactions
			WHERE user_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
	var typ, created string
	var refID, refType sql.NullString
	if err := row.Scan(&t.ID, &t.UserID, &typ, &t.Amount, &t.Description, &refID, &refType,
		&t.BalanceBefore, &t.BalanceAfter, &created); err != nil {
		return credit.Transaction{}, err
	}
	t.Type = credit.Type(typ)
	if refID.Valid && refType.Valid {
		t.Reference = &credit.Reference{ID: refID.String, Type: refType.String}
	}
	ts, err := time.Parse(timeLayout, created)
	if err != nil {
		return credit.Transaction{}, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	t.CreatedAt = ts
	return t, nil
}
