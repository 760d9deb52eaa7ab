package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alextavares/aichat-sub001/internal/domain/quota"
)

// IncrementUsage adds to the (user, model, day) counter. SQLite cannot sum
// decimal text exactly, so the cost is added in Go inside the transaction.
func (s *Store) IncrementUsage(ctx context.Context, inc quota.Increment) (*quota.Counter, error) {
	day := quota.Day(inc.Day).Format(dayLayout)
	var out quota.Counter
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var prev string
		err := tx.QueryRowContext(ctx,
			`SELECT cost FROM usage_counters WHERE user_id = ? AND model_id = ? AND day = ?`,
			inc.UserID, inc.ModelID, day,
		).Scan(&prev)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		cost, err := parseDecimal(prev)
		if err != nil {
			return err
		}
		cost = cost.Add(inc.Cost)

		row := tx.QueryRowContext(ctx, `
			INSERT INTO usage_counters (user_id, model_id, day, messages, input_tokens, output_tokens, cost, updated_at)
			VALUES (?, ?, ?, 1, ?, ?, ?, ?)
			ON CONFLICT (user_id, model_id, day) DO UPDATE SET
				messages      = messages + 1,
				input_tokens  = input_tokens + excluded.input_tokens,
				output_tokens = output_tokens + excluded.output_tokens,
				cost          = excluded.cost,
				updated_at    = excluded.updated_at
			RETURNING user_id, model_id, day, messages, input_tokens, output_tokens, cost`,
			inc.UserID, inc.ModelID, day, inc.InputTokens, inc.OutputTokens, cost.String(),
			time.Now().UTC().Format(timeLayout),
		)
		out, err = scanCounter(row)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("increment usage: %w", err)
	}
	return &out, nil
}

// UsageSnapshot aggregates the user's counters for the day and month of now.
func (s *Store) UsageSnapshot(ctx context.Context, userID string, now time.Time, advanced []string) (quota.Snapshot, error) {
	month := quota.MonthStart(now)
	args := []any{quota.Day(now).Format(dayLayout)}
	advancedExpr := "0"
	if len(advanced) > 0 {
		advancedExpr = "CASE WHEN model_id IN (?" + strings.Repeat(", ?", len(advanced)-1) + ") THEN messages ELSE 0 END"
		for _, id := range advanced {
			args = append(args, id)
		}
	}
	args = append(args, userID, month.Format(dayLayout), month.AddDate(0, 1, 0).Format(dayLayout))

	var snap quota.Snapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN day = ? THEN messages ELSE 0 END), 0),
			COALESCE(SUM(`+advancedExpr+`), 0),
			COALESCE(SUM(input_tokens + output_tokens), 0)
		FROM usage_counters
		WHERE user_id = ? AND day >= ? AND day < ?`, args...,
	).Scan(&snap.DailyMessages, &snap.MonthlyAdvancedMessages, &snap.MonthlyTokens)
	if err != nil {
		return quota.Snapshot{}, fmt.Errorf("usage snapshot: %w", err)
	}
	return snap, nil
}

// ListUsage returns the user's counters with from <= day < to.
func (s *Store) ListUsage(ctx context.Context, userID string, from, to time.Time) ([]quota.Counter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, model_id, day, messages, input_tokens, output_tokens, cost
		FROM usage_counters
		WHERE user_id = ? AND day >= ? AND day < ?
		ORDER BY day, model_id`,
		userID, quota.Day(from).Format(dayLayout), quota.Day(to).Format(dayLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []quota.Counter
	for rows.Next() {
		c, err := scanCounter(rows)
		if err != nil {
			return nil, fmt.Errorf("list usage: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCounter(row scannable) (quota.Counter, error) {
	var c quota.Counter
	var day, cost string
	if err := row.Scan(&c.UserID, &c.ModelID, &day, &c.Messages, &c.InputTokens, &c.OutputTokens, &cost); err != nil {
		return quota.Counter{}, err
	}
	d, err := time.Parse(dayLayout, day)
	if err != nil {
		return quota.Counter{}, fmt.Errorf("parse day %q: %w", day, err)
	}
	c.Day = d
	if c.Cost, err = parseDecimal(cost); err != nil {
		return quota.Counter{}, err
	}
	return c, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}
