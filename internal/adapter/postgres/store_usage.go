package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alextavares/aichat-sub001/internal/domain/quota"
)

// IncrementUsage upserts the (user, model, day) counter in one statement so
// concurrent completions for the same key never lose an update.
func (s *Store) IncrementUsage(ctx context.Context, inc quota.Increment) (*quota.Counter, error) {
	day := quota.Day(inc.Day)
	row := s.pool.QueryRow(ctx, `
		INSERT INTO usage_counters (user_id, model_id, day, messages, input_tokens, output_tokens, cost)
		VALUES ($1, $2, $3, 1, $4, $5, $6::numeric)
		ON CONFLICT (user_id, model_id, day) DO UPDATE SET
			messages      = usage_counters.messages + 1,
			input_tokens  = usage_counters.input_tokens + EXCLUDED.input_tokens,
			output_tokens = usage_counters.output_tokens + EXCLUDED.output_tokens,
			cost          = usage_counters.cost + EXCLUDED.cost,
			updated_at    = now()
		RETURNING user_id, model_id, day, messages, input_tokens, output_tokens, cost::text`,
		inc.UserID, inc.ModelID, day, inc.InputTokens, inc.OutputTokens, inc.Cost.String(),
	)
	c, err := scanCounter(row)
	if err != nil {
		return nil, fmt.Errorf("increment usage: %w", err)
	}
	return &c, nil
}

// UsageSnapshot aggregates the user's counters for the day and month of now.
func (s *Store) UsageSnapshot(ctx context.Context, userID string, now time.Time, advanced []string) (quota.Snapshot, error) {
	month := quota.MonthStart(now)
	var snap quota.Snapshot
	err := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(messages) FILTER (WHERE day = $2), 0),
			COALESCE(SUM(input_tokens + output_tokens), 0),
			COALESCE(SUM(messages) FILTER (WHERE model_id = ANY($3)), 0)
		FROM usage_counters
		WHERE user_id = $1 AND day >= $4 AND day < $5`,
		userID, quota.Day(now), orEmpty(advanced), month, month.AddDate(0, 1, 0),
	).Scan(&snap.DailyMessages, &snap.MonthlyTokens, &snap.MonthlyAdvancedMessages)
	if err != nil {
		return quota.Snapshot{}, fmt.Errorf("usage snapshot: %w", err)
	}
	return snap, nil
}

// ListUsage returns the user's counters with from <= day < to.
func (s *Store) ListUsage(ctx context.Context, userID string, from, to time.Time) ([]quota.Counter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, model_id, day, messages, input_tokens, output_tokens, cost::text
		FROM usage_counters
		WHERE user_id = $1 AND day >= $2 AND day < $3
		ORDER BY day, model_id`,
		userID, quota.Day(from), quota.Day(to),
	)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

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

func scanCounter(row scannable) (quota.Counter, error) {
	var c quota.Counter
	var cost string
	if err := row.Scan(&c.UserID, &c.ModelID, &c.Day, &c.Messages, &c.InputTokens, &c.OutputTokens, &cost); err != nil {
		return quota.Counter{}, err
	}
	d, err := parseDecimal(cost)
	if err != nil {
		return quota.Counter{}, err
	}
	c.Cost = d
	c.Day = quota.Day(c.Day)
	return c, nil
}
