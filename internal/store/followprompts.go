package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// CreateFollowPrompt inserts a persistent news subscription (spec.md §3).
func (s *Store) CreateFollowPrompt(ctx context.Context, f FollowPrompt) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO follow_prompts ("user", topic, query_terms, cron, timezone)
		VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		f.User, f.Topic, f.QueryTerms, f.Cron, f.Timezone,
	).Scan(&id)
	return id, err
}

// FollowPromptByID fetches a single follow prompt.
func (s *Store) FollowPromptByID(ctx context.Context, id int64) (FollowPrompt, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, "user", topic, query_terms, cron, timezone, last_polled_at, last_notified_at
		FROM follow_prompts WHERE id = $1`, id)
	f, err := scanFollowPromptRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return FollowPrompt{}, ErrNotFound
	}
	return f, err
}

// FollowPromptsForUser returns every follow prompt a user has active.
func (s *Store) FollowPromptsForUser(ctx context.Context, user string) ([]FollowPrompt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, "user", topic, query_terms, cron, timezone, last_polled_at, last_notified_at
		FROM follow_prompts WHERE "user" = $1`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFollowPrompts(rows)
}

// AllFollowPrompts returns every follow prompt across every user, the set
// the event agent's poll cycle iterates (spec.md §4.5).
func (s *Store) AllFollowPrompts(ctx context.Context) ([]FollowPrompt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, "user", topic, query_terms, cron, timezone, last_polled_at, last_notified_at
		FROM follow_prompts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFollowPrompts(rows)
}

// MarkFollowPromptPolled records a poll cycle's completion time, gating the
// per-topic minimum poll interval (spec.md §4.5).
func (s *Store) MarkFollowPromptPolled(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE follow_prompts SET last_polled_at = NOW() WHERE id = $1`, id)
	return err
}

// MarkFollowPromptNotified records a notification's send time.
func (s *Store) MarkFollowPromptNotified(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE follow_prompts SET last_notified_at = NOW() WHERE id = $1`, id)
	return err
}

// DeleteFollowPrompt removes a subscription; cascades to its events.
func (s *Store) DeleteFollowPrompt(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM follow_prompts WHERE id = $1`, id)
	return err
}

func scanFollowPrompts(rows pgx.Rows) ([]FollowPrompt, error) {
	var out []FollowPrompt
	for rows.Next() {
		f, err := scanFollowPromptRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanFollowPromptRow(row rowScanner) (FollowPrompt, error) {
	var f FollowPrompt
	if err := row.Scan(&f.ID, &f.User, &f.Topic, &f.QueryTerms, &f.Cron, &f.Timezone, &f.LastPolledAt, &f.LastNotifiedAt); err != nil {
		return FollowPrompt{}, err
	}
	return f, nil
}
