package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// InsertEvent adds a news item discovered for a FollowPrompt. The (user,
// external_id) uniqueness enforces spec.md §4.5's exact-URL dedup layer at
// the database level as a backstop to the application-level check.
func (s *Store) InsertEvent(ctx context.Context, e Event) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO events ("user", headline, summary, occurred_at, source_url, external_id, embedding, follow_prompt_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT ("user", external_id) DO NOTHING
		RETURNING id`,
		e.User, e.Headline, e.Summary, timeOrNow(e.OccurredAt), e.SourceURL, e.ExternalID, encodeEmbedding(e.Embedding), e.FollowPromptID,
	).Scan(&id)
	return id, err
}

// RecentEventsForPrompt returns events tied to a follow prompt within the
// dedup comparison window, used for the headline/semantic dedup passes
// (spec.md §4.5).
func (s *Store) RecentEventsForPrompt(ctx context.Context, followPromptID int64, since time.Time) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, "user", headline, summary, occurred_at, source_url, external_id, embedding, notified_at, follow_prompt_id
		FROM events WHERE follow_prompt_id = $1 AND occurred_at > $2 ORDER BY occurred_at DESC`, followPromptID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// UnnotifiedEventsForPrompt returns events awaiting digest notification for
// a follow prompt (spec.md §4.6 class 2).
func (s *Store) UnnotifiedEventsForPrompt(ctx context.Context, followPromptID int64) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, "user", headline, summary, occurred_at, source_url, external_id, embedding, notified_at, follow_prompt_id
		FROM events WHERE follow_prompt_id = $1 AND notified_at IS NULL ORDER BY occurred_at DESC`, followPromptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// MarkEventsNotified flips notified_at for a batch of events, once.
func (s *Store) MarkEventsNotified(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE events SET notified_at = NOW() WHERE id = ANY($1) AND notified_at IS NULL`, ids)
	return err
}

// EventByExternalID looks up an event by its source-unique id, the first
// (exact URL match) dedup layer of spec.md §4.5.
func (s *Store) EventByExternalID(ctx context.Context, user, externalID string) (Event, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, "user", headline, summary, occurred_at, source_url, external_id, embedding, notified_at, follow_prompt_id
		FROM events WHERE "user" = $1 AND external_id = $2`, user, externalID)
	return scanEventRow(row)
}

func scanEvents(rows pgx.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var e Event
		var embedding []byte
		if err := rows.Scan(&e.ID, &e.User, &e.Headline, &e.Summary, &e.OccurredAt, &e.SourceURL, &e.ExternalID, &embedding, &e.NotifiedAt, &e.FollowPromptID); err != nil {
			return nil, err
		}
		e.Embedding = decodeEmbedding(embedding)
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEventRow(row pgx.Row) (Event, error) {
	var e Event
	var embedding []byte
	err := row.Scan(&e.ID, &e.User, &e.Headline, &e.Summary, &e.OccurredAt, &e.SourceURL, &e.ExternalID, &embedding, &e.NotifiedAt, &e.FollowPromptID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Event{}, ErrNotFound
		}
		return Event{}, err
	}
	e.Embedding = decodeEmbedding(embedding)
	return e, nil
}
