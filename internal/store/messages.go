package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// LogMessage inserts a Message row, per spec.md §3's Message invariants
// (reactions must carry a parent_id). Processed is stored as the caller
// sets it: incoming messages start false, outgoing ones are logged true.
func (s *Store) LogMessage(ctx context.Context, m Message) (int64, error) {
	if m.IsReaction && m.ParentID == nil {
		return 0, errors.New("store: reaction message requires parent_id")
	}
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages ("user", direction, sender, content, timestamp, parent_id, external_id, is_reaction, processed)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id`,
		m.User, m.Direction, m.Sender, m.Content, timeOrNow(m.Timestamp), m.ParentID, m.ExternalID, m.IsReaction, m.Processed,
	).Scan(&id)
	return id, err
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// MarkMessageProcessed flips a message's processed flag false->true. The
// invariant (processed transitions only false->true) is enforced by the
// WHERE clause rather than an application-level check, so a concurrent
// duplicate call is a harmless no-op.
func (s *Store) MarkMessageProcessed(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE messages SET processed = TRUE WHERE id = $1 AND processed = FALSE`, id)
	return err
}

// MarkMessagesProcessed flips processed for a batch of messages.
func (s *Store) MarkMessagesProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE messages SET processed = TRUE WHERE id = ANY($1) AND processed = FALSE`, ids)
	return err
}

// MessageByID fetches a single message, used to resolve a reaction's
// parent content.
func (s *Store) MessageByID(ctx context.Context, id int64) (Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, "user", direction, sender, content, timestamp, parent_id, external_id, is_reaction, processed
		FROM messages WHERE id = $1`, id)
	return scanMessage(row)
}

// UnprocessedMessages returns non-reaction messages for a user that have not
// yet been through extraction, newest first (spec.md §4.3, §5).
func (s *Store) UnprocessedMessages(ctx context.Context, user string, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, "user", direction, sender, content, timestamp, parent_id, external_id, is_reaction, processed
		FROM messages
		WHERE "user" = $1 AND processed = FALSE AND is_reaction = FALSE AND direction = 'incoming'
		ORDER BY timestamp DESC
		LIMIT $2`, user, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// UnprocessedReactions returns reaction messages for a user that have not
// yet been through extraction, newest first, bounded to limit, mirroring
// UnprocessedMessages' processed-flag gate (spec.md §4.3 phase 2: "for each
// reaction since last processed").
func (s *Store) UnprocessedReactions(ctx context.Context, user string, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, "user", direction, sender, content, timestamp, parent_id, external_id, is_reaction, processed
		FROM messages
		WHERE "user" = $1 AND processed = FALSE AND is_reaction = TRUE
		ORDER BY timestamp DESC
		LIMIT $2`, user, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ReactionsSince returns reaction messages targeting outgoing messages for a
// user since the given time, newest first. Preference extraction reads
// reactions through UnprocessedReactions instead.
func (s *Store) ReactionsSince(ctx context.Context, user string, since time.Time) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, "user", direction, sender, content, timestamp, parent_id, external_id, is_reaction, processed
		FROM messages
		WHERE "user" = $1 AND is_reaction = TRUE AND timestamp > $2
		ORDER BY timestamp DESC`, user, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MessageByExternalID resolves a reaction's target by the outgoing message's
// platform id (spec.md §3, §6: "external id; used to correlate reactions").
func (s *Store) MessageByExternalID(ctx context.Context, externalID string) (Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, "user", direction, sender, content, timestamp, parent_id, external_id, is_reaction, processed
		FROM messages WHERE external_id = $1`, externalID)
	return scanMessage(row)
}

// DistinctMessageUsers returns every user with at least one logged message,
// the set the extraction pipeline's per-user message phase iterates
// (spec.md §4.3 phase 2).
func (s *Store) DistinctMessageUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT "user" FROM messages`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		m, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row pgx.Row) (Message, error) {
	m, err := scanMessageRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	return m, err
}

func scanMessageRow(row rowScanner) (Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.User, &m.Direction, &m.Sender, &m.Content, &m.Timestamp, &m.ParentID, &m.ExternalID, &m.IsReaction, &m.Processed); err != nil {
		return Message{}, err
	}
	return m, nil
}
