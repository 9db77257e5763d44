package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
)

// UpsertPreference records or updates a user's like/dislike of a topic,
// enforcing the (user, topic) uniqueness spec.md §3 calls for.
func (s *Store) UpsertPreference(ctx context.Context, p Preference) (int64, error) {
	topic := strings.ToLower(strings.TrimSpace(p.Topic))
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO preferences ("user", topic, type, embedding)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT ("user", topic) DO UPDATE SET type = EXCLUDED.type, embedding = EXCLUDED.embedding
		RETURNING id`,
		p.User, topic, p.Type, encodeEmbedding(p.Embedding),
	).Scan(&id)
	return id, err
}

// PreferencesForUser returns every preference a user has recorded.
func (s *Store) PreferencesForUser(ctx context.Context, user string) ([]Preference, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, "user", topic, type, embedding FROM preferences WHERE "user" = $1`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPreferences(rows)
}

// PreferencesByType returns a user's preferences of one type (like or
// dislike), the "already known" context the preference-extraction prompt
// excludes (spec.md §4.3 phase 2).
func (s *Store) PreferencesByType(ctx context.Context, user string, t PreferenceType) ([]Preference, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, "user", topic, type, embedding FROM preferences WHERE "user" = $1 AND type = $2`, user, t)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPreferences(rows)
}

// PreferenceByTopic looks up a user's recorded stance on a topic, if any.
func (s *Store) PreferenceByTopic(ctx context.Context, user, topic string) (Preference, error) {
	topic = strings.ToLower(strings.TrimSpace(topic))
	row := s.pool.QueryRow(ctx, `
		SELECT id, "user", topic, type, embedding FROM preferences WHERE "user" = $1 AND topic = $2`, user, topic)
	p, err := scanPreferenceRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Preference{}, ErrNotFound
	}
	return p, err
}

// PreferencesWithoutEmbeddings returns a bounded batch of preferences
// missing an embedding, for the backfill phase (spec.md §4.3 phase 3).
func (s *Store) PreferencesWithoutEmbeddings(ctx context.Context, limit int) ([]Preference, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, "user", topic, type, embedding FROM preferences WHERE embedding IS NULL LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPreferences(rows)
}

// UpdatePreferenceEmbedding sets a preference's embedding.
func (s *Store) UpdatePreferenceEmbedding(ctx context.Context, id int64, embedding []float32) error {
	_, err := s.pool.Exec(ctx, `UPDATE preferences SET embedding = $1 WHERE id = $2`, encodeEmbedding(embedding), id)
	return err
}

func scanPreferences(rows pgx.Rows) ([]Preference, error) {
	var out []Preference
	for rows.Next() {
		p, err := scanPreferenceRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPreferenceRow(row rowScanner) (Preference, error) {
	var p Preference
	var embedding []byte
	if err := row.Scan(&p.ID, &p.User, &p.Topic, &p.Type, &embedding); err != nil {
		return Preference{}, err
	}
	p.Embedding = decodeEmbedding(embedding)
	return p, nil
}
