package store

import (
	"context"
	"time"
)

// InsertEngagement appends an interest signal. Engagements are append-only
// (spec.md §3 invariant): there is no update or delete method.
func (s *Store) InsertEngagement(ctx context.Context, e Engagement) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO engagements ("user", entity_id, engagement_type, valence, strength, created_at, source_message_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id`,
		e.User, e.EntityID, e.Type, e.Valence, e.Strength, timeOrNow(e.CreatedAt), e.SourceMessageID,
	).Scan(&id)
	return id, err
}

// EngagementsForEntity returns an entity's engagement history, newest first.
func (s *Store) EngagementsForEntity(ctx context.Context, entityID int64) ([]Engagement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, "user", entity_id, engagement_type, valence, strength, created_at, source_message_id
		FROM engagements WHERE entity_id = $1 ORDER BY created_at DESC`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEngagements(rows)
}

// EngagementsSince returns a user's engagements recorded after the given
// time, used by the notification agent's ignore-penalty check (spec.md
// §4.6).
func (s *Store) EngagementsSince(ctx context.Context, user string, since time.Time) ([]Engagement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, "user", entity_id, engagement_type, valence, strength, created_at, source_message_id
		FROM engagements WHERE "user" = $1 AND created_at > $2 ORDER BY created_at DESC`, user, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEngagements(rows)
}

// EntityInterestScore sums an entity's engagement strengths, signed by
// valence (negative valence subtracts), the numerator of spec.md §4.4's
// priority formula.
func (s *Store) EntityInterestScore(ctx context.Context, entityID int64) (float64, error) {
	var score float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN valence = 'negative' THEN -strength ELSE strength END), 0)
		FROM engagements WHERE entity_id = $1`, entityID).Scan(&score)
	return score, err
}

type engagementRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEngagements(rows engagementRows) ([]Engagement, error) {
	var out []Engagement
	for rows.Next() {
		var e Engagement
		if err := rows.Scan(&e.ID, &e.User, &e.EntityID, &e.Type, &e.Valence, &e.Strength, &e.CreatedAt, &e.SourceMessageID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
