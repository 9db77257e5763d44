package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
)

// GetOrCreateEntity looks up an entity by (user, lowercased name), creating
// it if absent. Enforces the spec.md §3 invariant that (user, name) is
// unique per user via the unique index and an upsert.
func (s *Store) GetOrCreateEntity(ctx context.Context, user, name string, tagline *string) (Entity, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	row := s.pool.QueryRow(ctx, `
		INSERT INTO entities ("user", name, tagline)
		VALUES ($1,$2,$3)
		ON CONFLICT ("user", name) DO UPDATE SET name = entities.name
		RETURNING id, "user", name, tagline, embedding, heat, heat_updated_at, heat_cooldown, last_enriched_at, last_notified_at, created_at`,
		user, name, tagline)
	return scanEntity(row)
}

// EntityByID fetches a single entity.
func (s *Store) EntityByID(ctx context.Context, id int64) (Entity, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, "user", name, tagline, embedding, heat, heat_updated_at, heat_cooldown, last_enriched_at, last_notified_at, created_at
		FROM entities WHERE id = $1`, id)
	return scanEntity(row)
}

// EntitiesForUser returns every entity belonging to a user, used as context
// for identification LLM calls (spec.md §4.3).
func (s *Store) EntitiesForUser(ctx context.Context, user string) ([]Entity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, "user", name, tagline, embedding, heat, heat_updated_at, heat_cooldown, last_enriched_at, last_notified_at, created_at
		FROM entities WHERE "user" = $1`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntities(rows)
}

// AllActiveEntities returns every entity across every user, used by the
// enrichment agent's global priority scan (spec.md §4.4).
func (s *Store) AllActiveEntities(ctx context.Context) ([]Entity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, "user", name, tagline, embedding, heat, heat_updated_at, heat_cooldown, last_enriched_at, last_notified_at, created_at
		FROM entities`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntities(rows)
}

// EntitiesWithoutEmbeddings returns a bounded batch of entities missing an
// embedding, for the backfill phase (spec.md §4.3 phase 3).
func (s *Store) EntitiesWithoutEmbeddings(ctx context.Context, limit int) ([]Entity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, "user", name, tagline, embedding, heat, heat_updated_at, heat_cooldown, last_enriched_at, last_notified_at, created_at
		FROM entities WHERE embedding IS NULL LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntities(rows)
}

// UpdateEntityEmbedding regenerates an entity's composite embedding, per
// spec.md §4.3/§4.4 ("regenerate the entity's composite embedding from
// name + facts + tagline").
func (s *Store) UpdateEntityEmbedding(ctx context.Context, id int64, embedding []float32) error {
	_, err := s.pool.Exec(ctx, `UPDATE entities SET embedding = $1 WHERE id = $2`, encodeEmbedding(embedding), id)
	return err
}

// SetLastEnrichedAt records an enrichment run's completion time.
func (s *Store) SetLastEnrichedAt(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE entities SET last_enriched_at = NOW() WHERE id = $1`, id)
	return err
}

// SetLastNotifiedAt records a notification's send time.
func (s *Store) SetLastNotifiedAt(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE entities SET last_notified_at = NOW() WHERE id = $1`, id)
	return err
}

// SetHeatCooldown sets an entity's remaining notification-ineligibility
// cycles (spec.md §4.6 "Cooldown").
func (s *Store) SetHeatCooldown(ctx context.Context, id int64, cycles int) error {
	_, err := s.pool.Exec(ctx, `UPDATE entities SET heat_cooldown = $1 WHERE id = $2`, cycles, id)
	return err
}

// DecrementAllCooldowns decrements every entity's cooldown by 1, floored at
// 0, once per notification-agent cycle (spec.md §4.6).
func (s *Store) DecrementAllCooldowns(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `UPDATE entities SET heat_cooldown = GREATEST(heat_cooldown - 1, 0) WHERE heat_cooldown > 0`)
	return err
}

// AdjustHeat applies a delta to an entity's heat score, floored at 0
// (spec.md §3 invariant: heat is non-negative), stamping heat_updated_at so
// Entity.DecayedHeat has a correct decay origin for the next read.
func (s *Store) AdjustHeat(ctx context.Context, id int64, delta float64) error {
	_, err := s.pool.Exec(ctx, `UPDATE entities SET heat = GREATEST(heat + $1, 0), heat_updated_at = NOW() WHERE id = $2`, delta, id)
	return err
}

// DeleteEntity removes an entity; cascades to its facts and engagements via
// ON DELETE CASCADE (spec.md §3 "Ownership").
func (s *Store) DeleteEntity(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM entities WHERE id = $1`, id)
	return err
}

func scanEntities(rows pgx.Rows) ([]Entity, error) {
	var out []Entity
	for rows.Next() {
		e, err := scanEntityRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntity(row pgx.Row) (Entity, error) {
	e, err := scanEntityRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entity{}, ErrNotFound
	}
	return e, err
}

func scanEntityRow(row rowScanner) (Entity, error) {
	var e Entity
	var embedding []byte
	if err := row.Scan(&e.ID, &e.User, &e.Name, &e.Tagline, &embedding, &e.Heat, &e.HeatUpdatedAt, &e.HeatCooldown, &e.LastEnrichedAt, &e.LastNotifiedAt, &e.CreatedAt); err != nil {
		return Entity{}, err
	}
	e.Embedding = decodeEmbedding(embedding)
	return e, nil
}
