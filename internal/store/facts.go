package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// InsertFact adds a new Fact row. Facts persist as individual rows and are
// never merged (spec.md §3 invariant).
func (s *Store) InsertFact(ctx context.Context, f Fact) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO facts (entity_id, content, embedding, source_search_log_id, source_message_id)
		VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		f.EntityID, f.Content, encodeEmbedding(f.Embedding), f.SourceSearchLogID, f.SourceMessageID,
	).Scan(&id)
	return id, err
}

// FactsForEntity returns every fact belonging to an entity.
func (s *Store) FactsForEntity(ctx context.Context, entityID int64) ([]Fact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, entity_id, content, embedding, source_search_log_id, source_message_id, learned_at, notified_at
		FROM facts WHERE entity_id = $1 ORDER BY learned_at`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFacts(rows)
}

// UnnotifiedFacts returns facts for an entity that have not yet been
// surfaced to the user (spec.md §4.6 class 3).
func (s *Store) UnnotifiedFacts(ctx context.Context, entityID int64) ([]Fact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, entity_id, content, embedding, source_search_log_id, source_message_id, learned_at, notified_at
		FROM facts WHERE entity_id = $1 AND notified_at IS NULL ORDER BY learned_at`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFacts(rows)
}

// FactsByLearnPrompt returns the un-notified facts sourced from a learn
// prompt's own search logs, via facts.source_search_log_id ->
// search_logs.learn_prompt_id (spec.md §4.6 class 1: "mark all its facts
// notified" scopes to the completing prompt's own facts, not the user's
// entire knowledge base).
func (s *Store) FactsByLearnPrompt(ctx context.Context, learnPromptID int64) ([]Fact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT f.id, f.entity_id, f.content, f.embedding, f.source_search_log_id, f.source_message_id, f.learned_at, f.notified_at
		FROM facts f
		JOIN search_logs sl ON sl.id = f.source_search_log_id
		WHERE sl.learn_prompt_id = $1 AND f.notified_at IS NULL
		ORDER BY f.learned_at`, learnPromptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFacts(rows)
}

// HasUnannouncedFacts reports whether an entity has any un-notified facts,
// the gate spec.md §4.4 uses to avoid piling on before notification has
// surfaced the prior batch.
func (s *Store) HasUnannouncedFacts(ctx context.Context, entityID int64) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM facts WHERE entity_id = $1 AND notified_at IS NULL`, entityID).Scan(&count)
	return count > 0, err
}

// MarkFactsNotified flips notified_at for a set of facts. The invariant that
// no fact with notified_at set becomes un-notified again is structural: this
// is the only writer of the column and it only ever sets it once (WHERE
// notified_at IS NULL), matching spec.md §8.
func (s *Store) MarkFactsNotified(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE facts SET notified_at = NOW() WHERE id = ANY($1) AND notified_at IS NULL`, ids)
	return err
}

// FactsWithoutEmbeddings returns a bounded batch of facts missing an
// embedding, for the backfill phase (spec.md §4.3 phase 3).
func (s *Store) FactsWithoutEmbeddings(ctx context.Context, limit int) ([]Fact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, entity_id, content, embedding, source_search_log_id, source_message_id, learned_at, notified_at
		FROM facts WHERE embedding IS NULL LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFacts(rows)
}

// UpdateFactEmbedding sets a fact's embedding, used by extraction and
// backfill.
func (s *Store) UpdateFactEmbedding(ctx context.Context, id int64, embedding []float32) error {
	_, err := s.pool.Exec(ctx, `UPDATE facts SET embedding = $1 WHERE id = $2`, encodeEmbedding(embedding), id)
	return err
}

func scanFacts(rows pgx.Rows) ([]Fact, error) {
	var out []Fact
	for rows.Next() {
		var f Fact
		var embedding []byte
		if err := rows.Scan(&f.ID, &f.EntityID, &f.Content, &embedding, &f.SourceSearchLogID, &f.SourceMessageID, &f.LearnedAt, &f.NotifiedAt); err != nil {
			return nil, err
		}
		f.Embedding = decodeEmbedding(embedding)
		out = append(out, f)
	}
	return out, rows.Err()
}
