package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Sentinel errors, mirroring the teacher's persistence.ErrNotFound convention.
var (
	ErrNotFound = errors.New("store: not found")
)

// Store is Penny's knowledge store: a thin wrapper around a pgx connection
// pool exposing the logical operations of spec.md §3. Concurrent reads are
// safe; multi-row writes use an explicit transaction (spec.md §5).
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to Postgres and returns a ready Store.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return New(pool), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Init creates all tables Penny needs, idempotently, matching the teacher's
// CREATE TABLE IF NOT EXISTS / ALTER TABLE ADD COLUMN IF NOT EXISTS
// forward-only migration style (spec.md §6 "Schema evolves via forward-only
// migrations").
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS user_info (
    "user" TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    location TEXT NOT NULL DEFAULT '',
    timezone TEXT NOT NULL DEFAULT 'UTC',
    date_of_birth DATE
);

CREATE TABLE IF NOT EXISTS messages (
    id BIGSERIAL PRIMARY KEY,
    "user" TEXT NOT NULL,
    direction TEXT NOT NULL,
    sender TEXT NOT NULL,
    content TEXT NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    parent_id BIGINT REFERENCES messages(id),
    external_id TEXT,
    is_reaction BOOLEAN NOT NULL DEFAULT FALSE,
    processed BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS messages_user_processed_idx ON messages("user", processed, is_reaction);
CREATE INDEX IF NOT EXISTS messages_external_id_idx ON messages(external_id);

CREATE TABLE IF NOT EXISTS learn_prompts (
    id BIGSERIAL PRIMARY KEY,
    "user" TEXT NOT NULL,
    prompt TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    searches_remaining INTEGER NOT NULL DEFAULT 0,
    announced_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS search_logs (
    id BIGSERIAL PRIMARY KEY,
    "user" TEXT NOT NULL,
    query TEXT NOT NULL,
    response TEXT NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    extracted BOOLEAN NOT NULL DEFAULT FALSE,
    trigger TEXT NOT NULL DEFAULT 'user_message',
    learn_prompt_id BIGINT REFERENCES learn_prompts(id)
);
CREATE INDEX IF NOT EXISTS search_logs_extracted_idx ON search_logs(extracted, timestamp DESC);

CREATE TABLE IF NOT EXISTS entities (
    id BIGSERIAL PRIMARY KEY,
    "user" TEXT NOT NULL,
    name TEXT NOT NULL,
    tagline TEXT,
    embedding BYTEA,
    heat DOUBLE PRECISION NOT NULL DEFAULT 0,
    heat_updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    heat_cooldown INTEGER NOT NULL DEFAULT 0,
    last_enriched_at TIMESTAMPTZ,
    last_notified_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE ("user", name)
);

CREATE TABLE IF NOT EXISTS facts (
    id BIGSERIAL PRIMARY KEY,
    entity_id BIGINT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    content TEXT NOT NULL,
    embedding BYTEA,
    source_search_log_id BIGINT REFERENCES search_logs(id),
    source_message_id BIGINT REFERENCES messages(id),
    learned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    notified_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS facts_entity_idx ON facts(entity_id);
CREATE INDEX IF NOT EXISTS facts_unnotified_idx ON facts(entity_id) WHERE notified_at IS NULL;

CREATE TABLE IF NOT EXISTS engagements (
    id BIGSERIAL PRIMARY KEY,
    "user" TEXT NOT NULL,
    entity_id BIGINT REFERENCES entities(id) ON DELETE CASCADE,
    engagement_type TEXT NOT NULL,
    valence TEXT NOT NULL DEFAULT 'neutral',
    strength DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    source_message_id BIGINT REFERENCES messages(id)
);
CREATE INDEX IF NOT EXISTS engagements_entity_idx ON engagements(entity_id, created_at DESC);
CREATE INDEX IF NOT EXISTS engagements_user_idx ON engagements("user", created_at DESC);

CREATE TABLE IF NOT EXISTS preferences (
    id BIGSERIAL PRIMARY KEY,
    "user" TEXT NOT NULL,
    topic TEXT NOT NULL,
    type TEXT NOT NULL,
    embedding BYTEA,
    UNIQUE ("user", topic)
);

CREATE TABLE IF NOT EXISTS follow_prompts (
    id BIGSERIAL PRIMARY KEY,
    "user" TEXT NOT NULL,
    topic TEXT NOT NULL,
    query_terms TEXT[] NOT NULL DEFAULT '{}',
    cron TEXT NOT NULL,
    timezone TEXT NOT NULL DEFAULT 'UTC',
    last_polled_at TIMESTAMPTZ,
    last_notified_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS events (
    id BIGSERIAL PRIMARY KEY,
    "user" TEXT NOT NULL,
    headline TEXT NOT NULL,
    summary TEXT NOT NULL,
    occurred_at TIMESTAMPTZ NOT NULL,
    source_url TEXT NOT NULL,
    external_id TEXT NOT NULL,
    embedding BYTEA,
    notified_at TIMESTAMPTZ,
    follow_prompt_id BIGINT NOT NULL REFERENCES follow_prompts(id) ON DELETE CASCADE,
    UNIQUE ("user", external_id)
);
CREATE INDEX IF NOT EXISTS events_follow_prompt_idx ON events(follow_prompt_id) WHERE notified_at IS NULL;
CREATE INDEX IF NOT EXISTS events_user_occurred_idx ON events("user", occurred_at DESC);

CREATE TABLE IF NOT EXISTS research_tasks (
    id BIGSERIAL PRIMARY KEY,
    thread_id TEXT NOT NULL,
    "user" TEXT NOT NULL,
    focus TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'awaiting_focus',
    iteration INTEGER NOT NULL DEFAULT 0,
    max_iterations INTEGER NOT NULL DEFAULT 5,
    report TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    focus_deadline TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS research_tasks_thread_idx ON research_tasks(thread_id, status);

CREATE TABLE IF NOT EXISTS research_iterations (
    id BIGSERIAL PRIMARY KEY,
    task_id BIGINT NOT NULL REFERENCES research_tasks(id) ON DELETE CASCADE,
    iteration INTEGER NOT NULL,
    query TEXT NOT NULL DEFAULT '',
    sources TEXT[] NOT NULL DEFAULT '{}',
    report_fragment TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
