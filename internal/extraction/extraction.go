// Package extraction implements Penny's extraction pipeline: the
// background agent that mines un-extracted search logs and unprocessed
// chat messages for entities, facts, and preferences, and backfills
// embeddings, per spec.md §4.3. Grounded on
// original_source/penny/penny/agents/extraction.py's ExtractionPipeline,
// reimplemented as a scheduler.Agent with explicit store/llm dependencies
// instead of the Python class's self.db/self.embedding_model attributes.
package extraction

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/jaredlockhart/penny/internal/config"
	"github.com/jaredlockhart/penny/internal/llm"
	"github.com/jaredlockhart/penny/internal/store"
)

// Notifier sends a proactive message to a user. Implemented by
// internal/channel at wiring time; the pipeline only needs the narrow
// send surface for its single batched preference notification
// (spec.md §4.3 phase 2).
type Notifier interface {
	Notify(ctx context.Context, user, message string) error
}

// Pipeline is the extraction background agent.
type Pipeline struct {
	Store    *store.Store
	LLM      llm.Provider
	Embedder llm.Embedder // nil disables embedding generation and backfill
	Notify   Notifier
	Cfg      config.Config
	Log      zerolog.Logger
}

// New constructs a Pipeline. Embedder and Notify may be nil: embedding
// generation/backfill and preference notification are both best-effort
// per spec.md §4.3 ("if an embedding model is configured...").
func New(st *store.Store, provider llm.Provider, embedder llm.Embedder, notify Notifier, cfg config.Config, log zerolog.Logger) *Pipeline {
	return &Pipeline{Store: st, LLM: provider, Embedder: embedder, Notify: notify, Cfg: cfg, Log: log.With().Str("agent", "extraction").Logger()}
}

// Name identifies this agent to the scheduler.
func (p *Pipeline) Name() string { return "extraction" }

// Execute runs the three extraction phases in order, each returning
// whether it did work; the union is this agent's return (spec.md §4.3).
func (p *Pipeline) Execute(ctx context.Context) (bool, error) {
	didWork := false

	searchWork, err := p.processSearchLogs(ctx)
	if err != nil {
		return didWork, err
	}
	didWork = didWork || searchWork

	if ctx.Err() != nil {
		return didWork, nil
	}

	msgWork, err := p.processMessages(ctx)
	if err != nil {
		return didWork, err
	}
	didWork = didWork || msgWork

	if ctx.Err() != nil {
		return didWork, nil
	}

	if p.Embedder != nil {
		backfillWork, err := p.backfillEmbeddings(ctx)
		if err != nil {
			return didWork, err
		}
		didWork = didWork || backfillWork
	}

	return didWork, nil
}
