// Package enrichment implements Penny's adaptive enrichment agent: the
// background agent that picks the single highest-priority entity across all
// users each cycle and researches it further, per spec.md §4.4. Grounded on
// original_source/penny/penny/agents/enrich.py's EnrichAgent, reimplemented
// as a scheduler.Agent with explicit store/llm/search dependencies instead
// of the Python class's instance attributes.
package enrichment

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jaredlockhart/penny/internal/config"
	"github.com/jaredlockhart/penny/internal/llm"
	"github.com/jaredlockhart/penny/internal/store"
	"github.com/jaredlockhart/penny/internal/tools"
)

// Pipeline is the enrichment background agent.
type Pipeline struct {
	Store    *store.Store
	LLM      llm.Provider
	Embedder llm.Embedder // nil disables entity embeddings and related-entity discovery
	Search   tools.SearchBackend
	Cfg      config.Config
	Log      zerolog.Logger

	lastEnrichTime time.Time
}

// New constructs a Pipeline. Search may be nil, in which case Execute is a
// permanent no-op (spec.md §4.4 has no fallback without a search backend).
func New(st *store.Store, provider llm.Provider, embedder llm.Embedder, search tools.SearchBackend, cfg config.Config, log zerolog.Logger) *Pipeline {
	return &Pipeline{Store: st, LLM: provider, Embedder: embedder, Search: search, Cfg: cfg, Log: log.With().Str("agent", "enrichment").Logger()}
}

// Name identifies this agent to the scheduler.
func (p *Pipeline) Name() string { return "enrichment" }

// Execute runs at most one research cycle: rate-gate, pick the
// highest-priority candidate, research it (spec.md §4.4).
func (p *Pipeline) Execute(ctx context.Context) (bool, error) {
	if p.Search == nil {
		p.Log.Debug().Msg("no search backend configured")
		return false, nil
	}

	if !p.shouldEnrich() {
		return false, nil
	}

	candidate, err := p.selectCandidate(ctx)
	if err != nil {
		return false, err
	}
	if candidate == nil {
		p.Log.Debug().Msg("no candidates to research")
		return false, nil
	}

	didWork, err := p.researchEntity(ctx, *candidate)
	if err != nil {
		return false, err
	}
	if didWork {
		p.markEnrichmentDone()
	}
	return didWork, nil
}

// shouldEnrich reports whether the fixed global interval has elapsed since
// the last successful enrichment (spec.md §4.4 "Rate gate").
func (p *Pipeline) shouldEnrich() bool {
	if p.lastEnrichTime.IsZero() {
		return true
	}
	interval := p.Cfg.Timings.EnrichmentInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return time.Since(p.lastEnrichTime) >= interval
}

func (p *Pipeline) markEnrichmentDone() {
	p.lastEnrichTime = time.Now()
}
