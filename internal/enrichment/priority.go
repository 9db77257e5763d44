package enrichment

import (
	"context"
	"math"
	"time"

	"github.com/jaredlockhart/penny/internal/store"
)

// scoredEntity is an enrichment candidate plus the context its priority was
// computed from.
type scoredEntity struct {
	entity    store.Entity
	user      string
	interest  float64
	factCount int
	facts     []store.Fact
	priority  float64
}

// selectCandidate scores every eligible entity across every user and
// returns the single highest-priority one, or nil (spec.md §4.4).
func (p *Pipeline) selectCandidate(ctx context.Context) (*scoredEntity, error) {
	candidates, err := p.scoreCandidates(ctx)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.priority > best.priority {
			best = c
		}
	}
	return &best, nil
}

// scoreCandidates computes a priority score for every eligible entity
// across every user (spec.md §4.4). Interest is read as the entity's
// lazily-decayed heat rather than recomputed from raw engagement history,
// consistent with DESIGN.md's heat-decay resolution used by the
// notification agent.
func (p *Pipeline) scoreCandidates(ctx context.Context) ([]scoredEntity, error) {
	entities, err := p.Store.AllActiveEntities(ctx)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}

	cooldown := p.Cfg.Timings.EnrichmentCooldown
	now := time.Now()

	var out []scoredEntity
	for _, e := range entities {
		if !p.isEligible(e, now, cooldown) {
			continue
		}
		scored, err := p.computePriority(ctx, e, now)
		if err != nil {
			return nil, err
		}
		if scored != nil {
			out = append(out, *scored)
		}
	}
	return out, nil
}

// isEligible reports whether an entity is outside its enrichment cooldown
// window (spec.md §4.4 "last_enriched_at within the per-entity cooldown
// window").
func (p *Pipeline) isEligible(e store.Entity, now time.Time, cooldown time.Duration) bool {
	if e.LastEnrichedAt == nil {
		return true
	}
	elapsed := now.Sub(*e.LastEnrichedAt)
	if elapsed < cooldown {
		p.Log.Debug().Str("entity", e.Name).Dur("elapsed", elapsed).Msg("enrichment cooldown active")
		return false
	}
	return true
}

// computePriority returns nil when the entity should be skipped: interest
// below the minimum threshold, or unannounced facts still pending
// notification (spec.md §4.4).
func (p *Pipeline) computePriority(ctx context.Context, e store.Entity, now time.Time) (*scoredEntity, error) {
	halfLife := p.Cfg.Timings.HeatHalfLife
	interest := e.DecayedHeat(now, halfLife)
	if interest < p.Cfg.Thresholds.MinEngagementInterest {
		return nil, nil
	}

	hasUnannounced, err := p.Store.HasUnannouncedFacts(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	if hasUnannounced {
		p.Log.Debug().Str("entity", e.Name).Msg("skipping entity with unannounced facts")
		return nil, nil
	}

	facts, err := p.Store.FactsForEntity(ctx, e.ID)
	if err != nil {
		return nil, err
	}

	return &scoredEntity{
		entity:    e,
		user:      e.User,
		interest:  interest,
		factCount: len(facts),
		facts:     facts,
		priority:  priorityScore(interest, len(facts)),
	}, nil
}

// priorityScore applies log-diminishing returns: high-interest entities
// stay on top, but gradually yield as facts accumulate, allowing rotation
// (spec.md §4.4 "priority = interest / log2(fact_count + 2)").
func priorityScore(interest float64, factCount int) float64 {
	return interest / math.Log2(float64(factCount)+2)
}
