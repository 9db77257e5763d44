package extraction

import (
	"context"

	"github.com/jaredlockhart/penny/internal/store"
)

// engagementStrength is the per-engagement-type heat contribution table
// (spec.md §4.6 "Engagements of a given type contribute to heat with a
// configured strength"). Heat decay itself is not swept here: it is
// computed lazily at read time by store.Entity.DecayedHeat, per
// DESIGN.md's resolution of the heat-decay Open Question.
var engagementStrength = map[store.EngagementType]float64{
	store.EngagementUserSearch:        0.4,
	store.EngagementMessageMention:    0.3,
	store.EngagementEmojiReaction:     0.3,
	store.EngagementExplicitStatement: 1.0,
	store.EngagementSearchDiscovery:   0.2,
}

// proactiveEmojiReactionStrength is used instead of the table value when the
// reacted-to message was sent proactively by Penny rather than in reply to
// the user (spec.md §4.3 "strength depending on whether the reacted-to
// message was proactive").
const proactiveEmojiReactionStrength = 0.5

// recordEngagement inserts an Engagement row and applies its heat
// contribution to the linked entity in one step, keeping the two
// always-consistent writes together (DESIGN.md: heat maintenance lives in
// extraction, the engagement-writer).
func (p *Pipeline) recordEngagement(ctx context.Context, e store.Engagement) error {
	return RecordEngagement(ctx, p.Store, e)
}

// RecordEngagement inserts an Engagement row and applies its heat
// contribution to the linked entity in one step. Exported so the
// enrichment agent's search_discovery engagement write goes through the
// same heat-maintenance path rather than duplicating it (DESIGN.md: heat
// maintenance lives in internal/extraction, the engagement-writer).
func RecordEngagement(ctx context.Context, st *store.Store, e store.Engagement) error {
	if _, err := st.InsertEngagement(ctx, e); err != nil {
		return err
	}
	if e.EntityID == nil {
		return nil
	}
	return applyHeat(ctx, st, *e.EntityID, e.Valence, e.Strength)
}

// applyHeat adjusts an entity's heat by a signed delta: positive/neutral
// valence adds, negative valence subtracts, floored at 0 by the store
// layer (spec.md §3 invariant).
func applyHeat(ctx context.Context, st *store.Store, entityID int64, valence store.Valence, strength float64) error {
	delta := strength
	if valence == store.ValenceNegative {
		delta = -delta
	}
	return st.AdjustHeat(ctx, entityID, delta)
}

func strengthFor(t store.EngagementType) float64 {
	if s, ok := engagementStrength[t]; ok {
		return s
	}
	return 0.2
}
