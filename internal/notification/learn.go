package notification

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jaredlockhart/penny/internal/store"
)

// sendLearnCompletions implements class 1: announce every completed,
// unannounced learn prompt whose search logs have all finished extraction,
// grouping facts by entity sorted by interest. Bypasses per-user backoff
// entirely (spec.md §4.6 class 1 "this bypasses per-user backoff
// entirely"). Multiple completions may fire in the same cycle.
func (a *Agent) sendLearnCompletions(ctx context.Context, users []string) (bool, error) {
	sentAny := false
	for _, user := range users {
		prompts, err := a.Store.UnannouncedCompletedLearnPrompts(ctx, user)
		if err != nil {
			return sentAny, err
		}

		for _, prompt := range prompts {
			allExtracted, err := a.Store.AllSearchLogsExtracted(ctx, prompt.ID)
			if err != nil {
				return sentAny, err
			}
			if !allExtracted {
				continue
			}

			text, factIDs, err := a.composeLearnSummary(ctx, user, prompt)
			if err != nil {
				return sentAny, err
			}

			sent, err := a.send(ctx, user, text)
			if err != nil {
				return sentAny, err
			}
			if !sent {
				continue
			}

			if err := a.Store.MarkLearnPromptAnnounced(ctx, prompt.ID); err != nil {
				return sentAny, err
			}
			if err := a.Store.MarkFactsNotified(ctx, factIDs); err != nil {
				return sentAny, err
			}
			sentAny = true
		}
	}
	return sentAny, nil
}

// composeLearnSummary groups the completing learn prompt's own unnotified
// facts — reached via facts.source_search_log_id -> search_logs with this
// prompt's id, not the user's whole knowledge base — by entity, entities
// sorted by interest score (spec.md §4.6 class 1 "grouping facts by entity
// (entities sorted by interest score)... mark all its facts notified").
func (a *Agent) composeLearnSummary(ctx context.Context, user string, prompt store.LearnPrompt) (string, []int64, error) {
	facts, err := a.Store.FactsByLearnPrompt(ctx, prompt.ID)
	if err != nil {
		return "", nil, err
	}

	type group struct {
		entity store.Entity
		facts  []store.Fact
	}
	var groups []group
	var factIDs []int64
	entityByID := make(map[int64]store.Entity)
	var order []int64

	for _, f := range facts {
		factIDs = append(factIDs, f.ID)
		if _, ok := entityByID[f.EntityID]; !ok {
			entity, err := a.Store.EntityByID(ctx, f.EntityID)
			if err != nil {
				return "", nil, err
			}
			entityByID[f.EntityID] = entity
			order = append(order, f.EntityID)
		}
	}
	for _, entityID := range order {
		entity := entityByID[entityID]
		var entityFacts []store.Fact
		for _, f := range facts {
			if f.EntityID == entityID {
				entityFacts = append(entityFacts, f)
			}
		}
		groups = append(groups, group{entity: entity, facts: entityFacts})
	}

	now := time.Now()
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].entity.DecayedHeat(now, a.Cfg.Timings.HeatHalfLife) > groups[j].entity.DecayedHeat(now, a.Cfg.Timings.HeatHalfLife)
	})

	var b strings.Builder
	fmt.Fprintf(&b, "I finished researching \"%s\":\n", prompt.Prompt)
	for _, g := range groups {
		fmt.Fprintf(&b, "\n%s:\n", g.entity.Name)
		for _, f := range g.facts {
			fmt.Fprintf(&b, "- %s\n", f.Content)
		}
	}
	return b.String(), factIDs, nil
}
