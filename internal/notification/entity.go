package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jaredlockhart/penny/internal/llm"
	"github.com/jaredlockhart/penny/internal/store"
)

const ignorePenalty = 0.3

const discoverySynthesisInstructions = "Write one short, natural-language message sharing something new about the named entity, synthesized from the facts below. Do not quote the facts verbatim."

var discoverySynthesisFormat = &llm.Format{
	Name: "discovery_synthesis",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string"},
		},
		"required": []string{"message"},
	},
}

type discoverySynthesis struct {
	Message string `json:"message"`
}

// pendingNotice tracks the entity last notified for a user, so the next
// cycle can detect whether the notification was ignored (spec.md §4.6 "On
// an ignored notification... apply an ignore penalty").
type pendingNotice struct {
	entityID int64
	sentAt   time.Time
}

// sendEntityDiscovery implements class 3: the highest-heat eligible entity
// across all users, gated by that user's exponential backoff (spec.md §4.6
// class 3).
func (a *Agent) sendEntityDiscovery(ctx context.Context) (bool, error) {
	if err := a.applyIgnorePenalties(ctx); err != nil {
		a.Log.Warn().Err(err).Msg("ignore-penalty pass failed")
	}

	entities, err := a.Store.AllActiveEntities(ctx)
	if err != nil {
		return false, err
	}

	now := time.Now()
	halfLife := a.Cfg.Timings.HeatHalfLife

	var candidates []store.Entity
	for _, e := range entities {
		if e.HeatCooldown > 0 {
			continue
		}
		if e.DecayedHeat(now, halfLife) <= 0 {
			continue
		}
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].DecayedHeat(now, halfLife) > candidates[j].DecayedHeat(now, halfLife)
	})

	for _, entity := range candidates {
		if !a.shouldSend(ctx, entity.User, now) {
			continue
		}

		facts, err := a.Store.UnnotifiedFacts(ctx, entity.ID)
		if err != nil {
			return false, err
		}
		if len(facts) == 0 {
			continue
		}

		text := a.synthesizeDiscovery(ctx, entity, facts)
		sent, err := a.send(ctx, entity.User, text)
		if err != nil {
			return false, err
		}
		if !sent {
			continue
		}

		ids := make([]int64, len(facts))
		for i, f := range facts {
			ids[i] = f.ID
		}
		if err := a.Store.MarkFactsNotified(ctx, ids); err != nil {
			return false, err
		}

		cycles := a.Cfg.Thresholds.HeatCooldownCycles
		if cycles <= 0 {
			cycles = 3
		}
		if err := a.Store.SetHeatCooldown(ctx, entity.ID, cycles); err != nil {
			return false, err
		}
		if err := a.Store.SetLastNotifiedAt(ctx, entity.ID); err != nil {
			return false, err
		}

		a.recordSend(entity.User, entity.ID, now)
		return true, nil
	}

	return false, nil
}

func (a *Agent) synthesizeDiscovery(ctx context.Context, entity store.Entity, facts []store.Fact) string {
	if a.LLM == nil {
		return factsFallback(entity, facts)
	}

	prompt := fmt.Sprintf("%s\n\nEntity: %s\n\nFacts:\n", discoverySynthesisInstructions, entity.Name)
	for _, f := range facts {
		prompt += "- " + f.Content + "\n"
	}

	result, err := a.LLM.Generate(ctx, prompt, nil, discoverySynthesisFormat)
	if err != nil {
		a.Log.Warn().Err(err).Str("entity", entity.Name).Msg("discovery synthesis call failed")
		return factsFallback(entity, facts)
	}

	var parsed discoverySynthesis
	if err := json.Unmarshal([]byte(result.Content), &parsed); err != nil || parsed.Message == "" {
		a.Log.Warn().Err(err).Str("entity", entity.Name).Msg("discovery synthesis response unparseable")
		return factsFallback(entity, facts)
	}
	return parsed.Message
}

func factsFallback(entity store.Entity, facts []store.Fact) string {
	text := "Update on " + entity.Name + ": "
	for i, f := range facts {
		if i > 0 {
			text += " "
		}
		text += f.Content
	}
	return text
}

// shouldSend implements the per-user exponential backoff gate (spec.md
// §4.6 "should_send returns true iff...").
func (a *Agent) shouldSend(ctx context.Context, user string, now time.Time) bool {
	a.mu.Lock()
	state, ok := a.backoff[user]
	a.mu.Unlock()
	if !ok || state.lastActionTime.IsZero() {
		return true
	}

	if a.userActedSince(ctx, user, state.lastActionTime) {
		a.mu.Lock()
		state.backoffSeconds = 0
		a.mu.Unlock()
		return true
	}

	return now.Sub(state.lastActionTime).Seconds() >= state.backoffSeconds
}

// userActedSince reports whether the user sent a real (non-command, i.e.
// any logged message counts) message strictly after since (spec.md §4.6
// "the user has sent a real message... which clears the backoff").
func (a *Agent) userActedSince(ctx context.Context, user string, since time.Time) bool {
	msgs, err := a.Store.UnprocessedMessages(ctx, user, 1)
	if err != nil {
		return false
	}
	for _, m := range msgs {
		if m.Timestamp.After(since) {
			return true
		}
	}
	return false
}

// recordSend updates backoff state after a successful send (spec.md §4.6
// "On successful send: if current backoff is zero, set it to
// initial_backoff; otherwise double it, clamped at max_backoff").
func (a *Agent) recordSend(user string, entityID int64, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.backoff[user]
	if !ok {
		state = &backoffState{}
		a.backoff[user] = state
	}

	initial := a.Cfg.Timings.InitialBackoff.Seconds()
	maxBackoff := a.Cfg.Timings.MaxBackoff.Seconds()
	if state.backoffSeconds <= 0 {
		state.backoffSeconds = initial
	} else {
		state.backoffSeconds *= 2
		if maxBackoff > 0 && state.backoffSeconds > maxBackoff {
			state.backoffSeconds = maxBackoff
		}
	}
	state.lastActionTime = now

	if a.pending == nil {
		a.pending = make(map[string]pendingNotice)
	}
	a.pending[user] = pendingNotice{entityID: entityID, sentAt: now}
}

// applyIgnorePenalties checks every user's last-sent entity for engagement
// since it was notified; if none occurred, it reduces that entity's heat
// (spec.md §4.6 "On an ignored notification... apply an ignore penalty to
// that entity's heat").
func (a *Agent) applyIgnorePenalties(ctx context.Context) error {
	a.mu.Lock()
	pending := a.pending
	a.pending = nil
	a.mu.Unlock()

	for user, notice := range pending {
		engagements, err := a.Store.EngagementsSince(ctx, user, notice.sentAt)
		if err != nil {
			return err
		}
		engaged := false
		for _, e := range engagements {
			if e.EntityID != nil && *e.EntityID == notice.entityID {
				engaged = true
				break
			}
		}
		if engaged {
			continue
		}
		if err := a.Store.AdjustHeat(ctx, notice.entityID, -ignorePenalty); err != nil {
			return err
		}
		a.Log.Info().Int64("entity_id", notice.entityID).Str("user", user).Msg("ignore penalty applied")
	}
	return nil
}
