package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jaredlockhart/penny/internal/store"
)

// extractAndStorePreferences runs one LLM pass for a single preference type
// (like or dislike), stores any new topics, links them to similar entities,
// and sends a single batched notification (spec.md §4.3 phase 2).
func (p *Pipeline) extractAndStorePreferences(ctx context.Context, user string, prefType store.PreferenceType, reactionTexts, messageTexts []string) (bool, error) {
	if len(reactionTexts) == 0 && len(messageTexts) == 0 {
		return false, nil
	}

	existing, err := p.Store.PreferencesByType(ctx, user, prefType)
	if err != nil {
		return false, err
	}
	existingTopics := make(map[string]bool, len(existing))
	for _, e := range existing {
		existingTopics[e.Topic] = true
	}

	prompt := buildPreferencePrompt(prefType, existingTopics, reactionTexts, messageTexts)

	result, err := p.LLM.Generate(ctx, prompt, nil, extractTopicsFormat)
	if err != nil {
		p.Log.Error().Err(err).Str("user", user).Str("type", string(prefType)).Msg("preference extraction call failed")
		return false, nil
	}

	var parsed extractedTopics
	if err := json.Unmarshal([]byte(result.Content), &parsed); err != nil {
		p.Log.Error().Err(err).Msg("preference extraction response unparseable")
		return false, nil
	}

	var newTopics []string
	for _, raw := range parsed.Topics {
		topic := strings.ToLower(strings.TrimSpace(raw))
		if topic == "" || existingTopics[topic] {
			continue
		}
		newTopics = append(newTopics, topic)
	}
	if len(newTopics) == 0 {
		return false, nil
	}

	embeddings := make([][]float32, len(newTopics))
	if p.Embedder != nil {
		vecs, err := p.Embedder.Embed(ctx, newTopics)
		if err != nil {
			p.Log.Warn().Err(err).Msg("failed to embed preference topics")
		} else {
			embeddings = vecs
		}
	}

	var added []store.Preference
	for i, topic := range newTopics {
		var emb []float32
		if i < len(embeddings) {
			emb = embeddings[i]
		}
		pref := store.Preference{User: user, Topic: topic, Type: prefType, Embedding: emb}
		id, err := p.Store.UpsertPreference(ctx, pref)
		if err != nil {
			return true, err
		}
		pref.ID = id
		added = append(added, pref)
		p.Log.Info().Str("user", user).Str("type", string(prefType)).Str("topic", topic).Msg("preference learned")
	}

	for _, pref := range added {
		if err := p.linkPreferenceToEntities(ctx, user, pref); err != nil {
			p.Log.Warn().Err(err).Str("topic", pref.Topic).Msg("failed to link preference to entities")
		}
	}

	if p.Notify != nil {
		if err := p.sendPreferenceNotification(ctx, user, prefType, added); err != nil {
			p.Log.Warn().Err(err).Msg("failed to send preference notification")
		}
	}

	return true, nil
}

func buildPreferencePrompt(prefType store.PreferenceType, existingTopics map[string]bool, reactionTexts, messageTexts []string) string {
	sentiment := "enjoys or is enthusiastic about"
	if prefType == store.PreferenceDislike {
		sentiment = "dislikes or expresses negativity toward"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Find any NEW topics the user %ss from the messages below.\n", prefType)
	fmt.Fprintf(&b, "Only extract clear %ss - things the user explicitly %s.\n", prefType, sentiment)
	b.WriteString("Do NOT extract every noun - only genuine preferences.\n")
	b.WriteString("Return short phrases (1-4 words each).\n\n")

	if len(existingTopics) > 0 {
		topics := make([]string, 0, len(existingTopics))
		for t := range existingTopics {
			topics = append(topics, t)
		}
		fmt.Fprintf(&b, "Already known %ss: %s\n", prefType, strings.Join(topics, ", "))
		b.WriteString("Do NOT include topics already known above.\n\n")
	}

	if len(reactionTexts) > 0 {
		fmt.Fprintf(&b, "Messages the user reacted to with a %s emoji:\n", prefType)
		for _, t := range reactionTexts {
			fmt.Fprintf(&b, "- %q\n", t)
		}
		b.WriteString("\n")
	}

	if len(messageTexts) > 0 {
		b.WriteString("Messages from the user:\n")
		for _, t := range messageTexts {
			fmt.Fprintf(&b, "- %q\n", t)
		}
	}

	return b.String()
}

// linkPreferenceToEntities finds entities whose embedding is similar to a
// new preference's topic embedding and records an explicit_statement
// engagement against each (spec.md §4.3 phase 2).
func (p *Pipeline) linkPreferenceToEntities(ctx context.Context, user string, pref store.Preference) error {
	if p.Embedder == nil || len(pref.Embedding) == 0 {
		return nil
	}

	entities, err := p.Store.EntitiesForUser(ctx, user)
	if err != nil {
		return err
	}

	threshold := p.Cfg.Thresholds.PreferenceEntityLinkSimilarity
	if threshold <= 0 {
		threshold = 0.6
	}
	topK := p.Cfg.Thresholds.PreferenceEntityLinkTopK
	if topK <= 0 {
		topK = 3
	}

	matches := TopSimilarEntities(pref.Embedding, entities, threshold, topK)

	valence := store.ValencePositive
	if pref.Type == store.PreferenceDislike {
		valence = store.ValenceNegative
	}

	for _, e := range matches {
		entityID := e.ID
		if err := p.recordEngagement(ctx, store.Engagement{
			User:     user,
			EntityID: &entityID,
			Type:     store.EngagementExplicitStatement,
			Valence:  valence,
			Strength: strengthFor(store.EngagementExplicitStatement),
		}); err != nil {
			return err
		}
	}
	return nil
}

// sendPreferenceNotification composes and sends a single batched message
// listing every new preference learned this pass (spec.md §4.3 phase 2:
// "send a single batched notification listing all new preferences").
func (p *Pipeline) sendPreferenceNotification(ctx context.Context, user string, prefType store.PreferenceType, added []store.Preference) error {
	if len(added) == 0 {
		return nil
	}

	var message string
	if len(added) == 1 {
		message = fmt.Sprintf("I added %s to your %ss", added[0].Topic, prefType)
	} else {
		var b strings.Builder
		fmt.Fprintf(&b, "I added these to your %ss:\n", prefType)
		for _, pref := range added {
			fmt.Fprintf(&b, "• %s\n", pref.Topic)
		}
		message = strings.TrimRight(b.String(), "\n")
	}

	return p.Notify.Notify(ctx, user, message)
}
