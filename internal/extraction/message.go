package extraction

import (
	"context"
	"strings"

	"github.com/jaredlockhart/penny/internal/store"
)

// ProactiveSenderTag marks an outgoing Message as sent by a background
// agent (e.g. internal/notification) rather than as a direct reply inside
// a request/response cycle, so a reaction to it earns the "proactive"
// emoji-reaction strength (spec.md §4.3: "strength depending on whether the
// reacted-to message was proactive"). Exported so internal/notification can
// tag its sends with the same constant.
const ProactiveSenderTag = "penny:notification"

const engagementStrengthEmojiReactive = 0.3

// likeReactions and dislikeReactions map reaction emoji to preference
// valence (spec.md §4.3 "configured emoji set").
var likeReactions = map[string]bool{
	"👍": true, "❤️": true, "😍": true, "🔥": true, "💯": true,
}

var dislikeReactions = map[string]bool{
	"👎": true, "💀": true, "😒": true, "😡": true,
}

// processMessages is phase 2: entity/fact extraction from unprocessed
// messages, message_mention and emoji_reaction engagements, and preference
// extraction from reactions + messages, per user (spec.md §4.3 phase 2).
func (p *Pipeline) processMessages(ctx context.Context) (bool, error) {
	users, err := p.Store.DistinctMessageUsers(ctx)
	if err != nil {
		return false, err
	}
	if len(users) == 0 {
		return false, nil
	}

	limit := p.Cfg.Thresholds.MessageBatchLimit
	if limit <= 0 {
		limit = 20
	}

	didWork := false
	for _, user := range users {
		if ctx.Err() != nil {
			return didWork, nil
		}

		work, err := p.processUserMessages(ctx, user, limit)
		if err != nil {
			p.Log.Error().Err(err).Str("user", user).Msg("message extraction failed")
			continue
		}
		didWork = didWork || work
	}
	return didWork, nil
}

func (p *Pipeline) processUserMessages(ctx context.Context, user string, limit int) (bool, error) {
	reactions, err := p.Store.UnprocessedReactions(ctx, user, limit)
	if err != nil {
		return false, err
	}
	messages, err := p.Store.UnprocessedMessages(ctx, user, limit)
	if err != nil {
		return false, err
	}
	if len(reactions) == 0 && len(messages) == 0 {
		return false, nil
	}

	didWork := false

	for _, msg := range messages {
		if !p.shouldProcessMessage(msg) {
			continue
		}

		id := msg.ID
		entities, err := p.extractAndStoreEntities(ctx, user, "User message", msg.Content, msg.Content, nil, &id)
		if err != nil {
			p.Log.Error().Err(err).Int64("message_id", msg.ID).Msg("entity extraction from message failed")
			continue
		}
		if len(entities) == 0 {
			continue
		}
		didWork = true

		for _, e := range entities {
			entityID := e.ID
			if err := p.recordEngagement(ctx, store.Engagement{
				User:            user,
				EntityID:        &entityID,
				Type:            store.EngagementMessageMention,
				Valence:         store.ValenceNeutral,
				Strength:        strengthFor(store.EngagementMessageMention),
				SourceMessageID: &id,
			}); err != nil {
				return didWork, err
			}
		}
	}

	if err := p.processReactionEngagements(ctx, user, reactions); err != nil {
		return didWork, err
	}

	var likeTexts, dislikeTexts []string
	for _, r := range reactions {
		if r.ParentID == nil {
			continue
		}
		emoji := strings.TrimSpace(r.Content)
		isLike := likeReactions[emoji]
		isDislike := dislikeReactions[emoji]
		if !isLike && !isDislike {
			continue
		}
		parent, err := p.Store.MessageByID(ctx, *r.ParentID)
		if err != nil {
			continue
		}
		if isLike {
			likeTexts = append(likeTexts, parent.Content)
		} else {
			dislikeTexts = append(dislikeTexts, parent.Content)
		}
	}

	userTexts := make([]string, len(messages))
	for i, m := range messages {
		userTexts[i] = m.Content
	}

	prefWork, err := p.extractAndStorePreferences(ctx, user, store.PreferenceLike, likeTexts, userTexts)
	if err != nil {
		return didWork, err
	}
	didWork = didWork || prefWork

	dislikeWork, err := p.extractAndStorePreferences(ctx, user, store.PreferenceDislike, dislikeTexts, userTexts)
	if err != nil {
		return didWork, err
	}
	didWork = didWork || dislikeWork

	var reactionIDs, messageIDs []int64
	for _, r := range reactions {
		reactionIDs = append(reactionIDs, r.ID)
	}
	for _, m := range messages {
		messageIDs = append(messageIDs, m.ID)
	}
	if err := p.Store.MarkMessagesProcessed(ctx, reactionIDs); err != nil {
		return didWork, err
	}
	if err := p.Store.MarkMessagesProcessed(ctx, messageIDs); err != nil {
		return didWork, err
	}

	return didWork, nil
}

// processReactionEngagements records an emoji_reaction engagement for each
// reaction whose parent message names a known entity, with strength keyed
// on whether that parent was sent proactively (spec.md §4.3).
func (p *Pipeline) processReactionEngagements(ctx context.Context, user string, reactions []store.Message) error {
	if len(reactions) == 0 {
		return nil
	}
	entities, err := p.Store.EntitiesForUser(ctx, user)
	if err != nil {
		return err
	}
	if len(entities) == 0 {
		return nil
	}

	for _, r := range reactions {
		if r.ParentID == nil {
			continue
		}
		emoji := strings.TrimSpace(r.Content)
		isLike := likeReactions[emoji]
		isDislike := dislikeReactions[emoji]
		if !isLike && !isDislike {
			continue
		}
		parent, err := p.Store.MessageByID(ctx, *r.ParentID)
		if err != nil {
			continue
		}

		var mentioned *store.Entity
		lowerContent := strings.ToLower(parent.Content)
		for i := range entities {
			if strings.Contains(lowerContent, entities[i].Name) {
				mentioned = &entities[i]
				break
			}
		}
		if mentioned == nil {
			continue
		}

		valence := store.ValencePositive
		if isDislike {
			valence = store.ValenceNegative
		}
		strength := engagementStrengthEmojiReactive
		if parent.Sender == ProactiveSenderTag {
			strength = proactiveEmojiReactionStrength
		}

		entityID := mentioned.ID
		parentID := parent.ID
		if err := p.recordEngagement(ctx, store.Engagement{
			User:            user,
			EntityID:        &entityID,
			Type:            store.EngagementEmojiReaction,
			Valence:         valence,
			Strength:        strength,
			SourceMessageID: &parentID,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) shouldProcessMessage(m store.Message) bool {
	content := strings.TrimSpace(m.Content)
	minLen := p.Cfg.Thresholds.MinMessageLength
	if minLen <= 0 {
		minLen = 8
	}
	if len(content) < minLen {
		return false
	}
	return !strings.HasPrefix(content, "/")
}
