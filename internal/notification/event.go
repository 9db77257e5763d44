package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jaredlockhart/penny/internal/scheduler"
	"github.com/jaredlockhart/penny/internal/store"
)

// sendEventDigests implements class 2: for every follow prompt whose cron
// has fired since its last notification, group its un-notified events into
// one digest message (spec.md §4.6 class 2).
func (a *Agent) sendEventDigests(ctx context.Context) (bool, error) {
	prompts, err := a.Store.AllFollowPrompts(ctx)
	if err != nil {
		return false, err
	}

	now := time.Now()
	sentAny := false

	for _, prompt := range prompts {
		sub := scheduler.CronSubscription{Expr: prompt.Cron, Timezone: prompt.Timezone}
		if prompt.LastNotifiedAt != nil {
			sub.LastRun = *prompt.LastNotifiedAt
		}
		if !sub.Due(now) {
			continue
		}

		events, err := a.Store.UnnotifiedEventsForPrompt(ctx, prompt.ID)
		if err != nil {
			return sentAny, err
		}
		if len(events) == 0 {
			continue
		}

		text := composeEventDigest(prompt, events)
		sent, err := a.send(ctx, prompt.User, text)
		if err != nil {
			return sentAny, err
		}
		if !sent {
			continue
		}

		ids := make([]int64, len(events))
		for i, e := range events {
			ids[i] = e.ID
		}
		if err := a.Store.MarkEventsNotified(ctx, ids); err != nil {
			return sentAny, err
		}
		if err := a.Store.MarkFollowPromptNotified(ctx, prompt.ID); err != nil {
			return sentAny, err
		}
		sentAny = true
	}

	return sentAny, nil
}

func composeEventDigest(prompt store.FollowPrompt, events []store.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Updates on %s:\n", prompt.Topic)
	for _, e := range events {
		fmt.Fprintf(&b, "\n- %s\n  %s\n  %s\n", e.Headline, e.Summary, e.SourceURL)
	}
	return b.String()
}
