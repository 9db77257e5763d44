// Package notification implements Penny's notification agent: the
// background agent that, each cycle, sends from the first of three message
// classes (in priority order) that has anything to send — several learn
// completions or event digests may go out in one cycle, but at most one
// entity discovery — and enforces a per-user exponential backoff on the
// lowest-priority class (spec.md §4.6). Grounded on original_source/penny/penny/agents/notify.py's
// NotifyAgent, reimplemented as a scheduler.Agent in the same
// Store/LLM/Sender/Cfg shape as internal/enrichment.Pipeline.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jaredlockhart/penny/internal/channel"
	"github.com/jaredlockhart/penny/internal/config"
	"github.com/jaredlockhart/penny/internal/extraction"
	"github.com/jaredlockhart/penny/internal/llm"
	"github.com/jaredlockhart/penny/internal/store"
)

// backoffState is the per-user exponential backoff state for class-3
// (entity fact discovery) notifications (spec.md §3 "BackoffState",
// §4.6). Held only in memory: not persisted across restarts.
type backoffState struct {
	lastActionTime time.Time
	backoffSeconds float64
}

// Agent is the notification background agent.
type Agent struct {
	Store  *store.Store
	LLM    llm.Provider
	Sender channel.Sender
	Cfg    config.Config
	Log    zerolog.Logger

	mu      sync.Mutex
	backoff map[string]*backoffState
	pending map[string]pendingNotice
}

// New constructs an Agent. Sender may be nil, in which case Execute is a
// permanent no-op.
func New(st *store.Store, provider llm.Provider, sender channel.Sender, cfg config.Config, log zerolog.Logger) *Agent {
	return &Agent{Store: st, LLM: provider, Sender: sender, Cfg: cfg, Log: log.With().Str("agent", "notification").Logger(), backoff: make(map[string]*backoffState)}
}

// Name identifies this agent to the scheduler.
func (a *Agent) Name() string { return "notification" }

// Execute runs one notification cycle: class 1, then class 2, then class 3,
// in that priority order (spec.md §4.6).
func (a *Agent) Execute(ctx context.Context) (bool, error) {
	if a.Sender == nil {
		a.Log.Debug().Msg("no sender configured")
		return false, nil
	}

	if err := a.Store.DecrementAllCooldowns(ctx); err != nil {
		return false, err
	}

	users, err := a.Store.DistinctMessageUsers(ctx)
	if err != nil {
		return false, err
	}

	sentLearn, err := a.sendLearnCompletions(ctx, users)
	if err != nil {
		return false, err
	}
	if sentLearn {
		return true, nil
	}

	sentDigest, err := a.sendEventDigests(ctx)
	if err != nil {
		return false, err
	}
	if sentDigest {
		return true, nil
	}

	return a.sendEntityDiscovery(ctx)
}

func (a *Agent) minLength() int {
	n := a.Cfg.Thresholds.MinNotificationLength
	if n <= 0 {
		n = 12
	}
	return n
}

// send dispatches text to the user, silently dropping content below the
// minimum length (spec.md §4.6 "Minimum content length").
func (a *Agent) send(ctx context.Context, user, text string) (bool, error) {
	text = strings.TrimSpace(text)
	if len(text) < a.minLength() {
		a.Log.Debug().Str("user", user).Msg("notification dropped: below minimum length")
		return false, nil
	}
	externalID, err := a.Sender.SendMessage(ctx, user, text, nil, "")
	if err != nil {
		return false, fmt.Errorf("notification: send: %w", err)
	}

	// Log the send as an outgoing Message tagged proactive, so a later
	// reaction can resolve its parent and earn the proactive emoji-reaction
	// strength (spec.md §3 Message invariants, §4.3).
	var extIDPtr *string
	if externalID != "" {
		extIDPtr = &externalID
	}
	if _, logErr := a.Store.LogMessage(ctx, store.Message{
		User:       user,
		Direction:  store.DirectionOutgoing,
		Sender:     extraction.ProactiveSenderTag,
		Content:    text,
		ExternalID: extIDPtr,
		Processed:  true,
	}); logErr != nil {
		a.Log.Warn().Err(logErr).Str("user", user).Msg("failed to log proactive notification message")
	}

	return true, nil
}
