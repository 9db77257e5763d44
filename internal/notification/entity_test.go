package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jaredlockhart/penny/internal/config"
	"github.com/jaredlockhart/penny/internal/store"
)

func newTestAgent() *Agent {
	return &Agent{
		Cfg: config.Config{
			Timings: config.Timings{
				InitialBackoff: 50 * time.Millisecond,
				MaxBackoff:     time.Hour,
			},
		},
		backoff: make(map[string]*backoffState),
	}
}

func TestShouldSendTrueWithNoPriorAction(t *testing.T) {
	a := newTestAgent()
	require.True(t, a.shouldSend(nil, "alice", time.Now()))
}

func TestRecordSendSetsInitialBackoffThenDoubles(t *testing.T) {
	a := newTestAgent()
	now := time.Now()

	a.recordSend("alice", 1, now)
	state := a.backoff["alice"]
	require.Equal(t, 0.05, state.backoffSeconds)

	a.recordSend("alice", 1, now.Add(time.Millisecond))
	require.Equal(t, 0.1, state.backoffSeconds)

	a.recordSend("alice", 1, now.Add(2*time.Millisecond))
	require.Equal(t, 0.2, state.backoffSeconds)
}

func TestRecordSendClampsAtMaxBackoff(t *testing.T) {
	a := newTestAgent()
	a.Cfg.Timings.MaxBackoff = 100 * time.Millisecond
	now := time.Now()

	a.backoff["alice"] = &backoffState{backoffSeconds: 0.09, lastActionTime: now}
	a.recordSend("alice", 1, now)
	require.Equal(t, 0.1, a.backoff["alice"].backoffSeconds)
}

func TestShouldSendSuppressedWithinBackoffWindow(t *testing.T) {
	a := newTestAgent()
	now := time.Now()
	a.backoff["alice"] = &backoffState{backoffSeconds: 1.0, lastActionTime: now}

	require.False(t, a.shouldSendNoLookup(now.Add(100*time.Millisecond), "alice"))
	require.True(t, a.shouldSendNoLookup(now.Add(2*time.Second), "alice"))
}

// shouldSendNoLookup mirrors shouldSend's pure backoff-window check without
// the store-backed "did the user act" lookup, so the timing math can be
// tested without a live store.
func (a *Agent) shouldSendNoLookup(now time.Time, user string) bool {
	state, ok := a.backoff[user]
	if !ok || state.lastActionTime.IsZero() {
		return true
	}
	return now.Sub(state.lastActionTime).Seconds() >= state.backoffSeconds
}

func TestFactsFallbackJoinsFactsWithEntityName(t *testing.T) {
	entity := store.Entity{Name: "kef ls50 meta"}
	facts := []store.Fact{{Content: "Has a Uni-Q driver"}, {Content: "Released in 2020"}}
	text := factsFallback(entity, facts)
	require.Contains(t, text, "kef ls50 meta")
	require.Contains(t, text, "Has a Uni-Q driver")
	require.Contains(t, text, "Released in 2020")
}
