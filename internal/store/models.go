// Package store is Penny's knowledge store: the Postgres-backed persistence
// layer for the entities of spec.md §3, grounded on the teacher's
// internal/persistence/databases pgx usage (Init(ctx) error table creation,
// pgxpool.Pool, sentinel errors).
package store

import (
	"math"
	"time"
)

// Direction of a Message row.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// SearchTrigger identifies what caused a SearchLog row to be written.
type SearchTrigger string

const (
	TriggerUserMessage     SearchTrigger = "user_message"
	TriggerPennyEnrichment SearchTrigger = "penny_enrichment"
	TriggerLearnCommand    SearchTrigger = "learn_command"
)

// LearnPromptStatus is the lifecycle state of a LearnPrompt.
type LearnPromptStatus string

const (
	LearnPromptActive    LearnPromptStatus = "active"
	LearnPromptCompleted LearnPromptStatus = "completed"
)

// EngagementType enumerates the interest signals spec.md §3 names.
type EngagementType string

const (
	EngagementUserSearch       EngagementType = "user_search"
	EngagementMessageMention   EngagementType = "message_mention"
	EngagementEmojiReaction    EngagementType = "emoji_reaction"
	EngagementExplicitStatement EngagementType = "explicit_statement"
	EngagementSearchDiscovery  EngagementType = "search_discovery"
)

// Valence of an Engagement or Preference.
type Valence string

const (
	ValencePositive Valence = "positive"
	ValenceNeutral  Valence = "neutral"
	ValenceNegative Valence = "negative"
)

// PreferenceType distinguishes like from dislike.
type PreferenceType string

const (
	PreferenceLike    PreferenceType = "like"
	PreferenceDislike PreferenceType = "dislike"
)

// ResearchTaskStatus is the lifecycle state of a research task (spec.md §4.7).
type ResearchTaskStatus string

const (
	ResearchAwaitingFocus ResearchTaskStatus = "awaiting_focus"
	ResearchInProgress    ResearchTaskStatus = "in_progress"
	ResearchCompleted     ResearchTaskStatus = "completed"
	ResearchFailed        ResearchTaskStatus = "failed"
)

// Message is a chat message logged by a channel (spec.md §3).
type Message struct {
	ID         int64
	User       string
	Direction  Direction
	Sender     string
	Content    string
	Timestamp  time.Time
	ParentID   *int64
	ExternalID *string
	IsReaction bool
	Processed  bool
}

// SearchLog is a record of one search-tool invocation (spec.md §3).
type SearchLog struct {
	ID            int64
	User          string
	Query         string
	Response      string
	Timestamp     time.Time
	Extracted     bool
	Trigger       SearchTrigger
	LearnPromptID *int64
}

// LearnPrompt is a user-initiated deep-research budget (spec.md §3).
type LearnPrompt struct {
	ID                int64
	User              string
	Prompt            string
	Status            LearnPromptStatus
	SearchesRemaining int
	AnnouncedAt       *time.Time
	CreatedAt         time.Time
}

// Entity is a thing the user has shown interest in (spec.md §3).
type Entity struct {
	ID             int64
	User           string
	Name           string
	Tagline        *string
	Embedding      []float32
	Heat           float64
	HeatUpdatedAt  time.Time
	HeatCooldown   int
	LastEnrichedAt *time.Time
	LastNotifiedAt *time.Time
	CreatedAt      time.Time
}

// heatHalfLifeDefault is used only when the caller doesn't supply one; the
// real value is config.Timings.HeatHalfLife (spec.md §4.4 "interest is the
// time-decayed behavioral engagement score, half-life configurable").
const heatHalfLifeDefault = 5 * 24 * time.Hour

// DecayedHeat returns the entity's heat decayed from HeatUpdatedAt to now
// by the given half-life, per spec.md §9's resolution of the heat-decay
// Open Question: heat is stored as of its last write and decayed lazily at
// read time rather than swept by a background job.
func (e Entity) DecayedHeat(now time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		halfLife = heatHalfLifeDefault
	}
	if e.HeatUpdatedAt.IsZero() || e.Heat <= 0 {
		return e.Heat
	}
	elapsed := now.Sub(e.HeatUpdatedAt)
	if elapsed <= 0 {
		return e.Heat
	}
	halvings := float64(elapsed) / float64(halfLife)
	return e.Heat * math.Pow(0.5, halvings)
}

// Fact is one discrete piece of knowledge about an Entity (spec.md §3).
type Fact struct {
	ID               int64
	EntityID         int64
	Content          string
	Embedding        []float32
	SourceSearchLogID *int64
	SourceMessageID  *int64
	LearnedAt        time.Time
	NotifiedAt       *time.Time
}

// Engagement is an append-only interest signal (spec.md §3).
type Engagement struct {
	ID        int64
	User      string
	EntityID  *int64
	Type      EngagementType
	Valence   Valence
	Strength  float64
	CreatedAt time.Time
	SourceMessageID *int64
}

// Preference records a user's like/dislike of a topic (spec.md §3).
type Preference struct {
	ID        int64
	User      string
	Topic     string
	Type      PreferenceType
	Embedding []float32
}

// Event is a news item surfaced for a FollowPrompt (spec.md §3).
type Event struct {
	ID            int64
	User          string
	Headline      string
	Summary       string
	OccurredAt    time.Time
	SourceURL     string
	ExternalID    string
	Embedding     []float32
	NotifiedAt    *time.Time
	FollowPromptID int64
}

// FollowPrompt is a persistent news subscription (spec.md §3).
type FollowPrompt struct {
	ID           int64
	User         string
	Topic        string
	QueryTerms   []string
	Cron         string
	Timezone     string
	LastPolledAt   *time.Time
	LastNotifiedAt *time.Time
}

// UserInfo is per-user profile data (spec.md §3).
type UserInfo struct {
	User     string
	Name     string
	Location string
	Timezone string
	DOB      *time.Time
}

// ResearchTask is a multi-iteration research run (spec.md §4.7).
type ResearchTask struct {
	ID            int64
	ThreadID      string
	User          string
	Focus         string
	Status        ResearchTaskStatus
	Iteration     int
	MaxIterations int
	Report        string
	CreatedAt     time.Time
	FocusDeadline *time.Time
}

// ResearchIteration is one step of a ResearchTask's history.
type ResearchIteration struct {
	ID             int64
	TaskID         int64
	Iteration      int
	Query          string
	Sources        []string
	ReportFragment string
	CreatedAt      time.Time
}
