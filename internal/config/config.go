// Package config loads Penny's process configuration from environment
// variables. There is no YAML layer here (unlike the teacher's multi-service
// config): spec.md's external interfaces section specifies environment-only
// configuration, and the config struct is passed explicitly into every
// agent and the scheduler rather than read from a singleton.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ChannelKind selects which chat transport the process drives.
type ChannelKind string

const (
	ChannelSignal  ChannelKind = "signal"
	ChannelDiscord ChannelKind = "discord"
)

// AnthropicConfig configures the foreground/background chat provider.
type AnthropicConfig struct {
	APIKey          string
	ForegroundModel string
	BackgroundModel string
	BaseURL         string
}

// OpenAIConfig configures the embedding and image-generation provider.
type OpenAIConfig struct {
	APIKey        string
	EmbeddingModel string
	VisionModel   string
	ImageModel    string
	BaseURL       string
}

// SignalConfig configures the Signal REST+WebSocket channel.
type SignalConfig struct {
	RESTBaseURL string
	WSBaseURL   string
	AccountID   string
}

// DiscordConfig configures the Discord gateway channel.
type DiscordConfig struct {
	BotToken string
}

// ExternalAPIConfig holds optional third-party API keys named in spec.md §6.
type ExternalAPIConfig struct {
	NewsAPIKey     string
	PerplexityKey  string
	FastmailToken  string
}

// Timings holds the interval/threshold knobs spec.md names throughout §4.
type Timings struct {
	TickInterval           time.Duration
	IdleThreshold          time.Duration
	ExtractionInterval     time.Duration
	EnrichmentInterval     time.Duration
	EnrichmentCooldown     time.Duration
	NotificationInterval   time.Duration
	EventPollMinInterval   time.Duration
	NewsRateLimitBackoff   time.Duration
	DedupWindow            time.Duration
	InitialBackoff         time.Duration
	MaxBackoff             time.Duration
	HeatHalfLife           time.Duration
	ToolTimeout            time.Duration
	LLMRetryBaseDelay      time.Duration
	WSReceiveTimeout       time.Duration
	WSReconnectDelay       time.Duration
	ResearchFocusTimeout   time.Duration
}

// Thresholds holds the numeric gates spec.md names (fact counts, similarity
// cutoffs, budgets).
type Thresholds struct {
	EnrichmentFactCountSplit int
	MinEngagementInterest    float64
	HeatCooldownCycles       int
	DedupEmbeddingSimilarity float64
	EventEmbeddingSimilarity float64
	EventTokenContainment    float64
	EventRelevanceThreshold  float64
	MaxEventsPerPoll         int
	RelatedEntitySimilarity  float64
	RelatedEntityBudget      int
	MinMessageLength         int
	MinNotificationLength    int
	LLMMaxRetries            int
	MaxToolSteps             int
	MaxToolParallelism       int
	SearchLogBatchLimit      int
	MessageBatchLimit        int
	EmbeddingBackfillBatchLimit int
	PreferenceEntityLinkSimilarity float64
	PreferenceEntityLinkTopK int
	ResearchOutputMaxLength  int
}

// Config is the fully-resolved process configuration.
type Config struct {
	Channel    ChannelKind
	Anthropic  AnthropicConfig
	OpenAI     OpenAIConfig
	Signal     SignalConfig
	Discord    DiscordConfig
	External   ExternalAPIConfig
	Timings    Timings
	Thresholds Thresholds
	DatabaseURL string
	LogLevel    string
}

// Load reads configuration from the environment (optionally overlaid by a
// .env file, exactly as the teacher's loader does with godotenv.Overload so
// repository-local config wins in development).
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		Channel: ChannelKind(strings.ToLower(strings.TrimSpace(envOr("PENNY_CHANNEL", "signal")))),
		Anthropic: AnthropicConfig{
			APIKey:          os.Getenv("ANTHROPIC_API_KEY"),
			ForegroundModel: envOr("ANTHROPIC_FOREGROUND_MODEL", "claude-sonnet-4-5"),
			BackgroundModel: envOr("ANTHROPIC_BACKGROUND_MODEL", "claude-haiku-4-5"),
			BaseURL:         os.Getenv("ANTHROPIC_BASE_URL"),
		},
		OpenAI: OpenAIConfig{
			APIKey:         os.Getenv("OPENAI_API_KEY"),
			EmbeddingModel: envOr("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			VisionModel:    envOr("OPENAI_VISION_MODEL", "gpt-4o-mini"),
			ImageModel:     envOr("OPENAI_IMAGE_MODEL", "gpt-image-1"),
			BaseURL:        os.Getenv("OPENAI_BASE_URL"),
		},
		Signal: SignalConfig{
			RESTBaseURL: envOr("SIGNAL_REST_URL", "http://localhost:8080"),
			WSBaseURL:   envOr("SIGNAL_WS_URL", "ws://localhost:8080"),
			AccountID:   os.Getenv("SIGNAL_ACCOUNT_ID"),
		},
		Discord: DiscordConfig{
			BotToken: os.Getenv("DISCORD_BOT_TOKEN"),
		},
		External: ExternalAPIConfig{
			NewsAPIKey:    os.Getenv("NEWS_API_KEY"),
			PerplexityKey: os.Getenv("PERPLEXITY_API_KEY"),
			FastmailToken: os.Getenv("FASTMAIL_API_TOKEN"),
		},
		DatabaseURL: envOr("DATABASE_URL", "postgres://localhost:5432/penny"),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		Timings: Timings{
			TickInterval:         durOr("PENNY_TICK_INTERVAL", time.Second),
			IdleThreshold:        durOr("PENNY_IDLE_THRESHOLD", 2*time.Minute),
			ExtractionInterval:   durOr("PENNY_EXTRACTION_INTERVAL", time.Minute),
			EnrichmentInterval:   durOr("PENNY_ENRICHMENT_INTERVAL", 10*time.Minute),
			EnrichmentCooldown:   durOr("PENNY_ENRICHMENT_COOLDOWN", 6*time.Hour),
			NotificationInterval: durOr("PENNY_NOTIFICATION_INTERVAL", 5*time.Minute),
			EventPollMinInterval: durOr("PENNY_EVENT_POLL_MIN_INTERVAL", 15*time.Minute),
			NewsRateLimitBackoff: durOr("PENNY_NEWS_RATE_LIMIT_BACKOFF", 12*time.Hour),
			DedupWindow:          durOr("PENNY_DEDUP_WINDOW", 14*24*time.Hour),
			InitialBackoff:       durOr("PENNY_INITIAL_BACKOFF", 4*time.Hour),
			MaxBackoff:           durOr("PENNY_MAX_BACKOFF", 72*time.Hour),
			HeatHalfLife:         durOr("PENNY_HEAT_HALF_LIFE", 5*24*time.Hour),
			ToolTimeout:          durOr("PENNY_TOOL_TIMEOUT", 60*time.Second),
			LLMRetryBaseDelay:    durOr("PENNY_LLM_RETRY_BASE_DELAY", 500*time.Millisecond),
			WSReceiveTimeout:     durOr("PENNY_WS_RECEIVE_TIMEOUT", 30*time.Second),
			WSReconnectDelay:     durOr("PENNY_WS_RECONNECT_DELAY", 5*time.Second),
			ResearchFocusTimeout: durOr("PENNY_RESEARCH_FOCUS_TIMEOUT", 10*time.Minute),
		},
		Thresholds: Thresholds{
			EnrichmentFactCountSplit: intOr("PENNY_ENRICHMENT_FACT_SPLIT", 5),
			MinEngagementInterest:    floatOr("PENNY_MIN_ENGAGEMENT_INTEREST", 0.1),
			HeatCooldownCycles:       intOr("PENNY_HEAT_COOLDOWN_CYCLES", 3),
			DedupEmbeddingSimilarity: floatOr("PENNY_DEDUP_EMBED_SIM", 0.85),
			EventEmbeddingSimilarity: floatOr("PENNY_EVENT_EMBED_SIM", 0.78),
			EventTokenContainment:    floatOr("PENNY_EVENT_TCR", 0.8),
			EventRelevanceThreshold:  floatOr("PENNY_EVENT_RELEVANCE_THRESHOLD", 0.5),
			MaxEventsPerPoll:         intOr("PENNY_MAX_EVENTS_PER_POLL", 5),
			RelatedEntitySimilarity:  floatOr("PENNY_RELATED_ENTITY_SIM", 0.6),
			RelatedEntityBudget:      intOr("PENNY_RELATED_ENTITY_BUDGET", 2),
			MinMessageLength:         intOr("PENNY_MIN_MESSAGE_LENGTH", 8),
			MinNotificationLength:    intOr("PENNY_MIN_NOTIFICATION_LENGTH", 12),
			LLMMaxRetries:            intOr("PENNY_LLM_MAX_RETRIES", 3),
			MaxToolSteps:             intOr("PENNY_MAX_TOOL_STEPS", 5),
			MaxToolParallelism:       intOr("PENNY_MAX_TOOL_PARALLELISM", 4),
			SearchLogBatchLimit:      intOr("PENNY_SEARCH_LOG_BATCH_LIMIT", 10),
			MessageBatchLimit:        intOr("PENNY_MESSAGE_BATCH_LIMIT", 20),
			EmbeddingBackfillBatchLimit: intOr("PENNY_EMBEDDING_BACKFILL_BATCH_LIMIT", 50),
			PreferenceEntityLinkSimilarity: floatOr("PENNY_PREFERENCE_ENTITY_LINK_SIM", 0.6),
			PreferenceEntityLinkTopK: intOr("PENNY_PREFERENCE_ENTITY_LINK_TOP_K", 3),
			ResearchOutputMaxLength: intOr("PENNY_RESEARCH_OUTPUT_MAX_LENGTH", 4000),
		},
	}

	if cfg.Channel != ChannelSignal && cfg.Channel != ChannelDiscord {
		return Config{}, fmt.Errorf("config: unknown PENNY_CHANNEL %q (want signal or discord)", cfg.Channel)
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func durOr(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func intOr(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func floatOr(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
