// Command penny is Penny's process entry point: it loads configuration,
// wires the knowledge store, LLM providers, chat transport, tool registry,
// and every background agent, then runs the scheduler until signalled to
// stop. Grounded on the teacher's cmd/agentd/main.go (load .env, init
// logging, load config, construct dependencies explicitly, run), adapted
// from an HTTP server's ListenAndServe to the scheduler's long-running
// Run/Stop pair (spec.md §6 "Scheduler external API").
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/jaredlockhart/penny/internal/agent"
	"github.com/jaredlockhart/penny/internal/channel"
	"github.com/jaredlockhart/penny/internal/channel/discord"
	signalchannel "github.com/jaredlockhart/penny/internal/channel/signal"
	"github.com/jaredlockhart/penny/internal/config"
	"github.com/jaredlockhart/penny/internal/enrichment"
	"github.com/jaredlockhart/penny/internal/event"
	"github.com/jaredlockhart/penny/internal/extraction"
	"github.com/jaredlockhart/penny/internal/llm"
	"github.com/jaredlockhart/penny/internal/llm/anthropic"
	"github.com/jaredlockhart/penny/internal/llm/openai"
	"github.com/jaredlockhart/penny/internal/logging"
	"github.com/jaredlockhart/penny/internal/newsapi"
	"github.com/jaredlockhart/penny/internal/notification"
	"github.com/jaredlockhart/penny/internal/research"
	"github.com/jaredlockhart/penny/internal/scheduler"
	"github.com/jaredlockhart/penny/internal/store"
	"github.com/jaredlockhart/penny/internal/tools"
)

func main() {
	// Load .env before anything else so LOG_LEVEL and friends are honored,
	// same ordering as the teacher's cmd/agentd/main.go.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("penny: failed to load config: " + err.Error())
	}

	logging.Init(cfg.LogLevel)
	baseLog := logging.For("penny")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		baseLog.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	if err := st.Init(ctx); err != nil {
		baseLog.Fatal().Err(err).Msg("failed to initialize schema")
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}

	foregroundLLM := anthropic.New(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL, cfg.Anthropic.ForegroundModel, httpClient)
	backgroundLLM := anthropic.New(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL, cfg.Anthropic.BackgroundModel, httpClient)

	var embedder llm.Embedder
	if cfg.OpenAI.APIKey != "" {
		// The same OpenAI client also exposes GenerateImage (spec.md §6's
		// generate_image op); nothing in the scheduler's agent pipeline
		// calls it today, so only the Embedder half is wired here.
		embedder = openai.New(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.EmbeddingModel, cfg.OpenAI.ImageModel, httpClient)
	}

	rawSearch := &tools.PerplexitySearch{APIKey: cfg.External.PerplexityKey, Client: httpClient}
	loggedSearch := tools.NewLoggingSearchBackend(rawSearch, st, logging.For("search"))

	sender, listen := buildChannel(cfg, baseLog)

	registry := tools.NewRegistry()
	registry.Register(tools.NewSearchTool(loggedSearch))

	agentCfg := agent.DefaultConfig()
	agentCfg.MaxSteps = cfg.Thresholds.MaxToolSteps
	agentCfg.ToolTimeout = cfg.Timings.ToolTimeout
	agentCfg.MaxToolParallelism = cfg.Thresholds.MaxToolParallelism
	msgAgent := agent.New(foregroundLLM, registry, agentCfg, logging.For("agent"))

	researchRunner := agent.New(backgroundLLM, registry, agentCfg, logging.For("research.agent"))

	news := newsapi.New(cfg.External.NewsAPIKey, cfg.Timings.NewsRateLimitBackoff, httpClient)

	notifier := &senderNotifier{sender: sender}

	extractionPipeline := extraction.New(st, backgroundLLM, embedder, notifier, cfg, logging.For("extraction"))
	enrichmentPipeline := enrichment.New(st, backgroundLLM, embedder, rawSearch, cfg, logging.For("enrichment"))
	eventAgent := event.New(st, news, embedder, backgroundLLM, cfg, logging.For("event"))
	notificationAgent := notification.New(st, backgroundLLM, sender, cfg, logging.For("notification"))
	researchAgent := research.New(st, researchRunner, backgroundLLM, sender, cfg, logging.For("research"))

	schedules := []scheduler.Schedule{
		scheduler.NewPeriodicSchedule(extractionPipeline, cfg.Timings.ExtractionInterval),
		scheduler.NewPeriodicSchedule(researchAgent, cfg.Timings.ExtractionInterval),
		scheduler.NewIdleGatedSchedule(enrichmentPipeline, cfg.Timings.EnrichmentInterval),
		scheduler.NewCronSchedule(eventAgent),
		scheduler.NewIdleGatedSchedule(notificationAgent, cfg.Timings.NotificationInterval),
	}

	sched := scheduler.New(schedules, cfg.Timings.TickInterval, cfg.Timings.IdleThreshold, baseLog)

	if listen != nil {
		go func() {
			if err := listen(ctx, func(env channel.Envelope) {
				handleEnvelope(ctx, st, sched, msgAgent, sender, env, baseLog)
			}); err != nil && ctx.Err() == nil {
				baseLog.Error().Err(err).Msg("channel listener exited")
			}
		}()
	}

	baseLog.Info().Str("channel", string(cfg.Channel)).Msg("penny starting")
	go sched.Run(ctx)

	<-ctx.Done()
	baseLog.Info().Msg("penny shutting down")
	sched.Stop()
}

// senderNotifier adapts channel.Sender to extraction.Notifier, the narrow
// send surface the extraction pipeline needs for its single batched
// preference notification (spec.md §4.3 phase 2).
type senderNotifier struct {
	sender channel.Sender
}

func (n *senderNotifier) Notify(ctx context.Context, user, message string) error {
	if n.sender == nil {
		return nil
	}
	_, err := n.sender.SendMessage(ctx, user, message, nil, "")
	return err
}

// buildChannel constructs the configured transport's Sender and a Listen
// function with a uniform signature, so main doesn't need a type switch at
// every call site (spec.md §6 channel inbound/outbound contracts).
func buildChannel(cfg config.Config, log zerolog.Logger) (channel.Sender, func(context.Context, func(channel.Envelope)) error) {
	switch cfg.Channel {
	case config.ChannelDiscord:
		client, err := discord.New(cfg.Discord, cfg.Timings, cfg.Thresholds, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to construct discord client")
		}
		return client, client.Listen
	default:
		client := signalchannel.New(cfg.Signal, cfg.Timings, cfg.Thresholds, log)
		return client, func(ctx context.Context, handle func(channel.Envelope)) error {
			return client.Listen(ctx, cfg.Timings, handle)
		}
	}
}

// handleEnvelope is the foreground entry point: log the inbound message,
// bracket the scheduler's foreground counter so no background task
// preempts it mid-flight, run the tool-calling loop, and log/send the
// reply (spec.md §4.2, §5).
func handleEnvelope(ctx context.Context, st *store.Store, sched *scheduler.Scheduler, msgAgent *agent.Agent, sender channel.Sender, env channel.Envelope, log zerolog.Logger) {
	sched.NotifyMessage()
	user := env.SenderID

	if env.IsReaction {
		logReaction(ctx, st, env, log)
		return
	}

	incomingID, err := st.LogMessage(ctx, store.Message{
		User:      user,
		Direction: store.DirectionIncoming,
		Sender:    user,
		Content:   env.Content,
	})
	if err != nil {
		log.Error().Err(err).Str("user", user).Msg("failed to log incoming message")
		return
	}

	sched.NotifyForegroundStart()
	defer sched.NotifyForegroundEnd()

	runCtx := tools.WithUser(ctx, user)

	if sender != nil {
		_ = sender.SendTyping(runCtx, user, true)
	}

	userName := ""
	if info, err := st.GetUserInfo(runCtx, user); err == nil {
		userName = info.Name
	}

	result := msgAgent.Run(runCtx, agent.Request{
		UserMessage: env.Content,
		UserName:    userName,
	})

	if sender != nil {
		_ = sender.SendTyping(runCtx, user, false)
	}

	if sender == nil {
		return
	}

	externalID, err := sender.SendMessage(runCtx, user, result.Text, nil, "")
	if err != nil {
		log.Error().Err(err).Str("user", user).Msg("failed to send reply")
		return
	}

	var extIDPtr *string
	if externalID != "" {
		extIDPtr = &externalID
	}
	if _, err := st.LogMessage(ctx, store.Message{
		User:       user,
		Direction:  store.DirectionOutgoing,
		Sender:     "penny",
		Content:    result.Text,
		ParentID:   &incomingID,
		ExternalID: extIDPtr,
		Processed:  true,
	}); err != nil {
		log.Error().Err(err).Str("user", user).Msg("failed to log outgoing reply")
	}
}

// logReaction resolves the reaction's target outgoing message and logs the
// reaction as its own Message row, leaving engagement/preference inference
// to the extraction pipeline's reaction phase (spec.md §3 Message
// invariant: "a reaction has non-null parent_id pointing at an outgoing
// message").
func logReaction(ctx context.Context, st *store.Store, env channel.Envelope, log zerolog.Logger) {
	if env.TargetExternalID == "" {
		return
	}
	parent, err := st.MessageByExternalID(ctx, env.TargetExternalID)
	if err != nil {
		log.Debug().Err(err).Str("external_id", env.TargetExternalID).Msg("reaction target not found")
		return
	}

	parentID := parent.ID
	if _, err := st.LogMessage(ctx, store.Message{
		User:       env.SenderID,
		Direction:  store.DirectionIncoming,
		Sender:     env.SenderID,
		Content:    env.Content,
		ParentID:   &parentID,
		IsReaction: true,
	}); err != nil {
		log.Error().Err(err).Str("user", env.SenderID).Msg("failed to log reaction")
	}
}
