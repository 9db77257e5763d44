// Package event implements Penny's event agent: per-tick it polls the
// oldest-due follow prompt's news feed, scores relevance against the
// prompt's topic, deduplicates against recently-stored events, and stores
// the survivors (spec.md §4.5). Grounded on
// original_source/penny/penny/agents/event.py's EventAgent, reimplemented
// as a scheduler.Agent with the same precondition/fetch/score/dedup/store
// pipeline shape as internal/enrichment.Pipeline.
package event

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/rs/zerolog"

	"github.com/jaredlockhart/penny/internal/config"
	"github.com/jaredlockhart/penny/internal/llm"
	"github.com/jaredlockhart/penny/internal/newsapi"
	"github.com/jaredlockhart/penny/internal/scheduler"
	"github.com/jaredlockhart/penny/internal/store"
)

// News is the subset of a news client's surface the agent depends on, kept
// as an interface so tests can substitute a fake (spec.md §6 news API
// contract).
type News interface {
	Search(ctx context.Context, terms []string, fromDate time.Time) ([]newsapi.Article, error)
}

// Agent is the event background agent.
type Agent struct {
	Store    *store.Store
	News     News
	Embedder llm.Embedder // nil disables semantic relevance/dedup
	LLM      llm.Provider // nil disables the tag-extraction relevance fallback
	Cfg      config.Config
	Log      zerolog.Logger
}

// New constructs an Agent. News may be nil, in which case Execute is a
// permanent no-op.
func New(st *store.Store, news News, embedder llm.Embedder, provider llm.Provider, cfg config.Config, log zerolog.Logger) *Agent {
	return &Agent{Store: st, News: news, Embedder: embedder, LLM: provider, Cfg: cfg, Log: log.With().Str("agent", "event").Logger()}
}

// Name identifies this agent to the scheduler.
func (a *Agent) Name() string { return "event" }

// Execute polls at most one due follow prompt per call (spec.md §4.5
// "Execution").
func (a *Agent) Execute(ctx context.Context) (bool, error) {
	if a.News == nil {
		a.Log.Debug().Msg("no news backend configured")
		return false, nil
	}

	prompt, err := a.selectDuePrompt(ctx)
	if err != nil {
		return false, err
	}
	if prompt == nil {
		return false, nil
	}

	created, err := a.pollPrompt(ctx, *prompt)
	if err != nil {
		return false, err
	}

	if err := a.Store.MarkFollowPromptPolled(ctx, prompt.ID); err != nil {
		return false, err
	}

	return created > 0, nil
}

// selectDuePrompt finds the oldest-polled follow prompt whose cron
// expression has fired and whose minimum poll interval has elapsed, skipping
// any prompt that already has un-notified events waiting on the
// notification agent's digest (spec.md §4.5 "Selection per cycle": "Skip
// any whose cron interval... has not elapsed since last_polled_at, and any
// that already have un-notified events waiting").
func (a *Agent) selectDuePrompt(ctx context.Context) (*store.FollowPrompt, error) {
	prompts, err := a.Store.AllFollowPrompts(ctx)
	if err != nil {
		return nil, err
	}

	minInterval := a.Cfg.Timings.EventPollMinInterval
	now := time.Now()

	var due []store.FollowPrompt
	for _, p := range prompts {
		if polledTooRecently(p, now, minInterval) {
			continue
		}
		sub := scheduler.CronSubscription{Expr: p.Cron, Timezone: p.Timezone}
		if p.LastPolledAt != nil {
			sub.LastRun = *p.LastPolledAt
		}
		if !sub.Due(now) {
			continue
		}

		unnotified, err := a.Store.UnnotifiedEventsForPrompt(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if len(unnotified) > 0 {
			a.Log.Debug().Str("topic", p.Topic).Int("pending", len(unnotified)).Msg("skipping poll: unannounced events waiting")
			continue
		}

		due = append(due, p)
	}
	if len(due) == 0 {
		return nil, nil
	}

	sort.Slice(due, func(i, j int) bool {
		return lastPolled(due[i]).Before(lastPolled(due[j]))
	})
	return &due[0], nil
}

// polledTooRecently reports whether p was last polled less than minInterval
// before now; a prompt that was never polled is never too recent.
func polledTooRecently(p store.FollowPrompt, now time.Time, minInterval time.Duration) bool {
	return p.LastPolledAt != nil && now.Sub(*p.LastPolledAt) < minInterval
}

func lastPolled(p store.FollowPrompt) time.Time {
	if p.LastPolledAt == nil {
		return time.Time{}
	}
	return *p.LastPolledAt
}

// pollPrompt fetches, scores, deduplicates, ranks/caps, and stores new
// events for one follow prompt (spec.md §4.5).
func (a *Agent) pollPrompt(ctx context.Context, prompt store.FollowPrompt) (int, error) {
	fromDate := time.Now().Add(-a.Cfg.Timings.DedupWindow)
	articles, err := a.News.Search(ctx, prompt.QueryTerms, fromDate)
	if err != nil {
		a.Log.Warn().Err(err).Str("topic", prompt.Topic).Msg("news search failed")
		return 0, nil
	}
	if len(articles) == 0 {
		return 0, nil
	}

	recent, err := a.Store.RecentEventsForPrompt(ctx, prompt.ID, fromDate)
	if err != nil {
		return 0, err
	}

	var topicVec []float32
	if a.Embedder != nil {
		vecs, err := a.Embedder.Embed(ctx, []string{prompt.Topic})
		if err == nil && len(vecs) > 0 {
			topicVec = vecs[0]
		}
	}

	candidates := a.scoreAndDedup(ctx, prompt, articles, recent, topicVec)
	if len(candidates) == 0 {
		return 0, nil
	}

	maxEvents := a.Cfg.Thresholds.MaxEventsPerPoll
	if maxEvents > 0 && len(candidates) > maxEvents {
		candidates = candidates[:maxEvents]
	}

	created := 0
	for _, c := range candidates {
		id, err := a.Store.InsertEvent(ctx, c.event)
		if err != nil {
			return created, err
		}
		if id != 0 {
			created++
			a.Log.Info().Str("topic", prompt.Topic).Str("headline", c.event.Headline).Msg("event created")
		}
	}
	return created, nil
}

type scoredEvent struct {
	event     store.Event
	relevance float64
}

// scoreAndDedup scores each article's relevance to the prompt's topic,
// discarding anything below the relevance threshold, then filters out
// whatever survives but is already covered by a recent event via three
// dedup layers: exact external-id match, normalized-headline match, and
// semantic match by token-containment-ratio or embedding similarity
// (spec.md §4.5 "Relevance" then "Dedup (three layers)").
func (a *Agent) scoreAndDedup(ctx context.Context, prompt store.FollowPrompt, articles []newsapi.Article, recent []store.Event, topicVec []float32) []scoredEvent {
	embedThreshold := a.Cfg.Thresholds.EventEmbeddingSimilarity
	tcrThreshold := a.Cfg.Thresholds.EventTokenContainment

	var out []scoredEvent
	for _, article := range articles {
		if article.Title == "" || article.URL == "" {
			continue
		}

		articleVec, relevance, accepted := a.scoreRelevance(ctx, article, topicVec)
		if !accepted {
			a.Log.Debug().Str("topic", prompt.Topic).Str("headline", article.Title).Msg("relevance rejected")
			continue
		}

		if isURLDuplicate(article, recent) {
			continue
		}
		if isHeadlineDuplicate(article, recent) {
			continue
		}
		if isSemanticDuplicate(article, articleVec, recent, tcrThreshold, embedThreshold) {
			continue
		}

		out = append(out, scoredEvent{
			event: store.Event{
				User:           prompt.User,
				Headline:       article.Title,
				Summary:        article.Description,
				OccurredAt:     article.PublishedAt,
				SourceURL:      article.URL,
				ExternalID:     article.URL,
				Embedding:      articleVec,
				FollowPromptID: prompt.ID,
			},
			relevance: relevance,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].relevance > out[j].relevance })
	return out
}

// defaultEventRelevanceThreshold is used only when config leaves the
// threshold unset.
const defaultEventRelevanceThreshold = 0.5

// scoreRelevance accepts an article iff its title embeds within threshold
// of the subscription topic, or, failing that, iff topic tags extracted
// from its headline do (spec.md §4.5 "Relevance": "accept if cosine
// similarity >= threshold... Fallback: if title fails, ask the LLM to
// extract 2-4 topic tags from the title, embed the tag list, and retry.
// Discard below threshold."). With no topic embedding (no embedder
// configured) every article is accepted with a neutral relevance score,
// matching the original's "no embedding model - pass all through" case.
func (a *Agent) scoreRelevance(ctx context.Context, article newsapi.Article, topicVec []float32) ([]float32, float64, bool) {
	if len(topicVec) == 0 {
		return nil, 1.0, true
	}

	threshold := a.Cfg.Thresholds.EventRelevanceThreshold
	if threshold <= 0 {
		threshold = defaultEventRelevanceThreshold
	}

	var articleVec []float32
	if a.Embedder != nil {
		vecs, err := a.Embedder.Embed(ctx, []string{article.Title})
		if err == nil && len(vecs) > 0 {
			articleVec = vecs[0]
		}
	}
	if len(articleVec) == 0 {
		// Can't embed the title at all — let it through with a neutral
		// score rather than discarding on an embedder failure.
		return nil, 1.0, true
	}

	if score := llm.CosineSimilarity(articleVec, topicVec); score >= threshold {
		return articleVec, score, true
	}

	tagVec := a.extractTagEmbedding(ctx, article.Title)
	if len(tagVec) == 0 {
		return nil, 0, false
	}
	if score := llm.CosineSimilarity(tagVec, topicVec); score >= threshold {
		return articleVec, score, true
	}
	return nil, 0, false
}

// extractTagEmbedding asks the LLM for 2-4 topic tags summarizing headline,
// then embeds the joined tag list, used as a relevance fallback for broad
// subscription topics whose own embedding sits far from specific article
// titles (spec.md §4.5 "Fallback").
func (a *Agent) extractTagEmbedding(ctx context.Context, headline string) []float32 {
	if a.LLM == nil || a.Embedder == nil {
		return nil
	}

	result, err := a.LLM.Generate(ctx, eventTagExtractionInstructions+"\n\nHeadline: "+headline, nil, eventTagExtractionFormat)
	if err != nil {
		a.Log.Debug().Err(err).Str("headline", headline).Msg("tag extraction call failed")
		return nil
	}

	var parsed eventTags
	if err := json.Unmarshal([]byte(result.Content), &parsed); err != nil || len(parsed.Tags) == 0 {
		a.Log.Debug().Str("headline", headline).Msg("tag extraction response unparseable")
		return nil
	}

	vecs, err := a.Embedder.Embed(ctx, []string{strings.Join(parsed.Tags, ", ")})
	if err != nil || len(vecs) == 0 {
		return nil
	}
	return vecs[0]
}

// isURLDuplicate is dedup layer one: exact source URL match (spec.md §4.5).
func isURLDuplicate(article newsapi.Article, recent []store.Event) bool {
	for _, e := range recent {
		if e.SourceURL == article.URL || e.ExternalID == article.URL {
			return true
		}
	}
	return false
}

// isHeadlineDuplicate is dedup layer two: normalized-headline exact match
// (spec.md §4.5 "normalized-headline match").
func isHeadlineDuplicate(article newsapi.Article, recent []store.Event) bool {
	norm := normalizeHeadline(article.Title)
	for _, e := range recent {
		if normalizeHeadline(e.Headline) == norm {
			return true
		}
	}
	return false
}

// isSemanticDuplicate is dedup layer three: token-containment-ratio or
// embedding-similarity match against any recent event (spec.md §4.5
// "semantic match via token-containment-ratio OR embedding similarity").
func isSemanticDuplicate(article newsapi.Article, articleVec []float32, recent []store.Event, tcrThreshold, embedThreshold float64) bool {
	for _, e := range recent {
		if tokenContainmentRatio(article.Title, e.Headline) >= tcrThreshold {
			return true
		}
		if len(articleVec) > 0 && len(e.Embedding) > 0 {
			if llm.CosineSimilarity(articleVec, e.Embedding) >= embedThreshold {
				return true
			}
		}
	}
	return false
}

// normalizeHeadline lowercases, strips accents, and removes punctuation, so
// near-identical headlines (different casing or quoting) compare equal.
// Mirrors original_source's _normalize_headline (NFKD + lowercase + strip
// non-alphanumeric).
func normalizeHeadline(headline string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, headline)
	if err != nil {
		stripped = headline
	}

	var b []rune
	prevSpace := false
	for _, r := range stripped {
		r = unicode.ToLower(r)
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b = append(b, r)
			prevSpace = false
		case unicode.IsSpace(r):
			if !prevSpace && len(b) > 0 {
				b = append(b, ' ')
				prevSpace = true
			}
		}
	}
	for len(b) > 0 && b[len(b)-1] == ' ' {
		b = b[:len(b)-1]
	}
	return string(b)
}

// tokenContainmentRatio is |tokens(a) ∩ tokens(b)| / min(|tokens(a)|,
// |tokens(b)|), a standard asymmetric-length-tolerant near-duplicate
// measure. The original implementation's exact formula was not present in
// the retrieved source (only its callers and tests survived distillation);
// this is a faithful reimplementation of the well-known definition rather
// than a direct translation.
func tokenContainmentRatio(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	smaller, larger := setA, setB
	if len(larger) < len(smaller) {
		smaller, larger = larger, smaller
	}

	overlap := 0
	for tok := range smaller {
		if larger[tok] {
			overlap++
		}
	}
	return float64(overlap) / float64(len(smaller))
}

func tokenSet(s string) map[string]bool {
	norm := normalizeHeadline(s)
	out := make(map[string]bool)
	word := make([]rune, 0, 8)
	flush := func() {
		if len(word) > 0 {
			out[string(word)] = true
			word = word[:0]
		}
	}
	for _, r := range norm {
		if r == ' ' {
			flush()
			continue
		}
		word = append(word, r)
	}
	flush()
	return out
}
