package event

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jaredlockhart/penny/internal/config"
	"github.com/jaredlockhart/penny/internal/llm"
	"github.com/jaredlockhart/penny/internal/newsapi"
	"github.com/jaredlockhart/penny/internal/store"
)

// fakeEmbedder returns a vector keyed by exact input text, so tests can
// distinguish an article title's embedding from its extracted tags'.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vectors[t]
	}
	return out, nil
}

type fakeProvider struct {
	response string
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, format *llm.Format) (llm.ChatResult, error) {
	return llm.ChatResult{Content: f.response}, nil
}

func (f *fakeProvider) Generate(ctx context.Context, prompt string, tools []llm.ToolSchema, format *llm.Format) (llm.ChatResult, error) {
	return llm.ChatResult{Content: f.response}, nil
}

func newTestAgent() *Agent {
	return &Agent{
		Cfg: config.Config{Thresholds: config.Thresholds{EventRelevanceThreshold: 0.8}},
		Log: zerolog.Nop(),
	}
}

func TestNormalizeHeadlineStripsPunctuationAndCase(t *testing.T) {
	require.Equal(t, "the quick fox", normalizeHeadline("The Quick, Fox!!"))
	require.Equal(t, normalizeHeadline("Café Opens Downtown"), normalizeHeadline("cafe opens downtown"))
}

func TestIsURLDuplicateMatchesExternalID(t *testing.T) {
	recent := []store.Event{{ExternalID: "https://example.com/a", SourceURL: "https://example.com/a"}}
	dup := newsapi.Article{URL: "https://example.com/a"}
	fresh := newsapi.Article{URL: "https://example.com/b"}
	require.True(t, isURLDuplicate(dup, recent))
	require.False(t, isURLDuplicate(fresh, recent))
}

func TestIsHeadlineDuplicateIgnoresCaseAndPunctuation(t *testing.T) {
	recent := []store.Event{{Headline: "Fed Raises Rates Again"}}
	dup := newsapi.Article{Title: "fed raises rates, again!"}
	fresh := newsapi.Article{Title: "Senate Passes New Bill"}
	require.True(t, isHeadlineDuplicate(dup, recent))
	require.False(t, isHeadlineDuplicate(fresh, recent))
}

func TestTokenContainmentRatioFullOverlap(t *testing.T) {
	ratio := tokenContainmentRatio("fed raises interest rates", "fed raises rates")
	require.Equal(t, 1.0, ratio)
}

func TestTokenContainmentRatioNoOverlap(t *testing.T) {
	ratio := tokenContainmentRatio("fed raises rates", "local team wins championship")
	require.Equal(t, 0.0, ratio)
}

func TestIsSemanticDuplicateByTokenContainment(t *testing.T) {
	recent := []store.Event{{Headline: "fed raises interest rates sharply"}}
	article := newsapi.Article{Title: "fed raises interest rates"}
	require.True(t, isSemanticDuplicate(article, nil, recent, 0.7, 0.85))
}

func TestIsSemanticDuplicateByEmbedding(t *testing.T) {
	recent := []store.Event{{Headline: "unrelated headline", Embedding: []float32{1, 0, 0}}}
	article := newsapi.Article{Title: "totally different words"}
	require.True(t, isSemanticDuplicate(article, []float32{1, 0, 0}, recent, 0.99, 0.85))
	require.False(t, isSemanticDuplicate(article, []float32{0, 1, 0}, recent, 0.99, 0.85))
}

func TestScoreRelevanceAcceptsAllWithoutTopicVector(t *testing.T) {
	a := newTestAgent()
	_, score, accepted := a.scoreRelevance(context.Background(), newsapi.Article{Title: "anything"}, nil)
	require.True(t, accepted)
	require.Equal(t, 1.0, score)
}

func TestScoreRelevanceAcceptsAboveThreshold(t *testing.T) {
	a := newTestAgent()
	a.Embedder = &fakeEmbedder{vectors: map[string][]float32{"matching title": {1, 0}}}

	vec, score, accepted := a.scoreRelevance(context.Background(), newsapi.Article{Title: "matching title"}, []float32{1, 0})
	require.True(t, accepted)
	require.InDelta(t, 1.0, score, 0.001)
	require.Equal(t, []float32{1, 0}, vec)
}

func TestScoreRelevanceRejectsBelowThresholdWithNoFallbackLLM(t *testing.T) {
	a := newTestAgent()
	a.Embedder = &fakeEmbedder{vectors: map[string][]float32{"unrelated title": {0, 1}}}

	_, _, accepted := a.scoreRelevance(context.Background(), newsapi.Article{Title: "unrelated title"}, []float32{1, 0})
	require.False(t, accepted)
}

func TestScoreRelevanceFallsBackToTagExtraction(t *testing.T) {
	a := newTestAgent()
	a.Embedder = &fakeEmbedder{vectors: map[string][]float32{
		"broad headline": {0, 1},
		"science, space": {1, 0},
	}}
	a.LLM = &fakeProvider{response: `{"tags":["science","space"]}`}

	_, score, accepted := a.scoreRelevance(context.Background(), newsapi.Article{Title: "broad headline"}, []float32{1, 0})
	require.True(t, accepted)
	require.InDelta(t, 1.0, score, 0.001)
}

func TestScoreRelevanceRejectsWhenTagFallbackAlsoMisses(t *testing.T) {
	a := newTestAgent()
	a.Embedder = &fakeEmbedder{vectors: map[string][]float32{
		"broad headline": {0, 1},
		"unrelated, tags": {0, 1},
	}}
	a.LLM = &fakeProvider{response: `{"tags":["unrelated","tags"]}`}

	_, _, accepted := a.scoreRelevance(context.Background(), newsapi.Article{Title: "broad headline"}, []float32{1, 0})
	require.False(t, accepted)
}

func TestSelectDuePromptSkipsBelowMinInterval(t *testing.T) {
	a := &Agent{}
	a.Cfg.Timings.EventPollMinInterval = time.Hour

	now := time.Now()
	recent := now.Add(-10 * time.Minute)
	prompts := []store.FollowPrompt{
		{ID: 1, Cron: "* * * * *", Timezone: "UTC", LastPolledAt: &recent},
	}
	var due []store.FollowPrompt
	for _, p := range prompts {
		if polledTooRecently(p, now, a.Cfg.Timings.EventPollMinInterval) {
			continue
		}
		due = append(due, p)
	}
	require.Empty(t, due)
}
