package enrichment

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jaredlockhart/penny/internal/config"
	"github.com/jaredlockhart/penny/internal/llm"
	"github.com/jaredlockhart/penny/internal/store"
	"github.com/jaredlockhart/penny/internal/tools"
)

type fakeProvider struct {
	response string
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []llm.Message, toolSchemas []llm.ToolSchema, format *llm.Format) (llm.ChatResult, error) {
	return llm.ChatResult{Content: f.response}, nil
}

func (f *fakeProvider) Generate(ctx context.Context, prompt string, toolSchemas []llm.ToolSchema, format *llm.Format) (llm.ChatResult, error) {
	return llm.ChatResult{Content: f.response}, nil
}

type fakeSearch struct {
	result tools.SearchResult
	err    error
}

func (f *fakeSearch) Search(ctx context.Context, query string) (tools.SearchResult, error) {
	return f.result, f.err
}

func newTestPipeline() *Pipeline {
	return &Pipeline{
		Cfg: config.Config{
			Timings: config.Timings{
				EnrichmentInterval:  10 * time.Minute,
				EnrichmentCooldown:  6 * time.Hour,
				HeatHalfLife:        5 * 24 * time.Hour,
			},
			Thresholds: config.Thresholds{
				EnrichmentFactCountSplit: 5,
				MinEngagementInterest:    0.1,
				RelatedEntitySimilarity:  0.6,
				RelatedEntityBudget:      2,
				DedupEmbeddingSimilarity: 0.85,
			},
		},
		Log: zerolog.Nop(),
	}
}

func TestShouldEnrichRateGate(t *testing.T) {
	p := newTestPipeline()
	require.True(t, p.shouldEnrich())

	p.markEnrichmentDone()
	require.False(t, p.shouldEnrich())

	p.lastEnrichTime = time.Now().Add(-20 * time.Minute)
	require.True(t, p.shouldEnrich())
}

func TestBuildQueryEnrichmentModeIncludesExistingFacts(t *testing.T) {
	p := newTestPipeline()
	facts := []store.Fact{{Content: "Has a Uni-Q driver"}}
	query := p.buildQuery("kef ls50 meta", true, facts, nil)
	require.Contains(t, query, "Tell me more about kef ls50 meta")
	require.Contains(t, query, "Has a Uni-Q driver")
}

func TestBuildQueryEnrichmentModeNoFactsIsJustLabel(t *testing.T) {
	p := newTestPipeline()
	tagline := "british speaker brand"
	query := p.buildQuery("kef", true, nil, &tagline)
	require.Equal(t, "kef (british speaker brand)", query)
}

func TestBuildQueryBriefingModeIncludesYear(t *testing.T) {
	p := newTestPipeline()
	query := p.buildQuery("kef ls50 meta", false, nil, nil)
	require.Contains(t, query, "latest news updates")
	require.Contains(t, query, "kef ls50 meta")
}

func TestPriorityScoreMatchesEnrichmentScenario(t *testing.T) {
	a := priorityScore(1.0, 4)
	b := priorityScore(0.5, 1)
	require.InDelta(t, 0.387, a, 0.01)
	require.InDelta(t, 0.315, b, 0.01)
	require.Greater(t, a, b)
}

func TestCleanTaglineRejectsTooLong(t *testing.T) {
	require.Equal(t, "", cleanTagline(""))
	require.Equal(t, "a short tagline", cleanTagline("A Short Tagline."))
	require.Equal(t, "", cleanTagline("one two three four five six seven eight nine ten eleven"))
}

func TestIsDiscoveryDuplicate(t *testing.T) {
	existing := []store.Entity{{Name: "kef ls50 meta", Embedding: []float32{1, 0, 0}}}
	require.True(t, isDiscoveryDuplicate([]float32{1, 0, 0}, existing, 0.85))
	require.False(t, isDiscoveryDuplicate([]float32{0, 1, 0}, existing, 0.85))
}

func TestExtractRawFactsParsesResponse(t *testing.T) {
	p := newTestPipeline()
	p.LLM = &fakeProvider{response: `{"facts":["Uses a concentric Uni-Q driver"]}`}
	facts := p.extractRawFacts(context.Background(), store.Entity{Name: "kef ls50 meta"}, nil, "search text")
	require.Equal(t, []string{"Uses a concentric Uni-Q driver"}, facts)
}

func TestIdentifyEntityCandidatesParsesResponse(t *testing.T) {
	p := newTestPipeline()
	p.LLM = &fakeProvider{response: `{"entities":[{"name":"nvidia jetson","tagline":"edge ai board"}]}`}
	candidates := p.identifyEntityCandidates(context.Background(), "kef ls50 meta", map[string]bool{"kef ls50 meta": true}, "text")
	require.Len(t, candidates, 1)
	require.Equal(t, "nvidia jetson", candidates[0].Name)
}

func TestExecuteNoSearchBackendIsNoop(t *testing.T) {
	p := newTestPipeline()
	did, err := p.Execute(context.Background())
	require.NoError(t, err)
	require.False(t, did)
}
