package extraction

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jaredlockhart/penny/internal/config"
	"github.com/jaredlockhart/penny/internal/llm"
	"github.com/jaredlockhart/penny/internal/store"
)

type fakeProvider struct {
	response string
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, format *llm.Format) (llm.ChatResult, error) {
	return llm.ChatResult{Content: f.response}, nil
}

func (f *fakeProvider) Generate(ctx context.Context, prompt string, tools []llm.ToolSchema, format *llm.Format) (llm.ChatResult, error) {
	return llm.ChatResult{Content: f.response}, nil
}

func newTestPipeline(provider llm.Provider) *Pipeline {
	return &Pipeline{
		LLM: provider,
		Cfg: config.Config{
			Thresholds: config.Thresholds{
				DedupEmbeddingSimilarity:       0.85,
				MinMessageLength:               8,
				PreferenceEntityLinkSimilarity: 0.6,
				PreferenceEntityLinkTopK:       3,
			},
		},
		Log: zerolog.Nop(),
	}
}

func TestIdentifyEntitiesParsesResponse(t *testing.T) {
	p := newTestPipeline(&fakeProvider{response: `{"known":["kef ls50 meta"],"new":[{"name":"nvidia jetson"}]}`})
	result, ok := p.identifyEntities(context.Background(), []string{"kef ls50 meta"}, "identify", "User message", "text", "text")
	require.True(t, ok)
	require.Equal(t, []string{"kef ls50 meta"}, result.Known)
	require.Len(t, result.New, 1)
	require.Equal(t, "nvidia jetson", result.New[0].Name)
}

func TestIdentifyEntitiesEmptyResponseIsNoMatch(t *testing.T) {
	p := newTestPipeline(&fakeProvider{response: `{"known":[],"new":[]}`})
	_, ok := p.identifyEntities(context.Background(), nil, "identify", "User message", "text", "text")
	require.False(t, ok)
}

func TestExtractFactsForParsesResponse(t *testing.T) {
	p := newTestPipeline(&fakeProvider{response: `{"facts":["User is interested in this speaker"]}`})
	facts := p.extractFactsFor(context.Background(), "kef ls50 meta", nil, "extract", "User message", "text", "text")
	require.Equal(t, []string{"User is interested in this speaker"}, facts)
}

func TestShouldProcessMessageRejectsShortAndCommands(t *testing.T) {
	p := newTestPipeline(nil)
	require.False(t, p.shouldProcessMessage(store.Message{Content: "hi"}))
	require.False(t, p.shouldProcessMessage(store.Message{Content: "/learn about KEF speakers"}))
	require.True(t, p.shouldProcessMessage(store.Message{Content: "I just bought a KEF LS50 Meta"}))
}

func TestStrengthForKnownAndUnknownType(t *testing.T) {
	require.Equal(t, 1.0, strengthFor(store.EngagementExplicitStatement))
	require.Equal(t, 0.2, strengthFor(store.EngagementType("unrecognized")))
}

func TestBuildPreferencePromptMentionsExistingTopics(t *testing.T) {
	prompt := buildPreferencePrompt(store.PreferenceLike, map[string]bool{"jazz": true}, []string{"great track"}, []string{"I love this song"})
	require.Contains(t, prompt, "Already known likes: jazz")
	require.Contains(t, prompt, "I love this song")
	require.Contains(t, prompt, "great track")
}
