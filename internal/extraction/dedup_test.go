package extraction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jaredlockhart/penny/internal/store"
)

func TestNormalizeFact(t *testing.T) {
	require.Equal(t, "owns a kef ls50 meta", normalizeFact("- Owns   a KEF LS50 Meta"))
	require.Equal(t, "likes jazz", normalizeFact("Likes jazz"))
}

func TestDedupFactsStringPass(t *testing.T) {
	existing := []store.Fact{{Content: "Owns a KEF LS50 Meta"}}
	survivors, err := DedupFacts(context.Background(), nil, 0.85, []string{"- owns a kef ls50 meta", "Likes jazz"}, existing)
	require.NoError(t, err)
	require.Equal(t, []string{"Likes jazz"}, survivors)
}

func TestDedupFactsEmptyCandidates(t *testing.T) {
	survivors, err := DedupFacts(context.Background(), nil, 0.85, nil, nil)
	require.NoError(t, err)
	require.Nil(t, survivors)
}

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

func TestDedupFactsEmbeddingPass(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"The speaker sounds amazing": {1, 0, 0},
		"Totally different topic":    {0, 1, 0},
	}}
	existing := []store.Fact{{Content: "This speaker sounds great", Embedding: []float32{1, 0, 0}}}

	survivors, err := DedupFacts(context.Background(), embedder, 0.85, []string{"The speaker sounds amazing", "Totally different topic"}, existing)
	require.NoError(t, err)
	require.Equal(t, []string{"Totally different topic"}, survivors)
}

func TestTopSimilarEntities(t *testing.T) {
	entities := []store.Entity{
		{ID: 1, Name: "a", Embedding: []float32{1, 0}},
		{ID: 2, Name: "b", Embedding: []float32{0.9, 0.1}},
		{ID: 3, Name: "c", Embedding: []float32{0, 1}},
		{ID: 4, Name: "d"},
	}
	matches := TopSimilarEntities([]float32{1, 0}, entities, 0.5, 1)
	require.Len(t, matches, 1)
	require.Equal(t, int64(1), matches[0].ID)
}
