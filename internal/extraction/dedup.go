package extraction

import (
	"context"
	"regexp"
	"strings"

	"github.com/jaredlockhart/penny/internal/llm"
	"github.com/jaredlockhart/penny/internal/store"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// normalizeFact strips a leading bullet, lowercases, and collapses
// whitespace so near-duplicate facts with minor formatting differences
// compare equal (spec.md §4.3 "String dedup ... normalized forms").
func normalizeFact(fact string) string {
	text := strings.TrimSpace(fact)
	text = strings.TrimPrefix(text, "-")
	text = strings.TrimSpace(text)
	return whitespaceRe.ReplaceAllString(strings.ToLower(text), " ")
}

// DedupFacts filters candidate fact strings against an entity's existing
// facts in two passes: normalized string match, then (if an embedder is
// supplied) cosine-similarity match at or above threshold. It is exported
// so the enrichment agent can reuse it identically (spec.md §4.4, per
// SPEC_FULL.md §3.3's shared-helper note).
func DedupFacts(ctx context.Context, embedder llm.Embedder, threshold float64, candidates []string, existing []store.Fact) ([]string, error) {
	seen := make(map[string]bool, len(existing))
	for _, f := range existing {
		seen[normalizeFact(f.Content)] = true
	}

	var stringSurvivors []string
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		norm := normalizeFact(c)
		if seen[norm] {
			continue
		}
		seen[norm] = true
		stringSurvivors = append(stringSurvivors, c)
	}
	if len(stringSurvivors) == 0 {
		return nil, nil
	}

	if embedder == nil {
		return stringSurvivors, nil
	}

	var existingEmbedded []store.Fact
	for _, f := range existing {
		if len(f.Embedding) > 0 {
			existingEmbedded = append(existingEmbedded, f)
		}
	}
	if len(existingEmbedded) == 0 {
		return stringSurvivors, nil
	}

	vecs, err := embedder.Embed(ctx, stringSurvivors)
	if err != nil {
		// Embedding dedup is a best-effort second pass: keep every
		// string-level survivor rather than failing the whole extraction.
		return stringSurvivors, nil
	}

	var survivors []string
	for i, text := range stringSurvivors {
		if i >= len(vecs) {
			survivors = append(survivors, text)
			continue
		}
		if !similarToAny(vecs[i], existingEmbedded, threshold) {
			survivors = append(survivors, text)
		}
	}
	return survivors, nil
}

func similarToAny(query []float32, existing []store.Fact, threshold float64) bool {
	for _, f := range existing {
		if llm.CosineSimilarity(query, f.Embedding) >= threshold {
			return true
		}
	}
	return false
}

// TopSimilarEntities returns up to topK entities whose embedding is at or
// above threshold cosine similarity to query, most similar first. Entities
// without an embedding are skipped. Used by preference-entity linking
// (spec.md §4.3).
func TopSimilarEntities(query []float32, entities []store.Entity, threshold float64, topK int) []store.Entity {
	type scored struct {
		entity store.Entity
		score  float64
	}
	var candidates []scored
	for _, e := range entities {
		if len(e.Embedding) == 0 {
			continue
		}
		score := llm.CosineSimilarity(query, e.Embedding)
		if score >= threshold {
			candidates = append(candidates, scored{e, score})
		}
	}
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].score > candidates[j-1].score; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	out := make([]store.Entity, len(candidates))
	for i, c := range candidates {
		out[i] = c.entity
	}
	return out
}
