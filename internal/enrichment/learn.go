package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jaredlockhart/penny/internal/extraction"
	"github.com/jaredlockhart/penny/internal/store"
)

const entityFactExtractionInstructions = "Extract new, specific, verifiable facts about the named entity from the search results below. Do not repeat facts already known."

// researchEntity searches, extracts facts, regenerates the entity's
// embedding, discovers related entities, and records the enrichment run
// (spec.md §4.4 "Execution").
func (p *Pipeline) researchEntity(ctx context.Context, candidate scoredEntity) (bool, error) {
	entity := candidate.entity

	factSplit := p.Cfg.Thresholds.EnrichmentFactCountSplit
	if factSplit <= 0 {
		factSplit = 5
	}
	isEnrichmentMode := candidate.factCount < factSplit

	query := p.buildQuery(entity.Name, isEnrichmentMode, candidate.facts, entity.Tagline)
	p.Log.Info().Str("entity", entity.Name).Str("query", query).Bool("enrichment_mode", isEnrichmentMode).Msg("enrichment search")

	searchText, err := p.search(ctx, entity.User, query)
	if err != nil {
		p.Log.Warn().Err(err).Str("entity", entity.Name).Msg("enrichment search failed")
		return false, nil
	}
	if searchText == "" {
		return false, nil
	}

	newFacts := p.extractRawFacts(ctx, entity, candidate.facts, searchText)
	survivors, err := extraction.DedupFacts(ctx, p.Embedder, p.Cfg.Thresholds.DedupEmbeddingSimilarity, newFacts, candidate.facts)
	if err != nil {
		return false, err
	}

	stored, err := p.storeNewFacts(ctx, entity, survivors, nil, nil)
	if err != nil {
		return false, err
	}

	if len(stored) > 0 && p.Embedder != nil {
		if err := p.updateEntityEmbedding(ctx, entity); err != nil {
			p.Log.Warn().Err(err).Str("entity", entity.Name).Msg("failed to update entity embedding")
		} else {
			p.Log.Info().Str("entity", entity.Name).Msg("updated entity embedding")
		}
	}

	if p.Embedder != nil {
		discovered, err := p.discoverRelatedEntities(ctx, entity, entity.User, searchText)
		if err != nil {
			p.Log.Warn().Err(err).Str("entity", entity.Name).Msg("related entity discovery failed")
		} else if len(discovered) > 0 {
			p.Log.Info().Int("count", len(discovered)).Str("entity", entity.Name).Msg("discovered related entities")
		}
	}

	if err := p.Store.SetLastEnrichedAt(ctx, entity.ID); err != nil {
		return false, err
	}
	return true, nil
}

// buildQuery builds the search string for an entity: a broad "tell me
// more" query in enrichment mode (existing facts included so the search
// backend can focus on novelty), or a dated news query in briefing mode
// (spec.md §4.4).
func (p *Pipeline) buildQuery(name string, isEnrichmentMode bool, existingFacts []store.Fact, tagline *string) string {
	label := name
	if tagline != nil && *tagline != "" {
		label = fmt.Sprintf("%s (%s)", name, *tagline)
	}

	if isEnrichmentMode {
		if len(existingFacts) == 0 {
			return label
		}
		var b strings.Builder
		for _, f := range existingFacts {
			fmt.Fprintf(&b, "- %s\n", f.Content)
		}
		return fmt.Sprintf("Tell me more about %s. I already know:\n%sWhat else is important to know?", label, b.String())
	}

	year := time.Now().Year()
	return fmt.Sprintf("%s latest news updates %d", label, year)
}

// search runs the query through the search backend and logs it, tagged
// penny_enrichment (spec.md §4.4 "call the search tool (tagged
// penny_enrichment in the search log)").
func (p *Pipeline) search(ctx context.Context, user, query string) (string, error) {
	result, err := p.Search.Search(ctx, query)
	if err != nil {
		return "", err
	}

	if _, err := p.Store.LogSearch(ctx, store.SearchLog{
		User:      user,
		Query:     query,
		Response:  result.Answer,
		Trigger:   store.TriggerPennyEnrichment,
		Extracted: true,
	}); err != nil {
		p.Log.Warn().Err(err).Msg("failed to log enrichment search")
	}

	return result.Answer, nil
}

// extractRawFacts calls the LLM to pull new facts about entity out of
// searchText.
func (p *Pipeline) extractRawFacts(ctx context.Context, entity store.Entity, existingFacts []store.Fact, searchText string) []string {
	label := entity.Name
	if entity.Tagline != nil && *entity.Tagline != "" {
		label = fmt.Sprintf("%s (%s)", entity.Name, *entity.Tagline)
	}

	var existingBlock string
	if len(existingFacts) > 0 {
		var b strings.Builder
		b.WriteString("\n\nAlready known facts (return only NEW facts not listed here):\n")
		for _, f := range existingFacts {
			fmt.Fprintf(&b, "- %s\n", f.Content)
		}
		existingBlock = b.String()
	}

	prompt := fmt.Sprintf("%s\n\nEntity: %s\n\nContent:\n%s%s", entityFactExtractionInstructions, label, searchText, existingBlock)

	result, err := p.LLM.Generate(ctx, prompt, nil, extractedFactsFormat)
	if err != nil {
		p.Log.Error().Err(err).Str("entity", entity.Name).Msg("fact extraction call failed")
		return nil
	}

	var parsed extractedFacts
	if err := json.Unmarshal([]byte(result.Content), &parsed); err != nil {
		p.Log.Error().Err(err).Str("entity", entity.Name).Msg("fact extraction response unparseable")
		return nil
	}
	return parsed.Facts
}

// storeNewFacts batch-embeds and inserts new fact rows, returning the texts
// actually stored.
func (p *Pipeline) storeNewFacts(ctx context.Context, entity store.Entity, texts []string, sourceSearchLogID, sourceMessageID *int64) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, len(texts))
	if p.Embedder != nil {
		vecs, err := p.Embedder.Embed(ctx, texts)
		if err != nil {
			p.Log.Warn().Err(err).Str("entity", entity.Name).Msg("failed to embed new facts")
		} else {
			embeddings = vecs
		}
	}

	var stored []string
	for i, text := range texts {
		var emb []float32
		if i < len(embeddings) {
			emb = embeddings[i]
		}
		if _, err := p.Store.InsertFact(ctx, store.Fact{
			EntityID:          entity.ID,
			Content:           text,
			Embedding:         emb,
			SourceSearchLogID: sourceSearchLogID,
			SourceMessageID:   sourceMessageID,
		}); err != nil {
			return stored, err
		}
		stored = append(stored, text)
		p.Log.Info().Str("entity", entity.Name).Str("fact", text).Msg("fact learned")
	}
	return stored, nil
}

// updateEntityEmbedding regenerates an entity's composite embedding from
// its current name, tagline, and facts.
func (p *Pipeline) updateEntityEmbedding(ctx context.Context, entity store.Entity) error {
	facts, err := p.Store.FactsForEntity(ctx, entity.ID)
	if err != nil {
		return err
	}
	text := buildEntityEmbedText(entity, facts)
	vecs, err := p.Embedder.Embed(ctx, []string{text})
	if err != nil {
		return err
	}
	if len(vecs) == 0 {
		return nil
	}
	return p.Store.UpdateEntityEmbedding(ctx, entity.ID, vecs[0])
}

// buildEntityEmbedText mirrors extraction's composite-embedding text
// (name + tagline + facts); kept local because extraction's own
// buildEntityEmbedText is unexported.
func buildEntityEmbedText(entity store.Entity, facts []store.Fact) string {
	var b strings.Builder
	b.WriteString(entity.Name)
	if entity.Tagline != nil && *entity.Tagline != "" {
		b.WriteString(". ")
		b.WriteString(*entity.Tagline)
	}
	for _, f := range facts {
		b.WriteString(". ")
		b.WriteString(f.Content)
	}
	return b.String()
}
