package extraction

import (
	"context"
	"strings"

	"github.com/jaredlockhart/penny/internal/store"
)

const identifyEntitiesInstructions = "Identify entities (people, places, products, topics) mentioned below that the user has shown interest in."

const extractFactsInstructions = "Extract new, specific, verifiable facts about the named entity from the text below. Do not repeat facts already known."

// genericEntityWords rejects candidate names that are really generic nouns
// an LLM over-eagerly tagged as an entity, not things worth tracking.
var genericEntityWords = map[string]bool{
	"it": true, "this": true, "that": true, "thing": true, "stuff": true,
	"today": true, "yesterday": true, "tomorrow": true, "user": true,
}

// IsValidEntityName rejects candidate entity names too short, too long, or
// too generic to be worth tracking. Exported so the enrichment agent can
// apply the same filter to discovered-entity candidates (spec.md §4.4).
func IsValidEntityName(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if len(name) < 2 || len(name) > 80 {
		return false
	}
	if genericEntityWords[name] {
		return false
	}
	words := strings.Fields(name)
	if len(words) == 0 || len(words) > 8 {
		return false
	}
	return true
}

// extractAndStoreEntities runs the shared two-pass entity/fact extraction
// used by both the search-log and message phases (spec.md §4.3): pass 1
// identifies known+new entity names, pass 2 extracts new facts per entity,
// deduplicated and embedded before insert. Returns the entities that were
// referenced, whether or not they gained new facts.
func (p *Pipeline) extractAndStoreEntities(ctx context.Context, user, contextLabel, contextValue, content string, sourceSearchLogID, sourceMessageID *int64) ([]store.Entity, error) {
	existing, err := p.Store.EntitiesForUser(ctx, user)
	if err != nil {
		return nil, err
	}
	knownNames := make([]string, len(existing))
	byName := make(map[string]store.Entity, len(existing))
	for i, e := range existing {
		knownNames[i] = e.Name
		byName[e.Name] = e
	}

	identified, ok := p.identifyEntities(ctx, knownNames, identifyEntitiesInstructions, contextLabel, contextValue, content)
	if !ok {
		return nil, nil
	}

	var toProcess []store.Entity

	for _, ne := range identified.New {
		name := strings.ToLower(strings.TrimSpace(ne.Name))
		if name == "" {
			continue
		}
		entity, err := p.Store.GetOrCreateEntity(ctx, user, name, nil)
		if err != nil {
			p.Log.Error().Err(err).Str("entity", name).Msg("failed to create entity")
			continue
		}
		toProcess = append(toProcess, entity)
		p.Log.Info().Str("entity", name).Msg("new entity discovered")
	}

	for _, knownName := range identified.Known {
		norm := strings.ToLower(strings.TrimSpace(knownName))
		if e, ok := byName[norm]; ok {
			toProcess = append(toProcess, e)
		}
	}

	var withNewFacts []int64
	for _, entity := range toProcess {
		existingFacts, err := p.Store.FactsForEntity(ctx, entity.ID)
		if err != nil {
			return nil, err
		}

		existingTexts := make([]string, len(existingFacts))
		for i, f := range existingFacts {
			existingTexts[i] = f.Content
		}

		newFacts := p.extractFactsFor(ctx, entity.Name, existingTexts, extractFactsInstructions, contextLabel, contextValue, content)
		if len(newFacts) == 0 {
			continue
		}

		survivors, err := DedupFacts(ctx, p.Embedder, p.Cfg.Thresholds.DedupEmbeddingSimilarity, newFacts, existingFacts)
		if err != nil {
			return nil, err
		}
		if len(survivors) == 0 {
			continue
		}

		embeddings := make([][]float32, len(survivors))
		if p.Embedder != nil {
			vecs, err := p.Embedder.Embed(ctx, survivors)
			if err != nil {
				p.Log.Warn().Err(err).Str("entity", entity.Name).Msg("failed to embed new facts")
			} else {
				embeddings = vecs
			}
		}

		for i, text := range survivors {
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
				return nil, err
			}
			p.Log.Info().Str("entity", entity.Name).Str("fact", text).Msg("fact learned")
		}

		withNewFacts = append(withNewFacts, entity.ID)
	}

	if p.Embedder != nil && len(withNewFacts) > 0 {
		changed := make(map[int64]bool, len(withNewFacts))
		for _, id := range withNewFacts {
			changed[id] = true
		}
		var toEmbed []store.Entity
		for _, e := range toProcess {
			if changed[e.ID] {
				toEmbed = append(toEmbed, e)
			}
		}
		if err := p.updateEntityEmbeddings(ctx, toEmbed); err != nil {
			p.Log.Warn().Err(err).Msg("failed to update entity embeddings")
		}
	}

	return toProcess, nil
}

// buildEntityEmbedText composes the text an entity's composite embedding is
// generated from: name plus its facts (spec.md §4.3 "regenerate the
// entity's composite embedding from name + facts + tagline").
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

// updateEntityEmbeddings regenerates composite embeddings for the given
// entities in one batched embed call.
func (p *Pipeline) updateEntityEmbeddings(ctx context.Context, entities []store.Entity) error {
	if len(entities) == 0 || p.Embedder == nil {
		return nil
	}

	texts := make([]string, len(entities))
	for i, e := range entities {
		facts, err := p.Store.FactsForEntity(ctx, e.ID)
		if err != nil {
			return err
		}
		texts[i] = buildEntityEmbedText(e, facts)
	}

	vecs, err := p.Embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	for i, e := range entities {
		if i >= len(vecs) {
			break
		}
		if err := p.Store.UpdateEntityEmbedding(ctx, e.ID, vecs[i]); err != nil {
			return err
		}
	}
	return nil
}
