package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jaredlockhart/penny/internal/extraction"
	"github.com/jaredlockhart/penny/internal/llm"
	"github.com/jaredlockhart/penny/internal/store"
)

const entityDiscoveryInstructions = "Identify entities (people, places, products, organizations) related to %s that are mentioned in the text below and worth tracking on their own."

// relatedCandidate is a discovery candidate plus its relevance score and
// embedding, carried between the scoring and creation steps.
type relatedCandidate struct {
	candidate discoveredEntity
	relevance float64
	embedding []float32
}

// discoverRelatedEntities finds new entities related to entity in
// searchText, using embedding similarity to the enriching entity as a
// relevance gate and embedding dedup to avoid creating duplicates
// (spec.md §4.4 "propose related entity names... gate by cosine
// similarity... dedup against existing entities").
func (p *Pipeline) discoverRelatedEntities(ctx context.Context, entity store.Entity, user, searchText string) ([]store.Entity, error) {
	refreshed, err := p.Store.EntityByID(ctx, entity.ID)
	if err != nil {
		return nil, err
	}
	if len(refreshed.Embedding) == 0 {
		return nil, nil
	}

	existingEntities, err := p.Store.EntitiesForUser(ctx, user)
	if err != nil {
		return nil, err
	}
	existingNames := make(map[string]bool, len(existingEntities))
	for _, e := range existingEntities {
		existingNames[e.Name] = true
	}

	candidates := p.identifyEntityCandidates(ctx, entity.Name, existingNames, searchText)
	if len(candidates) == 0 {
		return nil, nil
	}

	scored := p.scoreDiscoveryCandidates(ctx, candidates, refreshed.Embedding, existingNames)
	sort.Slice(scored, func(i, j int) bool { return scored[i].relevance > scored[j].relevance })

	budget := p.Cfg.Thresholds.RelatedEntityBudget
	if budget <= 0 {
		budget = 2
	}

	var created []store.Entity
	for _, rc := range scored {
		if len(created) >= budget {
			break
		}
		if isDiscoveryDuplicate(rc.embedding, existingEntities, p.Cfg.Thresholds.DedupEmbeddingSimilarity) {
			continue
		}

		newEntity, err := p.createDiscoveredEntity(ctx, user, rc, searchText)
		if err != nil {
			return created, err
		}
		if newEntity == nil {
			continue
		}
		created = append(created, *newEntity)
		existingEntities = append(existingEntities, *newEntity)
	}

	return created, nil
}

func (p *Pipeline) identifyEntityCandidates(ctx context.Context, entityName string, existingNames map[string]bool, searchText string) []discoveredEntity {
	names := make([]string, 0, len(existingNames))
	for n := range existingNames {
		names = append(names, n)
	}
	sort.Strings(names)

	var known strings.Builder
	for _, n := range names {
		fmt.Fprintf(&known, "- %s\n", n)
	}

	prompt := fmt.Sprintf("%s\n\nContent:\n%s\n\nKnown entities (do NOT return these):\n%s",
		fmt.Sprintf(entityDiscoveryInstructions, entityName), searchText, known.String())

	result, err := p.LLM.Generate(ctx, prompt, nil, discoveredEntitiesFormat)
	if err != nil {
		p.Log.Error().Err(err).Msg("entity discovery call failed")
		return nil
	}

	var parsed discoveredEntities
	if err := json.Unmarshal([]byte(result.Content), &parsed); err != nil {
		p.Log.Error().Err(err).Msg("entity discovery response unparseable")
		return nil
	}
	return parsed.Entities
}

// scoreDiscoveryCandidates validates, embeds, and relevance-gates each raw
// candidate. Candidates that fail name validation, duplicate an existing
// name, or fall below the relevance threshold are dropped.
func (p *Pipeline) scoreDiscoveryCandidates(ctx context.Context, candidates []discoveredEntity, enrichingVec []float32, existingNames map[string]bool) []relatedCandidate {
	threshold := p.Cfg.Thresholds.RelatedEntitySimilarity
	if threshold <= 0 {
		threshold = 0.6
	}

	var out []relatedCandidate
	for _, c := range candidates {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || !extraction.IsValidEntityName(name) {
			continue
		}
		if existingNames[name] {
			continue
		}
		c.Name = name
		c.Tagline = cleanTagline(c.Tagline)

		vecs, err := p.Embedder.Embed(ctx, []string{name})
		if err != nil || len(vecs) == 0 {
			continue
		}
		candidateVec := vecs[0]

		score := llm.CosineSimilarity(candidateVec, enrichingVec)
		if score < threshold {
			p.Log.Info().Str("candidate", name).Float64("relevance", score).Msg("discovery rejected: below relevance threshold")
			continue
		}
		p.Log.Info().Str("candidate", name).Float64("relevance", score).Msg("discovery accepted")
		out = append(out, relatedCandidate{candidate: c, relevance: score, embedding: candidateVec})
	}
	return out
}

// cleanTagline lowercases, strips a trailing period, and rejects taglines
// longer than 10 words.
func cleanTagline(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ""
	}
	raw = strings.TrimRight(raw, ".")
	if len(strings.Fields(raw)) > 10 {
		return ""
	}
	return raw
}

// isDiscoveryDuplicate reports whether candidateVec matches an existing
// entity's embedding above threshold (spec.md §4.4 "dedup against existing
// entities (embedding-only)").
func isDiscoveryDuplicate(candidateVec []float32, existing []store.Entity, threshold float64) bool {
	for _, e := range existing {
		if len(e.Embedding) == 0 {
			continue
		}
		if llm.CosineSimilarity(candidateVec, e.Embedding) >= threshold {
			return true
		}
	}
	return false
}

// createDiscoveredEntity extracts facts for a new entity from searchText,
// creates it (skipping creation entirely if no facts were found), stores
// its tagline and facts, regenerates its embedding, and records the
// search_discovery engagement that seeds its own future priority
// (spec.md §4.4).
func (p *Pipeline) createDiscoveredEntity(ctx context.Context, user string, rc relatedCandidate, searchText string) (*store.Entity, error) {
	facts := p.extractDiscoveryFacts(ctx, rc.candidate.Name, rc.candidate.Tagline, searchText)
	if len(facts) == 0 {
		p.Log.Info().Str("candidate", rc.candidate.Name).Msg("discovery skipped: no facts extracted")
		return nil, nil
	}

	var tagline *string
	if rc.candidate.Tagline != "" {
		t := rc.candidate.Tagline
		tagline = &t
	}

	entity, err := p.Store.GetOrCreateEntity(ctx, user, rc.candidate.Name, tagline)
	if err != nil {
		return nil, err
	}

	if _, err := p.storeNewFacts(ctx, entity, facts, nil, nil); err != nil {
		return nil, err
	}
	if err := p.updateEntityEmbedding(ctx, entity); err != nil {
		p.Log.Warn().Err(err).Str("entity", entity.Name).Msg("failed to embed discovered entity")
	}

	entityID := entity.ID
	if err := extraction.RecordEngagement(ctx, p.Store, store.Engagement{
		User:     user,
		EntityID: &entityID,
		Type:     store.EngagementSearchDiscovery,
		Valence:  store.ValencePositive,
		Strength: rc.relevance,
	}); err != nil {
		return nil, err
	}

	p.Log.Info().Str("entity", entity.Name).Float64("relevance", rc.relevance).Int("facts", len(facts)).Msg("discovery created entity")
	return &entity, nil
}

func (p *Pipeline) extractDiscoveryFacts(ctx context.Context, name, tagline, searchText string) []string {
	label := name
	if tagline != "" {
		label = fmt.Sprintf("%s (%s)", name, tagline)
	}
	prompt := fmt.Sprintf("%s\n\nEntity: %s\n\nContent:\n%s", entityFactExtractionInstructions, label, searchText)

	result, err := p.LLM.Generate(ctx, prompt, nil, extractedFactsFormat)
	if err != nil {
		p.Log.Error().Err(err).Str("candidate", name).Msg("discovery fact extraction call failed")
		return nil
	}

	var parsed extractedFacts
	if err := json.Unmarshal([]byte(result.Content), &parsed); err != nil {
		p.Log.Error().Err(err).Str("candidate", name).Msg("discovery fact extraction response unparseable")
		return nil
	}
	return parsed.Facts
}
