package extraction

import (
	"context"
)

// backfillEmbeddings generates embeddings for facts, entities, and
// preferences that lack one, bounded to a batch per call (spec.md §4.3
// phase 3).
func (p *Pipeline) backfillEmbeddings(ctx context.Context) (bool, error) {
	limit := p.Cfg.Thresholds.EmbeddingBackfillBatchLimit
	if limit <= 0 {
		limit = 50
	}

	didWork := false

	factWork, err := p.backfillFactEmbeddings(ctx, limit)
	if err != nil {
		return didWork, err
	}
	didWork = didWork || factWork

	entityWork, err := p.backfillEntityEmbeddings(ctx, limit)
	if err != nil {
		return didWork, err
	}
	didWork = didWork || entityWork

	prefWork, err := p.backfillPreferenceEmbeddings(ctx, limit)
	if err != nil {
		return didWork, err
	}
	didWork = didWork || prefWork

	return didWork, nil
}

func (p *Pipeline) backfillFactEmbeddings(ctx context.Context, limit int) (bool, error) {
	facts, err := p.Store.FactsWithoutEmbeddings(ctx, limit)
	if err != nil {
		return false, err
	}
	if len(facts) == 0 {
		return false, nil
	}

	texts := make([]string, len(facts))
	for i, f := range facts {
		texts[i] = f.Content
	}
	vecs, err := p.Embedder.Embed(ctx, texts)
	if err != nil {
		p.Log.Warn().Err(err).Msg("failed to backfill fact embeddings")
		return false, nil
	}
	for i, f := range facts {
		if i >= len(vecs) {
			break
		}
		if err := p.Store.UpdateFactEmbedding(ctx, f.ID, vecs[i]); err != nil {
			return true, err
		}
	}
	p.Log.Info().Int("count", len(facts)).Msg("backfilled fact embeddings")
	return true, nil
}

func (p *Pipeline) backfillEntityEmbeddings(ctx context.Context, limit int) (bool, error) {
	entities, err := p.Store.EntitiesWithoutEmbeddings(ctx, limit)
	if err != nil {
		return false, err
	}
	if len(entities) == 0 {
		return false, nil
	}
	if err := p.updateEntityEmbeddings(ctx, entities); err != nil {
		p.Log.Warn().Err(err).Msg("failed to backfill entity embeddings")
		return false, nil
	}
	p.Log.Info().Int("count", len(entities)).Msg("backfilled entity embeddings")
	return true, nil
}

func (p *Pipeline) backfillPreferenceEmbeddings(ctx context.Context, limit int) (bool, error) {
	prefs, err := p.Store.PreferencesWithoutEmbeddings(ctx, limit)
	if err != nil {
		return false, err
	}
	if len(prefs) == 0 {
		return false, nil
	}

	topics := make([]string, len(prefs))
	for i, pr := range prefs {
		topics[i] = pr.Topic
	}
	vecs, err := p.Embedder.Embed(ctx, topics)
	if err != nil {
		p.Log.Warn().Err(err).Msg("failed to backfill preference embeddings")
		return false, nil
	}
	for i, pr := range prefs {
		if i >= len(vecs) {
			break
		}
		if err := p.Store.UpdatePreferenceEmbedding(ctx, pr.ID, vecs[i]); err != nil {
			return true, err
		}
	}
	p.Log.Info().Int("count", len(prefs)).Msg("backfilled preference embeddings")
	return true, nil
}
