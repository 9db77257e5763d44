package extraction

import (
	"context"

	"github.com/jaredlockhart/penny/internal/store"
)

// processSearchLogs is phase 1: extract entities/facts from unextracted
// search logs, newest first, bounded to a batch (spec.md §4.3 phase 1).
func (p *Pipeline) processSearchLogs(ctx context.Context) (bool, error) {
	limit := p.Cfg.Thresholds.SearchLogBatchLimit
	if limit <= 0 {
		limit = 10
	}

	logs, err := p.Store.UnextractedSearchLogs(ctx, limit)
	if err != nil {
		return false, err
	}
	if len(logs) == 0 {
		return false, nil
	}

	didWork := false
	for _, sl := range logs {
		if ctx.Err() != nil {
			return didWork, nil
		}

		id := sl.ID
		entities, err := p.extractAndStoreEntities(ctx, sl.User, "Search query", sl.Query, sl.Response, &id, nil)
		if err != nil {
			p.Log.Error().Err(err).Int64("search_log_id", sl.ID).Msg("entity extraction from search log failed")
		} else if len(entities) > 0 {
			didWork = true
			if sl.Trigger == store.TriggerUserMessage {
				for _, e := range entities {
					entityID := e.ID
					if err := p.recordEngagement(ctx, store.Engagement{
						User:     sl.User,
						EntityID: &entityID,
						Type:     store.EngagementUserSearch,
						Valence:  store.ValenceNeutral,
						Strength: strengthFor(store.EngagementUserSearch),
					}); err != nil {
						return didWork, err
					}
				}
			}
		}

		if err := p.Store.MarkSearchLogExtracted(ctx, sl.ID); err != nil {
			return didWork, err
		}
	}

	return didWork, nil
}
