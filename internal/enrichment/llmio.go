package enrichment

import "github.com/jaredlockhart/penny/internal/llm"

// extractedFacts is the LLM response shape for fact extraction from search
// results (spec.md §4.4 "Execution"), kept separate from extraction's
// identical-looking schema since the two agents' prompts and call sites are
// independent (mirrors enrich.py's own ExtractedFacts, distinct from
// extraction.py's).
type extractedFacts struct {
	Facts []string `json:"facts"`
}

var extractedFactsFormat = &llm.Format{
	Name: "extracted_facts",
	Schema: map[string]any{
		"type":       "object",
		"properties": map[string]any{"facts": map[string]any{"type": "array", "items": map[string]any{"type": "string"}}},
		"required":   []string{"facts"},
	},
}

// discoveredEntity is one related-entity candidate the LLM found in
// enrichment search results.
type discoveredEntity struct {
	Name    string `json:"name"`
	Tagline string `json:"tagline"`
}

// discoveredEntities is the LLM response shape for related-entity discovery.
type discoveredEntities struct {
	Entities []discoveredEntity `json:"entities"`
}

var discoveredEntitiesFormat = &llm.Format{
	Name: "discovered_entities",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"entities": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":    map[string]any{"type": "string"},
						"tagline": map[string]any{"type": "string"},
					},
					"required": []string{"name"},
				},
			},
		},
		"required": []string{"entities"},
	},
}
