package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jaredlockhart/penny/internal/llm"
)

// identifiedEntities is pass 1's response shape: known entity names already
// present in the text, plus newly discovered entity names (spec.md §4.3).
type identifiedEntities struct {
	Known []string `json:"known"`
	New   []struct {
		Name string `json:"name"`
	} `json:"new"`
}

var identifyEntitiesFormat = &llm.Format{
	Name: "identified_entities",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"known": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"new": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":       "object",
					"properties": map[string]any{"name": map[string]any{"type": "string"}},
					"required":   []string{"name"},
				},
			},
		},
		"required": []string{"known", "new"},
	},
}

// extractedFacts is pass 2's response shape: new facts about one entity.
type extractedFacts struct {
	Facts []string `json:"facts"`
}

var extractFactsFormat = &llm.Format{
	Name: "extracted_facts",
	Schema: map[string]any{
		"type":       "object",
		"properties": map[string]any{"facts": map[string]any{"type": "array", "items": map[string]any{"type": "string"}}},
		"required":   []string{"facts"},
	},
}

// extractedTopics is the preference pass's response shape.
type extractedTopics struct {
	Topics []string `json:"topics"`
}

var extractTopicsFormat = &llm.Format{
	Name: "extracted_topics",
	Schema: map[string]any{
		"type":       "object",
		"properties": map[string]any{"topics": map[string]any{"type": "array", "items": map[string]any{"type": "string"}}},
		"required":   []string{"topics"},
	},
}

// identifyEntities runs pass 1: which known entities (from knownNames)
// appear in content, plus any new entity names.
func (p *Pipeline) identifyEntities(ctx context.Context, knownNames []string, instructions, contextLabel, contextValue, content string) (identifiedEntities, bool) {
	var knownBlock string
	if len(knownNames) > 0 {
		var b strings.Builder
		b.WriteString("\n\nKnown entities (return any that appear in the text):\n")
		for _, n := range knownNames {
			b.WriteString("- " + n + "\n")
		}
		knownBlock = b.String()
	}

	prompt := fmt.Sprintf("%s\n\n%s: %s\n\nContent:\n%s%s", instructions, contextLabel, contextValue, content, knownBlock)

	result, err := p.LLM.Generate(ctx, prompt, nil, identifyEntitiesFormat)
	if err != nil {
		p.Log.Error().Err(err).Msg("entity identification call failed")
		return identifiedEntities{}, false
	}

	var parsed identifiedEntities
	if err := json.Unmarshal([]byte(result.Content), &parsed); err != nil {
		p.Log.Error().Err(err).Msg("entity identification response unparseable")
		return identifiedEntities{}, false
	}
	if len(parsed.Known) == 0 && len(parsed.New) == 0 {
		return identifiedEntities{}, false
	}
	return parsed, true
}

// extractFactsFor runs pass 2 for a single entity: new facts about it not
// already in existingFacts.
func (p *Pipeline) extractFactsFor(ctx context.Context, entityName string, existingFacts []string, instructions, contextLabel, contextValue, content string) []string {
	var existingBlock string
	if len(existingFacts) > 0 {
		var b strings.Builder
		b.WriteString("\n\nAlready known facts (return only NEW facts not listed here):\n")
		for _, f := range existingFacts {
			b.WriteString("- " + f + "\n")
		}
		existingBlock = b.String()
	}

	prompt := fmt.Sprintf("%s\n\nEntity: %s\n\n%s: %s\n\nContent:\n%s%s", instructions, entityName, contextLabel, contextValue, content, existingBlock)

	result, err := p.LLM.Generate(ctx, prompt, nil, extractFactsFormat)
	if err != nil {
		p.Log.Error().Err(err).Str("entity", entityName).Msg("fact extraction call failed")
		return nil
	}

	var parsed extractedFacts
	if err := json.Unmarshal([]byte(result.Content), &parsed); err != nil {
		p.Log.Error().Err(err).Str("entity", entityName).Msg("fact extraction response unparseable")
		return nil
	}
	return parsed.Facts
}
