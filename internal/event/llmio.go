package event

import "github.com/jaredlockhart/penny/internal/llm"

// eventTagExtractionInstructions asks the model to pull 2-4 short topic tags
// out of a headline, used as a fallback relevance signal when a headline's
// own embedding doesn't land close enough to the subscription topic (spec.md
// §4.5 "Fallback: if title fails, ask the LLM to extract 2-4 topic tags from
// the title, embed the tag list, and retry").
const eventTagExtractionInstructions = "Extract 2 to 4 short topic tags from this news headline. Return only the tags."

var eventTagExtractionFormat = &llm.Format{
	Name: "event_tags",
	Schema: map[string]any{
		"type":       "object",
		"properties": map[string]any{"tags": map[string]any{"type": "array", "items": map[string]any{"type": "string"}}},
		"required":   []string{"tags"},
	},
}

type eventTags struct {
	Tags []string `json:"tags"`
}
