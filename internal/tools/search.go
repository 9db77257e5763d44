package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// SearchBackend performs the actual external search call (e.g. Perplexity).
// Kept as an interface so the tool itself stays transport-agnostic and
// testable without network access.
type SearchBackend interface {
	Search(ctx context.Context, query string) (SearchResult, error)
}

// SearchTool is the search capability registered for the tool-calling
// loop (the foreground message agent and the research runner). Call passes
// the query to the backend unchanged; the name-redaction rule of spec.md
// §4.2 (RedactName below) is applied by internal/agent to the query
// argument before dispatch.
type SearchTool struct {
	Backend SearchBackend
}

func NewSearchTool(backend SearchBackend) *SearchTool {
	return &SearchTool{Backend: backend}
}

func (t *SearchTool) Name() string { return "search" }

func (t *SearchTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "Search the web for current information.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query.",
				},
			},
			"required": []string{"query"},
		},
	}
}

type searchArgs struct {
	Query string `json:"query"`
}

func (t *SearchTool) Call(ctx context.Context, raw json.RawMessage) (Result, error) {
	var args searchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return Result{}, fmt.Errorf("search tool: invalid args: %w", err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return Result{}, fmt.Errorf("search tool: query required")
	}

	res, err := t.Backend.Search(ctx, args.Query)
	if err != nil {
		return Result{Error: err.Error()}, nil
	}
	return Result{Search: &res}, nil
}

// RedactName removes the user's own name from a search query, unless the
// user's own message already contained that name — Penny must not leak
// profile data to external search APIs unsolicited (spec.md §4.2).
func RedactName(query, userName, userMessage string) string {
	name := strings.TrimSpace(userName)
	if name == "" {
		return query
	}
	if containsWord(userMessage, name) {
		return query
	}
	pattern := `(?i)\b` + regexp.QuoteMeta(name) + `\b`
	re, err := regexp.Compile(pattern)
	if err != nil {
		return query
	}
	redacted := re.ReplaceAllString(query, "")
	return strings.Join(strings.Fields(redacted), " ")
}

func containsWord(haystack, word string) bool {
	if word == "" {
		return false
	}
	pattern := `(?i)\b` + regexp.QuoteMeta(word) + `\b`
	re, err := regexp.Compile(pattern)
	if err != nil {
		return strings.Contains(strings.ToLower(haystack), strings.ToLower(word))
	}
	return re.MatchString(haystack)
}

// PerplexitySearch is a SearchBackend implementation against Perplexity's
// chat-completions-shaped search API, one of the optional external API keys
// named in spec.md §6.
type PerplexitySearch struct {
	APIKey string
	Client *http.Client
}

func (p *PerplexitySearch) Search(ctx context.Context, query string) (SearchResult, error) {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	body := map[string]any{
		"model": "sonar",
		"messages": []map[string]string{
			{"role": "user", "content": query},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return SearchResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.perplexity.ai/chat/completions", strings.NewReader(string(payload)))
	if err != nil {
		return SearchResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return SearchResult{}, fmt.Errorf("perplexity search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return SearchResult{}, fmt.Errorf("perplexity search: status %d", resp.StatusCode)
	}

	var parsed struct {
		Citations []string `json:"citations"`
		Choices   []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return SearchResult{}, fmt.Errorf("perplexity search: decode: %w", err)
	}

	answer := ""
	if len(parsed.Choices) > 0 {
		answer = parsed.Choices[0].Message.Content
	}
	return SearchResult{Query: query, Answer: answer, URLs: parsed.Citations}, nil
}
