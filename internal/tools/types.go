// Package tools defines Penny's tool-calling surface: a typed registry of
// tool descriptors the message agent's chat loop dispatches against,
// grounded on the teacher's internal/tools/types.go Tool/Registry pair
// (Name/JSONSchema/Call and a map-backed registry keyed by name).
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jaredlockhart/penny/internal/llm"
)

// Result is the sum type a tool call resolves to, per spec.md §9's "Dynamic
// tool dispatch" design note: text, a search result with URLs and an
// optional image, or an error.
type Result struct {
	Text   string       `json:"text,omitempty"`
	Search *SearchResult `json:"search,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// SearchResult is the structured payload a search tool call returns.
type SearchResult struct {
	Query   string   `json:"query"`
	Answer  string   `json:"answer"`
	URLs    []string `json:"urls,omitempty"`
	ImageB64 string  `json:"image_b64,omitempty"`
}

// Tool is an executable capability the message agent can call.
type Tool interface {
	Name() string
	JSONSchema() map[string]any
	Call(ctx context.Context, raw json.RawMessage) (Result, error)
}

// Registry keeps track of tools and dispatches calls by name.
type Registry struct {
	byName map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Tool)}
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t Tool) {
	r.byName[t.Name()] = t
}

// Schemas returns the tool schemas to present to the model.
func (r *Registry) Schemas() []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(r.byName))
	for name, t := range r.byName {
		schema := t.JSONSchema()
		out = append(out, llm.ToolSchema{
			Name:        name,
			Description: strFrom(schema["description"]),
			Parameters:  mapFrom(schema["parameters"]),
		})
	}
	return out
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Dispatch executes the named tool. An unknown tool name is a caller bug
// (the model hallucinated a tool), not a transient failure, so it returns
// an error rather than a soft Result.
func (r *Registry) Dispatch(ctx context.Context, name string, raw json.RawMessage) (Result, error) {
	t, ok := r.byName[name]
	if !ok {
		return Result{}, fmt.Errorf("tools: unknown tool %q", name)
	}
	return t.Call(ctx, raw)
}

func strFrom(v any) string         { s, _ := v.(string); return s }
func mapFrom(v any) map[string]any { m, _ := v.(map[string]any); return m }
