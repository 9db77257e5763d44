// Package llm defines Penny's transport-agnostic contract for chat,
// structured generation, embedding, and image generation, grounded on the
// teacher's internal/llm/provider.go Provider interface.
package llm

import (
	"context"
	"encoding/json"
)

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// Message is one turn of a chat conversation.
type Message struct {
	Role      string // "system" | "user" | "assistant" | "tool"
	Content   string
	ToolID    string // set on tool-role messages, correlates to ToolCall.ID
	ToolCalls []ToolCall
}

// ToolSchema describes a callable tool to the model.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ChatResult is what a Chat/Generate call returns.
type ChatResult struct {
	Content   string
	Thinking  string
	ToolCalls []ToolCall
}

// Format requests JSON-schema-constrained structured output from the model.
type Format struct {
	Name   string
	Schema map[string]any
}

// Provider is the chat/structured-generation surface of spec.md §6's LLM
// client contract.
type Provider interface {
	Chat(ctx context.Context, msgs []Message, tools []ToolSchema, format *Format) (ChatResult, error)
	Generate(ctx context.Context, prompt string, tools []ToolSchema, format *Format) (ChatResult, error)
}

// Embedder is the embed surface of the LLM client contract. Returns one
// vector per input, preserving order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ImageGenerator is the generate_image surface of the LLM client contract.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, error) // base64-decoded PNG bytes
}
