package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jaredlockhart/penny/internal/llm"
	"github.com/jaredlockhart/penny/internal/tools"
)

type fakeProvider struct {
	steps []llm.ChatResult
	calls int
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []llm.Message, toolSchemas []llm.ToolSchema, format *llm.Format) (llm.ChatResult, error) {
	if f.calls >= len(f.steps) {
		return llm.ChatResult{Content: "out of steps"}, nil
	}
	r := f.steps[f.calls]
	f.calls++
	return r, nil
}

func (f *fakeProvider) Generate(ctx context.Context, prompt string, toolSchemas []llm.ToolSchema, format *llm.Format) (llm.ChatResult, error) {
	return f.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, toolSchemas, format)
}

type fakeSearchBackend struct {
	gotQuery string
}

func (f *fakeSearchBackend) Search(ctx context.Context, query string) (tools.SearchResult, error) {
	f.gotQuery = query
	return tools.SearchResult{Query: query, Answer: "sunny and mild"}, nil
}

func newRegistry(backend tools.SearchBackend) *tools.Registry {
	r := tools.NewRegistry()
	r.Register(tools.NewSearchTool(backend))
	return r
}

func TestBasicMessageFlow(t *testing.T) {
	backend := &fakeSearchBackend{}
	provider := &fakeProvider{
		steps: []llm.ChatResult{
			{ToolCalls: []llm.ToolCall{{ID: "1", Name: "search", Args: json.RawMessage(`{"query":"weather today"}`)}}},
			{Content: "sunny and mild"},
		},
	}

	a := New(provider, newRegistry(backend), DefaultConfig(), zerolog.Nop())
	result := a.Run(context.Background(), Request{UserMessage: "what's the weather today?"})

	require.Equal(t, "sunny and mild", result.Text)
	require.Equal(t, 1, result.ToolCalls)
	require.Equal(t, 2, provider.calls)
}

func TestSearchRedactsUserName(t *testing.T) {
	backend := &fakeSearchBackend{}
	provider := &fakeProvider{
		steps: []llm.ChatResult{
			{ToolCalls: []llm.ToolCall{{ID: "1", Name: "search", Args: json.RawMessage(`{"query":"Alice favorite hobby"}`)}}},
			{Content: "done"},
		},
	}

	a := New(provider, newRegistry(backend), DefaultConfig(), zerolog.Nop())
	a.Run(context.Background(), Request{UserMessage: "what should I do this weekend?", UserName: "Alice"})

	require.Equal(t, "favorite hobby", backend.gotQuery)
}

func TestSearchKeepsNameWhenUserMessageIncludesIt(t *testing.T) {
	backend := &fakeSearchBackend{}
	provider := &fakeProvider{
		steps: []llm.ChatResult{
			{ToolCalls: []llm.ToolCall{{ID: "1", Name: "search", Args: json.RawMessage(`{"query":"Alice favorite hobby"}`)}}},
			{Content: "done"},
		},
	}

	a := New(provider, newRegistry(backend), DefaultConfig(), zerolog.Nop())
	a.Run(context.Background(), Request{UserMessage: "Alice here, what should I do this weekend?", UserName: "Alice"})

	require.Equal(t, "Alice favorite hobby", backend.gotQuery)
}

func TestRepeatedToolCallSuppressed(t *testing.T) {
	backend := &fakeSearchBackend{}
	provider := &fakeProvider{
		steps: []llm.ChatResult{
			{ToolCalls: []llm.ToolCall{{ID: "1", Name: "search", Args: json.RawMessage(`{"query":"a"}`)}}},
			{ToolCalls: []llm.ToolCall{{ID: "2", Name: "search", Args: json.RawMessage(`{"query":"b"}`)}}},
			{Content: "final"},
		},
	}

	a := New(provider, newRegistry(backend), DefaultConfig(), zerolog.Nop())
	result := a.Run(context.Background(), Request{UserMessage: "hi"})

	require.Equal(t, "final", result.Text)
	require.Equal(t, "a", backend.gotQuery)
}

func TestMaxStepsFallback(t *testing.T) {
	provider := &fakeProvider{
		steps: []llm.ChatResult{
			{ToolCalls: []llm.ToolCall{{ID: "1", Name: "search", Args: json.RawMessage(`{"query":"a"}`)}}},
			{ToolCalls: []llm.ToolCall{{ID: "2", Name: "nonexistent", Args: json.RawMessage(`{}`)}}},
			{ToolCalls: []llm.ToolCall{{ID: "3", Name: "nonexistent2", Args: json.RawMessage(`{}`)}}},
			{ToolCalls: []llm.ToolCall{{ID: "4", Name: "nonexistent3", Args: json.RawMessage(`{}`)}}},
			{ToolCalls: []llm.ToolCall{{ID: "5", Name: "nonexistent4", Args: json.RawMessage(`{}`)}}},
		},
	}

	cfg := DefaultConfig()
	a := New(provider, newRegistry(&fakeSearchBackend{}), cfg, zerolog.Nop())
	result := a.Run(context.Background(), Request{UserMessage: "hi"})

	require.Equal(t, cfg.MaxStepsApology, result.Text)
}
