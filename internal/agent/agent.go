// Package agent implements Penny's foreground message agent: the LLM
// tool-calling loop that turns one incoming chat message into a reply.
// Grounded on the teacher's internal/agent/engine.go runLoop/dispatchTools
// (bounded concurrent tool dispatch via a semaphore + sync.WaitGroup) and
// on original_source/penny/penny/agents/base.py's Agent.run (XML-markup
// retry, repeated-tool suppression, max-steps fallback), adapted from a
// single always-on engine to a per-message, config-driven loop.
package agent

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jaredlockhart/penny/internal/llm"
	"github.com/jaredlockhart/penny/internal/tools"
)

// xmlTagPattern matches paired XML-like tags in content, e.g.
// <function=search>...</function>, mirroring the Python original's
// _XML_TAG_PATTERN.
var xmlTagPattern = regexp.MustCompile(`(?s)<[a-zA-Z]\w*[\s=>].*</[a-zA-Z]\w*>`)

func hasXMLTags(content string) bool {
	return xmlTagPattern.MatchString(content)
}

// Config tunes the tool-calling loop (spec.md §4.2, §5).
type Config struct {
	MaxSteps           int
	MaxXMLRetries      int
	ToolTimeout        time.Duration
	MaxToolParallelism int
	FallbackApology    string
	MaxStepsApology    string
}

// DefaultConfig matches spec.md §4.2/§5's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxSteps:           5,
		MaxXMLRetries:      3,
		ToolTimeout:        60 * time.Second,
		MaxToolParallelism: 4,
		FallbackApology:     "Sorry, something went wrong on my end. Could you try that again?",
		MaxStepsApology:    "I wasn't able to finish that one — want to try rephrasing?",
	}
}

// Agent runs the message tool-calling loop against a fixed tool registry
// and LLM provider (spec.md §9: "Agents are constructed with explicit
// dependencies... no singletons").
type Agent struct {
	LLM    llm.Provider
	Tools  *tools.Registry
	Config Config
	Log    zerolog.Logger
}

// New constructs a message Agent.
func New(provider llm.Provider, registry *tools.Registry, cfg Config, log zerolog.Logger) *Agent {
	return &Agent{LLM: provider, Tools: registry, Config: cfg, Log: log}
}

// Request is one message-agent invocation's input.
type Request struct {
	System      string
	UserMessage string
	History     []llm.Message
	// UserName, when non-empty, is stripped from any search tool query
	// unless UserMessage itself already contains it (spec.md §4.2).
	UserName string
}

// Result is the message agent's reply plus bookkeeping the caller may want
// to log.
type Result struct {
	Text      string
	ToolCalls int
}

// Run executes the tool-calling loop to completion, never returning an
// error to the caller: failures surface as the configured fallback text
// (spec.md §7 "A message-handling exception replies with a single fallback
// apology string; no tracebacks reach the user").
func (a *Agent) Run(ctx context.Context, req Request) Result {
	msgs := make([]llm.Message, 0, len(req.History)+2)
	if req.System != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, req.History...)
	msgs = append(msgs, llm.Message{Role: "user", Content: req.UserMessage})

	schemas := a.Tools.Schemas()
	called := make(map[string]bool)
	toolCalls := 0

	maxSteps := a.Config.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 1
	}

	for step := 0; step < maxSteps; step++ {
		chatResult, err := a.chatWithXMLRetry(ctx, msgs, schemas)
		if err != nil {
			a.Log.Error().Err(err).Msg("message agent: chat call failed")
			return Result{Text: a.Config.FallbackApology, ToolCalls: toolCalls}
		}

		if len(chatResult.ToolCalls) == 0 {
			content := strings.TrimSpace(chatResult.Content)
			if content == "" {
				return Result{Text: a.Config.FallbackApology, ToolCalls: toolCalls}
			}
			return Result{Text: content, ToolCalls: toolCalls}
		}

		msgs = append(msgs, llm.Message{Role: "assistant", Content: chatResult.Content, ToolCalls: chatResult.ToolCalls})
		toolCalls += len(chatResult.ToolCalls)
		msgs = a.dispatchTools(ctx, msgs, chatResult.ToolCalls, req, called)
	}

	a.Log.Warn().Msg("message agent: max steps reached without final answer")
	return Result{Text: a.Config.MaxStepsApology, ToolCalls: toolCalls}
}

// chatWithXMLRetry retries a single step's chat call when the model emits
// XML-tagged pseudo-tools instead of structured tool calls, up to
// MaxXMLRetries times, without consuming a loop step (spec.md §4.2).
func (a *Agent) chatWithXMLRetry(ctx context.Context, msgs []llm.Message, schemas []llm.ToolSchema) (llm.ChatResult, error) {
	retries := a.Config.MaxXMLRetries
	if retries < 0 {
		retries = 0
	}

	var last llm.ChatResult
	for attempt := 0; attempt <= retries; attempt++ {
		result, err := a.LLM.Chat(ctx, msgs, schemas, nil)
		if err != nil {
			return llm.ChatResult{}, err
		}
		last = result

		if len(result.ToolCalls) > 0 {
			return result, nil
		}
		if !hasXMLTags(result.Content) {
			return result, nil
		}
		a.Log.Warn().Int("attempt", attempt+1).Msg("message agent: model emitted XML markup, retrying")
	}
	return last, nil
}

// dispatchTools executes every tool call from one step, bounded to
// MaxToolParallelism concurrent calls, each under its own timeout
// (spec.md §4.2, §5). A search tool already called earlier in this loop is
// suppressed rather than re-invoked.
func (a *Agent) dispatchTools(ctx context.Context, msgs []llm.Message, calls []llm.ToolCall, req Request, called map[string]bool) []llm.Message {
	maxParallel := a.Config.MaxToolParallelism
	if maxParallel <= 0 || maxParallel > len(calls) {
		maxParallel = len(calls)
	}
	if maxParallel <= 0 {
		maxParallel = 1
	}

	results := make([]llm.Message, len(calls))
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup

	for i, tc := range calls {
		i, tc := i, tc

		if called[tc.Name] {
			results[i] = llm.Message{
				Role:    "tool",
				ToolID:  tc.ID,
				Content: "Tool already called. DO NOT search again. Write your response NOW.",
			}
			continue
		}
		called[tc.Name] = true

		args := a.redactArgs(tc, req)

		sem <- struct{}{}
		wg.Add(1)
		go func(idx int, tc llm.ToolCall, args json.RawMessage) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = a.executeOne(ctx, tc, args)
		}(i, tc, args)
	}

	wg.Wait()
	return append(msgs, results...)
}

// redactArgs applies the search-query privacy rule to a "search" tool call's
// query argument before it is dispatched (spec.md §4.2).
func (a *Agent) redactArgs(tc llm.ToolCall, req Request) json.RawMessage {
	if tc.Name != "search" || req.UserName == "" {
		return tc.Args
	}

	var parsed map[string]any
	if err := json.Unmarshal(tc.Args, &parsed); err != nil {
		return tc.Args
	}
	query, ok := parsed["query"].(string)
	if !ok {
		return tc.Args
	}
	parsed["query"] = tools.RedactName(query, req.UserName, req.UserMessage)
	out, err := json.Marshal(parsed)
	if err != nil {
		return tc.Args
	}
	return out
}

func (a *Agent) executeOne(ctx context.Context, tc llm.ToolCall, args json.RawMessage) llm.Message {
	timeout := a.Config.ToolTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := a.Tools.Dispatch(toolCtx, tc.Name, args)
	if err != nil {
		return llm.Message{Role: "tool", ToolID: tc.ID, Content: "Error: " + err.Error()}
	}

	content := resultToContent(result)
	return llm.Message{Role: "tool", ToolID: tc.ID, Content: content}
}

func resultToContent(result tools.Result) string {
	if result.Error != "" {
		return "Error: " + result.Error
	}
	if result.Search != nil {
		content := result.Search.Answer
		if len(result.Search.URLs) > 0 {
			content += "\n\nSources:\n" + strings.Join(result.Search.URLs, "\n")
		}
		content += "\n\nDO NOT search again. Write your response NOW using these results."
		return content
	}
	return result.Text
}
