// Package anthropic adapts the Anthropic SDK to Penny's llm.Provider
// contract, grounded on the teacher's internal/llm/anthropic/client.go
// message/tool adaptation (trimmed of prompt caching, thinking blocks, and
// streaming, none of which spec.md's LLM contract names).
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/rs/zerolog/log"

	"github.com/jaredlockhart/penny/internal/llm"
)

const defaultMaxTokens int64 = 4096

// Client is an llm.Provider backed by the Anthropic Messages API.
type Client struct {
	sdk   sdk.Client
	model string
}

// New constructs a Client. model selects which Anthropic model this instance
// talks to (the caller picks foreground vs. background model at wiring time).
func New(apiKey, baseURL, model string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(baseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	return &Client{sdk: sdk.NewClient(opts...), model: strings.TrimSpace(model)}
}

func (c *Client) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, format *llm.Format) (llm.ChatResult, error) {
	sys, converted, err := adaptMessages(msgs)
	if err != nil {
		return llm.ChatResult{}, err
	}
	toolDefs, err := adaptTools(tools)
	if err != nil {
		return llm.ChatResult{}, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		Messages:  converted,
		System:    sys,
		Tools:     toolDefs,
		MaxTokens: defaultMaxTokens,
	}
	if format != nil {
		// Anthropic has no native JSON-schema response_format; the convention
		// (matching the teacher's structured-output helpers) is to instruct via
		// a tool-less forced-text system addendum and parse the result.
		params.System = append(params.System, sdk.TextBlockParam{
			Text: fmt.Sprintf("Respond with JSON matching this schema and nothing else: %v", format.Schema),
		})
	}

	start := time.Now()
	resp, err := c.sdk.Messages.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", c.model).Dur("duration", dur).Msg("anthropic_chat_error")
		return llm.ChatResult{}, err
	}

	return resultFromResponse(resp), nil
}

func (c *Client) Generate(ctx context.Context, prompt string, tools []llm.ToolSchema, format *llm.Format) (llm.ChatResult, error) {
	return c.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, tools, format)
}

func adaptTools(tools []llm.ToolSchema) ([]sdk.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, fmt.Errorf("anthropic provider: tool name required")
		}
		schema := sdk.ToolInputSchemaParam{Type: constant.ValueOf[constant.Object]()}
		extras := map[string]any{}
		for k, v := range t.Parameters {
			extras[k] = v
		}
		if props, ok := extras["properties"]; ok {
			schema.Properties = props
			delete(extras, "properties")
		}
		if req, ok := extras["required"].([]string); ok {
			schema.Required = req
			delete(extras, "required")
		}
		delete(extras, "type")
		if len(extras) > 0 {
			schema.ExtraFields = extras
		}
		param := sdk.ToolParam{Name: name, InputSchema: schema}
		if desc := strings.TrimSpace(t.Description); desc != "" {
			param.Description = sdk.String(desc)
		}
		out = append(out, sdk.ToolUnionParam{OfTool: &param})
	}
	return out, nil
}

func adaptMessages(msgs []llm.Message) ([]sdk.TextBlockParam, []sdk.MessageParam, error) {
	if len(msgs) == 0 {
		return nil, nil, fmt.Errorf("anthropic provider: messages required")
	}
	var system []sdk.TextBlockParam
	out := make([]sdk.MessageParam, 0, len(msgs))

	for _, m := range msgs {
		switch strings.ToLower(strings.TrimSpace(m.Role)) {
		case "system":
			if strings.TrimSpace(m.Content) != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Content})
			}
		case "user":
			if strings.TrimSpace(m.Content) != "" {
				out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
			}
		case "assistant":
			var blocks []sdk.ContentBlockParamUnion
			if strings.TrimSpace(m.Content) != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for i, tc := range m.ToolCalls {
				id := strings.TrimSpace(tc.ID)
				if id == "" {
					id = fmt.Sprintf("call-%d", i+1)
				}
				var input any
				_ = json.Unmarshal(tc.Args, &input)
				blocks = append(blocks, sdk.NewToolUseBlock(id, input, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, sdk.NewAssistantMessage(blocks...))
			}
		case "tool":
			out = append(out, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolID, m.Content, false)))
		}
	}
	return system, out, nil
}

func resultFromResponse(resp *sdk.Message) llm.ChatResult {
	if resp == nil {
		return llm.ChatResult{}
	}
	var sb strings.Builder
	var calls []llm.ToolCall
	callIdx := 0

	for _, block := range resp.Content {
		switch v := block.AsAny().(type) {
		case sdk.TextBlock:
			sb.WriteString(v.Text)
		case sdk.ToolUseBlock:
			callIdx++
			id := strings.TrimSpace(v.ID)
			if id == "" {
				id = fmt.Sprintf("call-%d", callIdx)
			}
			args := v.Input
			if len(args) == 0 {
				if b, err := json.Marshal(v.Input); err == nil {
					args = b
				}
			}
			calls = append(calls, llm.ToolCall{ID: id, Name: v.Name, Args: args})
		}
	}

	return llm.ChatResult{Content: sb.String(), ToolCalls: calls}
}
