// Package openai adapts the OpenAI SDK to Penny's llm.Embedder and
// llm.ImageGenerator contracts, grounded on the teacher's
// internal/llm/openai/client.go image-generation call and its
// option.WithAPIKey/option.WithBaseURL client construction.
package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"
	"github.com/rs/zerolog/log"
)

// Client is an llm.Embedder and llm.ImageGenerator backed by the OpenAI API.
type Client struct {
	sdk            sdk.Client
	embeddingModel string
	imageModel     string
}

// New constructs a Client.
func New(apiKey, baseURL, embeddingModel, imageModel string, httpClient *http.Client) *Client {
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
	return &Client{
		sdk:            sdk.NewClient(opts...),
		embeddingModel: strings.TrimSpace(embeddingModel),
		imageModel:     strings.TrimSpace(imageModel),
	}
}

// Embed returns one vector per input text, in order, per spec.md §6.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	start := time.Now()
	resp, err := c.sdk.Embeddings.New(ctx, sdk.EmbeddingNewParams{
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: sdk.EmbeddingModel(c.embeddingModel),
	})
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", c.embeddingModel).Int("inputs", len(texts)).Dur("duration", dur).Msg("openai_embed_error")
		return nil, fmt.Errorf("openai embed: %w", err)
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		if int(d.Index) < len(out) {
			out[d.Index] = vec
		}
	}
	return out, nil
}

// GenerateImage returns decoded PNG bytes for the given prompt, per spec.md §6.
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("openai image generation requires a prompt")
	}

	start := time.Now()
	resp, err := c.sdk.Images.Generate(ctx, sdk.ImageGenerateParams{
		Prompt: prompt,
		Model:  sdk.ImageModel(c.imageModel),
		N:      param.NewOpt[int64](1),
	})
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", c.imageModel).Dur("duration", dur).Msg("openai_image_generation_error")
		return nil, fmt.Errorf("openai generate image: %w", err)
	}
	if len(resp.Data) == 0 || strings.TrimSpace(resp.Data[0].B64JSON) == "" {
		return nil, fmt.Errorf("openai generate image: empty response")
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("openai generate image: decode: %w", err)
	}
	return data, nil
}
