// File path: internal/embed/embed.go
package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/mkrell/atomforge/internal/common/telemetry"
)

// maxInputChars bounds the text sent to the embedding endpoint. Longer
// payloads are truncated rather than rejected.
const maxInputChars = 30000

// UpstreamError is a failure reported by the embedding provider.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("embedding provider error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("embedding provider error: %s", e.Message)
}

// Embedder produces vector embeddings for atom text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// Client is an Embedder backed by an OpenAI-compatible endpoint.
type Client struct {
	api   openai.Client
	model string
}

// NewClient validates the configuration and builds the provider client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("embedding API key not configured")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{api: openai.NewClient(opts...), model: cfg.Model}, nil
}

// Embed returns the embedding for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds the given texts in one provider call, preserving order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	input := make([]string, len(texts))
	for i, text := range texts {
		if len(text) > maxInputChars {
			text = text[:maxInputChars]
		}
		input[i] = text
	}
	ctx, end := telemetry.StartSpan(ctx, "embed.batch")
	resp, err := c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: input},
		Model: openai.EmbeddingModel(c.model),
	})
	end("texts", len(input))
	telemetry.RecordEmbedding(err)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &UpstreamError{Status: apiErr.StatusCode, Message: apiErr.Message}
		}
		return nil, &UpstreamError{Message: err.Error()}
	}
	if len(resp.Data) != len(input) {
		return nil, &UpstreamError{Message: fmt.Sprintf("expected %d embeddings, got %d", len(input), len(resp.Data))}
	}
	out := make([][]float64, len(resp.Data))
	for i, item := range resp.Data {
		out[i] = item.Embedding
	}
	return out, nil
}
