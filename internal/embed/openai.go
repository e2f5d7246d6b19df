package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIConfig holds settings for an OpenAI-compatible /embeddings
// endpoint (OpenAI, LM Studio, vLLM, text-embeddings-inference).
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// OpenAI generates embeddings through an OpenAI-compatible API.
type OpenAI struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// NewOpenAI creates an OpenAI-compatible embedding adapter.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &OpenAI{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

// ProbeDimension embeds the probe string and returns the vector length.
func (c *OpenAI) ProbeDimension(ctx context.Context) (int, error) {
	return probeDimension(ctx, c)
}

// Embed returns the normalized embedding vector for the given text.
func (c *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.request(ctx, text)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns embeddings for multiple texts using array input.
func (c *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := c.request(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrModelUnavailable, len(vecs), len(texts))
	}
	return vecs, nil
}

func (c *OpenAI) request(ctx context.Context, input any) ([][]float32, error) {
	reqBody := map[string]any{
		"model": c.model,
		"input": input,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/embeddings", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build embedding request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrModelUnavailable, resp.StatusCode, string(raw))
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding json failed: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("%w: empty embedding in response", ErrModelUnavailable)
	}

	out := make([][]float32, len(parsed.Data))
	for i := range parsed.Data {
		if len(parsed.Data[i].Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrModelUnavailable, i)
		}
		out[i] = Normalize(parsed.Data[i].Embedding)
	}
	return out, nil
}

// Compile-time interface check
var _ Embedder = (*OpenAI)(nil)
