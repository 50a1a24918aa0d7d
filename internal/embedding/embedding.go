// Package embedding turns message text into vectors through a local or
// remote model server.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/matheus3301/wppagent/internal/config"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text. A nil Embedder means
// semantic features are unavailable.
type Embedder interface {
	// Available reports whether the provider answers right now.
	Available(ctx context.Context) bool
	Embed(ctx context.Context, text string) (Vector, error)
	// EmbedBatch returns one entry per input; failed entries are nil.
	EmbedBatch(ctx context.Context, texts []string) ([]Vector, error)
	// Model is the tag stored next to each vector.
	Model() string
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

type httpClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func newHTTPClient(baseURL, apiKey string) httpClient {
	return httpClient{baseURL: baseURL, apiKey: apiKey, client: &http.Client{Timeout: 30 * time.Second}}
}

func (c httpClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c httpClient) reachable(ctx context.Context, path string) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return c.do(ctx, http.MethodGet, path, nil, nil) == nil
}

// embedEach calls embed per text; failures leave nil entries. Only a
// cancelled context aborts the batch.
func embedEach(ctx context.Context, texts []string, embed func(context.Context, string) (Vector, error)) ([]Vector, error) {
	out := make([]Vector, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		v, err := embed(ctx, t)
		if err == nil {
			out[i] = v
		}
	}
	return out, nil
}

// --- Ollama Provider ---

// OllamaEmbedder uses a local Ollama instance for embeddings.
type OllamaEmbedder struct {
	http  httpClient
	model string
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllamaEmbedder creates an embedder using Ollama's API.
func NewOllamaEmbedder(baseURL, model string) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	return &OllamaEmbedder{http: newHTTPClient(baseURL, ""), model: model}
}

func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	return e.http.reachable(ctx, "/api/tags")
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	var result ollamaResponse
	if err := e.http.do(ctx, http.MethodPost, "/api/embeddings", ollamaRequest{Model: e.model, Prompt: text}, &result); err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama embed: empty vector")
	}
	return result.Embedding, nil
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	return embedEach(ctx, texts, e.Embed)
}

func (e *OllamaEmbedder) Model() string { return "ollama/" + e.model }

// --- OpenAI-compatible Provider ---

// OpenAIEmbedder uses any OpenAI-compatible embedding API.
type OpenAIEmbedder struct {
	http  httpClient
	model string
}

type openaiEmbedRequest struct {
	Input any    `json:"input"`
	Model string `json:"model"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewOpenAIEmbedder creates an embedder using an OpenAI-compatible API.
func NewOpenAIEmbedder(baseURL, apiKey, model string) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{http: newHTTPClient(baseURL, apiKey), model: model}
}

func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	return e.http.reachable(ctx, "/models")
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	var result openaiEmbedResponse
	if err := e.http.do(ctx, http.MethodPost, "/embeddings", openaiEmbedRequest{Input: text, Model: e.model}, &result); err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai embed: no embedding returned")
	}
	return result.Data[0].Embedding, nil
}

// EmbedBatch sends every text in one request, falling back to one request
// per text when the batch call fails.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var result openaiEmbedResponse
	if err := e.http.do(ctx, http.MethodPost, "/embeddings", openaiEmbedRequest{Input: texts, Model: e.model}, &result); err != nil {
		if ctx.Err() != nil {
			return make([]Vector, len(texts)), ctx.Err()
		}
		return embedEach(ctx, texts, e.Embed)
	}
	out := make([]Vector, len(texts))
	for _, d := range result.Data {
		if d.Index >= 0 && d.Index < len(out) && len(d.Embedding) > 0 {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}

func (e *OpenAIEmbedder) Model() string { return "openai/" + e.model }

// --- Factory ---

// NewFromConfig builds the configured provider, or nil when embeddings are
// disabled.
func NewFromConfig(cfg *config.Config) Embedder {
	switch cfg.EmbedProvider {
	case "ollama":
		return NewOllamaEmbedder(cfg.EmbedURL, cfg.EmbedModel)
	case "openai":
		return NewOpenAIEmbedder(cfg.EmbedURL, cfg.EmbedAPIKey, cfg.EmbedModel)
	default:
		return nil
	}
}
