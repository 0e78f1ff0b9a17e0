package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// embeddingCache is a fixed-size FIFO cache for embeddings, keyed by a
// hash of model+text. Reduces repeated collaborator calls for repeated or
// overlapping queries (notably HyDE, which re-embeds near-identical
// hypothetical documents across requests).
type embeddingCache struct {
	mu      sync.Mutex
	items   map[string][]float64
	order   []string
	maxSize int
}

func newEmbeddingCache(maxSize int) *embeddingCache {
	return &embeddingCache{
		items:   make(map[string][]float64, maxSize),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
	}
}

func (c *embeddingCache) get(key string) ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *embeddingCache) set(key string, emb []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		if len(c.order) >= c.maxSize {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.items, oldest)
		}
		c.order = append(c.order, key)
	}
	c.items[key] = emb
}

// Client is an Ollama-backed Collaborator.
type Client struct {
	baseURL         string
	model           string
	generationModel string
	client          *http.Client
	cache           *embeddingCache
}

// NewClient creates a new Ollama-backed embedding/generation client.
func NewClient(baseURL, model string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	return &Client{
		baseURL:         baseURL,
		model:           model,
		generationModel: "llama3.2",
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache: newEmbeddingCache(512),
	}
}

// SetGenerationModel changes the model used for text generation (HyDE).
func (c *Client) SetGenerationModel(model string) {
	c.generationModel = model
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// cacheKey returns a stable cache key for the given text and model.
func (c *Client) cacheKey(text string) string {
	h := blake3.Sum256([]byte(c.model + "\x00" + text))
	return fmt.Sprintf("%x", h[:16])
}

// embed generates a single embedding, consulting the cache first.
func (c *Client) embed(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}

	key := c.cacheKey(text)
	if cached, ok := c.cache.get(key); ok {
		return cached, nil
	}

	jsonBody, err := json.Marshal(embeddingRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(body))
	}

	var result embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}

	c.cache.set(key, result.Embedding)
	return result.Embedding, nil
}

// EmbedBatch implements Collaborator. Ollama's embeddings endpoint is
// single-text; batching here is sequential on the client side, each call
// still going through the shared cache. ctx is checked between requests
// so a canceled batch stops issuing new round trips instead of finishing
// every text first.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, string, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, c.model, err
		}
		emb, err := c.embed(ctx, t)
		if err != nil {
			return nil, c.model, fmt.Errorf("embed text %d: %w", i, err)
		}
		out[i] = emb
	}
	return out, c.model, nil
}

// IsAvailable pings Ollama's tags endpoint with a short timeout.
func (c *Client) IsAvailable() bool {
	probe := &http.Client{Timeout: 2 * time.Second}
	resp, err := probe.Get(c.baseURL + "/api/tags")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate implements Generator, used by HyDE to synthesize hypothetical
// documents before embedding them.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("empty prompt")
	}

	jsonBody, err := json.Marshal(generateRequest{Model: c.generationModel, Prompt: prompt, Stream: false})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request (took %s): %w", time.Since(start), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama error (status %d, took %s): %s", resp.StatusCode, time.Since(start), string(body))
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response (took %s): %w", time.Since(start), err)
	}
	return result.Response, nil
}
