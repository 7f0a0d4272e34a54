package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// HTTPEmbedder calls an OpenAI-compatible /embeddings endpoint.
type HTTPEmbedder struct {
	url    string
	model  string
	client *http.Client
}

func NewHTTPEmbedder(url, model string, timeout time.Duration) *HTTPEmbedder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPEmbedder{url: url, model: model, client: &http.Client{Timeout: timeout}}
}

type embeddingRequest struct {
	Model string `json:"model,omitempty"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding request: status %d", resp.StatusCode)
	}

	var decoded embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	if len(decoded.Data) == 0 || len(decoded.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("decode embedding: empty response")
	}
	return decoded.Data[0].Embedding, nil
}

// CachingEmbedder memoizes embeddings with a TTL and collapses concurrent lookups.
type CachingEmbedder struct {
	next  Embedder
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group
	rndMu sync.Mutex
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedEmbedding
}

type cachedEmbedding struct {
	vector    []float32
	expiresAt time.Time
}

func NewCachingEmbedder(next Embedder, ttl time.Duration) *CachingEmbedder {
	return &CachingEmbedder{
		next:  next,
		ttl:   ttl,
		clock: time.Now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		cache: make(map[string]cachedEmbedding),
	}
}

func (c *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.lookup(text); ok {
		return v, nil
	}

	result, err, _ := c.sf.Do(text, func() (interface{}, error) {
		if v, ok := c.lookup(text); ok {
			return v, nil
		}
		v, err := c.next.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		expiresAt := c.expiry()
		c.mu.Lock()
		c.cache[text] = cachedEmbedding{vector: v, expiresAt: expiresAt}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}

func (c *CachingEmbedder) lookup(text string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[text]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return nil, false
	}
	return entry.vector, true
}

// expiry returns the expiration for a new entry; a non-positive TTL never expires.
func (c *CachingEmbedder) expiry() time.Time {
	now := c.clock()
	if c.ttl <= 0 {
		return now.AddDate(100, 0, 0)
	}
	// up to 10% jitter spreads expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	jitter := time.Duration(c.rnd.Int63n(jitterMax + 1))
	c.rndMu.Unlock()
	return now.Add(c.ttl + jitter)
}
