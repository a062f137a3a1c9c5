// Package ai contains the external embedding service adapter. The
// adapter owns rate limiting and transient-error retry so worker cycles
// block on quota instead of failing, keeping the job queue as the sole
// buffer.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/timgulden/arxivscope-sub000/internal/core/domain"
	"github.com/timgulden/arxivscope-sub000/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.EmbeddingService = (*OpenAIEmbedding)(nil)

// Model dimensions for OpenAI embedding models
var openAIModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

const (
	defaultModel   = "text-embedding-3-small"
	defaultBaseURL = "https://api.openai.com/v1"

	// defaultMaxRetries bounds same-batch retries on transient errors
	defaultMaxRetries = 6

	// backoffBase and backoffCap bound the exponential retry delay
	backoffBase = time.Second
	backoffCap  = time.Minute
)

// OpenAIEmbedding implements EmbeddingService using OpenAI's embedding
// API. A process-wide token bucket bounds outbound request rate; when the
// external quota is shared by multiple worker instances, divide the
// configured rate across them.
type OpenAIEmbedding struct {
	apiKey     string
	model      string
	baseURL    string
	dimensions int
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int

	// sleep is swappable in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// EmbeddingConfig holds configuration for the OpenAI embedding adapter.
type EmbeddingConfig struct {
	APIKey  string
	Model   string // default text-embedding-3-small
	BaseURL string // default https://api.openai.com/v1

	// RequestsPerSecond caps outbound call rate (default 2)
	RequestsPerSecond float64

	// Burst is the token bucket burst size (default 1)
	Burst int

	// MaxRetries bounds transient-error retries per batch (default 6)
	MaxRetries int
}

// NewOpenAIEmbedding creates a new OpenAI embedding service.
func NewOpenAIEmbedding(cfg EmbeddingConfig) (*OpenAIEmbedding, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	dimensions, ok := openAIModelDimensions[model]
	if !ok {
		// Default to 1536 for unknown models
		dimensions = 1536
	}

	return &OpenAIEmbedding{
		apiKey:     cfg.APIKey,
		model:      model,
		baseURL:    baseURL,
		dimensions: dimensions,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		maxRetries: maxRetries,
		sleep:      sleepCtx,
	}, nil
}

// embeddingRequest is the request body for the OpenAI embedding API
type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
}

// embeddingResponse is the response from the OpenAI embedding API
type embeddingResponse struct {
	Object string `json:"object"`
	Data   []struct {
		Object    string    `json:"object"`
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Embed generates embeddings for a batch of texts, one result per input.
//
// Empty texts are rejected locally as permanent per-item failures and
// never sent. A rate-limit or transient server response blocks the call
// with capped, jittered exponential backoff and retries the same batch;
// only exhausting the retry budget surfaces a structural error.
func (e *OpenAIEmbedding) Embed(ctx context.Context, texts []string) ([]driven.EmbeddingResult, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([]driven.EmbeddingResult, len(texts))

	sendable := make([]string, 0, len(texts))
	sendIdx := make([]int, 0, len(texts))
	for i, text := range texts {
		if text == "" {
			results[i].Err = domain.ErrEmptyText
			continue
		}
		sendable = append(sendable, text)
		sendIdx = append(sendIdx, i)
	}
	if len(sendable) == 0 {
		return results, nil
	}

	resp, err := e.doWithRetry(ctx, embeddingRequest{
		Input:          sendable,
		Model:          e.model,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, err
	}

	// The API reports vectors by input index; any index the response
	// omits is a per-item failure.
	byIndex := make(map[int][]float32, len(resp.Data))
	for _, d := range resp.Data {
		byIndex[d.Index] = d.Embedding
	}
	for pos, i := range sendIdx {
		vec, ok := byIndex[pos]
		if !ok || len(vec) == 0 {
			results[i].Err = fmt.Errorf("no embedding returned for input %d", pos)
			continue
		}
		results[i].Vector = vec
	}

	return results, nil
}

// doWithRetry sends the batch, retrying on rate-limit and transient
// server errors with exponential backoff.
func (e *OpenAIEmbedding) doWithRetry(ctx context.Context, reqBody embeddingRequest) (*embeddingResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt, lastErr)
			if err := e.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		// Token bucket: delays rather than drops when over budget.
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := e.doRequest(ctx, reqBody)
		if err == nil {
			return resp, nil
		}
		if !domain.IsTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("embedding request failed after %d retries: %w", e.maxRetries, lastErr)
}

// retryAfterError carries the server-requested delay on a 429.
type retryAfterError struct {
	after time.Duration
	err   error
}

func (r *retryAfterError) Error() string { return r.err.Error() }
func (r *retryAfterError) Unwrap() error { return r.err }

// retryDelay computes the backoff before the given attempt, honoring a
// Retry-After hint when the server sent one.
func retryDelay(attempt int, lastErr error) time.Duration {
	if ra, ok := lastErr.(*retryAfterError); ok && ra.after > 0 {
		return ra.after
	}
	backoff := backoffBase << (attempt - 1)
	if backoff > backoffCap {
		backoff = backoffCap
	}
	// Full jitter keeps concurrent workers from retrying in lockstep.
	return time.Duration(rand.Int63n(int64(backoff)) + int64(backoff)/2)
}

// doRequest makes one request to the OpenAI embedding API.
func (e *OpenAIEmbedding) doRequest(ctx context.Context, reqBody embeddingRequest) (*embeddingResponse, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrServiceUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		err := fmt.Errorf("%w: status 429", domain.ErrRateLimited)
		if after := parseRetryAfter(resp); after > 0 {
			return nil, &retryAfterError{after: after, err: err}
		}
		return nil, err
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", domain.ErrServiceUnavailable, resp.StatusCode)
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if embResp.Error != nil {
		return nil, fmt.Errorf("OpenAI API error: %s (type: %s, code: %s)",
			embResp.Error.Message, embResp.Error.Type, embResp.Error.Code)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OpenAI API returned status %d", resp.StatusCode)
	}
	return &embResp, nil
}

func parseRetryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Dimensions returns the embedding dimension size
func (e *OpenAIEmbedding) Dimensions() int {
	return e.dimensions
}

// Model returns the model name being used
func (e *OpenAIEmbedding) Model() string {
	return e.model
}

// Close releases resources held by the embedding service
func (e *OpenAIEmbedding) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
