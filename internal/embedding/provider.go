// Package embedding turns staged chunk prompts into vectors and drives the
// staged embedding pipeline: init, stage, backfill cached vectors, delta
// batches through a provider, and promote.
package embedding

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cpgraph/engine/internal/cpgerrors"
)

// ErrUnsupportedOperation indicates a provider that cannot embed text.
var ErrUnsupportedOperation = errors.New("operation not supported by this provider")

// Provider turns text into vectors.
type Provider interface {
	// Embed returns one vector per text, in order. Model() identifies the
	// vectors for cache-key purposes.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Model returns the provider's embedding model identifier.
	Model() string
}

// openAIBatchMax bounds how many prompts go into a single provider call;
// larger requests are split into concurrent batches.
const openAIBatchMax = 96

// OpenAIProvider implements Provider over the OpenAI embeddings API.
type OpenAIProvider struct {
	client        *openai.Client
	model         string
	maxRetries    int
	initialDelay  time.Duration
	backoffFactor float64
	maxDelay      time.Duration
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*OpenAIProvider)

// WithMaxRetries overrides the retry ceiling (default 2 retries, so at most
// 3 attempts in all under the capped backoff policy).
func WithMaxRetries(n int) OpenAIOption {
	return func(p *OpenAIProvider) { p.maxRetries = n }
}

// NewOpenAIProvider constructs a Provider backed by OpenAI's embeddings API.
func NewOpenAIProvider(apiKey, model, baseURL string, opts ...OpenAIOption) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	p := &OpenAIProvider{
		client:        openai.NewClientWithConfig(cfg),
		model:         model,
		maxRetries:    2,
		initialDelay:  time.Second,
		backoffFactor: 2.0,
		maxDelay:      10 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Model returns the configured embedding model identifier.
func (p *OpenAIProvider) Model() string { return p.model }

// Embed generates embeddings for texts, splitting large batches into
// concurrent provider calls of at most openAIBatchMax prompts each.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) <= openAIBatchMax {
		return p.embedBatch(ctx, texts)
	}

	batches := partition(texts, openAIBatchMax)
	results := make([][][]float32, len(batches))
	errs := make([]error, len(batches))

	done := make(chan int, len(batches))
	for i, batch := range batches {
		go func(idx int, batch []string) {
			results[idx], errs[idx] = p.embedBatch(ctx, batch)
			done <- idx
		}(i, batch)
	}
	for range batches {
		<-done
	}

	out := make([][]float32, 0, len(texts))
	for i := range batches {
		if errs[i] != nil {
			return nil, errs[i]
		}
		out = append(out, results[i]...)
	}
	return out, nil
}

func (p *OpenAIProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.model),
		Input: texts,
	}

	var resp openai.EmbeddingResponse
	var err error
	err = p.withRetry(ctx, func() error {
		resp, err = p.client.CreateEmbeddings(ctx, req)
		return err
	})
	if err != nil {
		return nil, p.wrapError(err)
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// withRetry runs fn under the engine's capped exponential backoff policy:
// base 1s, cap 10s, at most maxRetries attempts beyond the first (3 attempts
// in all with the default).
func (p *OpenAIProvider) withRetry(ctx context.Context, fn func() error) error {
	delay := p.initialDelay
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) || attempt == p.maxRetries {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * p.backoffFactor)
			if delay > p.maxDelay {
				delay = p.maxDelay
			}
		}
	}
	return lastErr
}

func isRetryable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
	}
	var reqErr *openai.RequestError
	return errors.As(err, &reqErr)
}

func (p *OpenAIProvider) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if isRetryable(err) {
			return cpgerrors.Transient("embedding provider call", err)
		}
		return cpgerrors.Data("embedding provider call", err)
	}
	return cpgerrors.Transient("embedding provider call", err)
}

func partition(texts []string, batchSize int) [][]string {
	var batches [][]string
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, texts[i:end])
	}
	return batches
}
