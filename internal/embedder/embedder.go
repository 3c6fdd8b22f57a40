// Package embedder converts text into embedding vectors.
package embedder

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/PoshanP/ThinkFolio-sub000/pkg/logger"
)

// Service defines the interface for embedding generation.
type Service interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for texts in one request, preserving
	// input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimension.
	Dimension() int

	// ModelName returns the model name.
	ModelName() string
}

// Config holds configuration for the OpenAI embedding service.
type Config struct {
	APIKey         string
	BaseURL        string // Optional override for OpenAI-compatible endpoints
	Model          string
	MaxRetries     int           // Max retry attempts per request
	RetryDelay     time.Duration // Initial retry delay, doubled each attempt
	RateLimitRPS   int           // Requests per second
	RequestTimeout time.Duration // Timeout per request
}

// DefaultConfig returns default embedding configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:         apiKey,
		Model:          "text-embedding-3-small",
		MaxRetries:     3,
		RetryDelay:     time.Second,
		RateLimitRPS:   50,
		RequestTimeout: 60 * time.Second,
	}
}

// OpenAIService implements Service using the OpenAI embeddings API.
type OpenAIService struct {
	client      *openai.Client
	config      Config
	rateLimiter *rate.Limiter
	log         *logger.Logger

	statsMu sync.RWMutex
	stats   Stats
}

// Stats tracks embedding usage.
type Stats struct {
	TotalRequests int64   `json:"total_requests"`
	TotalTokens   int64   `json:"total_tokens"`
	TotalTexts    int64   `json:"total_texts"`
	Errors        int64   `json:"errors"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
}

// NewOpenAIService creates a new OpenAI embedding service.
func NewOpenAIService(cfg Config, log *logger.Logger) (*OpenAIService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 50
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if log == nil {
		log = logger.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIService{
		client:      openai.NewClientWithConfig(clientCfg),
		config:      cfg,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitRPS),
		log:         log.WithComponent("embedder"),
	}, nil
}

// Embed generates an embedding for a single text.
func (s *OpenAIService) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for texts in a single API request. The
// result slice is index-aligned with the input.
func (s *OpenAIService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	start := time.Now()

	var lastErr error
	delay := s.config.RetryDelay

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			s.log.Debug("retrying embedding request", "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if err := s.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		embeddings, tokens, err := s.doEmbed(ctx, texts)
		if err == nil {
			s.updateStats(len(texts), tokens, time.Since(start))
			return embeddings, nil
		}

		lastErr = err
		s.log.WithError(err).Warn("embedding request failed", "attempt", attempt)
	}

	s.incrementError()
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", s.config.MaxRetries+1, lastErr)
}

func (s *OpenAIService) doEmbed(ctx context.Context, texts []string) ([][]float32, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	resp, err := s.client.CreateEmbeddings(reqCtx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(s.config.Model),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, 0, fmt.Errorf("got %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		embeddings[i] = data.Embedding
	}
	return embeddings, resp.Usage.TotalTokens, nil
}

// Dimension returns the embedding dimension for the configured model.
func (s *OpenAIService) Dimension() int {
	switch s.config.Model {
	case "text-embedding-3-large":
		return 3072
	default:
		return 1536
	}
}

// ModelName returns the configured model name.
func (s *OpenAIService) ModelName() string {
	return s.config.Model
}

// GetStats returns current usage statistics.
func (s *OpenAIService) GetStats() Stats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

func (s *OpenAIService) updateStats(textCount, tokens int, latency time.Duration) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	s.stats.TotalRequests++
	s.stats.TotalTokens += int64(tokens)
	s.stats.TotalTexts += int64(textCount)

	total := s.stats.AvgLatencyMs * float64(s.stats.TotalRequests-1)
	s.stats.AvgLatencyMs = (total + float64(latency.Milliseconds())) / float64(s.stats.TotalRequests)
}

func (s *OpenAIService) incrementError() {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.Errors++
}

// CosineSimilarity calculates cosine similarity between two vectors. Returns
// zero for mismatched lengths or zero vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
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
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
