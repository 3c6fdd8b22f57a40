package embedder

import (
	"context"
	"crypto/sha256"
	"errors"
	"strings"
	"sync"
)

// ErrMockFailure is returned by MockService when asked to fail.
var ErrMockFailure = errors.New("mock embedding failure")

// MockService is a deterministic in-memory Service for tests. The embedding
// for a given text is always the same, derived from its hash.
type MockService struct {
	Dim      int
	FailText string // Any batch containing this text fails

	mu      sync.Mutex
	Batches [][]string // Record of every EmbedBatch call
}

// NewMockService creates a mock with the given dimension.
func NewMockService(dim int) *MockService {
	return &MockService{Dim: dim}
}

// Embed generates a deterministic embedding for text.
func (m *MockService) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch generates deterministic embeddings for each text.
func (m *MockService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	recorded := make([]string, len(texts))
	copy(recorded, texts)
	m.Batches = append(m.Batches, recorded)
	m.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if m.FailText != "" && strings.Contains(text, m.FailText) {
			return nil, ErrMockFailure
		}
		out[i] = m.deterministic(text)
	}
	return out, nil
}

func (m *MockService) deterministic(text string) []float32 {
	hash := sha256.Sum256([]byte(text))
	emb := make([]float32, m.Dim)
	for i := range emb {
		emb[i] = float32(hash[i%len(hash)])/255.0 - 0.5
	}
	return emb
}

// Dimension returns the mock dimension.
func (m *MockService) Dimension() int { return m.Dim }

// ModelName returns the mock model name.
func (m *MockService) ModelName() string { return "mock-embedding" }
