// Package rag implements retrieval and answer generation over ingested
// documents.
package rag

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PoshanP/ThinkFolio-sub000/internal/embedder"
	"github.com/PoshanP/ThinkFolio-sub000/internal/storage"
	"github.com/PoshanP/ThinkFolio-sub000/pkg/logger"
)

// SearchType selects a retrieval strategy.
type SearchType string

const (
	SearchSimilarity SearchType = "similarity"
	SearchMMR        SearchType = "mmr"
	SearchKeyword    SearchType = "keyword"
	SearchHybrid     SearchType = "hybrid"
)

// SearchConfig holds retrieval defaults.
type SearchConfig struct {
	TopK           int
	ScoreThreshold float64
	SemanticWeight float64 // Hybrid slot share for similarity results
	KeywordWeight  float64 // Hybrid slot share for keyword results
	MMRFetchK      int     // Candidate pool size for MMR
	MMRLambda      float64 // Relevance vs diversity trade-off
}

// DefaultSearchConfig returns default retrieval configuration.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		TopK:           5,
		ScoreThreshold: 0.3,
		SemanticWeight: 0.6,
		KeywordWeight:  0.4,
		MMRFetchK:      20,
		MMRLambda:      0.5,
	}
}

// SearchRequest describes one retrieval call. Zero values fall back to the
// manager's configured defaults; a negative MinScore disables the score
// threshold entirely.
type SearchRequest struct {
	Query       string
	Type        SearchType
	TopK        int
	MinScore    float64
	DocumentIDs []uuid.UUID
}

// Timing breaks down where retrieval time went.
type Timing struct {
	EmbedMs  int64 `json:"embed_ms"`
	SearchMs int64 `json:"search_ms"`
	TotalMs  int64 `json:"total_ms"`
}

// SearchResult is a ranked set of retrieved chunks.
type SearchResult struct {
	Chunks []storage.RetrievedChunk `json:"chunks"`
	Type   SearchType               `json:"type"`
	Timing Timing                   `json:"timing"`
}

// Manager routes search requests to the vector store using the requested
// strategy.
type Manager struct {
	vectors  storage.VectorStore
	embedSvc embedder.Service
	cache    storage.EmbeddingCache
	config   SearchConfig
	log      *logger.Logger
}

// NewManager creates a search manager. cache may be nil.
func NewManager(vectors storage.VectorStore, embedSvc embedder.Service, cache storage.EmbeddingCache, cfg SearchConfig, log *logger.Logger) *Manager {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MMRFetchK <= 0 {
		cfg.MMRFetchK = 20
	}
	if cfg.SemanticWeight <= 0 && cfg.KeywordWeight <= 0 {
		cfg.SemanticWeight = 0.6
		cfg.KeywordWeight = 0.4
	}
	if cfg.MMRLambda <= 0 || cfg.MMRLambda > 1 {
		cfg.MMRLambda = 0.5
	}
	if cache == nil {
		cache = storage.NullEmbeddingCache{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		vectors:  vectors,
		embedSvc: embedSvc,
		cache:    cache,
		config:   cfg,
		log:      log.WithComponent("search"),
	}
}

// Search performs retrieval using the strategy in the request. An empty
// strategy means hybrid.
func (m *Manager) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("empty search query")
	}
	if req.TopK <= 0 {
		req.TopK = m.config.TopK
	}
	// Zero means "use the default threshold"; negative disables it.
	if req.MinScore == 0 {
		req.MinScore = m.config.ScoreThreshold
	} else if req.MinScore < 0 {
		req.MinScore = 0
	}
	if req.Type == "" {
		req.Type = SearchHybrid
	}

	start := time.Now()
	var (
		result *SearchResult
		err    error
	)

	switch req.Type {
	case SearchSimilarity:
		result, err = m.similaritySearch(ctx, req)
	case SearchMMR:
		result, err = m.mmrSearch(ctx, req)
	case SearchKeyword:
		result, err = m.keywordSearch(ctx, req)
	case SearchHybrid:
		result, err = m.hybridSearch(ctx, req)
	default:
		return nil, fmt.Errorf("unknown search type %q", req.Type)
	}
	if err != nil {
		return nil, err
	}

	result.Timing.TotalMs = time.Since(start).Milliseconds()
	m.log.Debug("search completed",
		"type", req.Type,
		"results", len(result.Chunks),
		"duration_ms", result.Timing.TotalMs,
	)
	return result, nil
}

// embedQuery returns the query embedding, consulting the cache first.
func (m *Manager) embedQuery(ctx context.Context, query string) ([]float32, int64, error) {
	start := time.Now()
	model := m.embedSvc.ModelName()

	if cached := m.cache.Get(ctx, model, query); cached != nil {
		return cached, time.Since(start).Milliseconds(), nil
	}

	embedding, err := m.embedSvc.Embed(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to embed query: %w", err)
	}
	m.cache.Set(ctx, model, query, embedding)
	return embedding, time.Since(start).Milliseconds(), nil
}

func (m *Manager) similaritySearch(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	embedding, embedMs, err := m.embedQuery(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	searchStart := time.Now()
	chunks, err := m.vectors.Search(ctx, embedding, storage.SearchOptions{
		TopK:        req.TopK,
		MinScore:    req.MinScore,
		DocumentIDs: req.DocumentIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	return &SearchResult{
		Chunks: chunks,
		Type:   SearchSimilarity,
		Timing: Timing{EmbedMs: embedMs, SearchMs: time.Since(searchStart).Milliseconds()},
	}, nil
}

// mmrSearch fetches a wider candidate pool and greedily reranks it for
// diversity. When candidates carry no embeddings the plain similarity order
// is kept.
func (m *Manager) mmrSearch(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	embedding, embedMs, err := m.embedQuery(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	fetchK := m.config.MMRFetchK
	if fetchK < req.TopK {
		fetchK = req.TopK
	}

	searchStart := time.Now()
	candidates, err := m.vectors.Search(ctx, embedding, storage.SearchOptions{
		TopK:        fetchK,
		MinScore:    req.MinScore,
		DocumentIDs: req.DocumentIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("mmr candidate search: %w", err)
	}

	chunks := mmrSelect(embedding, candidates, req.TopK, m.config.MMRLambda)

	return &SearchResult{
		Chunks: chunks,
		Type:   SearchMMR,
		Timing: Timing{EmbedMs: embedMs, SearchMs: time.Since(searchStart).Milliseconds()},
	}, nil
}

func (m *Manager) keywordSearch(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	searchStart := time.Now()
	chunks, err := m.vectors.KeywordSearch(ctx, req.Query, storage.SearchOptions{
		TopK:        req.TopK,
		DocumentIDs: req.DocumentIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	return &SearchResult{
		Chunks: chunks,
		Type:   SearchKeyword,
		Timing: Timing{SearchMs: time.Since(searchStart).Milliseconds()},
	}, nil
}

// hybridSearch runs similarity and keyword retrieval concurrently and fuses
// the two rankings by slot quota.
func (m *Manager) hybridSearch(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	embedding, embedMs, err := m.embedQuery(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	searchStart := time.Now()
	// Each leg fetches a full TopK so fusion can backfill when one leg
	// comes up short.
	opts := storage.SearchOptions{TopK: req.TopK, DocumentIDs: req.DocumentIDs}

	type legResult struct {
		chunks []storage.RetrievedChunk
		err    error
	}
	semCh := make(chan legResult, 1)
	kwCh := make(chan legResult, 1)

	go func() {
		semOpts := opts
		semOpts.MinScore = req.MinScore
		chunks, err := m.vectors.Search(ctx, embedding, semOpts)
		semCh <- legResult{chunks, err}
	}()
	go func() {
		chunks, err := m.vectors.KeywordSearch(ctx, req.Query, opts)
		kwCh <- legResult{chunks, err}
	}()

	sem := <-semCh
	kw := <-kwCh
	if sem.err != nil {
		return nil, fmt.Errorf("hybrid semantic leg: %w", sem.err)
	}
	if kw.err != nil {
		return nil, fmt.Errorf("hybrid keyword leg: %w", kw.err)
	}

	fused := fuseByQuota(sem.chunks, kw.chunks, req.TopK, m.config.SemanticWeight, m.config.KeywordWeight)

	return &SearchResult{
		Chunks: fused,
		Type:   SearchHybrid,
		Timing: Timing{EmbedMs: embedMs, SearchMs: time.Since(searchStart).Milliseconds()},
	}, nil
}

// fuseByQuota merges two rankings by rank position: the semantic leg gets
// its share of the k slots, the keyword leg the rest, duplicates are counted
// once, and leftover slots are backfilled from either leg in order.
func fuseByQuota(semantic, keyword []storage.RetrievedChunk, k int, semWeight, kwWeight float64) []storage.RetrievedChunk {
	if k <= 0 {
		return nil
	}

	total := semWeight + kwWeight
	if total <= 0 {
		semWeight, kwWeight, total = 0.6, 0.4, 1.0
	}
	semSlots := int(float64(k)*semWeight/total + 0.5)
	if semSlots > k {
		semSlots = k
	}
	kwSlots := k - semSlots

	seen := make(map[string]bool, k)
	fused := make([]storage.RetrievedChunk, 0, k)

	take := func(from []storage.RetrievedChunk, n int) {
		for _, c := range from {
			if n <= 0 || len(fused) >= k {
				return
			}
			key := contentKey(c)
			if seen[key] {
				continue
			}
			seen[key] = true
			fused = append(fused, c)
			n--
		}
	}

	take(semantic, semSlots)
	take(keyword, kwSlots)

	// Backfill remaining slots from whatever is left, semantic first.
	if len(fused) < k {
		take(semantic, k-len(fused))
	}
	if len(fused) < k {
		take(keyword, k-len(fused))
	}

	return fused
}

// contentKey identifies a chunk by its content so the same text retrieved
// through both legs is only counted once.
func contentKey(c storage.RetrievedChunk) string {
	if c.ID != uuid.Nil {
		return c.ID.String()
	}
	sum := sha256.Sum256([]byte(c.Content))
	return string(sum[:])
}

// mmrSelect greedily picks k chunks maximizing marginal relevance:
// lambda * sim(query, c) - (1 - lambda) * max sim(c, selected).
func mmrSelect(query []float32, candidates []storage.RetrievedChunk, k int, lambda float64) []storage.RetrievedChunk {
	if len(candidates) <= k {
		return candidates
	}

	for _, c := range candidates {
		if len(c.Embedding) == 0 {
			// Backend did not return embeddings; keep similarity order.
			return candidates[:k]
		}
	}

	selected := make([]storage.RetrievedChunk, 0, k)
	remaining := make([]storage.RetrievedChunk, len(candidates))
	copy(remaining, candidates)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := 0
		bestScore := -1e9
		for i, c := range remaining {
			relevance := float64(embedder.CosineSimilarity(query, c.Embedding))
			redundancy := 0.0
			for _, s := range selected {
				if sim := float64(embedder.CosineSimilarity(c.Embedding, s.Embedding)); sim > redundancy {
					redundancy = sim
				}
			}
			score := lambda*relevance - (1-lambda)*redundancy
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}
