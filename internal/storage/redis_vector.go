package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/PoshanP/ThinkFolio-sub000/internal/embedder"
	"github.com/PoshanP/ThinkFolio-sub000/pkg/logger"
)

const (
	redisChunkKeyPrefix = "vs:chunk:"
	redisDocKeyPrefix   = "vs:doc:"
	redisAllChunksKey   = "vs:chunks"
)

// RedisVectorStore implements VectorStore on Redis hashes. Each chunk is one
// hash, with per-document sets tracking membership. Similarity is computed
// client-side, which is fine for corpora that fit in memory; larger corpora
// belong on the pgvector backend.
type RedisVectorStore struct {
	client *RedisClient
	log    *logger.Logger
}

// NewRedisVectorStore creates a Redis-backed vector store.
func NewRedisVectorStore(client *RedisClient, log *logger.Logger) *RedisVectorStore {
	if log == nil {
		log = logger.Default()
	}
	return &RedisVectorStore{
		client: client,
		log:    log.WithComponent("redis_vector_store"),
	}
}

// Health checks Redis connectivity.
func (vs *RedisVectorStore) Health(ctx context.Context) error {
	return vs.client.Health(ctx)
}

// AddBatch stores chunks in a single transactional pipeline.
func (vs *RedisVectorStore) AddBatch(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	start := time.Now()
	pipe := vs.client.TxPipeline()

	for i := range chunks {
		c := &chunks[i]
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}

		key := redisChunkKeyPrefix + c.ID.String()
		pipe.HSet(ctx, key, map[string]interface{}{
			"document_id":   c.DocumentID.String(),
			"content":       c.Content,
			"embedding":     encodeEmbedding(c.Embedding),
			"page_number":   c.PageNumber,
			"chunk_index":   c.ChunkIndex,
			"token_count":   c.TokenCount,
			"section":       c.Section,
			"keyword_count": c.KeywordCount,
			"has_equations": boolField(c.HasEquations),
			"has_citations": boolField(c.HasCitations),
			"created_at":    c.CreatedAt.Unix(),
		})
		pipe.SAdd(ctx, redisDocKeyPrefix+c.DocumentID.String(), c.ID.String())
		pipe.SAdd(ctx, redisAllChunksKey, c.ID.String())
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}

	vs.log.Info("chunks stored",
		"count", len(chunks),
		"document_id", chunks[0].DocumentID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Search loads candidate chunks and ranks them by client-side cosine
// similarity.
func (vs *RedisVectorStore) Search(ctx context.Context, embedding []float32, opts SearchOptions) ([]RetrievedChunk, error) {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}

	start := time.Now()
	candidates, err := vs.loadCandidates(ctx, opts.DocumentIDs)
	if err != nil {
		return nil, err
	}

	var results []RetrievedChunk
	for _, c := range candidates {
		score := float64(embedder.CosineSimilarity(embedding, c.Embedding))
		if opts.MinScore > 0 && score < opts.MinScore {
			continue
		}
		results = append(results, RetrievedChunk{Chunk: c, Score: score})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}

	vs.log.Debug("similarity search completed",
		"candidates", len(candidates),
		"returned", len(results),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}

// KeywordSearch ranks chunks by query term overlap.
func (vs *RedisVectorStore) KeywordSearch(ctx context.Context, query string, opts SearchOptions) ([]RetrievedChunk, error) {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	candidates, err := vs.loadCandidates(ctx, opts.DocumentIDs)
	if err != nil {
		return nil, err
	}

	var results []RetrievedChunk
	for _, c := range candidates {
		content := strings.ToLower(c.Content)
		matched := 0
		hits := 0
		for _, term := range terms {
			if n := strings.Count(content, term); n > 0 {
				matched++
				hits += n
			}
		}
		if matched == 0 {
			continue
		}
		// Coverage-weighted term frequency, normalized by content length.
		score := float64(matched) / float64(len(terms)) *
			(1 + float64(hits)/float64(1+len(content)/100))
		results = append(results, RetrievedChunk{Chunk: c, Score: score})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	return results, nil
}

// DeleteByDocument removes all chunks for a document.
func (vs *RedisVectorStore) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	docKey := redisDocKeyPrefix + documentID.String()
	ids, err := vs.client.SMembers(ctx, docKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list document chunks: %w", err)
	}

	pipe := vs.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, redisChunkKeyPrefix+id)
		pipe.SRem(ctx, redisAllChunksKey, id)
	}
	pipe.Del(ctx, docKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	vs.log.Info("chunks deleted", "document_id", documentID, "count", len(ids))
	return nil
}

// Count returns the number of stored chunks for a document.
func (vs *RedisVectorStore) Count(ctx context.Context, documentID uuid.UUID) (int, error) {
	n, err := vs.client.SCard(ctx, redisDocKeyPrefix+documentID.String()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return int(n), nil
}

// loadCandidates fetches chunk hashes for the given document scope, or the
// whole corpus when no scope is set.
func (vs *RedisVectorStore) loadCandidates(ctx context.Context, documentIDs []uuid.UUID) ([]Chunk, error) {
	var ids []string
	if len(documentIDs) == 0 {
		var err error
		ids, err = vs.client.SMembers(ctx, redisAllChunksKey).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list chunks: %w", err)
		}
	} else {
		for _, docID := range documentIDs {
			members, err := vs.client.SMembers(ctx, redisDocKeyPrefix+docID.String()).Result()
			if err != nil {
				return nil, fmt.Errorf("failed to list document chunks: %w", err)
			}
			ids = append(ids, members...)
		}
	}

	if len(ids) == 0 {
		return nil, nil
	}

	pipe := vs.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, redisChunkKeyPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}

	chunks := make([]Chunk, 0, len(ids))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		chunk, err := chunkFromFields(ids[i], fields)
		if err != nil {
			vs.log.Warn("skipping malformed chunk", "chunk_id", ids[i], "error", err)
			continue
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func chunkFromFields(id string, fields map[string]string) (Chunk, error) {
	chunkID, err := uuid.Parse(id)
	if err != nil {
		return Chunk{}, fmt.Errorf("bad chunk id: %w", err)
	}
	docID, err := uuid.Parse(fields["document_id"])
	if err != nil {
		return Chunk{}, fmt.Errorf("bad document id: %w", err)
	}

	chunk := Chunk{
		ID:           chunkID,
		DocumentID:   docID,
		Content:      fields["content"],
		Embedding:    decodeEmbedding([]byte(fields["embedding"])),
		Section:      fields["section"],
		HasEquations: fields["has_equations"] == "1",
		HasCitations: fields["has_citations"] == "1",
	}
	chunk.PageNumber, _ = strconv.Atoi(fields["page_number"])
	chunk.ChunkIndex, _ = strconv.Atoi(fields["chunk_index"])
	chunk.TokenCount, _ = strconv.Atoi(fields["token_count"])
	chunk.KeywordCount, _ = strconv.Atoi(fields["keyword_count"])
	if sec, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		chunk.CreatedAt = time.Unix(sec, 0).UTC()
	}
	return chunk, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// tokenize lowercases and splits query text into search terms.
func tokenize(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 1 {
			terms = append(terms, f)
		}
	}
	return terms
}
