package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PoshanP/ThinkFolio-sub000/pkg/logger"
)

// VectorStore is the capability interface every vector backend implements.
// Search scopes are per-document: passing DocumentIDs restricts results to
// those documents only.
type VectorStore interface {
	// AddBatch stores chunks with their embeddings. All-or-nothing: a
	// failure leaves no partial writes visible.
	AddBatch(ctx context.Context, chunks []Chunk) error

	// Search performs similarity search against the query embedding.
	Search(ctx context.Context, embedding []float32, opts SearchOptions) ([]RetrievedChunk, error)

	// KeywordSearch performs lexical search against chunk content.
	KeywordSearch(ctx context.Context, query string, opts SearchOptions) ([]RetrievedChunk, error)

	// DeleteByDocument removes every chunk belonging to a document.
	DeleteByDocument(ctx context.Context, documentID uuid.UUID) error

	// Count returns the number of stored chunks for a document.
	Count(ctx context.Context, documentID uuid.UUID) (int, error)

	// Health checks backend connectivity.
	Health(ctx context.Context) error
}

// SearchOptions narrows a search.
type SearchOptions struct {
	TopK        int
	MinScore    float64
	DocumentIDs []uuid.UUID
}

// PgVectorStore implements VectorStore on PostgreSQL with pgvector.
type PgVectorStore struct {
	db  *PostgresDB
	log *logger.Logger
}

// NewPgVectorStore creates a new pgvector-backed store.
func NewPgVectorStore(db *PostgresDB, log *logger.Logger) *PgVectorStore {
	if log == nil {
		log = logger.Default()
	}
	return &PgVectorStore{
		db:  db,
		log: log.WithComponent("pgvector_store"),
	}
}

// Health checks database connectivity.
func (vs *PgVectorStore) Health(ctx context.Context) error {
	return vs.db.PingContext(ctx)
}

// AddBatch inserts chunks inside one transaction so a failure rolls back
// every row.
func (vs *PgVectorStore) AddBatch(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	start := time.Now()

	err := vs.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (
				id, document_id, content, embedding, page_number, chunk_index,
				token_count, section, keyword_count, has_equations, has_citations, created_at
			) VALUES ($1, $2, $3, $4::vector, $5, $6, $7, $8, $9, $10, $11, $12)`)
		if err != nil {
			return fmt.Errorf("failed to prepare chunk insert: %w", err)
		}
		defer stmt.Close()

		for i := range chunks {
			c := &chunks[i]
			if c.ID == uuid.Nil {
				c.ID = uuid.New()
			}
			if c.CreatedAt.IsZero() {
				c.CreatedAt = time.Now().UTC()
			}

			if _, err := stmt.ExecContext(ctx,
				c.ID, c.DocumentID, c.Content, embeddingToString(c.Embedding),
				nullInt(c.PageNumber), c.ChunkIndex, nullInt(c.TokenCount),
				nullString(c.Section), c.KeywordCount, c.HasEquations, c.HasCitations,
				c.CreatedAt,
			); err != nil {
				return fmt.Errorf("failed to insert chunk %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	vs.log.Info("chunks stored",
		"count", len(chunks),
		"document_id", chunks[0].DocumentID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Search performs cosine similarity search. Results below MinScore are
// dropped and the rest are returned best first.
func (vs *PgVectorStore) Search(ctx context.Context, embedding []float32, opts SearchOptions) ([]RetrievedChunk, error) {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}

	start := time.Now()
	defer func() {
		vs.log.Debug("similarity search completed",
			"top_k", opts.TopK,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	conditions := []string{"c.embedding IS NOT NULL"}
	args := []interface{}{embeddingToString(embedding)}
	argIdx := 2

	if opts.MinScore > 0 {
		conditions = append(conditions, fmt.Sprintf("1 - (c.embedding <=> $1::vector) >= $%d", argIdx))
		args = append(args, opts.MinScore)
		argIdx++
	}

	if cond, newIdx := documentFilter(opts.DocumentIDs, argIdx, &args); cond != "" {
		conditions = append(conditions, cond)
		argIdx = newIdx
	}

	args = append(args, opts.TopK)

	query := fmt.Sprintf(`
		SELECT
			c.id, c.document_id, c.content, c.page_number, c.chunk_index,
			c.token_count, c.section, c.keyword_count, c.has_equations,
			c.has_citations, c.created_at, c.embedding::text,
			1 - (c.embedding <=> $1::vector) AS score,
			d.title AS document_title
		FROM chunks c
		JOIN documents d ON c.document_id = d.id
		WHERE %s
		ORDER BY c.embedding <=> $1::vector
		LIMIT $%d`, strings.Join(conditions, " AND "), argIdx)

	rows, err := vs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer rows.Close()

	return scanRetrievedChunks(rows)
}

// KeywordSearch performs full-text search using tsvector ranking.
func (vs *PgVectorStore) KeywordSearch(ctx context.Context, queryText string, opts SearchOptions) ([]RetrievedChunk, error) {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}

	start := time.Now()
	defer func() {
		vs.log.Debug("keyword search completed",
			"top_k", opts.TopK,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	conditions := []string{
		"to_tsvector('english', c.content) @@ plainto_tsquery('english', $1)",
	}
	args := []interface{}{queryText}
	argIdx := 2

	if cond, newIdx := documentFilter(opts.DocumentIDs, argIdx, &args); cond != "" {
		conditions = append(conditions, cond)
		argIdx = newIdx
	}

	args = append(args, opts.TopK)

	query := fmt.Sprintf(`
		SELECT
			c.id, c.document_id, c.content, c.page_number, c.chunk_index,
			c.token_count, c.section, c.keyword_count, c.has_equations,
			c.has_citations, c.created_at, c.embedding::text,
			ts_rank(to_tsvector('english', c.content), plainto_tsquery('english', $1)) AS score,
			d.title AS document_title
		FROM chunks c
		JOIN documents d ON c.document_id = d.id
		WHERE %s
		ORDER BY score DESC
		LIMIT $%d`, strings.Join(conditions, " AND "), argIdx)

	rows, err := vs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	defer rows.Close()

	return scanRetrievedChunks(rows)
}

// DeleteByDocument removes all chunks for a document.
func (vs *PgVectorStore) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	result, err := vs.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	n, _ := result.RowsAffected()
	vs.log.Info("chunks deleted", "document_id", documentID, "count", n)
	return nil
}

// Count returns the number of stored chunks for a document.
func (vs *PgVectorStore) Count(ctx context.Context, documentID uuid.UUID) (int, error) {
	var count int
	err := vs.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE document_id = $1`, documentID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// documentFilter builds an IN clause for document scoping.
func documentFilter(ids []uuid.UUID, argIdx int, args *[]interface{}) (string, int) {
	if len(ids) == 0 {
		return "", argIdx
	}
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", argIdx)
		*args = append(*args, id)
		argIdx++
	}
	return fmt.Sprintf("c.document_id IN (%s)", strings.Join(placeholders, ",")), argIdx
}

// scanRetrievedChunks scans search result rows.
func scanRetrievedChunks(rows *sql.Rows) ([]RetrievedChunk, error) {
	var results []RetrievedChunk

	for rows.Next() {
		var rc RetrievedChunk
		var pageNumber, tokenCount sql.NullInt32
		var section, embeddingStr sql.NullString

		if err := rows.Scan(
			&rc.ID, &rc.DocumentID, &rc.Content, &pageNumber, &rc.ChunkIndex,
			&tokenCount, &section, &rc.KeywordCount, &rc.HasEquations,
			&rc.HasCitations, &rc.CreatedAt, &embeddingStr, &rc.Score, &rc.DocumentTitle,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}

		rc.PageNumber = int(pageNumber.Int32)
		rc.TokenCount = int(tokenCount.Int32)
		rc.Section = section.String
		rc.Embedding = stringToEmbedding(embeddingStr.String)
		results = append(results, rc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return results, nil
}

// embeddingToString converts a float32 slice to pgvector text format.
func embeddingToString(embedding []float32) string {
	if len(embedding) == 0 {
		return "[]"
	}
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = fmt.Sprintf("%f", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// stringToEmbedding parses pgvector text format back into float32s.
func stringToEmbedding(s string) []float32 {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil
	}
	inner := s[1 : len(s)-1]
	if inner == "" {
		return nil
	}
	parts := strings.Split(inner, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil
		}
		out = append(out, float32(v))
	}
	return out
}

// nullString returns sql.NullString for empty strings.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullInt returns sql.NullInt32 for zero values.
func nullInt(i int) sql.NullInt32 {
	if i == 0 {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(i), Valid: true}
}
