// Package storage provides database, cache, and object storage access.
package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for storage operations.
var (
	ErrDocumentNotFound   = errors.New("document not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrProcessingConflict = errors.New("document is already being processed")
)

// ProcessingStatus tracks a document through the ingestion state machine:
// pending -> processing -> completed or failed.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// SourceType identifies where a document's raw content comes from.
const (
	SourcePDF  = "pdf"
	SourceText = "text"
	SourceURL  = "url"
)

// Document is an ingested source document. UserID identifies the uploading
// user; invalid means the document is unowned and visible to everyone.
type Document struct {
	ID          uuid.UUID        `json:"id"`
	UserID      uuid.NullUUID    `json:"user_id"`
	Title       string           `json:"title"`
	SourceType  string           `json:"source_type"`
	SourceRef   string           `json:"source_ref"` // Object key or URL
	Status      ProcessingStatus `json:"status"`
	StatusError string           `json:"status_error,omitempty"`
	ChunkCount  int              `json:"chunk_count"`
	PageCount   int              `json:"page_count"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Chunk is one embedded piece of a document. Lexical metadata fields are
// fixed columns rather than a free-form map so queries stay typed.
type Chunk struct {
	ID           uuid.UUID `json:"id"`
	DocumentID   uuid.UUID `json:"document_id"`
	Content      string    `json:"content"`
	Embedding    []float32 `json:"embedding,omitempty"`
	PageNumber   int       `json:"page_number"`
	ChunkIndex   int       `json:"chunk_index"`
	TokenCount   int       `json:"token_count"`
	Section      string    `json:"section"`
	KeywordCount int       `json:"keyword_count"`
	HasEquations bool      `json:"has_equations"`
	HasCitations bool      `json:"has_citations"`
	CreatedAt    time.Time `json:"created_at"`
}

// RetrievedChunk is a chunk returned from search with its score.
type RetrievedChunk struct {
	Chunk
	Score         float64 `json:"score"`
	DocumentTitle string  `json:"document_title"`
}

// Session is one conversation thread, optionally owned by a user.
type Session struct {
	ID        uuid.UUID     `json:"id"`
	UserID    uuid.NullUUID `json:"user_id"`
	Title     string        `json:"title"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Message is one turn in a session.
type Message struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Citation links an assistant message back to a source chunk.
type Citation struct {
	ID         uuid.UUID `json:"id"`
	MessageID  uuid.UUID `json:"message_id"`
	ChunkID    uuid.UUID `json:"chunk_id"`
	DocumentID uuid.UUID `json:"document_id"`
	PageNumber int       `json:"page_number"`
	Snippet    string    `json:"snippet"`
	Score      float64   `json:"score"`
	Rank       int       `json:"rank"`
}
