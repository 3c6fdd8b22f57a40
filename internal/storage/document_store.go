package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/PoshanP/ThinkFolio-sub000/pkg/logger"
)

// DocumentStore persists documents, sessions, messages, and citations.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*Document, error)

	// ListDocuments returns documents newest first. A valid userID restricts
	// the listing to that user's documents.
	ListDocuments(ctx context.Context, userID uuid.NullUUID) ([]Document, error)
	DeleteDocument(ctx context.Context, id uuid.UUID) error

	// TransitionStatus moves a document from one status to another. It
	// returns ErrProcessingConflict when the document is not in the expected
	// status, and ErrDocumentNotFound when it does not exist.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to ProcessingStatus, statusErr string) error

	// SetChunkStats records chunk and page counts after ingestion.
	SetChunkStats(ctx context.Context, id uuid.UUID, chunkCount, pageCount int) error

	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	AddMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]Message, error)
	AddCitations(ctx context.Context, citations []Citation) error
	ListCitations(ctx context.Context, messageID uuid.UUID) ([]Citation, error)
}

// PostgresDocumentStore implements DocumentStore on PostgreSQL.
type PostgresDocumentStore struct {
	db  *PostgresDB
	log *logger.Logger
}

// NewPostgresDocumentStore creates a new document store.
func NewPostgresDocumentStore(db *PostgresDB, log *logger.Logger) *PostgresDocumentStore {
	if log == nil {
		log = logger.Default()
	}
	return &PostgresDocumentStore{
		db:  db,
		log: log.WithComponent("document_store"),
	}
}

// CreateDocument inserts a new document in pending status.
func (s *PostgresDocumentStore) CreateDocument(ctx context.Context, doc *Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Status == "" {
		doc.Status = StatusPending
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, user_id, title, source_type, source_ref, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		doc.ID, doc.UserID, doc.Title, doc.SourceType, doc.SourceRef, doc.Status, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}

	s.log.Info("document created", "document_id", doc.ID, "title", doc.Title, "source_type", doc.SourceType)
	return nil
}

// GetDocument retrieves a document by ID.
func (s *PostgresDocumentStore) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	var doc Document
	var statusErr sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, source_type, source_ref, status, status_error,
		       chunk_count, page_count, created_at, updated_at
		FROM documents WHERE id = $1`, id,
	).Scan(
		&doc.ID, &doc.UserID, &doc.Title, &doc.SourceType, &doc.SourceRef, &doc.Status,
		&statusErr, &doc.ChunkCount, &doc.PageCount, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.StatusError = statusErr.String
	return &doc, nil
}

// ListDocuments returns documents newest first, scoped to one user when
// userID is valid.
func (s *PostgresDocumentStore) ListDocuments(ctx context.Context, userID uuid.NullUUID) ([]Document, error) {
	query := `
		SELECT id, user_id, title, source_type, source_ref, status, status_error,
		       chunk_count, page_count, created_at, updated_at
		FROM documents`
	var args []any
	if userID.Valid {
		query += ` WHERE user_id = $1`
		args = append(args, userID.UUID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var statusErr sql.NullString
		if err := rows.Scan(
			&doc.ID, &doc.UserID, &doc.Title, &doc.SourceType, &doc.SourceRef, &doc.Status,
			&statusErr, &doc.ChunkCount, &doc.PageCount, &doc.CreatedAt, &doc.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.StatusError = statusErr.String
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document row. Chunks cascade at the database
// level, but callers should clear vector storage first.
func (s *PostgresDocumentStore) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrDocumentNotFound
	}

	s.log.Info("document deleted", "document_id", id)
	return nil
}

// TransitionStatus performs a conditional status update so concurrent
// workers cannot both claim the same document.
func (s *PostgresDocumentStore) TransitionStatus(ctx context.Context, id uuid.UUID, from, to ProcessingStatus, statusErr string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = $1, status_error = $2, updated_at = now()
		WHERE id = $3 AND status = $4`,
		to, nullString(statusErr), id, from,
	)
	if err != nil {
		return fmt.Errorf("failed to transition status: %w", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		if _, getErr := s.GetDocument(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: expected status %q", ErrProcessingConflict, from)
	}

	s.log.Info("document status changed", "document_id", id, "from", from, "to", to)
	return nil
}

// SetChunkStats records chunk and page counts after ingestion.
func (s *PostgresDocumentStore) SetChunkStats(ctx context.Context, id uuid.UUID, chunkCount, pageCount int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET chunk_count = $1, page_count = $2, updated_at = now()
		WHERE id = $3`,
		chunkCount, pageCount, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set chunk stats: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// CreateSession inserts a new conversation session.
func (s *PostgresDocumentStore) CreateSession(ctx context.Context, sess *Session) error {
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		sess.ID, sess.UserID, nullString(sess.Title), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *PostgresDocumentStore) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	var sess Session
	var title sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, created_at, updated_at FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.UserID, &title, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	sess.Title = title.String
	return &sess, nil
}

// AddMessage appends a message to a session and touches the session row.
func (s *PostgresDocumentStore) AddMessage(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = time.Now().UTC()

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, session_id, role, content, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			m.ID, m.SessionID, m.Role, m.Content, m.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to add message: %w", err)
		}

		_, err = tx.ExecContext(ctx, `UPDATE sessions SET updated_at = now() WHERE id = $1`, m.SessionID)
		if err != nil {
			return fmt.Errorf("failed to touch session: %w", err)
		}
		return nil
	})
}

// ListMessages returns the most recent messages in chronological order.
// limit <= 0 returns all messages.
func (s *PostgresDocumentStore) ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]Message, error) {
	query := `
		SELECT id, session_id, role, content, created_at
		FROM (
			SELECT id, session_id, role, content, created_at
			FROM messages WHERE session_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`

	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// AddCitations stores the source links for an assistant message.
func (s *PostgresDocumentStore) AddCitations(ctx context.Context, citations []Citation) error {
	if len(citations) == 0 {
		return nil
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO citations (id, message_id, chunk_id, document_id, page_number, snippet, score, rank)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
		if err != nil {
			return fmt.Errorf("failed to prepare citation insert: %w", err)
		}
		defer stmt.Close()

		for i := range citations {
			c := &citations[i]
			if c.ID == uuid.Nil {
				c.ID = uuid.New()
			}
			if _, err := stmt.ExecContext(ctx,
				c.ID, c.MessageID, c.ChunkID, c.DocumentID,
				nullInt(c.PageNumber), c.Snippet, c.Score, c.Rank,
			); err != nil {
				return fmt.Errorf("failed to add citation %d: %w", i, err)
			}
		}
		return nil
	})
}

// ListCitations returns citations for a message ordered by rank.
func (s *PostgresDocumentStore) ListCitations(ctx context.Context, messageID uuid.UUID) ([]Citation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, chunk_id, document_id, page_number, snippet, score, rank
		FROM citations WHERE message_id = $1 ORDER BY rank ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list citations: %w", err)
	}
	defer rows.Close()

	var citations []Citation
	for rows.Next() {
		var c Citation
		var pageNumber sql.NullInt32
		if err := rows.Scan(&c.ID, &c.MessageID, &c.ChunkID, &c.DocumentID,
			&pageNumber, &c.Snippet, &c.Score, &c.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan citation: %w", err)
		}
		c.PageNumber = int(pageNumber.Int32)
		citations = append(citations, c)
	}
	return citations, rows.Err()
}
