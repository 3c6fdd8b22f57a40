package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PoshanP/ThinkFolio-sub000/internal/embedder"
)

// MemoryVectorStore is an in-memory VectorStore used in tests and local
// development. It mirrors the scoring behavior of the Redis backend.
type MemoryVectorStore struct {
	mu     sync.RWMutex
	byDoc  map[uuid.UUID][]Chunk
	titles map[uuid.UUID]string

	FailAdd error // When set, AddBatch returns this error
}

// NewMemoryVectorStore creates an empty in-memory store.
func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{
		byDoc:  make(map[uuid.UUID][]Chunk),
		titles: make(map[uuid.UUID]string),
	}
}

// SetDocumentTitle registers a title to attach to retrieved chunks.
func (vs *MemoryVectorStore) SetDocumentTitle(documentID uuid.UUID, title string) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.titles[documentID] = title
}

// AddBatch stores chunks, all or nothing.
func (vs *MemoryVectorStore) AddBatch(ctx context.Context, chunks []Chunk) error {
	if vs.FailAdd != nil {
		return vs.FailAdd
	}
	if len(chunks) == 0 {
		return nil
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()
	for i := range chunks {
		c := chunks[i]
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
		vs.byDoc[c.DocumentID] = append(vs.byDoc[c.DocumentID], c)
	}
	return nil
}

// Search ranks chunks by cosine similarity.
func (vs *MemoryVectorStore) Search(ctx context.Context, embedding []float32, opts SearchOptions) ([]RetrievedChunk, error) {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}

	var results []RetrievedChunk
	vs.mu.RLock()
	for _, c := range vs.candidates(opts.DocumentIDs) {
		score := float64(embedder.CosineSimilarity(embedding, c.Embedding))
		if opts.MinScore > 0 && score < opts.MinScore {
			continue
		}
		results = append(results, RetrievedChunk{
			Chunk:         c,
			Score:         score,
			DocumentTitle: vs.titles[c.DocumentID],
		})
	}
	vs.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	return results, nil
}

// KeywordSearch ranks chunks by query term overlap.
func (vs *MemoryVectorStore) KeywordSearch(ctx context.Context, query string, opts SearchOptions) ([]RetrievedChunk, error) {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var results []RetrievedChunk
	vs.mu.RLock()
	for _, c := range vs.candidates(opts.DocumentIDs) {
		content := strings.ToLower(c.Content)
		matched := 0
		for _, term := range terms {
			if strings.Contains(content, term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		results = append(results, RetrievedChunk{
			Chunk:         c,
			Score:         float64(matched) / float64(len(terms)),
			DocumentTitle: vs.titles[c.DocumentID],
		})
	}
	vs.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	return results, nil
}

// DeleteByDocument removes all chunks for a document.
func (vs *MemoryVectorStore) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	delete(vs.byDoc, documentID)
	return nil
}

// Count returns the number of stored chunks for a document.
func (vs *MemoryVectorStore) Count(ctx context.Context, documentID uuid.UUID) (int, error) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return len(vs.byDoc[documentID]), nil
}

// Health always succeeds.
func (vs *MemoryVectorStore) Health(ctx context.Context) error { return nil }

// candidates must be called with the lock held.
func (vs *MemoryVectorStore) candidates(documentIDs []uuid.UUID) []Chunk {
	var out []Chunk
	if len(documentIDs) == 0 {
		for _, chunks := range vs.byDoc {
			out = append(out, chunks...)
		}
		return out
	}
	for _, id := range documentIDs {
		out = append(out, vs.byDoc[id]...)
	}
	return out
}

// MemoryDocumentStore is an in-memory DocumentStore for tests.
type MemoryDocumentStore struct {
	mu        sync.RWMutex
	docs      map[uuid.UUID]*Document
	sessions  map[uuid.UUID]*Session
	messages  map[uuid.UUID][]Message
	citations map[uuid.UUID][]Citation
}

// NewMemoryDocumentStore creates an empty in-memory document store.
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{
		docs:      make(map[uuid.UUID]*Document),
		sessions:  make(map[uuid.UUID]*Session),
		messages:  make(map[uuid.UUID][]Message),
		citations: make(map[uuid.UUID][]Citation),
	}
}

func (s *MemoryDocumentStore) CreateDocument(ctx context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Status == "" {
		doc.Status = StatusPending
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	cp := *doc
	s.docs[doc.ID] = &cp
	return nil
}

func (s *MemoryDocumentStore) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	cp := *doc
	return &cp, nil
}

func (s *MemoryDocumentStore) ListDocuments(ctx context.Context, userID uuid.NullUUID) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, 0, len(s.docs))
	for _, doc := range s.docs {
		if userID.Valid && doc.UserID != userID {
			continue
		}
		out = append(out, *doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryDocumentStore) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return ErrDocumentNotFound
	}
	delete(s.docs, id)
	return nil
}

func (s *MemoryDocumentStore) TransitionStatus(ctx context.Context, id uuid.UUID, from, to ProcessingStatus, statusErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrDocumentNotFound
	}
	if doc.Status != from {
		return fmt.Errorf("%w: expected status %q", ErrProcessingConflict, from)
	}
	doc.Status = to
	doc.StatusError = statusErr
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryDocumentStore) SetChunkStats(ctx context.Context, id uuid.UUID, chunkCount, pageCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrDocumentNotFound
	}
	doc.ChunkCount = chunkCount
	doc.PageCount = pageCount
	return nil
}

func (s *MemoryDocumentStore) CreateSession(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *MemoryDocumentStore) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryDocumentStore) AddMessage(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[m.SessionID]; !ok {
		return ErrSessionNotFound
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = time.Now().UTC()
	s.messages[m.SessionID] = append(s.messages[m.SessionID], *m)
	return nil
}

func (s *MemoryDocumentStore) ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryDocumentStore) AddCitations(ctx context.Context, citations []Citation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range citations {
		c := citations[i]
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		s.citations[c.MessageID] = append(s.citations[c.MessageID], c)
	}
	return nil
}

func (s *MemoryDocumentStore) ListCitations(ctx context.Context, messageID uuid.UUID) ([]Citation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Citation, len(s.citations[messageID]))
	copy(out, s.citations[messageID])
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}
