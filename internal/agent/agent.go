// Package agent orchestrates document ingestion and question answering.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/PoshanP/ThinkFolio-sub000/internal/embedder"
	"github.com/PoshanP/ThinkFolio-sub000/internal/llm"
	"github.com/PoshanP/ThinkFolio-sub000/internal/loader"
	"github.com/PoshanP/ThinkFolio-sub000/internal/rag"
	"github.com/PoshanP/ThinkFolio-sub000/internal/splitter"
	"github.com/PoshanP/ThinkFolio-sub000/internal/storage"
	"github.com/PoshanP/ThinkFolio-sub000/pkg/logger"
)

const snippetLength = 200

// Config holds agent-level timeouts.
type Config struct {
	ProcessTimeout time.Duration // Full ingestion of one document
	QueryTimeout   time.Duration // One question, summary, or insight run
}

// DefaultConfig returns default agent configuration.
func DefaultConfig() Config {
	return Config{
		ProcessTimeout: 10 * time.Minute,
		QueryTimeout:   2 * time.Minute,
	}
}

// Agent ties the ingestion pipeline and the retrieval chain together behind
// one API.
type Agent struct {
	store      storage.DocumentStore
	vectors    storage.VectorStore
	objects    storage.ObjectStore // May be nil; used for source cleanup
	splitter   *splitter.Splitter
	classifier *splitter.Classifier
	batcher    *embedder.Batcher
	loader     *loader.Loader
	chain      *rag.Chain
	config     Config
	log        *logger.Logger
}

// Deps collects the agent's collaborators.
type Deps struct {
	Store      storage.DocumentStore
	Vectors    storage.VectorStore
	Objects    storage.ObjectStore
	Splitter   *splitter.Splitter
	Classifier *splitter.Classifier
	Batcher    *embedder.Batcher
	Loader     *loader.Loader
	Chain      *rag.Chain
}

// New creates an agent.
func New(deps Deps, cfg Config, log *logger.Logger) *Agent {
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 10 * time.Minute
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 2 * time.Minute
	}
	if deps.Classifier == nil {
		deps.Classifier = splitter.NewClassifier()
	}
	if log == nil {
		log = logger.Default()
	}
	return &Agent{
		store:      deps.Store,
		vectors:    deps.Vectors,
		objects:    deps.Objects,
		splitter:   deps.Splitter,
		classifier: deps.Classifier,
		batcher:    deps.Batcher,
		loader:     deps.Loader,
		chain:      deps.Chain,
		config:     cfg,
		log:        log.WithComponent("agent"),
	}
}

// ProcessDocument runs the full ingestion pipeline for a pending document:
// load, split, classify, embed, and store. The document moves to completed
// on success or failed with a reason on any error. A document already
// claimed by another worker is rejected with ErrProcessingConflict.
func (a *Agent) ProcessDocument(ctx context.Context, documentID uuid.UUID) error {
	if err := a.store.TransitionStatus(ctx, documentID, storage.StatusPending, storage.StatusProcessing, ""); err != nil {
		return fmt.Errorf("cannot start processing: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.ProcessTimeout)
	defer cancel()

	start := time.Now()
	doc, err := a.store.GetDocument(ctx, documentID)
	if err != nil {
		return a.markFailed(documentID, err)
	}

	content, err := a.loader.Load(ctx, doc)
	if err != nil {
		return a.markFailed(documentID, fmt.Errorf("load failed: %w", err))
	}

	var pieces []splitter.Piece
	if content.Paginated() {
		pieces = a.splitter.SplitPages(content.Pages)
	} else {
		pieces = a.splitter.Split(content.Text)
	}
	if len(pieces) == 0 {
		return a.markFailed(documentID, fmt.Errorf("document produced no text"))
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Content
	}

	embeddings, err := a.batcher.EmbedAll(ctx, texts)
	if err != nil {
		return a.markFailed(documentID, fmt.Errorf("embedding failed: %w", err))
	}

	chunks := make([]storage.Chunk, len(pieces))
	pageCount := 0
	for i, p := range pieces {
		md := a.classifier.Classify(p.Content)
		chunks[i] = storage.Chunk{
			DocumentID:   documentID,
			Content:      p.Content,
			Embedding:    embeddings[i],
			PageNumber:   p.PageNumber,
			ChunkIndex:   p.Index,
			TokenCount:   p.TokenCount,
			Section:      string(md.Section),
			KeywordCount: md.KeywordCount,
			HasEquations: md.HasEquations,
			HasCitations: md.HasCitations,
		}
		if p.PageNumber > pageCount {
			pageCount = p.PageNumber
		}
	}

	if err := a.vectors.AddBatch(ctx, chunks); err != nil {
		return a.markFailed(documentID, fmt.Errorf("chunk storage failed: %w", err))
	}

	if err := a.store.SetChunkStats(ctx, documentID, len(chunks), pageCount); err != nil {
		return a.markFailed(documentID, err)
	}
	if err := a.store.TransitionStatus(ctx, documentID, storage.StatusProcessing, storage.StatusCompleted, ""); err != nil {
		return err
	}

	a.log.Info("document processed",
		"document_id", documentID,
		"chunks", len(chunks),
		"pages", pageCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// markFailed records the failure reason using a fresh context so status is
// written even when the pipeline context expired.
func (a *Agent) markFailed(documentID uuid.UUID, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.store.TransitionStatus(ctx, documentID, storage.StatusProcessing, storage.StatusFailed, cause.Error()); err != nil {
		a.log.WithError(err).Error("failed to record failure", "document_id", documentID)
	}
	return cause
}

// Reprocess clears a document's chunks and runs ingestion again. Documents
// currently processing are rejected.
func (a *Agent) Reprocess(ctx context.Context, documentID uuid.UUID) error {
	doc, err := a.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status == storage.StatusProcessing {
		return fmt.Errorf("%w: document %s", storage.ErrProcessingConflict, documentID)
	}

	if err := a.vectors.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}
	if doc.Status != storage.StatusPending {
		if err := a.store.TransitionStatus(ctx, documentID, doc.Status, storage.StatusPending, ""); err != nil {
			return err
		}
	}

	a.log.Info("document queued for reprocessing", "document_id", documentID, "previous_status", doc.Status)
	return a.ProcessDocument(ctx, documentID)
}

// QueryOutput is the result of a question.
type QueryOutput struct {
	SessionID uuid.UUID                `json:"session_id"`
	MessageID uuid.UUID                `json:"message_id"`
	Answer    string                   `json:"answer"`
	Sources   []storage.RetrievedChunk `json:"sources"`
	Citations []storage.Citation       `json:"citations"`
	Timing    rag.Timing               `json:"timing"`
}

// QueryInput describes one question.
type QueryInput struct {
	SessionID   uuid.UUID     // Nil starts a new session
	UserID      uuid.NullUUID // Owner of the session; invalid means anonymous
	Question    string
	DocumentIDs []uuid.UUID
	SearchType  rag.SearchType
}

// Query answers a question, persisting the conversation turn and its
// citations.
func (a *Agent) Query(ctx context.Context, in QueryInput) (*QueryOutput, error) {
	return a.query(ctx, in, nil)
}

// StreamQuery answers a question incrementally via onDelta. Persistence is
// identical to Query once the stream completes.
func (a *Agent) StreamQuery(ctx context.Context, in QueryInput, onDelta llm.StreamFunc) (*QueryOutput, error) {
	return a.query(ctx, in, onDelta)
}

func (a *Agent) query(ctx context.Context, in QueryInput, onDelta llm.StreamFunc) (*QueryOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.QueryTimeout)
	defer cancel()

	sessionID, err := a.ensureSession(ctx, in)
	if err != nil {
		return nil, err
	}

	answer, err := a.chain.StreamQuery(ctx, rag.QueryInput{
		SessionID:   sessionID,
		Question:    in.Question,
		DocumentIDs: in.DocumentIDs,
		SearchType:  in.SearchType,
	}, onDelta)
	if err != nil {
		return nil, err
	}

	// The turn is persisted only after generation succeeds, so a failed
	// answer never leaves a dangling question in the session log.
	if err := a.store.AddMessage(ctx, &storage.Message{
		SessionID: sessionID,
		Role:      llm.RoleUser,
		Content:   in.Question,
	}); err != nil {
		return nil, fmt.Errorf("failed to persist question: %w", err)
	}

	assistantMsg := &storage.Message{
		SessionID: sessionID,
		Role:      llm.RoleAssistant,
		Content:   answer.Text,
	}
	if err := a.store.AddMessage(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to persist answer: %w", err)
	}

	citations := buildCitations(assistantMsg.ID, answer.Sources)
	if err := a.store.AddCitations(ctx, citations); err != nil {
		return nil, fmt.Errorf("failed to persist citations: %w", err)
	}

	return &QueryOutput{
		SessionID: sessionID,
		MessageID: assistantMsg.ID,
		Answer:    answer.Text,
		Sources:   answer.Sources,
		Citations: citations,
		Timing:    answer.Timing,
	}, nil
}

// ensureSession creates a session lazily for a nil id and seeds the chain's
// conversation window from persisted messages for existing sessions. Another
// user's session is reported as not found rather than revealing it exists.
func (a *Agent) ensureSession(ctx context.Context, in QueryInput) (uuid.UUID, error) {
	if in.SessionID == uuid.Nil {
		sess := &storage.Session{UserID: in.UserID, Title: truncate(in.Question, 80)}
		if err := a.store.CreateSession(ctx, sess); err != nil {
			return uuid.Nil, fmt.Errorf("failed to create session: %w", err)
		}
		return sess.ID, nil
	}

	sess, err := a.store.GetSession(ctx, in.SessionID)
	if err != nil {
		return uuid.Nil, err
	}
	if sess.UserID.Valid && sess.UserID != in.UserID {
		return uuid.Nil, storage.ErrSessionNotFound
	}

	history := a.chain.History()
	if !history.Has(in.SessionID) {
		msgs, err := a.store.ListMessages(ctx, in.SessionID, history.Window())
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to load history: %w", err)
		}
		window := make([]llm.Message, len(msgs))
		for i, m := range msgs {
			window[i] = llm.Message{Role: m.Role, Content: m.Content}
		}
		history.Seed(in.SessionID, window)
	}
	return in.SessionID, nil
}

// Summarize produces a summary of a completed document.
func (a *Agent) Summarize(ctx context.Context, documentID uuid.UUID) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.QueryTimeout)
	defer cancel()

	if err := a.requireCompleted(ctx, documentID); err != nil {
		return "", err
	}

	answer, err := a.chain.GenerateSummary(ctx, documentID)
	if err != nil {
		return "", err
	}
	return answer.Text, nil
}

// ExtractInsights produces key insight bullets for a completed document.
func (a *Agent) ExtractInsights(ctx context.Context, documentID uuid.UUID) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.QueryTimeout)
	defer cancel()

	if err := a.requireCompleted(ctx, documentID); err != nil {
		return nil, err
	}
	return a.chain.ExtractKeyInsights(ctx, documentID)
}

// DeleteDocument removes a document and everything derived from it:
// vectors first, then the document row, then the stored source object.
func (a *Agent) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	doc, err := a.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	if err := a.vectors.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	if err := a.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}

	if a.objects != nil && doc.SourceType != storage.SourceURL && doc.SourceRef != "" {
		if err := a.objects.Delete(ctx, doc.SourceRef); err != nil {
			a.log.WithError(err).Warn("failed to delete source object", "key", doc.SourceRef)
		}
	}

	a.log.Info("document removed", "document_id", documentID)
	return nil
}

func (a *Agent) requireCompleted(ctx context.Context, documentID uuid.UUID) error {
	doc, err := a.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status != storage.StatusCompleted {
		return fmt.Errorf("document %s is %s, not completed", documentID, doc.Status)
	}
	return nil
}

func buildCitations(messageID uuid.UUID, sources []storage.RetrievedChunk) []storage.Citation {
	citations := make([]storage.Citation, len(sources))
	for i, src := range sources {
		citations[i] = storage.Citation{
			MessageID:  messageID,
			ChunkID:    src.ID,
			DocumentID: src.DocumentID,
			PageNumber: src.PageNumber,
			Snippet:    truncate(src.Content, snippetLength),
			Score:      src.Score,
			Rank:       i + 1,
		}
	}
	return citations
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
