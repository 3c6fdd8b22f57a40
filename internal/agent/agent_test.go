package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/PoshanP/ThinkFolio-sub000/internal/embedder"
	"github.com/PoshanP/ThinkFolio-sub000/internal/llm"
	"github.com/PoshanP/ThinkFolio-sub000/internal/loader"
	"github.com/PoshanP/ThinkFolio-sub000/internal/rag"
	"github.com/PoshanP/ThinkFolio-sub000/internal/splitter"
	"github.com/PoshanP/ThinkFolio-sub000/internal/storage"
)

const corpusText = `The study examines retrieval quality across three collections of technical documents.

Semantic retrieval alone misses exact identifiers and rare terms, while keyword retrieval alone misses paraphrases. Combining both recovers most relevant passages.

The evaluation covers two hundred queries with graded relevance judgments. Results show the combined approach improves recall at five by eleven points.

Latency stays under fifty milliseconds for collections below one million chunks, dominated by the embedding call rather than the index lookup.`

type fakeObjectStore struct {
	objects map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (f *fakeObjectStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	f.objects[key] = data
	return nil
}

func (f *fakeObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	return f.objects[key], nil
}

func (f *fakeObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeObjectStore) Delete(ctx context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeObjectStore) Health(ctx context.Context) error { return nil }

type testEnv struct {
	agent   *Agent
	store   *storage.MemoryDocumentStore
	vectors *storage.MemoryVectorStore
	objects *fakeObjectStore
	embed   *embedder.MockService
	gen     *llm.MockGenerator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := storage.NewMemoryDocumentStore()
	vectors := storage.NewMemoryVectorStore()
	objects := newFakeObjectStore()
	embed := embedder.NewMockService(32)
	gen := &llm.MockGenerator{Answer: "The combined approach improves recall [Source 1]."}

	sp, err := splitter.New(splitter.Config{ChunkSize: 200, ChunkOverlap: 40, ChunksPerPage: 5})
	if err != nil {
		t.Fatalf("splitter.New() error = %v", err)
	}

	manager := rag.NewManager(vectors, embed, nil, rag.SearchConfig{TopK: 5}, nil)
	chain := rag.NewChain(manager, gen, rag.DefaultChainConfig(), nil)

	a := New(Deps{
		Store:    store,
		Vectors:  vectors,
		Objects:  objects,
		Splitter: sp,
		Batcher:  embedder.NewBatcher(embed, 10, nil),
		Loader:   loader.New(objects, nil),
		Chain:    chain,
	}, DefaultConfig(), nil)

	return &testEnv{agent: a, store: store, vectors: vectors, objects: objects, embed: embed, gen: gen}
}

// seedDocument creates a pending text document with the corpus body.
func (e *testEnv) seedDocument(t *testing.T) uuid.UUID {
	t.Helper()

	doc := &storage.Document{Title: "Retrieval Study", SourceType: storage.SourceText, SourceRef: "study.txt"}
	if err := e.store.CreateDocument(context.Background(), doc); err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	e.objects.objects["study.txt"] = []byte(corpusText)
	e.vectors.SetDocumentTitle(doc.ID, doc.Title)
	return doc.ID
}

func (e *testEnv) ingest(t *testing.T) uuid.UUID {
	t.Helper()
	id := e.seedDocument(t)
	if err := e.agent.ProcessDocument(context.Background(), id); err != nil {
		t.Fatalf("ProcessDocument() error = %v", err)
	}
	return id
}

func TestProcessDocumentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedDocument(t)

	if err := env.agent.ProcessDocument(context.Background(), id); err != nil {
		t.Fatalf("ProcessDocument() error = %v", err)
	}

	doc, err := env.store.GetDocument(context.Background(), id)
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if doc.Status != storage.StatusCompleted {
		t.Errorf("status = %s, want completed", doc.Status)
	}
	if doc.ChunkCount == 0 || doc.PageCount == 0 {
		t.Errorf("chunk stats not recorded: chunks=%d pages=%d", doc.ChunkCount, doc.PageCount)
	}

	n, _ := env.vectors.Count(context.Background(), id)
	if n != doc.ChunkCount {
		t.Errorf("vector count = %d, want %d", n, doc.ChunkCount)
	}
}

func TestProcessDocumentAlreadyClaimed(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedDocument(t)

	if err := env.store.TransitionStatus(context.Background(), id, storage.StatusPending, storage.StatusProcessing, ""); err != nil {
		t.Fatalf("TransitionStatus() error = %v", err)
	}

	err := env.agent.ProcessDocument(context.Background(), id)
	if !errors.Is(err, storage.ErrProcessingConflict) {
		t.Errorf("ProcessDocument() error = %v, want ErrProcessingConflict", err)
	}
}

func TestProcessDocumentUnknown(t *testing.T) {
	env := newTestEnv(t)

	err := env.agent.ProcessDocument(context.Background(), uuid.New())
	if !errors.Is(err, storage.ErrDocumentNotFound) {
		t.Errorf("ProcessDocument() error = %v, want ErrDocumentNotFound", err)
	}
}

func TestProcessDocumentEmbedFailure(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedDocument(t)
	env.embed.FailText = "retrieval"

	if err := env.agent.ProcessDocument(context.Background(), id); err == nil {
		t.Fatal("expected embedding failure")
	}

	doc, _ := env.store.GetDocument(context.Background(), id)
	if doc.Status != storage.StatusFailed {
		t.Errorf("status = %s, want failed", doc.Status)
	}
	if !strings.Contains(doc.StatusError, "embedding failed") {
		t.Errorf("status error %q missing cause", doc.StatusError)
	}

	n, _ := env.vectors.Count(context.Background(), id)
	if n != 0 {
		t.Errorf("failed ingestion left %d chunks behind", n)
	}
}

func TestProcessDocumentStorageFailure(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedDocument(t)
	env.vectors.FailAdd = errors.New("connection refused")

	if err := env.agent.ProcessDocument(context.Background(), id); err == nil {
		t.Fatal("expected storage failure")
	}

	doc, _ := env.store.GetDocument(context.Background(), id)
	if doc.Status != storage.StatusFailed {
		t.Errorf("status = %s, want failed", doc.Status)
	}
	if !strings.Contains(doc.StatusError, "chunk storage failed") {
		t.Errorf("status error %q missing cause", doc.StatusError)
	}
}

func TestQueryCreatesSessionAndPersistsTurn(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t)

	out, err := env.agent.Query(context.Background(), QueryInput{
		Question: "Does combining retrieval strategies help recall?",
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if out.SessionID == uuid.Nil {
		t.Fatal("expected a lazily created session")
	}
	if out.Answer != env.gen.Answer {
		t.Errorf("answer = %q, want %q", out.Answer, env.gen.Answer)
	}
	if len(out.Sources) == 0 {
		t.Fatal("expected retrieved sources")
	}

	msgs, err := env.store.ListMessages(context.Background(), out.SessionID, 0)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != llm.RoleUser || msgs[1].Role != llm.RoleAssistant {
		t.Fatalf("persisted turn = %+v, want user then assistant", msgs)
	}

	citations, err := env.store.ListCitations(context.Background(), out.MessageID)
	if err != nil {
		t.Fatalf("ListCitations() error = %v", err)
	}
	if len(citations) != len(out.Sources) {
		t.Fatalf("citations = %d, want %d", len(citations), len(out.Sources))
	}
	for i, c := range citations {
		if c.Rank != i+1 {
			t.Errorf("citation %d rank = %d, want %d", i, c.Rank, i+1)
		}
		if c.ChunkID != out.Sources[i].ID {
			t.Errorf("citation %d points at %s, want %s", i, c.ChunkID, out.Sources[i].ID)
		}
	}
}

func TestQueryUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t)

	_, err := env.agent.Query(context.Background(), QueryInput{
		SessionID: uuid.New(),
		Question:  "anything",
	})
	if !errors.Is(err, storage.ErrSessionNotFound) {
		t.Errorf("Query() error = %v, want ErrSessionNotFound", err)
	}
}

func TestQueryGenerationFailureLeavesNoMessages(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t)

	sess := &storage.Session{Title: "flaky model"}
	if err := env.store.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	env.gen.Err = errors.New("model unavailable")

	_, err := env.agent.Query(context.Background(), QueryInput{
		SessionID: sess.ID,
		Question:  "does hybrid retrieval help recall?",
	})
	if err == nil {
		t.Fatal("expected generation failure")
	}

	msgs, listErr := env.store.ListMessages(context.Background(), sess.ID, 0)
	if listErr != nil {
		t.Fatalf("ListMessages() error = %v", listErr)
	}
	if len(msgs) != 0 {
		t.Fatalf("failed query persisted %d message(s), want none", len(msgs))
	}
}

func TestQuerySessionOwnedByAnotherUser(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t)

	owner := uuid.NullUUID{UUID: uuid.New(), Valid: true}
	sess := &storage.Session{UserID: owner, Title: "private thread"}
	if err := env.store.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	_, err := env.agent.Query(context.Background(), QueryInput{
		SessionID: sess.ID,
		UserID:    uuid.NullUUID{UUID: uuid.New(), Valid: true},
		Question:  "anything",
	})
	if !errors.Is(err, storage.ErrSessionNotFound) {
		t.Fatalf("Query() error = %v, want ErrSessionNotFound", err)
	}

	if _, err := env.agent.Query(context.Background(), QueryInput{
		SessionID: sess.ID,
		UserID:    owner,
		Question:  "does hybrid retrieval help recall?",
	}); err != nil {
		t.Errorf("Query() as owner error = %v", err)
	}
}

func TestQueryNewSessionCarriesUser(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t)

	user := uuid.NullUUID{UUID: uuid.New(), Valid: true}
	out, err := env.agent.Query(context.Background(), QueryInput{
		UserID:   user,
		Question: "Does combining retrieval strategies help recall?",
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	sess, err := env.store.GetSession(context.Background(), out.SessionID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if sess.UserID != user {
		t.Errorf("session owner = %v, want %v", sess.UserID, user)
	}
}

func TestQuerySeedsHistoryFromPersistedMessages(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t)

	sess := &storage.Session{Title: "earlier conversation"}
	if err := env.store.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	seedAnswer := "Recall at five improved by eleven points."
	for _, m := range []storage.Message{
		{SessionID: sess.ID, Role: llm.RoleUser, Content: "How much did recall improve?"},
		{SessionID: sess.ID, Role: llm.RoleAssistant, Content: seedAnswer},
	} {
		m := m
		if err := env.store.AddMessage(context.Background(), &m); err != nil {
			t.Fatalf("AddMessage() error = %v", err)
		}
	}

	_, err := env.agent.Query(context.Background(), QueryInput{
		SessionID: sess.ID,
		Question:  "And what about latency?",
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	req := env.gen.LastRequest()
	if len(req.Messages) == 0 {
		t.Fatal("generator never called")
	}
	found := false
	for _, m := range req.Messages {
		if m.Role == llm.RoleAssistant && m.Content == seedAnswer {
			found = true
		}
	}
	if !found {
		t.Error("persisted history missing from prompt")
	}
}

func TestStreamQueryAccumulatesAnswer(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t)

	var sb strings.Builder
	out, err := env.agent.StreamQuery(context.Background(), QueryInput{
		Question: "Does combining retrieval strategies help recall?",
	}, func(delta string) error {
		sb.WriteString(delta)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamQuery() error = %v", err)
	}
	if sb.String() != out.Answer {
		t.Errorf("streamed %q, final answer %q", sb.String(), out.Answer)
	}

	msgs, _ := env.store.ListMessages(context.Background(), out.SessionID, 0)
	if len(msgs) != 2 {
		t.Errorf("persisted %d messages, want 2", len(msgs))
	}
}

func TestDeleteDocument(t *testing.T) {
	env := newTestEnv(t)
	id := env.ingest(t)

	if err := env.agent.DeleteDocument(context.Background(), id); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}

	if n, _ := env.vectors.Count(context.Background(), id); n != 0 {
		t.Errorf("vectors remain after delete: %d", n)
	}
	if _, err := env.store.GetDocument(context.Background(), id); !errors.Is(err, storage.ErrDocumentNotFound) {
		t.Errorf("GetDocument() error = %v, want ErrDocumentNotFound", err)
	}
	if _, ok := env.objects.objects["study.txt"]; ok {
		t.Error("source object remains after delete")
	}
}

func TestDeleteDocumentUnknown(t *testing.T) {
	env := newTestEnv(t)

	err := env.agent.DeleteDocument(context.Background(), uuid.New())
	if !errors.Is(err, storage.ErrDocumentNotFound) {
		t.Errorf("DeleteDocument() error = %v, want ErrDocumentNotFound", err)
	}
}

func TestReprocess(t *testing.T) {
	env := newTestEnv(t)
	id := env.ingest(t)

	before, _ := env.vectors.Count(context.Background(), id)
	if err := env.agent.Reprocess(context.Background(), id); err != nil {
		t.Fatalf("Reprocess() error = %v", err)
	}

	doc, _ := env.store.GetDocument(context.Background(), id)
	if doc.Status != storage.StatusCompleted {
		t.Errorf("status = %s, want completed", doc.Status)
	}
	after, _ := env.vectors.Count(context.Background(), id)
	if after != before {
		t.Errorf("chunk count changed on reprocess: %d -> %d", before, after)
	}
}

func TestReprocessWhileProcessing(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedDocument(t)
	if err := env.store.TransitionStatus(context.Background(), id, storage.StatusPending, storage.StatusProcessing, ""); err != nil {
		t.Fatalf("TransitionStatus() error = %v", err)
	}

	err := env.agent.Reprocess(context.Background(), id)
	if !errors.Is(err, storage.ErrProcessingConflict) {
		t.Errorf("Reprocess() error = %v, want ErrProcessingConflict", err)
	}
}

func TestSummarizeRequiresCompletedDocument(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedDocument(t)

	if _, err := env.agent.Summarize(context.Background(), id); err == nil {
		t.Error("expected error for pending document")
	}

	if err := env.agent.ProcessDocument(context.Background(), id); err != nil {
		t.Fatalf("ProcessDocument() error = %v", err)
	}
	summary, err := env.agent.Summarize(context.Background(), id)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if summary != env.gen.Answer {
		t.Errorf("summary = %q, want %q", summary, env.gen.Answer)
	}
}

func TestExtractInsights(t *testing.T) {
	env := newTestEnv(t)
	id := env.ingest(t)
	env.gen.Answer = "Key insights:\n- Hybrid retrieval improves recall.\n- Latency is dominated by embedding."

	insights, err := env.agent.ExtractInsights(context.Background(), id)
	if err != nil {
		t.Fatalf("ExtractInsights() error = %v", err)
	}
	if len(insights) != 2 {
		t.Fatalf("insights = %v, want 2 items", insights)
	}
	if insights[0] != "Hybrid retrieval improves recall." {
		t.Errorf("first insight = %q", insights[0])
	}
}
