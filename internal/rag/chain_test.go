package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/PoshanP/ThinkFolio-sub000/internal/llm"
	"github.com/PoshanP/ThinkFolio-sub000/internal/storage"
)

func newTestChain(t *testing.T, vs *storage.MemoryVectorStore, gen *llm.MockGenerator) *Chain {
	t.Helper()
	m, mock := newTestManager(t, vs)
	docID := uuid.New()
	seedCorpus(t, vs, mock, docID, []string{
		"The attention mechanism computes weighted sums over token representations.",
		"Positional encodings inject order information into the model.",
		"The feed forward sublayer applies the same transformation at every position.",
	})
	vs.SetDocumentTitle(docID, "Attention Is All You Need")
	return NewChain(m, gen, DefaultChainConfig(), nil)
}

func TestChainQueryAnswersWithSources(t *testing.T) {
	gen := &llm.MockGenerator{Answer: "Attention computes weighted sums [Source 1]."}
	chain := newTestChain(t, storage.NewMemoryVectorStore(), gen)

	answer, err := chain.Query(context.Background(), QueryInput{
		SessionID: uuid.New(),
		Question:  "How does the attention mechanism work?",
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if answer.Text != gen.Answer {
		t.Errorf("unexpected answer: %q", answer.Text)
	}
	if len(answer.Sources) == 0 {
		t.Fatal("expected retrieved sources")
	}

	// The prompt must carry numbered sources with title and page markers.
	req := gen.LastRequest()
	prompt := req.Messages[len(req.Messages)-1].Content
	if !strings.Contains(prompt, "[Source 1]") {
		t.Error("prompt missing numbered source header")
	}
	if !strings.Contains(prompt, "Attention Is All You Need") {
		t.Error("prompt missing document title")
	}
	if req.Messages[0].Role != llm.RoleSystem {
		t.Error("first message should be the system prompt")
	}
}

func TestChainQueryEmptyRetrievalSkipsModel(t *testing.T) {
	gen := &llm.MockGenerator{Answer: "should never be used"}
	m, _ := newTestManager(t, storage.NewMemoryVectorStore())
	chain := NewChain(m, gen, DefaultChainConfig(), nil)

	answer, err := chain.Query(context.Background(), QueryInput{
		SessionID: uuid.New(),
		Question:  "Anything in the empty corpus?",
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if answer.Text != noContextAnswer {
		t.Errorf("expected the no-context answer, got %q", answer.Text)
	}
	if len(gen.Requests) != 0 {
		t.Error("model should not be called when nothing is retrieved")
	}
}

func TestChainQueryRejectsEmptyQuestion(t *testing.T) {
	gen := &llm.MockGenerator{}
	chain := newTestChain(t, storage.NewMemoryVectorStore(), gen)

	if _, err := chain.Query(context.Background(), QueryInput{Question: "  "}); err == nil {
		t.Error("expected error for empty question")
	}
}

func TestChainStreamMatchesBlocking(t *testing.T) {
	gen := &llm.MockGenerator{Answer: "Attention weighs every token pair in the sequence."}
	chain := newTestChain(t, storage.NewMemoryVectorStore(), gen)

	var sb strings.Builder
	answer, err := chain.StreamQuery(context.Background(), QueryInput{
		SessionID: uuid.New(),
		Question:  "What does attention do?",
	}, func(delta string) error {
		sb.WriteString(delta)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamQuery() error = %v", err)
	}

	if sb.String() != answer.Text {
		t.Errorf("accumulated deltas %q differ from returned answer %q", sb.String(), answer.Text)
	}
	if answer.Text != gen.Answer {
		t.Errorf("streamed answer %q differs from canned answer", answer.Text)
	}
}

func TestChainCarriesConversationHistory(t *testing.T) {
	gen := &llm.MockGenerator{Answer: "It weighs token pairs."}
	chain := newTestChain(t, storage.NewMemoryVectorStore(), gen)
	sessionID := uuid.New()

	if _, err := chain.Query(context.Background(), QueryInput{
		SessionID: sessionID,
		Question:  "What is attention?",
	}); err != nil {
		t.Fatalf("first Query() error = %v", err)
	}

	gen.Answer = "As said before, it weighs token pairs."
	if _, err := chain.Query(context.Background(), QueryInput{
		SessionID: sessionID,
		Question:  "Can you repeat that?",
	}); err != nil {
		t.Fatalf("second Query() error = %v", err)
	}

	req := gen.LastRequest()
	var sawPriorQuestion, sawPriorAnswer bool
	for _, m := range req.Messages[:len(req.Messages)-1] {
		if m.Role == llm.RoleUser && strings.Contains(m.Content, "What is attention?") {
			sawPriorQuestion = true
		}
		if m.Role == llm.RoleAssistant && strings.Contains(m.Content, "It weighs token pairs.") {
			sawPriorAnswer = true
		}
	}
	if !sawPriorQuestion || !sawPriorAnswer {
		t.Error("second prompt should include the previous turn")
	}
}

func TestHistoryWindowBound(t *testing.T) {
	h := NewHistoryWindow(4)
	sessionID := uuid.New()

	for i := 0; i < 10; i++ {
		h.Append(sessionID, llm.RoleUser, "question")
		h.Append(sessionID, llm.RoleAssistant, "answer")
	}

	if got := len(h.Get(sessionID)); got != 4 {
		t.Errorf("expected window of 4 messages, got %d", got)
	}

	h.Clear(sessionID)
	if got := len(h.Get(sessionID)); got != 0 {
		t.Errorf("expected empty window after clear, got %d", got)
	}
}

func TestHistoryWindowSeed(t *testing.T) {
	h := NewHistoryWindow(2)
	sessionID := uuid.New()

	h.Seed(sessionID, []llm.Message{
		{Role: llm.RoleUser, Content: "old"},
		{Role: llm.RoleAssistant, Content: "older answer"},
		{Role: llm.RoleUser, Content: "recent"},
	})

	msgs := h.Get(sessionID)
	if len(msgs) != 2 {
		t.Fatalf("expected seeded window trimmed to 2, got %d", len(msgs))
	}
	if msgs[1].Content != "recent" {
		t.Errorf("expected most recent message kept, got %q", msgs[1].Content)
	}
	if !h.Has(sessionID) {
		t.Error("Has() should report a seeded session")
	}
}

func TestChainGenerateSummary(t *testing.T) {
	gen := &llm.MockGenerator{Answer: "This paper introduces the transformer."}
	vs := storage.NewMemoryVectorStore()
	m, mock := newTestManager(t, vs)
	docID := uuid.New()
	seedCorpus(t, vs, mock, docID, []string{
		"We propose the transformer, a model based entirely on attention.",
		"Experiments on translation show state of the art quality.",
	})
	chain := NewChain(m, gen, DefaultChainConfig(), nil)

	answer, err := chain.GenerateSummary(context.Background(), docID)
	if err != nil {
		t.Fatalf("GenerateSummary() error = %v", err)
	}
	if answer.Text != gen.Answer {
		t.Errorf("unexpected summary: %q", answer.Text)
	}
	if len(answer.Sources) != 2 {
		t.Errorf("expected both chunks as summary sources, got %d", len(answer.Sources))
	}

	if _, err := chain.GenerateSummary(context.Background(), uuid.New()); err == nil {
		t.Error("expected error for document with no content")
	}
}

func TestChainExtractKeyInsights(t *testing.T) {
	gen := &llm.MockGenerator{Answer: "Key insights:\n- Attention replaces recurrence.\n- Training parallelizes well.\n\nThose are the main points."}
	vs := storage.NewMemoryVectorStore()
	m, mock := newTestManager(t, vs)
	docID := uuid.New()
	seedCorpus(t, vs, mock, docID, []string{"Attention replaces recurrence entirely."})
	chain := NewChain(m, gen, DefaultChainConfig(), nil)

	insights, err := chain.ExtractKeyInsights(context.Background(), docID)
	if err != nil {
		t.Fatalf("ExtractKeyInsights() error = %v", err)
	}
	if len(insights) != 2 {
		t.Fatalf("expected 2 insights, got %d: %v", len(insights), insights)
	}
	if insights[0] != "Attention replaces recurrence." {
		t.Errorf("unexpected first insight: %q", insights[0])
	}
}

func TestParseBullets(t *testing.T) {
	text := "Here is the list:\n- first point\n* second point\n3. third point\nplain prose line\n\n- "
	got := parseBullets(text)

	want := []string{"first point", "second point", "third point"}
	if len(got) != len(want) {
		t.Fatalf("expected %d items, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}
