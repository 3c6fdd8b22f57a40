package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PoshanP/ThinkFolio-sub000/internal/llm"
	"github.com/PoshanP/ThinkFolio-sub000/internal/storage"
	"github.com/PoshanP/ThinkFolio-sub000/pkg/logger"
)

const systemPrompt = `You are a research assistant answering questions about the user's documents.
Answer using only the numbered sources provided in the context block.
Cite sources inline as [Source N] wherever you rely on them.
If the context does not contain the answer, say so plainly instead of guessing.`

const noContextAnswer = "I could not find anything relevant to that question in the ingested documents."

// ChainConfig holds generation-side configuration.
type ChainConfig struct {
	TopK         int // Chunks retrieved per question
	SummaryTopK  int // Wider retrieval for document summaries
	InsightsTopK int // Retrieval width for key insight extraction
	Window       int // Conversation window in messages
}

// DefaultChainConfig returns default chain configuration.
func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		TopK:         5,
		SummaryTopK:  15,
		InsightsTopK: 12,
		Window:       6,
	}
}

// QueryInput describes one question against the corpus.
type QueryInput struct {
	SessionID   uuid.UUID
	Question    string
	DocumentIDs []uuid.UUID // Empty means the whole corpus
	SearchType  SearchType  // Empty means hybrid
}

// Answer is the result of a chain invocation.
type Answer struct {
	Text    string                   `json:"text"`
	Sources []storage.RetrievedChunk `json:"sources"`
	Timing  Timing                   `json:"timing"`
}

// Chain wires retrieval, conversation history, and generation together.
type Chain struct {
	search    *Manager
	generator llm.Generator
	history   *HistoryWindow
	config    ChainConfig
	log       *logger.Logger
}

// NewChain creates a chain.
func NewChain(search *Manager, generator llm.Generator, cfg ChainConfig, log *logger.Logger) *Chain {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.SummaryTopK <= 0 {
		cfg.SummaryTopK = 15
	}
	if cfg.InsightsTopK <= 0 {
		cfg.InsightsTopK = 12
	}
	if log == nil {
		log = logger.Default()
	}
	return &Chain{
		search:    search,
		generator: generator,
		history:   NewHistoryWindow(cfg.Window),
		config:    cfg,
		log:       log.WithComponent("chain"),
	}
}

// History exposes the conversation window so callers can seed it from
// persisted messages.
func (c *Chain) History() *HistoryWindow {
	return c.history
}

// Query answers a question in one blocking call.
func (c *Chain) Query(ctx context.Context, in QueryInput) (*Answer, error) {
	return c.run(ctx, in, nil)
}

// StreamQuery answers a question incrementally. The accumulated answer is
// identical to what Query would return for the same input.
func (c *Chain) StreamQuery(ctx context.Context, in QueryInput, onDelta llm.StreamFunc) (*Answer, error) {
	return c.run(ctx, in, onDelta)
}

func (c *Chain) run(ctx context.Context, in QueryInput, onDelta llm.StreamFunc) (*Answer, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, fmt.Errorf("empty question")
	}

	start := time.Now()
	result, err := c.search.Search(ctx, SearchRequest{
		Query:       question,
		Type:        in.SearchType,
		TopK:        c.config.TopK,
		DocumentIDs: in.DocumentIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	// Nothing retrieved: answer honestly without calling the model.
	if len(result.Chunks) == 0 {
		c.remember(in.SessionID, question, noContextAnswer)
		if onDelta != nil {
			if err := onDelta(noContextAnswer); err != nil {
				return nil, err
			}
		}
		return &Answer{Text: noContextAnswer, Timing: result.Timing}, nil
	}

	messages := c.buildMessages(in.SessionID, question, result.Chunks)

	var resp *llm.Response
	if onDelta != nil {
		resp, err = c.generator.Stream(ctx, llm.Request{Messages: messages}, onDelta)
	} else {
		resp, err = c.generator.Complete(ctx, llm.Request{Messages: messages})
	}
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	c.remember(in.SessionID, question, resp.Content)

	c.log.Info("question answered",
		"session_id", in.SessionID,
		"sources", len(result.Chunks),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Answer{
		Text:    resp.Content,
		Sources: result.Chunks,
		Timing:  result.Timing,
	}, nil
}

// GenerateSummary produces a summary of one document from a wide retrieval
// slice of its chunks.
func (c *Chain) GenerateSummary(ctx context.Context, documentID uuid.UUID) (*Answer, error) {
	result, err := c.search.Search(ctx, SearchRequest{
		Query:       "overall summary of the main topics, findings, and conclusions",
		Type:        SearchSimilarity,
		TopK:        c.config.SummaryTopK,
		MinScore:    -1, // Summaries want breadth, not threshold filtering
		DocumentIDs: []uuid.UUID{documentID},
	})
	if err != nil {
		return nil, fmt.Errorf("summary retrieval failed: %w", err)
	}
	if len(result.Chunks) == 0 {
		return nil, fmt.Errorf("no content found for document %s", documentID)
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(
			"Context:\n%s\n\nWrite a concise summary of this document. Cover its purpose, key points, and conclusions.",
			formatContext(result.Chunks))},
	}

	resp, err := c.generator.Complete(ctx, llm.Request{Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("summary generation failed: %w", err)
	}

	return &Answer{Text: resp.Content, Sources: result.Chunks, Timing: result.Timing}, nil
}

// ExtractKeyInsights pulls a bullet list of notable findings from a
// document.
func (c *Chain) ExtractKeyInsights(ctx context.Context, documentID uuid.UUID) ([]string, error) {
	result, err := c.search.Search(ctx, SearchRequest{
		Query:       "key findings, results, contributions, and takeaways",
		Type:        SearchSimilarity,
		TopK:        c.config.InsightsTopK,
		MinScore:    -1,
		DocumentIDs: []uuid.UUID{documentID},
	})
	if err != nil {
		return nil, fmt.Errorf("insights retrieval failed: %w", err)
	}
	if len(result.Chunks) == 0 {
		return nil, fmt.Errorf("no content found for document %s", documentID)
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(
			"Context:\n%s\n\nList the key insights from this document as plain bullet points, one per line, starting each line with \"- \".",
			formatContext(result.Chunks))},
	}

	resp, err := c.generator.Complete(ctx, llm.Request{Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("insights generation failed: %w", err)
	}

	return parseBullets(resp.Content), nil
}

func (c *Chain) buildMessages(sessionID uuid.UUID, question string, chunks []storage.RetrievedChunk) []llm.Message {
	messages := []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}}

	if sessionID != uuid.Nil {
		messages = append(messages, c.history.Get(sessionID)...)
	}

	messages = append(messages, llm.Message{
		Role: llm.RoleUser,
		Content: fmt.Sprintf("Context:\n%s\n\nQuestion: %s",
			formatContext(chunks), question),
	})
	return messages
}

func (c *Chain) remember(sessionID uuid.UUID, question, answer string) {
	if sessionID == uuid.Nil {
		return
	}
	c.history.Append(sessionID, llm.RoleUser, question)
	c.history.Append(sessionID, llm.RoleAssistant, answer)
}

// formatContext renders chunks as numbered sources with document and page
// annotations.
func formatContext(chunks []storage.RetrievedChunk) string {
	var sb strings.Builder
	for i, chunk := range chunks {
		header := fmt.Sprintf("[Source %d]", i+1)
		if chunk.DocumentTitle != "" {
			header += " " + chunk.DocumentTitle
		}
		if chunk.PageNumber > 0 {
			header += fmt.Sprintf(" (page %d)", chunk.PageNumber)
		}
		sb.WriteString(header)
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(chunk.Content))
		if i < len(chunks)-1 {
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}

// parseBullets extracts bullet or numbered list items from model output,
// dropping prose lines around the list.
func parseBullets(text string) []string {
	var out []string
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)

		var item string
		switch {
		case strings.HasPrefix(line, "- "):
			item = line[2:]
		case strings.HasPrefix(line, "* "):
			item = line[2:]
		case strings.HasPrefix(line, "• "):
			item = strings.TrimPrefix(line, "• ")
		default:
			if i := strings.IndexByte(line, '.'); i > 0 && i <= 3 && isDigits(line[:i]) {
				item = line[i+1:]
			}
		}

		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
