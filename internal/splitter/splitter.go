// Package splitter provides recursive text chunking for RAG ingestion.
package splitter

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Config holds configuration for the splitter.
type Config struct {
	ChunkSize     int    // Maximum characters per chunk (default: 1000)
	ChunkOverlap  int    // Characters carried over from the previous chunk (default: 200)
	ChunksPerPage int    // Synthetic page grouping when no page map exists (default: 5)
	Encoding      string // Tokenizer encoding for token counts (default: "cl100k_base")
}

// DefaultConfig returns default splitter configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:     1000,
		ChunkOverlap:  200,
		ChunksPerPage: 5,
		Encoding:      "cl100k_base",
	}
}

// Piece is a bounded slice of document text, the unit of embedding.
type Piece struct {
	Content    string `json:"content"`
	PageNumber int    `json:"page_number"`
	Index      int    `json:"index"`
	Overlap    int    `json:"overlap"` // Leading characters duplicated from the previous piece
	TokenCount int    `json:"token_count"`
}

// PageContent represents one page of source text.
type PageContent struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
}

// Splitter breaks raw text into overlapping, size-bounded pieces along a
// separator hierarchy: paragraph break, line break, sentence end, space,
// and finally hard character cuts.
type Splitter struct {
	config    Config
	tokenizer *tiktoken.Tiktoken
}

// separators in priority order. The empty string means hard character cuts.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// New creates a new Splitter.
func New(cfg Config) (*Splitter, error) {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", cfg.ChunkOverlap, cfg.ChunkSize)
	}
	if cfg.ChunksPerPage <= 0 {
		cfg.ChunksPerPage = 5
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "cl100k_base"
	}

	tokenizer, err := tiktoken.GetEncoding(cfg.Encoding)
	if err != nil {
		tokenizer, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tokenizer: %w", err)
		}
	}

	return &Splitter{config: cfg, tokenizer: tokenizer}, nil
}

// Split breaks unpaginated text into pieces. Page numbers are estimated by
// grouping every ChunksPerPage consecutive pieces into a synthetic page; this
// is an approximation, not an exact page map.
func (s *Splitter) Split(text string) []Piece {
	text = normalize(text)
	if text == "" {
		return nil
	}

	pieces := s.assemble(s.splitText(text, separators), 0)
	for i := range pieces {
		pieces[i].PageNumber = i/s.config.ChunksPerPage + 1
	}
	return pieces
}

// SplitPages breaks paginated text into pieces, each carrying its source page
// number. Pieces never span page boundaries.
func (s *Splitter) SplitPages(pages []PageContent) []Piece {
	var all []Piece
	for _, page := range pages {
		text := normalize(page.Text)
		if text == "" {
			continue
		}
		pieces := s.assemble(s.splitText(text, separators), len(all))
		for i := range pieces {
			pieces[i].PageNumber = page.PageNumber
		}
		all = append(all, pieces...)
	}
	return all
}

// assemble turns raw fragments into indexed pieces with overlap prefixes.
func (s *Splitter) assemble(fragments []string, startIndex int) []Piece {
	pieces := make([]Piece, 0, len(fragments))
	for i, frag := range fragments {
		piece := Piece{
			Content: frag,
			Index:   startIndex + i,
		}
		if i > 0 && s.config.ChunkOverlap > 0 {
			prev := fragments[i-1]
			overlap := tailOnWordBoundary(prev, s.config.ChunkOverlap)
			if overlap != "" && len(overlap)+len(frag) <= s.config.ChunkSize {
				piece.Content = overlap + frag
				piece.Overlap = len(overlap)
			}
		}
		piece.TokenCount = len(s.tokenizer.Encode(piece.Content, nil, nil))
		pieces = append(pieces, piece)
	}
	return pieces
}

// splitText recursively splits text using the best available separator.
// Fragments are budgeted to ChunkSize minus ChunkOverlap so that attaching
// an overlap prefix cannot push a piece past ChunkSize.
func (s *Splitter) splitText(text string, seps []string) []string {
	if len(text) <= s.config.ChunkSize {
		return []string{text}
	}

	// Pick the highest-priority separator present in the text.
	sep := ""
	var rest []string
	for i, cand := range seps {
		if cand == "" {
			sep = ""
			rest = nil
			break
		}
		if strings.Contains(text, cand) {
			sep = cand
			rest = seps[i+1:]
			break
		}
	}

	if sep == "" {
		return s.hardCut(text)
	}

	splits := splitKeepSeparator(text, sep)
	limit := s.config.ChunkSize - s.config.ChunkOverlap

	var fragments []string
	var buffer strings.Builder

	flush := func() {
		if buffer.Len() > 0 {
			fragments = append(fragments, buffer.String())
			buffer.Reset()
		}
	}

	for _, part := range splits {
		if len(part) > s.config.ChunkSize {
			flush()
			fragments = append(fragments, s.splitText(part, rest)...)
			continue
		}
		if buffer.Len()+len(part) > limit {
			flush()
		}
		buffer.WriteString(part)
	}
	flush()

	return fragments
}

// hardCut slices text at fixed size as a last resort, leaving room for the
// overlap prefix in each slice.
func (s *Splitter) hardCut(text string) []string {
	step := s.config.ChunkSize - s.config.ChunkOverlap
	var out []string
	for start := 0; start < len(text); start += step {
		end := start + step
		if end > len(text) {
			end = len(text)
		}
		out = append(out, text[start:end])
	}
	return out
}

// splitKeepSeparator splits text by sep, keeping the separator attached to
// the preceding part so concatenating parts reproduces the input.
func splitKeepSeparator(text, sep string) []string {
	raw := strings.Split(text, sep)
	parts := make([]string, 0, len(raw))
	for i, p := range raw {
		if i < len(raw)-1 {
			p += sep
		}
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// tailOnWordBoundary returns up to n trailing characters of text, trimmed
// forward to the next word boundary so overlaps do not start mid-word.
func tailOnWordBoundary(text string, n int) string {
	if len(text) <= n {
		return text
	}
	tail := text[len(text)-n:]
	if idx := strings.IndexAny(tail, " \n"); idx >= 0 && idx < len(tail)-1 {
		tail = tail[idx+1:]
	}
	return tail
}

// normalize cleans up source text without destroying paragraph structure.
func normalize(text string) string {
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}

// Reconstruct joins pieces back into the original content by dropping each
// piece's overlap prefix. Used to verify lossless splitting.
func Reconstruct(pieces []Piece) string {
	var sb strings.Builder
	for _, p := range pieces {
		sb.WriteString(p.Content[p.Overlap:])
	}
	return sb.String()
}

// CountTokens returns the token count for text under the configured encoding.
func (s *Splitter) CountTokens(text string) int {
	return len(s.tokenizer.Encode(text, nil, nil))
}
