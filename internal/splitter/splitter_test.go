package splitter

import (
	"strings"
	"testing"
)

func newTestSplitter(t *testing.T, cfg Config) *Splitter {
	t.Helper()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func paragraph(word string, n int) string {
	return strings.TrimSpace(strings.Repeat(word+" ", n))
}

func TestNewRejectsInvalidOverlap(t *testing.T) {
	_, err := New(Config{ChunkSize: 100, ChunkOverlap: 100})
	if err == nil {
		t.Fatal("expected error for overlap equal to chunk size")
	}
	_, err = New(Config{ChunkSize: 100, ChunkOverlap: -1})
	if err == nil {
		t.Fatal("expected error for negative overlap")
	}
}

func TestSplitShortText(t *testing.T) {
	s := newTestSplitter(t, DefaultConfig())

	text := "A short note that fits in one chunk."
	pieces := s.Split(text)

	if len(pieces) != 1 {
		t.Fatalf("expected 1 piece, got %d", len(pieces))
	}
	if pieces[0].Content != text {
		t.Errorf("content mismatch: %q", pieces[0].Content)
	}
	if pieces[0].PageNumber != 1 {
		t.Errorf("expected page 1, got %d", pieces[0].PageNumber)
	}
	if pieces[0].Overlap != 0 {
		t.Errorf("first piece should have no overlap, got %d", pieces[0].Overlap)
	}
	if pieces[0].TokenCount == 0 {
		t.Error("expected non-zero token count")
	}
}

func TestSplitEmptyText(t *testing.T) {
	s := newTestSplitter(t, DefaultConfig())

	if pieces := s.Split("   \n\n  "); pieces != nil {
		t.Errorf("expected nil for whitespace-only input, got %d pieces", len(pieces))
	}
}

func TestSplitRespectsSizeBound(t *testing.T) {
	cfg := Config{ChunkSize: 450, ChunkOverlap: 50, ChunksPerPage: 5}
	s := newTestSplitter(t, cfg)

	paras := make([]string, 6)
	for i := range paras {
		paras[i] = paragraph("lorem", 70)
	}
	text := strings.Join(paras, "\n\n")

	pieces := s.Split(text)
	if len(pieces) < 2 {
		t.Fatalf("expected multiple pieces, got %d", len(pieces))
	}
	for _, p := range pieces {
		if len(p.Content) > cfg.ChunkSize {
			t.Errorf("piece %d exceeds size bound: %d chars", p.Index, len(p.Content))
		}
	}
}

func TestSplitReconstruction(t *testing.T) {
	cfg := Config{ChunkSize: 300, ChunkOverlap: 60, ChunksPerPage: 5}
	s := newTestSplitter(t, cfg)

	text := paragraph("alpha", 60) + "\n\n" + paragraph("bravo", 90) + "\n" +
		paragraph("charlie", 40) + ". " + paragraph("delta", 120)

	pieces := s.Split(text)
	if got := Reconstruct(pieces); got != normalize(text) {
		t.Errorf("reconstruction mismatch:\nwant %d chars\ngot  %d chars", len(normalize(text)), len(got))
	}
}

func TestSplitOverlapIsSuffixOfPrevious(t *testing.T) {
	cfg := Config{ChunkSize: 300, ChunkOverlap: 60, ChunksPerPage: 5}
	s := newTestSplitter(t, cfg)

	pieces := s.Split(paragraph("overlap", 200))
	if len(pieces) < 2 {
		t.Fatalf("expected multiple pieces, got %d", len(pieces))
	}
	overlapped := 0
	for i := 1; i < len(pieces); i++ {
		p := pieces[i]
		if p.Overlap == 0 {
			continue
		}
		overlapped++
		if len(p.Content) > cfg.ChunkSize {
			t.Errorf("piece %d exceeds size bound: %d chars", p.Index, len(p.Content))
		}
		prefix := p.Content[:p.Overlap]
		if !strings.HasSuffix(pieces[i-1].Content, prefix) {
			t.Errorf("piece %d overlap prefix is not a suffix of the previous piece", i)
		}
	}
	if overlapped == 0 {
		t.Error("expected at least one piece to carry an overlap prefix")
	}
}

func TestSplitHardCutWithoutSeparators(t *testing.T) {
	cfg := Config{ChunkSize: 100, ChunkOverlap: 20, ChunksPerPage: 5}
	s := newTestSplitter(t, cfg)

	pieces := s.Split(strings.Repeat("x", 250))
	if len(pieces) != 4 {
		t.Fatalf("expected 4 pieces, got %d", len(pieces))
	}
	for _, p := range pieces {
		if len(p.Content) > cfg.ChunkSize {
			t.Errorf("piece %d exceeds size bound: %d chars", p.Index, len(p.Content))
		}
	}
	if got := Reconstruct(pieces); got != strings.Repeat("x", 250) {
		t.Error("hard cut reconstruction mismatch")
	}
}

func TestSplitSyntheticPages(t *testing.T) {
	cfg := Config{ChunkSize: 450, ChunkOverlap: 50, ChunksPerPage: 2}
	s := newTestSplitter(t, cfg)

	paras := make([]string, 5)
	for i := range paras {
		paras[i] = paragraph("page", 70)
	}
	pieces := s.Split(strings.Join(paras, "\n\n"))

	if len(pieces) != 5 {
		t.Fatalf("expected 5 pieces, got %d", len(pieces))
	}
	wantPages := []int{1, 1, 2, 2, 3}
	for i, p := range pieces {
		if p.PageNumber != wantPages[i] {
			t.Errorf("piece %d: expected page %d, got %d", i, wantPages[i], p.PageNumber)
		}
		if p.Index != i {
			t.Errorf("piece %d: expected index %d, got %d", i, i, p.Index)
		}
	}
}

func TestSplitPagesOnePieceEach(t *testing.T) {
	s := newTestSplitter(t, DefaultConfig())

	pages := []PageContent{
		{PageNumber: 1, Text: "First page with a single paragraph of text."},
		{PageNumber: 2, Text: "Second page, also one paragraph."},
		{PageNumber: 3, Text: "Third and final page."},
	}
	pieces := s.SplitPages(pages)

	if len(pieces) != 3 {
		t.Fatalf("expected 3 pieces, got %d", len(pieces))
	}
	for i, p := range pieces {
		if p.PageNumber != i+1 {
			t.Errorf("piece %d: expected page %d, got %d", i, i+1, p.PageNumber)
		}
		if p.Index != i {
			t.Errorf("piece %d: expected index %d, got %d", i, i, p.Index)
		}
		if p.Overlap != 0 {
			t.Errorf("piece %d: pages must not bleed into each other, overlap %d", i, p.Overlap)
		}
	}
}

func TestSplitPagesSkipsEmptyPages(t *testing.T) {
	s := newTestSplitter(t, DefaultConfig())

	pieces := s.SplitPages([]PageContent{
		{PageNumber: 1, Text: "Content before a blank page."},
		{PageNumber: 2, Text: "   "},
		{PageNumber: 3, Text: "Content after a blank page."},
	})

	if len(pieces) != 2 {
		t.Fatalf("expected 2 pieces, got %d", len(pieces))
	}
	if pieces[0].PageNumber != 1 || pieces[1].PageNumber != 3 {
		t.Errorf("unexpected pages: %d, %d", pieces[0].PageNumber, pieces[1].PageNumber)
	}
	if pieces[1].Index != 1 {
		t.Errorf("indexes must stay contiguous, got %d", pieces[1].Index)
	}
}

func TestSplitPreservesParagraphsWhenPossible(t *testing.T) {
	cfg := Config{ChunkSize: 500, ChunkOverlap: 0, ChunksPerPage: 5}
	s := newTestSplitter(t, cfg)

	first := paragraph("one", 80)
	second := paragraph("two", 80)
	pieces := s.Split(first + "\n\n" + second)

	if len(pieces) != 2 {
		t.Fatalf("expected paragraph-aligned pieces, got %d", len(pieces))
	}
	if !strings.Contains(pieces[0].Content, "one") || strings.Contains(pieces[0].Content, "two") {
		t.Error("first piece should contain only the first paragraph")
	}
	if !strings.Contains(pieces[1].Content, "two") {
		t.Error("second piece should contain the second paragraph")
	}
}
