package embedder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
)

func makeTexts(n int) []string {
	texts := make([]string, n)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk number %d with some content", i)
	}
	return texts
}

func TestEmbedAllPreservesOrder(t *testing.T) {
	mock := NewMockService(8)
	batcher := NewBatcher(mock, 10, nil)

	texts := makeTexts(25)
	got, err := batcher.EmbedAll(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedAll() error = %v", err)
	}
	if len(got) != len(texts) {
		t.Fatalf("expected %d embeddings, got %d", len(texts), len(got))
	}

	// Batched output must match embedding each text individually.
	for i, text := range texts {
		want, _ := NewMockService(8).Embed(context.Background(), text)
		for j := range want {
			if got[i][j] != want[j] {
				t.Fatalf("embedding %d differs from non-batched reference", i)
			}
		}
	}
}

func TestEmbedAllBatchSizes(t *testing.T) {
	mock := NewMockService(4)
	batcher := NewBatcher(mock, 10, nil)

	if _, err := batcher.EmbedAll(context.Background(), makeTexts(25)); err != nil {
		t.Fatalf("EmbedAll() error = %v", err)
	}

	if len(mock.Batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(mock.Batches))
	}
	wantSizes := []int{10, 10, 5}
	for i, batch := range mock.Batches {
		if len(batch) != wantSizes[i] {
			t.Errorf("batch %d: expected %d texts, got %d", i, wantSizes[i], len(batch))
		}
	}
}

func TestEmbedAllEmptyInput(t *testing.T) {
	batcher := NewBatcher(NewMockService(4), 10, nil)

	got, err := batcher.EmbedAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedAll() error = %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for empty input, got %d embeddings", len(got))
	}
}

func TestEmbedAllFailsWholeRun(t *testing.T) {
	mock := NewMockService(4)
	mock.FailText = "chunk number 13"
	batcher := NewBatcher(mock, 10, nil)

	got, err := batcher.EmbedAll(context.Background(), makeTexts(25))
	if !errors.Is(err, ErrMockFailure) {
		t.Fatalf("expected ErrMockFailure, got %v", err)
	}
	if got != nil {
		t.Error("no partial results should be returned on failure")
	}
	// Batch 3 is never attempted after batch 2 fails.
	if len(mock.Batches) != 2 {
		t.Errorf("expected 2 attempted batches, got %d", len(mock.Batches))
	}
}

func TestEmbedAllDefaultBatchSize(t *testing.T) {
	batcher := NewBatcher(NewMockService(4), 0, nil)
	if batcher.BatchSize() != DefaultBatchSize {
		t.Errorf("expected default batch size %d, got %d", DefaultBatchSize, batcher.BatchSize())
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	c := []float32{0, 1, 0}
	d := []float32{-1, 0, 0}

	if got := CosineSimilarity(a, b); math.Abs(float64(got)-1) > 1e-6 {
		t.Errorf("identical vectors: expected 1, got %f", got)
	}
	if got := CosineSimilarity(a, c); math.Abs(float64(got)) > 1e-6 {
		t.Errorf("orthogonal vectors: expected 0, got %f", got)
	}
	if got := CosineSimilarity(a, d); math.Abs(float64(got)+1) > 1e-6 {
		t.Errorf("opposite vectors: expected -1, got %f", got)
	}
	if got := CosineSimilarity(a, []float32{1, 2}); got != 0 {
		t.Errorf("mismatched lengths: expected 0, got %f", got)
	}
	if got := CosineSimilarity(a, []float32{0, 0, 0}); got != 0 {
		t.Errorf("zero vector: expected 0, got %f", got)
	}
}

func TestMockServiceDeterminism(t *testing.T) {
	mock := NewMockService(16)

	first, err := mock.Embed(context.Background(), "same text")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	second, _ := mock.Embed(context.Background(), "same text")
	other, _ := mock.Embed(context.Background(), "different text")

	for i := range first {
		if first[i] != second[i] {
			t.Fatal("same text must produce the same embedding")
		}
	}
	same := true
	for i := range first {
		if first[i] != other[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts should produce different embeddings")
	}
}
