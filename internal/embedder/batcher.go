package embedder

import (
	"context"
	"fmt"
	"time"

	"github.com/PoshanP/ThinkFolio-sub000/pkg/logger"
)

// DefaultBatchSize is the number of texts sent per embedding request.
const DefaultBatchSize = 50

// Batcher embeds large text collections in fixed-size sequential batches.
// Results are index-aligned with the input, and any batch failure aborts the
// whole run so callers never see a partially embedded document.
type Batcher struct {
	svc       Service
	batchSize int
	log       *logger.Logger
}

// NewBatcher creates a Batcher over the given service.
func NewBatcher(svc Service, batchSize int, log *logger.Logger) *Batcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if log == nil {
		log = logger.Default()
	}
	return &Batcher{
		svc:       svc,
		batchSize: batchSize,
		log:       log.WithComponent("batcher"),
	}
}

// EmbedAll embeds every text, batch by batch, in input order. The returned
// slice has one embedding per input text at the same index.
func (b *Batcher) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	start := time.Now()
	numBatches := (len(texts) + b.batchSize - 1) / b.batchSize
	results := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += b.batchSize {
		end := i + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batchNum := i/b.batchSize + 1
		embeddings, err := b.svc.EmbedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d/%d failed: %w", batchNum, numBatches, err)
		}
		if len(embeddings) != end-i {
			return nil, fmt.Errorf("batch %d/%d returned %d embeddings for %d texts",
				batchNum, numBatches, len(embeddings), end-i)
		}

		results = append(results, embeddings...)
	}

	b.log.Info("embedded all texts",
		"texts", len(texts),
		"batches", numBatches,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return results, nil
}

// BatchSize returns the configured batch size.
func (b *Batcher) BatchSize() int {
	return b.batchSize
}
