// Package builder turns raw corpus documents into an embedded, persisted
// index/corpus snapshot pair. Builds run offline in bounded batches with a
// snapshot after each batch, so a crash loses at most the in-flight batch.
// The builder assumes a single writer per snapshot directory.
package builder

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/reviewd/internal/index"
)

// DefaultChunkSize matches the corpus preparation the embedding model was
// tuned against.
const DefaultChunkSize = 400

// Embedder generates an embedding for a single text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Builder incrementally extends a snapshot directory.
type Builder struct {
	embedder  Embedder
	dir       string
	dimension int
	chunkSize int
	logger    *slog.Logger
}

// New creates a Builder writing to the snapshot directory dir.
// chunkSize <= 0 defaults to DefaultChunkSize.
func New(embedder Embedder, dir string, dimension, chunkSize int) *Builder {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Builder{
		embedder:  embedder,
		dir:       dir,
		dimension: dimension,
		chunkSize: chunkSize,
		logger:    slog.Default(),
	}
}

// Chunk splits text into fixed-size non-overlapping spans; the final span may
// be shorter. Deterministic for identical input.
func Chunk(text string, size int) []string {
	if size <= 0 || text == "" {
		return nil
	}
	chunks := make([]string, 0, (len(text)+size-1)/size)
	for i := 0; i < len(text); i += size {
		end := i + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[i:end])
	}
	return chunks
}

// Build chunks the documents, embeds them in batches, and appends each batch
// to the index and corpus, persisting a snapshot after every batch. Chunks
// already present in the snapshot are skipped, so interrupted runs resume
// where they left off. maxBatches > 0 caps the batches processed in this
// invocation; hitting the cap stops cleanly. Returns the number of chunks
// appended.
func (b *Builder) Build(ctx context.Context, documents []string, batchSize, maxBatches int) (int, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("invalid batch size %d", batchSize)
	}

	ix, corpus, err := index.Load(b.dir, b.dimension)
	if err != nil {
		return 0, fmt.Errorf("loading snapshot: %w", err)
	}

	var chunks []string
	for _, doc := range documents {
		chunks = append(chunks, Chunk(doc, b.chunkSize)...)
	}

	// Corpus length marks where the previous run stopped.
	start := corpus.Len()
	if start >= len(chunks) {
		b.logger.Info("corpus already indexed", "chunks", corpus.Len())
		return 0, nil
	}
	pending := chunks[start:]
	b.logger.Info("building index", "total_chunks", len(chunks), "pending", len(pending), "batch_size", batchSize)

	appended := 0
	for batch := 0; len(pending) > 0; batch++ {
		if maxBatches > 0 && batch >= maxBatches {
			b.logger.Info("batch cap reached, stopping", "batches", batch)
			break
		}
		if err := ctx.Err(); err != nil {
			return appended, err
		}

		n := batchSize
		if n > len(pending) {
			n = len(pending)
		}
		texts := pending[:n]
		pending = pending[n:]

		vectors, err := b.embedBatch(ctx, texts)
		if err != nil {
			return appended, fmt.Errorf("embedding batch %d: %w", batch, err)
		}

		if err := ix.Add(vectors); err != nil {
			return appended, fmt.Errorf("adding batch %d to index: %w", batch, err)
		}
		corpus.Append(texts)

		if err := index.Save(b.dir, ix, corpus); err != nil {
			return appended, fmt.Errorf("persisting snapshot after batch %d: %w", batch, err)
		}
		appended += n
		b.logger.Info("batch persisted", "batch", batch, "chunks", n, "index_size", ix.Len())
	}

	return appended, nil
}

// embedBatch embeds texts concurrently with bounded parallelism, preserving order.
func (b *Builder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the embedding backend.

	for i, text := range texts {
		g.Go(func() error {
			vec, err := b.embedder.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding chunk %d: %w", i, err)
			}
			vectors[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
