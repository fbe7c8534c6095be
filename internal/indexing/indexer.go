// Package indexing drives bulk population and price patching of the
// vector index from the authoritative catalog.
package indexing

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/AbdulMuqeet05/ReceiptManager/internal/catalog"
)

const (
	// batchSize bounds memory per write; 100 titles embed comfortably in
	// one fan-out on a single consumer GPU.
	batchSize = 100
	// maxParallelBatches bounds VRAM pressure on the embedding backend
	maxParallelBatches = 3
)

// Index is the slice of the vector index gateway the indexer needs
type Index interface {
	EnsureCollection(ctx context.Context, forceRecreate bool) error
	UpsertBatch(ctx context.Context, products []catalog.Product) error
	PatchPayload(ctx context.Context, products []catalog.Product) error
}

// Indexer populates the vector index from the product catalog
type Indexer struct {
	catalog catalog.Source
	index   Index
}

// NewIndexer creates a new Indexer
func NewIndexer(source catalog.Source, index Index) *Indexer {
	return &Indexer{catalog: source, index: index}
}

// ReindexAll destructively recreates the collection and repopulates it
// in parallel batches. A failing batch is logged and skipped; the run is
// best-effort and safely repeatable because point ids are deterministic.
func (i *Indexer) ReindexAll(ctx context.Context) error {
	slog.Info("Starting indexing of product corpus...")

	if err := i.index.EnsureCollection(ctx, true); err != nil {
		return fmt.Errorf("recreating collection: %w", err)
	}

	products, err := i.catalog.GetAllProducts()
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelBatches)

	for start := 0; start < len(products); start += batchSize {
		batch := products[start:min(start+batchSize, len(products))]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := i.index.UpsertBatch(ctx, batch); err != nil {
				slog.Error("Failed to index a batch.", "error", err)
				return nil
			}
			slog.Info("Indexed a batch of items...", "count", len(batch))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("indexing interrupted: %w", err)
	}

	slog.Info("Corpus indexing completed successfully.")
	return nil
}

// PatchPrices rewrites every point's payload from the current catalog
// without recreating the collection or recomputing embeddings. Batches
// run sequentially and the context is checked between them.
func (i *Indexer) PatchPrices(ctx context.Context) error {
	slog.Info("Starting PAYLOAD ONLY patch (no new embeddings)...")

	products, err := i.catalog.GetAllProducts()
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	for start := 0; start < len(products); start += batchSize {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("patching interrupted: %w", err)
		}
		batch := products[start:min(start+batchSize, len(products))]
		if err := i.index.PatchPayload(ctx, batch); err != nil {
			slog.Error("Failed to patch batch", "start", start, "error", err)
			continue
		}
		slog.Info("Patched payloads...", "done", start+len(batch), "total", len(products))
	}

	slog.Info("Payload patching completed successfully.")
	return nil
}
