package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/conductor/pkg/embedders"
	"github.com/kadirpekel/conductor/pkg/vector"
)

// SearchOptions tune one retrieval call.
type SearchOptions struct {
	TopK      int     `json:"topK,omitempty"`
	Threshold float32 `json:"threshold,omitempty"`
	Merge     bool    `json:"merge,omitempty"`
}

func (o *SearchOptions) SetDefaults() {
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.Threshold <= 0 {
		o.Threshold = 0.6
	}
}

// Pipeline binds a chunker, an embedder and a vector store into the
// document add/search/delete operations exposed to the rest of the
// system.
type Pipeline struct {
	chunker  *Chunker
	embedder embedders.Embedder
	store    vector.Provider
}

func NewPipeline(chunker *Chunker, embedder embedders.Embedder, store vector.Provider) *Pipeline {
	return &Pipeline{
		chunker:  chunker,
		embedder: embedder,
		store:    store,
	}
}

// AddDocument chunks, embeds and indexes content under source. Re-adding
// a source replaces its previous chunks so stale fragments never linger.
func (p *Pipeline) AddDocument(ctx context.Context, collection, source, content string, metadata map[string]any) (int, error) {
	chunks := p.chunker.Chunk(source, content, metadata)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document %q has no content to index", source)
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed document %q: %w", source, err)
	}

	if err := p.store.EnsureCollection(ctx, collection, p.embedder.Dimension()); err != nil {
		return 0, err
	}
	if err := p.store.DeleteBySource(ctx, collection, source); err != nil {
		slog.Warn("Failed to clear previous chunks before re-add",
			"collection", collection,
			"source", source,
			"error", err)
	}

	docs := make([]vector.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = vector.Document{
			ID:       chunk.ID,
			Content:  chunk.Content,
			Vector:   vectors[i],
			Metadata: chunk.Metadata,
		}
	}
	if err := p.store.Upsert(ctx, collection, docs); err != nil {
		return 0, fmt.Errorf("failed to index document %q: %w", source, err)
	}

	slog.Debug("Indexed document",
		"collection", collection,
		"source", source,
		"chunks", len(docs))
	return len(docs), nil
}

// Search embeds the query, retrieves the topK chunks above the score
// threshold and optionally merges adjacent chunks per source.
func (p *Pipeline) Search(ctx context.Context, collection, query string, opts SearchOptions) ([]MergedResult, error) {
	opts.SetDefaults()

	queryVec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := p.store.Search(ctx, collection, queryVec, opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("search in %q failed: %w", collection, err)
	}

	filtered := hits[:0]
	for _, hit := range hits {
		if hit.Score >= opts.Threshold {
			filtered = append(filtered, hit)
		}
	}

	if opts.Merge {
		return MergeResults(filtered), nil
	}

	// Unmerged: one result per chunk, order preserved.
	out := make([]MergedResult, 0, len(filtered))
	for _, hit := range filtered {
		out = append(out, MergedResult{
			Source:       metadataString(hit.Metadata, "source"),
			Content:      hit.Content,
			AvgScore:     hit.Score,
			MergedChunks: 1,
		})
	}
	return out, nil
}

// DeleteSource removes every chunk of a source from a collection.
func (p *Pipeline) DeleteSource(ctx context.Context, collection, source string) error {
	return p.store.DeleteBySource(ctx, collection, source)
}

func (p *Pipeline) ListCollections(ctx context.Context) ([]string, error) {
	return p.store.ListCollections(ctx)
}

func (p *Pipeline) CollectionStats(ctx context.Context, collection string) (vector.Stats, error) {
	return p.store.CollectionStats(ctx, collection)
}
