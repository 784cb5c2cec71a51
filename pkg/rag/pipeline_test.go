package rag

import (
	"context"
	"testing"

	"github.com/kadirpekel/conductor/pkg/embedders"
	"github.com/kadirpekel/conductor/pkg/vector"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	chunker, err := NewChunker(ChunkerConfig{Size: 2000, Overlap: 200})
	if err != nil {
		t.Fatalf("NewChunker() error = %v", err)
	}
	store, err := vector.NewChromemProvider(vector.ChromemConfig{})
	if err != nil {
		t.Fatalf("NewChromemProvider() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewPipeline(chunker, embedders.NewMockEmbedder(32), store)
}

func TestPipeline_AddDocument(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	count, err := p.AddDocument(ctx, "docs", "guide.md", syntheticDoc(8000), nil)
	if err != nil {
		t.Fatalf("AddDocument() error = %v", err)
	}
	if count != 5 {
		t.Errorf("indexed %d chunks, want 5", count)
	}

	stats, err := p.CollectionStats(ctx, "docs")
	if err != nil {
		t.Fatalf("CollectionStats() error = %v", err)
	}
	if stats.Documents != 5 {
		t.Errorf("Documents = %d, want 5", stats.Documents)
	}
}

func TestPipeline_AddDocument_EmptyContent(t *testing.T) {
	p := newTestPipeline(t)
	if _, err := p.AddDocument(context.Background(), "docs", "empty.md", "", nil); err == nil {
		t.Error("AddDocument() should reject empty content")
	}
}

func TestPipeline_SearchFindsIndexedChunk(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	doc := syntheticDoc(8000)
	if _, err := p.AddDocument(ctx, "docs", "guide.md", doc, nil); err != nil {
		t.Fatalf("AddDocument() error = %v", err)
	}

	// Querying with a chunk's exact text embeds to the same vector, so the
	// top hit must be that chunk with a near-perfect score.
	query := doc[:2000]
	results, err := p.Search(ctx, "docs", query, SearchOptions{TopK: 5, Threshold: 0.6, Merge: false})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) == 0 {
		t.Fatal("Search() returned no results")
	}
	if results[0].Source != "guide.md" {
		t.Errorf("top source = %q", results[0].Source)
	}
	if results[0].AvgScore < 0.99 {
		t.Errorf("top score = %f, want ~1", results[0].AvgScore)
	}
	if results[0].Content != query {
		t.Errorf("top content is not the queried chunk")
	}
}

func TestPipeline_ReAddReplacesSource(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	if _, err := p.AddDocument(ctx, "docs", "guide.md", syntheticDoc(8000), nil); err != nil {
		t.Fatalf("AddDocument() error = %v", err)
	}
	if _, err := p.AddDocument(ctx, "docs", "guide.md", "replacement text", nil); err != nil {
		t.Fatalf("AddDocument() re-add error = %v", err)
	}

	stats, err := p.CollectionStats(ctx, "docs")
	if err != nil {
		t.Fatalf("CollectionStats() error = %v", err)
	}
	if stats.Documents != 1 {
		t.Errorf("Documents = %d after re-add, want 1", stats.Documents)
	}
}

func TestPipeline_DeleteSource(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	if _, err := p.AddDocument(ctx, "docs", "guide.md", syntheticDoc(4000), nil); err != nil {
		t.Fatalf("AddDocument() error = %v", err)
	}
	if err := p.DeleteSource(ctx, "docs", "guide.md"); err != nil {
		t.Fatalf("DeleteSource() error = %v", err)
	}

	stats, err := p.CollectionStats(ctx, "docs")
	if err != nil {
		t.Fatalf("CollectionStats() error = %v", err)
	}
	if stats.Documents != 0 {
		t.Errorf("Documents = %d after delete, want 0", stats.Documents)
	}
}
