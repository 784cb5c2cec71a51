package vector

import (
	"context"
	"fmt"
	"testing"

	"github.com/kadirpekel/conductor/pkg/embedders"
)

func seedDocs(t *testing.T, p Provider, collection string, texts []string) []Document {
	t.Helper()
	ctx := context.Background()
	embedder := embedders.NewMockEmbedder(16)

	docs := make([]Document, 0, len(texts))
	for i, text := range texts {
		vec, err := embedder.Embed(ctx, text)
		if err != nil {
			t.Fatalf("Embed() error = %v", err)
		}
		docs = append(docs, Document{
			ID:      fmt.Sprintf("doc-%d", i),
			Content: text,
			Vector:  vec,
			Metadata: map[string]any{
				"source":     "test.txt",
				"chunkIndex": i,
			},
		})
	}

	if err := p.EnsureCollection(ctx, collection, embedder.Dimension()); err != nil {
		t.Fatalf("EnsureCollection() error = %v", err)
	}
	if err := p.Upsert(ctx, collection, docs); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	return docs
}

func TestChromemProvider_UpsertAndSearch(t *testing.T) {
	p, err := NewChromemProvider(ChromemConfig{})
	if err != nil {
		t.Fatalf("NewChromemProvider() error = %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	docs := seedDocs(t, p, "docs", []string{
		"alpha particle physics",
		"beta decay chains",
		"gamma ray bursts",
	})

	results, err := p.Search(ctx, "docs", docs[0].Vector, 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Search() returned %d results, want 2", len(results))
	}
	if results[0].ID != docs[0].ID {
		t.Errorf("top result = %q, want %q", results[0].ID, docs[0].ID)
	}
	if results[0].Score < 0.99 {
		t.Errorf("exact-match score = %f, want ~1", results[0].Score)
	}
	if results[0].Content != docs[0].Content {
		t.Errorf("Content = %q", results[0].Content)
	}
}

func TestChromemProvider_SearchCapsAtCollectionSize(t *testing.T) {
	p, err := NewChromemProvider(ChromemConfig{})
	if err != nil {
		t.Fatalf("NewChromemProvider() error = %v", err)
	}
	defer p.Close()

	docs := seedDocs(t, p, "small", []string{"only one document"})

	results, err := p.Search(context.Background(), "small", docs[0].Vector, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 {
		t.Errorf("Search() returned %d results, want 1", len(results))
	}
}

func TestChromemProvider_DeleteBySource(t *testing.T) {
	p, err := NewChromemProvider(ChromemConfig{})
	if err != nil {
		t.Fatalf("NewChromemProvider() error = %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	docs := seedDocs(t, p, "docs", []string{"first text", "second text"})

	if err := p.DeleteBySource(ctx, "docs", "test.txt"); err != nil {
		t.Fatalf("DeleteBySource() error = %v", err)
	}

	results, err := p.Search(ctx, "docs", docs[0].Vector, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Search() after delete returned %d results", len(results))
	}
}

func TestChromemProvider_StatsAndCollections(t *testing.T) {
	p, err := NewChromemProvider(ChromemConfig{})
	if err != nil {
		t.Fatalf("NewChromemProvider() error = %v", err)
	}
	defer p.Close()

	seedDocs(t, p, "docs", []string{"one", "two", "three"})

	stats, err := p.CollectionStats(context.Background(), "docs")
	if err != nil {
		t.Fatalf("CollectionStats() error = %v", err)
	}
	if stats.Documents != 3 {
		t.Errorf("Documents = %d, want 3", stats.Documents)
	}

	names, err := p.ListCollections(context.Background())
	if err != nil {
		t.Fatalf("ListCollections() error = %v", err)
	}
	if len(names) != 1 || names[0] != "docs" {
		t.Errorf("ListCollections() = %v", names)
	}
}

func TestNew_UnknownType(t *testing.T) {
	if _, err := New(Config{Type: "bogus"}); err == nil {
		t.Error("New() should reject unknown provider types")
	}
}
