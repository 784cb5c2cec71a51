// Package vector abstracts vector storage for document retrieval.
//
// Two providers ship by default: chromem (embedded, zero-config) and
// qdrant (external, production scale). Both index with cosine distance so
// scores are comparable across providers.
package vector

import (
	"context"
	"fmt"
)

// Document is a chunk ready for indexing, with its pre-computed embedding.
type Document struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata map[string]any
}

// Result is one search hit, score in [0, 1] for cosine similarity.
type Result struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]any
}

// Stats summarizes one collection.
type Stats struct {
	Name      string `json:"name"`
	Documents int    `json:"documents"`
}

// Provider is the storage port used by the retrieval pipeline.
type Provider interface {
	// EnsureCollection creates the collection if missing. Providers index
	// with cosine distance.
	EnsureCollection(ctx context.Context, name string, dimension int) error

	// Upsert inserts or replaces documents by ID.
	Upsert(ctx context.Context, collection string, docs []Document) error

	// Search returns the topK most similar documents, best first.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)

	// DeleteBySource removes every document whose metadata source matches.
	DeleteBySource(ctx context.Context, collection, source string) error

	DeleteCollection(ctx context.Context, collection string) error

	ListCollections(ctx context.Context) ([]string, error)

	CollectionStats(ctx context.Context, collection string) (Stats, error)

	Close() error
}

// Config selects and configures a provider.
type Config struct {
	Type    string        `yaml:"type"` // "chromem" or "qdrant"
	Chromem ChromemConfig `yaml:"chromem,omitempty"`
	Qdrant  QdrantConfig  `yaml:"qdrant,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.Type == "" {
		c.Type = "chromem"
	}
	c.Qdrant.SetDefaults()
}

// New builds the provider named by cfg.Type.
func New(cfg Config) (Provider, error) {
	cfg.SetDefaults()
	switch cfg.Type {
	case "chromem":
		return NewChromemProvider(cfg.Chromem)
	case "qdrant":
		return NewQdrantProvider(cfg.Qdrant)
	default:
		return nil, fmt.Errorf("unknown vector provider type: %q", cfg.Type)
	}
}
