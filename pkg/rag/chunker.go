// Package rag implements document chunking, indexing and retrieval over a
// vector store, including the overlap-aware merge that reconstructs
// contiguous text from adjacent chunks of the same source.
package rag

import (
	"fmt"
	"time"
)

// Chunk is one piece of a split document, ready for embedding.
type Chunk struct {
	ID       string
	Content  string
	Index    int
	Total    int
	Metadata map[string]any
}

// ChunkerConfig configures overlapping chunking.
//
// Overlap preserves context at boundaries: retrieval of adjacent chunks
// lets the merge step reconstruct the original text without seams.
type ChunkerConfig struct {
	// Size is the target chunk size in characters. Default: 2000.
	Size int `yaml:"size,omitempty"`

	// Overlap is how many characters consecutive chunks share.
	// Default: 200.
	Overlap int `yaml:"overlap,omitempty"`
}

func (c *ChunkerConfig) SetDefaults() {
	if c.Size <= 0 {
		c.Size = 2000
	}
	if c.Overlap <= 0 {
		c.Overlap = 200
	}
}

func (c *ChunkerConfig) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Size)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("overlap must be non-negative, got %d", c.Overlap)
	}
	if c.Overlap >= c.Size {
		return fmt.Errorf("overlap (%d) must be less than size (%d)", c.Overlap, c.Size)
	}
	return nil
}

// Chunker splits documents into overlapping chunks.
type Chunker struct {
	cfg ChunkerConfig

	// nowMs is swapped in tests for stable chunk ids.
	nowMs func() int64
}

func NewChunker(cfg ChunkerConfig) (*Chunker, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunker config: %w", err)
	}
	return &Chunker{
		cfg:   cfg,
		nowMs: func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Chunk splits content into overlapping chunks attributed to source.
// Chunk ids embed the source, position and creation time; positional
// metadata (source, chunkIndex, totalChunks) is what the merge step keys
// on later. Extra metadata is copied onto every chunk.
func (c *Chunker) Chunk(source, content string, extra map[string]any) []Chunk {
	if content == "" {
		return nil
	}

	stride := c.cfg.Size - c.cfg.Overlap
	var pieces []string
	for start := 0; start < len(content); start += stride {
		end := start + c.cfg.Size
		if end >= len(content) {
			pieces = append(pieces, content[start:])
			break
		}
		pieces = append(pieces, content[start:end])
	}

	now := c.nowMs()
	indexedAt := time.UnixMilli(now).UTC().Format(time.RFC3339)

	chunks := make([]Chunk, len(pieces))
	for i, text := range pieces {
		metadata := map[string]any{
			"source":      source,
			"chunkIndex":  i,
			"totalChunks": len(pieces),
			"indexedAt":   indexedAt,
		}
		for k, v := range extra {
			if _, reserved := metadata[k]; !reserved {
				metadata[k] = v
			}
		}
		chunks[i] = Chunk{
			ID:       fmt.Sprintf("%s_chunk_%d_%d", source, i, now),
			Content:  text,
			Index:    i,
			Total:    len(pieces),
			Metadata: metadata,
		}
	}
	return chunks
}
