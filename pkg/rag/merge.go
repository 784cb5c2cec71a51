package rag

import (
	"sort"
	"strconv"

	"github.com/kadirpekel/conductor/pkg/vector"
)

const (
	// minMergeOverlap is the smallest suffix/prefix match treated as a real
	// chunk boundary rather than coincidence.
	minMergeOverlap = 50

	// maxMergeRatio caps the overlap at a fraction of the smaller chunk, so
	// a chunk can never be swallowed whole by its neighbor.
	maxMergeRatio = 0.8
)

// MergedResult is one reconstructed source after merging its chunks.
type MergedResult struct {
	Source       string  `json:"source"`
	Content      string  `json:"content"`
	AvgScore     float32 `json:"avgScore"`
	MergedChunks int     `json:"mergedChunks"`
}

// MergeResults reconstructs contiguous text from ranked search hits.
//
// Hits are grouped by metadata source and sorted by chunkIndex (score
// descending when indexes are missing). Within a group, each next chunk is
// either stitched onto the accumulator at the detected overlap or appended
// after a paragraph break. Groups come back sorted by average score,
// best first.
func MergeResults(hits []vector.Result) []MergedResult {
	if len(hits) == 0 {
		return nil
	}

	groups := make(map[string][]vector.Result)
	var order []string
	for _, hit := range hits {
		source := metadataString(hit.Metadata, "source")
		if _, seen := groups[source]; !seen {
			order = append(order, source)
		}
		groups[source] = append(groups[source], hit)
	}

	merged := make([]MergedResult, 0, len(groups))
	for _, source := range order {
		group := groups[source]
		sortGroup(group)

		content := group[0].Content
		var totalScore float32
		for _, hit := range group {
			totalScore += hit.Score
		}
		// The overlap bound tracks the last chunk appended, not the grown
		// accumulator, so a late chunk cannot claim more than its
		// neighbor's share.
		prevLen := len(content)
		for _, hit := range group[1:] {
			content = stitch(content, hit.Content, prevLen)
			prevLen = len(hit.Content)
		}

		merged = append(merged, MergedResult{
			Source:       source,
			Content:      content,
			AvgScore:     totalScore / float32(len(group)),
			MergedChunks: len(group),
		})
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].AvgScore > merged[j].AvgScore
	})
	return merged
}

// sortGroup orders chunks by chunkIndex ascending; hits without an index
// sort after indexed ones, by score descending.
func sortGroup(group []vector.Result) {
	sort.SliceStable(group, func(i, j int) bool {
		iIdx, iOK := metadataInt(group[i].Metadata, "chunkIndex")
		jIdx, jOK := metadataInt(group[j].Metadata, "chunkIndex")
		switch {
		case iOK && jOK:
			return iIdx < jIdx
		case iOK:
			return true
		case jOK:
			return false
		default:
			return group[i].Score > group[j].Score
		}
	})
}

// stitch appends next onto acc, removing the overlap when the tail of acc
// repeats at the head of next. prevLen is the length of the chunk that
// produced acc's tail and bounds how much overlap may be claimed.
func stitch(acc, next string, prevLen int) string {
	if overlap := findOverlap(acc, next, prevLen); overlap > 0 {
		return acc + next[overlap:]
	}
	return acc + "\n\n" + next
}

// findOverlap returns the largest L in [minMergeOverlap, maxMergeRatio *
// min(prevLen, |next|)] where the last L characters of acc equal the
// first L of next, or 0 when none qualifies.
func findOverlap(acc, next string, prevLen int) int {
	maxL := int(maxMergeRatio * float64(min(prevLen, len(next))))
	if maxL > len(acc) {
		maxL = len(acc)
	}
	if maxL > len(next) {
		maxL = len(next)
	}
	for l := maxL; l >= minMergeOverlap; l-- {
		if acc[len(acc)-l:] == next[:l] {
			return l
		}
	}
	return 0
}

func metadataString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	if s, ok := metadata[key].(string); ok {
		return s
	}
	return ""
}

// metadataInt coerces an index value that may arrive as a number or as a
// stringified number, depending on the vector backend.
func metadataInt(metadata map[string]any, key string) (int, bool) {
	if metadata == nil {
		return 0, false
	}
	switch v := metadata[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n, true
		}
	}
	return 0, false
}
