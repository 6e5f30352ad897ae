// Package search implements the hybrid retrieval engine: direct-match
// short-circuits, multi-expert semantic retrieval fused by reciprocal
// rank, fuzzy matching, rule-based reranking, and score normalization.
// When embeddings are unavailable the engine degrades to fuzzy-only
// search instead of failing.
package search

import (
	"errors"
	"fmt"

	"github.com/AmirTlinov/context-finder-mcp/internal/chunk"
)

// ErrEmptyQuery is returned when the trimmed query is empty. It is the
// only user-visible failure Search produces; every other fault degrades.
var ErrEmptyQuery = errors.New("empty query")

// EmbeddingError wraps the first embedding failure of a search pass.
// The engine catches it internally and flips to fuzzy-only mode; it
// never escapes Search.
type EmbeddingError struct {
	ModelID string
	Err     error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed for model %q: %v", e.ModelID, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// Result is a single search hit. Scores are normalized to [0,1] and
// comparable only within one query.
type Result struct {
	Chunk *chunk.CodeChunk
	Score float64
	ID    string
}

// rrfK is the reciprocal-rank-fusion smoothing constant. k=60 is the
// standard value validated across retrieval domains.
const rrfK = 60
