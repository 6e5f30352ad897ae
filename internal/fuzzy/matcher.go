// Package fuzzy scores chunks against a query by fuzzy-matching file
// paths and symbol names. It is the lexical leg of hybrid retrieval and
// the only leg that keeps answering when semantic search is disabled.
package fuzzy

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/AmirTlinov/context-finder-mcp/internal/chunk"
)

// Match is a single fuzzy hit with a normalized score.
type Match struct {
	ChunkID string
	Score   float64 // 0-1, normalized within one Search call
}

// pathFactor discounts path-only matches relative to symbol matches:
// a query that fuzzy-matches a symbol name is a stronger signal than one
// that merely resembles the file's path.
const pathFactor = 0.9

// Matcher fuzzy-scores the chunk corpus.
type Matcher struct {
	corpus   *chunk.ChunkCorpus
	minScore float64
}

// NewMatcher creates a matcher over corpus. minScore is the normalized
// score floor below which matches are dropped; it is profile-tunable,
// not a constant of the algorithm.
func NewMatcher(corpus *chunk.ChunkCorpus, minScore float64) *Matcher {
	return &Matcher{corpus: corpus, minScore: minScore}
}

// Search returns up to limit chunks fuzzy-matching query, ordered by
// (score desc, chunk id asc). Scores are normalized to [0,1] within
// this call; they are not comparable across queries.
func (m *Matcher) Search(query string, limit int) []Match {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 || m.corpus.Len() == 0 {
		return []Match{}
	}

	// Raw scores per chunk id: best of symbol match and discounted
	// path match.
	raw := make(map[string]float64)

	paths := m.corpus.Files()
	for _, fm := range fuzzy.Find(query, paths) {
		if fm.Score <= 0 {
			continue
		}
		for _, ch := range m.corpus.FileChunks(fm.Str) {
			id := ch.ID()
			s := float64(fm.Score) * pathFactor
			if s > raw[id] {
				raw[id] = s
			}
		}
	}

	ids, symbols := m.symbolTargets()
	for _, fm := range fuzzy.Find(query, symbols) {
		if fm.Score <= 0 {
			continue
		}
		id := ids[fm.Index]
		if s := float64(fm.Score); s > raw[id] {
			raw[id] = s
		}
	}

	if len(raw) == 0 {
		return []Match{}
	}

	// Normalize to [0,1] against the best raw score, then apply the
	// profile floor.
	maxScore := 0.0
	for _, s := range raw {
		if s > maxScore {
			maxScore = s
		}
	}
	out := make([]Match, 0, len(raw))
	for id, s := range raw {
		norm := s / maxScore
		if norm < m.minScore {
			continue
		}
		out = append(out, Match{ChunkID: id, Score: norm})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// symbolTargets returns parallel slices of chunk ids and their symbol
// names, in lexicographic chunk-id order so fuzzy match indices map back
// deterministically.
func (m *Matcher) symbolTargets() ([]string, []string) {
	allIDs := m.corpus.AllIDs()
	ids := make([]string, 0, len(allIDs))
	symbols := make([]string, 0, len(allIDs))
	for _, id := range allIDs {
		ch, ok := m.corpus.Get(id)
		if !ok || ch.Metadata.SymbolName == "" {
			continue
		}
		ids = append(ids, id)
		symbols = append(symbols, ch.Metadata.SymbolName)
	}
	return ids, symbols
}
