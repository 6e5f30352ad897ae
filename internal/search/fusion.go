package search

import (
	"sort"

	"github.com/AmirTlinov/context-finder-mcp/internal/classify"
	"github.com/AmirTlinov/context-finder-mcp/internal/fuzzy"
)

// fusedEntry is one chunk's state after rank fusion, carried through
// reranking until finalize resolves it against the corpus.
type fusedEntry struct {
	chunkID    string
	score      float64
	semRank    int     // 1-indexed, 0 if absent from semantic list
	fuzzyRank  int     // 1-indexed, 0 if absent from fuzzy list
	fuzzyScore float64 // normalized fuzzy score, 0 if absent
}

// fuseRanks combines the semantic and fuzzy rank lists with weighted
// reciprocal rank fusion. Chunks present in only one list contribute
// the missing source at rank max(len_sem, len_fuzzy)+1, penalizing
// single-source hits without discarding them.
//
// Ordering of the returned slice: score desc, chunk id asc.
func fuseRanks(semRanked []string, fuzzyHits []fuzzy.Match, w classify.Weights) []*fusedEntry {
	if len(semRanked) == 0 && len(fuzzyHits) == 0 {
		return []*fusedEntry{}
	}

	entries := make(map[string]*fusedEntry, len(semRanked)+len(fuzzyHits))
	get := func(id string) *fusedEntry {
		if fe, ok := entries[id]; ok {
			return fe
		}
		fe := &fusedEntry{chunkID: id}
		entries[id] = fe
		return fe
	}

	for rank, id := range semRanked {
		fe := get(id)
		fe.semRank = rank + 1
		fe.score += w.SemanticWeight / float64(rrfK+rank+1)
	}
	for rank, m := range fuzzyHits {
		fe := get(m.ChunkID)
		fe.fuzzyRank = rank + 1
		fe.fuzzyScore = m.Score
		fe.score += w.FuzzyWeight / float64(rrfK+rank+1)
	}

	missing := len(semRanked)
	if len(fuzzyHits) > missing {
		missing = len(fuzzyHits)
	}
	missing++
	for _, fe := range entries {
		if fe.semRank == 0 {
			fe.score += w.SemanticWeight / float64(rrfK+missing)
		}
		if fe.fuzzyRank == 0 {
			fe.score += w.FuzzyWeight / float64(rrfK+missing)
		}
	}

	out := make([]*fusedEntry, 0, len(entries))
	for _, fe := range entries {
		out = append(out, fe)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].chunkID < out[j].chunkID
	})
	return out
}
