package search

import (
	"strings"

	"github.com/AmirTlinov/context-finder-mcp/internal/classify"
)

// tokenBoost is the per-token multiplier applied when a query token
// matches a chunk's symbol name or parent scope.
const tokenBoost = 1.15

// weakFuzzyFloor is the normalized fuzzy score below which a hit counts
// as "weak" for the demotion pass.
const weakFuzzyFloor = 0.3

// demotionFactor halves the score of chunks that fail both the
// semantic-confidence floor and the lexical-confidence floor for the
// query's type.
const demotionFactor = 0.5

// rerank applies the rule-based pass over fused entries in place:
// path weights, symbol-type priors, token-match boosts (capped at the
// profile's MaxBoost), and a final confidence demotion keyed on the
// query type.
func (e *Engine) rerank(fused []*fusedEntry, cls classify.Classification, maxCos map[string]float64) {
	for _, fe := range fused {
		ch, ok := e.corpus.Get(fe.chunkID)
		if !ok {
			continue
		}

		fe.score *= e.profile.PathWeightFor(ch.FilePath)
		fe.score *= e.profile.PriorFor(ch.Metadata.ChunkType)

		// Boost symbol/scope token matches, cumulative but capped.
		boost := 1.0
		symbol := strings.ToLower(ch.Metadata.SymbolName)
		scope := strings.ToLower(ch.Metadata.ParentScope)
		for _, tok := range cls.Tokens {
			if tok == "" {
				continue
			}
			if symbol != "" && strings.Contains(symbol, tok) {
				boost *= tokenBoost
			} else if scope != "" && strings.Contains(scope, tok) {
				boost *= tokenBoost
			}
			if boost >= e.profile.MaxBoost {
				boost = e.profile.MaxBoost
				break
			}
		}
		fe.score *= boost

		// Confidence demotion. Conceptual queries trust cosine: a chunk
		// below the cosine floor with only a weak fuzzy signal is
		// probably noise. Identifier queries trust the lexical signal:
		// a chunk with a weak fuzzy score and sub-floor cosine got there
		// by rank luck.
		cos := maxCos[fe.chunkID]
		weakCos := cos < e.profile.CosineFloor
		weakFuzzy := fe.fuzzyRank == 0 || fe.fuzzyScore < weakFuzzyFloor
		switch cls.Type {
		case classify.QueryTypeConceptual:
			if weakCos && weakFuzzy && fe.semRank > 0 {
				fe.score *= demotionFactor
			}
		case classify.QueryTypeIdentifier:
			if weakFuzzy && weakCos && fe.fuzzyRank > 0 {
				fe.score *= demotionFactor
			}
		}
	}
}
