package search

import (
	"strings"

	"github.com/AmirTlinov/context-finder-mcp/internal/chunk"
	"github.com/AmirTlinov/context-finder-mcp/internal/classify"
)

// PathWeight scales the final score of chunks under a path prefix.
// Weights above 1 promote (source trees), below 1 demote (vendored or
// generated code).
type PathWeight struct {
	Prefix string  `yaml:"prefix"`
	Weight float64 `yaml:"weight"`
}

// Profile is a named configuration of ranking weights, path filters,
// and per-query-kind expert rosters. Profiles are tunable; the values
// here are starting points, not contract.
type Profile struct {
	// Name identifies the profile ("quality", "fast").
	Name string

	// Experts lists embedding model ids per query type, in preference
	// order. Models without a loaded index are skipped; if none remain
	// the engine falls back to the first loaded model.
	Experts map[classify.QueryType][]string

	// MinFuzzyScore is the normalized floor below which fuzzy matches
	// are dropped.
	MinFuzzyScore float64

	// PathWeights multiply final scores by path prefix.
	PathWeights []PathWeight

	// ExcludePaths rejects chunks under these prefixes from semantic
	// candidates entirely.
	ExcludePaths []string

	// SymbolTypePriors multiply scores by chunk type; unlisted types
	// get 1.0.
	SymbolTypePriors map[chunk.ChunkType]float64

	// MaxBoost caps the cumulative token-match boost applied during
	// reranking.
	MaxBoost float64

	// CosineFloor is the semantic-confidence floor used by the final
	// demotion pass.
	CosineFloor float64

	// GraphAugment enables graph-node late fusion for conceptual
	// queries when a fresh GraphNodeStore is available.
	GraphAugment bool

	// GraphFusionWeight is the RRF weight on graph-node hits during
	// late fusion.
	GraphFusionWeight float64
}

// QualityProfile returns the default profile: every expert enabled,
// graph augmentation on.
func QualityProfile() *Profile {
	return &Profile{
		Name: "quality",
		Experts: map[classify.QueryType][]string{
			classify.QueryTypeIdentifier: nil, // nil = every loaded model
			classify.QueryTypePath:       nil,
			classify.QueryTypeConceptual: nil,
		},
		MinFuzzyScore: 0.25,
		PathWeights: []PathWeight{
			{Prefix: "vendor/", Weight: 0.5},
			{Prefix: "node_modules/", Weight: 0.3},
			{Prefix: "testdata/", Weight: 0.7},
		},
		SymbolTypePriors: map[chunk.ChunkType]float64{
			chunk.ChunkTypeFunction:  1.1,
			chunk.ChunkTypeMethod:    1.1,
			chunk.ChunkTypeStruct:    1.05,
			chunk.ChunkTypeInterface: 1.05,
		},
		MaxBoost:          1.5,
		CosineFloor:       0.35,
		GraphAugment:      true,
		GraphFusionWeight: 0.5,
	}
}

// FastProfile trades ranking quality for latency: the quality expert
// roster, no graph augmentation, a higher fuzzy floor.
func FastProfile() *Profile {
	p := QualityProfile()
	p.Name = "fast"
	p.MinFuzzyScore = 0.4
	p.GraphAugment = false
	return p
}

// ProfileByName resolves a profile name; unknown names get quality.
func ProfileByName(name string) *Profile {
	switch name {
	case "fast":
		return FastProfile()
	default:
		return QualityProfile()
	}
}

// Accepts reports whether a chunk path passes the profile's exclusion
// filter.
func (p *Profile) Accepts(path string) bool {
	for _, prefix := range p.ExcludePaths {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}

// PathWeightFor returns the multiplier for a path, 1.0 when no prefix
// matches. The first matching prefix wins.
func (p *Profile) PathWeightFor(path string) float64 {
	for _, pw := range p.PathWeights {
		if strings.HasPrefix(path, pw.Prefix) {
			return pw.Weight
		}
	}
	return 1.0
}

// PriorFor returns the symbol-type prior for a chunk, 1.0 by default.
func (p *Profile) PriorFor(ct chunk.ChunkType) float64 {
	if w, ok := p.SymbolTypePriors[ct]; ok && w > 0 {
		return w
	}
	return 1.0
}
