package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AmirTlinov/context-finder-mcp/internal/chunk"
	"github.com/AmirTlinov/context-finder-mcp/internal/classify"
	"github.com/AmirTlinov/context-finder-mcp/internal/embed"
	"github.com/AmirTlinov/context-finder-mcp/internal/fuzzy"
	"github.com/AmirTlinov/context-finder-mcp/internal/store"
)

// DefaultLimit is used when a caller passes a non-positive limit.
const DefaultLimit = 10

// Engine is the hybrid retrieval engine. One instance serves one
// project root; the dispatch layer caches engines per root behind a
// slot lock.
type Engine struct {
	corpus   *chunk.ChunkCorpus
	indices  map[string]store.VectorIndex // model id -> index
	registry *embed.Registry
	matcher  *fuzzy.Matcher
	profile  *Profile
	logger   *slog.Logger

	mu             sync.Mutex
	disabledReason string
}

// New creates an engine over an already-loaded corpus and set of
// per-model vector indices. indices may be empty: the engine then runs
// fuzzy-and-direct only from the first call.
func New(corpus *chunk.ChunkCorpus, indices map[string]store.VectorIndex, registry *embed.Registry, profile *Profile, logger *slog.Logger) *Engine {
	if profile == nil {
		profile = QualityProfile()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if indices == nil {
		indices = map[string]store.VectorIndex{}
	}
	return &Engine{
		corpus:   corpus,
		indices:  indices,
		registry: registry,
		matcher:  fuzzy.NewMatcher(corpus, profile.MinFuzzyScore),
		profile:  profile,
		logger:   logger,
	}
}

// Corpus exposes the canonical chunk corpus backing this engine.
func (e *Engine) Corpus() *chunk.ChunkCorpus { return e.corpus }

// Profile returns the engine's active profile.
func (e *Engine) Profile() *Profile { return e.profile }

// Registry returns the embedding registry.
func (e *Engine) Registry() *embed.Registry { return e.registry }

// SemanticDisabledReason returns the stable reason string captured when
// semantic search was disabled, or "" while it is enabled.
func (e *Engine) SemanticDisabledReason() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disabledReason
}

// ReloadIndices swaps in a fresh set of vector indices and re-enables
// semantic search. This is the only recovery path from the disabled
// state.
func (e *Engine) ReloadIndices(indices map[string]store.VectorIndex) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if indices == nil {
		indices = map[string]store.VectorIndex{}
	}
	e.indices = indices
	e.disabledReason = ""
}

func (e *Engine) semanticEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disabledReason == ""
}

// indicesSnapshot reads the index map under the lock so a concurrent
// ReloadIndices never races a search in flight.
func (e *Engine) indicesSnapshot() map[string]store.VectorIndex {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.indices
}

func (e *Engine) disableSemantic(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disabledReason == "" {
		e.disabledReason = reason
	}
}

// Search maps a raw query and limit to an ordered result list. It fails
// only on an empty query; embedding faults disable semantic search
// until ReloadIndices and the pipeline continues on fuzzy and direct
// signals.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]*Result, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	cls := classify.Classify(trimmed)

	// Stage 1: direct file-path match.
	if res := e.directPathMatch(trimmed, cls); len(res) > 0 {
		return capResults(res, limit), nil
	}

	// Stage 2: direct symbol match.
	if res := e.directSymbolMatch(cls); len(res) > 0 {
		return capResults(res, limit), nil
	}

	// Stage 3: candidate pool sizing from per-type weights.
	pool := limit * cls.Weights.CandidateMultiplier
	if pool < 1 {
		pool = 1
	}

	// Stages 4+5 run concurrently: multi-expert semantic retrieval and
	// fuzzy retrieval are independent until fusion. Identifier queries
	// fuzzy-search by their symbol anchor; everything else uses the
	// raw query.
	fuzzyQuery := trimmed
	if cls.Type == classify.QueryTypeIdentifier && cls.Anchor != "" {
		fuzzyQuery = cls.Anchor
	}

	var semRanked []string
	var maxCos map[string]float64
	var fuzzyHits []fuzzy.Match

	g, gctx := errgroup.WithContext(ctx)
	if e.semanticEnabled() {
		g.Go(func() error {
			ranked, cos, err := e.semanticSearch(gctx, trimmed, cls, pool)
			if err != nil {
				// Embedding faults disable semantic search instead of
				// failing the query; fuzzy still answers.
				e.logger.Warn("semantic search disabled", "reason", err.Error())
				e.disableSemantic(err.Error())
				return nil
			}
			semRanked, maxCos = ranked, cos
			return nil
		})
	}
	g.Go(func() error {
		fuzzyHits = e.matcher.Search(fuzzyQuery, pool)
		return nil
	})
	_ = g.Wait()

	// Stage 6: adaptive RRF fusion of the two rank lists.
	fused := fuseRanks(semRanked, fuzzyHits, cls.Weights)
	if len(fused) == 0 {
		return []*Result{}, nil
	}

	// Stage 7: AST boost and rule rerank.
	e.rerank(fused, cls, maxCos)

	// Stage 8: normalize, order, truncate.
	results := e.finalize(fused, limit)
	return results, nil
}

// finalize resolves fused entries against the corpus (misses dropped
// silently), rescales scores into [0,1], and applies the total order
// (score desc, chunk id asc).
func (e *Engine) finalize(fused []*fusedEntry, limit int) []*Result {
	results := make([]*Result, 0, len(fused))
	minScore, maxScore := 0.0, 0.0
	first := true
	for _, f := range fused {
		ch, ok := e.corpus.Get(f.chunkID)
		if !ok {
			continue
		}
		if first {
			minScore, maxScore = f.score, f.score
			first = false
		} else {
			if f.score < minScore {
				minScore = f.score
			}
			if f.score > maxScore {
				maxScore = f.score
			}
		}
		results = append(results, &Result{Chunk: ch, Score: f.score, ID: f.chunkID})
	}

	span := maxScore - minScore
	for _, r := range results {
		if span > 0 {
			r.Score = (r.Score - minScore) / span
		} else {
			r.Score = 1.0
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return capResults(results, limit)
}

func capResults(res []*Result, limit int) []*Result {
	if len(res) > limit {
		return res[:limit]
	}
	return res
}
