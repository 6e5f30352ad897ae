package search

import (
	"context"
	"sort"

	"github.com/AmirTlinov/context-finder-mcp/internal/classify"
	"github.com/AmirTlinov/context-finder-mcp/internal/embed"
	"github.com/AmirTlinov/context-finder-mcp/internal/store"
)

// kindFor maps a classified query type to the embedding query kind.
func kindFor(qt classify.QueryType) embed.QueryKind {
	switch qt {
	case classify.QueryTypeIdentifier:
		return embed.QueryKindIdentifier
	case classify.QueryTypePath:
		return embed.QueryKindPath
	default:
		return embed.QueryKindConceptual
	}
}

// semanticSearch runs the multi-expert semantic stage: select experts,
// embed the query per expert template, search each expert's index, and
// fuse the per-expert rank lists by reciprocal rank. It returns the
// fused chunk-id ranking (best first) and each chunk's max cosine
// across experts. An error means no expert produced an embedding; the
// caller treats that as "disable semantic search".
func (e *Engine) semanticSearch(ctx context.Context, query string, cls classify.Classification, pool int) ([]string, map[string]float64, error) {
	indices := e.indicesSnapshot()
	experts := e.selectExperts(indices, cls, query)
	if len(experts) == 0 {
		return nil, nil, nil
	}
	kind := kindFor(cls.Type)

	var firstErr *EmbeddingError
	perModel := make([][]string, 0, len(experts)) // ranked chunk ids per expert
	maxCos := make(map[string]float64)

	for _, m := range experts {
		idx, ok := indices[m.Info.ID]
		if !ok {
			continue
		}
		rendered := m.RenderQuery(kind, query)
		vec, err := m.Embedder.Embed(ctx, rendered)
		if err != nil {
			e.logger.Warn("embed failed, skipping expert", "model", m.Info.ID, "error", err)
			if firstErr == nil {
				firstErr = &EmbeddingError{ModelID: m.Info.ID, Err: err}
			}
			continue
		}
		hits, err := idx.Search(vec, pool)
		if err != nil {
			e.logger.Warn("vector search failed, skipping expert", "model", m.Info.ID, "error", err)
			if firstErr == nil {
				firstErr = &EmbeddingError{ModelID: m.Info.ID, Err: err}
			}
			continue
		}
		ranked := make([]string, 0, len(hits))
		for _, h := range hits {
			ch, ok := e.corpus.Get(h.ID)
			if !ok || !e.profile.Accepts(ch.FilePath) {
				continue
			}
			ranked = append(ranked, h.ID)
			if cos := float64(h.Score); cos > maxCos[h.ID] {
				maxCos[h.ID] = cos
			}
		}
		perModel = append(perModel, ranked)
	}

	if len(perModel) == 0 {
		if firstErr != nil {
			return nil, nil, firstErr
		}
		return nil, nil, nil
	}

	return fuseExpertRanks(perModel, pool), maxCos, nil
}

// selectExperts resolves the profile's roster for the query type to
// models with a loaded index. An empty roster means every loaded model.
// Conceptual queries with at most two candidates collapse to a single
// expert: the multilingual one for Cyrillic queries, otherwise the
// largest generic model.
func (e *Engine) selectExperts(indices map[string]store.VectorIndex, cls classify.Classification, query string) []*embed.Model {
	if e.registry == nil {
		return nil
	}

	loaded := make([]*embed.Model, 0, len(indices))
	for _, id := range e.registry.IDs() {
		if _, ok := indices[id]; ok {
			if m, ok := e.registry.Get(id); ok {
				loaded = append(loaded, m)
			}
		}
	}
	if len(loaded) == 0 {
		return nil
	}

	roster := e.profile.Experts[cls.Type]
	var candidates []*embed.Model
	if len(roster) == 0 {
		candidates = loaded
	} else {
		byID := make(map[string]*embed.Model, len(loaded))
		for _, m := range loaded {
			byID[m.Info.ID] = m
		}
		for _, id := range roster {
			if m, ok := byID[id]; ok {
				candidates = append(candidates, m)
			}
		}
		if len(candidates) == 0 {
			candidates = loaded[:1]
		}
	}

	if cls.Type == classify.QueryTypeConceptual && len(candidates) <= 2 && len(candidates) > 1 {
		return []*embed.Model{pickSingleExpert(candidates, classify.HasCyrillic(query))}
	}
	return candidates
}

// pickSingleExpert chooses one model from a small candidate set:
// multilingual for Cyrillic queries, else the largest generic model
// (highest dimension among non-multilingual, falling back to highest
// dimension overall).
func pickSingleExpert(candidates []*embed.Model, cyrillic bool) *embed.Model {
	if cyrillic {
		for _, m := range candidates {
			if m.Info.Multilingual {
				return m
			}
		}
	}
	var best *embed.Model
	for _, m := range candidates {
		if m.Info.Multilingual {
			continue
		}
		if best == nil || m.Info.Dimensions > best.Info.Dimensions {
			best = m
		}
	}
	if best != nil {
		return best
	}
	best = candidates[0]
	for _, m := range candidates[1:] {
		if m.Info.Dimensions > best.Info.Dimensions {
			best = m
		}
	}
	return best
}

// fuseExpertRanks fuses per-expert rank lists via reciprocal rank
// fusion (k=60), breaking score ties by lexicographic chunk id (the
// canonical chunk ordering), and keeps the top pool ids.
func fuseExpertRanks(perModel [][]string, pool int) []string {
	scores := make(map[string]float64)
	for _, ranked := range perModel {
		for rank, id := range ranked {
			scores[id] += 1.0 / float64(rrfK+rank+1)
		}
	}
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > pool {
		ids = ids[:pool]
	}
	return ids
}
