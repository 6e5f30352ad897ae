package assemble

import (
	"context"
	"sort"

	"github.com/AmirTlinov/context-finder-mcp/internal/embed"
	"github.com/AmirTlinov/context-finder-mcp/internal/graph"
	"github.com/AmirTlinov/context-finder-mcp/internal/search"
)

// rrfK matches the engine's fusion constant.
const rrfK = 60

// AugmentWithNodeStore late-fuses graph-node hits into an enriched
// result list for conceptual queries. Callers gate on: profile enables
// augmentation, strategy is not Direct, query classified conceptual,
// and the node store's fingerprint is fresh. Graph-only hits are
// appended after assembly through the same strategy; scores are
// recomputed from the fused RRF scores and normalized to [0,1].
func (a *Assembler) AugmentWithNodeStore(ctx context.Context, enriched []*Enriched, store *graph.GraphNodeStore, model *embed.Model, query string, strategy Strategy, hitWeight float64) []*Enriched {
	if a.graph == nil || store == nil || len(store.Records) == 0 {
		return enriched
	}
	if hitWeight <= 0 {
		hitWeight = 0.5
	}

	rendered := model.RenderQuery(embed.QueryKindConceptual, query)
	vec, err := model.Embedder.Embed(ctx, rendered)
	if err != nil {
		// Augmentation is best-effort; the enriched list stands.
		return enriched
	}

	k := len(enriched)*2 + 5
	hits := store.Search(vec, k)
	if len(hits) == 0 {
		return enriched
	}

	// Rank list A: the semantic enriched order (weight 1). Rank list
	// B: graph-node hits mapped to chunk ids (weight hitWeight).
	scores := make(map[string]float64, len(enriched)+len(hits))
	byID := make(map[string]*Enriched, len(enriched))
	for rank, en := range enriched {
		scores[en.Primary.ID] += 1.0 / float64(rrfK+rank+1)
		byID[en.Primary.ID] = en
	}

	graphRank := 0
	for _, h := range hits {
		idx, ok := a.graph.NodeByID(h.NodeID)
		if !ok {
			continue
		}
		chunkID := a.graph.Nodes[idx].ChunkID
		ch, ok := a.corpus.Get(chunkID)
		if !ok {
			continue
		}
		scores[chunkID] += hitWeight / float64(rrfK+graphRank+1)
		graphRank++

		if _, present := byID[chunkID]; !present {
			asm := a.AssembleForChunk(chunkID, strategy)
			en := &Enriched{
				Primary:  &search.Result{Chunk: ch, ID: chunkID},
				Related:  asm.Related,
				Strategy: strategy,
			}
			byID[chunkID] = en
			enriched = append(enriched, en)
		}
	}

	// Normalize fused scores into [0,1] and reorder.
	maxScore := 0.0
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}
	for id, en := range byID {
		if maxScore > 0 {
			en.Primary.Score = scores[id] / maxScore
		}
	}
	sort.Slice(enriched, func(i, j int) bool {
		if enriched[i].Primary.Score != enriched[j].Primary.Score {
			return enriched[i].Primary.Score > enriched[j].Primary.Score
		}
		return enriched[i].Primary.ID < enriched[j].Primary.ID
	})
	return enriched
}
