// Package assemble enriches search results with related code pulled
// from the code graph: for a primary chunk, a strategy-bounded BFS
// collects neighbors with their relationship path, distance, and a
// distance-decayed relevance score.
package assemble

import (
	"sort"

	"github.com/AmirTlinov/context-finder-mcp/internal/chunk"
	"github.com/AmirTlinov/context-finder-mcp/internal/graph"
	"github.com/AmirTlinov/context-finder-mcp/internal/search"
)

// Strategy controls BFS depth and which edge kinds are traversed.
type Strategy struct {
	// Name is "direct", "extended", "deep", or "custom".
	Name string

	// MaxDistance bounds BFS depth.
	MaxDistance int

	// Kinds are the edge kinds traversed; empty means all kinds.
	Kinds []graph.RelationshipType

	// MaxFanout caps neighbors expanded per node (0 = unlimited).
	MaxFanout int
}

// Direct traverses one hop over contains and calls edges only.
func Direct() Strategy {
	return Strategy{
		Name:        "direct",
		MaxDistance: 1,
		Kinds:       []graph.RelationshipType{graph.RelContains, graph.RelCalls},
	}
}

// Extended traverses two hops and adds import edges.
func Extended() Strategy {
	return Strategy{
		Name:        "extended",
		MaxDistance: 2,
		Kinds:       []graph.RelationshipType{graph.RelContains, graph.RelCalls, graph.RelImports},
	}
}

// Deep traverses three hops over every edge kind with bounded fanout.
func Deep() Strategy {
	return Strategy{Name: "deep", MaxDistance: 3, MaxFanout: 8}
}

// Custom traverses n hops over every edge kind with Deep's fanout cap.
func Custom(n int) Strategy {
	if n < 1 {
		n = 1
	}
	return Strategy{Name: "custom", MaxDistance: n, MaxFanout: 8}
}

// StrategyByName resolves a strategy name; unknown names get Direct.
func StrategyByName(name string) Strategy {
	switch name {
	case "extended":
		return Extended()
	case "deep":
		return Deep()
	default:
		return Direct()
	}
}

func (s Strategy) allows(kind graph.RelationshipType) bool {
	if len(s.Kinds) == 0 {
		return true
	}
	for _, k := range s.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// RelatedContext is one related chunk discovered by BFS.
type RelatedContext struct {
	Chunk            *chunk.CodeChunk
	RelationshipPath []string
	Distance         int
	RelevanceScore   float64
}

// Assembled is the result of enriching one primary chunk.
type Assembled struct {
	Related    []RelatedContext
	TotalLines int
}

// Enriched pairs a primary search result with its related context.
type Enriched struct {
	Primary  *search.Result
	Related  []RelatedContext
	Strategy Strategy
}

// crossFilePenalty discounts Direct-strategy hops that leave the
// primary's file; one-hop context is most useful when it is local.
const crossFilePenalty = 0.7

// Assembler walks the code graph for a corpus. A nil graph (build
// failure, unsupported language) yields empty related context; search
// results still flow.
type Assembler struct {
	graph  *graph.CodeGraph
	corpus *chunk.ChunkCorpus
}

// New creates an assembler. g may be nil.
func New(g *graph.CodeGraph, corpus *chunk.ChunkCorpus) *Assembler {
	return &Assembler{graph: g, corpus: corpus}
}

// Graph returns the underlying graph, nil when assembly is disabled.
func (a *Assembler) Graph() *graph.CodeGraph { return a.graph }

// AssembleForChunk BFS-walks from the node owning chunkID and returns
// one related-chunk record per visited node, ordered by (relevance
// desc, chunk id asc).
func (a *Assembler) AssembleForChunk(chunkID string, strategy Strategy) Assembled {
	if a.graph == nil {
		return Assembled{}
	}
	start, ok := a.graph.NodeByChunkID(chunkID)
	if !ok {
		return Assembled{}
	}
	startFile := a.graph.Nodes[start].File

	type queued struct {
		idx      int
		distance int
		path     []string
	}
	visited := map[int]bool{start: true}
	queue := []queued{{idx: start}}
	var related []RelatedContext
	totalLines := 0

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.distance >= strategy.MaxDistance {
			continue
		}

		expanded := 0
		for _, ei := range a.graph.Outgoing(cur.idx) {
			e := a.graph.Edges[ei]
			if !strategy.allows(e.Kind) || visited[e.To] {
				continue
			}
			if strategy.MaxFanout > 0 && expanded >= strategy.MaxFanout {
				break
			}
			visited[e.To] = true
			expanded++

			node := a.graph.Nodes[e.To]
			path := append(append([]string{}, cur.path...), string(e.Kind))
			distance := cur.distance + 1

			if ch, ok := a.corpus.Get(node.ChunkID); ok {
				score := 1.0 / float64(1+distance)
				if strategy.Name == "direct" && node.File != startFile {
					score *= crossFilePenalty
				}
				related = append(related, RelatedContext{
					Chunk:            ch,
					RelationshipPath: path,
					Distance:         distance,
					RelevanceScore:   score,
				})
				totalLines += ch.LineCount()
			}
			queue = append(queue, queued{idx: e.To, distance: distance, path: path})
		}
	}

	sort.Slice(related, func(i, j int) bool {
		if related[i].RelevanceScore != related[j].RelevanceScore {
			return related[i].RelevanceScore > related[j].RelevanceScore
		}
		return related[i].Chunk.ID() < related[j].Chunk.ID()
	})
	return Assembled{Related: related, TotalLines: totalLines}
}

// Enrich assembles related context for each primary result.
func (a *Assembler) Enrich(results []*search.Result, strategy Strategy) []*Enriched {
	out := make([]*Enriched, 0, len(results))
	for _, r := range results {
		asm := a.AssembleForChunk(r.ID, strategy)
		out = append(out, &Enriched{Primary: r, Related: asm.Related, Strategy: strategy})
	}
	return out
}
