// Package graph builds and queries the per-language code graph: symbol
// nodes connected by calls/imports/contains edges, inferred from chunk
// metadata and lightweight reference scanning (no AST parsing; the
// chunker's metadata is the ground truth for symbols).
package graph

import (
	"fmt"
	"sort"

	dgraph "github.com/dominikbraun/graph"

	"github.com/AmirTlinov/context-finder-mcp/internal/chunk"
)

// DocVersion is the graph document version persisted with node stores
// and assembler caches. Bump it when node rendering or edge inference
// changes shape.
const DocVersion = 2

// RelationshipType labels a graph edge.
type RelationshipType string

const (
	RelCalls      RelationshipType = "calls"
	RelImports    RelationshipType = "imports"
	RelContains   RelationshipType = "contains"
	RelImplements RelationshipType = "implements"
	RelReferences RelationshipType = "references"
)

// Node is one symbol in the code graph.
type Node struct {
	ID        string          `json:"id"` // "<file>#<qualified symbol>"
	Symbol    string          `json:"symbol"`
	Kind      chunk.ChunkType `json:"kind"`
	File      string          `json:"file"`
	StartLine int             `json:"start_line"`
	EndLine   int             `json:"end_line"`
	ChunkID   string          `json:"chunk_id"`
}

// Edge connects two nodes by arena index.
type Edge struct {
	From int              `json:"from"`
	To   int              `json:"to"`
	Kind RelationshipType `json:"kind"`
}

// CodeGraph is a directed multigraph over symbol nodes. Structure is
// held by a dominikbraun/graph instance (vertices keyed by symbol id;
// parallel relationship kinds merged into each edge's data); builders
// write into it and finalize derives the persisted arena form (Nodes +
// index Edges) and the BFS adjacency lists from its AdjacencyMap, in
// deterministic (from, to, kind) order.
type CodeGraph struct {
	Language string `json:"language"`
	Nodes    []Node `json:"nodes"`
	Edges    []Edge `json:"edges"`

	byID      map[string]int // node id -> arena index
	byChunkID map[string]int // chunk id -> arena index
	out       map[int][]int  // node idx -> edge indices (outgoing)
	in        map[int][]int  // node idx -> edge indices (incoming)

	g dgraph.Graph[string, *Node]
}

// NodeCount returns the number of nodes.
func (cg *CodeGraph) NodeCount() int { return len(cg.Nodes) }

// EdgeCount returns the number of (kind-expanded) edges.
func (cg *CodeGraph) EdgeCount() int { return len(cg.Edges) }

// NodeByChunkID resolves the node whose span owns a chunk id.
func (cg *CodeGraph) NodeByChunkID(chunkID string) (int, bool) {
	idx, ok := cg.byChunkID[chunkID]
	return idx, ok
}

// NodeByID resolves a node by its symbol id.
func (cg *CodeGraph) NodeByID(id string) (int, bool) {
	idx, ok := cg.byID[id]
	return idx, ok
}

// Outgoing returns the edge indices leaving node idx.
func (cg *CodeGraph) Outgoing(idx int) []int { return cg.out[idx] }

// Incoming returns the edge indices arriving at node idx.
func (cg *CodeGraph) Incoming(idx int) []int { return cg.in[idx] }

// addNode appends a node, deduping by id, and returns its index.
func (cg *CodeGraph) addNode(n Node) int {
	if idx, ok := cg.byID[n.ID]; ok {
		return idx
	}
	idx := len(cg.Nodes)
	cg.Nodes = append(cg.Nodes, n)
	cg.byID[n.ID] = idx
	if n.ChunkID != "" {
		cg.byChunkID[n.ChunkID] = idx
	}
	vertex := n
	_ = cg.g.AddVertex(&vertex)
	return idx
}

// addEdge records a relationship between arena indices in the graph
// instance. Self-edges are dropped; a second kind between the same
// pair merges into the existing edge's kind list instead of a parallel
// edge.
func (cg *CodeGraph) addEdge(from, to int, kind RelationshipType) {
	if from == to {
		return
	}
	fromID, toID := cg.Nodes[from].ID, cg.Nodes[to].ID
	if err := cg.g.AddEdge(fromID, toID, dgraph.EdgeData([]RelationshipType{kind})); err == nil {
		return
	}
	existing, err := cg.g.Edge(fromID, toID)
	if err != nil {
		return
	}
	kinds, _ := existing.Properties.Data.([]RelationshipType)
	for _, k := range kinds {
		if k == kind {
			return
		}
	}
	_ = cg.g.UpdateEdge(fromID, toID, dgraph.EdgeData(append(kinds, kind)))
}

// finalize derives the arena edge list and the BFS adjacency lists
// from the graph's AdjacencyMap. Iteration over the map is
// nondeterministic, so endpoints and kinds are sorted; edge order is
// (from id, to id, kind) and feeds result determinism downstream.
func (cg *CodeGraph) finalize() {
	cg.Edges = nil
	cg.out = make(map[int][]int)
	cg.in = make(map[int][]int)

	adj, err := cg.g.AdjacencyMap()
	if err != nil {
		return
	}
	froms := make([]string, 0, len(adj))
	for from := range adj {
		froms = append(froms, from)
	}
	sort.Strings(froms)

	for _, fromID := range froms {
		fromIdx, ok := cg.byID[fromID]
		if !ok {
			continue
		}
		tos := make([]string, 0, len(adj[fromID]))
		for to := range adj[fromID] {
			tos = append(tos, to)
		}
		sort.Strings(tos)

		for _, toID := range tos {
			toIdx, ok := cg.byID[toID]
			if !ok {
				continue
			}
			kinds, _ := adj[fromID][toID].Properties.Data.([]RelationshipType)
			sorted := make([]string, len(kinds))
			for i, k := range kinds {
				sorted[i] = string(k)
			}
			sort.Strings(sorted)
			for _, k := range sorted {
				ei := len(cg.Edges)
				cg.Edges = append(cg.Edges, Edge{From: fromIdx, To: toIdx, Kind: RelationshipType(k)})
				cg.out[fromIdx] = append(cg.out[fromIdx], ei)
				cg.in[toIdx] = append(cg.in[toIdx], ei)
			}
		}
	}
}

// rebuildIndexes reconstructs the graph instance and derived state
// after loading the persisted (arena-only) form.
func (cg *CodeGraph) rebuildIndexes() {
	cg.byID = make(map[string]int, len(cg.Nodes))
	cg.byChunkID = make(map[string]int, len(cg.Nodes))
	cg.g = dgraph.New(nodeHash, dgraph.Directed())
	for i := range cg.Nodes {
		cg.byID[cg.Nodes[i].ID] = i
		if cid := cg.Nodes[i].ChunkID; cid != "" {
			cg.byChunkID[cid] = i
		}
		vertex := cg.Nodes[i]
		_ = cg.g.AddVertex(&vertex)
	}
	persisted := cg.Edges
	for _, e := range persisted {
		if e.From < 0 || e.From >= len(cg.Nodes) || e.To < 0 || e.To >= len(cg.Nodes) {
			continue
		}
		cg.addEdge(e.From, e.To, e.Kind)
	}
	cg.finalize()
}

func nodeHash(n *Node) string { return n.ID }

// newCodeGraph creates an empty graph for a language.
func newCodeGraph(language string) *CodeGraph {
	cg := &CodeGraph{Language: language}
	cg.byID = make(map[string]int)
	cg.byChunkID = make(map[string]int)
	cg.out = make(map[int][]int)
	cg.in = make(map[int][]int)
	cg.g = dgraph.New(nodeHash, dgraph.Directed())
	return cg
}

// nodeID builds the canonical symbol id for a chunk's symbol.
func nodeID(ch *chunk.CodeChunk) string {
	name := ch.Metadata.QualifiedName
	if name == "" {
		name = ch.Metadata.SymbolName
	}
	return fmt.Sprintf("%s#%s", ch.FilePath, name)
}
