package graph

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/maypok86/otter"

	"github.com/AmirTlinov/context-finder-mcp/internal/embed"
	"github.com/AmirTlinov/context-finder-mcp/internal/persist"
)

// renderCacheWeight bounds the rendered-node text cache (~8MB).
const renderCacheWeight = 8 * 1024 * 1024

// NodeRecord is one graph node's textual rendering plus its embedding
// under the conceptual query template.
type NodeRecord struct {
	NodeID string    `json:"node_id"`
	Text   string    `json:"text"`
	Vector []float32 `json:"vector"`
}

// NodeHit is a nearest-neighbor hit against the node store.
type NodeHit struct {
	NodeID string
	Score  float64 // cosine similarity
}

// GraphNodeStore holds per-node embeddings used as a late-fusion signal
// for conceptual queries. It is persisted next to the vector index with
// a freshness fingerprint; a stale store is rebuilt, never patched.
type GraphNodeStore struct {
	Meta    persist.GraphMeta `json:"meta"`
	ModelID string            `json:"model_id"`
	Records []NodeRecord      `json:"records"`

	byID map[string]int
}

// Renderer turns graph nodes into embeddable text, memoizing renders in
// a weight-bounded cache since map/onboarding packers re-render the
// same hot nodes repeatedly.
type Renderer struct {
	cache otter.Cache[string, string]
}

// NewRenderer creates a renderer with the default cache bound.
func NewRenderer() (*Renderer, error) {
	cache, err := otter.MustBuilder[string, string](renderCacheWeight).
		Cost(func(key, value string) uint32 { return uint32(len(value)) }).
		Build()
	if err != nil {
		return nil, fmt.Errorf("create render cache: %w", err)
	}
	return &Renderer{cache: cache}, nil
}

// Render produces the embeddable rendering for the node at idx: symbol,
// kind, file, and the symbols it touches, one compact line each.
func (r *Renderer) Render(cg *CodeGraph, idx int) string {
	node := cg.Nodes[idx]
	key := cg.Language + "\x00" + node.ID
	if cached, ok := r.cache.Get(key); ok {
		return cached
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s in %s\n", nonEmpty(string(node.Kind), "symbol"), node.Symbol, node.File)
	var calls, imports, contains []string
	for _, ei := range cg.Outgoing(idx) {
		e := cg.Edges[ei]
		target := cg.Nodes[e.To].Symbol
		switch e.Kind {
		case RelCalls:
			calls = append(calls, target)
		case RelImports:
			imports = append(imports, target)
		case RelContains:
			contains = append(contains, target)
		}
	}
	appendRefLine(&b, "calls", calls)
	appendRefLine(&b, "imports", imports)
	appendRefLine(&b, "contains", contains)

	text := b.String()
	r.cache.Set(key, text)
	return text
}

func appendRefLine(b *strings.Builder, label string, symbols []string) {
	if len(symbols) == 0 {
		return
	}
	sort.Strings(symbols)
	if len(symbols) > 12 {
		symbols = symbols[:12]
	}
	fmt.Fprintf(b, "%s %s\n", label, strings.Join(symbols, " "))
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// BuildNodeStore renders and embeds every node of cg with the model's
// conceptual template.
func BuildNodeStore(ctx context.Context, cg *CodeGraph, model *embed.Model, meta persist.GraphMeta) (*GraphNodeStore, error) {
	renderer, err := NewRenderer()
	if err != nil {
		return nil, err
	}

	texts := make([]string, cg.NodeCount())
	for i := range cg.Nodes {
		texts[i] = model.RenderQuery(embed.QueryKindConceptual, renderer.Render(cg, i))
	}

	store := &GraphNodeStore{Meta: meta, ModelID: model.Info.ID}
	if len(texts) == 0 {
		store.byID = map[string]int{}
		return store, nil
	}

	vectors, err := model.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed graph nodes: %w", err)
	}
	store.Records = make([]NodeRecord, len(vectors))
	store.byID = make(map[string]int, len(vectors))
	for i, vec := range vectors {
		store.Records[i] = NodeRecord{NodeID: cg.Nodes[i].ID, Text: texts[i], Vector: vec}
		store.byID[cg.Nodes[i].ID] = i
	}
	return store, nil
}

// Search returns the top-k records by cosine similarity to query.
// The store is small (one record per symbol) so brute force is fine.
func (s *GraphNodeStore) Search(query []float32, k int) []NodeHit {
	if k <= 0 || len(s.Records) == 0 {
		return nil
	}
	hits := make([]NodeHit, 0, len(s.Records))
	for i := range s.Records {
		hits = append(hits, NodeHit{NodeID: s.Records[i].NodeID, Score: cosine(query, s.Records[i].Vector)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].NodeID < hits[j].NodeID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Fresh reports whether the store may serve a caller expecting meta.
func (s *GraphNodeStore) Fresh(meta persist.GraphMeta) bool {
	return s.Meta.Matches(meta)
}

// Save persists the store atomically.
func (s *GraphNodeStore) Save(path string) error {
	return persist.WriteJSONAtomic(path, s)
}

// LoadNodeStore reads a persisted store.
func LoadNodeStore(path string) (*GraphNodeStore, error) {
	var s GraphNodeStore
	if err := persist.ReadJSON(path, &s); err != nil {
		return nil, err
	}
	s.byID = make(map[string]int, len(s.Records))
	for i := range s.Records {
		s.byID[s.Records[i].NodeID] = i
	}
	return &s, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Save persists a code graph (arena form) with its meta fingerprint.
func (cg *CodeGraph) Save(path string, meta persist.GraphMeta) error {
	return persist.WriteJSONAtomic(path, struct {
		Meta  persist.GraphMeta `json:"meta"`
		Graph *CodeGraph        `json:"graph"`
	}{Meta: meta, Graph: cg})
}

// LoadCodeGraph reads a persisted graph if its fingerprint matches
// want; a mismatch returns (nil, false, nil) and the caller rebuilds.
func LoadCodeGraph(path string, want persist.GraphMeta) (*CodeGraph, bool, error) {
	var wrapper struct {
		Meta  persist.GraphMeta `json:"meta"`
		Graph *CodeGraph        `json:"graph"`
	}
	if err := persist.ReadJSON(path, &wrapper); err != nil {
		return nil, false, err
	}
	if !wrapper.Meta.Matches(want) || wrapper.Graph == nil {
		return nil, false, nil
	}
	wrapper.Graph.rebuildIndexes()
	return wrapper.Graph, true, nil
}
