package graph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AmirTlinov/context-finder-mcp/internal/chunk"
	"github.com/AmirTlinov/context-finder-mcp/internal/embed"
	"github.com/AmirTlinov/context-finder-mcp/internal/persist"
)

func goChunks() []*chunk.CodeChunk {
	return []*chunk.CodeChunk{
		{
			FilePath: "svc/server.go", StartLine: 1, EndLine: 20,
			Content:  "func NewServer() *Server {\n\tcfg := loadConfig()\n\treturn &Server{cfg: cfg}\n}",
			Metadata: chunk.Metadata{SymbolName: "NewServer", ChunkType: chunk.ChunkTypeFunction},
		},
		{
			FilePath: "svc/config.go", StartLine: 1, EndLine: 15,
			Content:  "func loadConfig() *Config { return &Config{} }",
			Metadata: chunk.Metadata{SymbolName: "loadConfig", ChunkType: chunk.ChunkTypeFunction},
		},
		{
			FilePath: "svc/server.go", StartLine: 21, EndLine: 40,
			Content:  "func (s *Server) Run() error { return nil }",
			Metadata: chunk.Metadata{SymbolName: "Run", ChunkType: chunk.ChunkTypeMethod, ParentScope: "Server"},
		},
		{
			FilePath: "svc/server.go", StartLine: 41, EndLine: 60,
			Content:  "type Server struct{}",
			Metadata: chunk.Metadata{SymbolName: "Server", ChunkType: chunk.ChunkTypeStruct},
		},
	}
}

func TestGoBuilder_CallAndContainsEdges(t *testing.T) {
	cg, err := BuilderFor("go").Build(goChunks())
	require.NoError(t, err)
	require.Equal(t, 4, cg.NodeCount())

	newServer, ok := cg.NodeByID("svc/server.go#NewServer")
	require.True(t, ok)
	loadCfg, ok := cg.NodeByID("svc/config.go#loadConfig")
	require.True(t, ok)

	foundCall := false
	for _, ei := range cg.Outgoing(newServer) {
		e := cg.Edges[ei]
		if e.To == loadCfg && e.Kind == RelCalls {
			foundCall = true
		}
	}
	assert.True(t, foundCall, "NewServer should call loadConfig")

	// Server contains Run.
	server, ok := cg.NodeByID("svc/server.go#Server")
	require.True(t, ok)
	run, ok := cg.NodeByID("svc/server.go#Run")
	require.True(t, ok)
	foundContains := false
	for _, ei := range cg.Outgoing(server) {
		if e := cg.Edges[ei]; e.To == run && e.Kind == RelContains {
			foundContains = true
		}
	}
	assert.True(t, foundContains)
}

func TestNodeByChunkID(t *testing.T) {
	cg, err := BuilderFor("go").Build(goChunks())
	require.NoError(t, err)
	idx, ok := cg.NodeByChunkID("svc/config.go:1:15")
	require.True(t, ok)
	assert.Equal(t, "loadConfig", cg.Nodes[idx].Symbol)
}

func TestBuilderFor_UnknownLanguageIsGeneric(t *testing.T) {
	cg, err := BuilderFor("cobol").Build(goChunks())
	require.NoError(t, err)
	assert.Equal(t, 4, cg.NodeCount())
	assert.Equal(t, 0, cg.EdgeCount())
}

func TestMarkdownBuilder_LinkEdges(t *testing.T) {
	chunks := []*chunk.CodeChunk{
		{
			FilePath: "README.md", StartLine: 1, EndLine: 5,
			Content: "# Overview\nSee [the guide](docs/guide.md) for details.",
		},
		{
			FilePath: "docs/guide.md", StartLine: 1, EndLine: 8,
			Content: "# Guide\nInstructions here.",
		},
	}
	cg, err := BuilderFor("markdown").Build(chunks)
	require.NoError(t, err)
	require.Equal(t, 2, cg.NodeCount())
	require.Equal(t, 1, cg.EdgeCount())
	assert.Equal(t, RelReferences, cg.Edges[0].Kind)
}

func TestGraphSaveLoad_FingerprintGate(t *testing.T) {
	cg, err := BuilderFor("go").Build(goChunks())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "graph.cache")
	meta := persist.GraphMeta{SourceIndexMtimeMS: 100, GraphLanguage: "go", GraphDocVersion: DocVersion, TemplateHash: "t"}
	require.NoError(t, cg.Save(path, meta))

	loaded, ok, err := LoadCodeGraph(path, meta)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cg.NodeCount(), loaded.NodeCount())
	assert.Equal(t, cg.EdgeCount(), loaded.EdgeCount())
	_, found := loaded.NodeByChunkID("svc/config.go:1:15")
	assert.True(t, found)

	// Any fingerprint mismatch refuses the cache.
	stale := meta
	stale.SourceIndexMtimeMS = 101
	_, ok, err = LoadCodeGraph(path, stale)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNodeStore_BuildSearchRoundTrip(t *testing.T) {
	cg, err := BuilderFor("go").Build(goChunks())
	require.NoError(t, err)

	model := &embed.Model{
		Info:     embed.ModelInfo{ID: "static:fnv-shingle-256", Dimensions: embed.StaticDimensions},
		Embedder: embed.NewStaticEmbedder(),
	}
	meta := persist.GraphMeta{SourceIndexMtimeMS: 1, GraphLanguage: "go", GraphDocVersion: DocVersion, TemplateHash: "t"}

	store, err := BuildNodeStore(context.Background(), cg, model, meta)
	require.NoError(t, err)
	require.Len(t, store.Records, cg.NodeCount())
	assert.True(t, store.Fresh(meta))
	assert.False(t, store.Fresh(persist.GraphMeta{GraphLanguage: "py"}))

	vec, err := model.Embedder.Embed(context.Background(), "loadConfig config loading")
	require.NoError(t, err)
	hits := store.Search(vec, 2)
	require.Len(t, hits, 2)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)

	path := filepath.Join(t.TempDir(), "graph_nodes.json")
	require.NoError(t, store.Save(path))
	loaded, err := LoadNodeStore(path)
	require.NoError(t, err)
	assert.Equal(t, len(store.Records), len(loaded.Records))
	assert.Equal(t, store.ModelID, loaded.ModelID)
}

func TestRenderer_CachesAndDescribesEdges(t *testing.T) {
	cg, err := BuilderFor("go").Build(goChunks())
	require.NoError(t, err)
	r, err := NewRenderer()
	require.NoError(t, err)

	idx, ok := cg.NodeByID("svc/server.go#NewServer")
	require.True(t, ok)
	text := r.Render(cg, idx)
	assert.Contains(t, text, "NewServer")
	assert.Contains(t, text, "calls")
	assert.Equal(t, text, r.Render(cg, idx))
}
