package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AmirTlinov/context-finder-mcp/internal/chunk"
	"github.com/AmirTlinov/context-finder-mcp/internal/embed"
	"github.com/AmirTlinov/context-finder-mcp/internal/store"
)

// fakeIndex is a deterministic VectorIndex that returns a fixed ranking
// regardless of the query vector.
type fakeIndex struct {
	modelID string
	ranking []string
}

func (f *fakeIndex) Add([]string, [][]float32) error { return nil }
func (f *fakeIndex) Delete([]string) error           { return nil }
func (f *fakeIndex) ChunkIDs() []string              { return f.ranking }
func (f *fakeIndex) Contains(id string) bool {
	for _, r := range f.ranking {
		if r == id {
			return true
		}
	}
	return false
}
func (f *fakeIndex) Count() int         { return len(f.ranking) }
func (f *fakeIndex) Dimension() int     { return embed.StaticDimensions }
func (f *fakeIndex) ModelID() string    { return f.modelID }
func (f *fakeIndex) Save(string) error  { return nil }
func (f *fakeIndex) Load(string) error  { return nil }
func (f *fakeIndex) Close() error       { return nil }
func (f *fakeIndex) Search(_ []float32, k int) ([]*store.VectorResult, error) {
	n := k
	if n > len(f.ranking) {
		n = len(f.ranking)
	}
	out := make([]*store.VectorResult, n)
	for i := 0; i < n; i++ {
		out[i] = &store.VectorResult{ID: f.ranking[i], Score: float32(0.9) - float32(i)*0.05}
	}
	return out, nil
}

// failingEmbedder always errors, standing in for a missing model.
type failingEmbedder struct{ embed.Embedder }

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("unknown embedding model \"missing:model\"")
}
func (failingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("unknown embedding model \"missing:model\"")
}
func (failingEmbedder) Dimensions() int { return embed.StaticDimensions }

func engineCorpus(t *testing.T) *chunk.ChunkCorpus {
	t.Helper()
	corpus := chunk.NewChunkCorpus()
	add := func(path string, start, end int, symbol, content string) {
		corpus.Put(&chunk.CodeChunk{
			FilePath:  path,
			StartLine: start,
			EndLine:   end,
			Content:   content,
			Metadata:  chunk.Metadata{SymbolName: symbol},
		})
	}
	add("crates/vector-store/src/corpus.rs", 1, 40, "Corpus", "pub struct Corpus {}")
	add("crates/vector-store/src/corpus.rs", 41, 90, "insert", "fn insert() {}")
	add("crates/cli/Cargo.toml", 1, 12, "", "[package]")
	add("a.rs", 1, 5, "locate_context_finder_mcp_bin", "fn locate_context_finder_mcp_bin() {}")
	add("b.rs", 1, 5, "beta_helper", "fn beta_helper() {}")
	return corpus
}

func stubRegistry() *embed.Registry {
	r := embed.NewRegistry()
	r.Register(embed.ModelInfo{
		ID:             "static:fnv-shingle-256",
		Dimensions:     embed.StaticDimensions,
		QueryTemplates: embed.DefaultQueryTemplates(),
	}, embed.NewStaticEmbedder())
	return r
}

func TestSearch_DirectFilePath(t *testing.T) {
	corpus := engineCorpus(t)
	e := New(corpus, nil, stubRegistry(), QualityProfile(), nil)

	res, err := e.Search(context.Background(), "crates/vector-store/src/corpus.rs", 10)
	require.NoError(t, err)
	require.Len(t, res, 2)
	for _, r := range res {
		assert.Equal(t, "crates/vector-store/src/corpus.rs", r.Chunk.FilePath)
	}
	assert.InDelta(t, 1.0, res[0].Score, 1e-6)
	assert.Equal(t, 1, res[0].Chunk.StartLine)
}

func TestSearch_DirectSymbolWithClarification(t *testing.T) {
	e := New(engineCorpus(t), nil, stubRegistry(), QualityProfile(), nil)

	res, err := e.Search(context.Background(), "locate_context_finder_mcp_bin drift validation", 10)
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, "a.rs:1:5", res[0].ID)
}

func TestSearch_EmptyQuery(t *testing.T) {
	e := New(engineCorpus(t), nil, stubRegistry(), QualityProfile(), nil)
	_, err := e.Search(context.Background(), "   ", 10)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearch_SemanticDegradation(t *testing.T) {
	corpus := engineCorpus(t)
	reg := embed.NewRegistry()
	reg.Register(embed.ModelInfo{ID: "missing:model", Dimensions: embed.StaticDimensions}, failingEmbedder{})
	indices := map[string]store.VectorIndex{
		"missing:model": &fakeIndex{modelID: "missing:model", ranking: corpus.AllIDs()},
	}
	e := New(corpus, indices, reg, QualityProfile(), nil)

	assert.Empty(t, e.SemanticDisabledReason())

	res, err := e.Search(context.Background(), "alpha", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, e.SemanticDisabledReason())
	assert.Contains(t, e.SemanticDisabledReason(), "unknown embedding model")
	_ = res

	// Fuzzy-only search still answers; no EmbeddingError surfaces.
	res, err = e.Search(context.Background(), "beta", 3)
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, "b.rs", res[0].Chunk.FilePath)
}

func TestSearch_ReloadReenablesSemantic(t *testing.T) {
	corpus := engineCorpus(t)
	reg := embed.NewRegistry()
	reg.Register(embed.ModelInfo{ID: "missing:model", Dimensions: embed.StaticDimensions}, failingEmbedder{})
	indices := map[string]store.VectorIndex{
		"missing:model": &fakeIndex{modelID: "missing:model", ranking: corpus.AllIDs()},
	}
	e := New(corpus, indices, reg, QualityProfile(), nil)

	_, err := e.Search(context.Background(), "alpha", 3)
	require.NoError(t, err)
	require.NotEmpty(t, e.SemanticDisabledReason())

	e.ReloadIndices(indices)
	assert.Empty(t, e.SemanticDisabledReason())
}

func TestSearch_HybridOrderingInvariants(t *testing.T) {
	corpus := engineCorpus(t)
	reg := stubRegistry()
	indices := map[string]store.VectorIndex{
		"static:fnv-shingle-256": &fakeIndex{modelID: "static:fnv-shingle-256", ranking: corpus.AllIDs()},
	}
	e := New(corpus, indices, reg, QualityProfile(), nil)

	res, err := e.Search(context.Background(), "how does corpus insertion work", 4)
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.LessOrEqual(t, len(res), 4)

	seen := map[string]bool{}
	for i, r := range res {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
		assert.False(t, seen[r.ID], "duplicate id %s", r.ID)
		seen[r.ID] = true
		if i > 0 {
			prev := res[i-1]
			if prev.Score == r.Score {
				assert.Less(t, prev.ID, r.ID)
			} else {
				assert.Greater(t, prev.Score, r.Score)
			}
		}
	}
}

func TestSearch_Deterministic(t *testing.T) {
	corpus := engineCorpus(t)
	indices := map[string]store.VectorIndex{
		"static:fnv-shingle-256": &fakeIndex{modelID: "static:fnv-shingle-256", ranking: corpus.AllIDs()},
	}
	e := New(corpus, indices, stubRegistry(), QualityProfile(), nil)

	a, err := e.Search(context.Background(), "corpus insert helper", 5)
	require.NoError(t, err)
	b, err := e.Search(context.Background(), "corpus insert helper", 5)
	require.NoError(t, err)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].ID, b[i].ID)
		assert.Equal(t, a[i].Score, b[i].Score)
	}
}

func TestSearch_PathQueryMissingFileFallsThrough(t *testing.T) {
	e := New(engineCorpus(t), nil, stubRegistry(), QualityProfile(), nil)
	res, err := e.Search(context.Background(), "does/not/exist.zig", 5)
	require.NoError(t, err)
	// Falls through to the fuzzy pipeline; result set may be empty but
	// the call never errors.
	for _, r := range res {
		assert.NotNil(t, r.Chunk)
	}
}
