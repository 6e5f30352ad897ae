package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")

	require.NoError(t, WriteFileAtomic(path, []byte(`{"a":1}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteJSONAtomic_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.json")
	in := map[string]int{"chunks": 42}

	require.NoError(t, WriteJSONAtomic(path, in))

	var out map[string]int
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, in, out)
}

func TestReadJSON_MissingFile(t *testing.T) {
	var out map[string]int
	err := ReadJSON(filepath.Join(t.TempDir(), "nope.json"), &out)
	assert.True(t, os.IsNotExist(err))
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("/project/a")
	b := Fingerprint("/project/b")
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, Fingerprint("/project/a"))
}

func TestGraphMeta_Matches(t *testing.T) {
	m := GraphMeta{SourceIndexMtimeMS: 1, GraphLanguage: "go", GraphDocVersion: 2, TemplateHash: "abc"}
	assert.True(t, m.Matches(m))

	for _, other := range []GraphMeta{
		{SourceIndexMtimeMS: 2, GraphLanguage: "go", GraphDocVersion: 2, TemplateHash: "abc"},
		{SourceIndexMtimeMS: 1, GraphLanguage: "py", GraphDocVersion: 2, TemplateHash: "abc"},
		{SourceIndexMtimeMS: 1, GraphLanguage: "go", GraphDocVersion: 3, TemplateHash: "abc"},
		{SourceIndexMtimeMS: 1, GraphLanguage: "go", GraphDocVersion: 2, TemplateHash: "xyz"},
	} {
		assert.False(t, m.Matches(other))
	}
}

func TestStatePaths(t *testing.T) {
	root := "/p"
	assert.Equal(t, filepath.Join("/p", ".context-finder", "indexes", "m", "index.json"), IndexPath(root, "m"))
	assert.Equal(t, filepath.Join("/p", ".context-finder", "indexes", "m", "graph_nodes.json"), GraphNodesPath(root, "m"))
	assert.Equal(t, filepath.Join("/p", ".context-finder", "indexes", "m", "corpus.json"), CorpusPath(root, "m"))
	assert.Equal(t, filepath.Join("/p", ".context-finder", "graph.cache"), GraphCachePath(root))
}

func TestLock_TryLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	l1, err := NewLock(path)
	require.NoError(t, err)
	require.NoError(t, l1.Lock())
	defer func() { _ = l1.Unlock() }()

	l2, err := NewLock(path)
	require.NoError(t, err)
	ok, err := l2.TryLock()
	require.NoError(t, err)
	assert.False(t, ok)
}
