package pack

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AmirTlinov/context-finder-mcp/internal/chunk"
)

func mapCorpus(t *testing.T) *chunk.ChunkCorpus {
	t.Helper()
	corpus := chunk.NewChunkCorpus()
	add := func(path string, n int) {
		for i := 0; i < n; i++ {
			corpus.Put(&chunk.CodeChunk{
				FilePath:  path,
				StartLine: i*10 + 1,
				EndLine:   i*10 + 9,
				Content:   "x",
				Metadata:  chunk.Metadata{SymbolName: "Sym"},
			})
		}
	}
	add("internal/search/engine.go", 4)
	add("internal/search/fusion.go", 2)
	add("internal/store/index.go", 3)
	add("README.md", 1)
	return corpus
}

func TestBuildMap_AggregatesByDepth(t *testing.T) {
	view := BuildMap(mapCorpus(t), 2, 0)
	byDir := map[string]MapEntry{}
	for _, e := range view.Entries {
		byDir[e.Dir] = e
	}

	require.Contains(t, byDir, "internal/search")
	assert.Equal(t, 2, byDir["internal/search"].Files)
	assert.Equal(t, 6, byDir["internal/search"].Chunks)
	require.Contains(t, byDir, "internal/store")
	require.Contains(t, byDir, ".")
	assert.NotEmpty(t, byDir["internal/search"].TopSymbols)

	// Ordered by chunk count desc.
	assert.Equal(t, "internal/search", view.Entries[0].Dir)
}

func TestBuildMap_BudgetDropsTail(t *testing.T) {
	view := BuildMap(mapCorpus(t), 2, 40)
	assert.True(t, view.Budget.Truncated)
	assert.Positive(t, view.Budget.DroppedItems)
	assert.LessOrEqual(t, view.Budget.UsedChars, 40)
}

func TestParseWorktreePorcelain(t *testing.T) {
	text := strings.Join([]string{
		"worktree /repo",
		"HEAD 1111111111111111111111111111111111111111",
		"branch refs/heads/main",
		"",
		"worktree /repo-wt/feature",
		"HEAD 2222222222222222222222222222222222222222",
		"branch refs/heads/feature-x",
		"",
	}, "\n")

	wts := parseWorktreePorcelain(text)
	require.Len(t, wts, 2)
	assert.Equal(t, "/repo", wts[0].Path)
	assert.Equal(t, "main", wts[0].Branch)
	assert.Equal(t, "feature-x", wts[1].Branch)
	assert.Equal(t, "2222222222222222222222222222222222222222", wts[1].Head)
}

func TestBuildOnboarding_FullFit(t *testing.T) {
	in := OnboardingInput{
		Facts:   map[string][]string{"ecosystems": {"go"}, "build_tools": {"make"}},
		Anchors: []AnchorSnippet{{File: "README.md", StartLine: 1, EndLine: 5, Content: "intro"}},
		Map:     BuildMap(mapCorpus(t), 2, 0),
	}
	view := BuildOnboarding(in, 100000)
	assert.False(t, view.Budget.Truncated)
	assert.NotNil(t, view.Map)
	assert.Len(t, view.Anchors, 1)
}

func TestBuildOnboarding_TightBudgetFallsBackToSingleAnchor(t *testing.T) {
	in := OnboardingInput{
		Facts: map[string][]string{"ecosystems": {"go", "nodejs"}, "key_configs": {"Makefile", "Dockerfile"}},
		Anchors: []AnchorSnippet{
			{File: "AGENTS.md", Content: strings.Repeat("a", 120)},
			{File: "README.md", Content: strings.Repeat("r", 120)},
		},
		Map: BuildMap(mapCorpus(t), 2, 0),
	}
	view := BuildOnboarding(in, 160)

	assert.True(t, view.Budget.Truncated)
	assert.Nil(t, view.Map)
	require.Len(t, view.Anchors, 1)
	assert.Equal(t, "AGENTS.md", view.Anchors[0].File)
	assert.LessOrEqual(t, view.Budget.UsedChars, 160)
}
