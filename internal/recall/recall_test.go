package recall

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AmirTlinov/context-finder-mcp/internal/chunk"
	"github.com/AmirTlinov/context-finder-mcp/internal/search"
)

func projectFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("go.mod", "module example.com/demo\n")
	write("Makefile", "test:\n\tgo test ./...\n\nbuild:\n\tgo build ./...\n")
	write("README.md", "# Demo\n\nRun `make test` to run the tests.\n")
	write("AGENTS.md", "# Agents\n\nUse make targets.\n")
	write("main.go", "package main\n\nfunc main() {}\n")
	write("pkg/auth/auth.go", "package auth\n\nfunc Login() {}\n")
	write("pkg/auth/auth_test.go", "package auth\n\nfunc TestLogin(t *testing.T) {}\n")
	write(".github/workflows/ci.yml", "name: ci\n")
	write("api/service.proto", "syntax = \"proto3\";\n")
	return root
}

func TestProbeFacts(t *testing.T) {
	f := ProbeFacts(projectFixture(t))
	assert.Contains(t, f.Ecosystems, "go")
	assert.Contains(t, f.BuildTools, "make")
	assert.Contains(t, f.CI, "github-actions")
	assert.Contains(t, f.Entrypoints, "main.go")
	assert.Contains(t, f.KeyConfigs, "go.mod")
	assert.Contains(t, f.Contracts, "api/service.proto")
	assert.LessOrEqual(t, len(f.Ecosystems), maxEcosystems)
	assert.LessOrEqual(t, len(f.KeyConfigs), maxKeyConfigs)
}

func TestParseQuestion_Directives(t *testing.T) {
	q := ParseQuestion("deep k:5 ctx:4 in:src how does auth work")
	assert.Equal(t, ModeDeep, q.Mode)
	assert.Equal(t, 5, q.SnippetLimit)
	assert.Equal(t, 4, q.ContextLines)
	assert.Equal(t, "src/", q.IncludePath)
	assert.Equal(t, "how does auth work", q.Text)

	q = ParseQuestion("fast lit: cargo test")
	assert.Equal(t, ModeFast, q.Mode)
	assert.Equal(t, "cargo test", q.Literal)

	q = ParseQuestion("index:5s what changed")
	assert.Equal(t, 5*time.Second, q.IndexWait)

	q = ParseQuestion("explain pkg/auth/auth.go:2")
	assert.Equal(t, "pkg/auth/auth.go", q.FileRef)
	assert.Equal(t, 2, q.FileRefLine)
}

func TestRun_FileReference(t *testing.T) {
	root := projectFixture(t)
	out := Run(context.Background(), Deps{Root: root}, []string{"explain pkg/auth/auth.go:3"}, 8000)
	require.Len(t, out.Answers, 1)
	assert.Equal(t, "file_ref", out.Answers[0].Source)
	require.NotEmpty(t, out.Answers[0].Snippets)
	assert.Equal(t, "pkg/auth/auth.go", out.Answers[0].Snippets[0].File)
	assert.Contains(t, out.Answers[0].Snippets[0].Content, "Login")
}

func TestRun_OpsIntentFindsMakefile(t *testing.T) {
	root := projectFixture(t)
	out := Run(context.Background(), Deps{Root: root}, []string{"how do I run the tests"}, 8000)
	require.Len(t, out.Answers, 1)
	assert.Equal(t, "ops", out.Answers[0].Source)
	require.NotEmpty(t, out.Answers[0].Snippets)
	// The allowlist grep surfaces a command file; rerank by token
	// overlap may put README's "run the tests" line ahead of the
	// Makefile rule, both are correct.
	files := map[string]bool{}
	foundTestCommand := false
	for _, sn := range out.Answers[0].Snippets {
		files[sn.File] = true
		if strings.Contains(sn.Content, "test") {
			foundTestCommand = true
		}
	}
	assert.True(t, foundTestCommand)
	assert.True(t, files["Makefile"] || files["README.md"] || files["AGENTS.md"])
}

func TestRun_SemanticPathWhenFresh(t *testing.T) {
	root := projectFixture(t)
	searchFn := func(_ context.Context, _ string, _ int) ([]*search.Result, error) {
		ch := &chunk.CodeChunk{FilePath: "pkg/auth/auth.go", StartLine: 3, EndLine: 3, Content: "func Login() {}"}
		return []*search.Result{{Chunk: ch, Score: 1, ID: ch.ID()}}, nil
	}
	out := Run(context.Background(), Deps{Root: root, Search: searchFn, SemanticFresh: true},
		[]string{"deep where is the login flow implemented"}, 8000)
	require.Len(t, out.Answers, 1)
	assert.Equal(t, "semantic", out.Answers[0].Source)
	require.NotEmpty(t, out.Answers[0].Snippets)
	assert.Equal(t, "pkg/auth/auth.go", out.Answers[0].Snippets[0].File)
}

func TestRun_PaginationVisitsEveryQuestionOnce(t *testing.T) {
	root := projectFixture(t)
	questions := []string{
		"how do I run the tests",
		"what are the entrypoints",
		"where are the configs",
		"what contracts exist",
	}

	var answered []string
	seen := map[string]bool{}
	remaining := questions
	for len(remaining) > 0 {
		out := Run(context.Background(), Deps{Root: root, SeenFiles: seen}, remaining, 2000)
		require.NotEmpty(t, out.Answers, "every call must answer at least one question")
		for _, a := range out.Answers {
			answered = append(answered, a.Question)
		}
		if len(out.RemainingQuestions) > 0 {
			assert.True(t, out.Budget.Truncated)
		}
		remaining = out.RemainingQuestions
	}
	assert.Equal(t, questions, answered)
}

func TestRun_CrossCallDedupe(t *testing.T) {
	root := projectFixture(t)
	seen := map[string]bool{}

	out1 := Run(context.Background(), Deps{Root: root, SeenFiles: seen}, []string{"how do I run the tests"}, 8000)
	require.NotEmpty(t, out1.Answers[0].Snippets)
	firstFiles := map[string]bool{}
	for _, sn := range out1.Answers[0].Snippets {
		firstFiles[sn.File] = true
		assert.True(t, seen[sn.File], "emitted files must be recorded in the session set")
	}

	// A keyword question with hits in several files prefers unseen ones.
	out2 := Run(context.Background(), Deps{Root: root, SeenFiles: seen}, []string{"where is testing mentioned"}, 8000)
	require.Len(t, out2.Answers, 1)
}

func TestRun_BudgetCeiling(t *testing.T) {
	root := projectFixture(t)
	out := Run(context.Background(), Deps{Root: root}, []string{"how do I run the tests"}, 700)
	assert.LessOrEqual(t, out.Budget.UsedChars, 700+targetQuestionChars) // floor guarantee may exceed slightly
	require.Len(t, out.Answers, 1)
}

func TestGrepRepo_Deterministic(t *testing.T) {
	root := projectFixture(t)
	re := regexp.MustCompile("(?i)test")
	a := grepRepo(root, re, grepOptions{contextLines: 1, maxSnippets: 5})
	b := grepRepo(root, re, grepOptions{contextLines: 1, maxSnippets: 5})
	assert.Equal(t, a, b)
	require.NotEmpty(t, a)
}

func TestStructuralTestsIntent(t *testing.T) {
	root := projectFixture(t)
	out := Run(context.Background(), Deps{Root: root}, []string{"where are the unit tests"}, 8000)
	require.Len(t, out.Answers, 1)
	assert.Equal(t, "structural", out.Answers[0].Source)
	require.NotEmpty(t, out.Answers[0].Snippets)
	assert.Contains(t, out.Answers[0].Snippets[0].File, "_test.go")
}
