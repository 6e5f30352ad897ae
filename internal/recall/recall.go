package recall

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/AmirTlinov/context-finder-mcp/internal/pack"
	"github.com/AmirTlinov/context-finder-mcp/internal/search"
)

// Budget constants. The total budget splits into a facts reserve plus
// an even per-question pool; every question is guaranteed a floor and
// aims for a target.
const (
	factsReserveChars  = 600
	minQuestionChars   = 650
	targetQuestionChars = 1400
)

// SearchFn runs the semantic retrieval pipeline for a question.
type SearchFn func(ctx context.Context, query string, limit int) ([]*search.Result, error)

// Deps are the collaborators one recall run needs. Search may be nil
// (semantic unavailable); SeenFiles is the session working set, read
// for dedupe and updated with every emitted snippet file.
type Deps struct {
	Root          string
	Search        SearchFn
	SemanticFresh bool
	SeenFiles     map[string]bool
}

// Answer is one question's snippets.
type Answer struct {
	Question string    `json:"question"`
	Source   string    `json:"source"` // file_ref|structural|grep|ops|semantic|keyword
	Snippets []Snippet `json:"snippets"`
}

// Output is a recall run's result. RemainingQuestions is non-empty
// when the budget ran out mid-list; the caller encodes them into a
// continuation cursor.
type Output struct {
	Facts              *Facts      `json:"facts,omitempty"`
	Answers            []Answer    `json:"answers"`
	RemainingQuestions []string    `json:"-"`
	Budget             pack.Budget `json:"budget"`
}

// Run answers questions in input order until the budget is spent.
// Every question is answered at most once per run; unanswered
// questions are reported for pagination, never dropped.
func Run(ctx context.Context, deps Deps, rawQuestions []string, maxChars int) *Output {
	if maxChars <= 0 {
		maxChars = 8000
	}
	if deps.SeenFiles == nil {
		deps.SeenFiles = map[string]bool{}
	}

	out := &Output{Budget: pack.Budget{MaxChars: maxChars}}
	out.Facts = ProbeFacts(deps.Root)

	used := factsReserveChars
	perQuestion := (maxChars - factsReserveChars) / maxInt(1, len(rawQuestions))
	if perQuestion > targetQuestionChars {
		perQuestion = targetQuestionChars
	}
	if perQuestion < minQuestionChars {
		perQuestion = minQuestionChars
	}

	for i, raw := range rawQuestions {
		if used+minQuestionChars > maxChars && len(out.Answers) > 0 {
			out.RemainingQuestions = rawQuestions[i:]
			out.Budget.Truncated = true
			out.Budget.Truncation = pack.TruncationMaxItems
			break
		}
		q := ParseQuestion(raw)
		answer := answerQuestion(ctx, deps, q, perQuestion)
		answer.Question = raw
		trimAnswer(&answer, perQuestion)
		for _, sn := range answer.Snippets {
			deps.SeenFiles[sn.File] = true
			used += utf8.RuneCountInString(sn.Content) + len(sn.File) + 16
		}
		out.Answers = append(out.Answers, answer)
	}

	out.Budget.UsedChars = used
	if out.Budget.UsedChars > maxChars {
		out.Budget.UsedChars = maxChars
		out.Budget.Truncated = true
		if out.Budget.Truncation == "" {
			out.Budget.Truncation = pack.TruncationMaxChars
		}
	}
	return out
}

// answerQuestion walks the resolution ladder for one question.
func answerQuestion(ctx context.Context, deps Deps, q Question, budget int) Answer {
	limit := q.SnippetLimit
	if budget < minQuestionChars+200 && limit > 1 {
		limit = 1 // very tight budgets fall back to fewer snippets
	}

	// 1. Explicit file reference.
	if q.FileRef != "" {
		if sn, ok := readFileSlice(deps.Root, q.FileRef, q.FileRefLine, q.ContextLines); ok {
			return Answer{Source: "file_ref", Snippets: []Snippet{sn}}
		}
	}

	// 2. Structural intent.
	switch detectIntent(q.Text) {
	case intentTests:
		if sns := structuralFiles(deps, q, limit, isTestFile); len(sns) > 0 {
			return Answer{Source: "structural", Snippets: sns}
		}
	case intentConfigs:
		if sns := structuralFiles(deps, q, limit, isConfigFile); len(sns) > 0 {
			return Answer{Source: "structural", Snippets: sns}
		}
	case intentOps:
		if sns := opsAnswer(deps, q, limit); len(sns) > 0 {
			return Answer{Source: "ops", Snippets: sns}
		}
	}

	// 3. Explicit regex / literal directive.
	if q.Regex != "" || q.Literal != "" {
		pattern := q.Regex
		if pattern == "" {
			pattern = regexp.QuoteMeta(q.Literal)
		}
		if re, err := regexp.Compile(pattern); err == nil {
			sns := grepRepo(deps.Root, re, grepOptions{
				includePath: q.IncludePath, contextLines: q.ContextLines, maxSnippets: limit,
			})
			if len(sns) > 0 {
				return Answer{Source: "grep", Snippets: dedupePreferUnseen(sns, deps.SeenFiles, limit)}
			}
		}
	}

	// 4. Semantic, when the mode allows it.
	if deps.Search != nil && (q.Mode == ModeDeep || (q.Mode == ModeAuto && deps.SemanticFresh)) {
		if results, err := deps.Search(ctx, q.Text, limit*2); err == nil && len(results) > 0 {
			sns := make([]Snippet, 0, limit)
			for _, r := range results {
				sns = append(sns, Snippet{
					File:      r.Chunk.FilePath,
					StartLine: r.Chunk.StartLine,
					EndLine:   r.Chunk.EndLine,
					Content:   r.Chunk.Content,
				})
			}
			sns = dedupePreferUnseen(sns, deps.SeenFiles, limit)
			sns = upgradeToCode(deps, q, sns, limit)
			return Answer{Source: "semantic", Snippets: sns}
		}
	}

	// 5. Keyword grep over the repo with effective scoping.
	if tok := strongestToken(q.Text); tok != "" {
		if re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(tok)); err == nil {
			sns := grepRepo(deps.Root, re, grepOptions{
				includePath: q.IncludePath, contextLines: q.ContextLines, maxSnippets: limit * 2,
			})
			sns = dedupePreferUnseen(sns, deps.SeenFiles, limit)
			sns = upgradeToCode(deps, q, sns, limit)
			return Answer{Source: "keyword", Snippets: sns}
		}
	}
	return Answer{Source: "keyword"}
}

// opsCommandFiles ranks "commands live here" files for how-to-run
// questions.
var opsCommandFiles = []string{
	"Makefile", "justfile", "Taskfile.yml", "package.json",
	"AGENTS.md", "CONTRIBUTING.md", "README.md", "docs/DEVELOPMENT.md",
}

// opsAnswer greps the command-file allowlist, reranking hits by token
// overlap with the question, and falls back to an anchor doc snippet.
func opsAnswer(deps Deps, q Question, limit int) []Snippet {
	tokens := queryTokens(q.Text)
	pattern := regexp.MustCompile(`(?i)\b(test|build|run|start|install|lint|deploy)\b`)

	type scored struct {
		sn    Snippet
		score int
	}
	var hits []scored
	for _, name := range opsCommandFiles {
		if _, err := os.Stat(filepath.Join(deps.Root, filepath.FromSlash(name))); err != nil {
			continue
		}
		for _, sn := range grepFile(filepath.Join(deps.Root, filepath.FromSlash(name)), name, pattern, grepOptions{contextLines: q.ContextLines}, 2) {
			score := 0
			lower := strings.ToLower(sn.Content)
			for _, tok := range tokens {
				if strings.Contains(lower, tok) {
					score++
				}
			}
			hits = append(hits, scored{sn: sn, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	sns := make([]Snippet, 0, limit)
	for _, h := range hits {
		if len(sns) >= limit {
			break
		}
		sns = append(sns, h.sn)
	}
	if len(sns) > 0 {
		return sns
	}

	// Fall back to the head of the first anchor doc present.
	for _, name := range pack.AnchorDocNames {
		if sn, ok := readFileSlice(deps.Root, name, 0, 6); ok {
			return []Snippet{sn}
		}
	}
	return nil
}

// structuralFiles enumerates candidate files by a static predicate and
// returns their heads.
func structuralFiles(deps Deps, q Question, limit int, match func(string) bool) []Snippet {
	var candidates []string
	var walk func(dir, rel string, depth int)
	walk = func(dir, rel string, depth int) {
		if depth > 4 || len(candidates) >= limit*4 {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, e := range entries {
			relPath := e.Name()
			if rel != "" {
				relPath = rel + "/" + e.Name()
			}
			if e.IsDir() {
				if skipDirs[e.Name()] || strings.HasPrefix(e.Name(), ".") {
					continue
				}
				walk(filepath.Join(dir, e.Name()), relPath, depth+1)
				continue
			}
			if q.IncludePath != "" && !strings.HasPrefix(relPath, q.IncludePath) {
				continue
			}
			if match(relPath) {
				candidates = append(candidates, relPath)
			}
		}
	}
	walk(deps.Root, "", 0)

	// Unseen files rank ahead of seen ones, then shorter paths.
	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := deps.SeenFiles[candidates[i]], deps.SeenFiles[candidates[j]]
		if si != sj {
			return !si
		}
		return len(candidates[i]) < len(candidates[j])
	})

	var sns []Snippet
	for _, c := range candidates {
		if len(sns) >= limit {
			break
		}
		if sn, ok := readFileSlice(deps.Root, c, 0, q.ContextLines+2); ok {
			sns = append(sns, sn)
		}
	}
	return sns
}

func isTestFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, "_test.go") ||
		strings.HasSuffix(base, ".test.ts") || strings.HasSuffix(base, ".spec.ts") ||
		strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py") ||
		strings.Contains(path, "tests/")
}

func isConfigFile(path string) bool {
	base := filepath.Base(path)
	switch base {
	case "Dockerfile", "Makefile", ".env.example":
		return true
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".yaml", ".yml", ".toml", ".ini":
		return true
	}
	return false
}

// upgradeToCode swaps a docs-only answer for code hits when the
// question is not docs-intent and prefer-code applies: grep the
// strongest token against code files only.
func upgradeToCode(deps Deps, q Question, sns []Snippet, limit int) []Snippet {
	if len(sns) == 0 || isDocsIntent(q.Text) {
		return sns
	}
	docsOnly := true
	for _, sn := range sns {
		if !isDocFile(sn.File) {
			docsOnly = false
			break
		}
	}
	if !docsOnly {
		return sns
	}
	tok := strongestToken(q.Text)
	if tok == "" {
		return sns
	}
	re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(tok))
	if err != nil {
		return sns
	}
	code := grepRepo(deps.Root, re, grepOptions{
		includePath: q.IncludePath, contextLines: q.ContextLines, maxSnippets: limit, codeOnly: true,
	})
	if len(code) == 0 {
		return sns
	}
	return code
}

// dedupePreferUnseen keeps up to limit snippets, preferring files the
// session has not surfaced yet when at least one unseen candidate
// exists.
func dedupePreferUnseen(sns []Snippet, seen map[string]bool, limit int) []Snippet {
	if len(sns) == 0 {
		return sns
	}
	hasUnseen := false
	for _, sn := range sns {
		if !seen[sn.File] {
			hasUnseen = true
			break
		}
	}
	var out []Snippet
	usedFile := map[string]bool{}
	pick := func(wantUnseen bool) {
		for _, sn := range sns {
			if len(out) >= limit {
				return
			}
			if usedFile[sn.File] {
				continue
			}
			if wantUnseen && seen[sn.File] {
				continue
			}
			usedFile[sn.File] = true
			out = append(out, sn)
		}
	}
	if hasUnseen {
		pick(true)
	}
	pick(false)
	return out
}

// trimAnswer drops trailing snippets, then halves the last remaining
// snippet's content, until the answer fits its budget.
func trimAnswer(a *Answer, budget int) {
	for {
		used := 0
		for _, sn := range a.Snippets {
			used += utf8.RuneCountInString(sn.Content)
		}
		if used <= budget || len(a.Snippets) == 0 {
			return
		}
		if len(a.Snippets) > 1 {
			a.Snippets = a.Snippets[:len(a.Snippets)-1]
			continue
		}
		c := a.Snippets[0].Content
		if utf8.RuneCountInString(c) <= 1 {
			return
		}
		a.Snippets[0].Content = c[:len(c)/2]
		for !utf8.ValidString(a.Snippets[0].Content) && len(a.Snippets[0].Content) > 0 {
			a.Snippets[0].Content = a.Snippets[0].Content[:len(a.Snippets[0].Content)-1]
		}
	}
}

func queryTokens(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "?.,!\"'")
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}

// strongestToken picks the longest token as the keyword-grep needle.
func strongestToken(text string) string {
	best := ""
	for _, tok := range queryTokens(text) {
		if len(tok) > len(best) {
			best = tok
		}
	}
	return best
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
