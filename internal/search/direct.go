package search

import (
	"sort"
	"strings"

	"github.com/AmirTlinov/context-finder-mcp/internal/chunk"
	"github.com/AmirTlinov/context-finder-mcp/internal/classify"
)

// directPathMatch answers path-shaped queries straight from the corpus:
// exact path match first, then suffix match, then substring match. A
// miss falls through to the full pipeline (no error).
func (e *Engine) directPathMatch(query string, cls classify.Classification) []*Result {
	if cls.Type != classify.QueryTypePath {
		return nil
	}
	if len(strings.Fields(query)) != 1 || !classify.LooksLikePath(query) {
		return nil
	}

	want := chunk.NormalizePath(strings.ToLower(query))
	var exact, suffix, contains []*chunk.CodeChunk
	for _, path := range e.corpus.Files() {
		norm := strings.ToLower(path)
		switch {
		case norm == want:
			exact = append(exact, e.corpus.FileChunks(path)...)
		case strings.HasSuffix(norm, want):
			suffix = append(suffix, e.corpus.FileChunks(path)...)
		case strings.Contains(norm, want):
			contains = append(contains, e.corpus.FileChunks(path)...)
		}
	}

	matched := exact
	if len(matched) == 0 {
		matched = suffix
	}
	if len(matched) == 0 {
		matched = contains
	}
	return directResults(matched)
}

// directSymbolMatch answers identifier queries whose symbol anchor
// exactly names an indexed symbol (case-insensitively). Fires on mixed
// queries like "parseConfig drift validation" too: the anchor is a
// single token even when the query is not.
func (e *Engine) directSymbolMatch(cls classify.Classification) []*Result {
	anchor := cls.Anchor
	if anchor == "" || strings.ContainsAny(anchor, " \t") {
		return nil
	}
	want := strings.ToLower(anchor)

	var matched []*chunk.CodeChunk
	for _, id := range e.corpus.AllIDs() {
		ch, ok := e.corpus.Get(id)
		if !ok {
			continue
		}
		if ch.Metadata.SymbolName != "" && strings.ToLower(ch.Metadata.SymbolName) == want {
			matched = append(matched, ch)
		}
	}
	return directResults(matched)
}

// directResults orders direct-match chunks by (file_path, start_line,
// end_line) and assigns near-1.0 scores decaying by rank.
func directResults(matched []*chunk.CodeChunk) []*Result {
	if len(matched) == 0 {
		return nil
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		return a.EndLine < b.EndLine
	})
	out := make([]*Result, len(matched))
	for i, ch := range matched {
		score := 1.0 - float64(i)*1e-3
		if score < 0 {
			score = 0
		}
		out[i] = &Result{Chunk: ch, Score: score, ID: ch.ID()}
	}
	return out
}
