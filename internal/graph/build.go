package graph

import (
	"regexp"
	"sort"
	"strings"

	"github.com/AmirTlinov/context-finder-mcp/internal/chunk"
)

// Builder infers a code graph for one language dialect.
type Builder interface {
	// Language is the dialect this builder handles.
	Language() string

	// Build produces the graph for the language's chunks. Errors are
	// non-fatal to callers: search proceeds without related context.
	Build(chunks []*chunk.CodeChunk) (*CodeGraph, error)
}

// BuilderFor returns the builder for a language. Unsupported languages
// get the generic builder (nodes only, no edge inference).
func BuilderFor(language string) Builder {
	switch strings.ToLower(language) {
	case "go":
		return &goBuilder{}
	case "typescript", "javascript", "ts", "js", "tsx", "jsx":
		return &tsBuilder{}
	case "python", "py":
		return &pythonBuilder{}
	case "markdown", "md":
		return &markdownBuilder{}
	default:
		return &genericBuilder{language: strings.ToLower(language)}
	}
}

// buildNodes creates one node per symbol-bearing chunk and contains
// edges from parent scopes. Chunks without a symbol name are skipped;
// the markdown builder synthesizes its own section nodes for those.
func buildNodes(cg *CodeGraph, chunks []*chunk.CodeChunk) {
	// Parent scopes first so contains edges resolve in one pass.
	scopeIdx := make(map[string]int) // "<file>#<symbol>" -> node idx
	for _, ch := range chunks {
		if ch.Metadata.SymbolName == "" {
			continue
		}
		idx := cg.addNode(Node{
			ID:        nodeID(ch),
			Symbol:    ch.Metadata.SymbolName,
			Kind:      ch.Metadata.ChunkType,
			File:      ch.FilePath,
			StartLine: ch.StartLine,
			EndLine:   ch.EndLine,
			ChunkID:   ch.ID(),
		})
		scopeIdx[ch.FilePath+"#"+ch.Metadata.SymbolName] = idx
	}

	for _, ch := range chunks {
		if ch.Metadata.SymbolName == "" || ch.Metadata.ParentScope == "" {
			continue
		}
		child, ok := cg.byID[nodeID(ch)]
		if !ok {
			continue
		}
		if parent, ok := scopeIdx[ch.FilePath+"#"+ch.Metadata.ParentScope]; ok {
			cg.addEdge(parent, child, RelContains)
		}
	}
}

// referencePattern matches identifier( call sites.
var referencePattern = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

// buildCallEdges scans chunk content for call sites naming other nodes'
// symbols. This is reference inference, not resolution: same-named
// symbols in different files all receive an edge, which BFS relevance
// decay tolerates better than missing edges would.
func buildCallEdges(cg *CodeGraph, chunks []*chunk.CodeChunk) {
	bySymbol := make(map[string][]int)
	for i := range cg.Nodes {
		bySymbol[cg.Nodes[i].Symbol] = append(bySymbol[cg.Nodes[i].Symbol], i)
	}

	for _, ch := range chunks {
		from, ok := cg.byChunkID[ch.ID()]
		if !ok {
			continue
		}
		seen := map[string]bool{}
		for _, m := range referencePattern.FindAllStringSubmatch(ch.Content, -1) {
			callee := m[1]
			if callee == ch.Metadata.SymbolName || seen[callee] {
				continue
			}
			seen[callee] = true
			for _, to := range bySymbol[callee] {
				cg.addEdge(from, to, RelCalls)
			}
		}
	}
}

// buildImportEdges links a chunk to nodes in files named by its
// context_imports metadata (module paths are suffix-matched against
// file paths).
func buildImportEdges(cg *CodeGraph, chunks []*chunk.CodeChunk) {
	byFile := make(map[string][]int)
	for i := range cg.Nodes {
		byFile[cg.Nodes[i].File] = append(byFile[cg.Nodes[i].File], i)
	}

	files := sortedKeys(byFile)
	for _, ch := range chunks {
		from, ok := cg.byChunkID[ch.ID()]
		if !ok {
			continue
		}
		for _, imp := range ch.Metadata.ContextImports {
			needle := strings.ReplaceAll(strings.Trim(imp, `"`), ".", "/")
			for _, file := range files {
				if file == ch.FilePath {
					continue
				}
				base := strings.TrimSuffix(file, extOf(file))
				if strings.HasSuffix(base, needle) || strings.Contains(file, needle) {
					for _, to := range byFile[file] {
						cg.addEdge(from, to, RelImports)
					}
				}
			}
		}
	}
}

// sortedKeys keeps edge insertion order independent of map iteration
// order; graph determinism feeds result determinism.
func sortedKeys(m map[string][]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func extOf(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i:]
	}
	return ""
}

// goBuilder infers edges for Go: contains from parent scopes, calls
// from call sites, imports from context_imports.
type goBuilder struct{}

func (b *goBuilder) Language() string { return "go" }

func (b *goBuilder) Build(chunks []*chunk.CodeChunk) (*CodeGraph, error) {
	cg := newCodeGraph(b.Language())
	buildNodes(cg, chunks)
	buildCallEdges(cg, chunks)
	buildImportEdges(cg, chunks)
	cg.finalize()
	return cg, nil
}

// tsBuilder handles TypeScript/JavaScript. Same inference as Go plus
// ES-module import scanning from content.
type tsBuilder struct{}

func (b *tsBuilder) Language() string { return "typescript" }

var tsImportPattern = regexp.MustCompile(`(?m)^\s*import\b.*?from\s+['"]([^'"]+)['"]`)

func (b *tsBuilder) Build(chunks []*chunk.CodeChunk) (*CodeGraph, error) {
	cg := newCodeGraph(b.Language())
	buildNodes(cg, chunks)
	buildCallEdges(cg, chunks)
	buildImportEdges(cg, chunks)
	b.scanImports(cg, chunks)
	cg.finalize()
	return cg, nil
}

func (b *tsBuilder) scanImports(cg *CodeGraph, chunks []*chunk.CodeChunk) {
	byFile := make(map[string][]int)
	for i := range cg.Nodes {
		byFile[cg.Nodes[i].File] = append(byFile[cg.Nodes[i].File], i)
	}
	files := sortedKeys(byFile)
	for _, ch := range chunks {
		from, ok := cg.byChunkID[ch.ID()]
		if !ok {
			continue
		}
		for _, m := range tsImportPattern.FindAllStringSubmatch(ch.Content, -1) {
			target := strings.TrimPrefix(m[1], "./")
			for _, file := range files {
				if file == ch.FilePath {
					continue
				}
				if strings.Contains(strings.TrimSuffix(file, extOf(file)), target) {
					for _, to := range byFile[file] {
						cg.addEdge(from, to, RelImports)
					}
				}
			}
		}
	}
}

// pythonBuilder handles Python: contains, calls, and "from x import y"
// style module references via context_imports.
type pythonBuilder struct{}

func (b *pythonBuilder) Language() string { return "python" }

func (b *pythonBuilder) Build(chunks []*chunk.CodeChunk) (*CodeGraph, error) {
	cg := newCodeGraph(b.Language())
	buildNodes(cg, chunks)
	buildCallEdges(cg, chunks)
	buildImportEdges(cg, chunks)
	cg.finalize()
	return cg, nil
}

// markdownBuilder builds doc-link edges: a section linking to a file
// references every node in that file.
type markdownBuilder struct{}

func (b *markdownBuilder) Language() string { return "markdown" }

var markdownLinkPattern = regexp.MustCompile(`\[[^\]]*\]\(([^)#][^)]*)\)`)

func (b *markdownBuilder) Build(chunks []*chunk.CodeChunk) (*CodeGraph, error) {
	cg := newCodeGraph(b.Language())

	// Markdown chunks rarely carry symbol metadata; synthesize section
	// nodes keyed by span so link edges have endpoints.
	for _, ch := range chunks {
		symbol := ch.Metadata.SymbolName
		if symbol == "" {
			symbol = firstHeading(ch.Content)
		}
		if symbol == "" {
			continue
		}
		cg.addNode(Node{
			ID:        ch.FilePath + "#" + symbol,
			Symbol:    symbol,
			Kind:      chunk.ChunkTypeSection,
			File:      ch.FilePath,
			StartLine: ch.StartLine,
			EndLine:   ch.EndLine,
			ChunkID:   ch.ID(),
		})
	}

	byFile := make(map[string][]int)
	for i := range cg.Nodes {
		byFile[cg.Nodes[i].File] = append(byFile[cg.Nodes[i].File], i)
	}
	for _, ch := range chunks {
		from, ok := cg.byChunkID[ch.ID()]
		if !ok {
			continue
		}
		for _, m := range markdownLinkPattern.FindAllStringSubmatch(ch.Content, -1) {
			target := chunk.NormalizePath(strings.TrimSpace(m[1]))
			for _, file := range sortedKeys(byFile) {
				if file == ch.FilePath {
					continue
				}
				if file == target || strings.HasSuffix(file, "/"+target) {
					for _, to := range byFile[file] {
						cg.addEdge(from, to, RelReferences)
					}
				}
			}
		}
	}
	cg.finalize()
	return cg, nil
}

func firstHeading(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "# "))
		}
	}
	return ""
}

// genericBuilder produces nodes without edge inference, the fallback
// for languages with no dialect support.
type genericBuilder struct{ language string }

func (b *genericBuilder) Language() string { return b.language }

func (b *genericBuilder) Build(chunks []*chunk.CodeChunk) (*CodeGraph, error) {
	cg := newCodeGraph(b.language)
	for _, ch := range chunks {
		if ch.Metadata.SymbolName == "" {
			continue
		}
		cg.addNode(Node{
			ID:        nodeID(ch),
			Symbol:    ch.Metadata.SymbolName,
			Kind:      ch.Metadata.ChunkType,
			File:      ch.FilePath,
			StartLine: ch.StartLine,
			EndLine:   ch.EndLine,
			ChunkID:   ch.ID(),
		})
	}
	cg.finalize()
	return cg, nil
}
