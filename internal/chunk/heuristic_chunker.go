package chunk

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// HeuristicChunker splits source files into one chunk per top-level
// symbol using per-language regexes, without building an AST. Real
// deployments are expected to plug in an AST-aware chunker (tree-sitter
// or similar) that implements the same Chunker interface; this
// implementation exists so the indexing pipeline has a working default.
type HeuristicChunker struct {
	options CodeChunkerOptions
}

// CodeChunkerOptions configures the heuristic code chunker.
type CodeChunkerOptions struct {
	MaxChunkTokens int
	OverlapTokens  int
}

// languageSignature is a single regex used to find a top-level symbol
// declaration's first line.
type languageSignature struct {
	pattern   *regexp.Regexp
	chunkType ChunkType
}

var languageSignatures = map[string][]languageSignature{
	"go": {
		{regexp.MustCompile(`^func\s+(?:\([^)]*\)\s*)?([A-Za-z_][A-Za-z0-9_]*)`), ChunkTypeFunction},
		{regexp.MustCompile(`^type\s+([A-Za-z_][A-Za-z0-9_]*)\s+struct\b`), ChunkTypeStruct},
		{regexp.MustCompile(`^type\s+([A-Za-z_][A-Za-z0-9_]*)\s+interface\b`), ChunkTypeInterface},
		{regexp.MustCompile(`^type\s+([A-Za-z_][A-Za-z0-9_]*)\b`), ChunkTypeType},
	},
	"typescript": {
		{regexp.MustCompile(`^export\s+(?:async\s+)?function\s+([A-Za-z_$][A-Za-z0-9_$]*)`), ChunkTypeFunction},
		{regexp.MustCompile(`^export\s+(?:default\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`), ChunkTypeStruct},
		{regexp.MustCompile(`^export\s+interface\s+([A-Za-z_$][A-Za-z0-9_$]*)`), ChunkTypeInterface},
	},
	"javascript": {
		{regexp.MustCompile(`^(?:export\s+)?(?:async\s+)?function\s+([A-Za-z_$][A-Za-z0-9_$]*)`), ChunkTypeFunction},
		{regexp.MustCompile(`^(?:export\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`), ChunkTypeStruct},
	},
	"python": {
		{regexp.MustCompile(`^def\s+([A-Za-z_][A-Za-z0-9_]*)`), ChunkTypeFunction},
		{regexp.MustCompile(`^class\s+([A-Za-z_][A-Za-z0-9_]*)`), ChunkTypeStruct},
	},
}

// NewHeuristicChunker creates a new heuristic chunker with default options.
func NewHeuristicChunker() *HeuristicChunker {
	return NewHeuristicChunkerWithOptions(CodeChunkerOptions{})
}

// NewHeuristicChunkerWithOptions creates a heuristic chunker with custom options.
func NewHeuristicChunkerWithOptions(opts CodeChunkerOptions) *HeuristicChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	return &HeuristicChunker{options: opts}
}

// SupportedExtensions returns file extensions this chunker handles.
func (c *HeuristicChunker) SupportedExtensions() []string {
	return []string{".go", ".ts", ".tsx", ".js", ".jsx", ".py"}
}

// Chunk splits source into one chunk per recognized top-level
// declaration. Lines before the first declaration become a "header"
// chunk carrying the package/import header; unrecognized files become a
// single whole-file chunk.
func (c *HeuristicChunker) Chunk(_ context.Context, file *FileInput) ([]*CodeChunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	path := NormalizePath(file.Path)
	lang := file.Language
	if lang == "" {
		lang = languageFromExt(path)
	}
	sigs := languageSignatures[lang]
	now := time.Now()
	lines := strings.Split(content, "\n")

	if len(sigs) == 0 {
		return []*CodeChunk{{
			FilePath:    path,
			Content:     content,
			ContentType: ContentTypeCode,
			Language:    lang,
			StartLine:   1,
			EndLine:     len(lines),
			Metadata:    Metadata{EstimatedTokens: estimateTokens(content)},
			CreatedAt:   now,
			UpdatedAt:   now,
		}}, nil
	}

	type hit struct {
		line      int // 0-indexed
		name      string
		chunkType ChunkType
	}
	var hits []hit
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		indent := len(line) - len(trimmed)
		if indent > 0 {
			continue // only top-level declarations
		}
		for _, sig := range sigs {
			if m := sig.pattern.FindStringSubmatch(trimmed); m != nil {
				hits = append(hits, hit{line: i, name: m[1], chunkType: sig.chunkType})
				break
			}
		}
	}

	if len(hits) == 0 {
		return []*CodeChunk{{
			FilePath:    path,
			Content:     content,
			ContentType: ContentTypeCode,
			Language:    lang,
			StartLine:   1,
			EndLine:     len(lines),
			Metadata:    Metadata{EstimatedTokens: estimateTokens(content)},
			CreatedAt:   now,
			UpdatedAt:   now,
		}}, nil
	}

	imports := headerImports(lines, hits[0].line, lang)
	var chunks []*CodeChunk
	if hits[0].line > 0 {
		header := strings.Join(lines[:hits[0].line], "\n")
		if strings.TrimSpace(header) != "" {
			chunks = append(chunks, &CodeChunk{
				FilePath:    path,
				Content:     header,
				ContentType: ContentTypeCode,
				Language:    lang,
				StartLine:   1,
				EndLine:     hits[0].line,
				Metadata:    Metadata{EstimatedTokens: estimateTokens(header), Tags: []string{"header"}},
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		}
	}

	for i, h := range hits {
		end := len(lines)
		if i+1 < len(hits) {
			end = hits[i+1].line
		}
		// Include leading doc-comment lines directly above the declaration.
		start := h.line
		for start > 0 && isDocCommentLine(lines[start-1], lang) {
			start--
		}
		body := strings.Join(lines[start:end], "\n")
		doc := ""
		if start < h.line {
			doc = strings.TrimSpace(strings.Join(lines[start:h.line], "\n"))
		}
		chunks = append(chunks, &CodeChunk{
			FilePath:    path,
			Content:     body,
			ContentType: ContentTypeCode,
			Language:    lang,
			StartLine:   start + 1,
			EndLine:     end,
			Metadata: Metadata{
				SymbolName:      h.name,
				ChunkType:       h.chunkType,
				QualifiedName:   h.name,
				Documentation:   doc,
				ContextImports:  imports,
				EstimatedTokens: estimateTokens(body),
			},
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return chunks, nil
}

func languageFromExt(path string) string {
	switch {
	case strings.HasSuffix(path, ".go"):
		return "go"
	case strings.HasSuffix(path, ".ts"), strings.HasSuffix(path, ".tsx"):
		return "typescript"
	case strings.HasSuffix(path, ".js"), strings.HasSuffix(path, ".jsx"):
		return "javascript"
	case strings.HasSuffix(path, ".py"):
		return "python"
	default:
		return ""
	}
}

func isDocCommentLine(line, lang string) bool {
	t := strings.TrimSpace(line)
	switch lang {
	case "go", "typescript", "javascript":
		return strings.HasPrefix(t, "//") || strings.HasPrefix(t, "/*") || strings.HasPrefix(t, "*")
	case "python":
		return strings.HasPrefix(t, "#")
	default:
		return false
	}
}

// headerImports returns a bounded list of import lines found before the
// first declaration, used to populate ContextImports on every chunk in
// the file.
func headerImports(lines []string, firstDecl int, lang string) []string {
	limit := firstDecl
	if limit > 300 {
		limit = 300 // bounded prefix scan, per the resource policy
	}
	var imports []string
	for i := 0; i < limit; i++ {
		t := strings.TrimSpace(lines[i])
		switch lang {
		case "go":
			if strings.HasPrefix(t, `"`) || (strings.Contains(t, "/") && strings.HasSuffix(t, `"`)) {
				imports = append(imports, t)
			}
		case "typescript", "javascript":
			if strings.HasPrefix(t, "import ") {
				imports = append(imports, t)
			}
		case "python":
			if strings.HasPrefix(t, "import ") || strings.HasPrefix(t, "from ") {
				imports = append(imports, t)
			}
		}
	}
	return imports
}
