package chunk

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MarkdownChunkerOptions configures the markdown chunker behavior.
type MarkdownChunkerOptions struct {
	MaxChunkTokens int // Maximum tokens per chunk (default: DefaultMaxChunkTokens)
	OverlapTokens  int // Overlap between chunks when splitting (default: DefaultOverlapTokens)
}

// MarkdownChunker implements header-based Markdown chunking.
type MarkdownChunker struct {
	options MarkdownChunkerOptions
}

var (
	headerPattern       = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	frontmatterPattern  = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n*`)
	codeBlockPattern    = regexp.MustCompile("(?s)```[^`]*```")
	tablePattern        = regexp.MustCompile(`(?m)^\|.+\|$(\n^\|[-:|]+\|$)?(\n^\|.+\|$)*`)
	mdxSelfClosingMatch = regexp.MustCompile(`<[A-Z][a-zA-Z0-9]*[^>]*/\s*>`)
)

// NewMarkdownChunker creates a new markdown chunker with default options.
func NewMarkdownChunker() *MarkdownChunker {
	return NewMarkdownChunkerWithOptions(MarkdownChunkerOptions{})
}

// NewMarkdownChunkerWithOptions creates a markdown chunker with custom options.
func NewMarkdownChunkerWithOptions(opts MarkdownChunkerOptions) *MarkdownChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	return &MarkdownChunker{options: opts}
}

// SupportedExtensions returns file extensions this chunker handles.
func (c *MarkdownChunker) SupportedExtensions() []string {
	return []string{".md", ".markdown", ".mdx"}
}

// Chunk splits a markdown file into semantic chunks, one per header
// section (or paragraph group, if oversized), preserving header path and
// level as chunk metadata.
func (c *MarkdownChunker) Chunk(_ context.Context, file *FileInput) ([]*CodeChunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	path := NormalizePath(file.Path)
	now := time.Now()
	var chunks []*CodeChunk
	remaining := content
	baseLine := 1

	if fm := frontmatterPattern.FindString(remaining); fm != "" {
		lineCount := strings.Count(fm, "\n")
		chunks = append(chunks, &CodeChunk{
			FilePath:    path,
			Content:     fm,
			ContentType: ContentTypeMarkdown,
			Language:    "markdown",
			StartLine:   1,
			EndLine:     lineCount,
			Metadata:    Metadata{ChunkType: ChunkTypeSection, Extra: map[string]string{"doc_part": "frontmatter"}},
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		remaining = remaining[len(fm):]
		baseLine = lineCount + 1
	}

	sections := c.parseSections(remaining)
	if len(sections) == 0 {
		chunks = append(chunks, c.chunkByParagraphs(path, remaining, "", baseLine, now)...)
		return chunks, nil
	}
	for _, sec := range sections {
		chunks = append(chunks, c.sectionChunks(path, sec, baseLine, now)...)
	}
	return chunks, nil
}

type section struct {
	headerLevel int
	headerTitle string
	headerPath  string
	content     string
	startLine   int // 0-indexed within remaining content
}

func (c *MarkdownChunker) parseSections(content string) []*section {
	lines := strings.Split(content, "\n")
	var sections []*section
	headerStack := make([]string, 6)

	var current *section
	var buf strings.Builder

	flush := func() {
		if current != nil {
			current.content = buf.String()
			sections = append(sections, current)
			buf.Reset()
		}
	}

	for lineNum, line := range lines {
		if match := headerPattern.FindStringSubmatch(line); match != nil {
			flush()
			level := len(match[1])
			title := strings.TrimSpace(match[2])
			headerStack[level-1] = title
			for i := level; i < 6; i++ {
				headerStack[i] = ""
			}
			var parts []string
			for i := 0; i < level; i++ {
				if headerStack[i] != "" {
					parts = append(parts, headerStack[i])
				}
			}
			current = &section{headerLevel: level, headerTitle: title, headerPath: strings.Join(parts, " > "), startLine: lineNum}
		}
		if current != nil {
			buf.WriteString(line)
			buf.WriteString("\n")
		}
	}
	flush()
	return sections
}

func (c *MarkdownChunker) sectionChunks(path string, sec *section, baseLine int, now time.Time) []*CodeChunk {
	content := strings.TrimRight(sec.content, "\n")
	trimmed := strings.TrimSpace(content)
	lines := strings.Split(trimmed, "\n")
	if len(lines) <= 1 && headerPattern.MatchString(trimmed) {
		return nil // header with no body
	}

	meta := func() Metadata {
		return Metadata{
			ChunkType:   ChunkTypeSection,
			ParentScope: sec.headerPath,
			Extra: map[string]string{
				"header_level":  strconv.Itoa(sec.headerLevel),
				"section_title": sec.headerTitle,
			},
		}
	}

	if estimateTokens(content) <= c.options.MaxChunkTokens {
		startLine := baseLine + sec.startLine
		return []*CodeChunk{{
			FilePath:    path,
			Content:     content,
			ContentType: ContentTypeMarkdown,
			Language:    "markdown",
			StartLine:   startLine,
			EndLine:     startLine + strings.Count(content, "\n"),
			Metadata:    meta(),
			CreatedAt:   now,
			UpdatedAt:   now,
		}}
	}
	return c.splitLargeSection(path, sec, content, baseLine+sec.startLine, now)
}

func (c *MarkdownChunker) splitLargeSection(path string, sec *section, content string, startLine int, now time.Time) []*CodeChunk {
	paragraphs := c.mergeAtomicBlocks(splitParagraphs(content))

	var chunks []*CodeChunk
	var cur strings.Builder
	curStart := startLine
	lineCount := 0

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		body := strings.TrimRight(cur.String(), "\n ")
		chunks = append(chunks, &CodeChunk{
			FilePath:    path,
			Content:     body,
			ContentType: ContentTypeMarkdown,
			Language:    "markdown",
			StartLine:   curStart,
			EndLine:     curStart + lineCount,
			Metadata: Metadata{
				ChunkType:   ChunkTypeSection,
				ParentScope: sec.headerPath,
				Extra: map[string]string{
					"header_level":  strconv.Itoa(sec.headerLevel),
					"section_title": sec.headerTitle,
				},
			},
			CreatedAt: now,
			UpdatedAt: now,
		})
		cur.Reset()
	}

	for i, para := range paragraphs {
		paraLines := strings.Count(para, "\n") + 1
		if cur.Len() > 0 && estimateTokens(cur.String())+estimateTokens(para) > c.options.MaxChunkTokens {
			flush()
			curStart = startLine + lineCount
			if i > 0 {
				cur.WriteString("<!-- Section: " + sec.headerPath + " -->\n\n")
			}
		}
		cur.WriteString(para)
		cur.WriteString("\n\n")
		lineCount += paraLines + 1
	}
	flush()
	return chunks
}

func (c *MarkdownChunker) chunkByParagraphs(path, content, headerPath string, startLine int, now time.Time) []*CodeChunk {
	paragraphs := splitParagraphs(content)
	var chunks []*CodeChunk
	var cur strings.Builder
	curStart := startLine
	lineCount := 0

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		body := cur.String()
		chunks = append(chunks, &CodeChunk{
			FilePath:    path,
			Content:     body,
			ContentType: ContentTypeMarkdown,
			Language:    "markdown",
			StartLine:   curStart,
			EndLine:     curStart + lineCount,
			Metadata:    Metadata{ChunkType: ChunkTypeSection, ParentScope: headerPath},
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		cur.Reset()
	}

	for _, para := range paragraphs {
		paraLines := strings.Count(para, "\n") + 1
		if cur.Len() > 0 && estimateTokens(cur.String())+estimateTokens(para) > c.options.MaxChunkTokens {
			flush()
			curStart = startLine + lineCount
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
		lineCount += paraLines + 1
	}
	flush()
	return chunks
}

func splitParagraphs(content string) []string {
	parts := strings.Split(content, "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// mergeAtomicBlocks re-joins paragraphs that were split in the middle of
// a fenced code block.
func (c *MarkdownChunker) mergeAtomicBlocks(paragraphs []string) []string {
	var result []string
	var inCode bool
	var buf strings.Builder

	for _, para := range paragraphs {
		if inCode {
			buf.WriteString("\n\n")
			buf.WriteString(para)
			if strings.Contains(para, "```") {
				result = append(result, buf.String())
				buf.Reset()
				inCode = false
			}
			continue
		}
		if fences := strings.Count(para, "```"); fences > 0 && fences%2 == 1 {
			inCode = true
			buf.WriteString(para)
			continue
		}
		result = append(result, para)
	}
	if inCode {
		result = append(result, buf.String())
	}
	return result
}

