package recall

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Grep bounds.
const (
	maxGrepFileBytes = 2 * 1024 * 1024
	maxGrepDepth     = 8
)

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, "target": true,
	".context-finder": true, "dist": true, "build": true,
}

// Snippet is one emitted evidence slice.
type Snippet struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Content   string `json:"content"`
}

// grepOptions scope one grep pass.
type grepOptions struct {
	includePath  string // repo-relative prefix, "" = everywhere
	contextLines int
	maxSnippets  int
	codeOnly     bool
}

// GrepOptions is the exported scope for callers outside the recall
// loop (the grep_context tool reuses this scanner).
type GrepOptions struct {
	IncludePath  string
	ContextLines int
	MaxSnippets  int
	CodeOnly     bool
}

// Grep scans files under root for pattern with the same bounds the
// recall loop uses (2MB per file, bounded depth, deterministic order).
func Grep(root string, pattern *regexp.Regexp, opts GrepOptions) []Snippet {
	return grepRepo(root, pattern, grepOptions{
		includePath:  opts.IncludePath,
		contextLines: opts.ContextLines,
		maxSnippets:  opts.MaxSnippets,
		codeOnly:     opts.CodeOnly,
	})
}

// ReadSlice reads a bounded window of a repo-relative file, centered
// on line when line > 0.
func ReadSlice(root, rel string, line, contextLines int) (Snippet, bool) {
	return readFileSlice(root, rel, line, contextLines)
}

// grepRepo scans files under root for pattern, returning up to
// maxSnippets snippets with context. Files above the size cap are
// skipped; binary-looking files too. Traversal order is sorted so
// results are deterministic.
func grepRepo(root string, pattern *regexp.Regexp, opts grepOptions) []Snippet {
	if opts.maxSnippets <= 0 {
		opts.maxSnippets = 3
	}
	var snippets []Snippet

	var walk func(dir, rel string, depth int)
	walk = func(dir, rel string, depth int) {
		if len(snippets) >= opts.maxSnippets || depth > maxGrepDepth {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, e := range entries {
			if len(snippets) >= opts.maxSnippets {
				return
			}
			name := e.Name()
			relPath := name
			if rel != "" {
				relPath = rel + "/" + name
			}
			if e.IsDir() {
				if skipDirs[name] || strings.HasPrefix(name, ".") {
					continue
				}
				walk(filepath.Join(dir, name), relPath, depth+1)
				continue
			}
			if opts.includePath != "" && !strings.HasPrefix(relPath+"/", opts.includePath) && !strings.HasPrefix(relPath, opts.includePath) {
				continue
			}
			if opts.codeOnly && isDocFile(relPath) {
				continue
			}
			if info, err := e.Info(); err != nil || info.Size() > maxGrepFileBytes {
				continue
			}
			snippets = append(snippets, grepFile(filepath.Join(dir, name), relPath, pattern, opts, opts.maxSnippets-len(snippets))...)
		}
	}
	walk(root, "", 0)
	return snippets
}

// grepFile returns up to remaining snippets from one file.
func grepFile(path, rel string, pattern *regexp.Regexp, opts grepOptions, remaining int) []Snippet {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxGrepFileBytes)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.ContainsRune(line, 0) {
			return nil // binary
		}
		lines = append(lines, line)
	}
	if scanner.Err() != nil {
		return nil
	}

	var out []Snippet
	for i := 0; i < len(lines) && len(out) < remaining; i++ {
		if !pattern.MatchString(lines[i]) {
			continue
		}
		start := i - opts.contextLines
		if start < 0 {
			start = 0
		}
		end := i + opts.contextLines
		if end >= len(lines) {
			end = len(lines) - 1
		}
		out = append(out, Snippet{
			File:      rel,
			StartLine: start + 1,
			EndLine:   end + 1,
			Content:   strings.Join(lines[start:end+1], "\n"),
		})
		// Skip past this snippet's window to avoid overlapping hits.
		i = end
	}
	return out
}

func isDocFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".rst", ".txt":
		return true
	}
	return false
}

// readFileSlice reads a window around line (or the head when line is
// 0) from a repo-relative file.
func readFileSlice(root, rel string, line, contextLines int) (Snippet, bool) {
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return Snippet{}, false
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxGrepFileBytes)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if scanner.Err() != nil || len(lines) == 0 {
		return Snippet{}, false
	}

	if contextLines < 1 {
		contextLines = 3
	}
	start, end := 0, len(lines)-1
	if line > 0 {
		start = line - 1 - contextLines
		if start < 0 {
			start = 0
		}
		end = line - 1 + contextLines
		if end >= len(lines) {
			end = len(lines) - 1
		}
	} else if end > 2*contextLines {
		end = 2 * contextLines
	}
	return Snippet{
		File:      rel,
		StartLine: start + 1,
		EndLine:   end + 1,
		Content:   strings.Join(lines[start:end+1], "\n"),
	}, true
}
