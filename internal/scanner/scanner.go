// Package scanner discovers the files worth indexing under a project
// root: a bounded walk that honors .gitignore (shared matcher with the
// watcher), skips binaries, flags generated output, and never descends
// into the index state directory — indexing must not index itself.
package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/AmirTlinov/context-finder-mcp/internal/gitignore"
	"github.com/AmirTlinov/context-finder-mcp/internal/persist"
)

// defaultExcludedDirs never yield indexable content regardless of
// gitignore state.
var defaultExcludedDirs = map[string]bool{
	".git":               true,
	persist.StateDirName: true,
	"node_modules":       true,
	"vendor":             true,
	"target":             true,
	"dist":               true,
	"__pycache__":        true,
}

// binaryProbeSize is how many leading bytes are inspected for NULs.
const binaryProbeSize = 8000

// generatedProbeLines bounds the header scan for generated-file
// markers.
const generatedProbeLines = 10

// Scanner walks project roots. It is stateless across scans; every
// Scan builds its ignore rules fresh so edits to .gitignore take
// effect on the next pass.
type Scanner struct{}

// New creates a scanner.
func New() (*Scanner, error) {
	return &Scanner{}, nil
}

// Scan walks opts.RootDir and streams results. The channel closes when
// the walk finishes or ctx is cancelled; per-file faults arrive as
// ScanResult.Error and never abort the walk.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (<-chan ScanResult, error) {
	if opts == nil || opts.RootDir == "" {
		return nil, fmt.Errorf("scan requires a root directory")
	}
	root, err := filepath.Abs(opts.RootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", opts.RootDir, err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	var ignore *gitignore.Matcher
	if opts.RespectGitignore {
		ignore = buildIgnoreMatcher(root)
	}
	exclude := patternMatcher(opts.ExcludePatterns)
	include := patternMatcher(opts.IncludePatterns)

	results := make(chan ScanResult, 64)
	go func() {
		defer close(results)
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if walkErr != nil {
				emit(ctx, results, ScanResult{Error: walkErr})
				return nil
			}

			rel, err := filepath.Rel(root, path)
			if err != nil || rel == "." {
				return nil
			}
			rel = filepath.ToSlash(rel)

			if d.IsDir() {
				if excludeDir(rel, d.Name(), ignore, exclude) {
					return filepath.SkipDir
				}
				return nil
			}
			if excludeFile(rel, ignore, exclude, include) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				emit(ctx, results, ScanResult{Error: fmt.Errorf("stat %s: %w", rel, err)})
				return nil
			}
			if info.Size() > maxSize || info.Mode()&os.ModeSymlink != 0 {
				return nil
			}

			header, err := readHeader(path)
			if err != nil {
				emit(ctx, results, ScanResult{Error: fmt.Errorf("read %s: %w", rel, err)})
				return nil
			}
			if isBinary(header) {
				return nil
			}

			emit(ctx, results, ScanResult{File: &FileInfo{
				Path:        rel,
				AbsPath:     path,
				Size:        info.Size(),
				ModTime:     info.ModTime(),
				ContentType: contentTypeFor(rel),
				Language:    languageFor(rel),
				IsGenerated: isGenerated(header),
			}})
			return nil
		})
	}()
	return results, nil
}

func emit(ctx context.Context, out chan<- ScanResult, res ScanResult) {
	select {
	case out <- res:
	case <-ctx.Done():
	}
}

// buildIgnoreMatcher layers every .gitignore under root, scoped to its
// directory.
func buildIgnoreMatcher(root string) *gitignore.Matcher {
	m := gitignore.New()
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if defaultExcludedDirs[d.Name()] && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != ".gitignore" {
			return nil
		}
		base, rerr := filepath.Rel(root, filepath.Dir(path))
		if rerr != nil {
			return nil
		}
		if base == "." {
			base = ""
		}
		_ = m.AddFromFile(path, filepath.ToSlash(base))
		return nil
	})
	return m
}

func excludeDir(rel, name string, ignore, exclude *gitignore.Matcher) bool {
	if defaultExcludedDirs[name] || strings.HasPrefix(name, ".") {
		return true
	}
	if ignore != nil && ignore.Match(rel, true) {
		return true
	}
	return exclude != nil && exclude.Match(rel, true)
}

func excludeFile(rel string, ignore, exclude, include *gitignore.Matcher) bool {
	base := filepath.Base(rel)
	if strings.HasPrefix(base, ".") && base != ".gitignore" && base != ".env.example" {
		return true
	}
	if ignore != nil && ignore.Match(rel, false) {
		return true
	}
	if exclude != nil && exclude.Match(rel, false) {
		return true
	}
	if include != nil && !include.Match(rel, false) {
		return true
	}
	return false
}

// patternMatcher compiles option patterns through the gitignore
// matcher so config patterns behave exactly like .gitignore lines.
func patternMatcher(patterns []string) *gitignore.Matcher {
	if len(patterns) == 0 {
		return nil
	}
	m := gitignore.New()
	for _, p := range patterns {
		m.AddPattern(p)
	}
	return m
}

// readHeader reads the probe window from a file.
func readHeader(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	buf := make([]byte, binaryProbeSize)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

// isBinary treats any NUL in the probe window as binary, the same
// heuristic git uses.
func isBinary(header []byte) bool {
	return bytes.IndexByte(header, 0) >= 0
}

// generatedMarkers identify machine-written files that would pollute
// search results.
var generatedMarkers = []string{
	"Code generated",
	"DO NOT EDIT",
	"@generated",
	"Autogenerated by",
}

func isGenerated(header []byte) bool {
	lines := strings.SplitN(string(header), "\n", generatedProbeLines+1)
	if len(lines) > generatedProbeLines {
		lines = lines[:generatedProbeLines]
	}
	for _, line := range lines {
		for _, marker := range generatedMarkers {
			if strings.Contains(line, marker) {
				return true
			}
		}
	}
	return false
}
