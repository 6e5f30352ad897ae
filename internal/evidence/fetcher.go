// Package evidence serves bounded, verified source slices. Agents hand
// back evidence pointers from earlier packs; the fetcher re-reads the
// named line span, hashes it, and either verifies the content is still
// what the pack saw (strict) or flags drift (soft).
package evidence

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	ferrors "github.com/AmirTlinov/context-finder-mcp/internal/errors"
	"github.com/AmirTlinov/context-finder-mcp/internal/pack"
)

// DefaultMaxLines is the per-item soft line cap when the caller gives
// none.
const DefaultMaxLines = 200

// Pointer names a verifiable slice of a file.
type Pointer struct {
	File       string `json:"file"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
	SourceHash string `json:"source_hash,omitempty"`
}

// Slice is one fetched span.
type Slice struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Content   string `json:"content"`
	Hash      string `json:"hash"`
	Stale     bool   `json:"stale,omitempty"`
}

// Result is the fetch output with its budget accounting.
type Result struct {
	Items  []Slice     `json:"items"`
	Budget pack.Budget `json:"budget"`
}

// HashSlice is the canonical slice digest: hex sha256 over the emitted
// content string (lines joined by \n, no trailing newline). Pack
// builders and the fetcher must agree on this or verification is
// meaningless.
func HashSlice(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Fetch reads each pointer's span from disk under root. strictHash
// makes a hash mismatch fatal (invalid_request with the offending
// pointer in details); otherwise mismatched slices are emitted with
// stale=true. maxLines soft-caps each item before maxChars bounds the
// whole result.
func Fetch(root string, items []Pointer, maxChars, maxLines int, strictHash bool) (*Result, error) {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	if maxChars <= 0 {
		maxChars = 20000
	}

	res := &Result{Items: make([]Slice, 0, len(items)), Budget: pack.Budget{MaxChars: maxChars}}
	for i, ptr := range items {
		if ptr.File == "" || ptr.StartLine < 1 || ptr.EndLine < ptr.StartLine {
			return nil, ferrors.New(ferrors.ErrCodeInvalidInput,
				fmt.Sprintf("evidence pointer %d is malformed", i), nil).
				WithDetail("file", ptr.File).
				WithDetail("span", fmt.Sprintf("L%d-L%d", ptr.StartLine, ptr.EndLine))
		}

		content, err := readSpan(filepath.Join(root, filepath.FromSlash(ptr.File)), ptr.StartLine, ptr.EndLine, maxLines)
		if err != nil {
			return nil, ferrors.New(ferrors.ErrCodeFileNotFound,
				fmt.Sprintf("read %s: %v", ptr.File, err), err).
				WithDetail("file", ptr.File)
		}

		hash := HashSlice(content)
		stale := false
		if ptr.SourceHash != "" && !strings.EqualFold(ptr.SourceHash, hash) {
			if strictHash {
				return nil, ferrors.New(ferrors.ErrCodeInvalidInput,
					fmt.Sprintf("evidence hash mismatch for %s L%d-L%d", ptr.File, ptr.StartLine, ptr.EndLine), nil).
					WithDetail("file", ptr.File).
					WithDetail("expected_hash", ptr.SourceHash).
					WithDetail("actual_hash", hash).
					WithSuggestion("Re-run the originating search; the file changed since the pack was built.")
			}
			stale = true
		}

		res.Items = append(res.Items, Slice{
			File:      ptr.File,
			StartLine: ptr.StartLine,
			EndLine:   ptr.EndLine,
			Content:   content,
			Hash:      hash,
			Stale:     stale,
		})
	}

	enforceBudget(res)
	return res, nil
}

// readSpan reads [start, end] (1-indexed, inclusive) from path,
// soft-capped at maxLines lines.
func readSpan(path string, start, end, maxLines int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	if end-start+1 > maxLines {
		end = start + maxLines - 1
	}

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo < start {
			continue
		}
		if lineNo > end {
			break
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("span L%d-L%d beyond end of file (%d lines)", start, end, lineNo)
	}
	return strings.Join(lines, "\n"), nil
}

// enforceBudget trims the result the same way the context packer does:
// whole items from the tail first, then the last item's content halved
// until the total character count fits.
func enforceBudget(res *Result) {
	for {
		used := 0
		for _, it := range res.Items {
			used += utf8.RuneCountInString(it.Content)
		}
		if used <= res.Budget.MaxChars {
			res.Budget.UsedChars = used
			return
		}
		res.Budget.Truncated = true
		res.Budget.Truncation = pack.TruncationMaxChars
		if len(res.Items) > 1 {
			res.Items = res.Items[:len(res.Items)-1]
			res.Budget.DroppedItems++
			continue
		}
		last := &res.Items[0]
		if utf8.RuneCountInString(last.Content) <= 1 {
			last.Content = ""
			res.Budget.UsedChars = 0
			return
		}
		last.Content = halve(last.Content)
	}
}

func halve(s string) string {
	target := utf8.RuneCountInString(s) / 2
	count := 0
	for i := range s {
		if count == target {
			return s[:i]
		}
		count++
	}
	return s
}
