package pack

import (
	"path"
	"sort"
	"strings"

	"github.com/AmirTlinov/context-finder-mcp/internal/chunk"
)

// topSymbolsPerDir bounds symbol listings in map entries.
const topSymbolsPerDir = 5

// MapEntry aggregates one directory.
type MapEntry struct {
	Dir        string   `json:"dir"`
	Files      int      `json:"files"`
	Chunks     int      `json:"chunks"`
	TopSymbols []string `json:"top_symbols,omitempty"`
}

// MapView is the directory aggregation served by the map tool.
type MapView struct {
	Depth   int        `json:"depth"`
	Entries []MapEntry `json:"entries"`
	Budget  Budget     `json:"budget"`
}

// BuildMap aggregates the corpus by directory up to depth. Entries are
// ordered by (chunk count desc, dir asc); tail entries are dropped when
// the serialized view exceeds maxChars.
func BuildMap(corpus *chunk.ChunkCorpus, depth, maxChars int) *MapView {
	if depth < 1 {
		depth = 2
	}
	if maxChars <= 0 {
		maxChars = DefaultOptions().MaxChars
	}

	type agg struct {
		files   map[string]bool
		chunks  int
		symbols []string
	}
	dirs := make(map[string]*agg)
	for _, file := range corpus.Files() {
		dir := truncateDir(path.Dir(file), depth)
		a, ok := dirs[dir]
		if !ok {
			a = &agg{files: make(map[string]bool)}
			dirs[dir] = a
		}
		a.files[file] = true
		for _, ch := range corpus.FileChunks(file) {
			a.chunks++
			if s := ch.Metadata.SymbolName; s != "" && len(a.symbols) < topSymbolsPerDir {
				a.symbols = append(a.symbols, s)
			}
		}
	}

	view := &MapView{Depth: depth, Budget: Budget{MaxChars: maxChars}}
	for dir, a := range dirs {
		view.Entries = append(view.Entries, MapEntry{
			Dir:        dir,
			Files:      len(a.files),
			Chunks:     a.chunks,
			TopSymbols: a.symbols,
		})
	}
	sort.Slice(view.Entries, func(i, j int) bool {
		if view.Entries[i].Chunks != view.Entries[j].Chunks {
			return view.Entries[i].Chunks > view.Entries[j].Chunks
		}
		return view.Entries[i].Dir < view.Entries[j].Dir
	})

	for {
		used := mapChars(view)
		if used <= maxChars {
			view.Budget.UsedChars = used
			return view
		}
		view.Budget.Truncated = true
		view.Budget.Truncation = TruncationMaxChars
		if len(view.Entries) == 0 {
			view.Budget.UsedChars = mapChars(view)
			return view
		}
		view.Entries = view.Entries[:len(view.Entries)-1]
		view.Budget.DroppedItems++
	}
}

func mapChars(view *MapView) int {
	used := 0
	for _, e := range view.Entries {
		used += len(e.Dir) + len(strings.Join(e.TopSymbols, " ")) + 24
	}
	return used
}

// truncateDir cuts a directory path to at most depth segments. The
// repo root aggregates as ".".
func truncateDir(dir string, depth int) string {
	if dir == "." || dir == "/" {
		return "."
	}
	parts := strings.Split(dir, "/")
	if len(parts) > depth {
		parts = parts[:depth]
	}
	return strings.Join(parts, "/")
}
