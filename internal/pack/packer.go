package pack

import (
	"encoding/json"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/gobwas/glob"

	"github.com/AmirTlinov/context-finder-mcp/internal/assemble"
	"github.com/AmirTlinov/context-finder-mcp/internal/chunk"
)

// docExtensions mark documentation chunks for prefer-code interleaving.
var docExtensions = map[string]bool{".md": true, ".rst": true, ".txt": true}

// IsDocPath reports whether a path is documentation by extension.
func IsDocPath(p string) bool {
	return docExtensions[strings.ToLower(path.Ext(p))]
}

// Build packs enriched results into an Output under opts' budget.
// Selection runs before budgeting: path filters, doc preference, and
// related attachment decide candidate items; the shrink ladder then
// cuts until the serialized pack fits.
func Build(query, modelID, profile string, enriched []*assemble.Enriched, opts Options) *Output {
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultOptions().MaxChars
	}

	selected := selectResults(enriched, opts)
	items := buildItems(selected, opts)

	out := &Output{
		Version: Version,
		Query:   query,
		ModelID: modelID,
		Profile: profile,
		Items:   items,
		Budget:  Budget{MaxChars: opts.MaxChars},
	}
	enforceBudget(out)
	return out
}

// selectResults applies include/exclude paths, the file pattern, and
// doc preference to the primary results, preserving score order within
// each class.
func selectResults(enriched []*assemble.Enriched, opts Options) []*assemble.Enriched {
	var matcher glob.Glob
	if opts.FilePattern != "" {
		if g, err := glob.Compile(opts.FilePattern); err == nil {
			matcher = g
		}
	}

	keep := func(p string) bool {
		if len(opts.IncludePaths) > 0 {
			ok := false
			for _, prefix := range opts.IncludePaths {
				if strings.HasPrefix(p, prefix) {
					ok = true
					break
				}
			}
			if !ok {
				return false
			}
		}
		for _, prefix := range opts.ExcludePaths {
			if strings.HasPrefix(p, prefix) {
				return false
			}
		}
		if matcher != nil && !matcher.Match(path.Base(p)) && !matcher.Match(p) {
			return false
		}
		return true
	}

	var code, docs []*assemble.Enriched
	for _, en := range enriched {
		p := en.Primary.Chunk.FilePath
		if !keep(p) {
			continue
		}
		if IsDocPath(p) {
			if !opts.IncludeDocs {
				continue
			}
			docs = append(docs, en)
		} else {
			code = append(code, en)
		}
	}

	if opts.PreferCode {
		return append(code, docs...)
	}
	// Merge back in original order.
	merged := make([]*assemble.Enriched, 0, len(code)+len(docs))
	ci, di := 0, 0
	for _, en := range enriched {
		if ci < len(code) && code[ci] == en {
			merged = append(merged, en)
			ci++
		} else if di < len(docs) && docs[di] == en {
			merged = append(merged, en)
			di++
		}
	}
	return merged
}

// buildItems flattens selected results into pack items: each primary
// followed by its surviving related chunks.
func buildItems(selected []*assemble.Enriched, opts Options) []Item {
	items := make([]Item, 0, len(selected)*2)
	for _, en := range selected {
		items = append(items, itemFromChunk(en.Primary.Chunk, RolePrimary, en.Primary.Score, nil, 0))

		related := en.Related
		if opts.RelatedMode == RelatedModeFocus {
			related = focusFilter(related, opts.QueryTokens)
		}
		max := opts.MaxRelatedPerPrimary
		if max <= 0 {
			max = DefaultOptions().MaxRelatedPerPrimary
		}
		if len(related) > max {
			related = related[:max]
		}
		for _, rc := range related {
			items = append(items, itemFromChunk(rc.Chunk, RoleRelated, rc.RelevanceScore, rc.RelationshipPath, rc.Distance))
		}
	}
	return items
}

// focusFilter keeps related chunks whose content contains at least one
// query token after light normalization.
func focusFilter(related []assemble.RelatedContext, tokens []string) []assemble.RelatedContext {
	if len(tokens) == 0 {
		return related
	}
	out := related[:0:0]
	for _, rc := range related {
		content := strings.ToLower(rc.Chunk.Content)
		for _, tok := range tokens {
			if tok != "" && strings.Contains(content, strings.ToLower(tok)) {
				out = append(out, rc)
				break
			}
		}
	}
	return out
}

func itemFromChunk(ch *chunk.CodeChunk, role string, score float64, relPath []string, distance int) Item {
	item := Item{
		ID:        ch.ID(),
		Role:      role,
		File:      ch.FilePath,
		StartLine: ch.StartLine,
		EndLine:   ch.EndLine,
		Symbol:    ch.Metadata.SymbolName,
		ChunkType: string(ch.Metadata.ChunkType),
		Score:     score,
		Imports:   ch.Metadata.ContextImports,
		Content:   ch.Content,
	}
	if role == RoleRelated {
		item.Relationship = strings.Join(relPath, ">")
		d := distance
		item.Distance = &d
	}
	return item
}

// serializedChars counts characters (not bytes) of the marshaled pack.
func serializedChars(out *Output) int {
	data, err := json.Marshal(out)
	if err != nil {
		return 0
	}
	return utf8.RuneCount(data)
}

// enforceBudget re-serializes and shrinks until the pack fits. The
// ladder drops whole items from the tail first, then strips the last
// surviving item field by field, and finally returns a valid empty
// pack rather than erroring.
func enforceBudget(out *Output) {
	for {
		used := serializedChars(out)
		if used <= out.Budget.MaxChars {
			settleUsedChars(out, used)
			return
		}
		out.Budget.Truncated = true
		out.Budget.Truncation = TruncationMaxChars
		if !shrinkOnce(out) {
			settleUsedChars(out, serializedChars(out))
			return
		}
	}
}

// settleUsedChars records used_chars, re-measuring once in case the
// digit width of the count itself changed the serialized length.
func settleUsedChars(out *Output, used int) {
	for i := 0; i < 3; i++ {
		out.Budget.UsedChars = used
		next := serializedChars(out)
		if next == used {
			return
		}
		used = next
	}
}

// shrinkOnce applies a single shrink step, returning false when there
// is nothing left to cut.
func shrinkOnce(out *Output) bool {
	if len(out.Items) > 1 {
		out.Items = out.Items[:len(out.Items)-1]
		out.Budget.DroppedItems++
		return true
	}
	if len(out.Items) == 1 {
		item := &out.Items[0]
		switch {
		case len(item.Imports) > 0:
			item.Imports = nil
		case utf8.RuneCountInString(item.Content) > 1:
			item.Content = halveContent(item.Content)
		case item.Relationship != "":
			item.Relationship = ""
		case item.Distance != nil:
			item.Distance = nil
		case item.ChunkType != "":
			item.ChunkType = ""
		case item.Symbol != "":
			item.Symbol = ""
		case item.Content != "":
			item.Content = ""
		default:
			out.Items = nil
			out.Budget.DroppedItems++
			return true
		}
		return true
	}
	return false
}

// halveContent cuts content roughly in half at a rune boundary.
func halveContent(s string) string {
	runes := utf8.RuneCountInString(s)
	target := runes / 2
	if target < 1 {
		return ""
	}
	count := 0
	for i := range s {
		if count == target {
			return s[:i]
		}
		count++
	}
	return s
}
