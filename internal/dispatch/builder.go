package dispatch

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/AmirTlinov/context-finder-mcp/internal/assemble"
	"github.com/AmirTlinov/context-finder-mcp/internal/chunk"
	"github.com/AmirTlinov/context-finder-mcp/internal/embed"
	"github.com/AmirTlinov/context-finder-mcp/internal/graph"
	"github.com/AmirTlinov/context-finder-mcp/internal/persist"
	"github.com/AmirTlinov/context-finder-mcp/internal/search"
	"github.com/AmirTlinov/context-finder-mcp/internal/store"
)

// graphBuilds deduplicates concurrent graph builds per (root,
// language); callers for the same key share one build.
var graphBuilds singleflight.Group

// DefaultEngineBuilder loads a root's persisted state into an
// EngineBundle: corpus, per-model vector indices, graph (cached when
// fresh, rebuilt when not), and the graph-node store.
func DefaultEngineBuilder(registry *embed.Registry, profile *search.Profile) EngineBuilder {
	return func(ctx context.Context, root string) (*EngineBundle, error) {
		defaultModel := registry.Default()
		if defaultModel == nil {
			return nil, NewToolError(CodeConfigError, "no embedding models registered")
		}
		defaultSlug := embed.SlugForModelID(defaultModel.Info.ID)

		corpus, err := chunk.LoadCorpus(persist.CorpusPath(root, defaultSlug))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, NewToolError(CodeIndexMissing, "no index found for "+root)
			}
			return nil, NewToolError(CodeIndexCorrupt, "corpus failed to load").
				WithDetail("path", persist.CorpusPath(root, defaultSlug))
		}

		indices := make(map[string]store.VectorIndex)
		for _, id := range registry.IDs() {
			m, ok := registry.Get(id)
			if !ok {
				continue
			}
			idxPath := persist.IndexPath(root, embed.SlugForModelID(id))
			if _, err := os.Stat(idxPath); err != nil {
				continue
			}
			idx, err := store.NewHNSWVectorIndex(store.DefaultVectorIndexConfig(id, m.Info.Dimensions))
			if err != nil {
				continue
			}
			if err := idx.Load(idxPath); err != nil {
				_ = idx.Close()
				continue
			}
			indices[id] = idx
		}

		bundle := &EngineBundle{
			Engine:     search.New(corpus, indices, registry, profile, nil),
			IndexState: "fresh",
		}
		if len(indices) == 0 {
			bundle.IndexState = "stale"
		}

		lang := dominantLanguage(corpus)
		meta := persist.GraphMeta{
			SourceIndexMtimeMS: persist.IndexMtimeMS(root, defaultSlug),
			GraphLanguage:      lang,
			GraphDocVersion:    graph.DocVersion,
			TemplateHash:       registry.TemplateHash(),
		}
		cg := loadOrBuildGraph(root, lang, corpus, meta)
		bundle.Assembler = assemble.New(cg, corpus)

		if cg != nil {
			if ns, err := graph.LoadNodeStore(persist.GraphNodesPath(root, defaultSlug)); err == nil && ns.Fresh(meta) {
				bundle.NodeStore = ns
				bundle.NodeModel = defaultModel
			}
		}
		return bundle, nil
	}
}

// loadOrBuildGraph returns the root's code graph, from cache when the
// fingerprint matches, rebuilt (and re-cached) when not. Build faults
// are non-fatal: search proceeds without related context.
func loadOrBuildGraph(root, lang string, corpus *chunk.ChunkCorpus, meta persist.GraphMeta) *graph.CodeGraph {
	cachePath := persist.GraphCachePath(root)
	if cg, ok, err := graph.LoadCodeGraph(cachePath, meta); err == nil && ok {
		return cg
	}

	key := root + "\x00" + lang
	v, err, _ := graphBuilds.Do(key, func() (any, error) {
		var chunks []*chunk.CodeChunk
		for _, file := range corpus.Files() {
			chunks = append(chunks, corpus.FileChunks(file)...)
		}
		cg, err := graph.BuilderFor(lang).Build(chunks)
		if err != nil {
			return nil, err
		}
		_ = cg.Save(cachePath, meta)
		return cg, nil
	})
	if err != nil {
		return nil
	}
	return v.(*graph.CodeGraph)
}

// dominantLanguage picks the graph language by file-extension majority.
func dominantLanguage(corpus *chunk.ChunkCorpus) string {
	counts := map[string]int{}
	for _, f := range corpus.Files() {
		switch strings.ToLower(path.Ext(f)) {
		case ".go":
			counts["go"]++
		case ".ts", ".tsx", ".js", ".jsx":
			counts["typescript"]++
		case ".py":
			counts["python"]++
		case ".md":
			counts["markdown"]++
		default:
			counts["generic"]++
		}
	}
	best, bestN := "generic", 0
	for _, lang := range []string{"go", "typescript", "python", "markdown", "generic"} {
		if counts[lang] > bestN {
			best, bestN = lang, counts[lang]
		}
	}
	return best
}

// DefaultSignature fingerprints a root's state for engine-slot
// invalidation: root path, profile, and every model index's mtime.
func DefaultSignature(registry *embed.Registry, profile *search.Profile) SignatureFn {
	return func(root string) string {
		var b strings.Builder
		b.WriteString(root)
		b.WriteByte(0)
		b.WriteString(profile.Name)
		for _, id := range registry.IDs() {
			fmt.Fprintf(&b, "%c%s=%d", 0, id, persist.IndexMtimeMS(root, embed.SlugForModelID(id)))
		}
		return persist.Fingerprint(b.String())
	}
}
