// Package ingest is the indexing coordinator: scan the repository,
// chunk each file, persist the corpus, embed chunks per registered
// model into vector indexes, and refresh the graph caches. It is the
// write path feeding everything the retrieval pipeline reads.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/AmirTlinov/context-finder-mcp/internal/chunk"
	"github.com/AmirTlinov/context-finder-mcp/internal/embed"
	"github.com/AmirTlinov/context-finder-mcp/internal/graph"
	"github.com/AmirTlinov/context-finder-mcp/internal/persist"
	"github.com/AmirTlinov/context-finder-mcp/internal/scanner"
	"github.com/AmirTlinov/context-finder-mcp/internal/store"
)

// embedBatchSize bounds each EmbedBatch call.
const embedBatchSize = 32

// Run builds (or rebuilds) the persisted index state for root.
func Run(ctx context.Context, root string, registry *embed.Registry, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	defaultModel := registry.Default()
	if defaultModel == nil {
		return fmt.Errorf("no embedding models registered")
	}
	defaultSlug := embed.SlugForModelID(defaultModel.Info.ID)

	lock, err := persist.NewLock(persist.IndexPath(root, defaultSlug))
	if err != nil {
		return err
	}
	if err := lock.Lock(); err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	corpus, err := scanAndChunk(ctx, root, logger)
	if err != nil {
		return err
	}
	if err := chunk.SaveCorpus(corpus, persist.CorpusPath(root, defaultSlug)); err != nil {
		return fmt.Errorf("save corpus: %w", err)
	}
	logger.Info("corpus persisted", "chunks", corpus.Len(), "files", len(corpus.Files()))

	for _, id := range registry.IDs() {
		m, ok := registry.Get(id)
		if !ok {
			continue
		}
		if err := buildVectorIndex(ctx, root, corpus, m); err != nil {
			// One model failing never blocks the others; search
			// degrades to the models that did build.
			logger.Warn("vector index build failed", "model", id, "error", err)
		}
	}

	return buildGraphArtifacts(ctx, root, corpus, registry, defaultModel, defaultSlug, logger)
}

// scanAndChunk walks the repository and chunks every supported file.
func scanAndChunk(ctx context.Context, root string, logger *slog.Logger) (*chunk.ChunkCorpus, error) {
	sc, err := scanner.New()
	if err != nil {
		return nil, fmt.Errorf("create scanner: %w", err)
	}
	results, err := sc.Scan(ctx, &scanner.ScanOptions{
		RootDir:          root,
		RespectGitignore: true,
		ExcludePatterns:  []string{persist.StateDirName + "/**"},
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	code := chunk.NewHeuristicChunker()
	markdown := chunk.NewMarkdownChunker()
	corpus := chunk.NewChunkCorpus()

	for res := range results {
		if res.Error != nil {
			logger.Debug("scan error", "error", res.Error)
			continue
		}
		file := res.File
		content, err := os.ReadFile(file.AbsPath)
		if err != nil {
			logger.Debug("read failed", "path", file.Path, "error", err)
			continue
		}
		input := &chunk.FileInput{
			Path:     chunk.NormalizePath(file.Path),
			Content:  content,
			Language: file.Language,
		}
		var chunks []*chunk.CodeChunk
		if strings.EqualFold(path.Ext(file.Path), ".md") {
			chunks, err = markdown.Chunk(ctx, input)
		} else {
			chunks, err = code.Chunk(ctx, input)
		}
		if err != nil {
			logger.Debug("chunking failed", "path", file.Path, "error", err)
			continue
		}
		corpus.PutAll(input.Path, chunks)
	}
	return corpus, nil
}

// buildVectorIndex embeds every chunk with one model and persists its
// index.
func buildVectorIndex(ctx context.Context, root string, corpus *chunk.ChunkCorpus, m *embed.Model) error {
	ids := corpus.AllIDs()
	idx, err := store.NewHNSWVectorIndex(store.DefaultVectorIndexConfig(m.Info.ID, m.Info.Dimensions))
	if err != nil {
		return err
	}
	defer func() { _ = idx.Close() }()

	for start := 0; start < len(ids); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batchIDs := ids[start:end]
		texts := make([]string, len(batchIDs))
		for i, id := range batchIDs {
			ch, _ := corpus.Get(id)
			texts[i] = ch.Content
		}
		vectors, err := m.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		if err := idx.Add(batchIDs, vectors); err != nil {
			return fmt.Errorf("index batch: %w", err)
		}
	}
	return idx.Save(persist.IndexPath(root, embed.SlugForModelID(m.Info.ID)))
}

// buildGraphArtifacts refreshes the graph cache and node store.
func buildGraphArtifacts(ctx context.Context, root string, corpus *chunk.ChunkCorpus, registry *embed.Registry, defaultModel *embed.Model, defaultSlug string, logger *slog.Logger) error {
	lang := dominantLanguage(corpus)
	meta := persist.GraphMeta{
		SourceIndexMtimeMS: persist.IndexMtimeMS(root, defaultSlug),
		GraphLanguage:      lang,
		GraphDocVersion:    graph.DocVersion,
		TemplateHash:       registry.TemplateHash(),
	}

	var chunks []*chunk.CodeChunk
	for _, file := range corpus.Files() {
		chunks = append(chunks, corpus.FileChunks(file)...)
	}
	cg, err := graph.BuilderFor(lang).Build(chunks)
	if err != nil {
		// Graph faults are non-fatal: search works without related
		// context.
		logger.Warn("graph build failed", "language", lang, "error", err)
		return nil
	}
	if err := cg.Save(persist.GraphCachePath(root), meta); err != nil {
		logger.Warn("graph cache save failed", "error", err)
	}

	ns, err := graph.BuildNodeStore(ctx, cg, defaultModel, meta)
	if err != nil {
		logger.Warn("graph node store build failed", "error", err)
		return nil
	}
	if err := ns.Save(persist.GraphNodesPath(root, defaultSlug)); err != nil {
		logger.Warn("graph node store save failed", "error", err)
	}
	return nil
}

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
