package chunk

import (
	"github.com/AmirTlinov/context-finder-mcp/internal/persist"
)

// corpusFile is the on-disk corpus shape. The corpus is persisted
// separately from every embedding index so regenerating embeddings
// never re-derives chunk content.
type corpusFile struct {
	Version int          `json:"version"`
	Chunks  []*CodeChunk `json:"chunks"`
}

// corpusFileVersion guards the corpus schema.
const corpusFileVersion = 1

// SaveCorpus writes the corpus atomically to path, chunks in canonical
// (lexicographic id) order.
func SaveCorpus(c *ChunkCorpus, path string) error {
	file := corpusFile{Version: corpusFileVersion}
	for _, id := range c.AllIDs() {
		if ch, ok := c.Get(id); ok {
			file.Chunks = append(file.Chunks, ch)
		}
	}
	return persist.WriteJSONAtomic(path, file)
}

// LoadCorpus reads a persisted corpus.
func LoadCorpus(path string) (*ChunkCorpus, error) {
	var file corpusFile
	if err := persist.ReadJSON(path, &file); err != nil {
		return nil, err
	}
	corpus := NewChunkCorpus()
	for _, ch := range file.Chunks {
		corpus.Put(ch)
	}
	return corpus, nil
}
