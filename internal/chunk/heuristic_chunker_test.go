package chunk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicChunker_Go(t *testing.T) {
	src := `package main

import "fmt"

// Greet prints a greeting.
func Greet(name string) {
	fmt.Println("hello", name)
}

type Server struct {
	Addr string
}
`
	c := NewHeuristicChunker()
	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "main.go", Content: []byte(src), Language: "go"})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	var names []string
	for _, ch := range chunks {
		if ch.Metadata.SymbolName != "" {
			names = append(names, ch.Metadata.SymbolName)
		}
	}
	assert.Contains(t, names, "Greet")
	assert.Contains(t, names, "Server")

	for _, ch := range chunks {
		assert.Equal(t, ch.EndLine-ch.StartLine+1, ch.LineCount())
		assert.GreaterOrEqual(t, ch.EndLine, ch.StartLine)
	}
}

func TestHeuristicChunker_EmptyFile(t *testing.T) {
	c := NewHeuristicChunker()
	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "empty.go", Content: []byte("   \n\n"), Language: "go"})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestHeuristicChunker_UnknownLanguageWholeFile(t *testing.T) {
	c := NewHeuristicChunker()
	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "data.txt", Content: []byte("just some text"), Language: "text"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].StartLine)
}

func TestChunkCorpus_LookupDropsMisses(t *testing.T) {
	corpus := NewChunkCorpus()
	ch := &CodeChunk{FilePath: "a.go", StartLine: 1, EndLine: 3}
	corpus.Put(ch)

	got := corpus.Lookup([]string{ch.ID(), "missing:1:2"})
	require.Len(t, got, 1)
	assert.Equal(t, ch.ID(), got[0].ID())
}

func TestChunkCorpus_PutAllReplacesFile(t *testing.T) {
	corpus := NewChunkCorpus()
	corpus.PutAll("a.go", []*CodeChunk{{FilePath: "a.go", StartLine: 1, EndLine: 2}})
	require.Equal(t, 1, corpus.Len())

	corpus.PutAll("a.go", []*CodeChunk{{FilePath: "a.go", StartLine: 5, EndLine: 9}})
	require.Equal(t, 1, corpus.Len())
	chunks := corpus.FileChunks("a.go")
	require.Len(t, chunks, 1)
	assert.Equal(t, 5, chunks[0].StartLine)
}

func TestChunkCorpus_AllIDsSorted(t *testing.T) {
	corpus := NewChunkCorpus()
	corpus.Put(&CodeChunk{FilePath: "b.go", StartLine: 1, EndLine: 2})
	corpus.Put(&CodeChunk{FilePath: "a.go", StartLine: 1, EndLine: 2})
	ids := corpus.AllIDs()
	require.Len(t, ids, 2)
	assert.True(t, ids[0] < ids[1])
}
