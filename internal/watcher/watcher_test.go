package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_CoalescesBurst(t *testing.T) {
	out := make(chan []FileEvent, 1)
	d := newDebouncer(20*time.Millisecond, out, nil)

	d.add(FileEvent{Path: "a.go", Operation: OpCreate})
	d.add(FileEvent{Path: "a.go", Operation: OpModify})
	d.add(FileEvent{Path: "b.go", Operation: OpModify})

	select {
	case batch := <-out:
		require.Len(t, batch, 2)
		assert.Equal(t, "a.go", batch[0].Path)
		assert.Equal(t, OpModify, batch[0].Operation, "last operation per path wins")
		assert.Equal(t, "b.go", batch[1].Path)
	case <-time.After(time.Second):
		t.Fatal("debouncer never flushed")
	}
}

func TestDebouncer_DropsWhenConsumerIsBehind(t *testing.T) {
	out := make(chan []FileEvent) // unbuffered, nobody reading
	drops := 0
	d := newDebouncer(5*time.Millisecond, out, func() { drops++ })

	d.add(FileEvent{Path: "a.go", Operation: OpModify})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, drops)
}

func TestDebouncer_StopDiscardsPending(t *testing.T) {
	out := make(chan []FileEvent, 1)
	d := newDebouncer(10*time.Millisecond, out, nil)
	d.add(FileEvent{Path: "a.go", Operation: OpModify})
	d.stop()
	select {
	case <-out:
		t.Fatal("stopped debouncer must not flush")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPoller_DiffDetectsCreateModifyDelete(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte(content), 0o644))
	}
	write("a.go", "package a")

	p := newPoller(root, func(string, bool) bool { return false })
	assert.Nil(t, p.diff(), "first diff only establishes the baseline")

	write("b.go", "package b")
	events := p.diff()
	require.Len(t, events, 1)
	assert.Equal(t, "b.go", events[0].Path)
	assert.Equal(t, OpCreate, events[0].Operation)

	// Backdate then rewrite to force a visible mtime change.
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "a.go"), old, old))
	p.prev = p.scan()
	write("a.go", "package a // changed")
	events = p.diff()
	require.Len(t, events, 1)
	assert.Equal(t, OpModify, events[0].Operation)

	require.NoError(t, os.Remove(filepath.Join(root, "b.go")))
	events = p.diff()
	require.Len(t, events, 1)
	assert.Equal(t, "b.go", events[0].Path)
	assert.Equal(t, OpDelete, events[0].Operation)
}

func TestPoller_HonorsIgnore(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".context-finder"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".context-finder", "index.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0o644))

	p := newPoller(root, func(rel string, _ bool) bool {
		return rel == ".context-finder" || filepath.Dir(rel) == ".context-finder"
	})
	snap := p.scan()
	assert.Contains(t, snap, "main.go")
	assert.NotContains(t, snap, ".context-finder/index.json")
}

func TestHybridWatcher_EmitsDebouncedBatches(t *testing.T) {
	root := t.TempDir()
	w, err := NewHybridWatcher(Options{DebounceWindow: 30 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, root))
	defer func() { _ = w.Stop() }()

	// Give the watch registration a beat, then create a file.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "new.go"), []byte("package x"), 0o644))

	select {
	case batch := <-w.Events():
		require.NotEmpty(t, batch)
		assert.Equal(t, "new.go", batch[0].Path)
	case <-time.After(3 * time.Second):
		t.Fatal("no batch emitted")
	}
}

func TestHybridWatcher_IgnoresStateDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".context-finder", "indexes"), 0o755))

	w, err := NewHybridWatcher(Options{DebounceWindow: 20 * time.Millisecond})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, root))
	defer func() { _ = w.Stop() }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(
		filepath.Join(root, ".context-finder", "indexes", "index.json"), []byte("{}"), 0o644))

	select {
	case batch := <-w.Events():
		t.Fatalf("state-dir write must not produce events, got %v", batch)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestHybridWatcher_GitignoreRulesApply(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("*.log\n"), 0o644))

	w, err := NewHybridWatcher(Options{DebounceWindow: 20 * time.Millisecond})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, root))
	defer func() { _ = w.Stop() }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "noise.log"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "signal.go"), []byte("package x"), 0o644))

	select {
	case batch := <-w.Events():
		for _, ev := range batch {
			assert.NotEqual(t, "noise.log", ev.Path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no batch emitted")
	}
}

func TestHybridWatcher_StopIsIdempotent(t *testing.T) {
	w, err := NewHybridWatcher(Options{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, t.TempDir()))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}

func TestOperationString(t *testing.T) {
	assert.Equal(t, "CREATE", OpCreate.String())
	assert.Equal(t, "DELETE", OpDelete.String())
	assert.Equal(t, "UNKNOWN", Operation(99).String())
}
