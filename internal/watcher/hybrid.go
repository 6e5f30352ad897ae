package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AmirTlinov/context-finder-mcp/internal/gitignore"
	"github.com/AmirTlinov/context-finder-mcp/internal/persist"
)

// HybridWatcher watches a root with fsnotify, falling back to mtime
// polling when the platform watcher cannot be created. Both modes
// funnel through the same debouncer and ignore rules.
type HybridWatcher struct {
	opts    Options
	events  chan []FileEvent
	errs    chan error
	stopCh  chan struct{}
	dropped atomic.Uint64

	mu      sync.Mutex
	root    string
	ignore  *gitignore.Matcher
	fsw     *fsnotify.Watcher
	deb     *debouncer
	started bool
	stopped bool
}

// NewHybridWatcher creates a watcher; nothing runs until Start.
func NewHybridWatcher(opts Options) (*HybridWatcher, error) {
	opts = opts.WithDefaults()
	h := &HybridWatcher{
		opts:   opts,
		events: make(chan []FileEvent, opts.EventBufferSize),
		errs:   make(chan error, 8),
		stopCh: make(chan struct{}),
	}
	h.deb = newDebouncer(opts.DebounceWindow, h.events, func() { h.dropped.Add(1) })
	return h, nil
}

var _ Watcher = (*HybridWatcher)(nil)

// Events returns the debounced batch channel.
func (h *HybridWatcher) Events() <-chan []FileEvent { return h.events }

// Errors returns the non-fatal error channel.
func (h *HybridWatcher) Errors() <-chan error { return h.errs }

// DroppedBatches reports batches discarded because the consumer fell
// behind.
func (h *HybridWatcher) DroppedBatches() uint64 { return h.dropped.Load() }

// Start begins watching path until Stop or ctx cancellation.
func (h *HybridWatcher) Start(ctx context.Context, path string) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = true
	h.root = path
	h.ignore = h.buildIgnoreMatcher(path)
	h.mu.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		if err = h.addRecursive(fsw, path); err != nil {
			_ = fsw.Close()
			fsw = nil
		}
	} else {
		fsw = nil
	}

	if fsw != nil {
		h.mu.Lock()
		h.fsw = fsw
		h.mu.Unlock()
		go h.runFsnotify(ctx, fsw)
		return nil
	}

	// Polling fallback.
	p := newPoller(path, h.isIgnored)
	if !p.usable() {
		return &os.PathError{Op: "watch", Path: path, Err: os.ErrNotExist}
	}
	go h.runPolling(ctx, p)
	return nil
}

// Stop halts watching; pending debounced events are discarded.
func (h *HybridWatcher) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil
	}
	h.stopped = true
	close(h.stopCh)
	h.deb.stop()
	if h.fsw != nil {
		_ = h.fsw.Close()
		h.fsw = nil
	}
	return nil
}

// buildIgnoreMatcher layers the built-in state-dir rules, the caller's
// extra patterns, and every .gitignore under the root.
func (h *HybridWatcher) buildIgnoreMatcher(root string) *gitignore.Matcher {
	m := gitignore.New()
	m.AddPattern(".git/")
	m.AddPattern(persist.StateDirName + "/")
	m.AddPattern(persist.StateDirName + "/**")
	for _, p := range h.opts.IgnorePatterns {
		m.AddPattern(p)
	}

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
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
		if aerr := m.AddFromFile(path, filepath.ToSlash(base)); aerr != nil {
			h.emitError(aerr)
		}
		return nil
	})
	return m
}

func (h *HybridWatcher) isIgnored(rel string, isDir bool) bool {
	h.mu.Lock()
	m := h.ignore
	h.mu.Unlock()
	return m != nil && m.Match(rel, isDir)
}

// addRecursive registers every non-ignored directory with fsnotify
// (inotify is not recursive).
func (h *HybridWatcher) addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return nil
		}
		if rel != "." && h.isIgnored(filepath.ToSlash(rel), true) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

// runFsnotify forwards platform events into the debouncer.
func (h *HybridWatcher) runFsnotify(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return
		case <-h.stopCh:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			h.handleFsEvent(fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			h.emitError(err)
		}
	}
}

func (h *HybridWatcher) handleFsEvent(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	rel, err := filepath.Rel(h.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	info, statErr := os.Stat(ev.Name)
	isDir := statErr == nil && info.IsDir()
	if h.isIgnored(rel, isDir) {
		return
	}

	// New directories must be added to the watch set before anything
	// inside them changes.
	if ev.Op.Has(fsnotify.Create) && isDir {
		_ = h.addRecursive(fsw, ev.Name)
	}
	if isDir {
		return // directory-level noise; file events carry the signal
	}

	op := OpModify
	switch {
	case ev.Op.Has(fsnotify.Create):
		op = OpCreate
	case ev.Op.Has(fsnotify.Remove):
		op = OpDelete
	case ev.Op.Has(fsnotify.Rename):
		op = OpRename
	case ev.Op == fsnotify.Chmod:
		return // chmod alone never changes content
	}
	ts := time.Now()
	if statErr == nil {
		ts = info.ModTime()
	}
	h.deb.add(FileEvent{Path: rel, Operation: op, Timestamp: ts})
}

// runPolling drives the fallback poller on the configured interval.
func (h *HybridWatcher) runPolling(ctx context.Context, p *poller) {
	ticker := time.NewTicker(h.opts.PollInterval)
	defer ticker.Stop()

	p.diff() // establish the baseline
	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			for _, ev := range p.diff() {
				h.deb.add(ev)
			}
		}
	}
}

func (h *HybridWatcher) emitError(err error) {
	select {
	case h.errs <- err:
	default:
	}
}
