// Package watcher reports debounced file-change batches for a project
// root so the indexer can re-ingest incrementally. It prefers fsnotify
// and falls back to mtime polling on filesystems where inotify is
// unavailable (network mounts, some containers). Ignore rules share
// the gitignore matcher with the scanner, and the index state
// directory is always ignored so index writes never feed back into
// change detection.
package watcher

import (
	"context"
	"time"
)

// Operation is the kind of change observed.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
)

// String returns a human-readable operation name.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one observed change, path relative to the watched root.
type FileEvent struct {
	Path      string
	Operation Operation
	Timestamp time.Time
}

// Options configures a watcher.
type Options struct {
	// DebounceWindow is the quiet period before a batch is emitted;
	// editors save in bursts and one re-index per burst is enough.
	DebounceWindow time.Duration

	// PollInterval is the snapshot interval in polling fallback mode.
	PollInterval time.Duration

	// EventBufferSize is the batch channel capacity; full-channel
	// batches are dropped and counted rather than blocking the
	// producer.
	EventBufferSize int

	// IgnorePatterns are extra gitignore-style rules on top of the
	// root's .gitignore files and the built-in state-dir rules.
	IgnorePatterns []string
}

// WithDefaults fills zero fields.
func (o Options) WithDefaults() Options {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 200 * time.Millisecond
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = 64
	}
	return o
}

// Watcher is the contract the index command drives. Events delivers
// debounced batches; Errors carries non-fatal faults while watching
// continues.
type Watcher interface {
	Start(ctx context.Context, path string) error
	Stop() error
	Events() <-chan []FileEvent
	Errors() <-chan error
}
