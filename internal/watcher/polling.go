package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// snapshot maps repo-relative path -> mtime.
type snapshot map[string]time.Time

// poller detects changes by diffing mtime snapshots. It is the
// fallback when fsnotify cannot watch the root.
type poller struct {
	root   string
	ignore func(rel string, isDir bool) bool
	prev   snapshot
}

func newPoller(root string, ignore func(string, bool) bool) *poller {
	return &poller{root: root, ignore: ignore}
}

// scan walks the root and returns the current snapshot.
func (p *poller) scan() snapshot {
	snap := make(snapshot)
	_ = filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries just vanish from the snapshot
		}
		rel, rerr := filepath.Rel(p.root, path)
		if rerr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if p.ignore(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if info, ierr := d.Info(); ierr == nil {
			snap[rel] = info.ModTime()
		}
		return nil
	})
	return snap
}

// diff compares against the previous snapshot and returns the changes,
// updating the baseline. The first call establishes the baseline and
// reports nothing.
func (p *poller) diff() []FileEvent {
	next := p.scan()
	if p.prev == nil {
		p.prev = next
		return nil
	}

	now := time.Now()
	var events []FileEvent
	for rel, mtime := range next {
		old, existed := p.prev[rel]
		switch {
		case !existed:
			events = append(events, FileEvent{Path: rel, Operation: OpCreate, Timestamp: now})
		case !mtime.Equal(old):
			events = append(events, FileEvent{Path: rel, Operation: OpModify, Timestamp: now})
		}
	}
	for rel := range p.prev {
		if _, stillThere := next[rel]; !stillThere {
			events = append(events, FileEvent{Path: rel, Operation: OpDelete, Timestamp: now})
		}
	}
	p.prev = next
	return events
}

// usable reports whether the root can be polled at all.
func (p *poller) usable() bool {
	_, err := os.Stat(p.root)
	return err == nil
}
