// Package persist provides the on-disk state layer: atomic JSON writes,
// advisory lock files, path layout under <root>/.context-finder/, and
// the freshness fingerprints that decide whether a cached artifact may
// be reused.
package persist

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// StateDirName is the per-project state directory.
const StateDirName = ".context-finder"

// StateDir returns <root>/.context-finder.
func StateDir(root string) string {
	return filepath.Join(root, StateDirName)
}

// IndexDir returns the per-model index directory for a model slug.
func IndexDir(root, modelSlug string) string {
	return filepath.Join(StateDir(root), "indexes", modelSlug)
}

// IndexPath returns the vector index file for a model slug.
func IndexPath(root, modelSlug string) string {
	return filepath.Join(IndexDir(root, modelSlug), "index.json")
}

// GraphNodesPath returns the graph-node store file for a model slug.
func GraphNodesPath(root, modelSlug string) string {
	return filepath.Join(IndexDir(root, modelSlug), "graph_nodes.json")
}

// CorpusPath returns the chunk corpus file for a model slug.
func CorpusPath(root, modelSlug string) string {
	return filepath.Join(IndexDir(root, modelSlug), "corpus.json")
}

// GraphCachePath returns the assembler graph cache file.
func GraphCachePath(root string) string {
	return filepath.Join(StateDir(root), "graph.cache")
}

// WriteFileAtomic writes data to path via a same-directory temp file,
// fsync, then rename, so readers never observe a partial write.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp := fmt.Sprintf("%s.tmp-%d", path, os.Getpid())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// WriteJSONAtomic marshals v and writes it atomically to path.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return WriteFileAtomic(path, data)
}

// ReadJSON reads path and unmarshals it into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Fingerprint returns a short stable hex digest of s, used for cursor
// root validation and cache keys.
func Fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// GraphMeta is the freshness fingerprint persisted with graph-derived
// caches. All four fields must match for a cached artifact to be used;
// any mismatch forces a rebuild.
type GraphMeta struct {
	SourceIndexMtimeMS int64  `json:"source_index_mtime_ms"`
	GraphLanguage      string `json:"graph_language"`
	GraphDocVersion    int    `json:"graph_doc_version"`
	TemplateHash       string `json:"template_hash"`
}

// Matches reports whether two fingerprints agree on every field.
func (m GraphMeta) Matches(other GraphMeta) bool {
	return m == other
}

// IndexMtimeMS returns the mtime of the vector index file for a model
// slug in epoch milliseconds, 0 when the file is missing.
func IndexMtimeMS(root, modelSlug string) int64 {
	info, err := os.Stat(IndexPath(root, modelSlug))
	if err != nil {
		return 0
	}
	return info.ModTime().UnixMilli()
}

// Lock is an advisory cross-process file lock guarding a persisted
// artifact. The lock file lives next to the artifact as <name>.lock.
type Lock struct {
	fl *flock.Flock
}

// NewLock creates a lock for the artifact at path.
func NewLock(path string) (*Lock, error) {
	lockPath := path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	return &Lock{fl: flock.New(lockPath)}, nil
}

// Lock acquires the lock, blocking until available.
func (l *Lock) Lock() error {
	if err := l.fl.Lock(); err != nil {
		return fmt.Errorf("acquire lock %s: %w", l.fl.Path(), err)
	}
	return nil
}

// TryLock attempts a non-blocking acquire.
func (l *Lock) TryLock() (bool, error) {
	return l.fl.TryLock()
}

// Unlock releases the lock.
func (l *Lock) Unlock() error {
	return l.fl.Unlock()
}
