package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultMaxSessions bounds stored sessions; each one carries a full
// copy of index state, so the cap is a disk budget, not a feature
// limit.
const DefaultMaxSessions = 20

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	// StoragePath is the sessions directory (required).
	StoragePath string

	// MaxSessions caps stored sessions (0 = DefaultMaxSessions).
	MaxSessions int
}

// Manager owns the on-disk session store: one directory per named
// session under StoragePath, each holding a session.json plus copied
// index artifacts.
type Manager struct {
	storagePath string
	maxSessions int
}

// NewManager creates the manager and its storage directory.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.StoragePath == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		return nil, fmt.Errorf("create session storage: %w", err)
	}
	max := cfg.MaxSessions
	if max <= 0 {
		max = DefaultMaxSessions
	}
	return &Manager{storagePath: cfg.StoragePath, maxSessions: max}, nil
}

// SessionDir returns the directory for a session name.
func (m *Manager) SessionDir(name string) string {
	return filepath.Join(m.storagePath, name)
}

// Exists reports whether a session's document is on disk.
func (m *Manager) Exists(name string) bool {
	_, err := os.Stat(filepath.Join(m.SessionDir(name), sessionFileName))
	return err == nil
}

// Open loads the named session, creating it when absent. A name bound
// to a different project path is an error rather than a silent rebind:
// sessions alias index state, and index state belongs to one root.
func (m *Manager) Open(name, projectPath string) (*Session, error) {
	if err := ValidateSessionName(name); err != nil {
		return nil, fmt.Errorf("invalid session name: %w", err)
	}

	dir := m.SessionDir(name)
	if m.Exists(name) {
		sess, err := LoadSession(dir)
		if err != nil {
			return nil, fmt.Errorf("load session %q: %w", name, err)
		}
		if sess.ProjectPath != projectPath {
			return nil, fmt.Errorf("session %q belongs to %s (requested %s)",
				name, sess.ProjectPath, projectPath)
		}
		sess.SessionDir = dir
		return sess, nil
	}

	count, err := m.count()
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	if count >= m.maxSessions {
		return nil, fmt.Errorf("maximum %d sessions reached; delete or prune old sessions first", m.maxSessions)
	}

	sess := NewSession(name, projectPath, dir)
	if err := SaveSession(sess); err != nil {
		return nil, fmt.Errorf("save new session: %w", err)
	}
	return sess, nil
}

// Save persists a session, refreshing its last-used stamp.
func (m *Manager) Save(sess *Session) error {
	sess.UpdateLastUsed()
	return SaveSession(sess)
}

// Get loads a session without touching its timestamps.
func (m *Manager) Get(name string) (*Session, error) {
	if !m.Exists(name) {
		return nil, fmt.Errorf("session %q not found", name)
	}
	return LoadSession(m.SessionDir(name))
}

// List returns summaries for every readable session. Directories with
// a corrupt or missing document are skipped, not errored: one broken
// session must not hide the rest.
func (m *Manager) List() ([]*SessionInfo, error) {
	entries, err := os.ReadDir(m.storagePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []*SessionInfo{}, nil
		}
		return nil, fmt.Errorf("read sessions directory: %w", err)
	}

	var sessions []*SessionInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.storagePath, entry.Name())
		sess, err := LoadSession(dir)
		if err != nil {
			continue
		}
		_, statErr := os.Stat(sess.ProjectPath)
		size, _ := CalculateDirSize(dir)
		sessions = append(sessions, sess.ToInfo(size, statErr == nil))
	}
	return sessions, nil
}

// Delete removes a session and its copied index state.
func (m *Manager) Delete(name string) error {
	if !m.Exists(name) {
		return fmt.Errorf("session %q not found", name)
	}
	if err := os.RemoveAll(m.SessionDir(name)); err != nil {
		return fmt.Errorf("delete session %q: %w", name, err)
	}
	return nil
}

// Prune deletes sessions unused for longer than olderThan, returning
// how many were removed.
func (m *Manager) Prune(olderThan time.Duration) (int, error) {
	sessions, err := m.List()
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, info := range sessions {
		if time.Since(info.LastUsed) <= olderThan {
			continue
		}
		if err := m.Delete(info.Name); err == nil {
			deleted++
		}
	}
	return deleted, nil
}

// count tallies directories holding a valid session document.
func (m *Manager) count() (int, error) {
	entries, err := os.ReadDir(m.storagePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, entry := range entries {
		if entry.IsDir() && m.Exists(entry.Name()) {
			n++
		}
	}
	return n, nil
}
