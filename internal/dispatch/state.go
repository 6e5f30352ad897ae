package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/AmirTlinov/context-finder-mcp/internal/assemble"
	"github.com/AmirTlinov/context-finder-mcp/internal/embed"
	"github.com/AmirTlinov/context-finder-mcp/internal/graph"
	"github.com/AmirTlinov/context-finder-mcp/internal/search"
	"github.com/AmirTlinov/context-finder-mcp/internal/telemetry"
)

// EngineBundle is everything a project root needs to serve retrieval:
// the hybrid engine, the graph-backed assembler, and (when fresh) the
// graph-node store with the model that embedded it.
type EngineBundle struct {
	Engine    *search.Engine
	Assembler *assemble.Assembler
	NodeStore *graph.GraphNodeStore
	NodeModel *embed.Model

	// Signature fingerprints (root, profile, index mtimes); a change
	// forces a rebuild.
	Signature string

	// IndexState is "fresh", or "stale" when no vector index loaded,
	// reported in meta.
	IndexState string
}

// EngineBuilder constructs a bundle for a root. Builders run under the
// root's slot lock, so concurrent callers for the same root share one
// build instead of duplicating work.
type EngineBuilder func(ctx context.Context, root string) (*EngineBundle, error)

// SignatureFn fingerprints a root's current on-disk state.
type SignatureFn func(root string) string

// engineSlot serializes access to one root's bundle. The lock is held
// across rebuild deliberately; see the engine cache contract.
type engineSlot struct {
	mu     sync.Mutex
	bundle *EngineBundle
}

// Session is one connection's working set: the last resolved root and
// the files already surfaced as snippets (for cross-call dedupe). Its
// mutex guards only small scalar reads/writes, never I/O.
type Session struct {
	mu               sync.Mutex
	rootDisplay      string
	seenSnippetFiles map[string]bool
}

// RootDisplay returns the session's last resolved root.
func (s *Session) RootDisplay() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rootDisplay
}

// SetRootDisplay records the last resolved root.
func (s *Session) SetRootDisplay(root string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rootDisplay = root
}

// SeenFiles returns a copy of the working set; mutating the copy never
// races the session.
func (s *Session) SeenFiles() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.seenSnippetFiles))
	for k := range s.seenSnippetFiles {
		out[k] = true
	}
	return out
}

// MarkSeen records surfaced snippet files.
func (s *Session) MarkSeen(files map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for f := range files {
		s.seenSnippetFiles[f] = true
	}
}

// ServiceState is the per-process shared state: the engine cache, the
// cursor store, and the session map. All other dependencies pass
// through arguments.
type ServiceState struct {
	logger  *slog.Logger
	builder EngineBuilder
	sigFn   SignatureFn

	mu       sync.Mutex
	engines  map[string]*engineSlot
	sessions map[string]*Session

	cursors *CursorStore
	indexFn IndexFn
	metrics *telemetry.Metrics
}

// SetMetrics wires an optional Prometheus collector set; nil disables
// observation.
func (s *ServiceState) SetMetrics(m *telemetry.Metrics) { s.metrics = m }

// NewServiceState creates the shared state. sigFn may be nil, in which
// case bundles are built once per root and never invalidated (useful
// for tests).
func NewServiceState(builder EngineBuilder, sigFn SignatureFn, logger *slog.Logger) *ServiceState {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServiceState{
		logger:   logger,
		builder:  builder,
		sigFn:    sigFn,
		engines:  make(map[string]*engineSlot),
		sessions: make(map[string]*Session),
		cursors:  NewCursorStore(),
	}
}

// Session returns the working set for a connection id, creating it on
// first use.
func (s *ServiceState) Session(connID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[connID]
	if !ok {
		sess = &Session{seenSnippetFiles: make(map[string]bool)}
		s.sessions[connID] = sess
	}
	return sess
}

// DropSession removes a disconnected client's working set.
func (s *ServiceState) DropSession(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, connID)
}

// CursorStore exposes the shared cursor store.
func (s *ServiceState) CursorStore() *CursorStore { return s.cursors }

// engineFor returns the bundle for a root, rebuilding under the slot
// lock when the signature changed. Readers for the same root block on
// the rebuild rather than duplicating it.
func (s *ServiceState) engineFor(ctx context.Context, root string) (*EngineBundle, error) {
	s.mu.Lock()
	slot, ok := s.engines[root]
	if !ok {
		slot = &engineSlot{}
		s.engines[root] = slot
	}
	s.mu.Unlock()

	slot.mu.Lock()
	defer slot.mu.Unlock()

	sig := ""
	if s.sigFn != nil {
		sig = s.sigFn(root)
	}
	if slot.bundle != nil && (s.sigFn == nil || slot.bundle.Signature == sig) {
		return slot.bundle, nil
	}

	bundle, err := s.builder(ctx, root)
	if err != nil {
		return nil, err
	}
	bundle.Signature = sig
	slot.bundle = bundle
	return bundle, nil
}
