package embed

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// QueryKind selects which query template a model applies before
// embedding. Retrieval-tuned models want different instruction prefixes
// for symbol lookups vs natural-language questions.
type QueryKind string

const (
	QueryKindIdentifier QueryKind = "identifier"
	QueryKindPath       QueryKind = "path"
	QueryKindConceptual QueryKind = "conceptual"
)

// ModelInfo describes one embedding model ("expert") known to the
// registry.
type ModelInfo struct {
	// ID is the model identifier (e.g. "ollama:nomic-embed-text",
	// "static:fnv-shingle-256").
	ID string

	// Dimensions is the embedding dimension this model produces.
	Dimensions int

	// Multilingual marks models suitable for non-Latin queries; the
	// engine prefers one of these when the query contains Cyrillic.
	Multilingual bool

	// QueryTemplates maps a query kind to a fmt template with one %s
	// verb for the query text. A missing kind falls back to the raw
	// query.
	QueryTemplates map[QueryKind]string
}

// Model is a registered expert: its metadata plus the embedder that
// produces its vectors.
type Model struct {
	Info     ModelInfo
	Embedder Embedder
}

// RenderQuery applies the model's template for kind, or returns the raw
// query when no template is declared.
func (m *Model) RenderQuery(kind QueryKind, query string) string {
	tpl, ok := m.Info.QueryTemplates[kind]
	if !ok || tpl == "" {
		return query
	}
	return fmt.Sprintf(tpl, query)
}

// Registry is the thread-safe model id -> expert mapping. It is
// initialized once at startup and read concurrently by every search;
// registration after startup is allowed (reindex with a new model) but
// rare.
type Registry struct {
	mu        sync.RWMutex
	models    map[string]*Model
	order     []string // registration order, first registered is the fallback
	defaultID string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*Model)}
}

// Register adds or replaces a model. The first model registered becomes
// the default until SetDefault overrides it.
func (r *Registry) Register(info ModelInfo, embedder Embedder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.models[info.ID]; !exists {
		r.order = append(r.order, info.ID)
	}
	r.models[info.ID] = &Model{Info: info, Embedder: embedder}
	if r.defaultID == "" {
		r.defaultID = info.ID
	}
}

// SetDefault marks id as the registry default. Unknown ids are ignored.
func (r *Registry) SetDefault(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[id]; ok {
		r.defaultID = id
	}
}

// Get resolves a model by id.
func (r *Registry) Get(id string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// Default returns the default model, or nil if the registry is empty.
func (r *Registry) Default() *Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models[r.defaultID]
}

// IDs returns model ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered models.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

// TemplateHash returns a stable hex digest over every model's query
// templates. Cached artifacts embed this hash so a template change
// invalidates them; see the persistence layer's freshness fingerprint.
func (r *Registry) TemplateHash() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	sort.Strings(ids)

	h := sha256.New()
	for _, id := range ids {
		m := r.models[id]
		h.Write([]byte(id))
		kinds := make([]string, 0, len(m.Info.QueryTemplates))
		for k := range m.Info.QueryTemplates {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			h.Write([]byte{0})
			h.Write([]byte(k))
			h.Write([]byte{0})
			h.Write([]byte(m.Info.QueryTemplates[QueryKind(k)]))
		}
		h.Write([]byte{0xff})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// SlugForModelID converts a model id into a filesystem-safe directory
// name: every rune outside [A-Za-z0-9-_.] becomes '_'.
func SlugForModelID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// DefaultQueryTemplates returns the instruction prefixes used by the
// bundled retrieval models.
func DefaultQueryTemplates() map[QueryKind]string {
	return map[QueryKind]string{
		QueryKindIdentifier: "search_code: %s",
		QueryKindPath:       "search_file: %s",
		QueryKindConceptual: "search_query: %s",
	}
}
