package embed

import (
	"context"
	"os"
	"strings"
)

// ProviderType selects an embedding provider.
type ProviderType string

const (
	// ProviderOllama talks to a local Ollama server.
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses the deterministic hash embedder.
	ProviderStatic ProviderType = "static"
)

// NewEmbedder creates an embedder for a provider. The
// CONTEXTFINDER_EMBEDDER environment variable overrides the provider;
// network embedders are wrapped with the query cache unless
// CONTEXTFINDER_EMBED_CACHE disables it.
func NewEmbedder(ctx context.Context, provider ProviderType, model string) (Embedder, error) {
	if env := os.Getenv("CONTEXTFINDER_EMBEDDER"); env != "" {
		provider = ParseProvider(env)
	}

	switch provider {
	case ProviderStatic:
		return NewStaticEmbedder(), nil
	default:
		cfg := DefaultOllamaConfig()
		if model != "" {
			cfg.Model = model
		}
		embedder, err := NewOllamaEmbedder(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if cacheDisabled() {
			return embedder, nil
		}
		return NewCachedEmbedder(embedder, DefaultCacheSize), nil
	}
}

// ParseProvider converts a string to a ProviderType, defaulting to
// Ollama.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "static", "stub":
		return ProviderStatic
	default:
		return ProviderOllama
	}
}

func cacheDisabled() bool {
	switch strings.ToLower(os.Getenv("CONTEXTFINDER_EMBED_CACHE")) {
	case "false", "0", "off", "disabled":
		return true
	}
	return false
}
