package embed

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Recognized environment variables.
const (
	// EnvEmbeddingMode selects "fast" (network embedder with stub
	// fallback) or "stub" (deterministic hash embedder only; used in
	// tests and as the last-resort fallback).
	EnvEmbeddingMode = "CONTEXT_EMBEDDING_MODE"

	// EnvEmbeddingModel overrides the default network model id.
	EnvEmbeddingModel = "CONTEXT_EMBEDDING_MODEL"

	// EnvModelDir names the on-disk model cache variable. This package
	// declares it but does not read it.
	EnvModelDir = "CONTEXT_MODEL_DIR"

	// EnvAllowCPU names the CPU-inference switch. This package declares
	// it but does not read it; no accelerator runtime is loaded here.
	EnvAllowCPU = "CONTEXT_ALLOW_CPU"
)

// StubModelID is the deterministic hash embedder's model id.
const StubModelID = "static:fnv-shingle-256"

// DefaultNetworkModel is the Ollama model used in fast mode when
// CONTEXT_EMBEDDING_MODEL is unset.
const DefaultNetworkModel = "nomic-embed-text"

// RegistryDefaults carries configuration-file fallbacks for registry
// assembly. Environment variables always win over these.
type RegistryDefaults struct {
	// Model is the network model id from config (empty = built-in
	// default).
	Model string

	// StubOnly forces stub mode from config.
	StubOnly bool
}

// RegistryFromEnv assembles the model registry for this process. The
// stub embedder is always registered so search never loses its last
// expert; fast mode additionally registers the network embedder and
// makes it the default. Fast mode probes the network endpoint once
// while the registry is assembled, to learn the model's dimension, so
// startup waits for that probe; when it fails, the failure is logged
// and the registry keeps only the stub. Failures after startup surface
// on embed, where the engine folds them into the semantic-disable state
// machine.
func RegistryFromEnv(ctx context.Context, logger *slog.Logger) *Registry {
	return RegistryWithDefaults(ctx, RegistryDefaults{}, logger)
}

// RegistryWithDefaults is RegistryFromEnv with config-file fallbacks.
func RegistryWithDefaults(ctx context.Context, defaults RegistryDefaults, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := NewRegistry()
	r.Register(ModelInfo{
		ID:             StubModelID,
		Dimensions:     StaticDimensions,
		QueryTemplates: DefaultQueryTemplates(),
	}, NewStaticEmbedder())

	mode := strings.ToLower(strings.TrimSpace(os.Getenv(EnvEmbeddingMode)))
	if mode == "" && defaults.StubOnly {
		mode = "stub"
	}
	if mode == "stub" {
		return r
	}

	model := os.Getenv(EnvEmbeddingModel)
	if model == "" {
		model = defaults.Model
	}
	if model == "" {
		model = DefaultNetworkModel
	}
	embedder, err := NewEmbedder(ctx, ProviderOllama, model)
	if err != nil {
		logger.Warn("network embedder unavailable, stub only", "model", model, "error", err)
		return r
	}
	id := "ollama:" + model
	r.Register(ModelInfo{
		ID:             id,
		Dimensions:     embedder.Dimensions(),
		Multilingual:   strings.Contains(model, "multilingual") || strings.Contains(model, "bge-m3"),
		QueryTemplates: DefaultQueryTemplates(),
	}, embedder)
	r.SetDefault(id)
	return r
}
