package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	ferrors "github.com/AmirTlinov/context-finder-mcp/internal/errors"
)

// Ollama defaults.
const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "nomic-embed-text"
)

// OllamaConfig configures the network embedder.
type OllamaConfig struct {
	Host    string
	Model   string
	Timeout time.Duration
}

// DefaultOllamaConfig applies host/model/timeout defaults, honoring
// the CONTEXTFINDER_OLLAMA_HOST and CONTEXTFINDER_OLLAMA_MODEL
// overrides.
func DefaultOllamaConfig() OllamaConfig {
	cfg := OllamaConfig{
		Host:    DefaultOllamaHost,
		Model:   DefaultOllamaModel,
		Timeout: DefaultTimeout,
	}
	if host := os.Getenv("CONTEXTFINDER_OLLAMA_HOST"); host != "" {
		cfg.Host = host
	}
	if model := os.Getenv("CONTEXTFINDER_OLLAMA_MODEL"); model != "" {
		cfg.Model = model
	}
	return cfg
}

// OllamaEmbedder generates embeddings through an Ollama server's
// /api/embed endpoint. Network faults go through a retrier and a
// circuit breaker so a dead endpoint degrades fast instead of hanging
// every query; callers above fold the surviving error into the
// semantic-disable state machine.
type OllamaEmbedder struct {
	cfg        OllamaConfig
	client     *http.Client
	breaker    *ferrors.CircuitBreaker
	retry      ferrors.RetryConfig
	dimensions int
}

// embedRequest is the /api/embed request body.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the /api/embed response body.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder creates the network embedder and probes the
// endpoint once for the model's dimension. The probe is the only
// startup cost; a failure here means the model is not served.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	e := &OllamaEmbedder{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: ferrors.NewCircuitBreaker("ollama-embed"),
		retry: ferrors.RetryConfig{
			MaxRetries:   2,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     4 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}

	probe, err := e.embedOnce(ctx, []string{"dimension probe"})
	if err != nil {
		return nil, ferrors.NetworkError(
			fmt.Sprintf("ollama model %q unavailable at %s", cfg.Model, cfg.Host), err)
	}
	if len(probe) == 0 || len(probe[0]) == 0 {
		return nil, ferrors.New(ferrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("ollama model %q returned an empty embedding", cfg.Model), nil)
	}
	e.dimensions = len(probe[0])
	return e, nil
}

// Embed generates the embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for texts, splitting requests at
// MaxBatchSize.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		var vecs [][]float32
		err := ferrors.Retry(ctx, e.retry, func() error {
			return e.breaker.Execute(func() error {
				var innerErr error
				vecs, innerErr = e.embedOnce(ctx, texts[start:end])
				return innerErr
			})
		})
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, ferrors.New(ferrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("ollama returned %d embeddings for %d inputs", len(vecs), end-start), nil)
		}
		for _, v := range vecs {
			out = append(out, normalizeVector(v))
		}
	}
	return out, nil
}

// embedOnce performs one /api/embed round trip.
func (e *OllamaEmbedder) embedOnce(ctx context.Context, input []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.cfg.Model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("ollama status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return parsed.Embeddings, nil
}

// Dimensions returns the probed embedding dimension.
func (e *OllamaEmbedder) Dimensions() int { return e.dimensions }

// ModelName returns the Ollama model name.
func (e *OllamaEmbedder) ModelName() string { return e.cfg.Model }

// Available probes the endpoint's tag listing.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close releases the HTTP client's idle connections.
func (e *OllamaEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
