package embed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"local-search-mcp/internal/config"
)

// Factory builds and memoizes the process-wide embedding backend singleton.
// Concurrent first-callers all await the same initialization via a
// singleflight group rather than racing to construct distinct instances.
type Factory struct {
	cfg    *config.Config
	logger *slog.Logger

	localModelDir string
	sample        SampleFunc

	group singleflight.Group
	mu    sync.Mutex
	inst  Embedder
}

// NewFactory constructs a Factory. localModelDir points at the directory
// containing model.onnx/tokenizer.json for the Local backend; sample wires
// the MCP-Sampling backend to the host session when provided.
func NewFactory(cfg *config.Config, logger *slog.Logger, localModelDir string, sample SampleFunc) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{cfg: cfg, logger: logger, localModelDir: localModelDir, sample: sample}
}

// Get returns the singleton embedder, initializing it on first call.
func (f *Factory) Get(ctx context.Context) (Embedder, error) {
	f.mu.Lock()
	if f.inst != nil {
		defer f.mu.Unlock()
		return f.inst, nil
	}
	f.mu.Unlock()

	v, err, _ := f.group.Do("embedder", func() (interface{}, error) {
		f.mu.Lock()
		if f.inst != nil {
			f.mu.Unlock()
			return f.inst, nil
		}
		f.mu.Unlock()

		e, err := f.build(ctx)
		if err != nil {
			return nil, err
		}

		f.mu.Lock()
		f.inst = e
		f.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Embedder), nil
}

// build resolves the pinned or auto-selected backend.
func (f *Factory) build(ctx context.Context) (Embedder, error) {
	pinned := f.cfg.Embeddings.Backend
	if pinned != "" && pinned != config.BackendAuto {
		e, err := f.construct(ctx, pinned)
		if err == nil {
			return f.wrap(e), nil
		}
		f.logger.Warn("pinned embedding backend unavailable, falling through to auto-selection",
			slog.String("backend", string(pinned)), slog.String("error", err.Error()))
	}

	for _, candidate := range []config.EmbeddingBackend{
		config.BackendLocalGPU,
		config.BackendOpenAI,
		config.BackendCohere,
		config.BackendLocalCPU,
	} {
		e, err := f.construct(ctx, candidate)
		if err == nil {
			return f.wrap(e), nil
		}
		f.logger.Debug("embedding backend unavailable during auto-selection",
			slog.String("backend", string(candidate)), slog.String("error", err.Error()))
	}

	// Local-CPU (static, hash-based) never fails to construct.
	return f.wrap(NewStaticEmbedder(f.cfg.Embeddings.Dimension)), nil
}

func (f *Factory) construct(ctx context.Context, backend config.EmbeddingBackend) (Embedder, error) {
	switch backend {
	case config.BackendLocalGPU:
		if f.localModelDir == "" {
			return nil, fmt.Errorf("no local model directory configured")
		}
		if err := NewModelManager(f.localModelDir).EnsureModel(ctx); err != nil {
			return nil, fmt.Errorf("ensure local model: %w", err)
		}
		e, err := NewLocalEmbedder(LocalEmbedderOptions{
			ModelDir:  f.localModelDir,
			Dimension: f.cfg.Embeddings.Dimension,
			BatchSize: f.cfg.Embeddings.BatchSizeGPU,
			UseGPU:    true,
		})
		if err != nil {
			return nil, err
		}
		if !e.SupportsGPU() {
			e.Close()
			return nil, fmt.Errorf("CUDA execution provider unavailable, GPU backend inactive")
		}
		return e, nil
	case config.BackendLocalCPU:
		if f.localModelDir != "" {
			if err := NewModelManager(f.localModelDir).EnsureModel(ctx); err != nil {
				f.logger.Debug("local model download failed, falling back to static embedder",
					slog.String("error", err.Error()))
				return NewStaticEmbedder(f.cfg.Embeddings.Dimension), nil
			}
			if e, err := NewLocalEmbedder(LocalEmbedderOptions{
				ModelDir:  f.localModelDir,
				Dimension: f.cfg.Embeddings.Dimension,
				BatchSize: f.cfg.Embeddings.BatchSizeCPU,
				UseGPU:    false,
			}); err == nil {
				return e, nil
			}
		}
		return NewStaticEmbedder(f.cfg.Embeddings.Dimension), nil
	case config.BackendOpenAI:
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not set")
		}
		return NewOpenAIEmbedder(key, f.cfg.Embeddings.OpenAIModel, f.cfg.Embeddings.Dimension,
			time.Duration(f.cfg.Performance.HTTPTimeoutSeconds)*time.Second), nil
	case config.BackendCohere:
		key := os.Getenv("COHERE_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("COHERE_API_KEY not set")
		}
		return NewCohereEmbedder(key, f.cfg.Embeddings.CohereModel, f.cfg.Embeddings.Dimension,
			time.Duration(f.cfg.Performance.HTTPTimeoutSeconds)*time.Second), nil
	case config.BackendMCPSampling:
		if f.sample == nil {
			return nil, fmt.Errorf("mcp sampling capability not available")
		}
		return NewSamplingEmbedder(f.sample, f.cfg.Embeddings.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding backend: %s", backend)
	}
}

func (f *Factory) wrap(e Embedder) Embedder {
	return NewCachedEmbedder(e, DefaultQueryCacheSize)
}

// BatchSizeFor returns the configured batch size for the active backend, so
// the pipeline orchestrator can size embedding batches without knowing the
// backend's concrete type.
func BatchSizeFor(cfg *config.Config, e Embedder) int {
	switch e.Name() {
	case "local-gpu":
		return cfg.Embeddings.BatchSizeGPU
	case "local-cpu-onnx", "local-cpu-static":
		return cfg.Embeddings.BatchSizeCPU
	default:
		if strings.HasPrefix(e.Name(), "openai:") {
			return cfg.Embeddings.BatchSizeOpenAI
		}
		if strings.HasPrefix(e.Name(), "cohere:") {
			return cfg.Embeddings.BatchSizeCohere
		}
		return cfg.Embeddings.BatchSizeCPU
	}
}
