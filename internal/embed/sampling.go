package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "local-search-mcp/internal/errors"
)

// SampleFunc asks the MCP host's LLM to complete a prompt and returns its
// text response. The mcpserver package supplies this via the session's
// sampling/createMessage capability; internal/embed stays transport-agnostic.
type SampleFunc func(ctx context.Context, prompt string) (string, error)

const samplingPromptTemplate = `Respond with ONLY a JSON array of exactly %d floating point numbers between -1 and 1 representing a semantic embedding of the following text. Do not include any other text, explanation, or markdown formatting.

Text: %s`

// SamplingEmbedder asks the MCP host LLM to emit an embedding for each text.
// Experimental and opt-in only: it is never selected by auto-selection,
// only by an explicit EMBEDDING_BACKEND=mcp-sampling pin.
type SamplingEmbedder struct {
	sample SampleFunc
	dim    int
}

// NewSamplingEmbedder wraps sample with the fixed output dimension dim.
func NewSamplingEmbedder(sample SampleFunc, dim int) *SamplingEmbedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &SamplingEmbedder{sample: sample, dim: dim}
}

// EmbedQuery asks the host LLM for a single embedding.
func (e *SamplingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embedOne(ctx, text)
}

// EmbedDocuments embeds each text with a separate sampling request; the
// host's sampling capability is not batch-oriented.
func (e *SamplingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.embedOne(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *SamplingEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	prompt := fmt.Sprintf(samplingPromptTemplate, e.dim, text)
	resp, err := e.sample(ctx, prompt)
	if err != nil {
		return nil, apperrors.Embedding("mcp sampling request failed", err)
	}

	var vec []float32
	trimmed := strings.TrimSpace(resp)
	if err := json.Unmarshal([]byte(trimmed), &vec); err != nil {
		return nil, apperrors.Embedding("mcp sampling response was not a JSON float array", err)
	}
	if len(vec) != e.dim {
		return nil, apperrors.Embedding(fmt.Sprintf("mcp sampling returned %d floats, expected %d", len(vec), e.dim), nil)
	}
	return vec, nil
}

// Dimension returns the fixed expected output width.
func (e *SamplingEmbedder) Dimension() int { return e.dim }

// Name identifies the backend.
func (e *SamplingEmbedder) Name() string { return "mcp-sampling" }

// Close is a no-op.
func (e *SamplingEmbedder) Close() error { return nil }
