package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "local-search-mcp/internal/errors"
)

const (
	openAIEndpoint      = "https://api.openai.com/v1/embeddings"
	openAIMaxBatch      = 100
	openAIDefaultModel  = "text-embedding-3-small"
)

// OpenAIEmbedder calls OpenAI's batch embeddings endpoint. Requires
// OPENAI_API_KEY; selected automatically only when the key is present.
type OpenAIEmbedder struct {
	apiKey string
	model  string
	dim    int
	client *http.Client
	cb     *apperrors.CircuitBreaker
}

// NewOpenAIEmbedder constructs an OpenAI-backed embedder.
func NewOpenAIEmbedder(apiKey, model string, dim int, timeout time.Duration) *OpenAIEmbedder {
	if model == "" {
		model = openAIDefaultModel
	}
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &OpenAIEmbedder{
		apiKey: apiKey,
		model:  model,
		dim:    dim,
		client: &http.Client{Timeout: timeout},
		cb:     apperrors.NewCircuitBreaker("openai-embeddings"),
	}
}

type openAIRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// EmbedQuery embeds a single query string.
func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocuments embeds texts in batches of at most openAIMaxBatch.
func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	results := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += openAIMaxBatch {
		end := i + openAIMaxBatch
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		results = append(results, batch...)
	}
	return results, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if !e.cb.Allow() {
		return nil, apperrors.Network("openai circuit breaker open", apperrors.ErrCircuitOpen)
	}

	body, err := json.Marshal(openAIRequest{Model: e.model, Input: texts, Dimensions: e.dim})
	if err != nil {
		return nil, apperrors.Embedding("failed to encode openai request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Embedding("failed to build openai request", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		e.cb.RecordFailure()
		return nil, apperrors.Network("openai request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		e.cb.RecordFailure()
		return nil, apperrors.Network("failed to read openai response", err)
	}

	if resp.StatusCode != http.StatusOK {
		e.cb.RecordFailure()
		return nil, apperrors.Network(fmt.Sprintf("openai returned status %d: %s", resp.StatusCode, string(raw)), nil)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		e.cb.RecordFailure()
		return nil, apperrors.Embedding("failed to decode openai response", err)
	}
	if parsed.Error != nil {
		e.cb.RecordFailure()
		return nil, apperrors.Embedding("openai API error: "+parsed.Error.Message, nil)
	}

	e.cb.RecordSuccess()

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, apperrors.Embedding(fmt.Sprintf("openai response missing embedding for input %d", i), nil)
		}
	}
	return out, nil
}

// Dimension returns the configured output width.
func (e *OpenAIEmbedder) Dimension() int { return e.dim }

// Name identifies the backend.
func (e *OpenAIEmbedder) Name() string { return "openai:" + e.model }

// Close is a no-op; the HTTP client owns no persistent resources.
func (e *OpenAIEmbedder) Close() error { return nil }
