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
	cohereEndpoint     = "https://api.cohere.com/v1/embed"
	cohereMaxBatch     = 96
	cohereDefaultModel = "embed-english-v3.0"
)

// CohereEmbedder calls Cohere's batch embed endpoint. Requires COHERE_API_KEY;
// selected automatically only when the key is present and no OpenAI key won
// priority in the auto-selection order.
type CohereEmbedder struct {
	apiKey string
	model  string
	dim    int
	client *http.Client
	cb     *apperrors.CircuitBreaker
}

// NewCohereEmbedder constructs a Cohere-backed embedder.
func NewCohereEmbedder(apiKey, model string, dim int, timeout time.Duration) *CohereEmbedder {
	if model == "" {
		model = cohereDefaultModel
	}
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &CohereEmbedder{
		apiKey: apiKey,
		model:  model,
		dim:    dim,
		client: &http.Client{Timeout: timeout},
		cb:     apperrors.NewCircuitBreaker("cohere-embeddings"),
	}
}

type cohereRequest struct {
	Model          string   `json:"model"`
	Texts          []string `json:"texts"`
	InputType      string   `json:"input_type"`
	EmbeddingTypes []string `json:"embedding_types"`
}

type cohereResponse struct {
	Embeddings struct {
		Float [][]float32 `json:"float"`
	} `json:"embeddings"`
	Message string `json:"message"`
}

// EmbedQuery embeds a single query string with input_type=search_query.
func (e *CohereEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text}, "search_query")
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocuments embeds a batch with input_type=search_document.
func (e *CohereEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	results := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += cohereMaxBatch {
		end := i + cohereMaxBatch
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embed(ctx, texts[i:end], "search_document")
		if err != nil {
			return nil, err
		}
		results = append(results, batch...)
	}
	return results, nil
}

func (e *CohereEmbedder) embed(ctx context.Context, texts []string, inputType string) ([][]float32, error) {
	if !e.cb.Allow() {
		return nil, apperrors.Network("cohere circuit breaker open", apperrors.ErrCircuitOpen)
	}

	body, err := json.Marshal(cohereRequest{
		Model:          e.model,
		Texts:          texts,
		InputType:      inputType,
		EmbeddingTypes: []string{"float"},
	})
	if err != nil {
		return nil, apperrors.Embedding("failed to encode cohere request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cohereEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Embedding("failed to build cohere request", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		e.cb.RecordFailure()
		return nil, apperrors.Network("cohere request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		e.cb.RecordFailure()
		return nil, apperrors.Network("failed to read cohere response", err)
	}

	if resp.StatusCode != http.StatusOK {
		e.cb.RecordFailure()
		return nil, apperrors.Network(fmt.Sprintf("cohere returned status %d: %s", resp.StatusCode, string(raw)), nil)
	}

	var parsed cohereResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		e.cb.RecordFailure()
		return nil, apperrors.Embedding("failed to decode cohere response", err)
	}
	if parsed.Message != "" && len(parsed.Embeddings.Float) == 0 {
		e.cb.RecordFailure()
		return nil, apperrors.Embedding("cohere API error: "+parsed.Message, nil)
	}
	if len(parsed.Embeddings.Float) != len(texts) {
		e.cb.RecordFailure()
		return nil, apperrors.Embedding("cohere returned unexpected embedding count", nil)
	}

	e.cb.RecordSuccess()
	return parsed.Embeddings.Float, nil
}

// Dimension returns the configured output width.
func (e *CohereEmbedder) Dimension() int { return e.dim }

// Name identifies the backend.
func (e *CohereEmbedder) Name() string { return "cohere:" + e.model }

// Close is a no-op.
func (e *CohereEmbedder) Close() error { return nil }
