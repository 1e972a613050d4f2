package embed

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/daulet/tokenizers"
	ort "github.com/yalue/onnxruntime_go"
)

// maxSeqLen bounds attention cost: token sequences longer than 256 are cut
// off, so the tail of a long chunk text (up to ~2000 chars) is not embedded.
const maxSeqLen = 256

// queryPrefix is prepended to queries only, per the BGE-family asymmetric
// retrieval convention (BAAI/bge-small-en-v1.5 model card).
const queryPrefix = "Represent this sentence for searching relevant passages: "

// LocalEmbedder runs a BGE-small-en-v1.5-style sentence transformer through
// ONNX Runtime. It is the Local backend variant of component C4: a singleton
// loaded at most once, guarded by a one-shot initialization promise in
// Factory so concurrent callers await the same load.
type LocalEmbedder struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *tokenizers.Tokenizer
	dim       int
	batchSize int
	gpu       bool

	mu     sync.Mutex
	closed bool
}

// LocalEmbedderOptions configures model location and execution.
type LocalEmbedderOptions struct {
	ModelDir      string
	ORTLibPath    string
	NumThreads    int
	Dimension     int
	BatchSize     int
	UseGPU        bool
	GPUDeviceID   int
}

// NewLocalEmbedder loads model.onnx and tokenizer.json from opts.ModelDir.
// When opts.UseGPU is set, a CUDA execution provider is appended; failure to
// register it falls back to CPU-only execution rather than erroring, since
// GPU availability is a capability probe, not a hard requirement.
func NewLocalEmbedder(opts LocalEmbedderOptions) (*LocalEmbedder, error) {
	modelPath := filepath.Join(opts.ModelDir, "model.onnx")
	tokenPath := filepath.Join(opts.ModelDir, "tokenizer.json")

	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("local embedding model not found at %s: %w", modelPath, err)
	}
	if _, err := os.Stat(tokenPath); err != nil {
		return nil, fmt.Errorf("tokenizer not found at %s: %w", tokenPath, err)
	}

	if opts.ORTLibPath != "" {
		ort.SetSharedLibraryPath(opts.ORTLibPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	numThreads := opts.NumThreads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
		if numThreads > 4 {
			numThreads = 4
		}
	}

	sessOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer sessOpts.Destroy()

	if err := sessOpts.SetIntraOpNumThreads(numThreads); err != nil {
		return nil, fmt.Errorf("set intra-op threads: %w", err)
	}
	if err := sessOpts.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("set inter-op threads: %w", err)
	}

	gpuActive := false
	if opts.UseGPU {
		if err := sessOpts.AppendExecutionProviderCUDA(ort.CUDAProviderOptions{DeviceID: opts.GPUDeviceID}); err == nil {
			gpuActive = true
		}
	}

	inputNames := []string{"input_ids", "attention_mask", "token_type_ids"}
	outputNames := []string{"last_hidden_state"}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, sessOpts)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	tk, err := tokenizers.FromFile(tokenPath)
	if err != nil {
		session.Destroy()
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	dim := opts.Dimension
	if dim <= 0 {
		dim = DefaultDimension
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	return &LocalEmbedder{
		session:   session,
		tokenizer: tk,
		dim:       dim,
		batchSize: batchSize,
		gpu:       gpuActive,
	}, nil
}

// SupportsGPU reports whether the CUDA execution provider is active.
func (e *LocalEmbedder) SupportsGPU() bool { return e.gpu }

// Dimension returns the configured output width.
func (e *LocalEmbedder) Dimension() int { return e.dim }

// Name identifies the backend for logging and the MCP-sampling/embedding cache keys.
func (e *LocalEmbedder) Name() string {
	if e.gpu {
		return "local-gpu"
	}
	return "local-cpu-onnx"
}

// EmbedQuery embeds a single query with the asymmetric retrieval prefix.
func (e *LocalEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embedBatch(ctx, []string{queryPrefix + text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocuments embeds a batch of document chunk texts without the query prefix.
func (e *LocalEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	results := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := i + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch [%d:%d]: %w", i, end, err)
		}
		results = append(results, batch...)
	}
	return results, nil
}

// Close releases the ONNX session and tokenizer.
func (e *LocalEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.session != nil {
		e.session.Destroy()
	}
	if e.tokenizer != nil {
		e.tokenizer.Close()
	}
	return nil
}

func (e *LocalEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	batchSize := len(texts)
	allIDs := make([][]int64, batchSize)
	allMask := make([][]int64, batchSize)
	maxLen := 0

	for i, text := range texts {
		enc := e.tokenizer.EncodeWithOptions(text, true, tokenizers.WithReturnAttentionMask())
		ids := enc.IDs
		if len(ids) > maxSeqLen {
			ids = ids[:maxSeqLen]
		}
		ids64 := make([]int64, len(ids))
		mask64 := make([]int64, len(ids))
		for j := range ids {
			ids64[j] = int64(ids[j])
			mask64[j] = 1
		}
		if len(enc.AttentionMask) >= len(ids) {
			for j := range ids64 {
				mask64[j] = int64(enc.AttentionMask[j])
			}
		}
		allIDs[i], allMask[i] = ids64, mask64
		if len(ids64) > maxLen {
			maxLen = len(ids64)
		}
	}
	if maxLen == 0 {
		return nil, fmt.Errorf("all texts tokenized to zero length")
	}

	flatIDs := make([]int64, batchSize*maxLen)
	flatMask := make([]int64, batchSize*maxLen)
	flatType := make([]int64, batchSize*maxLen)
	for i := range texts {
		copy(flatIDs[i*maxLen:], allIDs[i])
		copy(flatMask[i*maxLen:], allMask[i])
	}
	shape := ort.NewShape(int64(batchSize), int64(maxLen))

	inputIDs, err := ort.NewTensor(shape, flatIDs)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer inputIDs.Destroy()
	attnMask, err := ort.NewTensor(shape, flatMask)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer attnMask.Destroy()
	typeIDs, err := ort.NewTensor(shape, flatType)
	if err != nil {
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	defer typeIDs.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{inputIDs, attnMask, typeIDs}, outputs); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	hiddenTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected onnx output type")
	}
	hidden := hiddenTensor.GetData()
	seqLen := int(hiddenTensor.GetShape()[1])
	hiddenDim := int(hiddenTensor.GetShape()[2])

	embeddings := make([][]float32, batchSize)
	for i := 0; i < batchSize; i++ {
		vec := make([]float32, e.dim)
		base := i * seqLen * hiddenDim
		n := e.dim
		if hiddenDim < n {
			n = hiddenDim
		}
		for d := 0; d < n; d++ {
			vec[d] = hidden[base+d]
		}
		l2Normalize(vec)
		embeddings[i] = vec
	}
	return embeddings, nil
}

func l2Normalize(v []float32) {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm < 1e-10 {
		return
	}
	inv := float32(1.0 / norm)
	for i := range v {
		v[i] *= inv
	}
}
