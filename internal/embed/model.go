package embed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// DefaultONNXModelURL is the HuggingFace location of the BGE-small-en-v1.5
	// ONNX export EmbedQuery/EmbedDocuments run through LocalEmbedder.
	DefaultONNXModelURL = "https://huggingface.co/BAAI/bge-small-en-v1.5/resolve/main/onnx/model.onnx"

	// DefaultONNXTokenizerURL is the matching tokenizer.json for the model above.
	DefaultONNXTokenizerURL = "https://huggingface.co/BAAI/bge-small-en-v1.5/resolve/main/tokenizer.json"

	// modelDownloadTimeout bounds a single model or tokenizer download.
	modelDownloadTimeout = 30 * time.Minute
)

// ModelManager downloads and caches the local ONNX embedding model files
// under a models directory. EnsureModel guards the download with a FileLock
// so two local-search-mcp processes sharing a data directory (e.g. two
// editor windows pointed at the same MCP_DATA_FOLDER) never race to write
// the same model.onnx.
type ModelManager struct {
	modelsDir string
	modelURL  string
	tokURL    string
	mu        sync.Mutex
}

// NewModelManager builds a ModelManager rooted at modelsDir, downloading from
// the default BGE-small-en-v1.5 HuggingFace URLs.
func NewModelManager(modelsDir string) *ModelManager {
	return &ModelManager{modelsDir: modelsDir, modelURL: DefaultONNXModelURL, tokURL: DefaultONNXTokenizerURL}
}

// ModelPath returns where model.onnx lives once downloaded.
func (m *ModelManager) ModelPath() string {
	return filepath.Join(m.modelsDir, "model.onnx")
}

// TokenizerPath returns where tokenizer.json lives once downloaded.
func (m *ModelManager) TokenizerPath() string {
	return filepath.Join(m.modelsDir, "tokenizer.json")
}

// ModelExists reports whether both model files are already present and
// non-empty.
func (m *ModelManager) ModelExists() bool {
	return fileNonEmpty(m.ModelPath()) && fileNonEmpty(m.TokenizerPath())
}

// EnsureModel downloads model.onnx and tokenizer.json into modelsDir if
// either is missing, retrying transient failures with exponential backoff.
// Safe for concurrent use within and across processes.
func (m *ModelManager) EnsureModel(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ModelExists() {
		return nil
	}
	if err := os.MkdirAll(m.modelsDir, 0o755); err != nil {
		return fmt.Errorf("create models directory: %w", err)
	}

	lock := NewFileLock(m.modelsDir)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquire model download lock: %w", err)
	}
	defer lock.Unlock()

	// Re-check: another process may have finished the download while we
	// waited for the lock.
	if m.ModelExists() {
		return nil
	}

	cfg := DefaultRetryConfig()
	if err := DownloadWithRetry(ctx, cfg, func() error {
		return downloadFile(ctx, m.modelURL, m.ModelPath())
	}); err != nil {
		return fmt.Errorf("download model.onnx: %w", err)
	}
	if err := DownloadWithRetry(ctx, cfg, func() error {
		return downloadFile(ctx, m.tokURL, m.TokenizerPath())
	}); err != nil {
		return fmt.Errorf("download tokenizer.json: %w", err)
	}
	return nil
}

// DeleteModel removes both cached model files.
func (m *ModelManager) DeleteModel() error {
	if err := os.Remove(m.ModelPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(m.TokenizerPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func fileNonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// downloadFile streams url into destPath via a sibling temp file, renamed
// into place atomically so a failed attempt never leaves a corrupt model
// file for LocalEmbedder to load.
func downloadFile(ctx context.Context, url, destPath string) error {
	tmpPath := destPath + ".tmp"
	defer os.Remove(tmpPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "local-search-mcp")

	client := &http.Client{Timeout: modelDownloadTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %s", url, resp.Status)
	}

	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		return fmt.Errorf("write %s: %w", destPath, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
