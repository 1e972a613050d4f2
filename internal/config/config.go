// Package config loads the engine's configuration from built-in defaults,
// an optional YAML file, and environment variables, in ascending precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChunkMethod selects the chunking algorithm.
type ChunkMethod string

const (
	ChunkMethodFixed           ChunkMethod = "fixed"
	ChunkMethodSentenceAware   ChunkMethod = "sentence-aware"
	ChunkMethodParagraphAware  ChunkMethod = "paragraph-aware"
)

// EmbeddingBackend names a selectable embedding implementation.
type EmbeddingBackend string

const (
	BackendAuto        EmbeddingBackend = "auto"
	BackendLocalGPU    EmbeddingBackend = "local-gpu"
	BackendLocalCPU    EmbeddingBackend = "local-cpu"
	BackendOpenAI      EmbeddingBackend = "openai"
	BackendCohere      EmbeddingBackend = "cohere"
	BackendMCPSampling EmbeddingBackend = "mcp-sampling"
)

// Config is the complete engine configuration.
type Config struct {
	Chunk       ChunkConfig       `yaml:"chunk" json:"chunk"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Server      ServerConfig      `yaml:"server" json:"server"`
}

// ChunkConfig configures the chunker (component C3).
type ChunkConfig struct {
	Size    int         `yaml:"size" json:"size"`
	Overlap int         `yaml:"overlap" json:"overlap"`
	Method  ChunkMethod `yaml:"method" json:"method"`
}

// EmbeddingsConfig configures the embedding backend (component C4).
type EmbeddingsConfig struct {
	Backend          EmbeddingBackend `yaml:"backend" json:"backend"`
	Dimension        int              `yaml:"dimension" json:"dimension"`
	OpenAIModel      string           `yaml:"openai_model" json:"openai_model"`
	CohereModel      string           `yaml:"cohere_model" json:"cohere_model"`
	LocalModel       string           `yaml:"local_model" json:"local_model"`
	BatchSizeCPU     int              `yaml:"batch_size_cpu" json:"batch_size_cpu"`
	BatchSizeGPU     int              `yaml:"batch_size_gpu" json:"batch_size_gpu"`
	BatchSizeOpenAI  int              `yaml:"batch_size_openai" json:"batch_size_openai"`
	BatchSizeCohere  int              `yaml:"batch_size_cohere" json:"batch_size_cohere"`
	MaxCharsPerInput int              `yaml:"max_chars_per_input" json:"max_chars_per_input"`
}

// PerformanceConfig tunes SQLite caching, watch debounce, file-size caps,
// HTTP timeouts, and job eviction.
type PerformanceConfig struct {
	SQLiteCacheMB      int    `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
	WatchDebounceMillis int   `yaml:"watch_debounce_millis" json:"watch_debounce_millis"`
	MaxFileSizeMB      int    `yaml:"max_file_size_mb" json:"max_file_size_mb"`
	MaxRepoFileSizeMB  int    `yaml:"max_repo_file_size_mb" json:"max_repo_file_size_mb"`
	HTTPTimeoutSeconds int    `yaml:"http_timeout_seconds" json:"http_timeout_seconds"`
	JobEvictionHours   int    `yaml:"job_eviction_hours" json:"job_eviction_hours"`
}

// ServerConfig configures logging and transport.
type ServerConfig struct {
	LogLevel      string `yaml:"log_level" json:"log_level"`
	DebugLogging  bool   `yaml:"debug_logging" json:"debug_logging"`
	// LogToStderr is not read by logging.Setup; logs go only to the log file.
	LogToStderr   bool   `yaml:"log_to_stderr" json:"log_to_stderr"`
}

// New returns a Config populated with built-in defaults.
func New() *Config {
	return &Config{
		Chunk: ChunkConfig{
			Size:    1000,
			Overlap: 200,
			Method:  ChunkMethodFixed,
		},
		Embeddings: EmbeddingsConfig{
			Backend:          BackendAuto,
			Dimension:        512,
			OpenAIModel:      "text-embedding-3-small",
			CohereModel:      "embed-english-v3.0",
			LocalModel:       "bge-small-en-v1.5",
			BatchSizeCPU:     6,
			BatchSizeGPU:     32,
			BatchSizeOpenAI:  100,
			BatchSizeCohere:  96,
			MaxCharsPerInput: 2000,
		},
		Performance: PerformanceConfig{
			SQLiteCacheMB:       64,
			WatchDebounceMillis: 500,
			MaxFileSizeMB:       10,
			MaxRepoFileSizeMB:   1024,
			HTTPTimeoutSeconds:  30,
			JobEvictionHours:    24,
		},
		Server: ServerConfig{
			LogLevel:     "info",
			DebugLogging: false,
			LogToStderr:  true,
		},
	}
}

// Load builds the effective configuration: defaults, then an optional YAML
// file at configPath (if non-empty and present), then environment variables.
func Load(configPath string) (*Config, error) {
	cfg := New()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := cfg.mergeYAML(configPath); err != nil {
				return nil, err
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) mergeYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

func (c *Config) mergeWith(o *Config) {
	if o.Chunk.Size > 0 {
		c.Chunk.Size = o.Chunk.Size
	}
	if o.Chunk.Overlap > 0 {
		c.Chunk.Overlap = o.Chunk.Overlap
	}
	if o.Chunk.Method != "" {
		c.Chunk.Method = o.Chunk.Method
	}
	if o.Embeddings.Backend != "" {
		c.Embeddings.Backend = o.Embeddings.Backend
	}
	if o.Embeddings.Dimension > 0 {
		c.Embeddings.Dimension = o.Embeddings.Dimension
	}
	if o.Embeddings.OpenAIModel != "" {
		c.Embeddings.OpenAIModel = o.Embeddings.OpenAIModel
	}
	if o.Embeddings.CohereModel != "" {
		c.Embeddings.CohereModel = o.Embeddings.CohereModel
	}
	if o.Embeddings.LocalModel != "" {
		c.Embeddings.LocalModel = o.Embeddings.LocalModel
	}
	if o.Embeddings.BatchSizeCPU > 0 {
		c.Embeddings.BatchSizeCPU = o.Embeddings.BatchSizeCPU
	}
	if o.Embeddings.BatchSizeGPU > 0 {
		c.Embeddings.BatchSizeGPU = o.Embeddings.BatchSizeGPU
	}
	if o.Embeddings.BatchSizeOpenAI > 0 {
		c.Embeddings.BatchSizeOpenAI = o.Embeddings.BatchSizeOpenAI
	}
	if o.Embeddings.BatchSizeCohere > 0 {
		c.Embeddings.BatchSizeCohere = o.Embeddings.BatchSizeCohere
	}
	if o.Embeddings.MaxCharsPerInput > 0 {
		c.Embeddings.MaxCharsPerInput = o.Embeddings.MaxCharsPerInput
	}
	if o.Performance.SQLiteCacheMB > 0 {
		c.Performance.SQLiteCacheMB = o.Performance.SQLiteCacheMB
	}
	if o.Performance.WatchDebounceMillis > 0 {
		c.Performance.WatchDebounceMillis = o.Performance.WatchDebounceMillis
	}
	if o.Performance.MaxFileSizeMB > 0 {
		c.Performance.MaxFileSizeMB = o.Performance.MaxFileSizeMB
	}
	if o.Performance.MaxRepoFileSizeMB > 0 {
		c.Performance.MaxRepoFileSizeMB = o.Performance.MaxRepoFileSizeMB
	}
	if o.Performance.HTTPTimeoutSeconds > 0 {
		c.Performance.HTTPTimeoutSeconds = o.Performance.HTTPTimeoutSeconds
	}
	if o.Performance.JobEvictionHours > 0 {
		c.Performance.JobEvictionHours = o.Performance.JobEvictionHours
	}
	if o.Server.LogLevel != "" {
		c.Server.LogLevel = o.Server.LogLevel
	}
}

// applyEnvOverrides applies the environment variables named in the external
// interfaces contract. These always win over file and default config.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("EMBEDDING_BACKEND"); v != "" {
		c.Embeddings.Backend = EmbeddingBackend(v)
	}
	if v := os.Getenv("LOCAL_SEARCH_MCP_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("LOCAL_SEARCH_MCP_DEBUG"); v != "" {
		c.Server.DebugLogging = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("LOCAL_SEARCH_MCP_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Chunk.Size = n
		}
	}
	if v := os.Getenv("LOCAL_SEARCH_MCP_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Chunk.Overlap = n
		}
	}
}

// Validate rejects nonsensical configuration values.
func (c *Config) Validate() error {
	if c.Chunk.Size <= 0 {
		return fmt.Errorf("chunk.size must be positive")
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		return fmt.Errorf("chunk.overlap must be in [0, chunk.size)")
	}
	switch c.Chunk.Method {
	case ChunkMethodFixed, ChunkMethodSentenceAware, ChunkMethodParagraphAware:
	default:
		return fmt.Errorf("unknown chunk.method: %s", c.Chunk.Method)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embeddings.dimension must be positive")
	}
	return nil
}

// WriteYAML persists the configuration to path for inspection/backup.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
