// Package config provides configuration loading for corpusd.
//
// Configuration is read from a YAML file and overridden by CORPUSD_-prefixed
// environment variables. Every section carries its own defaults and
// validation so components can be constructed from a partial file.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete corpusd configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Storage     StorageConfig     `koanf:"storage"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Ollama      OllamaConfig      `koanf:"ollama"`
	Ingest      IngestConfig      `koanf:"ingest"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Rerank      RerankConfig      `koanf:"rerank"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// StorageConfig holds document metadata store configuration.
type StorageConfig struct {
	DataDir string `koanf:"data_dir"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	// Provider is "chromem" (embedded, default) or "qdrant".
	Provider   string        `koanf:"provider"`
	VectorSize int           `koanf:"vector_size"`
	Chromem    ChromemConfig `koanf:"chromem"`
	Qdrant     QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig holds chromem-go embedded store configuration.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig holds Qdrant gRPC client configuration.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	APIKey string `koanf:"api_key"`
	UseTLS bool   `koanf:"use_tls"`
}

// OllamaConfig holds embedding/generation service client configuration.
type OllamaConfig struct {
	BaseURL        string        `koanf:"base_url"`
	EmbeddingModel string        `koanf:"embedding_model"`
	ChatModel      string        `koanf:"chat_model"`
	// Timeout bounds a single request; retries are timed separately.
	Timeout        time.Duration `koanf:"timeout"`
	Retries        int           `koanf:"retries"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
	Concurrency    int           `koanf:"concurrency"`
	// RequestsPerSecond caps the outbound request rate. Zero disables the limiter.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// IngestConfig holds ingestion pipeline configuration.
type IngestConfig struct {
	UploadDir         string `koanf:"upload_dir"`
	MaxFileSize       int64  `koanf:"max_file_size"`
	ChunkSize         int    `koanf:"chunk_size"`
	ChunkOverlap      int    `koanf:"chunk_overlap"`
	PageCharThreshold int    `koanf:"page_char_threshold"`
	GenerateHeaders   bool   `koanf:"generate_headers"`
	Workers           int    `koanf:"workers"`
}

// RetrievalConfig holds search-time configuration.
type RetrievalConfig struct {
	TopK                int     `koanf:"top_k"`
	SimilarityThreshold float64 `koanf:"similarity_threshold"`
	// GlobalThresholdMargin relaxes the threshold for all-documents search
	// so thin evidence spread over many documents is not starved out.
	GlobalThresholdMargin float64 `koanf:"global_threshold_margin"`
	ContextMaxChars       int     `koanf:"context_max_chars"`
}

// RerankConfig holds cross-encoder reranker configuration.
type RerankConfig struct {
	Enabled     bool `koanf:"enabled"`
	TopK        int  `koanf:"top_k"`
	CacheSize   int  `koanf:"cache_size"`
	FetchFactor int  `koanf:"fetch_factor"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "~/.local/share/corpusd"
	}

	if c.VectorStore.Provider == "" {
		c.VectorStore.Provider = "chromem"
	}
	if c.VectorStore.VectorSize == 0 {
		c.VectorStore.VectorSize = 768 // nomic-embed-text dimensions
	}
	if c.VectorStore.Chromem.Path == "" {
		c.VectorStore.Chromem.Path = "~/.local/share/corpusd/vectorstore"
	}
	if c.VectorStore.Qdrant.Host == "" {
		c.VectorStore.Qdrant.Host = "localhost"
	}
	if c.VectorStore.Qdrant.Port == 0 {
		c.VectorStore.Qdrant.Port = 6334
	}

	if c.Ollama.BaseURL == "" {
		c.Ollama.BaseURL = "http://localhost:11434"
	}
	if c.Ollama.EmbeddingModel == "" {
		c.Ollama.EmbeddingModel = "nomic-embed-text"
	}
	if c.Ollama.ChatModel == "" {
		c.Ollama.ChatModel = "mistral"
	}
	if c.Ollama.Timeout == 0 {
		c.Ollama.Timeout = 60 * time.Second
	}
	if c.Ollama.Retries == 0 {
		c.Ollama.Retries = 3
	}
	if c.Ollama.RetryBaseDelay == 0 {
		c.Ollama.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.Ollama.Concurrency == 0 {
		c.Ollama.Concurrency = 4
	}

	if c.Ingest.UploadDir == "" {
		c.Ingest.UploadDir = "~/.local/share/corpusd/uploads"
	}
	if c.Ingest.MaxFileSize == 0 {
		c.Ingest.MaxFileSize = 50 * 1024 * 1024
	}
	if c.Ingest.ChunkSize == 0 {
		c.Ingest.ChunkSize = 1500 // larger chunks keep table rows together
	}
	if c.Ingest.ChunkOverlap == 0 {
		c.Ingest.ChunkOverlap = 300
	}
	if c.Ingest.PageCharThreshold == 0 {
		c.Ingest.PageCharThreshold = 3000
	}
	if c.Ingest.Workers == 0 {
		c.Ingest.Workers = 2
	}

	if c.Retrieval.TopK == 0 {
		c.Retrieval.TopK = 10
	}
	if c.Retrieval.SimilarityThreshold == 0 {
		c.Retrieval.SimilarityThreshold = 0.3
	}
	if c.Retrieval.GlobalThresholdMargin == 0 {
		c.Retrieval.GlobalThresholdMargin = 0.05
	}
	if c.Retrieval.ContextMaxChars == 0 {
		c.Retrieval.ContextMaxChars = 24000 // ~6000 tokens
	}

	if c.Rerank.TopK == 0 {
		c.Rerank.TopK = 5
	}
	if c.Rerank.CacheSize == 0 {
		c.Rerank.CacheSize = 1024
	}
	if c.Rerank.FetchFactor == 0 {
		c.Rerank.FetchFactor = 3
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q (json or console)", c.Logging.Format)
	}
	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unknown vector store provider: %q", c.VectorStore.Provider)
	}
	if c.VectorStore.VectorSize <= 0 {
		return errors.New("vector size must be positive")
	}
	if c.Ollama.Retries < 0 {
		return errors.New("ollama retries cannot be negative")
	}
	if c.Ollama.Concurrency < 1 {
		return errors.New("ollama concurrency must be at least 1")
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be smaller than chunk size %d",
			c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	if c.Retrieval.SimilarityThreshold < 0 || c.Retrieval.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold %.2f must be in [0,1]", c.Retrieval.SimilarityThreshold)
	}
	if c.Retrieval.TopK < 1 {
		return errors.New("retrieval top_k must be at least 1")
	}
	if c.Rerank.Enabled {
		if c.Rerank.TopK < 1 {
			return errors.New("rerank top_k must be at least 1")
		}
		if c.Rerank.CacheSize < 1 {
			return errors.New("rerank cache_size must be at least 1")
		}
		if c.Rerank.FetchFactor < 1 {
			return errors.New("rerank fetch_factor must be at least 1")
		}
	}
	return nil
}
