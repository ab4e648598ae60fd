package vecstore

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/corpuslabs/corpusd/internal/config"
)

// New creates a Store from configuration.
//
// Providers:
//   - "chromem" (default): embedded store, no external service
//   - "qdrant": external Qdrant server over gRPC
func New(cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.VectorStore.Provider {
	case "chromem", "":
		return NewChromemStore(cfg.VectorStore.Chromem.Path, cfg.VectorStore.Chromem.Compress, logger)
	case "qdrant":
		return NewQdrantStore(QdrantOptions{
			Host:       cfg.VectorStore.Qdrant.Host,
			Port:       cfg.VectorStore.Qdrant.Port,
			APIKey:     cfg.VectorStore.Qdrant.APIKey,
			UseTLS:     cfg.VectorStore.Qdrant.UseTLS,
			VectorSize: cfg.VectorStore.VectorSize,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s (supported: chromem, qdrant)", cfg.VectorStore.Provider)
	}
}
