package vecstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
)

// QdrantStore is the gRPC backend for an external Qdrant server. Use it
// when the corpus outgrows the embedded store.
type QdrantStore struct {
	client     *qdrant.Client
	vectorSize int
	logger     *zap.Logger
}

// QdrantOptions configures the connection to a Qdrant server.
type QdrantOptions struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	VectorSize int
}

// NewQdrantStore connects to a Qdrant server and verifies it is reachable.
func NewQdrantStore(opts QdrantOptions, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.VectorSize <= 0 {
		return nil, fmt.Errorf("vector size must be positive, got %d", opts.VectorSize)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check: %w", err)
	}

	logger.Info("qdrant vector store connected",
		zap.String("host", opts.Host),
		zap.Int("port", opts.Port),
		zap.Int("vector_size", opts.VectorSize),
	)

	return &QdrantStore{client: client, vectorSize: opts.VectorSize, logger: logger}, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, name string) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.vectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	return nil
}

func (s *QdrantStore) AddChunks(ctx context.Context, documentID string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	name, err := collectionName(documentID)
	if err != nil {
		return err
	}
	if err := s.ensureCollection(ctx, name); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, rec := range records {
		pointID := rec.ID
		if _, err := uuid.Parse(pointID); err != nil {
			pointID = uuid.NewString()
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID),
			Vectors: qdrant.NewVectors(rec.Embedding...),
			Payload: map[string]*qdrant.Value{
				"document_id": {Kind: &qdrant.Value_StringValue{StringValue: documentID}},
				"chunk_id":    {Kind: &qdrant.Value_StringValue{StringValue: rec.ID}},
				"text":        {Kind: &qdrant.Value_StringValue{StringValue: rec.Text}},
				"header":      {Kind: &qdrant.Value_StringValue{StringValue: rec.Header}},
				"page_number": {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(rec.PageNumber)}},
				"chunk_index": {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(rec.ChunkIndex)}},
			},
		}
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("upserting points to %s: %w", name, err)
	}

	s.logger.Debug("stored chunks",
		zap.String("document_id", documentID),
		zap.Int("count", len(records)),
	)
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, documentID string, vector []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	name, err := collectionName(documentID)
	if err != nil {
		return nil, err
	}

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists {
		return []SearchResult{}, nil
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", name, err)
	}

	out := make([]SearchResult, len(points))
	for i, p := range points {
		res := SearchResult{
			DocumentID: documentID,
			Similarity: p.Score,
		}
		for key, v := range p.Payload {
			switch val := v.Kind.(type) {
			case *qdrant.Value_StringValue:
				switch key {
				case "chunk_id":
					res.ChunkID = val.StringValue
				case "text":
					res.Text = val.StringValue
				case "header":
					res.Header = val.StringValue
				}
			case *qdrant.Value_IntegerValue:
				switch key {
				case "page_number":
					res.PageNumber = int(val.IntegerValue)
				case "chunk_index":
					res.ChunkIndex = int(val.IntegerValue)
				}
			}
		}
		out[i] = res
	}
	return out, nil
}

func (s *QdrantStore) DeleteDocument(ctx context.Context, documentID string) error {
	name, err := collectionName(documentID)
	if err != nil {
		return err
	}
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	s.logger.Debug("deleted document vectors", zap.String("document_id", documentID))
	return nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}
