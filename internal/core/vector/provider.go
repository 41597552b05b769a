package vector

import (
	"context"
)

// Provider defines the interface for vector store operations backing the
// alias index. Supports both self-hosted and cloud-based Qdrant instances.
type Provider interface {
	// Initialize initializes the connection to the vector store
	Initialize(ctx context.Context) error

	// CreateCollection creates a new collection (no-op if it already exists)
	CreateCollection(ctx context.Context, name string, vectorSize int) error

	// DeleteCollection deletes a collection
	DeleteCollection(ctx context.Context, name string) error

	// Upsert inserts or updates vectors in a collection. Writes are applied
	// before the call returns so a freshly indexed alias is searchable by the
	// next resolution in the same batch.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search performs cosine similarity search and returns the closest points
	Search(ctx context.Context, collection string, query []float32, limit int) ([]SearchResult, error)

	// Delete deletes points by IDs
	Delete(ctx context.Context, collection string, ids []string) error

	// GetCollectionInfo gets information about a collection
	GetCollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error)

	// Close closes the connection
	Close() error

	// GetProviderType returns the provider type ("qdrant_cloud" or "qdrant_self_hosted")
	GetProviderType() string
}

// Point represents a vector point with metadata
type Point struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// SearchResult represents a search result
type SearchResult struct {
	ID      string                 `json:"id"`
	Score   float32                `json:"score"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// CollectionInfo represents collection metadata
type CollectionInfo struct {
	Name        string `json:"name"`
	VectorSize  int    `json:"vector_size"`
	PointsCount int64  `json:"points_count"`
	Status      string `json:"status"`
}
