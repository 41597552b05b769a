package vector

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// AliasEntry is one alias to index: the point ID is the alias ID and the
// payload carries the owning product so a hit can be resolved back to a
// catalog row without a database join.
type AliasEntry struct {
	AliasID   uuid.UUID
	ProductID uuid.UUID
	Text      string
}

// AliasHit is a nearest-neighbour match from the alias collection.
type AliasHit struct {
	AliasID   uuid.UUID `json:"alias_id"`
	ProductID uuid.UUID `json:"product_id"`
	Score     float32   `json:"score"`
}

// AliasIndex maintains the embedding index entity resolution falls back to
// when no exact identifier or alias matches an incoming product name.
type AliasIndex struct {
	provider   Provider
	embedding  EmbeddingProvider
	collection string
}

// NewAliasIndex creates an alias index over the given vector store and
// embedding provider. Default collection name: "product_aliases".
func NewAliasIndex(provider Provider, embedding EmbeddingProvider, collection string) *AliasIndex {
	if collection == "" {
		collection = "product_aliases"
	}
	return &AliasIndex{
		provider:   provider,
		embedding:  embedding,
		collection: collection,
	}
}

// EnsureReady connects to the vector store and creates the alias collection
// if it does not exist yet.
func (ix *AliasIndex) EnsureReady(ctx context.Context) error {
	log.Printf("📊 Initializing alias index (%s)...", ix.provider.GetProviderType())

	if err := ix.provider.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize vector provider: %w", err)
	}

	if err := ix.provider.CreateCollection(ctx, ix.collection, ix.embedding.GetDimensions()); err != nil {
		return fmt.Errorf("failed to create alias collection: %w", err)
	}

	log.Printf("✅ Alias index ready (collection=%s, model=%s, dims=%d)",
		ix.collection, ix.embedding.GetProviderName(), ix.embedding.GetDimensions())
	return nil
}

// IndexAlias embeds the alias text and upserts it keyed by the alias ID.
// Re-indexing the same alias overwrites the previous point.
func (ix *AliasIndex) IndexAlias(ctx context.Context, entry AliasEntry) error {
	_, err := ix.IndexAliasVector(ctx, entry)
	return err
}

// IndexAliasVector indexes one alias and returns the computed vector so the
// caller can cache it alongside the database row.
func (ix *AliasIndex) IndexAliasVector(ctx context.Context, entry AliasEntry) ([]float32, error) {
	if entry.Text == "" {
		return nil, fmt.Errorf("alias text cannot be empty")
	}

	embedding, err := ix.embedding.GenerateEmbedding(ctx, entry.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed alias: %w", err)
	}

	err = ix.provider.Upsert(ctx, ix.collection, []Point{{
		ID:     entry.AliasID.String(),
		Vector: embedding,
		Payload: map[string]interface{}{
			"product_id": entry.ProductID.String(),
			"alias_text": entry.Text,
		},
	}})
	if err != nil {
		return nil, err
	}
	return embedding, nil
}

// IndexAliases embeds and upserts a batch of aliases in one round trip per
// backend call, returning the vectors in entry order so the nightly backfill
// can cache them alongside the database rows.
func (ix *AliasIndex) IndexAliases(ctx context.Context, entries []AliasEntry) ([][]float32, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	texts := make([]string, len(entries))
	for i, entry := range entries {
		texts[i] = entry.Text
	}

	embeddings, err := ix.embedding.GenerateBatchEmbeddings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed alias batch: %w", err)
	}
	if len(embeddings) != len(entries) {
		return nil, fmt.Errorf("embedding count mismatch: got %d for %d aliases", len(embeddings), len(entries))
	}

	points := make([]Point, len(entries))
	for i, entry := range entries {
		points[i] = Point{
			ID:     entry.AliasID.String(),
			Vector: embeddings[i],
			Payload: map[string]interface{}{
				"product_id": entry.ProductID.String(),
				"alias_text": entry.Text,
			},
		}
	}

	if err := ix.provider.Upsert(ctx, ix.collection, points); err != nil {
		return nil, err
	}
	return embeddings, nil
}

// Nearest embeds the query text and returns up to k alias matches ordered by
// similarity. Points with a malformed payload are skipped rather than failing
// the whole lookup.
func (ix *AliasIndex) Nearest(ctx context.Context, text string, k int) ([]AliasHit, error) {
	if text == "" {
		return nil, fmt.Errorf("query text cannot be empty")
	}
	if k <= 0 {
		k = 50
	}

	queryEmbedding, err := ix.embedding.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := ix.provider.Search(ctx, ix.collection, queryEmbedding, k)
	if err != nil {
		return nil, err
	}

	hits := make([]AliasHit, 0, len(results))
	for _, result := range results {
		aliasID, err := uuid.Parse(result.ID)
		if err != nil {
			continue
		}
		rawProduct, _ := result.Payload["product_id"].(string)
		productID, err := uuid.Parse(rawProduct)
		if err != nil {
			continue
		}
		hits = append(hits, AliasHit{
			AliasID:   aliasID,
			ProductID: productID,
			Score:     result.Score,
		})
	}

	return hits, nil
}

// RemoveAlias deletes an alias point from the index.
func (ix *AliasIndex) RemoveAlias(ctx context.Context, aliasID uuid.UUID) error {
	return ix.provider.Delete(ctx, ix.collection, []string{aliasID.String()})
}

// Reset drops and recreates the alias collection. Used before a full
// re-index from the database.
func (ix *AliasIndex) Reset(ctx context.Context) error {
	if err := ix.provider.DeleteCollection(ctx, ix.collection); err != nil {
		return err
	}
	return ix.provider.CreateCollection(ctx, ix.collection, ix.embedding.GetDimensions())
}

// Info returns collection stats for the diagnostics endpoint.
func (ix *AliasIndex) Info(ctx context.Context) (*CollectionInfo, error) {
	return ix.provider.GetCollectionInfo(ctx, ix.collection)
}

// Close closes the underlying vector store connection.
func (ix *AliasIndex) Close() error {
	return ix.provider.Close()
}

// ProviderType returns the backing vector store type.
func (ix *AliasIndex) ProviderType() string {
	return ix.provider.GetProviderType()
}

// EmbeddingModel returns the embedding model name.
func (ix *AliasIndex) EmbeddingModel() string {
	return ix.embedding.GetProviderName()
}
