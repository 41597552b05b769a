package vector

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

// fakeEmbedding returns a fixed-size vector derived from the text length so
// tests stay deterministic without a live embedding API.
type fakeEmbedding struct {
	dims int
}

func (f *fakeEmbedding) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, f.dims)
	for i := range vec {
		vec[i] = float32(len(text)%7) + float32(i)
	}
	return vec, nil
}

func (f *fakeEmbedding) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i], _ = f.GenerateEmbedding(ctx, text)
	}
	return out, nil
}

func (f *fakeEmbedding) GetDimensions() int      { return f.dims }
func (f *fakeEmbedding) GetProviderName() string { return "fake" }

// fakeStore records calls and serves canned search results.
type fakeStore struct {
	initialized    bool
	createdName    string
	createdSize    int
	upserted       map[string][]Point
	searchLimit    int
	searchResults  []SearchResult
	deletedIDs     []string
	deletedColl    string
	droppedColl    string
	collectionInfo *CollectionInfo
}

func newFakeStore() *fakeStore {
	return &fakeStore{upserted: make(map[string][]Point)}
}

func (f *fakeStore) Initialize(ctx context.Context) error {
	f.initialized = true
	return nil
}

func (f *fakeStore) CreateCollection(ctx context.Context, name string, vectorSize int) error {
	f.createdName = name
	f.createdSize = vectorSize
	return nil
}

func (f *fakeStore) DeleteCollection(ctx context.Context, name string) error {
	f.droppedColl = name
	return nil
}

func (f *fakeStore) Upsert(ctx context.Context, collection string, points []Point) error {
	f.upserted[collection] = append(f.upserted[collection], points...)
	return nil
}

func (f *fakeStore) Search(ctx context.Context, collection string, query []float32, limit int) ([]SearchResult, error) {
	f.searchLimit = limit
	return f.searchResults, nil
}

func (f *fakeStore) Delete(ctx context.Context, collection string, ids []string) error {
	f.deletedColl = collection
	f.deletedIDs = append(f.deletedIDs, ids...)
	return nil
}

func (f *fakeStore) GetCollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error) {
	return f.collectionInfo, nil
}

func (f *fakeStore) Close() error            { return nil }
func (f *fakeStore) GetProviderType() string { return "fake" }

// TestEnsureReadyCreatesCollection verifies the index connects and creates
// its collection sized to the embedding model.
func TestEnsureReadyCreatesCollection(t *testing.T) {
	store := newFakeStore()
	ix := NewAliasIndex(store, &fakeEmbedding{dims: 8}, "")

	if err := ix.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady returned error: %v", err)
	}
	if !store.initialized {
		t.Fatal("expected provider to be initialized")
	}
	if store.createdName != "product_aliases" {
		t.Fatalf("expected default collection product_aliases, got %q", store.createdName)
	}
	if store.createdSize != 8 {
		t.Fatalf("expected vector size 8, got %d", store.createdSize)
	}
}

// TestIndexAliasStoresProductPayload verifies an indexed alias carries the
// owning product in its payload and is keyed by the alias ID.
func TestIndexAliasStoresProductPayload(t *testing.T) {
	store := newFakeStore()
	ix := NewAliasIndex(store, &fakeEmbedding{dims: 4}, "aliases")

	aliasID := uuid.New()
	productID := uuid.New()
	err := ix.IndexAlias(context.Background(), AliasEntry{
		AliasID:   aliasID,
		ProductID: productID,
		Text:      "iphone 13 128gb",
	})
	if err != nil {
		t.Fatalf("IndexAlias returned error: %v", err)
	}

	points := store.upserted["aliases"]
	if len(points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(points))
	}
	if points[0].ID != aliasID.String() {
		t.Fatalf("expected point ID %s, got %s", aliasID, points[0].ID)
	}
	if got := points[0].Payload["product_id"]; got != productID.String() {
		t.Fatalf("expected product_id payload %s, got %v", productID, got)
	}
	if got := points[0].Payload["alias_text"]; got != "iphone 13 128gb" {
		t.Fatalf("expected alias_text payload, got %v", got)
	}
}

// TestIndexAliasRejectsEmptyText verifies empty alias text is refused before
// any embedding call.
func TestIndexAliasRejectsEmptyText(t *testing.T) {
	store := newFakeStore()
	ix := NewAliasIndex(store, &fakeEmbedding{dims: 4}, "aliases")

	err := ix.IndexAlias(context.Background(), AliasEntry{AliasID: uuid.New(), ProductID: uuid.New()})
	if err == nil {
		t.Fatal("expected error for empty alias text")
	}
	if len(store.upserted["aliases"]) != 0 {
		t.Fatal("expected no points to be upserted")
	}
}

// TestIndexAliasesBatch verifies the backfill path upserts every entry in a
// single provider call.
func TestIndexAliasesBatch(t *testing.T) {
	store := newFakeStore()
	ix := NewAliasIndex(store, &fakeEmbedding{dims: 4}, "aliases")

	entries := []AliasEntry{
		{AliasID: uuid.New(), ProductID: uuid.New(), Text: "galaxy s24"},
		{AliasID: uuid.New(), ProductID: uuid.New(), Text: "pixel 9 pro"},
	}
	vectors, err := ix.IndexAliases(context.Background(), entries)
	if err != nil {
		t.Fatalf("IndexAliases returned error: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors back, got %d", len(vectors))
	}

	points := store.upserted["aliases"]
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	for i, entry := range entries {
		if points[i].ID != entry.AliasID.String() {
			t.Fatalf("point %d: expected ID %s, got %s", i, entry.AliasID, points[i].ID)
		}
	}
}

// TestNearestParsesHits verifies search results are mapped to alias hits and
// malformed points are skipped instead of failing the lookup.
func TestNearestParsesHits(t *testing.T) {
	goodAlias := uuid.New()
	goodProduct := uuid.New()

	store := newFakeStore()
	store.searchResults = []SearchResult{
		{ID: goodAlias.String(), Score: 0.91, Payload: map[string]interface{}{"product_id": goodProduct.String()}},
		{ID: "not-a-uuid", Score: 0.88, Payload: map[string]interface{}{"product_id": goodProduct.String()}},
		{ID: uuid.New().String(), Score: 0.87, Payload: map[string]interface{}{}},
	}
	ix := NewAliasIndex(store, &fakeEmbedding{dims: 4}, "aliases")

	hits, err := ix.Nearest(context.Background(), "iphone 13", 10)
	if err != nil {
		t.Fatalf("Nearest returned error: %v", err)
	}
	if store.searchLimit != 10 {
		t.Fatalf("expected search limit 10, got %d", store.searchLimit)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 valid hit, got %d", len(hits))
	}
	if hits[0].AliasID != goodAlias || hits[0].ProductID != goodProduct {
		t.Fatalf("hit IDs mismatch: %+v", hits[0])
	}
	if hits[0].Score != 0.91 {
		t.Fatalf("expected score 0.91, got %v", hits[0].Score)
	}
}

// TestNearestDefaultLimit verifies a non-positive k falls back to 50
// candidates.
func TestNearestDefaultLimit(t *testing.T) {
	store := newFakeStore()
	ix := NewAliasIndex(store, &fakeEmbedding{dims: 4}, "aliases")

	if _, err := ix.Nearest(context.Background(), "ipad 9", 0); err != nil {
		t.Fatalf("Nearest returned error: %v", err)
	}
	if store.searchLimit != 50 {
		t.Fatalf("expected default limit 50, got %d", store.searchLimit)
	}
}

// TestRemoveAlias verifies deletion targets the alias point in the index
// collection.
func TestRemoveAlias(t *testing.T) {
	store := newFakeStore()
	ix := NewAliasIndex(store, &fakeEmbedding{dims: 4}, "aliases")

	aliasID := uuid.New()
	if err := ix.RemoveAlias(context.Background(), aliasID); err != nil {
		t.Fatalf("RemoveAlias returned error: %v", err)
	}
	if store.deletedColl != "aliases" {
		t.Fatalf("expected delete in aliases collection, got %q", store.deletedColl)
	}
	if len(store.deletedIDs) != 1 || store.deletedIDs[0] != aliasID.String() {
		t.Fatalf("expected deleted ID %s, got %v", aliasID, store.deletedIDs)
	}
}
