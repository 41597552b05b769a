package services

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/itsAR-VR/pricebot/internal/core/ingestion"
	"github.com/itsAR-VR/pricebot/internal/core/vector"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
	"gorm.io/gorm"
)

// fakeProductRepo scripts catalog lookups for resolver tests.
type fakeProductRepo struct {
	products map[uuid.UUID]*models.Product
	aliases  []*models.ProductAlias
	created  []*models.Product
}

func newFakeProductRepo() *fakeProductRepo {
	return &fakeProductRepo{products: make(map[uuid.UUID]*models.Product)}
}

func (f *fakeProductRepo) add(p *models.Product) *models.Product {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	f.products[p.ID] = p
	return p
}

func (f *fakeProductRepo) Create(product *models.Product) error {
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	f.products[product.ID] = product
	f.created = append(f.created, product)
	return nil
}

func (f *fakeProductRepo) GetByID(id string) (*models.Product, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	if p, ok := f.products[uid]; ok {
		return p, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeProductRepo) GetByUPC(upc string) (*models.Product, error) {
	for _, p := range f.products {
		if p.UPC != nil && *p.UPC == upc {
			return p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeProductRepo) GetByBrandModel(brand, modelNumber string) (*models.Product, error) {
	for _, p := range f.products {
		if p.Brand != nil && p.ModelNumber != nil &&
			strings.EqualFold(strings.TrimSpace(*p.Brand), strings.TrimSpace(brand)) &&
			strings.EqualFold(strings.TrimSpace(*p.ModelNumber), strings.TrimSpace(modelNumber)) {
			return p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeProductRepo) GetByCanonicalNameCI(name string) (*models.Product, error) {
	for _, p := range f.products {
		if strings.EqualFold(p.CanonicalName, strings.TrimSpace(name)) {
			return p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeProductRepo) Update(product *models.Product) error { return nil }

func (f *fakeProductRepo) ListSummaries(filter models.ProductFilter) ([]models.ProductSummary, error) {
	return nil, nil
}

func (f *fakeProductRepo) Search(query string, limit, offset int) ([]models.Product, error) {
	return nil, nil
}

func (f *fakeProductRepo) SearchResolve(query string, tokens []string, limit, offset int) ([]models.Product, int64, bool, error) {
	if limit < 1 {
		limit = 5
	}
	fieldMatch := func(p *models.Product, text string) bool {
		lower := strings.ToLower(text)
		if strings.Contains(strings.ToLower(p.CanonicalName), lower) {
			return true
		}
		if p.ModelNumber != nil && strings.Contains(strings.ToLower(*p.ModelNumber), lower) {
			return true
		}
		for _, a := range f.aliases {
			if a.ProductID == p.ID && strings.Contains(strings.ToLower(a.AliasText), lower) {
				return true
			}
		}
		return false
	}

	var matched []models.Product
	for _, p := range f.products {
		ok := fieldMatch(p, query)
		if !ok && p.UPC != nil && *p.UPC == query {
			ok = true
		}
		if !ok && len(tokens) > 0 {
			ok = true
			for _, token := range tokens {
				if !fieldMatch(p, token) {
					ok = false
					break
				}
			}
		}
		if ok {
			matched = append(matched, *p)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return strings.ToLower(matched[i].CanonicalName) < strings.ToLower(matched[j].CanonicalName)
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, false, nil
	}
	matched = matched[offset:]
	hasMore := len(matched) > limit
	if hasMore {
		matched = matched[:limit]
	}
	return matched, total, hasMore, nil
}

func (f *fakeProductRepo) HasAliasContaining(productID uuid.UUID, text string) (bool, error) {
	lower := strings.ToLower(text)
	for _, a := range f.aliases {
		if a.ProductID == productID && strings.Contains(strings.ToLower(a.AliasText), lower) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeProductRepo) Count() (int64, error) { return int64(len(f.products)), nil }

func (f *fakeProductRepo) CreateAlias(alias *models.ProductAlias) error {
	if alias.ID == uuid.Nil {
		alias.ID = uuid.New()
	}
	f.aliases = append(f.aliases, alias)
	return nil
}

func (f *fakeProductRepo) FindAliasExact(text string, vendorID *uuid.UUID) (*models.ProductAlias, error) {
	for _, a := range f.aliases {
		if !strings.EqualFold(a.AliasText, strings.TrimSpace(text)) {
			continue
		}
		if vendorID == nil && a.SourceVendorID == nil {
			return a, nil
		}
		if vendorID != nil && a.SourceVendorID != nil && *a.SourceVendorID == *vendorID {
			return a, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeProductRepo) AliasExists(productID uuid.UUID, text string, vendorID *uuid.UUID) (bool, error) {
	for _, a := range f.aliases {
		if a.ProductID != productID || !strings.EqualFold(a.AliasText, strings.TrimSpace(text)) {
			continue
		}
		if vendorID == nil && a.SourceVendorID == nil {
			return true, nil
		}
		if vendorID != nil && a.SourceVendorID != nil && *a.SourceVendorID == *vendorID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeProductRepo) AliasesByIDs(ids []string) ([]models.ProductAlias, error) { return nil, nil }

func (f *fakeProductRepo) AliasesMissingEmbedding(limit int) ([]models.ProductAlias, error) {
	var missing []models.ProductAlias
	for _, a := range f.aliases {
		if len(a.Embedding) == 0 {
			missing = append(missing, *a)
		}
		if limit > 0 && len(missing) == limit {
			break
		}
	}
	return missing, nil
}

func (f *fakeProductRepo) SaveAliasEmbedding(alias *models.ProductAlias) error {
	for _, a := range f.aliases {
		if a.ID == alias.ID {
			a.Embedding = alias.Embedding
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

// stubEmbedding returns zero vectors; resolver tests only care about scores
// scripted into the stub store.
type stubEmbedding struct{}

func (stubEmbedding) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, 4), nil
}

func (stubEmbedding) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, 4)
	}
	return out, nil
}

func (stubEmbedding) GetDimensions() int      { return 4 }
func (stubEmbedding) GetProviderName() string { return "stub" }

type stubStore struct {
	results  []vector.SearchResult
	upserted []vector.Point
}

func (s *stubStore) Initialize(ctx context.Context) error { return nil }
func (s *stubStore) CreateCollection(ctx context.Context, name string, vectorSize int) error {
	return nil
}
func (s *stubStore) DeleteCollection(ctx context.Context, name string) error { return nil }
func (s *stubStore) Upsert(ctx context.Context, collection string, points []vector.Point) error {
	s.upserted = append(s.upserted, points...)
	return nil
}
func (s *stubStore) Search(ctx context.Context, collection string, query []float32, limit int) ([]vector.SearchResult, error) {
	return s.results, nil
}
func (s *stubStore) Delete(ctx context.Context, collection string, ids []string) error { return nil }
func (s *stubStore) GetCollectionInfo(ctx context.Context, collection string) (*vector.CollectionInfo, error) {
	return &vector.CollectionInfo{Name: collection}, nil
}
func (s *stubStore) Close() error            { return nil }
func (s *stubStore) GetProviderType() string { return "stub" }

func strp(s string) *string { return &s }

// UPC equality wins over every other signal.
func TestResolvePrefersUPC(t *testing.T) {
	repo := newFakeProductRepo()
	want := repo.add(&models.Product{
		CanonicalName: "Motorola G5",
		UPC:           strp("840023255922"),
	})
	repo.add(&models.Product{
		CanonicalName: "Motorola G5 Plus",
		Brand:         strp("Motorola"),
		ModelNumber:   strp("G5"),
	})

	r := NewProductResolver(repo, nil, 0.86, 50)
	product, created, err := r.Resolve(context.Background(), ingestion.RawOffer{
		ProductName: "Moto G5 64GB",
		Brand:       strp("Motorola"),
		ModelNumber: strp("G5"),
		UPC:         strp("840023255922"),
	}, uuid.New())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if created {
		t.Fatal("expected existing product")
	}
	if product.ID != want.ID {
		t.Fatalf("expected UPC match %s, got %s", want.CanonicalName, product.CanonicalName)
	}
}

// UPCs are normalized to digits before comparison.
func TestResolveNormalizesUPC(t *testing.T) {
	repo := newFakeProductRepo()
	want := repo.add(&models.Product{CanonicalName: "Pixel 9", UPC: strp("84002325599")})

	r := NewProductResolver(repo, nil, 0.86, 50)
	product, _, err := r.Resolve(context.Background(), ingestion.RawOffer{
		ProductName: "Pixel 9 128GB",
		UPC:         strp(" 8400-2325-599 "),
	}, uuid.New())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if product.ID != want.ID {
		t.Fatal("expected dashed UPC to normalize onto the same product")
	}
}

// Brand and model match case-insensitively when no UPC hits.
func TestResolveBrandModel(t *testing.T) {
	repo := newFakeProductRepo()
	want := repo.add(&models.Product{
		CanonicalName: "Samsung Galaxy S24",
		Brand:         strp("Samsung"),
		ModelNumber:   strp("SM-S921U"),
	})

	r := NewProductResolver(repo, nil, 0.86, 50)
	product, created, err := r.Resolve(context.Background(), ingestion.RawOffer{
		ProductName: "Galaxy S24 128GB Unlocked",
		Brand:       strp("samsung"),
		ModelNumber: strp("sm-s921u"),
	}, uuid.New())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if created || product.ID != want.ID {
		t.Fatalf("expected brand/model match, created=%v", created)
	}
}

// Vendor-scoped aliases win over global ones with the same text.
func TestResolveAliasVendorScopePrecedence(t *testing.T) {
	repo := newFakeProductRepo()
	vendorID := uuid.New()
	scoped := repo.add(&models.Product{CanonicalName: "iPhone 13 128GB"})
	global := repo.add(&models.Product{CanonicalName: "iPhone 13 128GB (intl)"})

	repo.aliases = append(repo.aliases,
		&models.ProductAlias{ID: uuid.New(), ProductID: global.ID, AliasText: "ip13 128"},
		&models.ProductAlias{ID: uuid.New(), ProductID: scoped.ID, AliasText: "ip13 128", SourceVendorID: &vendorID},
	)

	r := NewProductResolver(repo, nil, 0.86, 50)
	product, created, err := r.Resolve(context.Background(), ingestion.RawOffer{ProductName: "ip13 128"}, vendorID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if created {
		t.Fatal("expected alias match")
	}
	if product.ID != scoped.ID {
		t.Fatal("expected the vendor-scoped alias to win")
	}

	// A different vendor only sees the global alias.
	product, _, err = r.Resolve(context.Background(), ingestion.RawOffer{ProductName: "ip13 128"}, uuid.New())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if product.ID != global.ID {
		t.Fatal("expected the global alias for an unscoped vendor")
	}
}

// No match at all creates a product from the row.
func TestResolveCreatesProduct(t *testing.T) {
	repo := newFakeProductRepo()

	r := NewProductResolver(repo, nil, 0.86, 50)
	product, created, err := r.Resolve(context.Background(), ingestion.RawOffer{
		ProductName: "AirPods Pro 2",
		Brand:       strp("Apple"),
		UPC:         strp("194253397163"),
	}, uuid.New())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !created {
		t.Fatal("expected a new product")
	}
	if product.CanonicalName != "AirPods Pro 2" {
		t.Fatalf("expected canonical name from description, got %q", product.CanonicalName)
	}
	if product.UPC == nil || *product.UPC != "194253397163" {
		t.Fatalf("expected UPC carried onto the new product, got %v", product.UPC)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected one create, got %d", len(repo.created))
	}
}

// A hit under a different description writes a vendor-scoped alias back.
func TestResolveWritesAliasOnDescriptionMismatch(t *testing.T) {
	repo := newFakeProductRepo()
	vendorID := uuid.New()
	product := repo.add(&models.Product{
		CanonicalName: "Apple iPhone 11 64GB Black",
		UPC:           strp("190199220867"),
	})

	r := NewProductResolver(repo, nil, 0.86, 50)
	if _, _, err := r.Resolve(context.Background(), ingestion.RawOffer{
		ProductName: "iPhone 11 64GB Blk A/A-",
		UPC:         strp("190199220867"),
	}, vendorID); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if len(repo.aliases) != 1 {
		t.Fatalf("expected one alias written back, got %d", len(repo.aliases))
	}
	alias := repo.aliases[0]
	if alias.ProductID != product.ID || alias.AliasText != "iPhone 11 64GB Blk A/A-" {
		t.Fatalf("unexpected alias %+v", alias)
	}
	if alias.SourceVendorID == nil || *alias.SourceVendorID != vendorID {
		t.Fatal("expected alias scoped to the resolving vendor")
	}

	// Resolving again must not duplicate the alias.
	if _, _, err := r.Resolve(context.Background(), ingestion.RawOffer{
		ProductName: "iPhone 11 64GB Blk A/A-",
		UPC:         strp("190199220867"),
	}, vendorID); err != nil {
		t.Fatalf("re-resolve: %v", err)
	}
	if len(repo.aliases) != 1 {
		t.Fatalf("expected alias write-back to be idempotent, got %d", len(repo.aliases))
	}
}

// The embedding fallback accepts the nearest alias at or above the threshold
// and ignores sub-threshold hits.
func TestResolveEmbeddingFallback(t *testing.T) {
	repo := newFakeProductRepo()
	vendorID := uuid.New()
	want := repo.add(&models.Product{CanonicalName: "Google Pixel 8 128GB"})
	aliasID := uuid.New()
	repo.aliases = append(repo.aliases, &models.ProductAlias{
		ID: aliasID, ProductID: want.ID, AliasText: "Pixel8-128", SourceVendorID: &vendorID,
	})

	store := &stubStore{results: []vector.SearchResult{
		{ID: aliasID.String(), Score: 0.91, Payload: map[string]interface{}{"product_id": want.ID.String()}},
	}}
	index := vector.NewAliasIndex(store, stubEmbedding{}, "test_aliases")

	r := NewProductResolver(repo, index, 0.86, 50)
	product, created, err := r.Resolve(context.Background(), ingestion.RawOffer{ProductName: "Googel Pixel 8 128"}, vendorID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if created {
		t.Fatal("expected embedding hit, not a create")
	}
	if product.ID != want.ID {
		t.Fatalf("expected embedding match onto %s", want.CanonicalName)
	}

	// Below threshold the resolver creates instead.
	store.results[0].Score = 0.70
	product, created, err = r.Resolve(context.Background(), ingestion.RawOffer{ProductName: "Totally Unrelated Gadget"}, vendorID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !created {
		t.Fatal("expected sub-threshold score to fall through to create")
	}
}

func TestNormalizeUPC(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"840023255922", "840023255922"},
		{" 8400-2325-5922 ", "840023255922"},
		{"1234567", ""},
		{"123456789012345", ""},
		{"abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeUPC(tt.in); got != tt.expected {
			t.Fatalf("normalizeUPC(%q): expected %q, got %q", tt.in, tt.expected, got)
		}
	}
}
