package services

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/itsAR-VR/pricebot/internal/core/ingestion"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/repositories"
	"gorm.io/gorm"
)

// fakeVendorRepo keeps vendors in a slice, matching names case-insensitively.
type fakeVendorRepo struct {
	vendors []*models.Vendor
}

func (f *fakeVendorRepo) Create(vendor *models.Vendor) error {
	if vendor.ID == uuid.Nil {
		vendor.ID = uuid.New()
	}
	f.vendors = append(f.vendors, vendor)
	return nil
}

func (f *fakeVendorRepo) GetByID(id string) (*models.Vendor, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	for _, v := range f.vendors {
		if v.ID == uid {
			return v, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeVendorRepo) GetByNameCI(name string) (*models.Vendor, error) {
	for _, v := range f.vendors {
		if strings.EqualFold(v.Name, strings.TrimSpace(name)) {
			return v, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeVendorRepo) GetOrCreateByName(name string) (*models.Vendor, bool, error) {
	if v, err := f.GetByNameCI(name); err == nil {
		return v, false, nil
	}
	v := &models.Vendor{ID: uuid.New(), Name: strings.TrimSpace(name)}
	f.vendors = append(f.vendors, v)
	return v, true, nil
}

func (f *fakeVendorRepo) List(filter models.VendorFilter) ([]models.Vendor, error) {
	var out []models.Vendor
	for _, v := range f.vendors {
		if filter.Query != "" && !strings.Contains(strings.ToLower(v.Name), strings.ToLower(filter.Query)) {
			continue
		}
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

func (f *fakeVendorRepo) Update(vendor *models.Vendor) error { return nil }

func (f *fakeVendorRepo) Count() (int64, error) { return int64(len(f.vendors)), nil }

// fakeOfferRepo stores offers in insertion order.
type fakeOfferRepo struct {
	offers []*models.Offer
}

func (f *fakeOfferRepo) Create(offer *models.Offer) error {
	if offer.ID == uuid.Nil {
		offer.ID = uuid.New()
	}
	f.offers = append(f.offers, offer)
	return nil
}

func (f *fakeOfferRepo) GetByID(id uuid.UUID) (*models.Offer, error) {
	for _, o := range f.offers {
		if o.ID == id {
			return o, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeOfferRepo) FindSnapshot(productID, vendorID uuid.UUID, capturedAt time.Time, price float64) (*models.Offer, error) {
	for _, o := range f.offers {
		if o.ProductID == productID && o.VendorID == vendorID && o.CapturedAt.Equal(capturedAt) && o.Price == price {
			return o, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeOfferRepo) ListOut(filter models.OfferFilter) ([]models.OfferOut, error) {
	var matched []*models.Offer
	for _, o := range f.offers {
		if filter.ProductID != nil && o.ProductID != *filter.ProductID {
			continue
		}
		if filter.VendorID != nil && o.VendorID != *filter.VendorID {
			continue
		}
		if filter.SourceDocumentID != nil && (o.SourceDocumentID == nil || *o.SourceDocumentID != *filter.SourceDocumentID) {
			continue
		}
		if filter.Since != nil && o.CapturedAt.Before(*filter.Since) {
			continue
		}
		matched = append(matched, o)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CapturedAt.After(matched[j].CapturedAt) })
	limit := filter.Limit
	if limit < 1 {
		limit = 50
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]models.OfferOut, 0, len(matched))
	for _, o := range matched {
		out = append(out, offerToOut(o))
	}
	return out, nil
}

func (f *fakeOfferRepo) ListByPair(productID, vendorID uuid.UUID) ([]models.Offer, error) {
	var out []models.Offer
	for _, o := range f.offers {
		if o.ProductID == productID && o.VendorID == vendorID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	return out, nil
}

func (f *fakeOfferRepo) BestForProduct(productID uuid.UUID, filters models.BestPriceFilters, limit int) ([]models.OfferOut, error) {
	var matched []*models.Offer
	for _, o := range f.offers {
		if o.ProductID != productID {
			continue
		}
		if filters.VendorID != nil && o.VendorID != *filters.VendorID {
			continue
		}
		if filters.Condition != "" && (o.Condition == nil || !strings.EqualFold(*o.Condition, filters.Condition)) {
			continue
		}
		if filters.Location != "" && (o.Location == nil || !strings.Contains(strings.ToLower(*o.Location), strings.ToLower(filters.Location))) {
			continue
		}
		if filters.MinPrice != nil && o.Price < *filters.MinPrice {
			continue
		}
		if filters.MaxPrice != nil && o.Price > *filters.MaxPrice {
			continue
		}
		if filters.CapturedSince != nil && o.CapturedAt.Before(*filters.CapturedSince) {
			continue
		}
		matched = append(matched, o)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Price != matched[j].Price {
			return matched[i].Price < matched[j].Price
		}
		return matched[i].CapturedAt.After(matched[j].CapturedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]models.OfferOut, 0, len(matched))
	for _, o := range matched {
		out = append(out, offerToOut(o))
	}
	return out, nil
}

func (f *fakeOfferRepo) CountByDocument(documentID uuid.UUID) (int64, error) {
	var n int64
	for _, o := range f.offers {
		if o.SourceDocumentID != nil && *o.SourceDocumentID == documentID {
			n++
		}
	}
	return n, nil
}

func (f *fakeOfferRepo) DeleteByDocument(documentID uuid.UUID) (int64, error) {
	var kept []*models.Offer
	var n int64
	for _, o := range f.offers {
		if o.SourceDocumentID != nil && *o.SourceDocumentID == documentID {
			n++
			continue
		}
		kept = append(kept, o)
	}
	f.offers = kept
	return n, nil
}

func (f *fakeOfferRepo) PairsForDocument(documentID uuid.UUID) ([]repositories.ProductVendorPair, error) {
	seen := map[repositories.ProductVendorPair]bool{}
	var pairs []repositories.ProductVendorPair
	for _, o := range f.offers {
		if o.SourceDocumentID == nil || *o.SourceDocumentID != documentID {
			continue
		}
		pair := repositories.ProductVendorPair{ProductID: o.ProductID, VendorID: o.VendorID}
		if !seen[pair] {
			seen[pair] = true
			pairs = append(pairs, pair)
		}
	}
	return pairs, nil
}

func (f *fakeOfferRepo) RecentProducts(limit int) ([]models.RecentProductSuggestion, error) {
	type agg struct {
		count int64
		last  time.Time
	}
	byProduct := map[uuid.UUID]*agg{}
	for _, o := range f.offers {
		a := byProduct[o.ProductID]
		if a == nil {
			a = &agg{}
			byProduct[o.ProductID] = a
		}
		a.count++
		if o.CapturedAt.After(a.last) {
			a.last = o.CapturedAt
		}
	}
	var out []models.RecentProductSuggestion
	for id, a := range byProduct {
		last := a.last
		out = append(out, models.RecentProductSuggestion{ID: id, OfferCount: a.count, LastSeen: &last})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(*out[j].LastSeen) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeOfferRepo) Count() (int64, error) { return int64(len(f.offers)), nil }

func (f *fakeOfferRepo) CountByProduct(productID uuid.UUID) (int64, error) {
	var n int64
	for _, o := range f.offers {
		if o.ProductID == productID {
			n++
		}
	}
	return n, nil
}

func (f *fakeOfferRepo) CountByVendor(vendorID uuid.UUID) (int64, error) {
	var n int64
	for _, o := range f.offers {
		if o.VendorID == vendorID {
			n++
		}
	}
	return n, nil
}

func offerToOut(o *models.Offer) models.OfferOut {
	return models.OfferOut{
		ID:         o.ID,
		ProductID:  o.ProductID,
		VendorID:   o.VendorID,
		Price:      o.Price,
		Currency:   o.Currency,
		CapturedAt: o.CapturedAt,
		Condition:  o.Condition,
		Quantity:   o.Quantity,
		Location:   o.Location,
	}
}

// ingestFixture wires an IngestionService over in-memory repositories.
type ingestFixture struct {
	vendors  *fakeVendorRepo
	products *fakeProductRepo
	offers   *fakeOfferRepo
	history  *fakeHistoryRepo
	service  *IngestionService
}

func newIngestFixture() *ingestFixture {
	return &ingestFixture{
		vendors:  &fakeVendorRepo{},
		products: newFakeProductRepo(),
		offers:   &fakeOfferRepo{},
		history:  newFakeHistoryRepo(),
		service:  NewIngestionService(nil, 0.86, 50),
	}
}

func (fx *ingestFixture) repos() IngestRepos {
	return IngestRepos{
		Vendors:  fx.vendors,
		Products: fx.products,
		Offers:   fx.offers,
		History:  fx.history,
	}
}

// TestIngestRowsHappyPath persists two rows under a declared vendor and
// checks offers, catalog growth, and the opened history spans.
func TestIngestRowsHappyPath(t *testing.T) {
	fx := newIngestFixture()
	rows := []ingestion.RawOffer{
		{ProductName: "iPhone 11 64GB Black", Price: 485, Quantity: intp(150), Condition: strp("A/A-")},
		{ProductName: "iPhone 12 128GB", Price: 600, Quantity: intp(10), Condition: strp("New")},
	}

	stats, err := fx.service.IngestRows(context.Background(), fx.repos(), rows, nil, "Acme", day(1))
	if err != nil {
		t.Fatalf("IngestRows: %v", err)
	}
	if stats.Offers != 2 || stats.ProductsCreated != 2 || stats.VendorsCreated != 1 {
		t.Fatalf("expected 2 offers, 2 products, 1 vendor, got %+v", stats)
	}
	if len(stats.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", stats.Warnings)
	}
	if len(fx.offers.offers) != 2 {
		t.Fatalf("expected 2 stored offers, got %d", len(fx.offers.offers))
	}
	for _, o := range fx.offers.offers {
		if o.Currency != "USD" {
			t.Fatalf("expected USD default currency, got %q", o.Currency)
		}
		if !o.CapturedAt.Equal(day(1)) {
			t.Fatalf("expected captured_at to default to ingest start, got %v", o.CapturedAt)
		}
		spans, _ := fx.history.SpansForPairLocked(o.ProductID, o.VendorID)
		if len(spans) != 1 || spans[0].ValidTo != nil || spans[0].Price != o.Price {
			t.Fatalf("expected one open span at %v, got %+v", o.Price, spans)
		}
	}
}

// TestIngestRowsVendorPrecedence prefers the declared vendor over the row's
// own vendor name, falls back to the row name, then the document's vendor.
func TestIngestRowsVendorPrecedence(t *testing.T) {
	fx := newIngestFixture()
	row := ingestion.RawOffer{VendorName: "Row Vendor", ProductName: "Pixel 9", Price: 700}

	if _, err := fx.service.IngestRows(context.Background(), fx.repos(), []ingestion.RawOffer{row}, nil, "Declared Vendor", day(1)); err != nil {
		t.Fatalf("IngestRows: %v", err)
	}
	if fx.offers.offers[0].VendorID != fx.vendors.vendors[0].ID || fx.vendors.vendors[0].Name != "Declared Vendor" {
		t.Fatalf("expected the declared vendor to win, got %q", fx.vendors.vendors[0].Name)
	}

	if _, err := fx.service.IngestRows(context.Background(), fx.repos(), []ingestion.RawOffer{{VendorName: "Row Vendor", ProductName: "Pixel 9a", Price: 500}}, nil, "", day(2)); err != nil {
		t.Fatalf("IngestRows: %v", err)
	}
	last := fx.offers.offers[len(fx.offers.offers)-1]
	vendor, _ := fx.vendors.GetByNameCI("Row Vendor")
	if vendor == nil || last.VendorID != vendor.ID {
		t.Fatalf("expected the row vendor fallback")
	}

	docVendor := &models.Vendor{ID: uuid.New(), Name: "Doc Vendor"}
	fx.vendors.vendors = append(fx.vendors.vendors, docVendor)
	doc := &models.SourceDocument{ID: uuid.New(), VendorID: &docVendor.ID}
	if _, err := fx.service.IngestRows(context.Background(), fx.repos(), []ingestion.RawOffer{{ProductName: "Pixel 8", Price: 400}}, doc, "", day(3)); err != nil {
		t.Fatalf("IngestRows: %v", err)
	}
	last = fx.offers.offers[len(fx.offers.offers)-1]
	if last.VendorID != docVendor.ID {
		t.Fatalf("expected the document vendor fallback, got %v", last.VendorID)
	}
}

// TestIngestRowsSkipsRowsWithWarnings drops unusable rows without failing
// the batch.
func TestIngestRowsSkipsRowsWithWarnings(t *testing.T) {
	fx := newIngestFixture()
	rows := []ingestion.RawOffer{
		{ProductName: "iPhone 11", Price: 485},
		{VendorName: "Acme", ProductName: "iPhone 12", Price: 0},
		{VendorName: "Acme", Price: 100},
		{VendorName: "Acme", ProductName: "iPhone 13 128GB", Price: 620},
	}

	stats, err := fx.service.IngestRows(context.Background(), fx.repos(), rows, nil, "", day(1))
	if err != nil {
		t.Fatalf("IngestRows: %v", err)
	}
	if stats.Offers != 1 {
		t.Fatalf("expected 1 offer, got %d", stats.Offers)
	}
	want := []string{
		"row 1 skipped: missing_vendor",
		"row 2 skipped: invalid_price",
		"row 3 skipped: missing_product",
	}
	if len(stats.Warnings) != len(want) {
		t.Fatalf("expected %d warnings, got %v", len(want), stats.Warnings)
	}
	for i, w := range want {
		if stats.Warnings[i] != w {
			t.Fatalf("expected warning %q, got %q", w, stats.Warnings[i])
		}
	}
}

// TestIngestRowsSnapshotDedupe ignores a second identical observation and
// leaves the history untouched.
func TestIngestRowsSnapshotDedupe(t *testing.T) {
	fx := newIngestFixture()
	row := ingestion.RawOffer{ProductName: "iPhone 11 64GB", Price: 485, CapturedAt: ts(day(5))}

	for i := 0; i < 2; i++ {
		stats, err := fx.service.IngestRows(context.Background(), fx.repos(), []ingestion.RawOffer{row}, nil, "Acme", day(1))
		if err != nil {
			t.Fatalf("IngestRows pass %d: %v", i+1, err)
		}
		if i == 1 && (stats.Offers != 0 || stats.Deduped != 1) {
			t.Fatalf("expected the replay to dedupe, got %+v", stats)
		}
	}
	if len(fx.offers.offers) != 1 {
		t.Fatalf("expected 1 stored offer, got %d", len(fx.offers.offers))
	}
	o := fx.offers.offers[0]
	spans, _ := fx.history.SpansForPairLocked(o.ProductID, o.VendorID)
	if len(spans) != 1 {
		t.Fatalf("expected 1 span after replay, got %d", len(spans))
	}
}

// TestIngestRowsVendorCacheIsCaseInsensitive creates one vendor for rows
// that spell the same name differently.
func TestIngestRowsVendorCacheIsCaseInsensitive(t *testing.T) {
	fx := newIngestFixture()
	rows := []ingestion.RawOffer{
		{VendorName: "acme wholesale", ProductName: "iPhone 11", Price: 485},
		{VendorName: "Acme Wholesale", ProductName: "iPhone 12", Price: 600},
	}

	stats, err := fx.service.IngestRows(context.Background(), fx.repos(), rows, nil, "", day(1))
	if err != nil {
		t.Fatalf("IngestRows: %v", err)
	}
	if stats.VendorsCreated != 1 || len(fx.vendors.vendors) != 1 {
		t.Fatalf("expected a single vendor, got %d created", stats.VendorsCreated)
	}
}

// TestIngestRowsTagsProvenance records source document and WhatsApp message
// links plus the raw row payload.
func TestIngestRowsTagsProvenance(t *testing.T) {
	fx := newIngestFixture()
	doc := &models.SourceDocument{ID: uuid.New()}
	msgID := uuid.New()
	row := ingestion.RawOffer{
		ProductName: "iPhone 15 Pro",
		Price:       900,
		CapturedAt:  ts(day(7)),
		RawPayload: map[string]interface{}{
			"whatsapp_message_id": msgID.String(),
			"line":                "iPhone 15 Pro $900",
		},
	}

	if _, err := fx.service.IngestRows(context.Background(), fx.repos(), []ingestion.RawOffer{row}, doc, "Ali", day(1)); err != nil {
		t.Fatalf("IngestRows: %v", err)
	}
	o := fx.offers.offers[0]
	if o.SourceDocumentID == nil || *o.SourceDocumentID != doc.ID {
		t.Fatalf("expected source document link")
	}
	if o.SourceWhatsAppMessageID == nil || *o.SourceWhatsAppMessageID != msgID {
		t.Fatalf("expected whatsapp message link")
	}
	if !o.CapturedAt.Equal(day(7)) {
		t.Fatalf("expected the row's captured_at, got %v", o.CapturedAt)
	}
	if len(o.RawPayload) == 0 || !strings.Contains(string(o.RawPayload), "iPhone 15 Pro $900") {
		t.Fatalf("expected raw payload to be stored, got %s", o.RawPayload)
	}
}

// TestIngestRowsNormalizesCurrency upcases row currencies and fills USD.
func TestIngestRowsNormalizesCurrency(t *testing.T) {
	fx := newIngestFixture()
	rows := []ingestion.RawOffer{
		{ProductName: "Galaxy S24", Price: 550, Currency: "usd"},
		{ProductName: "Galaxy S23", Price: 450, Currency: " EUR "},
	}

	if _, err := fx.service.IngestRows(context.Background(), fx.repos(), rows, nil, "Acme", day(1)); err != nil {
		t.Fatalf("IngestRows: %v", err)
	}
	if fx.offers.offers[0].Currency != "USD" || fx.offers.offers[1].Currency != "EUR" {
		t.Fatalf("expected normalized currencies, got %q and %q", fx.offers.offers[0].Currency, fx.offers.offers[1].Currency)
	}
}

// TestMinOrderFromPayload covers the MOQ header variants processors keep in
// the raw row.
func TestMinOrderFromPayload(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]interface{}
		want    int
	}{
		{"float value", map[string]interface{}{"moq": float64(25)}, 25},
		{"string value", map[string]interface{}{"minimum order quantity": " 10 "}, 10},
		{"snake case", map[string]interface{}{"min_order_quantity": 5}, 5},
		{"absent", map[string]interface{}{"qty": float64(3)}, 0},
		{"non numeric", map[string]interface{}{"moq": "call"}, 0},
	}
	for _, tc := range cases {
		got := minOrderFromPayload(tc.payload)
		if tc.want == 0 {
			if got != nil {
				t.Fatalf("%s: expected nil, got %d", tc.name, *got)
			}
			continue
		}
		if got == nil || *got != tc.want {
			t.Fatalf("%s: expected %d, got %v", tc.name, tc.want, got)
		}
	}
}

func intp(n int) *int { return &n }
