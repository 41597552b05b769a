package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/itsAR-VR/pricebot/internal/core/vector"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/repositories"
	"github.com/itsAR-VR/pricebot/internal/shared/database"
	"github.com/itsAR-VR/pricebot/internal/shared/utils"
	"gorm.io/gorm"
)

// ErrEmptyQuery rejects resolution requests whose query is blank after trimming.
var ErrEmptyQuery = errors.New("query must not be empty")

// ErrPriceRangeInvalid rejects best-price filters where min_price exceeds max_price.
var ErrPriceRangeInvalid = errors.New("min_price cannot be greater than max_price")

// ErrVendorNotFound reports a vendor_id filter that matches no vendor.
var ErrVendorNotFound = errors.New("vendor not found")

const (
	defaultResolveLimit = 5
	maxResolveLimit     = 10

	// Embedding augmentation kicks in when direct matching returns fewer
	// than this many products on the first page.
	minDirectMatches = 3

	// Candidates pulled from the alias index per augmentation pass.
	embeddingCandidates = 8
)

// QueryConfig carries the service identity and feature flags surfaced by
// the diagnostics report.
type QueryConfig struct {
	ServiceName     string
	Environment     string
	DefaultCurrency string
	LLMEnabled      bool
}

// QueryService serves the read-side APIs: product resolution, best-price
// search, catalog listings, price history, and diagnostics.
type QueryService struct {
	ping       func() error
	products   repositories.ProductRepo
	vendors    repositories.VendorRepo
	offers     repositories.OfferRepo
	docs       repositories.DocumentRepo
	history    repositories.HistoryRepo
	aliasIndex *vector.AliasIndex
	config     QueryConfig
}

// NewQueryService wires the read paths over one database handle. The alias
// index is optional; without it resolution skips embedding augmentation.
func NewQueryService(db *database.DB, aliasIndex *vector.AliasIndex, config QueryConfig) *QueryService {
	g := db.GORM
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = "USD"
	}
	return &QueryService{
		ping:       db.Ping,
		products:   repositories.NewProductRepo(g),
		vendors:    repositories.NewVendorRepo(g),
		offers:     repositories.NewOfferRepo(g),
		docs:       repositories.NewDocumentRepo(g),
		history:    repositories.NewHistoryRepo(g),
		aliasIndex: aliasIndex,
		config:     config,
	}
}

// ResolveProducts matches a free-text query against the catalog and reports
// where each hit came from. Pagination covers the direct matches only;
// embedding hits top up sparse pages without changing the totals.
func (s *QueryService) ResolveProducts(ctx context.Context, req *models.ResolveProductsRequest) (*models.ResolveProductsResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	limit := clampResolveLimit(req.Limit)
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	page, err := s.resolvePage(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}

	resp := &models.ResolveProductsResponse{
		Products: page.products,
		Limit:    limit,
		Offset:   offset,
		Total:    page.total,
		HasMore:  page.hasMore,
	}
	if resp.Products == nil {
		resp.Products = []models.ResolvedProduct{}
	}
	if page.hasMore {
		next := offset + page.matched
		resp.NextOffset = &next
	}
	return resp, nil
}

// SearchBestPrice resolves the query to products and returns each one's
// cheapest offer under the given filters, plus the remaining offers as
// alternates. When nothing matches, recently active products are suggested
// instead.
func (s *QueryService) SearchBestPrice(ctx context.Context, req *models.BestPriceRequest) (*models.BestPriceResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	filters := req.Filters
	if filters.MinPrice != nil && filters.MaxPrice != nil && *filters.MinPrice > *filters.MaxPrice {
		return nil, ErrPriceRangeInvalid
	}
	if filters.VendorID != nil {
		if _, err := s.vendors.GetByID(filters.VendorID.String()); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrVendorNotFound
			}
			return nil, err
		}
	}
	limit := clampResolveLimit(req.Limit)

	page, err := s.resolvePage(ctx, query, limit, 0)
	if err != nil {
		return nil, err
	}

	resp := &models.BestPriceResponse{
		Results:        []models.BestPriceProductResult{},
		Limit:          limit,
		Total:          page.total,
		HasMore:        page.hasMore,
		AppliedFilters: appliedFilters(filters),
	}
	if page.hasMore {
		next := page.matched
		resp.NextOffset = &next
	}

	if len(page.products) == 0 {
		recent, err := s.offers.RecentProducts(5)
		if err != nil {
			return nil, err
		}
		resp.RecentProducts = recent
		return resp, nil
	}

	for i := range page.products {
		offers, err := s.offers.BestForProduct(page.products[i].ID, filters, limit)
		if err != nil {
			return nil, err
		}
		result := models.BestPriceProductResult{Product: page.products[i]}
		if len(offers) > 0 {
			result.BestOffer = &offers[0]
			result.AlternateOffers = offers[1:]
		}
		resp.Results = append(resp.Results, result)
	}
	return resp, nil
}

// ListProducts returns catalog summaries with per-product offer counts.
func (s *QueryService) ListProducts(filter models.ProductFilter) ([]models.ProductSummary, error) {
	return s.products.ListSummaries(filter)
}

// ProductDetail returns one product with its recent offers and total offer count.
func (s *QueryService) ProductDetail(id string, offerLimit int) (*models.ProductDetailResponse, error) {
	product, err := s.products.GetByID(id)
	if err != nil {
		return nil, err
	}
	if offerLimit < 1 {
		offerLimit = 20
	}

	offers, err := s.offers.ListOut(models.OfferFilter{ProductID: &product.ID, Limit: offerLimit})
	if err != nil {
		return nil, err
	}
	if offers == nil {
		offers = []models.OfferOut{}
	}
	count, err := s.offers.CountByProduct(product.ID)
	if err != nil {
		return nil, err
	}

	return &models.ProductDetailResponse{
		ProductSummary: models.ProductSummary{
			ID:            product.ID,
			CanonicalName: product.CanonicalName,
			Brand:         product.Brand,
			ModelNumber:   product.ModelNumber,
			UPC:           product.UPC,
			Category:      product.Category,
			OfferCount:    count,
		},
		RecentOffers: offers,
	}, nil
}

// ListVendors returns the vendor directory as id/name pairs.
func (s *QueryService) ListVendors(filter models.VendorFilter) ([]models.VendorListItem, error) {
	vendors, err := s.vendors.List(filter)
	if err != nil {
		return nil, err
	}
	out := make([]models.VendorListItem, 0, len(vendors))
	for _, vendor := range vendors {
		out = append(out, models.VendorListItem{ID: vendor.ID, Name: vendor.Name})
	}
	return out, nil
}

// VendorDetail returns one vendor with its recent offers and total offer count.
func (s *QueryService) VendorDetail(id string, offerLimit int) (*models.VendorDetailResponse, error) {
	vendor, err := s.vendors.GetByID(id)
	if err != nil {
		return nil, err
	}
	if offerLimit < 1 {
		offerLimit = 20
	}

	offers, err := s.offers.ListOut(models.OfferFilter{VendorID: &vendor.ID, Limit: offerLimit})
	if err != nil {
		return nil, err
	}
	if offers == nil {
		offers = []models.OfferOut{}
	}
	count, err := s.offers.CountByVendor(vendor.ID)
	if err != nil {
		return nil, err
	}

	return &models.VendorDetailResponse{
		ID:           vendor.ID,
		Name:         vendor.Name,
		OfferCount:   count,
		RecentOffers: offers,
	}, nil
}

// ListOffers returns offers newest-first under the given filters.
func (s *QueryService) ListOffers(filter models.OfferFilter) ([]models.OfferOut, error) {
	return s.offers.ListOut(filter)
}

// HistoryForProduct returns price spans for a product, optionally narrowed
// to one vendor, newest spans first.
func (s *QueryService) HistoryForProduct(productID string, vendorID *string, limit int) ([]models.PriceHistorySpan, error) {
	pid, err := uuid.Parse(productID)
	if err != nil {
		return nil, fmt.Errorf("invalid product ID: %w", err)
	}
	var vid *uuid.UUID
	if vendorID != nil && *vendorID != "" {
		parsed, err := uuid.Parse(*vendorID)
		if err != nil {
			return nil, fmt.Errorf("invalid vendor ID: %w", err)
		}
		vid = &parsed
	}
	return s.history.ListByProduct(pid, vid, limit)
}

// HistoryForVendor returns price spans across a vendor's products, newest first.
func (s *QueryService) HistoryForVendor(vendorID string, limit int) ([]models.PriceHistorySpan, error) {
	vid, err := uuid.Parse(vendorID)
	if err != nil {
		return nil, fmt.Errorf("invalid vendor ID: %w", err)
	}
	return s.history.ListByVendor(vid, limit)
}

// Diagnostics assembles the operator snapshot: health, entity counts,
// recent ingestion activity, and warnings carried by recent documents.
func (s *QueryService) Diagnostics() (*models.DiagnosticsReport, error) {
	report := &models.DiagnosticsReport{
		Metadata: map[string]string{
			"service":     s.config.ServiceName,
			"environment": s.config.Environment,
		},
		Health: map[string]interface{}{"status": "ok", "database": "ok"},
		FeatureFlags: models.DiagnosticsFeatureFlags{
			LLMExtraction:   s.config.LLMEnabled,
			EmbeddingIndex:  s.aliasIndex != nil,
			DefaultCurrency: s.config.DefaultCurrency,
			Environment:     s.config.Environment,
		},
	}
	if s.ping != nil {
		if err := s.ping(); err != nil {
			report.Health = map[string]interface{}{"status": "degraded", "database": err.Error()}
		}
	}

	var err error
	if report.Counts.Vendors, err = s.vendors.Count(); err != nil {
		return nil, err
	}
	if report.Counts.Products, err = s.products.Count(); err != nil {
		return nil, err
	}
	if report.Counts.Offers, err = s.offers.Count(); err != nil {
		return nil, err
	}
	if report.Counts.Documents, err = s.docs.Count(); err != nil {
		return nil, err
	}

	recentDocs, err := s.docs.RecentWithOfferCounts(10)
	if err != nil {
		return nil, err
	}
	report.RecentDocuments = recentDocs
	for _, doc := range recentDocs {
		if len(doc.Warnings) == 0 {
			continue
		}
		report.IngestionWarnings = append(report.IngestionWarnings, models.DiagnosticsWarning{
			DocumentID: doc.ID,
			FileName:   doc.FileName,
			Messages:   append([]string{}, doc.Warnings...),
		})
	}

	recentOffers, err := s.offers.ListOut(models.OfferFilter{Limit: 10})
	if err != nil {
		return nil, err
	}
	report.RecentOffers = recentOffers
	return report, nil
}

type resolvedPage struct {
	products []models.ResolvedProduct
	total    int
	hasMore  bool
	matched  int
}

func (s *QueryService) resolvePage(ctx context.Context, query string, limit, offset int) (*resolvedPage, error) {
	tokens := strings.Fields(query)
	direct, total, hasMore, err := s.products.SearchResolve(query, tokens, limit, offset)
	if err != nil {
		return nil, err
	}

	page := &resolvedPage{total: int(total), hasMore: hasMore, matched: len(direct)}
	seen := make(map[uuid.UUID]bool, len(direct))
	for i := range direct {
		seen[direct[i].ID] = true
		page.products = append(page.products, s.resolvedProduct(&direct[i], s.matchSource(&direct[i], query)))
	}

	if len(page.products) >= minDirectMatches || s.aliasIndex == nil {
		return page, nil
	}

	hits, err := s.aliasIndex.Nearest(ctx, query, embeddingCandidates)
	if err != nil {
		utils.LogWarn("Alias index lookup failed, skipping embedding matches", map[string]interface{}{
			"query": query,
			"error": err.Error(),
		})
		return page, nil
	}
	for _, hit := range hits {
		if len(page.products) >= limit {
			break
		}
		if seen[hit.ProductID] {
			continue
		}
		product, err := s.products.GetByID(hit.ProductID.String())
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		seen[hit.ProductID] = true
		page.products = append(page.products, s.resolvedProduct(product, models.MatchSourceEmbedding))
	}
	return page, nil
}

// matchSource attributes a direct hit to the field that matched, checked in
// precedence order: canonical name, model number, UPC, alias.
func (s *QueryService) matchSource(product *models.Product, query string) string {
	lower := strings.ToLower(query)
	if strings.Contains(strings.ToLower(product.CanonicalName), lower) {
		return models.MatchSourceCanonicalName
	}
	if product.ModelNumber != nil && strings.Contains(strings.ToLower(*product.ModelNumber), lower) {
		return models.MatchSourceModelNumber
	}
	if product.UPC != nil && *product.UPC == query {
		return models.MatchSourceUPC
	}
	if ok, err := s.products.HasAliasContaining(product.ID, query); err == nil && ok {
		return models.MatchSourceAlias
	}
	return models.MatchSourceUnknown
}

func (s *QueryService) resolvedProduct(product *models.Product, source string) models.ResolvedProduct {
	out := models.ResolvedProduct{
		ID:            product.ID,
		CanonicalName: product.CanonicalName,
		ModelNumber:   product.ModelNumber,
		UPC:           product.UPC,
		MatchSource:   source,
	}
	if len(product.Spec) > 0 {
		var spec map[string]interface{}
		if err := json.Unmarshal(product.Spec, &spec); err == nil && len(spec) > 0 {
			out.Spec = spec
			out.ImageURL = imageURLFromSpec(spec)
		}
	}
	return out
}

// imageURLFromSpec pulls a usable image link out of the free-form spec map.
func imageURLFromSpec(spec map[string]interface{}) *string {
	for _, key := range []string{"image_url", "photo_url", "image", "photo"} {
		if value, ok := spec[key].(string); ok && strings.TrimSpace(value) != "" {
			return &value
		}
	}
	return nil
}

// appliedFilters echoes the non-empty best-price filters back to the caller.
func appliedFilters(filters models.BestPriceFilters) map[string]interface{} {
	applied := map[string]interface{}{}
	if filters.VendorID != nil {
		applied["vendor_id"] = filters.VendorID.String()
	}
	if filters.Condition != "" {
		applied["condition"] = filters.Condition
	}
	if filters.Location != "" {
		applied["location"] = filters.Location
	}
	if filters.MinPrice != nil {
		applied["min_price"] = *filters.MinPrice
	}
	if filters.MaxPrice != nil {
		applied["max_price"] = *filters.MaxPrice
	}
	if filters.CapturedSince != nil {
		applied["captured_since"] = filters.CapturedSince.Format(time.RFC3339)
	}
	if len(applied) == 0 {
		return nil
	}
	return applied
}

func clampResolveLimit(limit int) int {
	if limit < 1 {
		return defaultResolveLimit
	}
	if limit > maxResolveLimit {
		return maxResolveLimit
	}
	return limit
}
