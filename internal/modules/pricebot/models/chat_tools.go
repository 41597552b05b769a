package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Match sources reported by product resolution, in precedence order.
const (
	MatchSourceCanonicalName = "canonical_name"
	MatchSourceModelNumber   = "model_number"
	MatchSourceUPC           = "upc"
	MatchSourceAlias         = "alias"
	MatchSourceEmbedding     = "embedding"
	MatchSourceUnknown       = "unknown"
)

// ResolveProductsRequest is the body for POST /chat/tools/products/resolve.
type ResolveProductsRequest struct {
	Query  string `json:"query" validate:"required,min=1,max=200"`
	Limit  int    `json:"limit,omitempty" validate:"omitempty,min=1,max=10"`
	Offset int    `json:"offset,omitempty" validate:"omitempty,min=0"`
}

// ResolvedProduct is one resolution hit with its match provenance.
type ResolvedProduct struct {
	ID            uuid.UUID              `json:"id"`
	CanonicalName string                 `json:"canonical_name"`
	ModelNumber   *string                `json:"model_number,omitempty"`
	UPC           *string                `json:"upc,omitempty"`
	MatchSource   string                 `json:"match_source"`
	ImageURL      *string                `json:"image_url,omitempty"`
	Spec          map[string]interface{} `json:"spec,omitempty"`
}

// ResolveProductsResponse is the paginated resolution result.
type ResolveProductsResponse struct {
	Products   []ResolvedProduct `json:"products"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
	Total      int               `json:"total"`
	HasMore    bool              `json:"has_more"`
	NextOffset *int              `json:"next_offset,omitempty"`
}

// BestPriceFilters narrows the offer search. MinPrice must not exceed
// MaxPrice when both are set.
type BestPriceFilters struct {
	VendorID      *uuid.UUID `json:"vendor_id,omitempty"`
	Condition     string     `json:"condition,omitempty" validate:"max=50"`
	Location      string     `json:"location,omitempty" validate:"max=200"`
	MinPrice      *float64   `json:"min_price,omitempty"`
	MaxPrice      *float64   `json:"max_price,omitempty"`
	CapturedSince *time.Time `json:"captured_since,omitempty"`
}

// BestPriceRequest is the body for POST /chat/tools/offers/search-best-price.
type BestPriceRequest struct {
	Query   string           `json:"query" validate:"required,min=1,max=200"`
	Filters BestPriceFilters `json:"filters,omitempty"`
	Limit   int              `json:"limit,omitempty" validate:"omitempty,min=1,max=10"`
}

// BestPriceProductResult pairs a product with its cheapest current offer.
type BestPriceProductResult struct {
	Product         ResolvedProduct `json:"product"`
	BestOffer       *OfferOut       `json:"best_offer,omitempty"`
	AlternateOffers []OfferOut      `json:"alternate_offers,omitempty"`
}

// RecentProductSuggestion is one entry in the empty-search fallback list.
type RecentProductSuggestion struct {
	ID            uuid.UUID  `json:"id"`
	CanonicalName string     `json:"canonical_name"`
	OfferCount    int64      `json:"offer_count"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
}

// BestPriceResponse is the search result; RecentProducts is the fallback
// suggestion list when no product matched.
type BestPriceResponse struct {
	Results        []BestPriceProductResult  `json:"results"`
	Limit          int                       `json:"limit"`
	Offset         int                       `json:"offset"`
	Total          int                       `json:"total"`
	HasMore        bool                      `json:"has_more"`
	NextOffset     *int                      `json:"next_offset,omitempty"`
	AppliedFilters map[string]interface{}    `json:"applied_filters,omitempty"`
	RecentProducts []RecentProductSuggestion `json:"recent_products,omitempty"`
}

// DiagnosticsCounts is the entity census in the diagnostics report.
type DiagnosticsCounts struct {
	Vendors   int64 `json:"vendors"`
	Products  int64 `json:"products"`
	Offers    int64 `json:"offers"`
	Documents int64 `json:"documents"`
}

// DiagnosticsDocument is one recent document with its offer yield.
type DiagnosticsDocument struct {
	ID                uuid.UUID      `json:"id"`
	FileName          string         `json:"file_name"`
	Status            string         `json:"status"`
	OffersCount       int64          `json:"offers_count"`
	IngestStartedAt   *time.Time     `json:"ingest_started_at,omitempty"`
	IngestCompletedAt *time.Time     `json:"ingest_completed_at,omitempty"`
	Warnings          pq.StringArray `gorm:"type:text[]" json:"warnings,omitempty"`
}

// DiagnosticsWarning surfaces a document whose ingestion left warnings.
type DiagnosticsWarning struct {
	DocumentID uuid.UUID `json:"document_id"`
	FileName   string    `json:"file_name"`
	Messages   []string  `json:"messages"`
}

// DiagnosticsFeatureFlags reports which optional subsystems are live.
type DiagnosticsFeatureFlags struct {
	LLMExtraction   bool   `json:"llm_extraction"`
	EmbeddingIndex  bool   `json:"embedding_index"`
	DefaultCurrency string `json:"default_currency"`
	Environment     string `json:"environment"`
}

// DiagnosticsReport is the operator snapshot served by the chat tools.
type DiagnosticsReport struct {
	Metadata          map[string]string       `json:"metadata"`
	Health            map[string]interface{}  `json:"health"`
	Counts            DiagnosticsCounts       `json:"counts"`
	RecentDocuments   []DiagnosticsDocument   `json:"recent_documents"`
	RecentOffers      []OfferOut              `json:"recent_offers"`
	FeatureFlags      DiagnosticsFeatureFlags `json:"feature_flags"`
	IngestionWarnings []DiagnosticsWarning    `json:"ingestion_warnings"`
}
