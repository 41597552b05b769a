package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/itsAR-VR/pricebot/internal/core/ingestion"
	"github.com/itsAR-VR/pricebot/internal/core/vector"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/repositories"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// IngestRepos bundles the repositories one ingest batch writes through.
// Bind them to a single transaction so a storage failure rolls back the
// whole batch.
type IngestRepos struct {
	Vendors  repositories.VendorRepo
	Products repositories.ProductRepo
	Offers   repositories.OfferRepo
	History  repositories.HistoryRepo
}

// NewIngestRepos scopes all four repositories to tx.
func NewIngestRepos(tx *gorm.DB) IngestRepos {
	return IngestRepos{
		Vendors:  repositories.NewVendorRepo(tx),
		Products: repositories.NewProductRepo(tx),
		Offers:   repositories.NewOfferRepo(tx),
		History:  repositories.NewHistoryRepo(tx),
	}
}

// IngestStats summarizes one persisted batch of raw offer rows.
type IngestStats struct {
	Offers          int
	ProductsCreated int
	VendorsCreated  int
	Deduped         int
	Warnings        []string
}

// IngestionService persists parsed offer rows: vendor resolution, product
// resolution, snapshot dedupe, and the price-history update.
type IngestionService struct {
	aliasIndex *vector.AliasIndex
	threshold  float64
	candidates int
}

// NewIngestionService builds the service. aliasIndex may be nil when
// embedding matching is disabled.
func NewIngestionService(aliasIndex *vector.AliasIndex, threshold float64, candidates int) *IngestionService {
	return &IngestionService{
		aliasIndex: aliasIndex,
		threshold:  threshold,
		candidates: candidates,
	}
}

// IngestRows writes the rows a processor extracted. Vendor attribution
// prefers declaredVendor, then the row's own vendor name, then the source
// document's vendor. Rows without a vendor, with a non-positive price, or
// naming no product are skipped with a warning; identical snapshots of an
// existing offer are counted as deduped and otherwise ignored. Storage
// errors abort the batch.
func (s *IngestionService) IngestRows(ctx context.Context, repos IngestRepos, rows []ingestion.RawOffer, doc *models.SourceDocument, declaredVendor string, capturedDefault time.Time) (*IngestStats, error) {
	resolver := NewProductResolver(repos.Products, s.aliasIndex, s.threshold, s.candidates)

	stats := &IngestStats{}
	cache := map[string]*models.Vendor{}

	var docVendor *models.Vendor
	if doc != nil && doc.VendorID != nil {
		vendor, err := repos.Vendors.GetByID(doc.VendorID.String())
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("document vendor: %w", err)
		}
		docVendor = vendor
	}

	for i, row := range rows {
		rowNum := i + 1

		vendorName := strings.TrimSpace(declaredVendor)
		if vendorName == "" {
			vendorName = strings.TrimSpace(row.VendorName)
		}

		var vendor *models.Vendor
		switch {
		case vendorName != "":
			cached, ok := cache[strings.ToLower(vendorName)]
			if !ok {
				resolved, created, err := repos.Vendors.GetOrCreateByName(vendorName)
				if err != nil {
					return nil, fmt.Errorf("row %d vendor %q: %w", rowNum, vendorName, err)
				}
				if created {
					stats.VendorsCreated++
				}
				cache[strings.ToLower(vendorName)] = resolved
				cached = resolved
			}
			vendor = cached
		case docVendor != nil:
			vendor = docVendor
		default:
			stats.Warnings = append(stats.Warnings, fmt.Sprintf("row %d skipped: missing_vendor", rowNum))
			continue
		}

		if row.Price <= 0 {
			stats.Warnings = append(stats.Warnings, fmt.Sprintf("row %d skipped: invalid_price", rowNum))
			continue
		}

		product, created, err := resolver.Resolve(ctx, row, vendor.ID)
		if err != nil {
			if errors.Is(err, ErrUnresolvableRow) {
				stats.Warnings = append(stats.Warnings, fmt.Sprintf("row %d skipped: missing_product", rowNum))
				continue
			}
			return nil, fmt.Errorf("row %d resolve: %w", rowNum, err)
		}
		if created {
			stats.ProductsCreated++
		}

		captured := capturedDefault
		if row.CapturedAt != nil && !row.CapturedAt.IsZero() {
			captured = *row.CapturedAt
		}

		if _, err := repos.Offers.FindSnapshot(product.ID, vendor.ID, captured, row.Price); err == nil {
			stats.Deduped++
			continue
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("row %d snapshot lookup: %w", rowNum, err)
		}

		currency := strings.ToUpper(strings.TrimSpace(row.Currency))
		if currency == "" {
			currency = "USD"
		}

		offer := &models.Offer{
			ProductID:        product.ID,
			VendorID:         vendor.ID,
			CapturedAt:       captured,
			Price:            row.Price,
			Currency:         currency,
			Quantity:         row.Quantity,
			MinOrderQuantity: minOrderFromPayload(row.RawPayload),
			Condition:        trimPtr(row.Condition),
			Location:         trimPtr(row.Warehouse),
			Notes:            trimPtr(row.Notes),
		}
		if doc != nil {
			offer.SourceDocumentID = &doc.ID
		}
		if id := messageIDFromPayload(row.RawPayload); id != nil {
			offer.SourceWhatsAppMessageID = id
		}
		if len(row.RawPayload) > 0 {
			payload, err := json.Marshal(row.RawPayload)
			if err != nil {
				return nil, fmt.Errorf("row %d raw payload: %w", rowNum, err)
			}
			offer.RawPayload = datatypes.JSON(payload)
		}

		if err := repos.Offers.Create(offer); err != nil {
			return nil, fmt.Errorf("row %d insert offer: %w", rowNum, err)
		}
		stats.Offers++

		if err := RecordOffer(repos.History, offer); err != nil {
			return nil, fmt.Errorf("row %d price history: %w", rowNum, err)
		}
	}

	return stats, nil
}

// messageIDFromPayload pulls the originating WhatsApp message id, when the
// extraction pipeline tagged the row with one.
func messageIDFromPayload(payload map[string]interface{}) *uuid.UUID {
	raw, ok := payload["whatsapp_message_id"].(string)
	if !ok {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

// minOrderFromPayload recovers a minimum-order quantity from the raw row.
// Processors keep MOQ columns in the payload under their original header.
func minOrderFromPayload(payload map[string]interface{}) *int {
	for _, key := range []string{"moq", "min_order_quantity", "minimum order quantity"} {
		value, ok := payload[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case float64:
			if v > 0 {
				n := int(v)
				return &n
			}
		case int:
			if v > 0 {
				n := v
				return &n
			}
		case string:
			var n int
			if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &n); err == nil && n > 0 {
				return &n
			}
		}
	}
	return nil
}
