package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/itsAR-VR/pricebot/internal/core/ingestion"
	"github.com/itsAR-VR/pricebot/internal/core/vector"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/repositories"
	"github.com/itsAR-VR/pricebot/internal/shared/utils"
	"gorm.io/gorm"
)

// ErrUnresolvableRow reports a row that names no product: no identifier
// matched and there is no description to create one from.
var ErrUnresolvableRow = errors.New("row has no product description")

// ProductResolver maps raw offer rows onto catalog products. Lookup order:
// UPC, then (brand, model_number), then exact alias scoped to the vendor and
// falling back to global, then nearest alias by embedding, then create.
type ProductResolver struct {
	products   repositories.ProductRepo
	aliasIndex *vector.AliasIndex // nil disables the embedding fallback
	threshold  float64
	candidates int
}

// NewProductResolver builds a resolver over a (usually transaction-scoped)
// product repo.
func NewProductResolver(products repositories.ProductRepo, aliasIndex *vector.AliasIndex, threshold float64, candidates int) *ProductResolver {
	if threshold <= 0 {
		threshold = 0.86
	}
	if candidates <= 0 {
		candidates = 50
	}
	return &ProductResolver{
		products:   products,
		aliasIndex: aliasIndex,
		threshold:  threshold,
		candidates: candidates,
	}
}

// Resolve returns the product for one raw row, creating it when nothing
// matches. The second result reports whether a new product was created.
func (r *ProductResolver) Resolve(ctx context.Context, row ingestion.RawOffer, vendorID uuid.UUID) (*models.Product, bool, error) {
	desc := strings.TrimSpace(row.ProductName)

	if upc := normalizeUPC(deref(row.UPC)); upc != "" {
		product, err := r.products.GetByUPC(upc)
		if err == nil {
			return product, false, r.noteAlias(ctx, product, desc, vendorID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("lookup by upc: %w", err)
		}
	}

	if deref(row.Brand) != "" && deref(row.ModelNumber) != "" {
		product, err := r.products.GetByBrandModel(*row.Brand, *row.ModelNumber)
		if err == nil {
			return product, false, r.noteAlias(ctx, product, desc, vendorID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("lookup by brand/model: %w", err)
		}
	}

	if desc != "" {
		for _, scope := range []*uuid.UUID{&vendorID, nil} {
			alias, err := r.products.FindAliasExact(desc, scope)
			if err == nil {
				product, err := r.products.GetByID(alias.ProductID.String())
				if err != nil {
					return nil, false, fmt.Errorf("product for alias %s: %w", alias.ID, err)
				}
				return product, false, nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, false, fmt.Errorf("lookup alias: %w", err)
			}
		}
	}

	if r.aliasIndex != nil && desc != "" {
		product, err := r.resolveByEmbedding(ctx, desc)
		if err != nil {
			return nil, false, err
		}
		if product != nil {
			return product, false, r.noteAlias(ctx, product, desc, vendorID)
		}
	}

	if desc == "" {
		return nil, false, ErrUnresolvableRow
	}

	product := &models.Product{
		CanonicalName: desc,
		Brand:         trimPtr(row.Brand),
		ModelNumber:   trimPtr(row.ModelNumber),
	}
	if upc := normalizeUPC(deref(row.UPC)); upc != "" {
		product.UPC = &upc
	}
	if err := r.products.Create(product); err != nil {
		return nil, false, fmt.Errorf("create product: %w", err)
	}
	return product, true, nil
}

// resolveByEmbedding picks the best alias hit at or above the similarity
// threshold. Index errors degrade to a miss: a flaky vector store must not
// fail an ingest run.
func (r *ProductResolver) resolveByEmbedding(ctx context.Context, desc string) (*models.Product, error) {
	hits, err := r.aliasIndex.Nearest(ctx, desc, r.candidates)
	if err != nil {
		utils.LogWarn("Alias index lookup failed", map[string]interface{}{
			"query": desc,
			"error": err.Error(),
		})
		return nil, nil
	}

	// Hits arrive ordered by similarity.
	for _, hit := range hits {
		if float64(hit.Score) < r.threshold {
			break
		}
		product, err := r.products.GetByID(hit.ProductID.String())
		if err == nil {
			return product, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("product for embedding hit: %w", err)
		}
		// Stale index entry; try the next hit.
	}
	return nil, nil
}

// noteAlias records the observed description as a vendor-scoped alias when it
// differs from the canonical name. The vector index write is best-effort; the
// database row is not.
func (r *ProductResolver) noteAlias(ctx context.Context, product *models.Product, desc string, vendorID uuid.UUID) error {
	if desc == "" || strings.EqualFold(desc, product.CanonicalName) {
		return nil
	}

	exists, err := r.products.AliasExists(product.ID, desc, &vendorID)
	if err != nil {
		return fmt.Errorf("check alias: %w", err)
	}
	if exists {
		return nil
	}

	alias := &models.ProductAlias{
		ProductID:      product.ID,
		AliasText:      desc,
		SourceVendorID: &vendorID,
	}
	if err := r.products.CreateAlias(alias); err != nil {
		return fmt.Errorf("create alias: %w", err)
	}

	if r.aliasIndex != nil {
		entry := vector.AliasEntry{AliasID: alias.ID, ProductID: product.ID, Text: desc}
		if vec, err := r.aliasIndex.IndexAliasVector(ctx, entry); err != nil {
			utils.LogWarn("Failed to index new alias", map[string]interface{}{
				"alias_id": alias.ID.String(),
				"error":    err.Error(),
			})
		} else if raw, err := json.Marshal(vec); err == nil {
			alias.Embedding = raw
			if err := r.products.SaveAliasEmbedding(alias); err != nil {
				return fmt.Errorf("cache alias embedding: %w", err)
			}
		}
	}
	return nil
}

// BackfillAliasEmbeddings indexes aliases that have no cached embedding yet,
// up to limit per run. Aliases written while the vector store was down, or
// before embedding was enabled, get picked up here. Returns how many were
// indexed.
func (r *ProductResolver) BackfillAliasEmbeddings(ctx context.Context, limit int) (int, error) {
	if r.aliasIndex == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = 200
	}

	aliases, err := r.products.AliasesMissingEmbedding(limit)
	if err != nil {
		return 0, fmt.Errorf("list aliases missing embedding: %w", err)
	}
	if len(aliases) == 0 {
		return 0, nil
	}

	entries := make([]vector.AliasEntry, len(aliases))
	for i := range aliases {
		entries[i] = vector.AliasEntry{
			AliasID:   aliases[i].ID,
			ProductID: aliases[i].ProductID,
			Text:      aliases[i].AliasText,
		}
	}

	vectors, err := r.aliasIndex.IndexAliases(ctx, entries)
	if err != nil {
		return 0, fmt.Errorf("index alias batch: %w", err)
	}

	indexed := 0
	for i := range aliases {
		raw, err := json.Marshal(vectors[i])
		if err != nil {
			continue
		}
		aliases[i].Embedding = raw
		if err := r.products.SaveAliasEmbedding(&aliases[i]); err != nil {
			return indexed, fmt.Errorf("cache alias embedding: %w", err)
		}
		indexed++
	}
	return indexed, nil
}

// normalizeUPC strips non-digits and validates the length. UPC-E through
// GTIN-14 fall in 8..14 digits; anything else is not a usable identifier.
func normalizeUPC(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 8 || len(digits) > 14 {
		return ""
	}
	return digits
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
