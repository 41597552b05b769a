package repositories

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
	"gorm.io/gorm"
)

type ProductRepo interface {
	Create(product *models.Product) error
	GetByID(id string) (*models.Product, error)
	GetByUPC(upc string) (*models.Product, error)
	GetByBrandModel(brand, modelNumber string) (*models.Product, error)
	GetByCanonicalNameCI(name string) (*models.Product, error)
	Update(product *models.Product) error
	ListSummaries(filter models.ProductFilter) ([]models.ProductSummary, error)
	Search(query string, limit, offset int) ([]models.Product, error)
	SearchResolve(query string, tokens []string, limit, offset int) ([]models.Product, int64, bool, error)
	HasAliasContaining(productID uuid.UUID, text string) (bool, error)
	Count() (int64, error)

	CreateAlias(alias *models.ProductAlias) error
	FindAliasExact(text string, vendorID *uuid.UUID) (*models.ProductAlias, error)
	AliasExists(productID uuid.UUID, text string, vendorID *uuid.UUID) (bool, error)
	AliasesByIDs(ids []string) ([]models.ProductAlias, error)
	AliasesMissingEmbedding(limit int) ([]models.ProductAlias, error)
	SaveAliasEmbedding(alias *models.ProductAlias) error
}

type productRepo struct {
	db *gorm.DB
}

func NewProductRepo(db *gorm.DB) ProductRepo {
	return &productRepo{db: db}
}

func (r *productRepo) Create(product *models.Product) error {
	return r.db.Create(product).Error
}

func (r *productRepo) GetByID(id string) (*models.Product, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid product ID: %w", err)
	}

	var product models.Product
	err = r.db.First(&product, "id = ?", uid).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepo) GetByUPC(upc string) (*models.Product, error) {
	var product models.Product
	err := r.db.Where("upc = ?", upc).First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepo) GetByBrandModel(brand, modelNumber string) (*models.Product, error) {
	var product models.Product
	err := r.db.
		Where("lower(brand) = lower(?) AND lower(model_number) = lower(?)", strings.TrimSpace(brand), strings.TrimSpace(modelNumber)).
		First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepo) GetByCanonicalNameCI(name string) (*models.Product, error) {
	var product models.Product
	err := r.db.Where("lower(canonical_name) = lower(?)", strings.TrimSpace(name)).First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepo) Update(product *models.Product) error {
	return r.db.Save(product).Error
}

func (r *productRepo) ListSummaries(filter models.ProductFilter) ([]models.ProductSummary, error) {
	var summaries []models.ProductSummary

	if filter.Limit < 1 {
		filter.Limit = 50
	}

	query := r.db.Model(&models.Product{}).
		Select("products.id, products.canonical_name, products.brand, products.model_number, products.upc, products.category, COUNT(offers.id) AS offer_count").
		Joins("LEFT JOIN offers ON offers.product_id = products.id").
		Group("products.id")

	if trimmed := strings.TrimSpace(filter.Query); trimmed != "" {
		pattern := "%" + trimmed + "%"
		query = query.Where("products.canonical_name ILIKE ? OR products.model_number ILIKE ? OR products.upc ILIKE ?", pattern, pattern, pattern)
	}

	err := query.Order("lower(products.canonical_name)").
		Offset(filter.Offset).
		Limit(filter.Limit).
		Scan(&summaries).Error
	return summaries, err
}

// Search matches canonical name, model number, or UPC with a substring
// pattern, ordered so shorter names rank first.
func (r *productRepo) Search(query string, limit, offset int) ([]models.Product, error) {
	var products []models.Product

	pattern := "%" + strings.TrimSpace(query) + "%"
	err := r.db.
		Where("canonical_name ILIKE ? OR model_number ILIKE ? OR upc ILIKE ?", pattern, pattern, pattern).
		Order("length(canonical_name), lower(canonical_name)").
		Offset(offset).
		Limit(limit).
		Find(&products).Error
	return products, err
}

// SearchResolve pages products matching the chat resolution conditions: the
// whole query as a substring of canonical name, model number, or alias text,
// UPC equality for all-digit queries, or every token matching one of those
// fields. Returns the page (capped at limit), the distinct total, and
// whether more rows exist past the page.
func (r *productRepo) SearchResolve(query string, tokens []string, limit, offset int) ([]models.Product, int64, bool, error) {
	if limit < 1 {
		limit = 5
	}

	query = strings.TrimSpace(query)
	term := "%" + query + "%"
	conds := []string{
		"products.canonical_name ILIKE ?",
		"products.model_number ILIKE ?",
		"product_aliases.alias_text ILIKE ?",
	}
	args := []interface{}{term, term, term}
	if isDigits(query) {
		conds = append(conds, "products.upc = ?")
		args = append(args, query)
	}
	if len(tokens) > 0 {
		tokenConds := make([]string, 0, len(tokens))
		for _, token := range tokens {
			tokenConds = append(tokenConds,
				"(products.canonical_name ILIKE ? OR products.model_number ILIKE ? OR product_aliases.alias_text ILIKE ?)")
			like := "%" + token + "%"
			args = append(args, like, like, like)
		}
		conds = append(conds, "("+strings.Join(tokenConds, " AND ")+")")
	}
	where := strings.Join(conds, " OR ")

	matched := func() *gorm.DB {
		return r.db.Model(&models.Product{}).
			Joins("LEFT JOIN product_aliases ON product_aliases.product_id = products.id").
			Where(where, args...)
	}

	var ids []uuid.UUID
	err := matched().
		Select("products.id").
		Group("products.id").
		Order("lower(products.canonical_name)").
		Offset(offset).
		Limit(limit + 1).
		Scan(&ids).Error
	if err != nil {
		return nil, 0, false, err
	}

	hasMore := len(ids) > limit
	if hasMore {
		ids = ids[:limit]
	}

	var total int64
	if err := matched().Distinct("products.id").Count(&total).Error; err != nil {
		return nil, 0, false, err
	}
	if len(ids) == 0 {
		return nil, total, false, nil
	}

	var products []models.Product
	if err := r.db.Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, 0, false, err
	}

	// Restore the paged name ordering lost by the IN fetch.
	byID := make(map[uuid.UUID]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	ordered := make([]models.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered, total, hasMore, nil
}

// HasAliasContaining reports whether any of the product's aliases contains
// the text, case-insensitive. Used for match-source attribution.
func (r *productRepo) HasAliasContaining(productID uuid.UUID, text string) (bool, error) {
	var count int64
	err := r.db.Model(&models.ProductAlias{}).
		Where("product_id = ? AND alias_text ILIKE ?", productID, "%"+strings.TrimSpace(text)+"%").
		Count(&count).Error
	return count > 0, err
}

func (r *productRepo) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Product{}).Count(&count).Error
	return count, err
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (r *productRepo) CreateAlias(alias *models.ProductAlias) error {
	return r.db.Create(alias).Error
}

// FindAliasExact looks up an alias by exact text, case-insensitive. When
// vendorID is set the vendor-scoped alias wins; a nil vendorID restricts the
// search to global aliases. Ties resolve to the most recently updated row.
func (r *productRepo) FindAliasExact(text string, vendorID *uuid.UUID) (*models.ProductAlias, error) {
	query := r.db.Where("lower(alias_text) = lower(?)", strings.TrimSpace(text))
	if vendorID != nil {
		query = query.Where("source_vendor_id = ?", *vendorID)
	} else {
		query = query.Where("source_vendor_id IS NULL")
	}

	var alias models.ProductAlias
	err := query.Order("updated_at DESC").First(&alias).Error
	if err != nil {
		return nil, err
	}
	return &alias, nil
}

func (r *productRepo) AliasExists(productID uuid.UUID, text string, vendorID *uuid.UUID) (bool, error) {
	query := r.db.Model(&models.ProductAlias{}).
		Where("product_id = ? AND lower(alias_text) = lower(?)", productID, strings.TrimSpace(text))
	if vendorID != nil {
		query = query.Where("source_vendor_id = ?", *vendorID)
	} else {
		query = query.Where("source_vendor_id IS NULL")
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *productRepo) AliasesByIDs(ids []string) ([]models.ProductAlias, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	parsed := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		uid, err := uuid.Parse(id)
		if err != nil {
			continue
		}
		parsed = append(parsed, uid)
	}

	var aliases []models.ProductAlias
	err := r.db.Where("id IN ?", parsed).Find(&aliases).Error
	return aliases, err
}

func (r *productRepo) AliasesMissingEmbedding(limit int) ([]models.ProductAlias, error) {
	if limit < 1 {
		limit = 100
	}

	var aliases []models.ProductAlias
	err := r.db.
		Where("embedding IS NULL").
		Order("created_at").
		Limit(limit).
		Find(&aliases).Error
	return aliases, err
}

func (r *productRepo) SaveAliasEmbedding(alias *models.ProductAlias) error {
	return r.db.Model(&models.ProductAlias{}).
		Where("id = ?", alias.ID).
		Update("embedding", alias.Embedding).Error
}
