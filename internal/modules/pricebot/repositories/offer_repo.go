package repositories

import (
	"time"

	"github.com/google/uuid"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
	"gorm.io/gorm"
)

const offerOutColumns = "offers.id, offers.product_id, offers.vendor_id, " +
	"products.canonical_name AS product_name, vendors.name AS vendor_name, " +
	"offers.price, offers.currency, offers.captured_at, offers.condition, offers.quantity, offers.location"

type OfferRepo interface {
	Create(offer *models.Offer) error
	GetByID(id uuid.UUID) (*models.Offer, error)
	FindSnapshot(productID, vendorID uuid.UUID, capturedAt time.Time, price float64) (*models.Offer, error)
	ListOut(filter models.OfferFilter) ([]models.OfferOut, error)
	ListByPair(productID, vendorID uuid.UUID) ([]models.Offer, error)
	BestForProduct(productID uuid.UUID, filters models.BestPriceFilters, limit int) ([]models.OfferOut, error)
	CountByDocument(documentID uuid.UUID) (int64, error)
	CountByProduct(productID uuid.UUID) (int64, error)
	CountByVendor(vendorID uuid.UUID) (int64, error)
	Count() (int64, error)
	DeleteByDocument(documentID uuid.UUID) (int64, error)
	PairsForDocument(documentID uuid.UUID) ([]ProductVendorPair, error)
	RecentProducts(limit int) ([]models.RecentProductSuggestion, error)
}

// ProductVendorPair identifies one price series.
type ProductVendorPair struct {
	ProductID uuid.UUID
	VendorID  uuid.UUID
}

type offerRepo struct {
	db *gorm.DB
}

func NewOfferRepo(db *gorm.DB) OfferRepo {
	return &offerRepo{db: db}
}

func (r *offerRepo) Create(offer *models.Offer) error {
	return r.db.Create(offer).Error
}

func (r *offerRepo) GetByID(id uuid.UUID) (*models.Offer, error) {
	var offer models.Offer
	err := r.db.First(&offer, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

// FindSnapshot returns the existing offer for an identical
// (product, vendor, captured_at, price) observation, if any.
func (r *offerRepo) FindSnapshot(productID, vendorID uuid.UUID, capturedAt time.Time, price float64) (*models.Offer, error) {
	var offer models.Offer
	err := r.db.
		Where("product_id = ? AND vendor_id = ? AND captured_at = ? AND price = ?", productID, vendorID, capturedAt, price).
		First(&offer).Error
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

func (r *offerRepo) ListOut(filter models.OfferFilter) ([]models.OfferOut, error) {
	var out []models.OfferOut

	if filter.Limit < 1 {
		filter.Limit = 100
	}

	query := r.db.Model(&models.Offer{}).
		Select(offerOutColumns).
		Joins("JOIN products ON products.id = offers.product_id").
		Joins("JOIN vendors ON vendors.id = offers.vendor_id")

	if filter.ProductID != nil {
		query = query.Where("offers.product_id = ?", *filter.ProductID)
	}
	if filter.VendorID != nil {
		query = query.Where("offers.vendor_id = ?", *filter.VendorID)
	}
	if filter.SourceDocumentID != nil {
		query = query.Where("offers.source_document_id = ?", *filter.SourceDocumentID)
	}
	if filter.Since != nil {
		query = query.Where("offers.captured_at >= ?", *filter.Since)
	}

	err := query.Order("offers.captured_at DESC, offers.price ASC").
		Limit(filter.Limit).
		Scan(&out).Error
	return out, err
}

// ListByPair returns every offer of one (product, vendor) series oldest
// first, the replay order for history rebuilds.
func (r *offerRepo) ListByPair(productID, vendorID uuid.UUID) ([]models.Offer, error) {
	var offers []models.Offer
	err := r.db.
		Where("product_id = ? AND vendor_id = ?", productID, vendorID).
		Order("captured_at ASC, created_at ASC").
		Find(&offers).Error
	return offers, err
}

// BestForProduct returns the product's offers cheapest-first, newest first
// within equal prices, after applying the optional filters.
func (r *offerRepo) BestForProduct(productID uuid.UUID, filters models.BestPriceFilters, limit int) ([]models.OfferOut, error) {
	var out []models.OfferOut

	if limit < 1 {
		limit = 5
	}

	query := r.db.Model(&models.Offer{}).
		Select(offerOutColumns).
		Joins("JOIN products ON products.id = offers.product_id").
		Joins("JOIN vendors ON vendors.id = offers.vendor_id").
		Where("offers.product_id = ?", productID)

	if filters.VendorID != nil {
		query = query.Where("offers.vendor_id = ?", *filters.VendorID)
	}
	if filters.Condition != "" {
		query = query.Where("lower(offers.condition) = lower(?)", filters.Condition)
	}
	if filters.Location != "" {
		query = query.Where("offers.location ILIKE ?", "%"+filters.Location+"%")
	}
	if filters.MinPrice != nil {
		query = query.Where("offers.price >= ?", *filters.MinPrice)
	}
	if filters.MaxPrice != nil {
		query = query.Where("offers.price <= ?", *filters.MaxPrice)
	}
	if filters.CapturedSince != nil {
		query = query.Where("offers.captured_at >= ?", *filters.CapturedSince)
	}

	err := query.Order("offers.price ASC, offers.captured_at DESC").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

func (r *offerRepo) CountByDocument(documentID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.Model(&models.Offer{}).
		Where("source_document_id = ?", documentID).
		Count(&count).Error
	return count, err
}

func (r *offerRepo) CountByProduct(productID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.Model(&models.Offer{}).
		Where("product_id = ?", productID).
		Count(&count).Error
	return count, err
}

func (r *offerRepo) CountByVendor(vendorID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.Model(&models.Offer{}).
		Where("vendor_id = ?", vendorID).
		Count(&count).Error
	return count, err
}

func (r *offerRepo) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Offer{}).Count(&count).Error
	return count, err
}

func (r *offerRepo) DeleteByDocument(documentID uuid.UUID) (int64, error) {
	res := r.db.Where("source_document_id = ?", documentID).Delete(&models.Offer{})
	return res.RowsAffected, res.Error
}

// PairsForDocument lists the distinct (product, vendor) series touched by a
// document, used to rebuild history after a reprocess.
func (r *offerRepo) PairsForDocument(documentID uuid.UUID) ([]ProductVendorPair, error) {
	var pairs []ProductVendorPair
	err := r.db.Model(&models.Offer{}).
		Select("DISTINCT product_id, vendor_id").
		Where("source_document_id = ?", documentID).
		Scan(&pairs).Error
	return pairs, err
}

// RecentProducts summarizes the most recently observed products, the
// fallback suggestion list for empty best-price searches.
func (r *offerRepo) RecentProducts(limit int) ([]models.RecentProductSuggestion, error) {
	if limit < 1 {
		limit = 5
	}

	var out []models.RecentProductSuggestion
	err := r.db.Model(&models.Offer{}).
		Select("offers.product_id AS id, products.canonical_name, COUNT(offers.id) AS offer_count, MAX(offers.captured_at) AS last_seen").
		Joins("JOIN products ON products.id = offers.product_id").
		Group("offers.product_id, products.canonical_name").
		Order("MAX(offers.captured_at) DESC").
		Limit(limit).
		Scan(&out).Error
	return out, err
}
