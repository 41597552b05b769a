package repositories

import (
	"github.com/google/uuid"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type HistoryRepo interface {
	SpansForPairLocked(productID, vendorID uuid.UUID) ([]models.PriceHistorySpan, error)
	Insert(span *models.PriceHistorySpan) error
	Update(span *models.PriceHistorySpan) error
	Delete(id uuid.UUID) error
	DeleteForPair(productID, vendorID uuid.UUID) error
	ListByProduct(productID uuid.UUID, vendorID *uuid.UUID, limit int) ([]models.PriceHistorySpan, error)
	ListByVendor(vendorID uuid.UUID, limit int) ([]models.PriceHistorySpan, error)
}

type historyRepo struct {
	db *gorm.DB
}

func NewHistoryRepo(db *gorm.DB) HistoryRepo {
	return &historyRepo{db: db}
}

// SpansForPairLocked reads one series under SELECT ... FOR UPDATE so
// concurrent writers for the same pair serialize. Call inside a transaction.
func (r *historyRepo) SpansForPairLocked(productID, vendorID uuid.UUID) ([]models.PriceHistorySpan, error) {
	var spans []models.PriceHistorySpan
	err := r.db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("product_id = ? AND vendor_id = ?", productID, vendorID).
		Order("valid_from").
		Find(&spans).Error
	return spans, err
}

func (r *historyRepo) Insert(span *models.PriceHistorySpan) error {
	return r.db.Create(span).Error
}

func (r *historyRepo) Update(span *models.PriceHistorySpan) error {
	return r.db.Model(&models.PriceHistorySpan{}).
		Where("id = ?", span.ID).
		Updates(map[string]interface{}{
			"price":           span.Price,
			"currency":        span.Currency,
			"valid_from":      span.ValidFrom,
			"valid_to":        span.ValidTo,
			"source_offer_id": span.SourceOfferID,
		}).Error
}

func (r *historyRepo) Delete(id uuid.UUID) error {
	return r.db.Delete(&models.PriceHistorySpan{}, "id = ?", id).Error
}

func (r *historyRepo) DeleteForPair(productID, vendorID uuid.UUID) error {
	return r.db.
		Where("product_id = ? AND vendor_id = ?", productID, vendorID).
		Delete(&models.PriceHistorySpan{}).Error
}

func (r *historyRepo) ListByProduct(productID uuid.UUID, vendorID *uuid.UUID, limit int) ([]models.PriceHistorySpan, error) {
	if limit < 1 {
		limit = 100
	}

	query := r.db.Where("product_id = ?", productID)
	if vendorID != nil {
		query = query.Where("vendor_id = ?", *vendorID)
	}

	var spans []models.PriceHistorySpan
	err := query.Order("valid_from DESC").Limit(limit).Find(&spans).Error
	return spans, err
}

func (r *historyRepo) ListByVendor(vendorID uuid.UUID, limit int) ([]models.PriceHistorySpan, error) {
	if limit < 1 {
		limit = 100
	}

	var spans []models.PriceHistorySpan
	err := r.db.
		Where("vendor_id = ?", vendorID).
		Order("valid_from DESC").
		Limit(limit).
		Find(&spans).Error
	return spans, err
}
