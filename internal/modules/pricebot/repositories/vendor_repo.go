package repositories

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
	"gorm.io/gorm"
)

type VendorRepo interface {
	Create(vendor *models.Vendor) error
	GetByID(id string) (*models.Vendor, error)
	GetByNameCI(name string) (*models.Vendor, error)
	GetOrCreateByName(name string) (*models.Vendor, bool, error)
	List(filter models.VendorFilter) ([]models.Vendor, error)
	Update(vendor *models.Vendor) error
	Count() (int64, error)
}

type vendorRepo struct {
	db *gorm.DB
}

func NewVendorRepo(db *gorm.DB) VendorRepo {
	return &vendorRepo{db: db}
}

func (r *vendorRepo) Create(vendor *models.Vendor) error {
	return r.db.Create(vendor).Error
}

func (r *vendorRepo) GetByID(id string) (*models.Vendor, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid vendor ID: %w", err)
	}

	var vendor models.Vendor
	err = r.db.First(&vendor, "id = ?", uid).Error
	if err != nil {
		return nil, err
	}
	return &vendor, nil
}

func (r *vendorRepo) GetByNameCI(name string) (*models.Vendor, error) {
	var vendor models.Vendor
	err := r.db.Where("lower(name) = lower(?)", strings.TrimSpace(name)).First(&vendor).Error
	if err != nil {
		return nil, err
	}
	return &vendor, nil
}

// GetOrCreateByName resolves a vendor case-insensitively, creating it on
// miss. The bool result reports whether a new row was created.
func (r *vendorRepo) GetOrCreateByName(name string) (*models.Vendor, bool, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, false, fmt.Errorf("vendor name is empty")
	}

	vendor, err := r.GetByNameCI(trimmed)
	if err == nil {
		return vendor, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	created := &models.Vendor{Name: trimmed}
	if err := r.db.Create(created).Error; err != nil {
		// Concurrent insert on the same name loses the race; re-read.
		if existing, readErr := r.GetByNameCI(trimmed); readErr == nil {
			return existing, false, nil
		}
		return nil, false, err
	}
	return created, true, nil
}

func (r *vendorRepo) List(filter models.VendorFilter) ([]models.Vendor, error) {
	var vendors []models.Vendor

	query := r.db.Model(&models.Vendor{})
	if trimmed := strings.TrimSpace(filter.Query); trimmed != "" {
		query = query.Where("name ILIKE ?", "%"+trimmed+"%")
	}

	if filter.Limit < 1 {
		filter.Limit = 50
	}

	err := query.Order("lower(name), name").
		Offset(filter.Offset).
		Limit(filter.Limit).
		Find(&vendors).Error
	return vendors, err
}

func (r *vendorRepo) Update(vendor *models.Vendor) error {
	return r.db.Save(vendor).Error
}

func (r *vendorRepo) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Vendor{}).Count(&count).Error
	return count, err
}
