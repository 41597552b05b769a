package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Vendor represents a price source. Vendors are created lazily on first
// reference and are never deleted automatically.
type Vendor struct {
	ID          uuid.UUID      `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	Name        string         `gorm:"type:varchar(200);not null" json:"name"`
	ContactInfo datatypes.JSON `gorm:"type:jsonb" json:"contact_info,omitempty"`
	Extra       datatypes.JSON `gorm:"type:jsonb" json:"extra,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (Vendor) TableName() string {
	return "vendors"
}

// BeforeCreate sets UUID before creating
func (v *Vendor) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// VendorListItem is the compact list representation.
type VendorListItem struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// VendorDetailResponse carries a vendor with its recent offers.
type VendorDetailResponse struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	OfferCount   int64      `json:"offer_count"`
	RecentOffers []OfferOut `json:"recent_offers"`
}

// VendorFilter represents vendor listing options
type VendorFilter struct {
	Query  string
	Limit  int
	Offset int
}
