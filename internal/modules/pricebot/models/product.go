package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Product is a canonical catalog entry. UPC is unique when present;
// (brand, model_number) is treated as a match key by the resolver.
type Product struct {
	ID            uuid.UUID      `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	CanonicalName string         `gorm:"type:varchar(300);not null" json:"canonical_name"`
	Brand         *string        `gorm:"type:varchar(100)" json:"brand,omitempty"`
	ModelNumber   *string        `gorm:"type:varchar(100)" json:"model_number,omitempty"`
	UPC           *string        `gorm:"type:varchar(32)" json:"upc,omitempty"`
	Category      *string        `gorm:"type:varchar(100)" json:"category,omitempty"`
	Spec          datatypes.JSON `gorm:"type:jsonb" json:"spec,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (Product) TableName() string {
	return "products"
}

// BeforeCreate sets UUID before creating
func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// ProductAlias is a raw string observed for a product, optionally scoped to
// the vendor that used it. The embedding column caches the alias vector so
// the index can be rebuilt without calling the embedding service again.
type ProductAlias struct {
	ID             uuid.UUID      `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	ProductID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"product_id"`
	AliasText      string         `gorm:"type:varchar(500);not null" json:"alias_text"`
	SourceVendorID *uuid.UUID     `gorm:"type:uuid" json:"source_vendor_id,omitempty"`
	Embedding      datatypes.JSON `gorm:"type:jsonb" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (ProductAlias) TableName() string {
	return "product_aliases"
}

// BeforeCreate sets UUID before creating
func (a *ProductAlias) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// ProductSummary is the list representation with an offer count.
type ProductSummary struct {
	ID            uuid.UUID `json:"id"`
	CanonicalName string    `json:"canonical_name"`
	Brand         *string   `json:"brand,omitempty"`
	ModelNumber   *string   `json:"model_number,omitempty"`
	UPC           *string   `json:"upc,omitempty"`
	Category      *string   `json:"category,omitempty"`
	OfferCount    int64     `json:"offer_count"`
}

// ProductDetailResponse carries a product with its recent offers.
type ProductDetailResponse struct {
	ProductSummary
	RecentOffers []OfferOut `json:"recent_offers"`
}

// ProductFilter represents product listing options
type ProductFilter struct {
	Query  string // matches name, model, or UPC
	Limit  int
	Offset int
}
