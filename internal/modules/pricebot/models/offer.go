package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Offer is a single observed price for a product from a vendor.
// Identical snapshots (product, vendor, captured_at, price) are stored once.
type Offer struct {
	ID                      uuid.UUID      `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	ProductID               uuid.UUID      `gorm:"type:uuid;not null;index" json:"product_id"`
	VendorID                uuid.UUID      `gorm:"type:uuid;not null;index" json:"vendor_id"`
	SourceDocumentID        *uuid.UUID     `gorm:"type:uuid;index" json:"source_document_id,omitempty"`
	SourceWhatsAppMessageID *uuid.UUID     `gorm:"type:uuid;column:source_whatsapp_message_id" json:"source_whatsapp_message_id,omitempty"`
	CapturedAt              time.Time      `gorm:"not null" json:"captured_at"`
	Price                   float64        `gorm:"type:numeric(14,2);not null" json:"price"`
	Currency                string         `gorm:"type:varchar(8);not null;default:'USD'" json:"currency"`
	Quantity                *int           `json:"quantity,omitempty"`
	MinOrderQuantity        *int           `json:"min_order_quantity,omitempty"`
	Condition               *string        `gorm:"type:varchar(50)" json:"condition,omitempty"`
	Location                *string        `gorm:"type:varchar(200)" json:"location,omitempty"`
	Notes                   *string        `gorm:"type:text" json:"notes,omitempty"`
	RawPayload              datatypes.JSON `gorm:"type:jsonb" json:"raw_payload,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (Offer) TableName() string {
	return "offers"
}

// BeforeCreate sets UUID before creating
func (o *Offer) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// OfferOut is the wire representation with resolved names.
type OfferOut struct {
	ID          uuid.UUID `json:"id"`
	ProductID   uuid.UUID `json:"product_id"`
	VendorID    uuid.UUID `json:"vendor_id"`
	ProductName string    `json:"product_name"`
	VendorName  string    `json:"vendor_name"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency"`
	CapturedAt  time.Time `json:"captured_at"`
	Condition   *string   `json:"condition,omitempty"`
	Quantity    *int      `json:"quantity,omitempty"`
	Location    *string   `json:"location,omitempty"`
}

// OfferFilter represents offer listing options
type OfferFilter struct {
	ProductID        *uuid.UUID
	VendorID         *uuid.UUID
	SourceDocumentID *uuid.UUID
	Since            *time.Time
	Limit            int
}
