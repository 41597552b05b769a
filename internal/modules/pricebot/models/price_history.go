package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PriceHistorySpan is a closed-open interval [valid_from, valid_to) during
// which one (product, vendor) pair held a single price. A nil valid_to marks
// the currently active span; a pair has at most one.
type PriceHistorySpan struct {
	ID            uuid.UUID  `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	ProductID     uuid.UUID  `gorm:"type:uuid;not null;index:idx_spans_pair,priority:1" json:"product_id"`
	VendorID      uuid.UUID  `gorm:"type:uuid;not null;index:idx_spans_pair,priority:2" json:"vendor_id"`
	Price         float64    `gorm:"type:numeric(14,2);not null" json:"price"`
	Currency      string     `gorm:"type:varchar(8);not null;default:'USD'" json:"currency"`
	ValidFrom     time.Time  `gorm:"not null;index:idx_spans_pair,priority:3" json:"valid_from"`
	ValidTo       *time.Time `json:"valid_to,omitempty"`
	SourceOfferID *uuid.UUID `gorm:"type:uuid" json:"source_offer_id,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (PriceHistorySpan) TableName() string {
	return "price_history_spans"
}

// BeforeCreate sets UUID before creating
func (s *PriceHistorySpan) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// IsOpen reports whether the span is the currently active one.
func (s *PriceHistorySpan) IsOpen() bool {
	return s.ValidTo == nil
}

// Covers reports whether t falls inside the span's closed-open interval.
func (s *PriceHistorySpan) Covers(t time.Time) bool {
	if t.Before(s.ValidFrom) {
		return false
	}
	return s.ValidTo == nil || t.Before(*s.ValidTo)
}

// PriceHistoryOut is the wire representation of a span.
type PriceHistoryOut struct {
	ID            uuid.UUID  `json:"id"`
	ProductID     uuid.UUID  `json:"product_id"`
	VendorID      uuid.UUID  `json:"vendor_id"`
	Price         float64    `json:"price"`
	Currency      string     `json:"currency"`
	ValidFrom     time.Time  `json:"valid_from"`
	ValidTo       *time.Time `json:"valid_to,omitempty"`
	SourceOfferID *uuid.UUID `json:"source_offer_id,omitempty"`
}
