package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Chat types recognized for WhatsApp conversations.
const (
	ChatTypeGroup   = "group"
	ChatTypeDirect  = "direct"
	ChatTypeUnknown = "unknown"
)

// Per-message ingest decisions and their reasons.
const (
	DecisionCreated = "created"
	DecisionDeduped = "deduped"
	DecisionSkipped = "skipped"

	ReasonDuplicateMessageID   = "duplicate_message_id"
	ReasonDuplicateContentHash = "duplicate_content_hash_within_window"
	ReasonEmptyText            = "empty_text"
	ReasonFilteredEvent        = "filtered_event"
)

// WhatsAppChat is one tracked conversation. The optional vendor mapping
// attributes extracted offers when a message carries no sender.
type WhatsAppChat struct {
	ID              uuid.UUID      `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	Title           string         `gorm:"type:varchar(200);not null" json:"title"`
	ChatType        string         `gorm:"type:varchar(20);not null;default:'unknown'" json:"chat_type"`
	PlatformID      *string        `gorm:"type:varchar(200)" json:"platform_id,omitempty"`
	VendorID        *uuid.UUID     `gorm:"type:uuid" json:"vendor_id,omitempty"`
	LastExtractedAt *time.Time     `json:"last_extracted_at,omitempty"`
	Extra           datatypes.JSON `gorm:"type:jsonb" json:"extra,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (WhatsAppChat) TableName() string {
	return "whatsapp_chats"
}

// BeforeCreate sets UUID before creating
func (c *WhatsAppChat) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// WhatsAppMessage is one stored message. Dedupe key is (chat, message_id)
// when the platform id is present, else (chat, content_hash) within the
// configured rolling window.
type WhatsAppMessage struct {
	ID              uuid.UUID      `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	ChatID          uuid.UUID      `gorm:"type:uuid;not null;index" json:"chat_id"`
	ClientID        string         `gorm:"type:varchar(200);not null" json:"client_id"`
	MessageID       *string        `gorm:"type:varchar(200)" json:"message_id,omitempty"`
	ContentHash     string         `gorm:"type:varchar(64);not null" json:"content_hash"`
	SenderName      *string        `gorm:"type:varchar(200)" json:"sender_name,omitempty"`
	SenderPhone     *string        `gorm:"type:varchar(50)" json:"sender_phone,omitempty"`
	IsOutgoing      bool           `gorm:"not null;default:false" json:"is_outgoing"`
	Text            string         `gorm:"type:text;not null" json:"text"`
	ObservedAt      time.Time      `gorm:"not null" json:"observed_at"`
	MediaDocumentID *uuid.UUID     `gorm:"type:uuid" json:"media_document_id,omitempty"`
	RawPayload      datatypes.JSON `gorm:"type:jsonb" json:"raw_payload,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (WhatsAppMessage) TableName() string {
	return "whatsapp_messages"
}

// BeforeCreate sets UUID before creating
func (m *WhatsAppMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// WhatsAppMediaIn describes an attachment shipped alongside a message.
type WhatsAppMediaIn struct {
	FileName string `json:"file_name,omitempty" validate:"max=300"`
	MimeType string `json:"mime_type,omitempty" validate:"max=100"`
	Data     string `json:"data,omitempty"` // base64
}

// WhatsAppMessageIn is one incoming message in an ingest batch.
type WhatsAppMessageIn struct {
	ChatTitle   string                 `json:"chat_title" validate:"required,min=1,max=200"`
	ChatType    string                 `json:"chat_type,omitempty" validate:"omitempty,oneof=group direct unknown"`
	PlatformID  string                 `json:"platform_id,omitempty" validate:"max=200"`
	MessageID   string                 `json:"message_id,omitempty" validate:"max=200"`
	ObservedAt  *time.Time             `json:"observed_at,omitempty"`
	SenderName  string                 `json:"sender_name,omitempty" validate:"max=200"`
	SenderPhone string                 `json:"sender_phone,omitempty" validate:"max=50"`
	IsOutgoing  bool                   `json:"is_outgoing,omitempty"`
	Text        string                 `json:"text" validate:"required,min=1,max=5000"`
	Media       *WhatsAppMediaIn       `json:"media,omitempty"`
	RawPayload  map[string]interface{} `json:"raw_payload,omitempty"`
}

// WhatsAppIngestRequest is the batch body for POST /integrations/whatsapp/ingest.
type WhatsAppIngestRequest struct {
	ClientID string              `json:"client_id" validate:"required,min=3,max=200"`
	Messages []WhatsAppMessageIn `json:"messages" validate:"required,min=1,max=500"`
}

// MessageDecision reports what happened to one batch entry.
type MessageDecision struct {
	ChatTitle         string     `json:"chat_title"`
	PlatformID        string     `json:"platform_id,omitempty"`
	MessageID         string     `json:"message_id,omitempty"`
	ContentHash       string     `json:"content_hash"`
	Status            string     `json:"status"`
	Reason            string     `json:"reason,omitempty"`
	WhatsAppMessageID *uuid.UUID `json:"whatsapp_message_id,omitempty"`
}

// WhatsAppIngestResponse summarizes one batch.
type WhatsAppIngestResponse struct {
	RequestID    uuid.UUID         `json:"request_id"`
	Accepted     int               `json:"accepted"`
	Created      int               `json:"created"`
	Deduped      int               `json:"deduped"`
	CreatedChats int               `json:"created_chats"`
	Decisions    []MessageDecision `json:"decisions"`
}

// WhatsAppChatSummary is the chats listing entry.
type WhatsAppChatSummary struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	ChatType        string     `json:"chat_type"`
	PlatformID      *string    `json:"platform_id,omitempty"`
	VendorID        *uuid.UUID `json:"vendor_id,omitempty"`
	MessageCount    int64      `json:"message_count"`
	LastExtractedAt *time.Time `json:"last_extracted_at,omitempty"`
}

// ExtractChatResponse summarizes one extraction run.
type ExtractChatResponse struct {
	ChatID     uuid.UUID  `json:"chat_id"`
	Offers     int        `json:"offers"`
	Warnings   []string   `json:"warnings,omitempty"`
	DocumentID *uuid.UUID `json:"document_id,omitempty"`
}
