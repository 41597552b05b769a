package repositories

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WhatsAppRepo interface {
	CreateChat(chat *models.WhatsAppChat) error
	UpdateChat(chat *models.WhatsAppChat) error
	LockChat(chatID uuid.UUID) error
	GetChatByID(id string) (*models.WhatsAppChat, error)
	GetChatByPlatformID(platformID string) (*models.WhatsAppChat, error)
	GetChatByTitleCI(title string) (*models.WhatsAppChat, error)
	ListChats(limit, offset int) ([]models.WhatsAppChatSummary, error)
	TouchChatExtracted(chatID uuid.UUID, at time.Time) error

	CreateMessage(msg *models.WhatsAppMessage) error
	MessageExistsByMessageID(chatID uuid.UUID, messageID string) (bool, error)
	MessageExistsByContentHash(chatID uuid.UUID, contentHash string, since time.Time) (bool, error)
	MessagesForExtraction(chatID uuid.UUID, since *time.Time, limit int) ([]models.WhatsAppMessage, error)
	CountMessages(chatID uuid.UUID) (int64, error)
	LatestMessageAt(chatID uuid.UUID) (*time.Time, error)
	ChatIDsWithMessagesSince(since time.Time) ([]uuid.UUID, error)
}

type whatsAppRepo struct {
	db *gorm.DB
}

func NewWhatsAppRepo(db *gorm.DB) WhatsAppRepo {
	return &whatsAppRepo{db: db}
}

func (r *whatsAppRepo) CreateChat(chat *models.WhatsAppChat) error {
	return r.db.Create(chat).Error
}

func (r *whatsAppRepo) UpdateChat(chat *models.WhatsAppChat) error {
	return r.db.Save(chat).Error
}

// LockChat takes the chat's row lock for the rest of the transaction.
// Concurrent ingest batches touching the same chat serialize here.
func (r *whatsAppRepo) LockChat(chatID uuid.UUID) error {
	var chat models.WhatsAppChat
	return r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&chat, "id = ?", chatID).Error
}

func (r *whatsAppRepo) GetChatByID(id string) (*models.WhatsAppChat, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	var chat models.WhatsAppChat
	err = r.db.First(&chat, "id = ?", uid).Error
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r *whatsAppRepo) GetChatByPlatformID(platformID string) (*models.WhatsAppChat, error) {
	var chat models.WhatsAppChat
	err := r.db.Where("platform_id = ?", platformID).First(&chat).Error
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r *whatsAppRepo) GetChatByTitleCI(title string) (*models.WhatsAppChat, error) {
	var chat models.WhatsAppChat
	err := r.db.
		Where("lower(title) = lower(?)", strings.TrimSpace(title)).
		Order("created_at").
		First(&chat).Error
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r *whatsAppRepo) ListChats(limit, offset int) ([]models.WhatsAppChatSummary, error) {
	if limit < 1 {
		limit = 50
	}

	var summaries []models.WhatsAppChatSummary
	err := r.db.Model(&models.WhatsAppChat{}).
		Select("whatsapp_chats.id, whatsapp_chats.title, whatsapp_chats.chat_type, whatsapp_chats.platform_id, whatsapp_chats.vendor_id, COUNT(whatsapp_messages.id) AS message_count, whatsapp_chats.last_extracted_at").
		Joins("LEFT JOIN whatsapp_messages ON whatsapp_messages.chat_id = whatsapp_chats.id").
		Group("whatsapp_chats.id").
		Order("MAX(whatsapp_messages.observed_at) DESC NULLS LAST").
		Offset(offset).
		Limit(limit).
		Scan(&summaries).Error
	return summaries, err
}

func (r *whatsAppRepo) TouchChatExtracted(chatID uuid.UUID, at time.Time) error {
	return r.db.Model(&models.WhatsAppChat{}).
		Where("id = ?", chatID).
		Update("last_extracted_at", at).Error
}

func (r *whatsAppRepo) CreateMessage(msg *models.WhatsAppMessage) error {
	return r.db.Create(msg).Error
}

func (r *whatsAppRepo) MessageExistsByMessageID(chatID uuid.UUID, messageID string) (bool, error) {
	var count int64
	err := r.db.Model(&models.WhatsAppMessage{}).
		Where("chat_id = ? AND message_id = ?", chatID, messageID).
		Count(&count).Error
	return count > 0, err
}

// MessageExistsByContentHash checks the rolling window used for hash-based
// dedupe of messages that arrive without a platform message ID.
func (r *whatsAppRepo) MessageExistsByContentHash(chatID uuid.UUID, contentHash string, since time.Time) (bool, error) {
	var count int64
	err := r.db.Model(&models.WhatsAppMessage{}).
		Where("chat_id = ? AND content_hash = ? AND observed_at >= ?", chatID, contentHash, since).
		Count(&count).Error
	return count > 0, err
}

// MessagesForExtraction returns the chat's most recent inbound messages up
// to limit, oldest first. The since cursor is exclusive so already-extracted
// messages are not replayed.
func (r *whatsAppRepo) MessagesForExtraction(chatID uuid.UUID, since *time.Time, limit int) ([]models.WhatsAppMessage, error) {
	if limit < 1 {
		limit = 500
	}

	query := r.db.
		Where("chat_id = ? AND is_outgoing = false", chatID)
	if since != nil {
		query = query.Where("observed_at > ?", *since)
	}

	var messages []models.WhatsAppMessage
	err := query.Order("observed_at DESC, created_at DESC").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *whatsAppRepo) CountMessages(chatID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.Model(&models.WhatsAppMessage{}).
		Where("chat_id = ?", chatID).
		Count(&count).Error
	return count, err
}

func (r *whatsAppRepo) LatestMessageAt(chatID uuid.UUID) (*time.Time, error) {
	var msg models.WhatsAppMessage
	err := r.db.
		Where("chat_id = ?", chatID).
		Order("observed_at DESC").
		First(&msg).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &msg.ObservedAt, nil
}

// ChatIDsWithMessagesSince lists chats with inbound traffic after since,
// candidates for the periodic extraction sweep.
func (r *whatsAppRepo) ChatIDsWithMessagesSince(since time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.Model(&models.WhatsAppMessage{}).
		Select("DISTINCT chat_id").
		Where("observed_at >= ? AND is_outgoing = false", since).
		Scan(&ids).Error
	return ids, err
}
