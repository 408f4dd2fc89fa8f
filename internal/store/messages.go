package store

import (
	"errors"
	"time"

	"whatsapp-compliance-gateway/internal/models"

	"gorm.io/gorm"
)

// MessageRepository persists inbound and outbound messages.
type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(m *models.Message) error {
	return r.db.Create(m).Error
}

func (r *MessageRepository) Save(m *models.Message) error {
	return r.db.Save(m).Error
}

func (r *MessageRepository) ByID(id uint) (*models.Message, error) {
	var m models.Message
	err := r.db.First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ByProviderID looks a message up by the Meta-assigned id. Returns (nil, nil)
// when the id is unknown.
func (r *MessageRepository) ByProviderID(providerID string) (*models.Message, error) {
	if providerID == "" {
		return nil, nil
	}
	var m models.Message
	err := r.db.Where("provider_message_id = ?", providerID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ExistsByProviderID is the idempotency check for webhook deliveries.
func (r *MessageRepository) ExistsByProviderID(providerID string) (bool, error) {
	if providerID == "" {
		return false, nil
	}
	var count int64
	err := r.db.Model(&models.Message{}).
		Where("provider_message_id = ?", providerID).
		Count(&count).Error
	return count > 0, err
}

// LastIncomingAt returns the creation time of the most recent incoming
// message from the number on the account, or nil when there is none.
func (r *MessageRepository) LastIncomingAt(number string, accountID uint) (*time.Time, error) {
	q := r.db.Model(&models.Message{}).
		Where("direction = ? AND from_number = ?", models.DirectionIncoming, number)
	if accountID != 0 {
		q = q.Where("account_id = ?", accountID)
	}

	var m models.Message
	err := q.Order("created_at desc").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m.CreatedAt, nil
}

// MarkOptOutRequest tags the inbound message that triggered an opt-out.
func (r *MessageRepository) MarkOptOutRequest(id uint) error {
	return r.db.Model(&models.Message{}).Where("id = ?", id).
		Update("is_opt_out_request", true).Error
}

// MarkOptInRequest tags the inbound message that triggered an opt-in.
func (r *MessageRepository) MarkOptInRequest(id uint) error {
	return r.db.Model(&models.Message{}).Where("id = ?", id).
		Update("is_opt_in_request", true).Error
}

// UpdateDeliveryStatus applies a status webhook to the message with the given
// provider id. Unknown ids are ignored, not errors.
func (r *MessageRepository) UpdateDeliveryStatus(providerID, status, conversationID string) error {
	m, err := r.ByProviderID(providerID)
	if err != nil || m == nil {
		return err
	}
	updates := map[string]interface{}{"status": status}
	if conversationID != "" {
		updates["conversation_id"] = conversationID
	}
	return r.db.Model(m).Updates(updates).Error
}

// AttachMedia records downloaded media metadata on a stub message.
func (r *MessageRepository) AttachMedia(id uint, mediaID, mimeType, filename string, size int64) error {
	return r.db.Model(&models.Message{}).Where("id = ?", id).Updates(map[string]interface{}{
		"media_id":        mediaID,
		"media_mime_type": mimeType,
		"media_filename":  filename,
		"media_size":      size,
	}).Error
}

// Recent returns the newest messages for the dashboard.
func (r *MessageRepository) Recent(limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var msgs []models.Message
	err := r.db.Order("created_at desc").Limit(limit).Find(&msgs).Error
	return msgs, err
}
