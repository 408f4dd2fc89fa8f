package store

import (
	"errors"
	"time"

	"whatsapp-compliance-gateway/internal/models"
	"whatsapp-compliance-gateway/internal/phone"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RouteRepository persists conversation routes keyed by (account, contact).
type RouteRepository struct {
	db *gorm.DB
}

func NewRouteRepository(db *gorm.DB) *RouteRepository {
	return &RouteRepository{db: db}
}

// Upsert records the latest sender app for the pair, overwriting any
// previous route in place. Safe to re-run with the same values.
func (r *RouteRepository) Upsert(accountID uint, contactNumber, sourceApp string, messageID uint, at time.Time) error {
	route := models.ConversationRoute{
		AccountID:             accountID,
		ContactNumber:         phone.Normalize(contactNumber),
		LastSourceApp:         sourceApp,
		LastOutgoingMessageID: messageID,
		LastOutgoingAt:        at,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "contact_number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"last_source_app", "last_outgoing_message_id", "last_outgoing_at",
		}),
	}).Create(&route).Error
}

// Get returns the route for the pair, or (nil, nil) when none is recorded.
func (r *RouteRepository) Get(accountID uint, contactNumber string) (*models.ConversationRoute, error) {
	var route models.ConversationRoute
	err := r.db.Where("account_id = ? AND contact_number = ?",
		accountID, phone.Normalize(contactNumber)).
		First(&route).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &route, nil
}
