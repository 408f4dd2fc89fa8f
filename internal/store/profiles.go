package store

import (
	"errors"

	"whatsapp-compliance-gateway/internal/models"
	"whatsapp-compliance-gateway/internal/phone"

	"gorm.io/gorm"
)

// ProfileRepository persists consent profiles keyed by normalized number.
type ProfileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// ByNumber loads a profile with its category consents. Returns (nil, nil)
// when no profile exists for the number.
func (r *ProfileRepository) ByNumber(number string) (*models.Profile, error) {
	var p models.Profile
	err := r.db.Preload("CategoryConsents").
		Where("number = ?", phone.Normalize(number)).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetOrCreate resolves the profile for a contact number, creating a blank one
// when none exists yet. A non-empty profileName refreshes a stale name on the
// existing row. Safe to re-run: the unique index on number makes a concurrent
// create fall back to the existing row.
func (r *ProfileRepository) GetOrCreate(number, profileName string, accountID uint) (*models.Profile, error) {
	normalized := phone.Normalize(number)
	if normalized == "" {
		return nil, errors.New("empty phone number")
	}

	existing, err := r.ByNumber(normalized)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if profileName != "" && existing.ProfileName != profileName {
			if err := r.db.Model(existing).Update("profile_name", profileName).Error; err != nil {
				return nil, err
			}
			existing.ProfileName = profileName
		}
		return existing, nil
	}

	p := models.Profile{
		Number:        normalized,
		ProfileName:   profileName,
		AccountID:     accountID,
		ConsentStatus: models.ConsentUnknown,
	}
	if err := r.db.Create(&p).Error; err != nil {
		// Lost a race with a concurrent insert for the same number.
		if retry, rerr := r.ByNumber(normalized); rerr == nil && retry != nil {
			return retry, nil
		}
		return nil, err
	}
	return &p, nil
}

// Save persists the profile together with its category consent rows.
func (r *ProfileRepository) Save(p *models.Profile) error {
	return r.db.Session(&gorm.Session{FullSaveAssociations: true}).Save(p).Error
}
