package store

import (
	"errors"

	"whatsapp-compliance-gateway/internal/models"

	"gorm.io/gorm"
)

// Stores bundles all repositories over one database handle.
type Stores struct {
	Profiles    *ProfileRepository
	Messages    *MessageRepository
	Routes      *RouteRepository
	Accounts    *AccountRepository
	ClientApps  *ClientAppRepository
	Keywords    *KeywordRepository
	ConsentLogs *ConsentLogRepository
	Settings    *SettingsRepository
	Templates   *TemplateRepository
	WebhookLogs *WebhookLogRepository
}

func New(db *gorm.DB) *Stores {
	return &Stores{
		Profiles:    NewProfileRepository(db),
		Messages:    NewMessageRepository(db),
		Routes:      NewRouteRepository(db),
		Accounts:    NewAccountRepository(db),
		ClientApps:  NewClientAppRepository(db),
		Keywords:    NewKeywordRepository(db),
		ConsentLogs: NewConsentLogRepository(db),
		Settings:    NewSettingsRepository(db),
		Templates:   NewTemplateRepository(db),
		WebhookLogs: NewWebhookLogRepository(db),
	}
}

// KeywordRepository serves opt-out keyword configuration.
type KeywordRepository struct {
	db *gorm.DB
}

func NewKeywordRepository(db *gorm.DB) *KeywordRepository {
	return &KeywordRepository{db: db}
}

func (r *KeywordRepository) Create(kw *models.OptOutKeyword) error {
	return r.db.Create(kw).Error
}

// EnabledOptOutKeywords returns enabled keywords scoped to the account or to
// all accounts (AccountID 0), in configuration order. First match wins, so
// the order here is the match order.
func (r *KeywordRepository) EnabledOptOutKeywords(accountID uint) ([]models.OptOutKeyword, error) {
	var kws []models.OptOutKeyword
	err := r.db.Where("is_enabled = ? AND account_id IN ?", true, []uint{0, accountID}).
		Order("id asc").
		Find(&kws).Error
	return kws, err
}

// ConsentLogRepository appends audit rows. The log is an event stream:
// append-only, never updated or deduplicated.
type ConsentLogRepository struct {
	db *gorm.DB
}

func NewConsentLogRepository(db *gorm.DB) *ConsentLogRepository {
	return &ConsentLogRepository{db: db}
}

func (r *ConsentLogRepository) Append(entry *models.ConsentLog) error {
	return r.db.Create(entry).Error
}

func (r *ConsentLogRepository) ByProfile(profileID uint) ([]models.ConsentLog, error) {
	var logs []models.ConsentLog
	err := r.db.Where("profile_id = ?", profileID).Order("id asc").Find(&logs).Error
	return logs, err
}

// SettingsRepository reads and writes the singleton compliance settings row.
type SettingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) Settings() (*models.ComplianceSettings, error) {
	var s models.ComplianceSettings
	err := r.db.Order("id asc").First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Unconfigured installation behaves with defaults.
		return &models.ComplianceSettings{
			EnforceConsentCheck: true,
			ConsentCheckMode:    models.ModeStrict,
			Enforce24HourWindow: true,
			WindowHours:         24,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SettingsRepository) Save(s *models.ComplianceSettings) error {
	return r.db.Save(s).Error
}

// AccountRepository resolves WhatsApp Business accounts.
type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Save(a *models.Account) error {
	return r.db.Save(a).Error
}

func (r *AccountRepository) ByID(id uint) (*models.Account, error) {
	var a models.Account
	err := r.db.First(&a, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ByPhoneNumberID resolves the account owning a webhook delivery.
func (r *AccountRepository) ByPhoneNumberID(phoneNumberID string) (*models.Account, error) {
	if phoneNumberID == "" {
		return nil, nil
	}
	var a models.Account
	err := r.db.Where("phone_number_id = ?", phoneNumberID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ByVerifyToken matches a webhook verification token against all accounts.
func (r *AccountRepository) ByVerifyToken(token string) (*models.Account, error) {
	if token == "" {
		return nil, nil
	}
	var a models.Account
	err := r.db.Where("webhook_verify_token = ?", token).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepository) DefaultOutgoing() (*models.Account, error) {
	var a models.Account
	err := r.db.Where("is_default_outgoing = ?", true).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ClientAppRepository resolves downstream client applications.
type ClientAppRepository struct {
	db *gorm.DB
}

func NewClientAppRepository(db *gorm.DB) *ClientAppRepository {
	return &ClientAppRepository{db: db}
}

func (r *ClientAppRepository) ByAppID(appID string) (*models.ClientApp, error) {
	if appID == "" {
		return nil, nil
	}
	var app models.ClientApp
	err := r.db.Where("app_id = ?", appID).First(&app).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// TemplateRepository reads locally synced templates.
type TemplateRepository struct {
	db *gorm.DB
}

func NewTemplateRepository(db *gorm.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

func (r *TemplateRepository) Create(t *models.Template) error {
	return r.db.Create(t).Error
}

func (r *TemplateRepository) ByName(name string) (*models.Template, error) {
	var t models.Template
	err := r.db.Where("name = ?", name).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateStatusByProviderID applies a template-approval webhook. Unknown
// template ids are ignored.
func (r *TemplateRepository) UpdateStatusByProviderID(providerTemplateID, status string) error {
	return r.db.Model(&models.Template{}).
		Where("provider_template_id = ?", providerTemplateID).
		Update("status", status).Error
}

// WebhookLogRepository stores raw payload copies for diagnostics.
type WebhookLogRepository struct {
	db *gorm.DB
}

func NewWebhookLogRepository(db *gorm.DB) *WebhookLogRepository {
	return &WebhookLogRepository{db: db}
}

func (r *WebhookLogRepository) Append(source, payload string) error {
	return r.db.Create(&models.WebhookLog{Source: source, Payload: payload}).Error
}
