package models

import (
	"time"
)

// Account represents a WhatsApp Business account (one phone number id).
type Account struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	Name                 string    `gorm:"type:varchar(255);not null;uniqueIndex" json:"name"`
	PhoneNumberID        string    `gorm:"type:varchar(64);index" json:"phone_number_id"`
	BusinessAccountID    string    `gorm:"type:varchar(64)" json:"business_account_id"`
	BaseURL              string    `gorm:"type:varchar(255);default:'https://graph.facebook.com'" json:"base_url"`
	APIVersion           string    `gorm:"type:varchar(16);default:'v19.0'" json:"api_version"`
	Token                string    `gorm:"type:text" json:"-"`
	WebhookVerifyToken   string    `gorm:"type:varchar(255)" json:"-"`
	Status               string    `gorm:"type:varchar(20);default:'Active'" json:"status"`
	IsDefaultIncoming    bool      `gorm:"default:false" json:"is_default_incoming"`
	IsDefaultOutgoing    bool      `gorm:"default:false" json:"is_default_outgoing"`
	AllowAutoReadReceipt bool      `gorm:"default:false" json:"allow_auto_read_receipt"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// ClientApp is a downstream application that sends and receives messages
// through this gateway. Inbound traffic is forwarded to the app that most
// recently messaged the contact.
type ClientApp struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	AppID             string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"app_id"`
	Name              string    `gorm:"type:varchar(255)" json:"name"`
	Enabled           bool      `gorm:"default:true" json:"enabled"`
	InboundWebhookURL string    `gorm:"type:text" json:"inbound_webhook_url"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ClientApp) TableName() string {
	return "client_apps"
}

// Consent status values stored on Profile.ConsentStatus and
// Message.ConsentStatusAtSend.
const (
	ConsentUnknown  = "Unknown"
	ConsentOptedIn  = "Opted In"
	ConsentOptedOut = "Opted Out"
	ConsentPartial  = "Partial"
	ConsentBypassed = "Bypassed"
)

// Profile holds the consent state for one phone number. Profiles are created
// lazily on the first consent event or send and are never deleted.
type Profile struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	Number           string           `gorm:"type:varchar(32);not null;uniqueIndex" json:"number"`
	ProfileName      string           `gorm:"type:varchar(255)" json:"profile_name"`
	AccountID        uint             `gorm:"index" json:"account_id"`
	IsOptedIn        bool             `gorm:"default:false" json:"is_opted_in"`
	IsOptedOut       bool             `gorm:"default:false" json:"is_opted_out"`
	DoNotContact     bool             `gorm:"default:false" json:"do_not_contact"`
	DoNotContactNote string           `gorm:"type:text" json:"do_not_contact_note"`
	ConsentStatus    string           `gorm:"type:varchar(20);default:'Unknown'" json:"consent_status"`
	OptedInAt        *time.Time       `json:"opted_in_at"`
	OptedInMethod    string           `gorm:"type:varchar(50)" json:"opted_in_method"`
	OptedInSource    string           `gorm:"type:varchar(255)" json:"opted_in_source"`
	OptedOutAt       *time.Time       `json:"opted_out_at"`
	OptedOutSource   string           `gorm:"type:varchar(50)" json:"opted_out_source"`
	OptedOutReason   string           `gorm:"type:varchar(255)" json:"opted_out_reason"`
	CategoryConsents []ProfileConsent `gorm:"foreignKey:ProfileID" json:"category_consents"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Profile) TableName() string {
	return "profiles"
}

// ProfileConsent is one per-category consent row under a Profile.
type ProfileConsent struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	ProfileID   uint       `gorm:"index;not null" json:"profile_id"`
	Category    string     `gorm:"type:varchar(100);not null" json:"category"`
	Consented   bool       `gorm:"default:false" json:"consented"`
	ConsentedAt *time.Time `json:"consented_at"`
	Method      string     `gorm:"type:varchar(50)" json:"method"`
}

func (ProfileConsent) TableName() string {
	return "profile_consents"
}

// ConsentLog action kinds.
const (
	ActionOptIn          = "Opt-In"
	ActionOptOut         = "Opt-Out"
	ActionCategoryOptIn  = "Category Opt-In"
	ActionCategoryOptOut = "Category Opt-Out"
	ActionConsentUpdated = "Consent Updated"
)

// ConsentLog sources.
const (
	SourceManual     = "Manual"
	SourceWebhook    = "Webhook"
	SourceAPI        = "API"
	SourceBulkImport = "Bulk Import"
	SourceSystem     = "System"
)

// ConsentLog is an append-only audit record. One row per consent mutation,
// even when the mutation does not change the end state.
type ConsentLog struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ProfileID       uint      `gorm:"index;not null" json:"profile_id"`
	PhoneNumber     string    `gorm:"type:varchar(32);index" json:"phone_number"`
	Action          string    `gorm:"type:varchar(30);not null" json:"action"`
	Category        string    `gorm:"type:varchar(100)" json:"category"`
	PreviousStatus  bool      `json:"previous_status"`
	NewStatus       bool      `json:"new_status"`
	Source          string    `gorm:"type:varchar(20)" json:"source"`
	SourceMessageID *uint     `json:"source_message_id"`
	Actor           string    `gorm:"type:varchar(255)" json:"actor"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ConsentLog) TableName() string {
	return "consent_logs"
}

// OptOutKeyword match types.
const (
	MatchExact      = "Exact"
	MatchContains   = "Contains"
	MatchStartsWith = "Starts With"
)

// OptOutKeyword actions.
const (
	KeywordFullOptOut     = "Full Opt-Out"
	KeywordCategoryOptOut = "Category Opt-Out"
)

// OptOutKeyword is a configured inbound keyword that triggers an opt-out.
// AccountID 0 applies the keyword to every account.
type OptOutKeyword struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	Keyword        string `gorm:"type:varchar(100);not null" json:"keyword"`
	CaseSensitive  bool   `gorm:"default:false" json:"case_sensitive"`
	MatchType      string `gorm:"type:varchar(20);default:'Exact'" json:"match_type"`
	Action         string `gorm:"type:varchar(30);default:'Full Opt-Out'" json:"action"`
	TargetCategory string `gorm:"type:varchar(100)" json:"target_category"`
	AccountID      uint   `gorm:"index;default:0" json:"account_id"`
	IsEnabled      bool   `gorm:"default:true" json:"is_enabled"`
}

func (OptOutKeyword) TableName() string {
	return "opt_out_keywords"
}

// ConsentCategory is a named consent scope (e.g. marketing, reminders).
type ConsentCategory struct {
	ID                      uint   `gorm:"primaryKey" json:"id"`
	Code                    string `gorm:"type:varchar(100);not null;uniqueIndex" json:"code"`
	Name                    string `gorm:"type:varchar(255)" json:"name"`
	Description             string `gorm:"type:text" json:"description"`
	IsEnabled               bool   `gorm:"default:true" json:"is_enabled"`
	DefaultOptIn            bool   `gorm:"default:false" json:"default_opt_in"`
	RequiresExplicitConsent bool   `gorm:"default:false" json:"requires_explicit_consent"`
}

func (ConsentCategory) TableName() string {
	return "consent_categories"
}

// ConversationRoute remembers which client app last sent an outgoing message
// to a contact on a given account. One row per (account, contact) pair,
// overwritten in place, never deleted.
type ConversationRoute struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	AccountID             uint      `gorm:"not null;uniqueIndex:idx_route_account_contact" json:"account_id"`
	ContactNumber         string    `gorm:"type:varchar(32);not null;uniqueIndex:idx_route_account_contact" json:"contact_number"`
	LastSourceApp         string    `gorm:"type:varchar(64)" json:"last_source_app"`
	LastOutgoingMessageID uint      `json:"last_outgoing_message_id"`
	LastOutgoingAt        time.Time `json:"last_outgoing_at"`
}

func (ConversationRoute) TableName() string {
	return "conversation_routes"
}

// Message directions and types.
const (
	DirectionIncoming = "Incoming"
	DirectionOutgoing = "Outgoing"

	MessageTypeManual   = "Manual"
	MessageTypeTemplate = "Template"
)

// Message delivery statuses as reported by the provider, plus local ones.
const (
	StatusReceived  = "received"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Message is one inbound or outbound WhatsApp message. ProviderMessageID is
// the Meta-assigned id and serves as the idempotency key: the ingestion
// pipeline never creates two rows for the same provider id.
type Message struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	ProviderMessageID   string    `gorm:"type:varchar(128);index" json:"provider_message_id"`
	Direction           string    `gorm:"type:varchar(10);not null" json:"direction"`
	From                string    `gorm:"column:from_number;type:varchar(32);index" json:"from"`
	To                  string    `gorm:"column:to_number;type:varchar(32);index" json:"to"`
	Body                string    `gorm:"type:text" json:"body"`
	ContentType         string    `gorm:"type:varchar(30)" json:"content_type"`
	MessageType         string    `gorm:"type:varchar(20);default:'Manual'" json:"message_type"`
	Status              string    `gorm:"type:varchar(20)" json:"status"`
	ConversationID      string    `gorm:"type:varchar(128)" json:"conversation_id"`
	ReplyToMessageID    string    `gorm:"type:varchar(128)" json:"reply_to_message_id"`
	IsReply             bool      `gorm:"default:false" json:"is_reply"`
	ProfileName         string    `gorm:"type:varchar(255)" json:"profile_name"`
	AccountID           uint      `gorm:"index" json:"account_id"`
	RoutedApp           string    `gorm:"type:varchar(64)" json:"routed_app"`
	SourceApp           string    `gorm:"type:varchar(64)" json:"source_app"`
	Template            string    `gorm:"type:varchar(255)" json:"template"`
	TemplateParameters  string    `gorm:"type:text" json:"template_parameters"`
	ConsentChecked      bool      `gorm:"default:false" json:"consent_checked"`
	ConsentStatusAtSend string    `gorm:"type:varchar(20)" json:"consent_status_at_send"`
	ConsentBypassReason string    `gorm:"type:varchar(255)" json:"consent_bypass_reason"`
	WithinWindow        bool      `gorm:"default:false" json:"within_window"`
	IsOptOutRequest     bool      `gorm:"default:false" json:"is_opt_out_request"`
	IsOptInRequest      bool      `gorm:"default:false" json:"is_opt_in_request"`
	FlowResponse        string    `gorm:"type:text" json:"flow_response"`
	MediaID             string    `gorm:"type:varchar(128)" json:"media_id"`
	MediaMimeType       string    `gorm:"type:varchar(100)" json:"media_mime_type"`
	MediaFilename       string    `gorm:"type:varchar(255)" json:"media_filename"`
	MediaSize           int64     `json:"media_size"`
	ErrorMessage        string    `gorm:"type:text" json:"error_message"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Message) TableName() string {
	return "messages"
}

// Consent check modes.
const (
	ModeStrict      = "Strict"
	ModeWarningOnly = "Warning Only"
	ModeDisabled    = "Disabled"
)

// ComplianceSettings is the singleton configuration row. The engine reads it
// through a cache; it is mutated only by the admin workflow.
type ComplianceSettings struct {
	ID                               uint   `gorm:"primaryKey" json:"id"`
	EnforceConsentCheck              bool   `gorm:"default:true" json:"enforce_consent_check"`
	ConsentCheckMode                 string `gorm:"type:varchar(20);default:'Strict'" json:"consent_check_mode"`
	AllowTransactionalWithoutConsent bool   `gorm:"default:false" json:"allow_transactional_without_consent"`
	Enforce24HourWindow              bool   `gorm:"default:true" json:"enforce_24_hour_window"`
	WindowHours                      int    `gorm:"default:24" json:"window_hours"`
	AllowReplyOutsideWindow          bool   `gorm:"default:false" json:"allow_reply_outside_window"`
	EnableOptOutDetection            bool   `gorm:"default:true" json:"enable_opt_out_detection"`
	EnableOptInDetection             bool   `gorm:"default:true" json:"enable_opt_in_detection"`
	OptInKeywords                    string `gorm:"type:text" json:"opt_in_keywords"`
	IncludeUnsubscribeInMarketing    bool   `gorm:"default:true" json:"include_unsubscribe_in_marketing"`
	DefaultUnsubscribeText           string `gorm:"type:text" json:"default_unsubscribe_text"`
	SendOptOutConfirmation           bool   `gorm:"default:false" json:"send_opt_out_confirmation"`
	OptOutConfirmationMessage        string `gorm:"type:text" json:"opt_out_confirmation_message"`
	OptOutConfirmationTemplate       string `gorm:"type:varchar(255)" json:"opt_out_confirmation_template"`
	SendOptInConfirmation            bool   `gorm:"default:false" json:"send_opt_in_confirmation"`
	OptInConfirmationMessage         string `gorm:"type:text" json:"opt_in_confirmation_message"`
	PrivacyPolicyURL                 string `gorm:"type:text" json:"privacy_policy_url"`
	TermsOfServiceURL                string `gorm:"type:text" json:"terms_of_service_url"`
}

func (ComplianceSettings) TableName() string {
	return "compliance_settings"
}

// Template categories and statuses used by compliance checks.
const (
	CategoryMarketing = "MARKETING"

	TemplateApproved = "APPROVED"
)

// Template is a locally known, pre-approved message template. Template CRUD
// and provider sync live outside this service; the engine only reads
// templates to enforce send rules and applies approval-status webhooks.
type Template struct {
	ID                      uint   `gorm:"primaryKey" json:"id"`
	ProviderTemplateID      string `gorm:"type:varchar(128);index" json:"provider_template_id"`
	Name                    string `gorm:"type:varchar(255);not null;uniqueIndex" json:"name"`
	ActualName              string `gorm:"type:varchar(255)" json:"actual_name"`
	LanguageCode            string `gorm:"type:varchar(16);default:'en'" json:"language_code"`
	Category                string `gorm:"type:varchar(30)" json:"category"`
	Status                  string `gorm:"type:varchar(30)" json:"status"`
	Footer                  string `gorm:"type:text" json:"footer"`
	UnsubscribeText         string `gorm:"type:text" json:"unsubscribe_text"`
	IsTransactional         bool   `gorm:"default:false" json:"is_transactional"`
	RequiredConsentCategory string `gorm:"type:varchar(100)" json:"required_consent_category"`
	RequiresOptIn           bool   `gorm:"default:false" json:"requires_opt_in"`
	HeaderType              string `gorm:"type:varchar(20)" json:"header_type"`
	HasParameters           bool   `gorm:"default:false" json:"has_parameters"`
}

func (Template) TableName() string {
	return "templates"
}

// WebhookLog is a best-effort raw copy of inbound provider payloads, kept
// for diagnostics only.
type WebhookLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Source    string    `gorm:"type:varchar(50)" json:"source"`
	Payload   string    `gorm:"type:text" json:"payload"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (WebhookLog) TableName() string {
	return "webhook_logs"
}
