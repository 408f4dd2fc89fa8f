package compliance

import (
	"fmt"
	"strings"
	"time"

	"whatsapp-compliance-gateway/internal/models"
	"whatsapp-compliance-gateway/internal/phone"
)

// Result of a consent check before sending.
type Result struct {
	Allowed bool
	Status  string // Opted In | Opted Out | Unknown | Bypassed
	Reason  string
}

// ProfileSource looks up consent profiles by normalized number. A missing
// profile is (nil, nil), not an error.
type ProfileSource interface {
	ByNumber(number string) (*models.Profile, error)
}

// MessageSource serves the conversation-window check.
type MessageSource interface {
	LastIncomingAt(number string, accountID uint) (*time.Time, error)
}

// KeywordSource serves configured opt-out keywords in match order.
type KeywordSource interface {
	EnabledOptOutKeywords(accountID uint) ([]models.OptOutKeyword, error)
}

// Engine is the compliance rule engine. All methods are decisions over
// injected state; the engine itself has no side effects.
type Engine struct {
	settings *SettingsCache
	profiles ProfileSource
	messages MessageSource
	keywords KeywordSource
	now      func() time.Time
}

func NewEngine(settings *SettingsCache, profiles ProfileSource, messages MessageSource, keywords KeywordSource) *Engine {
	return &Engine{
		settings: settings,
		profiles: profiles,
		messages: messages,
		keywords: keywords,
		now:      time.Now,
	}
}

// SetClock overrides the engine clock. Tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// VerifyConsentForSend decides whether an outbound message to phoneNumber is
// permitted. First matching rule wins:
//
//  1. enforcement disabled entirely        -> allow, Bypassed
//  2. number cannot be normalized          -> allow, Unknown (cannot evaluate)
//  3. no profile                           -> transactional bypass / mode
//  4. do_not_contact                       -> deny, Opted Out (absolute)
//  5. opted out                            -> deny, Opted Out
//  6. category explicitly not consented    -> deny, Opted Out
//  7. opted in                             -> allow, Opted In
//  8. unknown/partial                      -> transactional bypass / mode
func (e *Engine) VerifyConsentForSend(phoneNumber, consentCategory string, isTransactional bool) (Result, error) {
	settings, err := e.settings.Settings()
	if err != nil {
		return Result{}, err
	}

	if settings.ConsentCheckMode == models.ModeDisabled {
		return Result{true, models.ConsentBypassed, "Consent check disabled"}, nil
	}
	if !settings.EnforceConsentCheck {
		return Result{true, models.ConsentBypassed, "Consent enforcement off"}, nil
	}

	number := phone.Normalize(phoneNumber)
	if number == "" {
		return Result{true, models.ConsentUnknown, "No phone number"}, nil
	}

	profile, err := e.profiles.ByNumber(number)
	if err != nil {
		return Result{}, err
	}

	if profile == nil {
		if isTransactional && settings.AllowTransactionalWithoutConsent {
			return Result{true, models.ConsentBypassed, "Transactional bypass"}, nil
		}
		if settings.ConsentCheckMode == models.ModeWarningOnly {
			return Result{true, models.ConsentUnknown, "No profile found"}, nil
		}
		return Result{false, models.ConsentUnknown, "No consent profile found for this number"}, nil
	}

	if profile.DoNotContact {
		return Result{false, models.ConsentOptedOut, "Contact is marked Do Not Contact"}, nil
	}

	if profile.IsOptedOut {
		return Result{false, models.ConsentOptedOut, "Contact has opted out"}, nil
	}

	if consentCategory != "" {
		for _, row := range profile.CategoryConsents {
			if row.Category == consentCategory && !row.Consented {
				return Result{
					false, models.ConsentOptedOut,
					fmt.Sprintf("Contact opted out of category: %s", consentCategory),
				}, nil
			}
		}
	}

	if profile.IsOptedIn {
		return Result{true, models.ConsentOptedIn, ""}, nil
	}

	// Profile exists but consent status is Unknown/Partial.
	if isTransactional && settings.AllowTransactionalWithoutConsent {
		return Result{true, models.ConsentBypassed, "Transactional bypass"}, nil
	}
	if settings.ConsentCheckMode == models.ModeWarningOnly {
		return Result{true, models.ConsentUnknown, "Consent not confirmed"}, nil
	}
	return Result{false, models.ConsentUnknown, "Contact has not opted in"}, nil
}

// IsWithinConversationWindow reports whether a free-form reply to phoneNumber
// is still permitted: the provider allows non-template messages only within
// the configured window (default 24h) after the contact's last incoming
// message on that account.
func (e *Engine) IsWithinConversationWindow(phoneNumber string, accountID uint) (bool, string, error) {
	settings, err := e.settings.Settings()
	if err != nil {
		return false, "", err
	}

	if !settings.Enforce24HourWindow {
		return true, "24-hour window enforcement disabled", nil
	}

	number := phone.Normalize(phoneNumber)
	if number == "" {
		return false, "No phone number", nil
	}

	windowHours := settings.WindowHours
	if windowHours <= 0 {
		windowHours = 24
	}

	lastIncoming, err := e.messages.LastIncomingAt(number, accountID)
	if err != nil {
		return false, "", err
	}
	if lastIncoming == nil {
		return false, "No incoming message found from this contact", nil
	}

	hoursSince := e.now().Sub(*lastIncoming).Hours()
	if hoursSince <= float64(windowHours) {
		return true, "", nil
	}
	return false, fmt.Sprintf("Last incoming message was %.1fh ago (window: %dh)",
		hoursSince, windowHours), nil
}

// EnforceMarketingTemplateCompliance requires marketing templates to carry
// unsubscribe instructions in their footer. Non-marketing templates pass.
func (e *Engine) EnforceMarketingTemplateCompliance(tmpl *models.Template) error {
	if tmpl == nil || tmpl.Category != models.CategoryMarketing {
		return nil
	}

	settings, err := e.settings.Settings()
	if err != nil {
		return err
	}
	if !settings.IncludeUnsubscribeInMarketing {
		return nil
	}

	unsubscribe := strings.TrimSpace(tmpl.UnsubscribeText)
	if unsubscribe == "" {
		unsubscribe = strings.TrimSpace(settings.DefaultUnsubscribeText)
	}
	if unsubscribe == "" {
		return &ComplianceError{Reason: "Unsubscribe text is required for marketing templates. " +
			"Set it on the template or in Compliance Settings."}
	}

	if !strings.Contains(strings.TrimSpace(tmpl.Footer), unsubscribe) {
		return &ComplianceError{Reason: "Marketing templates must include unsubscribe text " +
			"in the footer. Please update the template."}
	}
	return nil
}

// EnforceTemplateSendRules checks template approval status and, for templates
// flagged as requiring opt-in, demands an explicitly opted-in recipient.
func (e *Engine) EnforceTemplateSendRules(tmpl *models.Template, toNumber string) error {
	if tmpl == nil {
		return &ComplianceError{Reason: "Template is required to send a template message."}
	}

	if strings.ToUpper(strings.TrimSpace(tmpl.Status)) != models.TemplateApproved {
		status := tmpl.Status
		if status == "" {
			status = "Unknown"
		}
		return &ComplianceError{Reason: fmt.Sprintf(
			"Template is not approved for sending (status: %s).", status)}
	}

	if !tmpl.RequiresOptIn {
		return nil
	}

	number := phone.Normalize(toNumber)
	if number == "" {
		return &ComplianceError{Reason: "Cannot verify opt-in without a recipient number."}
	}

	profile, err := e.profiles.ByNumber(number)
	if err != nil {
		return err
	}
	if profile == nil {
		return &ConsentError{Status: models.ConsentUnknown,
			Reason: "Recipient has not opted in to receive this template."}
	}
	if profile.DoNotContact || profile.IsOptedOut {
		return &ConsentError{Status: models.ConsentOptedOut,
			Reason: "Recipient has opted out. Cannot send this template."}
	}
	if !profile.IsOptedIn {
		return &ConsentError{Status: models.ConsentUnknown,
			Reason: "Recipient has not explicitly opted in to receive this template."}
	}
	return nil
}

// CheckOptOutKeyword matches messageText against the configured opt-out
// keywords for the account (0 checks only globally scoped keywords). Returns
// the first matching rule in configuration order, or nil.
func (e *Engine) CheckOptOutKeyword(messageText string, accountID uint) (*models.OptOutKeyword, error) {
	if messageText == "" {
		return nil, nil
	}

	settings, err := e.settings.Settings()
	if err != nil {
		return nil, err
	}
	if !settings.EnableOptOutDetection {
		return nil, nil
	}

	keywords, err := e.keywords.EnabledOptOutKeywords(accountID)
	if err != nil {
		return nil, err
	}

	for i := range keywords {
		kw := &keywords[i]
		keyword := kw.Keyword
		text := messageText
		if !kw.CaseSensitive {
			keyword = strings.ToLower(keyword)
			text = strings.ToLower(text)
		}
		text = strings.TrimSpace(text)

		var matched bool
		switch kw.MatchType {
		case models.MatchContains:
			matched = strings.Contains(text, keyword)
		case models.MatchStartsWith:
			matched = strings.HasPrefix(text, keyword)
		default: // Exact
			matched = text == keyword
		}
		if matched {
			return kw, nil
		}
	}
	return nil, nil
}

// CheckOptInKeyword reports whether messageText exactly matches one of the
// comma-separated opt-in keywords (case-insensitive).
func (e *Engine) CheckOptInKeyword(messageText string) (bool, error) {
	if messageText == "" {
		return false, nil
	}

	settings, err := e.settings.Settings()
	if err != nil {
		return false, err
	}
	if !settings.EnableOptInDetection {
		return false, nil
	}

	text := strings.ToLower(strings.TrimSpace(messageText))
	for _, word := range strings.Split(settings.OptInKeywords, ",") {
		word = strings.ToLower(strings.TrimSpace(word))
		if word != "" && text == word {
			return true, nil
		}
	}
	return false, nil
}
