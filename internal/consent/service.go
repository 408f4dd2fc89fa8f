package consent

import (
	"log"
	"strings"
	"time"

	"whatsapp-compliance-gateway/internal/compliance"
	"whatsapp-compliance-gateway/internal/models"
	"whatsapp-compliance-gateway/internal/phone"
)

// ProfileStore is the slice of profile persistence the service needs.
type ProfileStore interface {
	GetOrCreate(number, profileName string, accountID uint) (*models.Profile, error)
	Save(p *models.Profile) error
}

// LogStore appends audit rows.
type LogStore interface {
	Append(entry *models.ConsentLog) error
}

// MessageTagger marks the inbound message that triggered a consent change.
type MessageTagger interface {
	MarkOptOutRequest(id uint) error
	MarkOptInRequest(id uint) error
}

// TemplateSource resolves confirmation templates by name.
type TemplateSource interface {
	ByName(name string) (*models.Template, error)
}

// ConfirmationSender transmits confirmation messages. Confirmations go
// straight to the provider, bypassing the outbound orchestrator, so that the
// confirmation for an opt-out is not itself blocked by the opt-out.
type ConfirmationSender interface {
	SendPlainText(account *models.Account, to, body string) error
	SendBareTemplate(account *models.Account, to string, tmpl *models.Template) error
}

// Service applies opt-in/opt-out transitions to profiles. Every invocation
// appends an audit row even when the end state does not change: the log is an
// event stream, not a state snapshot.
type Service struct {
	profiles  ProfileStore
	logs      LogStore
	messages  MessageTagger
	settings  *compliance.SettingsCache
	templates TemplateSource
	sender    ConfirmationSender
	now       func() time.Time
}

func NewService(profiles ProfileStore, logs LogStore, messages MessageTagger,
	settings *compliance.SettingsCache, templates TemplateSource, sender ConfirmationSender) *Service {
	return &Service{
		profiles:  profiles,
		logs:      logs,
		messages:  messages,
		settings:  settings,
		templates: templates,
		sender:    sender,
		now:       time.Now,
	}
}

// SetClock overrides the service clock. Tests only.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// ProcessOptOut marks a contact as opted out and logs the transition.
// A matched keyword rule with a Category Opt-Out action and a target category
// clears only that category; a Category Opt-Out rule without a target
// category falls back to a full opt-out (the stricter interpretation).
// messageID, when non-zero, tags the triggering inbound message.
func (s *Service) ProcessOptOut(contactNumber string, account *models.Account,
	messageID uint, match *models.OptOutKeyword, source, actor string) error {

	var accountID uint
	if account != nil {
		accountID = account.ID
	}
	profile, err := s.profiles.GetOrCreate(contactNumber, "", accountID)
	if err != nil {
		return err
	}

	if match != nil && match.Action == models.KeywordCategoryOptOut && match.TargetCategory != "" {
		if err := s.categoryOptOut(profile, match.TargetCategory, messageID, source, actor); err != nil {
			return err
		}
	} else {
		previous := profile.IsOptedOut

		now := s.now()
		profile.IsOptedOut = true
		profile.IsOptedIn = false
		profile.OptedOutAt = &now
		profile.ConsentStatus = models.ConsentOptedOut
		if match != nil {
			profile.OptedOutSource = "Keyword"
			profile.OptedOutReason = "Keyword: " + match.Keyword
		} else {
			profile.OptedOutSource = "User Request"
			profile.OptedOutReason = ""
		}
		if err := s.profiles.Save(profile); err != nil {
			return err
		}

		if err := s.appendLog(profile, models.ActionOptOut, "", previous, true, source, messageID, actor); err != nil {
			return err
		}
	}

	if messageID != 0 {
		if err := s.messages.MarkOptOutRequest(messageID); err != nil {
			log.Printf("Failed to tag opt-out request on message %d: %v", messageID, err)
		}
	}
	return nil
}

// categoryOptOut clears one category's consent. When every category row is
// non-consented afterwards (vacuously true for a profile with no rows), the
// profile escalates to a full opt-out; otherwise it becomes Partial.
func (s *Service) categoryOptOut(profile *models.Profile, category string,
	messageID uint, source, actor string) error {

	now := s.now()
	for i := range profile.CategoryConsents {
		if profile.CategoryConsents[i].Category == category {
			profile.CategoryConsents[i].Consented = false
			profile.CategoryConsents[i].ConsentedAt = &now
			break
		}
	}

	allOut := true
	for _, row := range profile.CategoryConsents {
		if row.Consented {
			allOut = false
			break
		}
	}

	if allOut {
		profile.ConsentStatus = models.ConsentOptedOut
		profile.IsOptedOut = true
		profile.IsOptedIn = false
	} else {
		profile.ConsentStatus = models.ConsentPartial
	}
	if err := s.profiles.Save(profile); err != nil {
		return err
	}

	return s.appendLog(profile, models.ActionCategoryOptOut, category, true, false, source, messageID, actor)
}

// ProcessOptIn marks a contact as opted in, clears opt-out state, and logs
// the transition. messageID, when non-zero, tags the triggering message.
func (s *Service) ProcessOptIn(contactNumber string, account *models.Account,
	messageID uint, source, actor string) error {

	var accountID uint
	if account != nil {
		accountID = account.ID
	}
	profile, err := s.profiles.GetOrCreate(contactNumber, "", accountID)
	if err != nil {
		return err
	}

	previous := profile.IsOptedIn

	now := s.now()
	profile.IsOptedIn = true
	profile.IsOptedOut = false
	profile.OptedInAt = &now
	if source == models.SourceWebhook {
		profile.OptedInMethod = "WhatsApp Reply"
	} else {
		profile.OptedInMethod = "API"
	}
	profile.ConsentStatus = models.ConsentOptedIn
	profile.OptedOutAt = nil
	profile.OptedOutReason = ""
	profile.OptedOutSource = ""
	if err := s.profiles.Save(profile); err != nil {
		return err
	}

	if err := s.appendLog(profile, models.ActionOptIn, "", previous, true, source, messageID, actor); err != nil {
		return err
	}

	if messageID != 0 {
		if err := s.messages.MarkOptInRequest(messageID); err != nil {
			log.Printf("Failed to tag opt-in request on message %d: %v", messageID, err)
		}
	}
	return nil
}

func (s *Service) appendLog(profile *models.Profile, action, category string,
	previous, next bool, source string, messageID uint, actor string) error {

	entry := &models.ConsentLog{
		ProfileID:      profile.ID,
		PhoneNumber:    phone.Normalize(profile.Number),
		Action:         action,
		Category:       category,
		PreviousStatus: previous,
		NewStatus:      next,
		Source:         source,
		Actor:          actor,
	}
	if messageID != 0 {
		id := messageID
		entry.SourceMessageID = &id
	}
	return s.logs.Append(entry)
}

// SendOptOutConfirmation sends the configured opt-out confirmation, either a
// parameterless approved template or a plain text message. Failures are
// logged and swallowed: a missing confirmation never fails the opt-out.
func (s *Service) SendOptOutConfirmation(contactNumber string, account *models.Account) {
	settings, err := s.settings.Settings()
	if err != nil || !settings.SendOptOutConfirmation || account == nil {
		return
	}

	if name := strings.TrimSpace(settings.OptOutConfirmationTemplate); name != "" {
		tmpl, err := s.templates.ByName(name)
		if err != nil || tmpl == nil {
			log.Printf("Opt-out confirmation template %q not found", name)
			return
		}
		if tmpl.HasParameters {
			log.Printf("Opt-out confirmation template %q must not require parameters", name)
			return
		}
		if tmpl.HeaderType == "IMAGE" || tmpl.HeaderType == "DOCUMENT" {
			log.Printf("Opt-out confirmation template %q must not require media headers", name)
			return
		}
		if err := s.sender.SendBareTemplate(account, contactNumber, tmpl); err != nil {
			log.Printf("Failed to send opt-out confirmation template to %s: %v", contactNumber, err)
		}
		return
	}

	body := strings.TrimSpace(settings.OptOutConfirmationMessage)
	if body == "" {
		return
	}
	if err := s.sender.SendPlainText(account, contactNumber, body); err != nil {
		log.Printf("Failed to send opt-out confirmation to %s: %v", contactNumber, err)
	}
}

// SendOptInConfirmation sends the configured opt-in confirmation text.
// Failures are logged and swallowed.
func (s *Service) SendOptInConfirmation(contactNumber string, account *models.Account) {
	settings, err := s.settings.Settings()
	if err != nil || !settings.SendOptInConfirmation || account == nil {
		return
	}

	body := strings.TrimSpace(settings.OptInConfirmationMessage)
	if body == "" {
		return
	}
	if err := s.sender.SendPlainText(account, contactNumber, body); err != nil {
		log.Printf("Failed to send opt-in confirmation to %s: %v", contactNumber, err)
	}
}
