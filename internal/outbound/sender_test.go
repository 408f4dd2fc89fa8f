package outbound

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-compliance-gateway/internal/compliance"
	"whatsapp-compliance-gateway/internal/models"
	"whatsapp-compliance-gateway/internal/whatsapp"
)

type staticSettings struct {
	settings *models.ComplianceSettings
}

func (s *staticSettings) Settings() (*models.ComplianceSettings, error) {
	return s.settings, nil
}

type fakeProfiles struct {
	byNumber map[string]*models.Profile
}

func (f *fakeProfiles) ByNumber(number string) (*models.Profile, error) {
	return f.byNumber[number], nil
}

type fakeMessageTimes struct {
	lastIncoming map[string]*time.Time
}

func (f *fakeMessageTimes) LastIncomingAt(number string, accountID uint) (*time.Time, error) {
	return f.lastIncoming[number], nil
}

type noKeywords struct{}

func (noKeywords) EnabledOptOutKeywords(accountID uint) ([]models.OptOutKeyword, error) {
	return nil, nil
}

type fakeAccounts struct {
	accounts map[uint]*models.Account
	fallback *models.Account
}

func (f *fakeAccounts) ByID(id uint) (*models.Account, error) {
	return f.accounts[id], nil
}

func (f *fakeAccounts) DefaultOutgoing() (*models.Account, error) {
	return f.fallback, nil
}

type fakeTemplates struct {
	byName map[string]*models.Template
}

func (f *fakeTemplates) ByName(name string) (*models.Template, error) {
	return f.byName[name], nil
}

type fakeMessageStore struct {
	created []*models.Message
}

func (f *fakeMessageStore) Create(m *models.Message) error {
	m.ID = uint(len(f.created) + 1)
	f.created = append(f.created, m)
	return nil
}

type fakeRoutes struct {
	apps map[string]string
}

func (f *fakeRoutes) SetLastSenderApp(accountID uint, toNumber, sourceApp string, messageID uint) error {
	if f.apps == nil {
		f.apps = make(map[string]string)
	}
	f.apps[toNumber] = sourceApp
	return nil
}

type fakeProvider struct {
	sent    []whatsapp.GenericMessage
	id      string
	sendErr error
}

func (f *fakeProvider) SendMessage(account *models.Account, msg whatsapp.GenericMessage) (string, error) {
	f.sent = append(f.sent, msg)
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return f.id, nil
}

type senderFixture struct {
	sender   *Sender
	provider *fakeProvider
	messages *fakeMessageStore
	routes   *fakeRoutes
}

func newSenderFixture(settings *models.ComplianceSettings, profiles map[string]*models.Profile,
	lastIncoming map[string]*time.Time, templates map[string]*models.Template) *senderFixture {

	if settings == nil {
		settings = &models.ComplianceSettings{
			EnforceConsentCheck: true,
			ConsentCheckMode:    models.ModeStrict,
			Enforce24HourWindow: true,
			WindowHours:         24,
		}
	}
	cache := compliance.NewSettingsCache(&staticSettings{settings: settings})
	engine := compliance.NewEngine(cache,
		&fakeProfiles{byNumber: profiles},
		&fakeMessageTimes{lastIncoming: lastIncoming},
		noKeywords{})

	f := &senderFixture{
		provider: &fakeProvider{id: "wamid.sent.1"},
		messages: &fakeMessageStore{},
		routes:   &fakeRoutes{},
	}
	accounts := &fakeAccounts{
		accounts: map[uint]*models.Account{1: {ID: 1, Name: "Main", PhoneNumberID: "12345"}},
		fallback: &models.Account{ID: 1, Name: "Main", PhoneNumberID: "12345"},
	}
	f.sender = NewSender(engine, cache, accounts, &fakeTemplates{byName: templates},
		f.messages, f.routes, f.provider)
	return f
}

func optedInProfile(number string) map[string]*models.Profile {
	return map[string]*models.Profile{
		number: {Number: number, IsOptedIn: true, ConsentStatus: models.ConsentOptedIn},
	}
}

func recentIncoming(number string) map[string]*time.Time {
	at := time.Now().Add(-1 * time.Hour)
	return map[string]*time.Time{number: &at}
}

func TestSendDeniedByConsentNeverTransmits(t *testing.T) {
	f := newSenderFixture(nil, nil, nil, nil)

	msg, err := f.sender.Send(SendRequest{To: "15550001111", ContentType: "text", Body: "hi"})

	var consentErr *compliance.ConsentError
	require.ErrorAs(t, err, &consentErr)
	assert.Equal(t, models.ConsentUnknown, consentErr.Status)
	assert.Nil(t, msg)
	assert.Empty(t, f.provider.sent)
	assert.Empty(t, f.messages.created)
}

func TestSendTextWithinWindow(t *testing.T) {
	f := newSenderFixture(nil, optedInProfile("15550001111"), recentIncoming("15550001111"), nil)

	msg, err := f.sender.Send(SendRequest{
		To:          "+1 555 000 1111",
		ContentType: "text",
		Body:        "your order shipped",
		SourceApp:   "crm",
	})

	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.Equal(t, "wamid.sent.1", msg.ProviderMessageID)
	assert.Equal(t, models.DirectionOutgoing, msg.Direction)
	assert.Equal(t, "15550001111", msg.To)
	assert.True(t, msg.ConsentChecked)
	assert.Equal(t, models.ConsentOptedIn, msg.ConsentStatusAtSend)
	assert.True(t, msg.WithinWindow)

	require.Len(t, f.provider.sent, 1)
	payload := f.provider.sent[0]
	assert.Equal(t, "whatsapp", payload.MessagingProduct)
	assert.Equal(t, "text", payload.Type)
	require.NotNil(t, payload.Text)
	assert.Equal(t, "your order shipped", payload.Text.Body)

	assert.Equal(t, "crm", f.routes.apps["15550001111"])
}

func TestSendOutsideWindowBlocked(t *testing.T) {
	stale := time.Now().Add(-25 * time.Hour)
	f := newSenderFixture(nil, optedInProfile("15550001111"),
		map[string]*time.Time{"15550001111": &stale}, nil)

	_, err := f.sender.Send(SendRequest{To: "15550001111", ContentType: "text", Body: "hi"})

	var windowErr *compliance.WindowError
	require.ErrorAs(t, err, &windowErr)
	assert.Empty(t, f.provider.sent)
}

func TestSendOutsideWindowAllowedWhenConfigured(t *testing.T) {
	settings := &models.ComplianceSettings{
		EnforceConsentCheck:     true,
		ConsentCheckMode:        models.ModeStrict,
		Enforce24HourWindow:     true,
		WindowHours:             24,
		AllowReplyOutsideWindow: true,
	}
	f := newSenderFixture(settings, optedInProfile("15550001111"), nil, nil)

	msg, err := f.sender.Send(SendRequest{To: "15550001111", ContentType: "text", Body: "hi"})

	require.NoError(t, err)
	assert.False(t, msg.WithinWindow)
	assert.Equal(t, models.StatusSent, msg.Status)
}

func TestSendTemplateBypassesWindow(t *testing.T) {
	templates := map[string]*models.Template{
		"order_update": {
			Name:         "order_update",
			ActualName:   "order_update_v2",
			LanguageCode: "en",
			Category:     "UTILITY",
			Status:       models.TemplateApproved,
		},
	}
	// No incoming messages at all: a free-form send would be blocked.
	f := newSenderFixture(nil, optedInProfile("15550001111"), nil, templates)

	msg, err := f.sender.Send(SendRequest{
		To:             "15550001111",
		TemplateName:   "order_update",
		TemplateParams: []string{"ORD-1", "shipped"},
	})

	require.NoError(t, err)
	assert.Equal(t, models.MessageTypeTemplate, msg.MessageType)
	assert.Equal(t, "order_update", msg.Template)
	assert.Contains(t, msg.TemplateParameters, "ORD-1")

	require.Len(t, f.provider.sent, 1)
	payload := f.provider.sent[0]
	assert.Equal(t, "template", payload.Type)
	require.NotNil(t, payload.Template)
	assert.Equal(t, "order_update_v2", payload.Template.Name)
	require.Len(t, payload.Template.Components, 1)
	assert.Len(t, payload.Template.Components[0].Parameters, 2)
}

func TestSendMarketingTemplateWithoutFooterBlocked(t *testing.T) {
	settings := &models.ComplianceSettings{
		EnforceConsentCheck:           true,
		ConsentCheckMode:              models.ModeStrict,
		Enforce24HourWindow:           true,
		WindowHours:                   24,
		IncludeUnsubscribeInMarketing: true,
		DefaultUnsubscribeText:        "Reply STOP to unsubscribe",
	}
	templates := map[string]*models.Template{
		"summer_sale": {
			Name:     "summer_sale",
			Category: models.CategoryMarketing,
			Status:   models.TemplateApproved,
			Footer:   "See you soon",
		},
	}
	f := newSenderFixture(settings, optedInProfile("15550001111"), nil, templates)

	_, err := f.sender.Send(SendRequest{To: "15550001111", TemplateName: "summer_sale"})

	var complianceErr *compliance.ComplianceError
	require.ErrorAs(t, err, &complianceErr)
	assert.Empty(t, f.provider.sent)
}

func TestSendUnknownTemplateRejected(t *testing.T) {
	f := newSenderFixture(nil, optedInProfile("15550001111"), nil, nil)

	_, err := f.sender.Send(SendRequest{To: "15550001111", TemplateName: "missing"})

	var complianceErr *compliance.ComplianceError
	require.ErrorAs(t, err, &complianceErr)
	assert.Contains(t, complianceErr.Reason, "missing")
}

func TestSendProviderFailureRecordsFailedMessage(t *testing.T) {
	f := newSenderFixture(nil, optedInProfile("15550001111"), recentIncoming("15550001111"), nil)
	f.provider.sendErr = &whatsapp.ProviderError{Code: 131026, Message: "Message undeliverable"}

	msg, err := f.sender.Send(SendRequest{To: "15550001111", ContentType: "text", Body: "hi"})

	require.Error(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, models.StatusFailed, msg.Status)
	assert.Contains(t, msg.ErrorMessage, "Message undeliverable")
	require.Len(t, f.messages.created, 1)
	// Failed sends never record a route.
	assert.Empty(t, f.routes.apps)
}

func TestBuildInteractiveUsesButtonsUpToThree(t *testing.T) {
	interactive, err := buildInteractive(SendRequest{
		Body: "Pick one",
		Buttons: []Button{
			{ID: "a", Title: "A"},
			{ID: "b", Title: "B"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "button", interactive.Type)
	assert.Len(t, interactive.Action.Buttons, 2)
	assert.Equal(t, "reply", interactive.Action.Buttons[0].Type)
}

func TestBuildInteractiveSwitchesToListOverThree(t *testing.T) {
	buttons := make([]Button, 12)
	for i := range buttons {
		buttons[i] = Button{ID: string(rune('a' + i)), Title: "Option"}
	}

	interactive, err := buildInteractive(SendRequest{Body: "Pick one", Buttons: buttons})

	require.NoError(t, err)
	assert.Equal(t, "list", interactive.Type)
	require.Len(t, interactive.Action.Sections, 1)
	// Capped at the provider's 10-row limit.
	assert.Len(t, interactive.Action.Sections[0].Rows, 10)
}

func TestBuildFlowGeneratesToken(t *testing.T) {
	flow := buildFlow(SendRequest{FlowID: "flow-1", FlowScreen: "WELCOME"})

	assert.Equal(t, "flow", flow.Type)
	require.NotNil(t, flow.Action.Parameters)
	assert.Equal(t, "flow-1", flow.Action.Parameters.FlowID)
	assert.NotEmpty(t, flow.Action.Parameters.FlowToken)
	assert.Equal(t, "WELCOME", flow.Action.Parameters.FlowActionPayload.Screen)
}

func TestSendReactionPayload(t *testing.T) {
	f := newSenderFixture(nil, optedInProfile("15550001111"), recentIncoming("15550001111"), nil)

	_, err := f.sender.Send(SendRequest{
		To:               "15550001111",
		ContentType:      "reaction",
		Body:             "👍",
		ReplyToMessageID: "wamid.orig",
	})

	require.NoError(t, err)
	payload := f.provider.sent[0]
	require.NotNil(t, payload.Reaction)
	assert.Equal(t, "wamid.orig", payload.Reaction.MessageID)
	// Reactions reference the message directly, not via reply context.
	assert.Nil(t, payload.Context)
}
