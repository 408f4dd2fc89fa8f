package webhook

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"whatsapp-compliance-gateway/internal/compliance"
	"whatsapp-compliance-gateway/internal/consent"
	"whatsapp-compliance-gateway/internal/database"
	"whatsapp-compliance-gateway/internal/models"
	"whatsapp-compliance-gateway/internal/routing"
	"whatsapp-compliance-gateway/internal/store"
	"whatsapp-compliance-gateway/internal/whatsapp"
)

type submission struct {
	task    string
	payload []byte
	class   string
}

type fakeDispatcher struct {
	submissions []submission
}

func (f *fakeDispatcher) Submit(ctx context.Context, task string, payload interface{}, queueClass string) error {
	body, _ := payload.([]byte)
	f.submissions = append(f.submissions, submission{task: task, payload: body, class: queueClass})
	return nil
}

func (f *fakeDispatcher) tasks() []string {
	names := make([]string, 0, len(f.submissions))
	for _, s := range f.submissions {
		names = append(names, s.task)
	}
	return names
}

type fakeProviderAPI struct {
	readReceipts []string
	media        map[string]*whatsapp.MediaInfo
	mediaBody    []byte
}

func (f *fakeProviderAPI) SendReadReceipt(account *models.Account, providerMessageID string) error {
	f.readReceipts = append(f.readReceipts, providerMessageID)
	return nil
}

func (f *fakeProviderAPI) MediaMetadata(account *models.Account, mediaID string) (*whatsapp.MediaInfo, error) {
	info, ok := f.media[mediaID]
	if !ok {
		return nil, fmt.Errorf("unknown media id %s", mediaID)
	}
	return info, nil
}

func (f *fakeProviderAPI) DownloadMedia(account *models.Account, mediaURL string) ([]byte, error) {
	return f.mediaBody, nil
}

type noopConfirmations struct{}

func (noopConfirmations) SendPlainText(account *models.Account, to, body string) error { return nil }
func (noopConfirmations) SendBareTemplate(account *models.Account, to string, tmpl *models.Template) error {
	return nil
}

type processorFixture struct {
	stores     *store.Stores
	processor  *Processor
	dispatcher *fakeDispatcher
	provider   *fakeProviderAPI
	account    *models.Account
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	stores := store.New(db)

	account := &models.Account{Name: "Main", PhoneNumberID: "9876543210"}
	require.NoError(t, db.Create(account).Error)

	settingsCache := compliance.NewSettingsCache(stores.Settings)
	engine := compliance.NewEngine(settingsCache, stores.Profiles, stores.Messages, stores.Keywords)
	consentService := consent.NewService(stores.Profiles, stores.ConsentLogs, stores.Messages,
		settingsCache, stores.Templates, noopConfirmations{})
	router := routing.NewRouter(stores.Routes, stores.ClientApps)

	f := &processorFixture{
		stores:     stores,
		dispatcher: &fakeDispatcher{},
		provider:   &fakeProviderAPI{},
		account:    account,
	}
	f.processor = NewProcessor(stores, engine, consentService, router,
		f.provider, f.dispatcher, nil)
	return f
}

func textPayload(phoneNumberID, from, msgID, body string) []byte {
	return []byte(fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "entry-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"display_phone_number": "15559990000", "phone_number_id": %q},
					"contacts": [{"wa_id": %q, "profile": {"name": "Ada"}}],
					"messages": [{"from": %q, "id": %q, "timestamp": "1717200000", "type": "text", "text": {"body": %q}}]
				}
			}]
		}]
	}`, phoneNumberID, from, from, msgID, body))
}

func (f *processorFixture) process(t *testing.T, payload []byte) {
	t.Helper()
	require.NoError(t, f.processor.handleProcessPayload(context.Background(), payload))
}

func (f *processorFixture) messageCount(t *testing.T) int64 {
	t.Helper()
	msgs, err := f.stores.Messages.Recent(0)
	require.NoError(t, err)
	return int64(len(msgs))
}

func TestIncomingTextRecordedOnce(t *testing.T) {
	f := newProcessorFixture(t)
	payload := textPayload("9876543210", "15550001111", "wamid.text.1", "hello there")

	f.process(t, payload)
	f.process(t, payload) // provider redelivery

	assert.EqualValues(t, 1, f.messageCount(t))

	m, err := f.stores.Messages.ByProviderID("wamid.text.1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, models.DirectionIncoming, m.Direction)
	assert.Equal(t, "15550001111", m.From)
	assert.Equal(t, "hello there", m.Body)
	assert.Equal(t, "text", m.ContentType)
	assert.Equal(t, models.StatusReceived, m.Status)
	assert.Equal(t, "Ada", m.ProfileName)
	assert.Equal(t, f.account.ID, m.AccountID)

	// A profile is created for every inbound contact.
	profile, err := f.stores.Profiles.ByNumber("15550001111")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "Ada", profile.ProfileName)
}

func TestUnknownPhoneNumberIDDropsMessages(t *testing.T) {
	f := newProcessorFixture(t)

	f.process(t, textPayload("0000000000", "15550001111", "wamid.text.1", "hello"))

	assert.EqualValues(t, 0, f.messageCount(t))
}

func TestOptOutKeywordTriggersOptOut(t *testing.T) {
	f := newProcessorFixture(t)
	require.NoError(t, f.stores.Profiles.Save(&models.Profile{
		Number: "15550001111", IsOptedIn: true, ConsentStatus: models.ConsentOptedIn,
	}))
	keyword := &models.OptOutKeyword{
		Keyword: "stop", MatchType: models.MatchExact,
		Action: models.KeywordFullOptOut, IsEnabled: true,
	}
	require.NoError(t, f.stores.Keywords.Create(keyword))

	f.process(t, textPayload("9876543210", "15550001111", "wamid.1", "hi, quick question"))
	f.process(t, textPayload("9876543210", "15550001111", "wamid.2", "STOP"))

	profile, err := f.stores.Profiles.ByNumber("15550001111")
	require.NoError(t, err)
	assert.True(t, profile.IsOptedOut)
	assert.False(t, profile.IsOptedIn)
	assert.Equal(t, "Keyword: stop", profile.OptedOutReason)

	logs, err := f.stores.ConsentLogs.ByProfile(profile.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.ActionOptOut, logs[0].Action)
	assert.Equal(t, models.SourceWebhook, logs[0].Source)

	m, err := f.stores.Messages.ByProviderID("wamid.2")
	require.NoError(t, err)
	assert.True(t, m.IsOptOutRequest)
}

func TestOptInKeywordTriggersOptIn(t *testing.T) {
	f := newProcessorFixture(t)

	f.process(t, textPayload("9876543210", "15550001111", "wamid.1", "start"))

	profile, err := f.stores.Profiles.ByNumber("15550001111")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.True(t, profile.IsOptedIn)
	assert.Equal(t, "WhatsApp Reply", profile.OptedInMethod)

	m, err := f.stores.Messages.ByProviderID("wamid.1")
	require.NoError(t, err)
	assert.True(t, m.IsOptInRequest)
}

func TestOptInKeywordIgnoredWhenAlreadyOptedIn(t *testing.T) {
	f := newProcessorFixture(t)
	require.NoError(t, f.stores.Profiles.Save(&models.Profile{
		Number: "15550001111", IsOptedIn: true, ConsentStatus: models.ConsentOptedIn,
	}))

	f.process(t, textPayload("9876543210", "15550001111", "wamid.1", "start"))

	profile, err := f.stores.Profiles.ByNumber("15550001111")
	require.NoError(t, err)
	logs, err := f.stores.ConsentLogs.ByProfile(profile.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestRoutedTextQueuesForward(t *testing.T) {
	f := newProcessorFixture(t)
	require.NoError(t, f.stores.Routes.Upsert(f.account.ID, "15550001111", "crm", 1,
		f.account.CreatedAt))

	f.process(t, textPayload("9876543210", "15550001111", "wamid.1", "hello"))

	m, err := f.stores.Messages.ByProviderID("wamid.1")
	require.NoError(t, err)
	assert.Equal(t, "crm", m.RoutedApp)
	assert.Contains(t, f.dispatcher.tasks(), TaskForwardToApp)
}

func TestOptOutTextStillForwardedToRoutedApp(t *testing.T) {
	f := newProcessorFixture(t)
	require.NoError(t, f.stores.Routes.Upsert(f.account.ID, "15550001111", "crm", 1,
		f.account.CreatedAt))
	require.NoError(t, f.stores.Keywords.Create(&models.OptOutKeyword{
		Keyword: "stop", MatchType: models.MatchExact,
		Action: models.KeywordFullOptOut, IsEnabled: true,
	}))

	f.process(t, textPayload("9876543210", "15550001111", "wamid.1", "STOP"))

	// The opt-out is applied and the routed app still sees the message.
	profile, err := f.stores.Profiles.ByNumber("15550001111")
	require.NoError(t, err)
	assert.True(t, profile.IsOptedOut)

	m, err := f.stores.Messages.ByProviderID("wamid.1")
	require.NoError(t, err)
	assert.Equal(t, "crm", m.RoutedApp)
	assert.Contains(t, f.dispatcher.tasks(), TaskForwardToApp)
}

func TestOptInTextStillForwardedToRoutedApp(t *testing.T) {
	f := newProcessorFixture(t)
	require.NoError(t, f.stores.Routes.Upsert(f.account.ID, "15550001111", "crm", 1,
		f.account.CreatedAt))

	f.process(t, textPayload("9876543210", "15550001111", "wamid.1", "start"))

	profile, err := f.stores.Profiles.ByNumber("15550001111")
	require.NoError(t, err)
	assert.True(t, profile.IsOptedIn)
	assert.Contains(t, f.dispatcher.tasks(), TaskForwardToApp)
}

func TestUnroutedTextIsNotForwarded(t *testing.T) {
	f := newProcessorFixture(t)

	f.process(t, textPayload("9876543210", "15550001111", "wamid.1", "hello"))

	assert.NotContains(t, f.dispatcher.tasks(), TaskForwardToApp)
}

func TestStatusUpdateAppliesDelivery(t *testing.T) {
	f := newProcessorFixture(t)
	require.NoError(t, f.stores.Messages.Create(&models.Message{
		ProviderMessageID: "wamid.out.1",
		Direction:         models.DirectionOutgoing,
		To:                "15550001111",
		Status:            models.StatusSent,
		AccountID:         f.account.ID,
	}))

	f.process(t, []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"field": "messages", "value": {
			"metadata": {"phone_number_id": "9876543210"},
			"statuses": [{"id": "wamid.out.1", "status": "delivered",
				"conversation": {"id": "conv-9"}}]
		}}]}]
	}`))

	m, err := f.stores.Messages.ByProviderID("wamid.out.1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, m.Status)
	assert.Equal(t, "conv-9", m.ConversationID)
}

func TestStatusUpdateForUnknownMessageIgnored(t *testing.T) {
	f := newProcessorFixture(t)

	f.process(t, []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"field": "messages", "value": {
			"metadata": {"phone_number_id": "9876543210"},
			"statuses": [{"id": "wamid.never.seen", "status": "delivered"}]
		}}]}]
	}`))

	assert.EqualValues(t, 0, f.messageCount(t))
}

func TestFailedStatusRecordsProviderError(t *testing.T) {
	f := newProcessorFixture(t)
	require.NoError(t, f.stores.Messages.Create(&models.Message{
		ProviderMessageID: "wamid.out.1",
		Direction:         models.DirectionOutgoing,
		Status:            models.StatusSent,
	}))

	f.process(t, []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"field": "messages", "value": {
			"metadata": {"phone_number_id": "9876543210"},
			"statuses": [{"id": "wamid.out.1", "status": "failed",
				"errors": [{"code": 131026, "message": "Message undeliverable"}]}]
		}}]}]
	}`))

	m, err := f.stores.Messages.ByProviderID("wamid.out.1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, m.Status)
	assert.Contains(t, m.ErrorMessage, "131026")
}

func TestTemplateStatusUpdateApplied(t *testing.T) {
	f := newProcessorFixture(t)
	require.NoError(t, f.stores.Templates.Create(&models.Template{
		Name: "welcome", ProviderTemplateID: "555111", Status: "PENDING",
	}))

	f.process(t, []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{
			"field": "message_template_status_update",
			"value": {"event": "APPROVED", "message_template_id": 555111}
		}]}]
	}`))

	tmpl, err := f.stores.Templates.ByName("welcome")
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", tmpl.Status)
}

func TestButtonReplyStoresOptionID(t *testing.T) {
	f := newProcessorFixture(t)

	f.process(t, []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"field": "messages", "value": {
			"metadata": {"display_phone_number": "15559990000", "phone_number_id": "9876543210"},
			"messages": [{"from": "15550001111", "id": "wamid.btn.1", "type": "interactive",
				"interactive": {"type": "button_reply",
					"button_reply": {"id": "confirm_order", "title": "Confirm"}}}]
		}}]}]
	}`))

	m, err := f.stores.Messages.ByProviderID("wamid.btn.1")
	require.NoError(t, err)
	assert.Equal(t, "button", m.ContentType)
	assert.Equal(t, "confirm_order", m.Body)
}

func TestFlowResponseSummarized(t *testing.T) {
	f := newProcessorFixture(t)

	f.process(t, []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"field": "messages", "value": {
			"metadata": {"display_phone_number": "15559990000", "phone_number_id": "9876543210"},
			"messages": [{"from": "15550001111", "id": "wamid.flow.1", "type": "interactive",
				"interactive": {"type": "nfm_reply",
					"nfm_reply": {"response_json": "{\"name\":\"Ada\",\"age\":\"36\"}", "body": "Sent", "name": "flow"}}}]
		}}]}]
	}`))

	m, err := f.stores.Messages.ByProviderID("wamid.flow.1")
	require.NoError(t, err)
	assert.Equal(t, "flow", m.ContentType)
	assert.Equal(t, "age: 36, name: Ada", m.Body)
	assert.Contains(t, m.FlowResponse, `"name":"Ada"`)
}

func TestMediaMessageQueuesDownload(t *testing.T) {
	f := newProcessorFixture(t)

	f.process(t, []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"field": "messages", "value": {
			"metadata": {"display_phone_number": "15559990000", "phone_number_id": "9876543210"},
			"messages": [{"from": "15550001111", "id": "wamid.img.1", "type": "image",
				"image": {"id": "media-77", "mime_type": "image/jpeg", "caption": "receipt"}}]
		}}]}]
	}`))

	m, err := f.stores.Messages.ByProviderID("wamid.img.1")
	require.NoError(t, err)
	assert.Equal(t, "image", m.ContentType)
	assert.Equal(t, "receipt", m.Body)
	assert.Equal(t, "media-77", m.MediaID)
	assert.Contains(t, f.dispatcher.tasks(), TaskDownloadMedia)
}

func TestDownloadMediaTaskAttachesMetadata(t *testing.T) {
	f := newProcessorFixture(t)
	require.NoError(t, f.stores.Messages.Create(&models.Message{
		ProviderMessageID: "wamid.img.1",
		Direction:         models.DirectionIncoming,
		ContentType:       "image",
		MediaID:           "media-77",
		AccountID:         f.account.ID,
	}))
	f.provider.media = map[string]*whatsapp.MediaInfo{
		"media-77": {ID: "media-77", URL: "https://lookaside.example/media-77",
			MimeType: "image/jpeg", FileSize: 2048},
	}
	f.provider.mediaBody = []byte("binary")

	payload := []byte(`{"message_id": 1, "account_id": 1, "media_id": "media-77"}`)
	require.NoError(t, f.processor.handleDownloadMedia(context.Background(), payload))

	m, err := f.stores.Messages.ByProviderID("wamid.img.1")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", m.MediaMimeType)
	assert.EqualValues(t, 2048, m.MediaSize)
}

func TestReplyContextThreadsMessage(t *testing.T) {
	f := newProcessorFixture(t)

	f.process(t, []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"field": "messages", "value": {
			"metadata": {"display_phone_number": "15559990000", "phone_number_id": "9876543210"},
			"messages": [{"from": "15550001111", "id": "wamid.reply.1", "type": "text",
				"context": {"id": "wamid.orig"},
				"text": {"body": "replying"}}]
		}}]}]
	}`))

	m, err := f.stores.Messages.ByProviderID("wamid.reply.1")
	require.NoError(t, err)
	assert.True(t, m.IsReply)
	assert.Equal(t, "wamid.orig", m.ReplyToMessageID)
}

func TestForwardedContextIsNotAReply(t *testing.T) {
	f := newProcessorFixture(t)

	f.process(t, []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"field": "messages", "value": {
			"metadata": {"display_phone_number": "15559990000", "phone_number_id": "9876543210"},
			"messages": [{"from": "15550001111", "id": "wamid.fwd.1", "type": "text",
				"context": {"id": "wamid.orig", "forwarded": true},
				"text": {"body": "check this out"}}]
		}}]}]
	}`))

	m, err := f.stores.Messages.ByProviderID("wamid.fwd.1")
	require.NoError(t, err)
	assert.False(t, m.IsReply)
	assert.Empty(t, m.ReplyToMessageID)
}

func TestReadReceiptSentWhenAccountAllows(t *testing.T) {
	f := newProcessorFixture(t)
	f.account.AllowAutoReadReceipt = true
	require.NoError(t, f.stores.Accounts.Save(f.account))

	f.process(t, textPayload("9876543210", "15550001111", "wamid.1", "hello"))

	assert.Equal(t, []string{"wamid.1"}, f.provider.readReceipts)
}

func TestMalformedPayloadDroppedWithoutError(t *testing.T) {
	f := newProcessorFixture(t)

	require.NoError(t, f.processor.handleProcessPayload(context.Background(), []byte("not json")))
	assert.EqualValues(t, 0, f.messageCount(t))
}
