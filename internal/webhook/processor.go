package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"whatsapp-compliance-gateway/internal/compliance"
	"whatsapp-compliance-gateway/internal/consent"
	"whatsapp-compliance-gateway/internal/models"
	"whatsapp-compliance-gateway/internal/phone"
	"whatsapp-compliance-gateway/internal/queue"
	"whatsapp-compliance-gateway/internal/routing"
	"whatsapp-compliance-gateway/internal/store"
	"whatsapp-compliance-gateway/internal/whatsapp"
	pkgmodels "whatsapp-compliance-gateway/pkg/models"
)

// Task names handled by the processor.
const (
	TaskProcessPayload = "webhook.process"
	TaskForwardToApp   = "app.forward"
	TaskDownloadMedia  = "media.download"
)

// ProviderAPI is the slice of the Cloud API client the processor uses.
type ProviderAPI interface {
	SendReadReceipt(account *models.Account, providerMessageID string) error
	MediaMetadata(account *models.Account, mediaID string) (*whatsapp.MediaInfo, error)
	DownloadMedia(account *models.Account, mediaURL string) ([]byte, error)
}

// Notifier publishes realtime events to connected dashboard clients.
type Notifier interface {
	NotifyMessage(m *models.Message)
	NotifyFlowResponse(m *models.Message)
}

// Processor turns queued webhook payloads into message records, consent
// transitions and app forwards. It runs on the task queue, never on the HTTP
// request path, and every step is idempotent: redelivered payloads are
// dropped on the provider message id.
type Processor struct {
	stores     *store.Stores
	engine     *compliance.Engine
	consent    *consent.Service
	router     *routing.Router
	provider   ProviderAPI
	dispatcher queue.Dispatcher
	notifier   Notifier
}

func NewProcessor(stores *store.Stores, engine *compliance.Engine, consentSvc *consent.Service,
	router *routing.Router, provider ProviderAPI, dispatcher queue.Dispatcher, notifier Notifier) *Processor {
	return &Processor{
		stores:     stores,
		engine:     engine,
		consent:    consentSvc,
		router:     router,
		provider:   provider,
		dispatcher: dispatcher,
		notifier:   notifier,
	}
}

// RegisterTasks wires the processor's handlers into the queue registry.
func (p *Processor) RegisterTasks(registry *queue.Registry) {
	registry.Register(TaskProcessPayload, p.handleProcessPayload)
	registry.Register(TaskForwardToApp, p.handleForwardToApp)
	registry.Register(TaskDownloadMedia, p.handleDownloadMedia)
}

func (p *Processor) handleProcessPayload(ctx context.Context, raw []byte) error {
	var payload pkgmodels.WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Printf("Unparseable webhook payload, dropping: %v", err)
		return nil
	}

	for _, entry := range payload.DecodeEntries() {
		for _, change := range entry.Changes {
			switch change.Field {
			case "message_template_status_update":
				p.applyTemplateStatus(change.Value)
			default:
				p.processValue(ctx, change.Value)
			}
		}
	}
	return nil
}

// applyTemplateStatus records a template approval decision. Unknown template
// ids are ignored.
func (p *Processor) applyTemplateStatus(value pkgmodels.Value) {
	if value.Event == "" || value.MessageTemplateID == 0 {
		return
	}
	providerID := strconv.FormatInt(value.MessageTemplateID, 10)
	if err := p.stores.Templates.UpdateStatusByProviderID(providerID, value.Event); err != nil {
		log.Printf("Failed to apply template status %s to %s: %v", value.Event, providerID, err)
	}
}

func (p *Processor) processValue(ctx context.Context, value pkgmodels.Value) {
	// Status updates carry their own message id and need no account lookup.
	for _, status := range value.Statuses {
		p.applyStatusUpdate(status)
	}

	if len(value.Messages) == 0 {
		return
	}

	account, err := p.stores.Accounts.ByPhoneNumberID(value.Metadata.PhoneNumberID)
	if err != nil {
		log.Printf("Account lookup failed for phone_number_id %s: %v", value.Metadata.PhoneNumberID, err)
		return
	}
	if account == nil {
		log.Printf("No account for phone_number_id %s, dropping %d message(s)",
			value.Metadata.PhoneNumberID, len(value.Messages))
		return
	}

	names := make(map[string]string, len(value.Contacts))
	for _, contact := range value.Contacts {
		names[phone.Normalize(contact.WaID)] = contact.Profile.Name
	}

	for i := range value.Messages {
		msg := &value.Messages[i]
		name := names[phone.Normalize(msg.From)]
		if err := p.processIncoming(ctx, account, msg, name, value.Metadata.DisplayPhoneNumber); err != nil {
			log.Printf("Failed to process incoming message %s: %v", msg.ID, err)
		}
	}
}

func (p *Processor) applyStatusUpdate(status pkgmodels.StatusUpdate) {
	conversationID := ""
	if status.Conversation != nil {
		conversationID = status.Conversation.ID
	}
	if err := p.stores.Messages.UpdateDeliveryStatus(status.ID, status.Status, conversationID); err != nil {
		log.Printf("Failed to apply status %s to %s: %v", status.Status, status.ID, err)
		return
	}

	if status.Status == models.StatusFailed && len(status.Errors) > 0 {
		m, err := p.stores.Messages.ByProviderID(status.ID)
		if err != nil || m == nil {
			return
		}
		detail := status.Errors[0]
		m.ErrorMessage = fmt.Sprintf("%d: %s", detail.Code, detail.Message)
		if err := p.stores.Messages.Save(m); err != nil {
			log.Printf("Failed to record delivery error on %s: %v", status.ID, err)
		}
	}
}

func (p *Processor) processIncoming(ctx context.Context, account *models.Account,
	incoming *pkgmodels.IncomingMessage, profileName, displayNumber string) error {

	// Idempotency gate: the provider redelivers, we do not duplicate.
	exists, err := p.stores.Messages.ExistsByProviderID(incoming.ID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	from := phone.Normalize(incoming.From)

	m := &models.Message{
		ProviderMessageID: incoming.ID,
		Direction:         models.DirectionIncoming,
		From:              from,
		To:                phone.Normalize(displayNumber),
		Status:            models.StatusReceived,
		ProfileName:       profileName,
		AccountID:         account.ID,
	}

	// A forwarded message carries a context too, but it is not a reply.
	if incoming.Context != nil && incoming.Context.ID != "" && !incoming.Context.Forwarded {
		m.IsReply = true
		m.ReplyToMessageID = incoming.Context.ID
	}

	isFlow := false
	switch incoming.Type {
	case "text":
		m.ContentType = "text"
		if incoming.Text != nil {
			m.Body = incoming.Text.Body
		}
	case "interactive":
		p.fillInteractive(m, incoming)
		isFlow = m.ContentType == "flow"
	case "image", "video", "audio", "document":
		m.ContentType = incoming.Type
		if media := incoming.Media(); media != nil {
			m.Body = media.Caption
			m.MediaID = media.ID
			m.MediaMimeType = media.MimeType
			m.MediaFilename = media.Filename
		}
	default:
		m.ContentType = incoming.Type
	}

	routedApp, err := p.router.GetLastSenderApp(account.ID, from)
	if err != nil {
		log.Printf("Route lookup failed for %s: %v", from, err)
	}
	m.RoutedApp = routedApp

	if err := p.stores.Messages.Create(m); err != nil {
		return err
	}

	profile, err := p.stores.Profiles.GetOrCreate(from, profileName, account.ID)
	if err != nil {
		log.Printf("Profile upsert failed for %s: %v", from, err)
	}

	if p.notifier != nil {
		if isFlow {
			p.notifier.NotifyFlowResponse(m)
		} else {
			p.notifier.NotifyMessage(m)
		}
	}

	if account.AllowAutoReadReceipt {
		if err := p.provider.SendReadReceipt(account, incoming.ID); err != nil {
			log.Printf("Failed to send read receipt for %s: %v", incoming.ID, err)
		}
	}

	if m.ContentType == "text" {
		return p.dispatchText(ctx, account, m, profile)
	}

	if m.MediaID != "" {
		p.submitMediaDownload(ctx, account, m)
	}
	p.submitForward(ctx, account, m)
	return nil
}

// fillInteractive maps button clicks, list selections and flow responses. The
// selected option id becomes the body so downstream apps see a stable value
// rather than the display title.
func (p *Processor) fillInteractive(m *models.Message, incoming *pkgmodels.IncomingMessage) {
	reply := incoming.Interactive
	if reply == nil {
		m.ContentType = "interactive"
		return
	}

	switch {
	case reply.ButtonReply != nil:
		m.ContentType = "button"
		m.Body = reply.ButtonReply.ID
	case reply.ListReply != nil:
		m.ContentType = "button"
		m.Body = reply.ListReply.ID
	case reply.NfmReply != nil:
		m.ContentType = "flow"
		m.FlowResponse = reply.NfmReply.ResponseJSON
		m.Body = flowSummary(reply.NfmReply.ResponseJSON)
	default:
		m.ContentType = "interactive"
	}
}

// flowSummary renders a flow response as "field: value" pairs for the message
// body. Keys are sorted so the summary is stable across deliveries.
func flowSummary(responseJSON string) string {
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(responseJSON), &fields); err != nil || len(fields) == 0 {
		return "Flow completed"
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, fields[k]))
	}
	return strings.Join(parts, ", ")
}

// dispatchText classifies an inbound text: opt-out keyword, opt-in keyword, or
// a regular message. Every text is forwarded to the routed client app,
// keyword-matched ones included, so apps see the full conversation.
func (p *Processor) dispatchText(ctx context.Context, account *models.Account,
	m *models.Message, profile *models.Profile) error {

	defer p.submitForward(ctx, account, m)

	match, err := p.engine.CheckOptOutKeyword(m.Body, account.ID)
	if err != nil {
		return err
	}
	if match != nil {
		if err := p.consent.ProcessOptOut(m.From, account, m.ID, match, models.SourceWebhook, m.From); err != nil {
			return err
		}
		p.consent.SendOptOutConfirmation(m.From, account)
		return nil
	}

	optIn, err := p.engine.CheckOptInKeyword(m.Body)
	if err != nil {
		return err
	}
	if optIn && (profile == nil || !profile.IsOptedIn) {
		if err := p.consent.ProcessOptIn(m.From, account, m.ID, models.SourceWebhook, m.From); err != nil {
			return err
		}
		p.consent.SendOptInConfirmation(m.From, account)
	}

	return nil
}

// forwardTask and mediaTask are the queue payloads for the async follow-ups.
type forwardTask struct {
	MessageID uint `json:"message_id"`
	AccountID uint `json:"account_id"`
}

type mediaTask struct {
	MessageID uint   `json:"message_id"`
	AccountID uint   `json:"account_id"`
	MediaID   string `json:"media_id"`
}

func (p *Processor) submitForward(ctx context.Context, account *models.Account, m *models.Message) {
	if m.RoutedApp == "" {
		return
	}
	task := forwardTask{MessageID: m.ID, AccountID: account.ID}
	if err := p.dispatcher.Submit(ctx, TaskForwardToApp, task, queue.ClassShort); err != nil {
		log.Printf("Failed to queue forward for message %d: %v", m.ID, err)
	}
}

func (p *Processor) submitMediaDownload(ctx context.Context, account *models.Account, m *models.Message) {
	task := mediaTask{MessageID: m.ID, AccountID: account.ID, MediaID: m.MediaID}
	if err := p.dispatcher.Submit(ctx, TaskDownloadMedia, task, queue.ClassLong); err != nil {
		log.Printf("Failed to queue media download for message %d: %v", m.ID, err)
	}
}

func (p *Processor) handleForwardToApp(ctx context.Context, payload []byte) error {
	var task forwardTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return err
	}

	m, err := p.stores.Messages.ByID(task.MessageID)
	if err != nil {
		return err
	}
	if m == nil {
		return nil
	}
	account, err := p.stores.Accounts.ByID(task.AccountID)
	if err != nil {
		return err
	}

	// Fire and forget: a failed forward is logged, never retried into the
	// send path.
	if err := p.router.ForwardIncoming(m, account); err != nil {
		log.Printf("Failed to forward message %d to %s: %v", m.ID, m.RoutedApp, err)
	}
	return nil
}

func (p *Processor) handleDownloadMedia(ctx context.Context, payload []byte) error {
	var task mediaTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return err
	}

	account, err := p.stores.Accounts.ByID(task.AccountID)
	if err != nil {
		return err
	}
	if account == nil {
		return nil
	}

	info, err := p.provider.MediaMetadata(account, task.MediaID)
	if err != nil {
		return fmt.Errorf("media metadata for %s: %w", task.MediaID, err)
	}

	data, err := p.provider.DownloadMedia(account, info.URL)
	if err != nil {
		return fmt.Errorf("media download for %s: %w", task.MediaID, err)
	}

	size := info.FileSize
	if size == 0 {
		size = int64(len(data))
	}

	m, err := p.stores.Messages.ByID(task.MessageID)
	if err != nil || m == nil {
		return err
	}
	return p.stores.Messages.AttachMedia(m.ID, task.MediaID, info.MimeType, m.MediaFilename, size)
}
