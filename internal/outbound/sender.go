package outbound

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"

	"whatsapp-compliance-gateway/internal/compliance"
	"whatsapp-compliance-gateway/internal/models"
	"whatsapp-compliance-gateway/internal/phone"
	"whatsapp-compliance-gateway/internal/whatsapp"
)

// Button is one interactive option in a send request.
type Button struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// SendRequest describes one outgoing message.
type SendRequest struct {
	AccountID        uint     `json:"account_id"` // 0 uses the default outgoing account
	To               string   `json:"to"`
	ContentType      string   `json:"content_type"` // text, image, video, audio, document, reaction, interactive, flow
	Body             string   `json:"body"`
	MediaLink        string   `json:"media_link,omitempty"`
	Filename         string   `json:"filename,omitempty"`
	Buttons          []Button `json:"buttons,omitempty"`
	ReplyToMessageID string   `json:"reply_to_message_id,omitempty"`
	SourceApp        string   `json:"source_app,omitempty"`

	TemplateName   string   `json:"template,omitempty"`
	TemplateParams []string `json:"template_params,omitempty"`

	FlowID     string `json:"flow_id,omitempty"`
	FlowCTA    string `json:"flow_cta,omitempty"`
	FlowScreen string `json:"flow_screen,omitempty"`
	FlowToken  string `json:"flow_token,omitempty"`
}

// AccountSource resolves sending accounts.
type AccountSource interface {
	ByID(id uint) (*models.Account, error)
	DefaultOutgoing() (*models.Account, error)
}

// TemplateSource resolves templates by name.
type TemplateSource interface {
	ByName(name string) (*models.Template, error)
}

// MessageStore persists outgoing message records.
type MessageStore interface {
	Create(m *models.Message) error
}

// RouteRecorder remembers the sending app for inbound routing.
type RouteRecorder interface {
	SetLastSenderApp(accountID uint, toNumber, sourceApp string, messageID uint) error
}

// ProviderClient transmits the built payload.
type ProviderClient interface {
	SendMessage(account *models.Account, msg whatsapp.GenericMessage) (string, error)
}

// Sender is the outbound orchestrator: every send passes the compliance
// gates before any payload is built, and the resulting message state is
// recorded whether the transmission succeeds or fails.
type Sender struct {
	engine    *compliance.Engine
	settings  *compliance.SettingsCache
	accounts  AccountSource
	templates TemplateSource
	messages  MessageStore
	routes    RouteRecorder
	client    ProviderClient
}

func NewSender(engine *compliance.Engine, settings *compliance.SettingsCache,
	accounts AccountSource, templates TemplateSource, messages MessageStore,
	routes RouteRecorder, client ProviderClient) *Sender {
	return &Sender{
		engine:    engine,
		settings:  settings,
		accounts:  accounts,
		templates: templates,
		messages:  messages,
		routes:    routes,
		client:    client,
	}
}

// Send runs the compliance gates, builds the provider payload, transmits it,
// and records the message. Consent, window and template violations are
// returned before anything reaches the network.
func (s *Sender) Send(req SendRequest) (*models.Message, error) {
	account, err := s.resolveAccount(req.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("no outgoing WhatsApp account configured")
	}

	var tmpl *models.Template
	isTemplate := req.TemplateName != ""
	if isTemplate {
		tmpl, err = s.templates.ByName(req.TemplateName)
		if err != nil {
			return nil, err
		}
		if tmpl == nil {
			return nil, &compliance.ComplianceError{
				Reason: fmt.Sprintf("Unknown template: %s", req.TemplateName)}
		}
	}

	consentCategory := ""
	isTransactional := false
	if tmpl != nil {
		consentCategory = tmpl.RequiredConsentCategory
		isTransactional = tmpl.IsTransactional
	}

	result, err := s.engine.VerifyConsentForSend(req.To, consentCategory, isTransactional)
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		return nil, &compliance.ConsentError{Status: result.Status, Reason: result.Reason}
	}

	withinWindow := true
	if !isTemplate {
		within, reason, err := s.engine.IsWithinConversationWindow(req.To, account.ID)
		if err != nil {
			return nil, err
		}
		withinWindow = within
		if !within {
			settings, err := s.settings.Settings()
			if err != nil {
				return nil, err
			}
			if !settings.AllowReplyOutsideWindow {
				return nil, &compliance.WindowError{Reason: reason}
			}
		}
	} else {
		if err := s.engine.EnforceTemplateSendRules(tmpl, req.To); err != nil {
			return nil, err
		}
		if err := s.engine.EnforceMarketingTemplateCompliance(tmpl); err != nil {
			return nil, err
		}
	}

	payload, err := buildPayload(req, tmpl)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		Direction:           models.DirectionOutgoing,
		To:                  phone.Normalize(req.To),
		Body:                req.Body,
		ContentType:         req.ContentType,
		MessageType:         models.MessageTypeManual,
		AccountID:           account.ID,
		SourceApp:           req.SourceApp,
		ReplyToMessageID:    req.ReplyToMessageID,
		IsReply:             req.ReplyToMessageID != "",
		ConsentChecked:      true,
		ConsentStatusAtSend: result.Status,
		ConsentBypassReason: result.Reason,
		WithinWindow:        withinWindow,
	}
	if isTemplate {
		msg.MessageType = models.MessageTypeTemplate
		msg.ContentType = "template"
		msg.Template = tmpl.Name
		if len(req.TemplateParams) > 0 {
			params, _ := json.Marshal(req.TemplateParams)
			msg.TemplateParameters = string(params)
		}
	}

	providerID, sendErr := s.client.SendMessage(account, payload)
	if sendErr != nil {
		msg.Status = models.StatusFailed
		msg.ErrorMessage = sendErr.Error()
		if err := s.messages.Create(msg); err != nil {
			log.Printf("Failed to record failed message: %v", err)
		}
		return msg, sendErr
	}

	msg.ProviderMessageID = providerID
	msg.Status = models.StatusSent
	if err := s.messages.Create(msg); err != nil {
		return msg, err
	}

	if req.SourceApp != "" {
		if err := s.routes.SetLastSenderApp(account.ID, req.To, req.SourceApp, msg.ID); err != nil {
			log.Printf("Failed to record conversation route for %s: %v", req.To, err)
		}
	}
	return msg, nil
}

func (s *Sender) resolveAccount(id uint) (*models.Account, error) {
	if id != 0 {
		return s.accounts.ByID(id)
	}
	return s.accounts.DefaultOutgoing()
}

// buildPayload maps a send request to the provider's JSON schema. Pure
// mapping, no compliance decisions here.
func buildPayload(req SendRequest, tmpl *models.Template) (whatsapp.GenericMessage, error) {
	msg := whatsapp.GenericMessage{
		MessagingProduct: "whatsapp",
		To:               phone.Normalize(req.To),
		Type:             req.ContentType,
	}
	if req.ReplyToMessageID != "" && req.ContentType != "reaction" {
		msg.Context = &whatsapp.ContextObj{MessageID: req.ReplyToMessageID}
	}

	if tmpl != nil {
		return buildTemplatePayload(msg, req, tmpl)
	}

	switch req.ContentType {
	case "text":
		msg.Text = &whatsapp.TextObj{Body: req.Body, PreviewUrl: true}
	case "image":
		msg.Image = &whatsapp.MediaObj{Link: req.MediaLink, Caption: req.Body}
	case "video":
		msg.Video = &whatsapp.MediaObj{Link: req.MediaLink, Caption: req.Body}
	case "audio":
		msg.Audio = &whatsapp.MediaObj{Link: req.MediaLink}
	case "document":
		msg.Document = &whatsapp.MediaObj{Link: req.MediaLink, Caption: req.Body, Filename: req.Filename}
	case "reaction":
		msg.Reaction = &whatsapp.ReactionObj{MessageID: req.ReplyToMessageID, Emoji: req.Body}
	case "interactive":
		interactive, err := buildInteractive(req)
		if err != nil {
			return msg, err
		}
		msg.Interactive = interactive
	case "flow":
		msg.Type = "interactive"
		msg.Interactive = buildFlow(req)
	default:
		return msg, fmt.Errorf("unsupported content type: %s", req.ContentType)
	}
	return msg, nil
}

func buildInteractive(req SendRequest) (*whatsapp.InteractiveObj, error) {
	if len(req.Buttons) == 0 {
		return nil, fmt.Errorf("buttons are required for interactive messages")
	}

	if len(req.Buttons) > 3 {
		// List message for more than 3 options (max 10).
		rows := make([]whatsapp.RowObj, 0, 10)
		for _, btn := range req.Buttons {
			rows = append(rows, whatsapp.RowObj{ID: btn.ID, Title: btn.Title, Description: btn.Description})
			if len(rows) == 10 {
				break
			}
		}
		return &whatsapp.InteractiveObj{
			Type: "list",
			Body: whatsapp.BodyObj{Text: req.Body},
			Action: whatsapp.ActionObj{
				Button:   "Select Option",
				Sections: []whatsapp.SectionObj{{Title: "Options", Rows: rows}},
			},
		}, nil
	}

	buttons := make([]whatsapp.ButtonObj, 0, 3)
	for _, btn := range req.Buttons {
		buttons = append(buttons, whatsapp.ButtonObj{
			Type:  "reply",
			Reply: whatsapp.ReplyObj{ID: btn.ID, Title: btn.Title},
		})
	}
	return &whatsapp.InteractiveObj{
		Type:   "button",
		Body:   whatsapp.BodyObj{Text: req.Body},
		Action: whatsapp.ActionObj{Buttons: buttons},
	}, nil
}

func buildFlow(req SendRequest) *whatsapp.InteractiveObj {
	body := req.Body
	if body == "" {
		body = "Please fill out the form"
	}
	cta := req.FlowCTA
	if cta == "" {
		cta = "Open"
	}
	token := req.FlowToken
	if token == "" {
		// WhatsApp requires a flow token even when the caller has no use
		// for one.
		token = uuid.NewString()
	}

	return &whatsapp.InteractiveObj{
		Type: "flow",
		Body: whatsapp.BodyObj{Text: body},
		Action: whatsapp.ActionObj{
			Name: "flow",
			Parameters: &whatsapp.FlowParams{
				FlowMessageVersion: "3",
				FlowToken:          token,
				FlowID:             req.FlowID,
				FlowCTA:            cta,
				FlowAction:         "navigate",
				FlowActionPayload:  &whatsapp.FlowActionPayload{Screen: req.FlowScreen},
			},
		},
	}
}

func buildTemplatePayload(msg whatsapp.GenericMessage, req SendRequest, tmpl *models.Template) (whatsapp.GenericMessage, error) {
	msg.Type = "template"

	name := tmpl.ActualName
	if name == "" {
		name = tmpl.Name
	}
	template := &whatsapp.TemplateObj{
		Name:       name,
		Language:   whatsapp.LanguageObj{Code: tmpl.LanguageCode},
		Components: []whatsapp.ComponentObj{},
	}

	if len(req.TemplateParams) > 0 {
		params := make([]whatsapp.ParameterObj, 0, len(req.TemplateParams))
		for _, p := range req.TemplateParams {
			params = append(params, whatsapp.ParameterObj{Type: "text", Text: p})
		}
		template.Components = append(template.Components, whatsapp.ComponentObj{
			Type:       "body",
			Parameters: params,
		})
	}

	if tmpl.HeaderType == "IMAGE" && req.MediaLink != "" {
		template.Components = append(template.Components, whatsapp.ComponentObj{
			Type: "header",
			Parameters: []whatsapp.ParameterObj{{
				Type:  "image",
				Image: &whatsapp.MediaObj{Link: req.MediaLink},
			}},
		})
	}

	msg.Template = template
	return msg, nil
}
