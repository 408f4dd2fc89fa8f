package models

import "encoding/json"

// WebhookPayload is the incoming JSON payload from the Meta webhook.
// Entry is kept raw because Meta has been observed to deliver it both as an
// array and as a single object; DecodeEntries normalizes the two shapes.
type WebhookPayload struct {
	Object string          `json:"object"`
	Entry  json.RawMessage `json:"entry"`
}

// DecodeEntries returns the payload entries, tolerating both the array shape
// `{"entry": [...]}` and the object shape `{"entry": {...}}`. Unparseable
// entries yield an empty slice, never an error.
func (p *WebhookPayload) DecodeEntries() []Entry {
	if len(p.Entry) == 0 {
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal(p.Entry, &entries); err == nil {
		return entries
	}
	var single Entry
	if err := json.Unmarshal(p.Entry, &single); err == nil {
		return []Entry{single}
	}
	return nil
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Value Value  `json:"value"`
	Field string `json:"field"`
}

type Value struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         Metadata          `json:"metadata"`
	Contacts         []WebhookContact  `json:"contacts,omitempty"`
	Messages         []IncomingMessage `json:"messages,omitempty"`
	Statuses         []StatusUpdate    `json:"statuses,omitempty"`

	// Template approval updates (field == "message_template_status_update").
	Event             string `json:"event,omitempty"`
	MessageTemplateID int64  `json:"message_template_id,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type WebhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// IncomingMessage is one message inside a webhook delivery.
type IncomingMessage struct {
	From        string            `json:"from"`
	ID          string            `json:"id"`
	Timestamp   string            `json:"timestamp"`
	Type        string            `json:"type"`
	Context     *MessageContext   `json:"context,omitempty"`
	Text        *TextBody         `json:"text,omitempty"`
	Image       *MediaMessage     `json:"image,omitempty"`
	Video       *MediaMessage     `json:"video,omitempty"`
	Audio       *MediaMessage     `json:"audio,omitempty"`
	Document    *MediaMessage     `json:"document,omitempty"`
	Interactive *InteractiveReply `json:"interactive,omitempty"`
}

type TextBody struct {
	Body string `json:"body"`
}

// MessageContext marks a message as a reply (or a forward, which is not
// treated as a reply).
type MessageContext struct {
	ID        string `json:"id"`
	From      string `json:"from,omitempty"`
	Forwarded bool   `json:"forwarded,omitempty"`
}

// MediaMessage represents a media attachment in a WhatsApp message.
type MediaMessage struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Media returns the media object matching the message type, or nil.
func (m *IncomingMessage) Media() *MediaMessage {
	switch m.Type {
	case "image":
		return m.Image
	case "video":
		return m.Video
	case "audio":
		return m.Audio
	case "document":
		return m.Document
	}
	return nil
}

// InteractiveReply represents an interactive message response (buttons,
// lists, flows).
type InteractiveReply struct {
	Type        string       `json:"type"`
	ButtonReply *OptionReply `json:"button_reply,omitempty"`
	ListReply   *OptionReply `json:"list_reply,omitempty"`
	NfmReply    *NfmReply    `json:"nfm_reply,omitempty"`
}

// OptionReply is a button click or list selection.
type OptionReply struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// NfmReply is a response from a WhatsApp Flow.
type NfmReply struct {
	ResponseJSON string `json:"response_json"`
	Body         string `json:"body"`
	Name         string `json:"name"`
}

// StatusUpdate is a per-message delivery status change.
type StatusUpdate struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Timestamp    string `json:"timestamp"`
	RecipientID  string `json:"recipient_id"`
	Conversation *struct {
		ID string `json:"id"`
	} `json:"conversation,omitempty"`
	Errors []ProviderErrorDetail `json:"errors,omitempty"`
}

// ProviderErrorDetail is the structured error object Meta attaches to failed
// statuses and API responses.
type ProviderErrorDetail struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Details string `json:"error_data,omitempty"`
}

// ForwardEnvelope is the event posted to a client application's inbound
// webhook for each forwarded incoming message.
type ForwardEnvelope struct {
	Event   string         `json:"event"`
	Message ForwardMessage `json:"message"`
}

type ForwardMessage struct {
	Name            string `json:"name"`
	From            string `json:"from"`
	To              string `json:"to"`
	WhatsAppAccount string `json:"whatsapp_account"`
	ContentType     string `json:"content_type"`
	Message         string `json:"message"`
	MessageID       string `json:"message_id"`
	Timestamp       string `json:"timestamp"`
}
