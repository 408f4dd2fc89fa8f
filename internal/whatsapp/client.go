package whatsapp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"whatsapp-compliance-gateway/internal/models"
	"whatsapp-compliance-gateway/internal/phone"
)

// ProviderError wraps the structured error object returned by the Meta API.
type ProviderError struct {
	Code      int    `json:"code"`
	Title     string `json:"error_user_title,omitempty"`
	Message   string `json:"message"`
	Details   string `json:"error_user_msg,omitempty"`
	Subcode   int    `json:"error_subcode,omitempty"`
	TraceID   string `json:"fbtrace_id,omitempty"`
	HTTPError string `json:"-"`
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("provider error: %s", e.HTTPError)
}

// Client talks to the WhatsApp Cloud API. Credentials are per account, not
// global: one gateway serves several business phone numbers.
type Client struct {
	httpClient  *http.Client
	mediaClient *http.Client
}

func NewClient() *Client {
	return &Client{
		// API calls are seconds-scale; media downloads get longer.
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		mediaClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// --- Message structures (Cloud API JSON schema) ---

type GenericMessage struct {
	MessagingProduct string          `json:"messaging_product"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	RecipientType    string          `json:"recipient_type,omitempty"`
	Context          *ContextObj     `json:"context,omitempty"`
	Text             *TextObj        `json:"text,omitempty"`
	Image            *MediaObj       `json:"image,omitempty"`
	Video            *MediaObj       `json:"video,omitempty"`
	Audio            *MediaObj       `json:"audio,omitempty"`
	Document         *MediaObj       `json:"document,omitempty"`
	Reaction         *ReactionObj    `json:"reaction,omitempty"`
	Template         *TemplateObj    `json:"template,omitempty"`
	Interactive      *InteractiveObj `json:"interactive,omitempty"`
}

type ContextObj struct {
	MessageID string `json:"message_id"`
}

type TextObj struct {
	Body       string `json:"body"`
	PreviewUrl bool   `json:"preview_url,omitempty"`
}

type MediaObj struct {
	ID       string `json:"id,omitempty"`
	Link     string `json:"link,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"` // For documents
}

type ReactionObj struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type TemplateObj struct {
	Name       string         `json:"name"`
	Language   LanguageObj    `json:"language"`
	Components []ComponentObj `json:"components"`
}

type LanguageObj struct {
	Code string `json:"code"`
}

type ComponentObj struct {
	Type       string         `json:"type"`
	SubType    string         `json:"sub_type,omitempty"`
	Parameters []ParameterObj `json:"parameters"`
	Index      string         `json:"index,omitempty"` // For buttons
}

type ParameterObj struct {
	Type    string    `json:"type"`
	Text    string    `json:"text,omitempty"`
	Payload string    `json:"payload,omitempty"`
	Image   *MediaObj `json:"image,omitempty"`
}

type InteractiveObj struct {
	Type   string     `json:"type"`
	Header *HeaderObj `json:"header,omitempty"`
	Body   BodyObj    `json:"body"`
	Footer *FooterObj `json:"footer,omitempty"`
	Action ActionObj  `json:"action"`
}

type HeaderObj struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type BodyObj struct {
	Text string `json:"text"`
}

type FooterObj struct {
	Text string `json:"text"`
}

type ActionObj struct {
	Button   string       `json:"button,omitempty"`
	Buttons  []ButtonObj  `json:"buttons,omitempty"`
	Sections []SectionObj `json:"sections,omitempty"`
	// Flow specific fields
	Name       string      `json:"name,omitempty"` // "flow"
	Parameters *FlowParams `json:"parameters,omitempty"`
}

type FlowParams struct {
	FlowMessageVersion string             `json:"flow_message_version"`
	FlowToken          string             `json:"flow_token"`
	FlowID             string             `json:"flow_id,omitempty"`
	FlowCTA            string             `json:"flow_cta"`
	FlowAction         string             `json:"flow_action,omitempty"`
	Mode               string             `json:"mode,omitempty"`
	FlowActionPayload  *FlowActionPayload `json:"flow_action_payload,omitempty"`
}

type FlowActionPayload struct {
	Screen string      `json:"screen"`
	Data   interface{} `json:"data,omitempty"`
}

type ButtonObj struct {
	Type  string   `json:"type"`
	Reply ReplyObj `json:"reply"`
}

type ReplyObj struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type SectionObj struct {
	Title string   `json:"title,omitempty"`
	Rows  []RowObj `json:"rows,omitempty"`
}

type RowObj struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *ProviderError `json:"error"`
}

// --- Requests ---

func endpoint(account *models.Account, path string) string {
	base := account.BaseURL
	if base == "" {
		base = "https://graph.facebook.com"
	}
	version := account.APIVersion
	if version == "" {
		version = "v19.0"
	}
	return fmt.Sprintf("%s/%s/%s", base, version, path)
}

func (c *Client) doJSON(account *models.Account, method, url string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+account.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var wrapped struct {
			Error *ProviderError `json:"error"`
		}
		if jsonErr := json.Unmarshal(respBody, &wrapped); jsonErr == nil && wrapped.Error != nil {
			return respBody, wrapped.Error
		}
		return respBody, &ProviderError{HTTPError: resp.Status}
	}
	return respBody, nil
}

// SendMessage posts a message payload to the account's phone number and
// returns the provider-assigned message id.
func (c *Client) SendMessage(account *models.Account, msg GenericMessage) (string, error) {
	url := endpoint(account, account.PhoneNumberID+"/messages")
	respBody, err := c.doJSON(account, http.MethodPost, url, msg)
	if err != nil {
		return "", err
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	if parsed.Error != nil {
		return "", parsed.Error
	}
	if len(parsed.Messages) == 0 {
		return "", nil
	}
	return parsed.Messages[0].ID, nil
}

// SendPlainText sends a bare text message, bypassing compliance checks.
// Used for opt-in/opt-out confirmations only.
func (c *Client) SendPlainText(account *models.Account, to, body string) error {
	_, err := c.SendMessage(account, GenericMessage{
		MessagingProduct: "whatsapp",
		To:               phone.Normalize(to),
		Type:             "text",
		Text:             &TextObj{Body: body},
	})
	return err
}

// SendBareTemplate sends a template without parameters. Used for opt-out
// confirmation templates.
func (c *Client) SendBareTemplate(account *models.Account, to string, tmpl *models.Template) error {
	name := tmpl.ActualName
	if name == "" {
		name = tmpl.Name
	}
	_, err := c.SendMessage(account, GenericMessage{
		MessagingProduct: "whatsapp",
		To:               phone.Normalize(to),
		Type:             "template",
		Template: &TemplateObj{
			Name:       name,
			Language:   LanguageObj{Code: tmpl.LanguageCode},
			Components: []ComponentObj{},
		},
	})
	return err
}

// SendReadReceipt marks an incoming message as read.
func (c *Client) SendReadReceipt(account *models.Account, providerMessageID string) error {
	url := endpoint(account, account.PhoneNumberID+"/messages")
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        providerMessageID,
	}
	_, err := c.doJSON(account, http.MethodPost, url, payload)
	return err
}

// --- Media ---

// MediaInfo is the metadata object for an uploaded media id.
type MediaInfo struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	FileSize int64  `json:"file_size"`
}

// MediaMetadata fetches the download URL and mime type for a media id.
func (c *Client) MediaMetadata(account *models.Account, mediaID string) (*MediaInfo, error) {
	url := endpoint(account, mediaID)
	respBody, err := c.doJSON(account, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	var info MediaInfo
	if err := json.Unmarshal(respBody, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DownloadMedia fetches the media binary from the (short-lived) URL returned
// by MediaMetadata. The URL requires the same bearer token.
func (c *Client) DownloadMedia(account *models.Account, mediaURL string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+account.Token)

	resp, err := c.mediaClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("media download failed: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}
