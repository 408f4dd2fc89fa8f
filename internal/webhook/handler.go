package webhook

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"whatsapp-compliance-gateway/internal/models"
	"whatsapp-compliance-gateway/internal/queue"
)

// AccountVerifier matches webhook verification tokens against accounts.
type AccountVerifier interface {
	ByVerifyToken(token string) (*models.Account, error)
}

// PayloadLog keeps best-effort raw copies of inbound payloads.
type PayloadLog interface {
	Append(source, payload string) error
}

// Handler is the HTTP face of webhook ingestion. It does no processing of its
// own: deliveries are logged, queued and acknowledged immediately so the
// provider never waits on database work.
type Handler struct {
	accounts   AccountVerifier
	logs       PayloadLog
	dispatcher queue.Dispatcher
}

func NewHandler(accounts AccountVerifier, logs PayloadLog, dispatcher queue.Dispatcher) *Handler {
	return &Handler{accounts: accounts, logs: logs, dispatcher: dispatcher}
}

// VerifyWebhook answers the provider's subscription handshake. The token must
// belong to one of the configured accounts.
func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "" || token == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	if mode != "subscribe" {
		c.Status(http.StatusForbidden)
		return
	}

	account, err := h.accounts.ByVerifyToken(token)
	if err != nil {
		log.Printf("Webhook verification lookup failed: %v", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if account == nil {
		c.Status(http.StatusForbidden)
		return
	}

	log.Printf("Webhook verified for account %s", account.Name)
	c.String(http.StatusOK, challenge)
}

// HandleMessage accepts a webhook delivery and queues it for processing.
func (h *Handler) HandleMessage(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	// Diagnostics only; a failed log write never rejects a delivery.
	if err := h.logs.Append("whatsapp", string(body)); err != nil {
		log.Printf("Failed to log webhook payload: %v", err)
	}

	if err := h.dispatcher.Submit(c.Request.Context(), TaskProcessPayload, body, queue.ClassShort); err != nil {
		log.Printf("Failed to queue webhook payload: %v", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.String(http.StatusOK, "ok")
}
