package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"whatsapp-compliance-gateway/internal/compliance"
	"whatsapp-compliance-gateway/internal/outbound"
	"whatsapp-compliance-gateway/internal/whatsapp"
)

// SendHandler exposes the outbound orchestrator. Compliance denials come back
// as structured 403s so callers can distinguish policy from transport
// failures.
type SendHandler struct {
	sender *outbound.Sender
}

func NewSendHandler(sender *outbound.Sender) *SendHandler {
	return &SendHandler{sender: sender}
}

func (h *SendHandler) SendMessage(c *gin.Context) {
	var req outbound.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.To == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to is required"})
		return
	}
	if req.ContentType == "" && req.TemplateName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content_type or template is required"})
		return
	}

	msg, err := h.sender.Send(req)
	if err != nil {
		var consentErr *compliance.ConsentError
		if errors.As(err, &consentErr) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":          "consent check failed",
				"consent_status": consentErr.Status,
				"reason":         consentErr.Reason,
			})
			return
		}
		var windowErr *compliance.WindowError
		if errors.As(err, &windowErr) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":  "outside conversation window",
				"reason": windowErr.Reason,
			})
			return
		}
		var complianceErr *compliance.ComplianceError
		if errors.As(err, &complianceErr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":  "template compliance failed",
				"reason": complianceErr.Reason,
			})
			return
		}
		var providerErr *whatsapp.ProviderError
		if errors.As(err, &providerErr) {
			// The message record exists with status failed; surface the
			// provider detail.
			var id uint
			if msg != nil {
				id = msg.ID
			}
			c.JSON(http.StatusBadGateway, gin.H{
				"error":      providerErr.Error(),
				"message_id": id,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":              "sent",
		"message_id":          msg.ID,
		"provider_message_id": msg.ProviderMessageID,
		"consent_status":      msg.ConsentStatusAtSend,
		"within_window":       msg.WithinWindow,
	})
}
