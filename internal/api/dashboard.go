package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"whatsapp-compliance-gateway/internal/compliance"
	"whatsapp-compliance-gateway/internal/models"
	"whatsapp-compliance-gateway/internal/store"
)

// DashboardHandler serves message listings and the settings cache control.
type DashboardHandler struct {
	messages *store.MessageRepository
	settings *compliance.SettingsCache
}

func NewDashboardHandler(messages *store.MessageRepository, settings *compliance.SettingsCache) *DashboardHandler {
	return &DashboardHandler{messages: messages, settings: settings}
}

func (h *DashboardHandler) GetMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	msgs, err := h.messages.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Return empty array instead of null
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

// InvalidateSettings drops the cached compliance settings so the next check
// rereads the database. Called after the settings row is edited.
func (h *DashboardHandler) InvalidateSettings(c *gin.Context) {
	h.settings.Invalidate()
	c.JSON(http.StatusOK, gin.H{"status": "settings cache invalidated"})
}
