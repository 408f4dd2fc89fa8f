package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"whatsapp-compliance-gateway/internal/consent"
	"whatsapp-compliance-gateway/internal/models"
	"whatsapp-compliance-gateway/internal/phone"
	"whatsapp-compliance-gateway/internal/store"
)

// ConsentHandler exposes manual consent mutations and profile lookups. All
// mutations are logged with source API.
type ConsentHandler struct {
	service  *consent.Service
	profiles *store.ProfileRepository
	accounts *store.AccountRepository
	logs     *store.ConsentLogRepository
}

func NewConsentHandler(service *consent.Service, profiles *store.ProfileRepository,
	accounts *store.AccountRepository, logs *store.ConsentLogRepository) *ConsentHandler {
	return &ConsentHandler{service: service, profiles: profiles, accounts: accounts, logs: logs}
}

type consentRequest struct {
	Number    string `json:"number" binding:"required"`
	AccountID uint   `json:"account_id"`
	Actor     string `json:"actor"`
}

func (h *ConsentHandler) OptIn(c *gin.Context) {
	var req consentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.resolveAccount(req.AccountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.ProcessOptIn(req.Number, account, 0, models.SourceAPI, req.Actor); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "opted in", "number": phone.Normalize(req.Number)})
}

func (h *ConsentHandler) OptOut(c *gin.Context) {
	var req consentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.resolveAccount(req.AccountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.ProcessOptOut(req.Number, account, 0, nil, models.SourceAPI, req.Actor); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "opted out", "number": phone.Normalize(req.Number)})
}

// GetProfile returns the consent state and audit trail for a number.
func (h *ConsentHandler) GetProfile(c *gin.Context) {
	number := c.Param("number")
	profile, err := h.profiles.ByNumber(number)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if profile == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no consent profile for this number"})
		return
	}

	logs, err := h.logs.ByProfile(profile.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []models.ConsentLog{}
	}

	c.JSON(http.StatusOK, gin.H{"profile": profile, "logs": logs})
}

func (h *ConsentHandler) resolveAccount(id uint) (*models.Account, error) {
	if id == 0 {
		return h.accounts.DefaultOutgoing()
	}
	return h.accounts.ByID(id)
}
