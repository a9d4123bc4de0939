package http

import (
	"net/http"

	"converta/internal/infrastructure"
	"converta/internal/usecases"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type AdminHandler struct {
	admin     *usecases.AdminUsecase
	waManager *infrastructure.WhatsAppManager
	tgManager *infrastructure.TelegramBotManager
	log       zerolog.Logger
}

func NewAdminHandler(admin *usecases.AdminUsecase, waManager *infrastructure.WhatsAppManager, tgManager *infrastructure.TelegramBotManager, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		admin:     admin,
		waManager: waManager,
		tgManager: tgManager,
		log:       log.With().Str("component", "admin").Logger(),
	}
}

// GetStats returns platform statistics
func (h *AdminHandler) GetStats(c *gin.Context) {
	stats, err := h.admin.Stats(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("admin stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetAllUsers returns every account with its live transport state
func (h *AdminHandler) GetAllUsers(c *gin.Context) {
	users, err := h.admin.Users(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("admin users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch users"})
		return
	}
	c.JSON(http.StatusOK, users)
}

// UpdateUserStatus enables/disables a user account
func (h *AdminHandler) UpdateUserStatus(c *gin.Context) {
	userID, ok := paramInt(c, "id")
	if !ok {
		return
	}
	var payload struct {
		IsActive bool `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.admin.SetStatus(c.Request.Context(), getUserID(c), userID, payload.IsActive); err != nil {
		h.fail(c, "update status", err)
		return
	}
	// disabled accounts lose their live transports
	if !payload.IsActive {
		h.disconnect(userID)
	}
	h.log.Info().Int("admin_id", getUserID(c)).Int("user_id", userID).Bool("active", payload.IsActive).Msg("account status changed")
	c.JSON(http.StatusOK, gin.H{"status": "updated", "is_active": payload.IsActive})
}

// UpdateUserLimits sets message quotas for a user
func (h *AdminHandler) UpdateUserLimits(c *gin.Context) {
	userID, ok := paramInt(c, "id")
	if !ok {
		return
	}
	var payload struct {
		DailyLimit   int `json:"daily_limit"`
		MonthlyLimit int `json:"monthly_limit"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.admin.SetLimits(c.Request.Context(), userID, payload.DailyLimit, payload.MonthlyLimit); err != nil {
		h.fail(c, "update limits", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "updated",
		"daily_limit":   payload.DailyLimit,
		"monthly_limit": payload.MonthlyLimit,
	})
}

// DisconnectUserWA forcefully disconnects a user's WhatsApp
func (h *AdminHandler) DisconnectUserWA(c *gin.Context) {
	userID, ok := paramInt(c, "id")
	if !ok {
		return
	}
	if h.waManager == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "WhatsApp not configured"})
		return
	}
	if client := h.waManager.GetClient(userID); client != nil {
		client.Disconnect()
	}
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

func (h *AdminHandler) disconnect(userID int) {
	if h.waManager != nil {
		if client := h.waManager.GetClient(userID); client != nil {
			client.Disconnect()
		}
	}
	if h.tgManager != nil {
		h.tgManager.Disconnect(userID)
	}
}

func (h *AdminHandler) fail(c *gin.Context, op string, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("op", op).Msg("admin request failed")
		c.JSON(status, gin.H{"error": "Internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
