package http

import (
	"net/http"

	"converta/internal/infrastructure"
	"converta/internal/interfaces"

	"github.com/gin-gonic/gin"
)

// TelegramHandler handles per-user Telegram bot management
type TelegramHandler struct {
	tgManager *infrastructure.TelegramBotManager
	users     interfaces.UserStore
}

func NewTelegramHandler(tgManager *infrastructure.TelegramBotManager, users interfaces.UserStore) *TelegramHandler {
	return &TelegramHandler{
		tgManager: tgManager,
		users:     users,
	}
}

// RegisterRoutes registers Telegram management routes
func (h *TelegramHandler) RegisterRoutes(api *gin.RouterGroup) {
	tg := api.Group("/telegram")
	tg.Use(h.requireManager)
	{
		tg.GET("/status", h.GetStatus)
		tg.POST("/token", h.SaveToken)
		tg.POST("/connect", h.Connect)
		tg.POST("/disconnect", h.Disconnect)
		tg.POST("/validate", h.ValidateToken)
	}
}

func (h *TelegramHandler) requireManager(c *gin.Context) {
	if h.tgManager == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Telegram not configured"})
		return
	}
	c.Next()
}

// GetStatus returns the connection status of user's Telegram bot
func (h *TelegramHandler) GetStatus(c *gin.Context) {
	userID := getUserID(c)
	user, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get token"})
		return
	}

	connected, botName := h.tgManager.Status(userID)
	c.JSON(http.StatusOK, gin.H{
		"has_token": user.TelegramToken != "",
		"connected": connected,
		"bot_name":  botName,
	})
}

// SaveToken validates and stores the bot token. An empty token clears it
// and stops the running bot.
func (h *TelegramHandler) SaveToken(c *gin.Context) {
	userID := getUserID(c)
	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Token) > MaxCredentialLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if req.Token == "" {
		h.tgManager.Disconnect(userID)
		if err := h.users.UpdateTelegramToken(c.Request.Context(), userID, ""); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "cleared"})
		return
	}

	botName, err := h.tgManager.ValidateToken(req.Token)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.users.UpdateTelegramToken(c.Request.Context(), userID, req.Token); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "saved",
		"bot_name": botName,
	})
}

// ValidateToken checks if a token is valid without saving
func (h *TelegramHandler) ValidateToken(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	botName, err := h.tgManager.ValidateToken(req.Token)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":    true,
		"bot_name": "@" + botName,
	})
}

// Connect starts the user's Telegram bot
func (h *TelegramHandler) Connect(c *gin.Context) {
	userID := getUserID(c)
	user, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil || user.TelegramToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No token configured. Please save your bot token first."})
		return
	}

	instance, err := h.tgManager.Connect(userID, user.TelegramToken)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to connect: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "connected",
		"bot_name": "@" + instance.Bot.Self.UserName,
	})
}

// Disconnect stops the user's Telegram bot
func (h *TelegramHandler) Disconnect(c *gin.Context) {
	h.tgManager.Disconnect(getUserID(c))
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}
