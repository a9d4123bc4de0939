package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"converta/internal/infrastructure"
	"converta/internal/interfaces"
	"converta/internal/repository"
	"converta/internal/usecases"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Deps are the services the router exposes. WhatsApp and Telegram are nil
// when the transport is disabled.
type Deps struct {
	Auth       *usecases.AuthUsecase
	Dashboard  *usecases.DashboardUsecase
	Leads      *usecases.LeadUsecase
	Admin      *usecases.AdminUsecase
	Inbound    *usecases.InboundService
	Connection *usecases.ConnectionUsecase
	Users      interfaces.UserStore
	WhatsApp   *infrastructure.WhatsAppManager
	Telegram   *infrastructure.TelegramBotManager
	Middleware *Middleware

	MetaVerifyToken string
	MaxBodyBytes    int64
	Log             zerolog.Logger
}

type Handler struct {
	deps Deps
	log  zerolog.Logger
}

func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps, log: deps.Log.With().Str("component", "http").Logger()}
}

func SetupRoutes(r *gin.Engine, deps Deps) {
	h := NewHandler(deps)
	m := deps.Middleware
	adminHandler := NewAdminHandler(deps.Admin, deps.WhatsApp, deps.Telegram, deps.Log)
	telegramHandler := NewTelegramHandler(deps.Telegram, deps.Users)

	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 10 << 20
	}

	// Apply Security Middleware
	r.Use(Metrics())
	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(maxBody))
	r.Use(m.CORSMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})
	r.GET("/metrics", gin.WrapH(infrastructure.MetricsHandler()))

	// Channel webhooks
	hooks := r.Group("/webhook")
	{
		hooks.POST("/widget", h.HandleWidget)
		hooks.POST("/evolution", h.HandleEvolution)
		hooks.POST("/venom", h.HandleVenom)
		hooks.GET("/meta", h.VerifyMeta)
		hooks.POST("/meta", h.HandleMeta)
	}

	authGroup := r.Group("/api/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/register", h.Register)
	}

	// Protected Dashboard Routes
	api := r.Group("/api")
	api.Use(m.AuthRequired())
	api.Use(m.RateLimitPerUser(5, 20))
	{
		api.GET("/profile", h.GetProfile)
		api.PUT("/profile/openai-key", h.SetOpenAIKey)
		api.GET("/dashboard/stats", h.GetUserStats)

		api.GET("/agents", h.ListAgents)
		api.POST("/agents", h.CreateAgent)
		api.GET("/agents/:id", h.GetAgent)
		api.PUT("/agents/:id", h.UpdateAgent)
		api.DELETE("/agents/:id", h.DeleteAgent)
		api.POST("/agents/:id/toggle", h.ToggleAgent)
		api.GET("/agents/:id/channels", h.ListBindings)
		api.POST("/agents/:id/channels", h.CreateBinding)
		api.DELETE("/channels/:id", h.DeleteBinding)

		api.GET("/conversations", h.ListConversations)
		api.GET("/conversations/:id", h.GetConversation)
		api.POST("/conversations/:id/extract-lead", h.ExtractLead)

		api.GET("/leads", h.ListLeads)
		api.POST("/leads", h.CreateLead)
		api.GET("/leads/board", h.LeadBoard)
		api.POST("/leads/import", h.ImportLeads)
		api.PUT("/leads/:id", h.UpdateLead)
		api.DELETE("/leads/:id", h.DeleteLead)
		api.POST("/leads/:id/move", h.MoveLead)
		api.POST("/leads/:id/confirm", h.ConfirmLead)

		api.GET("/stages", h.ListStages)
		api.POST("/stages", h.CreateStage)
		api.PUT("/stages/:id", h.UpdateStage)
		api.DELETE("/stages/:id", h.DeleteStage)
		api.POST("/stages/:id/move", h.MoveStage)

		api.POST("/whatsapp/connect", h.ConnectWhatsApp)
		api.GET("/whatsapp/qr", h.GetWhatsAppQR)
		api.GET("/whatsapp/status", h.GetWhatsAppStatus)
		api.GET("/whatsapp/status/stream", h.StreamWhatsAppStatus)
		api.POST("/whatsapp/logout", h.LogoutWhatsApp)

		// Telegram Management Routes (per-user bots)
		telegramHandler.RegisterRoutes(api)
	}

	// Admin-only Routes
	admin := r.Group("/api/admin")
	admin.Use(m.AuthRequired())
	admin.Use(m.AdminRequired())
	{
		admin.GET("/stats", adminHandler.GetStats)
		admin.GET("/users", adminHandler.GetAllUsers)
		admin.PUT("/users/:id/status", adminHandler.UpdateUserStatus)
		admin.PUT("/users/:id/limits", adminHandler.UpdateUserLimits)
		admin.POST("/users/:id/disconnect-wa", adminHandler.DisconnectUserWA)
	}
}

func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	token, err := h.deps.Auth.Login(c.Request.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, usecases.ErrAccountDisabled):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	case errors.Is(err, usecases.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	case err != nil:
		h.internalError(c, "login", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !ValidSlug(req.Username) || len(req.Password) < MinPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid username or password (min 6 chars)"})
		return
	}
	user, err := h.deps.Auth.Register(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, usecases.ErrUsernameTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.internalError(c, "register", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "registered", "id": user.ID})
}

func (h *Handler) GetProfile(c *gin.Context) {
	user, err := h.deps.Dashboard.Profile(c.Request.Context(), getUserID(c))
	if err != nil {
		h.respondError(c, "profile", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":             user.ID,
		"username":       user.Username,
		"role":           user.Role,
		"has_openai_key": user.HasOpenAIKey(),
		"has_telegram":   user.TelegramToken != "",
		"daily_limit":    user.DailyLimit,
		"monthly_limit":  user.MonthlyLimit,
		"created_at":     user.CreatedAt,
	})
}

func (h *Handler) SetOpenAIKey(c *gin.Context) {
	var req struct {
		Key string `json:"openai_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if len(req.Key) > MaxCredentialLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Key too long"})
		return
	}
	if err := h.deps.Dashboard.SetOpenAIKey(c.Request.Context(), getUserID(c), req.Key); err != nil {
		h.respondError(c, "set openai key", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved", "has_openai_key": req.Key != ""})
}

// getUserID extracts user ID from JWT context
func getUserID(c *gin.Context) int {
	if uid, ok := c.Get("user_id"); ok {
		if id, ok := uid.(int); ok {
			return id
		}
	}
	return 0
}

func paramInt(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return v, true
}

// respondError maps domain errors onto HTTP statuses
func (h *Handler) respondError(c *gin.Context, op string, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.internalError(c, op, err)
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handler) internalError(c *gin.Context, op string, err error) {
	h.log.Error().Err(err).Str("op", op).Int("user_id", getUserID(c)).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrDuplicate), errors.Is(err, repository.ErrRouteTaken):
		return http.StatusConflict
	case errors.Is(err, usecases.ErrAgentNameRequired),
		errors.Is(err, usecases.ErrRoutingKeyRequired),
		errors.Is(err, usecases.ErrProviderMismatch),
		errors.Is(err, usecases.ErrLeadContactRequired),
		errors.Is(err, usecases.ErrStageNameRequired),
		errors.Is(err, usecases.ErrNoContactFound),
		errors.Is(err, usecases.ErrUnknownProvider),
		errors.Is(err, usecases.ErrSelfDisable),
		errors.Is(err, usecases.ErrNegativeLimits),
		errors.Is(err, usecases.ErrInvalidInbound),
		errors.Is(err, errBadInput):
		return http.StatusBadRequest
	case errors.Is(err, usecases.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, usecases.ErrRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}
