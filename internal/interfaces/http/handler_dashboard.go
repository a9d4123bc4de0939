package http

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"converta/internal/entities"

	"github.com/gin-gonic/gin"
)

const (
	defaultConversationPage = 50
	maxConversationPage     = 200
	maxImportBytes          = 5 << 20
)

// GetUserStats returns dashboard stats for the authenticated user
func (h *Handler) GetUserStats(c *gin.Context) {
	userID := getUserID(c)
	stats, err := h.deps.Dashboard.Stats(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, "stats", err)
		return
	}

	// Check WhatsApp status
	waStatus := "disabled"
	waPhone, waName := "", ""
	if h.deps.WhatsApp != nil {
		waStatus = h.deps.WhatsApp.Status(userID)
		if client := h.deps.WhatsApp.GetClient(userID); client != nil {
			waPhone, waName = client.Info()
		}
	}
	tgConnected := false
	if h.deps.Telegram != nil {
		tgConnected, _ = h.deps.Telegram.Status(userID)
	}

	c.JSON(http.StatusOK, gin.H{
		"stats":              stats,
		"wa_status":          waStatus,
		"wa_phone":           waPhone,
		"wa_name":            waName,
		"telegram_connected": tgConnected,
	})
}

// Agents

type agentPayload struct {
	Name    string `json:"name"`
	Channel string `json:"channel"`
	Prompt  string `json:"prompt"`
	Active  *bool  `json:"active"`
}

func (p agentPayload) agent() (entities.Agent, error) {
	name, err := cleanField(p.Name, MaxNameLength)
	if err != nil {
		return entities.Agent{}, err
	}
	prompt := SanitizeString(p.Prompt)
	if !ValidateLength(prompt, 0, MaxPromptLength) {
		return entities.Agent{}, errBadInput
	}
	active := true
	if p.Active != nil {
		active = *p.Active
	}
	return entities.Agent{Name: name, Channel: entities.Channel(p.Channel), Prompt: prompt, Active: active}, nil
}

func (h *Handler) ListAgents(c *gin.Context) {
	agents, err := h.deps.Dashboard.ListAgents(c.Request.Context(), getUserID(c))
	if err != nil {
		h.respondError(c, "list agents", err)
		return
	}
	c.JSON(http.StatusOK, agents)
}

func (h *Handler) GetAgent(c *gin.Context) {
	agent, err := h.deps.Dashboard.GetAgent(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "get agent", err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (h *Handler) CreateAgent(c *gin.Context) {
	var payload agentPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	agent, err := payload.agent()
	if err != nil {
		h.respondError(c, "create agent", err)
		return
	}
	if _, err := entities.ParseChannel(payload.Channel); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.deps.Dashboard.CreateAgent(c.Request.Context(), getUserID(c), &agent); err != nil {
		h.respondError(c, "create agent", err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

func (h *Handler) UpdateAgent(c *gin.Context) {
	var payload agentPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	patch, err := payload.agent()
	if err != nil {
		h.respondError(c, "update agent", err)
		return
	}
	if _, err := entities.ParseChannel(payload.Channel); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	agent, err := h.deps.Dashboard.UpdateAgent(c.Request.Context(), getUserID(c), c.Param("id"), patch)
	if err != nil {
		h.respondError(c, "update agent", err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (h *Handler) ToggleAgent(c *gin.Context) {
	active, err := h.deps.Dashboard.ToggleAgent(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "toggle agent", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated", "active": active})
}

func (h *Handler) DeleteAgent(c *gin.Context) {
	if err := h.deps.Dashboard.DeleteAgent(c.Request.Context(), getUserID(c), c.Param("id")); err != nil {
		h.respondError(c, "delete agent", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Channel bindings

func (h *Handler) ListBindings(c *gin.Context) {
	bindings, err := h.deps.Dashboard.ListBindings(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "list bindings", err)
		return
	}
	c.JSON(http.StatusOK, bindings)
}

func (h *Handler) CreateBinding(c *gin.Context) {
	var payload struct {
		Channel    string `json:"channel"`
		Provider   string `json:"provider"`
		RoutingKey string `json:"routing_key"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	key, err := cleanField(payload.RoutingKey, MaxRoutingKeyLength)
	if err != nil {
		h.respondError(c, "bind channel", err)
		return
	}
	if payload.Channel != "" {
		if _, err := entities.ParseChannel(payload.Channel); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if !entities.ValidProvider(payload.Provider) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown provider"})
		return
	}
	binding := &entities.AgentChannel{
		Channel:    entities.Channel(payload.Channel),
		Provider:   payload.Provider,
		RoutingKey: key,
	}
	if err := h.deps.Dashboard.Bind(c.Request.Context(), getUserID(c), c.Param("id"), binding); err != nil {
		h.respondError(c, "bind channel", err)
		return
	}
	c.JSON(http.StatusCreated, binding)
}

func (h *Handler) DeleteBinding(c *gin.Context) {
	if err := h.deps.Dashboard.Unbind(c.Request.Context(), getUserID(c), c.Param("id")); err != nil {
		h.respondError(c, "unbind channel", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Conversations

func (h *Handler) ListConversations(c *gin.Context) {
	limit := defaultConversationPage
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = min(n, maxConversationPage)
	}
	convs, err := h.deps.Dashboard.ListConversations(c.Request.Context(), getUserID(c), c.Query("agent_id"), limit)
	if err != nil {
		h.respondError(c, "list conversations", err)
		return
	}
	c.JSON(http.StatusOK, convs)
}

func (h *Handler) GetConversation(c *gin.Context) {
	conv, err := h.deps.Dashboard.GetConversation(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "get conversation", err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) ExtractLead(c *gin.Context) {
	lead, created, err := h.deps.Dashboard.ExtractLead(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "extract lead", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"lead": lead, "created": created})
}

// Leads

type leadPayload struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Notes   string `json:"notes"`
	Score   int    `json:"score"`
	StageID string `json:"stage_id"`
}

func (p leadPayload) lead() (entities.Lead, error) {
	var l entities.Lead
	var err error
	if l.Name, err = cleanField(p.Name, MaxNameLength); err != nil {
		return l, err
	}
	if l.Phone, err = cleanField(p.Phone, MaxNameLength); err != nil {
		return l, err
	}
	if l.Email, err = cleanField(p.Email, MaxNameLength); err != nil {
		return l, err
	}
	if l.Notes, err = cleanField(p.Notes, MaxNotesLength); err != nil {
		return l, err
	}
	l.Score = p.Score
	l.StageID = p.StageID
	return l, nil
}

func (h *Handler) ListLeads(c *gin.Context) {
	leads, err := h.deps.Leads.List(c.Request.Context(), getUserID(c), c.Query("stage_id"))
	if err != nil {
		h.respondError(c, "list leads", err)
		return
	}
	c.JSON(http.StatusOK, leads)
}

func (h *Handler) LeadBoard(c *gin.Context) {
	board, err := h.deps.Leads.Board(c.Request.Context(), getUserID(c))
	if err != nil {
		h.respondError(c, "lead board", err)
		return
	}
	c.JSON(http.StatusOK, board)
}

func (h *Handler) CreateLead(c *gin.Context) {
	var payload leadPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	lead, err := payload.lead()
	if err != nil {
		h.respondError(c, "create lead", err)
		return
	}
	if err := h.deps.Leads.Create(c.Request.Context(), getUserID(c), &lead); err != nil {
		h.respondError(c, "create lead", err)
		return
	}
	c.JSON(http.StatusCreated, lead)
}

func (h *Handler) UpdateLead(c *gin.Context) {
	var payload leadPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	patch, err := payload.lead()
	if err != nil {
		h.respondError(c, "update lead", err)
		return
	}
	lead, err := h.deps.Leads.Update(c.Request.Context(), getUserID(c), c.Param("id"), patch)
	if err != nil {
		h.respondError(c, "update lead", err)
		return
	}
	c.JSON(http.StatusOK, lead)
}

func (h *Handler) DeleteLead(c *gin.Context) {
	if err := h.deps.Leads.Delete(c.Request.Context(), getUserID(c), c.Param("id")); err != nil {
		h.respondError(c, "delete lead", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *Handler) MoveLead(c *gin.Context) {
	var payload struct {
		StageID string `json:"stage_id"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := h.deps.Leads.Move(c.Request.Context(), getUserID(c), c.Param("id"), payload.StageID); err != nil {
		h.respondError(c, "move lead", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "moved", "stage_id": payload.StageID})
}

func (h *Handler) ConfirmLead(c *gin.Context) {
	if err := h.deps.Leads.Confirm(c.Request.Context(), getUserID(c), c.Param("id")); err != nil {
		h.respondError(c, "confirm lead", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "confirmed"})
}

// ImportLeads accepts a CSV either as multipart field "file" or as the raw body
func (h *Handler) ImportLeads(c *gin.Context) {
	var data io.Reader = http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBytes)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid upload"})
			return
		}
		defer f.Close()
		data = f
	}
	n, err := h.deps.Leads.Import(c.Request.Context(), getUserID(c), data)
	if err != nil {
		h.log.Warn().Err(err).Int("user_id", getUserID(c)).Msg("lead import rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "imported", "count": n})
}

// Pipeline stages

type stagePayload struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (p stagePayload) clean() (string, string, error) {
	name, err := cleanField(p.Name, MaxNameLength)
	if err != nil || !ValidColor(p.Color) {
		return "", "", errBadInput
	}
	return name, p.Color, nil
}

func (h *Handler) ListStages(c *gin.Context) {
	stages, err := h.deps.Leads.Stages(c.Request.Context(), getUserID(c))
	if err != nil {
		h.respondError(c, "list stages", err)
		return
	}
	c.JSON(http.StatusOK, stages)
}

func (h *Handler) CreateStage(c *gin.Context) {
	var payload stagePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	name, color, err := payload.clean()
	if err != nil {
		h.respondError(c, "create stage", err)
		return
	}
	stage, err := h.deps.Leads.CreateStage(c.Request.Context(), getUserID(c), name, color)
	if err != nil {
		h.respondError(c, "create stage", err)
		return
	}
	c.JSON(http.StatusCreated, stage)
}

func (h *Handler) UpdateStage(c *gin.Context) {
	var payload stagePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	name, color, err := payload.clean()
	if err != nil {
		h.respondError(c, "update stage", err)
		return
	}
	stage, err := h.deps.Leads.UpdateStage(c.Request.Context(), getUserID(c), c.Param("id"), name, color)
	if err != nil {
		h.respondError(c, "update stage", err)
		return
	}
	c.JSON(http.StatusOK, stage)
}

func (h *Handler) DeleteStage(c *gin.Context) {
	if err := h.deps.Leads.DeleteStage(c.Request.Context(), getUserID(c), c.Param("id")); err != nil {
		h.respondError(c, "delete stage", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *Handler) MoveStage(c *gin.Context) {
	var payload struct {
		Position *int `json:"position"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil || payload.Position == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "position is required"})
		return
	}
	stages, err := h.deps.Leads.MoveStage(c.Request.Context(), getUserID(c), c.Param("id"), *payload.Position)
	if err != nil {
		h.respondError(c, "move stage", err)
		return
	}
	c.JSON(http.StatusOK, stages)
}
