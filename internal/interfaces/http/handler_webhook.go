package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"converta/internal/entities"
	"converta/internal/usecases"

	"github.com/gin-gonic/gin"
)

type widgetRequest struct {
	Message   string      `json:"message"`
	UserID    json.Number `json:"userId"` // accepts "7" and 7
	SessionID string      `json:"sessionId"`
}

type widgetResponse struct {
	Success bool   `json:"success"`
	Reply   string `json:"reply,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HandleWidget relays a website widget message and answers with the reply.
// Fallback replies (no agent, missing configuration, quota) still succeed;
// a failed relay answers 500 with the apology text for the visitor.
func (h *Handler) HandleWidget(c *gin.Context) {
	var req widgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, widgetResponse{Error: "Invalid request"})
		return
	}
	ownerID, err := strconv.Atoi(strings.TrimSpace(req.UserID.String()))
	if err != nil || ownerID <= 0 {
		c.JSON(http.StatusBadRequest, widgetResponse{Error: "Invalid userId"})
		return
	}
	text := TruncateString(SanitizeString(req.Message), MaxMessageLength)
	session := strings.TrimSpace(req.SessionID)
	if strings.TrimSpace(text) == "" || session == "" || len(session) > MaxRoutingKeyLength {
		c.JSON(http.StatusBadRequest, widgetResponse{Error: "message and sessionId are required"})
		return
	}

	res, err := h.deps.Inbound.Handle(c.Request.Context(), entities.InboundMessage{
		Channel:   entities.ChannelWidget,
		Provider:  entities.ProviderWidget,
		OwnerID:   ownerID,
		SessionID: session,
		From:      session,
		Text:      text,
	})
	switch {
	case errors.Is(err, usecases.ErrInvalidInbound):
		c.JSON(http.StatusBadRequest, widgetResponse{Error: err.Error()})
		return
	case errors.Is(err, usecases.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, widgetResponse{Error: "Too many messages, slow down"})
		return
	case err != nil:
		h.log.Error().Err(err).Str("trace_id", res.TraceID).Int("owner_id", ownerID).Str("session_id", session).Msg("widget relay failed")
		c.JSON(http.StatusInternalServerError, widgetResponse{Reply: h.deps.Inbound.ApologyReply(), Error: "Could not process message"})
		return
	}
	c.JSON(http.StatusOK, widgetResponse{Success: true, Reply: res.Reply})
}

func (h *Handler) HandleEvolution(c *gin.Context) {
	var env evolutionEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}
	in, ok := env.inbound()
	h.accept(c, ok, in)
}

func (h *Handler) HandleVenom(c *gin.Context) {
	var env venomEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}
	in, ok := env.inbound()
	h.accept(c, ok, in)
}

// VerifyMeta answers the Graph API subscription handshake
func (h *Handler) VerifyMeta(c *gin.Context) {
	if h.deps.MetaVerifyToken == "" ||
		c.Query("hub.mode") != "subscribe" ||
		c.Query("hub.verify_token") != h.deps.MetaVerifyToken {
		c.JSON(http.StatusForbidden, gin.H{"error": "Verification failed"})
		return
	}
	c.String(http.StatusOK, c.Query("hub.challenge"))
}

func (h *Handler) HandleMeta(c *gin.Context) {
	var env metaEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}
	accepted := false
	for _, in := range env.inbound() {
		in.Text = TruncateString(SanitizeString(in.Text), MaxMessageLength)
		if h.deps.Inbound.Dispatch(c.Request.Context(), in) {
			accepted = true
		}
	}
	webhookStatus(c, accepted)
}

// accept hands a gateway message to the relay in the background
func (h *Handler) accept(c *gin.Context, ok bool, in entities.InboundMessage) {
	if !ok {
		webhookStatus(c, false)
		return
	}
	in.Text = TruncateString(SanitizeString(in.Text), MaxMessageLength)
	webhookStatus(c, h.deps.Inbound.Dispatch(c.Request.Context(), in))
}

// Gateways retry on non-2xx, so dropped messages are still acknowledged
func webhookStatus(c *gin.Context, accepted bool) {
	status := "ignored"
	if accepted {
		status = "received"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}
