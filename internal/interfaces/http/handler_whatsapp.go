package http

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"converta/internal/entities"
	"converta/internal/infrastructure"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"
)

const wsWriteWait = 10 * time.Second

type statusFrame struct {
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
	QR     string    `json:"qr,omitempty"` // PNG data URL while waiting for a scan
	Final  bool      `json:"final,omitempty"`
	At     time.Time `json:"at"`
}

// ConnectWhatsApp creates and connects the user's whatsmeow session
func (h *Handler) ConnectWhatsApp(c *gin.Context) {
	userID := getUserID(c)
	if h.deps.WhatsApp == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "WhatsApp not configured"})
		return
	}

	client, err := h.deps.WhatsApp.Connect(c.Request.Context(), userID)
	if err != nil {
		h.internalError(c, "connect whatsapp", err)
		return
	}

	phone, name := client.Info()
	c.JSON(http.StatusOK, gin.H{
		"status":    client.Status(),
		"connected": client.IsLoggedIn(),
		"phone":     phone,
		"name":      name,
	})
}

// GetWhatsAppQR returns the pairing QR code as PNG
func (h *Handler) GetWhatsAppQR(c *gin.Context) {
	userID := getUserID(c)
	if h.deps.WhatsApp == nil {
		c.String(http.StatusServiceUnavailable, "WhatsApp not configured")
		return
	}

	client, err := h.deps.WhatsApp.Connect(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Int("user_id", userID).Msg("whatsapp qr")
		c.String(http.StatusInternalServerError, "Failed to connect")
		return
	}

	code := client.GetQR()
	if code == "" {
		if client.IsLoggedIn() {
			c.String(http.StatusOK, "Already logged in")
			return
		}
		c.String(http.StatusAccepted, "QR code not yet available. Please wait...")
		return
	}

	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		c.String(http.StatusInternalServerError, "Failed to generate QR code")
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) GetWhatsAppStatus(c *gin.Context) {
	userID := getUserID(c)
	if h.deps.WhatsApp == nil {
		c.JSON(http.StatusOK, gin.H{"status": infrastructure.StatusDisconnected, "connected": false, "error": "WhatsApp not configured"})
		return
	}

	client := h.deps.WhatsApp.GetClient(userID)
	if client == nil {
		c.JSON(http.StatusOK, gin.H{"status": infrastructure.StatusDisconnected, "connected": false, "initialized": false})
		return
	}
	phone, name := client.Info()
	c.JSON(http.StatusOK, gin.H{
		"status":      client.Status(),
		"connected":   client.IsLoggedIn(),
		"initialized": true,
		"phone":       phone,
		"name":        name,
		"has_qr":      client.GetQR() != "",
	})
}

// StreamWhatsAppStatus pushes connection status changes over a WebSocket
// until the session connects, logs out, the poll times out or the client
// goes away. ?provider=evolution&instance=X watches a gateway instance.
func (h *Handler) StreamWhatsAppStatus(c *gin.Context) {
	userID := getUserID(c)
	provider, instance := c.Query("provider"), c.Query("instance")
	if h.deps.Connection == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "WhatsApp not configured"})
		return
	}
	// validate before upgrading so errors keep their HTTP status
	if _, err := h.deps.Connection.Probe(c.Request.Context(), userID, provider, instance); err != nil {
		h.respondError(c, "status stream", err)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: h.checkOrigin}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Int("user_id", userID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	infrastructure.StatusStreamOpened()
	defer infrastructure.StatusStreamClosed()

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	// the client only ever closes; reading surfaces that
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(f statusFrame) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(f)
	}

	task, err := h.deps.Connection.Watch(ctx, userID, provider, instance, func(u infrastructure.PollUpdate) {
		f := statusFrame{Status: u.Status, At: u.At}
		if u.Err != nil {
			f.Error = u.Err.Error()
		}
		if u.Status == infrastructure.StatusWaitingQR && isWhatsmeow(provider) {
			f.QR = h.qrDataURL(userID)
		}
		if err := send(f); err != nil {
			cancel()
		}
	})
	if err != nil {
		_ = send(statusFrame{Status: infrastructure.StatusUnknown, Error: err.Error(), Final: true, At: time.Now()})
		return
	}
	<-task.Done()

	_ = send(statusFrame{Status: task.Result(), Final: true, At: time.Now()})
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, task.Result()))
}

func (h *Handler) LogoutWhatsApp(c *gin.Context) {
	userID := getUserID(c)
	if h.deps.WhatsApp == nil {
		c.JSON(http.StatusOK, gin.H{"status": "logged_out", "message": "WhatsApp not configured"})
		return
	}

	// already unpaired sessions count as logged out
	if err := h.deps.WhatsApp.Logout(c.Request.Context(), userID); err != nil {
		h.log.Warn().Err(err).Int("user_id", userID).Msg("whatsapp logout")
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

func (h *Handler) qrDataURL(userID int) string {
	if h.deps.WhatsApp == nil {
		return ""
	}
	client := h.deps.WhatsApp.GetClient(userID)
	if client == nil || client.GetQR() == "" {
		return ""
	}
	png, err := qrcode.Encode(client.GetQR(), qrcode.Medium, 256)
	if err != nil {
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	allowed := "*"
	if h.deps.Middleware != nil {
		allowed = h.deps.Middleware.allowOrigin
	}
	return origin == "" || allowed == "*" || origin == allowed
}

func isWhatsmeow(provider string) bool {
	return provider == "" || provider == entities.ProviderWhatsmeow
}
