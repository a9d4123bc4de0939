package infrastructure

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"converta/internal/entities"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// WhatsAppClient is one tenant's WhatsApp Web session
type WhatsAppClient struct {
	Client *whatsmeow.Client
	UserID int

	log       zerolog.Logger
	mu        sync.RWMutex
	qrCode    string
	loggedOut bool
}

func NewWhatsAppClient(ctx context.Context, dbPath string, userID int, log zerolog.Logger) (*WhatsAppClient, error) {
	log = log.With().Int("user_id", userID).Logger()
	container, err := sqlstore.New(ctx, "sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)", waLog.Zerolog(log.With().Str("module", "store").Logger()))
	if err != nil {
		return nil, fmt.Errorf("opening device store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, waLog.Zerolog(log.With().Str("module", "client").Logger()))
	w := &WhatsAppClient{Client: client, UserID: userID, log: log}
	client.AddEventHandler(w.trackState)
	return w, nil
}

func (w *WhatsAppClient) trackState(evt interface{}) {
	switch evt.(type) {
	case *events.LoggedOut:
		w.mu.Lock()
		w.loggedOut = true
		w.qrCode = ""
		w.mu.Unlock()
		w.log.Info().Msg("whatsapp session logged out")
	case *events.PairSuccess, *events.Connected:
		w.mu.Lock()
		w.loggedOut = false
		w.qrCode = ""
		w.mu.Unlock()
	}
}

// Connect opens the websocket. Without a stored device it starts a QR
// login and keeps the latest code for GetQR.
func (w *WhatsAppClient) Connect(ctx context.Context) error {
	if w.Client.Store.ID != nil {
		if err := w.Client.Connect(); err != nil {
			return err
		}
		w.log.Info().Msg("whatsapp connected with existing session")
		return nil
	}

	qrChan, err := w.Client.GetQRChannel(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("requesting qr channel: %w", err)
	}
	if err := w.Client.Connect(); err != nil {
		return err
	}
	w.mu.Lock()
	w.loggedOut = false
	w.mu.Unlock()

	go func() {
		for evt := range qrChan {
			if evt.Event == whatsmeow.QRChannelEventCode {
				w.mu.Lock()
				w.qrCode = evt.Code
				w.mu.Unlock()
				continue
			}
			w.log.Info().Str("event", evt.Event).Msg("whatsapp login event")
		}
	}()
	return nil
}

func (w *WhatsAppClient) GetQR() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.qrCode
}

func (w *WhatsAppClient) IsLoggedIn() bool {
	return w.Client.Store.ID != nil
}

// Status reports the connection status in poller vocabulary
func (w *WhatsAppClient) Status() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return clientStatus(w.loggedOut, w.Client.Store.ID != nil, w.Client.IsConnected(), w.qrCode != "")
}

func clientStatus(loggedOut, paired, connected, hasQR bool) string {
	switch {
	case loggedOut:
		return StatusLoggedOut
	case paired && connected:
		return StatusConnected
	case hasQR:
		return StatusWaitingQR
	}
	return StatusDisconnected
}

// Info returns the paired phone number and push name
func (w *WhatsAppClient) Info() (phone, name string) {
	if w.Client.Store.ID == nil {
		return "", ""
	}
	return w.Client.Store.ID.User, w.Client.Store.PushName
}

func (w *WhatsAppClient) Logout(ctx context.Context) error {
	w.mu.Lock()
	w.qrCode = ""
	w.mu.Unlock()
	if err := w.Client.Logout(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	w.loggedOut = true
	w.mu.Unlock()
	return nil
}

func (w *WhatsAppClient) Disconnect() {
	w.Client.Disconnect()
}

func (w *WhatsAppClient) AddHandler(handler func(interface{})) {
	w.Client.AddEventHandler(handler)
}

// SendText accepts a bare phone number or a full JID
func (w *WhatsAppClient) SendText(ctx context.Context, to, text string) error {
	jid, err := parseRecipient(to)
	if err != nil {
		return err
	}
	_, err = w.Client.SendMessage(ctx, jid, &waProto.Message{Conversation: &text})
	return err
}

func parseRecipient(to string) (types.JID, error) {
	to = strings.TrimPrefix(strings.TrimSpace(to), "+")
	if !strings.Contains(to, "@") {
		to += "@" + types.DefaultUserServer
	}
	jid, err := types.ParseJID(to)
	if err != nil {
		return types.JID{}, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	return jid, nil
}

// messageText pulls plain text out of a message, empty for media and others
func messageText(msg *waProto.Message) string {
	if text := msg.GetConversation(); text != "" {
		return text
	}
	return msg.GetExtendedTextMessage().GetText()
}

// inboundFromEvent normalizes a whatsmeow message event. ok is false for
// events the relay ignores: own messages, groups, broadcasts and non-text.
func inboundFromEvent(userID int, evt *events.Message) (entities.InboundMessage, bool) {
	if evt.Info.IsFromMe || evt.Info.IsGroup || evt.Info.Chat.Server == types.BroadcastServer {
		return entities.InboundMessage{}, false
	}
	text := strings.TrimSpace(messageText(evt.Message))
	if text == "" {
		return entities.InboundMessage{}, false
	}
	return entities.InboundMessage{
		Channel:   entities.ChannelWhatsApp,
		Provider:  entities.ProviderWhatsmeow,
		OwnerID:   userID,
		SessionID: evt.Info.Sender.User,
		From:      evt.Info.Chat.String(),
		Text:      text,
		MessageID: string(evt.Info.ID),
	}, true
}
