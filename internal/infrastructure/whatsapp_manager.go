package infrastructure

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"converta/internal/entities"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/types/events"
)

// InboundHandler receives normalized messages from in-process transports
type InboundHandler func(ctx context.Context, msg entities.InboundMessage)

// WhatsAppManager owns one WhatsApp Web client per tenant
type WhatsAppManager struct {
	clients map[int]*WhatsAppClient
	mu      sync.RWMutex
	baseDir string
	log     zerolog.Logger

	// OnMessage is called for every relayable inbound message
	OnMessage InboundHandler
}

func NewWhatsAppManager(baseDir string, log zerolog.Logger) (*WhatsAppManager, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating devices directory: %w", err)
	}
	return &WhatsAppManager{
		clients: make(map[int]*WhatsAppClient),
		baseDir: baseDir,
		log:     log.With().Str("component", "whatsapp").Logger(),
	}, nil
}

func (m *WhatsAppManager) devicePath(userID int) string {
	return filepath.Join(m.baseDir, fmt.Sprintf("user_%d.db", userID))
}

// GetClient returns the user's client or nil
func (m *WhatsAppManager) GetClient(userID int) *WhatsAppClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[userID]
}

func (m *WhatsAppManager) getOrCreate(ctx context.Context, userID int) (*WhatsAppClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.clients[userID]; ok {
		return client, nil
	}
	client, err := NewWhatsAppClient(ctx, m.devicePath(userID), userID, m.log)
	if err != nil {
		return nil, fmt.Errorf("creating whatsapp client for user %d: %w", userID, err)
	}
	client.AddHandler(m.eventHandler(userID))
	m.clients[userID] = client
	return client, nil
}

func (m *WhatsAppManager) eventHandler(userID int) func(interface{}) {
	return func(evt interface{}) {
		msg, ok := evt.(*events.Message)
		if !ok || m.OnMessage == nil {
			return
		}
		inbound, ok := inboundFromEvent(userID, msg)
		if !ok {
			return
		}
		// whatsmeow dispatches events synchronously
		go m.OnMessage(context.Background(), inbound)
	}
}

// Connect starts (or resumes) the user's session
func (m *WhatsAppManager) Connect(ctx context.Context, userID int) (*WhatsAppClient, error) {
	client, err := m.getOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if client.Client.IsConnected() {
		return client, nil
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting whatsapp for user %d: %w", userID, err)
	}
	return client, nil
}

// Status is the probe used by the connection poller
func (m *WhatsAppManager) Status(userID int) string {
	client := m.GetClient(userID)
	if client == nil {
		return StatusDisconnected
	}
	return client.Status()
}

// Logout unpairs the device. A missing client counts as logged out.
func (m *WhatsAppManager) Logout(ctx context.Context, userID int) error {
	m.mu.Lock()
	client, ok := m.clients[userID]
	delete(m.clients, userID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	defer client.Disconnect()
	if !client.IsLoggedIn() {
		return nil
	}
	return client.Logout(ctx)
}

// SendMessage delivers through the owner's session
func (m *WhatsAppManager) SendMessage(ctx context.Context, msg entities.OutboundMessage) error {
	client := m.GetClient(msg.OwnerID)
	if client == nil || !client.Client.IsConnected() {
		return fmt.Errorf("whatsapp not connected for user %d", msg.OwnerID)
	}
	return client.SendText(ctx, msg.To, msg.Text)
}

var deviceFile = regexp.MustCompile(`^user_(\d+)\.db$`)

// RestoreSessions reconnects every tenant that already has a device store
func (m *WhatsAppManager) RestoreSessions(ctx context.Context) int {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		m.log.Warn().Err(err).Msg("listing device stores")
		return 0
	}
	restored := 0
	for _, e := range entries {
		match := deviceFile.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		userID, _ := strconv.Atoi(match[1])
		client, err := m.getOrCreate(ctx, userID)
		if err != nil {
			m.log.Warn().Err(err).Int("user_id", userID).Msg("restoring session")
			continue
		}
		if !client.IsLoggedIn() {
			continue
		}
		if err := client.Connect(ctx); err != nil {
			m.log.Warn().Err(err).Int("user_id", userID).Msg("reconnecting session")
			continue
		}
		restored++
	}
	return restored
}

// ConnectedUsers lists tenants with a paired device
func (m *WhatsAppManager) ConnectedUsers() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var users []int
	for userID, client := range m.clients {
		if client.IsLoggedIn() {
			users = append(users, userID)
		}
	}
	return users
}

// DisconnectAll is used on shutdown
func (m *WhatsAppManager) DisconnectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, client := range m.clients {
		client.Disconnect()
	}
	m.clients = make(map[int]*WhatsAppClient)
}
