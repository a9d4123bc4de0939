package infrastructure

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"converta/internal/entities"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramBotInstance is one tenant's running bot
type TelegramBotInstance struct {
	Bot    *tgbotapi.BotAPI
	UserID int
	cancel context.CancelFunc
	done   chan struct{}
}

// TelegramBotManager runs a long-polling bot per tenant
type TelegramBotManager struct {
	bots map[int]*TelegramBotInstance
	mu   sync.RWMutex
	log  zerolog.Logger

	// OnMessage is called for every relayable text message
	OnMessage InboundHandler

	newBot func(token string) (*tgbotapi.BotAPI, error)
}

func NewTelegramBotManager(log zerolog.Logger) *TelegramBotManager {
	return &TelegramBotManager{
		bots:   make(map[int]*TelegramBotInstance),
		log:    log.With().Str("component", "telegram").Logger(),
		newBot: tgbotapi.NewBotAPI,
	}
}

// ValidateToken calls getMe and returns the bot username
func (m *TelegramBotManager) ValidateToken(token string) (string, error) {
	bot, err := m.newBot(token)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	return bot.Self.UserName, nil
}

// Connect starts polling for the user. An already running bot is kept.
func (m *TelegramBotManager) Connect(userID int, token string) (*TelegramBotInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.bots[userID]; ok {
		return existing, nil
	}
	bot, err := m.newBot(token)
	if err != nil {
		return nil, fmt.Errorf("creating bot: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	instance := &TelegramBotInstance{Bot: bot, UserID: userID, cancel: cancel, done: make(chan struct{})}
	m.bots[userID] = instance
	go m.poll(ctx, instance)
	return instance, nil
}

func (m *TelegramBotManager) poll(ctx context.Context, instance *TelegramBotInstance) {
	defer close(instance.done)
	log := m.log.With().Int("user_id", instance.UserID).Str("bot", instance.Bot.Self.UserName).Logger()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := instance.Bot.GetUpdatesChan(u)
	log.Info().Msg("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			instance.Bot.StopReceivingUpdates()
			log.Info().Msg("telegram polling stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			m.dispatch(ctx, instance, update)
		}
	}
}

func (m *TelegramBotManager) dispatch(ctx context.Context, instance *TelegramBotInstance, update tgbotapi.Update) {
	if update.Message != nil && update.Message.IsCommand() && update.Message.Command() == "start" {
		reply := tgbotapi.NewMessage(update.Message.Chat.ID, "Olá! 👋 Envie sua mensagem e responderemos em instantes.")
		if _, err := instance.Bot.Send(reply); err != nil {
			m.log.Warn().Err(err).Int("user_id", instance.UserID).Msg("sending welcome")
		}
		return
	}
	inbound, ok := inboundFromUpdate(instance.UserID, update)
	if !ok || m.OnMessage == nil {
		return
	}
	go m.OnMessage(context.WithoutCancel(ctx), inbound)
}

// inboundFromUpdate keeps private text messages and drops everything else
func inboundFromUpdate(userID int, update tgbotapi.Update) (entities.InboundMessage, bool) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.IsCommand() {
		return entities.InboundMessage{}, false
	}
	if !msg.Chat.IsPrivate() {
		return entities.InboundMessage{}, false
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return entities.InboundMessage{}, false
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	return entities.InboundMessage{
		Channel:   entities.ChannelTelegram,
		Provider:  entities.ProviderTelegram,
		OwnerID:   userID,
		SessionID: chatID,
		From:      chatID,
		Text:      text,
		MessageID: fmt.Sprintf("%d:%d", userID, update.UpdateID),
	}, true
}

// Disconnect stops the user's bot and waits for its loop to exit
func (m *TelegramBotManager) Disconnect(userID int) {
	m.mu.Lock()
	instance, ok := m.bots[userID]
	delete(m.bots, userID)
	m.mu.Unlock()

	if ok {
		instance.cancel()
		<-instance.done
	}
}

// Status reports whether a bot is running and its username
func (m *TelegramBotManager) Status(userID int) (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if instance, ok := m.bots[userID]; ok {
		return true, instance.Bot.Self.UserName
	}
	return false, ""
}

// ConnectedUsers returns the ids of users with a running bot
func (m *TelegramBotManager) ConnectedUsers() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]int, 0, len(m.bots))
	for id := range m.bots {
		users = append(users, id)
	}
	return users
}

// RestoreAll starts bots for every stored token, logging failures
func (m *TelegramBotManager) RestoreAll(tokens map[int]string) int {
	started := 0
	for userID, token := range tokens {
		if _, err := m.Connect(userID, token); err != nil {
			m.log.Warn().Err(err).Int("user_id", userID).Msg("restoring telegram bot")
			continue
		}
		started++
	}
	return started
}

// DisconnectAll is used on shutdown
func (m *TelegramBotManager) DisconnectAll() {
	m.mu.Lock()
	bots := m.bots
	m.bots = make(map[int]*TelegramBotInstance)
	m.mu.Unlock()

	for _, instance := range bots {
		instance.cancel()
		<-instance.done
	}
}

// SendMessage replies through the owner's bot; msg.To is the chat id
func (m *TelegramBotManager) SendMessage(ctx context.Context, msg entities.OutboundMessage) error {
	m.mu.RLock()
	instance, ok := m.bots[msg.OwnerID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("telegram bot not connected for user %d", msg.OwnerID)
	}
	chatID, err := strconv.ParseInt(msg.To, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", msg.To, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err = instance.Bot.Send(tgbotapi.NewMessage(chatID, msg.Text))
	return err
}
