package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"converta/internal/entities"
	"converta/internal/infrastructure"
	"converta/internal/interfaces"
	"converta/internal/repository"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// RelayState is a step of one receive-complete-reply cycle
type RelayState string

const (
	StateReceived            RelayState = "RECEIVED"
	StateAgentResolved       RelayState = "AGENT_RESOLVED"
	StateHistoryLoaded       RelayState = "HISTORY_LOADED"
	StateCompletionRequested RelayState = "COMPLETION_REQUESTED"
	StateCompletionReady     RelayState = "COMPLETION_READY"
	StatePersisted           RelayState = "PERSISTED"
	StateSent                RelayState = "SENT"
	StateFailed              RelayState = "FAILED"
)

// FallbackKind names the canned reply used instead of a model answer
type FallbackKind string

const (
	FallbackNone    FallbackKind = ""
	FallbackNoAgent FallbackKind = "no_agent"
	FallbackConfig  FallbackKind = "configuration"
	FallbackQuota   FallbackKind = "quota"
	FallbackApology FallbackKind = "apology"
)

var ErrInvalidInbound = errors.New("inbound message needs text and a session id")

// Result describes how a relay cycle ended
type Result struct {
	TraceID        string
	State          RelayState
	Reply          string
	Fallback       FallbackKind
	AgentID        string
	ConversationID string
	DeliveryErr    error
}

func (r Result) IsFallback() bool { return r.Fallback != FallbackNone }

type RelaySettings struct {
	Model         string
	MaxTokens     int
	Temperature   float64
	HistoryWindow int

	NoAgentReply string
	ConfigReply  string
	ApologyReply string
	QuotaReply   string
}

// RelayService runs the relay for every channel
type RelayService struct {
	conversations interfaces.ConversationStore
	users         interfaces.UserLookup
	usage         interfaces.UsageCounter
	completer     interfaces.Completer
	locker        interfaces.SessionLocker
	events        interfaces.EventPublisher
	settings      RelaySettings
	log           zerolog.Logger
	now           func() time.Time
}

func NewRelayService(
	conversations interfaces.ConversationStore,
	users interfaces.UserLookup,
	usage interfaces.UsageCounter,
	completer interfaces.Completer,
	locker interfaces.SessionLocker,
	events interfaces.EventPublisher,
	settings RelaySettings,
	log zerolog.Logger,
) *RelayService {
	if settings.HistoryWindow <= 0 {
		settings.HistoryWindow = 10
	}
	return &RelayService{
		conversations: conversations,
		users:         users,
		usage:         usage,
		completer:     completer,
		locker:        locker,
		events:        events,
		settings:      settings,
		log:           log.With().Str("component", "relay").Logger(),
		now:           time.Now,
	}
}

// Relay runs one cycle for an inbound message. The only errors returned
// are invalid input and failures that happen before the transcript is
// written; everything else ends in a Result, possibly with a fallback reply.
func (s *RelayService) Relay(ctx context.Context, ch Channel, in entities.InboundMessage) (res Result, err error) {
	res = Result{TraceID: ulid.Make().String(), State: StateReceived}
	log := s.log.With().
		Str("trace_id", res.TraceID).
		Str("channel", ch.Name()).
		Str("session_id", in.SessionID).
		Logger()
	defer func() {
		infrastructure.ObserveRelay(ch.Name(), string(res.State), res.IsFallback())
	}()

	in.Text = strings.TrimSpace(in.Text)
	if in.Text == "" || in.SessionID == "" {
		res.State = StateFailed
		return res, ErrInvalidInbound
	}

	agent, err := ch.ResolveAgent(ctx, in)
	if err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("resolving agent: %w", err)
	}
	if agent == nil {
		log.Info().Str("route", in.RouteKey).Int("owner_id", in.OwnerID).Msg("no active agent for route")
		return s.fallback(ctx, log, ch, nil, in, res, FallbackNoAgent, s.settings.NoAgentReply), nil
	}
	res.AgentID = agent.ID
	res.State = StateAgentResolved
	log = log.With().Str("agent_id", agent.ID).Int("owner_id", agent.UserID).Logger()

	owner, err := s.users.GetByID(ctx, agent.UserID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		res.State = StateFailed
		return res, fmt.Errorf("loading agent owner: %w", err)
	}
	if !owner.HasOpenAIKey() || strings.TrimSpace(agent.Prompt) == "" {
		log.Info().Bool("has_key", owner.HasOpenAIKey()).Msg("agent not configured for completions")
		return s.fallback(ctx, log, ch, agent, in, res, FallbackConfig, s.settings.ConfigReply), nil
	}
	if s.quotaExceeded(ctx, log, owner) {
		return s.fallback(ctx, log, ch, agent, in, res, FallbackQuota, s.settings.QuotaReply), nil
	}

	unlock, err := s.locker.Lock(ctx, agent.ID+":"+in.SessionID)
	if err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("locking session: %w", err)
	}
	defer unlock()

	var history []entities.ChatMessage
	conv, err := s.conversations.Get(ctx, agent.ID, in.SessionID)
	switch {
	case err == nil:
		history = conv.Messages
	case errors.Is(err, repository.ErrNotFound):
	default:
		res.State = StateFailed
		return res, fmt.Errorf("loading conversation: %w", err)
	}
	res.State = StateHistoryLoaded

	req := entities.CompletionRequest{
		APIKey:      owner.OpenAIKey,
		Model:       s.settings.Model,
		MaxTokens:   s.settings.MaxTokens,
		Temperature: s.settings.Temperature,
		Messages:    BuildMessages(agent.Prompt, history, in.Text, s.settings.HistoryWindow),
	}
	res.State = StateCompletionRequested
	reply, err := s.completer.Complete(ctx, req)
	if err != nil {
		log.Warn().Err(err).Msg("completion failed, using apology")
		reply = s.settings.ApologyReply
		res.Fallback = FallbackApology
	}
	res.State = StateCompletionReady

	now := s.now().UTC()
	messages := make([]entities.ChatMessage, 0, len(history)+2)
	messages = append(messages, history...)
	messages = append(messages,
		entities.ChatMessage{Role: entities.RoleUser, Content: in.Text, Timestamp: &now},
		entities.ChatMessage{Role: entities.RoleAssistant, Content: reply, Timestamp: &now},
	)
	conv, err = s.conversations.Upsert(ctx, agent.ID, in.SessionID, messages)
	if err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("persisting conversation: %w", err)
	}
	unlock()
	res.State = StatePersisted
	res.ConversationID = conv.ID
	res.Reply = reply

	s.afterPersist(ctx, log, agent, in, conv.ID, res.TraceID, now)

	if err := ch.SendReply(ctx, agent, in, reply); err != nil {
		log.Error().Err(err).Msg("reply delivery failed")
		infrastructure.ObserveDeliveryFailure(ch.Name())
		res.State = StateFailed
		res.DeliveryErr = err
		return res, nil
	}
	res.State = StateSent
	log.Debug().Bool("fallback", res.IsFallback()).Msg("relay complete")
	return res, nil
}

// fallback answers without touching the conversation store
func (s *RelayService) fallback(ctx context.Context, log zerolog.Logger, ch Channel, agent *entities.Agent, in entities.InboundMessage, res Result, kind FallbackKind, text string) Result {
	res.State = StateFailed
	res.Fallback = kind
	res.Reply = text
	if err := ch.SendReply(ctx, agent, in, text); err != nil {
		log.Warn().Err(err).Str("fallback", string(kind)).Msg("fallback delivery failed")
		infrastructure.ObserveDeliveryFailure(ch.Name())
		res.DeliveryErr = err
	}
	return res
}

// quotaExceeded fails open when usage cannot be read
func (s *RelayService) quotaExceeded(ctx context.Context, log zerolog.Logger, owner *entities.User) bool {
	if s.usage == nil || (owner.DailyLimit <= 0 && owner.MonthlyLimit <= 0) {
		return false
	}
	ok, reason, err := s.usage.CanSendMessage(ctx, owner.ID, owner.DailyLimit, owner.MonthlyLimit)
	if err != nil {
		log.Warn().Err(err).Msg("checking quota")
		return false
	}
	if !ok {
		log.Info().Str("reason", reason).Msg("quota exceeded")
	}
	return !ok
}

func (s *RelayService) afterPersist(ctx context.Context, log zerolog.Logger, agent *entities.Agent, in entities.InboundMessage, conversationID, traceID string, at time.Time) {
	if s.usage != nil {
		if err := s.usage.IncrementReceived(ctx, agent.UserID); err != nil {
			log.Warn().Err(err).Msg("counting received message")
		}
		if err := s.usage.IncrementSent(ctx, agent.UserID); err != nil {
			log.Warn().Err(err).Msg("counting sent message")
		}
	}
	if s.events == nil {
		return
	}
	evt := entities.ConversationEvent{
		TraceID:        traceID,
		OwnerID:        agent.UserID,
		AgentID:        agent.ID,
		ConversationID: conversationID,
		Channel:        in.Channel,
		SessionID:      in.SessionID,
		Text:           in.Text,
		OccurredAt:     at,
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		log.Warn().Err(err).Msg("publishing conversation event")
	}
}

// BuildMessages prepares a completion transcript: the system prompt, the
// last window turns of history and the new user message. Stored system
// turns are never replayed.
func BuildMessages(prompt string, history []entities.ChatMessage, text string, window int) []entities.ChatMessage {
	turns := make([]entities.ChatMessage, 0, len(history))
	for _, m := range history {
		if m.Role == entities.RoleSystem {
			continue
		}
		turns = append(turns, entities.ChatMessage{Role: m.Role, Content: m.Content})
	}
	if window >= 0 && len(turns) > window {
		turns = turns[len(turns)-window:]
	}

	out := make([]entities.ChatMessage, 0, len(turns)+2)
	out = append(out, entities.ChatMessage{Role: entities.RoleSystem, Content: prompt})
	out = append(out, turns...)
	out = append(out, entities.ChatMessage{Role: entities.RoleUser, Content: text})
	return out
}
