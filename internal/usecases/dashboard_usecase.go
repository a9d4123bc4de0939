package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"converta/internal/entities"
	"converta/internal/interfaces"
	"converta/internal/repository"
)

var (
	ErrAgentNameRequired  = errors.New("agent name is required")
	ErrRoutingKeyRequired = errors.New("routing key is required")
	ErrProviderMismatch   = errors.New("provider does not serve this channel")
	ErrNoContactFound     = errors.New("no contact data found in conversation")
)

const maxPromptLength = 50000

type usageReporter interface {
	GetTodayUsage(ctx context.Context, userID int) (sent, received int, err error)
	GetQuotaStatus(ctx context.Context, userID int, dailyLimit, monthlyLimit int) (*repository.UserQuotaStatus, error)
}

type leadCounter interface {
	CountByStage(ctx context.Context, userID int) (map[string]int, error)
}

// DashboardStats is the overview shown after login
type DashboardStats struct {
	Agents        int                         `json:"agents"`
	ActiveAgents  int                         `json:"active_agents"`
	Conversations int                         `json:"conversations"`
	Leads         int                         `json:"leads"`
	LeadsByStage  map[string]int              `json:"leads_by_stage"`
	SentToday     int                         `json:"sent_today"`
	ReceivedToday int                         `json:"received_today"`
	Quota         *repository.UserQuotaStatus `json:"quota,omitempty"`
	HasOpenAIKey  bool                        `json:"has_openai_key"`
}

type DashboardUsecase struct {
	agents        interfaces.AgentRepo
	channels      interfaces.ChannelStore
	conversations interfaces.ConversationReader
	users         interfaces.UserStore
	usage         usageReporter
	leads         leadCounter
	capture       *LeadCaptureService
}

func NewDashboardUsecase(
	agents interfaces.AgentRepo,
	channels interfaces.ChannelStore,
	conversations interfaces.ConversationReader,
	users interfaces.UserStore,
	usage usageReporter,
	leads leadCounter,
	capture *LeadCaptureService,
) *DashboardUsecase {
	return &DashboardUsecase{
		agents:        agents,
		channels:      channels,
		conversations: conversations,
		users:         users,
		usage:         usage,
		leads:         leads,
		capture:       capture,
	}
}

// Profile

func (u *DashboardUsecase) Profile(ctx context.Context, userID int) (*entities.User, error) {
	return u.users.GetByID(ctx, userID)
}

// SetOpenAIKey stores the tenant's completion credential; empty clears it
func (u *DashboardUsecase) SetOpenAIKey(ctx context.Context, userID int, key string) error {
	return u.users.UpdateOpenAIKey(ctx, userID, strings.TrimSpace(key))
}

// Agents

func (u *DashboardUsecase) ListAgents(ctx context.Context, userID int) ([]entities.Agent, error) {
	return u.agents.ListByUser(ctx, userID)
}

func (u *DashboardUsecase) GetAgent(ctx context.Context, userID int, id string) (*entities.Agent, error) {
	return u.agents.Get(ctx, userID, id)
}

// CreateAgent stores a new agent. An empty prompt is allowed; such agents
// answer with the configuration fallback until a prompt is set.
func (u *DashboardUsecase) CreateAgent(ctx context.Context, userID int, a *entities.Agent) error {
	if err := validateAgent(a); err != nil {
		return err
	}
	a.ID = ""
	a.UserID = userID
	return u.agents.Create(ctx, a)
}

func (u *DashboardUsecase) UpdateAgent(ctx context.Context, userID int, id string, patch entities.Agent) (*entities.Agent, error) {
	if err := validateAgent(&patch); err != nil {
		return nil, err
	}
	existing, err := u.agents.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	existing.Name = patch.Name
	existing.Channel = patch.Channel
	existing.Prompt = patch.Prompt
	existing.Active = patch.Active
	if err := u.agents.Update(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// ToggleAgent flips the active flag and returns the new value
func (u *DashboardUsecase) ToggleAgent(ctx context.Context, userID int, id string) (bool, error) {
	existing, err := u.agents.Get(ctx, userID, id)
	if err != nil {
		return false, err
	}
	active := !existing.Active
	if err := u.agents.SetActive(ctx, userID, id, active); err != nil {
		return false, err
	}
	return active, nil
}

func (u *DashboardUsecase) DeleteAgent(ctx context.Context, userID int, id string) error {
	return u.agents.Delete(ctx, userID, id)
}

func validateAgent(a *entities.Agent) error {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return ErrAgentNameRequired
	}
	if _, err := entities.ParseChannel(string(a.Channel)); err != nil {
		return err
	}
	if len(a.Prompt) > maxPromptLength {
		return fmt.Errorf("prompt exceeds %d bytes", maxPromptLength)
	}
	return nil
}

// Channel bindings

func (u *DashboardUsecase) ListBindings(ctx context.Context, userID int, agentID string) ([]entities.AgentChannel, error) {
	if _, err := u.agents.Get(ctx, userID, agentID); err != nil {
		return nil, err
	}
	return u.channels.ListByAgent(ctx, agentID)
}

// Bind attaches a routing identity (gateway instance, venom session, page
// id) to one of the user's agents. A route held by another account fails
// with repository.ErrRouteTaken.
func (u *DashboardUsecase) Bind(ctx context.Context, userID int, agentID string, b *entities.AgentChannel) error {
	agent, err := u.agents.Get(ctx, userID, agentID)
	if err != nil {
		return err
	}
	b.RoutingKey = strings.TrimSpace(b.RoutingKey)
	if b.RoutingKey == "" {
		return ErrRoutingKeyRequired
	}
	if b.Channel == "" {
		b.Channel = agent.Channel
	}
	if _, err := entities.ParseChannel(string(b.Channel)); err != nil {
		return err
	}
	if !entities.ValidProvider(b.Provider) {
		return fmt.Errorf("unknown provider %q", b.Provider)
	}
	if !ProviderServes(b.Channel, b.Provider) {
		return ErrProviderMismatch
	}
	b.ID = ""
	b.AgentID = agent.ID
	return u.channels.Create(ctx, b)
}

func (u *DashboardUsecase) Unbind(ctx context.Context, userID int, id string) error {
	return u.channels.Delete(ctx, userID, id)
}

// ProviderServes reports whether a transport can carry a channel
func ProviderServes(channel entities.Channel, provider string) bool {
	switch channel {
	case entities.ChannelWhatsApp:
		return provider == entities.ProviderEvolution || provider == entities.ProviderVenom || provider == entities.ProviderWhatsmeow
	case entities.ChannelInstagram, entities.ChannelMessenger:
		return provider == entities.ProviderMeta
	case entities.ChannelTelegram:
		return provider == entities.ProviderTelegram
	case entities.ChannelWidget:
		return provider == entities.ProviderWidget
	}
	return false
}

// Conversations

func (u *DashboardUsecase) ListConversations(ctx context.Context, userID int, agentID string, limit int) ([]entities.Conversation, error) {
	return u.conversations.ListByUser(ctx, userID, agentID, limit)
}

func (u *DashboardUsecase) GetConversation(ctx context.Context, userID int, id string) (*entities.Conversation, error) {
	return u.conversations.GetByID(ctx, userID, id)
}

// ExtractLead scans the user turns of a conversation, newest first, and
// upserts the merged contact data as an unconfirmed lead.
func (u *DashboardUsecase) ExtractLead(ctx context.Context, userID int, conversationID string) (*entities.Lead, bool, error) {
	conv, err := u.conversations.GetByID(ctx, userID, conversationID)
	if err != nil {
		return nil, false, err
	}
	candidate := CandidateFromTranscript(conv.Messages)
	if !candidate.HasContact() {
		return nil, false, ErrNoContactFound
	}
	source := string(entities.ChannelWidget)
	if agent, err := u.agents.Get(ctx, userID, conv.AgentID); err == nil {
		source = string(agent.Channel)
	}
	return u.capture.Capture(ctx, userID, candidate, source, conv.ID)
}

// CandidateFromTranscript merges extraction results from user turns; the
// most recent value of each field wins.
func CandidateFromTranscript(messages []entities.ChatMessage) LeadCandidate {
	var merged LeadCandidate
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role != entities.RoleUser {
			continue
		}
		c := ExtractLead(m.Content)
		if merged.Name == "" {
			merged.Name = c.Name
		}
		if merged.Phone == "" {
			merged.Phone = c.Phone
		}
		if merged.Email == "" {
			merged.Email = c.Email
		}
	}
	return merged
}

// Stats

func (u *DashboardUsecase) Stats(ctx context.Context, userID int) (*DashboardStats, error) {
	user, err := u.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats := &DashboardStats{HasOpenAIKey: user.HasOpenAIKey()}

	if stats.Agents, stats.ActiveAgents, err = u.agents.CountByUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("counting agents: %w", err)
	}
	if stats.Conversations, err = u.conversations.CountByUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("counting conversations: %w", err)
	}
	if stats.LeadsByStage, err = u.leads.CountByStage(ctx, userID); err != nil {
		return nil, fmt.Errorf("counting leads: %w", err)
	}
	for _, n := range stats.LeadsByStage {
		stats.Leads += n
	}
	if stats.SentToday, stats.ReceivedToday, err = u.usage.GetTodayUsage(ctx, userID); err != nil {
		return nil, fmt.Errorf("reading usage: %w", err)
	}
	if stats.Quota, err = u.usage.GetQuotaStatus(ctx, userID, user.DailyLimit, user.MonthlyLimit); err != nil {
		return nil, fmt.Errorf("reading quota: %w", err)
	}
	return stats, nil
}
