package interfaces

import (
	"context"

	"converta/internal/entities"
)

// Completer turns a prepared transcript into one assistant reply
type Completer interface {
	Complete(ctx context.Context, req entities.CompletionRequest) (string, error)
}

// Messenger delivers a text through a channel transport
type Messenger interface {
	SendMessage(ctx context.Context, msg entities.OutboundMessage) error
}

// EventPublisher hands relay events to downstream consumers
type EventPublisher interface {
	Publish(ctx context.Context, evt entities.ConversationEvent) error
}

// SessionLocker serializes relay cycles that share a conversation key
type SessionLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// AgentStore lists relay candidates, oldest first
type AgentStore interface {
	ListActiveByOwner(ctx context.Context, userID int, channel entities.Channel) ([]entities.Agent, error)
	ListActiveByBinding(ctx context.Context, channel entities.Channel, routingKey string) ([]entities.Agent, error)
}

// ConversationStore reads and atomically rewrites transcripts
type ConversationStore interface {
	Get(ctx context.Context, agentID, sessionID string) (*entities.Conversation, error)
	Upsert(ctx context.Context, agentID, sessionID string, messages []entities.ChatMessage) (*entities.Conversation, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id int) (*entities.User, error)
}

// UsageCounter tracks daily relay volume and enforces tenant quotas
type UsageCounter interface {
	IncrementSent(ctx context.Context, userID int) error
	IncrementReceived(ctx context.Context, userID int) error
	CanSendMessage(ctx context.Context, userID int, dailyLimit, monthlyLimit int) (bool, string, error)
}

// LeadWriter is what lead capture needs from the CRM store
type LeadWriter interface {
	FindByContact(ctx context.Context, userID int, phone, email string) (*entities.Lead, error)
	Create(ctx context.Context, l *entities.Lead) error
	Update(ctx context.Context, l *entities.Lead) error
}

type StageLister interface {
	List(ctx context.Context, userID int) ([]entities.PipelineStage, error)
}

// LeadStore is the CRM lead table
type LeadStore interface {
	LeadWriter
	Get(ctx context.Context, userID int, id string) (*entities.Lead, error)
	List(ctx context.Context, userID int, stageID string) ([]entities.Lead, error)
	MoveToStage(ctx context.Context, userID int, id, stageID string) error
	Confirm(ctx context.Context, userID int, id string) error
	Delete(ctx context.Context, userID int, id string) error
	CreateBatch(ctx context.Context, leads []entities.Lead) error
}

// StageStore keeps pipeline stages and their order
type StageStore interface {
	StageLister
	Create(ctx context.Context, s *entities.PipelineStage) error
	Update(ctx context.Context, s *entities.PipelineStage) error
	SavePositions(ctx context.Context, userID int, stages []entities.PipelineStage) error
	Delete(ctx context.Context, userID int, id, fallbackID string, remaining []entities.PipelineStage) error
}

// UserStore holds accounts, tenant credentials and quotas
type UserStore interface {
	UserLookup
	Create(ctx context.Context, user *entities.User) error
	GetByUsername(ctx context.Context, username string) (*entities.User, error)
	GetAllUsers(ctx context.Context) ([]entities.User, error)
	GetStats(ctx context.Context) (*entities.UserStats, error)
	UpdateUserStatus(ctx context.Context, id int, active bool) error
	UpdateUserLimits(ctx context.Context, id, daily, monthly int) error
	UpdateOpenAIKey(ctx context.Context, id int, key string) error
	UpdateTelegramToken(ctx context.Context, id int, token string) error
}

// AgentRepo is the full agent table used by the dashboard
type AgentRepo interface {
	AgentStore
	Create(ctx context.Context, a *entities.Agent) error
	Get(ctx context.Context, userID int, id string) (*entities.Agent, error)
	ListByUser(ctx context.Context, userID int) ([]entities.Agent, error)
	Update(ctx context.Context, a *entities.Agent) error
	SetActive(ctx context.Context, userID int, id string, active bool) error
	Delete(ctx context.Context, userID int, id string) error
	CountByUser(ctx context.Context, userID int) (total, active int, err error)
}

// ChannelStore keeps agent routing bindings
type ChannelStore interface {
	Create(ctx context.Context, b *entities.AgentChannel) error
	ListByAgent(ctx context.Context, agentID string) ([]entities.AgentChannel, error)
	Delete(ctx context.Context, userID int, id string) error
	RouteOwnedBy(ctx context.Context, userID int, channel entities.Channel, routingKey string) (bool, error)
}

// ConversationReader is the dashboard's read side of transcripts
type ConversationReader interface {
	GetByID(ctx context.Context, userID int, id string) (*entities.Conversation, error)
	ListByUser(ctx context.Context, userID int, agentID string, limit int) ([]entities.Conversation, error)
	CountByUser(ctx context.Context, userID int) (int, error)
}
