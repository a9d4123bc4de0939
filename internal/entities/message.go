package entities

import "time"

// Role of a transcript turn
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn of a conversation transcript
type ChatMessage struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Conversation is the persisted transcript for one (agent, external session) pair
type Conversation struct {
	ID        string        `json:"id"`
	AgentID   string        `json:"agent_id"`
	SessionID string        `json:"session_id"`
	Messages  []ChatMessage `json:"messages"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// InboundMessage is a channel message normalized before it enters the relay
type InboundMessage struct {
	Channel   Channel
	Provider  string // evolution, venom, whatsmeow, telegram, meta, widget
	OwnerID   int    // set when the transport already knows the tenant
	RouteKey  string // instance, session or page id for binding routes
	SessionID string // external conversation id (phone, chat id, widget session)
	From      string // address to reply to
	Text      string
	MessageID string // provider message id, empty when the provider has none
}
