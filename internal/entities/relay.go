package entities

import "time"

// CompletionRequest is what the relay sends to the completion provider
type CompletionRequest struct {
	APIKey      string
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// OutboundMessage addresses a reply on a channel transport
type OutboundMessage struct {
	Channel  Channel
	Provider string
	OwnerID  int
	RouteKey string
	To       string
	Text     string
}

// ConversationEvent is published after a transcript has been persisted
type ConversationEvent struct {
	TraceID        string    `json:"trace_id"`
	OwnerID        int       `json:"owner_id"`
	AgentID        string    `json:"agent_id"`
	ConversationID string    `json:"conversation_id"`
	Channel        Channel   `json:"channel"`
	SessionID      string    `json:"session_id"`
	Text           string    `json:"text"`
	OccurredAt     time.Time `json:"occurred_at"`
}
