package entities

import "time"

type Lead struct {
	ID             string    `json:"id"`
	UserID         int       `json:"user_id"`
	Name           string    `json:"name"`
	Phone          string    `json:"phone"`
	Email          string    `json:"email"`
	Source         string    `json:"source"` // manual, csv, or the channel it was captured from
	StageID        string    `json:"stage_id"`
	Score          int       `json:"score"`
	Notes          string    `json:"notes"`
	Confirmed      bool      `json:"confirmed"` // false for leads scraped from conversation text
	ConversationID string    `json:"conversation_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type PipelineStage struct {
	ID        string    `json:"id"`
	UserID    int       `json:"user_id"`
	Name      string    `json:"name"`
	Position  int       `json:"position"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}
