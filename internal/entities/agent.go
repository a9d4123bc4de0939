package entities

import (
	"fmt"
	"time"
)

// Channel is the messaging surface an agent is bound to
type Channel string

const (
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelInstagram Channel = "instagram"
	ChannelMessenger Channel = "messenger"
	ChannelWidget    Channel = "widget"
	ChannelTelegram  Channel = "telegram"
)

// ParseChannel validates a channel name coming from the API
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(s); c {
	case ChannelWhatsApp, ChannelInstagram, ChannelMessenger, ChannelWidget, ChannelTelegram:
		return c, nil
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

type Agent struct {
	ID        string    `json:"id"`
	UserID    int       `json:"user_id"`
	Name      string    `json:"name"`
	Channel   Channel   `json:"channel"`
	Prompt    string    `json:"prompt"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AgentChannel binds an agent to a routing identity such as a phone
// number, gateway instance or page id.
type AgentChannel struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	Channel    Channel   `json:"channel"`
	Provider   string    `json:"provider"`
	RoutingKey string    `json:"routing_key"`
	CreatedAt  time.Time `json:"created_at"`
}

// Transport providers behind a channel
const (
	ProviderWidget    = "widget"
	ProviderEvolution = "evolution"
	ProviderVenom     = "venom"
	ProviderWhatsmeow = "whatsmeow"
	ProviderMeta      = "meta"
	ProviderTelegram  = "telegram"
)

// ValidProvider reports whether p names a known transport
func ValidProvider(p string) bool {
	switch p {
	case ProviderWidget, ProviderEvolution, ProviderVenom, ProviderWhatsmeow, ProviderMeta, ProviderTelegram:
		return true
	}
	return false
}
