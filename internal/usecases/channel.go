package usecases

import (
	"context"

	"converta/internal/entities"
	"converta/internal/interfaces"
)

// Channel adapts one transport to the relay
type Channel interface {
	Name() string
	ResolveAgent(ctx context.Context, in entities.InboundMessage) (*entities.Agent, error)
	// SendReply delivers text. agent is nil for the no-agent fallback.
	SendReply(ctx context.Context, agent *entities.Agent, in entities.InboundMessage, text string) error
}

type messengerChannel struct {
	name     string
	resolver *AgentResolver
	sender   interfaces.Messenger
}

// NewMessengerChannel builds a channel that replies through an outbound
// transport (gateway HTTP API, whatsmeow, Telegram, Graph API).
func NewMessengerChannel(name string, resolver *AgentResolver, sender interfaces.Messenger) Channel {
	return &messengerChannel{name: name, resolver: resolver, sender: sender}
}

func (c *messengerChannel) Name() string { return c.name }

func (c *messengerChannel) ResolveAgent(ctx context.Context, in entities.InboundMessage) (*entities.Agent, error) {
	return c.resolver.Resolve(ctx, RouteFor(in))
}

func (c *messengerChannel) SendReply(ctx context.Context, agent *entities.Agent, in entities.InboundMessage, text string) error {
	owner := in.OwnerID
	if agent != nil {
		owner = agent.UserID
	}
	return c.sender.SendMessage(ctx, entities.OutboundMessage{
		Channel:  in.Channel,
		Provider: in.Provider,
		OwnerID:  owner,
		RouteKey: in.RouteKey,
		To:       in.From,
		Text:     text,
	})
}

type widgetChannel struct {
	resolver *AgentResolver
}

// NewWidgetChannel builds the website widget channel. Its reply travels in
// the HTTP response, so delivery never fails.
func NewWidgetChannel(resolver *AgentResolver) Channel {
	return &widgetChannel{resolver: resolver}
}

func (c *widgetChannel) Name() string { return entities.ProviderWidget }

func (c *widgetChannel) ResolveAgent(ctx context.Context, in entities.InboundMessage) (*entities.Agent, error) {
	return c.resolver.Resolve(ctx, Route{OwnerID: in.OwnerID, Channel: entities.ChannelWidget})
}

func (c *widgetChannel) SendReply(context.Context, *entities.Agent, entities.InboundMessage, string) error {
	return nil
}
