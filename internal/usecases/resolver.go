package usecases

import (
	"context"

	"converta/internal/entities"
	"converta/internal/interfaces"
)

// Route identifies where an inbound message came from. Owner routes are
// used by transports that already know the tenant (widget, in-process
// WhatsApp, Telegram); binding routes go through agent_channels.
type Route struct {
	OwnerID    int
	Channel    entities.Channel
	RoutingKey string
}

func RouteFor(in entities.InboundMessage) Route {
	return Route{OwnerID: in.OwnerID, Channel: in.Channel, RoutingKey: in.RouteKey}
}

// AgentResolver maps a route to the single agent that answers it
type AgentResolver struct {
	agents interfaces.AgentStore
}

func NewAgentResolver(agents interfaces.AgentStore) *AgentResolver {
	return &AgentResolver{agents: agents}
}

// Resolve returns nil without error when no active agent matches. When
// several match, the oldest agent wins and equal timestamps fall back to
// the smallest id.
func (r *AgentResolver) Resolve(ctx context.Context, route Route) (*entities.Agent, error) {
	var (
		candidates []entities.Agent
		err        error
	)
	switch {
	case route.OwnerID != 0:
		candidates, err = r.agents.ListActiveByOwner(ctx, route.OwnerID, route.Channel)
	case route.RoutingKey != "":
		candidates, err = r.agents.ListActiveByBinding(ctx, route.Channel, route.RoutingKey)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pickAgent(candidates), nil
}

func pickAgent(candidates []entities.Agent) *entities.Agent {
	var best *entities.Agent
	for i := range candidates {
		a := &candidates[i]
		if !a.Active {
			continue
		}
		if best == nil || a.CreatedAt.Before(best.CreatedAt) ||
			(a.CreatedAt.Equal(best.CreatedAt) && a.ID < best.ID) {
			best = a
		}
	}
	if best == nil {
		return nil
	}
	picked := *best
	return &picked
}
