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
)

var ErrProviderUnavailable = errors.New("provider is not configured")

type sessionStatuses interface {
	Status(userID int) string
}

type gatewayStates interface {
	ConnectionState(ctx context.Context, instance string) (string, error)
}

// ConnectionUsecase watches WhatsApp pairing status for the dashboard
type ConnectionUsecase struct {
	sessions sessionStatuses
	gateway  gatewayStates
	channels interfaces.ChannelStore
	interval time.Duration
	timeout  time.Duration
}

// NewConnectionUsecase takes nil for a disabled transport
func NewConnectionUsecase(sessions sessionStatuses, gateway gatewayStates, channels interfaces.ChannelStore, interval, timeout time.Duration) *ConnectionUsecase {
	return &ConnectionUsecase{
		sessions: sessions,
		gateway:  gateway,
		channels: channels,
		interval: interval,
		timeout:  timeout,
	}
}

// Probe returns a status reader for the user's session. The evolution
// provider requires an instance bound to one of the user's agents.
func (uc *ConnectionUsecase) Probe(ctx context.Context, userID int, provider, instance string) (infrastructure.StatusProbe, error) {
	switch provider {
	case "", entities.ProviderWhatsmeow:
		if uc.sessions == nil {
			return nil, ErrProviderUnavailable
		}
		return func(context.Context) (string, error) {
			return uc.sessions.Status(userID), nil
		}, nil

	case entities.ProviderEvolution:
		if uc.gateway == nil {
			return nil, ErrProviderUnavailable
		}
		instance = strings.TrimSpace(instance)
		if instance == "" {
			return nil, ErrRoutingKeyRequired
		}
		owned, err := uc.channels.RouteOwnedBy(ctx, userID, entities.ChannelWhatsApp, instance)
		if err != nil {
			return nil, err
		}
		if !owned {
			return nil, fmt.Errorf("instance %s: %w", instance, repository.ErrNotFound)
		}
		return func(ctx context.Context) (string, error) {
			return uc.gateway.ConnectionState(ctx, instance)
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
}

// Watch polls the session until it connects, logs out, times out or ctx ends
func (uc *ConnectionUsecase) Watch(ctx context.Context, userID int, provider, instance string, onUpdate func(infrastructure.PollUpdate)) (*infrastructure.PollTask, error) {
	probe, err := uc.Probe(ctx, userID, provider, instance)
	if err != nil {
		return nil, err
	}
	return infrastructure.StartPoll(ctx, uc.interval, uc.timeout, probe, onUpdate), nil
}
