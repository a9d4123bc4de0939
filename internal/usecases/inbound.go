package usecases

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"converta/internal/entities"
	"converta/internal/infrastructure"

	"github.com/rs/zerolog"
)

var (
	ErrDuplicateInbound = errors.New("message already processed")
	ErrRateLimited      = errors.New("too many messages from sender")
	ErrUnknownProvider  = errors.New("no channel registered for provider")
)

const dispatchTimeout = 2 * time.Minute

// InboundService admits normalized messages from every transport and hands
// them to the relay through the channel registered for their provider.
type InboundService struct {
	relay    *RelayService
	dedupe   *infrastructure.InboundDeduper
	limiter  *infrastructure.MessageRateLimiter
	log      zerolog.Logger
	mu       sync.RWMutex
	channels map[string]Channel
	wg       sync.WaitGroup
}

func NewInboundService(relay *RelayService, dedupe *infrastructure.InboundDeduper, limiter *infrastructure.MessageRateLimiter, log zerolog.Logger) *InboundService {
	return &InboundService{
		relay:    relay,
		dedupe:   dedupe,
		limiter:  limiter,
		log:      log.With().Str("component", "inbound").Logger(),
		channels: make(map[string]Channel),
	}
}

func (s *InboundService) Register(provider string, ch Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[provider] = ch
}

func (s *InboundService) channel(provider string) (Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[provider]
	return ch, ok
}

// admit applies replay protection and per-sender rate limiting. The
// message id is claimed here so concurrent replays cannot both pass.
func (s *InboundService) admit(in entities.InboundMessage) error {
	if in.MessageID != "" && s.dedupe != nil && s.dedupe.Seen(dedupeKey(in)) {
		infrastructure.ObserveInboundDropped(in.Provider, "duplicate")
		return ErrDuplicateInbound
	}
	if s.limiter != nil && !s.limiter.Allow(senderKey(in)) {
		infrastructure.ObserveInboundDropped(in.Provider, "rate_limited")
		s.release(in)
		return ErrRateLimited
	}
	return nil
}

// release gives the message id back when nothing was persisted for it,
// so a gateway retry can still be relayed
func (s *InboundService) release(in entities.InboundMessage) {
	if in.MessageID != "" && s.dedupe != nil {
		s.dedupe.Forget(dedupeKey(in))
	}
}

func dedupeKey(in entities.InboundMessage) string {
	return in.Provider + ":" + in.MessageID
}

// ApologyReply is the text shown to an end user when a relay fails
func (s *InboundService) ApologyReply() string {
	return s.relay.settings.ApologyReply
}

func senderKey(in entities.InboundMessage) string {
	return in.Provider + ":" + strconv.Itoa(in.OwnerID) + ":" + in.RouteKey + ":" + in.SessionID
}

// Handle runs the relay synchronously. The widget uses it because the
// reply travels back in the HTTP response.
func (s *InboundService) Handle(ctx context.Context, in entities.InboundMessage) (Result, error) {
	ch, ok := s.channel(in.Provider)
	if !ok {
		return Result{State: StateFailed}, fmt.Errorf("%w: %s", ErrUnknownProvider, in.Provider)
	}
	if err := s.admit(in); err != nil {
		return Result{State: StateFailed}, err
	}
	res, err := s.relay.Relay(ctx, ch, in)
	if err != nil {
		s.release(in)
	}
	return res, err
}

// Dispatch admits the message and relays it in the background with a
// context detached from the caller, so webhooks can answer immediately.
// It reports whether the message was accepted.
func (s *InboundService) Dispatch(ctx context.Context, in entities.InboundMessage) bool {
	ch, ok := s.channel(in.Provider)
	if !ok {
		s.log.Warn().Str("provider", in.Provider).Msg("no channel registered")
		infrastructure.ObserveInboundDropped(in.Provider, "unknown_provider")
		return false
	}
	if err := s.admit(in); err != nil {
		s.log.Debug().Err(err).Str("provider", in.Provider).Str("session_id", in.SessionID).Msg("inbound dropped")
		return false
	}

	detached := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runCtx, cancel := context.WithTimeout(detached, dispatchTimeout)
		defer cancel()

		res, err := s.relay.Relay(runCtx, ch, in)
		if err != nil {
			s.release(in)
			s.log.Error().Err(err).
				Str("trace_id", res.TraceID).
				Str("provider", in.Provider).
				Str("session_id", in.SessionID).
				Msg("relay failed")
		}
	}()
	return true
}

// InboundHandler adapts Dispatch to the in-process transports
func (s *InboundService) InboundHandler() infrastructure.InboundHandler {
	return func(ctx context.Context, in entities.InboundMessage) {
		s.Dispatch(ctx, in)
	}
}

// Wait blocks until background relays finish
func (s *InboundService) Wait() {
	s.wg.Wait()
}
