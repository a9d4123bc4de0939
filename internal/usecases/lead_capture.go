package usecases

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"converta/internal/entities"
	"converta/internal/interfaces"
	"converta/internal/repository"

	"github.com/rs/zerolog"
)

// LeadCaptureService turns conversation events into unconfirmed CRM leads
type LeadCaptureService struct {
	leads  interfaces.LeadWriter
	stages interfaces.StageLister
	log    zerolog.Logger
}

func NewLeadCaptureService(leads interfaces.LeadWriter, stages interfaces.StageLister, log zerolog.Logger) *LeadCaptureService {
	return &LeadCaptureService{
		leads:  leads,
		stages: stages,
		log:    log.With().Str("component", "lead_capture").Logger(),
	}
}

var digitsOnly = regexp.MustCompile(`^\d{10,15}$`)

// HandleEvent extracts contact data from the user's message. On WhatsApp the
// session id is the sender's number, so it fills in a missing phone.
func (s *LeadCaptureService) HandleEvent(ctx context.Context, evt entities.ConversationEvent) error {
	candidate := ExtractLead(evt.Text)
	if candidate.Phone == "" && evt.Channel == entities.ChannelWhatsApp && digitsOnly.MatchString(evt.SessionID) {
		if candidate.Name == "" && candidate.Email == "" {
			return nil
		}
		candidate.Phone = evt.SessionID
	}
	if !candidate.HasContact() {
		return nil
	}
	lead, created, err := s.Capture(ctx, evt.OwnerID, candidate, string(evt.Channel), evt.ConversationID)
	if err != nil {
		return err
	}
	s.log.Info().
		Str("trace_id", evt.TraceID).
		Str("lead_id", lead.ID).
		Bool("created", created).
		Msg("lead captured")
	return nil
}

// Capture upserts a lead by (owner, phone or email). New leads go to the
// first pipeline stage unconfirmed; existing ones only gain missing fields.
func (s *LeadCaptureService) Capture(ctx context.Context, ownerID int, c LeadCandidate, source, conversationID string) (*entities.Lead, bool, error) {
	existing, err := s.leads.FindByContact(ctx, ownerID, c.Phone, c.Email)
	switch {
	case err == nil:
		if !mergeCandidate(existing, c, conversationID) {
			return existing, false, nil
		}
		if err := s.leads.Update(ctx, existing); err != nil {
			return nil, false, fmt.Errorf("updating lead: %w", err)
		}
		return existing, false, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, false, fmt.Errorf("finding lead: %w", err)
	}

	lead := &entities.Lead{
		UserID:         ownerID,
		Name:           c.Name,
		Phone:          c.Phone,
		Email:          c.Email,
		Source:         source,
		Confirmed:      false,
		ConversationID: conversationID,
	}
	if lead.Name == "" {
		lead.Name = firstNonEmpty(c.Phone, c.Email)
	}
	stages, err := s.stages.List(ctx, ownerID)
	if err != nil {
		return nil, false, fmt.Errorf("listing stages: %w", err)
	}
	if len(stages) > 0 {
		lead.StageID = stages[0].ID
	}
	if err := s.leads.Create(ctx, lead); err != nil {
		return nil, false, fmt.Errorf("creating lead: %w", err)
	}
	return lead, true, nil
}

// mergeCandidate fills blanks on an existing lead and reports whether it changed
func mergeCandidate(l *entities.Lead, c LeadCandidate, conversationID string) bool {
	changed := false
	if c.Name != "" && (l.Name == "" || l.Name == l.Phone || l.Name == l.Email) {
		l.Name = c.Name
		changed = true
	}
	if l.Phone == "" && c.Phone != "" {
		l.Phone = c.Phone
		changed = true
	}
	if l.Email == "" && c.Email != "" {
		l.Email = c.Email
		changed = true
	}
	if l.ConversationID == "" && conversationID != "" {
		l.ConversationID = conversationID
		changed = true
	}
	return changed
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
