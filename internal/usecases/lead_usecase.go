package usecases

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"converta/internal/entities"
	"converta/internal/interfaces"
	"converta/internal/repository"
)

var (
	ErrLeadContactRequired = errors.New("lead needs a name, phone or email")
	ErrStageNameRequired   = errors.New("stage name is required")
)

// BoardColumn is one stage of the kanban board with its leads
type BoardColumn struct {
	Stage entities.PipelineStage `json:"stage"`
	Leads []entities.Lead        `json:"leads"`
}

type LeadUsecase struct {
	leads  interfaces.LeadStore
	stages interfaces.StageStore
}

func NewLeadUsecase(leads interfaces.LeadStore, stages interfaces.StageStore) *LeadUsecase {
	return &LeadUsecase{leads: leads, stages: stages}
}

func (uc *LeadUsecase) List(ctx context.Context, userID int, stageID string) ([]entities.Lead, error) {
	return uc.leads.List(ctx, userID, stageID)
}

// Create stores a manual lead, confirmed, in the first stage unless one is given
func (uc *LeadUsecase) Create(ctx context.Context, userID int, l *entities.Lead) error {
	normalizeLead(l)
	if l.Name == "" && l.Phone == "" && l.Email == "" {
		return ErrLeadContactRequired
	}
	l.ID = ""
	l.UserID = userID
	l.Confirmed = true
	if l.Source == "" {
		l.Source = "manual"
	}
	if l.StageID == "" {
		first, err := uc.firstStageID(ctx, userID)
		if err != nil {
			return err
		}
		l.StageID = first
	}
	return uc.leads.Create(ctx, l)
}

// Update overwrites the editable fields of a lead
func (uc *LeadUsecase) Update(ctx context.Context, userID int, id string, patch entities.Lead) (*entities.Lead, error) {
	existing, err := uc.leads.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	normalizeLead(&patch)
	if patch.Name == "" && patch.Phone == "" && patch.Email == "" {
		return nil, ErrLeadContactRequired
	}
	existing.Name = patch.Name
	existing.Phone = patch.Phone
	existing.Email = patch.Email
	existing.Notes = patch.Notes
	existing.Score = patch.Score
	if patch.StageID != "" {
		existing.StageID = patch.StageID
	}
	if err := uc.leads.Update(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

func (uc *LeadUsecase) Delete(ctx context.Context, userID int, id string) error {
	return uc.leads.Delete(ctx, userID, id)
}

func (uc *LeadUsecase) Move(ctx context.Context, userID int, id, stageID string) error {
	if stageID == "" {
		return fmt.Errorf("stage: %w", repository.ErrNotFound)
	}
	return uc.leads.MoveToStage(ctx, userID, id, stageID)
}

// Confirm marks an auto-captured lead as reviewed
func (uc *LeadUsecase) Confirm(ctx context.Context, userID int, id string) error {
	return uc.leads.Confirm(ctx, userID, id)
}

// Import parses a CSV export and inserts every row in one transaction into
// the first stage. It returns the number of leads created.
func (uc *LeadUsecase) Import(ctx context.Context, userID int, data io.Reader) (int, error) {
	leads, err := repository.ParseLeadCSV(data)
	if err != nil {
		return 0, err
	}
	if len(leads) == 0 {
		return 0, nil
	}
	first, err := uc.firstStageID(ctx, userID)
	if err != nil {
		return 0, err
	}
	for i := range leads {
		leads[i].UserID = userID
		leads[i].StageID = first
	}
	if err := uc.leads.CreateBatch(ctx, leads); err != nil {
		return 0, fmt.Errorf("importing leads: %w", err)
	}
	return len(leads), nil
}

// Board groups leads by stage. Leads whose stage is gone land in the first column.
func (uc *LeadUsecase) Board(ctx context.Context, userID int) ([]BoardColumn, error) {
	stages, err := uc.stages.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	leads, err := uc.leads.List(ctx, userID, "")
	if err != nil {
		return nil, err
	}

	columns := make([]BoardColumn, len(stages))
	index := make(map[string]int, len(stages))
	for i, s := range stages {
		columns[i] = BoardColumn{Stage: s, Leads: []entities.Lead{}}
		index[s.ID] = i
	}
	for _, l := range leads {
		i, ok := index[l.StageID]
		if !ok {
			if len(columns) == 0 {
				continue
			}
			i = 0
		}
		columns[i].Leads = append(columns[i].Leads, l)
	}
	return columns, nil
}

func (uc *LeadUsecase) Stages(ctx context.Context, userID int) ([]entities.PipelineStage, error) {
	return uc.stages.List(ctx, userID)
}

func (uc *LeadUsecase) CreateStage(ctx context.Context, userID int, name, color string) (*entities.PipelineStage, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrStageNameRequired
	}
	s := &entities.PipelineStage{UserID: userID, Name: name, Color: color}
	if err := uc.stages.Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (uc *LeadUsecase) UpdateStage(ctx context.Context, userID int, id, name, color string) (*entities.PipelineStage, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrStageNameRequired
	}
	s := &entities.PipelineStage{ID: id, UserID: userID, Name: name, Color: color}
	if err := uc.stages.Update(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// MoveStage reorders the pipeline and returns the new order
func (uc *LeadUsecase) MoveStage(ctx context.Context, userID int, id string, position int) ([]entities.PipelineStage, error) {
	stages, err := uc.stages.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	reordered, err := ReorderStages(stages, id, position)
	if err != nil {
		return nil, err
	}
	if err := uc.stages.SavePositions(ctx, userID, reordered); err != nil {
		return nil, err
	}
	return reordered, nil
}

// DeleteStage removes a stage and hands its leads to the first remaining stage
func (uc *LeadUsecase) DeleteStage(ctx context.Context, userID int, id string) error {
	stages, err := uc.stages.List(ctx, userID)
	if err != nil {
		return err
	}
	found := false
	for _, s := range stages {
		if s.ID == id {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("stage %s: %w", id, repository.ErrNotFound)
	}
	remaining := withoutStage(stages, id)
	fallback := ""
	if len(remaining) > 0 {
		fallback = remaining[0].ID
	}
	return uc.stages.Delete(ctx, userID, id, fallback, remaining)
}

func (uc *LeadUsecase) firstStageID(ctx context.Context, userID int) (string, error) {
	stages, err := uc.stages.List(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("listing stages: %w", err)
	}
	if len(stages) == 0 {
		return "", nil
	}
	return stages[0].ID, nil
}

func normalizeLead(l *entities.Lead) {
	l.Name = strings.TrimSpace(l.Name)
	l.Phone = repository.NormalizePhone(l.Phone)
	l.Email = strings.ToLower(strings.TrimSpace(l.Email))
	l.Notes = strings.TrimSpace(l.Notes)
}
