package usecases

import (
	"context"
	"fmt"
	"sort"

	"converta/internal/entities"
	"converta/internal/repository"
)

// DefaultStages seeds the pipeline of a new account
var DefaultStages = []entities.PipelineStage{
	{Name: "Novo", Position: 0, Color: "#3b82f6"},
	{Name: "Qualificado", Position: 1, Color: "#8b5cf6"},
	{Name: "Proposta", Position: 2, Color: "#f59e0b"},
	{Name: "Fechado", Position: 3, Color: "#10b981"},
}

// ReorderStages moves stage id to newPos and renumbers every stage 0..n-1.
// Out of range positions are clamped; relative order of the other stages is
// kept. The input slice is not modified.
func ReorderStages(stages []entities.PipelineStage, id string, newPos int) ([]entities.PipelineStage, error) {
	ordered := make([]entities.PipelineStage, len(stages))
	copy(ordered, stages)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	from := -1
	for i := range ordered {
		if ordered[i].ID == id {
			from = i
			break
		}
	}
	if from < 0 {
		return nil, fmt.Errorf("stage %s: %w", id, repository.ErrNotFound)
	}

	moved := ordered[from]
	rest := append(ordered[:from:from], ordered[from+1:]...)
	if newPos < 0 {
		newPos = 0
	}
	if newPos > len(rest) {
		newPos = len(rest)
	}

	out := make([]entities.PipelineStage, 0, len(ordered))
	out = append(out, rest[:newPos]...)
	out = append(out, moved)
	out = append(out, rest[newPos:]...)
	for i := range out {
		out[i].Position = i
	}
	return out, nil
}

// withoutStage drops id and renumbers what is left
func withoutStage(stages []entities.PipelineStage, id string) []entities.PipelineStage {
	ordered := make([]entities.PipelineStage, 0, len(stages))
	for _, s := range stages {
		if s.ID != id {
			ordered = append(ordered, s)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })
	for i := range ordered {
		ordered[i].Position = i
	}
	return ordered
}

type stageCreator interface {
	List(ctx context.Context, userID int) ([]entities.PipelineStage, error)
	Create(ctx context.Context, s *entities.PipelineStage) error
}

// EnsureDefaultStages creates the default pipeline when the user has none
func EnsureDefaultStages(ctx context.Context, stages stageCreator, userID int) error {
	existing, err := stages.List(ctx, userID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, d := range DefaultStages {
		s := d
		s.UserID = userID
		if err := stages.Create(ctx, &s); err != nil {
			return fmt.Errorf("creating stage %s: %w", s.Name, err)
		}
	}
	return nil
}
