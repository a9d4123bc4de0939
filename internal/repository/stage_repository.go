package repository

import (
	"context"
	"fmt"

	"converta/internal/entities"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type StageRepository struct {
	db *pgxpool.Pool
}

func NewStageRepository(db *pgxpool.Pool) *StageRepository {
	return &StageRepository{db: db}
}

// List returns a user's stages by position
func (r *StageRepository) List(ctx context.Context, userID int) ([]entities.PipelineStage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, name, position, color, created_at
		FROM pipeline_stages WHERE user_id = $1 ORDER BY position, created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stages := []entities.PipelineStage{}
	for rows.Next() {
		var s entities.PipelineStage
		if err := rows.Scan(&s.ID, &s.UserID, &s.Name, &s.Position, &s.Color, &s.CreatedAt); err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

// Create appends the stage after the current last position
func (r *StageRepository) Create(ctx context.Context, s *entities.PipelineStage) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO pipeline_stages (id, user_id, name, position, color)
		VALUES ($1, $2, $3, (SELECT COALESCE(MAX(position) + 1, 0) FROM pipeline_stages WHERE user_id = $2), $4)
		RETURNING position, created_at
	`, s.ID, s.UserID, s.Name, s.Color).Scan(&s.Position, &s.CreatedAt)
	return translate(err)
}

func (r *StageRepository) Update(ctx context.Context, s *entities.PipelineStage) error {
	err := r.db.QueryRow(ctx, `
		UPDATE pipeline_stages SET name = $1, color = $2
		WHERE id = $3 AND user_id = $4
		RETURNING position, created_at
	`, s.Name, s.Color, s.ID, s.UserID).Scan(&s.Position, &s.CreatedAt)
	return translate(err)
}

// SavePositions persists a renumbered stage list in one transaction
func (r *StageRepository) SavePositions(ctx context.Context, userID int, stages []entities.PipelineStage) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, s := range stages {
		tag, err := tx.Exec(ctx,
			"UPDATE pipeline_stages SET position = $1 WHERE id = $2 AND user_id = $3",
			s.Position, s.ID, userID)
		if err := expectOne(tag, err); err != nil {
			return fmt.Errorf("stage %s: %w", s.ID, err)
		}
	}
	return tx.Commit(ctx)
}

// Delete removes a stage, moves its leads to fallbackID (may be empty) and
// stores the renumbered positions of the remaining stages.
func (r *StageRepository) Delete(ctx context.Context, userID int, id, fallbackID string, remaining []entities.PipelineStage) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		"UPDATE leads SET stage_id = NULLIF($1, '')::uuid, updated_at = NOW() WHERE stage_id = $2 AND user_id = $3",
		fallbackID, id, userID); err != nil {
		return fmt.Errorf("reassign leads: %w", err)
	}
	if err := expectOne(tx.Exec(ctx,
		"DELETE FROM pipeline_stages WHERE id = $1 AND user_id = $2", id, userID)); err != nil {
		return err
	}
	for _, s := range remaining {
		if _, err := tx.Exec(ctx,
			"UPDATE pipeline_stages SET position = $1 WHERE id = $2 AND user_id = $3",
			s.Position, s.ID, userID); err != nil {
			return fmt.Errorf("renumber stage %s: %w", s.ID, err)
		}
	}
	return tx.Commit(ctx)
}
