package repository

import (
	"context"
	"fmt"

	"converta/internal/entities"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type LeadRepository struct {
	db *pgxpool.Pool
}

func NewLeadRepository(db *pgxpool.Pool) *LeadRepository {
	return &LeadRepository{db: db}
}

const leadColumns = `id, user_id, name, phone, email, source, COALESCE(stage_id::text, ''), score, notes,
	confirmed, COALESCE(conversation_id::text, ''), created_at, updated_at`

func scanLead(row rowScanner) (*entities.Lead, error) {
	var l entities.Lead
	err := row.Scan(&l.ID, &l.UserID, &l.Name, &l.Phone, &l.Email, &l.Source, &l.StageID,
		&l.Score, &l.Notes, &l.Confirmed, &l.ConversationID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &l, nil
}

func collectLeads(rows pgx.Rows, err error) ([]entities.Lead, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := []entities.Lead{}
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, rows.Err()
}

const insertLeadSQL = `
	INSERT INTO leads (id, user_id, name, phone, email, source, stage_id, score, notes, confirmed, conversation_id)
	VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, '')::uuid, $8, $9, $10, NULLIF($11, '')::uuid)
	RETURNING created_at, updated_at`

func (r *LeadRepository) Create(ctx context.Context, l *entities.Lead) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	err := r.db.QueryRow(ctx, insertLeadSQL, l.ID, l.UserID, l.Name, l.Phone, l.Email, l.Source,
		l.StageID, l.Score, l.Notes, l.Confirmed, l.ConversationID).Scan(&l.CreatedAt, &l.UpdatedAt)
	return translate(err)
}

func (r *LeadRepository) Get(ctx context.Context, userID int, id string) (*entities.Lead, error) {
	return scanLead(r.db.QueryRow(ctx,
		"SELECT "+leadColumns+" FROM leads WHERE id = $1 AND user_id = $2", id, userID))
}

// List returns a user's leads, optionally filtered by stage
func (r *LeadRepository) List(ctx context.Context, userID int, stageID string) ([]entities.Lead, error) {
	return collectLeads(r.db.Query(ctx,
		"SELECT "+leadColumns+` FROM leads
		 WHERE user_id = $1 AND ($2 = '' OR stage_id::text = $2)
		 ORDER BY updated_at DESC`, userID, stageID))
}

// FindByContact matches on phone or email, whichever is non-empty
func (r *LeadRepository) FindByContact(ctx context.Context, userID int, phone, email string) (*entities.Lead, error) {
	if phone == "" && email == "" {
		return nil, ErrNotFound
	}
	return scanLead(r.db.QueryRow(ctx,
		"SELECT "+leadColumns+` FROM leads
		 WHERE user_id = $1 AND (($2 <> '' AND phone = $2) OR ($3 <> '' AND lower(email) = lower($3)))
		 ORDER BY created_at LIMIT 1`, userID, phone, email))
}

func (r *LeadRepository) Update(ctx context.Context, l *entities.Lead) error {
	err := r.db.QueryRow(ctx, `
		UPDATE leads SET name = $1, phone = $2, email = $3, source = $4, stage_id = NULLIF($5, '')::uuid,
		       score = $6, notes = $7, confirmed = $8, conversation_id = NULLIF($11, '')::uuid, updated_at = NOW()
		WHERE id = $9 AND user_id = $10
		RETURNING created_at, updated_at
	`, l.Name, l.Phone, l.Email, l.Source, l.StageID, l.Score, l.Notes, l.Confirmed, l.ID, l.UserID, l.ConversationID).
		Scan(&l.CreatedAt, &l.UpdatedAt)
	return translate(err)
}

// MoveToStage checks that the stage belongs to the same user
func (r *LeadRepository) MoveToStage(ctx context.Context, userID int, id, stageID string) error {
	return expectOne(r.db.Exec(ctx, `
		UPDATE leads SET stage_id = s.id, updated_at = NOW()
		FROM pipeline_stages s
		WHERE leads.id = $1 AND leads.user_id = $2 AND s.id = $3 AND s.user_id = $2
	`, id, userID, stageID))
}

func (r *LeadRepository) Confirm(ctx context.Context, userID int, id string) error {
	return expectOne(r.db.Exec(ctx,
		"UPDATE leads SET confirmed = TRUE, updated_at = NOW() WHERE id = $1 AND user_id = $2", id, userID))
}

func (r *LeadRepository) Delete(ctx context.Context, userID int, id string) error {
	return expectOne(r.db.Exec(ctx, "DELETE FROM leads WHERE id = $1 AND user_id = $2", id, userID))
}

// CountByStage returns lead counts keyed by stage id ("" for unstaged leads)
func (r *LeadRepository) CountByStage(ctx context.Context, userID int) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT COALESCE(stage_id::text, ''), COUNT(*) FROM leads WHERE user_id = $1 GROUP BY stage_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var stageID string
		var n int
		if err := rows.Scan(&stageID, &n); err != nil {
			return nil, err
		}
		counts[stageID] = n
	}
	return counts, rows.Err()
}

// CreateBatch inserts leads in one transaction; any failure rolls back all rows
func (r *LeadRepository) CreateBatch(ctx context.Context, leads []entities.Lead) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range leads {
		l := &leads[i]
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		err := tx.QueryRow(ctx, insertLeadSQL, l.ID, l.UserID, l.Name, l.Phone, l.Email, l.Source,
			l.StageID, l.Score, l.Notes, l.Confirmed, l.ConversationID).Scan(&l.CreatedAt, &l.UpdatedAt)
		if err != nil {
			return fmt.Errorf("row %d insert failed: %w", i+1, translate(err))
		}
	}
	return tx.Commit(ctx)
}
