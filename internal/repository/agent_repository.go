package repository

import (
	"context"

	"converta/internal/entities"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AgentRepository struct {
	db *pgxpool.Pool
}

func NewAgentRepository(db *pgxpool.Pool) *AgentRepository {
	return &AgentRepository{db: db}
}

const agentColumns = "a.id, a.user_id, a.name, a.channel, a.prompt, a.active, a.created_at, a.updated_at"

// candidateOrder is the resolver tie-break: first configured agent wins
const candidateOrder = " ORDER BY a.created_at ASC, a.id ASC"

func scanAgent(row rowScanner) (*entities.Agent, error) {
	var a entities.Agent
	var channel string
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &channel, &a.Prompt, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	a.Channel = entities.Channel(channel)
	return &a, nil
}

func collectAgents(rows pgx.Rows, err error) ([]entities.Agent, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	agents := []entities.Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func (r *AgentRepository) Create(ctx context.Context, a *entities.Agent) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO agents (id, user_id, name, channel, prompt, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, a.ID, a.UserID, a.Name, string(a.Channel), a.Prompt, a.Active).Scan(&a.CreatedAt, &a.UpdatedAt)
	return translate(err)
}

// Get returns an agent owned by userID
func (r *AgentRepository) Get(ctx context.Context, userID int, id string) (*entities.Agent, error) {
	return scanAgent(r.db.QueryRow(ctx,
		"SELECT "+agentColumns+" FROM agents a WHERE a.id = $1 AND a.user_id = $2", id, userID))
}

func (r *AgentRepository) ListByUser(ctx context.Context, userID int) ([]entities.Agent, error) {
	return collectAgents(r.db.Query(ctx,
		"SELECT "+agentColumns+" FROM agents a WHERE a.user_id = $1"+candidateOrder, userID))
}

func (r *AgentRepository) Update(ctx context.Context, a *entities.Agent) error {
	err := r.db.QueryRow(ctx, `
		UPDATE agents SET name = $1, channel = $2, prompt = $3, active = $4, updated_at = NOW()
		WHERE id = $5 AND user_id = $6
		RETURNING created_at, updated_at
	`, a.Name, string(a.Channel), a.Prompt, a.Active, a.ID, a.UserID).Scan(&a.CreatedAt, &a.UpdatedAt)
	return translate(err)
}

func (r *AgentRepository) SetActive(ctx context.Context, userID int, id string, active bool) error {
	return expectOne(r.db.Exec(ctx,
		"UPDATE agents SET active = $1, updated_at = NOW() WHERE id = $2 AND user_id = $3",
		active, id, userID))
}

func (r *AgentRepository) Delete(ctx context.Context, userID int, id string) error {
	return expectOne(r.db.Exec(ctx, "DELETE FROM agents WHERE id = $1 AND user_id = $2", id, userID))
}

// ListActiveByOwner returns active agents of a user on one channel in tie-break order
func (r *AgentRepository) ListActiveByOwner(ctx context.Context, userID int, channel entities.Channel) ([]entities.Agent, error) {
	return collectAgents(r.db.Query(ctx,
		"SELECT "+agentColumns+` FROM agents a
		 JOIN users u ON u.id = a.user_id
		 WHERE a.user_id = $1 AND a.channel = $2 AND a.active AND u.is_active`+candidateOrder,
		userID, string(channel)))
}

// ListActiveByBinding returns the route owner's active agents bound to a
// routing key in tie-break order
func (r *AgentRepository) ListActiveByBinding(ctx context.Context, channel entities.Channel, routingKey string) ([]entities.Agent, error) {
	return collectAgents(r.db.Query(ctx,
		"SELECT "+agentColumns+` FROM agents a
		 JOIN agent_channels ac ON ac.agent_id = a.id
		 JOIN route_owners ro ON ro.channel = ac.channel AND ro.routing_key = ac.routing_key AND ro.user_id = a.user_id
		 JOIN users u ON u.id = a.user_id
		 WHERE ac.channel = $1 AND ac.routing_key = $2 AND a.active AND u.is_active`+candidateOrder,
		string(channel), routingKey))
}

func (r *AgentRepository) CountByUser(ctx context.Context, userID int) (total, active int, err error) {
	err = r.db.QueryRow(ctx,
		"SELECT COUNT(*), COUNT(*) FILTER (WHERE active) FROM agents WHERE user_id = $1",
		userID).Scan(&total, &active)
	return total, active, err
}
