package repository

import (
	"context"
	"errors"
	"fmt"

	"converta/internal/entities"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChannelRepository stores agent routing bindings (agent_channels)
type ChannelRepository struct {
	db *pgxpool.Pool
}

func NewChannelRepository(db *pgxpool.Pool) *ChannelRepository {
	return &ChannelRepository{db: db}
}

// Create binds a route to an agent. The first account to bind a route
// owns it until its last binding for that route is gone; other accounts
// get ErrRouteTaken.
func (r *ChannelRepository) Create(ctx context.Context, b *entities.AgentChannel) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var ownerID int
	if err := tx.QueryRow(ctx, "SELECT user_id FROM agents WHERE id = $1", b.AgentID).Scan(&ownerID); err != nil {
		return translate(err)
	}

	// a stale claim (no bindings left) passes to the new owner
	var claimed int
	err = tx.QueryRow(ctx, `
		INSERT INTO route_owners (channel, routing_key, user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (channel, routing_key) DO UPDATE
		SET user_id = EXCLUDED.user_id, claimed_at = NOW()
		WHERE route_owners.user_id = EXCLUDED.user_id OR NOT EXISTS (
			SELECT 1 FROM agent_channels ac JOIN agents a ON a.id = ac.agent_id
			WHERE ac.channel = route_owners.channel AND ac.routing_key = route_owners.routing_key
			  AND a.user_id = route_owners.user_id
		)
		RETURNING user_id
	`, string(b.Channel), b.RoutingKey, ownerID).Scan(&claimed)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRouteTaken
	}
	if err != nil {
		return translate(err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO agent_channels (id, agent_id, channel, provider, routing_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, b.ID, b.AgentID, string(b.Channel), b.Provider, b.RoutingKey).Scan(&b.CreatedAt)
	if err != nil {
		return translate(err)
	}
	return tx.Commit(ctx)
}

func (r *ChannelRepository) ListByAgent(ctx context.Context, agentID string) ([]entities.AgentChannel, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, agent_id, channel, provider, routing_key, created_at
		FROM agent_channels WHERE agent_id = $1 ORDER BY created_at
	`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bindings := []entities.AgentChannel{}
	for rows.Next() {
		var b entities.AgentChannel
		var channel string
		if err := rows.Scan(&b.ID, &b.AgentID, &channel, &b.Provider, &b.RoutingKey, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Channel = entities.Channel(channel)
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

// Delete removes a binding if its agent belongs to userID
func (r *ChannelRepository) Delete(ctx context.Context, userID int, id string) error {
	return expectOne(r.db.Exec(ctx, `
		DELETE FROM agent_channels ac USING agents a
		WHERE ac.id = $1 AND ac.agent_id = a.id AND a.user_id = $2
	`, id, userID))
}

// RouteOwnedBy reports whether userID owns the route and still has an
// agent bound to it
func (r *ChannelRepository) RouteOwnedBy(ctx context.Context, userID int, channel entities.Channel, routingKey string) (bool, error) {
	var owned bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM route_owners ro
			JOIN agent_channels ac ON ac.channel = ro.channel AND ac.routing_key = ro.routing_key
			JOIN agents a ON a.id = ac.agent_id AND a.user_id = ro.user_id
			WHERE ro.channel = $1 AND ro.routing_key = $2 AND ro.user_id = $3
		)
	`, string(channel), routingKey, userID).Scan(&owned)
	return owned, err
}
