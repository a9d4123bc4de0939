package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type PostgresClient struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewPostgresClient(ctx context.Context, connString string, maxConns int32, log zerolog.Logger) (*PostgresClient, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	// Pool configuration
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresClient{Pool: pool, log: log.With().Str("component", "postgres").Logger()}, nil
}

var schema = []struct {
	name string
	ddl  string
}{
	{"users", `
		CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			username VARCHAR(50) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			role VARCHAR(20) NOT NULL DEFAULT 'user',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			openai_key TEXT NOT NULL DEFAULT '',
			telegram_token TEXT NOT NULL DEFAULT '',
			daily_limit INT NOT NULL DEFAULT 0,
			monthly_limit INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`},
	{"agents", `
		CREATE TABLE IF NOT EXISTS agents (
			id UUID PRIMARY KEY,
			user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name VARCHAR(120) NOT NULL,
			channel VARCHAR(20) NOT NULL,
			prompt TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`},
	{"agents_owner_idx", `CREATE INDEX IF NOT EXISTS agents_owner_channel_idx ON agents (user_id, channel, active)`},
	{"agent_channels", `
		CREATE TABLE IF NOT EXISTS agent_channels (
			id UUID PRIMARY KEY,
			agent_id UUID NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			channel VARCHAR(20) NOT NULL,
			provider VARCHAR(20) NOT NULL DEFAULT '',
			routing_key VARCHAR(255) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (agent_id, channel, routing_key)
		)`},
	{"agent_channels_route_idx", `CREATE INDEX IF NOT EXISTS agent_channels_route_idx ON agent_channels (channel, routing_key)`},
	// one account per gateway instance, venom session or page id
	{"route_owners", `
		CREATE TABLE IF NOT EXISTS route_owners (
			channel VARCHAR(20) NOT NULL,
			routing_key VARCHAR(255) NOT NULL,
			user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			claimed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (channel, routing_key)
		)`},
	{"route_owners_backfill", `
		INSERT INTO route_owners (channel, routing_key, user_id)
		SELECT DISTINCT ON (ac.channel, ac.routing_key) ac.channel, ac.routing_key, a.user_id
		FROM agent_channels ac JOIN agents a ON a.id = ac.agent_id
		ORDER BY ac.channel, ac.routing_key, ac.created_at, ac.id
		ON CONFLICT (channel, routing_key) DO NOTHING`},
	{"conversations", `
		CREATE TABLE IF NOT EXISTS conversations (
			id UUID PRIMARY KEY,
			agent_id UUID NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			session_id VARCHAR(255) NOT NULL,
			messages JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (agent_id, session_id)
		)`},
	{"pipeline_stages", `
		CREATE TABLE IF NOT EXISTS pipeline_stages (
			id UUID PRIMARY KEY,
			user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name VARCHAR(80) NOT NULL,
			position INT NOT NULL,
			color VARCHAR(16) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`},
	{"leads", `
		CREATE TABLE IF NOT EXISTS leads (
			id UUID PRIMARY KEY,
			user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL DEFAULT '',
			phone VARCHAR(32) NOT NULL DEFAULT '',
			email VARCHAR(255) NOT NULL DEFAULT '',
			source VARCHAR(32) NOT NULL DEFAULT 'manual',
			stage_id UUID REFERENCES pipeline_stages(id) ON DELETE SET NULL,
			score INT NOT NULL DEFAULT 0,
			notes TEXT NOT NULL DEFAULT '',
			confirmed BOOLEAN NOT NULL DEFAULT FALSE,
			conversation_id UUID REFERENCES conversations(id) ON DELETE SET NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`},
	{"leads_owner_idx", `CREATE INDEX IF NOT EXISTS leads_owner_stage_idx ON leads (user_id, stage_id)`},
	{"message_usage", `
		CREATE TABLE IF NOT EXISTS message_usage (
			user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			date DATE NOT NULL,
			messages_sent INT NOT NULL DEFAULT 0,
			messages_received INT NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, date)
		)`},
}

// Migrate creates the schema idempotently
func (p *PostgresClient) Migrate(ctx context.Context) error {
	for _, step := range schema {
		if _, err := p.Pool.Exec(ctx, step.ddl); err != nil {
			return fmt.Errorf("create %s: %w", step.name, err)
		}
	}
	p.log.Info().Int("steps", len(schema)).Msg("database schema ready")
	return nil
}

func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}

func (p *PostgresClient) Close() {
	p.Pool.Close()
}
