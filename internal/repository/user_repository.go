package repository

import (
	"context"

	"converta/internal/entities"

	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = "id, username, password_hash, role, is_active, openai_key, telegram_token, daily_limit, monthly_limit, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*entities.User, error) {
	var u entities.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.IsActive,
		&u.OpenAIKey, &u.TelegramToken, &u.DailyLimit, &u.MonthlyLimit, &u.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *UserRepository) Create(ctx context.Context, user *entities.User) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, role) VALUES ($1, $2, $3)
		 RETURNING id, is_active, created_at`,
		user.Username, user.PasswordHash, user.Role).Scan(&user.ID, &user.IsActive, &user.CreatedAt)
	return translate(err)
}

// GetByUsername returns ErrNotFound when no such user exists
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*entities.User, error) {
	return scanUser(r.db.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = $1", username))
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (*entities.User, error) {
	return scanUser(r.db.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

func (r *UserRepository) GetAllUsers(ctx context.Context) ([]entities.User, error) {
	rows, err := r.db.Query(ctx, "SELECT "+userColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []entities.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// ListWithTelegramToken returns active users that saved a bot token
func (r *UserRepository) ListWithTelegramToken(ctx context.Context) ([]entities.User, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+userColumns+" FROM users WHERE telegram_token <> '' AND is_active")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []entities.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (r *UserRepository) UpdateUserStatus(ctx context.Context, id int, active bool) error {
	return expectOne(r.db.Exec(ctx, "UPDATE users SET is_active = $1 WHERE id = $2", active, id))
}

func (r *UserRepository) UpdateUserLimits(ctx context.Context, id, daily, monthly int) error {
	return expectOne(r.db.Exec(ctx,
		"UPDATE users SET daily_limit = $1, monthly_limit = $2 WHERE id = $3", daily, monthly, id))
}

func (r *UserRepository) UpdateOpenAIKey(ctx context.Context, id int, key string) error {
	return expectOne(r.db.Exec(ctx, "UPDATE users SET openai_key = $1 WHERE id = $2", key, id))
}

func (r *UserRepository) UpdateTelegramToken(ctx context.Context, id int, token string) error {
	return expectOne(r.db.Exec(ctx, "UPDATE users SET telegram_token = $1 WHERE id = $2", token, id))
}

func (r *UserRepository) GetTelegramToken(ctx context.Context, id int) (string, error) {
	var token string
	err := r.db.QueryRow(ctx, "SELECT telegram_token FROM users WHERE id = $1", id).Scan(&token)
	return token, translate(err)
}

// GetStats returns platform-wide user counters
func (r *UserRepository) GetStats(ctx context.Context) (*entities.UserStats, error) {
	var s entities.UserStats
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE is_active),
		       COUNT(*) FILTER (WHERE role = 'admin'),
		       COUNT(*) FILTER (WHERE openai_key <> '')
		FROM users`).Scan(&s.TotalUsers, &s.ActiveUsers, &s.AdminCount, &s.WithOpenAIKey)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
