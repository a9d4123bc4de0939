package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"converta/internal/entities"
	"converta/internal/interfaces"
	"converta/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account is disabled")
)

type AuthUsecase struct {
	users     interfaces.UserStore
	stages    interfaces.StageStore
	jwtSecret []byte
	tokenTTL  time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

func NewAuthUsecase(users interfaces.UserStore, stages interfaces.StageStore, secret string, tokenTTL time.Duration, log zerolog.Logger) *AuthUsecase {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AuthUsecase{
		users:     users,
		stages:    stages,
		jwtSecret: []byte(secret),
		tokenTTL:  tokenTTL,
		log:       log.With().Str("component", "auth").Logger(),
		now:       time.Now,
	}
}

// Register creates a regular account and seeds its sales pipeline
func (uc *AuthUsecase) Register(ctx context.Context, username, password string) (*entities.User, error) {
	_, err := uc.users.GetByUsername(ctx, username)
	if err == nil {
		return nil, ErrUsernameTaken
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &entities.User{
		Username:     username,
		PasswordHash: string(hashed),
		Role:         "user",
	}
	if err := uc.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}

	// a missing pipeline is recreated on the next login
	if err := EnsureDefaultStages(ctx, uc.stages, user.ID); err != nil {
		uc.log.Warn().Err(err).Int("user_id", user.ID).Msg("seeding pipeline stages")
	}
	return user, nil
}

func (uc *AuthUsecase) Login(ctx context.Context, username, password string) (string, error) {
	user, err := uc.users.GetByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	if !user.IsActive {
		return "", ErrAccountDisabled
	}

	if err := EnsureDefaultStages(ctx, uc.stages, user.ID); err != nil {
		uc.log.Warn().Err(err).Int("user_id", user.ID).Msg("seeding pipeline stages")
	}
	return uc.IssueToken(user)
}

// IssueToken signs an HS256 token carrying user_id and role
func (uc *AuthUsecase) IssueToken(user *entities.User) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user.ID,
		"role":    user.Role,
		"exp":     uc.now().Add(uc.tokenTTL).Unix(),
	})

	tokenString, err := token.SignedString(uc.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// EnsureAdmin creates a root user if none exists (called on startup)
func (uc *AuthUsecase) EnsureAdmin(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	_, err := uc.users.GetByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	admin := &entities.User{
		Username:     username,
		PasswordHash: string(hashed),
		Role:         "admin",
	}
	if err := uc.users.Create(ctx, admin); err != nil {
		return err
	}
	uc.log.Info().Str("username", username).Msg("admin account created")
	return EnsureDefaultStages(ctx, uc.stages, admin.ID)
}
