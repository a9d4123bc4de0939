package usecases

import (
	"context"
	"errors"

	"converta/internal/entities"
	"converta/internal/interfaces"
)

var (
	ErrSelfDisable    = errors.New("cannot disable your own account")
	ErrNegativeLimits = errors.New("limits cannot be negative")
)

// AdminUser is an account row with its live transport state
type AdminUser struct {
	entities.User
	WhatsAppConnected bool `json:"whatsapp_connected"`
	TelegramConnected bool `json:"telegram_connected"`
}

type AdminStats struct {
	entities.UserStats
	WhatsAppConnections int `json:"whatsapp_connections"`
	TelegramBots        int `json:"telegram_bots"`
}

// ConnectedUsers lists users with a live in-process transport
type ConnectedUsers func() []int

type AdminUsecase struct {
	users    interfaces.UserStore
	whatsApp ConnectedUsers
	telegram ConnectedUsers
}

// NewAdminUsecase accepts nil listers for transports that are disabled
func NewAdminUsecase(users interfaces.UserStore, whatsApp, telegram ConnectedUsers) *AdminUsecase {
	none := func() []int { return nil }
	if whatsApp == nil {
		whatsApp = none
	}
	if telegram == nil {
		telegram = none
	}
	return &AdminUsecase{users: users, whatsApp: whatsApp, telegram: telegram}
}

func (uc *AdminUsecase) Stats(ctx context.Context) (*AdminStats, error) {
	stats, err := uc.users.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	return &AdminStats{
		UserStats:           *stats,
		WhatsAppConnections: len(uc.whatsApp()),
		TelegramBots:        len(uc.telegram()),
	}, nil
}

func (uc *AdminUsecase) Users(ctx context.Context) ([]AdminUser, error) {
	users, err := uc.users.GetAllUsers(ctx)
	if err != nil {
		return nil, err
	}
	wa := toSet(uc.whatsApp())
	tg := toSet(uc.telegram())

	out := make([]AdminUser, len(users))
	for i, u := range users {
		out[i] = AdminUser{User: u, WhatsAppConnected: wa[u.ID], TelegramConnected: tg[u.ID]}
	}
	return out, nil
}

func (uc *AdminUsecase) SetStatus(ctx context.Context, actorID, userID int, active bool) error {
	if actorID == userID && !active {
		return ErrSelfDisable
	}
	return uc.users.UpdateUserStatus(ctx, userID, active)
}

// SetLimits stores relay quotas; zero means unlimited
func (uc *AdminUsecase) SetLimits(ctx context.Context, userID, daily, monthly int) error {
	if daily < 0 || monthly < 0 {
		return ErrNegativeLimits
	}
	return uc.users.UpdateUserLimits(ctx, userID, daily, monthly)
}

func toSet(ids []int) map[int]bool {
	set := make(map[int]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
