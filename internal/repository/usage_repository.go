package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UsageRepository struct {
	db  *pgxpool.Pool
	now func() time.Time
}

type DailyUsage struct {
	Date             time.Time `json:"date"`
	MessagesSent     int       `json:"messages_sent"`
	MessagesReceived int       `json:"messages_received"`
}

type UserQuotaStatus struct {
	DailyLimit       int `json:"daily_limit"`
	MonthlyLimit     int `json:"monthly_limit"`
	TodaySent        int `json:"today_sent"`
	MonthSent        int `json:"month_sent"`
	DailyRemaining   int `json:"daily_remaining"`
	MonthlyRemaining int `json:"monthly_remaining"`
	DailyPercent     int `json:"daily_percent"`
	MonthlyPercent   int `json:"monthly_percent"`
}

func NewUsageRepository(db *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{db: db, now: time.Now}
}

// IncrementSent counts one relayed reply for today
func (r *UsageRepository) IncrementSent(ctx context.Context, userID int) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO message_usage (user_id, date, messages_sent, messages_received)
		VALUES ($1, $2, 1, 0)
		ON CONFLICT (user_id, date)
		DO UPDATE SET messages_sent = message_usage.messages_sent + 1
	`, userID, r.today())
	return err
}

// IncrementReceived counts one inbound message for today
func (r *UsageRepository) IncrementReceived(ctx context.Context, userID int) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO message_usage (user_id, date, messages_sent, messages_received)
		VALUES ($1, $2, 0, 1)
		ON CONFLICT (user_id, date)
		DO UPDATE SET messages_received = message_usage.messages_received + 1
	`, userID, r.today())
	return err
}

func (r *UsageRepository) today() time.Time {
	y, m, d := r.now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// GetTodayUsage returns today's message count
func (r *UsageRepository) GetTodayUsage(ctx context.Context, userID int) (sent, received int, err error) {
	err = r.db.QueryRow(ctx, `
		SELECT messages_sent, messages_received
		FROM message_usage WHERE user_id = $1 AND date = $2
	`, userID, r.today()).Scan(&sent, &received)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, nil // No record means 0 usage
	}
	return sent, received, err
}

// GetMonthUsage returns this month's total message count
func (r *UsageRepository) GetMonthUsage(ctx context.Context, userID int) (sent, received int, err error) {
	today := r.today()
	firstOfMonth := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	err = r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(messages_sent), 0), COALESCE(SUM(messages_received), 0)
		FROM message_usage WHERE user_id = $1 AND date >= $2
	`, userID, firstOfMonth).Scan(&sent, &received)
	return sent, received, err
}

// GetUsageHistory returns last N days of usage
func (r *UsageRepository) GetUsageHistory(ctx context.Context, userID int, days int) ([]DailyUsage, error) {
	startDate := r.today().AddDate(0, 0, -days)
	rows, err := r.db.Query(ctx, `
		SELECT date, messages_sent, messages_received
		FROM message_usage
		WHERE user_id = $1 AND date >= $2
		ORDER BY date ASC
	`, userID, startDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usage := []DailyUsage{}
	for rows.Next() {
		var u DailyUsage
		if err := rows.Scan(&u.Date, &u.MessagesSent, &u.MessagesReceived); err != nil {
			return nil, err
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

// GetQuotaStatus returns comprehensive quota status for a user
func (r *UsageRepository) GetQuotaStatus(ctx context.Context, userID int, dailyLimit, monthlyLimit int) (*UserQuotaStatus, error) {
	todaySent, _, err := r.GetTodayUsage(ctx, userID)
	if err != nil {
		return nil, err
	}
	monthSent, _, err := r.GetMonthUsage(ctx, userID)
	if err != nil {
		return nil, err
	}
	return BuildQuotaStatus(todaySent, monthSent, dailyLimit, monthlyLimit), nil
}

// BuildQuotaStatus derives remaining/percent figures; a zero limit is unlimited
func BuildQuotaStatus(todaySent, monthSent, dailyLimit, monthlyLimit int) *UserQuotaStatus {
	status := &UserQuotaStatus{
		DailyLimit:   dailyLimit,
		MonthlyLimit: monthlyLimit,
		TodaySent:    todaySent,
		MonthSent:    monthSent,
	}
	status.DailyRemaining, status.DailyPercent = remaining(todaySent, dailyLimit)
	status.MonthlyRemaining, status.MonthlyPercent = remaining(monthSent, monthlyLimit)
	return status
}

func remaining(used, limit int) (left, percent int) {
	if limit <= 0 {
		return -1, 0 // Unlimited
	}
	left = max(limit-used, 0)
	percent = min(used*100/limit, 100)
	return left, percent
}

// CanSendMessage checks if user can send a message based on quotas
func (r *UsageRepository) CanSendMessage(ctx context.Context, userID int, dailyLimit, monthlyLimit int) (bool, string, error) {
	if dailyLimit <= 0 && monthlyLimit <= 0 {
		return true, "", nil
	}
	status, err := r.GetQuotaStatus(ctx, userID, dailyLimit, monthlyLimit)
	if err != nil {
		return false, "", err
	}
	if dailyLimit > 0 && status.TodaySent >= dailyLimit {
		return false, "daily message limit reached", nil
	}
	if monthlyLimit > 0 && status.MonthSent >= monthlyLimit {
		return false, "monthly message limit reached", nil
	}
	return true, "", nil
}
