package entities

import "time"

type User struct {
	ID            int       `json:"id"`
	Username      string    `json:"username"`
	PasswordHash  string    `json:"-"`
	Role          string    `json:"role"`
	IsActive      bool      `json:"is_active"`
	OpenAIKey     string    `json:"-"`              // Tenant completion credential
	TelegramToken string    `json:"-"`              // User's Telegram bot token
	DailyLimit    int       `json:"daily_limit"`    // Max relays per day (0 = unlimited)
	MonthlyLimit  int       `json:"monthly_limit"`  // Max relays per month (0 = unlimited)
	CreatedAt     time.Time `json:"created_at"`
}

// HasOpenAIKey reports whether the tenant configured a completion credential
func (u *User) HasOpenAIKey() bool {
	return u != nil && u.OpenAIKey != ""
}

// UserStats are platform-wide account counters for the admin panel
type UserStats struct {
	TotalUsers    int `json:"total_users"`
	ActiveUsers   int `json:"active_users"`
	AdminCount    int `json:"admin_count"`
	WithOpenAIKey int `json:"with_openai_key"`
}
