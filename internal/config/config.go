package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration accepts "15s"-style strings in YAML
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Env        string           `yaml:"env"`
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Log        LogConfig        `yaml:"log"`
	Redis      RedisConfig      `yaml:"redis"`
	AMQP       AMQPConfig       `yaml:"amqp"`
	Completion CompletionConfig `yaml:"completion"`
	Evolution  GatewayConfig    `yaml:"evolution"`
	Venom      GatewayConfig    `yaml:"venom"`
	Meta       MetaConfig       `yaml:"meta"`
	WhatsApp   WhatsAppConfig   `yaml:"whatsapp"`
	Relay      RelayConfig      `yaml:"relay"`
}

type HTTPConfig struct {
	Addr         string `yaml:"addr"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
	AllowOrigin  string `yaml:"allow_origin"` // CORS and WebSocket origin, "*" when empty
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type AuthConfig struct {
	JWTSecret     string   `yaml:"jwt_secret"`
	TokenTTL      Duration `yaml:"token_ttl"`
	AdminUsername string   `yaml:"admin_username"`
	AdminPassword string   `yaml:"admin_password"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type RedisConfig struct {
	URL     string   `yaml:"url"`
	LockTTL Duration `yaml:"lock_ttl"`
}

type AMQPConfig struct {
	URL     string `yaml:"url"`
	Queue   string `yaml:"queue"`
	Workers int    `yaml:"workers"`
}

type CompletionConfig struct {
	BaseURL        string   `yaml:"base_url"`
	Model          string   `yaml:"model"`
	MaxTokens      int      `yaml:"max_tokens"`
	Temperature    float64  `yaml:"temperature"`
	HistoryWindow  int      `yaml:"history_window"`
	Timeout        Duration `yaml:"timeout"`
	RetryBaseDelay Duration `yaml:"retry_base_delay"`
}

// GatewayConfig covers the HTTP WhatsApp gateways (Evolution API, venom server)
type GatewayConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

func (g GatewayConfig) Enabled() bool { return g.BaseURL != "" }

type MetaConfig struct {
	GraphURL        string `yaml:"graph_url"`
	PageAccessToken string `yaml:"page_access_token"`
	VerifyToken     string `yaml:"verify_token"`
}

type WhatsAppConfig struct {
	Enabled      bool     `yaml:"enabled"`
	DevicesDir   string   `yaml:"devices_dir"`
	PollInterval Duration `yaml:"poll_interval"`
	PollTimeout  Duration `yaml:"poll_timeout"`
}

type RelayConfig struct {
	NoAgentReply     string   `yaml:"no_agent_reply"`
	ConfigReply      string   `yaml:"config_reply"`
	ApologyReply     string   `yaml:"apology_reply"`
	QuotaReply       string   `yaml:"quota_reply"`
	InboundPerMinute int      `yaml:"inbound_per_minute"`
	InboundBurst     int      `yaml:"inbound_burst"`
	DedupeTTL        Duration `yaml:"dedupe_ttl"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Env:      "development",
		HTTP:     HTTPConfig{Addr: "0.0.0.0:8080", MaxBodyBytes: 10 << 20},
		Database: DatabaseConfig{MaxConns: 10},
		Auth: AuthConfig{
			TokenTTL: Duration{24 * time.Hour},
		},
		Log:   LogConfig{Level: "info"},
		Redis: RedisConfig{LockTTL: Duration{45 * time.Second}},
		AMQP:  AMQPConfig{Queue: "conversation.updated", Workers: 4},
		Completion: CompletionConfig{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			MaxTokens:      500,
			Temperature:    0.7,
			HistoryWindow:  10,
			Timeout:        Duration{15 * time.Second},
			RetryBaseDelay: Duration{300 * time.Millisecond},
		},
		Meta: MetaConfig{GraphURL: "https://graph.facebook.com/v18.0"},
		WhatsApp: WhatsAppConfig{
			DevicesDir:   "devices",
			PollInterval: Duration{3 * time.Second},
			PollTimeout:  Duration{5 * time.Minute},
		},
		Relay: RelayConfig{
			NoAgentReply:     "Olá! No momento não há um atendente disponível neste canal. Tente novamente mais tarde.",
			ConfigReply:      "Este assistente ainda está sendo configurado. Por favor, tente novamente mais tarde.",
			ApologyReply:     "Desculpe, estou com dificuldades para responder agora. Tente novamente em instantes.",
			QuotaReply:       "Nosso atendimento automático atingiu o limite de mensagens por hoje. Retornaremos em breve.",
			InboundPerMinute: 20,
			InboundBurst:     5,
			DedupeTTL:        Duration{10 * time.Minute},
		},
	}
}

// Load reads .env (if present), an optional YAML file and then environment
// overrides. The YAML file may reference ${VARS}.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	envString(&c.Env, "APP_ENV")
	envString(&c.HTTP.Addr, "HTTP_ADDR")
	envString(&c.HTTP.AllowOrigin, "CORS_ALLOW_ORIGIN")
	envString(&c.Database.URL, "DATABASE_URL")
	envString(&c.Auth.JWTSecret, "JWT_SECRET")
	envString(&c.Auth.AdminUsername, "ADMIN_USERNAME")
	envString(&c.Auth.AdminPassword, "ADMIN_PASSWORD")
	envString(&c.Log.Level, "LOG_LEVEL")
	envString(&c.Redis.URL, "REDIS_URL")
	envString(&c.AMQP.URL, "AMQP_URL")
	envString(&c.AMQP.Queue, "AMQP_QUEUE")
	envString(&c.Completion.BaseURL, "OPENAI_BASE_URL")
	envString(&c.Completion.Model, "OPENAI_MODEL")
	envString(&c.Evolution.BaseURL, "EVOLUTION_API_URL")
	envString(&c.Evolution.APIKey, "EVOLUTION_API_KEY")
	envString(&c.Venom.BaseURL, "VENOM_API_URL")
	envString(&c.Venom.APIKey, "VENOM_API_TOKEN")
	envString(&c.Meta.GraphURL, "META_GRAPH_URL")
	envString(&c.Meta.PageAccessToken, "META_PAGE_ACCESS_TOKEN")
	envString(&c.Meta.VerifyToken, "META_VERIFY_TOKEN")
	envString(&c.WhatsApp.DevicesDir, "WHATSAPP_DEVICES_DIR")

	if err := envInt(&c.AMQP.Workers, "AMQP_WORKERS"); err != nil {
		return err
	}
	if err := envInt(&c.Completion.HistoryWindow, "OPENAI_HISTORY_WINDOW"); err != nil {
		return err
	}
	if err := envInt(&c.Completion.MaxTokens, "OPENAI_MAX_TOKENS"); err != nil {
		return err
	}
	if err := envDuration(&c.Completion.Timeout, "OPENAI_TIMEOUT"); err != nil {
		return err
	}
	if err := envDuration(&c.Redis.LockTTL, "REDIS_LOCK_TTL"); err != nil {
		return err
	}
	if v := os.Getenv("WHATSAPP_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("WHATSAPP_ENABLED: %w", err)
		}
		c.WhatsApp.Enabled = enabled
	}
	return nil
}

// Validate checks required settings and value ranges
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database url is required (DATABASE_URL)")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("jwt secret is required (JWT_SECRET)")
	}
	if c.Completion.HistoryWindow <= 0 {
		return fmt.Errorf("completion.history_window must be positive, got %d", c.Completion.HistoryWindow)
	}
	if c.Completion.Timeout.Duration <= 0 {
		return errors.New("completion.timeout must be positive")
	}
	if c.Completion.MaxTokens <= 0 {
		return fmt.Errorf("completion.max_tokens must be positive, got %d", c.Completion.MaxTokens)
	}
	if c.WhatsApp.PollInterval.Duration <= 0 || c.WhatsApp.PollTimeout.Duration < c.WhatsApp.PollInterval.Duration {
		return errors.New("whatsapp poll_timeout must be at least poll_interval")
	}
	if c.Relay.InboundPerMinute <= 0 || c.Relay.InboundBurst <= 0 {
		return errors.New("relay inbound rate limits must be positive")
	}
	if hold := c.RelayHoldTime(); c.Redis.LockTTL.Duration < hold {
		return fmt.Errorf("redis.lock_ttl %s is shorter than the worst-case relay hold time %s", c.Redis.LockTTL.Duration, hold)
	}
	return nil
}

// lockMargin covers the transcript read and upsert around the completion
const lockMargin = 5 * time.Second

// RelayHoldTime is the longest a relay can hold a session lock. The retry
// delay is jittered up to 1.5x its base.
func (c *Config) RelayHoldTime() time.Duration {
	return 2*c.Completion.Timeout.Duration + c.Completion.RetryBaseDelay.Duration*3/2 + lockMargin
}

// IsDevelopment reports whether human-readable logs should be used
func (c *Config) IsDevelopment() bool {
	return c.Env == "" || c.Env == "development"
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(dst *Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	dst.Duration = d
	return nil
}
