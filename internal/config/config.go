package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Storage  StorageConfig
	Postgres PostgresConfig
	SQLite   SQLiteConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Telegram TelegramConfig
	Bridge   BridgeConfig
	Dispatch DispatchConfig
	Groups   GroupMapping
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// StorageConfig selects the ticket repository backend.
type StorageConfig struct {
	Driver string
}

const (
	StorageDriverPostgres = "postgres"
	StorageDriverSQLite   = "sqlite"
)

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	AppName        string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// SQLiteConfig holds the embedded database location.
type SQLiteConfig struct {
	Path string
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level  string
	Format string
}

// TelegramConfig holds bot API credentials and update delivery settings.
type TelegramConfig struct {
	BotToken     string
	APIServer    string
	WebhookPath  string
	WebhookURL   string
	SecretToken  string
	UpdatesMode  string
	PollTimeoutS int
}

const (
	UpdatesModeWebhook = "webhook"
	UpdatesModePolling = "polling"
)

// ClosedTicketPolicy decides what a message from a user with a closed ticket does.
type ClosedTicketPolicy string

const (
	PolicyNewTicket ClosedTicketPolicy = "new"
	PolicyReopen    ClosedTicketPolicy = "reopen"
)

// BridgeConfig tunes the ticket bridge.
type BridgeConfig struct {
	ClosedTicketPolicy   ClosedTicketPolicy
	SessionTTL           time.Duration
	DedupeTTL            time.Duration
	DedupeSize           int
	LockBackend          string
	LockTTL              time.Duration
	GreetingText         string
	CloseNoticeText      string
	ReopenNoticeText     string
	NotifyStaffOnFailure bool
	ThrottleInterval     time.Duration
	ThrottleBurst        int
}

const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// DispatchConfig tunes the outbound dispatcher.
type DispatchConfig struct {
	Workers           int
	MaxAttempts       int
	ActionTimeout     time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	RatePerSecond     float64
	RateBurst         int
	IdempotencyWindow time.Duration
	IdempotencySize   int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	groups, err := LoadGroupMapping(os.Getenv("GROUPS_FILE"), os.Getenv("CATEGORY_GROUPS"),
		getEnv("DEFAULT_CATEGORY", "general"), getEnvAsInt64("MAIN_GROUP_ID", 0))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "support-bridge"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 15),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverPostgres)),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			AppName:        getEnv("POSTGRES_APP_NAME", getEnv("APP_NAME", "support-bridge")),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		SQLite: SQLiteConfig{
			Path: getEnv("SQLITE_PATH", "data/bridge.db"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
		Telegram: TelegramConfig{
			BotToken:     os.Getenv("BOT_TOKEN"),
			APIServer:    os.Getenv("TELEGRAM_API_SERVER"),
			WebhookPath:  getEnv("WEBHOOK_PATH", "/webhook"),
			WebhookURL:   os.Getenv("WEBHOOK_URL"),
			SecretToken:  os.Getenv("WEBHOOK_SECRET_TOKEN"),
			UpdatesMode:  strings.ToLower(getEnv("UPDATES_MODE", UpdatesModeWebhook)),
			PollTimeoutS: getEnvAsInt("POLL_TIMEOUT_SECONDS", 30),
		},
		Bridge: BridgeConfig{
			ClosedTicketPolicy:   ClosedTicketPolicy(strings.ToLower(getEnv("CLOSED_TICKET_POLICY", string(PolicyNewTicket)))),
			SessionTTL:           getEnvAsDuration("SESSION_TTL", 72*time.Hour),
			DedupeTTL:            getEnvAsDuration("DEDUPE_TTL", 24*time.Hour),
			DedupeSize:           getEnvAsInt("DEDUPE_SIZE", 10000),
			LockBackend:          strings.ToLower(getEnv("LOCK_BACKEND", LockBackendMemory)),
			LockTTL:              getEnvAsDuration("LOCK_TTL", 15*time.Second),
			GreetingText:         getEnv("GREETING_TEXT", "Hello! Send us your question and our support team will reply here."),
			CloseNoticeText:      getEnv("CLOSE_NOTICE_TEXT", "Your request has been closed. Write again any time if you need more help."),
			ReopenNoticeText:     getEnv("REOPEN_NOTICE_TEXT", "Your request has been reopened."),
			NotifyStaffOnFailure: getEnvAsBool("NOTIFY_STAFF_ON_FAILURE", true),
			ThrottleInterval:     getEnvAsDuration("USER_THROTTLE_INTERVAL", 500*time.Millisecond),
			ThrottleBurst:        getEnvAsInt("USER_THROTTLE_BURST", 5),
		},
		Dispatch: DispatchConfig{
			Workers:           getEnvAsInt("DISPATCH_WORKERS", 16),
			MaxAttempts:       getEnvAsInt("DISPATCH_MAX_ATTEMPTS", 5),
			ActionTimeout:     getEnvAsDuration("DISPATCH_ACTION_TIMEOUT", 10*time.Second),
			InitialBackoff:    getEnvAsDuration("DISPATCH_INITIAL_BACKOFF", 500*time.Millisecond),
			MaxBackoff:        getEnvAsDuration("DISPATCH_MAX_BACKOFF", 30*time.Second),
			RatePerSecond:     getEnvAsFloat("DISPATCH_RATE_PER_SEC", 25),
			RateBurst:         getEnvAsInt("DISPATCH_RATE_BURST", 5),
			IdempotencyWindow: getEnvAsDuration("DISPATCH_IDEMPOTENCY_WINDOW", 10*time.Minute),
			IdempotencySize:   getEnvAsInt("DISPATCH_IDEMPOTENCY_SIZE", 50000),
		},
		Groups: groups,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values the service cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.BotToken == "" {
		errs = append(errs, errors.New("BOT_TOKEN is required"))
	}
	switch c.Telegram.UpdatesMode {
	case UpdatesModeWebhook, UpdatesModePolling:
	default:
		errs = append(errs, fmt.Errorf("UPDATES_MODE %q must be webhook or polling", c.Telegram.UpdatesMode))
	}
	switch c.Storage.Driver {
	case StorageDriverPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres storage driver"))
		}
	case StorageDriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER %q must be postgres or sqlite", c.Storage.Driver))
	}
	switch c.Bridge.ClosedTicketPolicy {
	case PolicyNewTicket, PolicyReopen:
	default:
		errs = append(errs, fmt.Errorf("CLOSED_TICKET_POLICY %q must be new or reopen", c.Bridge.ClosedTicketPolicy))
	}
	switch c.Bridge.LockBackend {
	case LockBackendMemory:
	case LockBackendRedis:
		if !c.Redis.Enabled {
			errs = append(errs, errors.New("LOCK_BACKEND=redis requires REDIS_ENABLED"))
		}
	default:
		errs = append(errs, fmt.Errorf("LOCK_BACKEND %q must be memory or redis", c.Bridge.LockBackend))
	}
	if c.Dispatch.MaxAttempts < 1 {
		errs = append(errs, errors.New("DISPATCH_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Dispatch.Workers < 1 {
		errs = append(errs, errors.New("DISPATCH_WORKERS must be at least 1"))
	}
	if err := c.Groups.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsInt64(key string, fallback int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}
