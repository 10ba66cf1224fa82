package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the dispatch worker.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Scheduler SchedulerConfig
	Dispatch  DispatchConfig
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

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// SchedulerConfig tunes the job scheduler. LimiterMax/LimiterDuration
// throttle the message-send queue; they are the sole backpressure on
// outbound traffic.
type SchedulerConfig struct {
	LimiterMax        int
	LimiterDurationMS int
	Concurrency       int
}

// DispatchConfig carries the dispatch engine's timing knobs.
type DispatchConfig struct {
	CampaignLookaheadHours  int
	ScheduleScanWindowSec   int
	ScheduleSendDelaySec    int
	UserOfflineAfterMinutes int
	ChatbotCloseDelayMS     int

	// SendWindowCompanyID names the tenant whose campaign settings gate
	// the shared outbound queue.
	SendWindowCompanyID int64
}

// Load reads configuration from environment variables, applying defaults
// where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "chat-dispatch"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Scheduler: SchedulerConfig{
			LimiterMax:        getEnvAsInt("REDIS_OPT_LIMITER_MAX", 1),
			LimiterDurationMS: getEnvAsInt("REDIS_OPT_LIMITER_DURATION", 3000),
			Concurrency:       getEnvAsInt("SCHEDULER_CONCURRENCY", 4),
		},
		Dispatch: DispatchConfig{
			CampaignLookaheadHours:  getEnvAsInt("CAMPAIGN_LOOKAHEAD_HOURS", 3),
			ScheduleScanWindowSec:   getEnvAsInt("SCHEDULE_SCAN_WINDOW_SECONDS", 30),
			ScheduleSendDelaySec:    getEnvAsInt("SCHEDULE_SEND_DELAY_SECONDS", 40),
			UserOfflineAfterMinutes: getEnvAsInt("USER_OFFLINE_AFTER_MINUTES", 5),
			ChatbotCloseDelayMS:     getEnvAsInt("CHATBOT_CLOSE_DELAY_MS", 2000),
			SendWindowCompanyID:     int64(getEnvAsInt("CAMPAIGN_WINDOW_COMPANY_ID", 1)),
		},
	}

	return cfg, nil
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

// LimiterDuration returns the rate-limit window as a duration.
func (s SchedulerConfig) LimiterDuration() time.Duration {
	return time.Duration(s.LimiterDurationMS) * time.Millisecond
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
