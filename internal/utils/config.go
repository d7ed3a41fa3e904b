package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerPort string
	JWTSecret  string
	TokenTTL   time.Duration
	Postgres   PostgresConfig
	Redis      RedisConfig
	Mongo      MongoConfig
	Logging    LoggingConfig
	OpenAI     ProviderConfig
	Anthropic  ProviderConfig
	LLMTimeout time.Duration
	RateLimit  RateLimitConfig
	Admin      AdminConfig
}

type PostgresConfig struct {
	DSN               string
	Host              string
	Port              int
	User              string
	Password          string
	Database          string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
}

// RedisConfig is optional; an empty Addr disables the generate rate limiter.
type RedisConfig struct {
	Addr string
}

// MongoConfig is optional; an empty URI disables the generate audit log.
type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

type LoggingConfig struct {
	Level        string
	Encoding     string
	Development  bool
	EnableCaller bool
	ServiceName  string
}

// ProviderConfig holds the endpoint and credentials for one LLM provider
// family.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
}

type RateLimitConfig struct {
	GeneratePerMinute int
}

// AdminConfig seeds an initial user at startup when both fields are set.
type AdminConfig struct {
	Username string
	Password string
}

func LoadConfig() (*Config, error) {
	port := envOrDefault("PORT", "8080")
	jwtSecret := envOrDefault("JWT_SECRET", "dev-secret")

	pgPort, _ := strconv.Atoi(envOrDefault("POSTGRES_PORT", "5432"))
	maxConns := parseInt32(envOrDefault("POSTGRES_MAX_CONNS", "8"), 8)
	minConns := parseInt32(envOrDefault("POSTGRES_MIN_CONNS", "1"), 1)

	logging := LoggingConfig{
		Level:        strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		Encoding:     strings.ToLower(envOrDefault("LOG_ENCODING", "console")),
		Development:  parseBool(envOrDefault("LOG_DEVELOPMENT", "false"), false),
		EnableCaller: parseBool(envOrDefault("LOG_CALLER", "false"), false),
		ServiceName:  envOrDefault("SERVICE_NAME", "llm-playground"),
	}

	cfg := &Config{
		ServerPort: port,
		JWTSecret:  jwtSecret,
		TokenTTL:   parseDuration(envOrDefault("TOKEN_TTL", "24h"), 24*time.Hour),
		Postgres: PostgresConfig{
			DSN:               os.Getenv("POSTGRES_DSN"),
			Host:              envOrDefault("POSTGRES_HOST", "localhost"),
			Port:              pgPort,
			User:              envOrDefault("POSTGRES_USER", "postgres"),
			Password:          envOrDefault("POSTGRES_PASSWORD", "postgres"),
			Database:          envOrDefault("POSTGRES_DB", "llm_playground"),
			MaxConns:          maxConns,
			MinConns:          minConns,
			MaxConnLifetime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_LIFETIME", "1h"), time.Hour),
			MaxConnIdleTime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_IDLE", "30m"), 30*time.Minute),
			HealthCheckPeriod: parseDuration(envOrDefault("POSTGRES_HEALTH_CHECK_PERIOD", "1m"), time.Minute),
			ConnectTimeout:    parseDuration(envOrDefault("POSTGRES_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Redis: RedisConfig{
			Addr: strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		},
		Mongo: MongoConfig{
			URI:            strings.TrimSpace(os.Getenv("MONGO_URI")),
			Database:       envOrDefault("MONGO_DATABASE", "llm_playground"),
			ConnectTimeout: parseDuration(envOrDefault("MONGO_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Logging: logging,
		OpenAI: ProviderConfig{
			BaseURL: strings.TrimRight(envOrDefault("OPENAI_API_BASE", "https://api.openai.com/v1"), "/"),
			APIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		},
		Anthropic: ProviderConfig{
			BaseURL: strings.TrimRight(envOrDefault("ANTHROPIC_API_BASE", "https://api.anthropic.com/v1"), "/"),
			APIKey:  strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		},
		// Outbound LLM calls get a generous client timeout; providers can
		// take tens of seconds on long completions.
		LLMTimeout: parseDuration(envOrDefault("LLM_HTTP_TIMEOUT", "60s"), 60*time.Second),
		RateLimit: RateLimitConfig{
			GeneratePerMinute: int(parseInt32(envOrDefault("GENERATE_RATE_LIMIT", "30"), 30)),
		},
		Admin: AdminConfig{
			Username: strings.TrimSpace(os.Getenv("ADMIN_USERNAME")),
			Password: os.Getenv("ADMIN_PASSWORD"),
		},
	}

	return cfg, nil
}

func (c PostgresConfig) BuildDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

func envOrDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt32(value string, fallback int32) int32 {
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return int32(i)
}

func parseBool(value string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}
