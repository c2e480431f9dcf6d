package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Store        StoreConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	DynamoDB     DynamoDBConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
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

// StoreConfig selects and tunes the record store.
type StoreConfig struct {
	Backend           string
	KeyPrefix         string
	ReclaimGraceHours int
	SweepIntervalMins int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN             string
	ApplicationName string
	MaxConns        int32
	MinConns        int32
	RunMigrations   bool
	ConnMaxIdleSec  int32
	ConnMaxLifeSec  int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	PoolSize       int
	DialTimeoutSec int
}

// DynamoDBConfig holds DynamoDB table and client values. Endpoint and static
// credentials are only needed for local emulators.
type DynamoDBConfig struct {
	Table           string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level   string
	Format  string
	Service string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
	TokenTTLHours         int
}

// NotificationConfig holds outgoing email settings.
type NotificationConfig struct {
	EmailFrom string
	BaseURL   string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	backend := strings.ToLower(getEnv("STORE_BACKEND", BackendRedis))
	switch backend {
	case BackendRedis, BackendPostgres, BackendDynamoDB:
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND %q", backend)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	appName := getEnv("APP_NAME", "account-service")

	cfg := &Config{
		App: AppConfig{
			Name:                  appName,
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Store: StoreConfig{
			Backend:           backend,
			KeyPrefix:         os.Getenv("STORE_KEY_PREFIX"),
			ReclaimGraceHours: getEnvAsInt("STORE_RECLAIM_GRACE_HOURS", 24),
			SweepIntervalMins: getEnvAsInt("STORE_SWEEP_INTERVAL_MINUTES", 60),
		},
		Postgres: PostgresConfig{
			DSN:             os.Getenv("POSTGRES_DSN"),
			ApplicationName: appName,
			MaxConns:        maxConns,
			MinConns:        minConns,
			RunMigrations:   runMigrations,
			ConnMaxIdleSec:  connMaxIdle,
			ConnMaxLifeSec:  connMaxLife,
		},
		Redis: RedisConfig{
			Addr:           getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:       os.Getenv("REDIS_PASSWORD"),
			DB:             redisDB,
			PoolSize:       getEnvAsInt("REDIS_POOL_SIZE", 10),
			DialTimeoutSec: getEnvAsInt("REDIS_DIAL_TIMEOUT_SECONDS", 5),
		},
		DynamoDB: DynamoDBConfig{
			Table:           getEnv("DYNAMODB_TABLE", "accounts"),
			Region:          getEnv("DYNAMODB_REGION", "us-east-1"),
			Endpoint:        os.Getenv("DYNAMODB_ENDPOINT"),
			AccessKeyID:     os.Getenv("DYNAMODB_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("DYNAMODB_SECRET_ACCESS_KEY"),
		},
		Logger: LoggerConfig{
			Level:   getEnv("LOG_LEVEL", "info"),
			Format:  strings.ToLower(getEnv("LOG_FORMAT", "json")),
			Service: appName,
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 10),
			TokenTTLHours:         getEnvAsInt("AUTH_TOKEN_TTL_HOURS", 24),
		},
		Notification: NotificationConfig{
			EmailFrom: getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			BaseURL:   getEnv("NOTIFY_BASE_URL", "http://localhost:3000"),
		},
	}

	if cfg.Store.Backend == BackendPostgres && cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required for the postgres store backend")
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

// ReclaimGrace is how long past expiry a record stays before passive reclaim.
func (s StoreConfig) ReclaimGrace() time.Duration {
	if s.ReclaimGraceHours < 0 {
		return 0
	}
	return time.Duration(s.ReclaimGraceHours) * time.Hour
}

// SweepInterval is the period between sweeps on backends without native expiry.
func (s StoreConfig) SweepInterval() time.Duration {
	if s.SweepIntervalMins <= 0 {
		return 0
	}
	return time.Duration(s.SweepIntervalMins) * time.Minute
}

// TokenTTL is the lifetime of lifecycle tokens.
func (a AuthConfig) TokenTTL() time.Duration {
	if a.TokenTTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(a.TokenTTLHours) * time.Hour
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
