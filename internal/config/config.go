package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string
	LogLevel    string

	// Storage
	StoreDriver    string
	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int
	MigrateOnStart bool
	MigrationsDir  string

	// Redis
	RedisURL string

	// Server
	Port        string
	PublicURL   string
	FrontendURL string

	// Supervisor
	MonitoringEnabled         bool
	MonitoringIntervalSeconds int
	SweepJitterMillis         int

	// Lobby defaults
	LobbyDefaultExpirySeconds int

	// Fleet manager (Lighthouse)
	LighthouseHost           string
	LighthouseClientSecret   string
	LighthouseTimeoutSeconds int

	// Probes and notifications
	NotifyTimeoutSeconds       int
	ProbeTimeoutSeconds        int
	ResultFetchAttempts        int
	ResultFetchIntervalSeconds int

	// Security
	JWTSecret       string
	TokenTTLMinutes int
	CallbackSecret  string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Storage
		StoreDriver:    getEnv("STORE_DRIVER", "postgres"),
		DatabaseURL:    getEnv("DATABASE_URL", "postgres://localhost:5432/cytokine?sslmode=disable"),
		DBMaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
		MigrateOnStart: getEnvBool("MIGRATE_ON_START", false),
		MigrationsDir:  getEnv("MIGRATIONS_DIR", "migrations"),

		// Redis
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// Server
		Port:        getEnv("APP_PORT", "3000"),
		PublicURL:   strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:3000"), "/"),
		FrontendURL: getEnv("FRONTEND_URL", ""),

		// Supervisor
		MonitoringEnabled:         getEnvBool("MONITORING_ENABLED", true),
		MonitoringIntervalSeconds: getEnvInt("MONITORING_INTERVAL_SECONDS", 10),
		SweepJitterMillis:         getEnvInt("SWEEP_JITTER_MILLIS", 1000),

		// Lobby defaults
		LobbyDefaultExpirySeconds: getEnvInt("LOBBY_DEFAULT_EXPIRY_SECONDS", 1800),

		// Fleet manager
		LighthouseHost:           getEnv("LIGHTHOUSE_HOST", ""),
		LighthouseClientSecret:   getEnv("LIGHTHOUSE_CLIENT_SECRET", ""),
		LighthouseTimeoutSeconds: getEnvInt("LIGHTHOUSE_TIMEOUT_SECONDS", 15),

		// Probes and notifications
		NotifyTimeoutSeconds:       getEnvInt("NOTIFY_TIMEOUT_SECONDS", 10),
		ProbeTimeoutSeconds:        getEnvInt("PROBE_TIMEOUT_SECONDS", 5),
		ResultFetchAttempts:        getEnvInt("RESULT_FETCH_ATTEMPTS", 10),
		ResultFetchIntervalSeconds: getEnvInt("RESULT_FETCH_INTERVAL_SECONDS", 30),

		// Security
		JWTSecret:       getEnv("JWT_SECRET", "change-me-in-production"),
		TokenTTLMinutes: getEnvInt("TOKEN_TTL_MINUTES", 60),
		CallbackSecret:  getEnv("CALLBACK_SECRET", ""),
	}
}

func (c *Config) MonitoringInterval() time.Duration {
	return time.Duration(c.MonitoringIntervalSeconds) * time.Second
}

func (c *Config) SweepJitter() time.Duration {
	return time.Duration(c.SweepJitterMillis) * time.Millisecond
}

func (c *Config) ResultFetchInterval() time.Duration {
	return time.Duration(c.ResultFetchIntervalSeconds) * time.Second
}

// ServerCallbackURL is where the fleet manager reports server status changes.
func (c *Config) ServerCallbackURL() string {
	return c.PublicURL + "/api/v1/matches/server/callback"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
