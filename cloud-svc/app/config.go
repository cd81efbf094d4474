package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	ServerPort          string
	AdminJWTSecret      string
	AdminJWTExpirySec   int64
	DBHost              string
	DBPort              string
	DBUser              string
	DBPassword          string
	DBName              string
	DBSSLMode           string
	AgentTokenTTL       time.Duration
	HeartbeatTimeout    time.Duration
	SweepInterval       time.Duration
	SyncRateLimitRPS    float64
	SyncRateLimitBurst  int
	CORSAllowOrigins    []string
	LogLevel            string
	ShutdownGracePeriod time.Duration
}

// LoadConfig loads configuration from environment variables, after an
// optional .env file in the working directory
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		ServerPort:          getEnv("SERVER_PORT", "8080"),
		AdminJWTSecret:      getEnv("ADMIN_JWT_SECRET", "change-me-in-production"),
		AdminJWTExpirySec:   int64(getEnvInt("ADMIN_JWT_EXPIRY_SEC", 3600)),
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBPort:              getEnv("DB_PORT", "5432"),
		DBUser:              getEnv("DB_USER", "postgres"),
		DBPassword:          getEnv("DB_PASSWORD", "postgres"),
		DBName:              getEnv("DB_NAME", "tis_sync"),
		DBSSLMode:           getEnv("DB_SSL_MODE", "disable"),
		AgentTokenTTL:       time.Duration(getEnvInt("AGENT_TOKEN_TTL_HOURS", 8760)) * time.Hour,
		HeartbeatTimeout:    time.Duration(getEnvInt("HEARTBEAT_TIMEOUT_SEC", 300)) * time.Second,
		SweepInterval:       time.Duration(getEnvInt("SWEEP_INTERVAL_SEC", 60)) * time.Second,
		SyncRateLimitRPS:    getEnvFloat("SYNC_RATE_LIMIT_RPS", 5),
		SyncRateLimitBurst:  getEnvInt("SYNC_RATE_LIMIT_BURST", 10),
		CORSAllowOrigins:    splitList(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		ShutdownGracePeriod: 10 * time.Second,
	}

	if cfg.AdminJWTSecret == "change-me-in-production" {
		return nil, fmt.Errorf("ADMIN_JWT_SECRET must be set")
	}
	if cfg.HeartbeatTimeout <= 0 || cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("HEARTBEAT_TIMEOUT_SEC and SWEEP_INTERVAL_SEC must be positive")
	}

	return cfg, nil
}

// ConnString builds the Postgres connection string
func (c *Config) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && f > 0 {
		return f
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
