// Package config handles loading application configuration from environment variables.
// All settings have sensible defaults for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Credential store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds all application settings loaded from environment variables.
type Config struct {
	Port                 string
	DatabasePath         string
	JWTSecret            string
	AccessTokenLifetime  time.Duration
	RefreshTokenLifetime time.Duration
	MaxScore             int
	EntriesPath          string
	CredentialBackend    string
	RedisURL             string
	SessionSweepInterval time.Duration
	UnboundTimeout       time.Duration
	ClientRefreshLeeway  time.Duration
	ClientMinRefresh     time.Duration
	RateLimitPerMinute   int
	CORSAllowedOrigins   []string
	TrustedProxies       []string
	SentryDSN            string
	SentryEnvironment    string
	SentryFrontendDSN    string
}

// Load reads configuration from environment variables, using defaults where not set.
func Load() *Config {
	origins := getStringSliceEnv("CORS_ALLOWED_ORIGINS")
	if len(origins) == 0 {
		origins = []string{"http://localhost:4200", "http://localhost:15555"}
	}

	return &Config{
		Port:                 getEnv("PORT", "15555"),
		DatabasePath:         getEnv("DATABASE_PATH", "./vision.db"),
		JWTSecret:            getEnv("JWT_SECRET", "change-me-in-production"), // #nosec G101 -- intentional dev default
		AccessTokenLifetime:  getDurationEnv("ACCESS_TOKEN_LIFETIME", 24*time.Hour),
		RefreshTokenLifetime: getDurationEnv("REFRESH_TOKEN_LIFETIME", 60*24*time.Hour),
		MaxScore:             getIntEnv("MAX_SCORE", 10),
		EntriesPath:          getEnv("ENTRIES_PATH", ""),
		CredentialBackend:    strings.ToLower(getEnv("CREDENTIAL_BACKEND", BackendSQLite)),
		RedisURL:             getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SessionSweepInterval: getDurationEnv("SESSION_SWEEP_INTERVAL", time.Minute),
		UnboundTimeout:       getDurationEnv("UNBOUND_TIMEOUT", 2*time.Minute),
		ClientRefreshLeeway:  getDurationEnv("CLIENT_REFRESH_LEEWAY", 10*time.Second),
		ClientMinRefresh:     getDurationEnv("CLIENT_MIN_REFRESH_INTERVAL", 10*time.Second),
		RateLimitPerMinute:   getIntEnv("RATE_LIMIT_PER_MINUTE", 10),
		CORSAllowedOrigins:   origins,
		TrustedProxies:       getStringSliceEnv("TRUSTED_PROXIES"),
		SentryDSN:            getEnv("SENTRY_DSN", ""),
		SentryEnvironment:    getEnv("SENTRY_ENVIRONMENT", "production"),
		SentryFrontendDSN:    getEnv("SENTRY_DSN_FRONTEND", ""),
	}
}

func getStringSliceEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var result []string
	for _, s := range strings.Split(value, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getDurationEnv accepts "0" to mean a zero duration so periodic jobs can be disabled.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if value == "0" {
			return 0
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
