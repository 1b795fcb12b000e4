package config

import (
	"fmt"
	"os"
	"time"
)

const (
	defaultHeartbeatInterval = 25 * time.Second
	defaultHeartbeatTimeout  = 20 * time.Second
)

type Config struct {
	AppEnv      string
	Port        string
	RedisURL    string
	DatabaseURL string
	JWTSecret   string
	CORSOrigin  string
	LogLevel    string
	LogFormat   string

	// Connection liveness enforced by the transport layer.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		RedisURL:    getEnv("REDIS_URL", ""),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		CORSOrigin:  getEnv("CORS_ORIGIN", "*"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
	}

	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	var err error
	cfg.HeartbeatInterval, err = getDuration("HEARTBEAT_INTERVAL", defaultHeartbeatInterval)
	if err != nil {
		return nil, err
	}
	cfg.HeartbeatTimeout, err = getDuration("HEARTBEAT_TIMEOUT", defaultHeartbeatTimeout)
	if err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval <= 0 || cfg.HeartbeatTimeout <= 0 {
		return nil, fmt.Errorf("heartbeat interval and timeout must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 25s: %w", key, err)
	}
	return d, nil
}
