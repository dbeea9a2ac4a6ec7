package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// MongoDB configuration
	MongoURI     string
	DatabaseName string

	// Webhook configuration
	VerifyToken     string
	AppSecret       string
	StrictSignature bool

	// Assistant collaborator endpoint
	AssistantURL     string
	AssistantTimeout time.Duration

	// Debounce window before the assistant is invoked, in seconds.
	// Tenants may override per company; this is the fallback.
	DefaultDispatchDelay int

	// Optional Redis address. When set, the dispatch scheduler is backed by
	// Redis so multiple instances share one timer map.
	RedisAddr string

	// Server configuration
	Port string
}

func LoadConfig() *Config {
	cfg := &Config{
		MongoURI:             getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DatabaseName:         getEnv("MONGO_DB_NAME", "helpdesk_bot"),
		VerifyToken:          getEnv("WEBHOOK_VERIFY_TOKEN", "webhook_verify_token"),
		AppSecret:            getEnv("APP_SECRET", ""),
		StrictSignature:      getEnvBool("STRICT_SIGNATURE", false),
		AssistantURL:         getEnv("ASSISTANT_URL", "http://localhost:9000/respond"),
		AssistantTimeout:     getEnvDuration("ASSISTANT_TIMEOUT", 30*time.Second),
		DefaultDispatchDelay: getEnvInt("DISPATCH_DELAY_SECONDS", 2),
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		Port:                 getEnv("PORT", "8080"),
	}

	// Validate required configuration
	if cfg.MongoURI == "" {
		slog.Error("MONGO_URI not set")
	}
	if cfg.AppSecret == "" {
		slog.Warn("APP_SECRET not set, webhook signatures cannot be verified")
	}

	// The debounce delay is a quiet period, not a queue: anything above 30
	// seconds would just look like the bot ignoring the customer.
	if cfg.DefaultDispatchDelay < 0 {
		cfg.DefaultDispatchDelay = 0
	}
	if cfg.DefaultDispatchDelay > 30 {
		cfg.DefaultDispatchDelay = 30
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
