package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port            int
	NatsURL         string
	NatsToken       string
	NatsQueue       string
	DatabaseURL     string
	RedisURL        string
	LogLevel        string
	SlackBotToken   string
	SlackChannel    string
	ModelServerURL  string
	APIToken        string
	PolicyFiles     []string
	WatchPolicy     bool
	AuditLogPath    string
	SessionCapacity int
	SessionTTL      time.Duration
}

func Load() Config {
	return Config{
		Port:            envInt("VIGIL_PORT", 8760),
		NatsURL:         envStr("NATS_URL", ""),
		NatsToken:       envStr("NATS_TOKEN", ""),
		NatsQueue:       envStr("NATS_QUEUE", "vigil"),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		RedisURL:        envStr("REDIS_URL", ""),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		SlackBotToken:   envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:    envStr("SLACK_REVIEW_CHANNEL", ""),
		ModelServerURL:  envStr("VIGIL_MODEL_SERVER_URL", ""),
		APIToken:        envStr("VIGIL_API_TOKEN", ""),
		PolicyFiles:     envList("VIGIL_CONFIG", []string{"configs/policy.yaml"}),
		WatchPolicy:     envBool("VIGIL_WATCH_CONFIG", true),
		AuditLogPath:    envStr("VIGIL_AUDIT_LOG", ""),
		SessionCapacity: envInt("VIGIL_SESSION_CAPACITY", 100000),
		SessionTTL:      envDuration("VIGIL_SESSION_TTL", 2*time.Hour),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envList splits a comma-separated value, dropping empty items.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
