package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        int
	DatabaseURL string
	LogLevel    string

	NatsURL   string
	NatsToken string

	// Messaging gateway (outbound texts to contacts).
	GatewayURL   string
	GatewayToken string

	// TriggerToken authenticates the reengage/cleanup endpoints.
	TriggerToken string

	// Re-engagement cadence: no auto-message before this much silence,
	// and never more than AutoMessageMax per conversation.
	AutoMessageWait time.Duration
	AutoMessageMax  int

	// SurveyReplyWindow gates storing a post-close numeric reply as a
	// survey response. RetentionWindow gates the cleanup sweep. They are
	// deliberately independent settings.
	SurveyReplyWindow time.Duration
	RetentionWindow   time.Duration
}

func Load() Config {
	return Config{
		Port:              envInt("AMPARO_PORT", 8460),
		DatabaseURL:       envStr("DATABASE_URL", ""),
		LogLevel:          envStr("LOG_LEVEL", "info"),
		NatsURL:           envStr("NATS_URL", "nats://localhost:4222"),
		NatsToken:         envStr("NATS_TOKEN", ""),
		GatewayURL:        envStr("GATEWAY_URL", ""),
		GatewayToken:      envStr("GATEWAY_TOKEN", ""),
		TriggerToken:      envStr("AMPARO_TRIGGER_TOKEN", ""),
		AutoMessageWait:   envDur("AUTO_MESSAGE_WAIT", 90*time.Second),
		AutoMessageMax:    envInt("AUTO_MESSAGE_MAX", 5),
		SurveyReplyWindow: envDur("SURVEY_REPLY_WINDOW", 30*time.Minute),
		RetentionWindow:   envDur("RETENTION_WINDOW", 24*time.Hour),
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

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
