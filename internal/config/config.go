package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the base server configuration.
type Config struct {
	Host          string
	Port          string
	SQLiteDBPath  string
	NodeEnv       string
	AllowTestMode bool

	JWTSecret                string
	JWTAccessTokenExpirySec  int
	JWTRefreshTokenExpirySec int

	// Speaker transport settings
	KefTimeoutMs       int
	KefScrapeTimeoutMs int

	// Polling settings
	PollIntervalMs       int
	RetryPollIntervalMs  int
	PollFailureThreshold int

	// StateCacheTTLSeconds is the TTL for the last-snapshot cache. A poll
	// cycle refreshes entries well within the TTL; a stale entry means the
	// poller has not heard from the speaker recently.
	StateCacheTTLSeconds int

	HistoryRetentionDays int
	AuditRetentionDays   int

	// MQTT bridge (disabled when broker URL is empty)
	MQTTBrokerURL   string
	MQTTClientID    string
	MQTTTopicPrefix string
	MQTTUsername    string
	MQTTPassword    string
}

// Load reads configuration from environment variables with defaults.
func Load() (Config, error) {
	cfg := Config{
		Host:                     envString("HOST", "0.0.0.0"),
		Port:                     envString("PORT", "9800"),
		SQLiteDBPath:             envString("SQLITE_DB_PATH", "./data/kef-hub.db"),
		NodeEnv:                  envString("NODE_ENV", "development"),
		AllowTestMode:            envBool("ALLOW_TEST_MODE", false),
		JWTSecret:                envString("JWT_SECRET", ""),
		JWTAccessTokenExpirySec:  envInt("JWT_ACCESS_TOKEN_EXPIRY", 3600),
		JWTRefreshTokenExpirySec: envInt("JWT_REFRESH_TOKEN_EXPIRY", 2592000),
		KefTimeoutMs:             envInt("KEF_TIMEOUT_MS", 5000),
		KefScrapeTimeoutMs:       envInt("KEF_SCRAPE_TIMEOUT_MS", 3000),
		PollIntervalMs:           envInt("POLL_INTERVAL_MS", 5000),
		RetryPollIntervalMs:      envInt("RETRY_POLL_INTERVAL_MS", 30000),
		PollFailureThreshold:     envInt("POLL_FAILURE_THRESHOLD", 3),
		StateCacheTTLSeconds:     envInt("STATE_CACHE_TTL_SECONDS", 30),
		HistoryRetentionDays:     envInt("HISTORY_RETENTION_DAYS", 90),
		AuditRetentionDays:       envInt("AUDIT_RETENTION_DAYS", 30),
		MQTTBrokerURL:            envString("MQTT_BROKER_URL", ""),
		MQTTClientID:             envString("MQTT_CLIENT_ID", "kef-hub"),
		MQTTTopicPrefix:          envString("MQTT_TOPIC_PREFIX", "kefhub"),
		MQTTUsername:             envString("MQTT_USERNAME", ""),
		MQTTPassword:             envString("MQTT_PASSWORD", ""),
	}

	if len(strings.TrimSpace(cfg.JWTSecret)) < 32 {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}

	if cfg.PollIntervalMs <= 0 {
		return Config{}, fmt.Errorf("POLL_INTERVAL_MS must be positive")
	}
	if cfg.RetryPollIntervalMs < cfg.PollIntervalMs {
		return Config{}, fmt.Errorf("RETRY_POLL_INTERVAL_MS must not be shorter than POLL_INTERVAL_MS")
	}
	if cfg.PollFailureThreshold < 1 {
		return Config{}, fmt.Errorf("POLL_FAILURE_THRESHOLD must be at least 1")
	}

	return cfg, nil
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
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

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return strings.EqualFold(val, "true")
}
