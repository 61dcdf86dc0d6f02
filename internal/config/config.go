// Package config centralises configuration parsing for the sync library.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/muzaparoff/shuttlx-sub002/internal/syncengine"
)

// Config captures the runtime settings of the sync subsystem.
type Config struct {
	// PrimaryDir and FallbackDir are the two store locations for the JSON
	// documents. The primary is typically a shared container, the fallback a
	// per-device private directory.
	PrimaryDir  string
	FallbackDir string

	// KafkaBrokers is empty unless the relay channel is in use.
	KafkaBrokers []string
	InboxTopic   string
	OutboxTopic  string
	GroupID      string

	// ArchivePostgresURL enables the long-term session archive when set.
	ArchivePostgresURL string

	SweepInterval    time.Duration
	WatchdogTimeout  time.Duration
	StaleAfter       time.Duration
	DwellThreshold   time.Duration
	MaxRetryAttempts int
}

// Load reads environment variables into Config, applying defaults suitable
// for local development. A .env file in the working directory is honoured
// when present.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		PrimaryDir:         getEnv("SYNC_PRIMARY_DIR", "data/shared"),
		FallbackDir:        getEnv("SYNC_FALLBACK_DIR", "data/private"),
		InboxTopic:         getEnv("SYNC_INBOX_TOPIC", "shuttlx.sync.inbox"),
		OutboxTopic:        getEnv("SYNC_OUTBOX_TOPIC", "shuttlx.sync.outbox"),
		GroupID:            getEnv("SYNC_GROUP_ID", "shuttlx-sync"),
		ArchivePostgresURL: getEnv("ARCHIVE_POSTGRES_URL", ""),
		SweepInterval:      getDurationEnv("SYNC_SWEEP_INTERVAL", 15*time.Second),
		WatchdogTimeout:    getDurationEnv("SYNC_WATCHDOG_TIMEOUT", 10*time.Second),
		StaleAfter:         getDurationEnv("SYNC_STALE_AFTER", syncengine.DefaultStaleAfter),
		DwellThreshold:     getDurationEnv("ACTIVITY_DWELL_THRESHOLD", 5*time.Second),
		MaxRetryAttempts:   getIntEnv("SYNC_MAX_RETRY_ATTEMPTS", syncengine.DefaultMaxAttempts),
	}

	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	return cfg
}

// Timings maps the duration settings onto the engine's timer block.
func (c Config) Timings() syncengine.Timings {
	return syncengine.Timings{
		Watchdog:      c.WatchdogTimeout,
		SweepInterval: c.SweepInterval,
		StaleAfter:    c.StaleAfter,
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
