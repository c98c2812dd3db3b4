// Package config loads backend configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all backend configuration.
type Config struct {
	Server  ServerConfig
	Store   StoreConfig
	Remote  RemoteConfig
	Sync    SyncConfig
	Logging LoggingConfig
}

// ServerConfig configures the localhost HTTP/WebSocket server.
type ServerConfig struct {
	Host          string
	Port          string
	AllowedOrigin string
}

// StoreConfig configures the local SQLite store.
type StoreConfig struct {
	DataDir    string
	MaxRecords int // visitor rows kept when storage runs out of space
}

// RemoteConfig configures the hosted visitors table gateway.
type RemoteConfig struct {
	BaseURL     string
	APIKey      string
	Table       string
	RealtimeURL string // websocket change feed, empty disables realtime
	Timeout     time.Duration
	BatchSize   int
}

// SyncConfig configures the reconciliation engine and scheduler.
type SyncConfig struct {
	Interval       time.Duration // periodic full sync when online
	QueueInterval  time.Duration // pending queue drain attempts
	Cooldown       time.Duration // suppresses redundant syncs unless forced
	ResyncThrottle time.Duration // gap between realtime-triggered resyncs
	RetryCeiling   int
	RetryBaseDelay time.Duration
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string
}

// Load reads configuration from the environment, with .env support.
func Load() (*Config, error) {
	godotenv.Load()

	remoteTimeout, err := time.ParseDuration(getEnv("REMOTE_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid REMOTE_TIMEOUT: %w", err)
	}

	syncInterval, err := time.ParseDuration(getEnv("SYNC_INTERVAL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_INTERVAL: %w", err)
	}

	queueInterval, err := time.ParseDuration(getEnv("QUEUE_INTERVAL", "1m"))
	if err != nil {
		return nil, fmt.Errorf("invalid QUEUE_INTERVAL: %w", err)
	}

	cooldown, err := time.ParseDuration(getEnv("SYNC_COOLDOWN", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_COOLDOWN: %w", err)
	}

	resyncThrottle, err := time.ParseDuration(getEnv("RESYNC_THROTTLE", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RESYNC_THROTTLE: %w", err)
	}

	retryBaseDelay, err := time.ParseDuration(getEnv("RETRY_BASE_DELAY", "2s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RETRY_BASE_DELAY: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			Host:          getEnv("SERVER_HOST", "localhost"),
			Port:          getEnv("SERVER_PORT", "8090"),
			AllowedOrigin: getEnv("ALLOWED_ORIGIN", "*"),
		},
		Store: StoreConfig{
			DataDir:    getEnv("DATA_DIR", "./data"),
			MaxRecords: getEnvInt("LOCAL_MAX_RECORDS", 5000),
		},
		Remote: RemoteConfig{
			BaseURL:     getEnv("REMOTE_URL", ""),
			APIKey:      getEnv("REMOTE_API_KEY", ""),
			Table:       getEnv("REMOTE_TABLE", "visitors"),
			RealtimeURL: getEnv("REMOTE_REALTIME_URL", ""),
			Timeout:     remoteTimeout,
			BatchSize:   getEnvInt("REMOTE_BATCH_SIZE", 50),
		},
		Sync: SyncConfig{
			Interval:       syncInterval,
			QueueInterval:  queueInterval,
			Cooldown:       cooldown,
			ResyncThrottle: resyncThrottle,
			RetryCeiling:   getEnvInt("RETRY_CEILING", 5),
			RetryBaseDelay: retryBaseDelay,
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
