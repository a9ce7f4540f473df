// Package config loads daemon configuration from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all daemon settings.
type Config struct {
	// Port is the HTTP listen port.
	Port string `yaml:"port"`

	// GatewayURL is the base WebSocket URL of the gateway.
	GatewayURL string `yaml:"gatewayUrl"`

	// DBPath is the SQLite database file path.
	DBPath string `yaml:"dbPath"`

	// RecordingDir stores per-session terminal recordings. Empty disables
	// recording.
	RecordingDir string `yaml:"recordingDir"`

	MaxReconnectAttempts int           `yaml:"maxReconnectAttempts"`
	BackoffBase          time.Duration `yaml:"backoffBase"`
	MaxBackoff           time.Duration `yaml:"maxBackoff"`
	RequestTimeout       time.Duration `yaml:"requestTimeout"`
	ChunkSize            int           `yaml:"chunkSize"`
	StatusInterval       time.Duration `yaml:"statusInterval"`
	Scrollback           int           `yaml:"scrollback"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Port:                 "8080",
		GatewayURL:           "ws://127.0.0.1:9000",
		DBPath:               "data/sessions.db",
		RecordingDir:         "data/recordings",
		MaxReconnectAttempts: 5,
		BackoffBase:          time.Second,
		MaxBackoff:           30 * time.Second,
		RequestTimeout:       30 * time.Second,
		ChunkSize:            64 * 1024,
		StatusInterval:       5 * time.Second,
		Scrollback:           256 * 1024,
	}
}

// Load builds the configuration: defaults, then the YAML file at path if it
// exists, then environment variable overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.GatewayURL = getEnv("GATEWAY_URL", cfg.GatewayURL)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.RecordingDir = getEnv("RECORDING_DIR", cfg.RecordingDir)
	cfg.MaxReconnectAttempts = getEnvInt("MAX_RECONNECT_ATTEMPTS", cfg.MaxReconnectAttempts)
	cfg.ChunkSize = getEnvInt("CHUNK_SIZE", cfg.ChunkSize)
	cfg.Scrollback = getEnvInt("SCROLLBACK", cfg.Scrollback)
	cfg.BackoffBase = getEnvDuration("BACKOFF_BASE", cfg.BackoffBase)
	cfg.MaxBackoff = getEnvDuration("MAX_BACKOFF", cfg.MaxBackoff)
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.StatusInterval = getEnvDuration("STATUS_INTERVAL", cfg.StatusInterval)

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default value.
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
