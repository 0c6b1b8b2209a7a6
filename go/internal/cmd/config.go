package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Store backends
const (
	backendMemory   = "memory"
	backendPostgres = "postgres"
	backendKV       = "kv"
)

type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	Store struct {
		Backend string `yaml:"backend"`
		NATSURL string `yaml:"nats_url"`
		Bucket  string `yaml:"bucket"`
		// FallbackInterval is how often the postgres backend re-reads
		// subscribed documents when no notification arrives
		FallbackInterval time.Duration `yaml:"fallback_interval"`
		MaxRetries       uint64        `yaml:"max_retries"`
		RetryBase        time.Duration `yaml:"retry_base"`
	} `yaml:"store"`

	Board struct {
		Collection           string        `yaml:"collection"`
		DocID                string        `yaml:"doc_id"`
		TournamentCollection string        `yaml:"tournament_collection"`
		NavTTL               time.Duration `yaml:"nav_ttl"`
		FrameInterval        time.Duration `yaml:"frame_interval"`
		TickInterval         time.Duration `yaml:"tick_interval"`
	} `yaml:"board"`

	Auth struct {
		Secret          string   `yaml:"secret"`
		BootstrapAdmins []string `yaml:"bootstrap_admins"`
	} `yaml:"auth"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
}

func defaultConfig() *Config {
	var c Config
	c.Port = "8080"
	c.LogLevel = "info"
	c.Store.Backend = backendMemory
	c.Store.NATSURL = "nats://localhost:4222"
	c.Store.Bucket = "seatboard"
	c.Store.FallbackInterval = 30 * time.Second
	c.Store.MaxRetries = 3
	c.Store.RetryBase = 50 * time.Millisecond
	c.Board.Collection = "boards"
	c.Board.DocID = "main"
	c.Board.TournamentCollection = "tournaments"
	c.Board.NavTTL = 30 * time.Second
	c.Board.FrameInterval = 16 * time.Millisecond
	c.Board.TickInterval = time.Second
	c.CORS.AllowedOrigins = []string{"*"}
	return &c
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsUint(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseUint(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// loadConfig reads the optional YAML file at path over the defaults, then
// applies environment overrides
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.Port = getEnv("PORT", config.Port)
	config.LogLevel = getEnv("LOG_LEVEL", config.LogLevel)
	config.Store.Backend = getEnv("STORE_BACKEND", config.Store.Backend)
	config.Store.NATSURL = getEnv("NATS_URL", config.Store.NATSURL)
	config.Store.Bucket = getEnv("KV_BUCKET", config.Store.Bucket)
	config.Store.FallbackInterval = getEnvAsDuration("FALLBACK_INTERVAL", config.Store.FallbackInterval)
	config.Store.MaxRetries = getEnvAsUint("STORE_MAX_RETRIES", config.Store.MaxRetries)
	config.Board.DocID = getEnv("BOARD_DOC_ID", config.Board.DocID)
	config.Board.NavTTL = getEnvAsDuration("NAV_TTL", config.Board.NavTTL)
	config.Auth.Secret = getEnv("AUTH_SECRET", config.Auth.Secret)
	config.Auth.BootstrapAdmins = getEnvAsList("BOOTSTRAP_ADMINS", config.Auth.BootstrapAdmins)
	config.CORS.AllowedOrigins = getEnvAsList("CORS_ALLOWED_ORIGINS", config.CORS.AllowedOrigins)

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case backendMemory, backendPostgres, backendKV:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Auth.Secret == "" {
		return errors.New("AUTH_SECRET is required")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}
