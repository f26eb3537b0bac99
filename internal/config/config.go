// Package config provides application configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/chatgate/internal/store"
	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration.
type Config struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	GRPCPort       string   `env:"GRPC_PORT" envDefault:"9090"`
	FrontendURL    string   `env:"FRONTEND_URL"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	JWTSecret      string   `env:"JWT_SECRET"`

	Store    StoreConfig
	Chat     ChatConfig
	Presence PresenceConfig
	Log      LogConfig
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver        string `env:"STORE_DRIVER" envDefault:"sqlite"`
	DBPath        string `env:"DB_PATH" envDefault:"./data/chat.db"`
	MongoURI      string `env:"MONGO_URI"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"chat"`
}

// ChatConfig tunes per-connection behavior.
type ChatConfig struct {
	SendInterval    time.Duration `env:"CHAT_SEND_INTERVAL" envDefault:"500ms"`
	HistoryLimit    int           `env:"CHAT_HISTORY_LIMIT" envDefault:"50"`
	MaxMessageBytes int           `env:"CHAT_MAX_MESSAGE_BYTES" envDefault:"4096"`
	SendQueue       int           `env:"CHAT_SEND_QUEUE" envDefault:"64"`
}

// PresenceConfig controls the stale-status sweeper.
type PresenceConfig struct {
	SweepInterval time.Duration `env:"PRESENCE_SWEEP_INTERVAL" envDefault:"1m"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET cannot be empty")
	}

	switch c.Store.Driver {
	case store.DriverSQLite:
		if c.Store.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case store.DriverMongo:
		if c.Store.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required when STORE_DRIVER=mongo")
		}
	case store.DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	if c.Chat.SendInterval < 0 {
		return fmt.Errorf("CHAT_SEND_INTERVAL must be >= 0")
	}
	if c.Chat.HistoryLimit <= 0 {
		return fmt.Errorf("CHAT_HISTORY_LIMIT must be > 0")
	}
	if c.Chat.MaxMessageBytes <= 0 {
		return fmt.Errorf("CHAT_MAX_MESSAGE_BYTES must be > 0")
	}
	if c.Chat.SendQueue <= 0 {
		return fmt.Errorf("CHAT_SEND_QUEUE must be > 0")
	}
	if c.Presence.SweepInterval <= 0 {
		return fmt.Errorf("PRESENCE_SWEEP_INTERVAL must be > 0")
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// Origins returns the origins accepted for CORS and WebSocket upgrades.
// FRONTEND_URL is always included when set.
func (c *Config) Origins() []string {
	origins := make([]string, 0, len(c.AllowedOrigins)+1)
	for _, o := range c.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if c.FrontendURL != "" {
		origins = append(origins, strings.TrimRight(c.FrontendURL, "/"))
	}
	return origins
}

// StoreOptions maps the store section onto store.Open options.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Driver:        c.Store.Driver,
		SQLitePath:    c.Store.DBPath,
		MongoURI:      c.Store.MongoURI,
		MongoDatabase: c.Store.MongoDatabase,
	}
}
