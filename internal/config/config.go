package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `env:",prefix=SERVER_"`

	// Database configuration
	Database DatabaseConfig `env:",prefix=DB_"`

	// Change-feed listener configuration
	Feed FeedConfig `env:",prefix=FEED_"`

	// Code pool configuration
	Codes CodesConfig `env:",prefix=CODES_"`

	// Application configuration
	App AppConfig `env:",prefix=APP_"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string `env:"PORT,default=8080"`
	Host         string `env:"HOST,default=0.0.0.0"`
	ReadTimeout  int    `env:"READ_TIMEOUT,default=30"`  // seconds
	WriteTimeout int    `env:"WRITE_TIMEOUT,default=30"` // seconds

	// Guest submission rate limit, requests per second per client.
	SubmitRate  float64 `env:"SUBMIT_RATE,default=5"`
	SubmitBurst int     `env:"SUBMIT_BURST,default=10"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=postgres"`
	Password string `env:"PASSWORD,default=postgres"`
	Name     string `env:"NAME,default=doorlist"`
	SSLMode  string `env:"SSL_MODE,default=disable"`
	MaxConns int    `env:"MAX_CONNS,default=25"`
	MinConns int    `env:"MIN_CONNS,default=5"`
}

// FeedConfig holds LISTEN/NOTIFY listener configuration
type FeedConfig struct {
	Channel          string        `env:"CHANNEL,default=application_changes"`
	MinReconnect     time.Duration `env:"MIN_RECONNECT,default=10s"`
	MaxReconnect     time.Duration `env:"MAX_RECONNECT,default=1m"`
	PingInterval     time.Duration `env:"PING_INTERVAL,default=55s"`
	SubscriberBuffer int           `env:"SUBSCRIBER_BUFFER,default=64"`
}

// CodesConfig holds code generation configuration
type CodesConfig struct {
	// Length of generated code values. The pool uses numeric values;
	// the value space must stay large relative to the per-event batch
	// size or collision retries will exhaust.
	Length int `env:"LENGTH,default=6"`

	// Extra regeneration rounds allowed when generated values collide
	// with existing codes before the batch is abandoned.
	MaxRetryRounds int `env:"MAX_RETRY_ROUNDS,default=5"`

	DefaultBatch int `env:"DEFAULT_BATCH,default=100"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment string `env:"ENVIRONMENT,default=development"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	Debug       bool   `env:"DEBUG,default=false"`
}

// Load loads configuration from environment variables
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	return &cfg, nil
}

// GetDatabaseURL returns the PostgreSQL connection URL
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsDevelopment returns true if running in development environment
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}
