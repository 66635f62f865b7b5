package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/velvetrope/doorlist/internal/config"
)

// DB holds database connections
type DB struct {
	Postgres *sqlx.DB

	dsn string
}

// NewDB creates new database connections using config
func NewDB(ctx context.Context, cfg *config.Config) (*DB, error) {
	dsn := cfg.Database.GetDatabaseURL()

	// Connect to PostgreSQL
	postgres, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Configure connection pool
	postgres.SetMaxOpenConns(cfg.Database.MaxConns)
	postgres.SetMaxIdleConns(cfg.Database.MinConns)
	postgres.SetConnMaxLifetime(time.Hour)

	// Test PostgreSQL connection
	if err := postgres.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	log.Println("Successfully connected to PostgreSQL")

	return &DB{
		Postgres: postgres,
		dsn:      dsn,
	}, nil
}

// NewListener opens a dedicated LISTEN/NOTIFY connection on the given
// channel. The listener reconnects on its own; connection-state events
// are reported through the callback.
func (db *DB) NewListener(cfg *config.FeedConfig, onEvent pq.EventCallbackType) (*pq.Listener, error) {
	l := pq.NewListener(db.dsn, cfg.MinReconnect, cfg.MaxReconnect, onEvent)
	if err := l.Listen(cfg.Channel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen on %q: %w", cfg.Channel, err)
	}
	return l, nil
}

// Close closes all database connections
func (db *DB) Close() error {
	if err := db.Postgres.Close(); err != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", err)
	}

	return nil
}
