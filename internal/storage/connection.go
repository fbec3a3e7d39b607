package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Connection wraps a bounded database/sql pool. Every store operation borrows
// one connection for its duration; the pool bounds provide the implicit
// backpressure on the write path.
type Connection struct {
	db *sql.DB
}

// NewConnection opens a PostgreSQL connection pool with the configured bounds
// and verifies connectivity with a ping before returning.
func NewConnection(ctx context.Context, cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Connection{db: db}, nil
}

// NewConnectionFromDB wraps an existing database handle. Used by tests that
// back the store with sqlmock or a container-managed database.
func NewConnectionFromDB(db *sql.DB) *Connection {
	return &Connection{db: db}
}

// QueryContext executes a query that returns rows.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

// QueryRowContext executes a query expected to return at most one row.
func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// ExecContext executes a statement without returning rows.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

// BeginTx starts a transaction.
func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.db.BeginTx(ctx, opts)
}

// HealthCheck verifies database connectivity with a bounded ping.
func (c *Connection) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}

	return nil
}

// DB exposes the underlying handle for the migration driver.
func (c *Connection) DB() *sql.DB {
	return c.db
}

// Close closes the connection pool. Safe to call multiple times.
func (c *Connection) Close() error {
	if c.db == nil {
		return nil
	}

	return c.db.Close()
}
