package storage

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/chronicle-io/chronicle/migrations"
)

// migrateLogger routes golang-migrate output through slog.
type migrateLogger struct{}

var _ migrate.Logger = (*migrateLogger)(nil)

func (l *migrateLogger) Printf(format string, v ...any) {
	slog.Info(fmt.Sprintf("migrate: "+format, v...))
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// Migrate validates the embedded migration set and applies all pending
// migrations. Idempotent: running against an up-to-date schema is a no-op.
func (c *Connection) Migrate() error {
	if err := migrations.Validate(); err != nil {
		return fmt.Errorf("embedded migration validation failed: %w", err)
	}

	driver, err := postgres.WithInstance(c.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres migration driver: %w", err)
	}

	source, err := iofs.New(migrations.FS(), ".")
	if err != nil {
		return fmt.Errorf("create embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	m.Log = &migrateLogger{}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		slog.Info("Schema already up to date")
	} else {
		slog.Info("All migrations applied")
	}

	return nil
}
