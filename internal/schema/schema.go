// Package schema applies embedded golang-migrate migrations against an
// already-open SQLite handle, replacing a store's inline
// db.Exec(createTableDDL) with versioned, idempotent migrations.
package schema

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Apply runs every pending up migration (*.up.sql) under dir (an embed.FS,
// normally each store's own "migrations" subdirectory) against db. name namespaces golang-migrate's
// bookkeeping table so the memory store and the cron store, which may one
// day share a process but never a file, don't collide on table names.
func Apply(db *sql.DB, migrations embed.FS, dir, name string) error {
	src, err := iofs.New(migrations, dir)
	if err != nil {
		return fmt.Errorf("schema: load embedded migrations for %s: %w", name, err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{MigrationsTable: "schema_migrations_" + name})
	if err != nil {
		return fmt.Errorf("schema: init driver for %s: %w", name, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, name, driver)
	if err != nil {
		return fmt.Errorf("schema: init migrator for %s: %w", name, err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("schema: apply migrations for %s: %w", name, err)
	}
	return nil
}
