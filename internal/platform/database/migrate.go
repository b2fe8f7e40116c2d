package database

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationFS embed.FS

// Migrate applies the embedded migrations for the connection's dialect.
func Migrate(ctx context.Context, db *DB) error {
	source, err := iofs.New(migrationFS, "migrations/"+string(db.Dialect))
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}

	var (
		driver  migratedb.Driver
		release func() error
	)
	switch db.Dialect {
	case DialectPostgres:
		conn, err := db.SQL.Conn(ctx)
		if err != nil {
			return fmt.Errorf("migrate connection: %w", err)
		}
		pg, err := migratepostgres.WithConnection(ctx, conn, &migratepostgres.Config{})
		if err != nil {
			conn.Close()
			return fmt.Errorf("migrate postgres: %w", err)
		}
		// Closing the driver returns the borrowed connection; the pool stays open.
		driver, release = pg, pg.Close
	case DialectSQLite:
		lite, err := migratesqlite.WithInstance(db.SQL, &migratesqlite.Config{})
		if err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
		// The sqlite driver's Close would close the shared pool.
		driver, release = lite, func() error { return nil }
	default:
		return fmt.Errorf("unsupported dialect %q", db.Dialect)
	}
	defer release()

	m, err := migrate.NewWithInstance("iofs", source, string(db.Dialect), driver)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}
