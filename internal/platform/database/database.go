package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	gormpostgres "gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DB bundles the pooled connection with its gorm view. Raw SQL repositories
// use SQL, the rest go through Gorm; both share one pool.
type DB struct {
	Gorm    *gorm.DB
	SQL     *sql.DB
	Dialect Dialect
}

// Open connects to postgres (lib/pq) or sqlite (modernc) and pings the store.
func Open(driver, dsn string) (*DB, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(driver))) {
	case DialectPostgres:
		return openPostgres(dsn)
	case DialectSQLite:
		return openSQLite(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func openPostgres(dsn string) (*DB, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping postgres connection: %w", err)
	}

	gdb, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: sqlDB}), &gorm.Config{})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}
	return &DB{Gorm: gdb, SQL: sqlDB, Dialect: DialectPostgres}, nil
}

func openSQLite(dsn string) (*DB, error) {
	dsn = withSQLitePragmas(dsn)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}
	// sqlite serialises writers; one connection avoids SQLITE_BUSY under load.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite connection: %w", err)
	}

	gdb, err := gorm.Open(gormsqlite.New(gormsqlite.Config{DriverName: "sqlite", Conn: sqlDB}), &gorm.Config{})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open gorm sqlite: %w", err)
	}
	return &DB{Gorm: gdb, SQL: sqlDB, Dialect: DialectSQLite}, nil
}

// withSQLitePragmas turns on foreign keys for every pooled connection.
func withSQLitePragmas(dsn string) string {
	if dsn == "" {
		dsn = "file:membersync.db"
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	add := func(dsn, pragma string) string {
		if strings.Contains(dsn, pragma) {
			return dsn
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return dsn + sep + "_pragma=" + pragma
	}
	dsn = add(dsn, "foreign_keys(1)")
	return add(dsn, "busy_timeout(5000)")
}

func (d *DB) Close() error {
	if d == nil || d.SQL == nil {
		return nil
	}
	return d.SQL.Close()
}
