// Package migration manages the batch table schema with embedded,
// per-driver SQL migrations.
package migration

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

//go:embed migrations/postgres/*.sql
var postgresFS embed.FS

//go:embed migrations/mysql/*.sql
var mysqlFS embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteFS embed.FS

const migrationsTable = "gembatch_schema_migrations"

// Migrator applies the embedded migrations against an open database
// connection. The driver name selects both the migration source and the
// database dialect and must match the connection.
type Migrator struct {
	m *migrate.Migrate
}

// New builds a Migrator on top of an existing gorm connection.
// driver is one of postgres, mysql or sqlite.
func New(db *gorm.DB, driver string) (*Migrator, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("acquire sql connection: %w", err)
	}

	var (
		dbDriver database.Driver
		fsys     fs.FS
		path     string
	)

	switch driver {
	case "postgres":
		dbDriver, err = postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: migrationsTable})
		fsys, path = postgresFS, "migrations/postgres"
	case "mysql":
		dbDriver, err = mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: migrationsTable})
		fsys, path = mysqlFS, "migrations/mysql"
	case "sqlite":
		dbDriver, err = sqlite3.WithInstance(sqlDB, &sqlite3.Config{MigrationsTable: migrationsTable})
		fsys, path = sqliteFS, "migrations/sqlite"
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s migration driver: %w", driver, err)
	}

	src, err := iofs.New(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, dbDriver)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}

	return &Migrator{m: m}, nil
}

// Up applies all pending migrations. Applying on an up-to-date schema
// is a no-op.
func (mg *Migrator) Up() error {
	if err := mg.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func (mg *Migrator) Down() error {
	if err := mg.m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Version reports the current schema version. ok is false when no
// migration has been applied yet.
func (mg *Migrator) Version() (version uint, dirty bool, ok bool, err error) {
	version, dirty, err = mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, fmt.Errorf("read migration version: %w", err)
	}
	return version, dirty, true, nil
}
