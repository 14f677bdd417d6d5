package db

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// migrator builds a golang-migrate instance over the open connection. The
// instance is never closed because that would close db.DB too.
func (db *DB) migrator(migrations fs.FS) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("open migrations source: %w", err)
	}
	drv, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	m.Log = migrateLog{}
	return m, nil
}

// migrateWith runs step on a fresh migrator. ErrNoChange counts as success.
func (db *DB) migrateWith(migrations fs.FS, what string, step func(*migrate.Migrate) error) error {
	m, err := db.migrator(migrations)
	if err != nil {
		return err
	}
	if err := step(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// MigrateUp applies every pending migration.
func (db *DB) MigrateUp(migrations fs.FS) error {
	return db.migrateWith(migrations, "migrate up", (*migrate.Migrate).Up)
}

// MigrateDown rolls back the most recent migration.
func (db *DB) MigrateDown(migrations fs.FS) error {
	return db.migrateWith(migrations, "migrate down", func(m *migrate.Migrate) error { return m.Steps(-1) })
}

// MigrateTo moves the schema up or down to version.
func (db *DB) MigrateTo(migrations fs.FS, version uint) error {
	return db.migrateWith(migrations, fmt.Sprintf("migrate to %d", version), func(m *migrate.Migrate) error {
		return m.Migrate(version)
	})
}

// MigrateForce records version as applied and clears the dirty flag. It is
// the recovery path after a failed migration.
func (db *DB) MigrateForce(migrations fs.FS, version int) error {
	return db.migrateWith(migrations, fmt.Sprintf("force version %d", version), func(m *migrate.Migrate) error {
		return m.Force(version)
	})
}

// MigrateVersion reports the applied version, 0 when none has been.
func (db *DB) MigrateVersion(migrations fs.FS) (uint, bool, error) {
	m, err := db.migrator(migrations)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

type migrateLog struct{}

func (migrateLog) Printf(format string, v ...interface{}) { log.Printf("[migrate] "+format, v...) }
func (migrateLog) Verbose() bool                          { return false }

// MigrationStatus summarises the schema state of a database.
type MigrationStatus struct {
	CurrentVersion uint `json:"current_version"`
	LatestVersion  uint `json:"latest_version"`
	Dirty          bool `json:"dirty"`
	TableExists    bool `json:"schema_migrations_exists"`
}

// Pending is the number of migrations not yet applied.
func (s MigrationStatus) Pending() uint {
	if s.LatestVersion <= s.CurrentVersion {
		return 0
	}
	return s.LatestVersion - s.CurrentVersion
}

// GetMigrationStatus compares the applied version with the newest file in
// migrations.
func (db *DB) GetMigrationStatus(migrations fs.FS) (MigrationStatus, error) {
	var st MigrationStatus
	err := db.QueryRow(
		`SELECT COUNT(*) > 0 FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`,
	).Scan(&st.TableExists)
	if err != nil {
		return st, fmt.Errorf("check schema_migrations: %w", err)
	}
	if st.CurrentVersion, st.Dirty, err = db.MigrateVersion(migrations); err != nil {
		return st, fmt.Errorf("read migration version: %w", err)
	}
	if st.LatestVersion, err = GetLatestMigrationVersion(migrations); err != nil {
		return st, err
	}
	return st, nil
}

// GetLatestMigrationVersion returns the highest NNNNNN prefix among the
// *.up.sql files in migrations.
func GetLatestMigrationVersion(migrations fs.FS) (uint, error) {
	names, err := fs.Glob(migrations, "*.up.sql")
	if err != nil {
		return 0, fmt.Errorf("list migrations: %w", err)
	}
	var latest uint
	for _, name := range names {
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		if v, err := strconv.ParseUint(prefix, 10, 32); err == nil && uint(v) > latest {
			latest = uint(v)
		}
	}
	if latest == 0 {
		return 0, errors.New("no numbered migrations found")
	}
	return latest, nil
}
