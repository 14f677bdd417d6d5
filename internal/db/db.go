// Package db stores sniffers, observations, positions, heartbeats and pass
// records in SQLite.
package db

import (
	"compress/gzip"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// DevMode reads migrations from internal/db/migrations in the working tree
// instead of the embedded copy.
var DevMode = false

const devMigrationsDir = "internal/db/migrations"

// MigrationsFS returns the migration set NewDB applies.
func MigrationsFS() (fs.FS, error) {
	if DevMode {
		return os.DirFS(devMigrationsDir), nil
	}
	return fs.Sub(embeddedMigrations, "migrations")
}

type DB struct {
	*sql.DB
	path string
}

// pragmas ride on the DSN so every pooled connection gets them.
var pragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"foreign_keys(1)",
}

func dsn(path string) string {
	return path + "?_pragma=" + strings.Join(pragmas, "&_pragma=")
}

// OpenDB connects without touching the schema, for the migrate commands.
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &DB{DB: conn, path: path}, nil
}

// NewDB connects and brings the schema up to date.
func NewDB(path string) (*DB, error) {
	d, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	migrations, err := MigrationsFS()
	if err == nil {
		err = d.MigrateUp(migrations)
	}
	if err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (db *DB) Path() string { return db.path }

// Backup writes a consistent snapshot to dst with VACUUM INTO. dst must not
// exist.
func (db *DB) Backup(ctx context.Context, dst string) error {
	_, err := db.ExecContext(ctx, "VACUUM INTO ?", dst)
	return err
}

// AttachAdminRoutes mounts tailsql and a gzipped backup download on the
// tsweb debugger.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{RoutePrefix: "/debug/tailsql/"})
	if err != nil {
		log.Printf("tailsql disabled: %v", err)
	} else {
		tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{Label: "Locator DB"})
		debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	}

	debug.Handle("backup", "Download a gzipped snapshot of the database", http.HandlerFunc(db.serveBackup))
}

func (db *DB) serveBackup(w http.ResponseWriter, r *http.Request) {
	snapshot := filepath.Join(os.TempDir(), fmt.Sprintf("locator-backup-%d.db", time.Now().UnixNano()))
	if err := db.Backup(r.Context(), snapshot); err != nil {
		http.Error(w, fmt.Sprintf("backup failed: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(snapshot); err != nil {
			log.Printf("remove backup snapshot: %v", err)
		}
	}()

	f, err := os.Open(snapshot)
	if err != nil {
		http.Error(w, fmt.Sprintf("open backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", filepath.Base(snapshot)))
	zw := gzip.NewWriter(w)
	if _, err := io.Copy(zw, f); err != nil {
		log.Printf("stream backup: %v", err)
	}
	if err := zw.Close(); err != nil {
		log.Printf("finish backup stream: %v", err)
	}
}
