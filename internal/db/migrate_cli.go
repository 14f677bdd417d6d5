package db

import (
	"fmt"
	"io"
	"io/fs"
	"log"
	"strconv"
)

// RunMigrateCommand runs one migrate action against database and writes a
// human readable result to out.
func RunMigrateCommand(out io.Writer, database *DB, action string, args []string) error {
	migrations, err := MigrationsFS()
	if err != nil {
		return fmt.Errorf("failed to get migrations filesystem: %w", err)
	}

	switch action {
	case "up":
		log.Printf("running migrations...")
		if err := database.MigrateUp(migrations); err != nil {
			return err
		}
		return printVersion(out, database, migrations)

	case "down":
		log.Printf("rolling back one migration...")
		if err := database.MigrateDown(migrations); err != nil {
			return err
		}
		return printVersion(out, database, migrations)

	case "status":
		status, err := database.GetMigrationStatus(migrations)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "=== Migration Status ===")
		fmt.Fprintf(out, "Current version: %d\n", status.CurrentVersion)
		fmt.Fprintf(out, "Latest available: %d\n", status.LatestVersion)
		fmt.Fprintf(out, "Dirty: %v\n", status.Dirty)
		fmt.Fprintf(out, "Schema migrations table exists: %v\n", status.TableExists)
		if status.Dirty {
			fmt.Fprintln(out, "\nDatabase is in a dirty state. A migration failed mid-execution;")
			fmt.Fprintln(out, "inspect the database, fix it, then run: beacon-locator migrate force <version>")
		} else if n := status.Pending(); n > 0 {
			fmt.Fprintf(out, "\n%d migration(s) pending. Run: beacon-locator migrate up\n", n)
		}
		return nil

	case "version", "force":
		if len(args) < 1 {
			return fmt.Errorf("usage: beacon-locator migrate %s <version_number>", action)
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return fmt.Errorf("invalid version number: %s", args[0])
		}
		if action == "version" {
			if err := database.MigrateTo(migrations, uint(n)); err != nil {
				return err
			}
		} else if err := database.MigrateForce(migrations, n); err != nil {
			return err
		}
		return printVersion(out, database, migrations)

	default:
		return fmt.Errorf("unknown migrate action: %s", action)
	}
}

func printVersion(out io.Writer, database *DB, migrations fs.FS) error {
	version, dirty, err := database.MigrateVersion(migrations)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}
