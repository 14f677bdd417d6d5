package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/banshee-data/beacon.locator/internal/db"
	"github.com/banshee-data/beacon.locator/internal/security"
)

func newMigrateCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate ACTION [VERSION]",
		Short: "Manage the database schema",
		Long: `Manage the database schema.

Actions:
  up           apply all pending migrations
  down         roll back one migration
  status       show current and latest versions
  version N    migrate up or down to version N
  force N      mark the schema as version N without running migrations`,
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"up", "down", "status", "version", "force"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			db.DevMode = g.dev
			// OpenDB leaves the schema alone, unlike NewDB.
			database, err := db.OpenDB(cfg.GetDBPath())
			if err != nil {
				return err
			}
			defer database.Close()
			return db.RunMigrateCommand(cmd.OutOrStdout(), database, args[0], args[1:])
		},
	}
}

func newBackupCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backup DEST",
		Short: "Write a consistent copy of the database to DEST",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			database, err := g.openDB(cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			dst := filepath.Clean(args[0])
			if err := security.ValidateOutputPath(dst, filepath.Dir(cfg.GetDBPath())); err != nil {
				return err
			}
			if err := database.Backup(cmd.Context(), dst); err != nil {
				return fmt.Errorf("backup to %s: %w", dst, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", dst)
			return nil
		},
	}
}
