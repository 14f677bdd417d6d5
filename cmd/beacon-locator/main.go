// Command beacon-locator runs the BLE beacon locator service and its
// maintenance tools.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/beacon.locator/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{getenv: os.Getenv}

	root := &cobra.Command{
		Use:   "beacon-locator",
		Short: "Locate BLE beacons from sniffer RSSI readings",
		Long: `beacon-locator turns RSSI sightings reported by fixed sniffer stations into
beacon positions. Each pass converts readings to distances with a path loss
model, intersects the distance circles of every sniffer pair on the WGS84
ellipsoid and keeps the intersection most other candidates agree with.

Configuration comes from --config (JSON or YAML), then LOCATOR_* environment
variables, then flags.`,
		Version:      version.String(),
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a .json/.yaml config file (defaults built in)")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides config db_path)")
	root.PersistentFlags().BoolVar(&opts.dev, "dev", false, "Read migrations from the source tree")

	root.AddCommand(
		newServeCmd(opts),
		newOnceCmd(opts),
		newSimulateCmd(opts),
		newSnifferCmd(opts),
		newMigrateCmd(opts),
		newBackupCmd(opts),
	)
	return root
}
