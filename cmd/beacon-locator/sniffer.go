package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSnifferCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sniffer",
		Short: "Manage the sniffer registry",
	}

	add := &cobra.Command{
		Use:   "add ID LAT LON",
		Short: "Register a sniffer or move an existing one",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			lat, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid latitude %q", args[1])
			}
			lon, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid longitude %q", args[2])
			}
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			database, err := g.openDB(cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := database.AddSniffer(cmd.Context(), args[0], lat, lon); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s at %.6f,%.6f\n", args[0], lat, lon)
			return nil
		},
	}
	// Stop flag parsing at ID so negative coordinates stay positional.
	add.Flags().SetInterspersed(false)
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove ID",
		Short: "Remove a sniffer",
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

			removed, err := database.RemoveSniffer(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("sniffer %q not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered sniffers",
		Args:  cobra.NoArgs,
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

			sniffers, err := database.ListSniffers(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tLAT\tLON")
			for _, s := range sniffers {
				fmt.Fprintf(tw, "%s\t%.6f\t%.6f\n", s.ID, s.Latitude, s.Longitude)
			}
			return tw.Flush()
		},
	})
	return cmd
}
