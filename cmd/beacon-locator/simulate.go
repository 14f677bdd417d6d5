package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/beacon.locator/internal/config"
	"github.com/banshee-data/beacon.locator/internal/httputil"
	"github.com/banshee-data/beacon.locator/internal/locate"
	"github.com/banshee-data/beacon.locator/internal/security"
	"github.com/banshee-data/beacon.locator/internal/simulate"
)

type simulateOptions struct {
	sniffers int
	beacons  int
	steps    int
	interval time.Duration
	start    float64
	seed     uint64
	noise    float64
	distance float64

	out   string
	lines string
	store bool
	post  string
	token string
}

func newSimulateCmd(g *globalOptions) *cobra.Command {
	opts := &simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Generate synthetic sightings from beacons wandering inside a geofence",
		Long: `Generate synthetic sightings. Sniffers are placed at random inside the
default geofence and beacons random-walk inside it; every sniffer within
detection range of a beacon reports the RSSI the configured path loss model
predicts.

The result can be written as a JSON array (--out), as station lines for
serve --replay (--lines), into the database (--store) or posted to a running
locator (--post).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, g, opts)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.sniffers, "sniffers", 30, "Number of sniffers")
	f.IntVar(&opts.beacons, "beacons", 150, "Number of beacons")
	f.IntVar(&opts.steps, "steps", 120, "Number of sweeps")
	f.DurationVar(&opts.interval, "interval", time.Second, "Time between sweeps")
	f.Float64Var(&opts.start, "start", 0, "Unix time of the first sweep (default now)")
	f.Uint64Var(&opts.seed, "seed", 1, "Random seed")
	f.Float64Var(&opts.noise, "noise", 0, "RSSI noise standard deviation in dBm")
	f.Float64Var(&opts.distance, "detection-distance", simulate.DefaultDetectionDistance, "Detection range in metres")
	f.StringVar(&opts.out, "out", "", "Write observations as a JSON array to this file ('-' for stdout)")
	f.StringVar(&opts.lines, "lines", "", "Write station lines (one JSON object per line) to this file")
	f.BoolVar(&opts.store, "store", false, "Write sniffers and observations into the database")
	f.StringVar(&opts.post, "post", "", "Base URL of a running locator to post sniffers and frames to")
	f.StringVar(&opts.token, "token", "", "Admin token for --post")
	return cmd
}

func runSimulate(cmd *cobra.Command, g *globalOptions, opts *simulateOptions) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}

	sim, err := simulate.New(simulate.Config{
		Sniffers:          opts.sniffers,
		Beacons:           opts.beacons,
		DetectionDistance: opts.distance,
		RSSINoise:         opts.noise,
		Model:             cfg.PathLossModel(),
		Seed:              opts.seed,
	})
	if err != nil {
		return err
	}

	start := opts.start
	if !cmd.Flags().Changed("start") {
		start = float64(time.Now().UnixNano()) / 1e9
	}
	obs := sim.Run(start, opts.interval.Seconds(), opts.steps)
	last := start + float64(max(opts.steps-1, 0))*opts.interval.Seconds()
	fmt.Fprintf(cmd.ErrOrStderr(), "simulated %d sniffers, %d beacons, %d sightings over %d sweeps\n",
		opts.sniffers, opts.beacons, len(obs), opts.steps)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.out != "" {
		if err := writeTo(cmd, opts.out, func(w io.Writer) error { return simulate.WriteJSON(w, obs) }); err != nil {
			return err
		}
	}
	if opts.lines != "" {
		if err := writeTo(cmd, opts.lines, func(w io.Writer) error { return writeStationLines(w, sim, obs, last) }); err != nil {
			return err
		}
	}
	if opts.store {
		if err := storeSimulation(ctx, g, cfg, sim, obs, last); err != nil {
			return err
		}
	}
	if opts.post != "" {
		if err := postSimulation(ctx, http.DefaultClient, opts.post, opts.token, sim, obs); err != nil {
			return err
		}
	}
	return nil
}

func writeTo(cmd *cobra.Command, path string, write func(io.Writer) error) error {
	if path == "-" {
		return write(cmd.OutOrStdout())
	}
	if err := security.ValidateOutputPath(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeStationLines renders observations the way a sniffer station prints
// them, followed by one heartbeat per sniffer.
func writeStationLines(w io.Writer, sim *simulate.Simulator, obs []locate.Observation, last float64) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, o := range obs {
		if err := enc.Encode(map[string]interface{}{
			"eid": o.SnifferID, "bid": o.BeaconID, "time": o.Timestamp, "rssi": o.RSSI,
		}); err != nil {
			return err
		}
	}
	for _, s := range sim.Sniffers() {
		if err := enc.Encode(map[string]interface{}{"sniffaddr": s.ID, "timestamp": last}); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func storeSimulation(ctx context.Context, g *globalOptions, cfg *config.Config, sim *simulate.Simulator, obs []locate.Observation, last float64) error {
	database, err := g.openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	for _, s := range sim.Sniffers() {
		if err := database.AddSniffer(ctx, s.ID, s.Position.Lat(), s.Position.Lon()); err != nil {
			return fmt.Errorf("store sniffer %s: %w", s.ID, err)
		}
		if err := database.RecordHeartbeat(ctx, s.ID, last); err != nil {
			return fmt.Errorf("store heartbeat %s: %w", s.ID, err)
		}
	}
	if err := database.RecordObservations(ctx, obs); err != nil {
		return fmt.Errorf("store observations: %w", err)
	}
	return nil
}

// framesBatch keeps each POST /frames request well under the server's
// body limit.
const framesBatch = 5000

func postSimulation(ctx context.Context, client httputil.HTTPClient, base, token string, sim *simulate.Simulator, obs []locate.Observation) error {
	base = strings.TrimRight(base, "/")
	for _, s := range sim.Sniffers() {
		q := url.Values{}
		q.Set("id", s.ID)
		q.Set("lat", strconv.FormatFloat(s.Position.Lat(), 'f', -1, 64))
		q.Set("lon", strconv.FormatFloat(s.Position.Lon(), 'f', -1, 64))
		if err := httputil.DoJSON(ctx, client, http.MethodPost, base+"/esp?"+q.Encode(), token, nil, nil); err != nil {
			return fmt.Errorf("register sniffer %s: %w", s.ID, err)
		}
	}
	for i := 0; i < len(obs); i += framesBatch {
		end := min(i+framesBatch, len(obs))
		if err := httputil.DoJSON(ctx, client, http.MethodPost, base+"/frames", token, obs[i:end], nil); err != nil {
			return fmt.Errorf("post frames %d-%d: %w", i, end, err)
		}
	}
	return nil
}
