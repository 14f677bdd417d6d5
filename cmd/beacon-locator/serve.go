package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/banshee-data/beacon.locator/internal/api"
	"github.com/banshee-data/beacon.locator/internal/config"
	"github.com/banshee-data/beacon.locator/internal/locate"
	"github.com/banshee-data/beacon.locator/internal/monitoring"
	"github.com/banshee-data/beacon.locator/internal/serialmux"
	"github.com/banshee-data/beacon.locator/internal/version"
)

// heartbeatPruneInterval is how often superseded heartbeats are deleted.
const heartbeatPruneInterval = time.Hour

type serveOptions struct {
	listen         string
	replay         string
	replayInterval time.Duration
}

func newServeCmd(g *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the locator: HTTP API, serial ingest and the periodic locate loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if opts.listen != "" {
				cfg.Listen = &opts.listen
			}
			return runServe(cmd.Context(), g, cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.listen, "listen", "", "Listen address (overrides config listen)")
	cmd.Flags().StringVar(&opts.replay, "replay", "", "Replay station lines from this file instead of a serial port")
	cmd.Flags().DurationVar(&opts.replayInterval, "replay-interval", 200*time.Millisecond, "Delay between replayed lines")
	return cmd
}

// openStation picks the line source: a replay file, the configured serial
// port, or nothing.
func openStation(cfg *config.Config, opts *serveOptions) (serialmux.Station, error) {
	if opts.replay != "" {
		data, err := os.ReadFile(opts.replay)
		if err != nil {
			return nil, fmt.Errorf("failed to open replay file: %w", err)
		}
		var lines []string
		for _, l := range strings.Split(string(data), "\n") {
			if l = strings.TrimSpace(l); l != "" {
				lines = append(lines, l)
			}
		}
		return serialmux.NewReplayStation(lines, opts.replayInterval), nil
	}
	if cfg.Serial == nil || cfg.Serial.Port == "" {
		return serialmux.NewDisabledStation(), nil
	}
	return serialmux.OpenSerialStation(cfg.Serial.Port, serialmux.PortOptions{
		BaudRate: cfg.Serial.BaudRate,
		DataBits: cfg.Serial.DataBits,
		StopBits: cfg.Serial.StopBits,
		Parity:   cfg.Serial.Parity,
	})
}

func runServe(parent context.Context, g *globalOptions, cfg *config.Config, opts *serveOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := g.openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	engine, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	metrics, err := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	station, err := openStation(cfg, opts)
	if err != nil {
		return fmt.Errorf("failed to open sniffer station: %w", err)
	}
	defer station.Close()
	if err := station.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize sniffer station: %w", err)
	}

	if cfg.GetAdminToken() == "" {
		log.Printf("warning: no admin_token configured, mutating routes are open")
	}

	var wg sync.WaitGroup

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := station.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		serialmux.Ingest(ctx, station, database)
		log.Printf("ingest routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(heartbeatPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := database.PruneHeartbeats(ctx); err != nil {
					log.Printf("failed to prune heartbeats: %v", err)
				} else if n > 0 {
					log.Printf("pruned %d superseded heartbeats", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	apiServer := api.NewServer(station, database, api.Options{
		Origin:           cfg.GetOrigin(),
		HideUnregistered: cfg.GetHideUnregisteredBeacons(),
		AdminToken:       cfg.GetAdminToken(),
		Metrics:          metrics,
	})

	worker := buildWorker(cfg, engine, database, metrics)
	worker.Recorder = locate.Recorders{database, apiServer.Feed()}
	worker.Start(ctx)
	defer worker.Stop()

	mux := apiServer.ServeMux()
	station.AttachAdminRoutes(mux)
	database.AttachAdminRoutes(mux)

	server := &http.Server{
		Addr:              cfg.GetListen(),
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("beacon-locator %s listening on %s", version.String(), server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	// Monitor may be blocked on a read; closing the port releases it.
	station.Close()
	wg.Wait()
	log.Printf("graceful shutdown complete")
	return nil
}
