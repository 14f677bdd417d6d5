package main

import (
	"fmt"

	"github.com/banshee-data/beacon.locator/internal/config"
	"github.com/banshee-data/beacon.locator/internal/db"
	"github.com/banshee-data/beacon.locator/internal/geo"
	"github.com/banshee-data/beacon.locator/internal/geodesy"
	"github.com/banshee-data/beacon.locator/internal/locate"
	"github.com/banshee-data/beacon.locator/internal/monitoring"
)

type globalOptions struct {
	configPath string
	dbPath     string
	dev        bool
	getenv     func(string) string
}

// loadConfig resolves the effective configuration: file, then environment,
// then the --db flag.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if o.configPath != "" {
		loaded, err := config.LoadConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if o.getenv != nil {
		if err := cfg.ApplyEnv(o.getenv); err != nil {
			return nil, fmt.Errorf("environment: %w", err)
		}
	}
	if o.dbPath != "" {
		cfg.DBPath = &o.dbPath
	}
	return cfg, nil
}

// openDB opens and migrates the configured database.
func (o *globalOptions) openDB(cfg *config.Config) (*db.DB, error) {
	db.DevMode = o.dev
	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.GetDBPath(), err)
	}
	return database, nil
}

func buildEngine(cfg *config.Config) (*locate.Engine, error) {
	model := cfg.PathLossModel()
	if err := model.Validate(); err != nil {
		return nil, err
	}
	solver, err := geodesy.NewSolver(cfg.SolverConfig())
	if err != nil {
		return nil, err
	}
	return &locate.Engine{
		Model: model,
		Resolver: &locate.Resolver{
			Solver:           solver,
			Projection:       geo.NewProjection(cfg.GetOrigin()),
			ClusterThreshold: cfg.GetClusterThreshold(),
		},
		Bounds:      cfg.GetWindowBounds().Seconds(),
		Concurrency: cfg.GetResolveConcurrency(),
	}, nil
}

func buildWorker(cfg *config.Config, engine *locate.Engine, database *db.DB, metrics *monitoring.Metrics) *locate.Worker {
	w := locate.NewWorker(engine, database, database, database)
	w.Recorder = database
	w.Pruner = database
	w.Interval = cfg.GetTickInterval()
	w.Lag = cfg.GetLag()
	w.Retention = cfg.GetObservationRetention()
	w.TimestampOverride = cfg.TimestampOverride
	w.PersistUnresolved = cfg.GetPersistUnresolved()
	w.Metrics = metrics
	return w
}
