package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yash/gateboard/internal/api"
	"github.com/yash/gateboard/internal/config"
	"github.com/yash/gateboard/internal/edge"
	"github.com/yash/gateboard/internal/events"
	"github.com/yash/gateboard/internal/ingestion"
	"github.com/yash/gateboard/internal/metrics"
	"github.com/yash/gateboard/internal/notify"
	"github.com/yash/gateboard/internal/query"
	"github.com/yash/gateboard/internal/reference"
	"github.com/yash/gateboard/internal/simulation"
	"github.com/yash/gateboard/internal/state"
)

const shutdownTimeout = 10 * time.Second

// ---------------------------------------------------------------------------
// Application
// ---------------------------------------------------------------------------

// App wires every component together.
type App struct {
	config config.Config
	logger *slog.Logger

	ref        *reference.Store
	flights    *state.Store
	hub        *notify.Hub
	updater    *simulation.Updater
	query      *query.Engine
	normalizer *ingestion.Normalizer
	refresher  *ingestion.Refresher
	bridge     *events.Bridge
	api        *api.Server
	monitor    *edge.MemoryMonitor

	server *http.Server
}

// NewApp builds the application and generates the initial boards.
func NewApp(cfg config.Config, logger *slog.Logger) (*App, error) {
	ref, err := reference.Load()
	if err != nil {
		return nil, fmt.Errorf("loading reference data: %w", err)
	}

	rng := simulation.NewRand(cfg.Simulation.Seed)
	gen := simulation.NewGenerator(ref, rng, simulation.GeneratorConfig{
		Departures:       cfg.Simulation.Departures,
		Arrivals:         cfg.Simulation.Arrivals,
		DelayProbability: cfg.Simulation.DelayProbability,
	})

	flights := state.New()
	flights.Initialize(ref.Codes(), gen)
	hub := notify.NewHub(logger)

	a := &App{
		config:  cfg,
		logger:  logger,
		ref:     ref,
		flights: flights,
		hub:     hub,
		query:   query.New(flights, ref, cfg.Query.ConnectionCacheSize),
	}

	a.updater = simulation.NewUpdater(flights, rng, hub, simulation.UpdaterConfig{
		Interval:            cfg.Simulation.TickInterval,
		MutationProbability: cfg.Simulation.MutationProbability,
	}, simulation.WithLogger(logger))

	client := ingestion.NewClient(
		ingestion.WithBaseURL(cfg.Upstream.BaseURL),
		ingestion.WithAccessKey(cfg.Upstream.AccessKey),
		ingestion.WithTimeout(cfg.Upstream.Timeout),
		ingestion.WithMaxRetries(cfg.Upstream.MaxRetries),
	)
	a.normalizer = ingestion.NewNormalizer(client, flights, hub, logger)
	if cfg.Upstream.Enabled && cfg.Upstream.RefreshInterval > 0 {
		a.refresher = ingestion.NewRefresher(a.normalizer, ingestion.RefresherConfig{
			Interval: cfg.Upstream.RefreshInterval,
			Workers:  cfg.Upstream.Workers,
		})
	}

	a.bridge = events.NewBridge(hub, flights.Version, logger)

	opts := []api.Option{api.WithStreamer(a.bridge), api.WithLogger(logger)}
	if cfg.Upstream.Enabled {
		opts = append(opts, api.WithRefresher(a.normalizer))
	}
	a.api = api.New(ref, flights, a.query, opts...)
	a.api.SetReady(false)

	mcfg := edge.MonitorConfig{
		SoftLimitMB: cfg.Runtime.SoftLimitMB,
		HardLimitMB: cfg.Runtime.MemoryLimitMB,
		Interval:    cfg.Runtime.MonitorInterval,
	}
	if mcfg.Enabled() {
		a.monitor = edge.NewMemoryMonitor(mcfg, logger)
		a.monitor.AddListener(a.onMemoryPressure)
	}

	logger.Info("boards generated",
		"airports", len(ref.Codes()),
		"flights", flights.Total())
	return a, nil
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return a.api.Handler()
}

// Run serves until ctx is cancelled, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("gateboard starting",
		"addr", a.config.HTTP.Address(),
		"tick", a.config.Simulation.TickInterval,
		"upstream", a.config.Upstream.Enabled)

	a.server = &http.Server{
		Addr:              a.config.HTTP.Address(),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: event streams stay open.
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.config.Upstream.Enabled {
		a.logger.Info("fetching initial flight data from upstream")
		results := a.normalizer.RefreshAll(ctx, a.config.Upstream.Workers)
		live := 0
		for _, r := range results {
			if r.Live {
				live++
			}
		}
		a.logger.Info("initial fetch complete", "airports", len(results), "live", live)
	}

	if err := a.startLoops(ctx); err != nil {
		return errors.Join(err, a.Shutdown(), g.Wait())
	}

	a.api.SetReady(true)
	a.logger.Info("gateboard ready", "flights", a.flights.Total())

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down")
		return a.Shutdown()
	})
	return g.Wait()
}

// onMemoryPressure drops cached walking routes once the heap crosses the
// soft limit; they are rebuilt on demand.
func (a *App) onMemoryPressure(_, level edge.MemoryState, stats edge.MemoryStats) {
	if level < edge.MemoryStateCritical {
		return
	}
	n := a.query.PurgeConnections()
	metrics.CachePurges.Inc()
	a.logger.Warn("purged connection cache",
		"entries", n,
		"state", level.String(),
		"heap_mb", stats.HeapMB)
}

func (a *App) startLoops(ctx context.Context) error {
	if a.monitor != nil {
		a.monitor.Start(ctx)
	}
	if err := a.updater.Start(ctx); err != nil {
		return fmt.Errorf("starting updater: %w", err)
	}
	if a.refresher != nil {
		if err := a.refresher.Start(ctx); err != nil {
			return fmt.Errorf("starting refresher: %w", err)
		}
	}
	return nil
}

// Shutdown stops the loops first so no change lands mid-shutdown, then the
// streams and the HTTP server.
func (a *App) Shutdown() error {
	a.api.SetReady(false)
	a.updater.Stop()
	if a.refresher != nil {
		a.refresher.Stop()
	}
	if a.monitor != nil {
		a.monitor.Stop()
	}

	var errs []error
	if err := a.bridge.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing event bridge: %w", err))
	}
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
		}
	}

	stats := a.updater.Stats()
	a.logger.Info("gateboard stopped", "ticks", stats.Ticks, "mutations", stats.Mutations)
	return errors.Join(errs...)
}
