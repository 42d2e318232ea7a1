package simulation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/yash/gateboard/internal/metrics"
	"github.com/yash/gateboard/internal/state"
	"github.com/yash/gateboard/pkg/models"
)

// ErrAlreadyRunning is returned by Start when the loop is active.
var ErrAlreadyRunning = errors.New("updater already running")

// Publisher receives the full list of an airport and its store version
// after every change.
type Publisher interface {
	PublishVersion(flights []models.Flight, code string, version uint64)
}

// UpdaterConfig configures the update loop.
type UpdaterConfig struct {
	Interval            time.Duration
	MutationProbability float64
	// Statuses drawn for mutated flights. Empty means GeneratedStatuses.
	Statuses []models.FlightStatus
}

// DefaultUpdaterConfig returns a 30 second tick with a 10% mutation chance.
func DefaultUpdaterConfig() UpdaterConfig {
	return UpdaterConfig{
		Interval:            30 * time.Second,
		MutationProbability: 0.1,
		Statuses:            GeneratedStatuses,
	}
}

// UpdaterStats summarises the work done by an Updater.
type UpdaterStats struct {
	Ticks     int64     `json:"ticks"`
	Mutations int64     `json:"mutations"`
	LastTick  time.Time `json:"lastTick"`
}

// UpdaterOption configures an Updater.
type UpdaterOption func(*Updater)

// WithLogger sets the updater's logger.
func WithLogger(l *slog.Logger) UpdaterOption {
	return func(u *Updater) {
		if l != nil {
			u.logger = l
		}
	}
}

// Updater periodically mutates flight statuses and publishes the result.
type Updater struct {
	config UpdaterConfig
	rng    Rand
	store  *state.Store
	pub    Publisher
	logger *slog.Logger

	tickMu  sync.Mutex
	statsMu sync.Mutex
	stats   UpdaterStats

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewUpdater creates an update loop over store. pub may be nil.
func NewUpdater(store *state.Store, rng Rand, pub Publisher, cfg UpdaterConfig, opts ...UpdaterOption) *Updater {
	if len(cfg.Statuses) == 0 {
		cfg.Statuses = GeneratedStatuses
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultUpdaterConfig().Interval
	}
	u := &Updater{
		config: cfg,
		rng:    rng,
		store:  store,
		pub:    pub,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Start begins ticking. Non-blocking.
func (u *Updater) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.running {
		return ErrAlreadyRunning
	}
	u.running = true

	ctx, u.cancel = context.WithCancel(ctx)
	u.done = make(chan struct{})
	go u.run(ctx, u.done)

	u.logger.Info("update loop started", "interval", u.config.Interval, "probability", u.config.MutationProbability)
	return nil
}

// Stop halts the loop and waits for it to exit. Safe to call repeatedly.
func (u *Updater) Stop() {
	u.mu.Lock()
	if !u.running {
		u.mu.Unlock()
		return
	}
	u.running = false
	cancel, done := u.cancel, u.done
	u.mu.Unlock()

	cancel()
	<-done
	u.logger.Info("update loop stopped")
}

// IsRunning returns whether the loop is active.
func (u *Updater) IsRunning() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.running
}

func (u *Updater) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	defer u.exited(done)

	ticker := time.NewTicker(u.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Stop may have been requested while the tick was pending.
			if ctx.Err() != nil {
				return
			}
			u.Tick()
		}
	}
}

// exited marks the loop stopped when its context ended without Stop, so
// Start works again.
func (u *Updater) exited(done chan<- struct{}) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.running && u.done == done {
		u.running = false
		u.cancel()
	}
}

// Tick runs one mutation pass over every airport and publishes each
// resulting list. Concurrent calls are serialised.
func (u *Updater) Tick() {
	u.tickMu.Lock()
	defer u.tickMu.Unlock()

	var mutated int64
	for _, code := range u.store.Codes() {
		flights, version, ok := u.store.Update(code, func(fl []models.Flight) []models.Flight {
			for i := range fl {
				if u.rng.Float64() < u.config.MutationProbability {
					fl[i].Status = u.config.Statuses[u.rng.IntN(len(u.config.Statuses))]
					mutated++
				}
			}
			return fl
		})
		if !ok {
			continue
		}
		if u.pub != nil {
			u.pub.PublishVersion(flights, code, version)
		}
	}

	u.statsMu.Lock()
	u.stats.Ticks++
	u.stats.Mutations += mutated
	u.stats.LastTick = time.Now()
	u.statsMu.Unlock()

	metrics.SimulationTicks.Inc()
	metrics.StatusMutations.Add(mutated)
	metrics.TrackedFlights.Set(float64(u.store.Total()))
	u.logger.Debug("tick complete", "mutations", mutated)
}

// Stats returns a copy of the updater's counters.
func (u *Updater) Stats() UpdaterStats {
	u.statsMu.Lock()
	defer u.statsMu.Unlock()
	return u.stats
}
