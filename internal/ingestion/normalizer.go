package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yash/gateboard/internal/metrics"
	"github.com/yash/gateboard/internal/state"
	"github.com/yash/gateboard/pkg/models"
)

// Publisher receives an airport's list and its store version after a
// refresh replaced it.
type Publisher interface {
	PublishVersion(flights []models.Flight, code string, version uint64)
}

// ---------------------------------------------------------------------------
// Normalizer
// ---------------------------------------------------------------------------

// Normalizer serves upstream flights and falls back to the simulated list
// whenever the upstream call fails. It never reports errors to callers.
type Normalizer struct {
	client *Client
	store  *state.Store
	pub    Publisher
	logger *slog.Logger
}

// NewNormalizer creates a normalizer. pub may be nil; a nil logger means
// slog.Default().
func NewNormalizer(client *Client, store *state.Store, pub Publisher, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{client: client, store: store, pub: pub, logger: logger}
}

// Fetch returns normalized upstream flights for code, or the stored
// simulated list when the upstream call fails.
func (n *Normalizer) Fetch(ctx context.Context, code string) []models.Flight {
	flights, _ := n.fetch(ctx, code)
	return flights
}

// fetch reports whether the result came from upstream.
func (n *Normalizer) fetch(ctx context.Context, code string) ([]models.Flight, bool) {
	raw, err := n.client.FetchFlights(ctx, code)
	if err != nil {
		metrics.UpstreamFallbacks.Inc()
		n.logger.Warn("using simulated flights", "airport", code, "error", err)
		return n.store.Get(code), false
	}
	return Normalize(raw), true
}

// RefreshResult describes one Refresh call.
type RefreshResult struct {
	Airport string `json:"airport"`
	Flights int    `json:"flights"`
	Version uint64 `json:"version"`
	// Live is true when upstream data replaced the stored list.
	Live bool `json:"live"`
}

// Refresh pulls upstream flights for code and, when the call succeeds with
// a non-empty list, replaces the stored list and publishes it.
func (n *Normalizer) Refresh(ctx context.Context, code string) RefreshResult {
	flights, live := n.fetch(ctx, code)
	res := RefreshResult{Airport: code}

	if !live || len(flights) == 0 {
		res.Flights = n.store.Len(code)
		res.Version = n.store.Version(code)
		return res
	}

	res.Live = true
	res.Flights = len(flights)
	res.Version = n.store.Replace(code, flights)
	if n.pub != nil {
		n.pub.PublishVersion(flights, code, res.Version)
	}
	n.logger.Info("refreshed from upstream", "airport", code, "flights", res.Flights, "version", res.Version)
	return res
}

// RefreshAll refreshes every stored airport concurrently, at most workers
// at a time.
func (n *Normalizer) RefreshAll(ctx context.Context, workers int) []RefreshResult {
	codes := n.store.Codes()
	results := make([]RefreshResult, len(codes))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, code := range codes {
		g.Go(func() error {
			results[i] = n.Refresh(ctx, code)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ---------------------------------------------------------------------------
// Refresher
// ---------------------------------------------------------------------------

// ErrRefresherRunning is returned by Start when the loop is active.
var ErrRefresherRunning = errors.New("refresher already running")

// RefresherConfig configures the periodic refresh loop.
type RefresherConfig struct {
	Interval time.Duration
	Workers  int
}

// Refresher periodically refreshes all airports from upstream.
type Refresher struct {
	normalizer *Normalizer
	config     RefresherConfig
	limiter    *RateLimiter

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRefresher creates a refresh loop.
func NewRefresher(n *Normalizer, cfg RefresherConfig) *Refresher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Refresher{
		normalizer: n,
		config:     cfg,
		limiter:    NewRateLimiter(cfg.Interval),
	}
}

// Start begins refreshing. Non-blocking.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrRefresherRunning
	}
	r.running = true

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.run(ctx, r.done)
	return nil
}

// Stop halts the loop and waits for an in-flight refresh to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done
}

// IsRunning returns whether the loop is active.
func (r *Refresher) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Refresher) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	defer r.exited(done)
	for {
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		r.normalizer.RefreshAll(ctx, r.config.Workers)
	}
}

// exited clears the running flag when the parent context ended the loop.
func (r *Refresher) exited(done chan<- struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running && r.done == done {
		r.running = false
		r.cancel()
	}
}
