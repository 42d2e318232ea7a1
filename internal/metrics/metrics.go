package metrics

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Prometheus-compatible Metrics Registry
// ---------------------------------------------------------------------------

// Registry holds all application metrics.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	histos   map[string]*Histogram

	startTime time.Time
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:  make(map[string]*Counter),
		gauges:    make(map[string]*Gauge),
		histos:    make(map[string]*Histogram),
		startTime: time.Now(),
	}
}

// Counter returns or creates a counter metric.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{name: name, help: help}
	r.counters[name] = c
	return c
}

// Gauge returns or creates a gauge metric.
func (r *Registry) Gauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := &Gauge{name: name, help: help}
	r.gauges[name] = g
	return g
}

// Histogram returns or creates a histogram metric.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.histos[name]; ok {
		return h
	}
	h := NewHistogram(name, help, buckets)
	r.histos[name] = h
	return h
}

// Export returns all metrics in Prometheus text format, sorted by name
// within each kind.
func (r *Registry) Export() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	writeSample(&b, "go_memstats_heap_alloc_bytes", "Number of heap bytes allocated and still in use.", "gauge", fmt.Sprintf("%d", mem.HeapAlloc))
	writeSample(&b, "go_goroutines", "Number of goroutines.", "gauge", fmt.Sprintf("%d", runtime.NumGoroutine()))
	writeSample(&b, "process_uptime_seconds", "Time since process start.", "gauge", fmt.Sprintf("%f", time.Since(r.startTime).Seconds()))

	for _, name := range sortedKeys(r.counters) {
		c := r.counters[name]
		writeSample(&b, c.name, c.help, "counter", fmt.Sprintf("%d", c.Value()))
	}
	for _, name := range sortedKeys(r.gauges) {
		g := r.gauges[name]
		writeSample(&b, g.name, g.help, "gauge", fmt.Sprintf("%g", g.Get()))
	}
	for _, name := range sortedKeys(r.histos) {
		r.histos[name].writeTo(&b)
	}

	return b.String()
}

func writeSample(b *strings.Builder, name, help, kind, value string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n%s %s\n", name, help, name, kind, name, value)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ---------------------------------------------------------------------------
// Counter
// ---------------------------------------------------------------------------

// Counter is a monotonically increasing metric.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	c.value.Add(1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(v int64) {
	c.value.Add(v)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return c.value.Load()
}

// ---------------------------------------------------------------------------
// Gauge
// ---------------------------------------------------------------------------

// Gauge is a metric that can go up and down.
type Gauge struct {
	name string
	help string
	bits atomic.Uint64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v float64) {
	g.bits.Store(math.Float64bits(v))
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	g.Add(1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	g.Add(-1)
}

// Add adds the given value to the gauge.
func (g *Gauge) Add(v float64) {
	for {
		old := g.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + v)
		if g.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

// Get returns the current gauge value.
func (g *Gauge) Get() float64 {
	return math.Float64frombits(g.bits.Load())
}

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// Histogram tracks value distributions with cumulative buckets.
type Histogram struct {
	name    string
	help    string
	buckets []float64
	counts  []atomic.Int64
	sumUs   atomic.Int64
	count   atomic.Int64
}

// NewHistogram creates a histogram with the given ascending buckets.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	return &Histogram{
		name:    name,
		help:    help,
		buckets: buckets,
		counts:  make([]atomic.Int64, len(buckets)),
	}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i].Add(1)
		}
	}
	h.sumUs.Add(int64(v * 1e6))
	h.count.Add(1)
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	return h.count.Load()
}

func (h *Histogram) writeTo(b *strings.Builder) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
	for i, bound := range h.buckets {
		fmt.Fprintf(b, "%s_bucket{le=\"%g\"} %d\n", h.name, bound, h.counts[i].Load())
	}
	fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", h.name, h.count.Load())
	fmt.Fprintf(b, "%s_sum %f\n", h.name, float64(h.sumUs.Load())/1e6)
	fmt.Fprintf(b, "%s_count %d\n", h.name, h.count.Load())
}

// ---------------------------------------------------------------------------
// Default Registry
// ---------------------------------------------------------------------------

var defaultRegistry = NewRegistry()

// Default returns the default metrics registry.
func Default() *Registry {
	return defaultRegistry
}

var latencyBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

var (
	// Simulation
	SimulationTicks  = defaultRegistry.Counter("gateboard_simulation_ticks_total", "Update loop passes completed")
	StatusMutations  = defaultRegistry.Counter("gateboard_status_mutations_total", "Flight status changes applied by the update loop")
	TrackedFlights   = defaultRegistry.Gauge("gateboard_tracked_flights", "Flights held across all airports")
	Notifications    = defaultRegistry.Counter("gateboard_notifications_total", "Subscriber callbacks invoked")
	SubscriberPanics = defaultRegistry.Counter("gateboard_subscriber_panics_total", "Subscriber callbacks that panicked")
	Subscribers      = defaultRegistry.Gauge("gateboard_subscribers", "Registered subscribers")

	StaleNotifications = defaultRegistry.Counter("gateboard_stale_notifications_total", "Notifications dropped because a newer version was already delivered")

	// Upstream
	UpstreamRequests  = defaultRegistry.Counter("gateboard_upstream_requests_total", "Requests sent to the flight data API")
	UpstreamFailures  = defaultRegistry.Counter("gateboard_upstream_failures_total", "Failed flight data API requests")
	UpstreamFallbacks = defaultRegistry.Counter("gateboard_upstream_fallbacks_total", "Fetches answered from simulated data")
	UpstreamLatency   = defaultRegistry.Histogram("gateboard_upstream_latency_seconds", "Flight data API latency", []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10})

	// Query
	QueryRequests = defaultRegistry.Counter("gateboard_query_requests_total", "Queries served")
	QueryLatency  = defaultRegistry.Histogram("gateboard_query_latency_seconds", "Query latency", latencyBuckets)

	// HTTP
	HTTPRequests      = defaultRegistry.Counter("gateboard_http_requests_total", "Total HTTP requests")
	HTTPLatency       = defaultRegistry.Histogram("gateboard_http_latency_seconds", "HTTP request latency", latencyBuckets)
	ActiveConnections = defaultRegistry.Gauge("gateboard_active_connections", "In-flight HTTP requests")

	// Memory
	MemoryState = defaultRegistry.Gauge("gateboard_memory_state", "Memory pressure level (0 normal .. 3 emergency)")
	HeapMB      = defaultRegistry.Gauge("gateboard_heap_mb", "Heap in use, sampled by the memory monitor")
	CachePurges = defaultRegistry.Counter("gateboard_connection_cache_purges_total", "Connection cache purges under memory pressure")
)
