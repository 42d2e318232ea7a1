// Package edge keeps gateboard inside a fixed memory budget on small hosts.
package edge

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yash/gateboard/internal/metrics"
)

// ---------------------------------------------------------------------------
// Memory Monitor
// ---------------------------------------------------------------------------

// MemoryState represents the current memory pressure level.
type MemoryState int

const (
	// MemoryStateNormal - operating normally
	MemoryStateNormal MemoryState = iota

	// MemoryStateWarning - above 80% of the soft limit
	MemoryStateWarning

	// MemoryStateCritical - at or above the soft limit
	MemoryStateCritical

	// MemoryStateEmergency - within 5% of the hard limit
	MemoryStateEmergency
)

func (s MemoryState) String() string {
	switch s {
	case MemoryStateNormal:
		return "normal"
	case MemoryStateWarning:
		return "warning"
	case MemoryStateCritical:
		return "critical"
	case MemoryStateEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// MemoryStats holds the last sample.
type MemoryStats struct {
	HeapMB     float64     `json:"heapMB"`
	SysMB      float64     `json:"sysMB"`
	NumGC      uint32      `json:"numGC"`
	State      MemoryState `json:"state"`
	UsageRatio float64     `json:"usageRatio"` // of the soft limit
}

// MonitorConfig sets the thresholds. A zero SoftLimitMB defaults to 80% of
// HardLimitMB.
type MonitorConfig struct {
	SoftLimitMB int
	HardLimitMB int
	Interval    time.Duration
}

// Enabled reports whether any limit is set.
func (c MonitorConfig) Enabled() bool {
	return c.SoftLimitMB > 0 || c.HardLimitMB > 0
}

// MemoryListener is called when the memory state changes.
type MemoryListener func(oldState, newState MemoryState, stats MemoryStats)

// MemoryMonitor samples heap usage and notifies listeners when the pressure
// level changes.
type MemoryMonitor struct {
	config MonitorConfig
	logger *slog.Logger
	read   func(*runtime.MemStats)

	mu           sync.RWMutex
	currentState MemoryState
	stats        MemoryStats
	listeners    []MemoryListener

	// Atomic for fast path checks
	isCritical atomic.Bool

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewMemoryMonitor creates a monitor. A nil logger means slog.Default().
func NewMemoryMonitor(cfg MonitorConfig, logger *slog.Logger) *MemoryMonitor {
	if cfg.SoftLimitMB <= 0 {
		cfg.SoftLimitMB = cfg.HardLimitMB * 8 / 10
	}
	if cfg.HardLimitMB <= 0 {
		cfg.HardLimitMB = cfg.SoftLimitMB * 5 / 4
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryMonitor{
		config: cfg,
		logger: logger,
		read:   runtime.ReadMemStats,
	}
}

// AddListener adds a callback for memory state changes.
func (m *MemoryMonitor) AddListener(l MemoryListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Start begins sampling. Calling Start on a running monitor is a no-op.
func (m *MemoryMonitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return
	}
	m.running = true

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.monitorLoop(ctx, m.done)
}

// Stop halts sampling and waits for the loop to exit.
func (m *MemoryMonitor) Stop() {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.runMu.Unlock()

	cancel()
	<-done
}

// Stats returns the last sample.
func (m *MemoryMonitor) Stats() MemoryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// State returns the current memory state.
func (m *MemoryMonitor) State() MemoryState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentState
}

// IsCritical reports critical or emergency pressure (fast path).
func (m *MemoryMonitor) IsCritical() bool {
	return m.isCritical.Load()
}

func (m *MemoryMonitor) monitorLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	defer m.exited(done)
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.Check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

func (m *MemoryMonitor) exited(done chan<- struct{}) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running && m.done == done {
		m.running = false
		m.cancel()
	}
}

// Check takes one sample and fires listeners on a state change.
func (m *MemoryMonitor) Check() MemoryState {
	var ms runtime.MemStats
	m.read(&ms)

	const mb = 1024 * 1024
	heap := float64(ms.HeapAlloc)
	soft := float64(m.config.SoftLimitMB) * mb
	hard := float64(m.config.HardLimitMB) * mb

	var newState MemoryState
	switch {
	case heap >= hard*0.95:
		newState = MemoryStateEmergency
	case heap >= soft:
		newState = MemoryStateCritical
	case heap >= soft*0.8:
		newState = MemoryStateWarning
	default:
		newState = MemoryStateNormal
	}

	stats := MemoryStats{
		HeapMB:     heap / mb,
		SysMB:      float64(ms.Sys) / mb,
		NumGC:      ms.NumGC,
		State:      newState,
		UsageRatio: heap / soft,
	}

	m.mu.Lock()
	oldState := m.currentState
	m.currentState = newState
	m.stats = stats
	listeners := make([]MemoryListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.isCritical.Store(newState >= MemoryStateCritical)
	metrics.MemoryState.Set(float64(newState))
	metrics.HeapMB.Set(stats.HeapMB)

	if oldState != newState {
		m.logger.Warn("memory state changed",
			"from", oldState.String(),
			"to", newState.String(),
			"heap_mb", stats.HeapMB,
			"ratio", stats.UsageRatio)
		for _, l := range listeners {
			l(oldState, newState, stats)
		}
		if newState == MemoryStateEmergency {
			runtime.GC()
		}
	}
	return newState
}
