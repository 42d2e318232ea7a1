package benchmarks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yash/gateboard/internal/api"
	"github.com/yash/gateboard/internal/events"
	"github.com/yash/gateboard/internal/ingestion"
	"github.com/yash/gateboard/internal/notify"
	"github.com/yash/gateboard/internal/simulation"
	"github.com/yash/gateboard/pkg/models"
)

// ---------------------------------------------------------------------------
// Integration Tests
// ---------------------------------------------------------------------------

// TestReadersSeeWholeBoardsDuringTicks runs readers against a fast update
// loop and checks every read is a complete, ordered board.
func TestReadersSeeWholeBoardsDuringTicks(t *testing.T) {
	fx := NewFixture(200, 3)
	hub := notify.NewHub(nil)
	updater := simulation.NewUpdater(fx.Store, fx.Rand, hub, simulation.UpdaterConfig{
		Interval:            time.Millisecond,
		MutationProbability: 0.5,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, updater.Start(ctx))

	var wg sync.WaitGroup
	failures := make(chan string, 100)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				code := fx.Ref.Codes()[(worker+i)%len(fx.Ref.Codes())]
				board := fx.Engine.Departures(code, nil)
				if len(board) != 100 {
					failures <- fmt.Sprintf("%s: %d departures", code, len(board))
					return
				}
				for j := 1; j < len(board); j++ {
					if board[j].ScheduledDeparture.Before(board[j-1].ScheduledDeparture) {
						failures <- fmt.Sprintf("%s: unordered at %d", code, j)
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()
	require.Eventually(t, func() bool { return updater.Stats().Ticks >= 3 }, 2*time.Second, time.Millisecond)
	updater.Stop()
	close(failures)

	for f := range failures {
		t.Error(f)
	}
	for _, code := range fx.Store.Codes() {
		assert.Equal(t, uint64(1)+uint64(updater.Stats().Ticks), fx.Store.Version(code), code)
	}
}

// TestUpstreamRefreshEndToEnd refreshes ATL from a fake upstream through the
// HTTP API and expects the new board on the event stream and the API.
func TestUpstreamRefreshEndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ATL", r.URL.Query().Get("dep_iata"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": [{
			"flight_date": "2024-06-15",
			"flight_status": "active",
			"departure": {"iata": "ATL", "airport": "Atlanta", "timezone": "America/New_York", "gate": "T3", "scheduled": "2024-06-15T08:00:00+00:00"},
			"arrival": {"iata": "JFK", "airport": "John F Kennedy", "timezone": "America/New_York", "scheduled": "2024-06-15T10:00:00+00:00"},
			"airline": {"name": "Delta Air Lines", "iata": "DL"},
			"flight": {"number": "1", "iata": "DL1"}
		}]}`))
	}))
	defer upstream.Close()

	fx := NewFixture(75, 11)
	hub := notify.NewHub(nil)
	bridge := events.NewBridge(hub, fx.Store.Version, nil)
	defer bridge.Close()

	client := ingestion.NewClient(ingestion.WithBaseURL(upstream.URL), ingestion.WithMaxRetries(0))
	normalizer := ingestion.NewNormalizer(client, fx.Store, hub, nil)
	srv := httptest.NewServer(api.New(fx.Ref, fx.Store, fx.Engine,
		api.WithRefresher(normalizer), api.WithStreamer(bridge)).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	updates, err := bridge.Subscribe(ctx, "ATL")
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/api/v1/airports/ATL/refresh", "", nil)
	require.NoError(t, err)
	var res ingestion.RefreshResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	resp.Body.Close()
	assert.True(t, res.Live)
	assert.Equal(t, 1, res.Flights)
	assert.Equal(t, uint64(2), res.Version)

	select {
	case u := <-updates:
		assert.Equal(t, uint64(2), u.Version)
		require.Len(t, u.Flights, 1)
		assert.Equal(t, "DL1", u.Flights[0].FlightNumber)
	case <-ctx.Done():
		t.Fatal("no update after refresh")
	}

	resp, err = http.Get(srv.URL + "/api/v1/airports/ATL/gates/T3")
	require.NoError(t, err)
	defer resp.Body.Close()
	var gate models.GateInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&gate))
	require.NotNil(t, gate.CurrentFlight)
	assert.Equal(t, "DL1", gate.CurrentFlight.FlightNumber)
}

// ---------------------------------------------------------------------------
// Performance Validation
// ---------------------------------------------------------------------------

// TestTickLoad100PerSec verifies the update loop sustains 100 ticks/sec over
// every airport.
func TestTickLoad100PerSec(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}

	tl := NewTickLoad(100, 75, 3*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats := tl.Run(ctx)

	t.Logf("Tick load results:")
	t.Logf("  Duration: %v", stats.Duration)
	t.Logf("  Ticks: %d (%.2f/sec)", stats.TotalTicks, stats.TicksPerSec)
	t.Logf("  Notifications: %d", stats.Notifications)
	t.Logf("  Mutations: %d", stats.Mutations)

	assert.GreaterOrEqual(t, stats.TicksPerSec, 80.0, "Should achieve at least 80 ticks/sec")
	assert.Equal(t, stats.TotalTicks*6, stats.Notifications, "one notification per airport per tick")
	assert.Equal(t, int64(0), stats.Errors, "notifications must carry whole boards")
}

// TestLatencyP99Under50ms validates the query latency target under moderate
// concurrency.
func TestLatencyP99Under50ms(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping latency test in short mode")
	}

	cqb := NewConcurrentQueryBench(1000)
	stats := cqb.RunConcurrent(10, 500)

	t.Logf("Latency distribution (10 workers, 500 queries each):")
	t.Logf("  Total queries: %d", stats.TotalQueries)
	t.Logf("  P50: %v  P95: %v  P99: %v", stats.P50, stats.P95, stats.P99)
	t.Logf("  Min: %v  Max: %v  Avg: %v", stats.Min, stats.Max, stats.Avg)

	assert.Equal(t, 5000, stats.TotalQueries)
	assert.Less(t, stats.P99, 50*time.Millisecond, "P99 should be under 50ms")
}

// TestMemoryConstraint512MB keeps large boards for every airport under the
// edge memory budget.
func TestMemoryConstraint512MB(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping memory test in short mode")
	}
	const maxMemoryMB = 512.0

	runtime.GC()
	before := CaptureMemoryProfile()

	fx := NewFixture(20000, 5)

	runtime.GC()
	after := CaptureMemoryProfile()

	t.Logf("Memory profile after %d flights:", fx.Store.Total())
	t.Logf("  Heap allocated: %.2f MB", after.HeapMB())
	t.Logf("  Delta heap: %.2f MB", after.HeapMB()-before.HeapMB())
	t.Logf("  Heap objects: %d", after.HeapObjects)

	assert.Equal(t, 6*20000, fx.Store.Total())
	assert.Less(t, after.HeapMB(), maxMemoryMB)
}

// ---------------------------------------------------------------------------
// CPU and Memory Profiling
// ---------------------------------------------------------------------------

func TestCPUProfile(t *testing.T) {
	if os.Getenv("ENABLE_PROFILING") != "true" {
		t.Skip("Set ENABLE_PROFILING=true to run profiling tests")
	}

	f, err := os.Create("cpu.prof")
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, pprof.StartCPUProfile(f))
	defer pprof.StopCPUProfile()

	cqb := NewConcurrentQueryBench(5000)
	cqb.RunConcurrent(20, 1000)

	t.Log("CPU profile written to cpu.prof")
}

func TestMemoryProfile(t *testing.T) {
	if os.Getenv("ENABLE_PROFILING") != "true" {
		t.Skip("Set ENABLE_PROFILING=true to run profiling tests")
	}

	fx := NewFixture(10000, 9)
	runtime.GC()

	f, err := os.Create("mem.prof")
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, pprof.WriteHeapProfile(f))

	t.Logf("Memory profile written to mem.prof (%d flights)", fx.Store.Total())
}

// ---------------------------------------------------------------------------
// Regression Tests
// ---------------------------------------------------------------------------

func TestPerformanceRegression(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping regression test in short mode")
	}

	const (
		maxP99Latency  = 50 * time.Millisecond
		minQPS         = 1000.0
		minTicksPerSec = 40.0
	)

	t.Run("QueryLatency", func(t *testing.T) {
		cqb := NewConcurrentQueryBench(1000)
		stats := cqb.RunConcurrent(20, 500)

		assert.Less(t, stats.P99, maxP99Latency, "P99 regression: %v > %v", stats.P99, maxP99Latency)
		assert.Greater(t, stats.QueriesPerSec, minQPS, "QPS regression: %.2f < %.2f", stats.QueriesPerSec, minQPS)
	})

	t.Run("TickRate", func(t *testing.T) {
		tl := NewTickLoad(50, 1000, 2*time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		stats := tl.Run(ctx)
		assert.Greater(t, stats.TicksPerSec, minTicksPerSec, "tick regression: %.2f < %.2f", stats.TicksPerSec, minTicksPerSec)
	})
}
