package edge

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mb = 1024 * 1024

// fakeHeap lets a test steer the sampled heap size.
type fakeHeap struct {
	bytes atomic.Uint64
}

func (f *fakeHeap) setMB(n uint64) { f.bytes.Store(n * mb) }

func (f *fakeHeap) read(ms *runtime.MemStats) {
	ms.HeapAlloc = f.bytes.Load()
	ms.Sys = ms.HeapAlloc * 2
}

func newTestMonitor(t *testing.T, heap *fakeHeap) *MemoryMonitor {
	t.Helper()
	m := NewMemoryMonitor(MonitorConfig{SoftLimitMB: 100, HardLimitMB: 200, Interval: time.Millisecond}, nil)
	m.read = heap.read
	return m
}

func TestMemoryStateString(t *testing.T) {
	assert.Equal(t, "normal", MemoryStateNormal.String())
	assert.Equal(t, "warning", MemoryStateWarning.String())
	assert.Equal(t, "critical", MemoryStateCritical.String())
	assert.Equal(t, "emergency", MemoryStateEmergency.String())
	assert.Equal(t, "unknown", MemoryState(42).String())
}

func TestMonitorDefaults(t *testing.T) {
	assert.False(t, MonitorConfig{}.Enabled())
	assert.True(t, MonitorConfig{HardLimitMB: 512}.Enabled())

	m := NewMemoryMonitor(MonitorConfig{HardLimitMB: 500}, nil)
	assert.Equal(t, 400, m.config.SoftLimitMB)
	assert.Equal(t, 5*time.Second, m.config.Interval)

	m = NewMemoryMonitor(MonitorConfig{SoftLimitMB: 400}, nil)
	assert.Equal(t, 500, m.config.HardLimitMB)
}

func TestCheckThresholds(t *testing.T) {
	tests := []struct {
		heapMB uint64
		want   MemoryState
	}{
		{50, MemoryStateNormal},
		{85, MemoryStateWarning},
		{150, MemoryStateCritical},
		{195, MemoryStateEmergency},
		{10, MemoryStateNormal},
	}

	heap := &fakeHeap{}
	m := newTestMonitor(t, heap)
	for _, tt := range tests {
		heap.setMB(tt.heapMB)
		assert.Equal(t, tt.want, m.Check(), "heap %dMB", tt.heapMB)
		assert.Equal(t, tt.want, m.State())
		assert.Equal(t, tt.want >= MemoryStateCritical, m.IsCritical())
	}

	stats := m.Stats()
	assert.InDelta(t, 10.0, stats.HeapMB, 0.001)
	assert.InDelta(t, 20.0, stats.SysMB, 0.001)
	assert.InDelta(t, 0.1, stats.UsageRatio, 0.001)
}

func TestListenerFiresOnChangeOnly(t *testing.T) {
	heap := &fakeHeap{}
	m := newTestMonitor(t, heap)

	type change struct{ from, to MemoryState }
	var changes []change
	m.AddListener(func(from, to MemoryState, stats MemoryStats) {
		assert.Equal(t, to, stats.State)
		changes = append(changes, change{from, to})
	})

	heap.setMB(10)
	m.Check()
	heap.setMB(120)
	m.Check()
	m.Check()
	heap.setMB(20)
	m.Check()

	assert.Equal(t, []change{
		{MemoryStateNormal, MemoryStateCritical},
		{MemoryStateCritical, MemoryStateNormal},
	}, changes)
}

func TestStartStop(t *testing.T) {
	heap := &fakeHeap{}
	heap.setMB(150)
	m := newTestMonitor(t, heap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)
	m.Start(ctx)
	require.Eventually(t, m.IsCritical, time.Second, time.Millisecond)

	heap.setMB(10)
	require.Eventually(t, func() bool { return !m.IsCritical() }, time.Second, time.Millisecond)

	m.Stop()
	m.Stop()
}

func TestStopAfterContextCancel(t *testing.T) {
	m := newTestMonitor(t, &fakeHeap{})
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked after cancel")
	}
}

func TestRestartAfterParentCancel(t *testing.T) {
	heap := &fakeHeap{}
	heap.setMB(150)
	m := newTestMonitor(t, heap)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	require.Eventually(t, m.IsCritical, time.Second, time.Millisecond)
	cancel()
	require.Eventually(t, func() bool {
		m.runMu.Lock()
		defer m.runMu.Unlock()
		return !m.running
	}, time.Second, time.Millisecond)

	heap.setMB(10)
	m.Start(context.Background())
	require.Eventually(t, func() bool { return !m.IsCritical() }, time.Second, time.Millisecond)
	m.Stop()
}
