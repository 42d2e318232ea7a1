package simulation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yash/gateboard/internal/notify"
	"github.com/yash/gateboard/internal/state"
	"github.com/yash/gateboard/pkg/models"
)

// scriptedRand replays fixed draws. Once exhausted Float64 returns 0.99 and
// IntN returns 0.
type scriptedRand struct {
	mu     sync.Mutex
	floats []float64
	ints   []int
}

func (r *scriptedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.floats) == 0 {
		return 0.99
	}
	v := r.floats[0]
	r.floats = r.floats[1:]
	return v
}

func (r *scriptedRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ints) == 0 {
		return 0
	}
	v := r.ints[0] % n
	r.ints = r.ints[1:]
	return v
}

type publication struct {
	code    string
	flights []models.Flight
	version uint64
}

type recorder struct {
	mu   sync.Mutex
	pubs []publication
}

func (r *recorder) PublishVersion(flights []models.Flight, code string, version uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pubs = append(r.pubs, publication{code: code, flights: flights, version: version})
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pubs)
}

func boardOf(n int) []models.Flight {
	at := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	out := make([]models.Flight, n)
	for i := range out {
		out[i] = models.Flight{
			ID:                 string(rune('a' + i)),
			FlightNumber:       "DL" + string(rune('0'+i)),
			Status:             models.StatusScheduled,
			Gate:               "T1",
			Terminal:           "Domestic Terminal",
			ScheduledDeparture: at.Add(time.Duration(i) * time.Minute),
			ScheduledArrival:   at.Add(3 * time.Hour),
		}
	}
	return out
}

func TestTickMutatesExactlyTheDrawnFlights(t *testing.T) {
	store := state.New()
	store.Replace("ATL", boardOf(4))
	before := store.Get("ATL")

	rng := &scriptedRand{
		floats: []float64{0.05, 0.5, 0.09, 0.1},
		ints:   []int{2, 3},
	}
	rec := &recorder{}
	u := NewUpdater(store, rng, rec, UpdaterConfig{Interval: time.Hour, MutationProbability: 0.1})

	u.Tick()

	after := store.Get("ATL")
	require.Len(t, after, 4)
	assert.Equal(t, models.StatusDelayed, after[0].Status)
	assert.Equal(t, models.StatusScheduled, after[1].Status)
	assert.Equal(t, models.StatusCancelled, after[2].Status)
	assert.Equal(t, models.StatusScheduled, after[3].Status)

	for i := range after {
		want := before[i]
		want.Status = after[i].Status
		assert.Equal(t, want, after[i], "only status may change")
	}

	require.Equal(t, 1, rec.count())
	assert.Equal(t, "ATL", rec.pubs[0].code)
	assert.Equal(t, after, rec.pubs[0].flights)
	assert.Equal(t, uint64(2), rec.pubs[0].version)
	assert.Equal(t, uint64(2), store.Version("ATL"))

	stats := u.Stats()
	assert.Equal(t, int64(1), stats.Ticks)
	assert.Equal(t, int64(2), stats.Mutations)
	assert.False(t, stats.LastTick.IsZero())
}

func TestTickPublishesEveryAirportInOrder(t *testing.T) {
	store := state.New()
	store.Replace("LHR", boardOf(2))
	store.Replace("ATL", boardOf(3))

	rec := &recorder{}
	u := NewUpdater(store, NewRand(5), rec, UpdaterConfig{Interval: time.Hour, MutationProbability: 0})
	u.Tick()

	require.Equal(t, 2, rec.count())
	assert.Equal(t, "LHR", rec.pubs[0].code)
	assert.Equal(t, "ATL", rec.pubs[1].code)
	assert.Equal(t, int64(0), u.Stats().Mutations)
}

func TestTickWithNilPublisher(t *testing.T) {
	store := state.New()
	store.Replace("ATL", boardOf(2))

	u := NewUpdater(store, NewRand(5), nil, UpdaterConfig{Interval: time.Hour, MutationProbability: 1})
	assert.NotPanics(t, u.Tick)
	assert.Equal(t, int64(2), u.Stats().Mutations)
}

func TestStartStop(t *testing.T) {
	store := state.New()
	store.Replace("ATL", boardOf(3))
	rec := &recorder{}
	u := NewUpdater(store, NewRand(11), rec, UpdaterConfig{Interval: 5 * time.Millisecond, MutationProbability: 0.5})

	require.NoError(t, u.Start(context.Background()))
	assert.ErrorIs(t, u.Start(context.Background()), ErrAlreadyRunning)
	assert.True(t, u.IsRunning())

	assert.Eventually(t, func() bool { return rec.count() >= 2 }, time.Second, 5*time.Millisecond)

	u.Stop()
	u.Stop()
	assert.False(t, u.IsRunning())

	// No notification may arrive once Stop has returned.
	n := rec.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, rec.count())

	// The loop can be restarted.
	require.NoError(t, u.Start(context.Background()))
	u.Stop()
}

func TestStopOnCancelledContext(t *testing.T) {
	store := state.New()
	u := NewUpdater(store, NewRand(1), nil, UpdaterConfig{Interval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, u.Start(ctx))
	cancel()

	done := make(chan struct{})
	go func() {
		u.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestDefaultUpdaterConfig(t *testing.T) {
	cfg := DefaultUpdaterConfig()
	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.InDelta(t, 0.1, cfg.MutationProbability, 1e-9)
	assert.Equal(t, GeneratedStatuses, cfg.Statuses)
}

// interleavedWriter replaces the board from a second writer after the
// updater has stored its tick but before the tick is published.
type interleavedWriter struct {
	hub   *notify.Hub
	store *state.Store
	live  []models.Flight
	once  sync.Once
}

func (w *interleavedWriter) PublishVersion(flights []models.Flight, code string, version uint64) {
	w.once.Do(func() {
		v := w.store.Replace(code, w.live)
		w.hub.PublishVersion(w.store.Get(code), code, v)
	})
	w.hub.PublishVersion(flights, code, version)
}

func TestSubscribersEndOnStoredListWhenWritersInterleave(t *testing.T) {
	store := state.New()
	store.Replace("ATL", boardOf(4))

	live := boardOf(2)
	live[0].Status = models.StatusDeparted
	live[1].Status = models.StatusDeparted

	hub := notify.NewHub(nil)
	var (
		last     []models.Flight
		versions []uint64
	)
	hub.SubscribeVersioned(func(flights []models.Flight, _ string, version uint64) {
		last = flights
		versions = append(versions, version)
	})

	w := &interleavedWriter{hub: hub, store: store, live: live}
	u := NewUpdater(store, NewRand(3), w, UpdaterConfig{Interval: time.Hour, MutationProbability: 1})
	u.Tick()

	assert.Equal(t, uint64(3), store.Version("ATL"))
	assert.Equal(t, []uint64{3}, versions)
	assert.Equal(t, store.Get("ATL"), last)
}

func TestRestartAfterParentCancel(t *testing.T) {
	store := state.New()
	store.Replace("ATL", boardOf(2))
	u := NewUpdater(store, NewRand(2), nil, UpdaterConfig{Interval: time.Millisecond, MutationProbability: 0})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, u.Start(ctx))
	cancel()
	require.Eventually(t, func() bool { return !u.IsRunning() }, time.Second, time.Millisecond)

	require.NoError(t, u.Start(context.Background()))
	assert.True(t, u.IsRunning())
	u.Stop()
	assert.False(t, u.IsRunning())
}
