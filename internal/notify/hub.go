// Package notify fans airport updates out to registered callbacks.
package notify

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/yash/gateboard/internal/metrics"
	"github.com/yash/gateboard/pkg/models"
)

// Callback receives the full flight list of an airport after a change.
type Callback = func(flights []models.Flight, code string)

// VersionedCallback also receives the list's store version, 0 when the
// publisher did not supply one.
type VersionedCallback = func(flights []models.Flight, code string, version uint64)

type subscriber struct {
	id     string
	cb     VersionedCallback
	active atomic.Bool
}

// airport serialises deliveries for one code and remembers the newest
// version delivered.
type airport struct {
	mu   sync.Mutex
	last uint64
}

// Hub is a synchronous publish/subscribe registry. Callbacks run on the
// publisher's goroutine in subscription order. Deliveries for one airport
// never interleave, and versioned lists older than one already delivered
// are dropped, so subscribers see each airport's versions strictly
// increasing.
type Hub struct {
	mu       sync.Mutex
	subs     []*subscriber
	airports map[string]*airport
	logger   *slog.Logger
}

// NewHub creates an empty hub. A nil logger means slog.Default().
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{airports: make(map[string]*airport), logger: logger}
}

// Subscribe registers cb and returns a handle that removes it. The handle
// may be called any number of times.
func (h *Hub) Subscribe(cb Callback) (unsubscribe func()) {
	return h.SubscribeVersioned(func(flights []models.Flight, code string, _ uint64) {
		cb(flights, code)
	})
}

// SubscribeVersioned is Subscribe for callbacks that track versions.
func (h *Hub) SubscribeVersioned(cb VersionedCallback) (unsubscribe func()) {
	s := &subscriber{id: uuid.NewString(), cb: cb}
	s.active.Store(true)

	h.mu.Lock()
	h.subs = append(h.subs, s)
	h.mu.Unlock()
	metrics.Subscribers.Inc()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(s) })
	}
}

func (h *Hub) remove(s *subscriber) {
	s.active.Store(false)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, cur := range h.subs {
		if cur == s {
			// Copy so in-flight Publish snapshots keep their slice intact.
			next := make([]*subscriber, 0, len(h.subs)-1)
			next = append(next, h.subs[:i]...)
			h.subs = append(next, h.subs[i+1:]...)
			metrics.Subscribers.Dec()
			return
		}
	}
}

// Publish invokes every active callback with flights. A panicking callback
// is logged and skipped; the rest still run.
func (h *Hub) Publish(flights []models.Flight, code string) {
	h.PublishVersion(flights, code, 0)
}

// PublishVersion is Publish for a list committed to the store as version.
// A version at or below the newest one already delivered for code is
// dropped. Callbacks must not publish for the same airport.
func (h *Hub) PublishVersion(flights []models.Flight, code string, version uint64) {
	a := h.airport(code)
	a.mu.Lock()
	defer a.mu.Unlock()

	if version != 0 {
		if version <= a.last {
			metrics.StaleNotifications.Inc()
			h.logger.Debug("dropping stale notification",
				"airport", code,
				"version", version,
				"delivered", a.last)
			return
		}
		a.last = version
	}

	h.mu.Lock()
	subs := h.subs
	h.mu.Unlock()

	for _, s := range subs {
		// Unsubscribed while an earlier callback ran.
		if !s.active.Load() {
			continue
		}
		h.deliver(s, flights, code, version)
	}
}

func (h *Hub) airport(code string) *airport {
	code = strings.ToUpper(strings.TrimSpace(code))
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.airports[code]
	if !ok {
		a = &airport{}
		h.airports[code] = a
	}
	return a
}

func (h *Hub) deliver(s *subscriber, flights []models.Flight, code string, version uint64) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SubscriberPanics.Inc()
			h.logger.Warn("subscriber panicked",
				"subscriber", s.id,
				"airport", code,
				"error", fmt.Sprint(r))
		}
	}()
	metrics.Notifications.Inc()
	s.cb(flights, code, version)
}

// Len returns the number of registered callbacks.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
