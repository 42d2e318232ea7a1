// Package api exposes the flight boards, gates and connections over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/yash/gateboard/internal/events"
	"github.com/yash/gateboard/internal/ingestion"
	"github.com/yash/gateboard/internal/metrics"
	"github.com/yash/gateboard/internal/query"
	"github.com/yash/gateboard/internal/reference"
	"github.com/yash/gateboard/internal/state"
)

// Version is reported by /health.
const Version = "1.0.0"

const mimeMsgpack = "application/msgpack"

// Refresher pulls an airport's list from upstream on demand.
type Refresher interface {
	Refresh(ctx context.Context, code string) ingestion.RefreshResult
}

// Streamer delivers per-airport change notifications.
type Streamer interface {
	Subscribe(ctx context.Context, code string) (<-chan events.Update, error)
}

// Option configures a Server.
type Option func(*Server)

// WithRefresher enables POST .../refresh.
func WithRefresher(r Refresher) Option {
	return func(s *Server) { s.refresher = r }
}

// WithStreamer enables GET .../stream.
func WithStreamer(st Streamer) Option {
	return func(s *Server) { s.streamer = st }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server holds the handlers' dependencies.
type Server struct {
	ref       *reference.Store
	flights   *state.Store
	query     *query.Engine
	refresher Refresher
	streamer  Streamer
	logger    *slog.Logger

	startTime time.Time
	ready     atomic.Bool
}

// New creates a server. It reports ready immediately; call SetReady(false)
// to hold traffic during startup.
func New(ref *reference.Store, flights *state.Store, engine *query.Engine, opts ...Option) *Server {
	s := &Server{
		ref:       ref,
		flights:   flights,
		query:     engine,
		logger:    slog.Default(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ready.Store(true)
	return s
}

// SetReady flips the /ready and /health status.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/live", s.handleLive)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/api/v1/airports", func(r chi.Router) {
		r.Get("/", s.handleAirports)
		r.Route("/{code}", func(r chi.Router) {
			r.Use(s.requireAirport)
			r.Get("/", s.handleAirport)
			r.Get("/departures", s.handleDepartures)
			r.Get("/arrivals", s.handleArrivals)
			r.Get("/stats", s.handleStats)
			r.Get("/flights/{number}", s.handleFlight)
			r.Get("/gates", s.handleGateSummary)
			r.Get("/gates/{gate}", s.handleGate)
			r.Get("/gates/{gate}/flights", s.handleGateFlights)
			r.Get("/connections", s.handleConnection)
			r.Post("/refresh", s.handleRefresh)
			r.Get("/stream", s.handleStream)
		})
	})

	return r
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.HTTPRequests.Inc()
		metrics.ActiveConnections.Inc()
		defer metrics.ActiveConnections.Dec()

		next.ServeHTTP(w, r)

		metrics.HTTPLatency.ObserveSince(start)
	})
}

// ---------------------------------------------------------------------------
// Health Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.startTime).String(),
		"version":   Version,
		"flights":   s.flights.Total(),
	}
	status := http.StatusOK
	if !s.ready.Load() {
		health["status"] = "starting"
		status = http.StatusServiceUnavailable
	}
	s.respond(w, r, status, health)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready.Load() {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("not ready"))
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("alive"))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.TrackedFlights.Set(float64(s.flights.Total()))

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.Write([]byte(metrics.Default().Export()))
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

func wantsMsgpack(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), mimeMsgpack)
}

// respond writes v as msgpack when the client asks for it, JSON otherwise.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if wantsMsgpack(r) {
		w.Header().Set("Content-Type", mimeMsgpack)
		w.WriteHeader(status)
		enc := msgpack.NewEncoder(w)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(v); err != nil {
			s.logger.Warn("encoding msgpack response", "path", r.URL.Path, "error", err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encoding json response", "path", r.URL.Path, "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.respond(w, r, status, errorBody{Error: msg})
}
