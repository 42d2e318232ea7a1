package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/yash/gateboard/internal/reference"
	"github.com/yash/gateboard/pkg/models"
)

type ctxKey struct{}

// requireAirport resolves {code} and answers 404 for unknown airports.
func (s *Server) requireAirport(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		airport, ok := s.ref.Airport(code)
		if !ok {
			s.respondError(w, r, http.StatusNotFound, "unknown airport: "+code)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, airport)))
	})
}

func airportFrom(r *http.Request) *reference.Airport {
	return r.Context().Value(ctxKey{}).(*reference.Airport)
}

// AirportSummary is one entry of the airport list.
type AirportSummary struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	City      string `json:"city"`
	Country   string `json:"country"`
	Terminals int    `json:"terminals"`
	Gates     int    `json:"gates"`
	Flights   int    `json:"flights"`
}

func (s *Server) handleAirports(w http.ResponseWriter, r *http.Request) {
	airports := s.ref.Airports()
	out := make([]AirportSummary, 0, len(airports))
	for i := range airports {
		a := &airports[i]
		out = append(out, AirportSummary{
			Code:      a.Code,
			Name:      a.Name,
			City:      a.City,
			Country:   a.Country,
			Terminals: len(a.Terminals),
			Gates:     a.GateCount(),
			Flights:   s.flights.Len(a.Code),
		})
	}
	s.respond(w, r, http.StatusOK, out)
}

func (s *Server) handleAirport(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, airportFrom(r).Clone())
}

// filtersFrom reads the board filter query parameters.
func filtersFrom(r *http.Request) *models.FlightFilters {
	q := r.URL.Query()
	return &models.FlightFilters{
		Airline:     q.Get("airline"),
		Destination: q.Get("destination"),
		Origin:      q.Get("origin"),
		Status:      models.FlightStatus(q.Get("status")),
		Gate:        q.Get("gate"),
		Terminal:    q.Get("terminal"),
	}
}

func (s *Server) handleDepartures(w http.ResponseWriter, r *http.Request) {
	code := airportFrom(r).Code
	s.respond(w, r, http.StatusOK, s.query.Departures(code, filtersFrom(r)))
}

func (s *Server) handleArrivals(w http.ResponseWriter, r *http.Request) {
	code := airportFrom(r).Code
	s.respond(w, r, http.StatusOK, s.query.Arrivals(code, filtersFrom(r)))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	code := airportFrom(r).Code
	switch board := strings.ToLower(r.URL.Query().Get("board")); board {
	case "", "departures":
		s.respond(w, r, http.StatusOK, s.query.BoardStats(code, true))
	case "arrivals":
		s.respond(w, r, http.StatusOK, s.query.BoardStats(code, false))
	default:
		s.respondError(w, r, http.StatusBadRequest, "board must be departures or arrivals")
	}
}

func (s *Server) handleFlight(w http.ResponseWriter, r *http.Request) {
	code := airportFrom(r).Code
	number := chi.URLParam(r, "number")
	f, ok := s.query.FlightByNumber(number, code)
	if !ok {
		s.respondError(w, r, http.StatusNotFound, "flight not found: "+number)
		return
	}
	s.respond(w, r, http.StatusOK, f)
}

func (s *Server) handleGateSummary(w http.ResponseWriter, r *http.Request) {
	code := airportFrom(r).Code
	terminal := r.URL.Query().Get("terminal")
	if terminal != "" {
		if _, ok := airportFrom(r).Terminal(terminal); !ok {
			s.respondError(w, r, http.StatusNotFound, "unknown terminal: "+terminal)
			return
		}
	}
	s.respond(w, r, http.StatusOK, s.query.GateSummary(code, terminal))
}

func (s *Server) handleGate(w http.ResponseWriter, r *http.Request) {
	code := airportFrom(r).Code
	info := s.query.GateInfo(chi.URLParam(r, "gate"), code)
	if info == nil {
		s.respondError(w, r, http.StatusNotFound, "unknown airport: "+code)
		return
	}
	s.respond(w, r, http.StatusOK, info)
}

func (s *Server) handleGateFlights(w http.ResponseWriter, r *http.Request) {
	code := airportFrom(r).Code
	s.respond(w, r, http.StatusOK, s.query.FlightsByGate(chi.URLParam(r, "gate"), code))
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	code := airportFrom(r).Code
	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if from == "" || to == "" {
		s.respondError(w, r, http.StatusBadRequest, "from and to are required")
		return
	}
	s.respond(w, r, http.StatusOK, s.query.ConnectionInfo(from, to, code))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		s.respondError(w, r, http.StatusServiceUnavailable, "upstream refresh is disabled")
		return
	}
	res := s.refresher.Refresh(r.Context(), airportFrom(r).Code)
	s.respond(w, r, http.StatusOK, res)
}
