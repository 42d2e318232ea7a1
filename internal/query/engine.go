package query

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/yash/gateboard/internal/metrics"
	"github.com/yash/gateboard/internal/reference"
	"github.com/yash/gateboard/internal/state"
	"github.com/yash/gateboard/pkg/models"
)

// ---------------------------------------------------------------------------
// Result Pool - scratch slices reused across board queries
// ---------------------------------------------------------------------------

type flightRefs []*models.Flight

var flightRefPool = sync.Pool{
	New: func() interface{} {
		s := make(flightRefs, 0, 64)
		return &s
	},
}

func acquireRefs() *flightRefs {
	return flightRefPool.Get().(*flightRefs)
}

func releaseRefs(s *flightRefs) {
	clear(*s)
	*s = (*s)[:0]
	flightRefPool.Put(s)
}

// ---------------------------------------------------------------------------
// Connection estimate constants
// ---------------------------------------------------------------------------

const (
	metersPerDegree      = 111000.0
	walkingMetersPerMin  = 80.0
	minWalkingMinutes    = 5
	transferMinutes      = 15
	transferMeters       = 1000.0
	sameTerminalMCT      = 45
	crossTerminalMCT     = 60
	highRiskAboveMinutes = 20
	mediumRiskAboveMins  = 12

	nextFlightsLimit = 3
)

// DefaultConnection is returned when either gate cannot be resolved.
func DefaultConnection(from, to string) models.ConnectionInfo {
	return models.ConnectionInfo{
		FromGate:              from,
		ToGate:                to,
		WalkingTime:           10,
		Distance:              500,
		Path:                  [][2]float64{},
		MinimumConnectionTime: sameTerminalMCT,
		RiskLevel:             models.RiskLow,
	}
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

type connKey struct {
	code, from, to string
}

// Engine answers read-only questions about boards, gates and connections.
// Unknown airports never produce errors: list queries return empty slices
// and lookups report absence.
type Engine struct {
	flights *state.Store
	ref     *reference.Store
	conns   *lru.Cache[connKey, models.ConnectionInfo]
}

// New creates an engine. cacheSize bounds the connection estimate cache; a
// non-positive size disables it.
func New(flights *state.Store, ref *reference.Store, cacheSize int) *Engine {
	e := &Engine{flights: flights, ref: ref}
	if cacheSize > 0 {
		// Only fails for a non-positive size.
		e.conns, _ = lru.New[connKey, models.ConnectionInfo](cacheSize)
	}
	return e
}

func observe(start time.Time) {
	metrics.QueryRequests.Inc()
	metrics.QueryLatency.ObserveSince(start)
}

func upper(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// collect copies the flights of code accepted by keep, ordered by key.
func (e *Engine) collect(code string, keep func(*models.Flight) bool, key func(*models.Flight) time.Time) []models.Flight {
	refs := acquireRefs()
	defer releaseRefs(refs)

	var out []models.Flight
	e.flights.View(code, func(fl []models.Flight) {
		for i := range fl {
			if keep(&fl[i]) {
				*refs = append(*refs, &fl[i])
			}
		}
		if key != nil {
			slices.SortStableFunc(*refs, func(a, b *models.Flight) int {
				return key(a).Compare(key(b))
			})
		}
		out = make([]models.Flight, len(*refs))
		for i, f := range *refs {
			out[i] = f.Clone()
		}
	})
	return out
}

// Departures returns flights leaving code that match filters, ordered by
// scheduled departure.
func (e *Engine) Departures(code string, filters *models.FlightFilters) []models.Flight {
	defer observe(time.Now())
	code = upper(code)
	return e.collect(code,
		func(f *models.Flight) bool { return f.Origin.Code == code && filters.Match(f) },
		func(f *models.Flight) time.Time { return f.ScheduledDeparture })
}

// Arrivals returns flights landing at code that match filters, ordered by
// scheduled arrival.
func (e *Engine) Arrivals(code string, filters *models.FlightFilters) []models.Flight {
	defer observe(time.Now())
	code = upper(code)
	return e.collect(code,
		func(f *models.Flight) bool { return f.Destination.Code == code && filters.Match(f) },
		func(f *models.Flight) time.Time { return f.ScheduledArrival })
}

// FlightByNumber finds a flight in code's list by number, ignoring case.
func (e *Engine) FlightByNumber(number, code string) (models.Flight, bool) {
	defer observe(time.Now())

	var (
		found models.Flight
		ok    bool
	)
	e.flights.View(code, func(fl []models.Flight) {
		for i := range fl {
			if strings.EqualFold(fl[i].FlightNumber, number) {
				found, ok = fl[i].Clone(), true
				return
			}
		}
	})
	return found, ok
}

// FlightsByGate returns every flight in code's list assigned to gate, in
// list order. Gate labels compare case-insensitively.
func (e *Engine) FlightsByGate(gate, code string) []models.Flight {
	defer observe(time.Now())
	return e.collect(code, func(f *models.Flight) bool { return strings.EqualFold(f.Gate, gate) }, nil)
}

// GateInfo aggregates the gate's static topology with the flights using it.
// It returns nil for an unknown airport.
func (e *Engine) GateInfo(gate, code string) *models.GateInfo {
	airport, ok := e.ref.Airport(code)
	if !ok {
		return nil
	}
	flights := e.FlightsByGate(gate, code)

	info := &models.GateInfo{
		Gate:        gate,
		Status:      models.GateAvailable,
		NextFlights: []models.Flight{},
		Amenities:   []string{},
	}
	if ref, found := airport.FindGate(gate); found {
		info.Gate = ref.Gate.Number
		info.Terminal = ref.TerminalName
		info.Status = ref.Gate.Status
		if t, ok := airport.Terminal(ref.TerminalID); ok {
			info.Amenities = terminalFeatures(t)
		}
	}

	for i := range flights {
		if flights[i].Status == models.StatusBoarding || flights[i].Status == models.StatusActive {
			current := flights[i]
			info.CurrentFlight = &current
			break
		}
	}

	for _, f := range flights {
		if f.Status == models.StatusScheduled {
			info.NextFlights = append(info.NextFlights, f)
		}
	}
	slices.SortStableFunc(info.NextFlights, func(a, b models.Flight) int {
		return a.ScheduledDeparture.Compare(b.ScheduledDeparture)
	})
	if len(info.NextFlights) > nextFlightsLimit {
		info.NextFlights = info.NextFlights[:nextFlightsLimit]
	}
	return info
}

// terminalFeatures lists the distinct map feature names on a terminal's
// floors, ordered by floor level.
func terminalFeatures(t *reference.Terminal) []string {
	floors := slices.Clone(t.Floors)
	slices.SortStableFunc(floors, func(a, b reference.Floor) int { return cmp.Compare(a.Level, b.Level) })

	seen := make(map[string]bool)
	names := []string{}
	for _, fl := range floors {
		for _, feat := range fl.Features {
			if !seen[feat.Name] {
				seen[feat.Name] = true
				names = append(names, feat.Name)
			}
		}
	}
	return names
}

// ConnectionInfo estimates the walk between two gates of code. Unresolved
// gates or airports yield DefaultConnection.
func (e *Engine) ConnectionInfo(from, to, code string) models.ConnectionInfo {
	defer observe(time.Now())

	key := connKey{code: upper(code), from: from, to: to}
	if e.conns != nil {
		if c, ok := e.conns.Get(key); ok {
			return withPath(c)
		}
	}

	airport, ok := e.ref.Airport(code)
	if !ok {
		return DefaultConnection(from, to)
	}
	src, okFrom := airport.FindGate(from)
	dst, okTo := airport.FindGate(to)
	if !okFrom || !okTo {
		return DefaultConnection(from, to)
	}

	c := estimate(from, to, src, dst)
	if e.conns != nil {
		e.conns.Add(key, c)
	}
	return withPath(c)
}

// PurgeConnections empties the connection cache and reports how many
// entries it held.
func (e *Engine) PurgeConnections() int {
	if e.conns == nil {
		return 0
	}
	n := e.conns.Len()
	e.conns.Purge()
	return n
}

// withPath detaches the cached path slice from the returned value.
func withPath(c models.ConnectionInfo) models.ConnectionInfo {
	c.Path = slices.Clone(c.Path)
	return c
}

func estimate(from, to string, src, dst reference.GateRef) models.ConnectionInfo {
	a, b := src.Gate.Coordinates, dst.Gate.Coordinates
	distance := math.Hypot(b.Lon()-a.Lon(), b.Lat()-a.Lat()) * metersPerDegree

	// Identical coordinates still cost the minimum walk.
	walking := max(minWalkingMinutes, int(math.Ceil(distance/walkingMetersPerMin)))
	mct := sameTerminalMCT
	if src.TerminalID != dst.TerminalID {
		walking += transferMinutes
		distance += transferMeters
		mct = crossTerminalMCT
	}

	return models.ConnectionInfo{
		FromGate:              from,
		ToGate:                to,
		WalkingTime:           walking,
		Distance:              distance,
		Path:                  [][2]float64{a, b},
		MinimumConnectionTime: mct,
		RiskLevel:             riskFor(walking),
	}
}

func riskFor(walking int) models.RiskLevel {
	switch {
	case walking > highRiskAboveMinutes:
		return models.RiskHigh
	case walking > mediumRiskAboveMins:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// BoardStats summarises the departures (or arrivals) board of code.
func (e *Engine) BoardStats(code string, departures bool) models.BoardStats {
	var board []models.Flight
	if departures {
		board = e.Departures(code, nil)
	} else {
		board = e.Arrivals(code, nil)
	}

	var (
		stats         models.BoardStats
		delaySum      int
		delayedWithBy int
	)
	stats.Total = len(board)
	for i := range board {
		switch board[i].Status {
		case models.StatusOnTime, models.StatusDeparted, models.StatusArrived:
			stats.OnTime++
		case models.StatusDelayed:
			stats.Delayed++
		case models.StatusCancelled:
			stats.Cancelled++
		}
		if d := board[i].DelayMinutes(); d > 0 {
			delaySum += d
			delayedWithBy++
		}
	}
	if stats.Total > 0 {
		stats.OnTimePercent = int(math.Round(float64(stats.OnTime) * 100 / float64(stats.Total)))
	}
	if delayedWithBy > 0 {
		stats.AverageDelay = float64(delaySum) / float64(delayedWithBy)
	}
	return stats
}

// GateSummary counts the gates of code by static status, limited to one
// terminal when terminalID is set. Unknown airports yield a zero summary.
func (e *Engine) GateSummary(code, terminalID string) models.GateSummary {
	var sum models.GateSummary
	airport, ok := e.ref.Airport(code)
	if !ok {
		return sum
	}
	for _, t := range airport.Terminals {
		if terminalID != "" && t.ID != terminalID {
			continue
		}
		for _, g := range t.Gates {
			sum.Total++
			switch g.Status {
			case models.GateBoarding:
				sum.Boarding++
			case models.GateOccupied:
				sum.Occupied++
			case models.GateAvailable:
				sum.Available++
			case models.GateClosed:
				sum.Closed++
			}
		}
	}
	return sum
}
