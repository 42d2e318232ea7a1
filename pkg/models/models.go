package models

import (
	"strings"
	"time"
)

// FlightStatus is the operational state shown on flight boards.
type FlightStatus string

const (
	StatusScheduled FlightStatus = "scheduled"
	StatusActive    FlightStatus = "active"
	StatusLanded    FlightStatus = "landed"
	StatusDelayed   FlightStatus = "delayed"
	StatusCancelled FlightStatus = "cancelled"
	StatusDiverted  FlightStatus = "diverted"
	StatusBoarding  FlightStatus = "boarding"
	StatusDeparted  FlightStatus = "departed"
	StatusArrived   FlightStatus = "arrived"
	StatusOnTime    FlightStatus = "on-time"
)

// AllStatuses lists every FlightStatus value.
var AllStatuses = []FlightStatus{
	StatusScheduled, StatusActive, StatusLanded, StatusDelayed, StatusCancelled,
	StatusDiverted, StatusBoarding, StatusDeparted, StatusArrived, StatusOnTime,
}

// Valid reports whether s is a known status.
func (s FlightStatus) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Airline identifies the operating carrier.
type Airline struct {
	Code string `json:"code" msgpack:"code"`
	Name string `json:"name" msgpack:"name"`
}

// AirportInfo is one end of a flight.
type AirportInfo struct {
	Code     string `json:"code" msgpack:"code"`
	Name     string `json:"name" msgpack:"name"`
	City     string `json:"city" msgpack:"city"`
	Country  string `json:"country" msgpack:"country"`
	Terminal string `json:"terminal,omitempty" msgpack:"terminal,omitempty"`
	Gate     string `json:"gate,omitempty" msgpack:"gate,omitempty"`
	Baggage  string `json:"baggage,omitempty" msgpack:"baggage,omitempty"`
}

// Flight is a single departure or arrival held in the state store.
//
// ActualDeparture, ActualArrival and Delay are nil unless the flight runs
// off schedule. Delay is never zero.
type Flight struct {
	ID                 string       `json:"id" msgpack:"id"`
	FlightNumber       string       `json:"flightNumber" msgpack:"flightNumber"`
	Airline            Airline      `json:"airline" msgpack:"airline"`
	Origin             AirportInfo  `json:"origin" msgpack:"origin"`
	Destination        AirportInfo  `json:"destination" msgpack:"destination"`
	ScheduledDeparture time.Time    `json:"scheduledDeparture" msgpack:"scheduledDeparture"`
	ActualDeparture    *time.Time   `json:"actualDeparture,omitempty" msgpack:"actualDeparture,omitempty"`
	ScheduledArrival   time.Time    `json:"scheduledArrival" msgpack:"scheduledArrival"`
	ActualArrival      *time.Time   `json:"actualArrival,omitempty" msgpack:"actualArrival,omitempty"`
	Gate               string       `json:"gate,omitempty" msgpack:"gate,omitempty"`
	Terminal           string       `json:"terminal,omitempty" msgpack:"terminal,omitempty"`
	BaggageClaim       string       `json:"baggageClaim,omitempty" msgpack:"baggageClaim,omitempty"`
	Status             FlightStatus `json:"status" msgpack:"status"`
	Aircraft           string       `json:"aircraft,omitempty" msgpack:"aircraft,omitempty"`
	Delay              *int         `json:"delay,omitempty" msgpack:"delay,omitempty"`
}

// DelayMinutes returns the delay or 0 when the flight is on schedule.
func (f *Flight) DelayMinutes() int {
	if f.Delay == nil {
		return 0
	}
	return *f.Delay
}

// Clone returns a copy of f that shares no pointers with it.
func (f Flight) Clone() Flight {
	if f.ActualDeparture != nil {
		t := *f.ActualDeparture
		f.ActualDeparture = &t
	}
	if f.ActualArrival != nil {
		t := *f.ActualArrival
		f.ActualArrival = &t
	}
	if f.Delay != nil {
		d := *f.Delay
		f.Delay = &d
	}
	return f
}

// CloneFlights deep-copies a flight list. A nil input yields an empty list.
func CloneFlights(flights []Flight) []Flight {
	out := make([]Flight, len(flights))
	for i := range flights {
		out[i] = flights[i].Clone()
	}
	return out
}

// FlightFilters narrows board queries. Empty fields impose no constraint;
// set fields are matched as case-insensitive substrings and ANDed.
type FlightFilters struct {
	Airline     string       `json:"airline,omitempty"`
	Destination string       `json:"destination,omitempty"`
	Origin      string       `json:"origin,omitempty"`
	Status      FlightStatus `json:"status,omitempty"`
	Gate        string       `json:"gate,omitempty"`
	Terminal    string       `json:"terminal,omitempty"`
}

// Empty reports whether no filter field is set.
func (ff *FlightFilters) Empty() bool {
	return ff == nil || *ff == FlightFilters{}
}

// Match applies the filters to f.
func (ff *FlightFilters) Match(f *Flight) bool {
	if ff.Empty() {
		return true
	}
	if ff.Airline != "" && !containsAny(ff.Airline, f.Airline.Code, f.Airline.Name) {
		return false
	}
	if ff.Destination != "" && !containsAny(ff.Destination, f.Destination.City, f.Destination.Code) {
		return false
	}
	if ff.Origin != "" && !containsAny(ff.Origin, f.Origin.City, f.Origin.Code) {
		return false
	}
	if ff.Status != "" && !containsAny(string(ff.Status), string(f.Status)) {
		return false
	}
	if ff.Gate != "" && !containsAny(ff.Gate, f.Gate) {
		return false
	}
	if ff.Terminal != "" && !containsAny(ff.Terminal, f.Terminal) {
		return false
	}
	return true
}

func containsAny(needle string, fields ...string) bool {
	needle = strings.ToLower(needle)
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

// GateStatus is the static operational state of a gate.
type GateStatus string

const (
	GateAvailable GateStatus = "available"
	GateOccupied  GateStatus = "occupied"
	GateBoarding  GateStatus = "boarding"
	GateClosed    GateStatus = "closed"
)

// Valid reports whether s is a known gate status.
func (s GateStatus) Valid() bool {
	switch s {
	case GateAvailable, GateOccupied, GateBoarding, GateClosed:
		return true
	}
	return false
}

// GateInfo aggregates what is happening at one gate.
type GateInfo struct {
	Gate          string     `json:"gate" msgpack:"gate"`
	Terminal      string     `json:"terminal" msgpack:"terminal"`
	CurrentFlight *Flight    `json:"currentFlight,omitempty" msgpack:"currentFlight,omitempty"`
	NextFlights   []Flight   `json:"nextFlights" msgpack:"nextFlights"`
	Status        GateStatus `json:"status" msgpack:"status"`
	Amenities     []string   `json:"amenities" msgpack:"amenities"`
}

// RiskLevel is a coarse estimate of whether a connection can be made.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ConnectionInfo estimates a walking transfer between two gates.
// WalkingTime and MinimumConnectionTime are minutes, Distance is meters.
type ConnectionInfo struct {
	FromGate              string       `json:"fromGate" msgpack:"fromGate"`
	ToGate                string       `json:"toGate" msgpack:"toGate"`
	WalkingTime           int          `json:"walkingTime" msgpack:"walkingTime"`
	Distance              float64      `json:"distance" msgpack:"distance"`
	Path                  [][2]float64 `json:"path" msgpack:"path"`
	MinimumConnectionTime int          `json:"minimumConnectionTime" msgpack:"minimumConnectionTime"`
	RiskLevel             RiskLevel    `json:"riskLevel" msgpack:"riskLevel"`
}

// BoardStats summarises a departures or arrivals board.
type BoardStats struct {
	Total         int     `json:"total" msgpack:"total"`
	OnTime        int     `json:"onTime" msgpack:"onTime"`
	Delayed       int     `json:"delayed" msgpack:"delayed"`
	Cancelled     int     `json:"cancelled" msgpack:"cancelled"`
	OnTimePercent int     `json:"onTimePercent" msgpack:"onTimePercent"`
	AverageDelay  float64 `json:"avgDelay" msgpack:"avgDelay"`
}

// GateSummary counts gates by static status.
type GateSummary struct {
	Total     int `json:"total" msgpack:"total"`
	Boarding  int `json:"boarding" msgpack:"boarding"`
	Occupied  int `json:"occupied" msgpack:"occupied"`
	Available int `json:"available" msgpack:"available"`
	Closed    int `json:"closed" msgpack:"closed"`
}
