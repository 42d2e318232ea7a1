package ingestion

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/yash/gateboard/pkg/models"
)

// RawFlight is one entry of the upstream "data" array. Every field is
// optional upstream; absent values decode to their zero value.
type RawFlight struct {
	FlightDate   string       `json:"flight_date"`
	FlightStatus string       `json:"flight_status"`
	Departure    RawEndpoint  `json:"departure"`
	Arrival      RawEndpoint  `json:"arrival"`
	Airline      RawAirline   `json:"airline"`
	Flight       RawFlightID  `json:"flight"`
	Aircraft     *RawAircraft `json:"aircraft"`
}

// RawEndpoint is the departure or arrival side of a RawFlight.
type RawEndpoint struct {
	Airport   string   `json:"airport"`
	Timezone  string   `json:"timezone"`
	IATA      string   `json:"iata"`
	ICAO      string   `json:"icao"`
	Terminal  string   `json:"terminal"`
	Gate      string   `json:"gate"`
	Baggage   string   `json:"baggage"`
	Delay     *float64 `json:"delay"`
	Scheduled string   `json:"scheduled"`
	Estimated string   `json:"estimated"`
	Actual    string   `json:"actual"`
}

// RawAirline identifies the operating carrier.
type RawAirline struct {
	Name string `json:"name"`
	IATA string `json:"iata"`
	ICAO string `json:"icao"`
}

// RawFlightID carries the flight designators.
type RawFlightID struct {
	Number string `json:"number"`
	IATA   string `json:"iata"`
	ICAO   string `json:"icao"`
}

// RawAircraft describes the equipment, when known.
type RawAircraft struct {
	Registration string `json:"registration"`
	IATA         string `json:"iata"`
	ICAO         string `json:"icao"`
}

var statusTable = map[string]models.FlightStatus{
	"scheduled": models.StatusScheduled,
	"active":    models.StatusActive,
	"landed":    models.StatusArrived,
	"delayed":   models.StatusDelayed,
	"cancelled": models.StatusCancelled,
	"diverted":  models.StatusDiverted,
}

// MapStatus converts an upstream status. Unrecognised values are scheduled.
func MapStatus(s string) models.FlightStatus {
	if st, ok := statusTable[strings.ToLower(strings.TrimSpace(s))]; ok {
		return st
	}
	return models.StatusScheduled
}

// Normalize converts upstream records into flights, defaulting missing
// fields instead of rejecting records.
func Normalize(raw []RawFlight) []models.Flight {
	out := make([]models.Flight, 0, len(raw))
	for i := range raw {
		out = append(out, normalizeOne(&raw[i]))
	}
	return out
}

func normalizeOne(r *RawFlight) models.Flight {
	number := firstNonEmpty(r.Flight.IATA, r.Flight.ICAO)
	idPrefix := number
	if number == "" {
		number, idPrefix = "Unknown", "unknown"
	}

	f := models.Flight{
		ID:           fmt.Sprintf("%s-%s", idPrefix, r.FlightDate),
		FlightNumber: number,
		Airline: models.Airline{
			Code: r.Airline.IATA,
			Name: firstNonEmpty(r.Airline.Name, "Unknown Airline"),
		},
		Origin:             endpointInfo(&r.Departure),
		Destination:        endpointInfo(&r.Arrival),
		ScheduledDeparture: parseTime(r.Departure.Scheduled),
		ActualDeparture:    parseTimePtr(r.Departure.Actual),
		ScheduledArrival:   parseTime(r.Arrival.Scheduled),
		ActualArrival:      parseTimePtr(r.Arrival.Actual),
		Gate:               r.Departure.Gate,
		Terminal:           r.Departure.Terminal,
		BaggageClaim:       r.Arrival.Baggage,
		Status:             MapStatus(r.FlightStatus),
	}
	f.Destination.Baggage = r.Arrival.Baggage
	if r.Aircraft != nil {
		f.Aircraft = r.Aircraft.IATA
	}
	if r.Departure.Delay != nil {
		if d := int(math.Round(*r.Departure.Delay)); d > 0 {
			f.Delay = &d
		}
	}
	return f
}

func endpointInfo(e *RawEndpoint) models.AirportInfo {
	return models.AirportInfo{
		Code:     e.IATA,
		Name:     e.Airport,
		City:     cityFromTimezone(e.Timezone),
		Terminal: e.Terminal,
		Gate:     e.Gate,
	}
}

// cityFromTimezone takes the second segment of an IANA zone such as
// "America/New_York".
func cityFromTimezone(tz string) string {
	parts := strings.Split(tz, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseTimePtr(s string) *time.Time {
	t := parseTime(s)
	if t.IsZero() {
		return nil
	}
	return &t
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
