// Package simulation produces synthetic flight data and keeps it moving:
// the Generator builds each airport's initial board and the Updater mutates
// statuses on a timer.
package simulation

import (
	"fmt"
	"slices"
	"time"

	"github.com/yash/gateboard/internal/reference"
	"github.com/yash/gateboard/pkg/models"
)

const (
	minFlightMinutes = 120
	maxFlightMinutes = 720
	maxDelayMinutes  = 120
	scheduleWindow   = 24 * time.Hour
)

var airlines = []models.Airline{
	{Code: "DL", Name: "Delta Air Lines"},
	{Code: "AA", Name: "American Airlines"},
	{Code: "UA", Name: "United Airlines"},
	{Code: "BA", Name: "British Airways"},
	{Code: "LH", Name: "Lufthansa"},
	{Code: "AF", Name: "Air France"},
	{Code: "KL", Name: "KLM Royal Dutch Airlines"},
	{Code: "EK", Name: "Emirates"},
	{Code: "SQ", Name: "Singapore Airlines"},
	{Code: "VS", Name: "Virgin Atlantic"},
	{Code: "IB", Name: "Iberia"},
	{Code: "LX", Name: "SWISS"},
	{Code: "OS", Name: "Austrian Airlines"},
	{Code: "AY", Name: "Finnair"},
	{Code: "EI", Name: "Aer Lingus"},
}

var worldAirports = []models.AirportInfo{
	{Code: "JFK", Name: "John F. Kennedy International Airport", City: "New York", Country: "USA"},
	{Code: "LAX", Name: "Los Angeles International Airport", City: "Los Angeles", Country: "USA"},
	{Code: "ORD", Name: "O'Hare International Airport", City: "Chicago", Country: "USA"},
	{Code: "MIA", Name: "Miami International Airport", City: "Miami", Country: "USA"},
	{Code: "SFO", Name: "San Francisco International Airport", City: "San Francisco", Country: "USA"},
	{Code: "DFW", Name: "Dallas/Fort Worth International Airport", City: "Dallas", Country: "USA"},
	{Code: "DEN", Name: "Denver International Airport", City: "Denver", Country: "USA"},
	{Code: "SEA", Name: "Seattle-Tacoma International Airport", City: "Seattle", Country: "USA"},
	{Code: "BOS", Name: "Boston Logan International Airport", City: "Boston", Country: "USA"},
	{Code: "LAS", Name: "Harry Reid International Airport", City: "Las Vegas", Country: "USA"},
	{Code: "LHR", Name: "London Heathrow Airport", City: "London", Country: "UK"},
	{Code: "CDG", Name: "Charles de Gaulle Airport", City: "Paris", Country: "France"},
	{Code: "FRA", Name: "Frankfurt Airport", City: "Frankfurt", Country: "Germany"},
	{Code: "AMS", Name: "Amsterdam Airport Schiphol", City: "Amsterdam", Country: "Netherlands"},
	{Code: "MAD", Name: "Adolfo Suarez Madrid-Barajas Airport", City: "Madrid", Country: "Spain"},
	{Code: "FCO", Name: "Leonardo da Vinci International Airport", City: "Rome", Country: "Italy"},
	{Code: "MUC", Name: "Munich Airport", City: "Munich", Country: "Germany"},
	{Code: "ZRH", Name: "Zurich Airport", City: "Zurich", Country: "Switzerland"},
	{Code: "VIE", Name: "Vienna International Airport", City: "Vienna", Country: "Austria"},
	{Code: "BRU", Name: "Brussels Airport", City: "Brussels", Country: "Belgium"},
	{Code: "DXB", Name: "Dubai International Airport", City: "Dubai", Country: "UAE"},
	{Code: "SIN", Name: "Singapore Changi Airport", City: "Singapore", Country: "Singapore"},
	{Code: "HKG", Name: "Hong Kong International Airport", City: "Hong Kong", Country: "China"},
	{Code: "NRT", Name: "Narita International Airport", City: "Tokyo", Country: "Japan"},
	{Code: "ICN", Name: "Incheon International Airport", City: "Seoul", Country: "South Korea"},
	{Code: "BKK", Name: "Suvarnabhumi Airport", City: "Bangkok", Country: "Thailand"},
	{Code: "SYD", Name: "Sydney Kingsford Smith Airport", City: "Sydney", Country: "Australia"},
	{Code: "AKL", Name: "Auckland Airport", City: "Auckland", Country: "New Zealand"},
	{Code: "GRU", Name: "Sao Paulo/Guarulhos International Airport", City: "Sao Paulo", Country: "Brazil"},
	{Code: "EZE", Name: "Ministro Pistarini International Airport", City: "Buenos Aires", Country: "Argentina"},
}

// GeneratedStatuses are the statuses drawn for synthetic flights, both at
// generation time and by the update loop.
var GeneratedStatuses = []models.FlightStatus{
	models.StatusScheduled,
	models.StatusActive,
	models.StatusDelayed,
	models.StatusCancelled,
	models.StatusBoarding,
	models.StatusDeparted,
	models.StatusArrived,
	models.StatusOnTime,
}

var aircraftTypes = []string{
	"Boeing 737-800",
	"Boeing 777-300ER",
	"Boeing 787-9",
	"Airbus A320",
	"Airbus A321",
	"Airbus A330-300",
	"Airbus A350-900",
	"Airbus A380-800",
}

// GeneratorConfig sizes each generated board.
type GeneratorConfig struct {
	Departures       int
	Arrivals         int
	DelayProbability float64
}

// DefaultGeneratorConfig returns the demo board sizes.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Departures:       40,
		Arrivals:         35,
		DelayProbability: 0.3,
	}
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithClock overrides the time source used for schedules.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

// Generator builds synthetic flight boards from the reference topology.
type Generator struct {
	ref    *reference.Store
	rng    Rand
	config GeneratorConfig
	now    func() time.Time
}

// NewGenerator creates a generator drawing from rng.
func NewGenerator(ref *reference.Store, rng Rand, cfg GeneratorConfig, opts ...GeneratorOption) *Generator {
	g := &Generator{
		ref:    ref,
		rng:    rng,
		config: cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns departures and arrivals for code sorted by scheduled
// departure. Unknown codes yield an empty list.
func (g *Generator) Generate(code string) []models.Flight {
	airport, ok := g.ref.Airport(code)
	if !ok {
		return []models.Flight{}
	}

	terminals := make([]*reference.Terminal, 0, len(airport.Terminals))
	for i := range airport.Terminals {
		if len(airport.Terminals[i].Gates) > 0 {
			terminals = append(terminals, &airport.Terminals[i])
		}
	}
	if len(terminals) == 0 {
		return []models.Flight{}
	}

	remote := make([]models.AirportInfo, 0, len(worldAirports))
	for _, a := range worldAirports {
		if a.Code != airport.Code {
			remote = append(remote, a)
		}
	}

	now := g.now().UTC().Truncate(time.Second)
	flights := make([]models.Flight, 0, g.config.Departures+g.config.Arrivals)

	for i := 0; i < g.config.Departures; i++ {
		f := g.baseFlight(remote)
		f.ID = fmt.Sprintf("dep-%s-%d", f.FlightNumber, i)

		f.ScheduledDeparture = now.Add(g.withinWindow())
		delay := g.drawDelay()
		duration := g.drawDuration()
		f.ScheduledArrival = f.ScheduledDeparture.Add(duration)
		if delay > 0 {
			dep := f.ScheduledDeparture.Add(time.Duration(delay) * time.Minute)
			arr := dep.Add(duration)
			f.ActualDeparture, f.ActualArrival, f.Delay = &dep, &arr, &delay
		}

		term, gate := g.pickGate(terminals)
		f.Origin = airport.Info()
		f.Origin.Terminal, f.Origin.Gate = term.Name, gate.Number
		f.Terminal, f.Gate = term.Name, gate.Number
		f.Aircraft = aircraftTypes[g.rng.IntN(len(aircraftTypes))]
		flights = append(flights, f)
	}

	for i := 0; i < g.config.Arrivals; i++ {
		f := g.baseFlight(remote)
		f.ID = fmt.Sprintf("arr-%s-%d", f.FlightNumber, i)
		f.Origin, f.Destination = f.Destination, f.Origin

		f.ScheduledArrival = now.Add(g.withinWindow())
		delay := g.drawDelay()
		duration := g.drawDuration()
		f.ScheduledDeparture = f.ScheduledArrival.Add(-duration)
		if delay > 0 {
			arr := f.ScheduledArrival.Add(time.Duration(delay) * time.Minute)
			dep := arr.Add(-duration)
			f.ActualDeparture, f.ActualArrival, f.Delay = &dep, &arr, &delay
		}

		term, gate := g.pickGate(terminals)
		claim := fmt.Sprintf("%c%d", 'A'+rune(g.rng.IntN(8)), 1+g.rng.IntN(20))
		f.Destination = airport.Info()
		f.Destination.Terminal, f.Destination.Gate, f.Destination.Baggage = term.Name, gate.Number, claim
		f.Terminal, f.Gate, f.BaggageClaim = term.Name, gate.Number, claim
		f.Aircraft = aircraftTypes[g.rng.IntN(len(aircraftTypes))]
		flights = append(flights, f)
	}

	slices.SortStableFunc(flights, func(a, b models.Flight) int {
		return a.ScheduledDeparture.Compare(b.ScheduledDeparture)
	})
	return flights
}

// baseFlight draws airline, remote endpoint, status and flight number. The
// remote endpoint is returned as Destination.
func (g *Generator) baseFlight(remote []models.AirportInfo) models.Flight {
	airline := airlines[g.rng.IntN(len(airlines))]
	dest := remote[g.rng.IntN(len(remote))]
	status := GeneratedStatuses[g.rng.IntN(len(GeneratedStatuses))]
	return models.Flight{
		FlightNumber: fmt.Sprintf("%s%d", airline.Code, 100+g.rng.IntN(8999)),
		Airline:      airline,
		Destination:  dest,
		Status:       status,
	}
}

func (g *Generator) withinWindow() time.Duration {
	return time.Duration(g.rng.Float64() * float64(scheduleWindow)).Truncate(time.Second)
}

// drawDelay returns a delay in [1, maxDelayMinutes] minutes, or 0.
func (g *Generator) drawDelay() int {
	if g.rng.Float64() >= g.config.DelayProbability {
		return 0
	}
	return 1 + g.rng.IntN(maxDelayMinutes)
}

func (g *Generator) drawDuration() time.Duration {
	minutes := minFlightMinutes + g.rng.IntN(maxFlightMinutes-minFlightMinutes+1)
	return time.Duration(minutes) * time.Minute
}

func (g *Generator) pickGate(terminals []*reference.Terminal) (*reference.Terminal, reference.Gate) {
	t := terminals[g.rng.IntN(len(terminals))]
	return t, t.Gates[g.rng.IntN(len(t.Gates))]
}
