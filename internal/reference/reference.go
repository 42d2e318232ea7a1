// Package reference holds the static airport topology: terminals, gates,
// floors and their map features. The dataset is loaded once and never
// mutated afterwards.
package reference

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/brunoga/deep"
	"gopkg.in/yaml.v3"

	"github.com/yash/gateboard/pkg/models"
)

//go:embed airports.yaml
var embeddedAirports []byte

// ErrUnknownAirport is returned by lookups that need to distinguish a missing
// airport from an empty result.
var ErrUnknownAirport = errors.New("unknown airport")

// Coordinates is a [longitude, latitude] pair.
type Coordinates [2]float64

// Lon returns the longitude.
func (c Coordinates) Lon() float64 { return c[0] }

// Lat returns the latitude.
func (c Coordinates) Lat() float64 { return c[1] }

// Airport is a reference airport.
type Airport struct {
	ID          string      `yaml:"id" json:"id"`
	Code        string      `yaml:"code" json:"code"`
	Name        string      `yaml:"name" json:"name"`
	City        string      `yaml:"city" json:"city"`
	Country     string      `yaml:"country" json:"country"`
	Coordinates Coordinates `yaml:"coordinates" json:"coordinates"`
	Terminals   []Terminal  `yaml:"terminals" json:"terminals"`
	Amenities   []Amenity   `yaml:"amenities" json:"amenities"`
	Services    []Service   `yaml:"services" json:"services"`
}

// Terminal is a building or concourse holding gates.
type Terminal struct {
	ID     string  `yaml:"id" json:"id"`
	Name   string  `yaml:"name" json:"name"`
	Gates  []Gate  `yaml:"gates" json:"gates"`
	Floors []Floor `yaml:"floors" json:"floors"`
}

// Gate is a boarding position. Number is unique within an airport only.
type Gate struct {
	ID          string            `yaml:"id" json:"id"`
	Number      string            `yaml:"number" json:"number"`
	Coordinates Coordinates       `yaml:"coordinates" json:"coordinates"`
	Status      models.GateStatus `yaml:"status" json:"status"`
}

// Floor is one level of a terminal.
type Floor struct {
	ID       string       `yaml:"id" json:"id"`
	Level    int          `yaml:"level" json:"level"`
	Name     string       `yaml:"name" json:"name"`
	Features []MapFeature `yaml:"features" json:"features"`
}

// MapFeature is a point of interest on a floor (security, food, lounge...).
type MapFeature struct {
	ID          string      `yaml:"id" json:"id"`
	Type        string      `yaml:"type" json:"type"`
	Name        string      `yaml:"name" json:"name"`
	Coordinates Coordinates `yaml:"coordinates" json:"coordinates"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Hours       string      `yaml:"hours,omitempty" json:"hours,omitempty"`
}

// Amenity is an airport-wide facility.
type Amenity struct {
	ID          string `yaml:"id" json:"id"`
	Type        string `yaml:"type" json:"type"`
	Name        string `yaml:"name" json:"name"`
	Location    string `yaml:"location" json:"location"`
	Hours       string `yaml:"hours" json:"hours"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Service is a transport or financial service offered at the airport.
type Service struct {
	ID       string `yaml:"id" json:"id"`
	Type     string `yaml:"type" json:"type"`
	Name     string `yaml:"name" json:"name"`
	Provider string `yaml:"provider" json:"provider"`
	Location string `yaml:"location" json:"location"`
	Hours    string `yaml:"hours" json:"hours"`
}

// GateRef locates a gate inside its terminal.
type GateRef struct {
	TerminalID   string
	TerminalName string
	Gate         Gate
}

// Store is the read-only airport dataset.
type Store struct {
	airports []Airport
	byCode   map[string]int
}

type dataset struct {
	Airports []Airport `yaml:"airports"`
}

// Load decodes the embedded dataset.
func Load() (*Store, error) {
	return Parse(embeddedAirports)
}

// MustLoad is Load for callers that treat a broken embedded dataset as a
// programming error.
func MustLoad() *Store {
	s, err := Load()
	if err != nil {
		panic(err)
	}
	return s
}

// Parse decodes and validates a YAML dataset.
func Parse(data []byte) (*Store, error) {
	var ds dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parsing airport dataset: %w", err)
	}
	return New(ds.Airports)
}

// New builds a store from already decoded airports.
func New(airports []Airport) (*Store, error) {
	s := &Store{
		airports: make([]Airport, 0, len(airports)),
		byCode:   make(map[string]int, len(airports)),
	}
	for _, a := range airports {
		a.Code = strings.ToUpper(strings.TrimSpace(a.Code))
		if len(a.Code) != 3 {
			return nil, fmt.Errorf("airport %q: code must be 3 letters", a.Code)
		}
		if _, dup := s.byCode[a.Code]; dup {
			return nil, fmt.Errorf("airport %s: duplicate code", a.Code)
		}
		numbers := make(map[string]struct{})
		for _, t := range a.Terminals {
			for _, g := range t.Gates {
				if g.Number == "" {
					return nil, fmt.Errorf("airport %s terminal %s: gate %q has no number", a.Code, t.ID, g.ID)
				}
				key := strings.ToUpper(g.Number)
				if _, dup := numbers[key]; dup {
					return nil, fmt.Errorf("airport %s: duplicate gate number %s", a.Code, g.Number)
				}
				if !g.Status.Valid() {
					return nil, fmt.Errorf("airport %s gate %s: invalid status %q", a.Code, g.Number, g.Status)
				}
				numbers[key] = struct{}{}
			}
		}
		s.byCode[a.Code] = len(s.airports)
		s.airports = append(s.airports, a)
	}
	return s, nil
}

// Airport returns the airport for code (case-insensitive).
func (s *Store) Airport(code string) (*Airport, bool) {
	i, ok := s.byCode[strings.ToUpper(code)]
	if !ok {
		return nil, false
	}
	return &s.airports[i], true
}

// Airports returns all airports in dataset order.
func (s *Store) Airports() []Airport {
	return s.airports
}

// Codes returns airport codes in dataset order.
func (s *Store) Codes() []string {
	codes := make([]string, len(s.airports))
	for i, a := range s.airports {
		codes[i] = a.Code
	}
	return codes
}

// FindGate returns the first gate with the given number across the
// airport's terminals.
func (s *Store) FindGate(code, number string) (GateRef, bool) {
	a, ok := s.Airport(code)
	if !ok {
		return GateRef{}, false
	}
	return a.FindGate(number)
}

// FindGate scans terminals in order for a gate number, ignoring case.
func (a *Airport) FindGate(number string) (GateRef, bool) {
	for _, t := range a.Terminals {
		for _, g := range t.Gates {
			if strings.EqualFold(g.Number, number) {
				return GateRef{TerminalID: t.ID, TerminalName: t.Name, Gate: g}, true
			}
		}
	}
	return GateRef{}, false
}

// Terminal returns the terminal with the given id.
func (a *Airport) Terminal(id string) (*Terminal, bool) {
	for i := range a.Terminals {
		if a.Terminals[i].ID == id {
			return &a.Terminals[i], true
		}
	}
	return nil, false
}

// GateCount is the number of gates across all terminals.
func (a *Airport) GateCount() int {
	n := 0
	for _, t := range a.Terminals {
		n += len(t.Gates)
	}
	return n
}

// Clone returns a deep copy that callers may modify or hand out freely.
func (a *Airport) Clone() Airport {
	return deep.MustCopy(*a)
}

// Info converts the airport into the flight endpoint shape.
func (a *Airport) Info() models.AirportInfo {
	return models.AirportInfo{
		Code:    a.Code,
		Name:    a.Name,
		City:    a.City,
		Country: a.Country,
	}
}
