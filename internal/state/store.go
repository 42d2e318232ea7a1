// Package state holds the current flight list of every airport.
//
// Each airport is an independent partition. Writers for one partition are
// serialised by its own mutex and always build a fresh list that is swapped
// in whole, so readers never observe a partially mutated list.
package state

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/yash/gateboard/pkg/models"
)

// snapshot is an immutable, versioned flight list.
type snapshot struct {
	flights []models.Flight
	version uint64
}

type partition struct {
	writeMu sync.Mutex
	current atomic.Pointer[snapshot]
}

func newPartition() *partition {
	p := &partition{}
	p.current.Store(&snapshot{flights: []models.Flight{}})
	return p
}

// Generator produces the initial flight list for an airport.
type Generator interface {
	Generate(code string) []models.Flight
}

// Store maps airport codes to their current flight lists.
type Store struct {
	mu    sync.RWMutex
	parts map[string]*partition
	order []string
}

// New creates an empty store.
func New() *Store {
	return &Store{parts: make(map[string]*partition)}
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *Store) partition(code string) (*partition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.parts[normalize(code)]
	return p, ok
}

func (s *Store) partitionOrCreate(code string) *partition {
	code = normalize(code)
	if p, ok := s.partition(code); ok {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.parts[code]; ok {
		return p
	}
	p := newPartition()
	s.parts[code] = p
	s.order = append(s.order, code)
	return p
}

// Initialize generates a list for every code. Existing lists are replaced.
func (s *Store) Initialize(codes []string, gen Generator) {
	for _, code := range codes {
		s.Replace(code, gen.Generate(code))
	}
}

// Get returns a copy of the airport's flights, or an empty list for an
// unknown code.
func (s *Store) Get(code string) []models.Flight {
	p, ok := s.partition(code)
	if !ok {
		return []models.Flight{}
	}
	return models.CloneFlights(p.current.Load().flights)
}

// View calls fn with the airport's current list without copying it. fn must
// not modify or retain the slice. Unknown codes yield an empty list.
func (s *Store) View(code string, fn func([]models.Flight)) {
	p, ok := s.partition(code)
	if !ok {
		fn(nil)
		return
	}
	fn(p.current.Load().flights)
}

// Replace swaps in a new list for code, creating the partition if needed,
// and returns the new version.
func (s *Store) Replace(code string, flights []models.Flight) uint64 {
	p := s.partitionOrCreate(code)
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	next := &snapshot{
		flights: models.CloneFlights(flights),
		version: p.current.Load().version + 1,
	}
	p.current.Store(next)
	return next.version
}

// Update runs fn over a detached copy of the airport's list under the
// partition's writer lock and swaps the result in. It returns a copy of the
// stored list and its version. ok is false for an unknown code.
func (s *Store) Update(code string, fn func([]models.Flight) []models.Flight) (flights []models.Flight, version uint64, ok bool) {
	p, ok := s.partition(code)
	if !ok {
		return nil, 0, false
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	cur := p.current.Load()
	next := &snapshot{
		flights: fn(models.CloneFlights(cur.flights)),
		version: cur.version + 1,
	}
	if next.flights == nil {
		next.flights = []models.Flight{}
	}
	p.current.Store(next)
	return models.CloneFlights(next.flights), next.version, true
}

// ForEach visits every airport in registration order with a copy of its list.
func (s *Store) ForEach(fn func(code string, flights []models.Flight)) {
	for _, code := range s.Codes() {
		fn(code, s.Get(code))
	}
}

// Codes returns the known airport codes in registration order.
func (s *Store) Codes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Has reports whether code has a partition.
func (s *Store) Has(code string) bool {
	_, ok := s.partition(code)
	return ok
}

// Version returns the current version for code, 0 if unknown.
func (s *Store) Version(code string) uint64 {
	p, ok := s.partition(code)
	if !ok {
		return 0
	}
	return p.current.Load().version
}

// Len returns the number of flights held for code.
func (s *Store) Len(code string) int {
	p, ok := s.partition(code)
	if !ok {
		return 0
	}
	return len(p.current.Load().flights)
}

// Total returns the number of flights across all airports.
func (s *Store) Total() int {
	n := 0
	for _, code := range s.Codes() {
		n += s.Len(code)
	}
	return n
}
