// Package store holds the shared, concurrently-accessed observation
// store and ticket engine described in the Speed Daemon design: every
// camera observation is recorded here, pairwise speeds are computed
// against every other observation of the same plate on the same road,
// and violations are promoted to tickets subject to the one-ticket-
// per-plate-per-day invariant.
package store

import (
	"math"
	"sort"
	"sync"
)

const secondsPerDay = 86400

// Observation is a single (plate, road, mile, timestamp) record.
// Immutable once recorded.
type Observation struct {
	Plate     string
	Road      uint16
	Mile      uint16
	Timestamp uint32
}

// Ticket is a minted violation, ready for routing.
type Ticket struct {
	Plate      string
	Road       uint16
	Mile1      uint16
	Timestamp1 uint32
	Mile2      uint16
	Timestamp2 uint32
	Speed      uint16
}

// Router is the subset of internal/dispatch's Router that the ticket
// engine needs. Kept as a narrow interface here (rather than importing
// internal/dispatch directly) so the store has no dependency on session
// transport concerns.
type Router interface {
	Submit(t Ticket)
}

// Store owns the observation log and the ticket-minting decision. One
// Store is shared process-wide.
type Store struct {
	router Router

	roadsMu sync.Mutex
	roads   map[uint16]*roadRecord

	platesMu sync.Mutex
	plates   map[string]*plateClaims

	// onObservation, when set, is invoked (outside any lock held by
	// Store) after every successfully recorded observation. Used by the
	// admin plane to publish a live feed; never allowed to block or
	// panic a caller's session goroutine.
	onObservation func(Observation)
}

type roadRecord struct {
	mu           sync.Mutex
	limit        uint16
	limitIsSet   bool
	observations map[string][]Observation // plate -> observations on this road
}

type plateClaims struct {
	mu   sync.Mutex
	days map[int64]struct{}
}

// New creates an empty Store that submits minted tickets to router.
func New(router Router) *Store {
	return &Store{
		router: router,
		roads:  make(map[uint16]*roadRecord),
		plates: make(map[string]*plateClaims),
	}
}

// OnObservation registers a callback invoked after each recorded
// observation. Intended for the admin plane's live feed; at most one
// callback is supported (later calls replace earlier ones).
func (s *Store) OnObservation(fn func(Observation)) {
	s.onObservation = fn
}

func (s *Store) roadFor(road uint16) *roadRecord {
	s.roadsMu.Lock()
	defer s.roadsMu.Unlock()
	r, ok := s.roads[road]
	if !ok {
		r = &roadRecord{observations: make(map[string][]Observation)}
		s.roads[road] = r
	}
	return r
}

func (s *Store) plateFor(plate string) *plateClaims {
	s.platesMu.Lock()
	defer s.platesMu.Unlock()
	p, ok := s.plates[plate]
	if !ok {
		p = &plateClaims{days: make(map[int64]struct{})}
		s.plates[plate] = p
	}
	return p
}

// SetLimit records a road's posted limit. The first call for a given
// road wins; later calls with a different value are accepted (so a
// misconfigured second camera never breaks the connection) but ignored,
// per the documented first-wins resolution of the limit-discrepancy
// open question.
func (s *Store) SetLimit(road uint16, limit uint16) {
	r := s.roadFor(road)
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.limitIsSet {
		r.limit = limit
		r.limitIsSet = true
	}
}

// Record appends a new observation and evaluates it against every other
// observation of the same plate on the same road, minting tickets for
// any violation that survives the per-day dedup check.
func (s *Store) Record(obs Observation) {
	r := s.roadFor(obs.Road)

	r.mu.Lock()
	prior := append([]Observation(nil), r.observations[obs.Plate]...)
	r.observations[obs.Plate] = append(r.observations[obs.Plate], obs)
	limit := r.limit
	limitKnown := r.limitIsSet
	r.mu.Unlock()

	if s.onObservation != nil {
		s.onObservation(obs)
	}

	if !limitKnown || len(prior) == 0 {
		return
	}

	candidates := buildCandidates(obs, prior, limit)
	if len(candidates) == 0 {
		return
	}

	// Tie-break: process in order of increasing later timestamp, so a
	// single insertion "fits" as many tickets as possible under the cap.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Timestamp2 < candidates[j].Timestamp2
	})

	claims := s.plateFor(obs.Plate)
	for _, c := range candidates {
		if s.tryMint(claims, c) {
			s.router.Submit(c)
		}
	}
}

// buildCandidates forms every violating pair between the new observation
// and its priors on the same road, ordering each pair's mile/timestamp
// fields so (mile1, ts1) is the earlier observation.
func buildCandidates(obs Observation, prior []Observation, limitMph uint16) []Ticket {
	var out []Ticket
	for _, o := range prior {
		ts1, ts2 := o.Timestamp, obs.Timestamp
		mile1, mile2 := o.Mile, obs.Mile
		if ts1 == ts2 {
			continue // speed undefined
		}
		if ts1 > ts2 {
			ts1, ts2 = ts2, ts1
			mile1, mile2 = mile2, mile1
		}

		deltaMile := math.Abs(float64(int(mile2) - int(mile1)))
		deltaT := float64(ts2 - ts1)
		mph := deltaMile * 3600 / deltaT
		if mph <= float64(limitMph) {
			continue
		}

		speed := uint16(math.Round(mph * 100))
		out = append(out, Ticket{
			Plate:      obs.Plate,
			Road:       obs.Road,
			Mile1:      mile1,
			Timestamp1: ts1,
			Mile2:      mile2,
			Timestamp2: ts2,
			Speed:      speed,
		})
	}
	return out
}

// tryMint applies the per-plate per-day claim check atomically: if any
// day covered by t is already claimed, the candidate is dropped silently
// (returns false); otherwise every covered day is claimed and the ticket
// is considered minted (returns true). The caller submits to the router
// only on a true result, and only after this function returns, so no
// router call happens while claims.mu is held.
func (s *Store) tryMint(claims *plateClaims, t Ticket) bool {
	return claims.tryMint(t)
}

func (c *plateClaims) tryMint(t Ticket) bool {
	d1 := int64(t.Timestamp1 / secondsPerDay)
	d2 := int64(t.Timestamp2 / secondsPerDay)

	c.mu.Lock()
	defer c.mu.Unlock()

	for d := d1; d <= d2; d++ {
		if _, claimed := c.days[d]; claimed {
			return false
		}
	}
	for d := d1; d <= d2; d++ {
		c.days[d] = struct{}{}
	}
	return true
}
