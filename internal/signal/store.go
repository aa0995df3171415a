package signal

import (
	"sync"
	"time"
)

// Active is the suppression record for one already-notified crossover.
type Active struct {
	Direction Direction
	FiredAt   time.Time
}

// Store tracks which alert keys are currently suppressed. State is
// memory-resident only: a restart clears it, and a crossover still active in
// the market re-fires once. That duplicate is preferred over missing a signal.
type Store struct {
	mu     sync.Mutex
	active map[Key]Active
}

func NewStore() *Store {
	return &Store{active: make(map[Key]Active)}
}

// ShouldFire decides whether this cycle's classification warrants a
// notification for key. An existing suppression is first checked for decay:
// the alert stays active only while the principal keeps its minimum-strength
// distance from every reference in either direction. Once that collapses the
// slot is reset, so a fresh crossover fires immediately.
//
// The decay check runs even when dir is None; otherwise a weakened signal
// would stay suppressed forever and the next real crossover would be lost.
func (st *Store) ShouldFire(key Key, dir Direction, cur Set, strat Strategy) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.active[key]; ok && !hasStrength(cur, strat) {
		delete(st.active, key)
	}

	if dir == None {
		return false
	}
	_, suppressed := st.active[key]
	return !suppressed
}

func hasStrength(cur Set, strat Strategy) bool {
	principal := cur[strat.Principal]
	for _, ref := range strat.References {
		value := cur[ref]
		if !principal.GreaterThan(strat.upperBound(value)) && !principal.LessThan(strat.lowerBound(value)) {
			return false
		}
	}
	return true
}

// Record marks key as notified. Call exactly once after ShouldFire returns true.
func (st *Store) Record(key Key, dir Direction, now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.active[key] = Active{Direction: dir, FiredAt: now}
}

// Reset clears the suppression slot for key. Idempotent.
func (st *Store) Reset(key Key) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.active, key)
}

// Len reports how many alerts are currently suppressed.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.active)
}
