package resource

import (
	"errors"
	"fmt"
	"sync"
)

// ErrGuardReleased is returned when extending or absorbing into a guard that
// was already released.
var ErrGuardReleased = errors.New("resource guard already released")

// Guard is one committed reservation. Release returns exactly the reserved
// amount to the Tracker, once; later calls do nothing. Callers defer it
// right after a successful reservation:
//
//	g, err := tracker.StartProcess()
//	if err != nil {
//		return err
//	}
//	defer g.Release()
type Guard struct {
	tracker *Tracker
	kind    Kind

	mu       sync.Mutex
	amount   uint64
	released bool
}

func newGuard(t *Tracker, kind Kind, amount uint64) *Guard {
	return &Guard{tracker: t, kind: kind, amount: amount}
}

func (g *Guard) Kind() Kind { return g.kind }

func (g *Guard) Amount() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.amount
}

// Released reports whether Release has run.
func (g *Guard) Released() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.released
}

// Extend reserves n more of the guard's kind and adds it to the guard, so a
// long-lived holder keeps a single reservation that grows. A rejected
// extension leaves both the guard and the tracker unchanged.
func (g *Guard) Extend(n uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return ErrGuardReleased
	}
	if err := g.tracker.reserve(g.kind, n); err != nil {
		return err
	}
	g.amount += n
	return nil
}

// Absorb moves other's reservation into g without touching the counters.
// other ends up released with nothing left to return. Both guards must
// come from the same Tracker and share a Kind.
func (g *Guard) Absorb(other *Guard) error {
	if other == nil || other == g {
		return nil
	}
	if other.tracker != g.tracker || other.kind != g.kind {
		return fmt.Errorf("cannot absorb %s guard into %s guard", other.kind, g.kind)
	}
	other.mu.Lock()
	if other.released {
		other.mu.Unlock()
		return ErrGuardReleased
	}
	amount := other.amount
	other.amount = 0
	other.released = true
	other.mu.Unlock()

	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		g.tracker.release(g.kind, amount)
		return ErrGuardReleased
	}
	g.amount += amount
	g.mu.Unlock()
	return nil
}

// Release is safe on a nil Guard.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return
	}
	g.released = true
	amount := g.amount
	g.mu.Unlock()
	g.tracker.release(g.kind, amount)
}

// ReleaseAll releases every guard in gs.
func ReleaseAll(gs []*Guard) {
	for _, g := range gs {
		g.Release()
	}
}
