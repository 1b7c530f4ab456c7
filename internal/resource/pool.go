// Package resource implements fixed-capacity counters for named resource
// labels. Method handlers declare unit costs against these labels and claim
// them before execution; a claim that would exceed a capacity fails without
// touching the pool.
package resource

import (
	"errors"
	"fmt"
	"sync"
)

// MaxResources caps the number of distinct labels a pool (or a single
// handler declaration) may carry.
const MaxResources = 8

var ErrMaxResourcesReached = errors.New("maximum number of resource labels reached")

// AtCapacityError is returned by Claim when a labeled resource has no room
// for the requested units. It is distinct from handler-logic failures so
// callers can apply backoff only to capacity exhaustion.
type AtCapacityError struct {
	Label string
}

func (e *AtCapacityError) Error() string {
	return fmt.Sprintf("resource %q at capacity", e.Label)
}

// Table is a point-in-time copy of the pool layout, used to bind declared
// labels to dense slot indexes.
type Table struct {
	Labels     []string
	Capacities []uint16
	Defaults   []uint16
}

// Pool holds capacities and in-use counters per registered label. Safe for
// concurrent claims and releases.
type Pool struct {
	mu         sync.Mutex
	labels     []string
	capacities []uint16
	defaults   []uint16
	inUse      []uint16
	metrics    *poolMetrics
}

func NewPool() *Pool {
	return &Pool{}
}

// Register adds a labeled resource. A capacity of 0 means unlimited: claims
// against the label always succeed and no counter moves.
func (p *Pool) Register(label string, capacity, defaultUnits uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, l := range p.labels {
		if l == label {
			return fmt.Errorf("resource %q already registered", label)
		}
	}
	if len(p.labels) >= MaxResources {
		return ErrMaxResourcesReached
	}
	p.labels = append(p.labels, label)
	p.capacities = append(p.capacities, capacity)
	p.defaults = append(p.defaults, defaultUnits)
	p.inUse = append(p.inUse, 0)
	return nil
}

// Table returns a copy of the current layout.
func (p *Pool) Table() Table {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Table{
		Labels:     append([]string(nil), p.labels...),
		Capacities: append([]uint16(nil), p.capacities...),
		Defaults:   append([]uint16(nil), p.defaults...),
	}
}

// InUse returns the currently claimed units for a label, 0 if unknown.
func (p *Pool) InUse(label string) uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, l := range p.labels {
		if l == label {
			return p.inUse[i]
		}
	}
	return 0
}

// Claim atomically reserves units[i] of the resource in slot i. Either every
// reservation succeeds and a Guard is returned, or the pool is left
// unchanged and an AtCapacityError names the exhausted label.
func (p *Pool) Claim(units []uint16) (*Guard, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := min(len(units), len(p.labels))
	for i := 0; i < n; i++ {
		if units[i] == 0 || p.capacities[i] == 0 {
			continue
		}
		if uint32(p.inUse[i])+uint32(units[i]) > uint32(p.capacities[i]) {
			p.metrics.rejectedClaim()
			return nil, &AtCapacityError{Label: p.labels[i]}
		}
	}

	claimed := make([]uint16, n)
	for i := 0; i < n; i++ {
		if units[i] == 0 || p.capacities[i] == 0 {
			continue
		}
		p.inUse[i] += units[i]
		claimed[i] = units[i]
		p.metrics.setInUse(p.labels[i], p.inUse[i])
	}
	return &Guard{pool: p, units: claimed}, nil
}

func (p *Pool) release(units []uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, u := range units {
		if u == 0 || i >= len(p.inUse) {
			continue
		}
		p.inUse[i] -= u
		p.metrics.setInUse(p.labels[i], p.inUse[i])
	}
}

// Guard is a live reservation. Release returns the units to the pool and is
// idempotent; it must run on every exit path of the owning computation.
type Guard struct {
	pool  *Pool
	units []uint16
	once  sync.Once
}

// Release returns the claimed units. Safe on a nil guard.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		g.pool.release(g.units)
	})
}
