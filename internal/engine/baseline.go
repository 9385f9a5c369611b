package engine

import (
	"sync"

	"github.com/miradorstack/mirador-incident/internal/models"
)

// BaselineRegistry holds the last observed feature vector of every scanned service.
// Entries are created on first scan and never removed.
type BaselineRegistry struct {
	mu         sync.Mutex
	entries    map[string]*ServiceBaseline
	seedFactor float64
}

// ServiceBaseline is the baseline slot of one service. Callers hold its lock for the
// whole read-modify-write of a scan.
type ServiceBaseline struct {
	mu         sync.Mutex
	vector     models.FeatureVector
	set        bool
	seedFactor float64
}

// NewBaselineRegistry creates an empty registry; first scans seed at seedFactor × current.
func NewBaselineRegistry(seedFactor float64) *BaselineRegistry {
	if seedFactor <= 0 {
		seedFactor = 0.7
	}
	return &BaselineRegistry{entries: make(map[string]*ServiceBaseline), seedFactor: seedFactor}
}

// Lock returns the locked baseline slot of service.
func (r *BaselineRegistry) Lock(service string) *ServiceBaseline {
	r.mu.Lock()
	entry, ok := r.entries[service]
	if !ok {
		entry = &ServiceBaseline{seedFactor: r.seedFactor}
		r.entries[service] = entry
	}
	r.mu.Unlock()

	entry.mu.Lock()
	return entry
}

// Len reports how many services have a baseline slot.
func (r *BaselineRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Unlock releases the slot.
func (b *ServiceBaseline) Unlock() { b.mu.Unlock() }

// Baseline returns the stored vector, seeding it from current on first use.
// seeded reports whether this call created the baseline.
func (b *ServiceBaseline) Baseline(current models.FeatureVector) (vector models.FeatureVector, seeded bool) {
	if !b.set {
		b.vector = current.Scale(b.seedFactor)
		b.set = true
		return b.vector, true
	}
	return b.vector, false
}

// Replace stores current as the next scan's baseline.
func (b *ServiceBaseline) Replace(current models.FeatureVector) {
	b.vector = current
	b.set = true
}
