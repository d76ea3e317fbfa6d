package gc

import (
	"context"

	"github.com/embervm/ember/internal/process"
)

// Manager adapts Collector to scheduler.GCRunner: each process owns
// its heap privately (spec.md §3), so there is one ad hoc Collector
// per call rather than one long-lived Collector per process.
type Manager struct {
	tracers int
}

// NewManager creates a manager that fans each collection's trace
// phase out to tracers goroutines (TRACER_THREADS).
func NewManager(tracers int) *Manager {
	if tracers < 1 {
		tracers = 1
	}
	return &Manager{tracers: tracers}
}

// CollectDue implements scheduler.GCRunner: runs a young GC if p's
// young threshold has triggered, then a mature GC if the mature
// threshold has. A young GC leaves the mature counter unchanged, so
// both run when both have triggered.
func (m *Manager) CollectDue(p *process.Process) error {
	c := New(p.Heap, p, m.tracers)
	if p.Heap.YoungGCDue() {
		if _, err := c.YoungGC(context.Background()); err != nil {
			return err
		}
	}
	if p.Heap.MatureGCDue() {
		if _, err := c.MatureGC(context.Background()); err != nil {
			return err
		}
	}
	return nil
}
