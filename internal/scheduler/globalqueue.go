package scheduler

import (
	"sync"

	"github.com/embervm/ember/internal/process"
)

// globalQueue is the mutex-guarded FIFO injection queue that receives
// newly-spawned processes and unparked processes when the originating
// context is not a worker (spec.md §4.6).
type globalQueue struct {
	mu    sync.Mutex
	items []*process.Process
}

func (g *globalQueue) push(p *process.Process) {
	g.mu.Lock()
	g.items = append(g.items, p)
	g.mu.Unlock()
}

// pop removes and returns the oldest entry, or nil if empty.
func (g *globalQueue) pop() *process.Process {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.items) == 0 {
		return nil
	}
	p := g.items[0]
	g.items = g.items[1:]
	return p
}

// popBatch pops up to max entries at once, used by a worker's
// fairness-quantum poll so one worker doesn't starve the rest of the
// global queue.
func (g *globalQueue) popBatch(max int) []*process.Process {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.items) == 0 {
		return nil
	}
	if max > len(g.items) {
		max = len(g.items)
	}
	out := g.items[:max]
	g.items = g.items[max:]
	return out
}

func (g *globalQueue) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.items)
}
