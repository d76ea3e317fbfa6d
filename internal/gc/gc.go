// Package gc implements spec.md §4.3's collector: root enumeration,
// parallel tri-color trace, promotion of young survivors, sweep, and
// deferred finalisation. There is no evacuation phase; objects are
// never moved. A process's collector runs only while
// that process is suspended from execution; the scheduler guarantees
// exclusivity (spec.md §4.3 first paragraph).
//
// Grounded on the teacher's mgcwork.go (work-stealing trace deque
// shape) and mheap.go's reclaim/sweep pattern, generalized from a
// shared heap to a per-process heap collected independently.
package gc

import (
	"context"

	"github.com/embervm/ember/internal/heapblock"
	"github.com/embervm/ember/internal/procheap"
	"github.com/embervm/ember/internal/value"
	"golang.org/x/sync/errgroup"
)

// Color is the tri-color marking state. Ember only needs white/gray
// distinctions observably (black is "marked and drained"); the
// object bitmap's mark bit doubles as the white/black distinction and
// the gray set is the tracer work queue itself.
type Color uint8

const (
	White Color = iota
	Gray
	Black
)

// Tracer drains shared work (objects to scan) from a work-stealing
// deque, mirroring the teacher's gcWork/trace pattern.
type Tracer struct {
	id    int
	local []value.Ref // LIFO local deque
}

// RootProvider supplies the roots for a collection: registers, frames
// and mailbox contents. The collector itself appends the remembered
// set for a young GC. This is implemented by internal/process.Process;
// Collector depends only on this interface, while Manager (manager.go)
// imports internal/process directly.
type RootProvider interface {
	GCRoots(young bool) []value.Ref
	ObjectChildren(r value.Ref) []value.Ref
	Header(r value.Ref) *value.Header
}

// Stats summarizes one collection for metrics and the S4/S7 test
// scenarios.
type Stats struct {
	Young             bool
	Traced            int
	Promoted          int
	BlocksReleased    int
	ReclaimedFraction float64
}

// Collector runs collections for a single process's heap.
type Collector struct {
	heap    *procheap.Heap
	roots   RootProvider
	tracers int
}

// New creates a collector for heap h, owned by roots, using tracers
// worker goroutines for the parallel trace phase (TRACER_THREADS).
func New(h *procheap.Heap, roots RootProvider, tracers int) *Collector {
	if tracers < 1 {
		tracers = 1
	}
	return &Collector{heap: h, roots: roots, tracers: tracers}
}

// YoungGC runs a young-generation collection: remembered-set objects
// are added to the roots, and mature objects are never promoted or
// moved. A mature object reached from a root is still marked and its
// fields traced like any other object.
func (c *Collector) YoungGC(ctx context.Context) (Stats, error) {
	return c.collect(ctx, true)
}

// MatureGC runs a full collection including the mature bucket.
func (c *Collector) MatureGC(ctx context.Context) (Stats, error) {
	return c.collect(ctx, false)
}

func (c *Collector) collect(ctx context.Context, young bool) (Stats, error) {
	roots := c.roots.GCRoots(young)
	if young {
		for _, e := range c.heap.Remembered {
			roots = append(roots, e.Object)
		}
	}

	marked, err := c.trace(ctx, roots)
	if err != nil {
		return Stats{}, err
	}

	promoted := c.promote(marked, young)

	released, retained, reclaimedFrac := c.sweep(young)

	c.finalise(marked)

	if young {
		c.heap.Remembered = c.heap.Remembered[:0]
		c.heap.RetireEden(retained)
		c.heap.FlipSurvivor()
		c.heap.ResetYoungCounter(reclaimedFrac)
	} else {
		c.heap.RetireMature(retained)
		c.heap.ResetMatureCounter(reclaimedFrac)
	}

	for _, r := range marked {
		if h := c.roots.Header(r); h != nil {
			h.ClearMark()
		}
	}

	return Stats{
		Young:             young,
		Traced:            len(marked),
		Promoted:          promoted,
		BlocksReleased:    released,
		ReclaimedFraction: reclaimedFrac,
	}, nil
}

// trace performs phase 2: parallel tri-color marking over a
// work-stealing deque pool. Returns every object reached.
func (c *Collector) trace(ctx context.Context, roots []value.Ref) ([]value.Ref, error) {
	deque := newSharedDeque(roots)
	var marked []value.Ref
	var markedMu = make(chan struct{}, 1)
	markedMu <- struct{}{}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.tracers; i++ {
		i := i
		g.Go(func() error {
			t := &Tracer{id: i}
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				r, ok := deque.pop(t)
				if !ok {
					return nil
				}
				h := c.roots.Header(r)
				if h == nil {
					continue
				}
				if !h.TryMark() {
					continue
				}
				<-markedMu
				marked = append(marked, r)
				markedMu <- struct{}{}

				for _, child := range c.roots.ObjectChildren(r) {
					deque.push(t, child)
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return marked, nil
}

// promote advances survival counts for young survivors and moves
// twice-surviving objects to the mature bucket, implementing the
// default promotion rule of spec.md §4.2.
func (c *Collector) promote(marked []value.Ref, young bool) int {
	if !young {
		return 0
	}
	promoted := 0
	for _, r := range marked {
		h := c.roots.Header(r)
		if h == nil || h.Generation() == value.GenMature || h.Generation() == value.GenPermanent {
			continue
		}
		c.heap.SurviveCount[r]++
		if c.heap.SurviveCount[r] >= 2 {
			h.SetGeneration(value.GenMature)
			delete(c.heap.SurviveCount, r)
			promoted++
		} else {
			h.SetGeneration(value.GenSurvivor)
		}
	}
	return promoted
}

// sweep performs phase 4: scan the collected generation's blocks,
// release every block whose lines are all free back to the global
// pool, and collect the rest into retained for the caller to keep
// tracking. Neither sweep nor trace changes line bits, so a block
// counts as empty only if nothing was allocated into it since it was
// acquired; blocks holding only dead objects are kept until the
// process terminates. For a young GC both the active eden list and the
// eden full-list go into retained; for a mature GC the active mature
// list counts toward the reclaimed fraction but only the mature
// full-list goes into retained.
func (c *Collector) sweep(young bool) (released int, retained []*heapblock.Block, reclaimedFraction float64) {
	total := 0
	sweepList := func(list []*heapblock.Block, track bool) {
		total += len(list)
		for _, b := range list {
			if b.Empty() {
				c.heap.Pool().Release(b)
				released++
				continue
			}
			if track {
				retained = append(retained, b)
			}
		}
	}

	if young {
		sweepList(c.heap.EdenBlocks(), true)
		sweepList(c.heap.FullBlocks(heapblock.BucketEden), true)
	} else {
		sweepList(c.heap.MatureBlocks(), false)
		sweepList(c.heap.FullBlocks(heapblock.BucketMature), true)
	}

	if total == 0 {
		return released, retained, 0
	}
	return released, retained, float64(released) / float64(total)
}

// finalise performs phase 5: objects flagged finalisable whose mark
// bit ended up clear (i.e. unreached by trace) are queued for the
// owning process's next scheduling, never run during GC itself.
func (c *Collector) finalise(marked []value.Ref) []value.Ref {
	markedSet := make(map[value.Ref]struct{}, len(marked))
	for _, r := range marked {
		markedSet[r] = struct{}{}
	}
	var queued []value.Ref
	for _, r := range c.heap.Finalisers {
		if _, ok := markedSet[r]; ok {
			continue
		}
		h := c.roots.Header(r)
		if h != nil && h.HasFlag(value.FlagFinalisable) {
			queued = append(queued, r)
		}
	}
	c.heap.Finalisers = queued
	return queued
}
