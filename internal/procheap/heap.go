// Package procheap implements the per-process generational heap of
// spec.md §3/§4.2: two young buckets (eden + survivor pair) and one
// mature bucket, bump-allocated out of heapblock.Block granules
// acquired from a shared heapblock.Pool.
//
// Grounded on the teacher's mheap.go promotion/growth policy, adapted
// from a shared span heap to a private per-goroutine-equivalent
// (per-process) heap, since spec.md §3 forbids cross-process heap
// sharing.
package procheap

import (
	"fmt"

	"github.com/embervm/ember/internal/heapblock"
	"github.com/embervm/ember/internal/value"
)

// Thresholds hold the per-process GC trigger and growth policy
// (spec.md §4.2).
type Thresholds struct {
	Young        int     // acquired young blocks since last young GC to trigger one
	Mature       int     // acquired mature blocks since last mature GC to trigger one
	GrowthFactor float64 // multiplicative growth after a successful collection
	HighWater    float64 // reclaimed-fraction above which thresholds shrink instead of grow
}

// DefaultThresholds mirrors spec.md §6's env-var defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{Young: 8, Mature: 16, GrowthFactor: 1.5, HighWater: 0.5}
}

// RememberedEntry is one mature object known to hold a reference into
// a young generation (spec.md §4.2 write barrier).
type RememberedEntry struct {
	Object value.Ref
	Offset int // index of the referencing field within Object
}

// Heap is one process's private generational heap.
type Heap struct {
	pool *heapblock.Pool

	eden      []*heapblock.Block
	survivorA []*heapblock.Block
	survivorB []*heapblock.Block
	mature    []*heapblock.Block
	full      map[heapblock.Bucket][]*heapblock.Block // retired, hole-less blocks awaiting GC

	edenCur *heapblock.Block
	matCur  *heapblock.Block

	activeSurvivor heapblock.Bucket // which of survivorA/B is the current "to" space

	Thresholds Thresholds

	youngAcquiredSinceGC  int
	matureAcquiredSinceGC int

	Remembered []RememberedEntry

	// SurviveCount tracks, per object identity (by address), how many
	// young collections an object has survived — spec.md §4.2's
	// "two young collections" promotion rule. Keyed by the object's
	// Ref since object identity is the pointer value itself.
	SurviveCount map[value.Ref]int

	Finalisers []value.Ref // objects flagged finalisable, pending invocation
}

// New creates an empty per-process heap drawing blocks from pool.
func New(pool *heapblock.Pool) *Heap {
	return &Heap{
		pool:           pool,
		full:           make(map[heapblock.Bucket][]*heapblock.Block),
		activeSurvivor: heapblock.BucketSurvivorA,
		Thresholds:     DefaultThresholds(),
		SurviveCount:   make(map[value.Ref]int),
	}
}

// lineRun returns how many lines size bytes occupies, rounding up.
func lineRun(size int) int {
	return (size + heapblock.LineSize - 1) / heapblock.LineSize
}

// largeThreshold is the object-size cutoff past which allocations go
// to the dedicated large bucket (spec.md §4.1: "¾ of a line run that
// fits in one block").
const largeThreshold = (heapblock.LinesPerBlock * 3 / 4) * heapblock.LineSize

// AllocYoung bump-allocates size bytes in the eden bucket, acquiring
// fresh blocks from the pool as needed. Returns the byte offset into
// the returned block's Data() where the object begins.
func (h *Heap) AllocYoung(size int) (*heapblock.Block, int, error) {
	if size > largeThreshold {
		return h.allocLarge(size)
	}
	return h.bumpInto(&h.edenCur, &h.eden, heapblock.BucketEden, size)
}

// AllocMature bump-allocates directly into the mature bucket, used by
// the GC's promotion step and by the interpreter for objects the
// compiler has proven long-lived.
func (h *Heap) AllocMature(size int) (*heapblock.Block, int, error) {
	if size > largeThreshold {
		return h.allocLarge(size)
	}
	b, off, err := h.bumpInto(&h.matCur, &h.mature, heapblock.BucketMature, size)
	if err == nil {
		h.matureAcquiredSinceGC++
	}
	return b, off, err
}

// allocLarge gives an object above largeThreshold a block of its own
// from the large bucket, with every line marked in use. An object
// larger than one block fails to allocate.
func (h *Heap) allocLarge(size int) (*heapblock.Block, int, error) {
	needBlocks := (size + heapblock.BlockSize - 1) / heapblock.BlockSize
	if needBlocks > 1 {
		return nil, 0, fmt.Errorf("procheap: large alloc of %d bytes exceeds one %d-byte block", size, heapblock.BlockSize)
	}
	b, err := h.pool.Acquire(heapblock.BucketLarge)
	if err != nil {
		return nil, 0, fmt.Errorf("procheap: large alloc of %d bytes: %w", size, err)
	}
	b.MarkInUse(0, heapblock.LinesPerBlock)
	h.eden = append(h.eden, b)
	h.youngAcquiredSinceGC++
	return b, 0, nil
}

// bumpInto implements the common "bump in current block, else find a
// hole, else retire and acquire a new block" policy of spec.md §4.1.
func (h *Heap) bumpInto(cur **heapblock.Block, list *[]*heapblock.Block, bucket heapblock.Bucket, size int) (*heapblock.Block, int, error) {
	need := lineRun(size)

	if *cur != nil {
		if off, ok := h.tryBump(*cur, size, need); ok {
			return *cur, off, nil
		}
		// Current block's hole is exhausted; move it out of the active
		// list and into the full-list awaiting the next sweep, so a
		// block is never tracked as both active and retired at once.
		*list = removeBlock(*list, *cur)
		h.full[bucket] = append(h.full[bucket], *cur)
	}

	b, err := h.pool.Acquire(bucket)
	if err != nil {
		return nil, 0, fmt.Errorf("procheap: alloc %d bytes in bucket %d: %w", size, bucket, err)
	}
	*list = append(*list, b)
	*cur = b
	if bucket == heapblock.BucketEden {
		h.youngAcquiredSinceGC++
	}

	off, ok := h.tryBump(b, size, need)
	if !ok {
		return nil, 0, fmt.Errorf("procheap: object of %d bytes does not fit in a fresh block", size)
	}
	return b, off, nil
}

// removeBlock returns list with the first occurrence of b removed, by
// identity. No-op if b isn't present.
func removeBlock(list []*heapblock.Block, b *heapblock.Block) []*heapblock.Block {
	for i, x := range list {
		if x == b {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// tryBump carves need lines for a size-byte object out of the block's
// first hole, searching from line 0, and marks those lines in use. It
// fails if that first hole is shorter than need. Objects start on a
// line boundary; the block's bump cursor is not used.
func (h *Heap) tryBump(b *heapblock.Block, size, need int) (int, bool) {
	startLine, holeLen, ok := b.FindHoleFrom(0)
	if !ok || holeLen < need {
		return 0, false
	}
	off := startLine * heapblock.LineSize
	b.MarkInUse(startLine, need)
	_ = size
	return off, true
}

// YoungGCDue reports whether the young-GC trigger (spec.md §4.2) has
// fired.
func (h *Heap) YoungGCDue() bool { return h.youngAcquiredSinceGC >= h.Thresholds.Young }

// MatureGCDue reports whether the mature-GC trigger has fired.
func (h *Heap) MatureGCDue() bool { return h.matureAcquiredSinceGC >= h.Thresholds.Mature }

// ResetYoungCounter is called once a young GC completes.
func (h *Heap) ResetYoungCounter(reclaimedFraction float64) {
	h.youngAcquiredSinceGC = 0
	h.adjustThreshold(&h.Thresholds.Young, reclaimedFraction)
}

// ResetMatureCounter is called once a mature GC completes.
func (h *Heap) ResetMatureCounter(reclaimedFraction float64) {
	h.matureAcquiredSinceGC = 0
	h.adjustThreshold(&h.Thresholds.Mature, reclaimedFraction)
}

func (h *Heap) adjustThreshold(t *int, reclaimedFraction float64) {
	if reclaimedFraction > h.Thresholds.HighWater {
		shrunk := int(float64(*t) / h.Thresholds.GrowthFactor)
		if shrunk < 1 {
			shrunk = 1
		}
		*t = shrunk
		return
	}
	*t = int(float64(*t) * h.Thresholds.GrowthFactor)
}

// RecordStore is the write barrier of spec.md §4.2: called on every
// `m.f = v` store. It records m into the remembered set when m is
// mature and v references a young object, eliding the record when the
// static FlagStaticYoung flag proves the store target is young.
func (h *Heap) RecordStore(target value.Ref, fieldOffset int, targetHeader *value.Header, stored value.Ref, storedHeader *value.Header) {
	if targetHeader.HasFlag(value.FlagStaticYoung) {
		return
	}
	if targetHeader.Generation() != value.GenMature {
		return
	}
	if storedHeader == nil {
		return
	}
	gen := storedHeader.Generation()
	if gen != value.GenEden && gen != value.GenSurvivor {
		return
	}
	h.Remembered = append(h.Remembered, RememberedEntry{Object: target, Offset: fieldOffset})
}

// ActiveSurvivor reports which survivor bucket is currently the
// allocation ("to") target for evacuated young objects; the other is
// the "from" space being collected.
func (h *Heap) ActiveSurvivor() heapblock.Bucket { return h.activeSurvivor }

// FlipSurvivor swaps the active survivor space at the end of a young
// GC, as the standard semispace-within-young-gen scheme requires.
func (h *Heap) FlipSurvivor() {
	if h.activeSurvivor == heapblock.BucketSurvivorA {
		h.activeSurvivor = heapblock.BucketSurvivorB
	} else {
		h.activeSurvivor = heapblock.BucketSurvivorA
	}
}

// EdenBlocks, SurvivorBlocks, MatureBlocks and FullBlocks expose the
// block lists for the GC's sweep phase.
func (h *Heap) EdenBlocks() []*heapblock.Block   { return h.eden }
func (h *Heap) MatureBlocks() []*heapblock.Block { return h.mature }
func (h *Heap) FullBlocks(bucket heapblock.Bucket) []*heapblock.Block {
	return h.full[bucket]
}

// RetireEden replaces the process's eden tracking after a young GC's
// sweep phase: the active eden list and current eden block are
// cleared, and retained (every eden block, active or retired, that
// sweep found non-empty) becomes the eden full-list for the next
// collection to consider. Line bits are left as they are. Blocks sweep
// found empty have already been released to the pool and are not part
// of retained.
func (h *Heap) RetireEden(retained []*heapblock.Block) {
	h.eden = nil
	h.edenCur = nil
	h.full[heapblock.BucketEden] = retained
}

// RetireMature replaces the heap's retired-mature-block tracking after
// a mature GC's sweep phase with retained (every full mature block
// sweep found still non-empty); blocks sweep found empty have already
// been released and are dropped. The active mature list, still being
// bump-allocated into, is untouched.
func (h *Heap) RetireMature(retained []*heapblock.Block) {
	h.full[heapblock.BucketMature] = retained
}

// Pool exposes the backing global pool, e.g. so the GC can release
// swept-empty blocks.
func (h *Heap) Pool() *heapblock.Pool { return h.pool }

// ReleaseAll returns every block this heap still owns, across every
// generation and the retired full-lists, to the global pool, and
// clears all local tracking. Called once when the owning process
// terminates (spec.md §3 Lifecycle: "on termination its blocks are
// returned to the global block pool").
func (h *Heap) ReleaseAll() {
	release := func(list []*heapblock.Block) {
		for _, b := range list {
			h.pool.Release(b)
		}
	}
	release(h.eden)
	release(h.survivorA)
	release(h.survivorB)
	release(h.mature)
	for bucket, list := range h.full {
		release(list)
		h.full[bucket] = nil
	}
	h.eden = nil
	h.survivorA = nil
	h.survivorB = nil
	h.mature = nil
	h.edenCur = nil
	h.matCur = nil
}
