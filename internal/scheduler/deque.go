// Package scheduler implements spec.md §4.6: a fixed worker pool,
// per-worker Chase-Lev-style work-stealing run queues, a global
// injection queue, pinning, a blocking-call offload pool, and the
// process state machine.
//
// Grounded on the teacher's proc.go (runqput/runqget/runqsteal: a
// fixed-size ring buffer with atomic head/tail, lock-free for the
// owner and CAS-stealable by peers).
package scheduler

import (
	"sync/atomic"

	"github.com/embervm/ember/internal/process"
)

// runQueueSize is the local deque's fixed capacity before overflow to
// the global injection queue, mirroring the teacher's per-P runq
// (256 slots).
const runQueueSize = 256

// runQueue is a single worker's local run queue: the owner pushes and
// pops LIFO at the tail (lock-free, single-writer), peers steal FIFO
// from the head via CAS, exactly as spec.md §4.6 describes.
type runQueue struct {
	head uint32 // atomically updated by stealers and the owner
	tail uint32 // only ever written by the owner

	buf [runQueueSize]*process.Process
}

// pushOwner appends p at the tail. Only the owning worker may call
// this. Returns false if the local queue is full and the process
// should overflow to the global injection queue instead.
func (q *runQueue) pushOwner(p *process.Process) bool {
	h := atomic.LoadUint32(&q.head)
	t := q.tail
	if t-h >= runQueueSize {
		return false
	}
	q.buf[t%runQueueSize] = p
	atomic.StoreUint32(&q.tail, t+1) // store-release: publish to stealers
	return true
}

// popOwner removes and returns the most recently pushed process
// (LIFO — "caches hot processes", spec.md §4.6). Only the owning
// worker may call this.
func (q *runQueue) popOwner() *process.Process {
	t := q.tail
	h := atomic.LoadUint32(&q.head)
	if t == h {
		return nil
	}
	t--
	p := q.buf[t%runQueueSize]
	if p == nil {
		return nil
	}
	q.tail = t
	// Re-check against a concurrent steal of the same slot.
	h = atomic.LoadUint32(&q.head)
	if t < h {
		q.tail = t + 1
		return nil
	}
	return p
}

// steal removes and returns the oldest process (FIFO) via a CAS on
// head, safe to call concurrently from any number of peer workers.
func (q *runQueue) steal() *process.Process {
	for {
		h := atomic.LoadUint32(&q.head)
		t := atomic.LoadUint32(&q.tail)
		if t-h == 0 {
			return nil
		}
		p := q.buf[h%runQueueSize]
		if p == nil {
			return nil
		}
		if atomic.CompareAndSwapUint32(&q.head, h, h+1) {
			return p
		}
		// Lost the race to another stealer or the owner; retry.
	}
}

// len is an approximation used by metrics only.
func (q *runQueue) len() int {
	h := atomic.LoadUint32(&q.head)
	t := atomic.LoadUint32(&q.tail)
	if t < h {
		return 0
	}
	return int(t - h)
}
