// Package timerwheel implements spec.md §4.5: a monotonic-deadline
// min-heap of suspended processes, drained by a dedicated timer
// goroutine, with generation-counter cancellation instead of
// structural removal.
//
// Grounded on the teacher's src/container/heap usage pattern (the Go
// runtime's own timer implementation is a four-ary heap in time.go,
// which this module was retrieved alongside but which is out of this
// pack's retrieved file set; container/heap's heap.Interface is the
// concrete idiom adopted here).
package timerwheel

import (
	"container/heap"
	"sync"
	"time"
)

// Notifier is implemented by the scheduler: MakeRunnable(processID)
// is called once a sleeping process's deadline has been reached.
type Notifier interface {
	MakeRunnable(processID int64)
}

type entry struct {
	deadline   time.Time
	processID  int64
	generation uint64
	index      int
}

// entryHeap implements container/heap.Interface ordered by deadline.
type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x interface{}) { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Wheel is the mutex-guarded deadline heap plus its draining
// goroutine.
type Wheel struct {
	mu       sync.Mutex
	cond     *sync.Cond
	heap     entryHeap
	gen      map[int64]uint64
	notifier Notifier

	stop    chan struct{}
	stopped bool
	done    chan struct{}
}

// New creates a timer wheel delivering fired deadlines to notifier.
func New(notifier Notifier) *Wheel {
	w := &Wheel{
		gen:      make(map[int64]uint64),
		notifier: notifier,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Sleep pushes (deadline, processID, generation); setting the
// process's WaitingForTimeout status is the caller's responsibility
// (spec.md §4.5 sleep). Returns the generation assigned to this entry.
// Cancel takes only the process ID and invalidates whichever sleep is
// pending for it.
func (w *Wheel) Sleep(processID int64, deadline time.Time) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	gen := w.gen[processID] + 1
	w.gen[processID] = gen

	wasEarliest := w.heap.Len() == 0 || deadline.Before(w.heap[0].deadline)
	heap.Push(&w.heap, &entry{deadline: deadline, processID: processID, generation: gen})
	if wasEarliest {
		w.cond.Signal()
	}
	return gen
}

// Cancel invalidates processID's pending sleep by bumping its
// generation counter; the stale heap entry is discarded when popped,
// with no structural removal needed (spec.md §4.5).
func (w *Wheel) Cancel(processID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gen[processID]++
}

// Run is the dedicated timer goroutine: it sleeps until the next
// deadline or until Sleep signals an earlier one, firing every
// non-stale entry whose deadline has passed.
func (w *Wheel) Run() {
	defer close(w.done)
	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		if w.stopped {
			return
		}
		if w.heap.Len() == 0 {
			w.cond.Wait()
			continue
		}

		next := w.heap[0]
		now := time.Now()
		if !next.deadline.After(now) {
			heap.Pop(&w.heap)
			if w.gen[next.processID] == next.generation {
				w.mu.Unlock()
				w.notifier.MakeRunnable(next.processID)
				w.mu.Lock()
			}
			continue
		}

		wait := next.deadline.Sub(now)
		w.waitOrSignal(wait)
	}
}

// waitOrSignal blocks the caller (which holds w.mu) for at most wait,
// waking early if Sleep signals an earlier deadline. Implemented with
// a timer goroutine that signals the same condvar, since sync.Cond
// has no timed wait.
func (w *Wheel) waitOrSignal(wait time.Duration) {
	timer := time.AfterFunc(wait, func() {
		w.mu.Lock()
		w.cond.Signal()
		w.mu.Unlock()
	})
	w.cond.Wait()
	timer.Stop()
}

// Stop halts the timer goroutine.
func (w *Wheel) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.cond.Signal()
	w.mu.Unlock()
	<-w.done
}

// Len reports the number of pending (possibly stale) entries, used by
// tests.
func (w *Wheel) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.heap.Len()
}
