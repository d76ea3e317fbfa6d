// Package process implements spec.md §3's process type: private
// generational heap, register file + call-frame stack, mailbox,
// status bitflags, parked-reason, GC stats/thresholds, monotonic ID.
//
// Grounded on the teacher's runtime2.go `g` struct (stack/sched/status
// fields), narrowed to the subset spec.md actually names and
// generalized from a stack-switching goroutine to a register-window
// interpreted process.
package process

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/embervm/ember/internal/heapblock"
	"github.com/embervm/ember/internal/mailbox"
	"github.com/embervm/ember/internal/procheap"
	"github.com/embervm/ember/internal/value"
)

// Status is a bitflag word; spec.md §3 calls out that a process's
// state belongs to exactly one of {Runnable, Running, WaitingForIo,
// WaitingForTimeout, WaitingForMessage, Terminated} while Pinned is
// an orthogonal flag.
type Status uint32

const (
	Runnable Status = 1 << iota
	Running
	WaitingForMessage
	WaitingForIo
	WaitingForTimeout
	Pinned
	Terminating
	Terminated
	Main
)

const exclusiveMask = Runnable | Running | WaitingForMessage | WaitingForIo | WaitingForTimeout | Terminating | Terminated

// ParkedReason records why a process is parked: which fd, which
// deadline, which sender filter (spec.md §3).
type ParkedReason struct {
	FD           int
	HasFD        bool
	Deadline     time.Time
	SenderFilter func(mailbox.Message) bool
}

// idSeq is the process-monotonic identifier generator (spec.md §3).
var idSeq int64

// NextID allocates a fresh monotonic process identifier.
func NextID() int64 { return atomic.AddInt64(&idSeq, 1) }

// Panic is a process-level fault record (spec.md §4.7, §7).
type Panic struct {
	Message    string
	StackTrace []FrameTrace
}

// FrameTrace is one captured frame in a panic's stack trace.
type FrameTrace struct {
	Module      string
	Method      string
	Instruction int
}

// Finalisation is the mailbox payload delivered to a process that owns
// objects a GC found finalisable and unreached, queued for delivery on
// the owning process's next scheduling (spec.md §4.3 phase 5).
type Finalisation struct {
	Refs []value.Ref
}

// Process is one lightweight, isolated green task.
type Process struct {
	ID int64

	mu     sync.Mutex
	status Status
	pinTo  int // worker index this process is pinned to, valid when Pinned is set
	pinCnt int // nesting counter (spec.md §4.6 Pinning)

	Parked ParkedReason

	Heap    *procheap.Heap
	Mailbox *mailbox.Mailbox

	Registers []value.Ref
	Frames    []*Frame

	Reductions int // remaining instruction budget for the current quantum

	// LinkedWatcher, if non-zero, is a process ID notified of this
	// process's panic when it terminates (spec.md §3 Lifecycle:
	// "watchers are notified"; spec.md §4.7 Panics: "reported on the
	// spawner's mailbox ... or to stderr if no watcher", S5).
	LinkedWatcher int64
	HasWatcher    bool

	LastPanic *Panic

	// LastThrow records the message of the most recently thrown value
	// that *was* caught, for diagnostics and tests; a catch handler
	// register itself only receives a truthy marker since the value
	// model has no string heap type (spec.md §1 leaves string/byte
	// object representations to the out-of-scope compiler).
	LastThrow string

	// AsyncPending/PendingAsyncValue/PendingAsyncErr let a blocking-pool
	// or FFI completion callback hand its result back to the
	// interpreter: the suspending instruction (I/O, FFI) is re-dispatched
	// unchanged on resume, observes AsyncPending set, consumes the
	// result, and clears it (mirrors how a parked Receive re-dispatches
	// on resume rather than advancing past itself).
	AsyncPending      bool
	PendingAsyncValue value.Ref
	PendingAsyncErr   string

	MustYield int32 // set by the scheduler (GC due, preempt, shutdown); checked at safepoints

	// Main marks the process cmd/ember spawned from its image's entry
	// point. A panic on this process is the only one the host process
	// surfaces as a non-zero exit rather than just a watcher mailbox
	// message (spec.md §4.7 Panics).
	Main bool

	terminationHook func()
}

// SetTerminationHook installs a callback the scheduler invokes once,
// from MarkTerminated, after this process has fully terminated.
// Mirrors SetWakeupHook's construction-order-breaking role, used by
// cmd/ember to block until its main process exits.
func (p *Process) SetTerminationHook(hook func()) { p.terminationHook = hook }

// RunTerminationHook invokes the installed termination hook, if any.
func (p *Process) RunTerminationHook() {
	if p.terminationHook != nil {
		p.terminationHook()
	}
}

// New creates a freshly-spawned, Runnable process with its own heap
// drawn from pool.
func New(pool *heapblock.Pool, registerCount int) *Process {
	p := &Process{
		ID:        NextID(),
		status:    Runnable,
		Heap:      procheap.New(pool),
		Registers: make([]value.Ref, registerCount),
	}
	p.Mailbox = mailbox.New(nil) // wakeup hook installed by the scheduler after construction
	return p
}

// SetWakeupHook installs the mailbox wakeup callback once the process
// is registered with a scheduler (avoids a construction-order cycle
// between process.New and the scheduler).
func (p *Process) SetWakeupHook(hook mailbox.WakeupHook) {
	p.Mailbox.SetWakeupHook(hook)
}

// Status returns the current status word.
func (p *Process) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Transition atomically swaps the exclusive status bits to next,
// preserving the Pinned flag, and returns the previous status. The
// only transition it rejects is one out of Terminated.
func (p *Process) Transition(next Status) Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.status
	if prev&Terminated != 0 {
		return prev
	}
	pinned := prev & Pinned
	p.status = (next &^ Pinned) | pinned
	return prev
}

// Is reports whether every bit in mask is set in the current status.
func (p *Process) Is(mask Status) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status&mask == mask
}

// Pin increments the pinning nesting counter, binding the process to
// workerIndex on first pin (spec.md §4.6 Pinning).
func (p *Process) Pin(workerIndex int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pinCnt == 0 {
		p.pinTo = workerIndex
		p.status |= Pinned
	}
	p.pinCnt++
}

// Unpin decrements the nesting counter, releasing the pin at zero.
func (p *Process) Unpin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pinCnt == 0 {
		return
	}
	p.pinCnt--
	if p.pinCnt == 0 {
		p.status &^= Pinned
	}
}

// PinnedTo reports the worker index this process is pinned to, and
// whether it is pinned at all.
func (p *Process) PinnedTo() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pinTo, p.status&Pinned != 0
}

// RequestYield sets MustYield so the interpreter's next safepoint
// returns control to the worker (spec.md §4.7 Suspension safety).
func (p *Process) RequestYield() { atomic.StoreInt32(&p.MustYield, 1) }

// ClearYield resets MustYield once the worker has regained control.
func (p *Process) ClearYield() { atomic.StoreInt32(&p.MustYield, 0) }

// ShouldYield is the safepoint check itself.
func (p *Process) ShouldYield() bool { return atomic.LoadInt32(&p.MustYield) != 0 }

// PushFrame pushes a new call frame (spec.md §3 Call frame).
func (p *Process) PushFrame(f *Frame) { p.Frames = append(p.Frames, f) }

// PopFrame pops and returns the top call frame, or nil if none.
func (p *Process) PopFrame() *Frame {
	n := len(p.Frames)
	if n == 0 {
		return nil
	}
	f := p.Frames[n-1]
	p.Frames = p.Frames[:n-1]
	return f
}

// TopFrame returns the currently executing frame, or nil.
func (p *Process) TopFrame() *Frame {
	if len(p.Frames) == 0 {
		return nil
	}
	return p.Frames[len(p.Frames)-1]
}

// DropAllFrames unwinds every frame, used on panic (spec.md §4.7).
func (p *Process) DropAllFrames() { p.Frames = nil }
