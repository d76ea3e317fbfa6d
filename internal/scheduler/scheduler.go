package scheduler

import (
	"context"
	"math/rand"
	"sync"

	"github.com/embervm/ember/internal/mailbox"
	"github.com/embervm/ember/internal/process"
	"github.com/embervm/ember/internal/reactor"
	"github.com/embervm/ember/internal/timerwheel"
	"github.com/rs/zerolog"
)

// Outcome is what happened to a process after one call to
// Executor.RunQuantum.
type Outcome int

const (
	// OutcomeYielded means the process reached an explicit yield or
	// exhausted its reduction budget; it goes back on a run queue.
	OutcomeYielded Outcome = iota
	// OutcomeSuspended means the executor already parked the process
	// (IO/timer/mailbox) and registered it with the relevant
	// subsystem; the scheduler takes no further action.
	OutcomeSuspended
	// OutcomeTerminated means the process returned from its entry
	// frame or was explicitly terminated.
	OutcomeTerminated
	// OutcomePanicked means an interpreter fault unwound the process.
	OutcomePanicked
	// OutcomeGCDue means the process's allocation thresholds fired;
	// the scheduler runs a collection before rescheduling it.
	OutcomeGCDue
)

// Executor runs one scheduling quantum for a process, charging at
// most budget reductions (spec.md §4.6 Quantum).
type Executor interface {
	RunQuantum(ctx context.Context, p *process.Process, budget int) Outcome
}

// GCRunner performs a young or mature collection for a process,
// chosen by whichever threshold fired.
type GCRunner interface {
	CollectDue(p *process.Process) error
}

// Config tunes the scheduler per spec.md §6's env vars.
type Config struct {
	Workers        int
	BlockingCap    int
	ReductionQuota int
}

// DefaultConfig gives one worker, a blocking-pool cap of 64 and a
// reduction quota of 4096; internal/config.FromEnv supplies the
// CPU-count worker default used by the VM.
func DefaultConfig() Config {
	return Config{Workers: 1, BlockingCap: 64, ReductionQuota: 4096}
}

// Scheduler owns the worker pool, global injection queue, blocking
// pool, and ties the reactor/timer wheel into process rescheduling.
type Scheduler struct {
	cfg Config
	log zerolog.Logger

	workers []*worker
	global  globalQueue
	block   *blockingPool

	executor Executor
	gc       GCRunner

	reactor *reactor.Reactor
	timer   *timerwheel.Wheel

	mu         sync.Mutex
	processes  map[int64]*process.Process
	terminated map[int64]bool

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a scheduler. The reactor and timer wheel are optional
// (nil is fine for tests that don't exercise I/O or sleep).
func New(cfg Config, executor Executor, gc GCRunner, r *reactor.Reactor, tw *timerwheel.Wheel, log zerolog.Logger) *Scheduler {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	s := &Scheduler{
		cfg:        cfg,
		log:        log,
		block:      newBlockingPool(cfg.BlockingCap),
		executor:   executor,
		gc:         gc,
		reactor:    r,
		timer:      tw,
		processes:  make(map[int64]*process.Process),
		terminated: make(map[int64]bool),
		stopCh:     make(chan struct{}),
	}
	s.workers = make([]*worker, cfg.Workers)
	for i := range s.workers {
		s.workers[i] = &worker{id: i, sched: s, wake: make(chan struct{}, 1)}
	}
	return s
}

// Start launches every worker goroutine.
func (s *Scheduler) Start() {
	for _, w := range s.workers {
		s.wg.Add(1)
		go w.loop()
	}
}

// Stop signals every worker to exit after its current quantum and
// waits for them to do so.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	for _, w := range s.workers {
		w.wakeUp()
	}
	s.wg.Wait()
}

// Spawn registers a freshly-created process and places it on the
// global injection queue (spec.md §4.6: spawning from a non-worker
// context always targets the global queue; SpawnFromWorker below
// handles the worker-context fast path).
func (s *Scheduler) Spawn(p *process.Process) {
	p.SetWakeupHook(func() { s.MakeRunnable(p.ID, nil) })
	s.mu.Lock()
	s.processes[p.ID] = p
	s.mu.Unlock()
	s.global.push(p)
	s.wakeAny()
}

// SpawnFromWorker registers p and pushes it directly onto workerID's
// local deque (falling back to the global queue), keeping the new
// process cache-hot on the same core, as the teacher's
// runqput(next=true) does for goroutines created by "go" statements.
// The interpreter's spawn instruction does not call it; it uses Spawn.
func (s *Scheduler) SpawnFromWorker(workerID int, p *process.Process) {
	p.SetWakeupHook(func() { s.MakeRunnable(p.ID, nil) })
	s.mu.Lock()
	s.processes[p.ID] = p
	s.mu.Unlock()
	if workerID >= 0 && workerID < len(s.workers) && s.workers[workerID].rq.pushOwner(p) {
		s.workers[workerID].wakeUp()
		return
	}
	s.global.push(p)
	s.wakeAny()
}

// MakeRunnable implements reactor.Notifier and timerwheel.Notifier,
// and is also used by the mailbox wakeup hook: it transitions a
// parked process back to Runnable and reschedules it, recording an
// error (e.g. ErrIOCancelled) for the interpreter to surface as a
// thrown value on the process's next instruction (spec.md §7).
func (s *Scheduler) MakeRunnable(processID int64, ioErr error) {
	s.mu.Lock()
	p, ok := s.processes[processID]
	term := s.terminated[processID]
	s.mu.Unlock()
	if !ok || term {
		return
	}
	if ioErr != nil {
		p.LastPanic = nil // cleared defensively; ioErr itself is surfaced by the interpreter's IO instruction family
	}
	p.Transition(process.Runnable)
	s.enqueueRunnable(p)
}

func (s *Scheduler) enqueueRunnable(p *process.Process) {
	if workerIdx, pinned := p.PinnedTo(); pinned {
		s.workers[workerIdx%len(s.workers)].rq.pushOwner(p)
		s.workers[workerIdx%len(s.workers)].wakeUp()
		return
	}
	s.global.push(p)
	s.wakeAny()
}

func (s *Scheduler) wakeAny() {
	for _, w := range s.workers {
		w.wakeUp()
	}
}

// SubmitBlocking hands fn to the blocking pool and, on completion,
// reschedules p (spec.md §4.6 Blocking offload).
func (s *Scheduler) SubmitBlocking(p *process.Process, fn func() error) {
	s.block.Submit(func() {
		err := fn()
		if err != nil {
			p.LastPanic = &process.Panic{Message: err.Error()}
		}
		p.Transition(process.Runnable)
		s.enqueueRunnable(p)
	})
}

// Lookup returns the live process registered under id, if any. Used
// by the interpreter's send instruction to deep-copy directly into
// the target's own heap (spec.md §4.7: sends never share memory
// across processes).
func (s *Scheduler) Lookup(id int64) (*process.Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[id]
	if !ok || s.terminated[id] {
		return nil, false
	}
	return p, true
}

// SendTo delivers msg to targetID's mailbox, used by the interpreter's
// send instruction (spec.md §4.7 Send). Reports false if the target
// does not exist or has already terminated, so the interpreter can
// surface that as a thrown value rather than silently dropping it.
func (s *Scheduler) SendTo(targetID int64, msg mailbox.Message) bool {
	s.mu.Lock()
	p, ok := s.processes[targetID]
	term := s.terminated[targetID]
	s.mu.Unlock()
	if !ok || term {
		return false
	}
	p.Mailbox.Send(msg)
	return true
}

// MarkTerminated records p as terminated and drains bookkeeping,
// implementing spec.md §3's Lifecycle: its heap blocks are returned to
// the global pool, its mailbox is drained, and its watcher (if any) is
// notified.
func (s *Scheduler) MarkTerminated(p *process.Process) {
	p.Transition(process.Terminated)
	drained := p.Mailbox.Drain()
	_ = drained
	p.Heap.ReleaseAll()

	s.mu.Lock()
	s.terminated[p.ID] = true
	s.mu.Unlock()

	if p.LastPanic != nil {
		var watcher *process.Process
		ok := false
		if p.HasWatcher {
			s.mu.Lock()
			watcher, ok = s.processes[p.LinkedWatcher]
			s.mu.Unlock()
		}
		if ok {
			watcher.Mailbox.Send(panicMessage(p))
		} else {
			s.log.Error().Int64("process", p.ID).Str("panic", p.LastPanic.Message).Msg("unwatched process panicked")
		}
	}

	p.RunTerminationHook()
}

// Reactor exposes the wired I/O reactor, if any, for the interpreter's
// I/O instruction family.
func (s *Scheduler) Reactor() *reactor.Reactor { return s.reactor }

// Timer exposes the wired timer wheel, if any, for the interpreter's
// sleep instruction.
func (s *Scheduler) Timer() *timerwheel.Wheel { return s.timer }

// SetReactor and SetTimer attach the reactor/timer wheel after
// construction. They exist to break the construction cycle where the
// reactor and timer wheel each need a Notifier that is the scheduler
// itself: callers build the Scheduler first (with a nil reactor/timer,
// already supported by New), then the reactor/timer wheel against it,
// then attach them here before Start. Not safe to call after Start.
func (s *Scheduler) SetReactor(r *reactor.Reactor) { s.reactor = r }
func (s *Scheduler) SetTimer(tw *timerwheel.Wheel)  { s.timer = tw }

// LiveProcessCount reports how many spawned processes have not yet
// terminated, used by S1's leak-check assertion alongside the block
// pool's LiveCount.
func (s *Scheduler) LiveProcessCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := 0
	for id := range s.processes {
		if !s.terminated[id] {
			live++
		}
	}
	return live
}

// pick a random peer index != self, used by steal.
func randomPeer(self, n int) int {
	if n <= 1 {
		return self
	}
	i := rand.Intn(n - 1)
	if i >= self {
		i++
	}
	return i
}

// panicMessage wraps a terminated process's panic record as a mailbox
// message addressed to its watcher (spec.md §4.7 Panics, S5).
func panicMessage(p *process.Process) mailbox.Message {
	return mailbox.Message{Sender: p.ID, Payload: *p.LastPanic}
}

// TimerNotifier adapts Scheduler to timerwheel.Notifier's single-
// argument signature (reactor.Notifier additionally carries an I/O
// error, which a fired sleep never has).
type TimerNotifier struct{ S *Scheduler }

// MakeRunnable implements timerwheel.Notifier.
func (t TimerNotifier) MakeRunnable(processID int64) { t.S.MakeRunnable(processID, nil) }
