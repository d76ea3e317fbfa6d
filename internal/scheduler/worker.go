package scheduler

import (
	"context"
	"time"

	"github.com/embervm/ember/internal/mailbox"
	"github.com/embervm/ember/internal/process"
)

// fairnessQuantum bounds how many processes a worker drains from the
// global queue before returning to its own local deque, so one busy
// worker cannot starve the rest of the global queue (spec.md §4.6
// selection order step 2).
const fairnessQuantum = 4

// parkTimeout bounds how long an idle worker waits on its condition
// variable before re-checking for stop/new work, avoiding a missed
// wakeup from permanently hanging the worker.
const parkTimeout = 10 * time.Millisecond

// worker is one OS-thread-equivalent goroutine running the scheduler
// loop of spec.md §4.6.
type worker struct {
	id    int
	sched *Scheduler
	rq    runQueue
	wake  chan struct{}
}

func (w *worker) wakeUp() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// loop implements the four-step selection order of spec.md §4.6:
// pop local, poll global, steal from a peer, park.
func (w *worker) loop() {
	defer w.sched.wg.Done()
	for {
		select {
		case <-w.sched.stopCh:
			return
		default:
		}

		p := w.rq.popOwner()
		if p == nil {
			p = w.pollGlobal()
		}
		if p == nil {
			p = w.stealFromPeer()
		}
		if p == nil {
			w.park()
			continue
		}

		w.run(p)
	}
}

func (w *worker) pollGlobal() *process.Process {
	batch := w.sched.global.popBatch(fairnessQuantum)
	if len(batch) == 0 {
		return nil
	}
	for _, extra := range batch[1:] {
		w.rq.pushOwner(extra)
	}
	return batch[0]
}

func (w *worker) stealFromPeer() *process.Process {
	n := len(w.sched.workers)
	if n <= 1 {
		return nil
	}
	victim := randomPeer(w.id, n)
	return w.sched.workers[victim].rq.steal()
}

func (w *worker) park() {
	select {
	case <-w.wake:
	case <-time.After(parkTimeout):
	case <-w.sched.stopCh:
	}
}

// run executes one process's quantum, dispatching the resulting
// Outcome exactly as spec.md §4.6's state-transition diagram
// prescribes.
func (w *worker) run(p *process.Process) {
	if p.Is(process.Pinned) {
		if pinnedTo, _ := p.PinnedTo(); pinnedTo != w.id {
			// Never steal/run a pinned process on the wrong worker
			// (spec.md §4.6 Pinning). Put it back and move on.
			w.sched.workers[pinnedTo%len(w.sched.workers)].rq.pushOwner(p)
			w.sched.workers[pinnedTo%len(w.sched.workers)].wakeUp()
			return
		}
	}

	if refs := p.Heap.Finalisers; len(refs) > 0 {
		p.Heap.Finalisers = nil
		p.Mailbox.Send(mailbox.Message{Sender: p.ID, Payload: process.Finalisation{Refs: refs}})
	}

	p.Transition(process.Running)

	ctx := context.Background()
	outcome := w.sched.executor.RunQuantum(ctx, p, w.sched.cfg.ReductionQuota)

	switch outcome {
	case OutcomeYielded:
		p.Transition(process.Runnable)
		if !w.rq.pushOwner(p) {
			w.sched.global.push(p)
		}
	case OutcomeSuspended:
		// Executor already set the specific waiting status and
		// registered the process with the reactor/timer/mailbox.
	case OutcomeTerminated:
		w.sched.MarkTerminated(p)
	case OutcomePanicked:
		w.sched.MarkTerminated(p)
	case OutcomeGCDue:
		if w.sched.gc != nil {
			_ = w.sched.gc.CollectDue(p)
		}
		p.Transition(process.Runnable)
		if !w.rq.pushOwner(p) {
			w.sched.global.push(p)
		}
	}
}
