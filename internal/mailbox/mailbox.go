// Package mailbox implements the per-process MPSC message queue of
// spec.md §3/§4.7: any number of sender processes, exactly one
// receiver (the owning process), FIFO per (sender, receiver) pair.
//
// Grounded on the teacher's chan.go (hchan send/recv, sudog wait
// list), generalized from a synchronous rendezvous channel to an
// unbounded, always-buffered mailbox since spec.md says sends never
// block the sender.
package mailbox

import "sync"

// WakeupHook is called when a message arrives at a mailbox that was
// empty and whose owner was parked WaitingForMessage (spec.md §4.7
// Send rule 1). It is the scheduler's hook to mark the process
// Runnable and reschedule it.
type WakeupHook func()

// Message is one delivered value together with its sender, needed to
// preserve per-(sender,receiver) FIFO ordering guarantees under
// concurrent senders (spec.md §5).
type Message struct {
	Sender  int64
	Payload interface{} // a deep copy of the sent value.Ref graph, or a permanent reference
}

// Mailbox is an unbounded MPSC queue of Message.
type Mailbox struct {
	mu      sync.Mutex
	queue   []Message
	waiting bool // true while the owner is parked WaitingForMessage
	onWake  WakeupHook
}

// New creates an empty mailbox. onWake may be nil (e.g. in tests);
// Send only invokes it while the owner is parked.
func New(onWake WakeupHook) *Mailbox {
	return &Mailbox{onWake: onWake}
}

// SetWakeupHook installs or replaces the wakeup callback, used once a
// process is registered with a scheduler after construction.
func (m *Mailbox) SetWakeupHook(hook WakeupHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWake = hook
}

// Send enqueues msg. If the owner is currently parked
// WaitingForMessage, it marks the owner Runnable via onWake
// (spec.md §4.7 Send). Deep-copying the payload before calling Send
// is the caller's (interpreter's) responsibility, per spec.md §4.7.
func (m *Mailbox) Send(msg Message) {
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	wasWaiting := m.waiting
	m.waiting = false
	hook := m.onWake
	m.mu.Unlock()

	if wasWaiting && hook != nil {
		hook()
	}
}

// Receive pops the oldest message. If the mailbox is empty, it marks
// the mailbox as awaiting a wakeup and returns ok=false; the caller
// must then set the process's WaitingForMessage status and return
// control to the scheduler (spec.md §4.7 Receive).
func (m *Mailbox) Receive() (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		m.waiting = true
		return Message{}, false
	}
	msg := m.queue[0]
	m.queue = m.queue[1:]
	return msg, true
}

// ReceiveFiltered pops the oldest message matching pred, supporting a
// receive with a sender filter (spec.md §3's parked-reason
// "which sender filter"). Messages that don't match stay queued in
// order.
func (m *Mailbox) ReceiveFiltered(pred func(Message) bool) (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, msg := range m.queue {
		if pred(msg) {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return msg, true
		}
	}
	m.waiting = true
	return Message{}, false
}

// Len reports the number of queued messages, used by tests and the
// metrics surface.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Peek returns a snapshot of every currently queued message without
// removing them, used by the GC's root enumeration (spec.md §8
// invariant 1: mailbox contents are reachable roots).
func (m *Mailbox) Peek() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.queue))
	copy(out, m.queue)
	return out
}

// Drain removes and returns every queued message, used when a
// process terminates (spec.md §3 Lifecycle: "its mailbox is
// drained").
func (m *Mailbox) Drain() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.queue
	m.queue = nil
	return out
}
