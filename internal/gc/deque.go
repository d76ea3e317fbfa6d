package gc

import (
	"sync"

	"github.com/embervm/ember/internal/value"
)

// sharedDeque is the tracer pool's work-stealing structure: each
// tracer owns a local LIFO deque it drains itself; an empty tracer
// steals FIFO from a peer (spec.md §4.3: "each tracer drains its
// local deque LIFO and steals FIFO").
type sharedDeque struct {
	mu    sync.Mutex
	lanes [][]value.Ref
}

func newSharedDeque(roots []value.Ref) *sharedDeque {
	d := &sharedDeque{}
	d.lanes = append(d.lanes, append([]value.Ref(nil), roots...))
	return d
}

// push adds work to t's own lane, growing the lane table if t is new.
func (d *sharedDeque) push(t *Tracer, r value.Ref) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.lanes) <= t.id {
		d.lanes = append(d.lanes, nil)
	}
	d.lanes[t.id] = append(d.lanes[t.id], r)
}

// pop drains t's own lane LIFO first; if empty, steals FIFO from the
// longest peer lane. ok is false only when all lanes are empty.
func (d *sharedDeque) pop(t *Tracer) (value.Ref, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t.id < len(d.lanes) && len(d.lanes[t.id]) > 0 {
		lane := d.lanes[t.id]
		r := lane[len(lane)-1]
		d.lanes[t.id] = lane[:len(lane)-1]
		return r, true
	}

	victim := -1
	longest := 0
	for i, lane := range d.lanes {
		if i == t.id {
			continue
		}
		if len(lane) > longest {
			longest = len(lane)
			victim = i
		}
	}
	if victim == -1 {
		return 0, false
	}
	lane := d.lanes[victim]
	r := lane[0]
	d.lanes[victim] = lane[1:]
	return r, true
}
