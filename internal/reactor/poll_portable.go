// Package reactor's portable fallback. Linux deployments use the
// epoll implementation (epoll_linux.go); this file backs tests and
// non-Linux builds with a select()-less, poll-by-scanning
// implementation that asks a caller-supplied probe per fd instead of
// a raw readiness syscall.
package reactor

import (
	"fmt"
	"sync"
	"time"
)

// PortableMultiplexer polls each registered fd's readiness via a
// caller-supplied probe function, since the standard library has no
// portable raw-fd readiness primitive. Tests use it, and internal/vm
// selects it on non-Linux builds and when epoll_create1 fails; an fd
// with no registered probe cannot be parked on.
type PortableMultiplexer struct {
	mu    sync.Mutex
	probe map[int]Probe
}

// Probe reports whether fd is currently readable/writable/erroring.
// Tests supply a fake; a real portable build would wrap
// golang.org/x/sys/unix.Poll per-OS.
type Probe func(fd int) (readable, writable bool, err error)

// NewPortableMultiplexer creates a fallback multiplexer with no fds
// registered yet.
func NewPortableMultiplexer() *PortableMultiplexer {
	return &PortableMultiplexer{probe: make(map[int]Probe)}
}

// Register installs the readiness probe for fd; must be called before
// Add for that fd actually produces events.
func (m *PortableMultiplexer) Register(fd int, p Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probe[fd] = p
}

// Add is a no-op beyond bookkeeping: PortableMultiplexer has no
// kernel-side registration step.
func (m *PortableMultiplexer) Add(fd int, cond Condition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.probe[fd]; !ok {
		return fmt.Errorf("reactor: fd %d has no registered probe", fd)
	}
	return nil
}

// Remove forgets fd entirely.
func (m *PortableMultiplexer) Remove(fd int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.probe, fd)
	return nil
}

// Wait polls every registered probe once per tick until something is
// ready or timeout elapses.
func (m *PortableMultiplexer) Wait(timeout time.Duration) ([]ReadyEvent, error) {
	deadline := time.Now().Add(timeout)
	if timeout <= 0 {
		deadline = time.Now().Add(24 * time.Hour)
	}
	for {
		m.mu.Lock()
		var out []ReadyEvent
		for fd, p := range m.probe {
			r, w, err := p(fd)
			if r || w || err != nil {
				out = append(out, ReadyEvent{FD: fd, Read: r, Write: w, Err: err})
			}
		}
		m.mu.Unlock()
		if len(out) > 0 || time.Now().After(deadline) {
			return out, nil
		}
		time.Sleep(time.Millisecond)
	}
}
