//go:build linux

package reactor

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// EpollMultiplexer is the edge-triggered Linux implementation of
// Multiplexer, grounded directly on the teacher's netpoll_epoll.go
// (epollcreate1/epollctl/epollwait).
type EpollMultiplexer struct {
	epfd int
}

// NewEpollMultiplexer creates an epoll instance (EPOLL_CLOEXEC set,
// matching the teacher's closeonexec call after epollcreate1).
func NewEpollMultiplexer() (*EpollMultiplexer, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	return &EpollMultiplexer{epfd: fd}, nil
}

func eventsFor(cond Condition) uint32 {
	switch cond {
	case Writable:
		return unix.EPOLLOUT | unix.EPOLLET
	case Hangup:
		return unix.EPOLLRDHUP | unix.EPOLLET
	default:
		return unix.EPOLLIN | unix.EPOLLET
	}
}

// Add registers fd for edge-triggered readiness on cond.
func (m *EpollMultiplexer) Add(fd int, cond Condition) error {
	ev := unix.EpollEvent{Events: eventsFor(cond), Fd: int32(fd)}
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		// Already registered (second condition on same fd): fall back
		// to MOD so both readable and writable interest are tracked.
		ev.Events |= unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLET
		return unix.EpollCtl(m.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	}
	return nil
}

// Remove deregisters fd.
func (m *EpollMultiplexer) Remove(fd int) error {
	return unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks in epoll_wait for up to timeout.
func (m *EpollMultiplexer) Wait(timeout time.Duration) ([]ReadyEvent, error) {
	events := make([]unix.EpollEvent, 128)
	ms := int(timeout / time.Millisecond)
	if timeout <= 0 {
		ms = -1
	}
	n, err := unix.EpollWait(m.epfd, events, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("reactor: epoll_wait: %w", err)
	}
	out := make([]ReadyEvent, 0, n)
	for i := 0; i < n; i++ {
		ev := events[i]
		re := ReadyEvent{FD: int(ev.Fd)}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			re.Err = fmt.Errorf("reactor: fd %d reported error/hangup", ev.Fd)
		}
		if ev.Events&unix.EPOLLIN != 0 {
			re.Read = true
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			re.Write = true
		}
		out = append(out, re)
	}
	return out, nil
}

// Close releases the epoll fd.
func (m *EpollMultiplexer) Close() error {
	return unix.Close(m.epfd)
}
