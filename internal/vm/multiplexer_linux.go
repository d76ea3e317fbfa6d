//go:build linux

package vm

import "github.com/embervm/ember/internal/reactor"

// newMultiplexer selects the real epoll backend on Linux, falling
// back to the portable scanning implementation only if epoll_create1
// itself fails (e.g. a restrictive seccomp sandbox).
func newMultiplexer() reactor.Multiplexer {
	mux, err := reactor.NewEpollMultiplexer()
	if err != nil {
		return reactor.NewPortableMultiplexer()
	}
	return mux
}
