//go:build !linux

package vm

import "github.com/embervm/ember/internal/reactor"

// newMultiplexer selects the portable scanning backend on non-Linux
// targets, where epoll_linux.go's build tag excludes EpollMultiplexer
// from the build entirely.
func newMultiplexer() reactor.Multiplexer {
	return reactor.NewPortableMultiplexer()
}
