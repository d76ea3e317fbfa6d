package process

import (
	"testing"

	"github.com/embervm/ember/internal/heapblock"
	"github.com/stretchr/testify/require"
)

func TestNewProcessIsRunnable(t *testing.T) {
	p := New(heapblock.NewPool(1), 16)
	require.True(t, p.Is(Runnable))
	require.False(t, p.Is(Running))
}

func TestTransitionRejectsLeavingTerminated(t *testing.T) {
	p := New(heapblock.NewPool(1), 16)
	p.Transition(Terminated)
	p.Transition(Runnable)
	require.True(t, p.Is(Terminated))
}

func TestPinNestingOnlyReleasesAtZero(t *testing.T) {
	p := New(heapblock.NewPool(1), 16)
	p.Pin(3)
	p.Pin(3)
	require.True(t, p.Is(Pinned))
	p.Unpin()
	require.True(t, p.Is(Pinned))
	p.Unpin()
	require.False(t, p.Is(Pinned))
}

func TestFrameStackPushPop(t *testing.T) {
	p := New(heapblock.NewPool(1), 16)
	f := &Frame{ModuleIndex: 1, MethodIndex: 2}
	p.PushFrame(f)
	require.Same(t, f, p.TopFrame())
	require.Same(t, f, p.PopFrame())
	require.Nil(t, p.TopFrame())
}

func TestCatchTableFindsInnermostHandler(t *testing.T) {
	f := &Frame{CatchTable: []CatchEntry{
		{StartPC: 0, EndPC: 100, HandlerPC: 200, HandlerReg: 0},
		{StartPC: 10, EndPC: 20, HandlerPC: 300, HandlerReg: 1},
	}}
	e, ok := f.HandlerFor(15)
	require.True(t, ok)
	require.Equal(t, 300, e.HandlerPC)

	e, ok = f.HandlerFor(50)
	require.True(t, ok)
	require.Equal(t, 200, e.HandlerPC)

	_, ok = f.HandlerFor(500)
	require.False(t, ok)
}
