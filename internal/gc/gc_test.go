package gc

import (
	"context"
	"testing"

	"github.com/embervm/ember/internal/heapblock"
	"github.com/embervm/ember/internal/procheap"
	"github.com/embervm/ember/internal/value"
	"github.com/stretchr/testify/require"
)

// fakeGraph is a tiny in-memory object graph used to exercise the
// tracer without a real interpreter/heap wired up.
type fakeGraph struct {
	children map[value.Ref][]value.Ref
	headers  map[value.Ref]*value.Header
	roots    []value.Ref
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		children: make(map[value.Ref][]value.Ref),
		headers:  make(map[value.Ref]*value.Header),
	}
}

func (g *fakeGraph) add(r value.Ref, gen value.Generation, children ...value.Ref) {
	h := value.NewHeader(0, gen)
	g.headers[r] = &h
	g.children[r] = children
}

func (g *fakeGraph) GCRoots(young bool) []value.Ref { return g.roots }
func (g *fakeGraph) ObjectChildren(r value.Ref) []value.Ref {
	return g.children[r]
}
func (g *fakeGraph) Header(r value.Ref) *value.Header { return g.headers[r] }

func TestYoungGCTracesReachableAndPromotesOnSecondSurvival(t *testing.T) {
	graph := newFakeGraph()
	graph.add(100, value.GenEden, 200)
	graph.add(200, value.GenEden)
	graph.roots = []value.Ref{100}

	h := procheap.New(heapblock.NewPool(1))
	c := New(h, graph, 2)

	stats, err := c.YoungGC(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.Traced)
	require.Equal(t, value.GenSurvivor, graph.Header(100).Generation())
	require.Equal(t, value.GenSurvivor, graph.Header(200).Generation())

	// Second collection that still reaches both should promote them.
	stats, err = c.YoungGC(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.Promoted)
	require.Equal(t, value.GenMature, graph.Header(100).Generation())
}

func TestYoungGCDoesNotTraceUnreachableObjects(t *testing.T) {
	graph := newFakeGraph()
	graph.add(1, value.GenEden)
	graph.add(2, value.GenEden) // unreachable: not a root, no one points to it
	graph.roots = []value.Ref{1}

	h := procheap.New(heapblock.NewPool(1))
	c := New(h, graph, 1)

	stats, err := c.YoungGC(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Traced)
}

func TestIdempotentYoungGCWithNoAllocations(t *testing.T) {
	graph := newFakeGraph()
	graph.add(1, value.GenEden)
	graph.roots = []value.Ref{1}

	h := procheap.New(heapblock.NewPool(1))
	c := New(h, graph, 1)

	first, err := c.YoungGC(context.Background())
	require.NoError(t, err)
	second, err := c.YoungGC(context.Background())
	require.NoError(t, err)
	require.Equal(t, first.Traced, second.Traced)
}
