package heapblock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolAcquireReleaseRoundTrips(t *testing.T) {
	p := NewPool(4)

	b, err := p.Acquire(BucketEden)
	require.NoError(t, err)
	require.NotNil(t, b)
	require.Equal(t, BucketEden, b.Bucket())
	require.EqualValues(t, 1, p.LiveCount())

	p.Release(b)
	require.EqualValues(t, 0, p.LiveCount())
}

func TestPoolGrowsByChunk(t *testing.T) {
	p := NewPool(2)
	var acquired []*Block
	for i := 0; i < 5; i++ {
		b, err := p.Acquire(BucketMature)
		require.NoError(t, err)
		acquired = append(acquired, b)
	}
	require.EqualValues(t, 5, p.LiveCount())
	for _, b := range acquired {
		p.Release(b)
	}
	require.EqualValues(t, 0, p.LiveCount())
}

func TestBlockHoleTracking(t *testing.T) {
	p := NewPool(1)
	b, err := p.Acquire(BucketEden)
	require.NoError(t, err)

	start, length, ok := b.findHole(0)
	require.True(t, ok)
	require.Equal(t, 0, start)
	require.Equal(t, LinesPerBlock, length)

	b.markLinesInUse(0, 4)
	require.False(t, b.Empty())
	require.Equal(t, 1, b.FragmentationScore())

	nextStart, _, ok := b.findHole(0)
	require.True(t, ok)
	require.Equal(t, 4, nextStart)
}

func TestPermanentAllocateBumpsMonotonically(t *testing.T) {
	p := NewPool(1)
	a, err := p.PermanentAllocate(64)
	require.NoError(t, err)
	b, err := p.PermanentAllocate(64)
	require.NoError(t, err)
	require.Len(t, a, 64)
	require.Len(t, b, 64)
	// b is carved from the arena directly after a.
	require.True(t, &a[:cap(a)][64] == &b[0])
}
