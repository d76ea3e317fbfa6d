package procheap

import (
	"testing"

	"github.com/embervm/ember/internal/heapblock"
	"github.com/embervm/ember/internal/value"
	"github.com/stretchr/testify/require"
)

func TestAllocYoungBumpsWithinBlock(t *testing.T) {
	pool := heapblock.NewPool(2)
	h := New(pool)

	b1, off1, err := h.AllocYoung(64)
	require.NoError(t, err)
	require.NotNil(t, b1)
	require.Equal(t, 0, off1)

	b2, off2, err := h.AllocYoung(64)
	require.NoError(t, err)
	require.Same(t, b1, b2)
	require.NotEqual(t, off1, off2)
}

func TestAllocYoungAcquiresFreshBlockWhenFull(t *testing.T) {
	pool := heapblock.NewPool(4)
	h := New(pool)

	var blocks []*heapblock.Block
	for i := 0; i < heapblock.LinesPerBlock+1; i++ {
		b, _, err := h.AllocYoung(heapblock.LineSize)
		require.NoError(t, err)
		blocks = append(blocks, b)
	}
	require.NotSame(t, blocks[0], blocks[len(blocks)-1])
}

func TestThresholdsGrowAfterCollection(t *testing.T) {
	h := New(heapblock.NewPool(1))
	before := h.Thresholds.Young
	h.ResetYoungCounter(0.1) // low reclaim -> grow
	require.Greater(t, h.Thresholds.Young, before)

	before = h.Thresholds.Young
	h.ResetYoungCounter(0.9) // high reclaim -> shrink
	require.Less(t, h.Thresholds.Young, before)
}

func TestRecordStoreOnlyRemembersMatureToYoung(t *testing.T) {
	h := New(heapblock.NewPool(1))

	mature := value.NewHeader(0, value.GenMature)
	young := value.NewHeader(0, value.GenEden)

	h.RecordStore(2000, 8, &mature, 4000, &young)
	require.Len(t, h.Remembered, 1)

	h.RecordStore(2000, 8, &young, 4000, &young)
	require.Len(t, h.Remembered, 1)
}
