package gc

import (
	"testing"

	"github.com/embervm/ember/internal/heapblock"
	"github.com/embervm/ember/internal/heapobj"
	"github.com/embervm/ember/internal/process"
	"github.com/embervm/ember/internal/value"
	"github.com/stretchr/testify/require"
)

func TestManagerCollectDueRunsYoungGCWhenThresholdFires(t *testing.T) {
	pool := heapblock.NewPool(1)
	p := process.New(pool, 2)
	p.Heap.Thresholds.Young = 1

	class, _ := value.FromInt(1)
	obj, err := heapobj.Alloc(p.Heap, class, 0, false)
	require.NoError(t, err)
	p.Registers[0] = obj

	require.True(t, p.Heap.YoungGCDue())

	m := NewManager(1)
	require.NoError(t, m.CollectDue(p))

	require.False(t, p.Heap.YoungGCDue())
}

func TestManagerCollectDueNoopWhenNotDue(t *testing.T) {
	pool := heapblock.NewPool(1)
	p := process.New(pool, 1)
	m := NewManager(1)
	require.NoError(t, m.CollectDue(p))
}
