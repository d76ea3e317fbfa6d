package heapblock

import (
	"sync"
	"sync/atomic"
)

// DefaultChunkBlocks is the number of blocks carved from a single
// Go-heap chunk allocation when the free-list runs dry (spec.md §4.1
// default).
const DefaultChunkBlocks = 16

// Pool is the process-global free-list of blocks, backed by Go-heap
// chunks allocated in batches to amortise allocation overhead the way
// the teacher's mheap.grow amortises mmap syscalls.
type Pool struct {
	mu         sync.Mutex
	free       *Block
	chunkSize  int
	totalCount int64 // blocks ever carved, for metrics/tests
	liveCount  int64 // blocks currently outside the free-list

	permMu  sync.Mutex
	permBuf []byte
	permOff int
}

// NewPool creates a block pool that grows by chunkSize blocks at a
// time (0 selects DefaultChunkBlocks).
func NewPool(chunkSize int) *Pool {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkBlocks
	}
	return &Pool{chunkSize: chunkSize}
}

// Acquire pops a block from the free-list, growing the pool by one
// chunk if it is empty, and classifies it into bucket.
func (p *Pool) Acquire(bucket Bucket) (*Block, error) {
	p.mu.Lock()
	if p.free == nil {
		if err := p.growLocked(); err != nil {
			p.mu.Unlock()
			return nil, err
		}
	}
	b := p.free
	p.free = b.next
	b.next = nil
	p.mu.Unlock()

	b.reset()
	b.SetBucket(bucket)
	atomic.AddInt64(&p.liveCount, 1)
	return b, nil
}

// growLocked allocates one chunk of fresh blocks and pushes them onto
// the free-list. Caller must hold p.mu.
func (p *Pool) growLocked() error {
	blocks := make([]Block, p.chunkSize)
	for i := range blocks {
		blocks[i].next = p.free
		p.free = &blocks[i]
	}
	atomic.AddInt64(&p.totalCount, int64(p.chunkSize))
	return nil
}

// Release pushes a fully-swept, empty block back onto the free-list
// (spec.md §4.1, O(1)).
func (p *Pool) Release(b *Block) {
	b.next = nil
	p.mu.Lock()
	b.next = p.free
	p.free = b
	p.mu.Unlock()
	atomic.AddInt64(&p.liveCount, -1)
}

// LiveCount reports the number of blocks currently checked out of the
// pool, used by S1's "no heap blocks leak" assertion.
func (p *Pool) LiveCount() int64 { return atomic.LoadInt64(&p.liveCount) }

// defaultPermChunk is the granule the permanent arena grows by.
const defaultPermChunk = 1 << 20 // 1 MiB

// PermanentAllocate bump-allocates size bytes from the shared,
// never-released permanent space (spec.md §4.1). It never returns a
// block to any process; permanent objects are shared and immortal.
func (p *Pool) PermanentAllocate(size int) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	p.permMu.Lock()
	defer p.permMu.Unlock()

	if p.permOff+size > len(p.permBuf) {
		grow := defaultPermChunk
		for grow < size {
			grow *= 2
		}
		fresh := make([]byte, grow)
		p.permBuf = fresh
		p.permOff = 0
	}
	out := p.permBuf[p.permOff : p.permOff+size]
	p.permOff += size
	return out, nil
}
