// Package heapblock implements the 32 KB block allocation granule and
// the process-global block pool described in spec.md §4.1.
//
// Grounded on the teacher's mheap.go (mheap.alloc/grow, mSpanList) for
// the free-list-over-OS-chunks shape, and mfixalloc.go for the
// lazy-zero-on-reuse idea applied here to line bitmaps instead of
// fixed-size structs.
package heapblock

import "errors"

// BlockSize is the fixed allocation granule (spec.md §3).
const BlockSize = 32 * 1024

// LineSize is the sub-block tracking unit (spec.md §3, "~256 B").
const LineSize = 256

// LinesPerBlock is the number of lines a block is divided into.
const LinesPerBlock = BlockSize / LineSize

// Bucket classifies a block by generation, as spec.md §3 requires.
type Bucket uint8

const (
	BucketEden Bucket = iota
	BucketSurvivorA
	BucketSurvivorB
	BucketMature
	BucketPermanent
	BucketLarge
)

// ErrOutOfMemory is returned when the OS refuses to back a new chunk
// of blocks (spec.md §7, Allocation failure).
var ErrOutOfMemory = errors.New("heapblock: out of memory")

// lineState values, one per line in Block.lines.
type lineState uint8

const (
	lineFree lineState = iota
	lineRecentlyUsed
	lineInUse
)

// Block is the 32 KB allocation granule. Exactly one process owns a
// non-permanent block at a time (spec.md §3 invariant).
type Block struct {
	data   [BlockSize]byte
	lines  [LinesPerBlock]lineState // free/recently-used/in-use per line
	marks  [LinesPerBlock]bool      // object bitmap, one bit per line's first object (approximation of a true per-object bitmap)
	bucket Bucket
	holes  [LinesPerBlock + 1]int // holes-count histogram, indexed by hole length in lines

	// bump is the current allocation cursor; used only while the
	// owning process is actively bump-allocating into this block.
	bump int

	// next chains blocks within a process's bucket list, or within
	// the global pool's free-list.
	next *Block
}

// Bucket reports the block's current generation classification.
func (b *Block) Bucket() Bucket { return b.bucket }

// SetBucket reclassifies the block, e.g. when a survivor block is
// promoted wholesale or a fresh block is carved from the pool.
func (b *Block) SetBucket(bk Bucket) { b.bucket = bk }

// reset zeros the line/mark bitmaps lazily, as spec.md §4.1 specifies
// ("zeroed lazily on next acquire"). Object payload bytes are left
// untouched until something bump-allocates over them.
func (b *Block) reset() {
	for i := range b.lines {
		b.lines[i] = lineFree
		b.marks[i] = false
	}
	for i := range b.holes {
		b.holes[i] = 0
	}
	b.holes[LinesPerBlock] = 1
	b.bump = 0
}

// Data exposes the raw byte storage for bump allocation.
func (b *Block) Data() []byte { return b.data[:] }

// findHole scans the line bitmap for the next maximal run of free
// lines at or after fromLine, returning its start line and length in
// lines. ok is false if no hole remains.
func (b *Block) findHole(fromLine int) (start, length int, ok bool) {
	i := fromLine
	for i < LinesPerBlock {
		if b.lines[i] != lineFree {
			i++
			continue
		}
		start = i
		for i < LinesPerBlock && b.lines[i] == lineFree {
			i++
		}
		return start, i - start, true
	}
	return 0, 0, false
}

// markLinesInUse flags [startLine, startLine+nLines) as occupied.
func (b *Block) markLinesInUse(startLine, nLines int) {
	for i := startLine; i < startLine+nLines && i < LinesPerBlock; i++ {
		b.lines[i] = lineInUse
	}
}

// FindHoleFrom is the exported form of findHole, used by procheap's
// bump allocator.
func (b *Block) FindHoleFrom(fromLine int) (start, length int, ok bool) {
	return b.findHole(fromLine)
}

// MarkInUse is the exported form of markLinesInUse.
func (b *Block) MarkInUse(startLine, nLines int) {
	b.markLinesInUse(startLine, nLines)
}

// Empty reports whether every line in the block is free, i.e. the
// block can be released to the global pool during sweep (spec.md
// §4.3 phase 4).
func (b *Block) Empty() bool {
	for _, s := range b.lines {
		if s != lineFree {
			return false
		}
	}
	return true
}

// MarkLineRecentlyUsed downgrades an in-use line to recently-used
// during sweep, so the next GC cycle can distinguish lines that
// survived from ones newly allocated since.
func (b *Block) MarkLineRecentlyUsed(line int) {
	if line >= 0 && line < LinesPerBlock {
		b.lines[line] = lineRecentlyUsed
	}
}

// FreeLine marks a single line free again during sweep.
func (b *Block) FreeLine(line int) {
	if line >= 0 && line < LinesPerBlock {
		b.lines[line] = lineFree
	}
}

// LineOf returns the line index containing byte offset off.
func LineOf(off int) int { return off / LineSize }

// FragmentationScore is the count of distinct holes, a cheap proxy
// for whether a block is worth evacuating (spec.md §4.3 phase 3).
func (b *Block) FragmentationScore() int {
	holes := 0
	inHole := false
	for _, s := range b.lines {
		if s == lineFree {
			if !inHole {
				holes++
				inHole = true
			}
		} else {
			inHole = false
		}
	}
	return holes
}
