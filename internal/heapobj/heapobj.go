// Package heapobj defines the on-heap object layout every allocated
// Ember value uses: a value.Header, an explicit field count, then a
// flat run of value.Ref fields. It is the seam between procheap's
// block allocator (which only knows bytes) and the object model the
// interpreter and GC reason about (which only know value.Ref/Header),
// letting internal/process implement gc.RootProvider without
// importing internal/interp.
//
// Grounded on the teacher's runtime object header conventions
// (type word immediately followed by fields, see runtime2.go's eface)
// adapted to a fixed Header-then-fieldCount-then-fields run so field
// access never needs a class-shape lookup at trace time.
package heapobj

import (
	"unsafe"

	"github.com/embervm/ember/internal/heapblock"
	"github.com/embervm/ember/internal/procheap"
	"github.com/embervm/ember/internal/value"
)

var (
	headerSize = int(unsafe.Sizeof(value.Header{}))
	refSize    = int(unsafe.Sizeof(value.Ref(0)))
	// The uint32 field count occupies a refSize slot so the field run
	// stays Ref-aligned without per-platform arithmetic.
	countOffset = headerSize
	fieldsBase  = headerSize + refSize
)

// Size returns the total byte footprint of an object with fieldCount
// value.Ref fields.
func Size(fieldCount int) int {
	return fieldsBase + fieldCount*refSize
}

// Alloc bump-allocates a new object of class (itself a value.Ref,
// conventionally a small int naming the defining module) with
// fieldCount zero-initialised fields, in the young or mature
// generation, and returns its Ref.
func Alloc(h *procheap.Heap, class value.Ref, fieldCount int, mature bool) (value.Ref, error) {
	size := Size(fieldCount)
	var b *heapblock.Block
	var off int
	var err error
	if mature {
		b, off, err = h.AllocMature(size)
	} else {
		b, off, err = h.AllocYoung(size)
	}
	if err != nil {
		return value.Nil, err
	}

	gen := value.GenEden
	if mature {
		gen = value.GenMature
	}
	hdr := HeaderAt(b, off)
	*hdr = value.NewHeader(class, gen)
	writeCount(b, off, fieldCount)

	ref := value.FromPtr(unsafe.Pointer(&b.Data()[off]))
	fields := FieldsAt(ref, fieldCount)
	for i := range fields {
		fields[i] = value.Nil
	}
	return ref, nil
}

// AllocPermanent bump-allocates out of the pool's shared, never-
// released permanent arena (heapblock.Pool.PermanentAllocate) instead
// of a per-process block: permanent objects are shared and immortal
// across every process (spec.md §4.1, §4.7, §9), so they cannot live
// in any one process's generational heap.
func AllocPermanent(h *procheap.Heap, class value.Ref, fieldCount int) (value.Ref, error) {
	size := Size(fieldCount)
	buf, err := h.Pool().PermanentAllocate(size)
	if err != nil {
		return value.Nil, err
	}

	hdr := (*value.Header)(unsafe.Pointer(&buf[0]))
	*hdr = value.NewHeader(class, value.GenPermanent)
	*(*uint32)(unsafe.Pointer(&buf[countOffset])) = uint32(fieldCount)

	ref := value.FromPtr(unsafe.Pointer(&buf[0]))
	fields := FieldsAt(ref, fieldCount)
	for i := range fields {
		fields[i] = value.Nil
	}
	return ref, nil
}

// HeaderAt returns the header embedded at byte offset off in b's data,
// for use during allocation before a stable Ref exists.
func HeaderAt(b *heapblock.Block, off int) *value.Header {
	return (*value.Header)(unsafe.Pointer(&b.Data()[off]))
}

func writeCount(b *heapblock.Block, off int, n int) {
	*(*uint32)(unsafe.Pointer(&b.Data()[off+countOffset])) = uint32(n)
}

// Header returns the header of the object r points to.
func Header(r value.Ref) *value.Header {
	return (*value.Header)(r.Ptr())
}

// FieldCount returns how many value.Ref fields the object r has.
func FieldCount(r value.Ref) int {
	p := uintptr(r.Ptr()) + uintptr(countOffset)
	return int(*(*uint32)(unsafe.Pointer(p)))
}

// FieldsAt returns the field slice of the object r, given its known
// field count (callers that don't already know it should call
// FieldCount first).
func FieldsAt(r value.Ref, fieldCount int) []value.Ref {
	base := uintptr(r.Ptr()) + uintptr(fieldsBase)
	if fieldCount == 0 {
		return nil
	}
	return unsafe.Slice((*value.Ref)(unsafe.Pointer(base)), fieldCount)
}

// Fields returns every field of r, looking up its count itself.
func Fields(r value.Ref) []value.Ref {
	return FieldsAt(r, FieldCount(r))
}

// GetField reads field i of r.
func GetField(r value.Ref, i int) value.Ref {
	return Fields(r)[i]
}

// SetField writes v into field i of r. Callers needing the write
// barrier (mature target, young value) call procheap.Heap.RecordStore
// themselves before or after, since only the interpreter knows the
// process heap the store belongs to.
func SetField(r value.Ref, i int, v value.Ref) {
	Fields(r)[i] = v
}
