package interp

import (
	"github.com/embervm/ember/internal/heapobj"
	"github.com/embervm/ember/internal/procheap"
	"github.com/embervm/ember/internal/value"
)

// deepCopy clones the object graph reachable from r out of src and
// into dst, allocating fresh young objects for every heap node so the
// sender and receiver never share mutable memory after a send
// (spec.md §4.7 Send: "deep-copy-on-send"). Primitive/singleton refs
// are returned unchanged since they carry no heap identity, and
// permanent-space refs are returned unchanged since they are shared
// and immortal by construction (spec.md §4.7, §9: "sends of permanent
// references do not copy"). seen de-duplicates shared substructure and
// breaks cycles.
func deepCopy(src, dst *procheap.Heap, r value.Ref, seen map[value.Ref]value.Ref) (value.Ref, error) {
	if !r.IsHeap() {
		return r, nil
	}
	if heapobj.Header(r).Generation() == value.GenPermanent {
		return r, nil
	}
	if existing, ok := seen[r]; ok {
		return existing, nil
	}

	fieldCount := heapobj.FieldCount(r)
	class := heapobj.Header(r).Class

	newRef, err := heapobj.Alloc(dst, class, fieldCount, false)
	if err != nil {
		return value.Nil, err
	}
	seen[r] = newRef

	srcFields := heapobj.Fields(r)
	for i, f := range srcFields {
		copied, err := deepCopy(src, dst, f, seen)
		if err != nil {
			return value.Nil, err
		}
		heapobj.SetField(newRef, i, copied)
	}
	return newRef, nil
}
