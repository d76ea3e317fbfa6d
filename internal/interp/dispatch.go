package interp

import (
	"github.com/embervm/ember/internal/heapobj"
	"github.com/embervm/ember/internal/image"
	"github.com/embervm/ember/internal/value"
)

// Builtin "classes" for primitives, which own no module and so can
// never be resolved by resolveMethod; arithmetic and comparison on
// them is handled entirely by dedicated opcodes rather than method
// dispatch.
const (
	classBuiltinInt  int64 = -1
	classBuiltinBool int64 = -2
	classBuiltinNil  int64 = -3
)

// classOf returns the dispatch class of a receiver: the defining
// module index for heap objects (spec.md §1's prototype-based model,
// narrowed here to "method lookup walks exactly one module's method
// table", since nested prototype chains are a compiler-level concern
// out of scope per spec.md §1), or a negative builtin sentinel for
// embedded primitives.
func classOf(r value.Ref) int64 {
	switch {
	case r.IsHeap():
		return heapobj.Header(r).Class.Int()
	case r.IsInt():
		return classBuiltinInt
	case r == value.True || r == value.False:
		return classBuiltinBool
	default:
		return classBuiltinNil
	}
}

// resolveMethod looks up name in module's method table.
func resolveMethod(img *image.Image, module int64, name string) (int, int, bool) {
	if module < 0 || int(module) >= len(img.Modules) {
		return 0, 0, false
	}
	mod := img.Modules[module]
	for i, m := range mod.Methods {
		if m.Name == name {
			return int(module), i, true
		}
	}
	return 0, 0, false
}
