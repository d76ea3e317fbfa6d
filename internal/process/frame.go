package process

import "github.com/embervm/ember/internal/value"

// CatchEntry maps an instruction range to a handler (spec.md §4.7
// try/else as control flow, §9 "catch table on each frame").
type CatchEntry struct {
	StartPC, EndPC int
	HandlerPC      int
	HandlerReg     int
}

// Frame is one call-frame (spec.md §3 Call frame). Frames live in the
// process heap conceptually; here they are plain Go values owned by
// the process's frame stack and are the GC's frame roots.
type Frame struct {
	ModuleIndex int
	MethodIndex int
	PC          int // currently executing instruction offset

	// RegBase is the offset into Process.Registers where this frame's
	// register window begins; RegCount is its width (capped at 65535
	// per spec.md §4.7).
	RegBase  int
	RegCount int

	// Captured is the closure environment: bindings captured at
	// closure-creation time.
	Captured []value.Ref

	// ReturnReg/ReturnPC identify where the caller resumes and which
	// of the caller's registers receives this frame's return value.
	ReturnReg int
	ReturnPC  int

	CatchTable []CatchEntry
}

// Window returns this frame's register slice within regs.
func (f *Frame) Window(regs []value.Ref) []value.Ref {
	return regs[f.RegBase : f.RegBase+f.RegCount]
}

// HandlerFor returns the innermost catch entry covering pc, if any
// (spec.md §9: "a mapping from instruction ranges to a handler").
func (f *Frame) HandlerFor(pc int) (CatchEntry, bool) {
	for i := len(f.CatchTable) - 1; i >= 0; i-- {
		e := f.CatchTable[i]
		if pc >= e.StartPC && pc < e.EndPC {
			return e, true
		}
	}
	return CatchEntry{}, false
}
