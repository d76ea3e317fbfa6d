package interp

import (
	"github.com/embervm/ember/internal/image"
	"github.com/embervm/ember/internal/process"
	"github.com/embervm/ember/internal/value"
)

// NewEntryFrame builds the initial call frame for a freshly spawned
// process about to run moduleIdx's entry method with args bound to
// its leading registers (spec.md §3 Call frame). It grows p.Registers
// to the method's window itself, since process.New only allocates an
// initial register file sized by its caller's best guess.
func NewEntryFrame(img *image.Image, p *process.Process, moduleIdx, methodIdx int, args []value.Ref) *process.Frame {
	meth := img.Modules[moduleIdx].Methods[methodIdx]
	regBase := len(p.Registers)
	p.Registers = append(p.Registers, make([]value.Ref, meth.RegisterCount)...)
	for i, a := range args {
		if i >= meth.RegisterCount {
			break
		}
		p.Registers[regBase+i] = a
	}
	f := &process.Frame{
		ModuleIndex: moduleIdx,
		MethodIndex: methodIdx,
		RegBase:     regBase,
		RegCount:    meth.RegisterCount,
		ReturnReg:   -1,
		ReturnPC:    -1,
		CatchTable:  convertCatchTable(meth.CatchTable),
	}
	return f
}

func convertCatchTable(ranges []image.CatchRange) []process.CatchEntry {
	if len(ranges) == 0 {
		return nil
	}
	out := make([]process.CatchEntry, len(ranges))
	for i, r := range ranges {
		out[i] = process.CatchEntry{
			StartPC:    r.StartPC,
			EndPC:      r.EndPC,
			HandlerPC:  r.HandlerPC,
			HandlerReg: r.HandlerReg,
		}
	}
	return out
}

// pushCall grows p's register file by the callee's window, copies
// args into it, and pushes a new frame that returns into returnReg of
// the caller at returnPC.
func (ip *Interp) pushCall(p *process.Process, moduleIdx, methodIdx int, args []value.Ref, returnReg, returnPC int) {
	meth := ip.img.Modules[moduleIdx].Methods[methodIdx]
	regBase := len(p.Registers)
	p.Registers = append(p.Registers, make([]value.Ref, meth.RegisterCount)...)
	for i, a := range args {
		if i >= meth.RegisterCount {
			break
		}
		p.Registers[regBase+i] = a
	}
	f := &process.Frame{
		ModuleIndex: moduleIdx,
		MethodIndex: methodIdx,
		RegBase:     regBase,
		RegCount:    meth.RegisterCount,
		ReturnReg:   returnReg,
		ReturnPC:    returnPC,
		CatchTable:  convertCatchTable(meth.CatchTable),
	}
	p.PushFrame(f)
}

// doReturn pops the active frame, writes val into the caller's return
// register, and reports whether the process has no more frames (i.e.
// has run to completion). The last frame's registers are left in
// place, so a finished process's final register values stay readable.
func (ip *Interp) doReturn(p *process.Process, val value.Ref) bool {
	frame := p.PopFrame()
	if frame == nil {
		return true
	}

	caller := p.TopFrame()
	if caller == nil {
		return true
	}
	p.Registers = p.Registers[:frame.RegBase]
	if frame.ReturnReg >= 0 {
		caller.Window(p.Registers)[frame.ReturnReg] = val
	}
	caller.PC = frame.ReturnPC
	return false
}

// throw searches the frame stack starting at the current frame for a
// catch handler covering the faulting PC, unwinding frames that have
// none (spec.md §4.7 Throw/Catch). If no handler is found anywhere,
// it records p.LastPanic and drops every frame, and returns false.
func (ip *Interp) throw(p *process.Process, message string) bool {
	var trace []process.FrameTrace
	for {
		frame := p.TopFrame()
		if frame == nil {
			break
		}
		mod := ip.img.Modules[frame.ModuleIndex]
		meth := mod.Methods[frame.MethodIndex]
		trace = append(trace, process.FrameTrace{Module: mod.Name, Method: meth.Name, Instruction: frame.PC})

		if entry, ok := frame.HandlerFor(frame.PC); ok {
			p.LastThrow = message
			marker, _ := value.FromInt(1)
			frame.Window(p.Registers)[entry.HandlerReg] = marker
			frame.PC = entry.HandlerPC
			return true
		}
		p.PopFrame()
		p.Registers = p.Registers[:frame.RegBase]
	}
	p.LastPanic = &process.Panic{Message: message, StackTrace: trace}
	p.DropAllFrames()
	return false
}
