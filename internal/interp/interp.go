// Package interp implements scheduler.Executor: the register-windowed
// bytecode interpreter of spec.md §4.7 that runs one process's
// quantum, dispatching every instruction family the image format
// names (arithmetic, dispatch, closures, concurrency, I/O, FFI).
//
// Grounded on the teacher's interpreter loop shape found in its
// runtime scheduling primitives (gopark/goready/execute), generalized
// from "resume a goroutine's machine stack" to "resume a register
// window and frame stack at a saved PC".
package interp

import (
	"context"
	"fmt"
	"time"

	"github.com/embervm/ember/internal/ffi"
	"github.com/embervm/ember/internal/heapobj"
	"github.com/embervm/ember/internal/image"
	"github.com/embervm/ember/internal/mailbox"
	"github.com/embervm/ember/internal/process"
	"github.com/embervm/ember/internal/reactor"
	"github.com/embervm/ember/internal/scheduler"
	"github.com/embervm/ember/internal/value"
	"golang.org/x/sys/unix"
)

// continueLoop is not a real scheduler.Outcome; exec returns it to
// tell RunQuantum's loop to keep dispatching rather than return to
// the worker.
const continueLoop scheduler.Outcome = -1

// Interp is the shared, stateless-per-process executor: one instance
// is wired into the scheduler and runs every process's quanta.
type Interp struct {
	img   *image.Image
	ffi   *ffi.Registry
	cache *InlineCache
	sched *scheduler.Scheduler
}

// New creates an interpreter bound to img, dispatching OpFFICall
// through reg and concurrency opcodes through sched.
func New(img *image.Image, reg *ffi.Registry, sched *scheduler.Scheduler) *Interp {
	return &Interp{img: img, ffi: reg, cache: NewInlineCache(256), sched: sched}
}

// RunQuantum implements scheduler.Executor (spec.md §4.6 Quantum).
func (ip *Interp) RunQuantum(ctx context.Context, p *process.Process, budget int) scheduler.Outcome {
	p.Reductions = budget

	for {
		frame := p.TopFrame()
		if frame == nil {
			return scheduler.OutcomeTerminated
		}
		mod := &ip.img.Modules[frame.ModuleIndex]
		meth := &mod.Methods[frame.MethodIndex]
		if frame.PC < 0 || frame.PC >= len(meth.Instructions) {
			if ip.doReturn(p, value.Nil) {
				return scheduler.OutcomeTerminated
			}
			continue
		}
		instr := meth.Instructions[frame.PC]

		if instr.Op.IsCallBoundary() || isBackwardBranch(instr) {
			if p.ShouldYield() {
				return scheduler.OutcomeYielded
			}
		}

		outcome := ip.exec(ctx, p, frame, mod, meth, instr)
		if outcome != continueLoop {
			return outcome
		}

		p.Reductions -= cost(instr.Op, instr.Operands)
		if p.Reductions <= 0 {
			return scheduler.OutcomeYielded
		}
		if p.Heap.YoungGCDue() || p.Heap.MatureGCDue() {
			return scheduler.OutcomeGCDue
		}
	}
}

// exec dispatches one instruction. It is responsible for advancing
// frame.PC itself (jumps set it directly; ordinary instructions
// increment it); returning continueLoop means "keep running this
// process", anything else is handed straight back to the scheduler.
func (ip *Interp) exec(ctx context.Context, p *process.Process, frame *process.Frame, mod *image.Module, meth *image.Method, instr image.Instruction) scheduler.Outcome {
	win := frame.Window(p.Registers)
	ops := instr.Operands

	switch instr.Op {
	case image.OpNop, image.OpSafepoint:
		frame.PC++
		return continueLoop

	case image.OpYield:
		frame.PC++
		return scheduler.OutcomeYielded

	case image.OpHalt:
		if ip.doReturn(p, value.Nil) {
			return scheduler.OutcomeTerminated
		}
		return continueLoop

	case image.OpAdd, image.OpSub, image.OpMul, image.OpDiv, image.OpMod:
		return ip.arith(p, frame, win, ops, instr.Op)

	case image.OpNeg:
		src := win[ops[1]]
		if !src.IsInt() {
			return ip.fault(p, frame, interpError(ErrTypeMismatch, "neg"))
		}
		result, ok := value.FromInt(-src.Int())
		if !ok {
			return ip.fault(p, frame, interpError(ErrTypeMismatch, "neg overflow"))
		}
		win[ops[0]] = result
		frame.PC++
		return continueLoop

	case image.OpCmpEq:
		win[ops[0]] = boolRef(win[ops[1]] == win[ops[2]])
		frame.PC++
		return continueLoop

	case image.OpCmpLt, image.OpCmpLe:
		return ip.compare(p, frame, win, ops, instr.Op)

	case image.OpIntToFloat, image.OpFloatToInt:
		// No boxed float type is modeled (value.Ref only embeds ints,
		// singletons, and heap pointers); these conversions are a
		// pass-through until a Float heap object exists.
		win[ops[0]] = win[ops[1]]
		frame.PC++
		return continueLoop

	case image.OpLoadConst:
		return ip.loadConst(p, frame, win, mod, ops)

	case image.OpMove:
		win[ops[0]] = win[ops[1]]
		frame.PC++
		return continueLoop

	case image.OpLoadNil:
		win[ops[0]] = value.Nil
		frame.PC++
		return continueLoop

	case image.OpLoadBool:
		win[ops[0]] = boolRef(ops[1] != 0)
		frame.PC++
		return continueLoop

	case image.OpAlloc:
		return ip.alloc(p, frame, win, ops)

	case image.OpGetAttr:
		return ip.getAttr(p, frame, win, ops)

	case image.OpSetAttr:
		return ip.setAttr(p, frame, win, ops)

	case image.OpCall:
		return ip.call(p, frame, mod, win, ops, false)

	case image.OpTailCall:
		return ip.call(p, frame, mod, win, ops, true)

	case image.OpInvokeBlock:
		return ip.invokeBlock(p, frame, win, ops)

	case image.OpJump:
		frame.PC += int(ops[0])
		return continueLoop

	case image.OpJumpIfNot:
		if !win[ops[0]].Truthy() {
			frame.PC += int(ops[1])
		} else {
			frame.PC++
		}
		return continueLoop

	case image.OpReturn:
		val := win[ops[0]]
		if ip.doReturn(p, val) {
			return scheduler.OutcomeTerminated
		}
		return continueLoop

	case image.OpThrow:
		message := fmt.Sprintf("thrown value %v", win[ops[0]])
		if !ip.throw(p, message) {
			return scheduler.OutcomePanicked
		}
		return continueLoop

	case image.OpCatch:
		frame.PC++
		return continueLoop

	case image.OpMakeClosure:
		return ip.makeClosure(p, frame, win, ops)

	case image.OpLoadCaptured:
		idx := int(ops[1])
		if idx < 0 || idx >= len(frame.Captured) {
			return ip.fault(p, frame, interpError(ErrBadIndex, "load_captured"))
		}
		win[ops[0]] = frame.Captured[idx]
		frame.PC++
		return continueLoop

	case image.OpSpawn:
		return ip.spawn(p, frame, win, ops)

	case image.OpSend:
		return ip.send(p, frame, win, ops)

	case image.OpReceive:
		return ip.receive(p, frame, win, ops)

	case image.OpSleep:
		return ip.sleep(p, frame, win, ops)

	case image.OpIoRead:
		return ip.io(p, frame, win, ops, false)

	case image.OpIoWrite:
		return ip.io(p, frame, win, ops, true)

	case image.OpFFICall:
		return ip.ffiCall(ctx, p, frame, mod, win, ops)

	default:
		return ip.fault(p, frame, interpError(ErrBadModule, instr.Op.Name()))
	}
}

// isBackwardBranch reports whether instr is a jump whose offset goes
// backward, a safepoint-checking site per spec.md §4.7 alongside call
// boundaries (loops without calls must still yield eventually).
func isBackwardBranch(instr image.Instruction) bool {
	switch instr.Op {
	case image.OpJump:
		return instr.Operands[0] < 0
	case image.OpJumpIfNot:
		return instr.Operands[1] < 0
	default:
		return false
	}
}

func boolRef(b bool) value.Ref {
	if b {
		return value.True
	}
	return value.False
}

func interpError(base error, detail string) string {
	return fmt.Sprintf("%s: %s", base.Error(), detail)
}

// fault throws msg at the current frame, mapping the result onto the
// Outcome the caller should return.
func (ip *Interp) fault(p *process.Process, frame *process.Frame, msg string) scheduler.Outcome {
	if !ip.throw(p, msg) {
		return scheduler.OutcomePanicked
	}
	return continueLoop
}

// fatalPanic records an unconditional, non-catchable panic (spec.md
// §7 Allocation failure: "the current process panics" — unlike an
// interpreter fault, out-of-memory skips catch-table lookup entirely
// since no handler can safely run without heap headroom).
func (ip *Interp) fatalPanic(p *process.Process, message string) scheduler.Outcome {
	p.LastPanic = &process.Panic{Message: message}
	p.DropAllFrames()
	return scheduler.OutcomePanicked
}

func (ip *Interp) arith(p *process.Process, frame *process.Frame, win []value.Ref, ops [4]int32, op image.Opcode) scheduler.Outcome {
	lhs, rhs := win[ops[1]], win[ops[2]]
	if !lhs.IsInt() || !rhs.IsInt() {
		return ip.fault(p, frame, interpError(ErrTypeMismatch, op.Name()))
	}
	a, b := lhs.Int(), rhs.Int()
	var result int64
	switch op {
	case image.OpAdd:
		result = a + b
	case image.OpSub:
		result = a - b
	case image.OpMul:
		result = a * b
	case image.OpDiv:
		if b == 0 {
			return ip.fault(p, frame, ErrDivisionByZero.Error())
		}
		result = a / b
	case image.OpMod:
		if b == 0 {
			return ip.fault(p, frame, ErrDivisionByZero.Error())
		}
		result = a % b
	}
	r, ok := value.FromInt(result)
	if !ok {
		return ip.fault(p, frame, interpError(ErrTypeMismatch, "overflow"))
	}
	win[ops[0]] = r
	frame.PC++
	return continueLoop
}

func (ip *Interp) compare(p *process.Process, frame *process.Frame, win []value.Ref, ops [4]int32, op image.Opcode) scheduler.Outcome {
	lhs, rhs := win[ops[1]], win[ops[2]]
	if !lhs.IsInt() || !rhs.IsInt() {
		return ip.fault(p, frame, interpError(ErrTypeMismatch, op.Name()))
	}
	a, b := lhs.Int(), rhs.Int()
	var r bool
	if op == image.OpCmpLt {
		r = a < b
	} else {
		r = a <= b
	}
	win[ops[0]] = boolRef(r)
	frame.PC++
	return continueLoop
}

func (ip *Interp) loadConst(p *process.Process, frame *process.Frame, win []value.Ref, mod *image.Module, ops [4]int32) scheduler.Outcome {
	idx := int(ops[1])
	if idx < 0 || idx >= len(mod.Literals) {
		return ip.fault(p, frame, interpError(ErrBadIndex, "load_const"))
	}
	lit := mod.Literals[idx]
	switch lit.Kind {
	case image.LiteralInt:
		v, ok := value.FromInt(lit.Int)
		if !ok {
			return ip.fault(p, frame, interpError(ErrTypeMismatch, "literal overflow"))
		}
		win[ops[0]] = v
	case image.LiteralBool:
		win[ops[0]] = boolRef(lit.Int != 0)
	case image.LiteralNil:
		win[ops[0]] = value.Nil
	case image.LiteralString:
		// No heap string/byte-object type is modeled (compiler-level
		// concern, out of scope); string literals cannot be loaded
		// into a register.
		return ip.fault(p, frame, interpError(ErrTypeMismatch, "string literals unsupported"))
	default:
		return ip.fault(p, frame, interpError(ErrBadModule, "literal kind"))
	}
	frame.PC++
	return continueLoop
}

func (ip *Interp) alloc(p *process.Process, frame *process.Frame, win []value.Ref, ops [4]int32) scheduler.Outcome {
	class := win[ops[1]]
	fieldCount := int(ops[2])
	mode := image.AllocMode(ops[3])
	finalisable := mode&image.AllocFinalisableBit != 0
	mode &^= image.AllocFinalisableBit

	var ref value.Ref
	var err error
	switch mode {
	case image.AllocPermanent:
		ref, err = heapobj.AllocPermanent(p.Heap, class, fieldCount)
	case image.AllocMature:
		ref, err = heapobj.Alloc(p.Heap, class, fieldCount, true)
	default:
		ref, err = heapobj.Alloc(p.Heap, class, fieldCount, false)
	}
	if err != nil {
		return ip.fatalPanic(p, fmt.Sprintf("interp: allocation failed: %v", err))
	}
	if finalisable {
		heapobj.Header(ref).SetFlag(value.FlagFinalisable)
		p.Heap.Finalisers = append(p.Heap.Finalisers, ref)
	}
	win[ops[0]] = ref
	frame.PC++
	return continueLoop
}

func (ip *Interp) getAttr(p *process.Process, frame *process.Frame, win []value.Ref, ops [4]int32) scheduler.Outcome {
	obj := win[ops[1]]
	if !obj.IsHeap() {
		return ip.fault(p, frame, interpError(ErrTypeMismatch, "get_attr"))
	}
	slot := int(ops[2])
	if slot < 0 || slot >= heapobj.FieldCount(obj) {
		return ip.fault(p, frame, interpError(ErrBadIndex, "get_attr"))
	}
	win[ops[0]] = heapobj.GetField(obj, slot)
	frame.PC++
	return continueLoop
}

func (ip *Interp) setAttr(p *process.Process, frame *process.Frame, win []value.Ref, ops [4]int32) scheduler.Outcome {
	obj := win[ops[0]]
	if !obj.IsHeap() {
		return ip.fault(p, frame, interpError(ErrTypeMismatch, "set_attr"))
	}
	slot := int(ops[1])
	if slot < 0 || slot >= heapobj.FieldCount(obj) {
		return ip.fault(p, frame, interpError(ErrBadIndex, "set_attr"))
	}
	val := win[ops[2]]
	heapobj.SetField(obj, slot, val)

	var storedHeader *value.Header
	if val.IsHeap() {
		storedHeader = heapobj.Header(val)
	}
	p.Heap.RecordStore(obj, slot, heapobj.Header(obj), val, storedHeader)

	frame.PC++
	return continueLoop
}

// call resolves and invokes a method by name on a receiver (spec.md
// §4.7 Dispatch), consulting/populating the per-call-site inline
// cache. tail pops the caller's own frame first so the callee reuses
// its return address, implementing proper tail calls.
func (ip *Interp) call(p *process.Process, frame *process.Frame, mod *image.Module, win []value.Ref, ops [4]int32, tail bool) scheduler.Outcome {
	dst, recvReg, nameLit, argc := int(ops[0]), int(ops[1]), int(ops[2]), int(ops[3])
	recv := win[recvReg]
	class := classOf(recv)

	targetModule, targetMethod, ok := ip.cache.Lookup(frame.ModuleIndex, frame.PC, class)
	if !ok {
		if nameLit < 0 || nameLit >= len(mod.Literals) || mod.Literals[nameLit].Kind != image.LiteralString {
			return ip.fault(p, frame, interpError(ErrBadIndex, "call"))
		}
		name := mod.Literals[nameLit].Str
		targetModule, targetMethod, ok = resolveMethod(ip.img, class, name)
		if !ok {
			return ip.fault(p, frame, interpError(ErrUnknownMethod, name))
		}
		ip.cache.Update(frame.ModuleIndex, frame.PC, class, targetModule, targetMethod)
	}

	args := make([]value.Ref, argc+1)
	args[0] = recv
	for i := 0; i < argc; i++ {
		args[i+1] = win[recvReg+1+i]
	}

	if tail {
		caller := p.PopFrame()
		p.Registers = p.Registers[:caller.RegBase]
		ip.pushCall(p, targetModule, targetMethod, args, caller.ReturnReg, caller.ReturnPC)
		return continueLoop
	}

	ip.pushCall(p, targetModule, targetMethod, args, dst, frame.PC+1)
	return continueLoop
}

func (ip *Interp) invokeBlock(p *process.Process, frame *process.Frame, win []value.Ref, ops [4]int32) scheduler.Outcome {
	dst, blockReg, argc := int(ops[0]), int(ops[1]), int(ops[2])
	block := win[blockReg]
	if !block.IsHeap() {
		return ip.fault(p, frame, interpError(ErrTypeMismatch, "invoke_block"))
	}
	fields := heapobj.Fields(block)
	if len(fields) < 1 {
		return ip.fault(p, frame, interpError(ErrBadIndex, "invoke_block"))
	}
	moduleIdx := int(heapobj.Header(block).Class.Int())
	methodIdx := int(fields[0].Int())
	captured := fields[1:]

	args := make([]value.Ref, argc)
	for i := 0; i < argc; i++ {
		args[i] = win[blockReg+1+i]
	}

	ip.pushCall(p, moduleIdx, methodIdx, args, dst, frame.PC+1)
	p.TopFrame().Captured = captured
	return continueLoop
}

func (ip *Interp) makeClosure(p *process.Process, frame *process.Frame, win []value.Ref, ops [4]int32) scheduler.Outcome {
	dst, methodIndex, captureCount, capturedBase := int(ops[0]), ops[1], int(ops[2]), int(ops[3])

	classVal, ok := value.FromInt(int64(frame.ModuleIndex))
	if !ok {
		return ip.fault(p, frame, interpError(ErrTypeMismatch, "make_closure"))
	}
	ref, err := heapobj.Alloc(p.Heap, classVal, 1+captureCount, false)
	if err != nil {
		return ip.fatalPanic(p, fmt.Sprintf("interp: allocation failed: %v", err))
	}
	methodVal, _ := value.FromInt(int64(methodIndex))
	heapobj.SetField(ref, 0, methodVal)
	for i := 0; i < captureCount; i++ {
		heapobj.SetField(ref, 1+i, win[capturedBase+i])
	}
	win[dst] = ref
	frame.PC++
	return continueLoop
}

func (ip *Interp) spawn(p *process.Process, frame *process.Frame, win []value.Ref, ops [4]int32) scheduler.Outcome {
	dst, moduleIndex, entryMethodIndex := int(ops[0]), int(ops[1]), int(ops[2])
	if moduleIndex < 0 || moduleIndex >= len(ip.img.Modules) {
		return ip.fault(p, frame, interpError(ErrBadModule, "spawn"))
	}
	mod := ip.img.Modules[moduleIndex]
	if entryMethodIndex < 0 || entryMethodIndex >= len(mod.Methods) {
		return ip.fault(p, frame, interpError(ErrBadIndex, "spawn"))
	}

	child := process.New(p.Heap.Pool(), 0)
	child.PushFrame(NewEntryFrame(ip.img, child, moduleIndex, entryMethodIndex, nil))
	// Global-queue spawn only: RunQuantum isn't handed the worker index
	// it's running on, so the same-worker fast path SpawnFromWorker
	// offers is not reachable from inside the interpreter.
	ip.sched.Spawn(child)

	idVal, ok := value.FromInt(child.ID)
	if !ok {
		idVal = value.Nil
	}
	win[dst] = idVal
	frame.PC++
	return continueLoop
}

func (ip *Interp) send(p *process.Process, frame *process.Frame, win []value.Ref, ops [4]int32) scheduler.Outcome {
	targetReg, valueReg := int(ops[0]), int(ops[1])
	targetVal := win[targetReg]
	if !targetVal.IsInt() {
		return ip.fault(p, frame, interpError(ErrTypeMismatch, "send"))
	}
	targetID := targetVal.Int()

	target, ok := ip.sched.Lookup(targetID)
	if !ok {
		return ip.fault(p, frame, "interp: send to unknown or terminated process")
	}

	copied, err := deepCopy(p.Heap, target.Heap, win[valueReg], map[value.Ref]value.Ref{})
	if err != nil {
		return ip.fatalPanic(p, fmt.Sprintf("interp: allocation failed: %v", err))
	}
	ip.sched.SendTo(targetID, mailbox.Message{Sender: p.ID, Payload: copied})

	frame.PC++
	return continueLoop
}

func (ip *Interp) receive(p *process.Process, frame *process.Frame, win []value.Ref, ops [4]int32) scheduler.Outcome {
	msg, ok := p.Mailbox.Receive()
	if !ok {
		p.Transition(process.WaitingForMessage)
		return scheduler.OutcomeSuspended
	}
	payload, _ := msg.Payload.(value.Ref)
	win[ops[0]] = payload
	frame.PC++
	return continueLoop
}

func (ip *Interp) sleep(p *process.Process, frame *process.Frame, win []value.Ref, ops [4]int32) scheduler.Outcome {
	durVal := win[ops[0]]
	if !durVal.IsInt() {
		return ip.fault(p, frame, interpError(ErrTypeMismatch, "sleep"))
	}
	timer := ip.sched.Timer()
	if timer == nil {
		// No timer wheel wired (tests that don't exercise §4.5): treat
		// as an instant no-op rather than sleeping forever.
		frame.PC++
		return continueLoop
	}
	frame.PC++
	timer.Sleep(p.ID, time.Now().Add(time.Duration(durVal.Int())*time.Millisecond))
	p.Transition(process.WaitingForTimeout)
	return scheduler.OutcomeSuspended
}

// io dispatches a raw read/write on fd (spec.md §4.4 "park_on_fd"):
// it tries the syscall directly on a non-blocking fd first — readable
// data or write buffer space usually mean this returns immediately,
// the same "try first, park only on EAGAIN" order the teacher's
// netpoll-backed net.Conn reads follow. On EAGAIN the process parks on
// the reactor and suspends without advancing PC, so the same
// instruction re-attempts the syscall once woken by readiness (mirrors
// how a parked Receive re-dispatches rather than advancing past
// itself). When no reactor is wired (package tests that construct a
// bare scheduler), it falls back to the blocking pool via ioBlocking.
func (ip *Interp) io(p *process.Process, frame *process.Frame, win []value.Ref, ops [4]int32, write bool) scheduler.Outcome {
	dst := int(ops[0])
	fdVal, lenVal := win[ops[1]], win[ops[2]]
	if !fdVal.IsInt() || !lenVal.IsInt() {
		return ip.fault(p, frame, interpError(ErrTypeMismatch, "io"))
	}
	fd := int(fdVal.Int())
	n := int(lenVal.Int())
	if n < 0 {
		return ip.fault(p, frame, interpError(ErrBadIndex, "io"))
	}

	react := ip.sched.Reactor()
	if react == nil {
		return ip.ioBlocking(p, frame, win, dst, fd, n, write)
	}

	_ = unix.SetNonblock(fd, true)
	buf := make([]byte, n)
	var count int
	var err error
	if write {
		count, err = unix.Write(fd, buf[:n])
	} else {
		count, err = unix.Read(fd, buf)
	}
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		cond := reactor.Readable
		if write {
			cond = reactor.Writable
		}
		p.Transition(process.WaitingForIo)
		if perr := react.ParkOnFD(fd, p.ID, cond, time.Time{}); perr != nil {
			p.Transition(process.Running)
			return ip.fault(p, frame, interpError(ErrBadIndex, fmt.Sprintf("io: park failed: %v", perr)))
		}
		return scheduler.OutcomeSuspended
	}
	if err != nil {
		return ip.fault(p, frame, fmt.Sprintf("interp: io error: %v", err))
	}
	v, ok := value.FromInt(int64(count))
	if !ok {
		v = value.Nil
	}
	win[dst] = v
	frame.PC++
	return continueLoop
}

// ioBlocking is io's fallback for a scheduler with no reactor wired:
// the same AsyncPending handoff convention ffiCall uses, since there
// is nowhere to park a readiness wait.
func (ip *Interp) ioBlocking(p *process.Process, frame *process.Frame, win []value.Ref, dst, fd, n int, write bool) scheduler.Outcome {
	if p.AsyncPending {
		p.AsyncPending = false
		if p.PendingAsyncErr != "" {
			msg := p.PendingAsyncErr
			p.PendingAsyncErr = ""
			return ip.fault(p, frame, msg)
		}
		win[dst] = p.PendingAsyncValue
		frame.PC++
		return continueLoop
	}

	p.AsyncPending = true
	p.Transition(process.WaitingForIo)
	ip.sched.SubmitBlocking(p, func() error {
		buf := make([]byte, n)
		var count int
		var err error
		if write {
			count, err = unix.Write(fd, buf[:n])
		} else {
			count, err = unix.Read(fd, buf)
		}
		if err != nil {
			p.PendingAsyncErr = fmt.Sprintf("interp: io error: %v", err)
			return nil
		}
		v, ok := value.FromInt(int64(count))
		if !ok {
			v = value.Nil
		}
		p.PendingAsyncValue = v
		return nil
	})
	return scheduler.OutcomeSuspended
}

// ffiCall dispatches a registered native function, off the blocking
// pool since FFI calls are assumed synchronous and potentially slow
// (spec.md §4.8), using the same AsyncPending convention as io so a
// failing native call is a catchable thrown value rather than a
// process-ending panic.
func (ip *Interp) ffiCall(ctx context.Context, p *process.Process, frame *process.Frame, mod *image.Module, win []value.Ref, ops [4]int32) scheduler.Outcome {
	dst, nameLit, argBase, argCount := int(ops[0]), int(ops[1]), int(ops[2]), int(ops[3])

	if p.AsyncPending {
		p.AsyncPending = false
		if p.PendingAsyncErr != "" {
			msg := p.PendingAsyncErr
			p.PendingAsyncErr = ""
			return ip.fault(p, frame, msg)
		}
		win[dst] = p.PendingAsyncValue
		frame.PC++
		return continueLoop
	}

	if nameLit < 0 || nameLit >= len(mod.Literals) || mod.Literals[nameLit].Kind != image.LiteralString {
		return ip.fault(p, frame, interpError(ErrBadIndex, "ffi_call"))
	}
	name := mod.Literals[nameLit].Str
	args := make([]value.Ref, argCount)
	for i := 0; i < argCount; i++ {
		args[i] = win[argBase+i]
	}

	p.AsyncPending = true
	p.Transition(process.WaitingForIo)
	ip.sched.SubmitBlocking(p, func() error {
		result, err := ip.ffi.Invoke(ctx, name, p, args)
		if err != nil {
			p.PendingAsyncErr = fmt.Sprintf("interp: ffi error: %v", err)
			return nil
		}
		p.PendingAsyncValue = result
		return nil
	})
	return scheduler.OutcomeSuspended
}
