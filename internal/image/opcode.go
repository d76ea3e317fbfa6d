package image

// Opcode enumerates the instruction families of spec.md §4.7:
// arithmetic, comparisons, conversions, object allocation,
// attribute get/set, method lookup/call, block invocation, tail
// call, return, throw, catch, closure creation, spawn, send,
// receive, sleep, I/O, FFI, GC-safepoint, and suspend.
type Opcode uint8

const (
	OpNop Opcode = iota

	// Arithmetic/comparison/conversion. Operands: dst, lhs, rhs
	// (registers), or dst, src for unary/conversion forms.
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg
	OpCmpEq
	OpCmpLt
	OpCmpLe
	OpIntToFloat
	OpFloatToInt

	// Constants and moves. Operands: dst, literalIndex | dst, src.
	OpLoadConst
	OpMove
	OpLoadNil
	OpLoadBool // dst, 0|1

	// Object model. Operands: dst, classReg, fieldCount, allocMode
	// (Alloc, see AllocMode below); dst, objReg, fieldSlot (GetAttr);
	// objReg, fieldSlot, valueReg (SetAttr).
	OpAlloc
	OpGetAttr
	OpSetAttr

	// Dispatch. Operands (Call, TailCall): dst, recvReg,
	// methodNameLiteral, argc. Argument registers are recvReg+1 ..
	// recvReg+argc. The inline cache is keyed implicitly by the
	// instruction's own (module, pc) address, not by an operand.
	// OpInvokeBlock takes dst, blockReg, argc, with arguments in
	// blockReg+1 .. blockReg+argc.
	OpCall
	OpTailCall
	OpInvokeBlock

	// Control flow.
	OpJump     // Operands[0] = relative offset
	OpJumpIfNot // Operands[0] = condReg, Operands[1] = relative offset
	OpReturn    // Operands[0] = srcReg
	OpThrow     // Operands[0] = srcReg
	OpCatch     // marks a handler entry point; no-op at runtime, present for disassembly

	// Closures. Captured values are read from capturedBase..+count
	// (Operands[3]) immediately preceding OpMakeClosure, and read back
	// inside the block body with OpLoadCaptured.
	OpMakeClosure   // dst, methodIndex, captureCount, capturedBase
	OpLoadCaptured  // dst, index

	// Concurrency/suspension instructions (spec.md §4.7 families:
	// spawn, send, receive, sleep, I/O, FFI, GC-safepoint, suspend).
	OpSpawn       // dst, moduleIndex, entryMethodIndex
	OpSend        // targetReg, valueReg
	OpReceive     // dst (blocks if mailbox empty)
	OpSleep       // durationMillisReg
	OpIoRead      // dst, fdReg, lenReg
	OpIoWrite     // dst, fdReg, lenReg (writes lenReg zero bytes)
	OpFFICall     // dst, nameLiteralIndex, argBase, argCount
	OpSafepoint   // no operands; explicit GC-safepoint check
	OpYield       // no operands; explicit yield point
	OpHalt        // process terminates normally
)

// AllocMode is OpAlloc's 4th operand: which generation the compiler
// wants the new object allocated into directly, plus (via
// AllocFinalisableBit) whether it should be flagged finalisable
// (spec.md §4.1 generations, §4.3 phase 5, §4.7/§9 permanent space).
type AllocMode int32

const (
	// AllocYoung is the default: a fresh eden object, same as leaving
	// the operand zero.
	AllocYoung AllocMode = iota
	// AllocMature allocates directly into the mature bucket, for
	// classes the compiler has proven long-lived.
	AllocMature
	// AllocPermanent allocates out of the pool's shared, never-released
	// permanent arena; such objects are passed by reference on every
	// send, never deep-copied (spec.md §4.7, §9).
	AllocPermanent
)

// AllocFinalisableBit, ORed into an AllocMode operand, additionally
// flags the allocated object finalisable.
const AllocFinalisableBit AllocMode = 1 << 2

// Name returns a human-readable mnemonic, used in panic traces and
// disassembly.
func (op Opcode) Name() string {
	switch op {
	case OpNop:
		return "nop"
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpMul:
		return "mul"
	case OpDiv:
		return "div"
	case OpMod:
		return "mod"
	case OpNeg:
		return "neg"
	case OpCmpEq:
		return "cmp_eq"
	case OpCmpLt:
		return "cmp_lt"
	case OpCmpLe:
		return "cmp_le"
	case OpIntToFloat:
		return "int_to_float"
	case OpFloatToInt:
		return "float_to_int"
	case OpLoadConst:
		return "load_const"
	case OpMove:
		return "move"
	case OpLoadNil:
		return "load_nil"
	case OpLoadBool:
		return "load_bool"
	case OpAlloc:
		return "alloc"
	case OpGetAttr:
		return "get_attr"
	case OpSetAttr:
		return "set_attr"
	case OpCall:
		return "call"
	case OpTailCall:
		return "tail_call"
	case OpInvokeBlock:
		return "invoke_block"
	case OpJump:
		return "jump"
	case OpJumpIfNot:
		return "jump_if_not"
	case OpReturn:
		return "return"
	case OpThrow:
		return "throw"
	case OpCatch:
		return "catch"
	case OpMakeClosure:
		return "make_closure"
	case OpLoadCaptured:
		return "load_captured"
	case OpSpawn:
		return "spawn"
	case OpSend:
		return "send"
	case OpReceive:
		return "receive"
	case OpSleep:
		return "sleep"
	case OpIoRead:
		return "io_read"
	case OpIoWrite:
		return "io_write"
	case OpFFICall:
		return "ffi_call"
	case OpSafepoint:
		return "safepoint"
	case OpYield:
		return "yield"
	case OpHalt:
		return "halt"
	default:
		return "unknown"
	}
}

// IsCallBoundary reports whether op is a call-boundary safepoint site
// per spec.md §4.7: Call, TailCall, InvokeBlock and FFICall. Backward
// jumps are not covered here; the interpreter detects them from the
// sign of the encoded offset.
func (op Opcode) IsCallBoundary() bool {
	switch op {
	case OpCall, OpTailCall, OpInvokeBlock, OpFFICall:
		return true
	default:
		return false
	}
}
