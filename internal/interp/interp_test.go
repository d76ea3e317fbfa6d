package interp

import (
	"context"
	"testing"

	"github.com/embervm/ember/internal/ffi"
	"github.com/embervm/ember/internal/heapblock"
	"github.com/embervm/ember/internal/heapobj"
	"github.com/embervm/ember/internal/image"
	"github.com/embervm/ember/internal/mailbox"
	"github.com/embervm/ember/internal/process"
	"github.com/embervm/ember/internal/scheduler"
	"github.com/embervm/ember/internal/value"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newInterp(t *testing.T, img *image.Image) (*Interp, *scheduler.Scheduler) {
	t.Helper()
	sched := scheduler.New(scheduler.DefaultConfig(), nil, nil, nil, nil, zerolog.Nop())
	ip := New(img, ffi.NewRegistry(), sched)
	return ip, sched
}

func newProcess() *process.Process {
	return process.New(heapblock.NewPool(1), 0)
}

func instr(op image.Opcode, ops ...int32) image.Instruction {
	var a [4]int32
	copy(a[:], ops)
	return image.Instruction{Op: op, Operands: a}
}

func TestArithmeticThenYield(t *testing.T) {
	img := &image.Image{Modules: []image.Module{{
		Name: "m",
		Literals: []image.Literal{
			{Kind: image.LiteralInt, Int: 2},
			{Kind: image.LiteralInt, Int: 3},
		},
		Methods: []image.Method{{
			RegisterCount: 3,
			Instructions: []image.Instruction{
				instr(image.OpLoadConst, 0, 0),
				instr(image.OpLoadConst, 1, 1),
				instr(image.OpAdd, 2, 0, 1),
				instr(image.OpYield),
			},
		}},
	}}}

	ip, _ := newInterp(t, img)
	p := newProcess()
	p.PushFrame(NewEntryFrame(img, p, 0, 0, nil))

	outcome := ip.RunQuantum(context.Background(), p, 1000)
	require.Equal(t, scheduler.OutcomeYielded, outcome)

	win := p.TopFrame().Window(p.Registers)
	require.True(t, win[2].IsInt())
	require.Equal(t, int64(5), win[2].Int())
}

func divByZeroImage(withCatch bool) *image.Image {
	meth := image.Method{
		RegisterCount: 6,
		Instructions: []image.Instruction{
			instr(image.OpLoadConst, 0, 0),
			instr(image.OpLoadConst, 1, 1),
			instr(image.OpDiv, 2, 0, 1),
			instr(image.OpYield),
		},
	}
	if withCatch {
		meth.CatchTable = []image.CatchRange{{StartPC: 0, EndPC: 3, HandlerPC: 3, HandlerReg: 5}}
	}
	return &image.Image{Modules: []image.Module{{
		Name:     "m",
		Literals: []image.Literal{{Kind: image.LiteralInt, Int: 5}, {Kind: image.LiteralInt, Int: 0}},
		Methods:  []image.Method{meth},
	}}}
}

func TestDivisionByZeroIsCaughtWhenHandlerCovers(t *testing.T) {
	img := divByZeroImage(true)
	ip, _ := newInterp(t, img)
	p := newProcess()
	p.PushFrame(NewEntryFrame(img, p, 0, 0, nil))

	outcome := ip.RunQuantum(context.Background(), p, 1000)
	require.Equal(t, scheduler.OutcomeYielded, outcome)
	require.Contains(t, p.LastThrow, "division by zero")

	win := p.TopFrame().Window(p.Registers)
	require.True(t, win[5].IsInt())
	require.Equal(t, int64(1), win[5].Int())
}

func TestDivisionByZeroPanicsWhenUnhandled(t *testing.T) {
	img := divByZeroImage(false)
	ip, _ := newInterp(t, img)
	p := newProcess()
	p.PushFrame(NewEntryFrame(img, p, 0, 0, nil))

	outcome := ip.RunQuantum(context.Background(), p, 1000)
	require.Equal(t, scheduler.OutcomePanicked, outcome)
	require.NotNil(t, p.LastPanic)
	require.Contains(t, p.LastPanic.Message, "division by zero")
	require.Nil(t, p.TopFrame())
}

func TestCallDispatchesThroughInlineCache(t *testing.T) {
	// Module 0 has two methods: "main" (entry) allocates a receiver of
	// its own class (0) and calls "double" on it with an argument.
	img := &image.Image{Modules: []image.Module{{
		Name:     "m",
		Literals: []image.Literal{{Kind: image.LiteralInt, Int: 0}, {Kind: image.LiteralString, Str: "double"}, {Kind: image.LiteralInt, Int: 7}},
		Methods: []image.Method{
			{
				Name:          "main",
				RegisterCount: 4,
				Instructions: []image.Instruction{
					instr(image.OpLoadConst, 0, 0), // r0 = class 0
					instr(image.OpAlloc, 1, 0, 0),  // r1 = recv, class r0, 0 fields
					instr(image.OpLoadConst, 2, 2),  // r2 = 7 (arg, at recvReg+1)
					instr(image.OpCall, 3, 1, 1, 1), // r3 = recv.double(r2)
					instr(image.OpYield),
				},
			},
			{
				Name:          "double",
				RegisterCount: 2,
				Instructions: []image.Instruction{
					instr(image.OpAdd, 0, 1, 1), // r0 = arg + arg
					instr(image.OpReturn, 0),
				},
			},
		},
	}}}

	ip, _ := newInterp(t, img)
	p := newProcess()
	p.PushFrame(NewEntryFrame(img, p, 0, 0, nil))

	outcome := ip.RunQuantum(context.Background(), p, 1000)
	require.Equal(t, scheduler.OutcomeYielded, outcome)

	win := p.TopFrame().Window(p.Registers)
	require.True(t, win[3].IsInt())
	require.Equal(t, int64(14), win[3].Int())

	// A second run from a fresh process exercises the warmed cache.
	p2 := newProcess()
	p2.PushFrame(NewEntryFrame(img, p2, 0, 0, nil))
	outcome = ip.RunQuantum(context.Background(), p2, 1000)
	require.Equal(t, scheduler.OutcomeYielded, outcome)
	require.Equal(t, int64(14), p2.TopFrame().Window(p2.Registers)[3].Int())
}

func TestMakeClosureAndInvokeBlock(t *testing.T) {
	// Module 0 "main": captures r0 (=9) into a closure over method 1,
	// then invokes the block.
	img := &image.Image{Modules: []image.Module{{
		Name:     "m",
		Literals: []image.Literal{{Kind: image.LiteralInt, Int: 9}},
		Methods: []image.Method{
			{
				Name:          "main",
				RegisterCount: 4,
				Instructions: []image.Instruction{
					instr(image.OpLoadConst, 0, 0),     // r0 = 9 (captured)
					instr(image.OpMakeClosure, 1, 1, 1, 0), // r1 = closure(method 1, captures [r0])
					instr(image.OpInvokeBlock, 2, 1, 0),    // r2 = invoke r1()
					instr(image.OpYield),
				},
			},
			{
				Name:          "block",
				RegisterCount: 1,
				Instructions: []image.Instruction{
					instr(image.OpLoadCaptured, 0, 0), // r0 = captured[0]
					instr(image.OpReturn, 0),
				},
			},
		},
	}}}

	ip, _ := newInterp(t, img)
	p := newProcess()
	p.PushFrame(NewEntryFrame(img, p, 0, 0, nil))

	outcome := ip.RunQuantum(context.Background(), p, 1000)
	require.Equal(t, scheduler.OutcomeYielded, outcome)

	win := p.TopFrame().Window(p.Registers)
	require.True(t, win[2].IsInt())
	require.Equal(t, int64(9), win[2].Int())
}

func TestSendDeepCopiesIntoReceiverHeap(t *testing.T) {
	img := &image.Image{Modules: []image.Module{{Name: "m", Methods: []image.Method{{RegisterCount: 2}}}}}
	ip, sched := newInterp(t, img)

	sender := newProcess()
	receiver := newProcess()
	sched.Spawn(sender)
	sched.Spawn(receiver)

	frame := NewEntryFrame(img, sender, 0, 0, nil)
	sender.PushFrame(frame)
	win := frame.Window(sender.Registers)

	class, _ := value.FromInt(1)
	obj, err := heapobj.Alloc(sender.Heap, class, 1, false)
	require.NoError(t, err)
	inner, _ := value.FromInt(42)
	heapobj.SetField(obj, 0, inner)

	idVal, _ := value.FromInt(receiver.ID)
	win[0] = idVal
	win[1] = obj

	outcome := ip.exec(context.Background(), sender, frame, &img.Modules[0], &img.Modules[0].Methods[0], instr(image.OpSend, 0, 1))
	require.Equal(t, continueLoop, outcome)

	msgs := receiver.Mailbox.Peek()
	require.Len(t, msgs, 1)
	received, ok := msgs[0].Payload.(value.Ref)
	require.True(t, ok)
	require.True(t, received.IsHeap())
	require.NotEqual(t, obj, received, "send must deep-copy, never share the sender's object identity")
	require.Equal(t, inner, heapobj.GetField(received, 0))
}

func TestReceiveSuspendsThenResumesOnDelivery(t *testing.T) {
	img := &image.Image{Modules: []image.Module{{Name: "m", Methods: []image.Method{{RegisterCount: 1}}}}}
	ip, _ := newInterp(t, img)

	p := newProcess()
	frame := NewEntryFrame(img, p, 0, 0, nil)
	p.PushFrame(frame)

	outcome := ip.exec(context.Background(), p, frame, &img.Modules[0], &img.Modules[0].Methods[0], instr(image.OpReceive, 0))
	require.Equal(t, scheduler.OutcomeSuspended, outcome)
	require.True(t, p.Is(process.WaitingForMessage) || frame.PC == 0)

	payload, _ := value.FromInt(7)
	p.Mailbox.Send(mailbox.Message{Sender: 99, Payload: payload})

	outcome = ip.exec(context.Background(), p, frame, &img.Modules[0], &img.Modules[0].Methods[0], instr(image.OpReceive, 0))
	require.Equal(t, continueLoop, outcome)
	require.Equal(t, payload, frame.Window(p.Registers)[0])
}

func TestReductionBudgetExhaustionYields(t *testing.T) {
	img := &image.Image{Modules: []image.Module{{
		Name:     "m",
		Literals: []image.Literal{{Kind: image.LiteralInt, Int: 1}},
		Methods: []image.Method{{
			RegisterCount: 1,
			Instructions: []image.Instruction{
				instr(image.OpLoadConst, 0, 0),
				instr(image.OpJump, -1), // loop forever
			},
		}},
	}}}

	ip, _ := newInterp(t, img)
	p := newProcess()
	p.PushFrame(NewEntryFrame(img, p, 0, 0, nil))

	outcome := ip.RunQuantum(context.Background(), p, 5)
	require.Equal(t, scheduler.OutcomeYielded, outcome)
	require.NotNil(t, p.TopFrame(), "a budget-exhausted process stays paused mid-method, not terminated")
}
