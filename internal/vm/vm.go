// Package vm wires every subsystem package into one running Ember
// instance: the block pool, scheduler, GC manager, reactor, timer
// wheel and interpreter, plus the ambient metrics/logging/config
// packages. It is the "everything-is-running" equivalent of the
// teacher's schedinit/mstart sequence in proc.go, generalized from
// "one OS process" to "one VM hosting many Ember processes".
package vm

import (
	"context"
	"fmt"
	"time"

	"github.com/embervm/ember/internal/config"
	"github.com/embervm/ember/internal/ffi"
	"github.com/embervm/ember/internal/gc"
	"github.com/embervm/ember/internal/heapblock"
	"github.com/embervm/ember/internal/image"
	"github.com/embervm/ember/internal/interp"
	"github.com/embervm/ember/internal/metrics"
	"github.com/embervm/ember/internal/process"
	"github.com/embervm/ember/internal/reactor"
	"github.com/embervm/ember/internal/scheduler"
	"github.com/embervm/ember/internal/timerwheel"
	"github.com/embervm/ember/internal/value"
	"github.com/rs/zerolog"
)

// VM owns one scheduler-worth of workers, its shared block pool, and
// every background subsystem (reactor poller, timer wheel, GC
// tracers) needed to run processes drawn from a single loaded image.
type VM struct {
	Image *image.Image
	Cfg   config.Config
	Log   zerolog.Logger

	Pool      *heapblock.Pool
	Sched     *scheduler.Scheduler
	Reactor   *reactor.Reactor
	Timer     *timerwheel.Wheel
	Interp    *interp.Interp
	GC        *gc.Manager
	FFI       *ffi.Registry
	Metrics   *metrics.Set
	metricsCx context.Context
	metricsCn context.CancelFunc
}

// executorSlot breaks the construction cycle between Scheduler and
// Interp: the interpreter needs a *scheduler.Scheduler to spawn/send/
// sleep through, and scheduler.New needs a scheduler.Executor up
// front. The slot is handed to scheduler.New immediately and pointed
// at the real interpreter once it exists, before Start is called.
type executorSlot struct{ exec scheduler.Executor }

func (s *executorSlot) RunQuantum(ctx context.Context, p *process.Process, budget int) scheduler.Outcome {
	return s.exec.RunQuantum(ctx, p, budget)
}

// New constructs every subsystem and wires them together, but does
// not start any goroutines (see Start).
func New(img *image.Image, cfg config.Config, ffiReg *ffi.Registry, metricsSet *metrics.Set, log zerolog.Logger) *VM {
	if ffiReg == nil {
		ffiReg = ffi.NewRegistry()
	}
	pool := heapblock.NewPool(0)
	gcMgr := gc.NewManager(cfg.GCTracers())

	slot := &executorSlot{}
	sched := scheduler.New(cfg.SchedulerConfig(), slot, gcMgr, nil, nil, log)

	mux := newMultiplexer()
	react := reactor.New(mux, sched)
	timer := timerwheel.New(scheduler.TimerNotifier{S: sched})
	sched.SetReactor(react)
	sched.SetTimer(timer)

	ip := interp.New(img, ffiReg, sched)
	slot.exec = ip

	return &VM{
		Image:   img,
		Cfg:     cfg,
		Log:     log,
		Pool:    pool,
		Sched:   sched,
		Reactor: react,
		Timer:   timer,
		Interp:  ip,
		GC:      gcMgr,
		FFI:     ffiReg,
		Metrics: metricsSet,
	}
}

// Start launches the worker pool and every background goroutine
// (reactor poller, timer wheel, metrics sampler). Call Stop to shut
// everything down in reverse order.
func (v *VM) Start() {
	v.Sched.Start()
	go v.Reactor.Run()
	go v.Timer.Run()
	if v.Metrics != nil {
		v.metricsCx, v.metricsCn = context.WithCancel(context.Background())
		go v.sampleMetrics(v.metricsCx)
	}
}

// Stop halts the worker pool and every background goroutine, in the
// reverse order Start brought them up.
func (v *VM) Stop() {
	if v.metricsCn != nil {
		v.metricsCn()
	}
	v.Timer.Stop()
	v.Reactor.Stop()
	v.Sched.Stop()
}

// sampleMetrics periodically republishes scheduler/reactor gauges
// that have no natural update hook of their own (unlike counters,
// which the scheduler/interpreter would update inline), grounded on
// the teacher's sysmon loop polling runtime state on a timer instead
// of being pushed to.
func (v *VM) sampleMetrics(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.Metrics.ProcessesLive.Set(float64(v.Sched.LiveProcessCount()))
			if v.Reactor.Empty() {
				v.Metrics.ParkedFDs.Set(0)
			}
		}
	}
}

// build constructs a fresh process entering img.Modules[moduleIdx]'s
// methodIdx method with args and applies the VM's configured GC
// thresholds, but does not register it with the scheduler yet — the
// caller gets a chance to attach hooks (Main flag, termination hook)
// before the process can possibly start and finish running.
func (v *VM) build(moduleIdx, methodIdx int, args []value.Ref) (*process.Process, error) {
	if moduleIdx < 0 || moduleIdx >= len(v.Image.Modules) {
		return nil, fmt.Errorf("vm: module index %d out of range", moduleIdx)
	}
	mod := v.Image.Modules[moduleIdx]
	if methodIdx < 0 || methodIdx >= len(mod.Methods) {
		return nil, fmt.Errorf("vm: method index %d out of range in module %q", methodIdx, mod.Name)
	}
	p := process.New(v.Pool, 0)
	p.Heap.Thresholds = v.Cfg.Young
	p.PushFrame(interp.NewEntryFrame(v.Image, p, moduleIdx, methodIdx, args))
	return p, nil
}

// Spawn builds a fresh process entering img.Modules[moduleIdx]'s
// methodIdx method with args, registers it with the scheduler, and
// returns it without running a single instruction (the worker pool
// picks it up once Start has been called).
func (v *VM) Spawn(moduleIdx, methodIdx int, args []value.Ref) (*process.Process, error) {
	p, err := v.build(moduleIdx, methodIdx, args)
	if err != nil {
		return nil, err
	}
	v.Sched.Spawn(p)
	return p, nil
}

// RunMain spawns img.Modules[0]'s entry method as the VM's main
// process, flags it Main so an unhandled panic maps to
// config.ExitPanic, and blocks until it terminates. The Main flag and
// termination hook are attached before the process is registered with
// the scheduler, so there is no window in which a fast-terminating
// process could finish before RunMain starts waiting on it.
func (v *VM) RunMain(args []value.Ref) (*process.Process, error) {
	mod := v.Image.Modules[0]
	p, err := v.build(0, mod.EntryIndex, args)
	if err != nil {
		return nil, err
	}
	p.Main = true

	done := make(chan struct{})
	p.SetTerminationHook(func() { close(done) })

	v.Sched.Spawn(p)
	<-done
	return p, nil
}
