// Package config resolves the VM's tunables from environment
// variables per spec.md §6, each with a hard default matching
// spec.md's stated component defaults, and defines the process exit
// codes of spec.md §7.
package config

import (
	"os"
	"runtime"
	"strconv"

	"github.com/embervm/ember/internal/procheap"
	"github.com/embervm/ember/internal/scheduler"
)

// Exit codes for cmd/ember, per spec.md §6 ("Exit codes: 0 success;
// non-zero on main-process panic; a distinct code for image-load
// failure").
const (
	ExitSuccess   = 0
	ExitPanic     = 1
	ExitLoadError = 2
)

// Config is the fully resolved set of VM tunables.
type Config struct {
	ProcessThreads int
	BlockingCap    int
	TracerThreads  int
	Young          procheap.Thresholds
	Reductions     int
}

// FromEnv resolves every field from its environment variable,
// falling back to the hard default spec.md §6 states when unset or
// unparsable.
func FromEnv() Config {
	young := procheap.DefaultThresholds()
	return Config{
		ProcessThreads: envInt("PROCESS_THREADS", runtime.NumCPU()),
		BlockingCap:    envInt("BLOCKING_THREADS", scheduler.DefaultConfig().BlockingCap),
		TracerThreads:  envInt("TRACER_THREADS", runtime.NumCPU()),
		Young: procheap.Thresholds{
			Young:        envInt("YOUNG_THRESHOLD", young.Young),
			Mature:       envInt("MATURE_THRESHOLD", young.Mature),
			GrowthFactor: envFloat("GROWTH_FACTOR", young.GrowthFactor),
			HighWater:    young.HighWater,
		},
		Reductions: envInt("REDUCTIONS", scheduler.DefaultConfig().ReductionQuota),
	}
}

// SchedulerConfig adapts Config into a scheduler.Config.
func (c Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Workers:        c.ProcessThreads,
		BlockingCap:    c.BlockingCap,
		ReductionQuota: c.Reductions,
	}
}

// GCTracers returns how many tracer goroutines gc.Collector should
// fan its work-stealing pool out to.
func (c Config) GCTracers() int {
	if c.TracerThreads < 1 {
		return 1
	}
	return c.TracerThreads
}

func envInt(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(name string, def float64) float64 {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
