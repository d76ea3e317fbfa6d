// Command ember is the VM's CLI entry point (SPEC_FULL.md §6 CLI):
// it loads a bytecode image, spawns its entry method as the main
// process, and blocks until that process terminates.
//
// Grounded on ja7ad-consumption/cmd/consumption/main.go's cobra root
// command + flag-to-env-to-default fallback idiom.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/embervm/ember/internal/config"
	"github.com/embervm/ember/internal/ffi"
	"github.com/embervm/ember/internal/image"
	"github.com/embervm/ember/internal/metrics"
	"github.com/embervm/ember/internal/procheap"
	"github.com/embervm/ember/internal/value"
	"github.com/embervm/ember/internal/vm"
	"github.com/embervm/ember/internal/vmlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type flags struct {
	processThreads  int
	blockingCap     int
	tracerThreads   int
	youngThreshold  int
	matureThreshold int
	growthFactor    float64
	reductions      int
	logLevel        string
}

func main() {
	var f flags

	exitCode := config.ExitSuccess
	root := &cobra.Command{
		Use:   "ember <image> [args...]",
		Short: "Run a bytecode image on the Ember process VM",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exitCode = run(f, args[0], args[1:])
			return nil
		},
	}

	def := config.FromEnv()
	root.Flags().IntVar(&f.processThreads, "process-threads", def.ProcessThreads, "number of scheduler worker threads (PROCESS_THREADS)")
	root.Flags().IntVar(&f.blockingCap, "blocking-threads", def.BlockingCap, "blocking pool concurrency cap (BLOCKING_THREADS)")
	root.Flags().IntVar(&f.tracerThreads, "tracer-threads", def.TracerThreads, "GC tracer goroutines per collection (TRACER_THREADS)")
	root.Flags().IntVar(&f.youngThreshold, "young-threshold", def.Young.Young, "young blocks acquired before a young GC triggers (YOUNG_THRESHOLD)")
	root.Flags().IntVar(&f.matureThreshold, "mature-threshold", def.Young.Mature, "mature blocks acquired before a mature GC triggers (MATURE_THRESHOLD)")
	root.Flags().Float64Var(&f.growthFactor, "growth-factor", def.Young.GrowthFactor, "threshold growth multiplier after a collection (GROWTH_FACTOR)")
	root.Flags().IntVar(&f.reductions, "reductions", def.Reductions, "per-quantum reduction budget (REDUCTIONS)")
	root.Flags().StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(config.ExitPanic)
	}
	os.Exit(exitCode)
}

// run loads the image, wires and starts a vm.VM, runs its main
// process to completion, stops the VM (flushing reactor/timer/worker
// goroutines) and returns the process exit code. It never calls
// os.Exit itself so that machine.Stop() always runs first.
func run(f flags, imagePath string, rawArgs []string) int {
	log := vmlog.New(vmlog.Options{Level: logLevel(f.logLevel)})

	data, err := os.ReadFile(imagePath)
	if err != nil {
		log.Error().Err(err).Str("image", imagePath).Msg("failed to read image file")
		return config.ExitLoadError
	}

	img, err := (image.DefaultLoader{}).Load(data)
	if err != nil {
		log.Error().Err(err).Str("image", imagePath).Msg("failed to decode image")
		return config.ExitLoadError
	}

	cfg := config.Config{
		ProcessThreads: f.processThreads,
		BlockingCap:    f.blockingCap,
		TracerThreads:  f.tracerThreads,
		Young: procheap.Thresholds{
			Young:        f.youngThreshold,
			Mature:       f.matureThreshold,
			GrowthFactor: f.growthFactor,
			HighWater:    procheap.DefaultThresholds().HighWater,
		},
		Reductions: f.reductions,
	}

	args, err := parseArgs(rawArgs)
	if err != nil {
		log.Error().Err(err).Msg("failed to parse program arguments")
		return config.ExitLoadError
	}

	reg := prometheus.NewRegistry()
	metricsSet := metrics.NewSet(reg)
	ffiReg := ffi.NewRegistry()

	machine := vm.New(img, cfg, ffiReg, metricsSet, log)
	machine.Start()
	defer machine.Stop()

	mainProc, err := machine.RunMain(args)
	if err != nil {
		log.Error().Err(err).Msg("failed to spawn main process")
		return config.ExitLoadError
	}

	if mainProc.LastPanic != nil {
		log.Error().Str("panic", mainProc.LastPanic.Message).Msg("main process terminated via unhandled panic")
		return config.ExitPanic
	}

	return config.ExitSuccess
}

// parseArgs converts CLI argument strings into integer values, the
// only scalar kind the value model represents directly (spec.md §1
// leaves string/byte object representations to the out-of-scope
// compiler, so a compiled image's entry method can only receive
// integer program arguments from the host).
func parseArgs(raw []string) ([]value.Ref, error) {
	out := make([]value.Ref, 0, len(raw))
	for _, a := range raw {
		n, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %q is not an integer: %w", a, err)
		}
		ref, ok := value.FromInt(n)
		if !ok {
			return nil, fmt.Errorf("argument %q out of representable range", a)
		}
		out = append(out, ref)
	}
	return out, nil
}

func logLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return vmlog.LevelDebug
	case "warn":
		return vmlog.LevelWarn
	case "error":
		return vmlog.LevelError
	default:
		return vmlog.LevelInfo
	}
}
