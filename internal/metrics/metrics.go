// Package metrics instruments the scheduler, GC and reactor with
// prometheus counters/gauges/histograms. It is an additive surface
// (SPEC_FULL.md §9): no HTTP exporter is wired here, only the
// instrumentation a caller (e.g. cmd/ember, or a test) can register
// against its own registry and scrape however it likes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Set holds every metric the VM updates. A Set is bound to one
// prometheus.Registerer at construction time; apart from cmd/ember,
// which creates the registry, nothing else in the tree imports
// prometheus directly.
type Set struct {
	RunQueueDepth   *prometheus.GaugeVec
	StealCount      prometheus.Counter
	GCPauseSeconds  *prometheus.HistogramVec
	ParkedFDs       prometheus.Gauge
	MailboxDepth    prometheus.Histogram
	ProcessesLive   prometheus.Gauge
	ProcessesPanics prometheus.Counter
}

// NewSet creates and registers every metric against reg. reg is
// typically a fresh prometheus.NewRegistry(), both in tests and in
// cmd/ember.
func NewSet(reg prometheus.Registerer) *Set {
	s := &Set{
		RunQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ember",
			Subsystem: "scheduler",
			Name:      "run_queue_depth",
			Help:      "Number of runnable processes queued per worker.",
		}, []string{"worker"}),
		StealCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ember",
			Subsystem: "scheduler",
			Name:      "steal_total",
			Help:      "Number of processes successfully stolen from a peer worker's deque.",
		}),
		GCPauseSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ember",
			Subsystem: "gc",
			Name:      "pause_seconds",
			Help:      "Wall-clock duration of a stop-the-world collection pause.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"generation"}),
		ParkedFDs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ember",
			Subsystem: "reactor",
			Name:      "parked_fds",
			Help:      "Number of file descriptors currently parked awaiting readiness.",
		}),
		MailboxDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ember",
			Subsystem: "mailbox",
			Name:      "depth",
			Help:      "Mailbox queue length observed at receive time.",
			Buckets:   prometheus.LinearBuckets(0, 4, 8),
		}),
		ProcessesLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ember",
			Subsystem: "process",
			Name:      "live",
			Help:      "Number of spawned processes that have not yet terminated.",
		}),
		ProcessesPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ember",
			Subsystem: "process",
			Name:      "panics_total",
			Help:      "Number of processes that terminated via an unhandled panic.",
		}),
	}
	reg.MustRegister(
		s.RunQueueDepth,
		s.StealCount,
		s.GCPauseSeconds,
		s.ParkedFDs,
		s.MailboxDepth,
		s.ProcessesLive,
		s.ProcessesPanics,
	)
	return s
}
