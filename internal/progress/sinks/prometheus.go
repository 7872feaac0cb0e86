package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/sitescraper/internal/progress"
)

// PrometheusSink exports run progress via Prometheus. It owns the collectors
// for runs started/completed/running, visited addresses, created links and
// relinked pages.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	addressesVisited *prometheus.CounterVec
	visitDuration    *prometheus.HistogramVec
	linksCreated     prometheus.Counter
	relinkPages      prometheus.Counter

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitescraper_runs_started_total",
			Help: "Total runs that have started partitioned by mode.",
		}, []string{"mode"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitescraper_runs_completed_total",
			Help: "Total runs completed partitioned by mode and result.",
		}, []string{"mode", "result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sitescraper_runs_running",
			Help: "Current number of running runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitescraper_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		}, []string{"mode", "result"}),
		addressesVisited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitescraper_addresses_visited_total",
			Help: "Addresses processed partitioned by resulting status.",
		}, []string{"status"}),
		visitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitescraper_visit_duration_seconds",
			Help:    "Time spent processing one address partitioned by resulting status.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"status"}),
		linksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitescraper_links_created_total",
			Help: "Addresses created from links found on stored pages.",
		}),
		relinkPages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitescraper_relink_pages_total",
			Help: "Stored pages processed by link regeneration.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.addressesVisited,
		s.visitDuration,
		s.linksCreated,
		s.relinkPages,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		s.handleRunEvent(evt)
	case progress.StageAddressDone:
		s.addressesVisited.WithLabelValues(evt.Status).Inc()
		if evt.Dur > 0 {
			s.visitDuration.WithLabelValues(evt.Status).Observe(evt.Dur.Seconds())
		}
	case progress.StageLinksFound:
		if evt.Created > 0 {
			s.linksCreated.Add(float64(evt.Created))
		}
	case progress.StageRelinkChunk:
		if evt.Processed > 0 {
			s.relinkPages.Add(float64(evt.Processed))
		}
		if evt.Created > 0 {
			s.linksCreated.Add(float64(evt.Created))
		}
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	mode := modeLabel(evt.Mode)
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.WithLabelValues(mode).Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
		return
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues(mode, "success").Inc()
		s.observeRuntime(evt, mode, "success")
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues(mode, "error").Inc()
		s.observeRuntime(evt, mode, "error")
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, mode, result string) {
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(mode, result).Observe(evt.Dur.Seconds())
	}
}

func modeLabel(mode progress.Mode) string {
	if mode == "" {
		return "unknown"
	}
	return string(mode)
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
