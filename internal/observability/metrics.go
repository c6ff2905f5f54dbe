package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pps_runner"

// Metrics holds the Prometheus counters, histograms, and gauges for the runner.
type Metrics struct {
	NotificationsConsumed prometheus.Counter
	NotificationsRejected *prometheus.CounterVec // labels: reason
	PipelineRunning       prometheus.Gauge

	// Scene assembly.
	ScenesPending prometheus.Gauge
	ScenesReady   *prometheus.CounterVec // labels: family
	ScenesExpired prometheus.Counter

	// Dispatch.
	JobsInFlight  prometheus.Gauge
	JobsDropped   prometheus.Counter
	JobsCompleted *prometheus.CounterVec // labels: outcome={success,error,panic}
	JobDuration   prometheus.Histogram

	// External programs.
	ProcessRuns *prometheus.CounterVec // labels: program, outcome={ok,failed,timeout}

	// Results and NWP preparation.
	ResultsPublished prometheus.Counter
	NWPFiles         *prometheus.CounterVec // labels: outcome={published,skipped,discarded,failed}
}

// NewMetrics creates and registers all runner metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.NotificationsConsumed,
		m.NotificationsRejected,
		m.PipelineRunning,
		m.ScenesPending,
		m.ScenesReady,
		m.ScenesExpired,
		m.JobsInFlight,
		m.JobsDropped,
		m.JobsCompleted,
		m.JobDuration,
		m.ProcessRuns,
		m.ResultsPublished,
		m.NWPFiles,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		NotificationsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_consumed_total",
			Help:      "Total notifications read from the source topic.",
		}),
		NotificationsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_rejected_total",
			Help:      "Notifications ignored, by reason.",
		}, []string{"reason"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the consumer loop is active, 0 when shut down.",
		}),
		ScenesPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scenes_pending",
			Help:      "Scenes waiting for more files.",
		}),
		ScenesReady: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenes_ready_total",
			Help:      "Scenes completed by the assembler, by platform family.",
		}, []string{"family"}),
		ScenesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenes_expired_total",
			Help:      "Pending scenes dropped after waiting too long for their remaining files.",
		}),
		JobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Scene jobs queued or running.",
		}),
		JobsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dropped_total",
			Help:      "Submissions dropped because the same scene was already in flight.",
		}),
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Scene jobs finished, by outcome.",
		}, []string{"outcome"}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of one scene job.",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 900, 1200, 1800},
		}),
		ProcessRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_runs_total",
			Help:      "External program invocations, by program and outcome.",
		}, []string{"program", "outcome"}),
		ResultsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_published_total",
			Help:      "Outbound result notifications written to the sink topic.",
		}),
		NWPFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nwp_files_total",
			Help:      "NWP source files handled, by outcome.",
		}, []string{"outcome"}),
	}
}
