// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Job metrics
	JobsCreated     *prometheus.CounterVec
	JobTransitions  *prometheus.CounterVec
	ActiveJobs      prometheus.Gauge
	MonitorPasses   *prometheus.CounterVec
	MonitorDuration prometheus.Histogram
	JobsCleanedUp   prometheus.Counter

	// Gateway metrics
	GatewayCallLatency *prometheus.HistogramVec
	GatewayCallErrors  *prometheus.CounterVec
	GatewayRetries     *prometheus.CounterVec

	// Discovery metrics
	DiscoveryProbes    prometheus.Histogram
	DiscoveryOutcomes  *prometheus.CounterVec
	DiscoveryCacheHits prometheus.Counter

	// WFO metrics
	WFORuns          *prometheus.CounterVec
	WFOSlicesCreated *prometheus.CounterVec

	// Analysis metrics
	AnalysesComputed *prometheus.CounterVec
	ReportsGenerated prometheus.Counter
	CacheLookups     *prometheus.CounterVec

	// Stream metrics
	WSClients prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "backtest_lab"
	}

	return &Metrics{
		JobsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "created_total",
			Help:      "Total number of backtest jobs created by type",
		}, []string{"job_type"}),
		JobTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "transitions_total",
			Help:      "Total number of job status transitions",
		}, []string{"from", "to"}),
		ActiveJobs: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "active",
			Help:      "Number of pending or running jobs seen by the last monitor pass",
		}),
		MonitorPasses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "monitor_passes_total",
			Help:      "Total number of monitor passes by status",
		}, []string{"status"}),
		MonitorDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "monitor_duration_seconds",
			Help:      "Monitor pass duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}),
		JobsCleanedUp: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "cleaned_up_total",
			Help:      "Total number of terminal jobs removed by cleanup",
		}),

		GatewayCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "call_latency_seconds",
			Help:      "Remote gateway call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		GatewayCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "call_errors_total",
			Help:      "Total number of failed gateway calls",
		}, []string{"channel"}),
		GatewayRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "retries_total",
			Help:      "Total number of gateway call retries",
		}, []string{"channel"}),

		DiscoveryProbes: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "probes_per_search",
			Help:      "Number of history probes spent per cutoff search",
			Buckets:   []float64{1, 2, 4, 6, 8, 10, 12},
		}),
		DiscoveryOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "outcomes_total",
			Help:      "Total number of cutoff searches by outcome",
		}, []string{"outcome"}),
		DiscoveryCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "cache_hits_total",
			Help:      "Total number of cutoff lookups served from cache",
		}),

		WFORuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wfo",
			Name:      "runs_total",
			Help:      "Total number of WFO runs by window mode and status",
		}, []string{"mode", "status"}),
		WFOSlicesCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wfo",
			Name:      "slices_total",
			Help:      "Total number of WFO slice creations by result",
		}, []string{"result"}),

		AnalysesComputed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "robustness_computed_total",
			Help:      "Total number of robustness analyses by risk level",
		}, []string{"risk_level"}),
		ReportsGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "reports_generated_total",
			Help:      "Total number of lab reports generated",
		}),
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "cache_lookups_total",
			Help:      "Total number of result cache lookups by outcome",
		}, []string{"outcome"}),
		WSClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "clients",
			Help:      "Number of connected monitor stream clients",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordJobCreated increments the created counter for a job type.
func RecordJobCreated(jobType string) {
	DefaultMetrics.JobsCreated.WithLabelValues(jobType).Inc()
}

// RecordJobTransition counts one status transition.
func RecordJobTransition(from, to string) {
	DefaultMetrics.JobTransitions.WithLabelValues(from, to).Inc()
}

// RecordMonitorPass records a monitor pass and the active job count it observed.
func RecordMonitorPass(status string, active int, durationSeconds float64) {
	DefaultMetrics.MonitorPasses.WithLabelValues(status).Inc()
	DefaultMetrics.MonitorDuration.Observe(durationSeconds)
	DefaultMetrics.ActiveJobs.Set(float64(active))
}

// RecordCleanup adds n removed jobs.
func RecordCleanup(n int) {
	DefaultMetrics.JobsCleanedUp.Add(float64(n))
}

// RecordGatewayCall records gateway call latency and failure.
func RecordGatewayCall(channel string, seconds float64, err error) {
	DefaultMetrics.GatewayCallLatency.WithLabelValues(channel).Observe(seconds)
	if err != nil {
		DefaultMetrics.GatewayCallErrors.WithLabelValues(channel).Inc()
	}
}

// RecordGatewayRetry counts one retried gateway attempt.
func RecordGatewayRetry(channel string) {
	DefaultMetrics.GatewayRetries.WithLabelValues(channel).Inc()
}

// RecordDiscovery records the outcome of a cutoff search.
func RecordDiscovery(outcome string, probes int) {
	DefaultMetrics.DiscoveryOutcomes.WithLabelValues(outcome).Inc()
	DefaultMetrics.DiscoveryProbes.Observe(float64(probes))
}

// RecordDiscoveryCacheHit counts a cached cutoff lookup.
func RecordDiscoveryCacheHit() {
	DefaultMetrics.DiscoveryCacheHits.Inc()
}

// RecordWFORun records a WFO run.
func RecordWFORun(mode, status string) {
	DefaultMetrics.WFORuns.WithLabelValues(mode, status).Inc()
}

// RecordWFOSlice records one slice creation attempt.
func RecordWFOSlice(ok bool) {
	result := "created"
	if !ok {
		result = "failed"
	}
	DefaultMetrics.WFOSlicesCreated.WithLabelValues(result).Inc()
}

// RecordAnalysis counts a robustness computation by risk level.
func RecordAnalysis(riskLevel string) {
	DefaultMetrics.AnalysesComputed.WithLabelValues(riskLevel).Inc()
}

// RecordReportGenerated counts a persisted lab report.
func RecordReportGenerated() {
	DefaultMetrics.ReportsGenerated.Inc()
}

// RecordCacheLookup counts a result cache hit or miss.
func RecordCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	DefaultMetrics.CacheLookups.WithLabelValues(outcome).Inc()
}

// RecordWSClients sets the number of connected stream clients.
func RecordWSClients(n int) {
	DefaultMetrics.WSClients.Set(float64(n))
}
