package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	apiRequestsTotal  *prometheus.CounterVec
	apiLatencySeconds *prometheus.HistogramVec
	apiErrorsTotal    *prometheus.CounterVec

	submissionsStartedTotal   *prometheus.CounterVec
	submissionsFinalizedTotal *prometheus.CounterVec
	violationsTotal           *prometheus.CounterVec
	disqualificationsTotal    prometheus.Counter
	codeRunsTotal             *prometheus.CounterVec
	examEventsTotal           *prometheus.CounterVec
	monitorClientsActive      prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used by the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by API endpoints.",
		}, []string{"method", "route", "status"})

		submissionsStartedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_submissions_started_total",
			Help: "Exam attempts started, split by whether an in-progress attempt was resumed.",
		}, []string{"resumed"})

		submissionsFinalizedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_submissions_finalized_total",
			Help: "Exam attempts that left in-progress, by final status.",
		}, []string{"status"})

		violationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_violations_total",
			Help: "Proctoring violations recorded, by type and severity.",
		}, []string{"type", "severity"})

		disqualificationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exam_disqualifications_total",
			Help: "Attempts disqualified by the proctoring thresholds.",
		})

		codeRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_code_runs_total",
			Help: "Sandboxed coding answer executions, by language and outcome.",
		}, []string{"language", "outcome"})

		examEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_events_total",
			Help: "Lifecycle events delivered to live monitors, by type and origin.",
		}, []string{"type", "origin"})

		monitorClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "exam_monitor_clients_active",
			Help: "Connected live exam monitor clients.",
		})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			submissionsStartedTotal,
			submissionsFinalizedTotal,
			violationsTotal,
			disqualificationsTotal,
			codeRunsTotal,
			examEventsTotal,
			monitorClientsActive,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

func SubmissionsStarted() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsStartedTotal
}

func SubmissionsFinalized() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsFinalizedTotal
}

func Violations() *prometheus.CounterVec {
	RegisterMetrics()
	return violationsTotal
}

func Disqualifications() prometheus.Counter {
	RegisterMetrics()
	return disqualificationsTotal
}

func CodeRuns() *prometheus.CounterVec {
	RegisterMetrics()
	return codeRunsTotal
}

func ExamEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return examEventsTotal
}

func MonitorClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return monitorClientsActive
}
