package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Step metrics
	stepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ea_stress_steps_total",
			Help: "Total number of workflow steps executed, by outcome",
		},
		[]string{"step", "outcome"},
	)

	stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ea_stress_step_duration_seconds",
			Help:    "Wall time spent in each workflow step",
			Buckets: []float64{0.01, 0.1, 1, 10, 60, 300, 1800, 7200, 36000},
		},
		[]string{"step"},
	)

	// Gate metrics
	gateResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ea_stress_gate_results_total",
			Help: "Gate evaluations by gate name and result",
		},
		[]string{"gate", "passed"},
	)

	// Workflow metrics
	workflowStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ea_stress_workflow_transitions_total",
			Help: "Workflow status transitions by target status",
		},
		[]string{"status"},
	)

	goLiveScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ea_stress_go_live_score",
			Help: "Latest go-live score per symbol",
		},
		[]string{"symbol"},
	)

	monteCarloConfidence = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ea_stress_montecarlo_confidence",
			Help: "Latest Monte Carlo confidence per symbol",
		},
		[]string{"symbol"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ea_stress_errors_total",
			Help: "Total number of errors by category",
		},
		[]string{"category"},
	)

	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ea_stress_retries_total",
			Help: "Collaborator calls retried after a transient failure",
		},
		[]string{"component", "operation"},
	)

	startTime = time.Now()
)

func init() {
	// Register metrics
	prometheus.MustRegister(stepsTotal)
	prometheus.MustRegister(stepDuration)
	prometheus.MustRegister(gateResults)
	prometheus.MustRegister(workflowStatus)
	prometheus.MustRegister(goLiveScore)
	prometheus.MustRegister(monteCarloConfidence)
	prometheus.MustRegister(errorsTotal)
	prometheus.MustRegister(retriesTotal)
}

// MetricsHandler handles Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordStep records a finished step and how long it took
func RecordStep(step, outcome string, elapsed time.Duration) {
	stepsTotal.WithLabelValues(step, outcome).Inc()
	stepDuration.WithLabelValues(step).Observe(elapsed.Seconds())
}

// RecordGate records a gate evaluation
func RecordGate(gate string, passed bool) {
	label := "false"
	if passed {
		label = "true"
	}
	gateResults.WithLabelValues(gate, label).Inc()
}

// RecordTransition records a workflow entering a status
func RecordTransition(status string) {
	workflowStatus.WithLabelValues(status).Inc()
}

// UpdateGoLiveScore updates the go-live score gauge
func UpdateGoLiveScore(symbol string, score float64) {
	goLiveScore.WithLabelValues(symbol).Set(score)
}

// UpdateMonteCarloConfidence updates the Monte Carlo confidence gauge
func UpdateMonteCarloConfidence(symbol string, confidence float64) {
	monteCarloConfidence.WithLabelValues(symbol).Set(confidence)
}

// RecordError records an error metric
func RecordError(category string) {
	errorsTotal.WithLabelValues(category).Inc()
}

// RecordRetry records a retried collaborator call
func RecordRetry(component, operation string) {
	retriesTotal.WithLabelValues(component, operation).Inc()
}
