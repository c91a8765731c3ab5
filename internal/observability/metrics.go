package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Capture session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clinic_gateway_active_capture_sessions",
		Help: "Number of open capture sessions",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_gateway_capture_sessions_total",
		Help: "Total number of listening sessions started",
	}, []string{"mode"})

	sessionEnds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_gateway_capture_session_ends_total",
		Help: "Listening sessions ended, by reason",
	}, []string{"reason"})

	recognizerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_gateway_recognizer_errors_total",
		Help: "Recognizer errors by kind",
	}, []string{"kind"})

	// Extraction metrics
	extractionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_gateway_extraction_requests_total",
		Help: "Extraction calls by form type and status",
	}, []string{"form_type", "status"})

	extractionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clinic_gateway_extraction_latency_seconds",
		Help:    "Extraction call latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	// Visit metrics
	formSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_gateway_form_saves_total",
		Help: "Visit form slot saves",
	}, []string{"slot"})

	visitsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinic_gateway_visits_created_total",
		Help: "Visits created",
	})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clinic_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// RecordSessionOpened records a new capture connection
func RecordSessionOpened() { activeSessions.Inc() }

// RecordSessionClosed records the teardown of a capture connection
func RecordSessionClosed() { activeSessions.Dec() }

// RecordListeningStarted counts a listening session for the given capture mode
func RecordListeningStarted(mode string) {
	sessionsTotal.WithLabelValues(mode).Inc()
}

// RecordSessionEnd counts why a listening session ended (manual, automatic, error, cancelled)
func RecordSessionEnd(reason string) {
	sessionEnds.WithLabelValues(reason).Inc()
}

// RecordRecognizerError counts a classified recognizer error
func RecordRecognizerError(kind string) {
	recognizerErrors.WithLabelValues(kind).Inc()
}

// RecordExtraction records the outcome and latency of one extraction call
func RecordExtraction(formType string, started time.Time, success bool) {
	extractionLatency.Observe(time.Since(started).Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	extractionRequests.WithLabelValues(formType, status).Inc()
}

// RecordFormSave counts a form slot upsert
func RecordFormSave(slot string) {
	formSaves.WithLabelValues(slot).Inc()
}

// RecordVisitCreated counts a new visit
func RecordVisitCreated() { visitsCreated.Inc() }

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
