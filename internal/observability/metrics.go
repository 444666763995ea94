package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "encounter_scribe"

var (
	// Streaming connection metrics
	connectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stt_connection_state",
		Help:      "Streaming transcription connection state (0=disconnected, 1=connecting, 2=connected)",
	})

	reconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stt_reconnect_attempts_total",
		Help:      "Total number of scheduled reconnect attempts",
	})

	reconnectsExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stt_reconnects_exhausted_total",
		Help:      "Number of sessions that gave up reconnecting",
	})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audio_bytes_total",
		Help:      "Total audio bytes handled by the streaming client",
	}, []string{"path"}) // path: "sent", "buffered", "flushed"

	pendingAudioDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pending_audio_dropped_chunks_total",
		Help:      "Chunks dropped from the pending audio buffer on overflow",
	})

	// Transcript metrics
	transcriptEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transcript_events_total",
		Help:      "Transcript events delivered to the consumer",
	}, []string{"kind"}) // kind: "interim", "final"

	protocolDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stt_protocol_drops_total",
		Help:      "Provider messages dropped as noise",
	}, []string{"reason"})

	providerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stt_provider_errors_total",
		Help:      "Explicit error frames received from the provider",
	})

	// Detector metrics
	detectorTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "detector_transitions_total",
		Help:      "Encounter detector state transitions",
	}, []string{"from", "to", "trigger"})

	classifierRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "classifier_requests_total",
		Help:      "Classifier calls by outcome",
	}, []string{"outcome"}) // outcome: verdict value, "error", "stale"

	classifierLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "classifier_latency_seconds",
		Help:      "Classifier call latency in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_failures_total",
		Help:      "Total circuit breaker failures",
	}, []string{"service"})

	// Event publishing metrics
	eventPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_publish_total",
		Help:      "Events published by topic and status",
	}, []string{"topic", "status"})

	eventPublishLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "event_publish_latency_seconds",
		Help:      "Event publish latency in seconds",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"topic"})
)

// SetConnectionState records the streaming connection state.
func SetConnectionState(state int) {
	connectionState.Set(float64(state))
}

// IncrementReconnectAttempts counts one scheduled reconnect attempt.
func IncrementReconnectAttempts() {
	reconnectAttempts.Inc()
}

// IncrementReconnectsExhausted counts a session that gave up reconnecting.
func IncrementReconnectsExhausted() {
	reconnectsExhausted.Inc()
}

// RecordAudioBytes records audio bytes for the given path.
func RecordAudioBytes(path string, bytes int) {
	audioBytesProcessed.WithLabelValues(path).Add(float64(bytes))
}

// RecordPendingAudioDropped counts chunks evicted from the pending buffer.
func RecordPendingAudioDropped(n int) {
	pendingAudioDropped.Add(float64(n))
}

// RecordTranscriptEvent counts an interim or final event.
func RecordTranscriptEvent(kind string) {
	transcriptEvents.WithLabelValues(kind).Inc()
}

// RecordProtocolDrop counts a dropped provider message.
func RecordProtocolDrop(reason string) {
	protocolDrops.WithLabelValues(reason).Inc()
}

// IncrementProviderErrors counts an explicit provider error frame.
func IncrementProviderErrors() {
	providerErrors.Inc()
}

// RecordDetectorTransition counts a detector state transition.
func RecordDetectorTransition(from, to, trigger string) {
	detectorTransitions.WithLabelValues(from, to, trigger).Inc()
}

// RecordClassifierCall records a classifier call outcome and latency.
func RecordClassifierCall(outcome string, seconds float64) {
	classifierRequests.WithLabelValues(outcome).Inc()
	classifierLatency.Observe(seconds)
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

// RecordEventPublish records one publish attempt.
func RecordEventPublish(topic string, err error, seconds float64) {
	status := "success"
	if err != nil {
		status = "error"
	}
	eventPublishes.WithLabelValues(topic, status).Inc()
	eventPublishLatency.WithLabelValues(topic).Observe(seconds)
}
