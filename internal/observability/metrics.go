package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Call metrics
	activeCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "caption_qos_active_calls",
		Help: "Number of calls currently in the Active state",
	})

	totalCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_qos_calls_total",
		Help: "Total number of calls initiated",
	}, []string{"call_type"})

	callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "caption_qos_call_duration_seconds",
		Help:    "Duration of answered calls in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"call_type"})

	timeToAnswer = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "caption_qos_time_to_answer_seconds",
		Help:    "Time between call initiation and answer in seconds",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"call_type"})

	// Transcription metrics
	transcriptionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "caption_qos_transcription_latency_seconds",
		Help:    "Recognition latency per audio unit in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	recognitionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caption_qos_recognition_failures_total",
		Help: "Audio units degraded to worst-case quality after an oracle failure",
	})

	wordErrorRate = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "caption_qos_word_error_rate",
		Help:    "Word error rate of scored transcription results",
		Buckets: []float64{0, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1},
	})

	// Caption delivery metrics
	captionDeliveryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "caption_qos_caption_delivery_latency_seconds",
		Help:    "Caption delivery latency in seconds",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
	})

	captionOrderViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caption_qos_caption_order_violations_total",
		Help: "Captions delivered with a source timestamp earlier than their predecessor",
	})

	// Compliance metrics
	complianceVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_qos_compliance_verdicts_total",
		Help: "Compliance verdicts rendered",
	}, []string{"call_type", "result"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "caption_qos_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_qos_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Event sink metrics
	kafkaPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_qos_kafka_publish_total",
		Help: "Total number of Kafka messages published",
	}, []string{"topic"})

	kafkaPublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_qos_kafka_publish_errors_total",
		Help: "Total number of Kafka publish errors",
	}, []string{"topic"})
)

// RecordCallInitiated records a new call of the given type
func RecordCallInitiated(callType string) {
	totalCalls.WithLabelValues(callType).Inc()
}

// RecordCallAnswered records a call becoming active
func RecordCallAnswered(callType string, ringTime time.Duration) {
	activeCalls.Inc()
	timeToAnswer.WithLabelValues(callType).Observe(ringTime.Seconds())
}

// RecordCallEnded records the end of a call; answered reports whether it was ever active
func RecordCallEnded(callType string, answered bool, duration time.Duration) {
	if !answered {
		return
	}
	activeCalls.Dec()
	callDuration.WithLabelValues(callType).Observe(duration.Seconds())
}

// RecordTranscription records one processed audio unit
func RecordTranscription(latency time.Duration, degraded bool) {
	transcriptionLatency.Observe(latency.Seconds())
	if degraded {
		recognitionFailures.Inc()
	}
}

// RecordWordErrorRate records the WER of a scored result
func RecordWordErrorRate(wer float64) {
	wordErrorRate.Observe(wer)
}

// RecordCaptionDelivered records one caption delivery
func RecordCaptionDelivered(latency time.Duration, outOfOrder bool) {
	captionDeliveryLatency.Observe(latency.Seconds())
	if outOfOrder {
		captionOrderViolations.Inc()
	}
}

// RecordVerdict records a compliance verdict
func RecordVerdict(callType string, passed bool) {
	result := "pass"
	if !passed {
		result = "fail"
	}
	complianceVerdicts.WithLabelValues(callType, result).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt
func RecordKafkaPublish(topic string, err error) {
	kafkaPublishTotal.WithLabelValues(topic).Inc()
	if err != nil {
		kafkaPublishErrors.WithLabelValues(topic).Inc()
	}
}
