package handlers

import (
	"biometric-stream-monitor/analytics"
	"biometric-stream-monitor/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	requestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	readingsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readings_ingested_total",
			Help: "Total number of readings evaluated by the detector",
		},
		[]string{"sensor"},
	)

	readingsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readings_dropped_total",
			Help: "Total number of readings dropped because the ingest queue was full",
		},
		[]string{"sensor"},
	)

	ingestErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_errors_total",
			Help: "Total number of readings rejected by the detector",
		},
		[]string{"sensor"},
	)

	anomaliesDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anomalies_detected_total",
			Help: "Total number of anomaly verdicts by top severity",
		},
		[]string{"sensor", "severity"},
	)

	detectorWindows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "detector_windows",
			Help: "Number of (subject, sensor) windows held by the detector",
		},
	)
)

// sensorLabel keeps label cardinality bounded when clients send arbitrary sensor names.
func sensorLabel(k models.SensorKind) string {
	if k.Known() {
		return string(k)
	}
	return "other"
}

// EngineHooks wires the analytics engine to the Prometheus collectors.
func EngineHooks(detector *analytics.SlidingWindowDetector) analytics.EngineHooks {
	return analytics.EngineHooks{
		OnAnomaly: func(record models.AnomalyRecord) {
			anomaliesDetectedTotal.WithLabelValues(sensorLabel(record.Sensor), record.Severity).Inc()
		},
		OnIngested: func(sensor models.SensorKind) {
			readingsIngestedTotal.WithLabelValues(sensorLabel(sensor)).Inc()
			if detector != nil {
				detectorWindows.Set(float64(detector.Keys()))
			}
		},
		OnDropped: func(sensor models.SensorKind) {
			readingsDroppedTotal.WithLabelValues(sensorLabel(sensor)).Inc()
		},
		OnError: func(sensor models.SensorKind) {
			ingestErrorsTotal.WithLabelValues(sensorLabel(sensor)).Inc()
		},
	}
}
