package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels operations that returned a result.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations (store, scorer or validation issues).
	OutcomeError = "error"
	// OutcomeTimeout labels operations that exceeded the request deadline.
	OutcomeTimeout = "timeout"
)

const namespace = "mirador_incident"

var (
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of facade operations handled, partitioned by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	operationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_seconds",
			Help:      "Facade operation latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"operation"},
	)

	correlationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_correlations_total",
			Help:      "Change correlation verdicts, partitioned by alert type and severity.",
		},
		[]string{"type", "severity"},
	)

	ingestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_records_total",
			Help:      "Records accepted or rejected by the ingest endpoints.",
		},
		[]string{"kind", "outcome"},
	)

	scanAnomalies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_anomalies_total",
			Help:      "Scans that flagged the service as anomalous, by classification label.",
		},
		[]string{"service", "label"},
	)

	blastRadiusAtRisk = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "blast_radius_services_at_risk",
			Help:      "Dependents predicted to be affected by the last blast radius analysis of a service.",
		},
		[]string{"service"},
	)
)

// Register attaches mirador-incident collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		operationsTotal,
		operationDurationSeconds,
		correlationsTotal,
		ingestedTotal,
		scanAnomalies,
		blastRadiusAtRisk,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveOperation records an operation duration and outcome label.
func ObserveOperation(operation string, duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeError, OutcomeTimeout:
	default:
		outcome = OutcomeSuccess
	}
	operationsTotal.WithLabelValues(operation, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	operationDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveCorrelation counts a change correlation verdict.
func ObserveCorrelation(alertType, severity string) {
	if severity == "" {
		severity = "none"
	}
	correlationsTotal.WithLabelValues(alertType, severity).Inc()
}

// ObserveIngest counts an ingested or rejected record.
func ObserveIngest(kind string, accepted bool) {
	outcome := OutcomeSuccess
	if !accepted {
		outcome = OutcomeError
	}
	ingestedTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveScanAnomaly counts a scan that flagged an anomaly.
func ObserveScanAnomaly(service, label string) {
	if label == "" {
		label = "unclassified"
	}
	scanAnomalies.WithLabelValues(service, label).Inc()
}

// SetBlastRadius records the number of dependents at risk for service.
func SetBlastRadius(service string, atRisk int) {
	blastRadiusAtRisk.WithLabelValues(service).Set(float64(atRisk))
}
