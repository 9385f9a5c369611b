package extractors

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/miradorstack/mirador-incident/internal/models"
)

// MetricAnomaly captures a sample whose latency deviates from the window mean.
type MetricAnomaly struct {
	Timestamp time.Time
	Value     float64
	Score     float64
	Threshold float64
}

// MetricExtractor aggregates raw samples into health snapshots and flags latency outliers.
type MetricExtractor struct{}

// NewMetricExtractor creates a metric aggregator.
func NewMetricExtractor() *MetricExtractor {
	return &MetricExtractor{}
}

// Aggregate averages latency, cpu and request counts across a window.
func (e *MetricExtractor) Aggregate(window []models.MetricSample) (models.HealthSnapshot, error) {
	if len(window) == 0 {
		return models.HealthSnapshot{}, &models.InsufficientDataError{Required: 1, Available: 0}
	}
	latency := make([]float64, len(window))
	cpu := make([]float64, len(window))
	requests := make([]float64, len(window))
	for i, sample := range window {
		latency[i] = sample.LatencyP95Ms
		cpu[i] = sample.CPUPercent
		requests[i] = float64(sample.RequestCount)
	}
	return models.HealthSnapshot{
		LatencyP95Ms: stat.Mean(latency, nil),
		MeanCPU:      stat.Mean(cpu, nil),
		MeanRequests: stat.Mean(requests, nil),
	}, nil
}

// Detect finds latency samples whose z-score reaches threshold.
func (e *MetricExtractor) Detect(window []models.MetricSample, threshold float64) []MetricAnomaly {
	if len(window) == 0 {
		return nil
	}
	if threshold <= 0 {
		threshold = 2.5
	}

	values := make([]float64, len(window))
	for i, sample := range window {
		values[i] = sample.LatencyP95Ms
	}
	mean, stdDev := popMeanStd(values)
	if stdDev == 0 || math.IsNaN(stdDev) {
		stdDev = 0.01
	}

	anomalies := make([]MetricAnomaly, 0)
	for i, sample := range window {
		score := (values[i] - mean) / stdDev
		if score >= threshold {
			anomalies = append(anomalies, MetricAnomaly{
				Timestamp: sample.Timestamp,
				Value:     values[i],
				Score:     score,
				Threshold: threshold,
			})
		}
	}
	return anomalies
}
