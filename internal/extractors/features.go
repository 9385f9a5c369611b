package extractors

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/miradorstack/mirador-incident/internal/models"
)

const (
	spikeFactor   = 1.5
	costPerCPU    = 0.05
	costPerMemory = 0.01
)

// FeatureExtractor turns an ordered metric window into the fixed model input vector.
type FeatureExtractor struct{}

// NewFeatureExtractor creates a feature extractor.
func NewFeatureExtractor() *FeatureExtractor {
	return &FeatureExtractor{}
}

// Extract computes the feature vector of a chronologically ordered window.
func (e *FeatureExtractor) Extract(window []models.MetricSample) (models.FeatureVector, error) {
	var v models.FeatureVector
	n := len(window)
	if n == 0 {
		return v, &models.InsufficientDataError{Required: 1, Available: 0}
	}

	cpu := make([]float64, n)
	memory := make([]float64, n)
	requests := make([]float64, n)
	cost := make([]float64, n)
	for i, sample := range window {
		cpu[i] = sample.CPUPercent
		memory[i] = sample.MemoryMB
		requests[i] = float64(sample.RequestCount)
		cost[i] = costPerCPU*sample.CPUPercent + costPerMemory*sample.MemoryMB
	}

	meanCPU, stdCPU := popMeanStd(cpu)
	meanMemory, stdMemory := popMeanStd(memory)
	meanRequests := stat.Mean(requests, nil)

	v[models.FeatureMeanCPU] = meanCPU
	v[models.FeatureStdCPU] = stdCPU
	v[models.FeatureMinCPU] = floats.Min(cpu)
	v[models.FeatureMaxCPU] = floats.Max(cpu)
	v[models.FeatureDeltaCPU] = cpu[n-1] - cpu[0]
	v[models.FeatureCPUTrend] = slope(cpu)
	v[models.FeatureCPUVolatility] = stdCPU
	v[models.FeatureMeanMemory] = meanMemory
	v[models.FeatureStdMemory] = stdMemory
	v[models.FeatureMemoryTrend] = slope(memory)
	v[models.FeatureMeanRequests] = meanRequests
	v[models.FeatureRequestSpikeCount] = float64(countAbove(requests, spikeFactor*meanRequests))
	v[models.FeatureThroughputDelta] = requests[n-1] - requests[0]
	v[models.FeatureCostDelta] = cost[n-1] - cost[0]

	if totalCost := floats.Sum(cost); totalCost > 0 {
		v[models.FeatureUnitEconomicsRatio] = floats.Sum(requests) / totalCost
	}
	return v, nil
}

// popMeanStd returns the mean and population (ddof 0) standard deviation.
func popMeanStd(x []float64) (float64, float64) {
	if len(x) == 1 {
		return x[0], 0
	}
	mean, std := stat.PopMeanStdDev(x, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return mean, std
}

// slope is the least-squares gradient of x over its sample index.
func slope(x []float64) float64 {
	if len(x) <= 1 {
		return 0
	}
	idx := make([]float64, len(x))
	for i := range idx {
		idx[i] = float64(i)
	}
	_, beta := stat.LinearRegression(idx, x, nil, false)
	return beta
}

func countAbove(x []float64, threshold float64) int {
	count := 0
	for _, value := range x {
		if value > threshold {
			count++
		}
	}
	return count
}
