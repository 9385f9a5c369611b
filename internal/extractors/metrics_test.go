package extractors

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-incident/internal/models"
)

func window(cpu, memory []float64, requests []int64) []models.MetricSample {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]models.MetricSample, len(cpu))
	for i := range cpu {
		out[i] = models.MetricSample{
			Service:      "checkout",
			Timestamp:    start.Add(time.Duration(i) * time.Minute),
			CPUPercent:   cpu[i],
			MemoryMB:     memory[i],
			RequestCount: requests[i],
			LatencyP95Ms: 100 + float64(i),
		}
	}
	return out
}

func TestFeatureExtractorKnownValues(t *testing.T) {
	v, err := NewFeatureExtractor().Extract(window(
		[]float64{10, 20, 30},
		[]float64{100, 100, 100},
		[]int64{10, 10, 40},
	))
	require.NoError(t, err)

	assert.InDelta(t, 20, v[models.FeatureMeanCPU], 1e-9)
	assert.InDelta(t, math.Sqrt(200.0/3.0), v[models.FeatureStdCPU], 1e-9)
	assert.Equal(t, v[models.FeatureStdCPU], v[models.FeatureCPUVolatility])
	assert.InDelta(t, 10, v[models.FeatureMinCPU], 1e-9)
	assert.InDelta(t, 30, v[models.FeatureMaxCPU], 1e-9)
	assert.InDelta(t, 20, v[models.FeatureDeltaCPU], 1e-9)
	assert.InDelta(t, 10, v[models.FeatureCPUTrend], 1e-9)
	assert.InDelta(t, 100, v[models.FeatureMeanMemory], 1e-9)
	assert.InDelta(t, 0, v[models.FeatureStdMemory], 1e-9)
	assert.InDelta(t, 0, v[models.FeatureMemoryTrend], 1e-9)
	assert.InDelta(t, 20, v[models.FeatureMeanRequests], 1e-9)
	assert.Equal(t, 1.0, v[models.FeatureRequestSpikeCount])
	assert.InDelta(t, 30, v[models.FeatureThroughputDelta], 1e-9)
	assert.InDelta(t, 1.0, v[models.FeatureCostDelta], 1e-9)
	assert.InDelta(t, 10, v[models.FeatureUnitEconomicsRatio], 1e-9)
}

func TestFeatureExtractorSpikeCountExcludesTies(t *testing.T) {
	// mean 2, threshold 3: samples equal to the threshold are not spikes
	v, err := NewFeatureExtractor().Extract(window(
		[]float64{1, 1, 1},
		[]float64{1, 1, 1},
		[]int64{0, 3, 3},
	))
	require.NoError(t, err)
	assert.Equal(t, 0.0, v[models.FeatureRequestSpikeCount])
	assert.LessOrEqual(t, v[models.FeatureRequestSpikeCount], 3.0)
}

func TestFeatureExtractorZeroCost(t *testing.T) {
	v, err := NewFeatureExtractor().Extract(window(
		[]float64{0, 0},
		[]float64{0, 0},
		[]int64{50, 70},
	))
	require.NoError(t, err)
	assert.Equal(t, 0.0, v[models.FeatureUnitEconomicsRatio])
	assert.Equal(t, 0.0, v[models.FeatureCostDelta])
}

func TestFeatureExtractorSingleSample(t *testing.T) {
	v, err := NewFeatureExtractor().Extract(window([]float64{42}, []float64{512}, []int64{9}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, v[models.FeatureCPUTrend])
	assert.Equal(t, 0.0, v[models.FeatureMemoryTrend])
	assert.Equal(t, 0.0, v[models.FeatureStdCPU])
	assert.Equal(t, 0.0, v[models.FeatureDeltaCPU])
	for i, value := range v {
		assert.False(t, math.IsNaN(value), "feature %s is NaN", models.FeatureNames[i])
	}
}

func TestFeatureExtractorEmptyWindow(t *testing.T) {
	_, err := NewFeatureExtractor().Extract(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInsufficientData))
}

func TestMetricExtractorAggregate(t *testing.T) {
	snap, err := NewMetricExtractor().Aggregate(window(
		[]float64{80, 90},
		[]float64{1, 1},
		[]int64{1000, 1400},
	))
	require.NoError(t, err)
	assert.InDelta(t, 100.5, snap.LatencyP95Ms, 1e-9)
	assert.InDelta(t, 85, snap.MeanCPU, 1e-9)
	assert.InDelta(t, 1200, snap.MeanRequests, 1e-9)

	_, err = NewMetricExtractor().Aggregate(nil)
	assert.True(t, errors.Is(err, models.ErrInsufficientData))
}

func TestMetricExtractorDetect(t *testing.T) {
	samples := window(make([]float64, 15), make([]float64, 15), make([]int64, 15))
	for i := range samples {
		samples[i].LatencyP95Ms = 120
		if i > 11 {
			samples[i].LatencyP95Ms = 900
		}
	}

	anomalies := NewMetricExtractor().Detect(samples, 1.0)
	require.Len(t, anomalies, 3)
	assert.Equal(t, 900.0, anomalies[0].Value)
}
