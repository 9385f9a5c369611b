package scoring

import (
	"context"

	"github.com/miradorstack/mirador-incident/internal/models"
)

// Incident class labels.
const (
	LabelNormal       = "Normal"
	LabelMemoryLeak   = "MemoryLeak"
	LabelTrafficSpike = "TrafficSpike"
	LabelBadDeploy    = "BadDeploy"
)

// Static limits applied when no trained model is available.
const (
	maxCPULimit      = 90.0
	meanCPULimit     = 80.0
	memoryTrendLimit = 25.0
	spikeCountLimit  = 3.0
	normalScore      = 0.1
)

// ThresholdScorer is the conservative fallback: a vector is anomalous when any single
// metric is far outside a static limit.
type ThresholdScorer struct{}

// NewThresholdScorer creates the static fallback scorer.
func NewThresholdScorer() *ThresholdScorer {
	return &ThresholdScorer{}
}

// Name identifies the implementation.
func (*ThresholdScorer) Name() string { return "threshold" }

// Available reports true; static limits need no model.
func (*ThresholdScorer) Available() bool { return true }

// Degraded reports true: static thresholds replace the trained models.
func (*ThresholdScorer) Degraded() bool { return true }

// Score returns the negated largest relative excess over a limit, or a small positive score.
func (*ThresholdScorer) Score(_ context.Context, v models.FeatureVector) (models.AnomalyScore, error) {
	excess := 0.0
	checks := []struct {
		value, limit float64
	}{
		{v[models.FeatureMaxCPU], maxCPULimit},
		{v[models.FeatureMeanCPU], meanCPULimit},
		{v[models.FeatureMemoryTrend], memoryTrendLimit},
	}
	for _, c := range checks {
		if c.value > c.limit {
			if e := (c.value - c.limit) / c.limit; e > excess {
				excess = e
			}
		}
	}
	if excess > 0 {
		return models.AnomalyScore{Score: -excess, IsAnomaly: true}, nil
	}
	return models.AnomalyScore{Score: normalScore, IsAnomaly: false}, nil
}

// Classify labels the vector by the first matching rule with a one-hot distribution.
func (*ThresholdScorer) Classify(_ context.Context, v models.FeatureVector) (models.ClassResult, error) {
	label := LabelNormal
	switch {
	case v[models.FeatureMemoryTrend] > memoryTrendLimit:
		label = LabelMemoryLeak
	case v[models.FeatureRequestSpikeCount] >= spikeCountLimit,
		v[models.FeatureMeanRequests] > 0 && v[models.FeatureThroughputDelta] > 2*v[models.FeatureMeanRequests]:
		label = LabelTrafficSpike
	case v[models.FeatureMeanCPU] > meanCPULimit, v[models.FeatureMaxCPU] > maxCPULimit:
		label = LabelBadDeploy
	}

	probs := map[string]float64{LabelNormal: 0, LabelMemoryLeak: 0, LabelTrafficSpike: 0, LabelBadDeploy: 0}
	probs[label] = 1
	return models.ClassResult{Label: label, Probabilities: probs}, nil
}
