package models

import "time"

// CorrelationResult summarises a feature-level comparison between a baseline and a current snapshot.
type CorrelationResult struct {
	IsCorrelated    bool             `json:"is_correlated"`
	Confidence      float64          `json:"confidence"`
	DelayMinutes    int              `json:"delay_minutes"`
	AffectedMetrics []AffectedMetric `json:"affected_metrics"`
	Indicators      []string         `json:"indicators"`
}

// AffectedMetric records a metric whose change exceeded the reporting threshold.
type AffectedMetric struct {
	Metric       string  `json:"metric"`
	Before       float64 `json:"before"`
	After        float64 `json:"after"`
	DeltaPercent float64 `json:"delta_percent"`
	Pattern      string  `json:"pattern"`
}

// Change patterns reported for affected metrics.
const (
	PatternStable            = "stable"
	PatternSustainedIncrease = "sustained_increase"
	PatternSustainedDecrease = "sustained_decrease"
	PatternAccelerated       = "accelerated"
	PatternDecelerated       = "decelerated"
)

// AlertType enumerates the verdicts of event-anchored correlation.
type AlertType string

const (
	AlertChangeImpactDetected AlertType = "CHANGE_IMPACT_DETECTED"
	AlertChangeNoImpact       AlertType = "CHANGE_NO_IMPACT"
	AlertInsufficientData     AlertType = "INSUFFICIENT_DATA"
)

// Severity captures impact levels of a change.
type Severity string

const (
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityImproved Severity = "IMPROVED"
)

// Alert is the verdict of a statistical change correlation.
type Alert struct {
	ID         string        `json:"id,omitempty"`
	Type       AlertType     `json:"type"`
	ChangeID   string        `json:"change_id"`
	Service    string        `json:"service"`
	Impact     *ChangeImpact `json:"impact,omitempty"`
	Severity   Severity      `json:"severity,omitempty"`
	Confidence float64       `json:"confidence"`
	Message    string        `json:"message,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// ChangeImpact quantifies the latency shift attributed to a change.
type ChangeImpact struct {
	LatencyBefore       float64 `json:"latency_before"`
	LatencyAfter        float64 `json:"latency_after"`
	LatencyDeltaPercent float64 `json:"latency_delta_percent"`
	CausalConfidence    float64 `json:"causal_confidence"`
}
