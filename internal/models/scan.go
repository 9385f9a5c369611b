package models

import "time"

// ScanResult is the unified snapshot produced by a scan of one service.
type ScanResult struct {
	ScanID          string             `json:"scan_id"`
	Service         string             `json:"service"`
	ChangeEvent     ScanChangeRef      `json:"change_event"`
	Anomaly         AnomalyScore       `json:"anomaly"`
	Classification  *ClassResult       `json:"classification,omitempty"`
	Correlation     ScanCorrelation    `json:"correlation"`
	AffectedMetrics []AffectedMetric   `json:"affected_metrics"`
	Indicators      []string           `json:"indicators"`
	Features        map[string]float64 `json:"features"`
	LatencyOutliers int                `json:"latency_outliers"`
	Degraded        bool               `json:"degraded,omitempty"`
	GeneratedAt     time.Time          `json:"generated_at"`
}

// ScanChangeRef identifies the change a scan was correlated against.
type ScanChangeRef struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// ScanCorrelation is the condensed correlation verdict of a scan.
type ScanCorrelation struct {
	IsCorrelated bool    `json:"is_correlated"`
	Confidence   float64 `json:"confidence"`
	DelayMinutes int     `json:"delay_minutes"`
}

// AnomalyScore is the output of the anomaly scorer.
type AnomalyScore struct {
	Score     float64 `json:"score"`
	IsAnomaly bool    `json:"is_anomaly"`
}

// ClassResult is the output of the incident classifier.
type ClassResult struct {
	Label         string             `json:"label"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// ServiceHotspot aggregates the impact alerts recorded for a service.
type ServiceHotspot struct {
	Service             string    `json:"service"`
	ImpactAlerts        int       `json:"impact_alerts"`
	HighSeverity        int       `json:"high_severity"`
	Improvements        int       `json:"improvements"`
	MeanLatencyDeltaPct float64   `json:"mean_latency_delta_percent"`
	MaxCausalConfidence float64   `json:"max_causal_confidence"`
	LastSeen            time.Time `json:"last_seen"`
	Changes             []string  `json:"changes"`
}
