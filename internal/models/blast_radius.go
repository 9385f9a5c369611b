package models

// LinkType describes whether a dependent calls its dependency synchronously.
type LinkType string

const (
	LinkSync  LinkType = "sync"
	LinkAsync LinkType = "async"
)

// DependencyEdge is a static edge of the dependency graph: To depends on From.
type DependencyEdge struct {
	From     string   `json:"from_service" yaml:"-"`
	To       string   `json:"to_service" yaml:"service"`
	LinkType LinkType `json:"link_type" yaml:"type"`
	Depth    int      `json:"depth" yaml:"depth"`
}

// HealthState classifies the current condition of a service.
type HealthState string

const (
	StateHealthy   HealthState = "Healthy"
	StateDegrading HealthState = "Degrading"
	StateCritical  HealthState = "Critical"
)

// RiskLevel grades the propagation risk to a dependent.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "High"
	RiskMedium RiskLevel = "Medium"
)

// SLARisk grades the likelihood of an SLA violation.
type SLARisk string

const (
	SLARiskLow      SLARisk = "Low"
	SLARiskPossible SLARisk = "Possible"
	SLARiskLikely   SLARisk = "Likely"
)

// BlastRadiusResult is the predicted downstream impact of a service's current state.
type BlastRadiusResult struct {
	Service              string             `json:"service"`
	CurrentState         HealthState        `json:"current_state"`
	Confidence           float64            `json:"confidence"`
	TriggerSignals       []string           `json:"trigger_signals"`
	PredictedPropagation []PropagationEntry `json:"predicted_propagation"`
	Summary              BlastRadiusSummary `json:"blast_radius_summary"`
}

// PropagationEntry describes the predicted impact on one dependent service.
type PropagationEntry struct {
	Service               string    `json:"service"`
	RiskLevel             RiskLevel `json:"risk_level"`
	Confidence            float64   `json:"confidence"`
	ExpectedImpactMinutes int       `json:"expected_impact_minutes"`
	Reason                string    `json:"reason"`
}

// BlastRadiusSummary aggregates a propagation list.
type BlastRadiusSummary struct {
	TotalServicesAtRisk    int     `json:"total_services_at_risk"`
	MaxPropagationDepth    int     `json:"max_propagation_depth"`
	EstimatedUsersAffected int     `json:"estimated_users_affected"`
	SLAViolationRisk       SLARisk `json:"sla_violation_risk"`
}
