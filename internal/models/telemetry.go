package models

import (
	"fmt"
	"strings"
	"time"
)

// MetricSample is a single telemetry observation for a service.
type MetricSample struct {
	Service        string    `json:"service" db:"service"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`
	CPUPercent     float64   `json:"cpu_percent" db:"cpu_percent"`
	MemoryMB       float64   `json:"memory_mb" db:"memory_mb"`
	NetworkOutMbps float64   `json:"network_out_mbps" db:"network_out_mbps"`
	RequestCount   int64     `json:"request_count" db:"request_count"`
	ErrorCount     int64     `json:"error_count" db:"error_count"`
	LatencyP95Ms   float64   `json:"latency_p95_ms" db:"latency_p95_ms"`
}

// Validate rejects samples that violate the non-negative field constraints.
func (m MetricSample) Validate() error {
	if strings.TrimSpace(m.Service) == "" {
		return fmt.Errorf("%w: service is required", ErrInvalidInput)
	}
	if m.CPUPercent < 0 || m.MemoryMB < 0 || m.NetworkOutMbps < 0 || m.LatencyP95Ms < 0 {
		return fmt.Errorf("%w: metric values must be non-negative", ErrInvalidInput)
	}
	if m.RequestCount < 0 || m.ErrorCount < 0 {
		return fmt.Errorf("%w: counters must be non-negative", ErrInvalidInput)
	}
	return nil
}

// DefaultChangeType labels change events that do not carry an explicit type.
const DefaultChangeType = "deployment"

// ChangeEvent identifies a deployment or configuration change.
type ChangeEvent struct {
	ChangeID    string    `json:"change_id" db:"change_id"`
	Service     string    `json:"service" db:"service"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
	Description string    `json:"description" db:"description"`
	Version     string    `json:"version" db:"version"`
	Type        string    `json:"type,omitempty" db:"type"`
}

// Validate checks the identifying fields of a change.
func (c ChangeEvent) Validate() error {
	if strings.TrimSpace(c.ChangeID) == "" {
		return fmt.Errorf("%w: change_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(c.Service) == "" {
		return fmt.Errorf("%w: service is required", ErrInvalidInput)
	}
	return nil
}

// Kind returns the change type, falling back to DefaultChangeType.
func (c ChangeEvent) Kind() string {
	if strings.TrimSpace(c.Type) == "" {
		return DefaultChangeType
	}
	return c.Type
}

// HealthSnapshot is the aggregated current state of a service used for blast radius analysis.
type HealthSnapshot struct {
	LatencyP95Ms float64 `json:"latency_p95_ms"`
	MeanCPU      float64 `json:"mean_cpu"`
	MeanRequests float64 `json:"mean_requests"`
}
