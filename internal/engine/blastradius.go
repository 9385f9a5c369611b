package engine

import (
	"fmt"
	"math"
	"slices"

	"github.com/miradorstack/mirador-incident/internal/models"
)

const (
	latencyDegradedMs      = 500.0
	latencyBaselineMs      = 200.0
	cpuSaturatedPct        = 80.0
	healthyConfidence      = 0.95
	latencyConfidence      = 0.68
	cpuConfidence          = 0.72
	directDependentConf    = 0.8
	impactMinutesPerHop    = 5
	estimatedUsersAffected = 8200
	defaultMaxDepth        = 16
)

// BlastRadiusAnalyzer predicts how a service's current condition propagates to its dependents.
type BlastRadiusAnalyzer struct {
	graph    *DependencyGraph
	maxDepth int
}

// NewBlastRadiusAnalyzer constructs an analyzer over graph. maxDepth bounds the traversal.
func NewBlastRadiusAnalyzer(graph *DependencyGraph, maxDepth int) *BlastRadiusAnalyzer {
	if graph == nil {
		graph = DefaultDependencyGraph()
	}
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	return &BlastRadiusAnalyzer{graph: graph, maxDepth: maxDepth}
}

// Analyze classifies the service state from health and walks its dependents.
func (a *BlastRadiusAnalyzer) Analyze(service string, health models.HealthSnapshot) models.BlastRadiusResult {
	state, confidence, signals := classifyHealth(health)
	propagation := a.propagate(service)
	return models.BlastRadiusResult{
		Service:              service,
		CurrentState:         state,
		Confidence:           confidence,
		TriggerSignals:       signals,
		PredictedPropagation: propagation,
		Summary:              summarise(state, propagation),
	}
}

func classifyHealth(health models.HealthSnapshot) (models.HealthState, float64, []string) {
	state := models.StateHealthy
	confidence := healthyConfidence
	signals := make([]string, 0, 2)

	if health.LatencyP95Ms > latencyDegradedMs {
		state = models.StateDegrading
		confidence = math.Min(confidence, latencyConfidence)
		signals = append(signals, fmt.Sprintf("Latency p95 increased %.1fx over baseline", roundTo(health.LatencyP95Ms/latencyBaselineMs, 1)))
	}
	if health.MeanCPU > cpuSaturatedPct {
		if state == models.StateDegrading {
			state = models.StateCritical
		} else {
			state = models.StateDegrading
		}
		confidence = math.Min(confidence, cpuConfidence)
		signals = append(signals, fmt.Sprintf("CPU saturation sustained for %d minutes", int(math.RoundToEven(health.MeanCPU/10))))
	}
	return state, confidence, signals
}

type traversalFrame struct {
	edge  models.DependencyEdge
	depth int
	path  []string
}

type visitKey struct {
	service string
	depth   int
}

// propagate walks dependents depth first in graph order. An edge back into the
// current path is skipped, and a service is expanded at most once per depth, so
// the walk emits at most services x maxDepth entries even on dense cyclic graphs.
func (a *BlastRadiusAnalyzer) propagate(root string) []models.PropagationEntry {
	entries := make([]models.PropagationEntry, 0)
	visited := make(map[visitKey]struct{})
	stack := pushDependents(nil, a.graph.Dependents(root), 1, []string{root})

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if slices.Contains(f.path, f.edge.To) {
			continue
		}
		key := visitKey{service: f.edge.To, depth: f.depth}
		if _, seen := visited[key]; seen {
			continue
		}
		visited[key] = struct{}{}

		risk := models.RiskMedium
		if f.edge.LinkType == models.LinkSync {
			risk = models.RiskHigh
		}
		entries = append(entries, models.PropagationEntry{
			Service:               f.edge.To,
			RiskLevel:             risk,
			Confidence:            directDependentConf / float64(f.depth),
			ExpectedImpactMinutes: impactMinutesPerHop * f.depth,
			Reason:                fmt.Sprintf("%s is %s dependency", f.edge.From, f.edge.LinkType),
		})

		if f.depth >= a.maxDepth {
			continue
		}
		path := append(slices.Clone(f.path), f.edge.To)
		stack = pushDependents(stack, a.graph.Dependents(f.edge.To), f.depth+1, path)
	}
	return entries
}

// pushDependents pushes edges in reverse so they pop in declaration order.
func pushDependents(stack []traversalFrame, edges []models.DependencyEdge, depth int, path []string) []traversalFrame {
	for i := len(edges) - 1; i >= 0; i-- {
		stack = append(stack, traversalFrame{edge: edges[i], depth: depth, path: path})
	}
	return stack
}

func summarise(state models.HealthState, entries []models.PropagationEntry) models.BlastRadiusSummary {
	distinct := make(map[string]struct{}, len(entries))
	maxMinutes := 0
	for _, e := range entries {
		distinct[e.Service] = struct{}{}
		if e.ExpectedImpactMinutes > maxMinutes {
			maxMinutes = e.ExpectedImpactMinutes
		}
	}

	summary := models.BlastRadiusSummary{
		TotalServicesAtRisk: len(distinct),
		MaxPropagationDepth: maxMinutes / impactMinutesPerHop,
		SLAViolationRisk:    models.SLARiskLow,
	}
	switch state {
	case models.StateCritical:
		summary.SLAViolationRisk = models.SLARiskLikely
	case models.StateDegrading:
		summary.SLAViolationRisk = models.SLARiskPossible
	}
	if state != models.StateHealthy {
		summary.EstimatedUsersAffected = estimatedUsersAffected
	}
	return summary
}
