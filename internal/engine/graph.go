package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-incident/internal/models"
)

// DependencyGraph maps a service to the services that depend on it.
type DependencyGraph struct {
	dependents map[string][]models.DependencyEdge
}

// GraphFile is the YAML root structure.
type GraphFile struct {
	Dependencies map[string][]models.DependencyEdge `yaml:"dependencies"`
}

// NewDependencyGraph builds a graph from a service → dependents mapping.
func NewDependencyGraph(deps map[string][]models.DependencyEdge) *DependencyGraph {
	g := &DependencyGraph{dependents: make(map[string][]models.DependencyEdge, len(deps))}
	for from, edges := range deps {
		copied := make([]models.DependencyEdge, 0, len(edges))
		for _, edge := range edges {
			edge.From = from
			if edge.LinkType == "" {
				edge.LinkType = models.LinkSync
			}
			copied = append(copied, edge)
		}
		g.dependents[from] = copied
	}
	return g
}

// DefaultDependencyGraph is the built-in example topology.
func DefaultDependencyGraph() *DependencyGraph {
	return NewDependencyGraph(map[string][]models.DependencyEdge{
		"auth-service": {
			{To: "api-gateway", LinkType: models.LinkSync, Depth: 1},
			{To: "user-service", LinkType: models.LinkSync, Depth: 1},
		},
		"api-gateway": {
			{To: "order-service", LinkType: models.LinkSync, Depth: 2},
			{To: "catalog-service", LinkType: models.LinkAsync, Depth: 2},
		},
		"order-service": {
			{To: "payment-service", LinkType: models.LinkSync, Depth: 3},
			{To: "inventory-service", LinkType: models.LinkAsync, Depth: 3},
		},
	})
}

// LoadDependencyGraph reads the graph from path. An empty path or a missing file yields
// the default graph.
func LoadDependencyGraph(path string, logger *slog.Logger) (*DependencyGraph, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return DefaultDependencyGraph(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("dependency graph not found, using default graph", "path", path)
			return DefaultDependencyGraph(), nil
		}
		return nil, err
	}
	var file GraphFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse dependency graph: %w", err)
	}
	for from, edges := range file.Dependencies {
		for _, edge := range edges {
			if strings.TrimSpace(edge.To) == "" {
				return nil, fmt.Errorf("dependency graph: %s has an edge without a service", from)
			}
			switch edge.LinkType {
			case "", models.LinkSync, models.LinkAsync:
			default:
				return nil, fmt.Errorf("dependency graph: %s -> %s has unknown link type %q", from, edge.To, edge.LinkType)
			}
		}
	}
	graph := NewDependencyGraph(file.Dependencies)
	logger.Info("dependency graph loaded", "path", path, "services", len(graph.dependents))
	return graph, nil
}

// Dependents returns the edges from service to the services that depend on it.
func (g *DependencyGraph) Dependents(service string) []models.DependencyEdge {
	if g == nil {
		return nil
	}
	return g.dependents[service]
}

// Services lists the services that have dependents, sorted.
func (g *DependencyGraph) Services() []string {
	if g == nil {
		return nil
	}
	out := make([]string, 0, len(g.dependents))
	for s := range g.dependents {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
