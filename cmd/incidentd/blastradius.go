package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-incident/internal/engine"
	"github.com/miradorstack/mirador-incident/internal/models"
)

var (
	brService  string
	brLatency  float64
	brCPU      float64
	brRequests float64
)

var blastRadiusCmd = &cobra.Command{
	Use:   "blast-radius",
	Short: "Predict the blast radius of a service from given health values",
	Long: `Runs the propagation analysis offline against the configured dependency graph.

Example:
  incidentd blast-radius --service auth-service --latency 650 --cpu 85 --requests 1200`,
	RunE: runBlastRadius,
}

func init() {
	blastRadiusCmd.Flags().StringVar(&brService, "service", "", "Service whose health is given (required)")
	blastRadiusCmd.Flags().Float64Var(&brLatency, "latency", 0, "Current p95 latency in ms")
	blastRadiusCmd.Flags().Float64Var(&brCPU, "cpu", 0, "Current mean CPU percent")
	blastRadiusCmd.Flags().Float64Var(&brRequests, "requests", 0, "Current mean request count")
	_ = blastRadiusCmd.MarkFlagRequired("service")
}

func runBlastRadius(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	graph, err := engine.LoadDependencyGraph(cfg.Graph.Path, logger)
	if err != nil {
		return fmt.Errorf("load dependency graph: %w", err)
	}

	result := engine.NewBlastRadiusAnalyzer(graph, cfg.Graph.MaxDepth).Analyze(brService, models.HealthSnapshot{
		LatencyP95Ms: brLatency,
		MeanCPU:      brCPU,
		MeanRequests: brRequests,
	})

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "    ")
	return enc.Encode(result)
}
