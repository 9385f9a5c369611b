package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-incident/internal/extractors"
	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/repo"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

// demoHealth is used when no live or stored metrics exist and the demo fallback is enabled.
var demoHealth = models.HealthSnapshot{LatencyP95Ms: 650, MeanCPU: 85, MeanRequests: 1200}

// BlastRadiusService resolves current health for a service and runs the analyzer on it.
type BlastRadiusService struct {
	logger       *slog.Logger
	analyzer     *BlastRadiusAnalyzer
	live         repo.HealthSource
	store        MetricFinder
	aggregator   *extractors.MetricExtractor
	artifacts    ArtifactStore
	window       time.Duration
	demoFallback bool
	now          func() time.Time
}

// NewBlastRadiusService constructs the service. live may be nil.
func NewBlastRadiusService(
	logger *slog.Logger,
	analyzer *BlastRadiusAnalyzer,
	live repo.HealthSource,
	store MetricFinder,
	artifacts ArtifactStore,
	window time.Duration,
	demoFallback bool,
) *BlastRadiusService {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &BlastRadiusService{
		logger:       logger,
		analyzer:     analyzer,
		live:         live,
		store:        store,
		aggregator:   extractors.NewMetricExtractor(),
		artifacts:    artifacts,
		window:       window,
		demoFallback: demoFallback,
		now:          time.Now,
	}
}

// Analyze predicts the blast radius of service and persists it as the latest result.
func (s *BlastRadiusService) Analyze(ctx context.Context, service string) (models.BlastRadiusResult, error) {
	health, err := s.health(ctx, service)
	if err != nil {
		return models.BlastRadiusResult{}, err
	}

	result := s.analyzer.Analyze(service, health)
	if s.artifacts != nil {
		data, err := json.MarshalIndent(result, "", "    ")
		if err != nil {
			return models.BlastRadiusResult{}, fmt.Errorf("marshal blast radius: %w", err)
		}
		if err := s.artifacts.Put(ctx, BlastRadiusArtifact, data); err != nil {
			return models.BlastRadiusResult{}, utils.NewAppError("persist blast radius", service, err)
		}
	}
	s.logger.Info("blast radius analysed",
		"service", service,
		"state", result.CurrentState,
		"services_at_risk", result.Summary.TotalServicesAtRisk,
	)
	return result, nil
}

// Latest returns the last persisted blast radius document.
func (s *BlastRadiusService) Latest(ctx context.Context) ([]byte, error) {
	if s.artifacts == nil {
		return nil, models.ErrNoResults
	}
	return s.artifacts.Get(ctx, BlastRadiusArtifact)
}

func (s *BlastRadiusService) health(ctx context.Context, service string) (models.HealthSnapshot, error) {
	if s.live != nil {
		snap, err := s.live.Snapshot(ctx, service, s.window)
		if err == nil {
			return snap, nil
		}
		s.logger.Warn("live health unavailable, using stored metrics", "service", service, "error", err)
	}

	window, err := s.store.FindMetrics(ctx, repo.MetricQuery{Service: service, Start: s.now().Add(-s.window)})
	if err != nil {
		return models.HealthSnapshot{}, utils.NewAppError("blast radius", service, err)
	}
	snap, err := s.aggregator.Aggregate(window)
	if errors.Is(err, models.ErrInsufficientData) && s.demoFallback {
		s.logger.Warn("no recent metrics, using demo health values", "service", service)
		return demoHealth, nil
	}
	return snap, err
}
