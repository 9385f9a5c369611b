package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-incident/internal/config"
	"github.com/miradorstack/mirador-incident/internal/extractors"
	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/repo"
	"github.com/miradorstack/mirador-incident/internal/scoring"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

// Artifact names of the latest-value outputs.
const (
	ScanArtifact        = "ml_results"
	BlastRadiusArtifact = "blast_radius_results"
)

const latencyOutlierZ = 2.5

// MetricFinder reads metric windows.
type MetricFinder interface {
	FindMetrics(ctx context.Context, q repo.MetricQuery) ([]models.MetricSample, error)
}

// ArtifactStore keeps the latest value of a named output.
type ArtifactStore interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
}

// ScanOptions tunes the orchestrator.
type ScanOptions struct {
	Window          time.Duration
	Limit           int
	MinSamples      int
	SeedFactor      float64
	ReferenceChange models.ChangeEvent
}

// ScanOptionsFromConfig converts the scan config. The reference change timestamp falls back to
// started when unset; an unparseable timestamp is left zero so delays use the default.
func ScanOptionsFromConfig(cfg config.ScanConfig, started time.Time, logger *slog.Logger) ScanOptions {
	if logger == nil {
		logger = slog.Default()
	}
	ref := models.ChangeEvent{
		ChangeID:  "reference",
		Service:   cfg.ReferenceChange.Service,
		Type:      cfg.ReferenceChange.Type,
		Timestamp: started.UTC(),
	}
	if cfg.ReferenceChange.Timestamp != "" {
		ts, err := utils.ParseTimestamp(cfg.ReferenceChange.Timestamp)
		if err != nil {
			logger.Warn("reference change timestamp unparseable", "value", cfg.ReferenceChange.Timestamp, "error", err)
		}
		ref.Timestamp = ts
	}
	return ScanOptions{
		Window:          cfg.Window,
		Limit:           cfg.Limit,
		MinSamples:      cfg.MinSamples,
		SeedFactor:      cfg.BaselineSeedFactor,
		ReferenceChange: ref,
	}
}

// Orchestrator runs scans: extract, score, correlate against the baseline, persist.
type Orchestrator struct {
	logger    *slog.Logger
	store     MetricFinder
	scorer    scoring.Scorer
	features  *extractors.FeatureExtractor
	metrics   *extractors.MetricExtractor
	baselines *BaselineRegistry
	artifacts ArtifactStore
	opts      ScanOptions
	now       func() time.Time
}

// NewOrchestrator constructs a scan orchestrator.
func NewOrchestrator(
	logger *slog.Logger,
	store MetricFinder,
	scorer scoring.Scorer,
	artifacts ArtifactStore,
	opts ScanOptions,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if scorer == nil {
		scorer = scoring.UnavailableScorer{}
	}
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.MinSamples <= 0 {
		opts.MinSamples = 5
	}
	if opts.ReferenceChange.Type == "" {
		opts.ReferenceChange.Type = models.DefaultChangeType
	}
	return &Orchestrator{
		logger:    logger,
		store:     store,
		scorer:    scorer,
		features:  extractors.NewFeatureExtractor(),
		metrics:   extractors.NewMetricExtractor(),
		baselines: NewBaselineRegistry(opts.SeedFactor),
		artifacts: artifacts,
		opts:      opts,
		now:       time.Now,
	}
}

// Scorer exposes the selected scorer.
func (o *Orchestrator) Scorer() scoring.Scorer { return o.scorer }

// Scan analyses the most recent window of service and persists the result as the latest scan.
func (o *Orchestrator) Scan(ctx context.Context, service string) (models.ScanResult, error) {
	if !o.scorer.Available() {
		return models.ScanResult{}, models.ErrModelsNotLoaded
	}

	now := o.now()
	window, err := o.store.FindMetrics(ctx, repo.MetricQuery{
		Service: service,
		Start:   now.Add(-o.opts.Window),
		Order:   repo.OrderDescending,
		Limit:   o.opts.Limit,
	})
	if err != nil {
		return models.ScanResult{}, utils.NewAppError("scan", service, err)
	}
	if len(window) < o.opts.MinSamples {
		return models.ScanResult{}, &models.InsufficientDataError{Required: o.opts.MinSamples, Available: len(window), Window: "scan"}
	}
	// newest-first from the store; features need chronological order
	slices.Reverse(window)

	current, err := o.features.Extract(window)
	if err != nil {
		return models.ScanResult{}, err
	}

	score, err := o.scorer.Score(ctx, current)
	if err != nil {
		if errors.Is(err, models.ErrModelUnavailable) {
			return models.ScanResult{}, fmt.Errorf("%w: %v", models.ErrModelsNotLoaded, err)
		}
		return models.ScanResult{}, utils.NewAppError("score", service, err)
	}
	degraded := o.scorer.Degraded()
	var class *models.ClassResult
	if c, err := o.scorer.Classify(ctx, current); err != nil {
		o.logger.Warn("classification failed", "service", service, "error", err)
		degraded = true
	} else {
		class = &c
	}

	slot := o.baselines.Lock(service)
	defer slot.Unlock()

	baseline, seeded := slot.Baseline(current)
	correlation := CorrelateSnapshots(baseline, current, o.opts.ReferenceChange, now)
	if err := ctx.Err(); err != nil {
		return models.ScanResult{}, err
	}

	result := models.ScanResult{
		ScanID:  uuid.NewString(),
		Service: service,
		ChangeEvent: models.ScanChangeRef{
			Type:      o.opts.ReferenceChange.Kind(),
			Timestamp: o.opts.ReferenceChange.Timestamp,
		},
		Anomaly:        models.AnomalyScore{Score: roundTo(score.Score, 3), IsAnomaly: score.IsAnomaly},
		Classification: class,
		Correlation: models.ScanCorrelation{
			IsCorrelated: correlation.IsCorrelated,
			Confidence:   correlation.Confidence,
			DelayMinutes: correlation.DelayMinutes,
		},
		AffectedMetrics: correlation.AffectedMetrics,
		Indicators:      correlation.Indicators,
		Features:        finiteFeatures(current),
		LatencyOutliers: len(o.metrics.Detect(window, latencyOutlierZ)),
		Degraded:        degraded,
		GeneratedAt:     now.UTC(),
	}

	if err := o.persist(ctx, ScanArtifact, result); err != nil {
		return models.ScanResult{}, utils.NewAppError("persist scan", service, err)
	}
	// a caller that already gave up must not advance the baseline
	if err := ctx.Err(); err != nil {
		return models.ScanResult{}, err
	}
	slot.Replace(current)

	o.logger.Info("scan complete",
		"service", service,
		"samples", len(window),
		"anomaly", score.IsAnomaly,
		"correlated", correlation.IsCorrelated,
		"seeded_baseline", seeded,
	)
	return result, nil
}

// LatestScan returns the last persisted scan document.
func (o *Orchestrator) LatestScan(ctx context.Context) ([]byte, error) {
	if o.artifacts == nil {
		return nil, models.ErrNoResults
	}
	return o.artifacts.Get(ctx, ScanArtifact)
}

func (o *Orchestrator) persist(ctx context.Context, name string, v any) error {
	if o.artifacts == nil {
		return nil
	}
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return o.artifacts.Put(ctx, name, data)
}

// finiteFeatures drops non-finite values so the document stays valid JSON.
func finiteFeatures(v models.FeatureVector) map[string]float64 {
	out := v.Map()
	for k, value := range out {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			out[k] = 0
		}
	}
	return out
}
