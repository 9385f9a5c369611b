package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/repo"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

const (
	correlationWindow      = 300 * time.Second
	minWindowSamples       = 3
	significanceLevel      = 0.05
	highSeverityDeltaPct   = 20.0
	patternThresholdPct    = 15.0
	reportThresholdPct     = 10.0
	baseSnapshotConfidence = 0.4
	maxSnapshotConfidence  = 0.95
	defaultDelayMinutes    = 5
)

// CorrelationStore is the subset of the record store used by change correlation.
type CorrelationStore interface {
	FindMetrics(ctx context.Context, q repo.MetricQuery) ([]models.MetricSample, error)
	FindChange(ctx context.Context, changeID string) (models.ChangeEvent, error)
	InsertAlert(ctx context.Context, alert models.Alert) error
}

// CorrelationEngine decides whether a change shifted the latency of its service.
type CorrelationEngine struct {
	store  CorrelationStore
	logger *slog.Logger
	now    func() time.Time
}

// NewCorrelationEngine constructs a CorrelationEngine.
func NewCorrelationEngine(store CorrelationStore, logger *slog.Logger) *CorrelationEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &CorrelationEngine{store: store, logger: logger, now: time.Now}
}

// CorrelateByID loads a change and correlates it.
func (e *CorrelationEngine) CorrelateByID(ctx context.Context, changeID string) (models.Alert, error) {
	change, err := e.store.FindChange(ctx, changeID)
	if err != nil {
		return models.Alert{}, err
	}
	return e.Correlate(ctx, change)
}

// Correlate compares latency in the five minutes before and after a change with a
// Welch t-test. Significant shifts are persisted as alerts; the rest are reported
// as no-impact verdicts and not stored.
func (e *CorrelationEngine) Correlate(ctx context.Context, change models.ChangeEvent) (models.Alert, error) {
	at := change.Timestamp
	var before, after []models.MetricSample

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		before, err = e.store.FindMetrics(gctx, repo.MetricQuery{Service: change.Service, Start: at.Add(-correlationWindow), End: at})
		return err
	})
	g.Go(func() error {
		var err error
		after, err = e.store.FindMetrics(gctx, repo.MetricQuery{Service: change.Service, Start: at, End: at.Add(correlationWindow)})
		return err
	})
	if err := g.Wait(); err != nil {
		return models.Alert{}, utils.NewAppError("correlate", change.Service, err)
	}

	if len(before) < minWindowSamples {
		return models.Alert{}, &models.InsufficientDataError{Required: minWindowSamples, Available: len(before), Window: "before"}
	}
	if len(after) < minWindowSamples {
		return models.Alert{}, &models.InsufficientDataError{Required: minWindowSamples, Available: len(after), Window: "after"}
	}

	test := WelchTTest(latencies(before), latencies(after))
	confidence := 1 - test.PValue
	alert := models.Alert{
		ChangeID:   change.ChangeID,
		Service:    change.Service,
		Confidence: confidence,
		Timestamp:  e.now().UTC(),
	}

	if test.PValue >= significanceLevel {
		alert.Type = models.AlertChangeNoImpact
		alert.Message = "Deployment verified safe"
		e.logger.Debug("change has no latency impact", "change_id", change.ChangeID, "p_value", test.PValue)
		return alert, nil
	}

	deltaPct := percentChange(test.MeanA, test.MeanB)
	alert.ID = uuid.NewString()
	alert.Type = models.AlertChangeImpactDetected
	alert.Severity = severityFor(deltaPct)
	alert.Impact = &models.ChangeImpact{
		LatencyBefore:       test.MeanA,
		LatencyAfter:        test.MeanB,
		LatencyDeltaPercent: deltaPct,
		CausalConfidence:    confidence,
	}
	alert.Message = fmt.Sprintf("Latency changed %.1f%% after %s %s", deltaPct, change.Kind(), change.ChangeID)

	if err := e.store.InsertAlert(ctx, alert); err != nil {
		return models.Alert{}, utils.NewAppError("persist alert", change.Service, err)
	}
	e.logger.Info("change impact detected",
		"change_id", change.ChangeID,
		"service", change.Service,
		"severity", alert.Severity,
		"delta_percent", deltaPct,
		"p_value", test.PValue,
	)
	return alert, nil
}

// severityFor grades a significant latency shift. Any decrease counts as an improvement.
func severityFor(deltaPct float64) models.Severity {
	switch {
	case deltaPct > highSeverityDeltaPct:
		return models.SeverityHigh
	case deltaPct < 0:
		return models.SeverityImproved
	default:
		return models.SeverityMedium
	}
}

var snapshotMetrics = []struct {
	key   string
	label string
}{
	{"mean_cpu", "CPU usage"},
	{"mean_memory", "Memory usage"},
	{"mean_requests", "Request rate"},
	{"cpu_trend", "CPU trend"},
	{"memory_trend", "Memory trend"},
}

// CorrelateSnapshots attributes the movement between a baseline and a current feature
// vector to change, reporting metrics that moved more than ten percent.
func CorrelateSnapshots(baseline, current models.FeatureVector, change models.ChangeEvent, now time.Time) models.CorrelationResult {
	result := models.CorrelationResult{
		AffectedMetrics: make([]models.AffectedMetric, 0),
		Indicators:      make([]string, 0),
	}

	total := 0.0
	for _, m := range snapshotMetrics {
		before, _ := baseline.Get(m.key)
		after, _ := current.Get(m.key)
		delta := after - before
		pct := percentChange(before, after)
		isTrend := strings.Contains(m.key, "trend")

		pattern := models.PatternStable
		switch {
		case pct > patternThresholdPct && isTrend:
			pattern = models.PatternAccelerated
		case pct > patternThresholdPct:
			pattern = models.PatternSustainedIncrease
		case pct < -patternThresholdPct && isTrend:
			pattern = models.PatternDecelerated
		case pct < -patternThresholdPct:
			pattern = models.PatternSustainedDecrease
		}

		if math.Abs(pct) > reportThresholdPct {
			result.AffectedMetrics = append(result.AffectedMetrics, models.AffectedMetric{
				Metric:       strings.TrimPrefix(m.key, "mean_"),
				Before:       roundTo(before, 2),
				After:        roundTo(after, 2),
				DeltaPercent: roundTo(pct, 1),
				Pattern:      pattern,
			})
			direction := "decreased"
			if delta > 0 {
				direction = "increased"
			}
			result.Indicators = append(result.Indicators,
				fmt.Sprintf("%s %s %d%% after %s", m.label, direction, int(math.RoundToEven(math.Abs(pct))), change.Kind()))
		}
		total += math.Abs(pct)
	}

	avg := total / float64(len(snapshotMetrics))
	result.Confidence = roundTo(math.Min(maxSnapshotConfidence, baseSnapshotConfidence+avg/100), 2)
	result.IsCorrelated = len(result.AffectedMetrics) > 0
	result.DelayMinutes = utils.ElapsedMinutes(change.Timestamp, now, 1, defaultDelayMinutes)
	return result
}

// percentChange is (after-before)/|before| as a percentage; a zero baseline yields
// 100 for any increase and 0 otherwise.
func percentChange(before, after float64) float64 {
	delta := after - before
	if before == 0 {
		if delta > 0 {
			return 100
		}
		return 0
	}
	return delta / math.Abs(before) * 100
}

func latencies(samples []models.MetricSample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.LatencyP95Ms
	}
	return out
}

// roundTo rounds half to even at the given number of decimal places.
func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.RoundToEven(v*scale) / scale
}
