// Package scoring adapts feature vectors to the anomaly scorer and incident classifier.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/miradorstack/mirador-incident/internal/config"
	"github.com/miradorstack/mirador-incident/internal/models"
)

// Scorer scores and classifies feature vectors.
type Scorer interface {
	Score(ctx context.Context, v models.FeatureVector) (models.AnomalyScore, error)
	Classify(ctx context.Context, v models.FeatureVector) (models.ClassResult, error)
	Available() bool
	// Degraded reports a fallback that stands in for the trained models.
	Degraded() bool
	Name() string
}

// UnavailableScorer is used when no model is loaded; every call fails with ErrModelUnavailable.
type UnavailableScorer struct{}

// Score always fails.
func (UnavailableScorer) Score(context.Context, models.FeatureVector) (models.AnomalyScore, error) {
	return models.AnomalyScore{}, models.ErrModelUnavailable
}

// Classify always fails.
func (UnavailableScorer) Classify(context.Context, models.FeatureVector) (models.ClassResult, error) {
	return models.ClassResult{}, models.ErrModelUnavailable
}

// Available reports false.
func (UnavailableScorer) Available() bool { return false }

// Degraded reports false; an unavailable scorer never produces results.
func (UnavailableScorer) Degraded() bool { return false }

// Name identifies the implementation.
func (UnavailableScorer) Name() string { return "unavailable" }

// Select picks the scorer once at startup. A reachable model service wins; otherwise the
// configured fallback decides between the threshold scorer and no scorer at all.
func Select(ctx context.Context, cfg config.ScoringConfig, logger *slog.Logger) Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		scorer := NewHTTPScorer(cfg.BaseURL, cfg.Timeout)
		err := scorer.Probe(ctx)
		if err == nil {
			logger.Info("scoring models loaded", "url", cfg.BaseURL)
			return scorer
		}
		logger.Warn("scoring service unreachable", "url", cfg.BaseURL, "error", err)
	}
	if strings.EqualFold(cfg.Fallback, "threshold") {
		logger.Warn("using static threshold scorer")
		return NewThresholdScorer()
	}
	logger.Warn("scoring models not loaded; scans will report unavailable")
	return UnavailableScorer{}
}

func probeURL(ctx context.Context, client *http.Client, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model service returned %s", resp.Status)
	}
	return nil
}

func defaultTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 5 * time.Second
	}
	return timeout
}
