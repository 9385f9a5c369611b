package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-incident/internal/engine"
	"github.com/miradorstack/mirador-incident/internal/metrics"
	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/patterns"
	"github.com/miradorstack/mirador-incident/internal/repo"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

const (
	defaultAlertLimit  = 20
	defaultChangeLimit = 10
	maxListLimit       = 1000

	insufficientDataMessage = "Not enough data points to perform correlation"
)

// MetricInput is an ingested metric sample with a lenient timestamp.
type MetricInput struct {
	Service        string  `json:"service"`
	Timestamp      string  `json:"timestamp,omitempty"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryMB       float64 `json:"memory_mb"`
	NetworkOutMbps float64 `json:"network_out_mbps"`
	RequestCount   int64   `json:"request_count"`
	ErrorCount     int64   `json:"error_count"`
	LatencyP95Ms   float64 `json:"latency_p95_ms"`
}

// ChangeInput is an ingested change event with a lenient timestamp.
type ChangeInput struct {
	ChangeID    string `json:"change_id"`
	Service     string `json:"service"`
	Timestamp   string `json:"timestamp,omitempty"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Type        string `json:"type,omitempty"`
}

// Readiness reports whether the service can answer requests.
type Readiness struct {
	Ready        bool    `json:"ready"`
	Store        string  `json:"store"`
	StoreError   string  `json:"store_error,omitempty"`
	Scorer       string  `json:"scorer"`
	ModelsLoaded bool    `json:"models_loaded"`
	// p95 of recent facade operations, 0 before any call
	LatencyP95Ms float64 `json:"latency_p95_ms"`
}

// Deps are the collaborators of IncidentService. Miner may be nil.
type Deps struct {
	Store        repo.Store
	Correlation  *engine.CorrelationEngine
	Orchestrator *engine.Orchestrator
	BlastRadius  *engine.BlastRadiusService
	Miner        *patterns.Miner
}

// IncidentService is the transport-neutral facade over ingestion, correlation, scans and
// blast radius analysis. Every call is bounded by the request timeout.
type IncidentService struct {
	logger    *slog.Logger
	deps      Deps
	timeout   time.Duration
	latencies *utils.LatencyTracker
	now       func() time.Time
}

// NewIncidentService constructs the facade.
func NewIncidentService(logger *slog.Logger, deps Deps, timeout time.Duration) *IncidentService {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if deps.Miner == nil && deps.Store != nil {
		deps.Miner = patterns.NewMiner(logger, deps.Store)
	}
	return &IncidentService{
		logger:    logger,
		deps:      deps,
		timeout:   timeout,
		latencies: utils.NewLatencyTracker(1024),
		now:       time.Now,
	}
}

type outcome[T any] struct {
	value T
	err   error
}

// call runs fn under the request deadline. A deadline hit returns ErrTimeout and drops
// whatever fn later produces.
func call[T any](s *IncidentService, ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan outcome[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome[T]{value: v, err: err}
	}()

	var (
		res   outcome[T]
		label = metrics.OutcomeSuccess
	)
	select {
	case res = <-done:
		if errors.Is(res.err, context.DeadlineExceeded) {
			res = outcome[T]{err: fmt.Errorf("%s: %w", op, models.ErrTimeout)}
		}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.err = fmt.Errorf("%s: %w", op, models.ErrTimeout)
		} else {
			res.err = ctx.Err()
		}
	}

	duration := time.Since(start)
	switch {
	case errors.Is(res.err, models.ErrTimeout):
		label = metrics.OutcomeTimeout
		s.logger.Warn("operation timed out", "operation", op, "timeout", s.timeout)
	case res.err != nil:
		label = metrics.OutcomeError
	}
	metrics.ObserveOperation(op, duration, label)
	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 50 && count%50 == 0 {
		s.logger.Info("operation latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}

	if res.err != nil {
		var zero T
		return zero, res.err
	}
	return res.value, nil
}

// IngestMetric validates and stores a metric sample. A missing timestamp means now.
func (s *IncidentService) IngestMetric(ctx context.Context, in MetricInput) (models.MetricSample, error) {
	sample, err := s.toSample(in)
	if err == nil {
		err = sample.Validate()
	}
	if err != nil {
		metrics.ObserveIngest("metric", false)
		return models.MetricSample{}, err
	}
	return call(s, ctx, "ingest_metric", func(ctx context.Context) (models.MetricSample, error) {
		if err := s.deps.Store.InsertMetric(ctx, sample); err != nil {
			metrics.ObserveIngest("metric", false)
			return models.MetricSample{}, err
		}
		metrics.ObserveIngest("metric", true)
		return sample, nil
	})
}

// IngestChange validates and stores a change event. A missing type means deployment.
func (s *IncidentService) IngestChange(ctx context.Context, in ChangeInput) (models.ChangeEvent, error) {
	ts, err := s.parseTimestamp(in.Timestamp)
	change := models.ChangeEvent{
		ChangeID:    strings.TrimSpace(in.ChangeID),
		Service:     strings.TrimSpace(in.Service),
		Timestamp:   ts,
		Description: in.Description,
		Version:     in.Version,
		Type:        strings.TrimSpace(in.Type),
	}
	if change.Type == "" {
		change.Type = models.DefaultChangeType
	}
	if err == nil {
		err = change.Validate()
	}
	if err != nil {
		metrics.ObserveIngest("change", false)
		return models.ChangeEvent{}, err
	}
	return call(s, ctx, "ingest_change", func(ctx context.Context) (models.ChangeEvent, error) {
		if err := s.deps.Store.InsertChange(ctx, change); err != nil {
			metrics.ObserveIngest("change", false)
			return models.ChangeEvent{}, err
		}
		metrics.ObserveIngest("change", true)
		s.logger.Info("change recorded", "change_id", change.ChangeID, "service", change.Service, "type", change.Type)
		return change, nil
	})
}

// CorrelateChange runs the before/after latency test for a stored change. Too few samples
// on either side yields an INSUFFICIENT_DATA verdict rather than an error.
func (s *IncidentService) CorrelateChange(ctx context.Context, changeID string) (models.Alert, error) {
	if strings.TrimSpace(changeID) == "" {
		return models.Alert{}, fmt.Errorf("%w: change id is required", models.ErrInvalidInput)
	}
	return call(s, ctx, "correlate_change", func(ctx context.Context) (models.Alert, error) {
		alert, err := s.deps.Correlation.CorrelateByID(ctx, changeID)
		var insufficient *models.InsufficientDataError
		if errors.As(err, &insufficient) {
			s.logger.Info("correlation skipped", "change_id", changeID, "reason", insufficient.Error())
			alert = models.Alert{
				Type:      models.AlertInsufficientData,
				ChangeID:  changeID,
				Message:   insufficientDataMessage,
				Timestamp: s.now().UTC(),
			}
			err = nil
		}
		if err != nil {
			return models.Alert{}, err
		}
		metrics.ObserveCorrelation(string(alert.Type), string(alert.Severity))
		return alert, nil
	})
}

// Scan runs the scan pipeline for service.
func (s *IncidentService) Scan(ctx context.Context, service string) (models.ScanResult, error) {
	if strings.TrimSpace(service) == "" {
		return models.ScanResult{}, fmt.Errorf("%w: service is required", models.ErrInvalidInput)
	}
	return call(s, ctx, "scan", func(ctx context.Context) (models.ScanResult, error) {
		result, err := s.deps.Orchestrator.Scan(ctx, service)
		if err != nil {
			return models.ScanResult{}, err
		}
		if result.Anomaly.IsAnomaly {
			label := ""
			if result.Classification != nil {
				label = result.Classification.Label
			}
			metrics.ObserveScanAnomaly(service, label)
		}
		return result, nil
	})
}

// LatestScan returns the last scan document, byte for byte.
func (s *IncidentService) LatestScan(ctx context.Context) ([]byte, error) {
	return call(s, ctx, "latest_scan", s.deps.Orchestrator.LatestScan)
}

// BlastRadius predicts the downstream impact of service's current health.
func (s *IncidentService) BlastRadius(ctx context.Context, service string) (models.BlastRadiusResult, error) {
	if strings.TrimSpace(service) == "" {
		return models.BlastRadiusResult{}, fmt.Errorf("%w: service is required", models.ErrInvalidInput)
	}
	return call(s, ctx, "blast_radius", func(ctx context.Context) (models.BlastRadiusResult, error) {
		result, err := s.deps.BlastRadius.Analyze(ctx, service)
		if err != nil {
			return models.BlastRadiusResult{}, err
		}
		metrics.SetBlastRadius(service, result.Summary.TotalServicesAtRisk)
		return result, nil
	})
}

// LatestBlastRadius returns the last blast radius document.
func (s *IncidentService) LatestBlastRadius(ctx context.Context) ([]byte, error) {
	return call(s, ctx, "latest_blast_radius", s.deps.BlastRadius.Latest)
}

// Alerts lists recent alerts, newest first.
func (s *IncidentService) Alerts(ctx context.Context, limit int) ([]models.Alert, error) {
	limit = clampLimit(limit, defaultAlertLimit)
	return call(s, ctx, "list_alerts", func(ctx context.Context) ([]models.Alert, error) {
		return s.deps.Store.ListAlerts(ctx, limit)
	})
}

// Changes lists recent changes, newest first.
func (s *IncidentService) Changes(ctx context.Context, limit int) ([]models.ChangeEvent, error) {
	limit = clampLimit(limit, defaultChangeLimit)
	return call(s, ctx, "list_changes", func(ctx context.Context) ([]models.ChangeEvent, error) {
		return s.deps.Store.ListChanges(ctx, limit)
	})
}

// Hotspots ranks services by recorded change impact.
func (s *IncidentService) Hotspots(ctx context.Context, limit int) ([]models.ServiceHotspot, error) {
	return call(s, ctx, "hotspots", func(ctx context.Context) ([]models.ServiceHotspot, error) {
		return s.deps.Miner.Mine(ctx, limit)
	})
}

// Readiness pings the store and reports the scorer state.
func (s *IncidentService) Readiness(ctx context.Context) Readiness {
	r := Readiness{Store: s.deps.Store.Kind(), Scorer: "unavailable"}
	if sc := s.deps.Orchestrator.Scorer(); sc != nil {
		r.Scorer = sc.Name()
		r.ModelsLoaded = sc.Available()
	}
	_, err := call(s, ctx, "readiness", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.deps.Store.Ping(ctx)
	})
	r.LatencyP95Ms = float64(s.latencies.Percentile(95)) / float64(time.Millisecond)
	if err != nil {
		r.StoreError = err.Error()
		return r
	}
	r.Ready = true
	return r
}

func (s *IncidentService) toSample(in MetricInput) (models.MetricSample, error) {
	ts, err := s.parseTimestamp(in.Timestamp)
	if err != nil {
		return models.MetricSample{}, err
	}
	return models.MetricSample{
		Service:        strings.TrimSpace(in.Service),
		Timestamp:      ts,
		CPUPercent:     in.CPUPercent,
		MemoryMB:       in.MemoryMB,
		NetworkOutMbps: in.NetworkOutMbps,
		RequestCount:   in.RequestCount,
		ErrorCount:     in.ErrorCount,
		LatencyP95Ms:   in.LatencyP95Ms,
	}, nil
}

func (s *IncidentService) parseTimestamp(value string) (time.Time, error) {
	ts, err := utils.ParseTimestamp(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	if ts.IsZero() {
		ts = s.now().UTC()
	}
	return ts, nil
}

func clampLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	return min(limit, maxListLimit)
}
