package repo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"gonum.org/v1/gonum/stat"

	"github.com/miradorstack/mirador-incident/internal/models"
)

// Series names exported by instrumented services.
const (
	seriesCPU      = "service_cpu_usage_percent"
	seriesLatency  = "service_latency_ms"
	seriesRequests = "service_request_rate_ops"
)

// HealthSource reports the current aggregate health of a service.
type HealthSource interface {
	Snapshot(ctx context.Context, service string, window time.Duration) (models.HealthSnapshot, error)
}

// PrometheusSource reads live service health from a Prometheus server.
type PrometheusSource struct {
	api     v1.API
	step    time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

// NewPrometheusSource constructs a client targeting the configured Prometheus instance.
func NewPrometheusSource(address string, step, timeout time.Duration, logger *slog.Logger) (*PrometheusSource, error) {
	address = strings.TrimRight(strings.TrimSpace(address), "/")
	if address == "" {
		return nil, fmt.Errorf("prometheus address not configured")
	}
	client, err := api.NewClient(api.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("create prometheus client: %w", err)
	}
	if step <= 0 {
		step = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PrometheusSource{api: v1.NewAPI(client), step: step, timeout: timeout, logger: logger}, nil
}

// Snapshot averages latency, cpu and request rate over the trailing window.
func (p *PrometheusSource) Snapshot(ctx context.Context, service string, window time.Duration) (models.HealthSnapshot, error) {
	if p == nil {
		return models.HealthSnapshot{}, fmt.Errorf("prometheus source not initialised")
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	end := time.Now()
	r := v1.Range{Start: end.Add(-window), End: end, Step: p.step}

	latency, err := p.meanOf(ctx, seriesLatency, service, r)
	if err != nil {
		return models.HealthSnapshot{}, err
	}
	cpu, err := p.meanOf(ctx, seriesCPU, service, r)
	if err != nil {
		return models.HealthSnapshot{}, err
	}
	requests, err := p.meanOf(ctx, seriesRequests, service, r)
	if err != nil {
		return models.HealthSnapshot{}, err
	}
	return models.HealthSnapshot{LatencyP95Ms: latency, MeanCPU: cpu, MeanRequests: requests}, nil
}

func (p *PrometheusSource) meanOf(ctx context.Context, series, service string, r v1.Range) (float64, error) {
	query := fmt.Sprintf(`%s{service=%q}`, series, service)
	result, warnings, err := p.api.QueryRange(ctx, query, r)
	if err != nil {
		return 0, fmt.Errorf("prometheus query %s: %w", series, err)
	}
	if len(warnings) > 0 {
		p.logger.Warn("prometheus query warnings", "series", series, "service", service, "warnings", strings.Join(warnings, "; "))
	}

	matrix, ok := result.(model.Matrix)
	if !ok {
		return 0, fmt.Errorf("prometheus query %s: unexpected result type %s", series, result.Type())
	}
	values := make([]float64, 0)
	for _, stream := range matrix {
		for _, pair := range stream.Values {
			values = append(values, float64(pair.Value))
		}
	}
	if len(values) == 0 {
		return 0, &models.InsufficientDataError{Required: 1, Available: 0, Window: series}
	}
	return stat.Mean(values, nil), nil
}
