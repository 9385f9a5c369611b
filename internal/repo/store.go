package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/miradorstack/mirador-incident/internal/models"
)

// Order is the timestamp sort direction of a query.
type Order int

const (
	OrderAscending Order = iota
	OrderDescending
)

// MetricQuery selects metric samples for a service. Start is inclusive and End exclusive;
// zero bounds are open. Limit <= 0 returns every match.
type MetricQuery struct {
	Service string
	Start   time.Time
	End     time.Time
	Order   Order
	Limit   int
}

func (q MetricQuery) matches(sample models.MetricSample) bool {
	if sample.Service != q.Service {
		return false
	}
	if !q.Start.IsZero() && sample.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && !sample.Timestamp.Before(q.End) {
		return false
	}
	return true
}

// Store is the append-only record store for metrics, changes and alerts.
type Store interface {
	InsertMetric(ctx context.Context, sample models.MetricSample) error
	InsertChange(ctx context.Context, change models.ChangeEvent) error
	InsertAlert(ctx context.Context, alert models.Alert) error
	FindMetrics(ctx context.Context, q MetricQuery) ([]models.MetricSample, error)
	FindChange(ctx context.Context, changeID string) (models.ChangeEvent, error)
	ListChanges(ctx context.Context, limit int) ([]models.ChangeEvent, error)
	ListAlerts(ctx context.Context, limit int) ([]models.Alert, error)
	Ping(ctx context.Context) error
	Close() error
	Kind() string
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, models.ErrStoreUnavailable, err)
}
