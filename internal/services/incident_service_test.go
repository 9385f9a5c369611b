package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miradorstack/mirador-incident/internal/artifacts"
	"github.com/miradorstack/mirador-incident/internal/config"
	"github.com/miradorstack/mirador-incident/internal/engine"
	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/repo"
	"github.com/miradorstack/mirador-incident/internal/scoring"
)

func newTestService(t *testing.T, store repo.Store, timeout time.Duration) *IncidentService {
	t.Helper()
	files, err := artifacts.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("artifact store: %v", err)
	}
	opts := engine.ScanOptionsFromConfig(config.Default().Scan, time.Now(), nil)
	return NewIncidentService(nil, Deps{
		Store:        store,
		Correlation:  engine.NewCorrelationEngine(store, nil),
		Orchestrator: engine.NewOrchestrator(nil, store, scoring.NewThresholdScorer(), files, opts),
		BlastRadius: engine.NewBlastRadiusService(nil,
			engine.NewBlastRadiusAnalyzer(engine.DefaultDependencyGraph(), 16),
			nil, store, files, 5*time.Minute, false),
	}, timeout)
}

func TestIngestChangeDefaults(t *testing.T) {
	svc := newTestService(t, repo.NewMemoryStore(), time.Second)

	change, err := svc.IngestChange(context.Background(), ChangeInput{ChangeID: "deploy-1", Service: "payment-service", Version: "v2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if change.Type != models.DefaultChangeType {
		t.Fatalf("expected default type, got %q", change.Type)
	}
	if change.Timestamp.IsZero() {
		t.Fatalf("missing timestamp should default to now")
	}

	if _, err := svc.IngestChange(context.Background(), ChangeInput{ChangeID: "deploy-1", Service: "payment-service"}); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("duplicate change id should be rejected, got %v", err)
	}
	if _, err := svc.IngestChange(context.Background(), ChangeInput{Service: "payment-service"}); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected invalid input for missing id, got %v", err)
	}
	if _, err := svc.IngestChange(context.Background(), ChangeInput{ChangeID: "x", Service: "s", Timestamp: "%%%"}); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected invalid input for bad timestamp, got %v", err)
	}
}

func TestIngestMetricRejectsNegativeValues(t *testing.T) {
	svc := newTestService(t, repo.NewMemoryStore(), time.Second)
	_, err := svc.IngestMetric(context.Background(), MetricInput{Service: "auth-service", CPUPercent: -1})
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCorrelateChangeEndToEnd(t *testing.T) {
	store := repo.NewMemoryStore()
	svc := newTestService(t, store, time.Second)
	ctx := context.Background()

	at := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	if _, err := svc.IngestChange(ctx, ChangeInput{ChangeID: "deploy-7", Service: "checkout", Timestamp: at.Format(time.RFC3339)}); err != nil {
		t.Fatalf("ingest change: %v", err)
	}

	alert, err := svc.CorrelateChange(ctx, "deploy-7")
	if err != nil {
		t.Fatalf("correlate without data: %v", err)
	}
	if alert.Type != models.AlertInsufficientData || alert.Message != insufficientDataMessage {
		t.Fatalf("expected insufficient data verdict, got %+v", alert)
	}

	before := []float64{100, 101, 99, 100}
	after := []float64{200, 202, 198, 201}
	for i := range before {
		offset := time.Duration(i+1) * time.Minute
		for _, in := range []MetricInput{
			{Service: "checkout", Timestamp: at.Add(-offset).Format(time.RFC3339), LatencyP95Ms: before[i]},
			{Service: "checkout", Timestamp: at.Add(offset - 30*time.Second).Format(time.RFC3339), LatencyP95Ms: after[i]},
		} {
			if _, err := svc.IngestMetric(ctx, in); err != nil {
				t.Fatalf("ingest metric: %v", err)
			}
		}
	}

	alert, err = svc.CorrelateChange(ctx, "deploy-7")
	if err != nil {
		t.Fatalf("correlate: %v", err)
	}
	if alert.Type != models.AlertChangeImpactDetected || alert.Severity != models.SeverityHigh {
		t.Fatalf("expected high impact alert, got %+v", alert)
	}

	alerts, err := svc.Alerts(ctx, 0)
	if err != nil || len(alerts) != 1 {
		t.Fatalf("expected one stored alert, got %d (%v)", len(alerts), err)
	}
	hotspots, err := svc.Hotspots(ctx, 0)
	if err != nil || len(hotspots) != 1 || hotspots[0].Service != "checkout" {
		t.Fatalf("unexpected hotspots %+v (%v)", hotspots, err)
	}
	changes, err := svc.Changes(ctx, 5)
	if err != nil || len(changes) != 1 {
		t.Fatalf("expected one change, got %d (%v)", len(changes), err)
	}
}

func TestCorrelateUnknownChange(t *testing.T) {
	svc := newTestService(t, repo.NewMemoryStore(), time.Second)
	if _, err := svc.CorrelateChange(context.Background(), "missing"); !errors.Is(err, models.ErrChangeNotFound) {
		t.Fatalf("expected change not found, got %v", err)
	}
}

type slowStore struct {
	*repo.MemoryStore
	delay time.Duration
}

func (s slowStore) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	time.Sleep(s.delay)
	return s.MemoryStore.ListAlerts(context.Background(), limit)
}

func TestOperationsTimeOut(t *testing.T) {
	svc := newTestService(t, slowStore{MemoryStore: repo.NewMemoryStore(), delay: 200 * time.Millisecond}, 20*time.Millisecond)
	alerts, err := svc.Alerts(context.Background(), 10)
	if !errors.Is(err, models.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if alerts != nil {
		t.Fatalf("timed out calls must not return partial results")
	}
}

func TestLatestResultsBeforeFirstRun(t *testing.T) {
	svc := newTestService(t, repo.NewMemoryStore(), time.Second)
	if _, err := svc.LatestScan(context.Background()); !errors.Is(err, models.ErrNoResults) {
		t.Fatalf("expected no scan results, got %v", err)
	}
	if _, err := svc.LatestBlastRadius(context.Background()); !errors.Is(err, models.ErrNoResults) {
		t.Fatalf("expected no blast radius results, got %v", err)
	}
	if _, err := svc.Scan(context.Background(), " "); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestReadiness(t *testing.T) {
	svc := newTestService(t, repo.NewMemoryStore(), time.Second)
	r := svc.Readiness(context.Background())
	if !r.Ready || r.Store != "memory" || r.Scorer != "threshold" || !r.ModelsLoaded {
		t.Fatalf("unexpected readiness %+v", r)
	}
	if r.LatencyP95Ms < 0 {
		t.Fatalf("latency p95 must not be negative, got %f", r.LatencyP95Ms)
	}

	for i := 0; i < 3; i++ {
		if _, err := svc.Alerts(context.Background(), 5); err != nil {
			t.Fatalf("alerts: %v", err)
		}
	}
	if again := svc.Readiness(context.Background()); again.LatencyP95Ms <= 0 {
		t.Fatalf("readiness should report observed latency, got %+v", again)
	}
}
