package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/miradorstack/mirador-incident/internal/config"
	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/services"
)

type fakeAPI struct {
	metrics   []services.MetricInput
	changes   []services.ChangeInput
	latest    []byte
	scanErr   error
	corrErr   error
	alertList []models.Alert
}

func (f *fakeAPI) IngestMetric(_ context.Context, in services.MetricInput) (models.MetricSample, error) {
	if in.Service == "" {
		return models.MetricSample{}, fmt.Errorf("%w: service is required", models.ErrInvalidInput)
	}
	f.metrics = append(f.metrics, in)
	return models.MetricSample{Service: in.Service}, nil
}

func (f *fakeAPI) IngestChange(_ context.Context, in services.ChangeInput) (models.ChangeEvent, error) {
	f.changes = append(f.changes, in)
	return models.ChangeEvent{ChangeID: in.ChangeID, Service: in.Service}, nil
}

func (f *fakeAPI) CorrelateChange(_ context.Context, changeID string) (models.Alert, error) {
	if f.corrErr != nil {
		return models.Alert{}, f.corrErr
	}
	return models.Alert{Type: models.AlertChangeNoImpact, ChangeID: changeID, Confidence: 0.4, Message: "Deployment verified safe"}, nil
}

func (f *fakeAPI) Scan(_ context.Context, service string) (models.ScanResult, error) {
	if f.scanErr != nil {
		return models.ScanResult{}, f.scanErr
	}
	return models.ScanResult{ScanID: "scan-1", Service: service, Anomaly: models.AnomalyScore{Score: -0.12, IsAnomaly: true}}, nil
}

func (f *fakeAPI) LatestScan(context.Context) ([]byte, error) {
	if f.latest == nil {
		return nil, models.ErrNoResults
	}
	return f.latest, nil
}

func (f *fakeAPI) BlastRadius(_ context.Context, service string) (models.BlastRadiusResult, error) {
	return models.BlastRadiusResult{Service: service, CurrentState: models.StateCritical}, nil
}

func (f *fakeAPI) LatestBlastRadius(context.Context) ([]byte, error) {
	return nil, models.ErrNoResults
}

func (f *fakeAPI) Alerts(context.Context, int) ([]models.Alert, error) {
	return f.alertList, nil
}

func (f *fakeAPI) Changes(context.Context, int) ([]models.ChangeEvent, error) {
	return nil, nil
}

func (f *fakeAPI) Hotspots(context.Context, int) ([]models.ServiceHotspot, error) {
	return []models.ServiceHotspot{{Service: "checkout", ImpactAlerts: 2}}, nil
}

func (f *fakeAPI) Readiness(context.Context) services.Readiness {
	return services.Readiness{Ready: true, Store: "memory", Scorer: "threshold", ModelsLoaded: true}
}

func newTestHandler(api IncidentAPI, cfg config.ServerConfig) http.Handler {
	return NewHTTPHandler(api, cfg, nil)
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTPIngestMetricsSingleAndBatch(t *testing.T) {
	api := &fakeAPI{}
	h := newTestHandler(api, config.ServerConfig{})

	rec := do(t, h, http.MethodPost, "/ingest/metrics", `{"service":"auth-service","cpu_percent":40}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodPost, "/ingest/metrics", `[{"service":"a"},{"service":"b"}]`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ingested":2`) {
		t.Fatalf("unexpected batch response %d: %s", rec.Code, rec.Body.String())
	}
	if len(api.metrics) != 3 {
		t.Fatalf("expected 3 ingested metrics, got %d", len(api.metrics))
	}

	rec = do(t, h, http.MethodPost, "/ingest/metrics", `{"cpu_percent":40}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid input, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/ingest/metrics", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", rec.Code)
	}
}

func TestHTTPIngestChange(t *testing.T) {
	api := &fakeAPI{}
	h := newTestHandler(api, config.ServerConfig{})
	rec := do(t, h, http.MethodPost, "/ingest/change", `{"change_id":"deploy-9","service":"checkout","timestamp":"2024-03-01T10:00:00Z","version":"v2"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"change_id":"deploy-9"`) {
		t.Fatalf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHTTPIngestRateLimited(t *testing.T) {
	h := newTestHandler(&fakeAPI{}, config.ServerConfig{IngestRatePerSecond: 0.001, IngestBurst: 1})
	if rec := do(t, h, http.MethodPost, "/ingest/change", `{"change_id":"a","service":"s"}`); rec.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/ingest/change", `{"change_id":"b","service":"s"}`); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	// reads are not limited
	if rec := do(t, h, http.MethodGet, "/alerts", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected alerts to bypass limiter, got %d", rec.Code)
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{models.ErrModelsNotLoaded, http.StatusServiceUnavailable},
		{&models.InsufficientDataError{Required: 5, Available: 2}, http.StatusUnprocessableEntity},
		{fmt.Errorf("scan: %w", models.ErrTimeout), http.StatusGatewayTimeout},
		{fmt.Errorf("x: %w", models.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := newTestHandler(&fakeAPI{scanErr: tc.err}, config.ServerConfig{})
		rec := do(t, h, http.MethodGet, "/ml/scan?service=checkout", "")
		if rec.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
	}

	h := newTestHandler(&fakeAPI{corrErr: fmt.Errorf("%w: x", models.ErrChangeNotFound)}, config.ServerConfig{})
	if rec := do(t, h, http.MethodGet, "/analysis/correlate/x", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHTTPLatestResultsAreRaw(t *testing.T) {
	doc := "{\n    \"scan_id\": \"abc\"\n}"
	h := newTestHandler(&fakeAPI{latest: []byte(doc)}, config.ServerConfig{})
	rec := do(t, h, http.MethodGet, "/ml/results", "")
	if rec.Code != http.StatusOK || rec.Body.String() != doc {
		t.Fatalf("expected raw document, got %d %q", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodGet, "/ml/blast-radius/results", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before first analysis, got %d", rec.Code)
	}
}

func TestHTTPListsAndHealth(t *testing.T) {
	h := newTestHandler(&fakeAPI{}, config.ServerConfig{})
	rec := do(t, h, http.MethodGet, "/alerts?limit=5", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"alerts":[]`) {
		t.Fatalf("unexpected alerts response %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodGet, "/alerts?limit=abc", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/alerts/hotspots", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"checkout"`) {
		t.Fatalf("unexpected hotspots response %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"healthy"`) {
		t.Fatalf("unexpected health response %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHTTPCORSPreflight(t *testing.T) {
	h := newTestHandler(&fakeAPI{}, config.ServerConfig{CORSOrigins: []string{"http://localhost:3000"}})
	req := httptest.NewRequest(http.MethodOptions, "/alerts", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("expected CORS origin header, got %q", got)
	}
}

func TestGRPCService(t *testing.T) {
	api := &fakeAPI{latest: []byte(`{"scan_id":"abc","features":{"mean_cpu":42}}`)}
	srv, err := NewServer(config.ServerConfig{Address: "127.0.0.1:0"}, NewGRPCService(api), false)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	go func() { _ = srv.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient(srv.Address(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, "/"+ServiceName+"/Scan", wrapperspb.String("checkout"), out); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if out.Fields["service"].GetStringValue() != "checkout" || !out.Fields["anomaly"].GetStructValue().Fields["is_anomaly"].GetBoolValue() {
		t.Fatalf("unexpected scan struct %v", out)
	}

	latest := new(structpb.Struct)
	if err := conn.Invoke(ctx, "/"+ServiceName+"/LatestScan", &emptypb.Empty{}, latest); err != nil {
		t.Fatalf("latest scan: %v", err)
	}
	if latest.Fields["features"].GetStructValue().Fields["mean_cpu"].GetNumberValue() != 42 {
		t.Fatalf("unexpected latest scan %v", latest)
	}

	api.corrErr = fmt.Errorf("%w: nope", models.ErrChangeNotFound)
	err = conn.Invoke(ctx, "/"+ServiceName+"/CorrelateChange", wrapperspb.String("nope"), new(structpb.Struct))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}

	health := healthpb.NewHealthClient(conn)
	resp, err := health.Check(ctx, &healthpb.HealthCheckRequest{Service: ScoringHealthService})
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("scoring should report not serving without models, got %v", resp.GetStatus())
	}
}
