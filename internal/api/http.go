package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"github.com/miradorstack/mirador-incident/internal/config"
	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/services"
)

const maxBodyBytes = 1 << 20

// IncidentAPI is the facade the transports call into.
type IncidentAPI interface {
	IngestMetric(ctx context.Context, in services.MetricInput) (models.MetricSample, error)
	IngestChange(ctx context.Context, in services.ChangeInput) (models.ChangeEvent, error)
	CorrelateChange(ctx context.Context, changeID string) (models.Alert, error)
	Scan(ctx context.Context, service string) (models.ScanResult, error)
	LatestScan(ctx context.Context) ([]byte, error)
	BlastRadius(ctx context.Context, service string) (models.BlastRadiusResult, error)
	LatestBlastRadius(ctx context.Context) ([]byte, error)
	Alerts(ctx context.Context, limit int) ([]models.Alert, error)
	Changes(ctx context.Context, limit int) ([]models.ChangeEvent, error)
	Hotspots(ctx context.Context, limit int) ([]models.ServiceHotspot, error)
	Readiness(ctx context.Context) services.Readiness
}

type httpHandler struct {
	svc     IncidentAPI
	logger  *slog.Logger
	limiter *rate.Limiter
}

// NewHTTPHandler builds the REST router wrapped in CORS.
func NewHTTPHandler(svc IncidentAPI, cfg config.ServerConfig, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &httpHandler{svc: svc, logger: logger}
	if cfg.IngestRatePerSecond > 0 {
		burst := cfg.IngestBurst
		if burst <= 0 {
			burst = int(cfg.IngestRatePerSecond)
		}
		h.limiter = rate.NewLimiter(rate.Limit(cfg.IngestRatePerSecond), max(burst, 1))
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", h.health).Methods(http.MethodGet)

	ingest := router.PathPrefix("/ingest").Subrouter()
	ingest.Use(h.rateLimit)
	ingest.HandleFunc("/metrics", h.ingestMetrics).Methods(http.MethodPost)
	ingest.HandleFunc("/change", h.ingestChange).Methods(http.MethodPost)

	router.HandleFunc("/analysis/correlate/{changeID}", h.correlate).Methods(http.MethodGet)
	router.HandleFunc("/alerts", h.alerts).Methods(http.MethodGet)
	router.HandleFunc("/alerts/hotspots", h.hotspots).Methods(http.MethodGet)
	router.HandleFunc("/changes", h.changes).Methods(http.MethodGet)
	router.HandleFunc("/ml/scan", h.scan).Methods(http.MethodGet)
	router.HandleFunc("/ml/results", h.latestScan).Methods(http.MethodGet)
	router.HandleFunc("/ml/blast-radius", h.blastRadius).Methods(http.MethodGet)
	router.HandleFunc("/ml/blast-radius/results", h.latestBlastRadius).Methods(http.MethodGet)
	router.Use(h.logRequests)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(router)
}

func (h *httpHandler) health(w http.ResponseWriter, r *http.Request) {
	ready := h.svc.Readiness(r.Context())
	status := http.StatusOK
	body := map[string]any{"status": "healthy", "readiness": ready}
	if !ready.Ready {
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
	}
	respondJSON(w, status, body)
}

func (h *httpHandler) ingestMetrics(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	var inputs []services.MetricInput
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &inputs); err != nil {
			respondError(w, http.StatusBadRequest, "invalid metric batch: "+err.Error())
			return
		}
	} else {
		var in services.MetricInput
		if err := json.Unmarshal(body, &in); err != nil {
			respondError(w, http.StatusBadRequest, "invalid metric payload: "+err.Error())
			return
		}
		inputs = []services.MetricInput{in}
	}

	for _, in := range inputs {
		if _, err := h.svc.IngestMetric(r.Context(), in); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "success", "ingested": len(inputs)})
}

func (h *httpHandler) ingestChange(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	var in services.ChangeInput
	if err := json.Unmarshal(body, &in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid change payload: "+err.Error())
		return
	}
	change, err := h.svc.IngestChange(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "success", "change_id": change.ChangeID})
}

func (h *httpHandler) correlate(w http.ResponseWriter, r *http.Request) {
	alert, err := h.svc.CorrelateChange(r.Context(), mux.Vars(r)["changeID"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, alert)
}

func (h *httpHandler) alerts(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	alerts, err := h.svc.Alerts(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"alerts": nonNil(alerts)})
}

func (h *httpHandler) hotspots(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	hotspots, err := h.svc.Hotspots(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"hotspots": nonNil(hotspots)})
}

func (h *httpHandler) changes(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	changes, err := h.svc.Changes(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"changes": nonNil(changes)})
}

func (h *httpHandler) scan(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Scan(r.Context(), r.URL.Query().Get("service"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *httpHandler) latestScan(w http.ResponseWriter, r *http.Request) {
	h.rawArtifact(w, r, h.svc.LatestScan)
}

func (h *httpHandler) blastRadius(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.BlastRadius(r.Context(), r.URL.Query().Get("service"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *httpHandler) latestBlastRadius(w http.ResponseWriter, r *http.Request) {
	h.rawArtifact(w, r, h.svc.LatestBlastRadius)
}

// rawArtifact writes the stored document unchanged.
func (h *httpHandler) rawArtifact(w http.ResponseWriter, r *http.Request, get func(context.Context) ([]byte, error)) {
	data, err := get(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *httpHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(http.MaxBytesReader(w, r.Body, maxBodyBytes)); err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	return buf.Bytes(), true
}

func (h *httpHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	respondError(w, status, err.Error())
}

func (h *httpHandler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow() {
			respondError(w, http.StatusTooManyRequests, "ingest rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *httpHandler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration", time.Since(start),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrChangeNotFound), errors.Is(err, models.ErrNoResults):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrModelUnavailable), errors.Is(err, models.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
