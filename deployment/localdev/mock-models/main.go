package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/scoring"
)

type predictRequest struct {
	Features     []float64 `json:"features"`
	FeatureNames []string  `json:"feature_names"`
}

// main serves the model scoring contract backed by the threshold rules, for local runs
// of incidentd against scoring.baseURL.
func main() {
	addr := flag.String("addr", ":8001", "listen address")
	flag.Parse()

	scorer := scoring.NewThresholdScorer()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/predict/anomaly", func(w http.ResponseWriter, r *http.Request) {
		v, ok := decodeFeatures(w, r)
		if !ok {
			return
		}
		score, _ := scorer.Score(r.Context(), v)
		prediction := 1
		if score.IsAnomaly {
			prediction = -1
		}
		writeJSON(w, map[string]any{"prediction": prediction, "decision_score": score.Score})
	})

	mux.HandleFunc("/predict/class", func(w http.ResponseWriter, r *http.Request) {
		v, ok := decodeFeatures(w, r)
		if !ok {
			return
		}
		class, _ := scorer.Classify(r.Context(), v)
		writeJSON(w, class)
	})

	logger := log.New(log.Writer(), "models-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    *addr,
		Handler: logRequests(logger, mux),
	}

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func decodeFeatures(w http.ResponseWriter, r *http.Request) (models.FeatureVector, bool) {
	var v models.FeatureVector
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return v, false
	}
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Features) != models.FeatureCount {
		http.Error(w, "expected 15 features", http.StatusBadRequest)
		return v, false
	}
	copy(v[:], req.Features)
	return v, true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
