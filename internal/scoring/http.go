package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/miradorstack/mirador-incident/internal/models"
)

// HTTPScorer calls the pre-trained models served over HTTP.
type HTTPScorer struct {
	baseURL    string
	httpClient *http.Client
}

type predictRequest struct {
	Features     []float64 `json:"features"`
	FeatureNames []string  `json:"feature_names"`
}

type anomalyResponse struct {
	Prediction    int     `json:"prediction"`
	DecisionScore float64 `json:"decision_score"`
}

type classResponse struct {
	Label         string             `json:"label"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// NewHTTPScorer constructs a scorer targeting the model service at baseURL.
func NewHTTPScorer(baseURL string, timeout time.Duration) *HTTPScorer {
	return &HTTPScorer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout(timeout)},
	}
}

// Name identifies the implementation.
func (s *HTTPScorer) Name() string { return "http" }

// Available reports whether a model service is configured.
func (s *HTTPScorer) Available() bool { return s != nil && s.baseURL != "" }

// Degraded reports false.
func (s *HTTPScorer) Degraded() bool { return false }

// Probe checks the model service health endpoint.
func (s *HTTPScorer) Probe(ctx context.Context) error {
	if !s.Available() {
		return models.ErrModelUnavailable
	}
	return probeURL(ctx, s.httpClient, s.baseURL+"/healthz")
}

// Score asks the anomaly model for a prediction; -1 marks an anomaly.
func (s *HTTPScorer) Score(ctx context.Context, v models.FeatureVector) (models.AnomalyScore, error) {
	var out anomalyResponse
	if err := s.post(ctx, "/predict/anomaly", v, &out); err != nil {
		return models.AnomalyScore{}, err
	}
	if out.Prediction != -1 && out.Prediction != 1 {
		return models.AnomalyScore{}, fmt.Errorf("anomaly model returned prediction %d", out.Prediction)
	}
	return models.AnomalyScore{Score: out.DecisionScore, IsAnomaly: out.Prediction == -1}, nil
}

// Classify asks the classifier for a label; probabilities are renormalised to sum to 1.
func (s *HTTPScorer) Classify(ctx context.Context, v models.FeatureVector) (models.ClassResult, error) {
	var out classResponse
	if err := s.post(ctx, "/predict/class", v, &out); err != nil {
		return models.ClassResult{}, err
	}
	if out.Label == "" {
		return models.ClassResult{}, fmt.Errorf("classifier returned empty label")
	}
	return models.ClassResult{Label: out.Label, Probabilities: normalise(out.Label, out.Probabilities)}, nil
}

func (s *HTTPScorer) post(ctx context.Context, path string, v models.FeatureVector, out any) error {
	if !s.Available() {
		return models.ErrModelUnavailable
	}
	body, err := json.Marshal(predictRequest{Features: v.Slice(), FeatureNames: models.FeatureNames[:]})
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: model service returned %s", models.ErrModelUnavailable, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("model service returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode model response: %w", err)
	}
	return nil
}

func normalise(label string, probs map[string]float64) map[string]float64 {
	total := 0.0
	for _, p := range probs {
		if p > 0 {
			total += p
		}
	}
	if total <= 0 {
		return map[string]float64{label: 1}
	}
	out := make(map[string]float64, len(probs))
	for k, p := range probs {
		if p < 0 {
			p = 0
		}
		out[k] = p / total
	}
	return out
}
