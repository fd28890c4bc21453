package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/clinic_triage/backend/internal/models"
)

// HTTPClassifier calls a remote triage classifier.
type HTTPClassifier struct {
	BaseURL string
	Client  *http.Client
}

type predictRequest struct {
	SchemaVersion string    `json:"schema_version"`
	Features      []float64 `json:"features"`
}

type predictResponse struct {
	Category      int       `json:"category"`
	Probabilities []float64 `json:"probabilities"`
	Confidence    float64   `json:"confidence"`
	ModelVersion  string    `json:"model_version"`
}

func (h HTTPClassifier) client() *http.Client {
	if h.Client == nil {
		return &http.Client{Timeout: 15 * time.Second}
	}
	return h.Client
}

func (h HTTPClassifier) Predict(ctx context.Context, fv models.FeatureVector) (Prediction, error) {
	b, err := json.Marshal(predictRequest{SchemaVersion: fv.SchemaVersion, Features: fv.Values})
	if err != nil {
		return Prediction{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/predict", bytes.NewBuffer(b))
	if err != nil {
		return Prediction{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client().Do(req)
	if err != nil {
		return Prediction{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Prediction{}, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var r predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Prediction{}, fmt.Errorf("decode classifier response: %w", err)
	}
	return Prediction(r), nil
}

func (h HTTPClassifier) Schema(ctx context.Context) (SchemaInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.BaseURL+"/schema", nil)
	if err != nil {
		return SchemaInfo{}, err
	}
	resp, err := h.client().Do(req)
	if err != nil {
		return SchemaInfo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SchemaInfo{}, fmt.Errorf("classifier schema returned status %d", resp.StatusCode)
	}
	var info SchemaInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return SchemaInfo{}, fmt.Errorf("decode classifier schema: %w", err)
	}
	return info, nil
}
