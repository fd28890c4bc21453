package ai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/clinic_triage/backend/internal/models"
)

// HTTPSequenceModel calls a remote occupancy sequence model. Rows of the
// request sequence follow the department order given at construction.
type HTTPSequenceModel struct {
	client      *resty.Client
	departments []string

	mu      sync.Mutex
	version string
}

type predictNextRequest struct {
	Departments []string      `json:"departments"`
	Sequence    [][]float64   `json:"sequence"`
	Static      StaticContext `json:"static"`
}

type predictNextResponse struct {
	Prediction   map[string]float64 `json:"prediction"`
	ModelVersion string             `json:"model_version"`
}

func NewHTTPSequenceModel(baseURL string, timeout time.Duration, departments []string) *HTTPSequenceModel {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPSequenceModel{client: client, departments: departments}
}

func (m *HTTPSequenceModel) PredictNext(ctx context.Context, window []models.OccupancySnapshot, static StaticContext) (map[string]float64, error) {
	seq := make([][]float64, len(window))
	for i, snap := range window {
		row := make([]float64, len(m.departments))
		for j, d := range m.departments {
			row[j] = float64(snap.Occupancy[d])
		}
		seq[i] = row
	}

	var out predictNextResponse
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(predictNextRequest{Departments: m.departments, Sequence: seq, Static: static}).
		SetResult(&out).
		Post("/predict-next")
	if err != nil {
		return nil, fmt.Errorf("sequence model call: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("sequence model returned status %d", resp.StatusCode())
	}
	for _, d := range m.departments {
		if _, ok := out.Prediction[d]; !ok {
			return nil, fmt.Errorf("sequence model response missing department %s", d)
		}
	}
	if out.ModelVersion != "" {
		m.mu.Lock()
		m.version = out.ModelVersion
		m.mu.Unlock()
	}
	return out.Prediction, nil
}

// Version reports the model version seen in the last successful response.
func (m *HTTPSequenceModel) Version() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.version == "" {
		return "unknown"
	}
	return m.version
}
