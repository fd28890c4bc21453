package ai

import (
	"context"
	"time"

	"github.com/clinic_triage/backend/internal/models"
)

type Prediction struct {
	Category      int       `json:"category"`
	Probabilities []float64 `json:"probabilities"`
	Confidence    float64   `json:"confidence"`
	ModelVersion  string    `json:"model_version"`
}

// Classifier assigns a triage category to an encoded patient.
type Classifier interface {
	Predict(ctx context.Context, fv models.FeatureVector) (Prediction, error)
}

// StaticContext is the calendar information fed to the sequence model with
// every step.
type StaticContext struct {
	Hour    int  `json:"hour"`
	Weekday int  `json:"weekday"`
	Month   int  `json:"month"`
	Weekend bool `json:"is_weekend"`
}

func NewStaticContext(t time.Time) StaticContext {
	t = t.UTC()
	wd := (int(t.Weekday()) + 6) % 7
	return StaticContext{Hour: t.Hour(), Weekday: wd, Month: int(t.Month()), Weekend: wd >= 5}
}

// SequenceModel predicts the next hourly occupancy for every department from
// an ordered window of hourly snapshots.
type SequenceModel interface {
	PredictNext(ctx context.Context, window []models.OccupancySnapshot, static StaticContext) (map[string]float64, error)
}

type SchemaInfo struct {
	Version string   `json:"schema_version"`
	Width   int      `json:"width"`
	Columns []string `json:"columns,omitempty"`
}

// SchemaReporter is implemented by models that can describe their input layout.
type SchemaReporter interface {
	Schema(ctx context.Context) (SchemaInfo, error)
}

// Versioned is implemented by models that know their version without a call.
type Versioned interface {
	Version() string
}

func VersionOf(m any) string {
	if v, ok := m.(Versioned); ok {
		return v.Version()
	}
	return "unknown"
}
