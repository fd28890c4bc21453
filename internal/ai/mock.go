package ai

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/clinic_triage/backend/internal/models"
	"github.com/clinic_triage/backend/internal/simulation"
)

// MockClassifier scores acuity from vitals with early-warning style bands.
// Columns must be the encoder's column list.
type MockClassifier struct {
	ModelVersion  string
	SchemaVersion string
	Columns       []string
}

// High-acuity presentations add to the warning score on their own.
var severeTemplates = map[string]int{
	"template_bol_w_klatce":                      3,
	"template_udar":                              4,
	"template_uraz_wielonarzadowy":               4,
	"template_silne_krwawienie":                  4,
	"template_zapalenie_opon_mozgowych":          3,
	"template_zaburzenia_rytmu_serca":            2,
	"template_napad_padaczkowy":                  2,
	"template_krwawienie_z_przewodu_pokarmowego": 2,
	"template_reakcja_alergiczna":                2,
}

func (m MockClassifier) Version() string { return m.ModelVersion }

func (m MockClassifier) Schema(ctx context.Context) (SchemaInfo, error) {
	return SchemaInfo{Version: m.SchemaVersion, Width: len(m.Columns), Columns: m.Columns}, nil
}

func (m MockClassifier) Predict(ctx context.Context, fv models.FeatureVector) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	if len(fv.Values) != len(m.Columns) {
		return Prediction{}, fmt.Errorf("mock classifier: expected %d features, got %d", len(m.Columns), len(fv.Values))
	}
	x := make(map[string]float64, len(m.Columns))
	for i, c := range m.Columns {
		x[c] = fv.Values[i]
	}

	score := warningScore(x)
	for col, bonus := range severeTemplates {
		if x[col] == 1 {
			score += bonus
		}
	}

	category := 5
	switch {
	case score >= 7:
		category = 1
	case score >= 5:
		category = 2
	case score >= 3:
		category = 3
	case score >= 1:
		category = 4
	}

	probs := peaked(category)
	return Prediction{
		Category:      category,
		Probabilities: probs,
		Confidence:    probs[category-1],
		ModelVersion:  m.ModelVersion,
	}, nil
}

func warningScore(x map[string]float64) int {
	score := 0

	switch spo2 := x["spo2"]; {
	case spo2 <= 91:
		score += 3
	case spo2 <= 93:
		score += 2
	case spo2 <= 95:
		score++
	}

	switch hr := x["heart_rate"]; {
	case hr <= 40 || hr >= 131:
		score += 3
	case hr >= 111:
		score += 2
	case hr <= 50 || hr >= 91:
		score++
	}

	switch sbp := x["systolic_bp"]; {
	case sbp <= 90 || sbp >= 220:
		score += 3
	case sbp <= 100:
		score += 2
	case sbp <= 110:
		score++
	}

	switch temp := x["temperature"]; {
	case temp <= 35:
		score += 3
	case temp >= 39.1:
		score += 2
	case temp <= 36 || temp >= 38.1:
		score++
	}

	switch rr := x["respiratory_rate"]; {
	case rr <= 8 || rr >= 25:
		score += 3
	case rr >= 21:
		score += 2
	case rr <= 11:
		score++
	}

	if x["consciousness"] < 15 {
		score += 3
	}
	if x["pain"] >= 8 {
		score++
	}
	if x["age"] >= 75 {
		score++
	}
	return score
}

// peaked spreads probability mass around category with exponential decay.
func peaked(category int) []float64 {
	out := make([]float64, 5)
	sum := 0.0
	for i := range out {
		out[i] = math.Exp(-1.2 * math.Abs(float64(i+1-category)))
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// MockSequenceModel predicts the noise-free evolution step for each
// department.
type MockSequenceModel struct {
	ModelVersion string
	Evolution    simulation.Model
}

func (m MockSequenceModel) Version() string { return m.ModelVersion }

func (m MockSequenceModel) PredictNext(ctx context.Context, window []models.OccupancySnapshot, static StaticContext) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(window) == 0 {
		return nil, fmt.Errorf("mock sequence model: empty window")
	}
	last := window[len(window)-1]
	at := last.Timestamp.Add(time.Hour)

	out := make(map[string]float64, len(m.Evolution.Catalog.Departments))
	for _, d := range m.Evolution.Catalog.Departments {
		out[d.Name] = m.Evolution.Expected(d, float64(last.Occupancy[d.Name]), at)
	}
	return out, nil
}
