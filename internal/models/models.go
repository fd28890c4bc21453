package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

const (
	SexMale   = "M"
	SexFemale = "F"
)

// PatientVitals is the raw triage input. Optional vitals are pointers; nil
// means "not measured" and is filled with a neutral default by the encoder.
// Age is a pointer only so that a missing value is rejected rather than read as 0.
type PatientVitals struct {
	PatientRef      string   `json:"patient_ref"`
	Age             *int     `json:"age" validate:"required,gte=0,lte=120"`
	Sex             string   `json:"sex" validate:"required,oneof=M F"`
	HeartRate       *float64 `json:"heart_rate,omitempty" validate:"omitempty,gte=0,lte=300"`
	SystolicBP      *float64 `json:"systolic_bp,omitempty" validate:"omitempty,gte=0,lte=300"`
	DiastolicBP     *float64 `json:"diastolic_bp,omitempty" validate:"omitempty,gte=0,lte=200"`
	Temperature     *float64 `json:"temperature,omitempty" validate:"omitempty,gte=30,lte=45"`
	SpO2            *float64 `json:"spo2,omitempty" validate:"omitempty,gte=0,lte=100"`
	Consciousness   *int     `json:"consciousness,omitempty" validate:"omitempty,gte=3,lte=15"`
	Pain            *int     `json:"pain,omitempty" validate:"omitempty,gte=0,lte=10"`
	RespiratoryRate *float64 `json:"respiratory_rate,omitempty" validate:"omitempty,gte=0,lte=100"`
	HoursSinceOnset *float64 `json:"hours_since_onset,omitempty" validate:"omitempty,gte=0"`
	CaseTemplate    string   `json:"case_template,omitempty" validate:"omitempty,max=100"`
}

type FeatureVector struct {
	SchemaVersion string    `json:"schema_version"`
	Values        []float64 `json:"values"`
	Template      string    `json:"template"`
	Defaulted     []string  `json:"defaulted,omitempty"`
}

var ErrInvalidAssessment = errors.New("invalid assessment")

const probabilityTolerance = 1e-3

type Assessment struct {
	Category      int        `json:"category"`
	Probabilities [5]float64 `json:"probabilities"`
	Confidence    float64    `json:"confidence"`
	ModelVersion  string     `json:"model_version"`
}

// NewAssessment checks the classifier output and normalizes the distribution
// so that it sums to exactly 1 and confidence equals its maximum.
func NewAssessment(category int, probabilities []float64, modelVersion string) (Assessment, error) {
	if category < 1 || category > 5 {
		return Assessment{}, fmt.Errorf("%w: category %d out of range", ErrInvalidAssessment, category)
	}
	if len(probabilities) != 5 {
		return Assessment{}, fmt.Errorf("%w: expected 5 probabilities, got %d", ErrInvalidAssessment, len(probabilities))
	}
	sum := 0.0
	for _, p := range probabilities {
		if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return Assessment{}, fmt.Errorf("%w: probability %v", ErrInvalidAssessment, p)
		}
		sum += p
	}
	if math.Abs(sum-1) > probabilityTolerance {
		return Assessment{}, fmt.Errorf("%w: probabilities sum to %.6f", ErrInvalidAssessment, sum)
	}

	a := Assessment{Category: category, ModelVersion: modelVersion}
	for i, p := range probabilities {
		a.Probabilities[i] = p / sum
		if a.Probabilities[i] > a.Confidence {
			a.Confidence = a.Probabilities[i]
		}
	}
	return a, nil
}

const (
	KindEmergency = "emergency"
	KindElective  = "elective"
	KindStandard  = "standard"
)

type Department struct {
	Name     string `json:"name" mapstructure:"name"`
	Capacity int    `json:"capacity" mapstructure:"capacity"`
	Kind     string `json:"kind" mapstructure:"kind"`
}

type OccupancySnapshot struct {
	Timestamp time.Time      `json:"timestamp"`
	Revision  int            `json:"revision"`
	Occupancy map[string]int `json:"occupancy"`
}

func (s OccupancySnapshot) Clone() OccupancySnapshot {
	out := OccupancySnapshot{Timestamp: s.Timestamp, Revision: s.Revision, Occupancy: make(map[string]int, len(s.Occupancy))}
	for k, v := range s.Occupancy {
		out.Occupancy[k] = v
	}
	return out
}

// ForecastResult maps department -> horizon hour -> predicted occupancy.
// Horizon hour h is the clock hour Anchor+h, where Anchor is the start of the
// hour holding the latest snapshot. A snapshot taken at 10:40 therefore has
// its h=1 value for the 11:00-12:00 bucket, not for 11:40.
type ForecastResult struct {
	Departments  map[string]map[int]int `json:"departments"`
	Horizon      int                    `json:"horizon"`
	Anchor       time.Time              `json:"anchor"`
	ModelVersion string                 `json:"model_version,omitempty"`
	Flat         bool                   `json:"flat"`
	GeneratedAt  time.Time              `json:"generated_at"`
}

// At returns the forecast for dept at horizon h.
func (f ForecastResult) At(dept string, h int) (int, bool) {
	byHour, ok := f.Departments[dept]
	if !ok {
		return 0, false
	}
	v, ok := byHour[h]
	return v, ok
}

// Score is a department score. +Inf marks a safety assignment that bypassed
// scoring and is rendered as the string "inf" in JSON.
type Score float64

func PinnedScore() Score { return Score(math.Inf(1)) }

func (s Score) IsPinned() bool { return math.IsInf(float64(s), 1) }

func (s Score) MarshalJSON() ([]byte, error) {
	if s.IsPinned() {
		return []byte(`"inf"`), nil
	}
	return json.Marshal(math.Round(float64(s)*100) / 100)
}

func (s *Score) UnmarshalJSON(b []byte) error {
	if string(b) == `"inf"` {
		*s = PinnedScore()
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*s = Score(f)
	return nil
}

type Alternative struct {
	Department       string `json:"department"`
	Score            Score  `json:"score"`
	CurrentOccupancy int    `json:"current_occupancy"`
	Capacity         int    `json:"capacity"`
	Percentage       int    `json:"percentage"`
	ForecastNextHour *int   `json:"forecast_next_hour,omitempty"`
}

type Degradation string

const (
	DegradedForecast   Degradation = "forecast"
	DegradedAllocation Degradation = "allocation"
)

type Stage string

const (
	StageStart             Stage = "start"
	StageClassified        Stage = "classified"
	StageForecasted        Stage = "forecasted"
	StageDegradedForecast  Stage = "degraded_forecast"
	StageAllocated         Stage = "allocated"
	StageDegradedAllocated Stage = "degraded_allocated"
	StageCommitted         Stage = "committed"
)

const (
	StrategySafety      = "safety"
	StrategyStability   = "stability"
	StrategyImprovement = "improvement"
	StrategyTarget      = "target"
	StrategyStatic      = "static_fallback"
)

type AllocationDecision struct {
	ID               string           `json:"id"`
	PatientRef       string           `json:"patient_ref"`
	Category         int              `json:"category"`
	Assessment       Assessment       `json:"assessment"`
	Template         string           `json:"template"`
	TargetDepartment string           `json:"target_department"`
	ChosenDepartment string           `json:"chosen_department"`
	ScoreMap         map[string]Score `json:"score_map"`
	Confidence       float64          `json:"confidence"`
	Alternatives     []Alternative    `json:"alternatives"`
	Strategy         string           `json:"strategy"`
	SafetyOverride   bool             `json:"safety_override"`
	Degraded         []Degradation    `json:"degraded"`
	Stages           []Stage          `json:"stages"`
	Forecast         ForecastResult   `json:"forecast"`
	Committed        bool             `json:"committed"`
	DecidedAt        time.Time        `json:"decided_at"`
}

func (d AllocationDecision) IsDegraded(kind Degradation) bool {
	for _, k := range d.Degraded {
		if k == kind {
			return true
		}
	}
	return false
}

// RankedDepartments returns score map keys by descending score, ties by name.
func RankedDepartments(scores map[string]Score) []string {
	out := make([]string, 0, len(scores))
	for name := range scores {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool {
		if scores[out[i]] == scores[out[j]] {
			return out[i] < out[j]
		}
		return scores[out[i]] > scores[out[j]]
	})
	return out
}
