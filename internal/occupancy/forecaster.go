package occupancy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic_triage/backend/internal/ai"
	"github.com/clinic_triage/backend/internal/catalog"
	"github.com/clinic_triage/backend/internal/models"
	"github.com/clinic_triage/backend/internal/simulation"
)

var (
	ErrInsufficientHistory   = errors.New("insufficient occupancy history")
	ErrForecasterUnavailable = errors.New("occupancy forecaster unavailable")
)

const (
	DefaultLookback = 24
	DefaultHorizon  = 3
)

type Forecaster struct {
	Model    ai.SequenceModel
	Catalog  *catalog.Catalog
	Lookback int
	Overflow float64
	// Envelope, when set, checks each forecast against the evolution model.
	Envelope *simulation.Model
	Logger   zerolog.Logger
}

func (f *Forecaster) Version() string { return ai.VersionOf(f.Model) }

// Forecast rolls the sequence model forward horizon hours from the hour
// bucket of the latest snapshot. Each step's prediction is clipped and
// rounded before it is fed back as input.
func (f *Forecaster) Forecast(ctx context.Context, window []models.OccupancySnapshot, horizon int) (models.ForecastResult, error) {
	lookback := f.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	overflow := f.Overflow
	if overflow <= 0 {
		overflow = DefaultOverflow
	}

	hourly := HourlyBuckets(window)
	if len(hourly) < lookback {
		return models.ForecastResult{}, fmt.Errorf("%w: have %d hourly points, need %d", ErrInsufficientHistory, len(hourly), lookback)
	}
	seq := hourly[len(hourly)-lookback:]

	result := models.ForecastResult{
		Departments:  make(map[string]map[int]int, len(f.Catalog.Departments)),
		Horizon:      horizon,
		Anchor:       seq[len(seq)-1].Timestamp,
		ModelVersion: ai.VersionOf(f.Model),
		GeneratedAt:  time.Now().UTC(),
	}
	for _, d := range f.Catalog.Departments {
		result.Departments[d.Name] = make(map[int]int, horizon)
	}

	last := seq[len(seq)-1]
	for step := 1; step <= horizon; step++ {
		at := last.Timestamp.Add(time.Hour)
		pred, err := f.Model.PredictNext(ctx, seq, ai.NewStaticContext(at))
		if err != nil {
			return models.ForecastResult{}, fmt.Errorf("%w: step %d: %v", ErrForecasterUnavailable, step, err)
		}

		next := models.OccupancySnapshot{Timestamp: at, Occupancy: make(map[string]int, len(f.Catalog.Departments))}
		for _, d := range f.Catalog.Departments {
			v, ok := pred[d.Name]
			if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
				return models.ForecastResult{}, fmt.Errorf("%w: step %d: no usable value for %s", ErrForecasterUnavailable, step, d.Name)
			}
			hi := math.Floor(float64(d.Capacity) * overflow)
			n := int(math.Max(0, math.Min(hi, math.Round(v))))
			next.Occupancy[d.Name] = n
			result.Departments[d.Name][step] = n
		}

		rolled := make([]models.OccupancySnapshot, 0, len(seq))
		rolled = append(rolled, seq[1:]...)
		seq = append(rolled, next)
		last = next
	}

	if f.Envelope != nil {
		anchor := hourly[len(hourly)-1]
		if anomalies := f.Envelope.Envelope(anchor, result, 0); len(anomalies) > 0 {
			f.Logger.Warn().Interface("anomalies", anomalies).Str("model_version", result.ModelVersion).Msg("forecast outside plausibility envelope")
		}
	}
	return result, nil
}

// HourlyBuckets keeps the last snapshot in each clock hour, oldest first.
func HourlyBuckets(window []models.OccupancySnapshot) []models.OccupancySnapshot {
	out := make([]models.OccupancySnapshot, 0, len(window))
	for _, snap := range window {
		hour := snap.Timestamp.UTC().Truncate(time.Hour)
		b := snap.Clone()
		b.Timestamp = hour
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(hour) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}

// FlatForecast repeats the current occupancy across every horizon hour.
func FlatForecast(c *catalog.Catalog, current models.OccupancySnapshot, horizon int) models.ForecastResult {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	result := models.ForecastResult{
		Departments: make(map[string]map[int]int, len(c.Departments)),
		Horizon:     horizon,
		Anchor:      current.Timestamp.UTC().Truncate(time.Hour),
		Flat:        true,
		GeneratedAt: time.Now().UTC(),
	}
	for _, d := range c.Departments {
		byHour := make(map[int]int, horizon)
		for h := 1; h <= horizon; h++ {
			byHour[h] = current.Occupancy[d.Name]
		}
		result.Departments[d.Name] = byHour
	}
	return result
}
