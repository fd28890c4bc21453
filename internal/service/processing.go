package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clinic_triage/backend/internal/ai"
	"github.com/clinic_triage/backend/internal/catalog"
	"github.com/clinic_triage/backend/internal/features"
	"github.com/clinic_triage/backend/internal/models"
	"github.com/clinic_triage/backend/internal/occupancy"
)

var ErrClassifierUnavailable = errors.New("classifier unavailable")

const (
	DefaultClassifierTimeout = 2 * time.Second
	DefaultForecastTimeout   = 3 * time.Second
)

type OccupancyStore interface {
	Current() models.OccupancySnapshot
	Window(hours int) []models.OccupancySnapshot
	Admit(ctx context.Context, dept string) (models.OccupancySnapshot, error)
}

type Forecaster interface {
	Forecast(ctx context.Context, window []models.OccupancySnapshot, horizon int) (models.ForecastResult, error)
}

type Allocator interface {
	Score(a models.Assessment, template string, current models.OccupancySnapshot, forecast models.ForecastResult) (Allocation, error)
}

// Recorder keeps an audit trail of committed decisions.
type Recorder interface {
	SaveDecision(ctx context.Context, d models.AllocationDecision) error
}

// Orchestrator runs the decision pipeline for one patient at a time. Only
// the classifier is allowed to fail the request; forecasting and scoring
// degrade to fallbacks.
type Orchestrator struct {
	Encoder    *features.Encoder
	Classifier ai.Classifier
	Store      OccupancyStore
	Forecaster Forecaster
	Allocator  Allocator
	Catalog    *catalog.Catalog
	Recorder   Recorder
	Logger     zerolog.Logger

	ClassifierTimeout time.Duration
	ForecastTimeout   time.Duration
	Horizon           int
	Lookback          int
	Now               func() time.Time
}

// Orchestrate decides a department and admits the patient there.
func (o *Orchestrator) Orchestrate(ctx context.Context, v models.PatientVitals) (models.AllocationDecision, error) {
	return o.run(ctx, v, true)
}

// Preview runs the same pipeline without admitting the patient.
func (o *Orchestrator) Preview(ctx context.Context, v models.PatientVitals) (models.AllocationDecision, error) {
	return o.run(ctx, v, false)
}

func (o *Orchestrator) run(ctx context.Context, v models.PatientVitals, commit bool) (models.AllocationDecision, error) {
	start := time.Now()
	fv, err := o.Encoder.Encode(v)
	if err != nil {
		return models.AllocationDecision{}, err
	}

	decision := models.AllocationDecision{
		ID:         uuid.New().String(),
		PatientRef: v.PatientRef,
		Template:   fv.Template,
		Stages:     []models.Stage{models.StageStart},
	}
	if decision.PatientRef == "" {
		decision.PatientRef = uuid.New().String()
	}

	var (
		assessment  models.Assessment
		current     models.OccupancySnapshot
		forecast    models.ForecastResult
		forecastErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := o.classify(gctx, fv)
		if err != nil {
			return err
		}
		assessment = a
		return nil
	})
	g.Go(func() error {
		current = o.Store.Current()
		window := o.Store.Window(o.lookback() + 1)
		forecast, forecastErr = o.forecast(gctx, window)
		return nil
	})
	if err := g.Wait(); err != nil {
		o.Logger.Error().Err(err).Str("patient_ref", decision.PatientRef).Msg("classification failed")
		return models.AllocationDecision{}, err
	}

	decision.Assessment = assessment
	decision.Category = assessment.Category
	decision.Confidence = assessment.Confidence
	decision.Stages = append(decision.Stages, models.StageClassified)

	if forecastErr != nil {
		o.Logger.Warn().Err(forecastErr).Str("patient_ref", decision.PatientRef).Msg("forecast degraded to current occupancy")
		forecast = occupancy.FlatForecast(o.Catalog, current, o.horizon())
		decision.Degraded = append(decision.Degraded, models.DegradedForecast)
		decision.Stages = append(decision.Stages, models.StageDegradedForecast)
	} else {
		decision.Stages = append(decision.Stages, models.StageForecasted)
	}
	decision.Forecast = forecast

	alloc, err := o.allocate(assessment, fv.Template, current, forecast)
	if err != nil {
		o.Logger.Warn().Err(err).Str("patient_ref", decision.PatientRef).Msg("allocation degraded to static table")
		alloc = StaticAllocation(o.Catalog, assessment, fv.Template)
		decision.Degraded = append(decision.Degraded, models.DegradedAllocation)
		decision.Stages = append(decision.Stages, models.StageDegradedAllocated)
	} else {
		decision.Stages = append(decision.Stages, models.StageAllocated)
	}

	decision.TargetDepartment = alloc.Target
	decision.ChosenDepartment = alloc.Chosen
	decision.ScoreMap = alloc.Scores
	decision.Alternatives = alloc.Alternatives
	decision.Strategy = alloc.Strategy
	decision.SafetyOverride = alloc.SafetyOverride
	decision.DecidedAt = o.now().UTC()
	if decision.Degraded == nil {
		decision.Degraded = []models.Degradation{}
	}

	if commit {
		if _, err := o.Store.Admit(ctx, decision.ChosenDepartment); err != nil {
			return models.AllocationDecision{}, fmt.Errorf("admit to %s: %w", decision.ChosenDepartment, err)
		}
		decision.Committed = true
		decision.Stages = append(decision.Stages, models.StageCommitted)

		if o.Recorder != nil {
			if err := o.Recorder.SaveDecision(ctx, decision); err != nil {
				o.Logger.Error().Err(err).Str("decision_id", decision.ID).Msg("decision audit write failed")
			}
		}
	}

	o.Logger.Info().
		Str("patient_ref", decision.PatientRef).
		Int("category", decision.Category).
		Str("department", decision.ChosenDepartment).
		Str("strategy", decision.Strategy).
		Interface("degraded", decision.Degraded).
		Bool("committed", decision.Committed).
		Dur("latency", time.Since(start)).
		Msg("allocation decided")
	return decision, nil
}

func (o *Orchestrator) classify(ctx context.Context, fv models.FeatureVector) (models.Assessment, error) {
	timeout := o.ClassifierTimeout
	if timeout <= 0 {
		timeout = DefaultClassifierTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p, err := o.Classifier.Predict(cctx, fv)
	if err != nil {
		return models.Assessment{}, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	a, err := models.NewAssessment(p.Category, p.Probabilities, p.ModelVersion)
	if err != nil {
		return models.Assessment{}, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	return a, nil
}

func (o *Orchestrator) forecast(ctx context.Context, window []models.OccupancySnapshot) (models.ForecastResult, error) {
	if o.Forecaster == nil {
		return models.ForecastResult{}, occupancy.ErrForecasterUnavailable
	}
	timeout := o.ForecastTimeout
	if timeout <= 0 {
		timeout = DefaultForecastTimeout
	}
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return o.Forecaster.Forecast(fctx, window, o.horizon())
}

// allocate turns scorer panics into errors so they degrade like any failure.
func (o *Orchestrator) allocate(a models.Assessment, template string, current models.OccupancySnapshot, forecast models.ForecastResult) (alloc Allocation, err error) {
	if o.Allocator == nil {
		return Allocation{}, fmt.Errorf("%w: no allocator configured", ErrAllocationScorer)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrAllocationScorer, r)
		}
	}()
	alloc, err = o.Allocator.Score(a, template, current, forecast)
	if err == nil {
		if _, ok := o.Catalog.Department(alloc.Chosen); !ok {
			err = fmt.Errorf("%w: chose %q", ErrAllocationScorer, alloc.Chosen)
		}
	}
	return alloc, err
}

func (o *Orchestrator) horizon() int {
	if o.Horizon <= 0 {
		return occupancy.DefaultHorizon
	}
	return o.Horizon
}

func (o *Orchestrator) lookback() int {
	if o.Lookback <= 0 {
		return occupancy.DefaultLookback
	}
	return o.Lookback
}

func (o *Orchestrator) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

type Info struct {
	ClassifierVersion string   `json:"classifier_version"`
	ForecasterVersion string   `json:"forecaster_version"`
	SchemaVersion     string   `json:"schema_version"`
	Columns           []string `json:"columns"`
	LookbackHours     int      `json:"lookback_hours"`
	HorizonHours      int      `json:"horizon_hours"`
}

func (o *Orchestrator) Info() Info {
	return Info{
		ClassifierVersion: ai.VersionOf(o.Classifier),
		ForecasterVersion: ai.VersionOf(o.Forecaster),
		SchemaVersion:     o.Encoder.SchemaVersion(),
		Columns:           o.Encoder.Columns(),
		LookbackHours:     o.lookback(),
		HorizonHours:      o.horizon(),
	}
}
