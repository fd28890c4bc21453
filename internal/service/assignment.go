package service

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/clinic_triage/backend/internal/catalog"
	"github.com/clinic_triage/backend/internal/models"
)

var ErrAllocationScorer = errors.New("allocation scorer failed")

type AllocationConfig struct {
	StabilityProb      float64 `mapstructure:"ALLOC_STABILITY_PROB"`
	Hysteresis         float64 `mapstructure:"ALLOC_HYSTERESIS"`
	TargetFloor        float64 `mapstructure:"ALLOC_TARGET_FLOOR"`
	BaseScore          float64 `mapstructure:"ALLOC_BASE_SCORE"`
	CompatPenalty      float64 `mapstructure:"ALLOC_COMPAT_PENALTY"`
	OccupancyWeight    float64 `mapstructure:"ALLOC_OCCUPANCY_WEIGHT"`
	OvercrowdThreshold float64 `mapstructure:"ALLOC_OVERCROWD_THRESHOLD"`
	OvercrowdWeight    float64 `mapstructure:"ALLOC_OVERCROWD_WEIGHT"`
	CriticalThreshold  float64 `mapstructure:"ALLOC_CRITICAL_THRESHOLD"`
	CriticalPenalty    float64 `mapstructure:"ALLOC_CRITICAL_PENALTY"`
	TargetBonus        float64 `mapstructure:"ALLOC_TARGET_BONUS"`
	Alternatives       int     `mapstructure:"ALLOC_ALTERNATIVES"`
	// ForecastBlend is the weight of the +1h forecast in the occupancy rate,
	// clamped to [0,1].
	ForecastBlend float64 `mapstructure:"ALLOC_FORECAST_BLEND"`
}

func DefaultAllocationConfig() AllocationConfig {
	return AllocationConfig{
		StabilityProb:      0.35,
		Hysteresis:         12,
		TargetFloor:        -40,
		BaseScore:          100,
		CompatPenalty:      80,
		OccupancyWeight:    50,
		OvercrowdThreshold: 0.75,
		OvercrowdWeight:    150,
		CriticalThreshold:  0.90,
		CriticalPenalty:    70,
		TargetBonus:        10,
		Alternatives:       3,
	}
}

// RandomSource supplies the stability draw. *rand.Rand satisfies it.
type RandomSource interface {
	Float64() float64
}

type Allocation struct {
	Chosen         string
	Target         string
	Scores         map[string]models.Score
	Alternatives   []models.Alternative
	Strategy       string
	SafetyOverride bool
}

type Scorer struct {
	Catalog *catalog.Catalog
	Config  AllocationConfig

	mu   sync.Mutex
	rand RandomSource
}

func NewScorer(c *catalog.Catalog, cfg AllocationConfig, rnd RandomSource) *Scorer {
	return &Scorer{Catalog: c, Config: cfg, rand: rnd}
}

func (s *Scorer) draw() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Float64()
}

// DepartmentScore applies the penalty formula to one department.
func (s *Scorer) DepartmentScore(rate float64, compatible, isTarget bool) float64 {
	cfg := s.Config
	score := cfg.BaseScore
	if !compatible {
		score -= cfg.CompatPenalty
	}
	score -= rate * cfg.OccupancyWeight
	score -= math.Max(0, rate-cfg.OvercrowdThreshold) * cfg.OvercrowdWeight
	if rate > cfg.CriticalThreshold {
		score -= cfg.CriticalPenalty
	}
	if isTarget {
		score += cfg.TargetBonus
	}
	return score
}

// Score picks a department. Categories 1 and 2 bypass capacity scoring and
// go straight to the template's primary department.
func (s *Scorer) Score(a models.Assessment, template string, current models.OccupancySnapshot, forecast models.ForecastResult) (Allocation, error) {
	if a.Category < 1 || a.Category > 5 {
		return Allocation{}, fmt.Errorf("%w: category %d", ErrAllocationScorer, a.Category)
	}
	if s.rand == nil {
		return Allocation{}, fmt.Errorf("%w: no random source", ErrAllocationScorer)
	}
	target := s.Catalog.TargetDepartment(template, a.Category)
	if _, ok := s.Catalog.Department(target); !ok {
		return Allocation{}, fmt.Errorf("%w: target %s: %v", ErrAllocationScorer, target, catalog.ErrUnknownDepartment)
	}

	if a.Category <= 2 {
		out := Allocation{
			Chosen:         target,
			Target:         target,
			Scores:         map[string]models.Score{target: models.PinnedScore()},
			Strategy:       models.StrategySafety,
			SafetyOverride: true,
		}
		out.Alternatives = []models.Alternative{}
		return out, nil
	}

	weights := s.Catalog.Compatibility(template, a.Category)
	scores := make(map[string]models.Score, len(s.Catalog.Departments))
	for _, d := range s.Catalog.Departments {
		rate := s.rate(d, current, forecast)
		scores[d.Name] = models.Score(s.DepartmentScore(rate, s.Catalog.IsCompatible(weights[d.Name]), d.Name == target))
	}

	ranked := models.RankedDepartments(scores)
	best := ranked[0]

	out := Allocation{Target: target, Scores: scores}
	switch {
	case float64(scores[target]) > s.Config.TargetFloor && s.draw() < s.Config.StabilityProb:
		out.Chosen, out.Strategy = target, models.StrategyStability
	case float64(scores[best]) > float64(scores[target])+s.Config.Hysteresis:
		out.Chosen, out.Strategy = best, models.StrategyImprovement
	default:
		out.Chosen, out.Strategy = target, models.StrategyTarget
	}

	out.Alternatives = s.alternatives(ranked, out.Chosen, scores, current, forecast)
	return out, nil
}

func (s *Scorer) rate(d models.Department, current models.OccupancySnapshot, forecast models.ForecastResult) float64 {
	occ := float64(current.Occupancy[d.Name])
	// blend outside [0,1] would extrapolate past both observations
	if w := math.Min(1, math.Max(0, s.Config.ForecastBlend)); w > 0 {
		if next, ok := forecast.At(d.Name, 1); ok {
			occ = (1-w)*occ + w*float64(next)
		}
	}
	return occ / float64(d.Capacity)
}

func (s *Scorer) alternatives(ranked []string, chosen string, scores map[string]models.Score, current models.OccupancySnapshot, forecast models.ForecastResult) []models.Alternative {
	out := []models.Alternative{}
	for _, name := range ranked {
		if len(out) >= s.Config.Alternatives {
			break
		}
		if name == chosen {
			continue
		}
		out = append(out, annotate(s.Catalog, name, scores[name], current, forecast))
	}
	return out
}

func annotate(c *catalog.Catalog, name string, score models.Score, current models.OccupancySnapshot, forecast models.ForecastResult) models.Alternative {
	d, _ := c.Department(name)
	occ := current.Occupancy[name]
	alt := models.Alternative{
		Department:       name,
		Score:            score,
		CurrentOccupancy: occ,
		Capacity:         d.Capacity,
	}
	if d.Capacity > 0 {
		alt.Percentage = int(math.Round(float64(occ) / float64(d.Capacity) * 100))
	}
	if v, ok := forecast.At(name, 1); ok {
		alt.ForecastNextHour = &v
	}
	return alt
}
