package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinic_triage/backend/internal/catalog"
	"github.com/clinic_triage/backend/internal/models"
)

type fixedRand struct {
	v     float64
	calls int
}

func (r *fixedRand) Float64() float64 {
	r.calls++
	return r.v
}

func assessment(category int) models.Assessment {
	probs := []float64{0.05, 0.05, 0.05, 0.05, 0.05}
	probs[category-1] = 0.8
	a, err := models.NewAssessment(category, probs, "test")
	if err != nil {
		panic(err)
	}
	return a
}

func snapshot(occ map[string]int) models.OccupancySnapshot {
	return models.OccupancySnapshot{Timestamp: time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC), Occupancy: occ}
}

func TestSafetyRuleIgnoresCapacity(t *testing.T) {
	c := catalog.Default()
	r := &fixedRand{v: 0.99}
	s := NewScorer(c, DefaultAllocationConfig(), r)

	for _, cat := range []int{1, 2} {
		alloc, err := s.Score(assessment(cat), "bol_w_klatce", snapshot(map[string]int{"Kardiologia": 33}), models.ForecastResult{})
		require.NoError(t, err)
		assert.Equal(t, "Kardiologia", alloc.Chosen)
		assert.True(t, alloc.SafetyOverride)
		assert.True(t, alloc.Scores["Kardiologia"].IsPinned())
		assert.Equal(t, models.StrategySafety, alloc.Strategy)
	}
	assert.Equal(t, 0, r.calls)
}

func TestSafetyRuleUnknownTemplateGoesToCritical(t *testing.T) {
	s := NewScorer(catalog.Default(), DefaultAllocationConfig(), &fixedRand{v: 0.5})
	alloc, err := s.Score(assessment(1), catalog.NoTemplate, snapshot(map[string]int{"SOR": 27}), models.ForecastResult{})
	require.NoError(t, err)
	assert.Equal(t, "SOR", alloc.Chosen)
}

func fractureOccupancy() map[string]int {
	return map[string]int{
		"Ortopedia": 24, // 96%
		"Chirurgia": 7,  // 20%
		"SOR":       27,
		"Interna":   10,
	}
}

func TestOvercrowdedTargetMovesToCompatibleAlternative(t *testing.T) {
	c := catalog.Default()
	s := NewScorer(c, DefaultAllocationConfig(), &fixedRand{v: 0.9})

	alloc, err := s.Score(assessment(4), "zlamanie_konczyny", snapshot(fractureOccupancy()), models.ForecastResult{})
	require.NoError(t, err)
	assert.Equal(t, "Ortopedia", alloc.Target)
	assert.Equal(t, "Chirurgia", alloc.Chosen)
	assert.Equal(t, models.StrategyImprovement, alloc.Strategy)
	assert.InDelta(t, -39.5, float64(alloc.Scores["Ortopedia"]), 1e-9)
	assert.InDelta(t, 90.0, float64(alloc.Scores["Chirurgia"]), 1e-9)
	assert.False(t, alloc.SafetyOverride)
}

func TestStabilityDrawKeepsTarget(t *testing.T) {
	c := catalog.Default()
	r := &fixedRand{v: 0.1}
	s := NewScorer(c, DefaultAllocationConfig(), r)

	alloc, err := s.Score(assessment(4), "zlamanie_konczyny", snapshot(fractureOccupancy()), models.ForecastResult{})
	require.NoError(t, err)
	assert.Equal(t, "Ortopedia", alloc.Chosen)
	assert.Equal(t, models.StrategyStability, alloc.Strategy)
	assert.Equal(t, 1, r.calls)
}

func TestTargetBelowFloorSkipsStabilityDraw(t *testing.T) {
	c := catalog.Default()
	r := &fixedRand{v: 0.0}
	s := NewScorer(c, DefaultAllocationConfig(), r)

	occ := fractureOccupancy()
	occ["Ortopedia"] = 25
	alloc, err := s.Score(assessment(4), "zlamanie_konczyny", snapshot(occ), models.ForecastResult{})
	require.NoError(t, err)
	assert.InDelta(t, -47.5, float64(alloc.Scores["Ortopedia"]), 1e-9)
	assert.Equal(t, "Chirurgia", alloc.Chosen)
	assert.Equal(t, 0, r.calls)
}

func TestHysteresisKeepsTargetForSmallGains(t *testing.T) {
	c := catalog.Default()
	s := NewScorer(c, DefaultAllocationConfig(), &fixedRand{v: 0.9})

	// Interna 20/50 -> 100-20+10 = 90; SOR 3/25 -> 100-6 = 94 (within 12)
	occ := map[string]int{"Interna": 20, "SOR": 3}
	for _, d := range c.Departments {
		if _, ok := occ[d.Name]; !ok {
			occ[d.Name] = d.Capacity
		}
	}
	alloc, err := s.Score(assessment(4), "zapalenie_pluc", snapshot(occ), models.ForecastResult{})
	require.NoError(t, err)
	assert.Equal(t, "SOR", models.RankedDepartments(alloc.Scores)[0])
	assert.Equal(t, "Interna", alloc.Chosen)
	assert.Equal(t, models.StrategyTarget, alloc.Strategy)
}

func TestIncompatibleDepartmentsArePenalized(t *testing.T) {
	c := catalog.Default()
	s := NewScorer(c, DefaultAllocationConfig(), &fixedRand{v: 0.9})
	alloc, err := s.Score(assessment(5), "zlamanie_konczyny", snapshot(map[string]int{}), models.ForecastResult{})
	require.NoError(t, err)
	assert.InDelta(t, 20.0, float64(alloc.Scores["Kardiologia"]), 1e-9)
	assert.InDelta(t, 110.0, float64(alloc.Scores["Ortopedia"]), 1e-9)
	assert.Equal(t, "Ortopedia", alloc.Chosen)
}

func TestScoreIsMonotoneInOccupancy(t *testing.T) {
	s := NewScorer(catalog.Default(), DefaultAllocationConfig(), &fixedRand{v: 0.9})
	for _, compatible := range []bool{true, false} {
		for _, target := range []bool{true, false} {
			prev := s.DepartmentScore(0, compatible, target)
			for i := 1; i <= 120; i++ {
				cur := s.DepartmentScore(float64(i)/100, compatible, target)
				assert.LessOrEqual(t, cur, prev, "rate %d%%", i)
				prev = cur
			}
		}
	}

	prev := 1e9
	for occ := 0; occ <= 38; occ++ {
		alloc, err := s.Score(assessment(3), "zapalenie_wyrostka", snapshot(map[string]int{"Chirurgia": occ}), models.ForecastResult{})
		require.NoError(t, err)
		cur := float64(alloc.Scores["Chirurgia"])
		assert.LessOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestAlternativesAreAnnotated(t *testing.T) {
	c := catalog.Default()
	s := NewScorer(c, DefaultAllocationConfig(), &fixedRand{v: 0.9})
	forecast := models.ForecastResult{Horizon: 1, Departments: map[string]map[int]int{"Ginekologia": {1: 2}}}

	alloc, err := s.Score(assessment(4), "zlamanie_konczyny", snapshot(fractureOccupancy()), forecast)
	require.NoError(t, err)
	require.Len(t, alloc.Alternatives, 3)
	seen := map[string]bool{}
	for i, alt := range alloc.Alternatives {
		assert.NotEqual(t, alloc.Chosen, alt.Department)
		assert.False(t, seen[alt.Department])
		seen[alt.Department] = true
		if i > 0 {
			assert.LessOrEqual(t, float64(alt.Score), float64(alloc.Alternatives[i-1].Score))
		}
		d, _ := c.Department(alt.Department)
		assert.Equal(t, d.Capacity, alt.Capacity)
	}
	first := alloc.Alternatives[0]
	assert.Equal(t, "Ginekologia", first.Department)
	assert.Equal(t, 0, first.Percentage)
	require.NotNil(t, first.ForecastNextHour)
	assert.Equal(t, 2, *first.ForecastNextHour)
}

func TestForecastBlendUsesNextHour(t *testing.T) {
	c := catalog.Default()
	cfg := DefaultAllocationConfig()
	cfg.ForecastBlend = 1
	s := NewScorer(c, cfg, &fixedRand{v: 0.9})
	forecast := models.ForecastResult{Horizon: 1, Departments: map[string]map[int]int{"Interna": {1: 25}}}

	alloc, err := s.Score(assessment(5), "zapalenie_pluc", snapshot(map[string]int{"Interna": 0}), forecast)
	require.NoError(t, err)
	assert.InDelta(t, 85.0, float64(alloc.Scores["Interna"]), 1e-9)
}

func TestForecastBlendIsClamped(t *testing.T) {
	c := catalog.Default()
	forecast := models.ForecastResult{Horizon: 1, Departments: map[string]map[int]int{"Interna": {1: 25}}}
	current := snapshot(map[string]int{"Interna": 5})

	score := func(blend float64) float64 {
		cfg := DefaultAllocationConfig()
		cfg.ForecastBlend = blend
		alloc, err := NewScorer(c, cfg, &fixedRand{v: 0.9}).Score(assessment(5), "zapalenie_pluc", current, forecast)
		require.NoError(t, err)
		return float64(alloc.Scores["Interna"])
	}

	assert.InDelta(t, score(1), score(3), 1e-9)
	assert.InDelta(t, score(0), score(-2), 1e-9)
	assert.Less(t, score(1), score(0.5))
	assert.Less(t, score(0.5), score(0))
}

func TestScorerRejectsBadInput(t *testing.T) {
	s := NewScorer(catalog.Default(), DefaultAllocationConfig(), &fixedRand{})
	_, err := s.Score(models.Assessment{Category: 9}, "udar", snapshot(nil), models.ForecastResult{})
	assert.True(t, errors.Is(err, ErrAllocationScorer))

	noRand := NewScorer(catalog.Default(), DefaultAllocationConfig(), nil)
	_, err = noRand.Score(assessment(4), "udar", snapshot(nil), models.ForecastResult{})
	assert.True(t, errors.Is(err, ErrAllocationScorer))
}

func TestStaticAllocation(t *testing.T) {
	c := catalog.Default()
	assert.Equal(t, "Kardiologia", StaticAllocation(c, assessment(1), "bol_w_klatce").Chosen)
	assert.Equal(t, "SOR", StaticAllocation(c, assessment(2), catalog.NoTemplate).Chosen)
	assert.Equal(t, "Interna", StaticAllocation(c, assessment(5), catalog.NoTemplate).Chosen)
	assert.Equal(t, "Ortopedia", StaticAllocation(c, assessment(4), "zlamanie_konczyny").Chosen)
	assert.True(t, StaticAllocation(c, assessment(1), "udar").SafetyOverride)
}
