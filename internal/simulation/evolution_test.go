package simulation

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinic_triage/backend/internal/catalog"
	"github.com/clinic_triage/backend/internal/models"
)

func dept(t *testing.T, c *catalog.Catalog, name string) models.Department {
	d, ok := c.Department(name)
	require.True(t, ok)
	return d
}

func TestTargetRateShape(t *testing.T) {
	c := catalog.Default()
	m := NewModel(c, 1.1)
	sor := dept(t, c, "SOR")
	ortho := dept(t, c, "Ortopedia")
	interna := dept(t, c, "Interna")

	wed := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	sat := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 0.85, m.TargetRate(sor, wed.Add(20*time.Hour)))
	assert.Equal(t, 0.55, m.TargetRate(sor, wed.Add(3*time.Hour)))
	assert.Equal(t, 0.65, m.TargetRate(interna, wed.Add(12*time.Hour)))
	assert.Equal(t, 0.35, m.TargetRate(interna, wed.Add(23*time.Hour)))

	assert.InDelta(t, 0.65*0.6, m.TargetRate(ortho, sat.Add(12*time.Hour)), 1e-9)
	assert.InDelta(t, 0.65*0.8, m.TargetRate(interna, sat.Add(12*time.Hour)), 1e-9)

	christmas := time.Date(2026, 12, 25, 12, 0, 0, 0, time.UTC)
	assert.InDelta(t, 0.65*0.6, m.TargetRate(ortho, christmas), 1e-9)
}

func TestTargetRateBounds(t *testing.T) {
	c := catalog.Default()
	m := NewModel(c, 1.1)
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	for h := 0; h < 24*7; h++ {
		for _, d := range c.Departments {
			r := m.TargetRate(d, start.Add(time.Duration(h)*time.Hour))
			assert.GreaterOrEqual(t, r, 0.2)
			assert.LessOrEqual(t, r, 0.95)
		}
	}
}

func TestStepClipsAndPersists(t *testing.T) {
	c := catalog.Default()
	m := NewModel(c, 1.1)
	now := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)

	prev := map[string]int{"SOR": 100, "Interna": 0}
	next := m.Step(prev, now, nil)
	assert.LessOrEqual(t, next["SOR"], 27)
	assert.GreaterOrEqual(t, next["Interna"], 0)

	prev = map[string]int{"Interna": 30}
	next = m.Step(prev, now, nil)
	// 0.9*30 + 0.1*0.8*0.65*50
	assert.Equal(t, 30, next["Interna"])
}

func TestSimulateIsHourlyAndBounded(t *testing.T) {
	c := catalog.Default()
	m := NewModel(c, 1.1)
	end := time.Date(2026, 3, 11, 12, 17, 0, 0, time.UTC)

	snaps := m.Simulate(end, 48, rand.New(rand.NewSource(7)))
	require.Len(t, snaps, 48)
	assert.Equal(t, end.Truncate(time.Hour), snaps[47].Timestamp)
	for i := 1; i < len(snaps); i++ {
		assert.Equal(t, time.Hour, snaps[i].Timestamp.Sub(snaps[i-1].Timestamp))
		for _, d := range c.Departments {
			v := snaps[i].Occupancy[d.Name]
			assert.GreaterOrEqual(t, v, 0)
			assert.LessOrEqual(t, v, int(float64(d.Capacity)*1.1))
		}
	}
}

func TestEnvelopeFlagsWildForecasts(t *testing.T) {
	c := catalog.Default()
	m := NewModel(c, 1.1)
	last := models.OccupancySnapshot{
		Timestamp: time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC),
		Occupancy: map[string]int{"Interna": 30, "SOR": 15},
	}
	forecast := models.ForecastResult{
		Horizon: 2,
		Departments: map[string]map[int]int{
			"Interna": {1: 30, 2: 55},
			"SOR":     {1: 15, 2: 16},
		},
	}
	anomalies := m.Envelope(last, forecast, 0)
	require.Len(t, anomalies, 1)
	assert.Equal(t, "Interna", anomalies[0].Department)
	assert.Equal(t, 2, anomalies[0].Hour)
}
