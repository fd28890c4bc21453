// Package simulation models how ward occupancy plausibly moves hour to hour.
// It generates seed histories and gives forecasts a sanity envelope.
package simulation

import (
	"math"
	"math/rand"
	"time"

	"github.com/clinic_triage/backend/internal/catalog"
	"github.com/clinic_triage/backend/internal/models"
)

type Model struct {
	Catalog     *catalog.Catalog
	Persistence float64
	// TargetWeight scales the demand target pulled in each step.
	TargetWeight float64
	NoiseStd     float64
	SpikeProb    float64
	Overflow     float64
}

func NewModel(c *catalog.Catalog, overflow float64) Model {
	if overflow <= 0 {
		overflow = 1.1
	}
	return Model{
		Catalog:      c,
		Persistence:  0.9,
		TargetWeight: 0.8,
		NoiseStd:     0.02,
		SpikeProb:    0.01,
		Overflow:     overflow,
	}
}

// TargetRate is the expected share of beds in use for dept at t.
func (m Model) TargetRate(dept models.Department, t time.Time) float64 {
	hour := t.Hour()
	weekday := (int(t.Weekday()) + 6) % 7
	weekend := weekday >= 5 || m.Catalog.IsHoliday(int(t.Month()), t.Day())

	var rate float64
	if dept.Kind == models.KindEmergency {
		switch {
		case hour >= 18:
			rate = 0.85
		case hour < 6:
			rate = 0.55
		case hour < 10:
			rate = 0.60
		default:
			rate = 0.65
		}
	} else {
		rate = 0.50
		if hour >= 8 && hour <= 20 {
			rate = 0.65
		}
		if hour < 6 || hour >= 22 {
			rate = 0.35
		}
	}

	if weekend {
		switch dept.Kind {
		case models.KindElective:
			rate *= 0.60
		case models.KindStandard:
			rate *= 0.80
		}
	}
	if weekday == 0 && dept.Kind != models.KindEmergency {
		rate = math.Min(0.90, rate+0.15)
	}
	if weekday == 4 && hour >= 14 {
		rate *= 0.85
	}
	return math.Max(0.2, math.Min(0.95, rate))
}

// Expected is the noise-free next value for dept given prev at step time t.
func (m Model) Expected(dept models.Department, prev float64, t time.Time) float64 {
	target := m.TargetRate(dept, t) * float64(dept.Capacity)
	return m.Persistence*prev + (1-m.Persistence)*m.TargetWeight*target
}

func (m Model) clip(dept models.Department, v float64) int {
	hi := math.Floor(float64(dept.Capacity) * m.Overflow)
	return int(math.Max(0, math.Min(hi, math.Round(v))))
}

// Step advances every department one hour to t. A nil rng gives the
// deterministic expectation.
func (m Model) Step(prev map[string]int, t time.Time, rng *rand.Rand) map[string]int {
	next := make(map[string]int, len(m.Catalog.Departments))
	for _, d := range m.Catalog.Departments {
		v := m.Expected(d, float64(prev[d.Name]), t)
		if rng != nil {
			v += rng.NormFloat64() * m.NoiseStd * float64(d.Capacity)
			if rng.Float64() < m.SpikeProb {
				spike := float64(1 + rng.Intn(2))
				if rng.Intn(2) == 0 {
					spike = -spike
				}
				v += spike
			}
		}
		next[d.Name] = m.clip(d, v)
	}
	return next
}

// Initial draws a starting census around the target rate at t.
func (m Model) Initial(t time.Time, rng *rand.Rand) map[string]int {
	out := make(map[string]int, len(m.Catalog.Departments))
	for _, d := range m.Catalog.Departments {
		v := m.TargetRate(d, t) * float64(d.Capacity)
		if rng != nil {
			v += rng.NormFloat64() * 0.1 * float64(d.Capacity)
		}
		out[d.Name] = int(math.Max(0, math.Min(float64(d.Capacity), math.Round(v))))
	}
	return out
}

// Simulate produces hourly snapshots; the last one is stamped end.
func (m Model) Simulate(end time.Time, hours int, rng *rand.Rand) []models.OccupancySnapshot {
	if hours <= 0 {
		return nil
	}
	end = end.UTC().Truncate(time.Hour)
	start := end.Add(-time.Duration(hours-1) * time.Hour)

	out := make([]models.OccupancySnapshot, 0, hours)
	occ := m.Initial(start, rng)
	out = append(out, models.OccupancySnapshot{Timestamp: start, Occupancy: occ})
	for i := 1; i < hours; i++ {
		t := start.Add(time.Duration(i) * time.Hour)
		occ = m.Step(occ, t, rng)
		out = append(out, models.OccupancySnapshot{Timestamp: t, Occupancy: occ})
	}
	return out
}

type Anomaly struct {
	Department string  `json:"department"`
	Hour       int     `json:"hour"`
	Forecast   int     `json:"forecast"`
	Expected   float64 `json:"expected"`
	Deviation  float64 `json:"deviation"`
}

// DefaultEnvelopeTolerance is the allowed deviation as a share of capacity.
const DefaultEnvelopeTolerance = 0.35

// Envelope compares a forecast against the deterministic trajectory from
// last and reports steps that stray more than tolerance*capacity.
func (m Model) Envelope(last models.OccupancySnapshot, forecast models.ForecastResult, tolerance float64) []Anomaly {
	if tolerance <= 0 {
		tolerance = DefaultEnvelopeTolerance
	}
	var out []Anomaly
	for _, d := range m.Catalog.Departments {
		byHour, ok := forecast.Departments[d.Name]
		if !ok {
			continue
		}
		expected := float64(last.Occupancy[d.Name])
		for h := 1; h <= forecast.Horizon; h++ {
			expected = m.Expected(d, expected, last.Timestamp.Add(time.Duration(h)*time.Hour))
			got, ok := byHour[h]
			if !ok {
				continue
			}
			dev := math.Abs(float64(got) - expected)
			if dev > tolerance*float64(d.Capacity) {
				out = append(out, Anomaly{
					Department: d.Name,
					Hour:       h,
					Forecast:   got,
					Expected:   math.Round(expected*10) / 10,
					Deviation:  math.Round(dev*10) / 10,
				})
			}
		}
	}
	return out
}
