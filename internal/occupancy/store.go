package occupancy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic_triage/backend/internal/catalog"
	"github.com/clinic_triage/backend/internal/models"
)

var (
	ErrStaleSnapshot  = errors.New("snapshot is not newer than the latest recorded one")
	ErrStoreNotEmpty  = errors.New("occupancy store already holds history")
	ErrFutureSnapshot = errors.New("snapshot timestamp is in the future")
)

const (
	DefaultStaleness = 5 * time.Minute
	DefaultOverflow  = 1.1
	DefaultRetention = 7 * 24 * time.Hour
)

// Persistence is the durable backing for snapshots. Writes are upserts keyed
// by timestamp; a write carrying a lower revision than the stored row is ignored.
type Persistence interface {
	LoadSnapshots(ctx context.Context, since time.Time) ([]models.OccupancySnapshot, error)
	SaveSnapshot(ctx context.Context, snap models.OccupancySnapshot) error
}

// BulkPersistence is optionally implemented for seeding.
type BulkPersistence interface {
	InsertSnapshots(ctx context.Context, snaps []models.OccupancySnapshot) (int64, error)
}

type StoreOptions struct {
	Staleness   time.Duration
	Overflow    float64
	Retention   time.Duration
	Now         func() time.Time
	Persistence Persistence
	Logger      zerolog.Logger
}

// Store keeps an ordered history of snapshots. Stored snapshots are never
// modified: admit either appends a clone or replaces the latest entry with
// a clone carrying a higher revision, all under one writer lock.
type Store struct {
	mu        sync.RWMutex
	catalog   *catalog.Catalog
	history   []models.OccupancySnapshot
	staleness time.Duration
	overflow  float64
	retention time.Duration
	now       func() time.Time
	persist   Persistence
	logger    zerolog.Logger
}

func NewStore(c *catalog.Catalog, opts StoreOptions) *Store {
	if opts.Staleness <= 0 {
		opts.Staleness = DefaultStaleness
	}
	if opts.Overflow <= 0 {
		opts.Overflow = DefaultOverflow
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		catalog:   c,
		staleness: opts.Staleness,
		overflow:  opts.Overflow,
		retention: opts.Retention,
		now:       opts.Now,
		persist:   opts.Persistence,
		logger:    opts.Logger,
	}
}

func (s *Store) Overflow() float64 { return s.overflow }

func (s *Store) zero() models.OccupancySnapshot {
	snap := models.OccupancySnapshot{Occupancy: make(map[string]int, len(s.catalog.Departments))}
	for _, d := range s.catalog.Departments {
		snap.Occupancy[d.Name] = 0
	}
	return snap
}

// Current returns the latest snapshot, or an all-zero snapshot with a zero
// timestamp when nothing has been recorded.
func (s *Store) Current() models.OccupancySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.history) == 0 {
		return s.zero()
	}
	return s.history[len(s.history)-1].Clone()
}

// Window returns snapshots newer than now-hours, oldest first.
func (s *Store) Window(hours int) []models.OccupancySnapshot {
	cutoff := s.now().UTC().Add(-time.Duration(hours) * time.Hour)

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.OccupancySnapshot, 0, len(s.history))
	for _, snap := range s.history {
		if snap.Timestamp.After(cutoff) {
			out = append(out, snap.Clone())
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// Admit records one patient entering dept. It is the only mutator used by
// the decision pipeline.
func (s *Store) Admit(ctx context.Context, dept string) (models.OccupancySnapshot, error) {
	limit, err := s.catalog.MaxOccupancy(dept, s.overflow)
	if err != nil {
		return models.OccupancySnapshot{}, err
	}
	now := s.now().UTC()

	s.mu.Lock()
	var next models.OccupancySnapshot
	fresh := len(s.history) > 0 && now.Sub(s.history[len(s.history)-1].Timestamp) <= s.staleness
	switch {
	case fresh:
		next = s.history[len(s.history)-1].Clone()
		next.Revision++
	case len(s.history) > 0:
		next = s.history[len(s.history)-1].Clone()
		next.Timestamp = now
		next.Revision = 0
	default:
		next = s.zero()
		next.Timestamp = now
	}
	next.Occupancy[dept] = min(next.Occupancy[dept]+1, limit)
	if fresh {
		s.history[len(s.history)-1] = next
	} else {
		s.history = append(s.history, next)
		s.trimLocked(now)
	}
	out := next.Clone()
	s.mu.Unlock()

	s.save(ctx, out)
	return out, nil
}

// Record appends an observed census. Values are clipped to the bed limit and
// departments missing from the census keep their previous value. Timestamps
// more than the staleness window ahead of the clock are rejected: a future
// row would make every later admit and record stale.
func (s *Store) Record(ctx context.Context, snap models.OccupancySnapshot) (models.OccupancySnapshot, error) {
	now := s.now().UTC()
	snap.Timestamp = snap.Timestamp.UTC()
	if snap.Timestamp.IsZero() {
		snap.Timestamp = now
	}
	for dept := range snap.Occupancy {
		if _, ok := s.catalog.Department(dept); !ok {
			return models.OccupancySnapshot{}, fmt.Errorf("%w: %s", catalog.ErrUnknownDepartment, dept)
		}
	}
	if snap.Timestamp.After(now.Add(s.staleness)) {
		return models.OccupancySnapshot{}, fmt.Errorf("%w: %s", ErrFutureSnapshot, snap.Timestamp.Format(time.RFC3339))
	}

	s.mu.Lock()
	base := s.zero()
	if len(s.history) > 0 {
		latest := s.history[len(s.history)-1]
		if !snap.Timestamp.After(latest.Timestamp) {
			s.mu.Unlock()
			return models.OccupancySnapshot{}, ErrStaleSnapshot
		}
		base = latest.Clone()
	}
	next := models.OccupancySnapshot{Timestamp: snap.Timestamp, Occupancy: base.Occupancy}
	for dept, v := range snap.Occupancy {
		next.Occupancy[dept] = s.clip(dept, v)
	}
	s.history = append(s.history, next)
	s.trimLocked(snap.Timestamp)
	out := next.Clone()
	s.mu.Unlock()

	s.save(ctx, out)
	return out, nil
}

// Seed loads a generated history into an empty store and bulk-persists it.
func (s *Store) Seed(ctx context.Context, snaps []models.OccupancySnapshot) (int, error) {
	clean := make([]models.OccupancySnapshot, 0, len(snaps))
	for i, snap := range snaps {
		if i > 0 && !snap.Timestamp.After(snaps[i-1].Timestamp) {
			return 0, ErrStaleSnapshot
		}
		c := snap.Clone()
		c.Timestamp = c.Timestamp.UTC()
		for dept, v := range c.Occupancy {
			c.Occupancy[dept] = s.clip(dept, v)
		}
		clean = append(clean, c)
	}

	s.mu.Lock()
	if len(s.history) > 0 {
		s.mu.Unlock()
		return 0, ErrStoreNotEmpty
	}
	s.history = clean
	s.mu.Unlock()

	if bulk, ok := s.persist.(BulkPersistence); ok {
		if _, err := bulk.InsertSnapshots(ctx, clean); err != nil {
			s.logger.Error().Err(err).Int("snapshots", len(clean)).Msg("bulk snapshot insert failed")
		}
	} else {
		for _, snap := range clean {
			s.save(ctx, snap)
		}
	}
	return len(clean), nil
}

// Hydrate replaces in-memory history with what persistence holds for the
// retention period.
func (s *Store) Hydrate(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	snaps, err := s.persist.LoadSnapshots(ctx, s.now().UTC().Add(-s.retention))
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}
	for i := range snaps {
		snaps[i].Timestamp = snaps[i].Timestamp.UTC()
		for dept, v := range snaps[i].Occupancy {
			if _, ok := s.catalog.Department(dept); !ok {
				delete(snaps[i].Occupancy, dept)
				continue
			}
			snaps[i].Occupancy[dept] = s.clip(dept, v)
		}
	}

	s.mu.Lock()
	s.history = snaps
	s.mu.Unlock()
	s.logger.Info().Int("snapshots", len(snaps)).Msg("occupancy history loaded")
	return nil
}

func (s *Store) clip(dept string, v int) int {
	limit, err := s.catalog.MaxOccupancy(dept, s.overflow)
	if err != nil {
		return 0
	}
	return max(0, min(v, limit))
}

func (s *Store) trimLocked(now time.Time) {
	cutoff := now.Add(-s.retention)
	i := 0
	for i < len(s.history)-1 && s.history[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.history = append([]models.OccupancySnapshot(nil), s.history[i:]...)
	}
}

func (s *Store) save(ctx context.Context, snap models.OccupancySnapshot) {
	if s.persist == nil {
		return
	}
	if err := s.persist.SaveSnapshot(ctx, snap); err != nil {
		s.logger.Error().Err(err).Time("timestamp", snap.Timestamp).Int("revision", snap.Revision).Msg("snapshot persist failed")
	}
}

const (
	StatusLow      = "LOW"
	StatusMedium   = "MEDIUM"
	StatusHigh     = "HIGH"
	StatusCritical = "CRITICAL"
)

func StatusFor(percentage float64) string {
	switch {
	case percentage >= 90:
		return StatusCritical
	case percentage >= 70:
		return StatusHigh
	case percentage >= 50:
		return StatusMedium
	default:
		return StatusLow
	}
}

type DepartmentStatus struct {
	Department    string  `json:"department"`
	Occupancy     int     `json:"occupancy"`
	Capacity      int     `json:"capacity"`
	Percentage    float64 `json:"percentage"`
	Status        string  `json:"status"`
	AvailableBeds int     `json:"available_beds"`
}

type Summary struct {
	Timestamp       time.Time          `json:"timestamp"`
	Revision        int                `json:"revision"`
	Departments     []DepartmentStatus `json:"departments"`
	TotalOccupancy  int                `json:"total_occupancy"`
	TotalCapacity   int                `json:"total_capacity"`
	TotalPercentage float64            `json:"total_percentage"`
	CriticalCount   int                `json:"critical_departments"`
	AvailableBeds   int                `json:"available_beds"`
}

func (s *Store) Summary() Summary {
	snap := s.Current()
	out := Summary{Timestamp: snap.Timestamp, Revision: snap.Revision}
	for _, d := range s.catalog.Departments {
		occ := snap.Occupancy[d.Name]
		pct := percentage(occ, d.Capacity)
		st := DepartmentStatus{
			Department:    d.Name,
			Occupancy:     occ,
			Capacity:      d.Capacity,
			Percentage:    pct,
			Status:        StatusFor(pct),
			AvailableBeds: max(0, d.Capacity-occ),
		}
		if st.Status == StatusCritical {
			out.CriticalCount++
		}
		out.Departments = append(out.Departments, st)
		out.TotalOccupancy += occ
		out.TotalCapacity += d.Capacity
		out.AvailableBeds += st.AvailableBeds
	}
	out.TotalPercentage = percentage(out.TotalOccupancy, out.TotalCapacity)
	return out
}

type HistoryPoint struct {
	Timestamp  time.Time `json:"timestamp"`
	Occupancy  int       `json:"occupancy"`
	Percentage float64   `json:"percentage"`
}

type History struct {
	Department    string         `json:"department"`
	Capacity      int            `json:"capacity"`
	Points        []HistoryPoint `json:"points"`
	Average       float64        `json:"average"`
	Peak          int            `json:"peak"`
	PeakTimestamp *time.Time     `json:"peak_timestamp,omitempty"`
}

func (s *Store) History(dept string, hours int) (History, error) {
	d, ok := s.catalog.Department(dept)
	if !ok {
		return History{}, fmt.Errorf("%w: %s", catalog.ErrUnknownDepartment, dept)
	}
	out := History{Department: d.Name, Capacity: d.Capacity, Points: []HistoryPoint{}}
	sum := 0
	for _, snap := range s.Window(hours) {
		v := snap.Occupancy[d.Name]
		out.Points = append(out.Points, HistoryPoint{Timestamp: snap.Timestamp, Occupancy: v, Percentage: percentage(v, d.Capacity)})
		sum += v
		if out.PeakTimestamp == nil || v > out.Peak {
			ts := snap.Timestamp
			out.Peak = v
			out.PeakTimestamp = &ts
		}
	}
	if len(out.Points) > 0 {
		out.Average = math.Round(float64(sum)/float64(len(out.Points))*10) / 10
	}
	return out, nil
}

func percentage(occ, capacity int) float64 {
	if capacity <= 0 {
		return 0
	}
	return math.Round(float64(occ)/float64(capacity)*1000) / 10
}
