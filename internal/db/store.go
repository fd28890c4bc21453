package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic_triage/backend/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrNotEmpty = errors.New("occupancy_snapshots already holds rows")
)

const schema = `
CREATE TABLE IF NOT EXISTS occupancy_snapshots (
	taken_at  TIMESTAMPTZ PRIMARY KEY,
	revision  INTEGER NOT NULL DEFAULT 0,
	occupancy JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS allocation_decisions (
	id                TEXT PRIMARY KEY,
	patient_ref       TEXT NOT NULL,
	category          INTEGER NOT NULL,
	template          TEXT NOT NULL,
	target_department TEXT NOT NULL,
	chosen_department TEXT NOT NULL,
	strategy          TEXT NOT NULL,
	safety_override   BOOLEAN NOT NULL DEFAULT FALSE,
	degraded          TEXT[] NOT NULL DEFAULT '{}',
	confidence        DOUBLE PRECISION NOT NULL,
	payload           JSONB NOT NULL,
	decided_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS allocation_decisions_decided_at_idx ON allocation_decisions (decided_at DESC);
`

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, schema)
	return err
}

// LoadSnapshots returns snapshots taken after since, oldest first.
func (s *Store) LoadSnapshots(ctx context.Context, since time.Time) ([]models.OccupancySnapshot, error) {
	rows, err := s.Pool.Query(ctx, `SELECT taken_at, revision, occupancy FROM occupancy_snapshots WHERE taken_at > $1 ORDER BY taken_at ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.OccupancySnapshot
	for rows.Next() {
		var (
			snap models.OccupancySnapshot
			raw  []byte
		)
		if err := rows.Scan(&snap.Timestamp, &snap.Revision, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &snap.Occupancy); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", snap.Timestamp.Format(time.RFC3339), err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// SaveSnapshot upserts by timestamp. A row already holding a newer revision
// is left alone, so out-of-order writes cannot roll a count back.
func (s *Store) SaveSnapshot(ctx context.Context, snap models.OccupancySnapshot) error {
	raw, err := json.Marshal(snap.Occupancy)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO occupancy_snapshots (taken_at, revision, occupancy)
		VALUES ($1, $2, $3)
		ON CONFLICT (taken_at) DO UPDATE SET
			revision = EXCLUDED.revision,
			occupancy = EXCLUDED.occupancy
		WHERE occupancy_snapshots.revision < EXCLUDED.revision
	`, snap.Timestamp.UTC(), snap.Revision, raw)
	return err
}

// InsertSnapshots bulk-loads a generated history into an empty table. The
// emptiness check and the copy share one transaction.
func (s *Store) InsertSnapshots(ctx context.Context, snaps []models.OccupancySnapshot) (int64, error) {
	rows := make([][]any, 0, len(snaps))
	for _, snap := range snaps {
		raw, err := json.Marshal(snap.Occupancy)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{snap.Timestamp.UTC(), snap.Revision, raw})
	}

	var n int64
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		// blocks concurrent seeds and row writers until commit
		if _, err := tx.Exec(ctx, `LOCK TABLE occupancy_snapshots IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM occupancy_snapshots)`).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrNotEmpty
		}
		var err error
		n, err = tx.CopyFrom(ctx, pgx.Identifier{"occupancy_snapshots"}, []string{"taken_at", "revision", "occupancy"}, pgx.CopyFromRows(rows))
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) SaveDecision(ctx context.Context, d models.AllocationDecision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	degraded := make([]string, 0, len(d.Degraded))
	for _, k := range d.Degraded {
		degraded = append(degraded, string(k))
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO allocation_decisions (id, patient_ref, category, template, target_department, chosen_department, strategy, safety_override, degraded, confidence, payload, decided_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO NOTHING
	`, d.ID, d.PatientRef, d.Category, d.Template, d.TargetDepartment, d.ChosenDepartment, d.Strategy, d.SafetyOverride, degraded, d.Confidence, payload, d.DecidedAt)
	return err
}

type DecisionFilter struct {
	Department string
	Category   int
	Degraded   bool
	Since      time.Time
	Limit      int
	Offset     int
}

func (s *Store) ListDecisions(ctx context.Context, f DecisionFilter) ([]models.AllocationDecision, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	query := `SELECT payload FROM allocation_decisions`
	var args []any
	var wheres []string
	if f.Department != "" {
		args = append(args, f.Department)
		wheres = append(wheres, fmt.Sprintf("chosen_department = $%d", len(args)))
	}
	if f.Category > 0 {
		args = append(args, f.Category)
		wheres = append(wheres, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.Degraded {
		wheres = append(wheres, "cardinality(degraded) > 0")
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		wheres = append(wheres, fmt.Sprintf("decided_at >= $%d", len(args)))
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += " ORDER BY decided_at DESC, id ASC LIMIT $" + fmt.Sprint(len(args)+1) + " OFFSET $" + fmt.Sprint(len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.AllocationDecision{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var d models.AllocationDecision
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) GetDecision(ctx context.Context, id string) (models.AllocationDecision, error) {
	var raw []byte
	if err := s.Pool.QueryRow(ctx, `SELECT payload FROM allocation_decisions WHERE id = $1`, id).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.AllocationDecision{}, ErrNotFound
		}
		return models.AllocationDecision{}, err
	}
	var d models.AllocationDecision
	if err := json.Unmarshal(raw, &d); err != nil {
		return models.AllocationDecision{}, err
	}
	return d, nil
}
