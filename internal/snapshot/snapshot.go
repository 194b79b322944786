// Package snapshot persists IntersectionSimState to Postgres at the end of
// each tick and can reload the latest (or a specific) tick's state back,
// giving a simhost restart or an offline replay tool a durable starting
// point instead of having to rebuild state from the event log.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/citysim/intersection-core/internal/intersection"
)

// Store persists and retrieves tick snapshots.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres using a lib/pq DSN.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an already-open *sql.DB, e.g. one shared with other
// services in the same process.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record is one persisted tick.
type Record struct {
	RunID     string
	Tick      intersection.Tick
	State     json.RawMessage
	CreatedAt time.Time
}

// Save writes state as the snapshot for (runID, tick). Saving the same
// (runID, tick) twice overwrites the prior row: replays are expected to
// re-save a tick they recompute.
func (s *Store) Save(ctx context.Context, runID string, tick intersection.Tick, state *intersection.IntersectionSimState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("snapshot: marshal state: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tick_snapshots (run_id, tick, state, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (run_id, tick) DO UPDATE SET state = $3, created_at = $4`,
		runID, float64(tick), payload, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("snapshot: save tick %v: %w", tick, err)
	}
	return nil
}

// Latest loads the most recently recorded tick for a run.
func (s *Store) Latest(ctx context.Context, runID string) (*Record, *intersection.IntersectionSimState, error) {
	var rec Record
	var tick float64
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, tick, state, created_at FROM tick_snapshots
		 WHERE run_id = $1 ORDER BY tick DESC LIMIT 1`,
		runID,
	).Scan(&rec.RunID, &tick, &rec.State, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("snapshot: no snapshots recorded for run %q", runID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: load latest for run %q: %w", runID, err)
	}
	rec.Tick = intersection.Tick(tick)

	var state intersection.IntersectionSimState
	if err := json.Unmarshal(rec.State, &state); err != nil {
		return nil, nil, fmt.Errorf("snapshot: unmarshal state: %w", err)
	}
	return &rec, &state, nil
}

// At loads the snapshot recorded for exactly the given tick.
func (s *Store) At(ctx context.Context, runID string, tick intersection.Tick) (*intersection.IntersectionSimState, error) {
	var raw json.RawMessage
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM tick_snapshots WHERE run_id = $1 AND tick = $2`,
		runID, float64(tick),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("snapshot: no snapshot for run %q at tick %v", runID, tick)
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: load run %q at tick %v: %w", runID, tick, err)
	}

	var state intersection.IntersectionSimState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal state: %w", err)
	}
	return &state, nil
}

// Ticks lists every tick recorded for a run, in ascending order, for
// tools that want to replay a whole run rather than just resume from the
// latest point.
func (s *Store) Ticks(ctx context.Context, runID string) ([]intersection.Tick, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tick FROM tick_snapshots WHERE run_id = $1 ORDER BY tick ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list ticks for run %q: %w", runID, err)
	}
	defer rows.Close()

	var ticks []intersection.Tick
	for rows.Next() {
		var tick float64
		if err := rows.Scan(&tick); err != nil {
			return nil, fmt.Errorf("snapshot: scan tick: %w", err)
		}
		ticks = append(ticks, intersection.Tick(tick))
	}
	return ticks, rows.Err()
}
