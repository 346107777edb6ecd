// Package store persists crossing and lifecycle events along with periodic
// counter snapshots in SQLite
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/swdee/go-peoplecount/counter"
	"github.com/swdee/go-peoplecount/pipeline"
	"github.com/swdee/go-peoplecount/tracker"
)

// Snapshot is a stored copy of the counters and live entity counts
type Snapshot struct {
	ID         int64         `json:"id"`
	Time       time.Time     `json:"time"`
	Frame      uint64        `json:"frame"`
	Stats      counter.Stats `json:"stats"`
	Persons    int           `json:"persons"`
	Umbrellas  int           `json:"umbrellas"`
	Composites int           `json:"composites"`
}

// Store wraps the SQLite database
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens or creates the database at path and applies pending migrations
func Open(ctx context.Context, path string) (*Store, error) {

	logger := slog.Default().With("component", "store")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		path:   path,
		logger: logger,
	}

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("Database opened", "path", path)

	return s, nil
}

// SetLogger sets the logger
func (s *Store) SetLogger(l *slog.Logger) {
	s.logger = l.With("component", "store")
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Close closes the database
func (s *Store) Close() error {
	s.logger.Info("Closing database")
	return s.db.Close()
}

// transaction wraps fn in a database transaction
func (s *Store) transaction(ctx context.Context, fn func(*sql.Tx) error) error {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}

	return nil
}

// SaveEvents stores pipeline events.  Events already stored are ignored
func (s *Store) SaveEvents(ctx context.Context, events []pipeline.Event) error {

	if len(events) == 0 {
		return nil
	}

	return s.transaction(ctx, func(tx *sql.Tx) error {

		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO events (id, type, frame, time, entity_id, kind,
				x, y, direction, components, delta, total, total_down, total_up)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range events {

			components := ""
			if len(e.Components) > 0 {
				b, err := json.Marshal(e.Components)
				if err != nil {
					return fmt.Errorf("failed to marshal components: %w", err)
				}
				components = string(b)
			}

			var delta, total, down, up sql.NullInt64
			if e.Stats != nil {
				delta = sql.NullInt64{Int64: int64(e.Stats.Delta), Valid: true}
				total = sql.NullInt64{Int64: int64(e.Stats.Total), Valid: true}
				down = sql.NullInt64{Int64: int64(e.Stats.TotalDown), Valid: true}
				up = sql.NullInt64{Int64: int64(e.Stats.TotalUp), Valid: true}
			}

			_, err := stmt.ExecContext(ctx, e.ID, string(e.Type), int64(e.Frame),
				e.Time.UnixNano(), e.EntityID, e.Kind.String(), e.Centroid.X,
				e.Centroid.Y, string(e.Direction), components, delta, total, down, up)

			if err != nil {
				return fmt.Errorf("failed to insert event %s: %w", e.ID, err)
			}
		}

		return nil
	})
}

// RecentEvents returns up to limit of the most recent events, newest first.
// When crossingsOnly is set only ENTER and EXIT events are returned
func (s *Store) RecentEvents(ctx context.Context, limit int, crossingsOnly bool) ([]pipeline.Event, error) {

	query := `SELECT id, type, frame, time, entity_id, kind, x, y, direction,
		components, delta, total, total_down, total_up FROM events`

	args := []interface{}{}

	if crossingsOnly {
		query += " WHERE type IN (?, ?)"
		args = append(args, string(pipeline.EventEnter), string(pipeline.EventExit))
	}

	query += " ORDER BY time DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]pipeline.Event, 0)

	for rows.Next() {

		var (
			e                      pipeline.Event
			typ, kind, dir, comps  string
			frame, at              int64
			delta, total, down, up sql.NullInt64
		)

		err := rows.Scan(&e.ID, &typ, &frame, &at, &e.EntityID, &kind,
			&e.Centroid.X, &e.Centroid.Y, &dir, &comps, &delta, &total, &down, &up)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		e.Type = pipeline.EventType(typ)
		e.Frame = uint64(frame)
		e.Time = time.Unix(0, at)
		e.Direction = counter.Direction(dir)

		if e.Kind, err = tracker.ParseKind(kind); err != nil {
			return nil, fmt.Errorf("event %s: %w", e.ID, err)
		}

		if comps != "" {
			if err := json.Unmarshal([]byte(comps), &e.Components); err != nil {
				return nil, fmt.Errorf("event %s components: %w", e.ID, err)
			}
		}

		if delta.Valid {
			e.Stats = &counter.Stats{
				Delta:     int(delta.Int64),
				Total:     int(total.Int64),
				TotalDown: int(down.Int64),
				TotalUp:   int(up.Int64),
			}
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

// CountEvents returns the number of stored events
func (s *Store) CountEvents(ctx context.Context) (int, error) {

	var n int

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}

	return n, nil
}

// Prune deletes all but the newest keep events and returns the number
// deleted
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {

	if keep < 0 {
		keep = 0
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM events WHERE rowid NOT IN (
			SELECT rowid FROM events ORDER BY time DESC, rowid DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if n > 0 {
		s.logger.Debug("Pruned events", "deleted", n, "keep", keep)
	}

	return n, nil
}

// SaveSnapshot stores the statistics taken at the given time
func (s *Store) SaveSnapshot(ctx context.Context, at time.Time, st pipeline.Statistics) error {

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (time, frame, delta, total, total_down, total_up,
			persons, umbrellas, composites)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		at.UnixNano(), int64(st.Frames), st.Delta, st.Total, st.TotalDown,
		st.TotalUp, st.Persons, st.Umbrellas, st.Composites)

	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	return nil
}

// Snapshots returns the snapshots taken since the given time, oldest first
func (s *Store) Snapshots(ctx context.Context, since time.Time) ([]Snapshot, error) {

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, time, frame, delta, total, total_down, total_up, persons,
			umbrellas, composites
		FROM snapshots WHERE time >= ? ORDER BY time, id`, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]Snapshot, 0)

	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}

	return out, rows.Err()
}

// LatestSnapshot returns the most recent snapshot, ok is false when none
// have been stored
func (s *Store) LatestSnapshot(ctx context.Context) (snap Snapshot, ok bool, err error) {

	row := s.db.QueryRowContext(ctx, `
		SELECT id, time, frame, delta, total, total_down, total_up, persons,
			umbrellas, composites
		FROM snapshots ORDER BY time DESC, id DESC LIMIT 1`)

	snap, err = scanSnapshot(row)

	if err == sql.ErrNoRows {
		return Snapshot{}, false, nil
	}

	if err != nil {
		return Snapshot{}, false, err
	}

	return snap, true, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanSnapshot reads a snapshot row
func scanSnapshot(row scanner) (Snapshot, error) {

	var (
		snap      Snapshot
		at, frame int64
	)

	err := row.Scan(&snap.ID, &at, &frame, &snap.Stats.Delta, &snap.Stats.Total,
		&snap.Stats.TotalDown, &snap.Stats.TotalUp, &snap.Persons,
		&snap.Umbrellas, &snap.Composites)

	if err == sql.ErrNoRows {
		return snap, err
	}

	if err != nil {
		return snap, fmt.Errorf("failed to scan snapshot: %w", err)
	}

	snap.Time = time.Unix(0, at)
	snap.Frame = uint64(frame)

	return snap, nil
}
