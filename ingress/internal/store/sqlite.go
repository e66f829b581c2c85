package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dsn and applies migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS calls (
			call_sid TEXT PRIMARY KEY,
			conn_id TEXT NOT NULL,
			path TEXT NOT NULL,
			direction TEXT,
			from_number TEXT,
			to_number TEXT,
			last_status TEXT,
			end_reason TEXT,
			started_at DATETIME NOT NULL,
			ended_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS call_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			call_sid TEXT NOT NULL,
			kind TEXT NOT NULL,
			ts DATETIME NOT NULL,
			payload TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_call_events_call ON call_events(call_sid, id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// StartCall inserts a call row. A repeated session-new for the same call id
// replaces the earlier row.
func (s *SQLiteStore) StartCall(ctx context.Context, call *Call) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls (call_sid, conn_id, path, direction, from_number, to_number, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(call_sid) DO UPDATE SET
			conn_id = excluded.conn_id,
			path = excluded.path,
			direction = excluded.direction,
			from_number = excluded.from_number,
			to_number = excluded.to_number,
			started_at = excluded.started_at,
			last_status = NULL,
			end_reason = NULL,
			ended_at = NULL`,
		call.CallSid, call.ConnID, call.Path, call.Direction, call.From, call.To, call.StartedAt.UTC())
	return err
}

// UpdateStatus stores the latest call status.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, callSid, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE calls SET last_status = ? WHERE call_sid = ?`, status, callSid)
	return err
}

// EndCall marks a call finished. Only the first end is kept.
func (s *SQLiteStore) EndCall(ctx context.Context, callSid, reason string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE calls SET ended_at = ?, end_reason = ? WHERE call_sid = ? AND ended_at IS NULL`,
		at.UTC(), reason, callSid)
	return err
}

// AddEvent appends an event to the call's history.
func (s *SQLiteStore) AddEvent(ctx context.Context, event *Event) error {
	var payload sql.NullString
	if len(event.Payload) > 0 {
		payload = sql.NullString{String: string(event.Payload), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO call_events (call_sid, kind, ts, payload) VALUES (?, ?, ?, ?)`,
		event.CallSid, event.Kind, event.Ts.UTC(), payload)
	return err
}

// GetCall returns the call row, or nil when the call is unknown.
func (s *SQLiteStore) GetCall(ctx context.Context, callSid string) (*Call, error) {
	var call Call
	var direction, from, to, status, reason sql.NullString
	var endedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT call_sid, conn_id, path, direction, from_number, to_number, last_status, end_reason, started_at, ended_at
		 FROM calls WHERE call_sid = ?`, callSid).
		Scan(&call.CallSid, &call.ConnID, &call.Path, &direction, &from, &to, &status, &reason, &call.StartedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	call.Direction = direction.String
	call.From = from.String
	call.To = to.String
	call.LastStatus = status.String
	call.EndReason = reason.String
	if endedAt.Valid {
		t := endedAt.Time
		call.EndedAt = &t
	}
	return &call, nil
}

// GetEvents returns the call's events in arrival order.
func (s *SQLiteStore) GetEvents(ctx context.Context, callSid string, limit int) ([]Event, error) {
	query := `SELECT call_sid, kind, ts, payload FROM call_events WHERE call_sid = ? ORDER BY id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, callSid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var payload sql.NullString
		if err := rows.Scan(&ev.CallSid, &ev.Kind, &ev.Ts, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			ev.Payload = []byte(payload.String)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
