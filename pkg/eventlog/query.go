// Package eventlog journals bridge lifecycle events to SQLite and reads
// them back for the events command and the dashboard.
package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"ragbridge/pkg/bridge"
)

// Event is one journal row.
type Event struct {
	ID         int64     `json:"id"`
	Type       string    `json:"type"`
	InstanceID string    `json:"instance_id"`
	Generation int64     `json:"generation"`
	PID        int       `json:"pid,omitempty"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// QueryOpts specifies filter criteria for querying events.
type QueryOpts struct {
	// Type filters to one event type (e.g., "exited", "restarting").
	Type string

	// InstanceID filters to one bridge instance.
	InstanceID string

	// After filters events created at or after this time.
	After *time.Time

	// AfterID returns only rows with a larger id (for tailing).
	AfterID int64

	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// State is the latest lifecycle state recorded for an instance.
type State struct {
	InstanceID string    `json:"instance_id"`
	State      string    `json:"state"`
	Generation int64     `json:"generation"`
	PID        int       `json:"pid,omitempty"`
	Since      time.Time `json:"since"`
}

// lifecycleStates maps the event types that change lifecycle state to the
// state they leave the bridge in.
var lifecycleStates = map[string]string{ //nolint:gochecknoglobals // read-only table
	string(bridge.EventStarting):       string(bridge.StateStarting),
	string(bridge.EventRunning):        string(bridge.StateRunning),
	string(bridge.EventRestarting):     string(bridge.StateRestarting),
	string(bridge.EventExited):         "exited",
	string(bridge.EventStopped):        string(bridge.StateStopped),
	string(bridge.EventBudgetExceeded): string(bridge.StateStopped),
}

// Reader queries the journal.
type Reader struct {
	db    *sql.DB
	owned bool
}

// NewReader wraps an open database.
func NewReader(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// OpenReader opens the journal at path read-only, so a reader never blocks
// the serving bridge. The file must exist.
func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("eventlog not found: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open eventlog: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping eventlog: %w", err)
	}

	return &Reader{db: db, owned: true}, nil
}

// Close releases the database if the Reader opened it.
func (r *Reader) Close() error {
	if r.owned && r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Query returns matching events, newest first.
func (r *Reader) Query(ctx context.Context, opts QueryOpts) ([]Event, error) {
	query, args := buildQuery(opts)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// LatestState returns the state implied by the newest lifecycle event for
// instanceID, or for the most recently active instance when instanceID is
// empty. ok is false when the journal holds no lifecycle events.
func (r *Reader) LatestState(ctx context.Context, instanceID string) (State, bool, error) {
	placeholders := make([]string, 0, len(lifecycleStates))
	args := make([]any, 0, len(lifecycleStates)+1)
	for t := range lifecycleStates {
		placeholders = append(placeholders, "?")
		args = append(args, t)
	}

	query := "SELECT id, type, instance_id, generation, pid, message, error, created_at FROM bridge_events WHERE type IN (" +
		strings.Join(placeholders, ", ") + ")"
	if instanceID != "" {
		query += " AND instance_id = ?"
		args = append(args, instanceID)
	}
	query += " ORDER BY id DESC LIMIT 1"

	row := r.db.QueryRowContext(ctx, query, args...)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}

	return State{
		InstanceID: e.InstanceID,
		State:      lifecycleStates[e.Type],
		Generation: e.Generation,
		PID:        e.PID,
		Since:      e.CreatedAt,
	}, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (Event, error) {
	var (
		e            Event
		createdAtStr string
	)
	err := s.Scan(&e.ID, &e.Type, &e.InstanceID, &e.Generation, &e.PID, &e.Message, &e.Error, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, err
	}
	if err != nil {
		return Event{}, fmt.Errorf("scan event: %w", err)
	}

	if createdAtStr != "" {
		parsed, err := time.Parse(timeLayout, createdAtStr)
		if err != nil {
			// Fallback: rows written by other tools may use RFC 3339.
			parsed, err = time.Parse(time.RFC3339Nano, createdAtStr)
			if err != nil {
				return Event{}, fmt.Errorf("parse created_at: %w", err)
			}
		}
		e.CreatedAt = parsed
	}
	return e, nil
}

// buildQuery constructs the SQL query and arguments from QueryOpts.
func buildQuery(opts QueryOpts) (string, []any) {
	var conditions []string
	var args []any

	query := "SELECT id, type, instance_id, generation, pid, message, error, created_at FROM bridge_events WHERE 1=1"

	if opts.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, opts.Type)
	}

	if opts.InstanceID != "" {
		conditions = append(conditions, "instance_id = ?")
		args = append(args, opts.InstanceID)
	}

	if opts.After != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, opts.After.UTC().Format(timeLayout))
	}

	if opts.AfterID > 0 {
		conditions = append(conditions, "id > ?")
		args = append(args, opts.AfterID)
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	// Newest first.
	query += " ORDER BY id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	return query, args
}
