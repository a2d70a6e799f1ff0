// Package history keeps a durable per-package log of update activity.
//
// The scheduler records every check, applied update and failure here; the
// status and history commands read it back. The log is append-only and
// lives in a SQLite database next to the other state files.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/blackwell-systems/pkgtrack/internal/backend"
)

// Event types recorded in the log.
const (
	EventCheck         = "check"
	EventUpdateApplied = "update_applied"
	EventFailure       = "failure"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source TEXT NOT NULL,
    package TEXT NOT NULL,
    event_type TEXT NOT NULL,
    installed_version TEXT,
    latest_version TEXT,
    detail TEXT,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_package ON events(source, package);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
`

// Event is one row of the update activity log.
type Event struct {
	Source           backend.Source
	Package          string
	Type             string
	InstalledVersion string
	LatestVersion    string
	Detail           string
	Timestamp        time.Time
}

// Log provides SQLite-backed event logging.
type Log struct {
	db *sql.DB
}

// Open opens (or creates) the history database at dbPath and ensures the
// schema exists. Use ":memory:" for tests.
func Open(dbPath string) (*Log, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// SQLite only allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	return &Log{db: db}, nil
}

// Close closes the database connection.
func (l *Log) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Record appends an event to the log.
func (l *Log) Record(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	query := `
		INSERT INTO events (source, package, event_type, installed_version, latest_version, detail, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := l.db.Exec(query,
		string(event.Source),
		event.Package,
		event.Type,
		event.InstalledVersion,
		event.LatestVersion,
		event.Detail,
		event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to record event for %s/%s: %w", event.Source, event.Package, err)
	}
	return nil
}

// Recent returns the newest events, most recent first, optionally filtered
// by package name across all sources. limit <= 0 means a default of 50.
func (l *Log) Recent(pkg string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT source, package, event_type, installed_version, latest_version, detail, timestamp
		FROM events
	`
	args := []any{}
	if pkg != "" {
		query += " WHERE package = ?"
		args = append(args, pkg)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var source, timestamp string

		if err := rows.Scan(&source, &ev.Package, &ev.Type, &ev.InstalledVersion, &ev.LatestVersion, &ev.Detail, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		ev.Source = backend.Source(source)

		ev.Timestamp, err = time.Parse(time.RFC3339, timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to parse event timestamp: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// LastCheck returns the most recent check event for (source, pkg), or nil
// if the package has never been checked.
func (l *Log) LastCheck(source backend.Source, pkg string) (*Event, error) {
	events, err := l.Recent(pkg, 0)
	if err != nil {
		return nil, err
	}
	for i := range events {
		if events[i].Source == source && events[i].Type == EventCheck {
			return &events[i], nil
		}
	}
	return nil, nil
}
