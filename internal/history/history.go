// Package history keeps an on-disk log of check cycles and alert
// decisions, queryable through the status API. It is advisory: failures
// are reported to the caller but never stop the monitoring loop.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/bitranox/check-zpools-sub001/pkg/alerts"
	"github.com/bitranox/check-zpools-sub001/pkg/monitor"
)

// Event is one persisted alert decision.
type Event struct {
	ID          string    `json:"id"`
	Time        time.Time `json:"time"`
	Pool        string    `json:"pool"`
	Category    string    `json:"category"`
	Severity    string    `json:"severity"`
	Action      string    `json:"action"`
	Message     string    `json:"message"`
	Notified    bool      `json:"notified"`
	NotifyError string    `json:"notify_error,omitempty"`
}

// Cycle is one persisted check cycle summary. Error is set when the cycle
// was skipped before evaluation.
type Cycle struct {
	Time       time.Time `json:"time"`
	Overall    string    `json:"overall,omitempty"`
	Pools      int       `json:"pools"`
	Issues     int       `json:"issues"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// Log is the sqlite-backed event log.
type Log struct {
	logger    zerolog.Logger
	db        *sql.DB
	retention time.Duration
	mu        sync.Mutex
}

// Open creates or opens the log at path. A retention of zero days keeps
// rows forever.
func Open(logger zerolog.Logger, path string, retentionDays int) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	l := &Log{
		logger:    logger.With().Str("component", "history").Logger(),
		db:        db,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
	}
	if err := l.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) createTables() error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			timestamp INTEGER NOT NULL,
			pool TEXT NOT NULL,
			category TEXT NOT NULL,
			severity TEXT NOT NULL,
			action TEXT NOT NULL,
			message TEXT,
			notified INTEGER NOT NULL,
			notify_error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS cycles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			overall TEXT,
			pools INTEGER NOT NULL,
			issues INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			error TEXT
		)`,
	}
	for _, schema := range schemas {
		if _, err := l.db.Exec(schema); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_events_time ON events(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_events_pool ON events(pool, category)",
		"CREATE INDEX IF NOT EXISTS idx_cycles_time ON cycles(timestamp)",
	}
	for _, index := range indexes {
		if _, err := l.db.Exec(index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// RecordCycle stores one cycle summary. cycleErr marks a skipped cycle.
func (l *Log) RecordCycle(ts time.Time, overall monitor.Severity, pools, issues int, dur time.Duration, cycleErr error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	errText := ""
	overallText := string(overall)
	if cycleErr != nil {
		errText = cycleErr.Error()
		overallText = ""
	}
	_, err := l.db.Exec(
		`INSERT INTO cycles (timestamp, overall, pools, issues, duration_ms, error) VALUES (?, ?, ?, ?, ?, ?)`,
		ts.Unix(), overallText, pools, issues, dur.Milliseconds(), errText,
	)
	if err != nil {
		return fmt.Errorf("failed to record cycle: %w", err)
	}
	return nil
}

// RecordDecisions stores the engine decisions of one cycle.
func (l *Log) RecordDecisions(decisions []alerts.Decision) error {
	if len(decisions) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, d := range decisions {
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO events (id, timestamp, pool, category, severity, action, message, notified, notify_error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.Time.Unix(), d.Pool, string(d.Category), string(d.Severity), string(d.Action),
			d.Message, boolToInt(d.Notified), d.NotifyError,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (l *Log) RecentEvents(limit int) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.Query(
		`SELECT id, timestamp, pool, category, severity, action, message, notified, notify_error
		 FROM events ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e        Event
			ts       int64
			notified int
			message  sql.NullString
			nerr     sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.Pool, &e.Category, &e.Severity, &e.Action, &message, &notified, &nerr); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Time = time.Unix(ts, 0).UTC()
		e.Message = message.String
		e.Notified = notified != 0
		e.NotifyError = nerr.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecentCycles returns up to limit cycle summaries, newest first.
func (l *Log) RecentCycles(limit int) ([]Cycle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.Query(
		`SELECT timestamp, overall, pools, issues, duration_ms, error
		 FROM cycles ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	cycles := []Cycle{}
	for rows.Next() {
		var (
			c       Cycle
			ts      int64
			durMs   int64
			overall sql.NullString
			cerr    sql.NullString
		)
		if err := rows.Scan(&ts, &overall, &c.Pools, &c.Issues, &durMs, &cerr); err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		c.Time = time.Unix(ts, 0).UTC()
		c.Overall = overall.String
		c.DurationMS = durMs
		c.Error = cerr.String
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

// Prune removes rows older than the retention window.
func (l *Log) Prune(now time.Time) error {
	if l.retention <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.retention).Unix()
	if _, err := l.db.Exec("DELETE FROM events WHERE timestamp < ?", cutoff); err != nil {
		return fmt.Errorf("failed to prune events: %w", err)
	}
	if _, err := l.db.Exec("DELETE FROM cycles WHERE timestamp < ?", cutoff); err != nil {
		return fmt.Errorf("failed to prune cycles: %w", err)
	}
	return nil
}

func (l *Log) Close() error {
	return l.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
