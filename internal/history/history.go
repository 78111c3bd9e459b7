// Package history persists a per-peer call log in SQLite. One row per call
// (or call attempt); the coordinator writes, the control surface reads.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Log wraps the SQLite call log. database/sql serializes access; no extra
// locking needed.
type Log struct {
	db   *sql.DB
	path string
}

// Entry is one call-log row.
type Entry struct {
	SessionID   string     `json:"sessionId"`
	PeerID      string     `json:"peerId"`
	DisplayName string     `json:"displayName"`
	Direction   string     `json:"direction"`
	Kind        string     `json:"kind"`
	Disposition string     `json:"disposition"` // empty while the call is live
	StartedAt   time.Time  `json:"startedAt"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

// Open opens or creates the call log at path.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure history db: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS calls (
			session_id   TEXT PRIMARY KEY,
			peer_id      TEXT NOT NULL,
			display_name TEXT DEFAULT '',
			direction    TEXT NOT NULL,
			kind         TEXT NOT NULL,
			disposition  TEXT DEFAULT '',
			started_at   INTEGER NOT NULL,
			connected_at INTEGER,
			ended_at     INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_calls_started ON calls(started_at DESC);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create calls table: %w", err)
	}

	return &Log{db: db, path: path}, nil
}

// RecordStart inserts a new call row. Re-inserting the same session is a
// conflict and replaced wholesale — signaling replays must not duplicate rows.
func (l *Log) RecordStart(sessionID, peerID, displayName, direction, kind string, at time.Time) error {
	_, err := l.db.Exec(`
		INSERT OR REPLACE INTO calls (session_id, peer_id, display_name, direction, kind, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sessionID, peerID, displayName, direction, kind, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("record call start: %w", err)
	}
	return nil
}

// RecordConnected stamps the connect time.
func (l *Log) RecordConnected(sessionID string, at time.Time) error {
	_, err := l.db.Exec(`
		UPDATE calls SET connected_at = ? WHERE session_id = ?
	`, at.UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("record call connected: %w", err)
	}
	return nil
}

// RecordEnd stamps the disposition and end time. Only the first end wins;
// teardown is idempotent and history should agree with it.
func (l *Log) RecordEnd(sessionID, disposition string, at time.Time) error {
	_, err := l.db.Exec(`
		UPDATE calls SET disposition = ?, ended_at = ?
		WHERE session_id = ? AND ended_at IS NULL
	`, disposition, at.UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("record call end: %w", err)
	}
	return nil
}

// Recent returns the newest limit entries, newest first.
func (l *Log) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.Query(`
		SELECT session_id, peer_id, display_name, direction, kind, disposition,
		       started_at, connected_at, ended_at
		FROM calls ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var started int64
		var connected, ended sql.NullInt64
		if err := rows.Scan(&e.SessionID, &e.PeerID, &e.DisplayName, &e.Direction, &e.Kind,
			&e.Disposition, &started, &connected, &ended); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.StartedAt = time.UnixMilli(started)
		if connected.Valid {
			t := time.UnixMilli(connected.Int64)
			e.ConnectedAt = &t
		}
		if ended.Valid {
			t := time.UnixMilli(ended.Int64)
			e.EndedAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}
