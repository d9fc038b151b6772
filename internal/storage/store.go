// Package storage keeps a journal of past sessions in a local sqlite
// database. The journal feeds the uptime/status/history commands; it is
// best-effort and never fatal to a running session.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

// SessionRecord is one row of the session journal.
type SessionRecord struct {
	ID             string
	Profile        string
	Host           string
	Port           int
	Username       string
	StartedAt      time.Time
	EndedAt        *time.Time
	EndReason      string
	Classification string
}

func (r SessionRecord) Duration() time.Duration {
	if r.EndedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.EndedAt.Sub(r.StartedAt)
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS sessions(
	id TEXT PRIMARY KEY,
	profile TEXT NOT NULL,
	host TEXT NOT NULL,
	port INTEGER NOT NULL,
	username TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	ended_at INTEGER,
	end_reason TEXT NOT NULL DEFAULT '',
	classification TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sessions_profile_started ON sessions(profile, started_at DESC);
`)
	if err != nil {
		return fmt.Errorf("migrate sessions: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordStart journals a session that just went Active.
func (s *Store) RecordStart(ctx context.Context, rec SessionRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions(id, profile, host, port, username, started_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING
`, rec.ID, rec.Profile, rec.Host, rec.Port, rec.Username, ts(rec.StartedAt))
	if err != nil {
		return fmt.Errorf("record session start: %w", err)
	}
	return nil
}

// RecordEnd closes a journaled session with its end reason and
// classification.
func (s *Store) RecordEnd(ctx context.Context, id, reason, classification string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE sessions SET ended_at = ?, end_reason = ?, classification = ? WHERE id = ? AND ended_at IS NULL
`, ts(time.Now().UTC()), reason, classification, id)
	if err != nil {
		return fmt.Errorf("record session end: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentSessions returns the newest n sessions for a profile, newest first.
func (s *Store) RecentSessions(ctx context.Context, profile string, n int) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, profile, host, port, username, started_at, ended_at, end_reason, classification
FROM sessions WHERE profile = ? ORDER BY started_at DESC LIMIT ?
`, profile, n)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var started int64
		var ended sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.Profile, &rec.Host, &rec.Port, &rec.Username, &started, &ended, &rec.EndReason, &rec.Classification); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.StartedAt = fromTS(started)
		if ended.Valid {
			t := fromTS(ended.Int64)
			rec.EndedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TotalUptime sums the duration of every completed session for a profile.
func (s *Store) TotalUptime(ctx context.Context, profile string) (time.Duration, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
SELECT SUM(ended_at - started_at) FROM sessions WHERE profile = ? AND ended_at IS NOT NULL
`, profile).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum uptime: %w", err)
	}
	return time.Duration(total.Int64) * time.Millisecond, nil
}

func ts(t time.Time) int64 {
	return t.UnixMilli()
}

func fromTS(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
