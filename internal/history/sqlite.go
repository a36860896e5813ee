// Package history keeps a permanent record of deaths and world resets in
// SQLite, surviving the YAML stats resets that come with every new challenge.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// DeathRecord is one archived death.
type DeathRecord struct {
	ID          int64     `json:"id"`
	EventID     string    `json:"event_id"`
	Player      string    `json:"player"`
	RawLine     string    `json:"raw_line"`
	LogTime     string    `json:"log_time"`
	Summary     string    `json:"summary"`
	ChallengeNo int       `json:"challenge_no"`
	DeathCount  int       `json:"death_count"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Store provides database access.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordDeath archives a death. Re-inserting the same event id is a no-op.
func (s *Store) RecordDeath(ctx context.Context, r DeathRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deaths (event_id, player, raw_line, log_time, summary, challenge_no, death_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`, r.EventID, r.Player, r.RawLine, r.LogTime, r.Summary, r.ChallengeNo, r.DeathCount)
	if err != nil {
		return fmt.Errorf("recording death: %w", err)
	}
	return nil
}

// RecentDeaths returns up to limit deaths, newest first.
func (s *Store) RecentDeaths(ctx context.Context, limit int) ([]DeathRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, player, raw_line, log_time, summary, challenge_no, death_count, recorded_at
		FROM deaths ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeathRecord
	for rows.Next() {
		var r DeathRecord
		if err := rows.Scan(&r.ID, &r.EventID, &r.Player, &r.RawLine, &r.LogTime,
			&r.Summary, &r.ChallengeNo, &r.DeathCount, &r.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeathTotals returns all-time death counts per player across every challenge.
func (s *Store) DeathTotals(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT player, COUNT(*) FROM deaths GROUP BY player
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]int)
	for rows.Next() {
		var player string
		var n int
		if err := rows.Scan(&player, &n); err != nil {
			return nil, err
		}
		totals[player] = n
	}
	return totals, rows.Err()
}

// RecordReset archives a world reset attempt.
func (s *Store) RecordReset(ctx context.Context, trigger string, success bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resets (trigger_kind, success) VALUES (?, ?)
	`, trigger, success)
	if err != nil {
		return fmt.Errorf("recording reset: %w", err)
	}
	return nil
}
