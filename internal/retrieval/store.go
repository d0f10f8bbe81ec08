// Package retrieval provides the externally-owned resources branches
// reference: a SQLite archive of branch events and a read-only file source.
package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/warrenlabs/warren/pkg/branch"
)

// Store is a SQLite-backed archive of execution branches. It satisfies
// branch.RetrievalStore so archived material can be looked up from later
// runs.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// BranchRecord summarizes one archived branch.
type BranchRecord struct {
	ID         string
	EventCount int
	ArchivedAt time.Time
}

// Open creates or opens the archive at dbPath, creating parent directories
// and the schema as needed.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL for concurrent reads during archiving.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: conn, dbPath: dbPath}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS branches (
	id TEXT PRIMARY KEY,
	event_count INTEGER NOT NULL DEFAULT 0,
	archived_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS branch_events (
	branch_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	event_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	kind TEXT,
	state_snapshot TEXT,
	prompt TEXT,
	source TEXT,
	items TEXT,
	occurred_at TEXT NOT NULL,
	PRIMARY KEY (branch_id, seq),
	FOREIGN KEY (branch_id) REFERENCES branches(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_branch_events_branch ON branch_events(branch_id);
`

// Archive persists a branch's full event sequence, replacing any prior
// archive of the same branch id.
func (s *Store) Archive(b branch.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin archive: %w", err)
	}
	defer tx.Rollback()

	events := b.Events()
	if _, err := tx.Exec(
		`INSERT INTO branches (id, event_count, archived_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET event_count = excluded.event_count, archived_at = excluded.archived_at`,
		b.ID(), len(events), formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("archive branch %s: %w", b.ID(), err)
	}
	if _, err := tx.Exec(`DELETE FROM branch_events WHERE branch_id = ?`, b.ID()); err != nil {
		return fmt.Errorf("clear prior events for %s: %w", b.ID(), err)
	}

	for seq, e := range events {
		var kind, snapshot, prompt, source, items sql.NullString
		var eventType string
		switch ev := e.(type) {
		case branch.ReasoningStep:
			eventType = "reasoning_step"
			kind = nullString(ev.Kind)
			snapshot = nullString(ev.StateSnapshot)
			prompt = nullString(ev.Prompt)
		case branch.IngestEvent:
			eventType = "ingest"
			source = nullString(ev.Source)
			encoded, err := json.Marshal(ev.Items)
			if err != nil {
				return fmt.Errorf("encode ingest items: %w", err)
			}
			items = nullString(string(encoded))
		default:
			return fmt.Errorf("archive branch %s: unknown event type %T", b.ID(), e)
		}

		if _, err := tx.Exec(
			`INSERT INTO branch_events
			 (branch_id, seq, event_id, event_type, kind, state_snapshot, prompt, source, items, occurred_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID(), seq, e.EventID(), eventType, kind, snapshot, prompt, source, items,
			formatTime(e.OccurredAt()),
		); err != nil {
			return fmt.Errorf("archive event %d of %s: %w", seq, b.ID(), err)
		}
	}

	return tx.Commit()
}

// EventsFor reads an archived branch's events back in append order.
func (s *Store) EventsFor(branchID string) ([]branch.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT event_id, event_type, kind, state_snapshot, prompt, source, items, occurred_at
		 FROM branch_events WHERE branch_id = ? ORDER BY seq`,
		branchID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events for %s: %w", branchID, err)
	}
	defer rows.Close()

	var events []branch.Event
	for rows.Next() {
		var eventID, eventType, occurredAt string
		var kind, snapshot, prompt, source, items sql.NullString
		if err := rows.Scan(&eventID, &eventType, &kind, &snapshot, &prompt, &source, &items, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ts, err := parseTime(occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parse event time: %w", err)
		}

		switch eventType {
		case "reasoning_step":
			events = append(events, branch.ReasoningStep{
				ID:            eventID,
				Kind:          kind.String,
				StateSnapshot: snapshot.String,
				Prompt:        prompt.String,
				Timestamp:     ts,
			})
		case "ingest":
			var decoded []string
			if items.Valid {
				if err := json.Unmarshal([]byte(items.String), &decoded); err != nil {
					return nil, fmt.Errorf("decode ingest items: %w", err)
				}
			}
			events = append(events, branch.IngestEvent{
				ID:        eventID,
				Source:    source.String,
				Items:     decoded,
				Timestamp: ts,
			})
		default:
			return nil, fmt.Errorf("unknown archived event type %q", eventType)
		}
	}
	return events, rows.Err()
}

// Branches lists archived branches, newest first.
func (s *Store) Branches() ([]BranchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, event_count, archived_at FROM branches ORDER BY archived_at DESC, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query branches: %w", err)
	}
	defer rows.Close()

	var out []BranchRecord
	for rows.Next() {
		var r BranchRecord
		var archivedAt string
		if err := rows.Scan(&r.ID, &r.EventCount, &archivedAt); err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		if r.ArchivedAt, err = parseTime(archivedAt); err != nil {
			return nil, fmt.Errorf("parse archive time: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Lookup searches archived event payloads for the query string and returns
// matching snapshots and items. Implements branch.RetrievalStore.
func (s *Store) Lookup(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + query + "%"

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(state_snapshot, items) FROM branch_events
		 WHERE state_snapshot LIKE ? OR prompt LIKE ? OR items LIKE ?
		 ORDER BY branch_id, seq LIMIT ?`,
		pattern, pattern, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("lookup %q: %w", query, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var payload sql.NullString
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan lookup row: %w", err)
		}
		if payload.Valid {
			out = append(out, payload.String)
		}
	}
	return out, rows.Err()
}

// formatTime formats a time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a stored time string.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// nullString converts a string to sql.NullString, treating empty as null.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
