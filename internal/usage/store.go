// Package usage provides the persistent assembly audit ledger. Every
// prompt assembly appends one record: token totals, truncation
// outcome, and which fragments degraded. Records are append-only and
// indexed by timestamp and conversation for aggregation queries.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Record is one assembly's audit entry.
type Record struct {
	ID                string
	Timestamp         time.Time
	ConversationID    string
	Model             string
	InputTokens       int
	RetainedMessages  int
	DroppedMessages   int
	OverBudget        bool
	ForceRefresh      bool
	DegradedFragments []string
	ElapsedMS         int64
}

// Summary holds aggregated assembly totals.
type Summary struct {
	TotalRecords     int
	TotalInputTokens int64
	TotalDropped     int64
	OverBudgetCount  int
	DegradedCount    int
}

// Store is an append-only SQLite store for assembly records. Safe for
// concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// Open opens the audit database at path with WAL and a busy timeout.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	return db, nil
}

// NewStore wraps db and applies the schema.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate audit schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS assembly_records (
		id                 TEXT PRIMARY KEY,
		timestamp          TEXT NOT NULL,
		conversation_id    TEXT NOT NULL,
		model              TEXT,
		input_tokens       INTEGER NOT NULL,
		retained_messages  INTEGER NOT NULL,
		dropped_messages   INTEGER NOT NULL,
		over_budget        INTEGER NOT NULL,
		force_refresh      INTEGER NOT NULL,
		degraded_fragments TEXT,
		elapsed_ms         INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assembly_timestamp ON assembly_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_assembly_conversation ON assembly_records(conversation_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists an assembly record. An empty rec.ID gets a UUIDv7;
// a zero timestamp gets the current time.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assembly_records
			(id, timestamp, conversation_id, model, input_tokens, retained_messages,
			 dropped_messages, over_budget, force_refresh, degraded_fragments, elapsed_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.ConversationID,
		rec.Model,
		rec.InputTokens,
		rec.RetainedMessages,
		rec.DroppedMessages,
		rec.OverBudget,
		rec.ForceRefresh,
		strings.Join(rec.DegradedFragments, ","),
		rec.ElapsedMS,
	)
	if err != nil {
		return fmt.Errorf("insert assembly record: %w", err)
	}
	return nil
}

// Summary returns aggregated totals for records within [start, end).
func (s *Store) Summary(start, end time.Time) (*Summary, error) {
	row := s.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(input_tokens), 0),
		        COALESCE(SUM(dropped_messages), 0),
		        COALESCE(SUM(over_budget), 0),
		        COALESCE(SUM(CASE WHEN degraded_fragments != '' THEN 1 ELSE 0 END), 0)
		 FROM assembly_records
		 WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)

	var sum Summary
	if err := row.Scan(&sum.TotalRecords, &sum.TotalInputTokens, &sum.TotalDropped, &sum.OverBudgetCount, &sum.DegradedCount); err != nil {
		return nil, fmt.Errorf("query assembly summary: %w", err)
	}
	return &sum, nil
}

// SummaryByConversation returns per-conversation totals for records
// within [start, end).
func (s *Store) SummaryByConversation(start, end time.Time) (map[string]*Summary, error) {
	rows, err := s.db.Query(
		`SELECT conversation_id, COUNT(*),
		        COALESCE(SUM(input_tokens), 0),
		        COALESCE(SUM(dropped_messages), 0),
		        COALESCE(SUM(over_budget), 0),
		        COALESCE(SUM(CASE WHEN degraded_fragments != '' THEN 1 ELSE 0 END), 0)
		 FROM assembly_records
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY conversation_id
		 ORDER BY SUM(input_tokens) DESC`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query assembly summary by conversation: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var key string
		var sum Summary
		if err := rows.Scan(&key, &sum.TotalRecords, &sum.TotalInputTokens, &sum.TotalDropped, &sum.OverBudgetCount, &sum.DegradedCount); err != nil {
			return nil, fmt.Errorf("scan assembly summary: %w", err)
		}
		result[key] = &sum
	}
	return result, rows.Err()
}

// Recent returns the newest records, most recent first.
func (s *Store) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(
		`SELECT id, timestamp, conversation_id, model, input_tokens, retained_messages,
		        dropped_messages, over_budget, force_refresh, degraded_fragments, elapsed_ms
		 FROM assembly_records
		 ORDER BY timestamp DESC, rowid DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var ts, degraded string
		if err := rows.Scan(&rec.ID, &ts, &rec.ConversationID, &rec.Model, &rec.InputTokens,
			&rec.RetainedMessages, &rec.DroppedMessages, &rec.OverBudget, &rec.ForceRefresh,
			&degraded, &rec.ElapsedMS); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			rec.Timestamp = t.UTC()
		}
		if degraded != "" {
			rec.DegradedFragments = strings.Split(degraded, ",")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
