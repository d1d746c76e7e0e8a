package obs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Sink persists observability records. Write is called from a single
// goroutine; Close flushes and releases resources.
type Sink interface {
	Write(rec Record) error
	Close() error
}

// ————————————————————————————————————————————————————————————————————————
// Memory sink
// ————————————————————————————————————————————————————————————————————————

// MemorySink keeps records in memory for tests and live inspection.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Write(rec Record) error {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

func (s *MemorySink) Close() error { return nil }

// Snapshot returns a copy of all records written so far.
func (s *MemorySink) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len reports the number of records written so far.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// ————————————————————————————————————————————————————————————————————————
// SQLite sink
// ————————————————————————————————————————————————————————————————————————

const createRecordsTable = `
CREATE TABLE IF NOT EXISTS observability_records (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	logged_at      TEXT NOT NULL,
	occurred_at    TEXT NOT NULL,
	kind           TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	stage          TEXT NOT NULL,
	correlation_id TEXT,
	trade_id       TEXT,
	venue_order_id TEXT,
	summary_json   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_correlation
	ON observability_records (correlation_id);
CREATE INDEX IF NOT EXISTS idx_records_event_type
	ON observability_records (event_type);
`

// SQLiteSink persists records into an embedded SQLite database so order
// flow can be queried after the fact.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (creating if needed) the database at path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open observability db: %w", err)
	}
	// A single connection keeps writes serialized at the driver level.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createRecordsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create observability schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Write(rec Record) error {
	summary, err := json.Marshal(rec.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO observability_records
			(logged_at, occurred_at, kind, event_type, stage, correlation_id, trade_id, venue_order_id, summary_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.LoggedAt.UTC().Format(time.RFC3339Nano),
		rec.OccurredAt.UTC().Format(time.RFC3339Nano),
		rec.Kind,
		rec.EventType,
		rec.Stage,
		rec.CorrelationID,
		rec.TradeID,
		rec.VenueOrderID,
		string(summary),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Close() error { return s.db.Close() }

// RecordsByCorrelation reads back all records for one correlation id in
// insertion order.
func (s *SQLiteSink) RecordsByCorrelation(correlationID string) ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT logged_at, occurred_at, kind, event_type, stage, correlation_id, trade_id, venue_order_id, summary_json
		FROM observability_records
		WHERE correlation_id = ?
		ORDER BY id`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var loggedAt, occurredAt, summary string
		if err := rows.Scan(&loggedAt, &occurredAt, &rec.Kind, &rec.EventType, &rec.Stage,
			&rec.CorrelationID, &rec.TradeID, &rec.VenueOrderID, &summary); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if rec.LoggedAt, err = time.Parse(time.RFC3339Nano, loggedAt); err != nil {
			return nil, fmt.Errorf("parse logged_at: %w", err)
		}
		if rec.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt); err != nil {
			return nil, fmt.Errorf("parse occurred_at: %w", err)
		}
		if err := json.Unmarshal([]byte(summary), &rec.Summary); err != nil {
			return nil, fmt.Errorf("parse summary_json: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ————————————————————————————————————————————————————————————————————————
// Multi sink
// ————————————————————————————————————————————————————————————————————————

// MultiSink writes each record to every sink. A failing sink does not
// stop the others; errors are joined.
type MultiSink []Sink

func (m MultiSink) Write(rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
