package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dougsko/rigsession/pkg/logging"
	_ "github.com/mattn/go-sqlite3"
)

// LeaseEvent is one journalled lease operation
type LeaseEvent struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Op        string    `json:"op"`
	Token     string    `json:"token"`
	Result    string    `json:"result"` // rigerr code, OK on success
	Error     string    `json:"error,omitempty"`
}

// Transmission statuses
const (
	TxQueued   = "QUEUED"
	TxKeyed    = "KEYED"
	TxAborted  = "ABORTED"
	TxRejected = "REJECTED"
)

// Transmission is one keyer submission
type Transmission struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	Accepted  int       `json:"accepted"`
	Rejected  int       `json:"rejected"`
	Status    string    `json:"status"`
	VFO       string    `json:"vfo"`
	Frequency int64     `json:"frequency"`
}

// JournalStore persists lease events and transmissions in SQLite
type JournalStore struct {
	db        *sql.DB
	dbPath    string
	maxEvents int
}

// NewJournalStore opens or creates the journal at dbPath
func NewJournalStore(dbPath string, maxEvents int) (*JournalStore, error) {
	store := &JournalStore{
		dbPath:    dbPath,
		maxEvents: maxEvents,
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize journal store: %w", err)
	}

	return store, nil
}

func (js *JournalStore) initialize() error {
	if js.dbPath == "" {
		js.dbPath = "./rigsession.db"
	}

	if err := os.MkdirAll(filepath.Dir(js.dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	connectionString := js.dbPath + "?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=on"

	db, err := sql.Open("sqlite3", connectionString)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	js.db = db

	if err := js.createTables(); err != nil {
		db.Close()
		return fmt.Errorf("failed to create tables: %w", err)
	}

	if err := js.createIndexes(); err != nil {
		db.Close()
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logging.Infof("storage", "journal initialized: %s (max %d events)", js.dbPath, js.maxEvents)
	return nil
}

func (js *JournalStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS lease_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		op TEXT NOT NULL CHECK (op IN ('GET', 'RENEW', 'RELEASE')),
		token TEXT NOT NULL DEFAULT '',
		result TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS transmissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		text TEXT NOT NULL,
		accepted INTEGER NOT NULL DEFAULT 0,
		rejected INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL CHECK (status IN ('QUEUED', 'KEYED', 'ABORTED', 'REJECTED')),
		vfo TEXT NOT NULL DEFAULT '',
		frequency INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS journal_stats (
		id INTEGER PRIMARY KEY,
		total_lease_events INTEGER NOT NULL DEFAULT 0,
		total_transmissions INTEGER NOT NULL DEFAULT 0,
		last_cleanup DATETIME,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	INSERT OR IGNORE INTO journal_stats (id, total_lease_events, total_transmissions)
	VALUES (1, 0, 0);
	`

	_, err := js.db.Exec(schema)
	return err
}

func (js *JournalStore) createIndexes() error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_lease_events_timestamp ON lease_events(timestamp DESC)",
		"CREATE INDEX IF NOT EXISTS idx_lease_events_token ON lease_events(token)",
		"CREATE INDEX IF NOT EXISTS idx_lease_events_result ON lease_events(result)",
		"CREATE INDEX IF NOT EXISTS idx_transmissions_timestamp ON transmissions(timestamp DESC)",
		"CREATE INDEX IF NOT EXISTS idx_transmissions_status ON transmissions(status)",
	}

	for _, indexSQL := range indexes {
		if _, err := js.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// RecordLeaseEvent appends a lease event
func (js *JournalStore) RecordLeaseEvent(ev LeaseEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	tx, err := js.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO lease_events (timestamp, op, token, result, error)
		VALUES (?, ?, ?, ?, ?)
	`, ev.Timestamp.UTC(), ev.Op, ev.Token, ev.Result, ev.Error)
	if err != nil {
		return fmt.Errorf("failed to insert lease event: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE journal_stats SET
			total_lease_events = total_lease_events + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
	`)
	if err != nil {
		return fmt.Errorf("failed to update stats: %w", err)
	}

	if err := js.cleanupTable(tx, "lease_events"); err != nil {
		logging.Warnf("storage", "failed to trim lease events: %v", err)
	}

	return tx.Commit()
}

// RecordTransmission appends a keyer submission and returns its id
func (js *JournalStore) RecordTransmission(t Transmission) (int64, error) {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}

	tx, err := js.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO transmissions (timestamp, text, accepted, rejected, status, vfo, frequency)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.Timestamp.UTC(), t.Text, t.Accepted, t.Rejected, t.Status, t.VFO, t.Frequency)
	if err != nil {
		return 0, fmt.Errorf("failed to insert transmission: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get transmission ID: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE journal_stats SET
			total_transmissions = total_transmissions + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to update stats: %w", err)
	}

	if err := js.cleanupTable(tx, "transmissions"); err != nil {
		logging.Warnf("storage", "failed to trim transmissions: %v", err)
	}

	return id, tx.Commit()
}

// UpdateTransmissionStatus marks a queued transmission keyed or aborted
func (js *JournalStore) UpdateTransmissionStatus(id int64, status string) error {
	result, err := js.db.Exec("UPDATE transmissions SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to update transmission %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("transmission %d not found", id)
	}
	return nil
}

// Cleanup trims both tables to the configured maximum
func (js *JournalStore) Cleanup() error {
	tx, err := js.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"lease_events", "transmissions"} {
		if err := js.cleanupTable(tx, table); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// cleanupTable removes the oldest rows of table beyond maxEvents. table is
// one of the fixed journal table names.
func (js *JournalStore) cleanupTable(tx *sql.Tx, table string) error {
	if js.maxEvents <= 0 {
		return nil
	}

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
		return err
	}
	if count <= js.maxEvents {
		return nil
	}

	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE id IN (
			SELECT id FROM %s
			ORDER BY id ASC
			LIMIT ?
		)
	`, table, table)
	if _, err := tx.Exec(query, count-js.maxEvents); err != nil {
		return err
	}

	_, err := tx.Exec("UPDATE journal_stats SET last_cleanup = CURRENT_TIMESTAMP WHERE id = 1")
	return err
}

// Close closes the database connection
func (js *JournalStore) Close() error {
	if js.db != nil {
		return js.db.Close()
	}
	return nil
}
