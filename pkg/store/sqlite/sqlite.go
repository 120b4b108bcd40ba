// Package sqlite provides the SQLite implementation of store.Store.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/voltscope/voltscope/pkg/model"
	"github.com/voltscope/voltscope/pkg/store"
)

// Config holds configuration for the SQLite store.
type Config struct {
	// Path to the SQLite database file.
	DBPath string

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool

	// WAL enables WAL mode for better concurrency.
	WAL bool
}

// SQLiteStore is the SQLite implementation of store.Store.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config

	// Write transaction state
	mu    sync.Mutex
	tx    *sql.Tx
	stmts map[string]*sql.Stmt // Prepared statements within tx
}

// New creates a new SQLite store.
func New(cfg Config) (*SQLiteStore, error) {
	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := cfg.DBPath
	params := "?_foreign_keys=on"
	if cfg.ReadOnly {
		params += "&mode=ro"
	}
	if cfg.WAL {
		params += "&_journal_mode=WAL"
	}
	dsn += params

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single writer is best practice for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:    db,
		path:  cfg.DBPath,
		cfg:   cfg,
		stmts: make(map[string]*sql.Stmt),
	}

	if !cfg.ReadOnly {
		if err := s.initSchema(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}

	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// DB returns the underlying database connection for direct queries.
// Use with caution - prefer using the Store interface methods.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) initSchema() error {
	schema := `
-- Meta table for store metadata
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT
);

CREATE TABLE IF NOT EXISTS participants (
	participant_id INTEGER PRIMARY KEY,
	created_at     REAL
);

CREATE TABLE IF NOT EXISTS sessions (
	session_id     INTEGER PRIMARY KEY,
	participant_id INTEGER,
	started_at     REAL,
	data_file      TEXT,
	FOREIGN KEY (participant_id) REFERENCES participants (participant_id)
);

CREATE TABLE IF NOT EXISTS measurements (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id       INTEGER,
	timestamp        REAL,
	elapsed_time     REAL,
	vertical_value   REAL,
	horizontal_value REAL,
	FOREIGN KEY (session_id) REFERENCES sessions (session_id)
);

-- Tracks how far each record file has been consumed
CREATE TABLE IF NOT EXISTS processed_files (
	file_path      TEXT PRIMARY KEY,
	last_modified  REAL,
	last_processed REAL,
	rows_processed INTEGER
);

CREATE INDEX IF NOT EXISTS idx_measurements_session ON measurements(session_id);
CREATE INDEX IF NOT EXISTS idx_measurements_timestamp ON measurements(timestamp);
`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	_, err = s.db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
		"schema_version", fmt.Sprintf("%d", store.SchemaVersion))
	return err
}

// ParticipantIDs returns the set of participant ids already stored.
func (s *SQLiteStore) ParticipantIDs() (map[int]struct{}, error) {
	return s.intSet(`SELECT participant_id FROM participants`)
}

// SessionIDs returns the set of session ids already stored.
func (s *SQLiteStore) SessionIDs() (map[int]struct{}, error) {
	return s.intSet(`SELECT session_id FROM sessions`)
}

func (s *SQLiteStore) intSet(query string) (map[int]struct{}, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[int]struct{})
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// InsertParticipants inserts the given participants in one transaction,
// ignoring ids that already exist.
func (s *SQLiteStore) InsertParticipants(ps []model.Participant) error {
	if len(ps) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO participants (participant_id, created_at) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range ps {
		if _, err := stmt.Exec(p.ID, p.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// InsertSessions inserts the given sessions in one transaction, ignoring
// ids that already exist.
func (s *SQLiteStore) InsertSessions(ss []model.Session) error {
	if len(ss) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO sessions (session_id, participant_id, started_at, data_file) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sess := range ss {
		if _, err := stmt.Exec(sess.ID, sess.ParticipantID, sess.StartedAt, sess.DataFile); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ProcessedFile returns the progress marker for a record file.
func (s *SQLiteStore) ProcessedFile(path string) (model.ProcessedFile, bool, error) {
	var pf model.ProcessedFile
	err := s.db.QueryRow(
		`SELECT file_path, last_modified, last_processed, rows_processed FROM processed_files WHERE file_path = ?`,
		path,
	).Scan(&pf.Path, &pf.LastModified, &pf.LastProcessed, &pf.RowsProcessed)
	if err == sql.ErrNoRows {
		return model.ProcessedFile{}, false, nil
	}
	if err != nil {
		return model.ProcessedFile{}, false, fmt.Errorf("query processed file: %w", err)
	}
	return pf, true, nil
}

// ────────────────────────────────────────────────────────────────────────────────
// Batch Write Operations
// ────────────────────────────────────────────────────────────────────────────────

// BeginBatch starts a batch write transaction.
func (s *SQLiteStore) BeginBatch() error {
	s.mu.Lock()
	if s.tx != nil {
		s.mu.Unlock()
		return fmt.Errorf("batch already in progress")
	}

	tx, err := s.db.Begin()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.tx = tx
	s.stmts = make(map[string]*sql.Stmt)
	s.mu.Unlock()
	return nil
}

// CommitBatch commits the current batch.
func (s *SQLiteStore) CommitBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return fmt.Errorf("no batch in progress")
	}

	for _, stmt := range s.stmts {
		stmt.Close()
	}
	s.stmts = nil

	err := s.tx.Commit()
	s.tx = nil
	return err
}

// RollbackBatch rolls back the current batch.
func (s *SQLiteStore) RollbackBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return nil
	}

	for _, stmt := range s.stmts {
		stmt.Close()
	}
	s.stmts = nil

	err := s.tx.Rollback()
	s.tx = nil
	return err
}

func (s *SQLiteStore) getStmt(name, query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmts[name]; ok {
		return stmt, nil
	}

	stmt, err := s.tx.Prepare(query)
	if err != nil {
		return nil, err
	}
	s.stmts[name] = stmt
	return stmt, nil
}

// InsertMeasurement inserts one measurement row within the current batch.
func (s *SQLiteStore) InsertMeasurement(rec model.MeasurementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return fmt.Errorf("no batch in progress")
	}

	const query = `INSERT INTO measurements (
		session_id, timestamp, elapsed_time, vertical_value, horizontal_value
	) VALUES (?, ?, ?, ?, ?)`

	stmt, err := s.getStmt("insert_measurement", query)
	if err != nil {
		return err
	}

	_, err = stmt.Exec(rec.SessionID, rec.Timestamp, rec.Elapsed, rec.Vertical, rec.Horizontal)
	return err
}

// UpsertProcessedFile records synchronization progress within the current
// batch, so the marker commits atomically with the inserted rows.
func (s *SQLiteStore) UpsertProcessedFile(pf model.ProcessedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return fmt.Errorf("no batch in progress")
	}

	const query = `INSERT OR REPLACE INTO processed_files (
		file_path, last_modified, last_processed, rows_processed
	) VALUES (?, ?, ?, ?)`

	stmt, err := s.getStmt("upsert_processed", query)
	if err != nil {
		return err
	}

	_, err = stmt.Exec(pf.Path, pf.LastModified, pf.LastProcessed, pf.RowsProcessed)
	return err
}

// ────────────────────────────────────────────────────────────────────────────────
// Read Queries
// ────────────────────────────────────────────────────────────────────────────────

// SessionSummary is one consolidated session with its measurement count.
type SessionSummary struct {
	SessionID     int
	ParticipantID int
	StartedAt     float64
	DataFile      string
	Measurements  int64
}

// Sessions returns all consolidated sessions ordered by id.
func (s *SQLiteStore) Sessions() ([]SessionSummary, error) {
	rows, err := s.db.Query(`
		SELECT s.session_id, s.participant_id, s.started_at, s.data_file,
		       COUNT(m.id)
		FROM sessions s
		LEFT JOIN measurements m ON m.session_id = s.session_id
		GROUP BY s.session_id
		ORDER BY s.session_id`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.SessionID, &sum.ParticipantID, &sum.StartedAt,
			&sum.DataFile, &sum.Measurements); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// MeasurementCount returns the number of stored measurement rows, for all
// sessions or for one session when sessionID > 0.
func (s *SQLiteStore) MeasurementCount(sessionID int) (int64, error) {
	var n int64
	var err error
	if sessionID > 0 {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM measurements WHERE session_id = ?`, sessionID).Scan(&n)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM measurements`).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count measurements: %w", err)
	}
	return n, nil
}
