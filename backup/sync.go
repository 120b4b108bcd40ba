// Package backup consolidates the recorder's CSV output into a SQLite
// store. A file-system watcher detects record-file growth and a
// synchronization pass ingests only the rows that are new since the last
// pass, tracked by per-file progress markers.
package backup

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/voltscope/voltscope/pkg/model"
	"github.com/voltscope/voltscope/pkg/store"
	"github.com/voltscope/voltscope/recorder"
)

// Config holds synchronizer tunables. Zero values select the defaults.
type Config struct {
	// DataDir is the recorder's output directory.
	DataDir string

	// Store is the consolidated store written to.
	Store store.Store

	// BatchRows caps the measurement rows per transaction. Defaults to 5000.
	BatchRows int

	// DebounceWindow suppresses repeat change events for the same path.
	// Defaults to 5s.
	DebounceWindow time.Duration

	// SettleDelay is how long a pending path must be quiet before a pass
	// picks it up. Defaults to 3s.
	SettleDelay time.Duration

	// TickInterval is the reconciliation cadence of the watcher. Defaults
	// to 1s.
	TickInterval time.Duration

	// Now replaces time.Now in tests.
	Now func() time.Time
}

func (c *Config) applyDefaults() error {
	if c.DataDir == "" {
		return fmt.Errorf("backup: data directory required")
	}
	if c.Store == nil {
		return fmt.Errorf("backup: store required")
	}
	if c.BatchRows <= 0 {
		c.BatchRows = 5000
	}
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = 5 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 3 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}

// Synchronizer ingests record files and ledgers into the consolidated
// store. All passes serialize on an internal mutex so the store sees a
// single writer.
type Synchronizer struct {
	cfg    Config
	status chan model.BackupStatus

	mu sync.Mutex
}

// NewSynchronizer validates the configuration and returns a synchronizer.
func NewSynchronizer(cfg Config) (*Synchronizer, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &Synchronizer{
		cfg:    cfg,
		status: make(chan model.BackupStatus, 16),
	}, nil
}

// Status returns the one-way status event stream.
func (s *Synchronizer) Status() <-chan model.BackupStatus { return s.status }

// SyncAll runs one full pass: ledgers first, then every record file in the
// data directory. Per-file failures are reported and do not stop the pass.
func (s *Synchronizer) SyncAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.syncLedgers(); err != nil {
		s.report(false, fmt.Sprintf("ledger sync: %v", err))
		return err
	}

	paths, err := filepath.Glob(filepath.Join(s.cfg.DataDir, "session_*.csv"))
	if err != nil {
		return fmt.Errorf("scan data directory: %w", err)
	}
	sort.Strings(paths)

	var firstErr error
	for _, path := range paths {
		if err := s.syncMeasurements(path); err != nil {
			s.report(false, fmt.Sprintf("sync %s: %v", filepath.Base(path), err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr == nil {
		s.report(true, fmt.Sprintf("full pass: %d record files checked", len(paths)))
	}
	return firstErr
}

// SyncPaths runs one pass over the given record files, preceded by a
// ledger sync so foreign keys resolve.
func (s *Synchronizer) SyncPaths(paths []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.syncLedgers(); err != nil {
		s.report(false, fmt.Sprintf("ledger sync: %v", err))
	}
	for _, path := range paths {
		if err := s.syncMeasurements(path); err != nil {
			s.report(false, fmt.Sprintf("sync %s: %v", filepath.Base(path), err))
		}
	}
}

// syncLedgers diffs the CSV ledgers against the store's primary keys and
// inserts only the ids not yet present. The ledgers are small and
// append-only, so a full diff per pass is cheap.
func (s *Synchronizer) syncLedgers() error {
	if err := s.syncParticipants(); err != nil {
		return err
	}
	return s.syncSessions()
}

func (s *Synchronizer) syncParticipants() error {
	rows, err := readDataRows(filepath.Join(s.cfg.DataDir, recorder.ParticipantsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read participant ledger: %w", err)
	}

	known, err := s.cfg.Store.ParticipantIDs()
	if err != nil {
		return err
	}

	var missing []model.Participant
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		id, err := strconv.Atoi(row[0])
		if err != nil || id <= 0 {
			continue
		}
		if _, ok := known[id]; ok {
			continue
		}
		created, _ := strconv.ParseFloat(row[1], 64)
		missing = append(missing, model.Participant{ID: id, CreatedAt: created})
	}
	if len(missing) == 0 {
		return nil
	}
	if err := s.cfg.Store.InsertParticipants(missing); err != nil {
		return fmt.Errorf("insert participants: %w", err)
	}
	s.report(true, fmt.Sprintf("%d new participants", len(missing)))
	return nil
}

func (s *Synchronizer) syncSessions() error {
	rows, err := readDataRows(filepath.Join(s.cfg.DataDir, recorder.SessionsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read session ledger: %w", err)
	}

	known, err := s.cfg.Store.SessionIDs()
	if err != nil {
		return err
	}

	var missing []model.Session
	for _, row := range rows {
		if len(row) < 4 {
			continue
		}
		id, err := strconv.Atoi(row[0])
		if err != nil || id <= 0 {
			continue
		}
		if _, ok := known[id]; ok {
			continue
		}
		pid, err := strconv.Atoi(row[1])
		if err != nil {
			continue
		}
		started, _ := strconv.ParseFloat(row[2], 64)
		missing = append(missing, model.Session{
			ID:            id,
			ParticipantID: pid,
			StartedAt:     started,
			DataFile:      row[3],
		})
	}
	if len(missing) == 0 {
		return nil
	}
	if err := s.cfg.Store.InsertSessions(missing); err != nil {
		return fmt.Errorf("insert sessions: %w", err)
	}
	s.report(true, fmt.Sprintf("%d new sessions", len(missing)))
	return nil
}

// syncMeasurements ingests one record file incrementally. Rows already
// counted in the progress marker are skipped; the remainder is inserted in
// bounded transactions, each committing its marker update together with its
// rows so a crash never splits the two.
func (s *Synchronizer) syncMeasurements(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat record file: %w", err)
	}
	modTime := float64(info.ModTime().UnixNano()) / 1e9

	prev, seen, err := s.cfg.Store.ProcessedFile(path)
	if err != nil {
		return err
	}
	if seen && modTime <= prev.LastModified {
		return nil
	}

	sessionID, err := model.SessionIDFromFileName(filepath.Base(path))
	if err != nil {
		// Reported but not fatal to the pass: the file is not ours.
		s.report(false, err.Error())
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open record file: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1

	// Header row.
	if _, err := cr.Read(); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("read record header: %w", err)
	}

	rowsSeen := prev.RowsProcessed
	for skipped := int64(0); skipped < prev.RowsProcessed; skipped++ {
		if _, err := cr.Read(); err != nil {
			if err == io.EOF {
				// File shrank under the marker; nothing new to ingest.
				return nil
			}
			return fmt.Errorf("skip processed rows: %w", err)
		}
	}

	inserted := int64(0)
	for {
		batch, readErr := s.readBatch(cr)
		if len(batch) > 0 {
			n, err := s.insertBatch(sessionID, path, modTime, batch, rowsSeen)
			if err != nil {
				return err
			}
			rowsSeen += int64(len(batch))
			inserted += n
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read record rows: %w", readErr)
		}
	}

	if inserted > 0 {
		s.report(true, fmt.Sprintf("%s: %d rows consolidated", filepath.Base(path), inserted))
	} else if rowsSeen == prev.RowsProcessed {
		// Touch the marker so an unchanged rewrite is not rescanned.
		if err := s.touchMarker(path, modTime, rowsSeen); err != nil {
			return err
		}
	}
	return nil
}

// readBatch reads up to BatchRows raw rows, returning io.EOF with the final
// partial batch.
func (s *Synchronizer) readBatch(cr *csv.Reader) ([][]string, error) {
	batch := make([][]string, 0, s.cfg.BatchRows)
	for len(batch) < s.cfg.BatchRows {
		row, err := cr.Read()
		if err != nil {
			return batch, err
		}
		batch = append(batch, row)
	}
	return batch, nil
}

// insertBatch writes one transaction: the batch's parseable rows plus the
// advanced progress marker. Malformed rows count toward the marker but are
// not inserted. Returns the number of rows inserted.
func (s *Synchronizer) insertBatch(sessionID int, path string, modTime float64, batch [][]string, rowsBefore int64) (int64, error) {
	if err := s.cfg.Store.BeginBatch(); err != nil {
		return 0, err
	}

	inserted := int64(0)
	for _, row := range batch {
		rec, ok := parseMeasurement(sessionID, row)
		if !ok {
			continue
		}
		if err := s.cfg.Store.InsertMeasurement(rec); err != nil {
			s.cfg.Store.RollbackBatch()
			return 0, fmt.Errorf("insert measurement: %w", err)
		}
		inserted++
	}

	marker := model.ProcessedFile{
		Path:          path,
		LastModified:  modTime,
		LastProcessed: unixSeconds(s.cfg.Now()),
		RowsProcessed: rowsBefore + int64(len(batch)),
	}
	if err := s.cfg.Store.UpsertProcessedFile(marker); err != nil {
		s.cfg.Store.RollbackBatch()
		return 0, fmt.Errorf("update progress marker: %w", err)
	}
	if err := s.cfg.Store.CommitBatch(); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	return inserted, nil
}

func (s *Synchronizer) touchMarker(path string, modTime float64, rows int64) error {
	if err := s.cfg.Store.BeginBatch(); err != nil {
		return err
	}
	err := s.cfg.Store.UpsertProcessedFile(model.ProcessedFile{
		Path:          path,
		LastModified:  modTime,
		LastProcessed: unixSeconds(s.cfg.Now()),
		RowsProcessed: rows,
	})
	if err != nil {
		s.cfg.Store.RollbackBatch()
		return err
	}
	return s.cfg.Store.CommitBatch()
}

// parseMeasurement converts one CSV row. Malformed rows are rejected, not
// fatal.
func parseMeasurement(sessionID int, row []string) (model.MeasurementRecord, bool) {
	if len(row) != 4 {
		return model.MeasurementRecord{}, false
	}
	var vals [4]float64
	for i, cell := range row {
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return model.MeasurementRecord{}, false
		}
		vals[i] = v
	}
	return model.MeasurementRecord{
		SessionID:  sessionID,
		Timestamp:  vals[0],
		Elapsed:    vals[1],
		Vertical:   vals[2],
		Horizontal: vals[3],
	}, true
}

func (s *Synchronizer) report(ok bool, msg string) {
	select {
	case s.status <- model.BackupStatus{OK: ok, Message: msg}:
	default:
	}
}

func readDataRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) <= 1 {
		return nil, nil
	}
	return rows[1:], nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
