// Package recorder turns the live sample stream into append-only session
// record files. Samples are staged in memory and flushed to disk by a
// background task, so the producer never blocks on I/O.
package recorder

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/voltscope/voltscope/pkg/model"
)

// State errors reported to callers. None of them change recorder state.
var (
	ErrNoParticipant    = errors.New("no participant registered")
	ErrSessionActive    = errors.New("session already active")
	ErrSessionNotActive = errors.New("no active session")
)

// DataFileHeader is the header row of every session record file.
var DataFileHeader = []string{"timestamp", "elapsed_time", "vertical_value", "horizontal_value"}

type sessionState int

const (
	stateIdle sessionState = iota
	stateActive
	statePaused
)

// Config holds recorder tunables. Zero values select the defaults.
type Config struct {
	// DataDir is the directory holding record files and ledgers.
	DataDir string

	// FlushThreshold is the staging-queue size that triggers an immediate
	// flush. Defaults to 10.
	FlushThreshold int

	// FlushInterval is the background flush cadence. Defaults to 200ms.
	FlushInterval time.Duration

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Recorder is the session-scoped durable writer.
type Recorder struct {
	cfg    Config
	status chan model.RecorderStatus

	mu            sync.Mutex
	state         sessionState
	participantID int
	session       model.Session
	file          *os.File
	csvw          *csv.Writer
	staging       []model.MeasurementRecord

	// flushMu serializes the write phase of flush and the file close in
	// EndSession, so the background task and lifecycle calls never touch
	// the writer concurrently.
	flushMu sync.Mutex

	notify chan struct{}
	done   chan struct{}
	loopWG sync.WaitGroup
	closed bool
}

// New creates the data directory and ledgers and starts the flush task.
func New(cfg Config) (*Recorder, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("recorder: data directory required")
	}
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = 10
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 200 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if err := initLedgers(cfg.DataDir); err != nil {
		return nil, err
	}

	r := &Recorder{
		cfg:    cfg,
		status: make(chan model.RecorderStatus, 16),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	r.loopWG.Add(1)
	go r.flushLoop()
	r.report(true, "recorder initialized")
	return r, nil
}

// Status returns the one-way status event stream.
func (r *Recorder) Status() <-chan model.RecorderStatus { return r.status }

// DataDir returns the directory holding record files and ledgers.
func (r *Recorder) DataDir() string { return r.cfg.DataDir }

// RegisterParticipant records a participant in the ledger. Registering a
// known id is a no-op beyond selecting it as the current participant.
func (r *Recorder) RegisterParticipant(id int) error {
	if id <= 0 {
		return fmt.Errorf("invalid participant id %d", id)
	}

	known, err := participantRegistered(r.cfg.DataDir, id)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read participant ledger: %w", err)
	}
	if !known {
		p := model.Participant{ID: id, CreatedAt: unixSeconds(r.cfg.Now())}
		if err := appendParticipant(r.cfg.DataDir, p); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.participantID = id
	r.mu.Unlock()
	r.report(true, fmt.Sprintf("participant %d registered", id))
	return nil
}

// StartSession opens a new session for the registered participant: it
// allocates the next session id from the ledger, creates the record file,
// and writes its header. Returns the session id.
func (r *Recorder) StartSession() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.participantID == 0 {
		return 0, ErrNoParticipant
	}
	if r.state != stateIdle {
		return 0, ErrSessionActive
	}

	id := nextSessionID(r.cfg.DataDir)
	now := r.cfg.Now()
	name := model.SessionFileName(id, r.participantID, now)
	path := filepath.Join(r.cfg.DataDir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("create record file: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(DataFileHeader); err != nil {
		f.Close()
		os.Remove(path)
		return 0, fmt.Errorf("write record header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(path)
		return 0, fmt.Errorf("flush record header: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return 0, fmt.Errorf("sync record header: %w", err)
	}

	r.session = model.Session{
		ID:            id,
		ParticipantID: r.participantID,
		StartedAt:     unixSeconds(now),
		DataFile:      name,
	}
	r.file = f
	r.csvw = w
	r.staging = r.staging[:0]
	r.state = stateActive

	r.report(true, fmt.Sprintf("session %d started for participant %d", id, r.participantID))
	return id, nil
}

// Store appends a sample to the staging queue. Fails without side effects
// unless a session is active.
func (r *Recorder) Store(s model.Sample) error {
	r.mu.Lock()
	if r.state != stateActive {
		r.mu.Unlock()
		return ErrSessionNotActive
	}
	r.staging = append(r.staging, model.MeasurementRecord{
		SessionID:  r.session.ID,
		Timestamp:  s.Timestamp,
		Elapsed:    s.Elapsed,
		Vertical:   s.Vertical,
		Horizontal: s.Horizontal,
	})
	wake := len(r.staging) >= r.cfg.FlushThreshold
	r.mu.Unlock()

	if wake {
		select {
		case r.notify <- struct{}{}:
		default:
		}
	}
	return nil
}

// PauseSession stops writing without closing the file and forces an
// immediate flush.
func (r *Recorder) PauseSession() error {
	r.mu.Lock()
	if r.state != stateActive {
		r.mu.Unlock()
		return ErrSessionNotActive
	}
	r.state = statePaused
	id := r.session.ID
	r.mu.Unlock()

	r.flush()
	r.report(true, fmt.Sprintf("session %d paused", id))
	return nil
}

// ResumeSession resumes a paused session.
func (r *Recorder) ResumeSession() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != statePaused {
		return ErrSessionNotActive
	}
	r.state = stateActive
	r.report(true, fmt.Sprintf("session %d resumed", r.session.ID))
	return nil
}

// EndSession flushes everything, closes the record file, appends the
// session's row to the session ledger, and returns to idle.
func (r *Recorder) EndSession() error {
	r.mu.Lock()
	if r.state == stateIdle {
		r.mu.Unlock()
		return ErrSessionNotActive
	}
	// Block further Store calls while the tail is written out.
	r.state = statePaused
	sess := r.session
	r.mu.Unlock()

	r.flush()

	// flushMu before mu, same order as flush, so no background write can
	// hold the file while it is closed here.
	r.flushMu.Lock()
	r.mu.Lock()
	if r.file != nil {
		if err := r.file.Sync(); err != nil {
			r.reportLocked(false, fmt.Sprintf("sync record file: %v", err))
		}
		if err := r.file.Close(); err != nil {
			r.reportLocked(false, fmt.Sprintf("close record file: %v", err))
		}
	}
	r.file = nil
	r.csvw = nil
	r.session = model.Session{}
	r.state = stateIdle
	r.mu.Unlock()
	r.flushMu.Unlock()

	if err := appendSession(r.cfg.DataDir, sess); err != nil {
		r.report(false, fmt.Sprintf("append session ledger: %v", err))
		return err
	}
	r.report(true, fmt.Sprintf("session %d ended", sess.ID))
	return nil
}

// Shutdown ends any active session, stops the flush task (waiting at most
// timeout), and performs one last best-effort flush. Safe to call at any
// time, including with nothing active.
func (r *Recorder) Shutdown(timeout time.Duration) {
	r.mu.Lock()
	active := r.state != stateIdle
	alreadyClosed := r.closed
	r.closed = true
	r.mu.Unlock()

	if active {
		if err := r.EndSession(); err != nil && !errors.Is(err, ErrSessionNotActive) {
			r.report(false, fmt.Sprintf("end session on shutdown: %v", err))
		}
	}

	if !alreadyClosed {
		close(r.done)
	}

	stopped := make(chan struct{})
	go func() {
		r.loopWG.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
	}

	r.flush()
	r.report(false, "recorder shut down")
}

// flushLoop wakes on the interval timer or on a size-threshold signal and
// drains the staging queue. Flush failures are reported and the loop keeps
// running.
func (r *Recorder) flushLoop() {
	defer r.loopWG.Done()
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-r.notify:
			r.flush()
		case <-ticker.C:
			r.flush()
		}
	}
}

// flush drains the staging queue to the open record file and forces the
// bytes to stable storage. The write phase runs under flushMu so only one
// flush touches the writer at a time.
func (r *Recorder) flush() {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	if len(r.staging) == 0 || r.file == nil {
		r.mu.Unlock()
		return
	}
	batch := r.staging
	r.staging = nil
	w := r.csvw
	f := r.file
	r.mu.Unlock()

	var werr error
	for _, rec := range batch {
		row := []string{
			formatFloat(rec.Timestamp),
			formatFloat(rec.Elapsed),
			formatFloat(rec.Vertical),
			formatFloat(rec.Horizontal),
		}
		if err := w.Write(row); err != nil {
			werr = err
			break
		}
	}
	if werr == nil {
		w.Flush()
		werr = w.Error()
	}
	if werr == nil {
		werr = f.Sync()
	}
	if werr == nil {
		return
	}

	// Non-fatal: requeue the batch so the next flush cycle retries it, and
	// replace the writer, whose buffered state holds the failed bytes. Rows
	// that reached the disk before the failure may be written twice.
	r.mu.Lock()
	if r.file == f {
		r.staging = append(batch, r.staging...)
		r.csvw = csv.NewWriter(f)
	}
	r.mu.Unlock()
	r.report(false, fmt.Sprintf("flush failed: %v", werr))
}

func (r *Recorder) report(ok bool, msg string) {
	select {
	case r.status <- model.RecorderStatus{OK: ok, Message: msg}:
	default:
	}
}

func (r *Recorder) reportLocked(ok bool, msg string) {
	// Status channel sends never block, so holding r.mu here is fine.
	r.report(ok, msg)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
