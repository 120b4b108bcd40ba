package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/voltscope/voltscope/pkg/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(Config{DBPath: filepath.Join(t.TempDir(), "backup.db"), WAL: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertParticipantsIgnoresDuplicates(t *testing.T) {
	s := newTestStore(t)

	ps := []model.Participant{{ID: 1, CreatedAt: 100}, {ID: 2, CreatedAt: 101}}
	if err := s.InsertParticipants(ps); err != nil {
		t.Fatalf("InsertParticipants: %v", err)
	}
	// Second insert of id 1 must not error or duplicate.
	if err := s.InsertParticipants([]model.Participant{{ID: 1, CreatedAt: 999}}); err != nil {
		t.Fatalf("re-insert: %v", err)
	}

	ids, err := s.ParticipantIDs()
	if err != nil {
		t.Fatalf("ParticipantIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("participant count = %d, want 2", len(ids))
	}
	if _, ok := ids[1]; !ok {
		t.Error("participant 1 missing")
	}
}

func TestInsertSessions(t *testing.T) {
	s := newTestStore(t)

	if err := s.InsertParticipants([]model.Participant{{ID: 7, CreatedAt: 50}}); err != nil {
		t.Fatal(err)
	}
	sess := []model.Session{{ID: 1, ParticipantID: 7, StartedAt: 60, DataFile: "session_1_participant_7_20260101_000000.csv"}}
	if err := s.InsertSessions(sess); err != nil {
		t.Fatalf("InsertSessions: %v", err)
	}
	if err := s.InsertSessions(sess); err != nil {
		t.Fatalf("re-insert: %v", err)
	}

	ids, err := s.SessionIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Errorf("session count = %d, want 1", len(ids))
	}
}

func TestBatchCommitWritesMeasurementsAndMarker(t *testing.T) {
	s := newTestStore(t)

	if err := s.BeginBatch(); err != nil {
		t.Fatalf("BeginBatch: %v", err)
	}
	for i := 0; i < 3; i++ {
		rec := model.MeasurementRecord{
			SessionID: 1, Timestamp: float64(100 + i), Elapsed: float64(i),
			Vertical: 1.5, Horizontal: 2.5,
		}
		if err := s.InsertMeasurement(rec); err != nil {
			t.Fatalf("InsertMeasurement: %v", err)
		}
	}
	pf := model.ProcessedFile{Path: "/data/session_1.csv", LastModified: 200, LastProcessed: 201, RowsProcessed: 3}
	if err := s.UpsertProcessedFile(pf); err != nil {
		t.Fatalf("UpsertProcessedFile: %v", err)
	}
	if err := s.CommitBatch(); err != nil {
		t.Fatalf("CommitBatch: %v", err)
	}

	n, err := s.MeasurementCount(1)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("measurement count = %d, want 3", n)
	}

	got, ok, err := s.ProcessedFile("/data/session_1.csv")
	if err != nil || !ok {
		t.Fatalf("ProcessedFile: ok=%v err=%v", ok, err)
	}
	if got.RowsProcessed != 3 || got.LastModified != 200 {
		t.Errorf("marker = %+v, want rows=3 mod=200", got)
	}
}

func TestBatchRollbackDiscardsEverything(t *testing.T) {
	s := newTestStore(t)

	if err := s.BeginBatch(); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertMeasurement(model.MeasurementRecord{SessionID: 1, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertProcessedFile(model.ProcessedFile{Path: "x.csv", RowsProcessed: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.RollbackBatch(); err != nil {
		t.Fatalf("RollbackBatch: %v", err)
	}

	n, err := s.MeasurementCount(0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("measurement count after rollback = %d, want 0", n)
	}
	if _, ok, _ := s.ProcessedFile("x.csv"); ok {
		t.Error("progress marker survived rollback")
	}
}

func TestBatchStateErrors(t *testing.T) {
	s := newTestStore(t)

	if err := s.InsertMeasurement(model.MeasurementRecord{}); err == nil {
		t.Error("InsertMeasurement outside batch should fail")
	}
	if err := s.CommitBatch(); err == nil {
		t.Error("CommitBatch without batch should fail")
	}
	if err := s.RollbackBatch(); err != nil {
		t.Errorf("RollbackBatch without batch should be a no-op, got %v", err)
	}

	if err := s.BeginBatch(); err != nil {
		t.Fatal(err)
	}
	if err := s.BeginBatch(); err == nil {
		t.Error("nested BeginBatch should fail")
	}
	if err := s.RollbackBatch(); err != nil {
		t.Fatal(err)
	}
}

func TestSessionsListing(t *testing.T) {
	s := newTestStore(t)

	if err := s.InsertParticipants([]model.Participant{{ID: 7, CreatedAt: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertSessions([]model.Session{
		{ID: 1, ParticipantID: 7, StartedAt: 10, DataFile: "a.csv"},
		{ID: 2, ParticipantID: 7, StartedAt: 20, DataFile: "b.csv"},
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.BeginBatch(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if err := s.InsertMeasurement(model.MeasurementRecord{SessionID: 2, Timestamp: float64(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.CommitBatch(); err != nil {
		t.Fatal(err)
	}

	sums, err := s.Sessions()
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("session summaries = %d, want 2", len(sums))
	}
	if sums[0].SessionID != 1 || sums[0].Measurements != 0 {
		t.Errorf("session 1 = %+v, want 0 measurements", sums[0])
	}
	if sums[1].SessionID != 2 || sums[1].Measurements != 4 {
		t.Errorf("session 2 = %+v, want 4 measurements", sums[1])
	}
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backup.db")

	s, err := New(Config{DBPath: path, WAL: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.InsertParticipants([]model.Participant{{ID: 3, CreatedAt: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := New(Config{DBPath: path, WAL: true})
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	ids, err := s2.ParticipantIDs()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ids[3]; !ok {
		t.Error("participant 3 lost across reopen")
	}
}
