package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voltscope/voltscope/pkg/model"
	"github.com/voltscope/voltscope/pkg/store/sqlite"
	"github.com/voltscope/voltscope/recorder"
)

func newTestSync(t *testing.T, dir string) (*Synchronizer, *sqlite.SQLiteStore) {
	t.Helper()
	st, err := sqlite.New(sqlite.Config{DBPath: filepath.Join(t.TempDir(), "backup.db"), WAL: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	s, err := NewSynchronizer(Config{DataDir: dir, Store: st})
	if err != nil {
		t.Fatalf("NewSynchronizer: %v", err)
	}
	return s, st
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// bumpMtime pushes a file's modification time strictly forward so a change
// is visible regardless of timestamp granularity.
func bumpMtime(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	next := info.ModTime().Add(2 * time.Second)
	if err := os.Chtimes(path, next, next); err != nil {
		t.Fatal(err)
	}
}

func seedDataDir(t *testing.T, dir string) string {
	t.Helper()
	writeFile(t, filepath.Join(dir, recorder.ParticipantsFile),
		"participant_id,created_at\n7,100.5\n")
	writeFile(t, filepath.Join(dir, recorder.SessionsFile),
		"session_id,participant_id,started_at,data_file\n1,7,101,session_1_participant_7_20260829_120000.csv\n")
	rec := filepath.Join(dir, "session_1_participant_7_20260829_120000.csv")
	writeFile(t, rec,
		"timestamp,elapsed_time,vertical_value,horizontal_value\n101.25,0,1.5,2.5\n101.75,0.5,1.6,2.6\n")
	return rec
}

func TestSyncAllConsolidatesDirectory(t *testing.T) {
	dir := t.TempDir()
	recFile := seedDataDir(t, dir)
	s, st := newTestSync(t, dir)

	if err := s.SyncAll(); err != nil {
		t.Fatalf("SyncAll: %v", err)
	}

	pids, err := st.ParticipantIDs()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := pids[7]; !ok {
		t.Error("participant 7 not consolidated")
	}
	sids, err := st.SessionIDs()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := sids[1]; !ok {
		t.Error("session 1 not consolidated")
	}
	n, err := st.MeasurementCount(1)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("measurements = %d, want 2", n)
	}

	pf, ok, err := st.ProcessedFile(recFile)
	if err != nil || !ok {
		t.Fatalf("ProcessedFile: ok=%v err=%v", ok, err)
	}
	if pf.RowsProcessed != 2 {
		t.Errorf("marker rows = %d, want 2", pf.RowsProcessed)
	}
}

func TestSyncAllIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	seedDataDir(t, dir)
	s, st := newTestSync(t, dir)

	if err := s.SyncAll(); err != nil {
		t.Fatal(err)
	}
	if err := s.SyncAll(); err != nil {
		t.Fatal(err)
	}

	n, err := st.MeasurementCount(0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("measurements after double sync = %d, want 2", n)
	}
}

func TestSyncResumesFromMarker(t *testing.T) {
	dir := t.TempDir()
	recFile := seedDataDir(t, dir)
	s, st := newTestSync(t, dir)

	if err := s.SyncAll(); err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(recFile, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("102.25,1.0,1.7,2.7\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()
	bumpMtime(t, recFile)

	if err := s.SyncAll(); err != nil {
		t.Fatal(err)
	}

	n, err := st.MeasurementCount(1)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("measurements after append = %d, want 3", n)
	}
	pf, _, err := st.ProcessedFile(recFile)
	if err != nil {
		t.Fatal(err)
	}
	if pf.RowsProcessed != 3 {
		t.Errorf("marker rows = %d, want 3", pf.RowsProcessed)
	}
}

func TestUnchangedMtimeSkipsFile(t *testing.T) {
	dir := t.TempDir()
	recFile := seedDataDir(t, dir)
	s, st := newTestSync(t, dir)

	if err := s.SyncAll(); err != nil {
		t.Fatal(err)
	}
	pf, _, err := st.ProcessedFile(recFile)
	if err != nil {
		t.Fatal(err)
	}

	// Append a row but pin the mtime at the recorded value. The file must
	// be treated as unchanged.
	f, err := os.OpenFile(recFile, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("103,1.5,9,9\n")
	f.Close()
	sec := int64(pf.LastModified)
	nsec := int64((pf.LastModified - float64(sec)) * 1e9)
	old := time.Unix(sec, nsec)
	if err := os.Chtimes(recFile, old, old); err != nil {
		t.Fatal(err)
	}

	if err := s.SyncAll(); err != nil {
		t.Fatal(err)
	}
	n, err := st.MeasurementCount(1)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("measurements = %d, want 2 (file skipped)", n)
	}
}

func TestMalformedRowsAreSkipped(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "session_5_participant_1_20260829_120000.csv"),
		"timestamp,elapsed_time,vertical_value,horizontal_value\n"+
			"100,0,1,2\n"+
			"garbage,0,1,2\n"+
			"101,0.5\n"+
			"102,1.0,3,4\n")
	s, st := newTestSync(t, dir)

	if err := s.SyncAll(); err != nil {
		t.Fatal(err)
	}

	n, err := st.MeasurementCount(5)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("measurements = %d, want 2 valid rows", n)
	}

	// All four rows count toward the marker so they are never rescanned.
	pf, ok, err := st.ProcessedFile(filepath.Join(dir, "session_5_participant_1_20260829_120000.csv"))
	if err != nil || !ok {
		t.Fatalf("ProcessedFile: ok=%v err=%v", ok, err)
	}
	if pf.RowsProcessed != 4 {
		t.Errorf("marker rows = %d, want 4", pf.RowsProcessed)
	}
}

func TestBadSessionFileNameIsReportedAndSkipped(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "session_bad_name.csv"),
		"timestamp,elapsed_time,vertical_value,horizontal_value\n100,0,1,2\n")
	s, st := newTestSync(t, dir)

	if err := s.SyncAll(); err != nil {
		t.Fatalf("SyncAll should not fail on a bad file name: %v", err)
	}
	n, err := st.MeasurementCount(0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("measurements = %d, want 0", n)
	}

	gotReport := false
	for {
		select {
		case ev := <-s.Status():
			if !ev.OK {
				gotReport = true
			}
			continue
		default:
		}
		break
	}
	if !gotReport {
		t.Error("bad file name was not reported")
	}
}

func TestSmallBatchesCommitIncrementally(t *testing.T) {
	dir := t.TempDir()
	content := "timestamp,elapsed_time,vertical_value,horizontal_value\n"
	for i := 0; i < 7; i++ {
		content += "100,0,1,2\n"
	}
	writeFile(t, filepath.Join(dir, "session_2_participant_1_20260829_120000.csv"), content)

	st, err := sqlite.New(sqlite.Config{DBPath: filepath.Join(t.TempDir(), "backup.db"), WAL: true})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	s, err := NewSynchronizer(Config{DataDir: dir, Store: st, BatchRows: 3})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SyncAll(); err != nil {
		t.Fatal(err)
	}
	n, err := st.MeasurementCount(2)
	if err != nil {
		t.Fatal(err)
	}
	if n != 7 {
		t.Errorf("measurements = %d, want 7", n)
	}
}

func TestRecorderOutputRoundTrip(t *testing.T) {
	dir := t.TempDir()

	r, err := recorder.New(recorder.Config{DataDir: dir, FlushInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterParticipant(7); err != nil {
		t.Fatal(err)
	}
	if _, err := r.StartSession(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := r.Store(model.Sample{Timestamp: float64(100 + i), Elapsed: float64(i), Vertical: 1, Horizontal: 2}); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.EndSession(); err != nil {
		t.Fatal(err)
	}
	r.Shutdown(2 * time.Second)

	s, st := newTestSync(t, dir)
	if err := s.SyncAll(); err != nil {
		t.Fatal(err)
	}

	sums, err := st.Sessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sums))
	}
	if sums[0].SessionID != 1 || sums[0].ParticipantID != 7 || sums[0].Measurements != 5 {
		t.Errorf("session summary = %+v, want id 1, participant 7, 5 measurements", sums[0])
	}
}
