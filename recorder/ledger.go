package recorder

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/voltscope/voltscope/pkg/model"
)

// Ledger file names inside the data directory.
const (
	ParticipantsFile = "participants.csv"
	SessionsFile     = "sessions.csv"
)

var (
	participantsHeader = []string{"participant_id", "created_at"}
	sessionsHeader     = []string{"session_id", "participant_id", "started_at", "data_file"}
)

// initLedgers creates the participant and session ledgers with their
// headers if they do not exist yet.
func initLedgers(dir string) error {
	if err := initLedger(filepath.Join(dir, ParticipantsFile), participantsHeader); err != nil {
		return err
	}
	return initLedger(filepath.Join(dir, SessionsFile), sessionsHeader)
}

func initLedger(path string, header []string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("create ledger %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write ledger header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush ledger header: %w", err)
	}
	return f.Sync()
}

// participantRegistered reports whether the id is present in the ledger.
func participantRegistered(dir string, id int) (bool, error) {
	rows, err := readLedger(filepath.Join(dir, ParticipantsFile))
	if err != nil {
		return false, err
	}
	want := strconv.Itoa(id)
	for _, row := range rows {
		if len(row) > 0 && row[0] == want {
			return true, nil
		}
	}
	return false, nil
}

// appendParticipant appends one row to the participant ledger.
func appendParticipant(dir string, p model.Participant) error {
	return appendLedger(filepath.Join(dir, ParticipantsFile), []string{
		strconv.Itoa(p.ID),
		formatFloat(p.CreatedAt),
	})
}

// appendSession appends one row to the session ledger.
func appendSession(dir string, s model.Session) error {
	return appendLedger(filepath.Join(dir, SessionsFile), []string{
		strconv.Itoa(s.ID),
		strconv.Itoa(s.ParticipantID),
		formatFloat(s.StartedAt),
		s.DataFile,
	})
}

// nextSessionID scans the session ledger for the highest id and returns
// max+1. An absent or unreadable ledger yields 1.
func nextSessionID(dir string) int {
	rows, err := readLedger(filepath.Join(dir, SessionsFile))
	if err != nil {
		return 1
	}
	maxID := 0
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		if id, err := strconv.Atoi(row[0]); err == nil && id > maxID {
			maxID = id
		}
	}
	return maxID + 1
}

// readLedger returns the data rows of a ledger, header excluded.
func readLedger(path string) ([][]string, error) {
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

func appendLedger(path string, row []string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open ledger %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		return fmt.Errorf("append ledger row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush ledger row: %w", err)
	}
	return f.Sync()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
