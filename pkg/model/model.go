// Package model defines the shared data types exchanged between the link
// monitor, the display buffers, the recorder, and the backup synchronizer.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ADCMax is the highest raw reading the instrument's 10-bit converter emits.
const ADCMax = 1023

// VoltsPerCount converts a raw ADC reading to volts (0-5V range).
const VoltsPerCount = 5.0 / 1023.0

// Sample is one decoded two-channel reading. Immutable after creation.
type Sample struct {
	// Timestamp is the wall-clock time at the moment of decode, in seconds
	// since the Unix epoch.
	Timestamp float64

	// Elapsed is the accumulated stream time in seconds since connect,
	// excluding implausible clock deltas.
	Elapsed float64

	// Vertical and Horizontal are the channel voltages in volts.
	Vertical   float64
	Horizontal float64
}

// VoltageFromRaw converts a raw ADC count to volts.
func VoltageFromRaw(raw int) float64 {
	return float64(raw) * VoltsPerCount
}

// LinkState is the connection state owned by the link monitor.
type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkConnected
	LinkDataFlowing
	LinkStale
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkDataFlowing:
		return "data-flowing"
	case LinkStale:
		return "stale"
	}
	return fmt.Sprintf("LinkState(%d)", int(s))
}

// ConnectionStatus is emitted by the link monitor on every state change.
type ConnectionStatus struct {
	Connected bool
	State     LinkState
	Reason    string
}

// PortDescriptor describes one available serial port.
type PortDescriptor struct {
	Name        string
	Description string
}

// RecorderStatus is a one-way notification from the recorder.
type RecorderStatus struct {
	OK      bool
	Message string
}

// BackupStatus is a one-way notification from the backup synchronizer.
type BackupStatus struct {
	OK      bool
	Message string
}

// Participant is one row of the append-only participant ledger.
type Participant struct {
	ID        int
	CreatedAt float64
}

// Session is one row of the append-only session ledger.
type Session struct {
	ID            int
	ParticipantID int
	StartedAt     float64
	DataFile      string
}

// MeasurementRecord is one data row of a session record file.
type MeasurementRecord struct {
	SessionID  int
	Timestamp  float64
	Elapsed    float64
	Vertical   float64
	Horizontal float64
}

// ProcessedFile tracks how far the synchronizer has consumed a record file.
type ProcessedFile struct {
	Path          string
	LastModified  float64
	LastProcessed float64
	RowsProcessed int64
}

// SessionFileName builds the deterministic record file name for a session.
func SessionFileName(sessionID, participantID int, createdAt time.Time) string {
	return fmt.Sprintf("session_%d_participant_%d_%s.csv",
		sessionID, participantID, createdAt.Format("20060102_150405"))
}

// SessionIDFromFileName extracts the session id embedded in a record file
// name. Returns an error if the name does not follow the session file format.
func SessionIDFromFileName(name string) (int, error) {
	parts := strings.Split(name, "_")
	if len(parts) < 2 || parts[0] != "session" {
		return 0, fmt.Errorf("not a session file name: %s", name)
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bad session id in file name: %s", name)
	}
	return id, nil
}
