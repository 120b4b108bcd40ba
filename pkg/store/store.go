// Package store defines the consolidated-store interface and its SQLite
// implementation.
package store

import (
	"github.com/voltscope/voltscope/pkg/model"
)

// SchemaVersion is incremented when schema changes require rebuilding the
// consolidated store.
const SchemaVersion = 1

// Store is the interface the backup synchronizer writes through.
type Store interface {
	Close() error

	// Ledger diffs: existing primary keys and insert-only upserts.
	ParticipantIDs() (map[int]struct{}, error)
	SessionIDs() (map[int]struct{}, error)
	InsertParticipants(ps []model.Participant) error
	InsertSessions(ss []model.Session) error

	// Progress marker for incremental measurement ingestion.
	ProcessedFile(path string) (model.ProcessedFile, bool, error)

	Writer
}

// Writer defines the batch write side used by the synchronization pass.
// A measurement insert and its progress-marker update share one batch so
// they commit or roll back together.
type Writer interface {
	// BeginBatch starts a batch write transaction.
	BeginBatch() error

	// CommitBatch commits the current batch.
	CommitBatch() error

	// RollbackBatch rolls back the current batch.
	RollbackBatch() error

	// InsertMeasurement inserts one measurement row.
	InsertMeasurement(rec model.MeasurementRecord) error

	// UpsertProcessedFile records synchronization progress for a file.
	UpsertProcessedFile(pf model.ProcessedFile) error
}
