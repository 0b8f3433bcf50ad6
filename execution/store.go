package execution

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates that no execution record exists for the given ID.
	ErrNotFound = errors.New("execution not found")

	// ErrPhaseRegression indicates a status update that would move a record
	// backwards in the phase ordering, or overwrite a terminal status with a
	// different one. First terminal status wins.
	ErrPhaseRegression = errors.New("execution phase transition not allowed")

	// ErrAlreadyExists indicates a Create with an ID that is already taken.
	ErrAlreadyExists = errors.New("execution already exists")
)

// Store persists execution records. Implementations must support concurrent
// UpdateStatus calls for different records without cross-record locking and
// must serialize concurrent updates to the same record.
//
// UpdateStatus is safe under at-least-once delivery: replaying a terminal
// status with the exact same observed state is a no-op, while any other write
// against a terminal record fails with ErrPhaseRegression.
//
// Create must fail closed when the backend is unavailable; an execution
// without a durable record would make its callback token unrecoverable.
type Store interface {
	// Create persists a new record for spec with the given initial status and
	// returns the execution ID. Fails with ErrAlreadyExists on ID collision.
	Create(ctx context.Context, spec Spec, status Status) (string, error)

	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)

	// UpdateStatus replaces the status of the record identified by id,
	// enforcing monotonic phase transitions.
	UpdateStatus(ctx context.Context, id string, status Status) error

	// List returns all records. Retention is indefinite; the core defines no
	// deletion.
	List(ctx context.Context) ([]Record, error)
}
