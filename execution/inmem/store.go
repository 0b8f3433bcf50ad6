// Package inmem provides an in-memory implementation of execution.Store for
// testing and local development. Records live in a map keyed by execution ID
// with no persistence across process restarts. Production deployments should
// use a durable backend such as execution/mongo.
package inmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/batonhq/baton/execution"
)

// Store implements execution.Store in memory. All operations are thread-safe
// via sync.RWMutex; records are defensively copied on read and write so
// callers cannot mutate stored state.
type Store struct {
	mu      sync.RWMutex
	records map[string]execution.Record
}

// New constructs an empty Store, immediately ready for use.
func New() *Store {
	return &Store{records: make(map[string]execution.Record)}
}

// Create persists a new record. The spec ID must be set by the caller.
func (s *Store) Create(_ context.Context, spec execution.Spec, status execution.Status) (string, error) {
	if spec.ID == "" {
		return "", errors.New("spec id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[spec.ID]; ok {
		return "", execution.ErrAlreadyExists
	}
	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = time.Now()
	}
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now()
	}
	s.records[spec.ID] = execution.Record{Spec: cloneSpec(spec), Status: cloneStatus(status)}
	return spec.ID, nil
}

// Get returns a copy of the record for id, or execution.ErrNotFound.
func (s *Store) Get(_ context.Context, id string) (execution.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return execution.Record{}, execution.ErrNotFound
	}
	rec.Spec = cloneSpec(rec.Spec)
	rec.Status = cloneStatus(rec.Status)
	return rec, nil
}

// UpdateStatus replaces the record's status, enforcing monotonic phases.
// Replaying an identical terminal status is a no-op; any other write against
// a terminal record returns execution.ErrPhaseRegression.
func (s *Store) UpdateStatus(_ context.Context, id string, status execution.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return execution.ErrNotFound
	}
	if rec.Status.Phase.Terminal() {
		if rec.Status.Equal(status) {
			return nil
		}
		return execution.ErrPhaseRegression
	}
	if !rec.Status.Phase.CanTransition(status.Phase) {
		return execution.ErrPhaseRegression
	}
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now()
	}
	rec.Status = cloneStatus(status)
	s.records[id] = rec
	return nil
}

// List returns copies of all records in unspecified order.
func (s *Store) List(_ context.Context) ([]execution.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]execution.Record, 0, len(s.records))
	for _, rec := range s.records {
		rec.Spec = cloneSpec(rec.Spec)
		rec.Status = cloneStatus(rec.Status)
		out = append(out, rec)
	}
	return out, nil
}

// Reset clears all stored records. Useful for test isolation; not part of the
// execution.Store interface.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]execution.Record)
}

func cloneSpec(spec execution.Spec) execution.Spec {
	spec.CallbackToken = append(execution.Token(nil), spec.CallbackToken...)
	spec.Payload = append([]byte(nil), spec.Payload...)
	if spec.Metadata != nil {
		md := make(map[string]string, len(spec.Metadata))
		for k, v := range spec.Metadata {
			md[k] = v
		}
		spec.Metadata = md
	}
	return spec
}

func cloneStatus(status execution.Status) execution.Status {
	status.Result = append([]byte(nil), status.Result...)
	return status
}
