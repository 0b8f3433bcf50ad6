// Package mongo provides the durable MongoDB-backed implementation of
// execution.Store. It delegates persistence to a narrow client interface so
// the store logic stays testable without a live database.
package mongo

import (
	"context"
	"errors"

	clientsmongo "github.com/batonhq/baton/execution/mongo/clients/mongo"

	"github.com/batonhq/baton/execution"
)

// Store implements execution.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Create persists a new record. Fails closed: if Mongo is unreachable the
// caller receives the error and no execution is started.
func (s *Store) Create(ctx context.Context, spec execution.Spec, status execution.Status) (string, error) {
	if err := s.client.Insert(ctx, execution.Record{Spec: spec, Status: status}); err != nil {
		return "", err
	}
	return spec.ID, nil
}

// Get retrieves the record for id.
func (s *Store) Get(ctx context.Context, id string) (execution.Record, error) {
	return s.client.FindByID(ctx, id)
}

// UpdateStatus replaces the record's status with monotonic-phase enforcement.
func (s *Store) UpdateStatus(ctx context.Context, id string, status execution.Status) error {
	return s.client.UpdateStatus(ctx, id, status)
}

// List returns all records ordered by creation time.
func (s *Store) List(ctx context.Context) ([]execution.Record, error) {
	return s.client.List(ctx)
}
