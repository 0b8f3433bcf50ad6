// Package claimcheck keeps oversized payloads out of workflow histories and
// execution records. Payloads above a size threshold are written to external
// storage and replaced inline by a small JSON reference; readers resolve the
// reference back transparently. Payloads at or under the threshold pass
// through untouched.
package claimcheck

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/batonhq/baton/telemetry"
)

// refMarker is the JSON field identifying a claim check reference. The $
// prefix keeps it out of the namespace of ordinary payload fields.
const refMarker = "$claimCheck"

// DefaultThreshold is the offload threshold used when none is configured.
// Chosen well under common gRPC and workflow-history payload limits.
const DefaultThreshold = 512 * 1024

// Store persists offloaded payloads. The Manager treats it as opaque
// storage: keys are issued by the store and carried inside references.
type Store interface {
	// Put stores data and returns the key under which it can be retrieved.
	Put(ctx context.Context, data []byte) (string, error)

	// Get returns the data stored under key, or an error if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the data stored under key. Deleting an absent key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// Health reports whether the backend is reachable.
	Health(ctx context.Context) error

	// ListKeys returns all stored keys, for retention sweeps.
	ListKeys(ctx context.Context) ([]string, error)
}

// Ref is the inline stand-in for an offloaded payload.
type Ref struct {
	// Key locates the payload in the store.
	Key string `json:"$claimCheck"`

	// Size is the byte length of the offloaded payload, for observability.
	Size int `json:"size,omitempty"`
}

// Manager applies the offload threshold and resolves references.
type Manager struct {
	store     Store
	threshold int
	logger    telemetry.Logger
	metrics   telemetry.Metrics
}

// ManagerOptions configures a Manager. Store is required.
type ManagerOptions struct {
	Store Store

	// Threshold is the payload size in bytes above which payloads are
	// offloaded. Zero uses DefaultThreshold.
	Threshold int

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

// NewManager constructs a Manager.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("baton claimcheck: store is required")
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	return &Manager{
		store:     opts.Store,
		threshold: opts.Threshold,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}, nil
}

// IsRef reports whether payload is a claim check reference.
func IsRef(payload []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil {
		return false
	}
	_, ok := probe[refMarker]
	return ok
}

// MaybeOffload returns payload unchanged when it is at or under the
// threshold, otherwise stores it and returns a reference.
func (m *Manager) MaybeOffload(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	if len(payload) <= m.threshold {
		return payload, nil
	}
	key, err := m.store.Put(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("baton claimcheck: offload payload: %w", err)
	}
	ref, err := json.Marshal(Ref{Key: key, Size: len(payload)})
	if err != nil {
		return nil, fmt.Errorf("baton claimcheck: encode reference: %w", err)
	}
	m.logger.Info(ctx, "payload offloaded",
		"key", key, "size", len(payload), "threshold", m.threshold)
	m.metrics.IncCounter("baton.claimcheck.offloaded", 1)
	return ref, nil
}

// MaybeResolve returns payload unchanged when it is not a reference,
// otherwise fetches and returns the offloaded payload.
func (m *Manager) MaybeResolve(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	if !IsRef(payload) {
		return payload, nil
	}
	var ref Ref
	if err := json.Unmarshal(payload, &ref); err != nil {
		return nil, fmt.Errorf("baton claimcheck: decode reference: %w", err)
	}
	data, err := m.store.Get(ctx, ref.Key)
	if err != nil {
		return nil, fmt.Errorf("baton claimcheck: resolve payload %s: %w", ref.Key, err)
	}
	m.metrics.IncCounter("baton.claimcheck.resolved", 1)
	return data, nil
}

// Release deletes the payload behind a reference. Passing a non-reference
// payload is a no-op.
func (m *Manager) Release(ctx context.Context, payload json.RawMessage) error {
	if !IsRef(payload) {
		return nil
	}
	var ref Ref
	if err := json.Unmarshal(payload, &ref); err != nil {
		return fmt.Errorf("baton claimcheck: decode reference: %w", err)
	}
	if err := m.store.Delete(ctx, ref.Key); err != nil {
		return fmt.Errorf("baton claimcheck: release payload %s: %w", ref.Key, err)
	}
	return nil
}
