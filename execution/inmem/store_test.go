package inmem

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batonhq/baton/execution"
)

func seed(t *testing.T, s *Store, id string) {
	t.Helper()
	_, err := s.Create(context.Background(),
		execution.Spec{ID: id, Domain: "test", CreatedAt: time.Now()},
		execution.Status{Phase: execution.PhasePending, UpdatedAt: time.Now()})
	require.NoError(t, err)
}

func TestCreateAndGet(t *testing.T) {
	s := New()
	spec := execution.Spec{
		ID:            "exec-1",
		Domain:        "agent-execution",
		CallbackToken: execution.Token("tok-1"),
		Payload:       json.RawMessage(`{"x":1}`),
		CreatedAt:     time.Now(),
	}
	id, err := s.Create(context.Background(), spec, execution.Status{Phase: execution.PhasePending})
	require.NoError(t, err)
	assert.Equal(t, "exec-1", id)

	rec, err := s.Get(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, execution.Token("tok-1"), rec.Spec.CallbackToken)
	assert.Equal(t, execution.PhasePending, rec.Status.Phase)
	assert.False(t, rec.Status.UpdatedAt.IsZero())
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	s := New()
	seed(t, s, "exec-1")
	_, err := s.Create(context.Background(),
		execution.Spec{ID: "exec-1"}, execution.Status{Phase: execution.PhasePending})
	assert.ErrorIs(t, err, execution.ErrAlreadyExists)
}

func TestGetMissing(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, execution.ErrNotFound)
}

func TestUpdateStatusLifecycle(t *testing.T) {
	s := New()
	seed(t, s, "exec-1")
	ctx := context.Background()

	require.NoError(t, s.UpdateStatus(ctx, "exec-1", execution.Status{Phase: execution.PhaseRunning}))

	terminal := execution.Status{Phase: execution.PhaseSucceeded, Result: json.RawMessage(`{"ok":true}`)}
	require.NoError(t, s.UpdateStatus(ctx, "exec-1", terminal))

	rec, err := s.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, execution.PhaseSucceeded, rec.Status.Phase)
	assert.JSONEq(t, `{"ok":true}`, string(rec.Status.Result))
}

func TestUpdateStatusRejectsRegression(t *testing.T) {
	s := New()
	seed(t, s, "exec-1")
	ctx := context.Background()

	require.NoError(t, s.UpdateStatus(ctx, "exec-1", execution.Status{Phase: execution.PhaseRunning}))
	err := s.UpdateStatus(ctx, "exec-1", execution.Status{Phase: execution.PhasePending})
	assert.ErrorIs(t, err, execution.ErrPhaseRegression)
}

func TestUpdateStatusTerminalIsFinal(t *testing.T) {
	s := New()
	seed(t, s, "exec-1")
	ctx := context.Background()

	failed := execution.Status{Phase: execution.PhaseFailed, Error: "agent crashed"}
	require.NoError(t, s.UpdateStatus(ctx, "exec-1", failed))

	// Exact replay of the terminal write is a no-op.
	require.NoError(t, s.UpdateStatus(ctx, "exec-1", failed))

	// First terminal status wins: a different terminal write is rejected.
	err := s.UpdateStatus(ctx, "exec-1", execution.Status{Phase: execution.PhaseSucceeded, Result: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, execution.ErrPhaseRegression)

	rec, err := s.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, execution.PhaseFailed, rec.Status.Phase)
	assert.Equal(t, "agent crashed", rec.Status.Error)
}

func TestUpdateStatusMissing(t *testing.T) {
	s := New()
	err := s.UpdateStatus(context.Background(), "missing", execution.Status{Phase: execution.PhaseRunning})
	assert.ErrorIs(t, err, execution.ErrNotFound)
}

func TestListAndReset(t *testing.T) {
	s := New()
	seed(t, s, "exec-1")
	seed(t, s, "exec-2")

	records, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)

	s.Reset()
	records, err = s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

// Mutating a returned record must not affect stored state.
func TestDefensiveCopies(t *testing.T) {
	s := New()
	spec := execution.Spec{
		ID:            "exec-1",
		CallbackToken: execution.Token("tok-1"),
		Payload:       json.RawMessage(`{"x":1}`),
	}
	_, err := s.Create(context.Background(), spec, execution.Status{Phase: execution.PhasePending})
	require.NoError(t, err)

	rec, err := s.Get(context.Background(), "exec-1")
	require.NoError(t, err)
	rec.Spec.CallbackToken[0] = 'X'
	rec.Spec.Payload[0] = 'X'

	fresh, err := s.Get(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, execution.Token("tok-1"), fresh.Spec.CallbackToken)
	assert.JSONEq(t, `{"x":1}`, string(fresh.Spec.Payload))
}
