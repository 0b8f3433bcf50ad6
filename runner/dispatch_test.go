package runner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	"github.com/batonhq/baton/execution"
	"github.com/batonhq/baton/service"
)

type fakeCreator struct {
	requests []service.CreateRequest
	nextErr  error
}

func (f *fakeCreator) Create(_ context.Context, req service.CreateRequest) (execution.Record, error) {
	f.requests = append(f.requests, req)
	if f.nextErr != nil {
		return execution.Record{}, f.nextErr
	}
	return execution.Record{
		Spec:   execution.Spec{ID: "exec-1", Domain: req.Domain, CallbackToken: req.CallbackToken, Payload: req.Payload},
		Status: execution.Status{Phase: execution.PhasePending},
	}, nil
}

func newTestDispatcher(t *testing.T, creator Creator) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(DispatcherOptions{Creator: creator, Domain: "agent-execution"})
	require.NoError(t, err)
	return d
}

func TestNewDispatcherRequiresCreatorAndDomain(t *testing.T) {
	_, err := NewDispatcher(DispatcherOptions{Domain: "d"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creator is required")

	_, err = NewDispatcher(DispatcherOptions{Creator: &fakeCreator{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "domain is required")
}

func TestDispatchStampsTaskTokenOntoExecution(t *testing.T) {
	creator := &fakeCreator{}
	d := newTestDispatcher(t, creator)

	id, err := d.dispatch(context.Background(), execution.Token("task-token-xyz"), DispatchRequest{
		Payload: json.RawMessage(`{"x":1}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "exec-1", id)

	require.Len(t, creator.requests, 1)
	req := creator.requests[0]
	assert.Equal(t, "agent-execution", req.Domain)
	assert.Equal(t, execution.Token("task-token-xyz"), req.CallbackToken)
	assert.JSONEq(t, `{"x":1}`, string(req.Payload))
}

func TestDispatchParksAwaitingCompletion(t *testing.T) {
	creator := &fakeCreator{}
	d := newTestDispatcher(t, creator)

	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivityWithOptions(d.Dispatch, activity.RegisterOptions{Name: DispatchActivityName})

	// The activity must not produce a result: it parks on its own task token
	// and is resumed later through CompleteActivity.
	_, err := env.ExecuteActivity(DispatchActivityName, DispatchRequest{Payload: json.RawMessage(`{"x":1}`)})
	require.ErrorIs(t, err, activity.ErrResultPending)

	require.Len(t, creator.requests, 1)
	assert.Equal(t, "agent-execution", creator.requests[0].Domain)
	assert.False(t, creator.requests[0].CallbackToken.IsZero(),
		"the environment's task token must be stamped on the execution")
}

func TestDispatchDomainOverride(t *testing.T) {
	creator := &fakeCreator{}
	d := newTestDispatcher(t, creator)

	_, err := d.dispatch(context.Background(), execution.Token("tok"), DispatchRequest{Domain: "other"})
	require.NoError(t, err)
	require.Len(t, creator.requests, 1)
	assert.Equal(t, "other", creator.requests[0].Domain)
}

func TestDispatchRejectsMissingToken(t *testing.T) {
	creator := &fakeCreator{}
	d := newTestDispatcher(t, creator)

	_, err := d.dispatch(context.Background(), nil, DispatchRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no task token")
	assert.Empty(t, creator.requests)
}

func TestDispatchPropagatesCreateFailure(t *testing.T) {
	creator := &fakeCreator{nextErr: errors.New("store unavailable")}
	d := newTestDispatcher(t, creator)

	_, err := d.dispatch(context.Background(), execution.Token("tok"), DispatchRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create downstream execution")
}
