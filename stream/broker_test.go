package stream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/batonhq/baton/execution"
	"github.com/batonhq/baton/stream/clients/pulse"
)

type addedEvent struct {
	stream  string
	event   string
	payload []byte
}

type fakeStream struct {
	name   string
	client *fakeClient
}

func (s *fakeStream) Add(_ context.Context, event string, payload []byte) (string, error) {
	if s.client.addErr != nil {
		return "", s.client.addErr
	}
	s.client.added = append(s.client.added, addedEvent{stream: s.name, event: event, payload: payload})
	return "1-0", nil
}

func (s *fakeStream) NewSink(context.Context, string, ...streamopts.Sink) (pulse.Sink, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeStream) Destroy(context.Context) error {
	s.client.destroyed = append(s.client.destroyed, s.name)
	return nil
}

type fakeClient struct {
	added     []addedEvent
	destroyed []string
	addErr    error
}

func (c *fakeClient) Stream(name string, _ ...streamopts.Stream) (pulse.Stream, error) {
	return &fakeStream{name: name, client: c}, nil
}

func TestPublishStatus(t *testing.T) {
	client := &fakeClient{}
	broker, err := NewBroker(BrokerOptions{Client: client})
	require.NoError(t, err)

	status := execution.Status{
		Phase:     execution.PhaseSucceeded,
		Result:    json.RawMessage(`{"x":1}`),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, broker.PublishStatus(context.Background(), "exec-1", status))

	require.Len(t, client.added, 1)
	assert.Equal(t, "baton.execution.exec-1", client.added[0].stream)
	assert.Equal(t, EventStatus, client.added[0].event)

	var ev StatusEvent
	require.NoError(t, json.Unmarshal(client.added[0].payload, &ev))
	assert.Equal(t, "exec-1", ev.ExecutionID)
	assert.Equal(t, execution.PhaseSucceeded, ev.Status.Phase)
	assert.JSONEq(t, `{"x":1}`, string(ev.Status.Result))
}

func TestPublishStatusRequiresExecutionID(t *testing.T) {
	broker, err := NewBroker(BrokerOptions{Client: &fakeClient{}})
	require.NoError(t, err)

	err = broker.PublishStatus(context.Background(), "", execution.Status{Phase: execution.PhaseRunning})
	require.Error(t, err)
}

func TestPublishStatusPropagatesAddFailure(t *testing.T) {
	client := &fakeClient{addErr: errors.New("redis down")}
	broker, err := NewBroker(BrokerOptions{Client: client})
	require.NoError(t, err)

	err = broker.PublishStatus(context.Background(), "exec-1", execution.Status{Phase: execution.PhaseRunning})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish status")
}

func TestDestroy(t *testing.T) {
	client := &fakeClient{}
	broker, err := NewBroker(BrokerOptions{Client: client})
	require.NoError(t, err)

	require.NoError(t, broker.Destroy(context.Background(), "exec-1"))
	assert.Equal(t, []string{"baton.execution.exec-1"}, client.destroyed)
}
