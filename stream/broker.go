// Package stream fans execution status transitions out to live subscribers
// over Pulse streams. The execution store remains the source of truth;
// streams exist so callers can watch an execution settle without polling.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/batonhq/baton/execution"
	"github.com/batonhq/baton/stream/clients/pulse"
	"github.com/batonhq/baton/telemetry"
)

// EventStatus is the event name used for status transitions.
const EventStatus = "baton.status"

// streamPrefix namespaces per-execution streams in Redis.
const streamPrefix = "baton.execution."

// StatusEvent is the wire form of one status transition.
type StatusEvent struct {
	ExecutionID string           `json:"execution_id"`
	Status      execution.Status `json:"status"`
	EmittedAt   time.Time        `json:"emitted_at"`
}

// Broker publishes and subscribes to per-execution status streams.
type Broker struct {
	client  pulse.Client
	logger  telemetry.Logger
	metrics telemetry.Metrics
}

// BrokerOptions configures a Broker. Client is required.
type BrokerOptions struct {
	Client  pulse.Client
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

// NewBroker constructs a Broker.
func NewBroker(opts BrokerOptions) (*Broker, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("baton stream: pulse client is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	return &Broker{client: opts.Client, logger: opts.Logger, metrics: opts.Metrics}, nil
}

// StreamName returns the Pulse stream name for an execution.
func StreamName(executionID string) string {
	return streamPrefix + executionID
}

// PublishStatus emits a status transition on the execution's stream.
// Satisfies the orchestration publisher seam.
func (b *Broker) PublishStatus(ctx context.Context, executionID string, status execution.Status) error {
	if executionID == "" {
		return fmt.Errorf("baton stream: execution ID is required")
	}
	payload, err := json.Marshal(StatusEvent{
		ExecutionID: executionID,
		Status:      status,
		EmittedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("baton stream: encode status event: %w", err)
	}
	s, err := b.client.Stream(StreamName(executionID))
	if err != nil {
		return fmt.Errorf("baton stream: open stream for %s: %w", executionID, err)
	}
	if _, err := s.Add(ctx, EventStatus, payload); err != nil {
		return fmt.Errorf("baton stream: publish status for %s: %w", executionID, err)
	}
	b.metrics.IncCounter("baton.stream.published", 1, "phase", string(status.Phase))
	return nil
}

// Subscribe returns a channel of status events for one execution. The channel
// closes when ctx is canceled. Events that fail to decode are acked and
// dropped with a log line so one bad entry cannot wedge the subscription.
func (b *Broker) Subscribe(ctx context.Context, executionID, consumer string) (<-chan StatusEvent, error) {
	if executionID == "" {
		return nil, fmt.Errorf("baton stream: execution ID is required")
	}
	if consumer == "" {
		return nil, fmt.Errorf("baton stream: consumer name is required")
	}
	s, err := b.client.Stream(StreamName(executionID))
	if err != nil {
		return nil, fmt.Errorf("baton stream: open stream for %s: %w", executionID, err)
	}
	sink, err := s.NewSink(ctx, consumer)
	if err != nil {
		return nil, fmt.Errorf("baton stream: create sink for %s: %w", executionID, err)
	}

	out := make(chan StatusEvent)
	go func() {
		defer close(out)
		defer func() {
			if err := sink.Close(context.WithoutCancel(ctx)); err != nil {
				b.logger.Warn(ctx, "closing status sink", "execution_id", executionID, "err", err)
			}
		}()
		events := sink.Subscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				var status StatusEvent
				if err := json.Unmarshal(ev.Payload, &status); err != nil {
					b.logger.Warn(ctx, "dropping undecodable status event",
						"execution_id", executionID, "err", err)
					_ = sink.Ack(ctx, ev)
					continue
				}
				select {
				case out <- status:
					_ = sink.Ack(ctx, ev)
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Destroy removes an execution's stream. Called by retention sweeps once a
// terminal status has been observed by all consumers.
func (b *Broker) Destroy(ctx context.Context, executionID string) error {
	s, err := b.client.Stream(StreamName(executionID))
	if err != nil {
		return fmt.Errorf("baton stream: open stream for %s: %w", executionID, err)
	}
	return s.Destroy(ctx)
}

// NoopPublisher discards status transitions. Used when no Redis is
// configured.
type NoopPublisher struct{}

// PublishStatus discards the event.
func (NoopPublisher) PublishStatus(context.Context, string, execution.Status) error {
	return nil
}
