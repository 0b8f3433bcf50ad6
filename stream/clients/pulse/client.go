// Package pulse narrows goa.design/pulse streaming to the operations the
// status broker needs: publish an event, open a consumer group, tear a
// stream down. The Redis connection is owned by the caller.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

// Client opens Pulse streams by name, creating them on first use.
type Client interface {
	Stream(name string, opts ...streamopts.Stream) (Stream, error)
}

// Stream is one per-execution status stream.
type Stream interface {
	// Add publishes an event, returning the Redis-assigned event ID.
	Add(ctx context.Context, event string, payload []byte) (string, error)
	// NewSink opens a consumer group on the stream.
	NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error)
	// Destroy deletes the stream and all its messages from Redis.
	Destroy(ctx context.Context) error
}

// Sink is a consumer group reading from one stream. *streaming.Sink
// satisfies it.
type Sink interface {
	Subscribe() <-chan *streaming.Event
	Ack(context.Context, *streaming.Event) error
	Close(context.Context) error
}

// Options configures the Pulse client.
type Options struct {
	// Redis backs the Pulse streams. Required.
	Redis *redis.Client

	// StreamMaxLen bounds the number of entries kept per stream. Zero uses
	// Pulse defaults. Status streams are short-lived so a small bound is
	// usually right.
	StreamMaxLen int

	// OperationTimeout bounds individual Add operations. Zero means no
	// timeout.
	OperationTimeout time.Duration
}

type client struct {
	redis   *redis.Client
	maxLen  int
	timeout time.Duration
}

// New constructs a Pulse client backed by the provided Redis connection.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	return &client{
		redis:   opts.Redis,
		maxLen:  opts.StreamMaxLen,
		timeout: opts.OperationTimeout,
	}, nil
}

func (c *client) Stream(name string, opts ...streamopts.Stream) (Stream, error) {
	if name == "" {
		return nil, errors.New("stream name is required")
	}
	var streamOptions []streamopts.Stream
	if c.maxLen > 0 {
		streamOptions = append(streamOptions, streamopts.WithStreamMaxLen(c.maxLen))
	}
	streamOptions = append(streamOptions, opts...)
	str, err := streaming.NewStream(name, c.redis, streamOptions...)
	if err != nil {
		return nil, fmt.Errorf("create pulse stream: %w", err)
	}
	return &streamHandle{stream: str, timeout: c.timeout}, nil
}

type streamHandle struct {
	stream  *streaming.Stream
	timeout time.Duration
}

func (h *streamHandle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if event == "" {
		return "", errors.New("event name is required")
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	id, err := h.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("pulse add: %w", err)
	}
	return id, nil
}

func (h *streamHandle) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error) {
	return h.stream.NewSink(ctx, name, opts...)
}

func (h *streamHandle) Destroy(ctx context.Context) error {
	return h.stream.Destroy(ctx)
}
