// Package runner contains the caller-side half of the completion handshake:
// an activity that hands work to Baton, parks itself on its own task token,
// and resumes with the downstream result when the orchestrator completes it.
//
// The dispatch activity registers on the CALLING pool's queue, not on either
// Baton queue. While parked it holds no worker slot and no goroutine; the
// token is the only live link between the two systems.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/batonhq/baton/execution"
	"github.com/batonhq/baton/service"
	"github.com/batonhq/baton/telemetry"
)

// DispatchActivityName is the conventional registration name for the
// dispatch activity in calling pools.
const DispatchActivityName = "baton.caller.dispatch"

// DefaultStartToClose is the recommended start-to-close timeout for the
// dispatch activity. It is the sole time bound on a parked caller: if no
// completion arrives before it expires, the substrate settles the caller
// with a timeout error and any late completion is a no-op.
const DefaultStartToClose = 4 * time.Hour

// Creator accepts new executions. *service.Service satisfies it in-process;
// remote callers implement it over their transport of choice.
type Creator interface {
	Create(ctx context.Context, req service.CreateRequest) (execution.Record, error)
}

// DispatchRequest is the input to the dispatch activity.
type DispatchRequest struct {
	// Domain overrides the dispatcher's default domain when set.
	Domain string `json:"domain,omitempty"`

	// Payload is the work request forwarded to the downstream execution.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Dispatcher implements the dispatch activity.
type Dispatcher struct {
	creator Creator
	domain  string
	logger  telemetry.Logger
	metrics telemetry.Metrics
}

// DispatcherOptions configures a Dispatcher. Creator and Domain are required.
type DispatcherOptions struct {
	Creator Creator

	// Domain is the default execution domain for dispatched work.
	Domain string

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Creator == nil {
		return nil, fmt.Errorf("baton runner: creator is required")
	}
	if opts.Domain == "" {
		return nil, fmt.Errorf("baton runner: default domain is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	return &Dispatcher{
		creator: opts.Creator,
		domain:  opts.Domain,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}, nil
}

// Dispatch creates a downstream execution carrying this activity's own task
// token as the callback token, then parks by returning ErrResultPending. The
// activity resumes, with the execution's result or failure, when the
// orchestrator redeems the token. The declared result type is the raw result
// payload delivered at completion time.
func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) (json.RawMessage, error) {
	token := execution.Token(activity.GetInfo(ctx).TaskToken)
	if _, err := d.dispatch(ctx, token, req); err != nil {
		return nil, err
	}
	return nil, activity.ErrResultPending
}

// dispatch performs the create. Split from Dispatch so the handshake wiring
// is testable without an activity context.
func (d *Dispatcher) dispatch(ctx context.Context, token execution.Token, req DispatchRequest) (string, error) {
	if token.IsZero() {
		return "", fmt.Errorf("baton runner: no task token in activity context")
	}
	domain := req.Domain
	if domain == "" {
		domain = d.domain
	}

	rec, err := d.creator.Create(ctx, service.CreateRequest{
		Domain:        domain,
		Payload:       req.Payload,
		CallbackToken: token,
	})
	if err != nil {
		d.metrics.IncCounter("baton.dispatch.failed", 1, "domain", domain)
		return "", fmt.Errorf("baton runner: create downstream execution: %w", err)
	}

	d.logger.Info(ctx, "execution dispatched, parking on task token",
		"execution_id", rec.Spec.ID,
		"domain", domain,
		"token_preview", token.Preview())
	d.metrics.IncCounter("baton.dispatch.parked", 1, "domain", domain)
	return rec.Spec.ID, nil
}
