// Package activities implements the system activities registered on each
// domain's orchestrator queue. They are the workflow's only effect boundary:
// status writes and upstream token completion both happen here, never inside
// decision code.
package activities

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/temporal"

	"github.com/batonhq/baton/execution"
	"github.com/batonhq/baton/orchestrator"
	"github.com/batonhq/baton/telemetry"
)

// Completer is the substrate primitive that resumes a paused unit of work
// identified by its task token. client.Client satisfies it; tests inject a
// recorder.
type Completer interface {
	CompleteActivity(ctx context.Context, taskToken []byte, result any, err error) error
}

// Publisher receives status transitions for fan-out to live subscribers.
// Publishing is best effort; the store remains the source of truth.
type Publisher interface {
	PublishStatus(ctx context.Context, executionID string, status execution.Status) error
}

// SystemActivities bundles the system activity handlers with their runtime
// dependencies.
type SystemActivities struct {
	store     execution.Store
	completer Completer
	publisher Publisher
	logger    telemetry.Logger
	metrics   telemetry.Metrics
}

// Options configures SystemActivities. Store and Completer are required;
// Publisher, Logger and Metrics default to no-ops.
type Options struct {
	Store     execution.Store
	Completer Completer
	Publisher Publisher
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
}

// New constructs the system activity set.
func New(opts Options) (*SystemActivities, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("baton activities: store is required")
	}
	if opts.Completer == nil {
		return nil, fmt.Errorf("baton activities: completer is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	return &SystemActivities{
		store:     opts.Store,
		completer: opts.Completer,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}, nil
}

// UpdateStatus persists a status transition. Safe under at-least-once
// delivery: the store treats an exact terminal replay as a no-op, and any
// genuine phase regression surfaces as an error for the workflow to handle.
func (a *SystemActivities) UpdateStatus(ctx context.Context, req orchestrator.UpdateStatusRequest) error {
	if req.ExecutionID == "" {
		return fmt.Errorf("baton activities: execution ID is required")
	}
	if err := a.store.UpdateStatus(ctx, req.ExecutionID, req.Status); err != nil {
		return fmt.Errorf("baton activities: update status of %s to %s: %w", req.ExecutionID, req.Status.Phase, err)
	}
	a.metrics.IncCounter("baton.status.updated", 1, "phase", string(req.Status.Phase))

	if a.publisher != nil {
		if err := a.publisher.PublishStatus(ctx, req.ExecutionID, req.Status); err != nil {
			a.logger.Warn(ctx, "status publish failed",
				"execution_id", req.ExecutionID,
				"phase", req.Status.Phase,
				"err", err)
		}
	}
	return nil
}

// CompleteExternal resumes the upstream caller identified by the callback
// token, delivering either the result or the failure. Idempotent: an invalid
// or already-consumed token is logged and swallowed, so at-least-once retries
// and raced caller timeouts never fail the workflow. An empty token is a
// silent no-op, which is what lets one pipeline serve both token-paused and
// direct callers.
func (a *SystemActivities) CompleteExternal(ctx context.Context, req orchestrator.CompleteExternalRequest) error {
	if req.CallbackToken.IsZero() {
		a.logger.Debug(ctx, "no callback token, skipping upstream completion")
		return nil
	}

	var completionErr error
	if req.Error != "" {
		completionErr = temporal.NewApplicationError(req.Error, "ExecutionFailed")
	}

	var err error
	if completionErr != nil {
		err = a.completer.CompleteActivity(ctx, req.CallbackToken, nil, completionErr)
	} else {
		err = a.completer.CompleteActivity(ctx, req.CallbackToken, req.Result, nil)
	}
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			// Already completed, or the caller's own timeout fired first.
			a.logger.Info(ctx, "callback token no longer valid, upstream already settled",
				"token_preview", req.CallbackToken.Preview())
			a.metrics.IncCounter("baton.completion.stale", 1)
			return nil
		}
		a.metrics.IncCounter("baton.completion.failed", 1)
		return fmt.Errorf("baton activities: complete upstream caller: %w", err)
	}

	outcome := "success"
	if req.Error != "" {
		outcome = "failure"
	}
	a.logger.Info(ctx, "upstream caller completed",
		"token_preview", req.CallbackToken.Preview(),
		"outcome", outcome)
	a.metrics.IncCounter("baton.completion.delivered", 1, "outcome", outcome)
	return nil
}
