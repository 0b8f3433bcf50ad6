package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/batonhq/baton/engine"
	"github.com/batonhq/baton/execution"
)

// WorkflowOptions tunes the decision workflow. Zero values get conservative
// defaults.
type WorkflowOptions struct {
	// DefaultRunnerQueue is used when the workflow memo carries no runner
	// queue name. Normally derived from the domain at start time; the
	// fallback exists for executions started by older clients.
	DefaultRunnerQueue string

	// RunnerScheduleToStart bounds how long an execute task may sit unpolled
	// on the runner queue. Expiry almost always means no runner worker is
	// deployed for the queue.
	RunnerScheduleToStart time.Duration

	// RunnerStartToClose bounds a single execute attempt.
	RunnerStartToClose time.Duration

	// RunnerHeartbeat is the heartbeat interval expected from runners. Zero
	// disables heartbeat enforcement.
	RunnerHeartbeat time.Duration

	// SystemStartToClose bounds the system activities (status writes, token
	// completion).
	SystemStartToClose time.Duration
}

const (
	defaultRunnerScheduleToStart = 2 * time.Minute
	defaultRunnerStartToClose    = 30 * time.Minute
	defaultSystemStartToClose    = 30 * time.Second
)

// Workflows holds the decision workflow implementations. It carries no
// runtime dependencies: all effects go through named activities.
type Workflows struct {
	opts WorkflowOptions
}

// NewWorkflows constructs the workflow set, applying defaults.
func NewWorkflows(opts WorkflowOptions) *Workflows {
	if opts.RunnerScheduleToStart == 0 {
		opts.RunnerScheduleToStart = defaultRunnerScheduleToStart
	}
	if opts.RunnerStartToClose == 0 {
		opts.RunnerStartToClose = defaultRunnerStartToClose
	}
	if opts.SystemStartToClose == 0 {
		opts.SystemStartToClose = defaultSystemStartToClose
	}
	return &Workflows{opts: opts}
}

// Invoke drives one execution: mark RUNNING, hand the payload to the runner
// pool, persist the terminal status, then resume the upstream caller if a
// callback token is present.
//
// Completion failure handling is asymmetric. On the success path a failed
// completion escalates, because the upstream caller would otherwise hang on a
// result that exists. On the failure path a failed completion is logged and
// the original execution error propagates; the caller's own timeout settles
// it.
func (w *Workflows) Invoke(ctx workflow.Context, req InvokeRequest) (*InvokeResult, error) {
	logger := workflow.GetLogger(ctx)

	if req.CallbackToken.IsZero() {
		logger.Info("no callback token, direct invocation", "execution_id", req.ExecutionID)
	} else {
		logger.Info("callback token present, will complete upstream caller on settlement",
			"execution_id", req.ExecutionID,
			"token_preview", req.CallbackToken.Preview(),
			"token_len", len(req.CallbackToken))
	}

	if err := w.updateStatus(ctx, req.ExecutionID, execution.Status{
		Phase:     execution.PhaseRunning,
		UpdatedAt: workflow.Now(ctx),
	}); err != nil {
		return nil, fmt.Errorf("mark execution running: %w", err)
	}

	runnerQueue := w.runnerQueue(ctx, req.Domain)
	result, execErr := w.executeOnRunner(ctx, runnerQueue, ExecuteRequest{
		ExecutionID: req.ExecutionID,
		Payload:     req.Payload,
	})
	if execErr != nil {
		return nil, w.settleFailure(ctx, req, runnerQueue, execErr)
	}
	return w.settleSuccess(ctx, req, result)
}

func (w *Workflows) settleSuccess(ctx workflow.Context, req InvokeRequest, result json.RawMessage) (*InvokeResult, error) {
	logger := workflow.GetLogger(ctx)

	if err := w.updateStatus(ctx, req.ExecutionID, execution.Status{
		Phase:     execution.PhaseSucceeded,
		Result:    result,
		UpdatedAt: workflow.Now(ctx),
	}); err != nil {
		return nil, fmt.Errorf("persist succeeded status: %w", err)
	}

	if !req.CallbackToken.IsZero() {
		if err := w.completeExternal(ctx, CompleteExternalRequest{
			CallbackToken: req.CallbackToken,
			Result:        result,
		}); err != nil {
			logger.Error("execution succeeded but upstream completion failed",
				"execution_id", req.ExecutionID,
				"token_preview", req.CallbackToken.Preview(),
				"error", err)
			return nil, fmt.Errorf("complete upstream caller: %w", err)
		}
	}
	return &InvokeResult{Result: result}, nil
}

func (w *Workflows) settleFailure(ctx workflow.Context, req InvokeRequest, runnerQueue string, execErr error) error {
	logger := workflow.GetLogger(ctx)
	classified := classifyExecuteError(execErr, runnerQueue)

	if err := w.updateStatus(ctx, req.ExecutionID, execution.Status{
		Phase:     execution.PhaseFailed,
		Error:     classified.Error(),
		UpdatedAt: workflow.Now(ctx),
	}); err != nil {
		// Best effort: the workflow failure below still records the outcome
		// in the engine's history.
		logger.Error("failed to persist failed status",
			"execution_id", req.ExecutionID, "error", err)
	}

	if !req.CallbackToken.IsZero() {
		if err := w.completeExternal(ctx, CompleteExternalRequest{
			CallbackToken: req.CallbackToken,
			Error:         classified.Error(),
		}); err != nil {
			// The upstream caller's own timeout settles it.
			logger.Error("failed to propagate failure to upstream caller",
				"execution_id", req.ExecutionID,
				"token_preview", req.CallbackToken.Preview(),
				"error", err)
		}
	}
	return classified
}

func (w *Workflows) executeOnRunner(ctx workflow.Context, queue string, req ExecuteRequest) (json.RawMessage, error) {
	opts := workflow.ActivityOptions{
		TaskQueue:              queue,
		ScheduleToStartTimeout: w.opts.RunnerScheduleToStart,
		StartToCloseTimeout:    w.opts.RunnerStartToClose,
		HeartbeatTimeout:       w.opts.RunnerHeartbeat,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	var out ExecuteResult
	err := workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, opts), ActivityExecute, req).Get(ctx, &out)
	if err != nil {
		return nil, err
	}
	return out.Result, nil
}

func (w *Workflows) updateStatus(ctx workflow.Context, executionID string, status execution.Status) error {
	return w.systemActivity(ctx, ActivityUpdateStatus, UpdateStatusRequest{
		ExecutionID: executionID,
		Status:      status,
	})
}

func (w *Workflows) completeExternal(ctx workflow.Context, req CompleteExternalRequest) error {
	return w.systemActivity(ctx, ActivityCompleteExternal, req)
}

// systemActivity runs a system activity on the workflow's own task queue,
// which is the orchestrator queue by construction.
func (w *Workflows) systemActivity(ctx workflow.Context, name string, req any) error {
	opts := workflow.ActivityOptions{
		StartToCloseTimeout: w.opts.SystemStartToClose,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    5,
		},
	}
	return workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, opts), name, req).Get(ctx, nil)
}

// runnerQueue resolves the runner queue for this execution: the memo entry
// written at start time wins, then the configured default, then the
// conventional name for the domain.
func (w *Workflows) runnerQueue(ctx workflow.Context, domain string) string {
	info := workflow.GetInfo(ctx)
	if info.Memo != nil {
		if payload, ok := info.Memo.Fields[engine.MemoKeyRunnerQueue]; ok {
			var queue string
			if err := converter.GetDefaultDataConverter().FromPayload(payload, &queue); err == nil && queue != "" {
				return queue
			}
			workflow.GetLogger(ctx).Warn("unreadable runner queue memo, falling back", "domain", domain)
		}
	}
	if w.opts.DefaultRunnerQueue != "" {
		return w.opts.DefaultRunnerQueue
	}
	return engine.ForDomain(domain).Runner
}
