// Package orchestrator contains the decision workflow that drives one
// execution from PENDING to a terminal phase, and the names and message types
// shared between the workflow and the activities it schedules.
//
// The workflow runs on the domain's orchestrator queue. The execute activity
// is invoked strictly by name and routed to the runner queue recorded in the
// workflow memo, so the runner pool can be implemented in any language that
// speaks the Temporal protocol.
package orchestrator

import (
	"encoding/json"

	"github.com/batonhq/baton/execution"
)

// Registered workflow and activity names. These are wire contracts: a rename
// breaks every pool that dispatches or serves them.
const (
	// WorkflowInvoke is the decision workflow driving one execution.
	WorkflowInvoke = "baton.execution.invoke"

	// ActivityExecute is the runner-pool activity performing the actual work.
	// Baton does not implement it for production domains; see the runner
	// package for the dispatching side.
	ActivityExecute = "baton.runner.execute"

	// ActivityUpdateStatus persists a status transition. System activity,
	// orchestrator queue.
	ActivityUpdateStatus = "baton.system.update-status"

	// ActivityCompleteExternal resumes a token-paused upstream caller. System
	// activity, orchestrator queue.
	ActivityCompleteExternal = "baton.system.complete-external"
)

// InvokeRequest is the input to the decision workflow.
type InvokeRequest struct {
	// ExecutionID identifies the persisted execution record.
	ExecutionID string `json:"execution_id"`

	// Domain selects the task-queue pair.
	Domain string `json:"domain"`

	// CallbackToken is the upstream completion token, empty for direct
	// invocations.
	CallbackToken execution.Token `json:"callback_token,omitempty"`

	// Payload is the work request forwarded to the runner pool.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InvokeResult is the workflow's success output.
type InvokeResult struct {
	Result json.RawMessage `json:"result,omitempty"`
}

// ExecuteRequest is the input handed to the runner-pool execute activity.
type ExecuteRequest struct {
	ExecutionID string          `json:"execution_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// ExecuteResult is the runner-pool execute activity's output.
type ExecuteResult struct {
	Result json.RawMessage `json:"result,omitempty"`
}

// UpdateStatusRequest is the input to the update-status system activity.
type UpdateStatusRequest struct {
	ExecutionID string           `json:"execution_id"`
	Status      execution.Status `json:"status"`
}

// CompleteExternalRequest is the input to the complete-external system
// activity. Exactly one of Result and Error is meaningful: a non-empty Error
// completes the upstream caller as failed.
type CompleteExternalRequest struct {
	CallbackToken execution.Token `json:"callback_token,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
}
