// Package execution defines the core data model for orchestrated executions:
// the immutable Spec submitted by a caller, the system-owned Status that
// tracks observed state, and the Store contract used to persist both.
//
// The Spec/Status split follows the usual spec-vs-status separation: Spec
// captures intent and never changes after creation, Status is mutated only by
// the orchestration logic that owns the execution. The callback token rides
// on the Spec because it is part of the caller's intent ("resume me when
// done"), even though its value is issued by the orchestration substrate.
package execution

import (
	"encoding/json"
	"time"
)

// Phase is the lifecycle state of an execution. Transitions are strictly
// monotonic: Pending -> Running -> {Succeeded | Failed}. There is no
// transition out of a terminal phase.
type Phase string

const (
	// PhasePending indicates the execution has been persisted but orchestration
	// has not picked it up yet.
	PhasePending Phase = "PENDING"
	// PhaseRunning indicates orchestration is actively driving the execution.
	PhaseRunning Phase = "RUNNING"
	// PhaseSucceeded indicates the execution reached a successful terminal
	// outcome. Result is populated.
	PhaseSucceeded Phase = "SUCCEEDED"
	// PhaseFailed indicates the execution reached a failed terminal outcome.
	// Error is populated.
	PhaseFailed Phase = "FAILED"
)

// Terminal reports whether p is a terminal phase.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// CanTransition reports whether a record in phase p may move to phase to.
// Identity transitions are allowed so that at-least-once status writers can
// replay the same update without error.
func (p Phase) CanTransition(to Phase) bool {
	if p == to {
		return true
	}
	switch p {
	case "", PhasePending:
		return to == PhaseRunning || to.Terminal()
	case PhaseRunning:
		return to.Terminal()
	default:
		return false
	}
}

// rank orders phases for monotonicity checks. Terminal phases share the top
// rank because neither may replace the other.
func (p Phase) rank() int {
	switch p {
	case PhasePending:
		return 1
	case PhaseRunning:
		return 2
	case PhaseSucceeded, PhaseFailed:
		return 3
	}
	return 0
}

// Before reports whether p strictly precedes other in the phase ordering.
func (p Phase) Before(other Phase) bool {
	return p.rank() < other.rank()
}

// Spec is the immutable caller-supplied input to one execution. Once
// persisted, no field changes.
type Spec struct {
	// ID uniquely identifies the execution. Assigned at creation, never reused.
	ID string `json:"id"`

	// Domain names the execution domain (e.g. "agent-execution"). It selects
	// the task-queue pair the execution is routed through.
	Domain string `json:"domain"`

	// CallbackToken is the durable completion token of a paused upstream unit
	// of work, when the execution was triggered by one. A zero token means the
	// caller invoked the execution directly and nothing needs completing.
	CallbackToken Token `json:"callback_token,omitempty"`

	// Payload is the work request handed to the runner pool.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Metadata carries caller-supplied labels (tenant, trace linkage). Opaque
	// to orchestration.
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt records when the spec was accepted.
	CreatedAt time.Time `json:"created_at"`
}

// Status is the mutable, system-owned observed state of an execution.
type Status struct {
	// Phase is the current lifecycle state.
	Phase Phase `json:"phase"`

	// Result holds the success payload. Populated exactly once, on entry to
	// PhaseSucceeded.
	Result json.RawMessage `json:"result,omitempty"`

	// Error describes the failure. Populated exactly once, on entry to
	// PhaseFailed.
	Error string `json:"error,omitempty"`

	// UpdatedAt is set on every status mutation.
	UpdatedAt time.Time `json:"updated_at"`
}

// Equal reports whether two statuses carry the same observed state,
// ignoring UpdatedAt. Used to detect idempotent terminal replays.
func (s Status) Equal(other Status) bool {
	return s.Phase == other.Phase &&
		string(s.Result) == string(other.Result) &&
		s.Error == other.Error
}

// Record pairs a Spec with its Status. It is the unit stored by Store
// implementations and handed to orchestration.
type Record struct {
	Spec   Spec   `json:"spec"`
	Status Status `json:"status"`
}
