// Package service implements the execution lifecycle API: create, read and
// list executions. Create is the critical half of the token handshake on the
// receiving side: the record (token included) is persisted before the
// workflow starts, and persistence failure aborts the create, because an
// execution without a durable record would leave its upstream caller
// unresumable.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/batonhq/baton/engine"
	"github.com/batonhq/baton/execution"
	"github.com/batonhq/baton/orchestrator"
	"github.com/batonhq/baton/telemetry"
)

// ErrRateLimited indicates the create rate limit was exceeded. Callers should
// back off and retry.
var ErrRateLimited = errors.New("execution create rate limit exceeded")

// Starter launches orchestration workflows. *engine.Engine satisfies it.
type Starter interface {
	StartWorkflow(ctx context.Context, req engine.StartRequest) (engine.Handle, error)
}

// Validator checks a payload before it is accepted. *execution.Validator
// satisfies it.
type Validator interface {
	Validate(payload []byte) error
}

// Offloader replaces oversized payloads with storage references before they
// are persisted and shipped through workflow history. *claimcheck.Manager
// satisfies it.
type Offloader interface {
	MaybeOffload(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

// CreateRequest describes a new execution.
type CreateRequest struct {
	// Domain selects the task-queue pair the execution is routed through.
	Domain string `json:"domain"`

	// Payload is the work request handed to the runner pool.
	Payload json.RawMessage `json:"payload,omitempty"`

	// CallbackToken carries the upstream completion token when the caller is
	// a paused unit of work. Empty for direct invocations.
	CallbackToken execution.Token `json:"callback_token,omitempty"`

	// Metadata carries caller-supplied labels, stored verbatim on the spec.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Options configures the Service. Store and Starter are required.
type Options struct {
	Store   execution.Store
	Starter Starter

	// Validator optionally checks payloads on create. Nil accepts any JSON.
	Validator Validator

	// Limiter optionally rate limits creates. Nil means unlimited.
	Limiter *rate.Limiter

	// Offloader optionally applies the claim check pattern to large
	// payloads. Nil keeps payloads inline.
	Offloader Offloader

	// Queues maps domain names to explicit queue pairs. Domains not present
	// use the conventional names from engine.ForDomain.
	Queues map[string]engine.Queues

	// RunTimeout bounds each orchestration workflow. Zero means no bound.
	RunTimeout time.Duration

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

// Service coordinates the execution store and the workflow engine.
type Service struct {
	store      execution.Store
	starter    Starter
	validator  Validator
	limiter    *rate.Limiter
	offloader  Offloader
	queues     map[string]engine.Queues
	runTimeout time.Duration
	logger     telemetry.Logger
	metrics    telemetry.Metrics
	tracer     telemetry.Tracer
}

// New constructs a Service.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("baton service: store is required")
	}
	if opts.Starter == nil {
		return nil, fmt.Errorf("baton service: starter is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.NewNoopTracer()
	}
	return &Service{
		store:      opts.Store,
		starter:    opts.Starter,
		validator:  opts.Validator,
		limiter:    opts.Limiter,
		offloader:  opts.Offloader,
		queues:     opts.Queues,
		runTimeout: opts.RunTimeout,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
	}, nil
}

// Create validates, persists and starts a new execution, returning the
// persisted record. The token is stored before the workflow starts; if the
// workflow fails to start the record is marked FAILED so the execution never
// silently disappears while an upstream caller waits on it.
func (s *Service) Create(ctx context.Context, req CreateRequest) (execution.Record, error) {
	ctx, span := s.tracer.Start(ctx, "baton.execution.create")
	defer span.End()

	if req.Domain == "" {
		return execution.Record{}, fmt.Errorf("baton service: domain is required")
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.metrics.IncCounter("baton.create.throttled", 1, "domain", req.Domain)
		return execution.Record{}, ErrRateLimited
	}
	if s.validator != nil {
		if err := s.validator.Validate(req.Payload); err != nil {
			return execution.Record{}, fmt.Errorf("baton service: invalid payload: %w", err)
		}
	}

	queues := s.queuesFor(req.Domain)
	if err := queues.Validate(); err != nil {
		return execution.Record{}, err
	}

	payload := req.Payload
	if s.offloader != nil {
		var err error
		payload, err = s.offloader.MaybeOffload(ctx, req.Payload)
		if err != nil {
			return execution.Record{}, fmt.Errorf("baton service: offload payload: %w", err)
		}
	}

	now := time.Now().UTC()
	spec := execution.Spec{
		ID:            uuid.NewString(),
		Domain:        req.Domain,
		CallbackToken: req.CallbackToken,
		Payload:       payload,
		Metadata:      req.Metadata,
		CreatedAt:     now,
	}
	status := execution.Status{Phase: execution.PhasePending, UpdatedAt: now}

	if _, err := s.store.Create(ctx, spec, status); err != nil {
		// Fail closed: without a durable record the callback token would be
		// unrecoverable.
		span.RecordError(err)
		return execution.Record{}, fmt.Errorf("baton service: persist execution: %w", err)
	}
	s.logger.Info(ctx, "execution created",
		"execution_id", spec.ID,
		"domain", spec.Domain,
		"has_callback_token", !spec.CallbackToken.IsZero(),
		"token_preview", spec.CallbackToken.Preview())

	_, err := s.starter.StartWorkflow(ctx, engine.StartRequest{
		ID:       spec.ID,
		Workflow: orchestrator.WorkflowInvoke,
		Queues:   queues,
		Input: orchestrator.InvokeRequest{
			ExecutionID:   spec.ID,
			Domain:        spec.Domain,
			CallbackToken: spec.CallbackToken,
			Payload:       spec.Payload,
		},
		RunTimeout: s.runTimeout,
	})
	if err != nil {
		failed := execution.Status{
			Phase:     execution.PhaseFailed,
			Error:     fmt.Sprintf("failed to start orchestration: %v", err),
			UpdatedAt: time.Now().UTC(),
		}
		if updateErr := s.store.UpdateStatus(ctx, spec.ID, failed); updateErr != nil {
			s.logger.Error(ctx, "failed to mark unstartable execution failed",
				"execution_id", spec.ID, "err", updateErr)
		}
		s.metrics.IncCounter("baton.create.start_failed", 1, "domain", req.Domain)
		span.RecordError(err)
		return execution.Record{}, fmt.Errorf("baton service: start orchestration for %s: %w", spec.ID, err)
	}

	s.metrics.IncCounter("baton.create.accepted", 1, "domain", req.Domain)
	return execution.Record{Spec: spec, Status: status}, nil
}

// Get returns the execution record for id.
func (s *Service) Get(ctx context.Context, id string) (execution.Record, error) {
	if id == "" {
		return execution.Record{}, fmt.Errorf("baton service: execution ID is required")
	}
	return s.store.Get(ctx, id)
}

// List returns all execution records.
func (s *Service) List(ctx context.Context) ([]execution.Record, error) {
	return s.store.List(ctx)
}

// UpdateStatus applies a status transition on behalf of an operator or an
// external reconciler. Orchestration writes its own status through the system
// activities; this path enforces the same monotonicity rules.
func (s *Service) UpdateStatus(ctx context.Context, id string, status execution.Status) error {
	if id == "" {
		return fmt.Errorf("baton service: execution ID is required")
	}
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}
	return s.store.UpdateStatus(ctx, id, status)
}

func (s *Service) queuesFor(domain string) engine.Queues {
	if q, ok := s.queues[domain]; ok {
		return q
	}
	return engine.ForDomain(domain)
}
