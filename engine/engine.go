// Package engine wraps the Temporal SDK behind Baton's task-queue routing
// rules. It owns the Temporal client, creates one worker per unique task
// queue, wires OTEL instrumentation, and enforces the routing invariant at
// registration time: workflows register only on orchestrator queues, runner
// activities only on runner queues. Violations are configuration errors
// surfaced before any worker starts polling.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/batonhq/baton/telemetry"
)

// MemoKeyRunnerQueue is the workflow memo field carrying the runner queue
// name. The orchestrator workflow reads it to route runner activities without
// compiling in a queue name.
const MemoKeyRunnerQueue = "runnerTaskQueue"

type queueRole int

const (
	roleUnassigned queueRole = iota
	roleOrchestrator
	roleRunner
)

func (r queueRole) String() string {
	switch r {
	case roleOrchestrator:
		return "orchestrator"
	case roleRunner:
		return "runner"
	}
	return "unassigned"
}

// Options configures the engine. Either a pre-configured Client or
// ClientOptions must be provided; with ClientOptions the engine creates a
// lazy client so construction succeeds without a reachable server, and the
// first workflow start fails closed instead.
type Options struct {
	// Client is an optional pre-configured Temporal client.
	Client client.Client

	// ClientOptions describe how to construct the client when Client is nil.
	// Only connection fields (HostPort, Namespace) need to be set; OTEL
	// interceptors are installed automatically.
	ClientOptions *client.Options

	// Worker is forwarded to worker.New for every queue the engine manages
	// (concurrency limits, identity, ...).
	Worker worker.Options

	// Instrumentation toggles OTEL tracing and metrics. Both are enabled by
	// default.
	Instrumentation InstrumentationOptions

	// DisableWorkerAutoStart disables automatic worker startup on first
	// workflow execution. Set it to register everything before polling begins
	// and drive lifecycle via Worker().
	DisableWorkerAutoStart bool

	// Logger emits worker lifecycle logs. Nil means no output.
	Logger telemetry.Logger

	// Metrics records engine-level metrics. Nil means none.
	Metrics telemetry.Metrics
}

// InstrumentationOptions configures OTEL wiring for the client and workers.
type InstrumentationOptions struct {
	// DisableTracing skips the OTEL tracing interceptor.
	DisableTracing bool

	// DisableMetrics skips the OTEL metrics handler.
	DisableMetrics bool

	// TracerOptions customize the tracing interceptor.
	TracerOptions temporalotel.TracerOptions

	// MetricsOptions customize the metrics handler.
	MetricsOptions temporalotel.MetricsHandlerOptions
}

// WorkflowDefinition binds a workflow handler to its name and domain queues.
type WorkflowDefinition struct {
	// Name is the logical workflow identifier registered with Temporal.
	Name string

	// Queues selects the domain; the workflow is registered on the
	// orchestrator queue.
	Queues Queues

	// Handler is the workflow function.
	Handler any
}

// ActivityDefinition binds an activity handler to its name and queue role.
type ActivityDefinition struct {
	// Name is the activity identifier used by workflows to invoke it.
	Name string

	// Queues selects the domain.
	Queues Queues

	// System places the activity on the orchestrator queue alongside the
	// decision-code workers that own it (status writes, token completion).
	// When false the activity is registered on the runner queue.
	System bool

	// Handler is the activity function.
	Handler any
}

// RetryPolicy defines retry semantics for workflow starts. Zero-valued
// fields use Temporal defaults.
type RetryPolicy struct {
	MaxAttempts        int
	InitialInterval    time.Duration
	BackoffCoefficient float64
}

// StartRequest describes a workflow execution to launch.
type StartRequest struct {
	// ID is the workflow identifier, unique within the namespace. Baton uses
	// the execution ID.
	ID string

	// Workflow names the registered workflow definition.
	Workflow string

	// Queues selects the domain. The workflow is scheduled on the
	// orchestrator queue and the runner queue name is recorded in the memo.
	Queues Queues

	// Input is the payload passed to the workflow handler.
	Input any

	// RunTimeout bounds the total workflow execution time. Zero means no
	// engine-level bound.
	RunTimeout time.Duration

	// Memo holds additional diagnostic fields persisted with the execution.
	Memo map[string]any

	// RetryPolicy controls automatic workflow restarts.
	RetryPolicy RetryPolicy
}

// Handle allows callers to interact with a started workflow.
type Handle interface {
	// WorkflowID returns the workflow identifier.
	WorkflowID() string

	// RunID returns the engine-assigned run identifier.
	RunID() string

	// Wait blocks until the workflow completes, decoding the result into
	// valuePtr when non-nil.
	Wait(ctx context.Context, valuePtr any) error

	// Cancel requests cancellation of the workflow.
	Cancel(ctx context.Context) error
}

// Engine manages workflow/activity registration and per-queue worker
// lifecycle on top of Temporal. All methods are safe for concurrent use.
type Engine struct {
	client      client.Client
	closeClient bool

	workerOpts        worker.Options
	autoStartDisabled bool

	logger  telemetry.Logger
	metrics telemetry.Metrics

	mu             sync.Mutex
	workers        map[string]*workerBundle
	queueRoles     map[string]queueRole
	workflowNames  map[string]struct{}
	activityNames  map[string]struct{}
	workersStarted bool
}

// New constructs an engine. Either Client or ClientOptions must be provided.
func New(opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}

	inst, err := configureInstrumentation(opts.Instrumentation)
	if err != nil {
		return nil, err
	}

	cli := opts.Client
	closeClient := false
	if cli == nil {
		if opts.ClientOptions == nil {
			return nil, fmt.Errorf("baton engine: client options are required when Client is nil")
		}
		clientOpts := *opts.ClientOptions
		applyClientInstrumentation(&clientOpts, inst)
		cli, err = client.NewLazyClient(clientOpts)
		if err != nil {
			return nil, fmt.Errorf("baton engine: create client: %w", err)
		}
		closeClient = true
	}

	workerOpts := opts.Worker
	applyWorkerInstrumentation(&workerOpts, inst)

	return &Engine{
		client:            cli,
		closeClient:       closeClient,
		workerOpts:        workerOpts,
		autoStartDisabled: opts.DisableWorkerAutoStart,
		logger:            logger,
		metrics:           metrics,
		workers:           make(map[string]*workerBundle),
		queueRoles:        make(map[string]queueRole),
		workflowNames:     make(map[string]struct{}),
		activityNames:     make(map[string]struct{}),
	}, nil
}

// Client returns the underlying Temporal client. The completion activity uses
// it as the substrate completion primitive.
func (e *Engine) Client() client.Client {
	return e.client
}

// RegisterWorkflow registers a workflow on its domain's orchestrator queue.
// Registering the same name twice or assigning a queue name to conflicting
// roles is an error.
func (e *Engine) RegisterWorkflow(def WorkflowDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("baton engine: workflow name cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("baton engine: workflow %q has no handler", def.Name)
	}
	if err := def.Queues.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.workflowNames[def.Name]; exists {
		return fmt.Errorf("baton engine: workflow %q already registered", def.Name)
	}
	if err := e.assignRoleLocked(def.Queues.Orchestrator, roleOrchestrator); err != nil {
		return err
	}
	if err := e.assignRoleLocked(def.Queues.Runner, roleRunner); err != nil {
		return err
	}

	bundle := e.workerForQueueLocked(def.Queues.Orchestrator)
	bundle.worker.RegisterWorkflowWithOptions(def.Handler, workflow.RegisterOptions{Name: def.Name})
	e.workflowNames[def.Name] = struct{}{}
	return nil
}

// RegisterActivity registers an activity on its domain's orchestrator queue
// (System) or runner queue. Runner activities are typically implemented by a
// separate worker pool, possibly in another language; registering one here
// means this process is part of that pool.
func (e *Engine) RegisterActivity(def ActivityDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("baton engine: activity name cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("baton engine: activity %q has no handler", def.Name)
	}
	if err := def.Queues.Validate(); err != nil {
		return err
	}

	queue := def.Queues.Runner
	role := roleRunner
	if def.System {
		queue = def.Queues.Orchestrator
		role = roleOrchestrator
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.activityNames[def.Name]; exists {
		return fmt.Errorf("baton engine: activity %q already registered", def.Name)
	}
	if err := e.assignRoleLocked(queue, role); err != nil {
		return err
	}

	bundle := e.workerForQueueLocked(queue)
	bundle.worker.RegisterActivityWithOptions(def.Handler, activity.RegisterOptions{Name: def.Name})
	e.activityNames[def.Name] = struct{}{}
	return nil
}

// StartWorkflow launches a workflow execution on the domain's orchestrator
// queue, recording the runner queue name in the memo. Returns a Handle for
// waiting or cancelling.
func (e *Engine) StartWorkflow(ctx context.Context, req StartRequest) (Handle, error) {
	if req.Workflow == "" {
		return nil, fmt.Errorf("baton engine: workflow name is required")
	}
	if err := req.Queues.Validate(); err != nil {
		return nil, err
	}

	if !e.autoStartDisabled {
		e.ensureWorkersStarted()
	}

	memo := make(map[string]any, len(req.Memo)+1)
	for k, v := range req.Memo {
		memo[k] = v
	}
	memo[MemoKeyRunnerQueue] = req.Queues.Runner

	opts := client.StartWorkflowOptions{
		ID:                 req.ID,
		TaskQueue:          req.Queues.Orchestrator,
		WorkflowRunTimeout: req.RunTimeout,
		Memo:               memo,
	}
	if rp := convertRetryPolicy(req.RetryPolicy); rp != nil {
		opts.RetryPolicy = rp
	}

	run, err := e.client.ExecuteWorkflow(ctx, opts, req.Workflow, req.Input)
	if err != nil {
		return nil, fmt.Errorf("baton engine: start workflow %q: %w", req.Workflow, err)
	}
	e.metrics.IncCounter("baton.workflow.started", 1, "workflow", req.Workflow, "domain", req.Queues.Domain)
	return &workflowHandle{run: run, client: e.client}, nil
}

// Worker returns a controller for managing all workers created by this
// engine. Needed only when DisableWorkerAutoStart is set.
func (e *Engine) Worker() *WorkerController {
	return &WorkerController{engine: e}
}

// Close shuts down the Temporal client if the engine created it. Stop workers
// first via Worker().Stop().
func (e *Engine) Close() {
	if e.closeClient && e.client != nil {
		e.client.Close()
	}
}

// assignRoleLocked records or checks the role of a queue name. A queue that
// already serves the other role indicates orchestration and execution
// handlers sharing one queue, which is the routing-collision design error.
func (e *Engine) assignRoleLocked(queue string, role queueRole) error {
	existing, ok := e.queueRoles[queue]
	if !ok || existing == roleUnassigned {
		e.queueRoles[queue] = role
		return nil
	}
	if existing != role {
		return fmt.Errorf("baton engine: queue %q is already registered as %s queue, cannot also serve as %s queue", queue, existing, role)
	}
	return nil
}

func (e *Engine) workerForQueueLocked(queue string) *workerBundle {
	if bundle, ok := e.workers[queue]; ok {
		return bundle
	}
	w := worker.New(e.client, queue, e.workerOpts)
	bundle := &workerBundle{queue: queue, worker: w, logger: e.logger}
	e.workers[queue] = bundle
	if e.workersStarted {
		bundle.start()
	}
	return bundle
}

func (e *Engine) ensureWorkersStarted() {
	e.mu.Lock()
	if e.workersStarted {
		e.mu.Unlock()
		return
	}
	e.workersStarted = true
	bundles := make([]*workerBundle, 0, len(e.workers))
	for _, b := range e.workers {
		bundles = append(bundles, b)
	}
	e.mu.Unlock()
	for _, b := range bundles {
		b.start()
	}
}

// WorkerController manages worker lifecycle for all queues managed by the
// engine. Start and Stop are safe to call concurrently.
type WorkerController struct {
	engine *Engine
}

// Start launches all registered workers. Workers registered afterwards start
// automatically.
func (c *WorkerController) Start() {
	c.engine.ensureWorkersStarted()
}

// Stop gracefully stops all workers managed by the engine.
func (c *WorkerController) Stop() {
	c.engine.mu.Lock()
	bundles := make([]*workerBundle, 0, len(c.engine.workers))
	for _, b := range c.engine.workers {
		bundles = append(bundles, b)
	}
	c.engine.mu.Unlock()

	for _, b := range bundles {
		b.stop()
	}
}

type workerBundle struct {
	queue  string
	worker worker.Worker
	logger telemetry.Logger

	startOnce sync.Once
}

func (b *workerBundle) start() {
	b.startOnce.Do(func() {
		go func() {
			if err := b.worker.Run(worker.InterruptCh()); err != nil {
				b.logger.Error(context.Background(), "temporal worker exited", "queue", b.queue, "err", err)
			}
		}()
	})
}

func (b *workerBundle) stop() {
	b.worker.Stop()
}

type instrumentation struct {
	tracer  interceptor.Interceptor
	metrics client.MetricsHandler
}

func configureInstrumentation(opts InstrumentationOptions) (*instrumentation, error) {
	inst := &instrumentation{}
	if !opts.DisableTracing {
		tracer, err := temporalotel.NewTracingInterceptor(opts.TracerOptions)
		if err != nil {
			return nil, fmt.Errorf("baton engine: configure tracing interceptor: %w", err)
		}
		inst.tracer = tracer
	}
	if !opts.DisableMetrics {
		inst.metrics = temporalotel.NewMetricsHandler(opts.MetricsOptions)
	}
	if inst.tracer == nil && inst.metrics == nil {
		return nil, nil
	}
	return inst, nil
}

func applyClientInstrumentation(opts *client.Options, inst *instrumentation) {
	if inst == nil {
		return
	}
	if inst.tracer != nil {
		opts.Interceptors = append(opts.Interceptors, inst.tracer)
	}
	if inst.metrics != nil && opts.MetricsHandler == nil {
		opts.MetricsHandler = inst.metrics
	}
}

func applyWorkerInstrumentation(opts *worker.Options, inst *instrumentation) {
	if inst == nil {
		return
	}
	if inst.tracer != nil {
		opts.Interceptors = append(opts.Interceptors, inst.tracer)
	}
}

func convertRetryPolicy(rp RetryPolicy) *temporal.RetryPolicy {
	if rp.MaxAttempts == 0 && rp.InitialInterval == 0 && rp.BackoffCoefficient == 0 {
		return nil
	}
	out := &temporal.RetryPolicy{
		MaximumAttempts: int32(rp.MaxAttempts),
		InitialInterval: rp.InitialInterval,
	}
	if rp.BackoffCoefficient >= 1 {
		out.BackoffCoefficient = rp.BackoffCoefficient
	}
	return out
}

type workflowHandle struct {
	run    client.WorkflowRun
	client client.Client
}

func (h *workflowHandle) WorkflowID() string {
	return h.run.GetID()
}

func (h *workflowHandle) RunID() string {
	return h.run.GetRunID()
}

func (h *workflowHandle) Wait(ctx context.Context, valuePtr any) error {
	return h.run.Get(ctx, valuePtr)
}

func (h *workflowHandle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}
