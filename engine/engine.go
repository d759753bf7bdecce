package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Pranavj17/echo-sub001/backend"
	"github.com/Pranavj17/echo-sub001/backend/metrics"
	"github.com/Pranavj17/echo-sub001/core"
	"github.com/Pranavj17/echo-sub001/flow"
	"github.com/Pranavj17/echo-sub001/internal/log"
	"github.com/Pranavj17/echo-sub001/internal/metrickeys"
)

// Awaiter registers a wait for an external reply. Implemented by the
// coordinator; the engine only sees this interface.
type Awaiter interface {
	// Await validates the role, caps the timeout, persists the awaited
	// descriptor on the execution and arms the deadline. It returns as soon
	// as the wait is registered; it never blocks on the reply.
	Await(ctx context.Context, executionID string, role core.Role, correlationID string, timeout time.Duration) error
}

// Engine executes flow definitions against persisted execution records. A
// single execution progresses step by step on one goroutine; distinct
// executions may run concurrently and share nothing but the durable store.
// The engine is the only writer of execution records.
type Engine struct {
	store   backend.ExecutionStore
	options Options
	tracer  trace.Tracer

	mu      sync.RWMutex
	defs    map[string]*flow.Definition
	awaiter Awaiter
}

func New(store backend.ExecutionStore, opts ...Option) *Engine {
	options := applyOptions(opts...)

	return &Engine{
		store:   store,
		options: options,
		tracer:  options.TracerProvider.Tracer(backend.TracerName),
		defs:    map[string]*flow.Definition{},
	}
}

// RegisterDefinition makes a flow type startable. Registering the same flow
// type twice is an error.
func (e *Engine) RegisterDefinition(def *flow.Definition) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.defs[def.Name()]; ok {
		return &flow.ConfigError{Flow: def.Name(), Msg: "flow type already registered"}
	}

	e.defs[def.Name()] = def

	return nil
}

// SetAwaiter wires the coordinator in. Must be called before any listener
// requests an external reply.
func (e *Engine) SetAwaiter(a Awaiter) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.awaiter = a
}

// Start creates a new execution of the given flow type and runs it until it
// completes, fails, or suspends waiting for an external reply. The returned id
// identifies the persisted execution; a step failure is recorded on the
// execution, not returned here.
func (e *Engine) Start(ctx context.Context, flowType string, initial flow.State) (string, error) {
	def := e.definition(flowType)
	if def == nil {
		return "", fmt.Errorf("unknown flow type %q", flowType)
	}

	ctx, span := e.tracer.Start(ctx, "Engine.Start", trace.WithAttributes(
		attribute.String(log.FlowTypeKey, flowType),
	))
	defer span.End()

	state := initial.Clone()
	if state == nil {
		state = flow.State{}
	}

	now := e.options.Clock.Now().UTC()
	exec := &flow.Execution{
		ID:             uuid.NewString(),
		FlowType:       flowType,
		Status:         flow.StatusPending,
		State:          state,
		RouteTaken:     []string{},
		CompletedSteps: []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return "", fmt.Errorf("creating execution: %w", err)
	}

	span.SetAttributes(attribute.String(log.ExecutionIDKey, exec.ID))

	exec.Status = flow.StatusRunning
	if err := e.persist(ctx, exec); err != nil {
		return exec.ID, err
	}

	e.options.Metrics.Counter(metrickeys.ExecutionStarted, metrics.Tags{metrickeys.FlowType: flowType}, 1)
	e.options.Logger.Debug("Started flow execution", log.ExecutionIDKey, exec.ID, log.FlowTypeKey, flowType)

	for _, s := range def.StartSteps() {
		exec.CurrentStep = s.Name

		if err := s.Run(ctx, exec.State); err != nil {
			return exec.ID, e.fail(ctx, exec, fmt.Sprintf("step %q: %v", s.Name, err))
		}

		exec.CompletedSteps = append(exec.CompletedSteps, s.Name)
		e.options.Metrics.Counter(metrickeys.StepExecuted, metrics.Tags{metrickeys.FlowType: flowType}, 1)

		if err := e.persist(ctx, exec); err != nil {
			return exec.ID, err
		}
	}

	return exec.ID, e.route(ctx, def, exec)
}

// Resume continues an execution suspended in awaiting_response, merging the
// external reply into its state bag first. Resuming an execution that is not
// awaiting a response is a logged no-op.
func (e *Engine) Resume(ctx context.Context, executionID string, reply flow.State) error {
	ctx, span := e.tracer.Start(ctx, "Engine.Resume", trace.WithAttributes(
		attribute.String(log.ExecutionIDKey, executionID),
	))
	defer span.End()

	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}

	if exec.Status != flow.StatusAwaitingResponse {
		e.options.Logger.Warn(
			"Resume called on execution that is not awaiting a response",
			log.ExecutionIDKey, executionID,
			log.StatusKey, string(exec.Status),
		)
		return nil
	}

	def := e.definition(exec.FlowType)
	if def == nil {
		return e.fail(ctx, exec, fmt.Sprintf("flow type %q no longer registered", exec.FlowType))
	}

	exec.State.Merge(reply)
	exec.Status = flow.StatusRunning
	exec.AwaitedResponse = nil
	exec.PauseReason = ""

	if err := e.persist(ctx, exec); err != nil {
		return err
	}

	e.options.Metrics.Counter(metrickeys.ExecutionResumed, metrics.Tags{metrickeys.FlowType: exec.FlowType}, 1)
	e.options.Logger.Debug("Resumed flow execution", log.ExecutionIDKey, exec.ID, log.StepKey, exec.CurrentStep)

	return e.route(ctx, def, exec)
}

// MarkAwaiting persists the awaited-reply descriptor and suspends the
// execution. Called by the coordinator from within Await, after validation and
// timeout capping.
func (e *Engine) MarkAwaiting(ctx context.Context, executionID string, desc flow.AwaitDescriptor) error {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}

	if exec.Status != flow.StatusRunning {
		return fmt.Errorf("cannot suspend execution in status %q", exec.Status)
	}

	exec.Status = flow.StatusAwaitingResponse
	exec.AwaitedResponse = &desc
	exec.PauseReason = fmt.Sprintf("waiting for %s", desc.Role)

	if err := e.persist(ctx, exec); err != nil {
		return err
	}

	e.options.Metrics.Counter(metrickeys.ExecutionSuspended, metrics.Tags{metrickeys.FlowType: exec.FlowType}, 1)

	return nil
}

// Fail transitions an awaiting execution to failed with the given reason. Used
// by the coordinator for timeouts and restart reconciliation. Failing an
// execution that is not awaiting a response is a logged no-op.
func (e *Engine) Fail(ctx context.Context, executionID string, reason string) error {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}

	if exec.Status != flow.StatusAwaitingResponse {
		e.options.Logger.Warn(
			"Fail called on execution that is not awaiting a response",
			log.ExecutionIDKey, executionID,
			log.StatusKey, string(exec.Status),
		)
		return nil
	}

	return e.fail(ctx, exec, reason)
}

// Get returns the persisted execution. Terminal executions remain queryable.
func (e *Engine) Get(ctx context.Context, executionID string) (*flow.Execution, error) {
	return e.store.GetExecution(ctx, executionID)
}

// AwaitingExecutions lists executions persisted in awaiting_response, for the
// coordinator's startup reconciliation.
func (e *Engine) AwaitingExecutions(ctx context.Context) ([]*flow.Execution, error) {
	return e.store.AwaitingExecutions(ctx)
}

// route evaluates routers and listeners starting from the execution's current
// step until no router exists (completed), a listener suspends, or something
// fails. State is persisted at every step boundary.
func (e *Engine) route(ctx context.Context, def *flow.Definition, exec *flow.Execution) error {
	for {
		router := def.RouterFor(exec.CurrentStep)
		if router == nil {
			return e.complete(ctx, exec)
		}

		label, err := router(ctx, exec.State)
		if err != nil {
			return e.fail(ctx, exec, fmt.Sprintf("router after %q: %v", exec.CurrentStep, err))
		}

		exec.RouteTaken = append(exec.RouteTaken, string(label))
		exec.CurrentTrigger = string(label)

		l, ok := def.ListenerFor(label)
		if !ok {
			cfgErr := &flow.ConfigError{Flow: def.Name(), Msg: fmt.Sprintf("no listener registered for label %q", label)}
			return e.fail(ctx, exec, cfgErr.Error())
		}

		if len(exec.CompletedSteps) >= e.options.MaxSteps {
			return e.fail(ctx, exec, fmt.Sprintf("step budget of %d exhausted, possible cycle through %q", e.options.MaxSteps, label))
		}

		exec.CurrentStep = l.Name

		awaitReq, err := l.Run(ctx, exec.State)
		if err != nil {
			return e.fail(ctx, exec, fmt.Sprintf("listener %q: %v", l.Name, err))
		}

		exec.CompletedSteps = append(exec.CompletedSteps, l.Name)
		e.options.Metrics.Counter(metrickeys.StepExecuted, metrics.Tags{metrickeys.FlowType: exec.FlowType}, 1)

		if err := e.persist(ctx, exec); err != nil {
			return err
		}

		if awaitReq != nil {
			return e.suspend(ctx, exec, awaitReq)
		}
	}
}

// suspend hands the wait over to the coordinator. The coordinator persists the
// awaiting_response transition via MarkAwaiting before arming the deadline, so
// a reply can never race a not-yet-persisted suspension.
func (e *Engine) suspend(ctx context.Context, exec *flow.Execution, req *flow.AwaitRequest) error {
	e.mu.RLock()
	awaiter := e.awaiter
	e.mu.RUnlock()

	if awaiter == nil {
		return e.fail(ctx, exec, "no coordinator configured to register external waits")
	}

	if err := awaiter.Await(ctx, exec.ID, req.Role, req.CorrelationID, req.Timeout); err != nil {
		return e.fail(ctx, exec, fmt.Sprintf("registering wait: %v", err))
	}

	e.options.Logger.Debug(
		"Suspended flow execution",
		log.ExecutionIDKey, exec.ID,
		log.RoleKey, string(req.Role),
		log.CorrelationIDKey, req.CorrelationID,
	)

	return nil
}

func (e *Engine) complete(ctx context.Context, exec *flow.Execution) error {
	now := e.options.Clock.Now().UTC()
	exec.Status = flow.StatusCompleted
	exec.CompletedAt = &now

	if err := e.persist(ctx, exec); err != nil {
		return err
	}

	e.options.Metrics.Counter(metrickeys.ExecutionCompleted, metrics.Tags{metrickeys.FlowType: exec.FlowType}, 1)
	e.options.Logger.Info("Flow execution completed", log.ExecutionIDKey, exec.ID, log.FlowTypeKey, exec.FlowType)

	return nil
}

func (e *Engine) fail(ctx context.Context, exec *flow.Execution, reason string) error {
	now := e.options.Clock.Now().UTC()
	exec.Status = flow.StatusFailed
	exec.Error = reason
	exec.PauseReason = ""
	exec.CompletedAt = &now

	if err := e.persist(ctx, exec); err != nil {
		return err
	}

	e.options.Metrics.Counter(metrickeys.ExecutionFailed, metrics.Tags{metrickeys.FlowType: exec.FlowType}, 1)
	e.options.Logger.Error(
		"Flow execution failed",
		log.ExecutionIDKey, exec.ID,
		log.FlowTypeKey, exec.FlowType,
		log.ReasonKey, reason,
	)

	return nil
}

func (e *Engine) persist(ctx context.Context, exec *flow.Execution) error {
	exec.UpdatedAt = e.options.Clock.Now().UTC()

	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return fmt.Errorf("persisting execution %s: %w", exec.ID, err)
	}

	return nil
}

func (e *Engine) definition(flowType string) *flow.Definition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.defs[flowType]
}
