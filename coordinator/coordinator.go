package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Pranavj17/echo-sub001/backend"
	"github.com/Pranavj17/echo-sub001/backend/metrics"
	"github.com/Pranavj17/echo-sub001/bus"
	"github.com/Pranavj17/echo-sub001/core"
	"github.com/Pranavj17/echo-sub001/flow"
	"github.com/Pranavj17/echo-sub001/internal/log"
	"github.com/Pranavj17/echo-sub001/internal/metrickeys"
)

// resolvedCapacity bounds the resolved-correlation cache. Entries also expire
// after Options.ResolvedTTL, so adversarial input cannot grow it.
const resolvedCapacity = 4096

// Engine is the slice of the flow engine the coordinator needs. The
// coordinator never mutates execution state directly; every transition goes
// through these calls.
type Engine interface {
	Resume(ctx context.Context, executionID string, reply flow.State) error
	Fail(ctx context.Context, executionID string, reason string) error
	MarkAwaiting(ctx context.Context, executionID string, desc flow.AwaitDescriptor) error
	AwaitingExecutions(ctx context.Context) ([]*flow.Execution, error)
}

type waitKey struct {
	role          core.Role
	correlationID string
}

func (k waitKey) String() string {
	return string(k.role) + "/" + k.correlationID
}

type wait struct {
	executionID string
	timer       *clock.Timer
}

type registerCommand struct {
	key         waitKey
	executionID string
	timeout     time.Duration
}

type command struct {
	register *registerCommand
	reply    *core.Envelope
	timeout  *waitKey
	stats    chan<- Stats
}

// Stats is a point-in-time snapshot of coordinator state.
type Stats struct {
	PendingWaits int
}

// Coordinator is the single point of truth for which execution is waiting on
// which external reply. All wait registrations, incoming replies and deadline
// expirations funnel through one goroutine, so for any (role, correlation id)
// exactly one of {matched reply, timeout} ever fires. This serializes
// reply/timeout throughput for the whole process; that is a deliberate
// trade-off for correctness.
type Coordinator struct {
	engine  Engine
	rdb     redis.UniversalClient
	options Options
	tracer  trace.Tracer

	commands chan command
	done     chan struct{}

	// Owned exclusively by the Run goroutine.
	waits    map[waitKey]*wait
	resolved *ttlcache.Cache[string, struct{}]
}

// New creates a coordinator consuming replies from the given Redis client. A
// nil client disables the bus subscription; replies must then be injected with
// Deliver (in-process workers and tests).
func New(engine Engine, rdb redis.UniversalClient, opts ...Option) *Coordinator {
	options := applyOptions(opts...)

	return &Coordinator{
		engine:  engine,
		rdb:     rdb,
		options: options,
		tracer:  options.TracerProvider.Tracer(backend.TracerName),

		commands: make(chan command, 1024),
		done:     make(chan struct{}),

		waits: map[waitKey]*wait{},
		resolved: ttlcache.New(
			ttlcache.WithTTL[string, struct{}](options.ResolvedTTL),
			ttlcache.WithCapacity[string, struct{}](resolvedCapacity),
		),
	}
}

// Await registers that the execution is waiting for a reply from the given
// worker role carrying the correlation id. The role is validated against the
// closed set and the timeout is capped; an invalid call is rejected before any
// state is created. Await returns as soon as the wait is registered; it never
// blocks on the reply. Run must be active.
func (c *Coordinator) Await(ctx context.Context, executionID string, role core.Role, correlationID string, timeout time.Duration) error {
	parsed, err := core.ParseRole(string(role))
	if err != nil {
		return err
	}

	if correlationID == "" {
		return fmt.Errorf("empty correlation id")
	}

	ctx, span := c.tracer.Start(ctx, "Coordinator.Await", trace.WithAttributes(
		attribute.String(log.ExecutionIDKey, executionID),
		attribute.String(log.RoleKey, string(parsed)),
		attribute.String(log.CorrelationIDKey, correlationID),
	))
	defer span.End()

	if timeout <= 0 {
		timeout = c.options.DefaultTimeout
	}
	if timeout > c.options.MaxTimeout {
		c.options.Logger.Debug(
			"Capping wait timeout",
			log.ExecutionIDKey, executionID,
			log.TimeoutKey, timeout.String(),
		)
		timeout = c.options.MaxTimeout
	}

	deadline := c.options.Clock.Now().UTC().Add(timeout)

	// Persist the descriptor before arming anything: a wait must never be
	// live in memory for an execution the store does not know is suspended.
	if err := c.engine.MarkAwaiting(ctx, executionID, flow.AwaitDescriptor{
		Role:          parsed,
		CorrelationID: correlationID,
		Deadline:      deadline,
	}); err != nil {
		return fmt.Errorf("persisting awaited response: %w", err)
	}

	// Registration is handed to the loop without waiting for an ack: Await
	// may be called from a listener the loop itself is resuming, and an ack
	// round-trip would deadlock there.
	cmd := command{register: &registerCommand{
		key:         waitKey{role: parsed, correlationID: correlationID},
		executionID: executionID,
		timeout:     timeout,
	}}

	select {
	case c.commands <- cmd:
		return nil
	case <-c.done:
		return fmt.Errorf("coordinator stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliver injects a reply envelope as if it had arrived on the bus. Used by
// in-process workers and tests; the envelope goes through the same validation
// and serialization as a subscribed reply.
func (c *Coordinator) Deliver(env *core.Envelope) {
	select {
	case c.commands <- command{reply: env}:
	case <-c.done:
	}
}

// GetStats returns a snapshot of coordinator state.
func (c *Coordinator) GetStats(ctx context.Context) (Stats, error) {
	res := make(chan Stats, 1)

	select {
	case c.commands <- command{stats: res}:
	case <-c.done:
		return Stats{}, fmt.Errorf("coordinator stopped")
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}

	select {
	case s := <-res:
		return s, nil
	case <-c.done:
		// A reply may have raced the shutdown.
		select {
		case s := <-res:
			return s, nil
		default:
		}
		return Stats{}, fmt.Errorf("coordinator stopped")
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// Run reconciles persisted waits, subscribes to the reply topics for all known
// roles, and processes commands until ctx is cancelled. It owns all wait
// state; callers interact only through Await, Deliver and GetStats.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.reconcile(ctx); err != nil {
		return err
	}

	var replies <-chan *redis.Message
	if c.rdb != nil {
		topics := []string{bus.ResponsesTopic}
		for _, role := range core.Roles() {
			topics = append(topics, bus.RoleResponsesTopic(role))
		}

		pubsub := c.rdb.Subscribe(ctx, topics...)
		defer pubsub.Close()

		replies = pubsub.Channel()
	}

	go c.resolved.Start()
	defer c.resolved.Stop()

	defer close(c.done)
	defer c.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return nil

		case cmd := <-c.commands:
			c.handleCommand(ctx, cmd)

		case msg, ok := <-replies:
			if !ok {
				replies = nil
				continue
			}

			c.handleRawReply(ctx, []byte(msg.Payload))
		}
	}
}

func (c *Coordinator) handleCommand(ctx context.Context, cmd command) {
	switch {
	case cmd.register != nil:
		c.handleRegister(ctx, cmd.register)

	case cmd.reply != nil:
		c.handleReply(ctx, cmd.reply)

	case cmd.timeout != nil:
		c.handleTimeout(ctx, *cmd.timeout)

	case cmd.stats != nil:
		cmd.stats <- Stats{PendingWaits: len(c.waits)}
	}
}

func (c *Coordinator) handleRegister(ctx context.Context, reg *registerCommand) {
	if existing, ok := c.waits[reg.key]; ok {
		if existing.executionID != reg.executionID {
			// Two executions awaiting the same (role, correlation id)
			// cannot both be matched; the later one loses.
			c.options.Logger.Error(
				"Wait already registered for another execution",
				log.ExecutionIDKey, reg.executionID,
				log.RoleKey, string(reg.key.role),
				log.CorrelationIDKey, reg.key.correlationID,
			)

			if err := c.engine.Fail(ctx, reg.executionID, fmt.Sprintf("correlation id %q already awaited for %s", reg.key.correlationID, reg.key.role)); err != nil {
				c.options.Logger.Error("Failing duplicate wait failed", log.ExecutionIDKey, reg.executionID, "error", err)
			}
			return
		}

		// Same execution re-registering; stop the superseded timer so it
		// cannot fire against the fresh wait.
		if existing.timer != nil {
			existing.timer.Stop()
		}
	}

	c.waits[reg.key] = &wait{
		executionID: reg.executionID,
		timer:       c.armTimer(reg.key, reg.timeout),
	}

	c.options.Metrics.Counter(metrickeys.WaitRegistered, metrics.Tags{metrickeys.Role: string(reg.key.role)}, 1)
	c.options.Metrics.Gauge(metrickeys.PendingWaits, metrics.Tags{}, int64(len(c.waits)))
	c.options.Logger.Debug(
		"Registered wait",
		log.ExecutionIDKey, reg.executionID,
		log.RoleKey, string(reg.key.role),
		log.CorrelationIDKey, reg.key.correlationID,
		log.TimeoutKey, reg.timeout.String(),
	)
}

func (c *Coordinator) handleRawReply(ctx context.Context, payload []byte) {
	var env core.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		c.dropReply("malformed", "Dropping undecodable reply", "error", err)
		return
	}

	c.handleReply(ctx, &env)
}

func (c *Coordinator) handleReply(ctx context.Context, env *core.Envelope) {
	// Same closed-set validation as Await: unknown senders never create or
	// touch any state.
	role, err := core.ParseRole(env.From)
	if err != nil {
		c.dropReply("unknown_role", "Dropping reply from unknown role", log.FromKey, env.From)
		return
	}

	correlationID := env.CorrelationID()
	if correlationID == "" {
		c.dropReply("no_correlation", "Dropping reply without correlation id", log.FromKey, string(role))
		return
	}

	key := waitKey{role: role, correlationID: correlationID}

	w, ok := c.waits[key]
	if !ok {
		if c.resolved.Get(key.String()) != nil {
			c.dropReply("stale", "Dropping stale reply, wait already resolved", log.RoleKey, string(role), log.CorrelationIDKey, correlationID)
		} else {
			c.dropReply("unmatched", "Dropping reply matching no registered wait", log.RoleKey, string(role), log.CorrelationIDKey, correlationID)
		}
		return
	}

	c.resolve(key, w)
	c.options.Metrics.Counter(metrickeys.ReplyMatched, metrics.Tags{metrickeys.Role: string(role)}, 1)

	if err := c.engine.Resume(ctx, w.executionID, flow.State(env.Content)); err != nil {
		c.options.Logger.Error(
			"Resuming execution after matched reply failed",
			log.ExecutionIDKey, w.executionID,
			"error", err,
		)
	}
}

func (c *Coordinator) handleTimeout(ctx context.Context, key waitKey) {
	w, ok := c.waits[key]
	if !ok {
		// A matched reply won the race; nothing to do.
		return
	}

	c.resolve(key, w)
	c.options.Metrics.Counter(metrickeys.WaitTimeout, metrics.Tags{metrickeys.Role: string(key.role)}, 1)
	c.options.Logger.Warn(
		"Wait timed out",
		log.ExecutionIDKey, w.executionID,
		log.RoleKey, string(key.role),
		log.CorrelationIDKey, key.correlationID,
	)

	if err := c.engine.Fail(ctx, w.executionID, fmt.Sprintf("timeout waiting for %s", key.role)); err != nil {
		c.options.Logger.Error(
			"Failing execution after timeout failed",
			log.ExecutionIDKey, w.executionID,
			"error", err,
		)
	}
}

// resolve removes the wait so that the losing side of the reply/timeout race
// finds nothing and no-ops.
func (c *Coordinator) resolve(key waitKey, w *wait) {
	delete(c.waits, key)
	if w.timer != nil {
		w.timer.Stop()
	}

	c.resolved.Set(key.String(), struct{}{}, ttlcache.DefaultTTL)
	c.options.Metrics.Gauge(metrickeys.PendingWaits, metrics.Tags{}, int64(len(c.waits)))
}

func (c *Coordinator) armTimer(key waitKey, timeout time.Duration) *clock.Timer {
	return c.options.Clock.AfterFunc(timeout, func() {
		k := key
		select {
		case c.commands <- command{timeout: &k}:
		case <-c.done:
		}
	})
}

func (c *Coordinator) dropReply(reason, msg string, fields ...any) {
	c.options.Logger.Warn(msg, fields...)
	c.options.Metrics.Counter(metrickeys.ReplyDropped, metrics.Tags{metrickeys.DropReason: reason}, 1)
}

func (c *Coordinator) stopTimers() {
	for _, w := range c.waits {
		if w.timer != nil {
			w.timer.Stop()
		}
	}
}

// reconcile applies the recovery policy to executions persisted in
// awaiting_response by a previous process. Runs before the command loop
// starts, so it may touch wait state directly.
func (c *Coordinator) reconcile(ctx context.Context) error {
	execs, err := c.engine.AwaitingExecutions(ctx)
	if err != nil {
		return fmt.Errorf("listing awaiting executions: %w", err)
	}

	for _, exec := range execs {
		desc := exec.AwaitedResponse
		if desc == nil {
			c.options.Logger.Warn("Awaiting execution has no descriptor, failing it", log.ExecutionIDKey, exec.ID)
			if err := c.engine.Fail(ctx, exec.ID, "missing awaited-response descriptor"); err != nil {
				return err
			}
			continue
		}

		switch c.options.Recovery {
		case RecoverFail:
			if err := c.engine.Fail(ctx, exec.ID, fmt.Sprintf("wait for %s discarded by restart recovery", desc.Role)); err != nil {
				return err
			}

		case RecoverReArm:
			remaining := desc.Deadline.Sub(c.options.Clock.Now().UTC())
			if remaining <= 0 {
				if err := c.engine.Fail(ctx, exec.ID, fmt.Sprintf("timeout waiting for %s", desc.Role)); err != nil {
					return err
				}
				continue
			}

			key := waitKey{role: desc.Role, correlationID: desc.CorrelationID}
			c.waits[key] = &wait{
				executionID: exec.ID,
				timer:       c.armTimer(key, remaining),
			}

			c.options.Logger.Info(
				"Re-armed persisted wait",
				log.ExecutionIDKey, exec.ID,
				log.RoleKey, string(desc.Role),
				log.DeadlineKey, desc.Deadline,
			)
		}
	}

	return nil
}
