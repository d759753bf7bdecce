package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/Pranavj17/echo-sub001/core"
)

// Label is a routing decision returned by a router step. Labels are plain
// strings with no implicit priority.
type Label string

// StepFunc is a start step handler. It receives the state bag and mutates it
// in place.
type StepFunc func(ctx context.Context, st State) error

// RouterFunc inspects the state and returns the label of the listener to run
// next.
type RouterFunc func(ctx context.Context, st State) (Label, error)

// ListenerFunc handles a routed label. Returning a non-nil AwaitRequest
// suspends the execution until a matching external reply arrives.
type ListenerFunc func(ctx context.Context, st State) (*AwaitRequest, error)

// AwaitRequest asks the engine to suspend the execution until a reply from the
// given worker role carrying the correlation id arrives, or the timeout
// expires. The coordinator caps the timeout at its configured maximum.
type AwaitRequest struct {
	Role          core.Role
	CorrelationID string
	Timeout       time.Duration
}

// ConfigError indicates an invalid flow definition or a router decision that
// has no registered listener.
type ConfigError struct {
	Flow string
	Msg  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("flow %q: %s", e.Flow, e.Msg)
}

// Step is a named start step.
type Step struct {
	Name string
	Run  StepFunc
}

// Listener is a named listener step executed for a routed label.
type Listener struct {
	Name string
	Run  ListenerFunc
}

// Definition is an immutable, validated step graph: ordered start steps,
// routers attached to steps by name, and listeners keyed by label. Construct
// one with NewBuilder and treat it as configuration data.
type Definition struct {
	name      string
	start     []Step
	routers   map[string]RouterFunc
	listeners map[Label]Listener
}

// Name returns the flow type this definition describes.
func (d *Definition) Name() string {
	return d.name
}

// StartSteps returns the start steps in declaration order.
func (d *Definition) StartSteps() []Step {
	return d.start
}

// RouterFor returns the router attached to the named step, or nil.
func (d *Definition) RouterFor(stepName string) RouterFunc {
	return d.routers[stepName]
}

// ListenerFor returns the listener registered for the label.
func (d *Definition) ListenerFor(label Label) (Listener, bool) {
	l, ok := d.listeners[label]
	return l, ok
}

// Builder assembles a Definition. Errors are accumulated and surfaced by
// Build, so call sites can chain without checking each call.
type Builder struct {
	def  *Definition
	errs []error
}

func NewBuilder(name string) *Builder {
	return &Builder{
		def: &Definition{
			name:      name,
			routers:   map[string]RouterFunc{},
			listeners: map[Label]Listener{},
		},
	}
}

// Start appends a start step. Start steps run in declaration order.
func (b *Builder) Start(name string, fn StepFunc) *Builder {
	if fn == nil {
		b.errs = append(b.errs, &ConfigError{Flow: b.def.name, Msg: fmt.Sprintf("start step %q has no handler", name)})
		return b
	}

	for _, s := range b.def.start {
		if s.Name == name {
			b.errs = append(b.errs, &ConfigError{Flow: b.def.name, Msg: fmt.Sprintf("duplicate start step %q", name)})
			return b
		}
	}

	b.def.start = append(b.def.start, Step{Name: name, Run: fn})

	return b
}

// Router attaches a router to the step or listener with the given name. The
// router runs after that step completes.
func (b *Builder) Router(stepName string, fn RouterFunc) *Builder {
	if fn == nil {
		b.errs = append(b.errs, &ConfigError{Flow: b.def.name, Msg: fmt.Sprintf("router for %q has no handler", stepName)})
		return b
	}

	if _, ok := b.def.routers[stepName]; ok {
		b.errs = append(b.errs, &ConfigError{Flow: b.def.name, Msg: fmt.Sprintf("duplicate router for %q", stepName)})
		return b
	}

	b.def.routers[stepName] = fn

	return b
}

// Listener registers the listener executed when a router returns label. A
// label may have at most one listener; a second registration is a build error,
// not a runtime ambiguity.
func (b *Builder) Listener(label Label, name string, fn ListenerFunc) *Builder {
	if fn == nil {
		b.errs = append(b.errs, &ConfigError{Flow: b.def.name, Msg: fmt.Sprintf("listener %q has no handler", label)})
		return b
	}

	if _, ok := b.def.listeners[label]; ok {
		b.errs = append(b.errs, &ConfigError{Flow: b.def.name, Msg: fmt.Sprintf("duplicate listener for label %q", label)})
		return b
	}

	b.def.listeners[label] = Listener{Name: name, Run: fn}

	return b
}

// Build validates the graph and returns the immutable definition.
func (b *Builder) Build() (*Definition, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}

	if len(b.def.start) == 0 {
		return nil, &ConfigError{Flow: b.def.name, Msg: "no start steps"}
	}

	stepNames := map[string]struct{}{}
	for _, s := range b.def.start {
		stepNames[s.Name] = struct{}{}
	}
	for _, l := range b.def.listeners {
		stepNames[l.Name] = struct{}{}
	}

	for name := range b.def.routers {
		if _, ok := stepNames[name]; !ok {
			return nil, &ConfigError{Flow: b.def.name, Msg: fmt.Sprintf("router attached to unknown step %q", name)}
		}
	}

	return b.def, nil
}
