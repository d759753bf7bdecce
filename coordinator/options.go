package coordinator

import (
	"time"

	"github.com/Pranavj17/echo-sub001/backend"
)

// RecoveryPolicy decides what happens to executions found persisted in
// awaiting_response at startup. Their in-memory wait registrations died with
// the previous process, so without intervention they would hang until a reply
// happens to arrive.
type RecoveryPolicy int

const (
	// RecoverReArm re-registers each wait with the time remaining until its
	// persisted deadline, failing it immediately when the deadline has
	// already passed. This is the default.
	RecoverReArm RecoveryPolicy = iota

	// RecoverFail fails every awaiting execution found at startup.
	RecoverFail
)

type Options struct {
	backend.Options

	// MaxTimeout caps every requested wait timeout, regardless of the value
	// passed to Await. Prevents unbounded resource pinning.
	MaxTimeout time.Duration

	// DefaultTimeout applies when Await is called with a non-positive
	// timeout.
	DefaultTimeout time.Duration

	Recovery RecoveryPolicy

	// ResolvedTTL bounds how long resolved correlation keys are remembered
	// to tell stale replies apart from unmatched ones.
	ResolvedTTL time.Duration
}

type Option func(*Options)

func WithMaxTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.MaxTimeout = d
	}
}

func WithDefaultTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.DefaultTimeout = d
	}
}

func WithRecovery(p RecoveryPolicy) Option {
	return func(o *Options) {
		o.Recovery = p
	}
}

func WithBackendOptions(opts ...backend.Option) Option {
	return func(o *Options) {
		for _, opt := range opts {
			opt(&o.Options)
		}
	}
}

func applyOptions(opts ...Option) Options {
	options := Options{
		Options:        backend.DefaultOptions(),
		MaxTimeout:     5 * time.Minute,
		DefaultTimeout: 30 * time.Second,
		Recovery:       RecoverReArm,
		ResolvedTTL:    5 * time.Minute,
	}

	for _, opt := range opts {
		opt(&options)
	}

	return options
}
