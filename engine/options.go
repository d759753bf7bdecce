package engine

import "github.com/Pranavj17/echo-sub001/backend"

type Options struct {
	backend.Options

	// MaxSteps bounds the number of steps a single execution may run. The
	// step graph does not forbid router/listener cycles; this guard turns a
	// cycle into a failed execution instead of an infinite loop.
	MaxSteps int
}

type Option func(*Options)

func WithMaxSteps(n int) Option {
	return func(o *Options) {
		o.MaxSteps = n
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
		Options:  backend.DefaultOptions(),
		MaxSteps: 100,
	}

	for _, opt := range opts {
		opt(&options)
	}

	return options
}
