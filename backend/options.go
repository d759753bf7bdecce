package backend

import (
	"log/slog"

	"github.com/Pranavj17/echo-sub001/backend/converter"
	"github.com/Pranavj17/echo-sub001/backend/metrics"
	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName is the instrumentation name used for all spans.
const TracerName = "echo"

type Options struct {
	Logger *slog.Logger

	Metrics metrics.Client

	TracerProvider trace.TracerProvider

	// Converter serializes state bags and message content for the durable
	// store. Defaults to converter.DefaultConverter.
	Converter converter.Converter

	// Clock is the time source. Swap for a mock in tests.
	Clock clock.Clock
}

func DefaultOptions() Options {
	return Options{
		Logger:         slog.Default(),
		Metrics:        metrics.NewNoopClient(),
		TracerProvider: noop.NewTracerProvider(),
		Converter:      converter.DefaultConverter,
		Clock:          clock.New(),
	}
}

type Option func(*Options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithMetrics(client metrics.Client) Option {
	return func(o *Options) {
		o.Metrics = client
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}

func WithConverter(c converter.Converter) Option {
	return func(o *Options) {
		o.Converter = c
	}
}

func WithClock(c clock.Clock) Option {
	return func(o *Options) {
		o.Clock = c
	}
}

func ApplyOptions(opts ...Option) Options {
	options := DefaultOptions()

	for _, opt := range opts {
		opt(&options)
	}

	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	return options
}
